package tickets

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"ticketbot/config"
	"ticketbot/lang"
	"ticketbot/storage"
)

const (
	CustomIDCategory   = "ticket:category"
	CustomIDClose      = "ticket:close"
	CustomIDFAQ        = "ticket:faq"
	CustomIDReopen     = "ticket:reopen"
	CustomIDDelete     = "ticket:delete"
	CustomIDTranscript = "ticket:transcript"
	customIDRatePrefix = "ticket:rate:"
	customIDRateModal  = "ticket:rating_modal:"
)

// CategorySelector holds the fixed category catalog and renders the panel.
type CategorySelector struct {
	cfg *config.TicketsConfig
}

func NewCategorySelector(cfg *config.TicketsConfig) *CategorySelector {
	return &CategorySelector{cfg: cfg}
}

func (c *CategorySelector) Categories() []config.TicketCategory {
	return c.cfg.Categories
}

// Resolve maps a selected id to its category.
func (c *CategorySelector) Resolve(id string) (config.TicketCategory, error) {
	cat, ok := c.cfg.Category(id)
	if !ok {
		return config.TicketCategory{}, invalid("unknown_category", "category", id)
	}
	return cat, nil
}

// Priority returns the category's initial ticket priority.
func (c *CategorySelector) Priority(cat config.TicketCategory) storage.Priority {
	p := storage.Priority(cat.Priority)
	if !p.Valid() {
		return storage.PriorityMedium
	}
	return p
}

func (c *CategorySelector) StaffRoles(cat config.TicketCategory) []string {
	return c.cfg.CategoryStaffRoles(cat)
}

// Label renders "emoji name" for display.
func (c *CategorySelector) Label(id string) string {
	cat, ok := c.cfg.Category(id)
	if !ok {
		return id
	}
	return strings.TrimSpace(cat.Emoji + " " + cat.Name)
}

// PanelMessage builds the public panel with one select option per category.
func (c *CategorySelector) PanelMessage() *discordgo.MessageSend {
	var desc strings.Builder
	desc.WriteString(lang.T("panel_intro"))
	desc.WriteString("\n\n")
	for _, cat := range c.cfg.Categories {
		desc.WriteString(fmt.Sprintf("%s **%s** — %s\n", cat.Emoji, cat.Name, cat.Description))
	}

	opts := make([]discordgo.SelectMenuOption, 0, len(c.cfg.Categories))
	for _, cat := range c.cfg.Categories {
		opts = append(opts, discordgo.SelectMenuOption{
			Label:       cat.Name,
			Value:       cat.ID,
			Description: cat.Description,
			Emoji:       parseComponentEmoji(cat.Emoji),
		})
	}

	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       lang.T("panel_title"),
			Description: desc.String(),
			Color:       0x5865F2,
			Footer:      &discordgo.MessageEmbedFooter{Text: lang.T("panel_footer")},
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.SelectMenu{
						MenuType:    discordgo.StringSelectMenu,
						CustomID:    CustomIDCategory,
						Placeholder: lang.T("panel_placeholder"),
						Options:     opts,
					},
				},
			},
		},
	}
}
