package tickets

import (
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (o *Orchestrator) respond(s Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		o.logger.Warn("failed to respond", zap.String("interaction_id", i.ID), zap.Error(err))
	}
}

func (o *Orchestrator) respondEmbed(s Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

// ack acknowledges a component click without changing anything visible.
func ack(s Session, i *discordgo.InteractionCreate) {
	typ := discordgo.InteractionResponseDeferredMessageUpdate
	if i.Type == discordgo.InteractionApplicationCommand {
		typ = discordgo.InteractionResponseDeferredChannelMessageWithSource
	}
	resp := &discordgo.InteractionResponse{Type: typ}
	if typ == discordgo.InteractionResponseDeferredChannelMessageWithSource {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	_ = s.InteractionRespond(i.Interaction, resp)
}

// deferEphemeral acknowledges with a "thinking" state to be filled by editResponse.
func deferEphemeral(s Session, i *discordgo.InteractionCreate) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

// updateMessage replaces the message a component belongs to.
func updateMessage(s Session, i *discordgo.InteractionCreate, content string, components []discordgo.MessageComponent) error {
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{Content: content, Components: components},
	})
}

// editResponse rewrites the original response of i and strips its controls.
func editResponse(s Session, i *discordgo.Interaction, content string) error {
	components := []discordgo.MessageComponent{}
	_, err := s.InteractionResponseEdit(i, &discordgo.WebhookEdit{Content: &content, Components: &components})
	return err
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption)
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}

func optStr(m map[string]*discordgo.ApplicationCommandInteractionDataOption, key, def string) string {
	if o, ok := m[key]; ok {
		return o.StringValue()
	}
	return def
}

// modalValues flattens the text inputs of a modal submission by custom id.
func modalValues(i *discordgo.InteractionCreate) map[string]string {
	out := map[string]string{}
	for _, row := range i.ModalSubmitData().Components {
		ar, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, c := range ar.Components {
			if ti, ok := c.(*discordgo.TextInput); ok {
				out[ti.CustomID] = ti.Value
			}
		}
	}
	return out
}

func parseComponentEmoji(emoji string) *discordgo.ComponentEmoji {
	if emoji == "" {
		return nil
	}
	return &discordgo.ComponentEmoji{Name: emoji}
}
