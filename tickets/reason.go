package tickets

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"ticketbot/lang"
)

type CloseReason struct {
	ID  string
	Key string
}

// CloseReasons is the enumerated catalog offered to staff when closing.
var CloseReasons = []CloseReason{
	{ID: "resolved", Key: "reason_resolved"},
	{ID: "no_response", Key: "reason_no_response"},
	{ID: "duplicate", Key: "reason_duplicate"},
	{ID: "user_request", Key: "reason_user_request"},
	{ID: "information_provided", Key: "reason_information_provided"},
	{ID: "other", Key: "reason_other"},
}

// ReasonLabel maps a reason id to its display label; unknown ids map to "".
func ReasonLabel(id string) string {
	for _, r := range CloseReasons {
		if r.ID == id {
			return lang.T(r.Key)
		}
	}
	return ""
}

const reasonInputID = "reason"

// ReasonCollector gathers a close reason after a confirm click.
//
// Discord allows one response per interaction token, so the reason prompt is
// a two-phase exchange. Phase one answers the confirm click by turning the
// prompt into a select menu. Picking "other" is a new interaction with its own
// token, which phase two answers with a free-text modal. The waiter registry
// delivers each nonce once, so only one of select, modal or timeout resolves.
type ReasonCollector struct {
	waiters    *Waiters
	choiceWait time.Duration
	modalWait  time.Duration
	logger     *zap.Logger
}

func NewReasonCollector(w *Waiters, choiceWait, modalWait time.Duration, logger *zap.Logger) *ReasonCollector {
	return &ReasonCollector{waiters: w, choiceWait: choiceWait, modalWait: modalWait, logger: logger.Named("reason")}
}

// Collect answers confirm and returns the reason label plus an interaction
// whose original response the caller may edit to report the result.
func (r *ReasonCollector) Collect(ctx context.Context, s Session, confirm *discordgo.InteractionCreate, actor string) (string, *discordgo.Interaction) {
	wait := r.waiters.Register(actor)

	opts := make([]discordgo.SelectMenuOption, 0, len(CloseReasons))
	for _, cr := range CloseReasons {
		opts = append(opts, discordgo.SelectMenuOption{Label: lang.T(cr.Key), Value: cr.ID})
	}
	err := updateMessage(s, confirm, lang.T("reason_prompt"), []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    wait.ID("select"),
					Placeholder: lang.T("reason_placeholder"),
					Options:     opts,
				},
			},
		},
	})
	if err != nil {
		wait.Cancel()
		r.logger.Warn("reason prompt failed", zap.Error(err))
		return lang.T("reason_none"), confirm.Interaction
	}

	click, ok := wait.Next(ctx, r.choiceWait)
	if !ok {
		reason := lang.T("reason_none")
		_ = editResponse(s, confirm.Interaction, lang.T("closing_with_reason", "reason", reason))
		return reason, confirm.Interaction
	}

	if click.Choice != "other" {
		reason := ReasonLabel(click.Choice)
		if reason == "" {
			reason = lang.T("reason_none")
		}
		_ = updateMessage(s, click.I, lang.T("closing_with_reason", "reason", reason), nil)
		return reason, click.I.Interaction
	}

	return r.collectFreeText(ctx, s, confirm, click.I, actor)
}

func (r *ReasonCollector) collectFreeText(ctx context.Context, s Session, confirm, selected *discordgo.InteractionCreate, actor string) (string, *discordgo.Interaction) {
	fallback := lang.T("reason_other")
	wait := r.waiters.Register(actor)

	err := s.InteractionRespond(selected.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: wait.ID("modal"),
			Title:    lang.T("reason_modal_title"),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:  reasonInputID,
							Label:     lang.T("reason_modal_label"),
							Style:     discordgo.TextInputParagraph,
							Required:  true,
							MaxLength: 500,
						},
					},
				},
			},
		},
	})
	if err != nil {
		wait.Cancel()
		r.logger.Warn("reason modal failed", zap.Error(err))
		_ = editResponse(s, confirm.Interaction, lang.T("closing_with_reason", "reason", fallback))
		return fallback, confirm.Interaction
	}

	submit, ok := wait.Next(ctx, r.modalWait)
	if !ok {
		_ = editResponse(s, confirm.Interaction, lang.T("closing_with_reason", "reason", fallback))
		return fallback, confirm.Interaction
	}

	reason := strings.TrimSpace(modalValues(submit.I)[reasonInputID])
	if reason == "" {
		reason = fallback
	}
	_ = updateMessage(s, submit.I, lang.T("closing_with_reason", "reason", reason), nil)
	return reason, submit.I.Interaction
}
