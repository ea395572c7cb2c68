package tickets

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"ticketbot/lang"
)

type Outcome int

const (
	Confirmed Outcome = iota
	Cancelled
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Cancelled:
		return "cancelled"
	}
	return "timed_out"
}

type ConfirmPrompt struct {
	Content      string
	ConfirmLabel string
	Ephemeral    bool
	// CancelText replaces the prompt after a cancel or timeout.
	CancelText string
}

// ConfirmationFlow is a confirm/cancel gate answered only by the actor who
// opened it.
type ConfirmationFlow struct {
	waiters *Waiters
	logger  *zap.Logger
}

func NewConfirmationFlow(w *Waiters, logger *zap.Logger) *ConfirmationFlow {
	return &ConfirmationFlow{waiters: w, logger: logger.Named("confirm")}
}

// Confirm answers i with the prompt and waits for the actor's choice. On
// Confirmed the click is returned unanswered: its fresh token belongs to the
// caller, which must respond to it. Cancel and timeout leave the prompt in a
// terminal state before returning.
func (c *ConfirmationFlow) Confirm(ctx context.Context, s Session, i *discordgo.InteractionCreate, actor string, p ConfirmPrompt, timeout time.Duration) (Outcome, *discordgo.InteractionCreate) {
	wait := c.waiters.Register(actor)

	flags := discordgo.MessageFlags(0)
	if p.Ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	label := p.ConfirmLabel
	if label == "" {
		label = lang.T("button_confirm")
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: p.Content,
			Flags:   flags,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{Label: label, Style: discordgo.DangerButton, CustomID: wait.ID("confirm")},
						discordgo.Button{Label: lang.T("button_cancel"), Style: discordgo.SecondaryButton, CustomID: wait.ID("cancel")},
					},
				},
			},
		},
	})
	if err != nil {
		wait.Cancel()
		c.logger.Warn("confirm prompt failed", zap.String("actor_id", actor), zap.Error(err))
		return Cancelled, nil
	}

	cancelText := p.CancelText
	if cancelText == "" {
		cancelText = lang.T("action_cancelled")
	}

	click, ok := wait.Next(ctx, timeout)
	if !ok {
		if err := editResponse(s, i.Interaction, lang.T("prompt_timed_out")); err != nil {
			c.logger.Debug("timeout edit failed", zap.Error(err))
		}
		return TimedOut, nil
	}
	if click.Choice != "confirm" {
		_ = updateMessage(s, click.I, cancelText, nil)
		return Cancelled, nil
	}
	return Confirmed, click.I
}
