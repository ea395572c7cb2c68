package tickets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"ticketbot/clock"
	"ticketbot/lang"
	"ticketbot/sinks"
	"ticketbot/storage"
	"ticketbot/throttle"
)

const (
	ratingRequestWindow = 60 * time.Second

	ratingInputID   = "rating"
	feedbackInputID = "feedback"
)

// RatingCollector asks the creator of a closed ticket for a 1-5 rating.
type RatingCollector struct {
	store    storage.Store
	throttle *throttle.Throttle
	sink     sinks.Sink
	clock    clock.Clock
	logger   *zap.Logger
}

func NewRatingCollector(store storage.Store, th *throttle.Throttle, sink sinks.Sink, c clock.Clock, logger *zap.Logger) *RatingCollector {
	return &RatingCollector{store: store, throttle: th, sink: sink, clock: c, logger: logger.Named("rating")}
}

// Request posts the rating prompt to the creator, by DM when possible and in
// the ticket channel otherwise. At most one prompt per ticket is sent within
// the request window; it reports whether this call sent one.
func (r *RatingCollector) Request(ctx context.Context, s Session, t *storage.Ticket) bool {
	key := ticketKey(t.ID, "rating_request")
	if suppressed, _ := r.throttle.Check(ctx, key, t.UserID, ratingRequestWindow); suppressed {
		return false
	}
	log := r.logger.With(zap.Int64("ticket_id", t.ID), zap.String("user_id", t.UserID))
	prompt := ratingPrompt(t)

	dm, err := s.UserChannelCreate(t.UserID, discordgo.WithContext(ctx))
	if err == nil {
		if _, err = s.ChannelMessageSendComplex(dm.ID, prompt, discordgo.WithContext(ctx)); err == nil {
			return true
		}
	}
	log.Info("rating DM not delivered, falling back to ticket channel", zap.Error(err))

	if _, err := s.ChannelMessageSendComplex(t.ChannelID, prompt, discordgo.WithContext(ctx)); err != nil {
		log.Warn("rating prompt not delivered", zap.Error(err))
		return false
	}
	return true
}

func ratingPrompt(t *storage.Ticket) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       lang.T("rating_prompt_title"),
			Description: lang.T("rating_prompt", "number", fmt.Sprintf("%04d", t.Number)),
			Color:       sinks.ColorInfo,
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    lang.T("button_rate"),
						Style:    discordgo.PrimaryButton,
						CustomID: customIDRatePrefix + strconv.FormatInt(t.ID, 10),
						Emoji:    &discordgo.ComponentEmoji{Name: "⭐"},
					},
				},
			},
		},
	}
}

// OpenForm answers a rate click with the rating modal.
func (r *RatingCollector) OpenForm(ctx context.Context, s Session, i *discordgo.InteractionCreate, actor string, ticketID int64) error {
	if _, err := r.rateable(ctx, actor, ticketID); err != nil {
		return err
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: customIDRateModal + strconv.FormatInt(ticketID, 10),
			Title:    lang.T("rating_modal_title"),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    ratingInputID,
						Label:       lang.T("rating_modal_rating"),
						Style:       discordgo.TextInputShort,
						Placeholder: "1-5",
						Required:    true,
						MinLength:   1,
						MaxLength:   1,
					},
				}},
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:  feedbackInputID,
						Label:     lang.T("rating_modal_feedback"),
						Style:     discordgo.TextInputParagraph,
						Required:  false,
						MaxLength: 1000,
					},
				}},
			},
		},
	})
}

// ParseRating accepts exactly the integers 1 through 5.
func ParseRating(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 || n > 5 {
		return 0, invalid("rating_invalid")
	}
	return n, nil
}

// Submit validates and stores a rating. Any rejection leaves the ticket
// untouched and is a ValidationError.
func (r *RatingCollector) Submit(ctx context.Context, actor string, ticketID int64, raw, feedback string) (*storage.Ticket, error) {
	rating, err := ParseRating(raw)
	if err != nil {
		return nil, err
	}
	t, err := r.rateable(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	feedback = strings.TrimSpace(feedback)
	if err := r.store.SetRating(ctx, ticketID, rating, feedback); err != nil {
		if errors.Is(err, storage.ErrNotRateable) {
			return nil, invalid("rating_already_submitted")
		}
		return nil, fmt.Errorf("store rating: %w", err)
	}
	t.Rating = &rating
	t.Feedback = feedback
	return t, nil
}

func (r *RatingCollector) rateable(ctx context.Context, actor string, ticketID int64) (*storage.Ticket, error) {
	t, err := r.store.TicketByID(ctx, ticketID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, invalid("ticket_not_found")
	}
	if err != nil {
		return nil, err
	}
	if t.UserID != actor {
		return nil, invalid("rating_not_creator")
	}
	if t.Status != storage.StatusClosed && t.Status != storage.StatusDeleted {
		return nil, invalid("rating_not_closed")
	}
	if t.Rating != nil {
		return nil, invalid("rating_already_submitted")
	}
	return t, nil
}

// Forward sends the colour-coded rating summary to the sinks.
func (r *RatingCollector) Forward(ctx context.Context, t *storage.Ticket) {
	if t.Rating == nil {
		return
	}
	rating := *t.Rating
	fields := []sinks.Field{
		{Name: lang.T("field_rating"), Value: strings.Repeat("⭐", rating) + fmt.Sprintf(" (%d/5)", rating), Inline: true},
		{Name: lang.T("field_opened_by"), Value: mention(t.UserID), Inline: true},
	}
	if t.Feedback != "" {
		fields = append(fields, sinks.Field{Name: lang.T("field_feedback"), Value: t.Feedback})
	}
	err := r.sink.Deliver(ctx, sinks.Record{
		Kind:         sinks.KindRating,
		Action:       string(storage.ActionRating),
		GuildID:      t.GuildID,
		TicketID:     t.ID,
		TicketNumber: t.Number,
		ActorID:      t.UserID,
		Title:        lang.T("rating_log_title", "number", fmt.Sprintf("%04d", t.Number)),
		Color:        sinks.RatingColor(rating),
		Fields:       fields,
		At:           r.clock.Now(),
	})
	if err != nil {
		r.logger.Warn("rating sink delivery failed", zap.Int64("ticket_id", t.ID), zap.Error(err))
	}
}
