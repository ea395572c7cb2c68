package tickets

import (
	"context"
	"fmt"
	"sort"
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
	transcriptWindow  = 30 * time.Second
	transcriptTimeFmt = "2006-01-02 15:04:05 UTC"
	maxTranscriptMsgs = 100
)

type TranscriptRequest struct {
	Ticket   *storage.Ticket
	ClosedBy string
	Reason   string
	Deleting bool
	// Manual requests come from staff asking for a copy and skip the creator DM.
	Manual bool
}

type TranscriptGenerator struct {
	throttle *throttle.Throttle
	sink     sinks.Sink
	clock    clock.Clock
	limit    int
	labels   func(categoryID string) string
	logger   *zap.Logger
}

func NewTranscriptGenerator(th *throttle.Throttle, sink sinks.Sink, c clock.Clock, limit int, labels func(string) string, logger *zap.Logger) *TranscriptGenerator {
	if limit <= 0 || limit > maxTranscriptMsgs {
		limit = maxTranscriptMsgs
	}
	if labels == nil {
		labels = func(id string) string { return id }
	}
	return &TranscriptGenerator{throttle: th, sink: sink, clock: c, limit: limit, labels: labels, logger: logger.Named("transcript")}
}

// Generate renders and delivers the transcript. It returns false when a
// transcript for this ticket was produced within the last window; that one
// stands and nothing is re-rendered. Delivery failures are logged only.
func (g *TranscriptGenerator) Generate(ctx context.Context, s Session, req TranscriptRequest) bool {
	t := req.Ticket
	key := throttle.Key(strconv.FormatInt(t.ID, 10), "transcript")
	if suppressed, _ := g.throttle.Check(ctx, key, req.ClosedBy, transcriptWindow); suppressed {
		g.logger.Debug("transcript suppressed", zap.Int64("ticket_id", t.ID))
		return false
	}

	log := g.logger.With(zap.Int64("ticket_id", t.ID), zap.String("channel_id", t.ChannelID))

	msgs, err := s.ChannelMessages(t.ChannelID, g.limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		log.Warn("fetch messages failed", zap.Error(err))
	}
	now := g.clock.Now()
	body := RenderTranscript(TranscriptMeta{
		Number:    t.Number,
		Category:  g.labels(t.Category),
		CreatorID: t.UserID,
		CreatedAt: t.CreatedAt,
		ClosedBy:  req.ClosedBy,
		ClosedAt:  t.ClosedAt,
		Reason:    req.Reason,

		FetchFailed: err != nil,
	}, msgs, now)
	fileName := fmt.Sprintf("ticket-%04d-transcript.txt", t.Number)

	action := "close"
	switch {
	case req.Manual:
		action = "manual"
	case req.Deleting:
		action = "delete"
	}
	rec := sinks.Record{
		Kind:         sinks.KindTranscript,
		Action:       action,
		GuildID:      t.GuildID,
		TicketID:     t.ID,
		TicketNumber: t.Number,
		ActorID:      req.ClosedBy,
		Title:        lang.T("transcript_title", "number", fmt.Sprintf("%04d", t.Number)),
		Color:        sinks.ColorInfo,
		Fields: []sinks.Field{
			{Name: lang.T("field_opened_by"), Value: mention(t.UserID), Inline: true},
			{Name: lang.T("field_closed_by"), Value: mentionOrDash(req.ClosedBy), Inline: true},
			{Name: lang.T("field_category"), Value: g.labels(t.Category), Inline: true},
			{Name: lang.T("field_reason"), Value: dashIfEmpty(req.Reason)},
			{Name: lang.T("field_messages"), Value: strconv.Itoa(len(msgs)), Inline: true},
		},
		Artifact: &sinks.Artifact{Name: fileName, Content: body},
		At:       now,
	}
	if err := g.sink.Deliver(ctx, rec); err != nil {
		log.Warn("transcript sink delivery failed", zap.Error(err))
	}

	if req.Deleting || req.Manual {
		return true
	}
	if err := g.sendToCreator(ctx, s, t, fileName, body); err != nil {
		log.Info("transcript DM not delivered", zap.String("user_id", t.UserID), zap.Error(err))
	}
	return true
}

func (g *TranscriptGenerator) sendToCreator(ctx context.Context, s Session, t *storage.Ticket, fileName, body string) error {
	dm, err := s.UserChannelCreate(t.UserID, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	_, err = s.ChannelMessageSendComplex(dm.ID, &discordgo.MessageSend{
		Content: lang.T("transcript_dm", "number", fmt.Sprintf("%04d", t.Number)),
		Files: []*discordgo.File{{
			Name:        fileName,
			ContentType: "text/plain",
			Reader:      strings.NewReader(body),
		}},
	}, discordgo.WithContext(ctx))
	return err
}

type TranscriptMeta struct {
	Number    int
	Category  string
	CreatorID string
	CreatedAt time.Time
	ClosedBy  string
	ClosedAt  *time.Time
	Reason    string
	// FetchFailed marks a transcript whose message history could not be read.
	FetchFailed bool
}

// lineBreaks keeps each message on a single transcript line.
var lineBreaks = strings.NewReplacer("\r\n", " ⏎ ", "\n", " ⏎ ")

// RenderTranscript produces the plain-text transcript. Output depends only on
// its inputs; messages are ordered oldest first regardless of input order.
func RenderTranscript(meta TranscriptMeta, msgs []*discordgo.Message, generatedAt time.Time) string {
	sorted := make([]*discordgo.Message, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			sorted = append(sorted, m)
		}
	}
	sort.SliceStable(sorted, func(a, b int) bool {
		if !sorted[a].Timestamp.Equal(sorted[b].Timestamp) {
			return sorted[a].Timestamp.Before(sorted[b].Timestamp)
		}
		return snowflakeLess(sorted[a].ID, sorted[b].ID)
	})

	closedAt := "-"
	if meta.ClosedAt != nil {
		closedAt = meta.ClosedAt.UTC().Format(transcriptTimeFmt)
	}

	var sb strings.Builder
	sb.WriteString("=== TICKET TRANSCRIPT ===\n")
	fmt.Fprintf(&sb, "Ticket:     #%04d\n", meta.Number)
	fmt.Fprintf(&sb, "Category:   %s\n", meta.Category)
	fmt.Fprintf(&sb, "Creator:    %s\n", meta.CreatorID)
	fmt.Fprintf(&sb, "Created at: %s\n", meta.CreatedAt.UTC().Format(transcriptTimeFmt))
	fmt.Fprintf(&sb, "Closed by:  %s\n", dashIfEmpty(meta.ClosedBy))
	fmt.Fprintf(&sb, "Closed at:  %s\n", closedAt)
	fmt.Fprintf(&sb, "Reason:     %s\n", dashIfEmpty(meta.Reason))
	sb.WriteString("=========================\n\n")
	if meta.FetchFailed {
		sb.WriteString("(Failed to fetch messages)\n")
	}

	for _, m := range sorted {
		author := "unknown"
		if m.Author != nil {
			author = m.Author.Username
		}
		fmt.Fprintf(&sb, "[%s] %s: %s\n", m.Timestamp.UTC().Format(transcriptTimeFmt), author, lineBreaks.Replace(m.Content))
		for _, e := range m.Embeds {
			sb.WriteString("[embed] " + embedSummary(e) + "\n")
		}
		for _, a := range m.Attachments {
			fmt.Fprintf(&sb, "  %s: %s\n", a.Filename, a.URL)
		}
	}

	fmt.Fprintf(&sb, "\n=== %d message(s) · generated %s ===\n", len(sorted), generatedAt.UTC().Format(transcriptTimeFmt))
	return sb.String()
}

func embedSummary(e *discordgo.MessageEmbed) string {
	if e == nil {
		return "(empty)"
	}
	parts := make([]string, 0, 2)
	if e.Title != "" {
		parts = append(parts, e.Title)
	}
	if e.Description != "" {
		d := strings.ReplaceAll(e.Description, "\n", " ")
		if r := []rune(d); len(r) > 200 {
			d = string(r[:200]) + "…"
		}
		parts = append(parts, d)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("(%d field(s))", len(e.Fields))
	}
	return strings.Join(parts, " - ")
}

func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

func mentionOrDash(userID string) string {
	if userID == "" {
		return "-"
	}
	if userID == systemActor {
		return systemActor
	}
	return mention(userID)
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
