package tickets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"ticketbot/clock"
	"ticketbot/config"
	"ticketbot/sinks"
	"ticketbot/storage"
	"ticketbot/throttle"
)

const (
	testGuild = "guild-1"
	testBot   = "bot-app"
	staffRole = "staff-role"
	creatorID = "100000000000000001"
	staffID   = "100000000000000002"
	otherID   = "100000000000000003"
)

type sentMessage struct {
	ChannelID string
	Data      *discordgo.MessageSend
	Files     []string
}

// fakeSession records every call the ticket flows make against Discord.
type fakeSession struct {
	mu sync.Mutex
	id int

	channels  map[string]*discordgo.Channel
	created   []discordgo.GuildChannelCreateData
	deleted   []string
	renamed   map[string]string
	messages  map[string][]*discordgo.Message
	sent      []sentMessage
	edits     []*discordgo.MessageEdit
	pins      []string
	permSet   map[string]int64 // channel/target -> deny
	permDel   []string
	responses map[string][]*discordgo.InteractionResponse
	webEdits  map[string][]string

	createErr   error
	dmErr       error
	messagesErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		channels:  map[string]*discordgo.Channel{},
		renamed:   map[string]string{},
		messages:  map[string][]*discordgo.Message{},
		permSet:   map[string]int64{},
		responses: map[string][]*discordgo.InteractionResponse{},
		webEdits:  map[string][]string{},
	}
}

func (f *fakeSession) nextID(prefix string) string {
	f.id++
	return fmt.Sprintf("%s%d", prefix, f.id)
}

func unknownChannel() error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound, Status: "404 Not Found"},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownChannel, Message: "Unknown Channel"},
	}
}

func (f *fakeSession) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	ch := &discordgo.Channel{ID: f.nextID("chan-"), GuildID: guildID, Name: data.Name, ParentID: data.ParentID}
	f.channels[ch.ID] = ch
	f.created = append(f.created, data)
	return ch, nil
}

func (f *fakeSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, unknownChannel()
	}
	return ch, nil
}

func (f *fakeSession) ChannelEdit(channelID string, data *discordgo.ChannelEdit, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, unknownChannel()
	}
	ch.Name = data.Name
	f.renamed[channelID] = data.Name
	return ch, nil
}

func (f *fakeSession) ChannelDelete(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, unknownChannel()
	}
	delete(f.channels, channelID)
	f.deleted = append(f.deleted, channelID)
	return ch, nil
}

func (f *fakeSession) ChannelMessage(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages[channelID] {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, errors.New("unknown message")
}

func (f *fakeSession) ChannelMessages(channelID string, limit int, _, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messagesErr != nil {
		return nil, f.messagesErr
	}
	msgs := f.messages[channelID]
	// Discord returns newest first.
	out := make([]*discordgo.Message, 0, len(msgs))
	for idx := len(msgs) - 1; idx >= 0 && len(out) < limit; idx-- {
		out = append(out, msgs[idx])
	}
	return out, nil
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if channelID == "dm-"+creatorID && f.dmErr != nil {
		return nil, f.dmErr
	}
	sm := sentMessage{ChannelID: channelID, Data: data}
	for _, file := range data.Files {
		_, _ = io.ReadAll(file.Reader)
		sm.Files = append(sm.Files, file.Name)
	}
	f.sent = append(f.sent, sm)
	m := &discordgo.Message{ID: f.nextID("msg-"), ChannelID: channelID, Content: data.Content, Embeds: data.Embeds}
	f.messages[channelID] = append(f.messages[channelID], m)
	return m, nil
}

func (f *fakeSession) ChannelMessageEditComplex(m *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, m)
	for _, msg := range f.messages[m.Channel] {
		if msg.ID == m.ID {
			if m.Embeds != nil {
				msg.Embeds = *m.Embeds
			}
			return msg, nil
		}
	}
	return nil, errors.New("unknown message")
}

func (f *fakeSession) ChannelMessagePin(_, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pins = append(f.pins, messageID)
	return nil
}

func (f *fakeSession) ChannelPermissionSet(channelID, targetID string, _ discordgo.PermissionOverwriteType, _, deny int64, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permSet[channelID+"/"+targetID] = deny
	return nil
}

func (f *fakeSession) ChannelPermissionDelete(channelID, targetID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permDel = append(f.permDel, channelID+"/"+targetID)
	return nil
}

func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (f *fakeSession) GuildMember(_, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	return &discordgo.Member{User: &discordgo.User{ID: userID}, JoinedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}, nil
}

func (f *fakeSession) InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[i.ID] = append(f.responses[i.ID], resp)
	return nil
}

func (f *fakeSession) InteractionResponseEdit(i *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content := ""
	if edit.Content != nil {
		content = *edit.Content
	}
	f.webEdits[i.ID] = append(f.webEdits[i.ID], content)
	return &discordgo.Message{ID: "orig-" + i.ID, Content: content}, nil
}

func (f *fakeSession) responsesFor(id string) []*discordgo.InteractionResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*discordgo.InteractionResponse(nil), f.responses[id]...)
}

func (f *fakeSession) editsFor(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.webEdits[id]...)
}

func (f *fakeSession) sentTo(channelID string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSession) addMessage(channelID string, m *discordgo.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[channelID] = append(f.messages[channelID], m)
}

type fakeSink struct {
	mu      sync.Mutex
	records []sinks.Record
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Deliver(_ context.Context, r sinks.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	return nil
}

func (f *fakeSink) count(kind sinks.Kind, action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.Kind == kind && (action == "" || r.Action == action) {
			n++
		}
	}
	return n
}

type harness struct {
	t     *testing.T
	o     *Orchestrator
	s     *fakeSession
	store *storage.SQLiteDB
	sink  *fakeSink
	clock *clock.Fake
	cfg   *config.TicketsConfig
	ids   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "tickets.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	cfg := &config.TicketsConfig{
		StaffRoles:            []string{staffRole},
		LogChannel:            "log-channel",
		Categories:            append([]config.TicketCategory(nil), config.DefaultCategories...),
		ConfirmTimeoutSeconds: 30,
		ChoiceTimeoutSeconds:  60,
		ModalTimeoutSeconds:   300,
		DeleteDelaySeconds:    5,
		TranscriptLimit:       100,
	}
	clk := clock.NewFake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	sink := &fakeSink{}
	o := New(Deps{
		Config:   cfg,
		Store:    db,
		Throttle: throttle.New(throttle.NewMemoryStore(), clk, zap.NewNop()),
		Sink:     sink,
		Clock:    clk,
		Logger:   zap.NewNop(),
	})
	return &harness{t: t, o: o, s: newFakeSession(), store: db, sink: sink, clock: clk, cfg: cfg}
}

func (h *harness) nextID() string {
	h.ids++
	return fmt.Sprintf("int-%d", h.ids)
}

func member(user string, roles ...string) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: user}, Roles: roles}
}

func (h *harness) memberFor(user string) *discordgo.Member {
	if user == staffID {
		return member(user, staffRole)
	}
	return member(user)
}

func (h *harness) component(channel, user, customID string, values ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:        h.nextID(),
		AppID:     testBot,
		Type:      discordgo.InteractionMessageComponent,
		GuildID:   testGuild,
		ChannelID: channel,
		Member:    h.memberFor(user),
		Data:      discordgo.MessageComponentInteractionData{CustomID: customID, Values: values},
		Message:   &discordgo.Message{ID: "prompt-msg", ChannelID: channel},
	}}
}

func (h *harness) modal(channel, user, customID string, fields map[string]string) *discordgo.InteractionCreate {
	rows := make([]discordgo.MessageComponent, 0, len(fields))
	for k, v := range fields {
		rows = append(rows, &discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			&discordgo.TextInput{CustomID: k, Value: v},
		}})
	}
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:        h.nextID(),
		AppID:     testBot,
		Type:      discordgo.InteractionModalSubmit,
		GuildID:   testGuild,
		ChannelID: channel,
		Member:    h.memberFor(user),
		Data:      discordgo.ModalSubmitInteractionData{CustomID: customID, Components: rows},
	}}
}

func (h *harness) command(channel, user, name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:        h.nextID(),
		AppID:     testBot,
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   testGuild,
		ChannelID: channel,
		Member:    h.memberFor(user),
		Data:      discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
	}}
}

func strOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: value}
}

func userOpt(name, id string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionUser, Value: id}
}

// start runs the interaction on its own goroutine, as discordgo would.
func (h *harness) start(i *discordgo.InteractionCreate) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.o.HandleInteraction(context.Background(), h.s, i)
	}()
	return done
}

func (h *harness) run(i *discordgo.InteractionCreate) {
	h.t.Helper()
	h.finish(h.start(i))
}

func (h *harness) finish(done <-chan struct{}) {
	h.t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		h.t.Fatal("interaction handler did not finish")
	}
}

// pump advances the clock a second at a time until the handler finishes.
func (h *harness) pump(done <-chan struct{}) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case <-done:
			return
		default:
		}
		if time.Now().After(deadline) {
			h.t.Fatal("handler did not finish while advancing the clock")
		}
		h.clock.Advance(time.Second)
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) eventually(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// awaitPrompt waits until interaction id has been answered with components
// and returns the custom id of the component whose id ends in choice.
func (h *harness) awaitPrompt(id, choice string) string {
	h.t.Helper()
	var found string
	h.eventually("prompt on "+id, func() bool {
		for _, r := range h.s.responsesFor(id) {
			if r.Data == nil {
				continue
			}
			if r.Type == discordgo.InteractionResponseModal && strings.HasSuffix(r.Data.CustomID, ":"+choice) {
				found = r.Data.CustomID
				return true
			}
			if cid := findCustomID(r.Data.Components, choice); cid != "" {
				found = cid
				return true
			}
		}
		return false
	})
	return found
}

func findCustomID(components []discordgo.MessageComponent, choice string) string {
	for _, c := range components {
		row, ok := c.(discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			switch v := inner.(type) {
			case discordgo.Button:
				if strings.HasSuffix(v.CustomID, ":"+choice) {
					return v.CustomID
				}
			case discordgo.SelectMenu:
				if strings.HasSuffix(v.CustomID, ":"+choice) {
					return v.CustomID
				}
			}
		}
	}
	return ""
}

// seedTicket stores an open ticket with an existing channel.
func (h *harness) seedTicket(user, category string) *storage.Ticket {
	h.t.Helper()
	ctx := context.Background()
	n, err := h.store.NextTicketNumber(ctx, testGuild)
	if err != nil {
		h.t.Fatalf("NextTicketNumber() error = %v", err)
	}
	ch, _ := h.s.GuildChannelCreateComplex(testGuild, discordgo.GuildChannelCreateData{Name: ChannelName(n, storage.StatusOpen)})
	tk := &storage.Ticket{
		GuildID:   testGuild,
		ChannelID: ch.ID,
		UserID:    user,
		Number:    n,
		Category:  category,
		Subject:   "printer on fire",
		Priority:  storage.PriorityMedium,
		Status:    storage.StatusOpen,
		CreatedAt: h.clock.Now(),
	}
	if err := h.store.CreateTicket(ctx, tk); err != nil {
		h.t.Fatalf("CreateTicket() error = %v", err)
	}
	return tk
}

func (h *harness) ticket(id int64) *storage.Ticket {
	h.t.Helper()
	tk, err := h.store.TicketByID(context.Background(), id)
	if err != nil {
		h.t.Fatalf("TicketByID(%d) error = %v", id, err)
	}
	return tk
}

func (h *harness) logs(id int64) []storage.ActionLogEntry {
	h.t.Helper()
	entries, err := h.store.ActionLogs(context.Background(), id)
	if err != nil {
		h.t.Fatalf("ActionLogs() error = %v", err)
	}
	return entries
}

func countAction(entries []storage.ActionLogEntry, a storage.Action) int {
	n := 0
	for _, e := range entries {
		if e.Action == a {
			n++
		}
	}
	return n
}

func lastContent(rs []*discordgo.InteractionResponse) string {
	for idx := len(rs) - 1; idx >= 0; idx-- {
		if rs[idx].Data != nil && rs[idx].Data.Content != "" {
			return rs[idx].Data.Content
		}
	}
	return ""
}
