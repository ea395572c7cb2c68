package tickets

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"ticketbot/clock"
)

const awaitPrefix = "await:"

// Click is a component click or modal submission routed to a waiting flow.
type Click struct {
	I      *discordgo.InteractionCreate
	Choice string
}

type DispatchResult int

const (
	Delivered DispatchResult = iota
	WrongActor
	Expired
)

type waiter struct {
	actor string
	ch    chan Click
}

// Waiters routes "await:<nonce>:<choice>" interactions to the goroutine that
// issued the prompt. Each nonce delivers at most once, and only for the actor
// it was registered for.
type Waiters struct {
	clock clock.Clock

	mu sync.Mutex
	m  map[string]*waiter
}

func NewWaiters(c clock.Clock) *Waiters {
	return &Waiters{clock: c, m: make(map[string]*waiter)}
}

// Wait is a registered prompt.
type Wait struct {
	w     *Waiters
	nonce string
	ch    chan Click
}

func (w *Waiters) Register(actor string) *Wait {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	ch := make(chan Click, 1)
	w.mu.Lock()
	w.m[nonce] = &waiter{actor: actor, ch: ch}
	w.mu.Unlock()
	return &Wait{w: w, nonce: nonce, ch: ch}
}

// ID builds the custom id for one choice of this prompt.
func (wt *Wait) ID(choice string) string {
	return awaitPrefix + wt.nonce + ":" + choice
}

// Next blocks until a click arrives, the timeout passes or ctx ends. ok is
// false on timeout; the prompt is unregistered either way.
func (wt *Wait) Next(ctx context.Context, timeout time.Duration) (Click, bool) {
	select {
	case c := <-wt.ch:
		return c, true
	case <-wt.w.clock.After(timeout):
	case <-ctx.Done():
	}
	if wt.w.remove(wt.nonce) {
		return Click{}, false
	}
	// A dispatch won the race with the timer and its click is already buffered.
	return <-wt.ch, true
}

// Cancel unregisters the prompt without waiting.
func (wt *Wait) Cancel() {
	wt.w.remove(wt.nonce)
}

func (w *Waiters) remove(nonce string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.m[nonce]; !ok {
		return false
	}
	delete(w.m, nonce)
	return true
}

// Dispatch hands the interaction to the waiting prompt named in customID.
func (w *Waiters) Dispatch(customID string, i *discordgo.InteractionCreate) DispatchResult {
	rest, ok := strings.CutPrefix(customID, awaitPrefix)
	if !ok {
		return Expired
	}
	nonce, choice, _ := strings.Cut(rest, ":")
	if i.Type == discordgo.InteractionMessageComponent {
		if data := i.MessageComponentData(); len(data.Values) > 0 {
			choice = data.Values[0]
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	wt, ok := w.m[nonce]
	if !ok {
		return Expired
	}
	if wt.actor != actorID(i) {
		return WrongActor
	}
	delete(w.m, nonce)
	wt.ch <- Click{I: i, Choice: choice}
	return Delivered
}

// Len reports how many prompts are waiting.
func (w *Waiters) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.m)
}
