package tickets

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"ticketbot/clock"
)

func click(user, customID string, values ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:     "click",
		Type:   discordgo.InteractionMessageComponent,
		Member: &discordgo.Member{User: &discordgo.User{ID: user}},
		Data:   discordgo.MessageComponentInteractionData{CustomID: customID, Values: values},
	}}
}

func TestWaitersDeliverOnce(t *testing.T) {
	w := NewWaiters(clock.NewFake(time.Now()))
	wait := w.Register(creatorID)

	if got := w.Dispatch(wait.ID("confirm"), click(otherID, wait.ID("confirm"))); got != WrongActor {
		t.Fatalf("Dispatch() by other actor = %v, want WrongActor", got)
	}
	if got := w.Dispatch(wait.ID("confirm"), click(creatorID, wait.ID("confirm"))); got != Delivered {
		t.Fatalf("Dispatch() = %v, want Delivered", got)
	}
	if got := w.Dispatch(wait.ID("cancel"), click(creatorID, wait.ID("cancel"))); got != Expired {
		t.Errorf("second Dispatch() = %v, want Expired", got)
	}

	c, ok := wait.Next(context.Background(), time.Minute)
	if !ok || c.Choice != "confirm" {
		t.Errorf("Next() = %+v, %v", c, ok)
	}
	if w.Len() != 0 {
		t.Errorf("Len() = %d, want 0", w.Len())
	}
}

func TestWaitersSelectValueIsChoice(t *testing.T) {
	w := NewWaiters(clock.NewFake(time.Now()))
	wait := w.Register(staffID)
	w.Dispatch(wait.ID("select"), click(staffID, wait.ID("select"), "no_response"))

	c, ok := wait.Next(context.Background(), time.Minute)
	if !ok || c.Choice != "no_response" {
		t.Errorf("Next() = %+v, %v, want no_response", c, ok)
	}
}

func TestWaitersTimeout(t *testing.T) {
	clk := clock.NewFake(time.Now())
	w := NewWaiters(clk)
	wait := w.Register(creatorID)

	done := make(chan bool)
	go func() {
		_, ok := wait.Next(context.Background(), 30*time.Second)
		done <- ok
	}()

	deadline := time.After(5 * time.Second)
	for {
		clk.Advance(time.Second)
		select {
		case ok := <-done:
			if ok {
				t.Fatal("Next() ok = true after timeout")
			}
			if got := w.Dispatch(wait.ID("confirm"), click(creatorID, wait.ID("confirm"))); got != Expired {
				t.Errorf("Dispatch() after timeout = %v, want Expired", got)
			}
			return
		case <-deadline:
			t.Fatal("Next() did not time out")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestWaitersContextCancel(t *testing.T) {
	w := NewWaiters(clock.NewFake(time.Now()))
	wait := w.Register(creatorID)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := wait.Next(ctx, time.Hour); ok {
		t.Error("Next() ok = true on cancelled context")
	}
	if w.Len() != 0 {
		t.Errorf("Len() = %d, want 0", w.Len())
	}
}

func TestWaitersForeignCustomID(t *testing.T) {
	w := NewWaiters(clock.NewFake(time.Now()))
	if got := w.Dispatch("ticket:close", click(creatorID, "ticket:close")); got != Expired {
		t.Errorf("Dispatch() = %v, want Expired", got)
	}
}
