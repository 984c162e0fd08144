package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func collectEvents(t *testing.T, ch <-chan ChatEvent) []ChatEvent {
	t.Helper()
	var out []ChatEvent
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("stream did not close; got %d events", len(out))
		}
	}
}

func TestLocalRunner_StreamEndsWithDone(t *testing.T) {
	r := NewLocalChatRunner()
	ch, err := r.Run(context.Background(), ChatRunRequest{
		TenantID: "acme", ConversationID: 1, AgentCode: "support", Prompt: "hi",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := collectEvents(t, ch)
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	if last := events[len(events)-1]; last.Type != "done" {
		t.Fatalf("stream must end with done, got %q", last.Type)
	}
}

func TestLocalRunner_CallerCancelClosesStream(t *testing.T) {
	r := NewLocalChatRunner()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Run(ctx, ChatRunRequest{TenantID: "acme", ConversationID: 2, AgentCode: "support"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	cancel()

	// Drain: the channel must close promptly, not hang.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after caller cancel")
		}
	}
}

func TestLocalRunner_StopUnknownRun(t *testing.T) {
	r := NewLocalChatRunner()
	err := r.Stop(context.Background(), "acme", 99)
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("want ErrRunNotFound, got %v", err)
	}
}

func TestLocalRunner_StopCancelsActiveRun(t *testing.T) {
	r := NewLocalChatRunner()

	// An unbuffered consumer keeps the run alive until we stop it.
	ch, err := r.Run(context.Background(), ChatRunRequest{TenantID: "acme", ConversationID: 3, AgentCode: "support"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := r.Stop(context.Background(), "acme", 3); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	collectEvents(t, ch) // must close, not hang

	// The slot is free again: a second stop reports no active run.
	if err := r.Stop(context.Background(), "acme", 3); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("second Stop: want ErrRunNotFound, got %v", err)
	}
}

func TestLocalRunner_RunsScopedPerTenant(t *testing.T) {
	r := NewLocalChatRunner()
	if _, err := r.Run(context.Background(), ChatRunRequest{TenantID: "acme", ConversationID: 5}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Same conversation id under another tenant is a different run.
	if err := r.Stop(context.Background(), "globex", 5); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("cross-tenant Stop must miss, got %v", err)
	}
	if err := r.Stop(context.Background(), "acme", 5); err != nil {
		t.Fatalf("owning tenant Stop: %v", err)
	}
}

func TestLocalRunner_ReplacedRunStaysStoppable(t *testing.T) {
	r := NewLocalChatRunner()
	ctx := context.Background()

	chA, err := r.Run(ctx, ChatRunRequest{TenantID: "acme", ConversationID: 9, AgentCode: "support"})
	if err != nil {
		t.Fatalf("Run A: %v", err)
	}
	// Same key: B replaces A and cancels it.
	chB, err := r.Run(ctx, ChatRunRequest{TenantID: "acme", ConversationID: 9, AgentCode: "support"})
	if err != nil {
		t.Fatalf("Run B: %v", err)
	}

	// Let A finish and run its cleanup. It must not deregister B.
	collectEvents(t, chA)
	time.Sleep(50 * time.Millisecond)

	if err := r.Stop(ctx, "acme", 9); err != nil {
		t.Fatalf("Stop after replacement: %v", err)
	}
	collectEvents(t, chB)

	if err := r.Stop(ctx, "acme", 9); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("second Stop: want ErrRunNotFound, got %v", err)
	}
}
