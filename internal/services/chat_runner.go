// Package services – chat run collaborator boundary.
//
// The engine that actually answers a chat turn lives outside this gateway.
// ChatRunner is the narrow contract the handlers program against; the wire
// format of individual events is owned by the engine and passed through
// opaque. LocalChatRunner is a minimal in-process implementation used for
// development and tests.
package services

import (
	"context"
	"fmt"
	"sync"
)

// ChatEvent is one streamed chunk of a chat run. Data is the engine's
// payload, passed through to the partner unmodified.
type ChatEvent struct {
	Type string
	Data string
}

// ChatRunRequest carries everything the downstream engine needs to execute
// one chat turn. Authorization is the raw bearer value from the northbound
// context, forwarded so the engine can act on the user's behalf.
type ChatRunRequest struct {
	TenantID       string
	UserID         string
	ConversationID int64
	AgentCode      string
	Prompt         string
	Authorization  string
}

// ChatRunner executes chat turns and cancels running ones.
//
// Run returns a channel of events that is closed when the turn completes,
// fails, or is cancelled. Implementations must stop producing promptly when
// ctx is cancelled (the caller disconnecting mid-stream).
type ChatRunner interface {
	Run(ctx context.Context, req ChatRunRequest) (<-chan ChatEvent, error)
	Stop(ctx context.Context, tenantID string, conversationID int64) error
}

// LocalChatRunner is an in-process ChatRunner that tracks active runs per
// (tenant, conversation) so Stop can cancel them. It emits a fixed
// acknowledgement stream; a production deployment swaps in a client for the
// real execution engine.
type LocalChatRunner struct {
	mu     sync.Mutex
	active map[string]*chatRun
}

// chatRun identifies one registered run. The pointer identity distinguishes
// a run from a newer one that replaced it under the same key.
type chatRun struct {
	cancel context.CancelFunc
}

// NewLocalChatRunner constructs an empty runner.
func NewLocalChatRunner() *LocalChatRunner {
	return &LocalChatRunner{active: make(map[string]*chatRun)}
}

func runKey(tenantID string, conversationID int64) string {
	return fmt.Sprintf("%s/%d", tenantID, conversationID)
}

// Run implements ChatRunner. The returned channel closes when the turn
// finishes or the context is cancelled, whichever comes first.
func (r *LocalChatRunner) Run(ctx context.Context, req ChatRunRequest) (<-chan ChatEvent, error) {
	runCtx, cancel := context.WithCancel(ctx)
	key := runKey(req.TenantID, req.ConversationID)

	run := &chatRun{cancel: cancel}
	r.mu.Lock()
	if prev, ok := r.active[key]; ok {
		prev.cancel()
	}
	r.active[key] = run
	r.mu.Unlock()

	// Unbuffered so the run stays active (and stoppable) until the consumer
	// has drained it.
	out := make(chan ChatEvent)
	go func() {
		defer func() {
			close(out)
			cancel()
			r.mu.Lock()
			// Only deregister our own entry. A newer run may have taken the
			// key while this one was finishing.
			if r.active[key] == run {
				delete(r.active, key)
			}
			r.mu.Unlock()
		}()

		events := []ChatEvent{
			{Type: "ack", Data: fmt.Sprintf(`{"agent":%q}`, req.AgentCode)},
			{Type: "message", Data: fmt.Sprintf(`{"content":"received %d bytes"}`, len(req.Prompt))},
			{Type: "done", Data: "{}"},
		}
		for _, ev := range events {
			select {
			case out <- ev:
			case <-runCtx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Stop implements ChatRunner. Returns ErrRunNotFound when no run is active
// for the conversation.
func (r *LocalChatRunner) Stop(_ context.Context, tenantID string, conversationID int64) error {
	key := runKey(tenantID, conversationID)
	r.mu.Lock()
	run, ok := r.active[key]
	delete(r.active, key)
	r.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}
	run.cancel()
	return nil
}
