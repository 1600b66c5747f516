package domain

import (
	"context"
	"time"
)

// Event is a domain notification published by a transaction handler.
// Events are delivered after the command is durable and never during replay.
type Event struct {
	Type      string    `json:"type"`
	Command   string    `json:"command"`
	Seq       uint64    `json:"seq"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandEvent describes one command application, live or replayed.
type CommandEvent struct {
	Command  string
	Seq      uint64
	Replay   bool
	Duration time.Duration
	Err      error
}

// RecoveryEvent summarizes a startup replay.
type RecoveryEvent struct {
	Records  uint64
	LastSeq  uint64
	Duration time.Duration
	Err      error
}

// StateEvent reports a lifecycle transition.
type StateEvent struct {
	From EngineState
	To   EngineState
}

// LifecycleHooks defines callbacks for engine observability.
// Hooks run synchronously; keep them cheap.
type LifecycleHooks struct {
	OnCommand     func(context.Context, *CommandEvent)
	OnRecovery    func(context.Context, *RecoveryEvent)
	OnStateChange func(context.Context, *StateEvent)
}

// CombineHooks fans each callback out to every non-nil hook in order.
func CombineHooks(hooks ...LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnCommand: func(ctx context.Context, e *CommandEvent) {
			for _, h := range hooks {
				if h.OnCommand != nil {
					h.OnCommand(ctx, e)
				}
			}
		},
		OnRecovery: func(ctx context.Context, e *RecoveryEvent) {
			for _, h := range hooks {
				if h.OnRecovery != nil {
					h.OnRecovery(ctx, e)
				}
			}
		},
		OnStateChange: func(ctx context.Context, e *StateEvent) {
			for _, h := range hooks {
				if h.OnStateChange != nil {
					h.OnStateChange(ctx, e)
				}
			}
		},
	}
}
