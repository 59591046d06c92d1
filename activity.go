package credentials

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSignup               ActivityEventType = "account.signup"
	ActivityEventAccountConfirmed     ActivityEventType = "account.confirmed"
	ActivityEventEmailChangeRequested ActivityEventType = "account.email_change.requested"
	ActivityEventEmailChanged         ActivityEventType = "account.email_change.confirmed"
	ActivityEventPasswordResetRequest ActivityEventType = "account.password.reset_requested"
	ActivityEventPasswordResetSuccess ActivityEventType = "account.password.reset"
	ActivityEventPasswordChanged      ActivityEventType = "account.password.changed"
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEventSessionIssued        ActivityEventType = "auth.session.issued"
	ActivityEventSessionRotated       ActivityEventType = "auth.session.rotated"
	ActivityEventSessionRevoked       ActivityEventType = "auth.session.revoked"
	// ActivityEventSessionBurned fires on the fail-closed rotation path:
	// a bad refresh presentation destroyed the account's live session,
	// which force-logs-out the legitimate client. Operators should watch
	// this event.
	ActivityEventSessionBurned ActivityEventType = "auth.session.burned"
)

// ActorRef identifies who/what triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks run best-effort; errors are logged, never propagated.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
