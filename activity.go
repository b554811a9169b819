package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEventRegistered           ActivityEventType = "auth.user.registered"
	ActivityEventEmailConfirmed       ActivityEventType = "auth.email.confirmed"
	ActivityEventNewEmailConfirmed    ActivityEventType = "auth.email.new.confirmed"
	ActivityEventRefresh              ActivityEventType = "auth.session.refresh"
	ActivityEventRefreshFailure       ActivityEventType = "auth.session.refresh.failure"
	ActivityEventLogout               ActivityEventType = "auth.session.logout"
	ActivityEventPasswordResetRequest ActivityEventType = "auth.password.forgot"
	ActivityEventPasswordResetSuccess ActivityEventType = "auth.password.reset"
	ActivityEventProfileUpdated       ActivityEventType = "auth.profile.updated"
	ActivityEventUserDeleted          ActivityEventType = "auth.user.deleted"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	SessionID  int64
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
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
