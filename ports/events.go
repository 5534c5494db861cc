package ports

import "context"

// EventPublisher publishes auth lifecycle events to notify other instances.
type EventPublisher interface {
	// PublishLogin publishes the outcome of a finished login attempt.
	// Subject is a hashed account identifier, never the raw email.
	PublishLogin(ctx context.Context, subject string, mfaUsed, success bool) error

	// PublishLogout publishes a logout notification.
	PublishLogout(ctx context.Context, subject string) error
}
