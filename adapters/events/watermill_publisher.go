package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

const (
	loginTopic  = "askgarmin.auth.login"
	logoutTopic = "askgarmin.auth.logout"
)

// LoginEvent records the outcome of a finished login attempt. Subject is a
// hashed account identifier.
type LoginEvent struct {
	Subject string    `json:"subject"`
	MFAUsed bool      `json:"mfa_used"`
	Success bool      `json:"success"`
	At      time.Time `json:"at"`
}

// LogoutEvent records a logout notification.
type LogoutEvent struct {
	Subject string    `json:"subject"`
	At      time.Time `json:"at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill.
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher.
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogin publishes a login outcome event.
func (p *WatermillPublisher) PublishLogin(ctx context.Context, subject string, mfaUsed, success bool) error {
	return p.publish(loginTopic, LoginEvent{
		Subject: subject,
		MFAUsed: mfaUsed,
		Success: success,
		At:      time.Now().UTC(),
	})
}

// PublishLogout publishes a logout event.
func (p *WatermillPublisher) PublishLogout(ctx context.Context, subject string) error {
	return p.publish(logoutTopic, LogoutEvent{
		Subject: subject,
		At:      time.Now().UTC(),
	})
}

func (p *WatermillPublisher) publish(topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
