// Package webhook stores tenant webhooks and delivers signed domain events to them.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	EventUsageCreated      = "usage.created"
	EventAlertTriggered    = "alert.triggered"
	EventConversationSaved = "conversation.saved"
	EventAll               = "*"
)

const (
	HeaderEvent     = "X-PromptGrid-Event"
	HeaderSignature = "X-PromptGrid-Signature"
)

var ErrNotFound = errors.New("webhook not found")

var knownEvents = map[string]bool{
	EventUsageCreated:      true,
	EventAlertTriggered:    true,
	EventConversationSaved: true,
	EventAll:               true,
}

type Webhook struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"-"`
	URL             string     `json:"url"`
	Secret          string     `json:"-"`
	Events          []string   `json:"events"`
	IsActive        bool       `json:"isActive"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Subscribed reports whether the webhook wants event, directly or via the wildcard.
func (w *Webhook) Subscribed(event string) bool {
	for _, e := range w.Events {
		if e == event || e == EventAll {
			return true
		}
	}
	return false
}

type Store interface {
	Create(ctx context.Context, w *Webhook) error
	List(ctx context.Context, tenantID string) ([]*Webhook, error)
	ListActive(ctx context.Context, tenantID string) ([]*Webhook, error)
	SetActive(ctx context.Context, tenantID, id string, active bool) (*Webhook, error)
	Delete(ctx context.Context, tenantID, id string) error
	// Touch records a dispatch attempt.
	Touch(ctx context.Context, id string, at time.Time) error
}

// GenerateSecret returns 32 random bytes, hex encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Sign is the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Validate checks a webhook before it is stored.
func Validate(rawURL string, events []string) error {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("url must be an absolute http or https URL")
	}
	if len(events) == 0 {
		return fmt.Errorf("at least one event is required")
	}
	for _, e := range events {
		if !knownEvents[e] {
			return fmt.Errorf("unknown event %q", e)
		}
	}
	return nil
}
