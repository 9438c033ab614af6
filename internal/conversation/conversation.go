// Package conversation stores chat transcripts a tenant chose to keep.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ListLimit caps how many conversations List returns.
const ListLimit = 50

var ErrNotFound = errors.New("conversation not found")

type Message struct {
	Role    string `json:"role" validate:"required"`
	Content string `json:"content"`
}

type Conversation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"-"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Model     *string   `json:"model"`
	Provider  *string   `json:"provider"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Store interface {
	Create(ctx context.Context, c *Conversation) error
	// List returns at most limit conversations, most recently updated first.
	List(ctx context.Context, tenantID string, limit int) ([]*Conversation, error)
	Get(ctx context.Context, tenantID, id string) (*Conversation, error)
	Delete(ctx context.Context, tenantID, id string) error
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9]`)

// Filename turns a title into an attachment name with the given extension.
func Filename(title, ext string) string {
	return unsafeFilename.ReplaceAllString(title, "_") + "." + ext
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}

// Markdown renders c as a readable transcript.
func Markdown(c *Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", c.Title)
	fmt.Fprintf(&b, "**Provider:** %s\n", orNA(c.Provider))
	fmt.Fprintf(&b, "**Model:** %s\n", orNA(c.Model))
	fmt.Fprintf(&b, "**Date:** %s\n\n---\n\n", c.CreatedAt.UTC().Format(time.RFC1123))

	for i, m := range c.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		role := "**Assistant**"
		if m.Role == "user" {
			role = "**You**"
		}
		fmt.Fprintf(&b, "%s\n\n%s\n\n---\n", role, m.Content)
	}
	return b.String()
}

// Export is the JSON download shape.
type Export struct {
	Title     string    `json:"title"`
	Provider  *string   `json:"provider"`
	Model     *string   `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

func (c *Conversation) Export() Export {
	return Export{
		Title:     c.Title,
		Provider:  c.Provider,
		Model:     c.Model,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Messages:  c.Messages,
	}
}
