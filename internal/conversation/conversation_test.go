package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestMemoryStore_ListNewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time {
		at = at.Add(time.Minute)
		return at
	})

	for i := 0; i < ListLimit+5; i++ {
		require.NoError(t, s.Create(ctx, &Conversation{TenantID: "t1", Title: "chat"}))
	}
	last := &Conversation{TenantID: "t1", Title: "latest"}
	require.NoError(t, s.Create(ctx, last))
	require.NoError(t, s.Create(ctx, &Conversation{TenantID: "t2", Title: "other tenant"}))

	got, err := s.List(ctx, "t1", ListLimit)
	require.NoError(t, err)
	assert.Len(t, got, ListLimit)
	assert.Equal(t, last.ID, got[0].ID)
}

func TestMemoryStore_TenantScoped(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := &Conversation{TenantID: "t1", Title: "mine", Messages: []Message{{Role: "user", Content: "hi"}}}
	require.NoError(t, s.Create(ctx, c))
	assert.NotEmpty(t, c.ID)

	_, err := s.Get(ctx, "t2", c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "t2", c.ID), ErrNotFound)

	got, err := s.Get(ctx, "t1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Messages, got.Messages)

	require.NoError(t, s.Delete(ctx, "t1", c.ID))
	_, err = s.Get(ctx, "t1", c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "Q3_plan__draft_.md", Filename("Q3 plan (draft)", "md"))
	assert.Equal(t, "caf_.json", Filename("café", "json"))
}

func TestMarkdown(t *testing.T) {
	c := &Conversation{
		Title:     "Pricing",
		Provider:  strPtr("openai"),
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Messages: []Message{
			{Role: "user", Content: "how much?"},
			{Role: "assistant", Content: "cheap"},
		},
	}
	md := Markdown(c)

	assert.True(t, strings.HasPrefix(md, "# Pricing\n\n"))
	assert.Contains(t, md, "**Provider:** openai\n")
	assert.Contains(t, md, "**Model:** N/A\n")
	assert.Contains(t, md, "**You**\n\nhow much?\n\n---\n")
	assert.Contains(t, md, "**Assistant**\n\ncheap\n\n---\n")
	assert.Less(t, strings.Index(md, "how much?"), strings.Index(md, "cheap"))
}
