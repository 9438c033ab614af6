package proxy

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vnmchuo/promptgrid/internal/conversation"
	"github.com/vnmchuo/promptgrid/internal/webhook"
)

type createConversationBody struct {
	Title    string                 `json:"title" validate:"required,min=1,max=200"`
	Messages []conversation.Message `json:"messages" validate:"required,dive"`
	Model    string                 `json:"model"`
	Provider string                 `json:"provider"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	convs, err := h.conversations.List(r.Context(), tenantID, conversation.ListLimit)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if convs == nil {
		convs = []*conversation.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// CreateConversation saves a transcript and publishes conversation.saved.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var body createConversationBody
	if !decode(w, r, &body) || !h.checkBody(w, &body) {
		return
	}

	conv := &conversation.Conversation{
		TenantID: tenantID,
		Title:    body.Title,
		Messages: body.Messages,
		Model:    optional(body.Model),
		Provider: optional(body.Provider),
	}
	if err := h.conversations.Create(r.Context(), conv); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if h.events != nil {
		h.events.Publish(tenantID, webhook.EventConversationSaved, conv)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"conversation": conv})
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	err := h.conversations.Delete(r.Context(), tenantID, chi.URLParam(r, "id"))
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportConversation downloads a conversation as JSON (default) or Markdown.
func (h *Handler) ExportConversation(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "markdown" {
		writeError(w, http.StatusBadRequest, "format must be json or markdown")
		return
	}

	conv, err := h.conversations.Get(r.Context(), tenantID, chi.URLParam(r, "id"))
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	if format == "markdown" {
		w.Header().Set("Content-Type", "text/markdown")
		w.Header().Set("Content-Disposition", `attachment; filename="`+conversation.Filename(conv.Title, "md")+`"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(conversation.Markdown(conv)))
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+conversation.Filename(conv.Title, "json")+`"`)
	writeJSON(w, http.StatusOK, conv.Export())
}
