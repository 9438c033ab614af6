package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vnmchuo/promptgrid/internal/alert"
	"github.com/vnmchuo/promptgrid/internal/auth"
	"github.com/vnmchuo/promptgrid/internal/webhook"
)

// checkBody runs struct validation and writes 400 with one detail per field.
func (h *Handler) checkBody(w http.ResponseWriter, body any) bool {
	err := h.validate.Struct(body)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	details := []string{err.Error()}
	if errors.As(err, &verrs) {
		details = details[:0]
		for _, fe := range verrs {
			d := fmt.Sprintf("%s: failed %s", strings.ToLower(fe.Field()[:1])+fe.Field()[1:], fe.Tag())
			if fe.Param() != "" {
				d += "=" + fe.Param()
			}
			details = append(details, d)
		}
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid input", "details": details})
	return false
}

func tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := auth.GetTenantID(r.Context())
	if id == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return id, true
}

type toggleBody struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

// Usage alerts

type createAlertBody struct {
	Type      alert.Type `json:"type" validate:"required,oneof=requests tokens cost"`
	Threshold *float64   `json:"threshold" validate:"required,min=0"`
}

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	alerts, err := h.alerts.List(r.Context(), tenantID)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*alert.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var body createAlertBody
	if !decode(w, r, &body) || !h.checkBody(w, &body) {
		return
	}

	a := &alert.Alert{TenantID: tenantID, Type: body.Type, Threshold: *body.Threshold, IsActive: true}
	if err := h.alerts.Create(r.Context(), a); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) ToggleAlert(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var body toggleBody
	if !decode(w, r, &body) || !h.checkBody(w, &body) {
		return
	}

	a, err := h.alerts.SetActive(r.Context(), tenantID, chi.URLParam(r, "id"), *body.IsActive)
	if errors.Is(err, alert.ErrNotFound) {
		writeError(w, http.StatusNotFound, "usage alert not found")
		return
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	err := h.alerts.Delete(r.Context(), tenantID, chi.URLParam(r, "id"))
	if errors.Is(err, alert.ErrNotFound) {
		writeError(w, http.StatusNotFound, "usage alert not found")
		return
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Webhooks

type createWebhookBody struct {
	URL    string   `json:"url" validate:"required"`
	Events []string `json:"events" validate:"required,min=1"`
}

// createdWebhook is the only response that carries the signing secret.
type createdWebhook struct {
	*webhook.Webhook
	Secret string `json:"secret"`
}

func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	hooks, err := h.webhooks.List(r.Context(), tenantID)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if hooks == nil {
		hooks = []*webhook.Webhook{}
	}
	writeJSON(w, http.StatusOK, hooks)
}

func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var body createWebhookBody
	if !decode(w, r, &body) || !h.checkBody(w, &body) {
		return
	}
	if err := webhook.Validate(body.URL, body.Events); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid input", "details": []string{err.Error()}})
		return
	}

	secret, err := webhook.GenerateSecret()
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	hook := &webhook.Webhook{
		TenantID: tenantID,
		URL:      body.URL,
		Secret:   secret,
		Events:   body.Events,
		IsActive: true,
	}
	if err := h.webhooks.Create(r.Context(), hook); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdWebhook{Webhook: hook, Secret: secret})
}

func (h *Handler) ToggleWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var body toggleBody
	if !decode(w, r, &body) || !h.checkBody(w, &body) {
		return
	}

	hook, err := h.webhooks.SetActive(r.Context(), tenantID, chi.URLParam(r, "id"), *body.IsActive)
	if errors.Is(err, webhook.ErrNotFound) {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	err := h.webhooks.Delete(r.Context(), tenantID, chi.URLParam(r, "id"))
	if errors.Is(err, webhook.ErrNotFound) {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// API keys

type createKeyBody struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

type createdKey struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	keys, err := h.keys.List(r.Context(), tenantID)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if keys == nil {
		keys = []*auth.APIKey{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var body createKeyBody
	if !decode(w, r, &body) {
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if !h.checkBody(w, &body) {
		return
	}

	k, token, err := auth.Issue(r.Context(), h.keys, tenantID, body.Name)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdKey{ID: k.ID, Name: k.Name, Key: token, CreatedAt: k.CreatedAt})
}

func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	k, err := h.keys.Delete(r.Context(), tenantID, chi.URLParam(r, "id"))
	if errors.Is(err, auth.ErrKeyNotFound) {
		writeError(w, http.StatusNotFound, "api key not found")
		return
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if err := auth.InvalidateKey(r.Context(), h.keyCache, k.KeyHash); err != nil {
		h.log.Warn().Err(err).Str("api_key_id", k.ID).Msg("failed to invalidate cached api key")
	}
	w.WriteHeader(http.StatusNoContent)
}
