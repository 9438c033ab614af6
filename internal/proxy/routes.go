package proxy

import "github.com/go-chi/chi/v5"

// MountAPI registers the API-key surface. The caller applies the API-key middleware.
func (h *Handler) MountAPI(r chi.Router) {
	r.Post("/v1/chat", h.HandleChat)
}

// MountSession registers the dashboard surface. The caller applies the session middleware.
func (h *Handler) MountSession(r chi.Router) {
	r.Post("/api/ai/chat", h.HandleChat)
	r.Post("/api/ai/batch", h.HandleBatch)
	r.Post("/api/ai/estimate-cost", h.HandleEstimate)

	r.Get("/api/usage", h.HandleUsage)
	r.Get("/api/analytics", h.HandleAnalytics)

	r.Get("/api/usage-alerts", h.ListAlerts)
	r.Post("/api/usage-alerts", h.CreateAlert)
	r.Patch("/api/usage-alerts/{id}", h.ToggleAlert)
	r.Delete("/api/usage-alerts/{id}", h.DeleteAlert)

	r.Get("/api/webhooks", h.ListWebhooks)
	r.Post("/api/webhooks", h.CreateWebhook)
	r.Patch("/api/webhooks/{id}", h.ToggleWebhook)
	r.Delete("/api/webhooks/{id}", h.DeleteWebhook)

	r.Get("/api/conversations", h.ListConversations)
	r.Post("/api/conversations", h.CreateConversation)
	r.Delete("/api/conversations/{id}", h.DeleteConversation)
	r.Get("/api/conversations/{id}/export", h.ExportConversation)

	r.Get("/api/api-keys", h.ListKeys)
	r.Post("/api/api-keys", h.CreateKey)
	r.Delete("/api/api-keys/{id}", h.DeleteKey)
}
