package proxy

import (
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vnmchuo/promptgrid/internal/auth"
	"github.com/vnmchuo/promptgrid/internal/quota"
	"github.com/vnmchuo/promptgrid/internal/usage"
)

const analyticsDays = 30

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	now := h.now()
	from := now.AddDate(0, 0, -analyticsDays) // Default: last 30 days
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		var err error
		from, err = time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		var err error
		to, err = time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
			return
		}
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "'to' must not be before 'from'")
		return
	}

	records, err := h.usage.List(ctx, tenantID, from, to)
	if err != nil {
		h.log.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to list usage")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	var totals usage.Totals
	for _, rec := range records {
		totals.Requests++
		totals.Tokens += rec.TokensUsed
		totals.Cost += rec.Cost
	}
	if records == nil {
		records = []*usage.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenantId": tenantID,
		"from":     from,
		"to":       to,
		"totals":   totals,
		"records":  records,
	})
}

type analyticsResponse struct {
	Daily      []usage.DailyUsage    `json:"daily"`
	ByProvider []usage.ProviderUsage `json:"byProvider"`
	Lifetime   usage.Totals          `json:"lifetime"`
	Period     quotaView             `json:"period"`
}

type quotaView struct {
	Start          time.Time `json:"start"`
	Plan           string    `json:"plan"`
	RequestsUsed   int64     `json:"requestsUsed"`
	RequestsLimit  int64     `json:"requestsLimit"`
	TokensUsed     int64     `json:"tokensUsed"`
	TokensLimit    int64     `json:"tokensLimit"`
	CostThisPeriod float64   `json:"costThisPeriod"`
}

// HandleAnalytics reads the dashboard aggregates concurrently.
func (h *Handler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	planName := auth.GetPlan(ctx)
	since := h.now().AddDate(0, 0, -analyticsDays)

	var resp analyticsResponse
	var st quota.Status
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		resp.Daily, err = h.usage.Daily(gctx, tenantID, since)
		return err
	})
	g.Go(func() error {
		var err error
		resp.ByProvider, err = h.usage.ByProvider(gctx, tenantID, since)
		return err
	})
	g.Go(func() error {
		var err error
		resp.Lifetime, err = h.usage.Lifetime(gctx, tenantID)
		return err
	})
	g.Go(func() error {
		var err error
		st, err = h.quota.Status(gctx, tenantID, planName)
		return err
	})
	if err := g.Wait(); err != nil {
		h.log.Error().Err(err).Str("tenant_id", tenantID).Msg("failed to load analytics")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	if resp.Daily == nil {
		resp.Daily = []usage.DailyUsage{}
	}
	if resp.ByProvider == nil {
		resp.ByProvider = []usage.ProviderUsage{}
	}
	resp.Period = quotaView{
		Start:          st.PeriodStart,
		Plan:           planName,
		RequestsUsed:   st.Used.Requests,
		RequestsLimit:  st.Limits.MonthlyRequests,
		TokensUsed:     st.Used.Tokens,
		TokensLimit:    st.Limits.MonthlyTokens,
		CostThisPeriod: st.Used.Cost,
	}
	writeJSON(w, http.StatusOK, resp)
}
