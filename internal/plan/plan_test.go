package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		name      string
		perMinute int
		perHour   int
		requests  int64
		tokens    int64
	}{
		{Free, 10, 100, 100, 100000},
		{Pro, 60, 1000, 1000, 1000000},
		{Enterprise, 300, 10000, 10000, 10000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := c.Get(tt.name)
			assert.Equal(t, tt.name, p.Name)
			assert.Equal(t, tt.perMinute, p.RateLimits.PerMinute)
			assert.Equal(t, tt.perHour, p.RateLimits.PerHour)
			assert.Equal(t, tt.requests, p.Quota.MonthlyRequests)
			assert.Equal(t, tt.tokens, p.Quota.MonthlyTokens)
		})
	}
}

func TestGet_UnknownFallsBackToFree(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, c.Get(Free), c.Get("platinum"))
	assert.Equal(t, c.Get(Free), c.Get(""))
}

func TestParseCatalog_OverlayAndExtend(t *testing.T) {
	data := []byte(`
plans:
  pro:
    per_minute: 120
    per_hour: 2000
    monthly_requests: 5000
    monthly_tokens: 2000000
  team:
    per_minute: 30
    per_hour: 500
    monthly_requests: 700
    monthly_tokens: 700000
`)
	c, err := ParseCatalog(data)
	require.NoError(t, err)

	assert.Equal(t, 120, c.Get(Pro).RateLimits.PerMinute)
	assert.Equal(t, int64(5000), c.Get(Pro).Quota.MonthlyRequests)
	assert.True(t, c.Has("team"))
	assert.Equal(t, "team", c.Get("team").Name)
	assert.Equal(t, 10, c.Get(Free).RateLimits.PerMinute)
}

func TestParseCatalog_RejectsNegative(t *testing.T) {
	_, err := ParseCatalog([]byte("plans:\n  free:\n    per_minute: -1\n"))
	assert.Error(t, err)
}

func TestLoadCatalog_EmptyPath(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.True(t, c.Has(Enterprise))
}
