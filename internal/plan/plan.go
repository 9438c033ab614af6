// Package plan maps subscription plan names to their rate-limit tier and monthly quota.
package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	Free       = "free"
	Pro        = "pro"
	Enterprise = "enterprise"
)

type RateLimits struct {
	PerMinute int `yaml:"per_minute" json:"perMinute"`
	PerHour   int `yaml:"per_hour" json:"perHour"`
}

type Quota struct {
	MonthlyRequests int64 `yaml:"monthly_requests" json:"monthlyRequests"`
	MonthlyTokens   int64 `yaml:"monthly_tokens" json:"monthlyTokens"`
}

type Plan struct {
	Name       string     `yaml:"-" json:"name"`
	RateLimits RateLimits `yaml:",inline" json:"rateLimits"`
	Quota      Quota      `yaml:",inline" json:"quota"`
}

// Catalog is read-only after construction and safe for concurrent use.
type Catalog struct {
	plans map[string]Plan
}

func defaults() map[string]Plan {
	return map[string]Plan{
		Free: {
			Name:       Free,
			RateLimits: RateLimits{PerMinute: 10, PerHour: 100},
			Quota:      Quota{MonthlyRequests: 100, MonthlyTokens: 100000},
		},
		Pro: {
			Name:       Pro,
			RateLimits: RateLimits{PerMinute: 60, PerHour: 1000},
			Quota:      Quota{MonthlyRequests: 1000, MonthlyTokens: 1000000},
		},
		Enterprise: {
			Name:       Enterprise,
			RateLimits: RateLimits{PerMinute: 300, PerHour: 10000},
			Quota:      Quota{MonthlyRequests: 10000, MonthlyTokens: 10000000},
		},
	}
}

func DefaultCatalog() *Catalog {
	return &Catalog{plans: defaults()}
}

type catalogFile struct {
	Plans map[string]Plan `yaml:"plans"`
}

// LoadCatalog overlays the plans declared in a YAML file onto the defaults.
// An empty path returns the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse plans file: %w", err)
	}

	plans := defaults()
	for name, p := range f.Plans {
		if name == "" {
			return nil, fmt.Errorf("plan name must not be empty")
		}
		if p.RateLimits.PerMinute < 0 || p.RateLimits.PerHour < 0 ||
			p.Quota.MonthlyRequests < 0 || p.Quota.MonthlyTokens < 0 {
			return nil, fmt.Errorf("plan %q: limits must not be negative", name)
		}
		p.Name = name
		plans[name] = p
	}
	return &Catalog{plans: plans}, nil
}

// Get returns the named plan. Unknown names get the free plan.
func (c *Catalog) Get(name string) Plan {
	if p, ok := c.plans[name]; ok {
		return p
	}
	return c.plans[Free]
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.plans[name]
	return ok
}
