// Package auth authenticates API-key and session callers and puts the tenant,
// plan and origin on the request context.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vnmchuo/promptgrid/internal/usage"
)

var ErrKeyNotFound = errors.New("api key not found")

const keyPrefix = "sk_"

type APIKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	Hint       string     `json:"key"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// cachedKey is what the Redis cache holds for a key hash.
type cachedKey struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (c *cachedKey) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (c *cachedKey) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, c)
}

type Store interface {
	GetByHash(ctx context.Context, keyHash string) (*APIKey, error)
	Create(ctx context.Context, apiKey *APIKey) error
	List(ctx context.Context, tenantID string) ([]*APIKey, error)
	Delete(ctx context.Context, tenantID, id string) (*APIKey, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

// GenerateKey returns a new secret token: "sk_" followed by 64 hex characters.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(b), nil
}

func HashKey(key string) string {
	h := sha256.New()
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// MaskKey keeps the first 8 and last 4 characters.
func MaskKey(key string) string {
	if len(key) <= 12 {
		return "..."
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// Issue creates and stores a key for the tenant. The returned token is the
// only time the secret is visible.
func Issue(ctx context.Context, store Store, tenantID, name string) (*APIKey, string, error) {
	token, err := GenerateKey()
	if err != nil {
		return nil, "", err
	}
	k := &APIKey{
		TenantID: tenantID,
		Name:     name,
		KeyHash:  HashKey(token),
		Hint:     MaskKey(token),
	}
	if err := store.Create(ctx, k); err != nil {
		return nil, "", err
	}
	return k, token, nil
}

type contextKey string

const (
	tenantIDKey  contextKey = "tenant_id"
	apiKeyIDKey  contextKey = "api_key_id"
	apiTokenKey  contextKey = "api_key_token"
	planKey      contextKey = "plan"
	originKey    contextKey = "origin"
	requestIDKey contextKey = "request_id"
)

// Helpers to extract from context
func GetTenantID(ctx context.Context) string {
	if id, ok := ctx.Value(tenantIDKey).(string); ok {
		return id
	}
	return ""
}

func GetAPIKeyID(ctx context.Context) string {
	if id, ok := ctx.Value(apiKeyIDKey).(string); ok {
		return id
	}
	return ""
}

// GetAPIKey is the raw bearer token of an API-key call.
func GetAPIKey(ctx context.Context) string {
	if t, ok := ctx.Value(apiTokenKey).(string); ok {
		return t
	}
	return ""
}

func GetPlan(ctx context.Context) string {
	if p, ok := ctx.Value(planKey).(string); ok {
		return p
	}
	return ""
}

func GetOrigin(ctx context.Context) usage.Origin {
	if o, ok := ctx.Value(originKey).(usage.Origin); ok {
		return o
	}
	return usage.Interactive
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

func WithAPIKeyID(ctx context.Context, apiKeyID string) context.Context {
	return context.WithValue(ctx, apiKeyIDKey, apiKeyID)
}

func WithAPIKey(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, apiTokenKey, token)
}

func WithPlan(ctx context.Context, plan string) context.Context {
	return context.WithValue(ctx, planKey, plan)
}

func WithOrigin(ctx context.Context, origin usage.Origin) context.Context {
	return context.WithValue(ctx, originKey, origin)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
