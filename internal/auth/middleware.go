package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vnmchuo/promptgrid/internal/subscription"
	"github.com/vnmchuo/promptgrid/internal/usage"
)

const cacheTTL = 5 * time.Minute

type Middleware func(next http.Handler) http.Handler

// PlanResolver returns subscription.ErrNotFound for tenants without a subscription.
type PlanResolver interface {
	PlanFor(ctx context.Context, tenantID string) (string, error)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" || !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return token, token != ""
}

func withRequestID(w http.ResponseWriter, r *http.Request) context.Context {
	ctx := r.Context()
	requestID := chimiddleware.GetReqID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)
	return WithRequestID(ctx, requestID)
}

// withPlan resolves the tenant's plan, writing the error response itself on failure.
func withPlan(ctx context.Context, w http.ResponseWriter, plans PlanResolver, tenantID string, log zerolog.Logger) (context.Context, bool) {
	p, err := plans.PlanFor(ctx, tenantID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "no subscription found")
			return ctx, false
		}
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("plan lookup failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return ctx, false
	}
	return WithPlan(ctx, p), true
}

// NewAPIKeyMiddleware authenticates "Authorization: Bearer sk_..." calls. Key
// lookups are cached in Redis for five minutes when cache is not nil.
func NewAPIKeyMiddleware(store Store, cache *redis.Client, plans PlanResolver, log zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := withRequestID(w, r)

			key, ok := bearer(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}

			keyHash := HashKey(key)
			redisKey := fmt.Sprintf("auth:%s", keyHash)

			var found cachedKey
			hit := false
			if cache != nil {
				err := cache.Get(ctx, redisKey).Scan(&found)
				if err == nil {
					hit = true
				} else if err != redis.Nil {
					log.Warn().Err(err).Msg("auth cache read failed")
				}
			}

			if !hit {
				k, err := store.GetByHash(ctx, keyHash)
				if err != nil {
					if errors.Is(err, ErrKeyNotFound) {
						writeError(w, http.StatusUnauthorized, "invalid API key")
						return
					}
					log.Error().Err(err).Msg("api key lookup failed")
					writeError(w, http.StatusInternalServerError, "internal server error")
					return
				}
				found = cachedKey{ID: k.ID, TenantID: k.TenantID}
				if cache != nil {
					_ = cache.Set(ctx, redisKey, &found, cacheTTL).Err()
				}
			}

			if err := store.Touch(ctx, found.ID, time.Now()); err != nil {
				log.Warn().Err(err).Str("api_key_id", found.ID).Msg("failed to update api key last used")
			}

			ctx, ok = withPlan(ctx, w, plans, found.TenantID, log)
			if !ok {
				return
			}

			ctx = WithTenantID(ctx, found.TenantID)
			ctx = WithAPIKeyID(ctx, found.ID)
			ctx = WithAPIKey(ctx, key)
			ctx = WithOrigin(ctx, usage.API)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InvalidateKey drops a cached key lookup, used after deletion.
func InvalidateKey(ctx context.Context, cache *redis.Client, keyHash string) error {
	if cache == nil {
		return nil
	}
	return cache.Del(ctx, fmt.Sprintf("auth:%s", keyHash)).Err()
}

const sessionCookie = "session_token"

// IssueSession signs an HS256 session token whose subject is the tenant id.
func IssueSession(secret []byte, tenantID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   tenantID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseSession validates a session token and returns its tenant id.
func ParseSession(secret []byte, token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("invalid session: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("invalid session: missing subject")
	}
	return claims.Subject, nil
}

// NewSessionMiddleware authenticates dashboard calls carrying a session token
// as a bearer token or in the session_token cookie.
func NewSessionMiddleware(secret []byte, plans PlanResolver, log zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := withRequestID(w, r)

			token, ok := bearer(r)
			if !ok {
				if c, err := r.Cookie(sessionCookie); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			tenantID, err := ParseSession(secret, token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx, ok = withPlan(ctx, w, plans, tenantID, log)
			if !ok {
				return
			}

			ctx = WithTenantID(ctx, tenantID)
			ctx = WithOrigin(ctx, usage.Interactive)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
