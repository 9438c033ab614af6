package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/promptgrid/config"
	"github.com/vnmchuo/promptgrid/internal/alert"
	"github.com/vnmchuo/promptgrid/internal/auth"
	"github.com/vnmchuo/promptgrid/internal/conversation"
	"github.com/vnmchuo/promptgrid/internal/logger"
	"github.com/vnmchuo/promptgrid/internal/notify"
	"github.com/vnmchuo/promptgrid/internal/pipeline"
	"github.com/vnmchuo/promptgrid/internal/plan"
	"github.com/vnmchuo/promptgrid/internal/provider"
	"github.com/vnmchuo/promptgrid/internal/provider/claude"
	"github.com/vnmchuo/promptgrid/internal/provider/gemini"
	"github.com/vnmchuo/promptgrid/internal/provider/openai"
	"github.com/vnmchuo/promptgrid/internal/proxy"
	"github.com/vnmchuo/promptgrid/internal/quota"
	"github.com/vnmchuo/promptgrid/internal/seeder"
	"github.com/vnmchuo/promptgrid/internal/subscription"
	"github.com/vnmchuo/promptgrid/internal/telemetry"
	"github.com/vnmchuo/promptgrid/internal/usage"
	"github.com/vnmchuo/promptgrid/internal/webhook"
	"github.com/vnmchuo/promptgrid/internal/worker"
	"github.com/vnmchuo/promptgrid/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		l := logger.New("production", "info")
		l.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping postgres")
	}
	log.Info().Msg("PostgreSQL connected")

	// 4. Connect Redis when configured. Without it, rate-limit counters stay
	// in process and API-key lookups are not cached.
	var rdb *redis.Client
	var counters ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to ping redis")
		}
		counters = ratelimit.NewRedisStore(rdb)
		log.Info().Msg("Redis connected")
	}

	// 5. Plans
	catalog := plan.DefaultCatalog()
	if cfg.PlansFile != "" {
		catalog, err = plan.LoadCatalog(cfg.PlansFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.PlansFile).Msg("failed to load plans")
		}
	}

	// 6. Stores
	usageStore := usage.NewPostgresStore(pool)
	alertStore := alert.NewPostgresStore(pool)
	webhookStore := webhook.NewPostgresStore(pool)
	keyStore := auth.NewPostgresStore(pool)
	conversationStore := conversation.NewPostgresStore(pool)
	subscriptionStore := subscription.NewPostgresStore(pool)
	plans := subscription.NewResolver(subscriptionStore)

	// 7. Rate limiting
	limiter := ratelimit.NewLimiter(counters, log)
	var tokens *ratelimit.TokenLimiter
	if cfg.DefaultRateLimitTPM > 0 {
		if rdb == nil {
			log.Warn().Msg("DEFAULT_RATE_LIMIT_TPM needs REDIS_ADDR, token guard disabled")
		} else {
			tokens = ratelimit.NewTokenLimiter(rdb, cfg.DefaultRateLimitTPM)
		}
	}

	// 8. Providers
	providers := []provider.Provider{
		openai.New(cfg.OpenAIAPIKey),
		claude.New(cfg.AnthropicAPIKey),
		gemini.New(cfg.GeminiAPIKey),
	}
	router := proxy.NewRouter(providers)

	// 9. Side effects
	queue := worker.NewQueue(cfg.WorkerCount, cfg.WorkerQueueSize, cfg.SideEffectTimeout, log)
	queue.OnDrop = func(worker.Job) { telemetry.JobsDropped.Inc() }
	dispatcher := webhook.NewDispatcher(webhookStore, cfg.WebhookTimeout, log)
	alerts := alert.NewEngine(alertStore, usageStore, log)
	notifier := notify.New(queue, dispatcher, alerts, log)

	// 10. Pipeline and handlers
	validate := validator.New()
	enforcer := quota.NewEnforcer(usageStore, catalog)
	p := pipeline.New(pipeline.Deps{
		Limiter:  limiter,
		Tokens:   tokens,
		Catalog:  catalog,
		Quota:    enforcer,
		Gateway:  router,
		Recorder: usage.NewRecorder(usageStore, log),
		Notifier: notifier,
		Validate: validate,
		Tracer:   otel.GetTracerProvider().Tracer(telemetry.ServiceName),
		Log:      log,
	})
	handler := proxy.NewHandler(proxy.HandlerDeps{
		Chat:          p,
		Usage:         usageStore,
		Quota:         enforcer,
		Alerts:        alertStore,
		Webhooks:      webhookStore,
		Keys:          keyStore,
		Conversations: conversationStore,
		Events:        notifier,
		KeyCache:      rdb,
		Validate:      validate,
		Log:           log,
	})
	stripeHandler := subscription.NewStripeHandler(
		subscriptionStore,
		subscription.NewStripeFetcher(cfg.StripeSecretKey),
		cfg.StripeWebhookSecret,
		catalog,
		log,
	)

	// 11. Seed a development tenant if RUN_SEED=true
	if cfg.RunSeed {
		if err := seeder.New(keyStore, subscriptionStore, []byte(cfg.SessionSecret), log).Seed(ctx); err != nil {
			log.Error().Err(err).Msg("seeding failed")
		}
	}

	// 12. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(logger.Middleware(log))
	r.Use(chimiddleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", "X-Request-ID"},
			AllowCredentials: true,
		}).Handler)
	}

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"promptgrid"}`))
	})
	r.Handle("/metrics", telemetry.MetricsHandler())
	if cfg.StripeWebhookSecret != "" {
		r.Method(http.MethodPost, "/api/webhooks/stripe", stripeHandler)
	}

	// API-key routes
	r.Group(func(r chi.Router) {
		r.Use(auth.NewAPIKeyMiddleware(keyStore, rdb, plans, log))
		handler.MountAPI(r)
	})

	// Session routes
	r.Group(func(r chi.Router) {
		r.Use(auth.NewSessionMiddleware([]byte(cfg.SessionSecret), plans, log))
		handler.MountSession(r)
	})

	// 13. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("PromptGrid gateway starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	if err := queue.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("background jobs did not drain")
	}
	log.Info().Msg("Server stopped")
}
