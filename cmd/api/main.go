package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicebridge/internal/auth"
	"voicebridge/internal/calls"
	"voicebridge/internal/config"
	"voicebridge/internal/directory"
	"voicebridge/internal/events"
	"voicebridge/internal/history"
	"voicebridge/internal/httpapi"
	"voicebridge/internal/metrics"
	"voicebridge/internal/reporting"
	"voicebridge/internal/telephony"
	"voicebridge/pkg/logger"
	"voicebridge/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	// Call store: Redis when reachable at startup, process memory otherwise.
	var (
		rdb     *redis.Client
		backend calls.Backend
	)
	if cfg.HasRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Warn("redis unreachable, using in-memory call store", "addr", cfg.RedisAddr(), "err", err)
			rdb = nil
		} else {
			backend = calls.NewRedisBackend(rdb)
		}
	}
	if backend == nil {
		mem := calls.NewMemoryBackend()
		go mem.Run(rootCtx, cfg.Calls.SweepInterval, log)
		backend = mem
	}
	store := calls.NewStore(backend, calls.TTLs{
		Active:  cfg.Calls.ActiveTTL,
		Pending: cfg.Calls.PendingTTL,
		Alias:   cfg.Calls.AliasTTL,
	}, log)
	log.Info("call store ready", "backend", store.Backend())

	// Durable history and the number directory: Postgres when configured.
	var (
		db       *sql.DB
		histRepo history.Repository
		dir      calls.Directory
	)
	if cfg.HasDB() {
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		pgHistory := history.NewPostgresRepo(db)
		pgDir := directory.NewPostgresDirectory(db)
		if err := pgHistory.Migrate(rootCtx); err != nil {
			log.Error("history migration failed", "err", err)
			os.Exit(1)
		}
		if err := pgDir.Migrate(rootCtx); err != nil {
			log.Error("directory migration failed", "err", err)
			os.Exit(1)
		}
		histRepo, dir = pgHistory, pgDir
	} else {
		log.Warn("DB_HOST not set, call history and directory are in-memory")
		histRepo, dir = history.NewMemoryRepo(), directory.NewMemoryDirectory()
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.HasKafka() {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
		}, log)
		if err != nil {
			log.Warn("kafka unavailable, lifecycle events disabled", "err", err)
		} else {
			publisher = kp
		}
	}

	writer, err := history.NewWriter(histRepo, publisher, history.WriterConfig{
		PoolSize:      cfg.History.PoolSize,
		Backlog:       cfg.History.Backlog,
		RetryAttempts: cfg.History.RetryAttempts,
		WriteTimeout:  cfg.History.WriteTimeout,
	}, log)
	if err != nil {
		log.Error("history writer init failed", "err", err)
		os.Exit(1)
	}

	carrier := telephony.NewTwilioClient(telephony.TwilioConfig{
		AccountSID:    cfg.Twilio.AccountSID,
		AuthToken:     cfg.Twilio.AuthToken,
		APIBaseURL:    cfg.Twilio.APIBaseURL,
		PublicBaseURL: cfg.App.PublicBaseURL,
		Timeout:       cfg.Twilio.Timeout,
	}, log)

	sched := calls.NewScheduler()
	coord := calls.NewCoordinator(store, carrier, dir, writer, sched, calls.Options{
		CleanupGrace: cfg.Calls.CleanupGrace,
		CallerID:     cfg.Twilio.CallerID,
	}, log)
	responder := telephony.NewResponder(coord, telephony.ResponderConfig{
		PollPause:     cfg.Calls.PollPause,
		MaxRingWait:   cfg.Calls.MaxRingWait,
		DialTimeout:   cfg.Calls.DialTimeout,
		ForwardNumber: cfg.Calls.ForwardNumber,
		PublicBaseURL: cfg.App.PublicBaseURL,
		Voice:         cfg.Calls.Voice,
	})

	limiter := httpapi.NewUserRateLimiter(httpapi.RateLimiterConfig{
		Rate:  rate.Limit(cfg.RateLimit.RPS),
		Burst: cfg.RateLimit.Burst,
	})
	go limiter.Run(logger.With(rootCtx, log), 5*time.Minute)

	deps := routeDeps{
		AuthMW:  auth.RequireAccessToken(authManager),
		Limiter: limiter,
		API: httpapi.Handlers{
			Auth:       authManager,
			Calls:      coord,
			History:    writer,
			Reporting:  reporting.NewService(store),
			AllowLogin: cfg.App.Env == "local" || cfg.App.Env == "dev",
		},
		Webhooks: telephony.WebhookHandler{Responder: responder},
		Health: func(ctx context.Context) (gin.H, error) {
			body := gin.H{
				"call_store": store.Backend(),
				"carrier":    carrier.Name(),
				"breaker":    carrier.BreakerState(),
			}
			if rdb != nil {
				if err := rdb.Ping(ctx).Err(); err != nil {
					return body, err
				}
			}
			if db != nil {
				if err := utils.HealthCheck(ctx, db, time.Second); err != nil {
					return body, err
				}
			}
			return body, nil
		},
	}
	if cfg.Twilio.ValidateSignature {
		deps.SignatureMW = telephony.RequireSignature(cfg.Twilio.AuthToken, cfg.App.PublicBaseURL)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/healthz", "/metrics"))
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	sched.Stop()
	if err := writer.Close(shutdownCtx); err != nil {
		log.Error("history drain failed", "err", err)
	}
	if err := publisher.Close(); err != nil {
		log.Error("event publisher close failed", "err", err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Info("shutdown complete")
}
