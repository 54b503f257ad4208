package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"todo-agent/api"
	"todo-agent/chat"
	"todo-agent/config"
	"todo-agent/events"
	"todo-agent/realtime"
	"todo-agent/storage"
	"todo-agent/tasks"
)

const (
	eventJobTimeout = 10 * time.Second
	eventHandoff    = 50 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

// store is satisfied by both storage.Postgres and storage.Memory.
type store interface {
	tasks.Store
	tasks.RecurrenceStore
	chat.ConversationStore
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.DefaultRegisterer

	db, closeDB, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer closeDB()

	var rc *redis.Client
	if cfg.RedisConn != "" {
		rc = redis.NewClient(config.RedisOptions(cfg.RedisConn))
		defer rc.Close()
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set; cache, deduper and cross-instance sync disabled")
	}

	auth, err := newAuth(cfg)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	hub := realtime.NewHub(logger, reg)
	notifier := realtime.NewNotifier(hub, rc, realtime.DefaultChannel, logger)
	if rc != nil {
		go realtime.NewRelay(hub, rc, realtime.DefaultChannel, logger).Run(ctx)
	}

	sinks := tasks.Sinks{notifier}
	var activity api.ActivityReader
	var pool *events.Pool
	if cfg.StorageConn != "" {
		publisher, activityLog, p, err := startEvents(ctx, cfg, logger, reg)
		if err != nil {
			logger.Fatalf("events: %v", err)
		}
		sinks = append(sinks, publisher)
		activity = activityLog
		pool = p
	} else {
		logger.Info("STORAGE_CONNECTION_STRING not set; event pipeline disabled")
	}

	var taskStore tasks.Store = db
	var dedup api.Deduper
	if rc != nil {
		taskStore = storage.NewCache(db, rc, cfg.CacheTTL)
		dedup = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}
	svc := tasks.NewService(taskStore, sinks, logger,
		tasks.WithRecurrences(db),
		tasks.WithNotifier(notifier))

	if cfg.OpenAIKey == "" {
		logger.Warn("OPENAI_API_KEY not set; chat replies will fall back")
	}
	model := chat.NewOpenAIModel(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.ModelTimeout)
	conversations := chat.NewConversations(db)
	agent := chat.NewAgent(conversations, chat.NewDispatcher(svc, logger, reg), model, logger, reg)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Decompress())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem: "todo_agent",
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/ws/sync"
		},
	}))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, api.Deps{
		Tasks:         svc,
		Tags:          svc,
		Recurrences:   svc,
		Agent:         agent,
		Conversations: conversations,
		Activity:      activity,
		Health:        db,
		Auth:          auth,
		Deduper:       dedup,
		Limiter:       api.NewLimiter(cfg.ChatRatePerMinute),
		Sync:          realtime.NewHandler(hub, auth, logger, realtime.WithAllowedOrigins(cfg.CORSOrigins)),
		Log:           logger,
	})

	go func() {
		logger.Infof("listening on %s", cfg.ListenAddr)
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	if pool != nil {
		pool.Close()
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory store")
		return storage.NewMemory(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg := storage.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool.Close, nil
}

func newAuth(cfg config.Config) (*api.Auth, error) {
	if cfg.AuthSecret != "" {
		return api.NewAuth(nil, cfg.AuthAudience, "", []byte(cfg.AuthSecret)), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.AuthDomain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.AuthAudience, "https://"+cfg.AuthDomain+"/", nil), nil
}

func startEvents(ctx context.Context, cfg config.Config, logger *log.Logger, reg prometheus.Registerer) (*events.Publisher, *events.ActivityLog, *events.Pool, error) {
	if err := events.Provision(ctx, cfg.StorageConn, []string{cfg.ActivityTable}, []string{cfg.TaskEventsQueue}); err != nil {
		return nil, nil, nil, fmt.Errorf("provision: %w", err)
	}
	queue, err := events.NewQueueClient(cfg.StorageConn, cfg.TaskEventsQueue)
	if err != nil {
		return nil, nil, nil, err
	}
	table, err := events.NewTableClient(cfg.StorageConn, cfg.ActivityTable)
	if err != nil {
		return nil, nil, nil, err
	}

	pool := events.NewPool(cfg.EventWorkers, cfg.EventBuffer, eventJobTimeout, eventHandoff, logger)
	activity := events.NewActivityLog(table)
	go events.NewProjector(queue, activity, logger, reg).Run(ctx)
	return events.NewPublisher(queue, pool, logger, reg), activity, pool, nil
}
