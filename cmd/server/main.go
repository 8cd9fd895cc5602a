package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"api-farm/internal/config"
	"api-farm/internal/handler"
	"api-farm/internal/keypool"
	"api-farm/internal/middleware"
	"api-farm/internal/proxy"
	"api-farm/internal/queue"
	"api-farm/internal/router"
	queue_publisher "api-farm/internal/service"
	"api-farm/internal/session"
	"api-farm/internal/store"
)

func main() {
	_ = godotenv.Load() // optional .env for local runs
	cfg := config.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	var (
		st  store.Store
		err error
	)
	switch cfg.StoreDriver {
	case "mysql":
		st, err = store.OpenMySQL(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	default:
		st, err = store.NewFileStore(cfg.DataDir)
	}
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	// A store that exists but cannot be read means partial state; refuse
	// to serve rather than silently start empty.
	state, err := st.Load()
	if err != nil {
		log.Fatalf("load state: %v", err)
	}

	sessions := session.New(st, state, cfg.BcryptCost, cfg.SessionTTL)
	pool := keypool.New(st, state.Credentials, keypool.Config{
		DefaultEndpoint:  cfg.DefaultUpstream,
		FailureThreshold: cfg.FailureThreshold,
		CooldownBase:     cfg.CooldownBase,
		CooldownMax:      cfg.CooldownMax,
	})
	chatRouter := proxy.New(pool, cfg.UpstreamTimeout)

	rdb := config.NewRedisClient()
	if rdb == nil {
		slog.Info("redis unavailable, rate limiting disabled")
	}
	rateLimit := middleware.RateLimit(config.LoadRateLimitConfig(), rdb)

	if cfg.AuditConsumerEnabled {
		if url := queue_publisher.BrokerURL(); url != "" {
			go queue.StartKeyEventConsumer(url)
		} else {
			slog.Warn("audit consumer enabled but no broker configured")
		}
	}

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e, handler.NewAuthHandler(sessions), handler.NewKeyHandler(pool),
		handler.NewChatHandler(chatRouter), sessions, rateLimit)

	addr := ":" + cfg.Port
	slog.Info("listening", "addr", addr, "env", cfg.Env, "store", cfg.StoreDriver,
		"users", len(state.Users), "credentials", len(state.Credentials))
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
