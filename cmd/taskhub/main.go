package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/yaxxsin/taskhub/internal/config"
	"github.com/yaxxsin/taskhub/internal/httpapi"
	"github.com/yaxxsin/taskhub/internal/taskhub"
)

func main() {
	configPath := flag.String("config", envOrDefault("TASKHUB_CONFIG", ""), "path to yaml config file")
	flag.Parse()

	cfg := config.Default()
	if strings.TrimSpace(*configPath) != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}
	applyEnvOverrides(&cfg)

	stateBackend, outbox, err := buildStorageBackends(cfg)
	if err != nil {
		log.Fatalf("failed to initialize storage backends: %v", err)
	}

	store := taskhub.NewStoreWithOptions(taskhub.StoreOptions{
		StateBackend:    stateBackend,
		Outbox:          outbox,
		OutboxSize:      intEnv("TASKHUB_OUTBOX_SIZE", 0),
		OutboxWorkers:   intEnv("TASKHUB_OUTBOX_WORKERS", 0),
		DispatchTimeout: durationEnv("TASKHUB_DISPATCH_TIMEOUT", 0),
		AI:              cfg.AI.AIConfig(),
		CurrentUser:     taskhub.User{ID: cfg.UserID, Name: cfg.UserName},
		DueScanInterval: durationEnv("TASKHUB_DUE_SCAN_INTERVAL", 0),
	})
	defer store.Close()

	server := httpapi.NewServerWithConfig(store, httpapi.ServerConfig{
		JWTSecret:       cfg.JWTSecret,
		RateLimitMax:    intEnv("TASKHUB_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("TASKHUB_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:    int64Env("TASKHUB_MAX_BODY_BYTES", 0),
	})
	store.SetBroadcaster(server.LiveHub())

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(*configPath) != "" {
		err := config.Watch(rootCtx, *configPath, func(next config.Config) {
			store.SetAIConfig(next.AI.AIConfig())
			log.Printf("taskhub: ai config reloaded (provider=%s model=%s)", next.AI.Provider, next.AI.Model)
		})
		if err != nil {
			log.Printf("taskhub: config watch disabled: %v", err)
		}
	}

	httpServer := &http.Server{Addr: cfg.Listen, Handler: server}
	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("taskhub listening on %s", cfg.Listen)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
}

func applyEnvOverrides(cfg *config.Config) {
	if addr := strings.TrimSpace(os.Getenv("TASKHUB_ADDR")); addr != "" {
		cfg.Listen = addr
	}
	if dsn := strings.TrimSpace(os.Getenv("TASKHUB_STATE_DSN")); dsn != "" {
		cfg.StateDSN = dsn
	}
	if dsn := strings.TrimSpace(os.Getenv("TASKHUB_OUTBOX_DSN")); dsn != "" {
		cfg.OutboxDSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv("TASKHUB_JWT_SECRET")); secret != "" {
		cfg.JWTSecret = secret
	}
	if userID := strings.TrimSpace(os.Getenv("TASKHUB_USER_ID")); userID != "" {
		cfg.UserID = userID
	}
}

func buildStorageBackends(cfg config.Config) (taskhub.StateBackend, taskhub.OutboxQueue, error) {
	var stateBackend taskhub.StateBackend
	var outbox taskhub.OutboxQueue
	var err error
	if strings.TrimSpace(cfg.StateDSN) != "" {
		stateBackend, err = taskhub.BuildStateBackendFromDSN(cfg.StateDSN)
		if err != nil {
			return nil, nil, err
		}
	}
	if strings.TrimSpace(cfg.OutboxDSN) != "" {
		outbox, err = taskhub.BuildOutboxQueueFromDSN(cfg.OutboxDSN, intEnv("TASKHUB_OUTBOX_SIZE", 0))
		if err != nil {
			return nil, nil, err
		}
	}
	return stateBackend, outbox, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
