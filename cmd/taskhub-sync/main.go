package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/yaxxsin/taskhub/internal/collab"
	"github.com/yaxxsin/taskhub/internal/taskhub"
)

func main() {
	baseURL := flag.String("base-url", envOrDefault("TASKHUB_BASE_URL", "http://127.0.0.1:8080"), "owner base URL")
	channelURL := flag.String("channel-url", strings.TrimSpace(os.Getenv("TASKHUB_CHANNEL_URL")), "owner websocket channel URL (defaults to base-url /v1/channel)")
	token := flag.String("token", strings.TrimSpace(os.Getenv("TASKHUB_TOKEN")), "bearer token")
	userID := flag.String("user", strings.TrimSpace(os.Getenv("TASKHUB_USER_ID")), "local user ID")
	stateDSN := flag.String("state-dsn", envOrDefault("TASKHUB_STATE_DSN", "file://taskhub-sync-state.json"), "local state backend DSN")
	interval := flag.Duration("interval", durationEnv("TASKHUB_SYNC_INTERVAL", 30*time.Second), "shared pull interval")
	intervalJitter := flag.Float64("interval-jitter", floatEnv("TASKHUB_SYNC_INTERVAL_JITTER", 0.2), "pull interval jitter ratio (0.0-1.0)")
	timeout := flag.Duration("timeout", durationEnv("TASKHUB_SYNC_TIMEOUT", 15*time.Second), "per-pull timeout")
	maxReconnects := flag.Int("max-reconnects", intEnv("TASKHUB_MAX_RECONNECTS", 5), "live channel reconnect attempts")
	backoff := flag.Duration("backoff", durationEnv("TASKHUB_RECONNECT_BACKOFF", 3*time.Second), "live channel reconnect backoff")
	once := flag.Bool("once", false, "run one pull cycle and exit")
	flag.Parse()

	if strings.TrimSpace(*token) == "" {
		log.Fatalf("token is required (--token or TASKHUB_TOKEN)")
	}
	if strings.TrimSpace(*userID) == "" {
		log.Fatalf("user is required (--user or TASKHUB_USER_ID)")
	}
	if *interval <= 0 {
		*interval = 30 * time.Second
	}
	if *timeout <= 0 {
		*timeout = 15 * time.Second
	}
	*intervalJitter = clampJitterRatio(*intervalJitter)

	stateBackend, err := taskhub.BuildStateBackendFromDSN(*stateDSN)
	if err != nil {
		log.Fatalf("failed to initialize state backend: %v", err)
	}

	client := collab.NewOwnerClient(*baseURL, *token, &http.Client{Timeout: *timeout})
	store := taskhub.NewStoreWithOptions(taskhub.StoreOptions{
		StateBackend: stateBackend,
		Propagator:   client,
		CurrentUser:  taskhub.User{ID: strings.TrimSpace(*userID)},
	})
	defer store.Close()

	syncer, err := collab.NewSyncer(client, store, collab.SyncerOptions{
		Interval: *interval,
		Logger:   log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize syncer: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := func() {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		if err := syncer.SyncOnce(ctx); err != nil {
			log.Printf("shared pull cycle failed: %v", err)
			return
		}
		log.Printf("shared pull cycle completed")
	}

	run()
	if *once {
		return
	}

	wsURL := strings.TrimSpace(*channelURL)
	if wsURL == "" {
		wsURL = strings.TrimRight(*baseURL, "/") + "/v1/channel"
	}
	channel := collab.NewChannel(store, collab.ChannelOptions{
		URL:         wsURL,
		Token:       *token,
		UserID:      strings.TrimSpace(*userID),
		MaxAttempts: *maxReconnects,
		Backoff:     *backoff,
	})
	store.SetBroadcaster(channel)
	go func() {
		if err := channel.Run(rootCtx); err != nil && rootCtx.Err() == nil {
			log.Printf("live channel stopped: %v", err)
		}
	}()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-rootCtx.Done():
			log.Printf("shared sync stopping: %v", rootCtx.Err())
			return
		case <-timer.C:
			run()
			timer.Reset(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
		}
	}
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

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
