// Command dessin-watch watches a directory and submits every drawing
// dropped into it for review.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/api"
	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/config"
	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/upload"
)

func main() {
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("DESSIN_CONFIG")), "configuration file path")
	baseURL := flag.String("base-url", strings.TrimSpace(os.Getenv("DESSIN_BASE_URL")), "review API base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("DESSIN_TOKEN")), "bearer token")
	dir := flag.String("dir", strings.TrimSpace(os.Getenv("DESSIN_WATCH_DIR")), "directory to watch for drawings")
	settle := flag.Duration("settle", durationEnv("DESSIN_WATCH_SETTLE", 0), "quiet period before a file is submitted")
	interval := flag.Duration("interval", durationEnv("DESSIN_WATCH_INTERVAL", 0), "minimum interval between automatic submissions")
	burst := flag.Int("burst", intEnv("DESSIN_WATCH_BURST", 0), "initial submission burst allowance")
	level := flag.String("log-level", envOrDefault("DESSIN_LOG_LEVEL", ""), "log level (debug, info, warn, error)")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(err)
	}
	if *baseURL != "" {
		cfg.API.BaseURL = *baseURL
	}
	if *token != "" {
		cfg.API.Token = *token
	}
	if *dir != "" {
		cfg.Watch.Dir = *dir
	}
	logLevel := *level
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	if parsed, err := log.ParseLevel(logLevel); err == nil {
		logger.SetLevel(parsed)
	}

	bearer, err := cfg.BearerToken()
	if err != nil {
		logger.Fatal("token is required (--token, DESSIN_TOKEN or config)", "err", err)
	}
	if strings.TrimSpace(cfg.Watch.Dir) == "" {
		logger.Fatal("watch directory is required (--dir, DESSIN_WATCH_DIR or config)")
	}

	client := api.NewClient(api.ClientOptions{
		BaseURL:       cfg.API.BaseURL,
		TokenProvider: api.StaticToken(bearer),
		UserAgent:     cfg.API.UserAgent,
	})
	pipeline := upload.NewPipeline(client, logger)

	opts := upload.WatcherOptions{
		Dir:            cfg.Watch.Dir,
		SettleDelay:    cfg.Watch.SettleDelay.Std(),
		SubmitInterval: cfg.Watch.SubmitInterval.Std(),
		Burst:          cfg.Watch.Burst,
		Logger:         logger,
	}
	if *settle > 0 {
		opts.SettleDelay = *settle
	}
	if *interval > 0 {
		opts.SubmitInterval = *interval
	}
	if *burst > 0 {
		opts.Burst = *burst
	}

	watcher, err := upload.NewWatcher(pipeline, opts)
	if err != nil {
		logger.Fatal("failed to initialize watcher", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("watcher stopped", "err", err)
	}
	logger.Info("watcher stopped")
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
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
		return fallback
	}
	return value
}
