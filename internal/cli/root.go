package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/resilink/internal/channel"
	"github.com/vietddude/resilink/internal/control"
	"github.com/vietddude/resilink/internal/core/config"
	"github.com/vietddude/resilink/internal/infra/rest"
	"github.com/vietddude/resilink/internal/retry"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "resilink",
	Short: "Resilient client network layer",
	Long:  `Resilink keeps a realtime channel alive, retries API calls and replays requests queued while offline.`,
	Run:   runClient,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the client until interrupted",
	Run:   runClient,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}

// loadConfig reads .env and the config file, falling back to a plain logger on error.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)
	return cfg
}

func setupLogging(cfg config.LoggingConfig) {
	level := parseLevel(cfg.Level)
	if isDebug {
		level = slog.LevelDebug
	}

	if strings.EqualFold(cfg.Format, "json") {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return
	}
	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// controlConfig transforms the file config into the client config.
func controlConfig(cfg *config.AppConfig) control.Config {
	return control.Config{
		Channel: channel.Config{
			URL:               cfg.Channel.URL,
			HeartbeatInterval: cfg.Channel.HeartbeatInterval,
			HeartbeatTimeout:  cfg.Channel.HeartbeatTimeout,
			DialTimeout:       cfg.Channel.DialTimeout,
			Reconnect:         cfg.Channel.Reconnect.Apply(retry.ReconnectSpec),
		},
		WebSocket: cfg.Channel.WebSocket,
		API: rest.Config{
			BaseURL: cfg.API.BaseURL,
			Timeout: cfg.API.Timeout,
			Headers: cfg.API.Headers,
			Breaker: cfg.API.Breaker.Breaker(),
		},
		Specs:        cfg.Retry.Specs(),
		Queue:        cfg.Queue,
		Connectivity: cfg.Connectivity,
		Storage:      cfg.Storage,
		HealthPort:   cfg.Server.Port,
		GRPCPort:     cfg.Server.GRPCPort,
		Tokens:       channel.StaticToken(cfg.Channel.Token),
	}
}

func runClient(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	app, err := control.NewClient(controlConfig(cfg))
	if err != nil {
		slog.Error("Failed to initialize client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start client", "error", err)
		os.Exit(1)
	}

	slog.Info("Client started", "config", cfgPath, "channel", cfg.Channel.URL, "storage", cfg.Storage.Driver)

	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("Client stopped gracefully")
}
