// Command rebalancer is the entry point for the yield rebalancer. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and starts the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alanyoungcy/yieldrebalancer/internal/app"
	"github.com/alanyoungcy/yieldrebalancer/internal/config"
	"github.com/alanyoungcy/yieldrebalancer/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptKey := flag.Bool("encrypt-key", false, "seal REBALANCER_PRIVATE_KEY with REBALANCER_CUSTODY_KEY_PASSWORD into <key-dir>/<key-id>.json and exit")
	keyID := flag.String("key-id", "", "key id for -encrypt-key")
	keyDir := flag.String("key-dir", "keys", "output directory for -encrypt-key")
	flag.Parse()

	if *encryptKey {
		if err := sealKey(*keyDir, *keyID); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("rebalancer starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("active configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("rebalancer stopped")
}

// sealKey writes an encrypted key file readable by the local custody
// backend. Secrets come from the environment so they stay out of shell
// history.
func sealKey(dir, id string) error {
	if id == "" {
		return errors.New("-key-id is required")
	}
	key := os.Getenv("REBALANCER_PRIVATE_KEY")
	password := os.Getenv("REBALANCER_CUSTODY_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("REBALANCER_PRIVATE_KEY and REBALANCER_CUSTODY_KEY_PASSWORD must be set")
	}
	data, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	path := filepath.Join(dir, id+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
