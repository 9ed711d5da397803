// Package main is the entry point for the WhatsApp session manager.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/bridge"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/config"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/session"
	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "whatsapp-session",
		Short:         "Serialized session manager around the WhatsApp bridge CLI",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	config.RegisterFlags(root.PersistentFlags())

	open := func(cmd *cobra.Command) (*runtime, error) {
		return newRuntime(configPath, cmd)
	}

	root.AddCommand(newServeCmd(open))
	root.AddCommand(newStatusCmd(open))
	root.AddCommand(newPairCmd(open))
	root.AddCommand(newLogoutCmd(open))
	root.AddCommand(newChatsCmd(open))
	root.AddCommand(newSendCmd(open))

	return root
}

// runtime is everything a command needs, built from config.
type runtime struct {
	cfg     *config.Config
	log     *slog.Logger
	history *store.SQLiteStore
	session *session.Manager
}

type opener func(cmd *cobra.Command) (*runtime, error)

func newRuntime(configPath string, cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.LoadConfig(configPath, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.CacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	rt := &runtime{cfg: cfg, log: logger}
	if cfg.HistoryPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.HistoryPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		rt.history, err = store.NewSQLiteStore(cfg.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
	}

	launcher := bridge.NewExecLauncher(cfg.BridgeCommand, logger)
	client := bridge.NewClient(launcher, cfg.CacheDir, logger)
	rt.session = session.New(cfg, client, rt.history)

	logger.Debug("session manager ready",
		"bridge_command", cfg.BridgeCommand,
		"cache_dir", cfg.CacheDir,
		"history_path", cfg.HistoryPath,
	)
	return rt, nil
}

func (rt *runtime) Close() {
	rt.session.Close()
	if rt.history != nil {
		if err := rt.history.Close(); err != nil {
			rt.log.Warn("failed to close history store", "error", err)
		}
	}
}

func setupLogger(cfg *config.Config, w io.Writer) *slog.Logger {
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

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
