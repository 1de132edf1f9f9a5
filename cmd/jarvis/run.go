package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/jarvis/internal/app"
	"github.com/MrWong99/jarvis/internal/config"
)

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

func newRunCmd(flags *globalFlags) *cobra.Command {
	var connect bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the assistant daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), flags.configPath, connect)
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "open a session as soon as the daemon starts")
	return cmd
}

// runDaemon loads the config, starts the app and blocks until SIGINT or
// SIGTERM, then shuts down gracefully.
func runDaemon(parent context.Context, configPath string, connect bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Configuration ─────────────────────────────────────────────────────────
	var (
		cfg     *config.Config
		watcher *config.Watcher
		onEdit  atomic.Pointer[func(old, new *config.Config)]
	)
	if configPath == "" {
		c, err := config.Load("")
		if err != nil {
			return err
		}
		cfg = c
	} else {
		w, err := config.NewWatcher(configPath, func(old, new *config.Config) {
			if fn := onEdit.Load(); fn != nil {
				(*fn)(old, new)
			}
		})
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("config file %q not found", configPath)
			}
			return err
		}
		defer w.Stop()
		watcher = w
		cfg = w.Current()
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	logger := newLogger(levelVar, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("jarvis starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg,
		app.WithLevelVar(levelVar),
		app.WithAutoConnect(connect),
		app.WithVersion(version),
		app.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if watcher != nil {
		apply := application.ApplyConfig
		onEdit.Store(&apply)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// printStartupSummary prints a human-readable overview of the configuration.
// Credentials are never printed.
func printStartupSummary(cfg *config.Config) {
	search := "on"
	if !cfg.Gemini.SearchEnabled() {
		search = "off"
	}
	persona := "built-in"
	if cfg.Assistant.PersonaFile != "" {
		persona = cfg.Assistant.PersonaFile
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                JARVIS, startup summary                    ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	printRow("Model", cfg.Gemini.Model)
	printRow("Voice", cfg.Gemini.Voice)
	printRow("Search", search)
	printRow("Persona", persona)
	printRow("Input device", deviceName(cfg.Audio.InputDevice))
	printRow("Output device", deviceName(cfg.Audio.OutputDevice))
	printRow("Telegram chat", cfg.Telegram.ChatID)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 38 {
		value = value[:35] + "..."
	}
	fmt.Printf("║  %-15s : %-38s ║\n", key, value)
}

func deviceName(name string) string {
	if name == "" {
		return "(system default)"
	}
	return name
}
