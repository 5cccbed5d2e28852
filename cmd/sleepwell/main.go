package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/sleepwell/internal/backend"
	"github.com/conorfennell/sleepwell/internal/clock"
	"github.com/conorfennell/sleepwell/internal/config"
	"github.com/conorfennell/sleepwell/internal/memgame"
	"github.com/conorfennell/sleepwell/internal/reminder"
	"github.com/conorfennell/sleepwell/internal/storage"
	"github.com/conorfennell/sleepwell/internal/sync"
	"github.com/conorfennell/sleepwell/internal/web"
)

const shutdownTimeout = 5 * time.Second

func main() {
	fs := pflag.NewFlagSet("sleepwell", pflag.ExitOnError)
	config.Flags(fs)
	addSource := fs.String("add-source", "", "Register an item-set source (directory or git URL) and exit")
	syncOnly := fs.Bool("sync", false, "Sync all item-set sources and exit")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(newLogger(cfg.Log))

	db, err := storage.Open(cfg.DB)
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.DB, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Database opened successfully", "path", cfg.DB)

	syncOpts := sync.Options{ReposDir: cfg.Sources.ReposDir, Progress: os.Stdout}

	switch {
	case *addSource != "":
		id, err := sync.AddSource(db, *addSource)
		if err != nil {
			slog.Error("Failed to add source", "path", *addSource, "error", err)
			os.Exit(1)
		}
		slog.Info("Source registered", "id", id, "path", *addSource)
		return
	case *syncOnly:
		if err := sync.RunSync(context.Background(), db, syncOpts); err != nil {
			slog.Error("Sync failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, db, syncOpts); err != nil {
		slog.Error("Companion stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, db *storage.DB, syncOpts sync.Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tokens backend.TokenSource = backend.StaticToken(cfg.Backend.Token)
	if cfg.Backend.TokenFile != "" {
		tokens = backend.TokenFile(cfg.Backend.TokenFile)
	}
	client := backend.NewClient(backend.Options{
		BaseURL:       cfg.Backend.URL,
		Tokens:        tokens,
		Timeout:       cfg.Backend.Timeout,
		RatePerSecond: cfg.Backend.RatePerSecond,
	})

	deps := reminder.Deps{
		Clock:        clock.Real{},
		Remote:       client,
		Notifier:     client,
		Store:        db,
		Alerts:       reminder.LogAlerts{Logger: slog.Default()},
		PollInterval: cfg.Reminder.PollInterval,
	}
	if cfg.Reminder.Bell {
		deps.Sound = reminder.Bell{W: os.Stdout, Repeat: 3, Gap: 400 * time.Millisecond}
	}
	scheduler := reminder.NewScheduler(deps)
	if !cfg.Reminder.RequireInteraction {
		scheduler.MarkInteracted()
	}

	scheduler.Refresh(ctx)
	if scheduler.Snapshot().PreferredTime == nil && cfg.Reminder.PreferredTime != "" {
		t, err := reminder.ParseTimeOfDay(cfg.Reminder.PreferredTime)
		if err != nil {
			return err
		}
		if err := scheduler.SetPreferredTime(ctx, t); err != nil {
			slog.Warn("Failed to seed reminder time", "error", err)
		}
	}

	if cfg.Push.DeviceToken != "" {
		if err := client.StoreDeviceToken(ctx, cfg.Push.DeviceToken); err != nil {
			slog.Warn("Failed to register device for push", "error", err)
		}
	}

	engine := memgame.NewEngine(memgame.Deps{
		Clock:    clock.Real{},
		Quests:   client,
		Recorder: db,
		Cooldown: cfg.Game.Cooldown,
	})
	defer engine.Stop()
	if err := newGame(db, engine); err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: web.NewServer(web.Deps{
			DB:        db,
			Scheduler: scheduler,
			Engine:    engine,
			Sync:      syncOpts,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting server", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return scheduler.Run(ctx)
	})
	if cfg.Sources.Watch {
		g.Go(func() error {
			return sync.Watch(ctx, db, sync.DefaultDebounce, func() {
				// A finished or untouched game picks up the new items; a game in
				// progress is left alone.
				if st := engine.State(); st.Complete || st.Untouched {
					if err := newGame(db, engine); err != nil {
						slog.Warn("Failed to deal new game", "error", err)
					}
				}
			})
		})
	}

	err := g.Wait()
	slog.Info("Companion stopped")
	return err
}

func newGame(db *storage.DB, engine *memgame.Engine) error {
	items, err := sync.LoadItems(db)
	if err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}
	engine.NewGame(items)
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
