package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/autoedit/autoedit-agent/internal/api"
	"github.com/autoedit/autoedit-agent/internal/batch"
	"github.com/autoedit/autoedit-agent/internal/config"
	"github.com/autoedit/autoedit-agent/internal/db"
	"github.com/autoedit/autoedit-agent/internal/logging"
	"github.com/autoedit/autoedit-agent/internal/outputs"
	"github.com/autoedit/autoedit-agent/internal/pipelines"
	"github.com/autoedit/autoedit-agent/internal/ui"
	"github.com/autoedit/autoedit-agent/internal/watcher"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent: HTTP API, batch queue, inbox watcher and tray",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
}

func runServe(parent context.Context, cc *commandContext) error {
	startTime := time.Now()

	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("another autoedit agent is already running")
	}
	defer lock.Unlock()

	logger := cc.logger()
	logger.Info("starting autoedit agent",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"output_dir", logging.SanitizePath(cfg.OutputDir()),
	)
	if f := cfg.ConfigFile(); f != "" {
		logger.Info("config file loaded", "path", logging.SanitizePath(f))
	}

	database, err := db.New(cfg.DBPath(), logging.WithComponent(logger, "db"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := batch.NewRepository(database.Conn())

	toolRunner := newToolRunner(cfg, logger)
	doctor := pipelines.NewCachedDoctor(toolRunner, logging.WithComponent(logger, "doctor"))

	initCtx, initCancel := context.WithTimeout(parent, cfg.ProbeTimeout())
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("auto-editor not available, runs will fail until it is installed", "error", err)
	} else {
		logger.Info("auto-editor detected", "version", caps.ToolVersion, "launcher", caps.Launcher)
	}
	initCancel()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var tray *ui.Tray
	notifiers := batch.Notifiers{batch.LogNotifier{Logger: logging.WithComponent(logger, "progress")}}
	quitCh := make(chan struct{})
	if !cfg.Headless() {
		tray = ui.NewTray(ui.TrayConfig{
			OutputDir: cfg.OutputDir(),
			Logger:    logging.WithComponent(logger, "tray"),
			OnQuit: func() {
				close(quitCh)
			},
		})
		notifiers = append(notifiers, tray)
	}

	orch := newOrchestrator(toolRunner, cfg.OutputDir(), nil, logger)
	queue := batch.NewQueue(repo, orch, notifiers, logging.WithComponent(logger, "queue"))
	svc := batch.NewService(repo, cfg.OutputDir(), cfg.ImportDir(), logging.WithComponent(logger, "batches"))
	svc.OnSubmit(queue.Wake)
	queueDone := make(chan struct{})
	go func() {
		queue.Start(ctx)
		close(queueDone)
	}()

	if dir := cfg.InboxDir(); dir != "" {
		w := watcher.NewInboxWatcher(watcher.DefaultSettle, batch.IsVideoFile, logging.WithComponent(logger, "watcher"))
		w.OnChange(func(path string, event watcher.EventType) {
			if event != watcher.EventCreate {
				return
			}
			b, err := svc.Submit(ctx, batch.SubmitRequest{
				Files:  []string{path},
				Params: cfg.EditDefaults(),
				Source: batch.SourceWatcher,
			})
			if err != nil {
				logger.Warn("inbox file rejected", "file", logging.SanitizePath(path), "error", err)
				return
			}
			logger.Info("inbox file queued", "file", logging.SanitizePath(path), "batch_id", b.ID)
		})
		go func() {
			if err := w.Watch(ctx, dir); err != nil {
				logger.Error("inbox watcher stopped", "error", err)
			}
		}()
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:         cfg.Port(),
		Service:      svc,
		Queue:        queue,
		Orchestrator: orch,
		Doctor:       doctor,
		Outputs:      outputs.NewServer(logger),
		Defaults:     cfg.EditDefaults(),
		Logger:       logging.WithComponent(logger, "api"),
		StartTime:    startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	fmt.Printf("\n  autoedit agent %s listening on http://%s\n  output: %s\n\n",
		config.Version, apiServer.Addr(), cfg.OutputDir())

	if tray != nil {
		// The tray is wired to the queue after construction so the queue
		// can hold it as a notifier.
		tray.SetQueue(queue)
		go tray.Run()
	} else {
		logger.Info("running in headless mode (no system tray)")
	}

	select {
	case <-parent.Done():
		logger.Info("received shutdown signal")
	case <-quitCh:
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	// Let a cancelled batch record its final state before the database closes.
	select {
	case <-queueDone:
	case <-shutdownCtx.Done():
		logger.Warn("batch queue did not stop in time")
	}

	logger.Info("shutdown complete")
	return nil
}
