package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"

	"genflow/internal/api"
	"genflow/internal/config"
	"genflow/internal/core"
	"genflow/internal/logging"
	genflowmcp "genflow/internal/mcp"
	"genflow/internal/notify"
	"genflow/internal/store"
	"genflow/internal/store/memory"
)

func main() {
	if err := Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// Run wires every component and blocks until a signal arrives or one of the actors fails.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Parse(args)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	// stdout carries the MCP protocol in stdio mode.
	logOut := stdout
	if cfg.Mode != config.ModeHTTP {
		logOut = stderr
	}
	logger := logging.New(logOut, cfg.Log.Level, cfg.Log.Format)

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := notify.NewHub(0, logger)
	defer hub.Close()

	svc, err := core.NewService(core.ServiceConfig{Store: st, Publisher: hub, Logger: logger})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	processor, err := core.NewProcessor(core.ProcessorConfig{
		Store:           st,
		Publisher:       hub,
		Logger:          logger,
		SideEffectTypes: cfg.Poller.SideEffectTypes,
	})
	if err != nil {
		return fmt.Errorf("create processor: %w", err)
	}
	scheduler, err := core.NewScheduler(core.SchedulerConfig{
		Store:              st,
		Processor:          processor,
		Publisher:          hub,
		Logger:             logger,
		CompletionInterval: cfg.Poller.CompletionInterval,
		StatusInterval:     cfg.Poller.StatusInterval,
	})
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	mcpServer := genflowmcp.NewMCPServer(svc, logger)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				logger.Info("termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Pollers.
	{
		pollCtx, pollCancel := context.WithCancel(ctx)
		defer pollCancel()

		g.Add(
			func() error {
				if err := scheduler.Start(pollCtx); err != nil {
					return fmt.Errorf("start scheduler: %w", err)
				}
				<-pollCtx.Done()
				return nil
			},
			func(_ error) {
				pollCancel()
				select {
				case <-scheduler.Stop().Done():
				case <-time.After(cfg.ShutdownGrace):
					logger.Warn("scheduler stop timed out")
				}
				svc.Wait()
			},
		)
	}

	// Push notifications.
	var notifiers []notify.Notifier
	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			return fmt.Errorf("create bark notifier: %w", err)
		}
		notifiers = append(notifiers, bark)
	}
	if len(notifiers) > 0 {
		forwarder := notify.NewForwarder(hub, notify.NewMultiNotifier(notifiers...), logger)
		fwdCtx, fwdCancel := context.WithCancel(ctx)
		defer fwdCancel()

		g.Add(
			func() error { return forwarder.Run(fwdCtx) },
			func(_ error) { fwdCancel() },
		)
	}

	// HTTP API.
	if cfg.Mode == config.ModeHTTP || cfg.Mode == config.ModeBoth {
		server, err := api.NewServer(api.ServerConfig{
			Addr:      cfg.Server.Addr,
			AuthToken: cfg.Server.AuthToken,
			Service:   svc,
			Hub:       hub,
			MCP:       mcpServer.HTTPHandler(),
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("create server: %w", err)
		}

		g.Add(
			func() error {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			},
			func(_ error) {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
				defer cancel()
				// Event streams only end when their subscription closes.
				hub.Close()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("server shutdown", "err", err)
				}
			},
		)
	}

	// MCP on stdio.
	if cfg.Mode == config.ModeMCP || cfg.Mode == config.ModeBoth {
		mcpCtx, mcpCancel := context.WithCancel(ctx)
		defer mcpCancel()

		g.Add(
			func() error {
				if err := mcpServer.ServeStdio(mcpCtx); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("mcp server: %w", err)
				}
				return nil
			},
			func(_ error) {
				mcpCancel()
			},
		)
	}

	logger.Info("genflow started", "mode", cfg.Mode, "store", cfg.Store, "addr", cfg.Server.Addr)
	err = g.Run()
	logger.Info("shutdown complete")
	return err
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(logger), func() {}, nil
	default:
		st, err := store.Open(ctx, cfg.StateDir, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open store: %w", err)
		}
		return st, func() {
			if err := st.Close(); err != nil {
				logger.Error("close store", "err", err)
			}
		}, nil
	}
}
