package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anime-shed/photo-flow-go/internal/config"
	"github.com/anime-shed/photo-flow-go/internal/container"
	"github.com/anime-shed/photo-flow-go/internal/logger"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server and the idle session janitor.

Configuration is read from the config file and the environment, e.g.
CLOUDINARY_CLOUD_NAME, CLOUDINARY_UPLOAD_PRESET, LOADING_DURATION, PORT.
Both stop on Ctrl+C or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	manager, err := config.NewManager(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := manager.Get()

	c, err := container.NewContainer(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer c.Close()

	manager.OnChange(func(updated *config.Config) {
		logger.SetLevel(updated.LogLevel)
		logger.WithField("log_level", updated.LogLevel).Info("Configuration reloaded")
	})
	manager.WatchConfig()

	server := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           c.Handler(),
		ReadHeaderTimeout: cfg.RequestTimeout,
		ReadTimeout:       cfg.RequestTimeout,
		// no WriteTimeout: event streams stay open; handlers bound their own work
	}
	// event streams only end with their session
	server.RegisterOnShutdown(c.CloseSessions)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"address":     cfg.ServerAddress(),
			"timeout":     cfg.RequestTimeout.String(),
			"config_file": manager.ConfigFile(),
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return c.RunJanitor(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server exited with error")
		return err
	}
	logger.Info("Server exited")
	return nil
}
