package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/curatedhealth/missionengine/internal/config"
	"github.com/curatedhealth/missionengine/internal/logging"
	transport "github.com/curatedhealth/missionengine/internal/transport/http"
)

func newServeCmd() *cobra.Command {
	var httpPort, internalPort int
	var expertsFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its external and internal APIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cmd.Flags().Changed("port") {
				cfg.HTTPPort = httpPort
			}
			if cmd.Flags().Changed("internal-port") {
				cfg.InternalPort = internalPort
			}
			if expertsFile != "" {
				cfg.ExpertsFile = expertsFile
			}
			return serve(cfg)
		},
	}
	cmd.Flags().IntVar(&httpPort, "port", 0, "external API port (overrides HTTP_PORT)")
	cmd.Flags().IntVar(&internalPort, "internal-port", 0, "internal API port (overrides INTERNAL_PORT)")
	cmd.Flags().StringVar(&expertsFile, "experts", "", "experts file (overrides EXPERTS_FILE)")
	return cmd
}

func serve(cfg *config.Config) error {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger.Info("starting mission engine",
		"http_port", cfg.HTTPPort,
		"internal_port", cfg.InternalPort,
		"store", cfg.StoreBackend,
		"experts_file", cfg.ExpertsFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("experts registered", "experts", a.experts.Refs())

	externalServer := transport.NewExternalServer(a.service)
	internalServer := transport.NewInternalServer(a.service)

	errCh := make(chan error, 2)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := externalServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("external server: %w", err)
		}
	}()
	go func() {
		addr := fmt.Sprintf(":%d", cfg.InternalPort)
		if err := internalServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("internal server: %w", err)
		}
	}()

	go a.service.RunStaleCheckpointMonitor(ctx)

	resumed, err := a.service.ResumeActive(ctx)
	if err != nil {
		logger.Error("failed to resume missions", "error", err)
	} else if resumed > 0 {
		logger.Info("resumed running missions", "count", resumed)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down mission engine")
	case runErr = <-errCh:
		logger.Error("server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Shutdown(shutdownCtx, externalServer, internalServer)

	logger.Info("mission engine stopped")
	return runErr
}
