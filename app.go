package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/curatedhealth/missionengine/internal/adapter/agentclient"
	"github.com/curatedhealth/missionengine/internal/adapter/llm"
	"github.com/curatedhealth/missionengine/internal/adapter/pubsub"
	"github.com/curatedhealth/missionengine/internal/config"
	"github.com/curatedhealth/missionengine/internal/eventbus"
	"github.com/curatedhealth/missionengine/internal/expert"
	"github.com/curatedhealth/missionengine/internal/invoker"
	"github.com/curatedhealth/missionengine/internal/repository"
	"github.com/curatedhealth/missionengine/internal/service"
	"github.com/curatedhealth/missionengine/internal/strategy"
	"github.com/curatedhealth/missionengine/policy"
)

// app holds the wired engine.
type app struct {
	store   repository.Store
	bus     *eventbus.Bus
	service *service.Service
	experts *expert.Registry
}

// newApp wires store, bus, experts, strategies and service from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	busOpts := []eventbus.Option{
		eventbus.WithBufferSize(cfg.EventBufferSize),
		eventbus.WithLogger(logger),
	}
	if cfg.PubSubTopic != "" {
		sink, err := pubsub.NewSink(ctx, cfg.GCPProject, cfg.PubSubTopic)
		if err != nil {
			store.Close()
			return nil, err
		}
		busOpts = append(busOpts, eventbus.WithSink(sink))
		logger.Info("mirroring events to Pub/Sub", "project", cfg.GCPProject, "topic", cfg.PubSubTopic)
	}
	bus := eventbus.New(store, busOpts...)

	experts, err := newExpertRegistry(cfg, logger)
	if err != nil {
		bus.Close()
		store.Close()
		return nil, err
	}

	gate, err := policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	if err != nil {
		bus.Close()
		store.Close()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	strategies := strategy.Defaults(strategy.Config{
		Rounds:          cfg.AutonomousRounds,
		CheckpointEvery: cfg.CheckpointEvery,
		Synthesizer:     cfg.SynthesisExpert,
		Eligible:        experts.Has,
	}, strategy.FirstCandidateRanker{}, gate)

	inv := invoker.New(experts, cfg.CancelGrace, logger)
	svc := service.New(store, bus, strategies, inv, cfg, logger)

	return &app{store: store, bus: bus, service: svc, experts: experts}, nil
}

// Close releases the engine without any servers to drain.
func (a *app) Close() {
	a.Shutdown(context.Background())
}

// Shutdown stops runners, then the bus and its sinks so live streams end,
// then drains servers and finally closes the store.
func (a *app) Shutdown(ctx context.Context, servers ...*echo.Echo) {
	a.service.Close()
	if err := a.bus.Close(); err != nil {
		slog.Warn("failed to close event bus", "error", err)
	}
	for _, e := range servers {
		if err := e.Shutdown(ctx); err != nil {
			slog.Warn("failed to shutdown server gracefully", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("failed to close store", "error", err)
	}
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, error) {
	var (
		inner repository.Store
		err   error
	)
	switch cfg.StoreBackend {
	case "sqlite":
		inner, err = repository.NewSQLiteStore(cfg.DatabaseURL)
	case "firestore":
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("firestore backend requires GCP_PROJECT")
		}
		inner, err = repository.NewFirestoreStore(ctx, cfg.GCPProject)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", cfg.StoreBackend, err)
	}
	return repository.NewRetryStore(inner, repository.Backoff{
		Attempts:     cfg.PersistAttempts,
		InitialDelay: cfg.PersistBackoff,
		MaxDelay:     5 * time.Second,
	}, logger), nil
}

func newExpertRegistry(cfg *config.Config, logger *slog.Logger) (*expert.Registry, error) {
	defs, err := expert.LoadDefinitions(cfg.ExpertsFile)
	if err != nil {
		return nil, err
	}
	factories := llm.Factories()
	factories[expert.BackendAgent] = agentclient.Factory(agentclient.NewClient())
	return expert.Build(defs, factories, cfg.ExpertMode == expert.ModeMock, logger)
}
