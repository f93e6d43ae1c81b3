// Package servicetest wires a complete mission service for transport and
// command tests.
package servicetest

import (
	"testing"
	"time"

	"github.com/curatedhealth/missionengine/internal/config"
	"github.com/curatedhealth/missionengine/internal/eventbus"
	"github.com/curatedhealth/missionengine/internal/expert"
	"github.com/curatedhealth/missionengine/internal/invoker"
	"github.com/curatedhealth/missionengine/internal/logging"
	"github.com/curatedhealth/missionengine/internal/repository"
	"github.com/curatedhealth/missionengine/internal/service"
	"github.com/curatedhealth/missionengine/internal/strategy"
	"github.com/curatedhealth/missionengine/tests/helpers"
)

// Config returns a configuration with short timeouts.
func Config() *config.Config {
	return &config.Config{
		MaxInFlight:   4,
		ExpertTimeout: 2 * time.Second,
		StepTimeout:   2 * time.Second,
	}
}

// New returns a service over a fresh in-memory store. Every checkpoint the
// strategies plan is blocking. The service and bus are closed at cleanup.
func New(t *testing.T, caller expert.Caller) (*service.Service, repository.Store) {
	t.Helper()
	st := helpers.NewTestSQLiteStore(t)
	bus := eventbus.New(st, eventbus.WithLogger(logging.Discard()))
	strategies := strategy.Defaults(strategy.Config{Rounds: 1, CheckpointEvery: 1}, strategy.FirstCandidateRanker{}, nil)
	inv := invoker.New(caller, 50*time.Millisecond, logging.Discard())
	svc := service.New(st, bus, strategies, inv, Config(), logging.Discard())
	t.Cleanup(func() {
		svc.Close()
		_ = bus.Close()
	})
	return svc, st
}
