// Package service implements the mission lifecycle: create, advance,
// checkpoint, resume, cancel and complete.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/curatedhealth/missionengine/internal/checkpoint"
	"github.com/curatedhealth/missionengine/internal/config"
	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/eventbus"
	"github.com/curatedhealth/missionengine/internal/invoker"
	"github.com/curatedhealth/missionengine/internal/pool"
	"github.com/curatedhealth/missionengine/internal/repository"
	"github.com/curatedhealth/missionengine/internal/strategy"
)

// Service is the orchestrator. Every mutation of a mission happens under
// that mission's lock, which is never held across an expert call.
type Service struct {
	store       repository.Store
	bus         *eventbus.Bus
	strategies  *strategy.Registry
	pool        *pool.Coordinator
	checkpoints *checkpoint.Manager
	config      *config.Config
	logger      *slog.Logger
	now         func() time.Time

	locks *missionLocks

	baseCtx context.Context
	stop    context.CancelFunc

	runMu   sync.Mutex
	runners map[string]*runner
	closed  bool
	wg      sync.WaitGroup
}

// runner tracks the background driver of one mission.
type runner struct {
	cancel context.CancelFunc
	// rerun asks the driver to take another pass before exiting.
	rerun bool
}

// New creates a new Service. The expert pool is built over inv and reports
// expert progress to the bus.
func New(store repository.Store, bus *eventbus.Bus, strategies *strategy.Registry, inv *invoker.Invoker, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, stop := context.WithCancel(context.Background())
	s := &Service{
		store:       store,
		bus:         bus,
		strategies:  strategies,
		checkpoints: checkpoint.NewManager(),
		config:      cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		locks:       newMissionLocks(),
		baseCtx:     baseCtx,
		stop:        stop,
		runners:     make(map[string]*runner),
	}
	s.pool = pool.New(inv, pool.Config{
		MaxInFlight:   cfg.MaxInFlight,
		ExpertTimeout: cfg.ExpertTimeout,
		StepTimeout:   cfg.StepTimeout,
	}, s, logger)
	return s
}

// Close cancels every runner and waits for them to exit. Missions keep their
// last persisted state and can be resumed by another instance.
func (s *Service) Close() {
	s.runMu.Lock()
	s.closed = true
	s.runMu.Unlock()
	s.stop()
	s.wg.Wait()
}

// load returns the snapshot of missionID or ErrNotFound.
func (s *Service) load(ctx context.Context, missionID string) (*domain.MissionSnapshot, error) {
	snap, err := s.store.LoadSnapshot(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mission: %w", err)
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: mission %s", domain.ErrNotFound, missionID)
	}
	return snap, nil
}

// save bumps the revision and writes the whole snapshot. Must be called
// with the mission lock held.
func (s *Service) save(ctx context.Context, snap *domain.MissionSnapshot) error {
	snap.Revision++
	snap.Mission.UpdatedAt = s.now()
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("refusing to save mission %s: %w", snap.Mission.MissionID, err)
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to save mission: %w", err)
	}
	return nil
}

// missionLocks is a keyed mutex. Entries are dropped once nobody holds or
// waits for them.
type missionLocks struct {
	mu    sync.Mutex
	locks map[string]*missionLock
}

type missionLock struct {
	mu   sync.Mutex
	refs int
}

func newMissionLocks() *missionLocks {
	return &missionLocks{locks: make(map[string]*missionLock)}
}

// Lock acquires the lock of missionID and returns its release func.
func (l *missionLocks) Lock(missionID string) func() {
	l.mu.Lock()
	ml, ok := l.locks[missionID]
	if !ok {
		ml = &missionLock{}
		l.locks[missionID] = ml
	}
	ml.refs++
	l.mu.Unlock()

	ml.mu.Lock()
	return func() {
		ml.mu.Unlock()
		l.mu.Lock()
		ml.refs--
		if ml.refs == 0 {
			delete(l.locks, missionID)
		}
		l.mu.Unlock()
	}
}
