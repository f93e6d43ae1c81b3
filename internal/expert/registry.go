package expert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// Factory builds a Caller for one definition.
type Factory func(def Definition) (Caller, error)

// Registry routes calls to the Caller registered for each expert ref.
type Registry struct {
	mu      sync.RWMutex
	callers map[string]Caller
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{callers: make(map[string]Caller)}
}

// Register binds ref to caller, replacing any previous binding.
func (r *Registry) Register(ref string, caller Caller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callers[ref] = caller
}

// Has reports whether ref is registered.
func (r *Registry) Has(ref string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.callers[ref]
	return ok
}

// Refs returns the registered refs in sorted order.
func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.callers))
	for ref := range r.callers {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Call implements Caller by dispatching on ref.
func (r *Registry) Call(ctx context.Context, ref string, req domain.ExpertRequest) (domain.ExpertResponse, error) {
	r.mu.RLock()
	caller, ok := r.callers[ref]
	r.mu.RUnlock()
	if !ok {
		return domain.ExpertResponse{}, fmt.Errorf("%w: %s", ErrUnknownExpert, ref)
	}
	return caller.Call(ctx, ref, req)
}

// Build creates a registry from definitions. When mock is set every expert is
// served by the mock caller regardless of its backend.
func Build(defs []Definition, factories map[string]Factory, mock bool, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := NewRegistry()
	if mock {
		logger.Info("EXPERT_MODE=MOCK detected, using mock expert callers", "experts", len(defs))
	}
	for _, def := range defs {
		if mock || def.Backend == BackendMock {
			reg.Register(def.ID, NewMockCaller(def.ID))
			continue
		}
		factory, ok := factories[def.Backend]
		if !ok {
			return nil, fmt.Errorf("expert %s: unsupported backend %q", def.ID, def.Backend)
		}
		caller, err := factory(def)
		if err != nil {
			return nil, fmt.Errorf("expert %s: %w", def.ID, err)
		}
		reg.Register(def.ID, caller)
		logger.Debug("registered expert", "expert", def.ID, "backend", def.Backend)
	}
	return reg, nil
}

var _ Caller = (*Registry)(nil)
