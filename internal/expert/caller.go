// Package expert defines the expert call collaborator and the registry that
// routes expert references to concrete backends.
package expert

import (
	"context"
	"errors"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// ErrUnknownExpert is returned when no caller is registered for a ref.
var ErrUnknownExpert = errors.New("unknown expert")

// Caller performs one call to an external expert. Implementations must honour
// ctx cancellation when their transport allows it.
type Caller interface {
	Call(ctx context.Context, ref string, req domain.ExpertRequest) (domain.ExpertResponse, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, ref string, req domain.ExpertRequest) (domain.ExpertResponse, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, ref string, req domain.ExpertRequest) (domain.ExpertResponse, error) {
	return f(ctx, ref, req)
}
