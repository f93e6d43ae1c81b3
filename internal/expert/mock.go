package expert

import (
	"context"
	"fmt"
	"time"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// ModeMock is the EXPERT_MODE value that selects mock callers.
const ModeMock = "MOCK"

// MockCaller answers deterministically after an optional delay.
type MockCaller struct {
	name  string
	Delay time.Duration
}

// NewMockCaller creates a mock caller labelled name.
func NewMockCaller(name string) *MockCaller {
	return &MockCaller{name: name}
}

// Call returns a canned answer derived from the request.
func (m *MockCaller) Call(ctx context.Context, ref string, req domain.ExpertRequest) (domain.ExpertResponse, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return domain.ExpertResponse{}, ctx.Err()
		}
	}
	content := fmt.Sprintf("[MOCK] %s on %q (step %d)", m.name, truncate(req.Question, 100), req.StepIndex)
	if req.Context != "" {
		content += fmt.Sprintf(" given %d bytes of context", len(req.Context))
	}
	return domain.ExpertResponse{Content: content}, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
