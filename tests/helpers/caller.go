package helpers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// Script controls how ScriptedCaller answers one expert.
type Script struct {
	// Delay before answering; honours ctx.
	Delay time.Duration
	// Content returned on success. Defaults to "<ref> answer".
	Content string
	// Err is returned instead of an answer. With Times > 0 only the first
	// Times calls fail.
	Err   error
	Times int
	// Block waits for ctx to end.
	Block bool
	// Hang ignores ctx and waits for Release.
	Hang bool
	// Panic makes the call panic.
	Panic bool
}

// ScriptedCaller is a deterministic expert collaborator for tests.
type ScriptedCaller struct {
	mu          sync.Mutex
	scripts     map[string]Script
	calls       map[string]int
	requests    []domain.ExpertRequest
	inFlight    int
	maxInFlight int
	release     chan struct{}
	releaseOnce sync.Once
}

// NewScriptedCaller returns a caller where unscripted experts answer at once.
func NewScriptedCaller() *ScriptedCaller {
	return &ScriptedCaller{
		scripts: make(map[string]Script),
		calls:   make(map[string]int),
		release: make(chan struct{}),
	}
}

// Set scripts ref.
func (s *ScriptedCaller) Set(ref string, script Script) *ScriptedCaller {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[ref] = script
	return s
}

// Call implements expert.Caller.
func (s *ScriptedCaller) Call(ctx context.Context, ref string, req domain.ExpertRequest) (domain.ExpertResponse, error) {
	s.mu.Lock()
	script := s.scripts[ref]
	s.calls[ref]++
	n := s.calls[ref]
	s.requests = append(s.requests, req)
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if script.Panic {
		panic("scripted panic from " + ref)
	}
	if script.Hang {
		<-s.release
	}
	if script.Block {
		<-ctx.Done()
		return domain.ExpertResponse{}, ctx.Err()
	}
	if script.Delay > 0 {
		select {
		case <-time.After(script.Delay):
		case <-ctx.Done():
			return domain.ExpertResponse{}, ctx.Err()
		}
	}
	if script.Err != nil && (script.Times == 0 || n <= script.Times) {
		return domain.ExpertResponse{}, script.Err
	}
	content := script.Content
	if content == "" {
		content = fmt.Sprintf("%s answer", ref)
	}
	return domain.ExpertResponse{Content: content}, nil
}

// Calls returns how many times ref was called.
func (s *ScriptedCaller) Calls(ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[ref]
}

// TotalCalls returns the number of calls across all experts.
func (s *ScriptedCaller) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Requests returns a copy of every request received.
func (s *ScriptedCaller) Requests() []domain.ExpertRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ExpertRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// MaxInFlight returns the highest observed number of concurrent calls.
func (s *ScriptedCaller) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

// Release unblocks every hung call.
func (s *ScriptedCaller) Release() {
	s.releaseOnce.Do(func() { close(s.release) })
}
