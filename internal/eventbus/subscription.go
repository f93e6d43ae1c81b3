package eventbus

import (
	"context"
	"sync"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// Subscription is one consumer's view of a mission stream.
type Subscription struct {
	ID        string
	MissionID string

	// C delivers events in sequence order. It is closed when the
	// subscription ends.
	C <-chan domain.Event

	live     chan domain.Event
	dropping bool
	closed   bool
	done     chan struct{}
	once     sync.Once
	topic    *topic
}

// offer queues event without blocking. When the queue is full the first
// dropped event is replaced by a truncated marker naming the sequence to
// replay from; further events are dropped until the queue drains.
// Called with topic.mu held.
func (s *Subscription) offer(event domain.Event, bufferSize int) {
	if s.closed {
		return
	}
	if len(s.live) < bufferSize {
		s.live <- event
		s.dropping = false
		return
	}
	if s.dropping {
		return
	}
	s.dropping = true
	marker, err := domain.NewEvent(event.MissionID, domain.EventTypeTruncated, domain.TruncatedPayload{FromSeq: event.Seq})
	if err != nil {
		return
	}
	marker.Ts = event.Ts
	s.live <- marker
}

// closeLocked detaches the subscription. Called with topic.mu held.
func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	delete(s.topic.subs, s.ID)
	close(s.live)
}

// Close ends the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
	s.topic.mu.Lock()
	s.closeLocked()
	s.topic.mu.Unlock()
}

func (s *Subscription) pump(ctx context.Context, out chan<- domain.Event, replay []domain.Event) {
	defer close(out)

	lastSeq := int64(0)
	for _, event := range replay {
		if !s.send(ctx, out, event) {
			return
		}
		lastSeq = event.Seq
	}

	for {
		select {
		case event, ok := <-s.live:
			if !ok {
				return
			}
			if event.Type != domain.EventTypeTruncated && event.Seq <= lastSeq {
				continue
			}
			if !s.send(ctx, out, event) {
				return
			}
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) send(ctx context.Context, out chan<- domain.Event, event domain.Event) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		s.Close()
		return false
	case <-s.done:
		return false
	}
}
