// Package eventbus provides ordered, replayable per-mission event streams.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/repository"
)

// DefaultBufferSize bounds each subscriber's live queue.
const DefaultBufferSize = 256

// Sink receives a copy of every published event, in per-mission order.
type Sink interface {
	Forward(ctx context.Context, event domain.Event) error
	Close() error
}

// Bus assigns sequence numbers, appends events to the durable log and fans
// them out to live subscribers without ever blocking the publisher.
type Bus struct {
	log        repository.EventLog
	bufferSize int
	logger     *slog.Logger

	mu     sync.Mutex
	topics map[string]*topic

	sinks   []Sink
	workers []*sinkWorker
}

// topic holds the per-mission sequence counter and subscribers.
type topic struct {
	mu       sync.Mutex
	loaded   bool
	lastSeq  int64
	subs     map[string]*Subscription
	finished bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber live queue bound.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSink mirrors every published event to sink.
func WithSink(sink Sink) Option {
	return func(b *Bus) {
		if sink != nil {
			b.sinks = append(b.sinks, sink)
		}
	}
}

// New creates a Bus backed by log.
func New(log repository.EventLog, opts ...Option) *Bus {
	b := &Bus{
		log:        log,
		bufferSize: DefaultBufferSize,
		logger:     slog.Default(),
		topics:     make(map[string]*topic),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, sink := range b.sinks {
		b.workers = append(b.workers, newSinkWorker(sink, b.bufferSize, b.logger))
	}
	return b
}

func (b *Bus) topic(missionID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[missionID]
	if !ok {
		t = &topic{subs: make(map[string]*Subscription)}
		b.topics[missionID] = t
	}
	return t
}

// ensureLoaded must be called with t.mu held.
func (b *Bus) ensureLoaded(ctx context.Context, missionID string, t *topic) error {
	if t.loaded {
		return nil
	}
	last, err := b.log.LastEventSeq(ctx, missionID)
	if err != nil {
		return fmt.Errorf("failed to load last event seq: %w", err)
	}
	t.lastSeq = last
	t.loaded = true
	return nil
}

// Publish appends an event for missionID and fans it out. The returned event
// carries its assigned sequence number. Slow subscribers never block Publish.
func (b *Bus) Publish(ctx context.Context, missionID string, eventType domain.EventType, payload interface{}) (domain.Event, error) {
	event, err := domain.NewEvent(missionID, eventType, payload)
	if err != nil {
		return domain.Event{}, err
	}

	t := b.topic(missionID)
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := b.ensureLoaded(ctx, missionID, t); err != nil {
		return domain.Event{}, err
	}
	event.Seq = t.lastSeq + 1
	event.Ts = time.Now().UnixMilli()
	if err := b.log.AppendEvent(ctx, &event); err != nil {
		// The append may have committed before the error surfaced. Reload
		// the counter from the log on the next publish.
		t.loaded = false
		return domain.Event{}, fmt.Errorf("failed to append event: %w", err)
	}
	t.lastSeq = event.Seq

	for _, sub := range t.subs {
		sub.offer(event, b.bufferSize)
	}
	for _, sw := range b.workers {
		sw.enqueue(event)
	}
	return event, nil
}

// Subscribe opens a stream for missionID. Events with seq > afterSeq are
// replayed from the log first, then live events follow in order. Pass
// LiveOnly to skip replay. When follow is false the stream closes after
// replay. The stream closes when ctx is done, on Close, or on Finish.
func (b *Bus) Subscribe(ctx context.Context, missionID string, afterSeq int64, follow bool) (*Subscription, error) {
	if !follow {
		return b.replayOnly(ctx, missionID, afterSeq)
	}

	t := b.topic(missionID)
	t.mu.Lock()
	if err := b.ensureLoaded(ctx, missionID, t); err != nil {
		t.mu.Unlock()
		return nil, err
	}

	var replay []domain.Event
	if afterSeq >= 0 && afterSeq < t.lastSeq {
		events, err := b.log.ListEvents(ctx, missionID, afterSeq, 0)
		if err != nil {
			t.mu.Unlock()
			return nil, fmt.Errorf("failed to replay events: %w", err)
		}
		replay = events
	}

	out := make(chan domain.Event)
	sub := b.newSubscription(missionID, t, out)
	if t.finished {
		sub.closeLocked()
	} else {
		t.subs[sub.ID] = sub
	}
	t.mu.Unlock()

	go sub.pump(ctx, out, replay)
	return sub, nil
}

// replayOnly serves a non-following stream straight from the log. It never
// registers a topic, so reading a finished mission leaves no state behind.
func (b *Bus) replayOnly(ctx context.Context, missionID string, afterSeq int64) (*Subscription, error) {
	var replay []domain.Event
	if afterSeq >= 0 {
		events, err := b.log.ListEvents(ctx, missionID, afterSeq, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to replay events: %w", err)
		}
		replay = events
	}

	out := make(chan domain.Event)
	detached := &topic{subs: make(map[string]*Subscription)}
	sub := b.newSubscription(missionID, detached, out)
	detached.mu.Lock()
	sub.closeLocked()
	detached.mu.Unlock()

	go sub.pump(ctx, out, replay)
	return sub, nil
}

func (b *Bus) newSubscription(missionID string, t *topic, out chan domain.Event) *Subscription {
	return &Subscription{
		ID:        uuid.New().String(),
		MissionID: missionID,
		C:         out,
		live:      make(chan domain.Event, b.bufferSize+1),
		done:      make(chan struct{}),
		topic:     t,
	}
}

// LiveOnly subscribes without replay.
const LiveOnly int64 = -1

// Replay returns stored events with seq > afterSeq, at most limit (0 = all).
func (b *Bus) Replay(ctx context.Context, missionID string, afterSeq int64, limit int) ([]domain.Event, error) {
	return b.log.ListEvents(ctx, missionID, afterSeq, limit)
}

// Finish closes every live subscription of a mission once its terminal event
// has been published. Queued events are still delivered.
func (b *Bus) Finish(missionID string) {
	b.mu.Lock()
	t, ok := b.topics[missionID]
	if ok {
		delete(b.topics, missionID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = true
	for _, sub := range t.subs {
		sub.closeLocked()
	}
}

// SubscriberCount returns the number of live subscribers of a mission.
func (b *Bus) SubscriberCount(missionID string) int {
	b.mu.Lock()
	t, ok := b.topics[missionID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close shuts down sinks and closes every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	topics := b.topics
	b.topics = make(map[string]*topic)
	b.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		for _, sub := range t.subs {
			sub.closeLocked()
		}
		t.mu.Unlock()
	}

	var firstErr error
	for _, sw := range b.workers {
		if err := sw.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
