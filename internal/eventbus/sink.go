package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/curatedhealth/missionengine/internal/domain"
)

const sinkForwardTimeout = 10 * time.Second

// sinkWorker forwards events to a Sink from a single goroutine so the sink
// sees them in publish order.
type sinkWorker struct {
	sink   Sink
	queue  chan domain.Event
	logger *slog.Logger
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newSinkWorker(sink Sink, bufferSize int, logger *slog.Logger) *sinkWorker {
	sw := &sinkWorker{
		sink:   sink,
		queue:  make(chan domain.Event, bufferSize),
		logger: logger,
	}
	sw.wg.Add(1)
	go sw.run()
	return sw
}

func (sw *sinkWorker) enqueue(event domain.Event) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return
	}
	select {
	case sw.queue <- event:
	default:
		sw.logger.Warn("event sink queue full, dropping event",
			"mission_id", event.MissionID, "seq", event.Seq, "type", event.Type)
	}
}

func (sw *sinkWorker) run() {
	defer sw.wg.Done()
	for event := range sw.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sinkForwardTimeout)
		if err := sw.sink.Forward(ctx, event); err != nil {
			sw.logger.Warn("event sink forward failed",
				"mission_id", event.MissionID, "seq", event.Seq, "error", err)
		}
		cancel()
	}
}

func (sw *sinkWorker) close() error {
	sw.mu.Lock()
	if sw.closed {
		sw.mu.Unlock()
		return nil
	}
	sw.closed = true
	close(sw.queue)
	sw.mu.Unlock()

	sw.wg.Wait()
	return sw.sink.Close()
}
