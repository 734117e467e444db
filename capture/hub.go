// Package capture keeps the newest screen frame per run id.
//
// One producer goroutine per run id captures at a fixed rate and
// overwrites a single slot; readers always see the newest complete frame
// and never block the producer. Reading does not consume the frame.
//
//	producer(run 1) ──Capture──► slot[1] (atomic, overwrite) ◄── Latest("1")
//	producer(run 2) ──Capture──► slot[2]                     ◄── Latest("2")
package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MaxConsecutiveFailures stops a producer whose capturer keeps failing.
const MaxConsecutiveFailures = 3

// Frame is one captured image.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// Capturer produces encoded screen images.
type Capturer interface {
	CaptureFrame(ctx context.Context) ([]byte, error)
}

// CapturerFunc adapts a function to Capturer.
type CapturerFunc func(ctx context.Context) ([]byte, error)

func (f CapturerFunc) CaptureFrame(ctx context.Context) ([]byte, error) { return f(ctx) }

// Source is what the streamer polls.
type Source interface {
	// Latest returns the newest frame for runID, or nil if none exists.
	Latest(ctx context.Context, runID string) (*Frame, error)
}

type producer struct {
	slot   atomic.Pointer[Frame]
	cancel context.CancelFunc
	done   chan struct{}
}

// Hub owns the producers. Safe for concurrent use.
type Hub struct {
	mu        sync.Mutex
	producers map[string]*producer
	logger    *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		producers: make(map[string]*producer),
		logger:    logger.With(zap.String("component", "capture")),
	}
}

// Start begins capturing for runID at fps frames per second, replacing any
// producer already running for it.
func (h *Hub) Start(runID string, c Capturer, fps float64) {
	if fps <= 0 {
		fps = 1
	}
	interval := time.Duration(float64(time.Second) / fps)

	ctx, cancel := context.WithCancel(context.Background())
	p := &producer{cancel: cancel, done: make(chan struct{})}

	h.mu.Lock()
	old := h.producers[runID]
	h.producers[runID] = p
	h.mu.Unlock()

	if old != nil {
		old.cancel()
		<-old.done
	}

	go h.run(ctx, runID, p, c, interval)
	h.logger.Info("capture started", zap.String("run_id", runID), zap.Duration("interval", interval))
}

func (h *Hub) run(ctx context.Context, runID string, p *producer, c Capturer, interval time.Duration) {
	defer close(p.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		shotCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		data, err := c.CaptureFrame(shotCtx)
		cancel()

		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			failures++
			h.logger.Warn("capture failed",
				zap.String("run_id", runID),
				zap.Int("consecutive", failures),
				zap.Error(err))
			if failures >= MaxConsecutiveFailures {
				h.logger.Error("capture stopped after repeated failures", zap.String("run_id", runID))
				h.remove(runID, p)
				return
			}
		case len(data) > 0:
			failures = 0
			p.slot.Store(&Frame{Data: data, CapturedAt: time.Now()})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// remove drops p only if it is still the registered producer for runID.
func (h *Hub) remove(runID string, p *producer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.producers[runID] == p {
		delete(h.producers, runID)
	}
}

// Put stores a frame for runID without a producer goroutine. Used by
// callers that capture on their own schedule.
func (h *Hub) Put(runID string, data []byte) {
	h.mu.Lock()
	p, ok := h.producers[runID]
	if !ok {
		p = &producer{cancel: func() {}, done: make(chan struct{})}
		close(p.done)
		h.producers[runID] = p
	}
	h.mu.Unlock()
	p.slot.Store(&Frame{Data: data, CapturedAt: time.Now()})
}

// Latest implements Source.
func (h *Hub) Latest(ctx context.Context, runID string) (*Frame, error) {
	h.mu.Lock()
	p, ok := h.producers[runID]
	h.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return p.slot.Load(), nil
}

// Stop ends the producer for runID and discards its frame.
func (h *Hub) Stop(runID string) {
	h.mu.Lock()
	p, ok := h.producers[runID]
	delete(h.producers, runID)
	h.mu.Unlock()

	if ok {
		p.cancel()
		<-p.done
		h.logger.Info("capture stopped", zap.String("run_id", runID))
	}
}

// StopAll ends every producer.
func (h *Hub) StopAll() {
	h.mu.Lock()
	producers := h.producers
	h.producers = make(map[string]*producer)
	h.mu.Unlock()

	for _, p := range producers {
		p.cancel()
		<-p.done
	}
}

// Running reports whether a producer or stored frame exists for runID.
func (h *Hub) Running(runID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.producers[runID]
	return ok
}
