// Package streamer pushes the newest frame of each run id over the shared
// connection as binary envelopes, skipping frames whose content did not
// change since the last successful send.
//
//	Latest(run) ──► blake3 ──► same as last sent? ──yes──► skip
//	                                   │no
//	                                   ▼
//	                  EncodeFrame{id, "screenshot", seq} ──► WriteBinary
package streamer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"remote-agent/capture"
	"remote-agent/metrics"
	"remote-agent/protocol"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// ErrAlreadyStreaming is returned when a loop for the run id is active.
var ErrAlreadyStreaming = errors.New("streamer: run id already streaming")

// Writer is the part of the transport the streamer needs.
type Writer interface {
	WriteBinary(ctx context.Context, data []byte) error
}

// Options configure the polling loop.
type Options struct {
	Interval    time.Duration      // Poll interval (default 1s)
	IdleTimeout time.Duration      // End the loop after this long without a frame, 0 disables
	Metrics     *metrics.Collector // Optional
}

// Streamer runs streaming loops over one connection. Create one per session.
type Streamer struct {
	source capture.Source
	conn   Writer
	opts   Options
	now    func() time.Time
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

func New(source capture.Source, conn Writer, opts Options, logger *zap.Logger) *Streamer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Streamer{
		source: source,
		conn:   conn,
		opts:   opts,
		now:    time.Now,
		logger: logger.With(zap.String("component", "streamer")),
		active: make(map[string]struct{}),
	}
}

// Stream polls runID until ctx is cancelled (returns nil), the idle timeout
// elapses (returns nil) or a send fails (returns the error).
func (s *Streamer) Stream(ctx context.Context, runID string) error {
	if !s.acquire(runID) {
		return fmt.Errorf("%w: %s", ErrAlreadyStreaming, runID)
	}
	defer s.release(runID)

	s.logger.Info("streaming started", zap.String("run_id", runID), zap.Duration("interval", s.opts.Interval))

	var (
		lastHash [32]byte
		sentAny  bool
		seq      int64
		lastSend = s.now() // Idle time counts from loop start until the first send
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		frame, err := s.source.Latest(ctx, runID)
		if err != nil {
			s.logger.Warn("frame source error", zap.String("run_id", runID), zap.Error(err))
			frame = nil
		}
		now := s.now()

		if frame != nil && len(frame.Data) > 0 {
			h := blake3.Sum256(frame.Data)
			if sentAny && h == lastHash {
				s.opts.Metrics.RecordFrameSkipped(runID)
			} else {
				seq = nextSeq(now, seq)
				if err := s.send(ctx, runID, seq, frame.Data); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				lastHash, sentAny, lastSend = h, true, now
			}
		} else if s.opts.IdleTimeout > 0 && now.Sub(lastSend) >= s.opts.IdleTimeout {
			s.logger.Info("streaming idle timeout",
				zap.String("run_id", runID),
				zap.Duration("idle", now.Sub(lastSend)))
			return nil
		}

		timer.Reset(s.opts.Interval)
	}
}

func (s *Streamer) send(ctx context.Context, runID string, seq int64, payload []byte) error {
	envelope, err := protocol.EncodeFrame(&protocol.FrameHeader{
		ID:   runID,
		Type: protocol.FrameTypeScreenshot,
		Seq:  seq,
	}, payload)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := s.conn.WriteBinary(ctx, envelope); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	s.opts.Metrics.RecordFrameSent(runID, len(payload))
	s.logger.Debug("frame sent", zap.String("run_id", runID), zap.Int64("seq", seq), zap.Int("bytes", len(payload)))
	return nil
}

// nextSeq is the send time in Unix milliseconds, bumped past prev so it
// strictly increases even if the clock stalls or steps back.
func nextSeq(now time.Time, prev int64) int64 {
	seq := now.UnixMilli()
	if seq <= prev {
		seq = prev + 1
	}
	return seq
}

func (s *Streamer) acquire(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[runID]; ok {
		return false
	}
	s.active[runID] = struct{}{}
	return true
}

func (s *Streamer) release(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, runID)
}

// Active reports whether a loop for runID is running.
func (s *Streamer) Active(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[runID]
	return ok
}
