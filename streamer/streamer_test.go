package streamer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"remote-agent/capture"
	"remote-agent/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource returns whatever was last set for a run id.
type fakeSource struct {
	mu     sync.Mutex
	frames map[string][]byte
	err    error
	calls  atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: map[string][]byte{}}
}

func (f *fakeSource) set(runID string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[runID] = data
}

func (f *fakeSource) Latest(ctx context.Context, runID string) (*capture.Frame, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.frames[runID]
	if !ok {
		return nil, nil
	}
	return &capture.Frame{Data: data}, nil
}

// fakeWriter records envelopes.
type fakeWriter struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (w *fakeWriter) WriteBinary(ctx context.Context, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.sent = append(w.sent, append([]byte(nil), data...))
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sent)
}

func (w *fakeWriter) frame(t *testing.T, i int) (*protocol.FrameHeader, []byte) {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	h, body, err := protocol.DecodeFrame(w.sent[i])
	require.NoError(t, err)
	return h, body
}

func run(t *testing.T, s *Streamer, runID string) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Stream(ctx, runID) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestDedupSendsChangedFramesOnly(t *testing.T) {
	src := newFakeSource()
	w := &fakeWriter{}
	s := New(src, w, Options{Interval: 5 * time.Millisecond}, nil)

	src.set("1", []byte("frame-a"))
	cancel, done := run(t, s, "1")

	// Identical frame polled many times is sent once
	require.Eventually(t, func() bool { return src.calls.Load() >= 10 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, w.count())

	src.set("1", []byte("frame-b"))
	require.Eventually(t, func() bool { return w.count() == 2 }, 2*time.Second, time.Millisecond)

	// Going back to an older frame is a change too
	src.set("1", []byte("frame-a"))
	require.Eventually(t, func() bool { return w.count() == 3 }, 2*time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-done)

	h, body := w.frame(t, 1)
	assert.Equal(t, "1", h.ID)
	assert.Equal(t, protocol.FrameTypeScreenshot, h.Type)
	assert.Equal(t, []byte("frame-b"), body)
}

func TestSeqStrictlyIncreasing(t *testing.T) {
	src := newFakeSource()
	w := &fakeWriter{}
	s := New(src, w, Options{Interval: time.Millisecond}, nil)
	frozen := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return frozen }

	src.set("1", []byte{0})
	cancel, done := run(t, s, "1")
	for i := 1; i < 5; i++ {
		prev := w.count()
		require.Eventually(t, func() bool { return w.count() > prev }, 2*time.Second, time.Millisecond)
		src.set("1", []byte{byte(i)})
	}
	require.Eventually(t, func() bool { return w.count() >= 5 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done

	var last int64
	for i := 0; i < 5; i++ {
		h, _ := w.frame(t, i)
		assert.Greater(t, h.Seq, last)
		last = h.Seq
	}
	first, _ := w.frame(t, 0)
	assert.Equal(t, frozen.UnixMilli(), first.Seq)
}

func TestIdleTimeoutEndsLoop(t *testing.T) {
	s := New(newFakeSource(), &fakeWriter{}, Options{Interval: 5 * time.Millisecond, IdleTimeout: 30 * time.Millisecond}, nil)

	_, done := run(t, s, "1")
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("idle timeout did not end the loop")
	}
	assert.False(t, s.Active("1"))
}

func TestIdleTimeoutCountsFromLastSend(t *testing.T) {
	src := newFakeSource()
	w := &fakeWriter{}
	s := New(src, w, Options{Interval: 5 * time.Millisecond, IdleTimeout: 50 * time.Millisecond}, nil)

	src.set("1", []byte("x"))
	_, done := run(t, s, "1")
	require.Eventually(t, func() bool { return w.count() == 1 }, 2*time.Second, time.Millisecond)

	// Frame disappears (producer stopped): loop ends after the idle window
	src.mu.Lock()
	delete(src.frames, "1")
	src.mu.Unlock()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not end")
	}
}

func TestSendErrorIsReturned(t *testing.T) {
	src := newFakeSource()
	src.set("1", []byte("x"))
	boom := errors.New("broken pipe")
	s := New(src, &fakeWriter{err: boom}, Options{Interval: time.Millisecond}, nil)

	_, done := run(t, s, "1")
	err := <-done
	assert.ErrorIs(t, err, boom)
}

func TestSourceErrorIsNoFrame(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("capture failed")
	w := &fakeWriter{}
	s := New(src, w, Options{Interval: time.Millisecond}, nil)

	cancel, done := run(t, s, "1")
	require.Eventually(t, func() bool { return src.calls.Load() >= 5 }, 2*time.Second, time.Millisecond)
	cancel()

	assert.NoError(t, <-done)
	assert.Zero(t, w.count())
}

func TestOneLoopPerRunID(t *testing.T) {
	s := New(newFakeSource(), &fakeWriter{}, Options{Interval: time.Millisecond}, nil)

	cancel, done := run(t, s, "1")
	require.Eventually(t, func() bool { return s.Active("1") }, time.Second, time.Millisecond)

	err := s.Stream(context.Background(), "1")
	assert.ErrorIs(t, err, ErrAlreadyStreaming)

	// Other run ids are independent
	ctx, stop := context.WithCancel(context.Background())
	other := make(chan error, 1)
	go func() { other <- s.Stream(ctx, "2") }()
	require.Eventually(t, func() bool { return s.Active("2") }, time.Second, time.Millisecond)
	stop()
	assert.NoError(t, <-other)

	cancel()
	assert.NoError(t, <-done)
}

func TestNextSeq(t *testing.T) {
	now := time.UnixMilli(1000)
	assert.Equal(t, int64(1000), nextSeq(now, 0))
	assert.Equal(t, int64(1001), nextSeq(now, 1000))
	assert.Equal(t, int64(2001), nextSeq(now, 2000))
}
