package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades and echoes every message back with its type.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if err := conn.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, srv *httptest.Server) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(srv), Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func TestWriteReadTextAndBinary(t *testing.T) {
	c := dial(t, echoServer(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.WriteText(ctx, []byte(`{"status":"success"}`)))
	typ, data, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, MessageText, typ)
	assert.Equal(t, `{"status":"success"}`, string(data))

	require.NoError(t, c.WriteBinary(ctx, []byte{0, 0, 0, 2, '{', '}', 0xff}))
	typ, data, err = c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, MessageBinary, typ)
	assert.Equal(t, []byte{0, 0, 0, 2, '{', '}', 0xff}, data)
}

func TestConcurrentWritesStayWhole(t *testing.T) {
	c := dial(t, echoServer(t))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(strings.Repeat(string(rune('a'+i%26)), 4096))
			if i%2 == 0 {
				assert.NoError(t, c.WriteText(ctx, payload))
			} else {
				assert.NoError(t, c.WriteBinary(ctx, payload))
			}
		}(i)
	}

	// Every echoed message must be a single repeated letter
	for i := 0; i < n; i++ {
		_, data, err := c.Read(ctx)
		require.NoError(t, err)
		require.Len(t, data, 4096)
		assert.Equal(t, strings.Repeat(string(data[0]), 4096), string(data))
	}
	wg.Wait()
}

func TestWriteAfterClose(t *testing.T) {
	c := dial(t, echoServer(t))
	require.NoError(t, c.CloseNow())

	err := c.WriteText(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)

	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed")
	}
	// Second close is a no-op
	assert.NoError(t, c.Close("again"))
}

func TestReadLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(strings.Repeat("x", 2048)))
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(srv), Options{ReadLimit: 1024}, nil)
	require.NoError(t, err)
	defer c.CloseNow()

	_, _, err = c.Read(ctx)
	assert.Error(t, err)
}

func TestKeepAliveStopsOnCancel(t *testing.T) {
	c := dial(t, echoServer(t))

	// Pongs are processed by an active reader
	readCtx, stopRead := context.WithCancel(context.Background())
	defer stopRead()
	go func() {
		for {
			if _, _, err := c.Read(readCtx); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	assert.NoError(t, c.KeepAlive(ctx, 50*time.Millisecond))
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/ws", Options{}, nil)
	assert.Error(t, err)
}
