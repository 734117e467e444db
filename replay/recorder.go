// Package replay appends successful capability calls to a per-run log so a
// session can be reviewed or re-driven later.
//
// Each line renders one call with its bound arguments:
//
//	navigate_to_url(url="https://example.com")
//	send_keys(locator_type="id", locator="q", value="hello")
package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"remote-agent/registry"

	"go.uber.org/zap"
)

// Recorder writes call lines under dir, one file per run id.
type Recorder struct {
	dir    string
	mu     sync.Mutex // Serializes appends across goroutines
	logger *zap.Logger
}

// NewRecorder creates dir if needed.
func NewRecorder(dir string, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		return nil, fmt.Errorf("replay: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("replay: create dir: %w", err)
	}
	return &Recorder{dir: dir, logger: logger.With(zap.String("component", "replay"))}, nil
}

// Path returns the log file used for runID.
func (r *Recorder) Path(runID string) string {
	return filepath.Join(r.dir, "calls_"+sanitize(runID)+".log")
}

// Record appends one rendered call.
func (r *Recorder) Record(call *registry.Call) error {
	line := Render(call) + "\n"

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.Path(call.RunID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("replay: open: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("replay: write: %w", err)
	}
	r.logger.Debug("call recorded", zap.String("run_id", call.RunID), zap.String("function", call.Name))
	return nil
}

// Render formats a call as name(param=value, ...). Values are JSON.
func Render(call *registry.Call) string {
	var b strings.Builder
	b.WriteString(call.Name)
	b.WriteByte('(')
	for i, nv := range call.Values {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(nv.Name)
		b.WriteByte('=')
		v, err := json.Marshal(nv.Value)
		if err != nil {
			v = []byte(fmt.Sprintf("%q", fmt.Sprint(nv.Value)))
		}
		b.Write(v)
	}
	b.WriteByte(')')
	return b.String()
}

// Run ids come from the network; keep them out of path traversal.
func sanitize(runID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, runID)
}
