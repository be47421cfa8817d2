// Package trace records per-request audit events. Events are kept in a small
// in-memory ring per trace id and, when a path is configured, appended to a
// JSONL file that can be excerpted by trace id.
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/shopbrain/internal/logfile"
)

const (
	DefaultBufferSize = 60
	defaultMaxTraces  = 256
)

// Event is one trace line.
type Event struct {
	TS      string `json:"ts"`
	TraceID string `json:"trace_id"`
	Event   string `json:"event"`
	Data    any    `json:"data,omitempty"`
}

// Options configures a Recorder.
type Options struct {
	// Path of the JSONL file; empty keeps events in memory only.
	Path string
	// MaxFileBytes caps the file size; see logfile.Open.
	MaxFileBytes int64
	// BufferSize is the per-trace ring size.
	BufferSize int
	// MaxTraces bounds how many trace ids keep a ring.
	MaxTraces int
	Logger    *slog.Logger
	Now       func() time.Time
}

// Recorder collects trace events. A nil *Recorder discards everything.
type Recorder struct {
	mu        sync.Mutex
	buffers   map[string][]Event
	order     []string
	size      int
	maxTraces int
	file      *logfile.Writer
	logger    *slog.Logger
	now       func() time.Time
}

// NewRecorder creates a recorder, opening the trace file when configured.
func NewRecorder(opts Options) (*Recorder, error) {
	r := &Recorder{
		buffers:   map[string][]Event{},
		size:      opts.BufferSize,
		maxTraces: opts.MaxTraces,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if r.size <= 0 {
		r.size = DefaultBufferSize
	}
	if r.maxTraces <= 0 {
		r.maxTraces = defaultMaxTraces
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if opts.Path != "" {
		w, err := logfile.Open(opts.Path, opts.MaxFileBytes, 0)
		if err != nil {
			return nil, fmt.Errorf("opening trace file: %w", err)
		}
		r.file = w
	}
	return r, nil
}

// Close closes the trace file.
func (r *Recorder) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Emit records an event under traceID.
func (r *Recorder) Emit(traceID, event string, data any) {
	if r == nil || traceID == "" {
		return
	}
	ev := Event{
		TS:      r.now().UTC().Format(time.RFC3339),
		TraceID: traceID,
		Event:   event,
		Data:    data,
	}

	r.mu.Lock()
	buf, ok := r.buffers[traceID]
	if !ok {
		r.order = append(r.order, traceID)
		if len(r.order) > r.maxTraces {
			delete(r.buffers, r.order[0])
			r.order = r.order[1:]
		}
	}
	buf = append(buf, ev)
	if len(buf) > r.size {
		buf = buf[len(buf)-r.size:]
	}
	r.buffers[traceID] = buf
	r.mu.Unlock()

	if r.file == nil {
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		r.logger.Warn("trace event not serializable", "event", event, "error", err)
		return
	}
	if _, err := r.file.Write(append(line, '\n')); err != nil {
		r.logger.Warn("trace write failed", "error", err)
	}
}

// Buffer returns a copy of the buffered events for traceID.
func (r *Recorder) Buffer(traceID string) []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := r.buffers[traceID]
	out := make([]Event, len(buf))
	copy(out, buf)
	return out
}

// NewID returns a trace id such as apai_20260301_120000_3f9a0c1b2d.
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return "apai_" + now.UTC().Format("20060102_150405") + "_" + suffix
}

type ctxKey struct{}

// WithID stores a trace id in ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IDFromContext returns the trace id stored in ctx, or "".
func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
