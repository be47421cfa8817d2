package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	defaultExcerptLines = 200
	maxExcerptLines     = 1000
	defaultExcerptBytes = 512 * 1024
	minExcerptBytes     = 16 * 1024
	maxExcerptBytes     = 2 * 1024 * 1024
)

// ErrNoTraceFile indicates file-backed reads on a memory-only recorder.
var ErrNoTraceFile = errors.New("trace file not configured")

// ExcerptMeta describes how an excerpt was read.
type ExcerptMeta struct {
	Mode       string `json:"mode"`
	MaxBytes   int    `json:"max_bytes"`
	BytesRead  int    `json:"bytes_read"`
	FileSize   int64  `json:"file_size"`
	Truncated  bool   `json:"truncated"`
	LinesFound int    `json:"lines_found"`
}

// Excerpt is a set of raw JSONL lines in file order.
type Excerpt struct {
	TraceIDs []string    `json:"trace_ids,omitempty"`
	Lines    []string    `json:"lines"`
	Meta     ExcerptMeta `json:"meta"`
}

// Excerpt returns up to maxLines of the most recent file lines belonging to
// any of traceIDs, reading at most maxBytes from the end of the file.
// maxLines is clamped to 1..1000 and maxBytes to 16KB..2MB; zero picks the
// defaults.
func (r *Recorder) Excerpt(traceIDs []string, maxLines, maxBytes int) (*Excerpt, error) {
	want := map[string]bool{}
	for _, id := range traceIDs {
		if id != "" {
			want[id] = true
		}
	}
	ex, err := r.tail(maxLines, maxBytes, func(line []byte) bool {
		var head struct {
			TraceID string `json:"trace_id"`
		}
		return json.Unmarshal(line, &head) == nil && want[head.TraceID]
	})
	if err != nil {
		return nil, err
	}
	ex.TraceIDs = traceIDs
	return ex, nil
}

// Tail returns the last maxLines lines of the trace file.
func (r *Recorder) Tail(maxLines int) (*Excerpt, error) {
	return r.tail(maxLines, 0, func([]byte) bool { return true })
}

func (r *Recorder) tail(maxLines, maxBytes int, keep func([]byte) bool) (*Excerpt, error) {
	if r == nil || r.file == nil {
		return nil, ErrNoTraceFile
	}
	maxLines = clamp(maxLines, defaultExcerptLines, 1, maxExcerptLines)
	maxBytes = clamp(maxBytes, defaultExcerptBytes, minExcerptBytes, maxExcerptBytes)

	f, err := os.Open(r.file.Path())
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat trace file: %w", err)
	}
	size := info.Size()
	offset := max(size-int64(maxBytes), 0)

	buf := make([]byte, size-offset)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading trace file: %w", err)
	}
	buf = buf[:n]

	truncated := offset > 0
	if truncated {
		// Drop the partial first line.
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[i+1:]
		} else {
			buf = nil
		}
	}

	raw := bytes.Split(bytes.TrimRight(buf, "\n"), []byte("\n"))
	lines := make([]string, 0, maxLines)
	for i := len(raw) - 1; i >= 0 && len(lines) < maxLines; i-- {
		line := bytes.TrimSpace(raw[i])
		if len(line) == 0 || !keep(line) {
			continue
		}
		lines = append(lines, string(line))
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}

	return &Excerpt{
		Lines: lines,
		Meta: ExcerptMeta{
			Mode:       "tail",
			MaxBytes:   maxBytes,
			BytesRead:  n,
			FileSize:   size,
			Truncated:  truncated,
			LinesFound: len(lines),
		},
	}, nil
}

func clamp(v, def, lo, hi int) int {
	if v <= 0 {
		v = def
	}
	return min(max(v, lo), hi)
}
