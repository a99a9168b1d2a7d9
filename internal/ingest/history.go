package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dejo1307/envmap/internal/graph"
)

// maxLineSize bounds one JSONL record.
const maxLineSize = 4 << 20

// HistoryStore is the append-only JSONL run history.
type HistoryStore struct {
	path string

	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

// NewHistoryStore opens the history at path. The file is created on first
// Append.
func NewHistoryStore(path string) *HistoryStore {
	return &HistoryStore{
		path:  path,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Path returns the history file path.
func (h *HistoryStore) Path() string { return h.path }

// Append writes rec as one JSON line. A missing RunID gets a fresh UUID and a
// missing Timestamp gets the current UTC time; both are written back to rec.
func (h *HistoryStore) Append(rec *graph.RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rec.RunID == "" {
		rec.RunID = h.newID()
	}
	if rec.Timestamp == "" {
		rec.Timestamp = h.now().UTC().Format(time.RFC3339)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", rec.RunID, err)
	}
	line = append(line, '\n')

	if dir := filepath.Dir(h.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating history dir: %w", err)
		}
	}
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("writing history: %w", err)
	}
	return f.Close()
}

// ReadAll returns every record in file order. A missing file is an empty
// history.
func (h *HistoryStore) ReadAll() ([]graph.RunRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	defer f.Close()
	return ReadRuns(f, h.path)
}

// ReadRuns decodes JSONL run records from r. Blank lines are skipped; name
// labels decode errors.
func ReadRuns(r io.Reader, name string) ([]graph.RunRecord, error) {
	var runs []graph.RunRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec graph.RunRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, &DecodeError{Path: name, Line: lineNo, Err: err}
		}
		runs = append(runs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return runs, nil
}
