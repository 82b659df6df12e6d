package audit

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"sync"
	"time"

	"sjsage522/estateworker/pkg/errors"
)

// Stages at which a record can be dropped or held
const (
	StageFetch     = "fetch"
	StageExtract   = "extract"
	StageNormalize = "normalize"
	StageGate      = "gate"
	StageDedupe    = "dedupe"
	StageGeocode   = "geocode"
	StageStore     = "store"
	StagePublish   = "publish"
	StageRun       = "run"
)

// Entry is one line of the audit trail. It carries the identity hint of
// the affected record, never its payload.
type Entry struct {
	RunID     string         `json:"run_id"`
	Source    string         `json:"source,omitempty"`
	Stage     string         `json:"stage"`
	ErrorType string         `json:"error_type,omitempty"`
	Hint      string         `json:"hint,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Counts    map[string]int `json:"counts,omitempty"`
	Time      time.Time      `json:"time"`
}

// NewEntry builds an entry for a failed record
func NewEntry(runID, source, stage, hint string, err error) Entry {
	e := Entry{
		RunID:  runID,
		Source: source,
		Stage:  stage,
		Hint:   hint,
		Time:   time.Now().UTC(),
	}
	if err != nil {
		e.ErrorType = string(errors.TypeOf(err))
		e.Reason = err.Error()
	}
	return e
}

// Sink persists audit entries
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// FileSink appends entries as JSON lines to a file
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink creates a new file sink
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Record appends one entry
func (s *FileSink) Record(_ context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	_, err = f.Write(line)
	return err
}

// Multi fans an entry out to several sinks
type Multi []Sink

// Record writes to every sink and joins their errors
func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Nop discards entries
type Nop struct{}

// Record does nothing
func (Nop) Record(context.Context, Entry) error { return nil }
