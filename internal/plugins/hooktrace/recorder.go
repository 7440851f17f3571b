package hooktrace

import (
	"errors"
	"time"

	"github.com/soyeahso/netplug/internal/logging"
	"github.com/soyeahso/netplug/internal/store"
)

// Record is one observed hook dispatch.
type Record struct {
	Seq    int       `json:"seq"`
	Phase  string    `json:"phase"`
	Hook   string    `json:"hook"`
	Args   string    `json:"args"`
	Result string    `json:"result,omitempty"`
	At     time.Time `json:"at"`
}

// Recorder receives trace records. Implementations that also have a
// Close() error method are closed when the plugin finishes.
type Recorder interface {
	Record(rec Record) error
}

// LogRecorder writes records to a logger at debug level.
type LogRecorder struct {
	log *logging.Logger
}

// NewLogRecorder creates a recorder that logs under the "trace" subsystem.
func NewLogRecorder(log *logging.Logger) *LogRecorder {
	return &LogRecorder{log: log.Sub("trace")}
}

// Record implements Recorder.
func (r *LogRecorder) Record(rec Record) error {
	ev := r.log.Debug().
		Int("seq", rec.Seq).
		Str("phase", rec.Phase).
		Str("hook", rec.Hook).
		Str("args", rec.Args)
	if rec.Phase == PhasePost {
		ev = ev.Str("result", rec.Result)
	}
	ev.Msg("hook")
	return nil
}

// StoreRecorder persists records as one run in a trace store.
type StoreRecorder struct {
	store *store.TraceStore
	runID string
}

// NewStoreRecorder starts a run tagged with the active plugin names.
func NewStoreRecorder(ts *store.TraceStore, plugins []string) (*StoreRecorder, error) {
	id, err := ts.BeginRun(plugins)
	if err != nil {
		return nil, err
	}
	return &StoreRecorder{store: ts, runID: id}, nil
}

// RunID returns the run the recorder writes to.
func (r *StoreRecorder) RunID() string { return r.runID }

// Record implements Recorder.
func (r *StoreRecorder) Record(rec Record) error {
	return r.store.Append(store.TraceRecord{
		RunID:  r.runID,
		Seq:    rec.Seq,
		Phase:  rec.Phase,
		Hook:   rec.Hook,
		Args:   rec.Args,
		Result: rec.Result,
		At:     rec.At,
	})
}

// Close marks the run finished.
func (r *StoreRecorder) Close() error {
	return r.store.EndRun(r.runID)
}

// Tee fans each record out to every recorder in order.
type Tee []Recorder

// Record implements Recorder. Every recorder sees the record even when an
// earlier one fails.
func (t Tee) Record(rec Record) error {
	var errs []error
	for _, r := range t {
		if err := r.Record(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the recorders that have a Close method.
func (t Tee) Close() error {
	var errs []error
	for _, r := range t {
		if c, ok := r.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
