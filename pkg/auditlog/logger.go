package auditlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/terrama2/services/pkg/log"
)

// Records the lifecycle of process runs in one table of a target.
//
// A run moves from Started through any number of Collecting and Processing
// states to either Done or Error. Error is reachable from every non-terminal
// state. Loggers are safe for concurrent use.
type Logger struct {
	target *Target
	table  string

	mu sync.Mutex
	// Store each unfinished run was started on
	pins map[RegisterId]Store

	now func() time.Time
}

func New(target *Target, table string) *Logger {
	return &Logger{
		target: target,
		table:  table,
		pins:   map[RegisterId]Store{},
		now:    time.Now,
	}
}

// A new logger sharing the target and table.
func (l *Logger) Clone() *Logger {
	clone := New(l.target, l.table)
	clone.now = l.now
	return clone
}

func (l *Logger) Table() string {
	return l.table
}

func (l *Logger) Target() *Target {
	return l.target
}

// Create a run of a process.
func (l *Logger) Start(ctx context.Context, processId int64) (RegisterId, error) {
	if err := checkTable(l.table); err != nil {
		return 0, err
	}

	store, err := l.target.acquire()
	if err != nil {
		return 0, err
	}

	id, err := store.Insert(ctx, l.table, processId, l.now())
	if err != nil {
		l.target.release(store)
		return 0, fmt.Errorf("start of process %d: %w", processId, err)
	}

	l.mu.Lock()
	l.pins[id] = store
	l.mu.Unlock()

	log.Debug("new - run - id:", id, "process:", processId)
	return id, nil
}

// Mark a run as collecting or processing.
func (l *Logger) SetStatus(ctx context.Context, id RegisterId, status Status) error {
	if status != Collecting && status != Processing {
		return fmt.Errorf("%w: cannot set %s", ErrInvalidTransition, status)
	}

	store, err := l.store(id)
	if err != nil {
		return err
	}

	return store.Transition(ctx, l.table, id, status, nonTerminal, l.now(), nil)
}

// Append a message to a run. The status does not change.
func (l *Logger) Log(ctx context.Context, severity Severity, description string, id RegisterId) error {
	store, err := l.store(id)
	if err != nil {
		return err
	}

	return store.Append(ctx, l.table, id, Message{
		Severity:    severity,
		Description: description,
		Timestamp:   l.now(),
	})
}

// Finish a run successfully. dataTimestamp is the time of the newest data
// the run processed, a zero value stores none.
func (l *Logger) Done(ctx context.Context, dataTimestamp time.Time, id RegisterId) error {
	store, err := l.store(id)
	if err != nil {
		return err
	}
	defer l.unpin(id)

	var data *time.Time
	if !dataTimestamp.IsZero() {
		data = &dataTimestamp
	}

	if err := store.Transition(ctx, l.table, id, Done, nonTerminal, l.now(), data); err != nil {
		return err
	}

	log.Debug("end - run - id:", id, "done")
	return nil
}

// Finish a run with a failure.
func (l *Logger) Error(ctx context.Context, description string, id RegisterId) error {
	store, err := l.store(id)
	if err != nil {
		return err
	}
	defer l.unpin(id)

	now := l.now()
	if err := store.Transition(ctx, l.table, id, Failed, nonTerminal, now, nil); err != nil {
		return err
	}

	log.Debug("end - run - id:", id, "error:", description)
	return store.Append(ctx, l.table, id, Message{
		Severity:    ErrorSeverity,
		Description: description,
		Timestamp:   now,
	})
}

// Start time of the latest successful run of a process.
func (l *Logger) LastSuccessTimestamp(ctx context.Context, processId int64) (time.Time, bool, error) {
	record, err := l.lastDone(ctx, processId)
	if err != nil || record == nil {
		return time.Time{}, false, err
	}
	return record.StartTimestamp, true, nil
}

// Newest data timestamp stored by any successful run of a process. Runs
// that found no new data do not move it back.
func (l *Logger) LastDataTimestamp(ctx context.Context, processId int64) (time.Time, bool, error) {
	if err := checkTable(l.table); err != nil {
		return time.Time{}, false, err
	}

	store, err := l.target.current()
	if err != nil {
		return time.Time{}, false, err
	}

	data, err := store.LastDataTimestamp(ctx, l.table, processId)
	if err != nil || data == nil {
		return time.Time{}, false, err
	}
	return *data, true, nil
}

// Get a run with its messages.
func (l *Logger) Run(ctx context.Context, id RegisterId) (*Record, error) {
	store, err := l.store(id)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, l.table, id)
}

// Find runs in the current store.
func (l *Logger) Runs(ctx context.Context, filter Filter) ([]*Record, error) {
	if err := checkTable(l.table); err != nil {
		return nil, err
	}

	store, err := l.target.current()
	if err != nil {
		return nil, err
	}
	return store.Find(ctx, l.table, filter)
}

func (l *Logger) lastDone(ctx context.Context, processId int64) (*Record, error) {
	if err := checkTable(l.table); err != nil {
		return nil, err
	}

	store, err := l.target.current()
	if err != nil {
		return nil, err
	}

	record, err := store.LastDone(ctx, l.table, processId)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return record, err
}

func (l *Logger) store(id RegisterId) (Store, error) {
	if err := checkTable(l.table); err != nil {
		return nil, err
	}

	l.mu.Lock()
	store, ok := l.pins[id]
	l.mu.Unlock()

	if ok {
		return store, nil
	}
	return l.target.current()
}

func (l *Logger) unpin(id RegisterId) {
	l.mu.Lock()
	store, ok := l.pins[id]
	delete(l.pins, id)
	l.mu.Unlock()

	if ok {
		l.target.release(store)
	}
}
