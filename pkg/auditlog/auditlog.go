package auditlog

import (
	"context"
	"errors"
	"regexp"
	"time"
)

var (
	ErrNotFound          = errors.New("Run not found")
	ErrInvalidTransition = errors.New("Invalid run status transition")
	ErrNoTable           = errors.New("No audit table configured")
	ErrInvalidTable      = errors.New("Invalid audit table name")
	ErrClosed            = errors.New("Audit target closed")
)

// Identifies one run of a process.
type RegisterId int64

type Status string

const (
	Started    Status = "started"
	Collecting Status = "collecting"
	Processing Status = "processing"
	Done       Status = "done"
	Failed     Status = "error"
)

// States a run can still leave.
var nonTerminal = []Status{Started, Collecting, Processing}

func (s Status) IsTerminal() bool {
	return s == Done || s == Failed
}

type Severity string

const (
	ErrorSeverity   Severity = "error"
	WarningSeverity Severity = "warning"
	InfoSeverity    Severity = "info"
	DebugSeverity   Severity = "debug"
)

type Message struct {
	Id          int64     `json:"id"`
	Severity    Severity  `json:"type"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// One run of a process.
type Record struct {
	RegisterId           RegisterId `json:"id"`
	ProcessId            int64      `json:"process_id"`
	Status               Status     `json:"status"`
	StartTimestamp       time.Time  `json:"start_timestamp"`
	DataTimestamp        *time.Time `json:"data_timestamp,omitempty"`
	LastProcessTimestamp time.Time  `json:"last_process_timestamp"`
	Messages             []Message  `json:"messages,omitempty"`
}

// Selects runs. Zero values do not restrict.
type Filter struct {
	ProcessIds []int64
	// Inclusive lower bound of the start timestamp
	Begin time.Time
	// Exclusive upper bound of the start timestamp
	End time.Time
	// Keep only the most recent runs
	Limit int
}

func (f *Filter) matches(r *Record) bool {
	if len(f.ProcessIds) > 0 {
		found := false
		for _, pid := range f.ProcessIds {
			if pid == r.ProcessId {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if !f.Begin.IsZero() && r.StartTimestamp.Before(f.Begin) {
		return false
	}

	if !f.End.IsZero() && !r.StartTimestamp.Before(f.End) {
		return false
	}

	return true
}

// Persistence of runs, one set of runs per table.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create a run in Started state.
	Insert(ctx context.Context, table string, processId int64, ts time.Time) (RegisterId, error)

	// Move a run to status if it currently is in one of from.
	// A non-nil data timestamp is stored with the transition.
	Transition(ctx context.Context, table string, id RegisterId, to Status, from []Status, ts time.Time, data *time.Time) error

	// Append a message to a run.
	Append(ctx context.Context, table string, id RegisterId, msg Message) error

	// Get a run with its messages.
	Get(ctx context.Context, table string, id RegisterId) (*Record, error)

	// Find runs with their messages, ordered by register id.
	Find(ctx context.Context, table string, filter Filter) ([]*Record, error)

	// The Done run of a process with the latest start timestamp.
	LastDone(ctx context.Context, table string, processId int64) (*Record, error)

	// The newest data timestamp over all Done runs of a process, nil if
	// none stored one.
	LastDataTimestamp(ctx context.Context, table string, processId int64) (*time.Time, error)

	Close() error
}

var tableRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func checkTable(table string) error {
	if table == "" {
		return ErrNoTable
	}
	if !tableRe.MatchString(table) {
		return ErrInvalidTable
	}
	return nil
}

func containsStatus(list []Status, status Status) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

// Keep the last limit records.
func tail(records []*Record, limit int) []*Record {
	if limit > 0 && len(records) > limit {
		return records[len(records)-limit:]
	}
	return records
}
