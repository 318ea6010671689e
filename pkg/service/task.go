package service

import (
	"cmp"
	"context"
	"time"

	"github.com/terrama2/services/pkg/auditlog"
	"github.com/terrama2/services/pkg/registry"
	"github.com/terrama2/services/pkg/utils"
)

// A due instance of a process.
type Task struct {
	ProcessId int64

	// When the process became due
	Due time.Time

	// Reference time requested by the controller for triggered runs
	Override *time.Time

	// Run identifier, assigned when a worker starts the task
	RegisterId auditlog.RegisterId

	// Zero means no timeout
	Timeout time.Duration

	// Data timestamp of the last successful run, if any
	LastDataTimestamp *time.Time

	// Snapshot of the process configuration
	Entity *registry.Entity

	started bool

	// Enqueue order
	seq uint64
}

// Tasks pop in enqueue order. A process has at most one queued task, so
// tasks are equal when their process ids are.
func newTaskQueue() *utils.PriorityQueue[*Task] {
	return utils.NewPriorityQueue(
		func(a, b *Task) int {
			return cmp.Compare(a.seq, b.seq)
		},
		func(a, b *Task) bool {
			return a.ProcessId == b.ProcessId
		},
	)
}

// Reference time of the run: the override when triggered, else the due time.
func (t *Task) Timestamp() time.Time {
	if t.Override != nil {
		return *t.Override
	}
	return t.Due
}

type Result struct {
	// Business timestamp of the newest data processed. Zero if none.
	DataTimestamp time.Time
}

// Performs the domain work of one kind of process.
//
// Execute is called from a worker with the run already started in the audit
// log. It may record messages and intermediate states through the logger.
// The context is cancelled when the run times out or the service stops
// waiting for it.
type Executor interface {
	Execute(ctx context.Context, task *Task, logger *auditlog.Logger) (Result, error)
}

type ExecutorFunc func(ctx context.Context, task *Task, logger *auditlog.Logger) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, task *Task, logger *auditlog.Logger) (Result, error) {
	return f(ctx, task, logger)
}
