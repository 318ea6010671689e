package service

import (
	"time"

	"github.com/terrama2/services/pkg/auditlog"
)

// Outcome of one run.
type Run struct {
	ProcessId     int64
	RegisterId    auditlog.RegisterId
	Status        auditlog.Status
	Start         time.Time
	End           time.Time
	DataTimestamp time.Time
	Err           error
}

// Receives run telemetry. Called from worker routines, must not block.
type Observer interface {
	RunFinished(run *Run)
}

type ObserverFunc func(run *Run)

func (f ObserverFunc) RunFinished(run *Run) {
	f(run)
}
