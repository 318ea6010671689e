package service

import (
	"context"
	"fmt"
	"time"

	"github.com/terrama2/services/pkg/auditlog"
	"github.com/terrama2/services/pkg/log"
	"github.com/terrama2/services/pkg/timer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/terrama2/services/pkg/service")

func (s *Service) spawnNoLock(n int) {
	for i := 0; i < n; i++ {
		s.nextWorkerId++
		id := s.nextWorkerId
		s.alive[id] = true
		s.workers.Add(1)
		go s.worker(id)
	}
}

func (s *Service) worker(id int) {
	defer s.workers.Done()

	log.Debug("new - worker - id:", id)
	defer log.Debug("del - worker - id:", id)

	var logger *auditlog.Logger
	if s.logger != nil {
		logger = s.logger.Clone()
	}

	for {
		task := s.next(id)
		if task == nil {
			return
		}
		s.execute(logger, task)
	}
}

// Wait for a task. Returns nil when the worker must exit.
func (s *Service) next(id int) *Task {
	s.Lock()
	defer s.Unlock()

	for {
		if s.state != Running {
			delete(s.alive, id)
			return nil
		}

		if s.retiring > 0 {
			s.retiring--
			delete(s.alive, id)
			return nil
		}

		if task, ok := s.queue.Pop(); ok {
			task.started = true
			s.numRunning++
			return task
		}

		s.cond.Wait()
	}
}

// Execute a task and record its outcome.
func (s *Service) execute(logger *auditlog.Logger, task *Task) {
	ctx, span := tracer.Start(context.Background(), "run",
		trace.WithAttributes(
			attribute.String("process.kind", string(s.kind)),
			attribute.Int64("process.id", task.ProcessId),
		))
	defer span.End()

	start := s.now()
	run := &Run{ProcessId: task.ProcessId, Start: start}

	if logger != nil {
		if ts, ok, err := logger.LastDataTimestamp(ctx, task.ProcessId); err != nil {
			log.Warn("Failed to read last data timestamp of process", task.ProcessId, err)
		} else if ok {
			task.LastDataTimestamp = &ts
		}

		id, err := logger.Start(ctx, task.ProcessId)
		if err != nil {
			log.Error("nok - run - process:", task.ProcessId, err)
			run.Err = err
			s.finish(task, run, span)
			return
		}
		task.RegisterId = id
		run.RegisterId = id
	}

	span.SetAttributes(attribute.Int64("run.id", int64(task.RegisterId)))
	log.Infof("exe - run - id: %d, process: %d", task.RegisterId, task.ProcessId)

	result, err := s.call(ctx, logger, task)
	run.Err = err
	run.DataTimestamp = result.DataTimestamp

	if logger != nil {
		if err != nil {
			if err := logger.Error(ctx, err.Error(), task.RegisterId); err != nil {
				log.Error("Failed to record failed run", task.RegisterId, err)
			}
		} else if err := logger.Done(ctx, result.DataTimestamp, task.RegisterId); err != nil {
			log.Error("Failed to record finished run", task.RegisterId, err)
		}
	}

	s.finish(task, run, span)
}

// Call the executor, recovering panics and enforcing the task timeout.
// A timed out executor is abandoned, its context is cancelled.
func (s *Service) call(ctx context.Context, logger *auditlog.Logger, task *Task) (Result, error) {
	if task.Timeout <= 0 {
		return s.protect(ctx, logger, task)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}

	done := make(chan outcome, 1)
	go func() {
		result, err := s.protect(ctx, logger, task)
		done <- outcome{result, err}
	}()

	deadline := time.NewTimer(task.Timeout)
	defer deadline.Stop()

	select {
	case o := <-done:
		return o.result, o.err
	case <-deadline.C:
		log.Warnf("nok - run - id: %d, timed out after %s", task.RegisterId, task.Timeout)
		return Result{}, ErrTimeout
	}
}

func (s *Service) protect(ctx context.Context, logger *auditlog.Logger, task *Task) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Executor panic in process %d: %v", task.ProcessId, r)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	return s.executor.Execute(ctx, task, logger)
}

// Release the process and compute when it is due again.
func (s *Service) finish(task *Task, run *Run, span trace.Span) {
	run.End = s.now()
	run.Status = auditlog.Done
	if run.Err != nil {
		run.Status = auditlog.Failed
		span.RecordError(run.Err)
		span.SetStatus(codes.Error, run.Err.Error())
		log.Infof("end - run - id: %d, process: %d, error: %v", run.RegisterId, run.ProcessId, run.Err)
	} else {
		log.Infof("end - run - id: %d, process: %d, done", run.RegisterId, run.ProcessId)
	}

	s.metrics.observe(run.Status, run.End.Sub(run.Start))

	s.Lock()
	if s.inFlight[task.ProcessId] == task {
		delete(s.inFlight, task.ProcessId)
	}
	s.numRunning--
	if run.Err != nil {
		s.numFailed++
	} else {
		s.numSuccessful++
	}

	if e, ok := s.entries[task.ProcessId]; ok && !e.invalid {
		if retry := e.schedule.Retry.Std(); run.Err != nil && retry > 0 {
			e.due = run.End.Add(retry)
		} else if due, err := timer.DueAfter(&e.schedule, run.Start); err == nil {
			e.due = due
		}
	}

	observers := append([]Observer(nil), s.observers...)
	s.Unlock()

	s.Wake()

	for _, observer := range observers {
		observer.RunFinished(run)
	}
}
