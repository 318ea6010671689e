package service

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/terrama2/services/pkg/auditlog"
	"github.com/terrama2/services/pkg/log"
	"github.com/terrama2/services/pkg/registry"
	"github.com/terrama2/services/pkg/timer"
	"github.com/terrama2/services/pkg/utils"
)

var (
	ErrAlreadyRunning   = errors.New("Service already running")
	ErrNotRunning       = errors.New("Service not running")
	ErrAlreadyScheduled = errors.New("Process already scheduled")
	ErrInactive         = errors.New("Process not active")
	ErrTimeout          = errors.New("timeout")
	ErrPanic            = errors.New("Executor panic")
)

type State int

const (
	Stopped State = iota
	Running
	Stopping
)

var stateNames = map[State]string{
	Stopped:  "stopped",
	Running:  "running",
	Stopping: "stopping",
}

func (s State) String() string {
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown service state: %s", text)
}

const DefaultTickPeriod = time.Minute

type Options struct {
	// Process kind dispatched by the service
	Kind registry.Kind

	Registry *registry.Registry
	Executor Executor

	// Audit logger, each worker records runs through its own clone
	Logger *auditlog.Logger

	// Longest sleep of the dispatch loop. Defaults to DefaultTickPeriod.
	TickPeriod time.Duration

	// Registerer for service metrics, may be nil
	Metrics prometheus.Registerer
}

// Scheduling state of one process.
type entry struct {
	schedule  timer.Schedule
	immediate bool
	due       time.Time

	// Schedule could not be evaluated, the process never becomes due
	invalid bool
}

// Dispatcher and worker pool for the processes of one kind.
//
// A single dispatch routine queues due processes and a pool of worker
// routines executes them. At most one task per process is queued or
// executing at any time.
type Service struct {
	sync.Mutex
	cond *sync.Cond

	kind       registry.Kind
	registry   *registry.Registry
	executor   Executor
	logger     *auditlog.Logger
	tickPeriod time.Duration
	now        func() time.Time

	state State

	// Channel used to wake the dispatch loop
	wake chan bool

	// Closed when Stop is requested
	stopChan chan struct{}

	// Closed when the dispatch loop returns
	loopDone chan struct{}

	// Closed when the service reaches Stopped
	stopped chan struct{}

	workers sync.WaitGroup

	// Tasks waiting for a worker, in enqueue order
	queue   *utils.PriorityQueue[*Task]
	nextSeq uint64

	// Queued or executing task per process
	inFlight map[int64]*Task

	// Scheduling state per active process
	entries map[int64]*entry

	// Configured worker count
	workerCount int

	// Live worker routines, and how many of them have been asked to exit
	alive        map[int]bool
	retiring     int
	nextWorkerId int

	observers []Observer
	metrics   *metrics

	// Statistics
	numRunning    int64
	numSuccessful int64
	numFailed     int64
	numTriggered  int64
}

func New(opts Options) *Service {
	tickPeriod := opts.TickPeriod
	if tickPeriod <= 0 {
		tickPeriod = DefaultTickPeriod
	}

	s := &Service{
		kind:       opts.Kind,
		registry:   opts.Registry,
		executor:   opts.Executor,
		logger:     opts.Logger,
		tickPeriod: tickPeriod,
		now:        time.Now,
		wake:       make(chan bool, 1),
		queue:      newTaskQueue(),
		inFlight:   map[int64]*Task{},
		entries:    map[int64]*entry{},
		alive:      map[int]bool{},
	}
	s.cond = sync.NewCond(&s.Mutex)
	s.metrics = newMetrics(opts.Metrics, s)
	return s
}

func (s *Service) Kind() registry.Kind {
	return s.kind
}

func (s *Service) State() State {
	s.Lock()
	defer s.Unlock()
	return s.state
}

func (s *Service) AddObserver(observer Observer) {
	s.Lock()
	defer s.Unlock()
	s.observers = append(s.observers, observer)
}

func defaultWorkerCount(n int) int {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Start the dispatch loop and n worker routines.
// n <= 0 selects the number of hardware threads.
func (s *Service) Start(n int) error {
	s.Lock()
	defer s.Unlock()

	if s.state != Stopped {
		return ErrAlreadyRunning
	}

	s.state = Running
	s.stopChan = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.stopped = make(chan struct{})
	s.queue = newTaskQueue()
	s.inFlight = map[int64]*Task{}
	s.entries = map[int64]*entry{}
	s.alive = map[int]bool{}
	s.retiring = 0
	s.workerCount = defaultWorkerCount(n)

	log.Infof("Starting %s service with %d workers", s.kind, s.workerCount)

	s.spawnNoLock(s.workerCount)
	go s.run()
	return nil
}

// Stop dispatching and wait for executing tasks to finish.
// Queued tasks are discarded. Stopping a stopped service does nothing.
func (s *Service) Stop() {
	s.Lock()

	switch s.state {
	case Stopped:
		s.Unlock()
		return

	case Stopping:
		stopped := s.stopped
		s.Unlock()
		<-stopped
		return
	}

	log.Infof("Stopping %s service", s.kind)

	s.state = Stopping
	close(s.stopChan)
	for _, task := range s.queue.Clear() {
		delete(s.inFlight, task.ProcessId)
	}
	s.cond.Broadcast()

	loopDone := s.loopDone
	stopped := s.stopped
	s.Unlock()

	<-loopDone
	s.workers.Wait()

	s.Lock()
	s.state = Stopped
	s.alive = map[int]bool{}
	close(stopped)
	s.Unlock()

	log.Infof("Stopped %s service", s.kind)
}

// Ask the dispatch loop to re-evaluate the registry.
func (s *Service) Wake() {
	select {
	case s.wake <- true:
	default:
	}
}

// Queue a run of a process regardless of its schedule.
func (s *Service) Trigger(processId int64, override time.Time) error {
	entity, err := s.registry.Get(registry.Key{Kind: s.kind, Id: processId})
	if err != nil {
		return err
	}

	if !entity.Active {
		return fmt.Errorf("%w: %s", ErrInactive, entity.Key())
	}

	s.Lock()
	defer s.Unlock()

	if s.state != Running {
		return ErrNotRunning
	}

	if _, ok := s.inFlight[processId]; ok {
		log.Debug("nok - trigger - already scheduled - id:", processId)
		return fmt.Errorf("%w: %s", ErrAlreadyScheduled, entity.Key())
	}

	task := s.newTaskNoLock(entity, s.now())
	if !override.IsZero() {
		task.Override = &override
	}

	log.Info("new - trigger - id:", processId)
	s.enqueueNoLock(task)
	s.numTriggered++
	s.metrics.triggers.Inc()
	return nil
}

// Change the number of worker routines. Busy workers finish their
// task before they exit. n <= 0 selects the number of hardware threads.
func (s *Service) UpdateWorkerCount(n int) {
	s.Lock()
	defer s.Unlock()

	n = defaultWorkerCount(n)
	s.workerCount = n

	if s.state != Running {
		return
	}

	diff := n - (len(s.alive) - s.retiring)
	if diff > 0 {
		cancelled := min(diff, s.retiring)
		s.retiring -= cancelled
		s.spawnNoLock(diff - cancelled)
	} else if diff < 0 {
		s.retiring += -diff
		s.cond.Broadcast()
	}

	log.Infof("upd - workers - count: %d", n)
}

func (s *Service) WorkerCount() int {
	s.Lock()
	defer s.Unlock()
	return s.workerCount
}

// Service statistics
type Statistics struct {
	State State `json:"state"`

	// Number of worker routines
	Workers int64 `json:"workers"`

	// Number of scheduled processes
	Processes int64 `json:"processes"`

	// Number of tasks waiting for a worker
	QueuedTasks int64 `json:"queued_tasks"`

	// Number of tasks being executed
	RunningTasks int64 `json:"running_tasks"`

	// Total number of successful runs
	SuccessfulTasks int64 `json:"successful_tasks"`

	// Total number of failed runs
	FailedTasks int64 `json:"failed_tasks"`

	// Total number of finished runs
	CompletedTasks int64 `json:"completed_tasks"`

	// Total number of accepted triggers
	TriggeredTasks int64 `json:"triggered_tasks"`
}

func (s *Service) Statistics() *Statistics {
	s.Lock()
	defer s.Unlock()

	return &Statistics{
		State:           s.state,
		Workers:         int64(len(s.alive) - s.retiring),
		Processes:       int64(len(s.entries)),
		QueuedTasks:     int64(s.queue.Len()),
		RunningTasks:    s.numRunning,
		SuccessfulTasks: s.numSuccessful,
		FailedTasks:     s.numFailed,
		CompletedTasks:  s.numSuccessful + s.numFailed,
		TriggeredTasks:  s.numTriggered,
	}
}

// True if the process has a queued or executing task.
func (s *Service) InFlight(processId int64) bool {
	s.Lock()
	defer s.Unlock()
	_, ok := s.inFlight[processId]
	return ok
}

func (s *Service) newTaskNoLock(entity *registry.Entity, due time.Time) *Task {
	task := &Task{
		ProcessId: entity.Id,
		Due:       due,
		Entity:    entity,
	}
	if entity.Schedule != nil {
		task.Timeout = entity.Schedule.Timeout.Std()
	}
	return task
}

func (s *Service) enqueueNoLock(task *Task) {
	s.nextSeq++
	task.seq = s.nextSeq
	s.queue.Push(task)
	s.inFlight[task.ProcessId] = task
	s.cond.Signal()
}

// Drop the queued task of a process. Executing tasks are left alone.
func (s *Service) purgeNoLock(processId int64) {
	task, ok := s.inFlight[processId]
	if !ok || task.started {
		return
	}

	s.queue.Remove(task)
	delete(s.inFlight, processId)
	log.Debug("del - task - id:", processId)
}
