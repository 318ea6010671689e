package control

import (
	"context"
	"sync"
	"time"

	"github.com/terrama2/services/pkg/log"
	"github.com/terrama2/services/pkg/protocol"
	"github.com/terrama2/services/pkg/registry"
	"github.com/terrama2/services/pkg/service"
)

const (
	notifyQueueSize    = 256
	notifyTimeout      = 5 * time.Second
	notifyDrainTimeout = 5 * time.Second
)

// Sends a PROCESS_FINISHED notification to the controller after every run.
// Notifications are dropped when the controller cannot keep up.
type Notifier struct {
	client     *protocol.Client
	instanceId int64
	kind       registry.Kind

	// Longest time Close waits for queued notifications
	drainTimeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan *protocol.ProcessFinishedNotification
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewNotifier(address string, instanceId int64, kind registry.Kind) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		client:       &protocol.Client{Address: address, Timeout: notifyTimeout},
		instanceId:   instanceId,
		kind:         kind,
		drainTimeout: notifyDrainTimeout,
		queue:        make(chan *protocol.ProcessFinishedNotification, notifyQueueSize),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (n *Notifier) Start() {
	n.wg.Add(1)
	go n.run(n.ctx)
}

// Send queued notifications and stop. Notifications still queued after the
// drain timeout are dropped. Closing twice does nothing.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(n.drainTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		log.Warn("nok - notify - controller unreachable, dropping", len(n.queue), "queued runs")
	}

	n.cancel()
	<-done
}

// Implementation of service.Observer
func (n *Notifier) RunFinished(run *service.Run) {
	notification := &protocol.ProcessFinishedNotification{
		InstanceId: n.instanceId,
		Kind:       n.kind,
		ProcessId:  run.ProcessId,
		RegisterId: run.RegisterId,
		Status:     run.Status,
		Start:      run.Start,
		End:        run.End,
	}
	if !run.DataTimestamp.IsZero() {
		ts := run.DataTimestamp
		notification.DataTimestamp = &ts
	}
	if run.Err != nil {
		notification.Error = run.Err.Error()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		log.Debug("nok - notify - closed, dropping run", run.RegisterId)
		return
	}

	select {
	case n.queue <- notification:
	default:
		log.Warn("nok - notify - queue full, dropping run", run.RegisterId)
	}
}

func (n *Notifier) run(ctx context.Context) {
	defer n.wg.Done()

	for notification := range n.queue {
		if ctx.Err() != nil {
			continue
		}
		if err := n.client.Call(ctx, protocol.ProcessFinished, notification, nil); err != nil {
			log.Warn("nok - notify - run:", notification.RegisterId, err)
			continue
		}
		log.Trace("end - notify - run:", notification.RegisterId)
	}
}
