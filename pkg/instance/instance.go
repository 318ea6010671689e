package instance

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/terrama2/services/pkg/auditlog"
	"github.com/terrama2/services/pkg/log"
	"github.com/terrama2/services/pkg/protocol"
	"github.com/terrama2/services/pkg/registry"
	"github.com/terrama2/services/pkg/service"
)

var ErrShuttingDown = errors.New("Service is shutting down")

type Options struct {
	Id      int64
	Name    string
	Kind    registry.Kind
	Version string
	Host    Host
}

// State shared by the components of one service process.
//
// Created once at startup and passed to the control server and the HTTP
// handlers. Reconfiguration goes through its methods.
type Instance struct {
	sync.RWMutex

	id        int64
	name      string
	kind      registry.Kind
	version   string
	host      Host
	bootId    uuid.UUID
	startTime time.Time

	registry *registry.Registry
	service  *service.Service
	logger   *auditlog.Logger

	shuttingDown bool
	shutdownOnce sync.Once
	done         chan struct{}
}

func New(opts Options, reg *registry.Registry, svc *service.Service, logger *auditlog.Logger) *Instance {
	host := opts.Host
	if host == nil {
		host = NewHost()
	}

	return &Instance{
		id:        opts.Id,
		name:      opts.Name,
		kind:      opts.Kind,
		version:   opts.Version,
		host:      host,
		bootId:    uuid.New(),
		startTime: time.Now(),
		registry:  reg,
		service:   svc,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

func (i *Instance) Id() int64 {
	return i.id
}

func (i *Instance) Kind() registry.Kind {
	return i.kind
}

func (i *Instance) BootId() string {
	return i.bootId.String()
}

func (i *Instance) Registry() *registry.Registry {
	return i.registry
}

func (i *Instance) Service() *service.Service {
	return i.service
}

func (i *Instance) Logger() *auditlog.Logger {
	return i.logger
}

func (i *Instance) UpdateWorkerCount(n int) {
	i.service.UpdateWorkerCount(n)
}

// Record runs started from now on in the store at uri.
func (i *Instance) UpdateLogTarget(uri string) error {
	if err := i.logger.Target().Reopen(uri); err != nil {
		log.Warn("nok - audit - target:", uri, err)
		return err
	}
	return nil
}

func (i *Instance) ShuttingDown() bool {
	i.RLock()
	defer i.RUnlock()
	return i.shuttingDown
}

func (i *Instance) Status() *protocol.StatusResponse {
	target := i.logger.Target()

	return &protocol.StatusResponse{
		InstanceId:   i.id,
		InstanceName: i.name,
		Kind:         i.kind,
		BootId:       i.BootId(),
		Version:      i.version,
		Host:         i.host,
		StartTime:    i.startTime,
		LoggerOnline: target.Online(),
		LogTarget:    target.Uri(),
		ShuttingDown: i.ShuttingDown(),
		Service:      i.service.Statistics(),
	}
}

// Stop the service, waiting for running tasks, and release Done.
// Later calls return immediately.
func (i *Instance) Shutdown() {
	i.shutdownOnce.Do(func() {
		log.Info("Shutting down")

		i.Lock()
		i.shuttingDown = true
		i.Unlock()

		i.service.Stop()
		close(i.done)
	})
}

// Closed once Shutdown has stopped the service.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}
