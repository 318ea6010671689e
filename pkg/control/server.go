package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/terrama2/services/pkg/instance"
	"github.com/terrama2/services/pkg/log"
	"github.com/terrama2/services/pkg/protocol"
)

const DefaultReadTimeout = 30 * time.Second

type Options struct {
	// Largest accepted frame. Defaults to protocol.DefaultMaxFrameSize.
	MaxFrameSize uint32

	// Time a controller has to deliver its request
	ReadTimeout time.Duration
}

// Accepts control connections. Each connection carries one request frame
// and receives one reply frame.
type Server struct {
	sync.Mutex

	instance *instance.Instance
	opts     Options
	listener net.Listener
	closed   bool
	conns    sync.WaitGroup
}

func NewServer(i *instance.Instance, opts Options) *Server {
	if opts.MaxFrameSize == 0 {
		opts.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	return &Server{
		instance: i,
		opts:     opts,
	}
}

// Bind the listening address, e.g. ":1234".
func (s *Server) Listen(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	s.Lock()
	s.listener = listener
	s.Unlock()

	log.Info("Listening on tcp", listener.Addr())
	return nil
}

func (s *Server) Addr() net.Addr {
	s.Lock()
	defer s.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Accept connections until Close.
func (s *Server) Serve() error {
	s.Lock()
	listener := s.listener
	s.Unlock()

	if listener == nil {
		return errors.New("control server is not listening")
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.Lock()
			closed := s.closed
			s.Unlock()

			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Warn("Accept failed:", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}

		s.conns.Add(1)
		go s.handle(conn)
	}
}

// Stop accepting connections and wait for open ones to be answered.
func (s *Server) Close() error {
	s.Lock()
	if s.closed {
		s.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	s.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	s.conns.Wait()
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer s.conns.Done()

	remote := conn.RemoteAddr()
	log.Debug("new - connection - from:", remote)

	var after func()
	defer func() {
		conn.Close()
		log.Debug("del - connection - from:", remote)
		if after != nil {
			after()
		}
	}()

	conn.SetDeadline(time.Now().Add(s.opts.ReadTimeout))

	frame, err := protocol.ReadFrame(conn, s.opts.MaxFrameSize)
	if err != nil {
		if errors.Is(err, protocol.ErrFrameSize) || errors.Is(err, protocol.ErrUnknownSignal) {
			log.Warn("nok - frame - from:", remote, err)
			s.reply(conn, protocol.NackError(err))
			return
		}
		if !errors.Is(err, io.EOF) {
			log.Debug("Dropping connection from", remote, err)
		}
		return
	}

	log.Debugf("exe - signal - %s from %s", frame.Signal, remote)

	var reply *protocol.Frame
	reply, after = s.dispatch(frame)
	s.reply(conn, reply)
}

func (s *Server) reply(conn net.Conn, frame *protocol.Frame) {
	if err := protocol.WriteFrame(conn, frame); err != nil {
		log.Debug("Failed to reply to", conn.RemoteAddr(), err)
	}
}

func ack(body any) *protocol.Frame {
	frame, err := protocol.NewAck(body)
	if err != nil {
		return protocol.NewNack(protocol.CodeInternal, err.Error())
	}
	return frame
}

// Apply a request. The returned function, if any, runs after the reply has
// been sent.
func (s *Server) dispatch(frame *protocol.Frame) (*protocol.Frame, func()) {
	i := s.instance
	ctx := context.Background()

	switch frame.Signal {
	case protocol.StopService:
		log.Info("exe - stop - requested by controller")
		return ack(nil), i.Shutdown

	case protocol.Status:
		return ack(i.Status()), nil

	case protocol.AddConfig, protocol.UpdateConfig, protocol.ValidateConfig:
		request := &protocol.ConfigRequest{}
		if err := frame.Decode(request); err != nil {
			return protocol.NackError(err), nil
		}
		return s.configure(frame.Signal, request), nil

	case protocol.RemoveConfig:
		request := &protocol.RemoveRequest{}
		if err := frame.Decode(request); err != nil {
			return protocol.NackError(err), nil
		}
		if err := i.Registry().Remove(request.Entities...); err != nil {
			log.Info("nok - remove - config:", err)
			return protocol.NackError(err), nil
		}
		for _, key := range request.Entities {
			log.Info("del - config -", key)
		}
		i.Service().Wake()
		return ack(nil), nil

	case protocol.StartProcess:
		request := &protocol.StartProcessRequest{}
		if err := frame.Decode(request); err != nil {
			return protocol.NackError(err), nil
		}

		var override time.Time
		if request.Timestamp != nil {
			override = *request.Timestamp
		}

		if err := i.Service().Trigger(request.ProcessId, override); err != nil {
			return protocol.NackError(err), nil
		}
		return ack(nil), nil

	case protocol.Log:
		request := &protocol.LogRequest{}
		if err := frame.Decode(request); err != nil {
			return protocol.NackError(err), nil
		}

		runs, err := i.Logger().Runs(ctx, request.Filter())
		if err != nil {
			return protocol.NewNack(protocol.CodeLogTarget, err.Error()), nil
		}
		return ack(&protocol.LogResponse{Runs: runs}), nil

	case protocol.UpdateWorkerCount:
		request := &protocol.WorkerCountRequest{}
		if err := frame.Decode(request); err != nil {
			return protocol.NackError(err), nil
		}
		if request.Workers < 0 {
			return protocol.NewNack(protocol.CodeProtocolError, fmt.Sprintf("negative worker count %d", request.Workers)), nil
		}
		i.UpdateWorkerCount(request.Workers)
		return ack(nil), nil

	case protocol.UpdateLogTarget:
		request := &protocol.LogTargetRequest{}
		if err := frame.Decode(request); err != nil {
			return protocol.NackError(err), nil
		}
		if err := i.UpdateLogTarget(request.Uri); err != nil {
			return protocol.NewNack(protocol.CodeLogTarget, err.Error()), nil
		}
		return ack(nil), nil

	default:
		return protocol.NewNack(protocol.CodeProtocolError, "unexpected signal "+frame.Signal.String()), nil
	}
}

func (s *Server) configure(signal protocol.Signal, request *protocol.ConfigRequest) *protocol.Frame {
	reg := s.instance.Registry()

	var err error
	switch signal {
	case protocol.AddConfig:
		err = reg.Add(request.Entities...)
	case protocol.UpdateConfig:
		err = reg.Update(request.Entities...)
	case protocol.ValidateConfig:
		err = reg.Validate(request.Entities...)
	}

	if err != nil {
		log.Infof("nok - %s - %v", signal, err)
		return protocol.NackError(err)
	}

	if signal != protocol.ValidateConfig {
		for _, entity := range request.Entities {
			log.Infof("upd - config - %s", entity.Key())
		}
		s.instance.Service().Wake()
	}
	return ack(nil)
}
