package control

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/terrama2/services/pkg/auditlog"
	"github.com/terrama2/services/pkg/instance"
	"github.com/terrama2/services/pkg/protocol"
	"github.com/terrama2/services/pkg/registry"
	"github.com/terrama2/services/pkg/service"
	"github.com/terrama2/services/pkg/timer"
)

type ServerTestSuite struct {
	suite.Suite

	instance *instance.Instance
	server   *Server
	client   *protocol.Client
	target   *auditlog.Target
	release  chan struct{}
	ctx      context.Context
}

func (s *ServerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.release = make(chan struct{})

	reg := registry.New()
	s.Require().NoError(reg.Add(
		registry.Entity{Kind: registry.DataSeries, Id: 10},
		registry.Entity{Kind: registry.Analysis, Id: 1, Active: true, References: []registry.Key{{Kind: registry.DataSeries, Id: 10}}},
	))

	target, err := auditlog.Open("memory://")
	s.Require().NoError(err)
	s.target = target
	logger := auditlog.New(target, "analysis_log")

	release := s.release
	svc := service.New(service.Options{
		Kind:     registry.Analysis,
		Registry: reg,
		Logger:   logger,
		Executor: service.ExecutorFunc(func(ctx context.Context, task *service.Task, logger *auditlog.Logger) (service.Result, error) {
			<-release
			return service.Result{}, nil
		}),
	})
	s.Require().NoError(svc.Start(2))

	s.instance = instance.New(instance.Options{Id: 1, Kind: registry.Analysis, Host: instance.Host{}}, reg, svc, logger)
	s.server = NewServer(s.instance, Options{MaxFrameSize: 1024, ReadTimeout: time.Second})
	s.Require().NoError(s.server.Listen("127.0.0.1:0"))
	go s.server.Serve()

	s.client = protocol.NewClient(s.server.Addr().String())
}

func (s *ServerTestSuite) TearDownTest() {
	select {
	case <-s.release:
	default:
		close(s.release)
	}
	s.instance.Shutdown()
	s.NoError(s.server.Close())
	s.target.Close()
}

func (s *ServerTestSuite) call(signal protocol.Signal, request, body any) error {
	return s.client.Call(s.ctx, signal, request, body)
}

func (s *ServerTestSuite) requireCode(err error, code string) {
	var remote *protocol.RemoteError
	s.Require().True(errors.As(err, &remote), "expected NACK, got %v", err)
	s.Equal(code, remote.Code)
}

func (s *ServerTestSuite) TestStatus() {
	status := &protocol.StatusResponse{}
	s.Require().NoError(s.call(protocol.Status, nil, status))
	s.Equal(int64(1), status.InstanceId)
	s.Equal(registry.Analysis, status.Kind)
	s.Equal(service.Running, status.Service.State)
	s.Equal(int64(2), status.Service.Workers)
	s.True(status.LoggerOnline)
}

func (s *ServerTestSuite) TestAddConfig() {
	entity := registry.Entity{
		Kind:       registry.Analysis,
		Id:         2,
		References: []registry.Key{{Kind: registry.DataSeries, Id: 10}},
		Schedule:   &timer.Schedule{Frequency: 1, Unit: timer.Hour},
	}

	s.NoError(s.call(protocol.AddConfig, &protocol.ConfigRequest{Entities: []registry.Entity{entity}}, nil))
	s.True(s.instance.Registry().Contains(entity.Key()))

	err := s.call(protocol.AddConfig, &protocol.ConfigRequest{Entities: []registry.Entity{entity}}, nil)
	s.requireCode(err, protocol.CodeDuplicateId)

	dangling := registry.Entity{Kind: registry.Analysis, Id: 3, References: []registry.Key{{Kind: registry.DataSeries, Id: 99}}}
	err = s.call(protocol.AddConfig, &protocol.ConfigRequest{Entities: []registry.Entity{dangling}}, nil)
	s.requireCode(err, protocol.CodeDanglingReference)
	s.False(s.instance.Registry().Contains(dangling.Key()))
}

func (s *ServerTestSuite) TestUpdateAndRemoveConfig() {
	missing := registry.Entity{Kind: registry.Analysis, Id: 5}
	err := s.call(protocol.UpdateConfig, &protocol.ConfigRequest{Entities: []registry.Entity{missing}}, nil)
	s.requireCode(err, protocol.CodeNotFound)

	updated := registry.Entity{Kind: registry.Analysis, Id: 1, Name: "renamed", Active: true}
	s.NoError(s.call(protocol.UpdateConfig, &protocol.ConfigRequest{Entities: []registry.Entity{updated}}, nil))
	entity, err := s.instance.Registry().Get(updated.Key())
	s.Require().NoError(err)
	s.Equal("renamed", entity.Name)

	remove := &protocol.RemoveRequest{Entities: []registry.Key{updated.Key()}}
	s.NoError(s.call(protocol.RemoveConfig, remove, nil))
	s.requireCode(s.call(protocol.RemoveConfig, remove, nil), protocol.CodeNotFound)
}

func (s *ServerTestSuite) TestValidateConfig() {
	invalid := registry.Entity{Kind: registry.Analysis, Id: 4, Schedule: &timer.Schedule{TimeOfDay: "25:00"}}
	err := s.call(protocol.ValidateConfig, &protocol.ConfigRequest{Entities: []registry.Entity{invalid}}, nil)
	s.requireCode(err, protocol.CodeInvalidSchedule)

	valid := registry.Entity{Kind: registry.Analysis, Id: 4, Schedule: &timer.Schedule{TimeOfDay: "12:00"}}
	s.NoError(s.call(protocol.ValidateConfig, &protocol.ConfigRequest{Entities: []registry.Entity{valid}}, nil))
	s.False(s.instance.Registry().Contains(valid.Key()))
}

// Two START_PROCESS requests within one run: the second is refused.
func (s *ServerTestSuite) TestStartProcessTwice() {
	t5 := time.Date(2024, 3, 10, 12, 5, 0, 0, time.UTC)
	request := &protocol.StartProcessRequest{ProcessId: 1, Timestamp: &t5}

	s.NoError(s.call(protocol.StartProcess, request, nil))
	s.requireCode(s.call(protocol.StartProcess, request, nil), protocol.CodeAlreadyScheduled)

	close(s.release)
	s.Eventually(func() bool { return !s.instance.Service().InFlight(1) }, 5*time.Second, 5*time.Millisecond)

	runs := &protocol.LogResponse{}
	s.Require().NoError(s.call(protocol.Log, &protocol.LogRequest{ProcessIds: []int64{1}}, runs))
	s.Require().Len(runs.Runs, 1)
	s.Equal(auditlog.Done, runs.Runs[0].Status)

	s.requireCode(s.call(protocol.StartProcess, &protocol.StartProcessRequest{ProcessId: 42}, nil), protocol.CodeNotFound)
}

func (s *ServerTestSuite) TestWorkerCountAndLogTarget() {
	s.NoError(s.call(protocol.UpdateWorkerCount, &protocol.WorkerCountRequest{Workers: 4}, nil))
	s.Equal(int64(4), s.instance.Service().Statistics().Workers)

	s.requireCode(s.call(protocol.UpdateWorkerCount, &protocol.WorkerCountRequest{Workers: -1}, nil), protocol.CodeProtocolError)

	s.requireCode(s.call(protocol.UpdateLogTarget, &protocol.LogTargetRequest{Uri: "nosuch://"}, nil), protocol.CodeLogTarget)
	s.NoError(s.call(protocol.UpdateLogTarget, &protocol.LogTargetRequest{Uri: "sqlite://:memory:"}, nil))
	s.Equal("sqlite://:memory:", s.instance.Status().LogTarget)
}

func (s *ServerTestSuite) TestBadPayload() {
	frame := &protocol.Frame{Signal: protocol.AddConfig, Payload: []byte("{not json")}
	reply, err := s.client.Request(s.ctx, frame)
	s.Require().NoError(err)
	s.Equal(protocol.Nack, reply.Signal)

	r := &protocol.Reply{}
	s.Require().NoError(reply.Decode(r))
	s.Equal(protocol.CodeProtocolError, r.Code)

	s.requireCode(s.call(protocol.Ack, nil, nil), protocol.CodeProtocolError)
}

func (s *ServerTestSuite) rawRequest(data []byte) (*protocol.Frame, net.Conn) {
	conn, err := net.Dial("tcp", s.server.Addr().String())
	s.Require().NoError(err)
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = conn.Write(data)
	s.Require().NoError(err)

	frame, err := protocol.ReadFrame(conn, 0)
	s.Require().NoError(err)
	return frame, conn
}

func header(length, signal uint32) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[:4], length)
	binary.BigEndian.PutUint32(data[4:], signal)
	return data
}

func (s *ServerTestSuite) TestMalformedFrames() {
	// Oversized frames are refused after the length field
	malformed := [][]byte{
		header(4, 77),
		header(2048, uint32(protocol.AddConfig))[:4],
		header(1, 0)[:4],
	}

	for _, data := range malformed {
		frame, conn := s.rawRequest(data)
		s.Equal(protocol.Nack, frame.Signal)

		// The connection is closed after the reply
		_, err := conn.Read(make([]byte, 1))
		s.ErrorIs(err, io.EOF)
		conn.Close()
	}

	// The server keeps serving
	s.NoError(s.call(protocol.Status, nil, nil))
}

func (s *ServerTestSuite) TestMidFrameDisconnect() {
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", s.server.Addr().String())
			if !s.NoError(err) {
				return
			}
			conn.Write(append(header(100, uint32(protocol.AddConfig)), '{', '"'))
			conn.Close()
		}()
	}

	status := &protocol.StatusResponse{}
	s.NoError(s.call(protocol.Status, nil, status))
	wg.Wait()
	s.NoError(s.call(protocol.Status, nil, status))
}

func (s *ServerTestSuite) TestStopService() {
	s.NoError(s.call(protocol.StopService, nil, nil))

	select {
	case <-s.instance.Done():
	case <-time.After(5 * time.Second):
		s.Fail("service did not stop")
	}
	s.Equal(service.Stopped, s.instance.Service().State())
	s.True(s.instance.ShuttingDown())

	s.requireCode(s.call(protocol.StartProcess, &protocol.StartProcessRequest{ProcessId: 1}, nil), protocol.CodeNotRunning)
}

func TestServer(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func TestServeWithoutListen(t *testing.T) {
	server := NewServer(nil, Options{})
	assert.Error(t, server.Serve())
	assert.Nil(t, server.Addr())
	assert.NoError(t, server.Close())
}

func TestListenError(t *testing.T) {
	server := NewServer(nil, Options{})
	require.NoError(t, server.Listen("127.0.0.1:0"))
	defer server.Close()

	other := NewServer(nil, Options{})
	assert.Error(t, other.Listen(server.Addr().String()))
}
