package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terrama2/services/pkg/auditlog"
	"github.com/terrama2/services/pkg/registry"
	"github.com/terrama2/services/pkg/service"
	"github.com/terrama2/services/pkg/timer"
)

func TestFrameLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &Frame{Signal: StartProcess, Payload: []byte("{}")}))

	assert.Equal(t, []byte{0, 0, 0, 6, 0, 0, 0, 3, '{', '}'}, buf.Bytes())

	frame, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, StartProcess, frame.Signal)
	assert.Equal(t, []byte("{}"), frame.Payload)
}

func TestEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &Frame{Signal: Status}))
	assert.Equal(t, 8, buf.Len())

	frame, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, Status, frame.Signal)
	assert.Empty(t, frame.Payload)
}

func header(length, signal uint32) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[:4], length)
	binary.BigEndian.PutUint32(data[4:], signal)
	return data
}

func TestMalformedFrames(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(header(3, 0)), 0)
	assert.ErrorIs(t, err, ErrFrameSize)

	_, err = ReadFrame(bytes.NewReader(header(1025, 0)), 1024)
	assert.ErrorIs(t, err, ErrFrameSize)

	_, err = ReadFrame(bytes.NewReader(header(4, 99)), 0)
	assert.ErrorIs(t, err, ErrUnknownSignal)

	// Disconnect in the middle of the payload
	truncated := append(header(10, uint32(AddConfig)), '{')
	_, err = ReadFrame(bytes.NewReader(truncated), 0)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	_, err = ReadFrame(bytes.NewReader([]byte{0, 0}), 0)
	assert.Error(t, err)
}

func TestSignalNames(t *testing.T) {
	assert.Equal(t, "START_PROCESS", StartProcess.String())
	assert.Equal(t, "SIGNAL(42)", Signal(42).String())
	assert.True(t, Nack.IsReply())
	assert.False(t, Status.IsReply())
	assert.False(t, Signal(13).IsValid())
}

func roundTrip[T any](t *testing.T, signal Signal, doc *T) {
	frame, err := NewFrame(signal, doc)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, frame))

	read, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, signal, read.Signal)

	decoded := new(T)
	require.NoError(t, read.Decode(decoded))
	assert.Equal(t, doc, decoded)
}

func TestPayloadRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 10, 12, 5, 0, 0, time.UTC)

	roundTrip(t, AddConfig, &ConfigRequest{Entities: []registry.Entity{
		{
			Kind: registry.DataSeries,
			Id:   10,
			Name: "rain",
			Children: []registry.Entity{
				{Kind: registry.DataSet, Id: 11, Metadata: map[string]string{"mask": "rain_%YYYY.tif"}},
			},
		},
		{
			Kind:       registry.Collector,
			Id:         1,
			Active:     true,
			Immediate:  true,
			Schedule:   &timer.Schedule{Frequency: 5, Unit: timer.Minute, Timeout: timer.Duration(time.Minute)},
			References: []registry.Key{{Kind: registry.DataSeries, Id: 10}},
			Metadata:   map[string]string{"command": "collect"},
		},
	}})

	roundTrip(t, RemoveConfig, &RemoveRequest{Entities: []registry.Key{{Kind: registry.Collector, Id: 1}}})
	roundTrip(t, StartProcess, &StartProcessRequest{ProcessId: 2, Timestamp: &ts})
	roundTrip(t, Log, &LogRequest{ProcessIds: []int64{1, 2}, Begin: &ts, Limit: 10})
	roundTrip(t, UpdateWorkerCount, &WorkerCountRequest{Workers: 4})
	roundTrip(t, UpdateLogTarget, &LogTargetRequest{Uri: "sqlite:///var/lib/terrama2/audit.db"})
	roundTrip(t, Ack, &StatusResponse{
		InstanceId: 1,
		Kind:       registry.Analysis,
		BootId:     "b0a1",
		StartTime:  ts,
		Service:    &service.Statistics{State: service.Running, Workers: 2},
	})
	roundTrip(t, ProcessFinished, &ProcessFinishedNotification{
		ProcessId:     2,
		RegisterId:    7,
		Status:        auditlog.Done,
		Start:         ts,
		End:           ts.Add(time.Second),
		DataTimestamp: &ts,
	})
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	frame := &Frame{Signal: StartProcess, Payload: []byte(`{"process":1}`)}
	err := frame.Decode(&StartProcessRequest{})
	assert.ErrorIs(t, err, ErrPayload)
	assert.Equal(t, CodeProtocolError, ErrorCode(err))
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	for _, payload := range []string{`{"workers":2} garbage`, `{"workers":2}{"workers":3}`, `{"workers":2}}`} {
		frame := &Frame{Signal: UpdateWorkerCount, Payload: []byte(payload)}
		err := frame.Decode(&WorkerCountRequest{})
		assert.ErrorIs(t, err, ErrPayload, payload)
	}

	frame := &Frame{Signal: UpdateWorkerCount, Payload: []byte("{\"workers\":2}\n ")}
	request := &WorkerCountRequest{}
	require.NoError(t, frame.Decode(request))
	assert.Equal(t, 2, request.Workers)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodeDuplicateId, ErrorCode(registry.ErrDuplicateId))
	assert.Equal(t, CodeAlreadyScheduled, ErrorCode(service.ErrAlreadyScheduled))
	assert.Equal(t, CodeInvalidSchedule, ErrorCode(timer.ErrInvalidSchedule))
	assert.Equal(t, CodeInternal, ErrorCode(errors.New("disk on fire")))

	frame := NackError(registry.ErrNotFound)
	reply := &Reply{}
	require.NoError(t, frame.Decode(reply))
	assert.Equal(t, CodeNotFound, reply.Code)
}
