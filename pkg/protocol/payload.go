package protocol

import (
	"encoding/json"
	"time"

	"github.com/terrama2/services/pkg/auditlog"
	"github.com/terrama2/services/pkg/registry"
	"github.com/terrama2/services/pkg/service"
)

// ADD_CONFIG, UPDATE_CONFIG and VALIDATE_CONFIG request.
type ConfigRequest struct {
	Entities []registry.Entity `json:"entities"`
}

// REMOVE_CONFIG request.
type RemoveRequest struct {
	Entities []registry.Key `json:"entities"`
}

// START_PROCESS request. Timestamp overrides the reference time of the run.
type StartProcessRequest struct {
	ProcessId int64      `json:"process_id"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// LOG request. Runs started in [Begin, End) of the given processes.
type LogRequest struct {
	ProcessIds []int64    `json:"process_ids,omitempty"`
	Begin      *time.Time `json:"begin,omitempty"`
	End        *time.Time `json:"end,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

func (r *LogRequest) Filter() auditlog.Filter {
	filter := auditlog.Filter{
		ProcessIds: r.ProcessIds,
		Limit:      r.Limit,
	}
	if r.Begin != nil {
		filter.Begin = *r.Begin
	}
	if r.End != nil {
		filter.End = *r.End
	}
	return filter
}

// LOG reply body.
type LogResponse struct {
	Runs []*auditlog.Record `json:"runs"`
}

// UPDATE_WORKER_COUNT request. Zero selects the number of hardware threads.
type WorkerCountRequest struct {
	Workers int `json:"workers"`
}

// UPDATE_LOG_TARGET request.
type LogTargetRequest struct {
	Uri string `json:"uri"`
}

// STATUS reply body.
type StatusResponse struct {
	InstanceId   int64               `json:"instance_id"`
	InstanceName string              `json:"instance_name"`
	Kind         registry.Kind       `json:"kind"`
	BootId       string              `json:"boot_id"`
	Version      string              `json:"version"`
	Host         map[string]string   `json:"host,omitempty"`
	StartTime    time.Time           `json:"start_time"`
	LoggerOnline bool                `json:"logger_online"`
	LogTarget    string              `json:"log_target"`
	ShuttingDown bool                `json:"shutting_down"`
	Service      *service.Statistics `json:"service"`
}

// PROCESS_FINISHED notification sent to the controller after every run.
type ProcessFinishedNotification struct {
	InstanceId    int64               `json:"instance_id"`
	Kind          registry.Kind       `json:"kind"`
	ProcessId     int64               `json:"process_id"`
	RegisterId    auditlog.RegisterId `json:"register_id"`
	Status        auditlog.Status     `json:"status"`
	Start         time.Time           `json:"start"`
	End           time.Time           `json:"end"`
	DataTimestamp *time.Time          `json:"data_timestamp,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// ACK and NACK payload. Body carries the request specific reply document.
type Reply struct {
	Code   string          `json:"code,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// Create an ACK frame with an optional body.
func NewAck(body any) (*Frame, error) {
	reply := &Reply{}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reply.Body = data
	}
	return NewFrame(Ack, reply)
}

// Create a NACK frame.
func NewNack(code, reason string) *Frame {
	frame, _ := NewFrame(Nack, &Reply{Code: code, Reason: reason})
	return frame
}
