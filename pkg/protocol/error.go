package protocol

import (
	"errors"
	"fmt"

	"github.com/terrama2/services/pkg/auditlog"
	"github.com/terrama2/services/pkg/registry"
	"github.com/terrama2/services/pkg/service"
	"github.com/terrama2/services/pkg/timer"
)

// NACK codes
const (
	CodeProtocolError     = "ProtocolError"
	CodeDuplicateId       = "DuplicateId"
	CodeNotFound          = "NotFound"
	CodeDanglingReference = "DanglingReference"
	CodeInvalidEntity     = "InvalidEntity"
	CodeInvalidSchedule   = "InvalidSchedule"
	CodeAlreadyScheduled  = "AlreadyScheduled"
	CodeNotRunning        = "NotRunning"
	CodeInactive          = "Inactive"
	CodeLogTarget         = "LogTarget"
	CodeInternal          = "Internal"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrFrameSize, CodeProtocolError},
	{ErrUnknownSignal, CodeProtocolError},
	{ErrPayload, CodeProtocolError},
	{registry.ErrDuplicateId, CodeDuplicateId},
	{registry.ErrNotFound, CodeNotFound},
	{registry.ErrDanglingReference, CodeDanglingReference},
	{registry.ErrInvalidEntity, CodeInvalidEntity},
	{timer.ErrInvalidSchedule, CodeInvalidSchedule},
	{service.ErrAlreadyScheduled, CodeAlreadyScheduled},
	{service.ErrNotRunning, CodeNotRunning},
	{service.ErrInactive, CodeInactive},
	{auditlog.ErrNotFound, CodeNotFound},
}

// NACK code of an error.
func ErrorCode(err error) string {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// Create a NACK frame from an error.
func NackError(err error) *Frame {
	return NewNack(ErrorCode(err), err.Error())
}

// A NACK received from the remote end.
type RemoteError struct {
	Code   string
	Reason string
}

func (e *RemoteError) Error() string {
	if e.Reason == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}
