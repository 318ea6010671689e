package protocol

import "fmt"

// Control frame signal code.
type Signal uint32

const (
	StopService       Signal = 0
	Status            Signal = 1
	AddConfig         Signal = 2
	StartProcess      Signal = 3
	Log               Signal = 4
	RemoveConfig      Signal = 5
	ProcessFinished   Signal = 6
	UpdateWorkerCount Signal = 7
	ValidateConfig    Signal = 8
	UpdateLogTarget   Signal = 9
	UpdateConfig      Signal = 10
	Ack               Signal = 11
	Nack              Signal = 12
)

var signalNames = map[Signal]string{
	StopService:       "STOP_SERVICE",
	Status:            "STATUS",
	AddConfig:         "ADD_CONFIG",
	StartProcess:      "START_PROCESS",
	Log:               "LOG",
	RemoveConfig:      "REMOVE_CONFIG",
	ProcessFinished:   "PROCESS_FINISHED",
	UpdateWorkerCount: "UPDATE_WORKER_COUNT",
	ValidateConfig:    "VALIDATE_CONFIG",
	UpdateLogTarget:   "UPDATE_LOG_TARGET",
	UpdateConfig:      "UPDATE_CONFIG",
	Ack:               "ACK",
	Nack:              "NACK",
}

func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SIGNAL(%d)", uint32(s))
}

func (s Signal) IsValid() bool {
	_, ok := signalNames[s]
	return ok
}

// Should return true for acknowledgements
func (s Signal) IsReply() bool {
	switch s {
	case Ack, Nack:
		return true
	default:
		return false
	}
}
