// Exit codes of the service binary.
package exitcode

const (
	// Clean exit after STOP_SERVICE
	Success = 0

	// Bad command line arguments or configuration
	ServiceParametersError = 100

	// Startup of the logging, tracing or audit infrastructure failed
	InitializationError = 101

	// The registry could not load its initial state
	ServiceLoadError = 102

	// Clean shutdown failed
	FinalizationError = 103

	// The control port could not be bound
	TcpServerError = 104
)

// An error which carries the exit code of the process.
type Error struct {
	Code int
	Err  error
}

func New(code int, err error) *Error {
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Name(code int) string {
	switch code {
	case Success:
		return "SUCCESS"
	case ServiceParametersError:
		return "SERVICE_PARAMETERS_ERROR"
	case InitializationError:
		return "TERRAMA2_INITIALIZATION_ERROR"
	case ServiceLoadError:
		return "SERVICE_LOAD_ERROR"
	case FinalizationError:
		return "TERRAMA2_FINALIZATION_ERROR"
	case TcpServerError:
		return "TCP_SERVER_ERROR"
	}
	return "UNKNOWN"
}
