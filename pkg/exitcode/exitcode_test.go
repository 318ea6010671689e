package exitcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	cause := errors.New("address in use")
	err := fmt.Errorf("listen: %w", New(TcpServerError, cause))

	var exit *Error
	assert.True(t, errors.As(err, &exit))
	assert.Equal(t, TcpServerError, exit.Code)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "TCP_SERVER_ERROR", Name(exit.Code))
	assert.Equal(t, "UNKNOWN", Name(1))
}
