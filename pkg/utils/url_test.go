package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTcpUrl(t *testing.T) {
	testData := []struct {
		input string
		value string
		err   bool
	}{
		{"tcp://:8080", ":8080", false},
		{"tcp://localhost", "localhost:9000", false},
		{"tcp4://127.0.0.1:1234", "127.0.0.1:1234", false},
		{"http://localhost:80", "", true},
	}

	for _, data := range testData {
		host, err := ParseTcpUrl(data.input, 9000)
		if data.err {
			assert.ErrorIs(t, err, ErrUnsupported)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, data.value, host)
	}
}

func TestParsePort(t *testing.T) {
	port, err := ParsePort("30000")
	assert.NoError(t, err)
	assert.Equal(t, 30000, port)

	for _, bad := range []string{"", "port", "-1", "70000"} {
		_, err := ParsePort(bad)
		assert.ErrorIs(t, err, ErrParse, bad)
	}
}
