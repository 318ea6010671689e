package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldLog(t *testing.T) {
	tests := []struct {
		level   LogLevel
		enabled LogLevel
		want    bool
	}{
		{InfoLevel, InfoLevel, true},
		{DebugLevel, InfoLevel, false},
		{ErrorLevel, DebugLevel, true},
		{TraceLevel, TraceLevel, true},
		{FatalLevel, DisabledLevel, false},
		{"bogus", InfoLevel, false},
		{InfoLevel, "bogus", false},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, ShouldLog(test.level, test.enabled), "%s/%s", test.level, test.enabled)
	}
}

func TestSetLevel(t *testing.T) {
	defer SetLevel(InfoLevel)

	assert.Error(t, SetLevel("loud"))
	assert.NoError(t, SetLevel(DebugLevel))

	var stdout, stderr bytes.Buffer
	SetOutput(&stdout, &stderr)
	defer SetOutput(os.Stdout, os.Stderr)

	Debug("new - process - id:", 3)
	Trace("hidden")
	Warnf("del - process - id: %d", 4)

	assert.Contains(t, stdout.String(), "debug - new - process - id: 3")
	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stderr.String(), " warn - del - process - id: 4")
}

func TestConfigureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	closeFile := Configure(FileOptions{Path: path, MaxSizeMB: 1})
	Info("written to file")
	require.NoError(t, closeFile())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestLogWriter(t *testing.T) {
	var stdout bytes.Buffer
	SetOutput(&stdout, &stdout)
	defer SetOutput(os.Stdout, os.Stderr)

	w := NewLogWriter(InfoLevel)
	n, err := w.Write([]byte("line from writer\n"))
	assert.NoError(t, err)
	assert.Equal(t, 17, n)
	assert.Contains(t, stdout.String(), "line from writer")
}
