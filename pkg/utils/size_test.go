package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input string
		value int64
	}{
		{"0", 0},
		{"0 KB", 0},
		{"512", 512},
		{" 512B ", 512},
		{"4Ki", 4096},
		{"64Mi", 64 * 1024 * 1024},
		{"64MiB", 64 * 1024 * 1024},
		{"2GiB", 2 * 1024 * 1024 * 1024},
		{"10M", 10 * 1000 * 1000},
		{"10 MB", 10 * 1000 * 1000},
		{"3T", 3 * 1000 * 1000 * 1000 * 1000},
	}

	for _, test := range tests {
		size, err := ParseSize(test.input)
		require.NoError(t, err, test.input)
		assert.Equal(t, test.value, size, test.input)
	}
}

func TestParseSizeInvalid(t *testing.T) {
	for _, input := range []string{"", "-1", "01", "12X", "MiB", "1.5M", "9000000000000E"} {
		_, err := ParseSize(input)
		assert.ErrorIs(t, err, ErrParse, input)
	}
}

func TestHumanByteSize(t *testing.T) {
	tests := []struct {
		input int64
		value string
	}{
		{0, "0B"},
		{1023, "1023B"},
		{1024, "1KiB"},
		{64 * 1024 * 1024, "64.0MiB"},
		{123*1024*1024 + 511*1024, "123.5MiB"},
		{3 * 1024 * 1024 * 1024, "3.00GiB"},
	}

	for _, test := range tests {
		assert.Equal(t, test.value, HumanByteSize(test.input))
	}
}
