package logstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corral/pkg/types"
)

// TestClassifyLine applies the level rules in order, first match wins
func TestClassifyLine(t *testing.T) {
	tests := []struct {
		name    string
		stream  types.LogStream
		content string
		want    types.LogLevel
	}{
		{"stderr is always error", types.LogStreamStderr, "just a note", types.LogLevelError},
		{"error keyword", types.LogStreamStdout, "Error: connection refused", types.LogLevelError},
		{"failed keyword", types.LogStreamStdout, "build failed after 3s", types.LogLevelError},
		{"exception keyword", types.LogStreamStdout, "unhandled exception in handler", types.LogLevelError},
		{"panic keyword", types.LogStreamStdout, "panic: nil pointer dereference", types.LogLevelError},
		{"error outranks warning", types.LogStreamStdout, "warning: tests failed", types.LogLevelError},
		{"warning keyword", types.LogStreamStdout, "Warning: low disk space", types.LogLevelWarning},
		{"deprecated keyword", types.LogStreamStdout, "this API is deprecated", types.LogLevelWarning},
		{"npm is build", types.LogStreamStdout, "npm install react", types.LogLevelBuild},
		{"compiling is build", types.LogStreamStdout, "compiling 14 modules", types.LogLevelBuild},
		{"webpack is build", types.LogStreamStdout, "webpack emitted assets", types.LogLevelBuild},
		{"progress prefix is build", types.LogStreamStdout, "[3/10] linking binaries", types.LogLevelBuild},
		{"bare progress prefix is build", types.LogStreamStdout, "2/7 fetching sources", types.LogLevelBuild},
		{"digits only is runtime", types.LogStreamStdout, "200", types.LogLevelRuntime},
		{"punctuation only is runtime", types.LogStreamStdout, "----------", types.LogLevelRuntime},
		{"digits and punctuation is runtime", types.LogStreamStdout, "127.0.0.1:3000", types.LogLevelRuntime},
		{"plain text is info", types.LogStreamStdout, "Server listening on localhost", types.LogLevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyLine(tt.stream, tt.content))
		})
	}
}

// TestParseLine extracts the timestamp prefix and sanitizes content
func TestParseLine(t *testing.T) {
	wall := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("timestamp prefix is parsed and stripped", func(t *testing.T) {
		content, recordedAt := parseLine("2025-06-01T08:30:15.123456789Z npm install", wall)
		assert.Equal(t, "npm install", content)
		require.Equal(t, 2025, recordedAt.Year())
		assert.Equal(t, 8, recordedAt.Hour())
		assert.Equal(t, 123456789, recordedAt.Nanosecond())
	})

	t.Run("missing timestamp uses wall clock", func(t *testing.T) {
		content, recordedAt := parseLine("plain output", wall)
		assert.Equal(t, "plain output", content)
		assert.Equal(t, wall, recordedAt)
	})

	t.Run("second precision timestamp accepted", func(t *testing.T) {
		content, recordedAt := parseLine("2025-06-01T08:30:15Z done", wall)
		assert.Equal(t, "done", content)
		assert.Equal(t, 15, recordedAt.Second())
	})

	t.Run("ansi escapes are stripped", func(t *testing.T) {
		content, _ := parseLine("\x1b[32mpassed\x1b[0m all checks", wall)
		assert.Equal(t, "passed all checks", content)
	})

	t.Run("control characters are stripped", func(t *testing.T) {
		content, _ := parseLine("progress\rdone\x07", wall)
		assert.Equal(t, "progressdone", content)
	})

	t.Run("tabs survive and trailing whitespace is trimmed", func(t *testing.T) {
		content, _ := parseLine("col1\tcol2   ", wall)
		assert.Equal(t, "col1\tcol2", content)
	})
}
