package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaults(t *testing.T) {
	logger := NewLogger(nil)
	require.NotNil(t, logger)
	assert.Equal(t, LevelInfo, logger.level)
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	assert.Empty(t, buf.String())

	logger.Warn("visible warning")
	assert.Contains(t, buf.String(), "visible warning")
}

func TestLoggerKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("allocated", "class", "capacity", "id", 7)
	out := buf.String()
	assert.Contains(t, out, "class=capacity")
	assert.Contains(t, out, "id=7")
}

func TestWithComponentAndObjectID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	sub := logger.WithComponent("mdc").WithObjectID(0x42)
	sub.Info("compaction started")

	out := buf.String()
	assert.Contains(t, out, "component=mdc")
	assert.Contains(t, out, "obj=0x42")
	assert.Contains(t, out, "compaction started")
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	t.Cleanup(func() { SetDefault(NewLogger(nil)) })

	Debug("debug message", "key", "value")
	assert.True(t, strings.Contains(buf.String(), "debug message"))

	buf.Reset()
	Error("error message")
	assert.Contains(t, buf.String(), "error message")
}
