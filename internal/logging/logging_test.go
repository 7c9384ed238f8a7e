package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriterLoggerFiltersBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriterLogger(&buf, "bus", LevelWarn)

	log.Debug("dropped %d", 1)
	log.Info("dropped %d", 2)
	log.Warn("kept %d", 3)
	log.Error("kept %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "kept 3")
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "kept 4")
}

func TestWriterLoggerWithAppendsComponentSuffix(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriterLogger(&buf, "bus", LevelDebug)
	scoped := log.With("publish")
	scoped.Info("hello")

	assert.Contains(t, buf.String(), "[bus.publish]")
}

func TestOrNopReturnsNopForNil(t *testing.T) {
	l := OrNop(nil)
	assert.Equal(t, Nop, l)
	l.Info("should not panic or write anywhere")
}

func TestOrNopReturnsOriginalLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriterLogger(&buf, "x", LevelInfo)
	assert.Equal(t, log, OrNop(log))
}

func TestLevelStringUnknownDefault(t *testing.T) {
	assert.Equal(t, "UNKNOWN", Level(99).String())
	assert.True(t, strings.HasPrefix(LevelDebug.String(), "DEBUG"))
}
