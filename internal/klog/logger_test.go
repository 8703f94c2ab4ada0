package klog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToStderr(t *testing.T) {
	l := New(nil)
	require.NotNil(t, l)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelWarn, Output: &buf})

	l.Debug("hidden")
	l.Info("also hidden")
	assert.Empty(t, buf.String())

	l.Warn("visible", "k", "v")
	assert.Contains(t, buf.String(), "[WARN] visible k=v")
}

func TestFormatArgsPairsUp(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelDebug, Output: &buf})

	l.Info("msg", "a", 1, "b", 2)
	assert.Contains(t, buf.String(), "a=1 b=2")
}

func TestDefaultLoggerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(New(&Config{Level: LevelDebug, Output: &buf}))

	Error("boom", "code", 5)
	assert.Contains(t, buf.String(), "[ERROR] boom code=5")
}
