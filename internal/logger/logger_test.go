package logger

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToDailyFile(t *testing.T) {
	dir := t.TempDir()

	l, err := New(Options{Level: "debug", Dir: dir, Name: "test"})
	require.NoError(t, err)

	l.With("bridge").Info("dispatched %s", "cmd-1")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.GetLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "session_start")
	assert.Contains(t, string(data), "dispatched cmd-1")
	assert.Contains(t, string(data), `"component":"bridge"`)
	assert.Contains(t, string(data), "session_end")
}

func TestLevelsAndComponents(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf).With("pipeline")

	l.Trade("order %d placed", 42)
	l.Warning("slow terminal")
	l.LogError("dispatch", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"kind":"trade"`)
	assert.Contains(t, out, "order 42 placed")
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"component":"pipeline"`)
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.Info("nothing %d", 1)
	assert.NoError(t, l.Close())
	assert.Empty(t, l.GetLogPath())
}
