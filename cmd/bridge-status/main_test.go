package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

func TestFilterSignals(t *testing.T) {
	signals := []*types.Signal{
		{ID: "a", Status: types.SignalRejected},
		{ID: "b", Status: types.SignalProcessed},
		{ID: "c", Status: types.SignalRejected},
	}

	assert.Len(t, filterSignals(signals, ""), 3)
	got := filterSignals(signals, types.SignalRejected)
	if assert.Len(t, got, 2) {
		assert.Equal(t, "c", got[1].ID)
	}
}

func TestNewest(t *testing.T) {
	items := []int{1, 2, 3, 4}
	assert.Equal(t, []int{3, 4}, newest(items, 2))
	assert.Equal(t, items, newest(items, 0))
	assert.Equal(t, items, newest(items, 10))
}

func TestExportPath(t *testing.T) {
	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "out/run.csv", exportPath("out/run", "csv", at))
	assert.Contains(t, exportPath("", "xlsx", at), "bridge_20240305_100000.xlsx")
}
