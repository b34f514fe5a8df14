package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalTime_Formats(t *testing.T) {
	want := time.Date(2024, 3, 1, 14, 30, 5, 0, time.UTC)

	for _, raw := range []string{
		`"2024-03-01T14:30:05Z"`,
		`"2024.03.01 14:30:05"`,
		`"2024-03-01 14:30:05"`,
		`1709303405`,
	} {
		var tt TerminalTime
		require.NoError(t, json.Unmarshal([]byte(raw), &tt), raw)
		assert.True(t, want.Equal(tt.Time), "%s parsed as %s", raw, tt.Time)
	}

	var empty TerminalTime
	require.NoError(t, json.Unmarshal([]byte(`null`), &empty))
	assert.True(t, empty.IsZero())

	var bad TerminalTime
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &bad))
}

func TestOrderDetails_IsClosed(t *testing.T) {
	var d OrderDetails
	require.NoError(t, json.Unmarshal([]byte(`{"ticket":5,"status":"open","closeTime":null}`), &d))
	assert.False(t, d.IsClosed())

	require.NoError(t, json.Unmarshal([]byte(`{"ticket":5,"closeTime":"2024.03.01 10:00"}`), &d))
	assert.True(t, d.IsClosed())
}

func TestSignal_FinishStampsOnce(t *testing.T) {
	s := &Signal{Status: SignalValidated}
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Finish(SignalError, "dispatch failed", first)
	s.Finish(SignalError, "", first.Add(time.Hour))

	require.NotNil(t, s.ProcessedAt)
	assert.Equal(t, first, *s.ProcessedAt)
	assert.Equal(t, "dispatch failed", s.ErrorMessage)
	assert.True(t, s.Status.Terminal())
}

func TestOrder_IsOpenPosition(t *testing.T) {
	assert.True(t, (&Order{Status: OrderPlaced, Ticket: 1}).IsOpenPosition())
	assert.False(t, (&Order{Status: OrderPlaced}).IsOpenPosition())
	assert.False(t, (&Order{Status: OrderPlaced, Ticket: 1, ClosesOrderID: "o1"}).IsOpenPosition())
	assert.False(t, (&Order{Status: OrderClosed, Ticket: 1}).IsOpenPosition())
}
