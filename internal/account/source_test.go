package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

type fakeTerminal struct {
	calls      int
	balance    types.Balance
	positions  []types.Position
	history    []types.ClosedTrade
	balanceErr error
}

func (f *fakeTerminal) Balance(context.Context) (types.Balance, error) {
	f.calls++
	return f.balance, f.balanceErr
}

func (f *fakeTerminal) OpenPositions(context.Context) ([]types.Position, error) {
	return f.positions, nil
}

func (f *fakeTerminal) History(context.Context, int) ([]types.ClosedTrade, error) {
	return f.history, nil
}

func closedAt(profit float64, at time.Time) types.ClosedTrade {
	return types.ClosedTrade{Profit: profit, CloseTime: types.TerminalTime{Time: at}}
}

func TestSource_CachesUntilMaxAge(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	term := &fakeTerminal{balance: types.Balance{Balance: 10000}}
	src := NewSource(term, 30*time.Second, nil, nil)
	src.SetClock(func() time.Time { return now })

	_, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	now = now.Add(10 * time.Second)
	_, err = src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, term.calls)

	now = now.Add(30 * time.Second)
	_, err = src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, term.calls)

	src.Invalidate()
	_, err = src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, term.calls)
}

func TestSource_FailedRefreshIsError(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	term := &fakeTerminal{balance: types.Balance{Balance: 10000}}
	src := NewSource(term, time.Second, nil, nil)
	src.SetClock(func() time.Time { return now })

	_, err := src.Snapshot(context.Background())
	require.NoError(t, err)

	term.balanceErr = errors.New("bridge down")
	now = now.Add(2 * time.Second)
	_, err = src.Snapshot(context.Background())
	assert.Error(t, err, "stale snapshot must not be served")
}

func TestSource_TodayPnL(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC) // 10:00 in New York
	term := &fakeTerminal{
		balance: types.Balance{Balance: 10000},
		history: []types.ClosedTrade{
			closedAt(-120, time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)),
			closedAt(40, time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)),  // 01:00 NY, same day
			closedAt(-500, time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC)), // 23:00 NY, previous day
		},
		positions: []types.Position{{Lots: 0.5}, {Lots: 1.25}},
	}
	src := NewSource(term, time.Minute, ny, nil)
	src.SetClock(func() time.Time { return now })

	snap, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -80.0, snap.TodayPnL)
	assert.Equal(t, 1.75, snap.OpenLots())
}
