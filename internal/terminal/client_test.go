package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/signal-bridge/internal/bridge"
	boterrors "github.com/ducminhle1904/signal-bridge/internal/errors"
	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// scriptedTransport answers every command through a callback
type scriptedTransport struct {
	mu       sync.Mutex
	calls    []bridge.Command
	timeouts []time.Duration
	answer   func(cmd bridge.Command) (interface{}, error)
}

func (s *scriptedTransport) Submit(ctx context.Context, cmd bridge.Command, timeout time.Duration) *bridge.Future {
	s.mu.Lock()
	s.calls = append(s.calls, cmd)
	s.timeouts = append(s.timeouts, timeout)
	s.mu.Unlock()

	result, err := s.answer(cmd)
	if err != nil {
		return bridge.CompletedFuture(nil, err)
	}
	data, _ := json.Marshal(result)
	return bridge.CompletedFuture(data, nil)
}

func TestClient_DecodesResults(t *testing.T) {
	tr := &scriptedTransport{answer: func(cmd bridge.Command) (interface{}, error) {
		switch cmd.(type) {
		case bridge.GetBalance:
			return map[string]float64{"balance": 5000, "equity": 4900, "freeMargin": 4000}, nil
		case bridge.GetAllMarketOrders:
			return []map[string]interface{}{{"ticket": 7, "symbol": "EURUSD", "type": "SELL", "lots": 0.3}}, nil
		case bridge.GetOrderHistory:
			return []map[string]interface{}{{"ticket": 3, "profit": -25.5, "closeTime": "2024.03.01 09:15:00"}}, nil
		case bridge.MarketOrder:
			return map[string]interface{}{"ticket": 99, "price": 1.1002}, nil
		}
		return nil, errors.New("unexpected")
	}}
	c := NewClient(tr, Timeouts{})
	ctx := context.Background()

	bal, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4000.0, bal.FreeMargin)

	positions, err := c.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, -1.0, positions[0].Direction())

	trades, err := c.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 9, trades[0].CloseTime.Hour())

	cmd, err := bridge.NewMarketOrder("EURUSD", types.OrderBuy, 1, 1.09, 1.12, "")
	require.NoError(t, err)
	p, err := c.PlaceMarket(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, int64(99), p.Ticket)

	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second, 30 * time.Second}, tr.timeouts)
}

func TestClient_PropagatesErrors(t *testing.T) {
	tr := &scriptedTransport{answer: func(bridge.Command) (interface{}, error) {
		return nil, boterrors.NewDispatchError("bridge", "closeMarketOrder", "invalid ticket")
	}}
	c := NewClient(tr, Timeouts{Close: time.Second})

	_, err := c.ClosePosition(context.Background(), 5)
	assert.True(t, errors.Is(err, boterrors.ErrDispatch))
	assert.Equal(t, time.Second, tr.timeouts[0])

	_, err = c.ClosePosition(context.Background(), 0)
	assert.Error(t, err)
	assert.Len(t, tr.calls, 1, "invalid ticket never reaches the transport")

	assert.Error(t, c.Modify(context.Background(), 5, 0, 0))
}
