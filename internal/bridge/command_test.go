package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

func TestEncodeCommand_FlattensParameters(t *testing.T) {
	cmd, err := NewLimitOrder("XAUUSD", types.OrderSellLimit, 0.1, 2410.5, 2420, 2390, "")
	require.NoError(t, err)

	data, err := encodeCommand("abc", cmd)
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "abc", wire["id"])
	assert.Equal(t, "limitOrder", wire["command"])
	assert.Equal(t, "SELL_LIMIT", wire["type"])
	assert.Equal(t, 2410.5, wire["price"])
	_, hasComment := wire["comment"]
	assert.False(t, hasComment)
}

func TestEncodeCommand_NoParameters(t *testing.T) {
	data, err := encodeCommand("x1", CloseAllMarketOrders{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x1","command":"closeAllMarketOrders"}`, string(data))
}

func TestCommandValidation(t *testing.T) {
	tests := []struct {
		name    string
		build   func() error
		wantErr bool
	}{
		{"market ok", func() error { _, err := NewMarketOrder("EURUSD", types.OrderSell, 0.01, 0, 0, ""); return err }, false},
		{"market lot too small", func() error { _, err := NewMarketOrder("EURUSD", types.OrderBuy, 0.001, 0, 0, ""); return err }, true},
		{"market limit type", func() error { _, err := NewMarketOrder("EURUSD", types.OrderBuyLimit, 1, 0, 0, ""); return err }, true},
		{"market no symbol", func() error { _, err := NewMarketOrder("", types.OrderBuy, 1, 0, 0, ""); return err }, true},
		{"limit without price", func() error { _, err := NewLimitOrder("EURUSD", types.OrderBuyLimit, 1, 0, 0, 0, ""); return err }, true},
		{"limit market type", func() error { _, err := NewLimitOrder("EURUSD", types.OrderBuy, 1, 1.1, 0, 0, ""); return err }, true},
		{"close without ticket", func() error { _, err := NewCloseMarketOrder(0); return err }, true},
		{"close ok", func() error { _, err := NewCloseMarketOrder(42); return err }, false},
		{"modify nothing", func() error { _, err := NewModifyOrder(42, 0, 0); return err }, true},
		{"modify sl only", func() error { _, err := NewModifyOrder(42, 1.09, 0); return err }, false},
		{"history zero days", func() error { return GetOrderHistory{}.Validate() }, true},
		{"details ok", func() error { return GetOrderDetails{Ticket: 7}.Validate() }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	t.Run("result", func(t *testing.T) {
		resp, err := decodeResponse([]byte(`{"id":"a","result":{"ticket":5}}`))
		require.NoError(t, err)
		assert.Equal(t, "a", resp.ID)
		assert.False(t, resp.Failed)
		assert.JSONEq(t, `{"ticket":5}`, string(resp.Result))
	})

	t.Run("error string", func(t *testing.T) {
		resp, err := decodeResponse([]byte(`{"id":"a","error":"market closed"}`))
		require.NoError(t, err)
		assert.True(t, resp.Failed)
		assert.Equal(t, "market closed", resp.Err)
	})

	t.Run("error object", func(t *testing.T) {
		resp, err := decodeResponse([]byte(`{"id":"a","error":{"code":10019}}`))
		require.NoError(t, err)
		assert.True(t, resp.Failed)
		assert.Equal(t, `{"code":10019}`, resp.Err)
	})

	t.Run("null error falls back to result", func(t *testing.T) {
		resp, err := decodeResponse([]byte(`{"id":"a","error":null,"result":true}`))
		require.NoError(t, err)
		assert.False(t, resp.Failed)
	})

	for name, body := range map[string]string{
		"not json":       `{"id":`,
		"missing id":     `{"result":1}`,
		"numeric id":     `{"id":5,"result":1}`,
		"empty id":       `{"id":"","result":1}`,
		"neither field":  `{"id":"a"}`,
		"array document": `[1,2]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decodeResponse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestFuture_CompletesOnce(t *testing.T) {
	f := newFuture("id")
	f.complete(json.RawMessage(`1`), nil)

	select {
	case <-f.Done():
	default:
		t.Fatal("future not done")
	}
	assert.Panics(t, func() { f.complete(nil, nil) })
}
