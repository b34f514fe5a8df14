package webhook

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boterrors "github.com/ducminhle1904/signal-bridge/internal/errors"
	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

func normalize(t *testing.T, body string) (Alert, error) {
	t.Helper()
	raw, err := Decode([]byte(body))
	require.NoError(t, err)
	return NewNormalizer(nil).Normalize(raw)
}

func TestNormalize_Aliases(t *testing.T) {
	a, err := normalize(t, `{"strategy":"S1","direction":"LONG","ticker":"OANDA:EUR/USD","close":"1.1000","sl":"1.0950","tp":1.11,"lot":"0.5"}`)
	require.NoError(t, err)

	assert.Equal(t, "S1", a.Strategy)
	assert.Equal(t, types.ActionBuy, a.Action)
	assert.Equal(t, "EURUSD", a.Symbol)
	assert.Equal(t, 1.1, a.CurrentPrice)
	assert.Zero(t, a.EntryPrice)
	assert.Equal(t, 1.095, a.StopLoss)
	assert.Equal(t, 1.11, a.TakeProfit)
	assert.Equal(t, 0.5, a.SuggestedLot)
	assert.Zero(t, a.PriceScale)
}

func TestNormalize_ActionAliases(t *testing.T) {
	tests := map[string]types.SignalAction{
		"buy": types.ActionBuy, "Long": types.ActionBuy,
		"sell": types.ActionSell, "short": types.ActionSell,
		"close": types.ActionClose, "exit": types.ActionClose, "FLAT": types.ActionClose,
	}
	for in, want := range tests {
		a, err := normalize(t, `{"strategy":"S1","action":"`+in+`","symbol":"EURUSD","close":1.1}`)
		require.NoError(t, err, in)
		assert.Equal(t, want, a.Action, in)
	}
}

func TestNormalize_EntryPriceMakesPendingOrder(t *testing.T) {
	a, err := normalize(t, `{"strategy":"S1","action":"sell","symbol":"EURUSD","price":1.105,"stop_loss":1.11}`)
	require.NoError(t, err)
	assert.Equal(t, 1.105, a.EntryPrice)
	assert.Equal(t, 1.105, a.CurrentPrice)
}

func TestNormalize_CorrectsScaledPrices(t *testing.T) {
	a, err := normalize(t, `{"strategy":"S1","action":"buy","symbol":"EURUSD","close":11000,"sl":10950,"tp":11100}`)
	require.NoError(t, err)

	assert.Equal(t, 10000.0, a.PriceScale)
	assert.Equal(t, 1.1, a.CurrentPrice)
	assert.Equal(t, 1.095, a.StopLoss)
	assert.Equal(t, 1.11, a.TakeProfit)
}

func TestNormalize_LeavesInRangeAndUnknownSymbols(t *testing.T) {
	a, err := normalize(t, `{"strategy":"S1","action":"buy","symbol":"XAUUSD","close":2350.5,"sl":2340}`)
	require.NoError(t, err)
	assert.Zero(t, a.PriceScale)
	assert.Equal(t, 2350.5, a.CurrentPrice)

	a, err = normalize(t, `{"strategy":"S1","action":"buy","symbol":"FOOBAR","close":123456,"sl":120000}`)
	require.NoError(t, err)
	assert.Zero(t, a.PriceScale)
}

func TestNormalize_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown action":   `{"strategy":"S1","action":"hold","symbol":"EURUSD","close":1.1}`,
		"missing strategy": `{"action":"buy","symbol":"EURUSD","close":1.1}`,
		"missing symbol":   `{"strategy":"S1","action":"buy","close":1.1}`,
		"bad number":       `{"strategy":"S1","action":"buy","symbol":"EURUSD","close":"{{close}}"}`,
		"missing price":    `{"strategy":"S1","action":"buy","symbol":"EURUSD"}`,
		"negative lot":     `{"strategy":"S1","action":"buy","symbol":"EURUSD","close":1.1,"lot":-1}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := normalize(t, body)
			require.Error(t, err)
			assert.True(t, errors.Is(err, boterrors.ErrValidation))
		})
	}
}

func TestNormalize_CloseNeedsNoPrices(t *testing.T) {
	a, err := normalize(t, `{"strategy":"S1","action":"exit","ticker":"FX:GBPUSD"}`)
	require.NoError(t, err)
	assert.Equal(t, types.ActionClose, a.Action)
	assert.Equal(t, "GBPUSD", a.Symbol)
}

func TestDecode_InvalidBody(t *testing.T) {
	_, err := Decode([]byte("{nope"))
	assert.True(t, errors.Is(err, boterrors.ErrValidation))

	_, err = Decode([]byte("null"))
	assert.Error(t, err)
}

func TestCleanTicker(t *testing.T) {
	assert.Equal(t, "EURUSD", CleanTicker("FX_IDC:eur-usd"))
	assert.Equal(t, "BTCUSD", CleanTicker(" BINANCE:BTC/USD "))
	assert.Equal(t, "XAUUSD", CleanTicker("xau_usd"))
}
