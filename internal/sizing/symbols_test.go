package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristicPointFactor(t *testing.T) {
	tests := map[string]float64{
		"CADJPY":  100,
		"eur/nzd": 10000,
		"XAUEUR":  100,
		"SPX500":  1,
		"DOGEUSD": 1,
	}
	for symbol, want := range tests {
		assert.Equal(t, want, HeuristicPointFactor(symbol), symbol)
	}
}

func TestSymbolTable_Lookup(t *testing.T) {
	table := NewSymbolTable(map[string]SymbolSpec{
		"eur-usd": {PointFactor: 10000, ContractSize: 100000, Leverage: 30},
	})

	spec, known := table.Lookup("EURUSD")
	assert.True(t, known)
	assert.True(t, spec.HasMarginData())

	spec, known = table.Lookup("USDJPY")
	assert.True(t, known)
	assert.Equal(t, 100.0, spec.PointFactor)
	assert.False(t, spec.HasMarginData())
	assert.True(t, spec.HasPriceRange())

	spec, known = table.Lookup("CADJPY")
	assert.False(t, known)
	assert.Equal(t, 100.0, spec.PointFactor)
}

func TestMarginCalculator(t *testing.T) {
	calc := NewMarginCalculator()

	assert.Equal(t, 1100.0, calc.RequiredMargin(110000, 100))
	assert.Equal(t, 500.0, calc.RequiredMargin(500, 0))
	assert.Equal(t, 5000.0, calc.MaxPositionValue(50, 100))
	assert.Error(t, calc.Validate(0))
	assert.Error(t, calc.Validate(5000))
	assert.NoError(t, calc.Validate(500))
	assert.Equal(t, 10.0, calc.EffectiveLeverage(1000, 100))
}
