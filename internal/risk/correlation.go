package risk

import (
	"strings"
	"sync"
)

// CorrelationTable holds static pairwise correlation coefficients in [-1, 1].
// Lookups are symmetric; unknown pairs are uncorrelated.
type CorrelationTable struct {
	mu    sync.RWMutex
	pairs map[string]float64
}

// DefaultCorrelations returns the built-in coefficients keyed "A/B"
func DefaultCorrelations() map[string]float64 {
	return map[string]float64{
		"EURUSD/GBPUSD": 0.85,
		"EURUSD/AUDUSD": 0.70,
		"EURUSD/NZDUSD": 0.65,
		"EURUSD/USDCHF": -0.92,
		"EURUSD/USDCAD": -0.55,
		"EURUSD/XAUUSD": 0.40,
		"GBPUSD/AUDUSD": 0.65,
		"GBPUSD/USDCHF": -0.80,
		"AUDUSD/NZDUSD": 0.90,
		"AUDUSD/USDCAD": -0.60,
		"USDJPY/EURJPY": 0.75,
		"USDJPY/GBPJPY": 0.70,
		"EURJPY/GBPJPY": 0.90,
		"USDJPY/USDCHF": 0.60,
		"XAUUSD/XAGUSD": 0.80,
		"BTCUSD/ETHUSD": 0.85,
		"US30/NAS100":   0.85,
	}
}

// NewCorrelationTable builds a table from the defaults merged with overrides
func NewCorrelationTable(overrides map[string]float64) *CorrelationTable {
	t := &CorrelationTable{pairs: make(map[string]float64)}
	for pair, c := range DefaultCorrelations() {
		t.setPair(pair, c)
	}
	for pair, c := range overrides {
		t.setPair(pair, c)
	}
	return t
}

func (t *CorrelationTable) setPair(pair string, c float64) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 {
		return
	}
	t.Set(parts[0], parts[1], c)
}

// Set stores the coefficient of a pair
func (t *CorrelationTable) Set(a, b string, c float64) {
	if c > 1 {
		c = 1
	}
	if c < -1 {
		c = -1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pairs[pairKey(a, b)] = c
}

// Correlation returns the coefficient of a and b. A symbol is fully correlated with itself.
func (t *CorrelationTable) Correlation(a, b string) float64 {
	a, b = strings.ToUpper(a), strings.ToUpper(b)
	if a == b {
		return 1
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pairs[pairKey(a, b)]
}

func pairKey(a, b string) string {
	a, b = strings.ToUpper(strings.TrimSpace(a)), strings.ToUpper(strings.TrimSpace(b))
	if a > b {
		a, b = b, a
	}
	return a + "/" + b
}
