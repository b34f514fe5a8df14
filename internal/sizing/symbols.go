package sizing

import (
	"strings"
	"sync"
)

// SymbolSpec describes how prices and lots of a symbol translate into money.
// Leverage and ContractSize are optional; margin clamping only applies when
// both are set.
type SymbolSpec struct {
	PointFactor  float64 `json:"point_factor" yaml:"point_factor"`   // price distance -> points
	ContractSize float64 `json:"contract_size" yaml:"contract_size"` // units per lot
	Leverage     float64 `json:"leverage" yaml:"leverage"`
	MinPrice     float64 `json:"min_price" yaml:"min_price"` // expected quote range, used for sanity checks
	MaxPrice     float64 `json:"max_price" yaml:"max_price"`
}

// HasMarginData reports whether the margin clamp can be applied
func (s SymbolSpec) HasMarginData() bool {
	return s.Leverage > 0 && s.ContractSize > 0
}

// HasPriceRange reports whether an expected quote range is known
func (s SymbolSpec) HasPriceRange() bool {
	return s.MinPrice > 0 && s.MaxPrice > s.MinPrice
}

// DefaultSymbols returns the built-in symbol table. Leverage is left unset so
// margin clamping stays opt-in per deployment.
func DefaultSymbols() map[string]SymbolSpec {
	return map[string]SymbolSpec{
		"EURUSD": {PointFactor: 10000, ContractSize: 100000, MinPrice: 0.8, MaxPrice: 1.6},
		"GBPUSD": {PointFactor: 10000, ContractSize: 100000, MinPrice: 1.0, MaxPrice: 2.0},
		"AUDUSD": {PointFactor: 10000, ContractSize: 100000, MinPrice: 0.5, MaxPrice: 1.1},
		"NZDUSD": {PointFactor: 10000, ContractSize: 100000, MinPrice: 0.45, MaxPrice: 1.0},
		"USDCAD": {PointFactor: 10000, ContractSize: 100000, MinPrice: 1.1, MaxPrice: 1.6},
		"USDCHF": {PointFactor: 10000, ContractSize: 100000, MinPrice: 0.7, MaxPrice: 1.2},
		"EURGBP": {PointFactor: 10000, ContractSize: 100000, MinPrice: 0.7, MaxPrice: 1.0},
		"USDJPY": {PointFactor: 100, ContractSize: 100000, MinPrice: 90, MaxPrice: 200},
		"EURJPY": {PointFactor: 100, ContractSize: 100000, MinPrice: 100, MaxPrice: 220},
		"GBPJPY": {PointFactor: 100, ContractSize: 100000, MinPrice: 120, MaxPrice: 250},
		"XAUUSD": {PointFactor: 100, ContractSize: 100, MinPrice: 1000, MaxPrice: 5000},
		"XAGUSD": {PointFactor: 100, ContractSize: 5000, MinPrice: 10, MaxPrice: 100},
		"BTCUSD": {PointFactor: 1, ContractSize: 1, MinPrice: 10000, MaxPrice: 250000},
		"ETHUSD": {PointFactor: 1, ContractSize: 1, MinPrice: 500, MaxPrice: 15000},
		"US30":   {PointFactor: 1, ContractSize: 1, MinPrice: 20000, MaxPrice: 60000},
		"NAS100": {PointFactor: 1, ContractSize: 1, MinPrice: 8000, MaxPrice: 30000},
	}
}

// HeuristicPointFactor guesses the point factor of a symbol missing from the table
func HeuristicPointFactor(symbol string) float64 {
	s := NormalizeSymbol(symbol)
	switch {
	case strings.HasPrefix(s, "XAU"), strings.HasPrefix(s, "XAG"):
		return 100
	case len(s) == 6 && strings.Contains(s, "JPY"):
		return 100
	case len(s) == 6 && isLetters(s):
		return 10000
	}
	return 1
}

// NormalizeSymbol upper-cases a symbol and drops broker separators
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("/", "", "-", "", "_", "", ".", "").Replace(s)
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// SymbolTable is a concurrency-safe symbol lookup with heuristic fallback
type SymbolTable struct {
	mu    sync.RWMutex
	specs map[string]SymbolSpec
}

// NewSymbolTable builds a table from the defaults merged with overrides
func NewSymbolTable(overrides map[string]SymbolSpec) *SymbolTable {
	t := &SymbolTable{specs: DefaultSymbols()}
	for symbol, spec := range overrides {
		t.Set(symbol, spec)
	}
	return t
}

// Set replaces the spec of one symbol
func (t *SymbolTable) Set(symbol string, spec SymbolSpec) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.specs[NormalizeSymbol(symbol)] = spec
}

// Lookup returns the spec for symbol. Unknown symbols get a heuristic point
// factor and no margin or price data; known=false in that case.
func (t *SymbolTable) Lookup(symbol string) (spec SymbolSpec, known bool) {
	t.mu.RLock()
	spec, known = t.specs[NormalizeSymbol(symbol)]
	t.mu.RUnlock()

	if !known {
		return SymbolSpec{PointFactor: HeuristicPointFactor(symbol)}, false
	}
	if spec.PointFactor <= 0 {
		spec.PointFactor = HeuristicPointFactor(symbol)
	}
	return spec, true
}

// Symbols returns the configured symbol names
func (t *SymbolTable) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.specs))
	for s := range t.specs {
		out = append(out, s)
	}
	return out
}
