package sizing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	boterrors "github.com/ducminhle1904/signal-bridge/internal/errors"
	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

const (
	// MinLot is the smallest tradable lot
	MinLot = 0.01
	// DefaultSafetyFactor is the share of free margin a single position may use
	DefaultSafetyFactor = 0.9
	// DefaultMaxLot applies when neither strategy nor risk config set a cap
	DefaultMaxLot = 100.0

	lotDecimals   = 2
	priceDecimals = 5
	component     = "sizing"
)

var (
	ErrInvalidStopLoss    = errors.New("stop loss missing or equal to reference price")
	ErrInvalidRequest     = errors.New("invalid sizing request")
	ErrInsufficientMargin = errors.New("free margin below minimum lot")
)

// LimitReason names the constraint that determined the final lot
type LimitReason string

const (
	LimitedByRisk        LimitReason = "risk"
	LimitedByMargin      LimitReason = "margin"
	LimitedByStrategyMax LimitReason = "strategyMax"
)

// Request holds the inputs of one sizing calculation
type Request struct {
	Balance        float64
	FreeMargin     float64
	Symbol         string
	ReferencePrice float64
	StopLoss       float64
	TakeProfit     float64 // optional, only used for the risk/reward ratio
	RiskPercent    float64
	MaxLotSize     float64 // 0 falls back to DefaultMaxLot
}

// Result is the outcome of a sizing calculation
type Result struct {
	LotSize         float64     `json:"lot_size"`
	RiskAmount      float64     `json:"risk_amount"`
	EffectiveRisk   float64     `json:"effective_risk"` // money lost at SL with the final lot
	MarginUsed      float64     `json:"margin_used"`
	LimitedBy       LimitReason `json:"limited_by"`
	RiskRewardRatio float64     `json:"risk_reward_ratio,omitempty"`
	StopDistance    float64     `json:"stop_distance"`
	Points          float64     `json:"points"`
}

// Engine computes bounded lot sizes from account risk parameters
type Engine struct {
	symbols      *SymbolTable
	margin       *MarginCalculator
	safetyFactor float64
}

// NewEngine creates a sizing engine. A nil table uses the defaults.
func NewEngine(symbols *SymbolTable, safetyFactor float64) *Engine {
	if symbols == nil {
		symbols = NewSymbolTable(nil)
	}
	if safetyFactor <= 0 || safetyFactor > 1 {
		safetyFactor = DefaultSafetyFactor
	}
	return &Engine{
		symbols:      symbols,
		margin:       NewMarginCalculator(),
		safetyFactor: safetyFactor,
	}
}

// Symbols exposes the symbol table used by the engine
func (e *Engine) Symbols() *SymbolTable {
	return e.symbols
}

// Size calculates the lot for req. The lot never falls below MinLot nor
// exceeds min(MaxLotSize, margin ceiling).
func (e *Engine) Size(req Request) (Result, error) {
	if req.Balance <= 0 || req.RiskPercent <= 0 || req.ReferencePrice <= 0 || req.MaxLotSize < 0 {
		return Result{}, boterrors.NewSizingError(component, "size",
			fmt.Errorf("%w: balance=%.2f risk=%.2f%% price=%.5f max_lot=%.2f",
				ErrInvalidRequest, req.Balance, req.RiskPercent, req.ReferencePrice, req.MaxLotSize))
	}
	if req.StopLoss <= 0 || req.StopLoss == req.ReferencePrice {
		return Result{}, boterrors.NewSizingError(component, "size",
			fmt.Errorf("%w: price=%.5f sl=%.5f", ErrInvalidStopLoss, req.ReferencePrice, req.StopLoss))
	}

	spec, _ := e.symbols.Lookup(req.Symbol)

	stopDistance := math.Abs(req.ReferencePrice - req.StopLoss)
	points := stopDistance * spec.PointFactor
	riskAmount := req.Balance * req.RiskPercent / 100
	rawLot := riskAmount / points

	maxLot := req.MaxLotSize
	if maxLot == 0 {
		maxLot = DefaultMaxLot
	}
	if maxLot < MinLot {
		maxLot = MinLot
	}

	lot := rawLot
	limitedBy := LimitedByRisk
	ceiling := maxLot
	ceilingReason := LimitedByStrategyMax

	if spec.HasMarginData() {
		marginLots := e.margin.MaxLots(spec, req.ReferencePrice, req.FreeMargin, e.safetyFactor)
		if marginLots < MinLot {
			return Result{}, boterrors.NewSizingError(component, "size",
				fmt.Errorf("%w: free margin %.2f allows %.4f lots of %s",
					ErrInsufficientMargin, req.FreeMargin, marginLots, req.Symbol))
		}
		if marginLots < ceiling {
			ceiling = marginLots
			ceilingReason = LimitedByMargin
		}
	}

	if lot > ceiling {
		lot = ceiling
		limitedBy = ceilingReason
	}
	if lot < MinLot {
		lot = MinLot
	}
	lot = roundLot(lot, ceiling)

	result := Result{
		LotSize:       lot,
		RiskAmount:    roundMoney(riskAmount),
		EffectiveRisk: roundMoney(lot * points),
		LimitedBy:     limitedBy,
		StopDistance:  stopDistance,
		Points:        points,
	}
	if spec.HasMarginData() {
		result.MarginUsed = roundMoney(lot * e.margin.RequiredMargin(req.ReferencePrice*spec.ContractSize, spec.Leverage))
	}
	if req.TakeProfit > 0 {
		result.RiskRewardRatio = math.Abs(req.TakeProfit-req.ReferencePrice) / stopDistance
	}
	return result, nil
}

// roundLot rounds to lot precision without crossing the ceiling
func roundLot(lot, ceiling float64) float64 {
	d := decimal.NewFromFloat(lot).Round(lotDecimals)
	if c := decimal.NewFromFloat(ceiling); d.GreaterThan(c) {
		d = c.Truncate(lotDecimals)
	}
	if d.LessThan(decimal.NewFromFloat(MinLot)) {
		d = decimal.NewFromFloat(MinLot)
	}
	f, _ := d.Float64()
	return f
}

func roundMoney(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// TakeProfit derives a target at rr times the stop distance beyond ref.
// ok is false when the inputs do not define a target.
func TakeProfit(action types.SignalAction, ref, sl, rr float64) (float64, bool) {
	dir := action.Direction()
	if dir == 0 || ref <= 0 || sl <= 0 || rr <= 0 || ref == sl {
		return 0, false
	}
	tp := ref + dir*math.Abs(ref-sl)*rr
	if tp <= 0 {
		return 0, false
	}
	f, _ := decimal.NewFromFloat(tp).Round(priceDecimals).Float64()
	return f, true
}
