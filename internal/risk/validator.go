package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// Rejection codes
const (
	CodeStrategyNotFound   = "strategy_not_found"
	CodeStrategyInactive   = "strategy_inactive"
	CodeInvalidAction      = "invalid_action"
	CodeSymbolNotAllowed   = "symbol_not_allowed"
	CodeStrategyHours      = "strategy_hours"
	CodeDailyLoss          = "daily_loss"
	CodeDrawdown           = "drawdown"
	CodeTradingHours       = "trading_hours"
	CodeBlockedDate        = "blocked_date"
	CodeSymbolPositions    = "symbol_positions"
	CodeTotalPositions     = "total_positions"
	CodeExposure           = "total_exposure"
	CodeLotSize            = "lot_size"
	CodeCorrelation        = "correlation"
	CodeCorrelatedExposure = "correlated_exposure"
	CodeInvalidStopLoss    = "invalid_stop_loss"
	CodeInsufficientMargin = "insufficient_margin"
	CodeInvalidSizing      = "invalid_sizing"
	CodeNoBalance          = "no_balance"
	CodeInvalidConfig      = "invalid_risk_config"
	CodeStaleSignal        = "stale_signal"
)

const minLot = 0.01

// Check is the outcome of one rule
type Check struct {
	Passed  bool    `json:"passed"`
	Code    string  `json:"code,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	Current float64 `json:"current,omitempty"`
	Limit   float64 `json:"limit,omitempty"`
}

// Pass is the successful check
var Pass = Check{Passed: true}

func fail(code string, current, limit float64, format string, args ...interface{}) Check {
	return Check{Code: code, Reason: fmt.Sprintf(format, args...), Current: current, Limit: limit}
}

// State is the aggregated account view the rules evaluate against
type State struct {
	Balance   float64
	Equity    float64
	TodayPnL  float64
	Positions []types.Position
	Now       time.Time
}

// Proposal is the trade being validated
type Proposal struct {
	Symbol    string
	Direction float64 // +1 long, -1 short
	Lots      float64
	Strategy  *types.Strategy
}

// Validator runs stateless risk rules. Zero limits disable a rule.
type Validator struct {
	correlations *CorrelationTable
}

// NewValidator creates a validator. A nil table uses the defaults.
func NewValidator(correlations *CorrelationTable) *Validator {
	if correlations == nil {
		correlations = NewCorrelationTable(nil)
	}
	return &Validator{correlations: correlations}
}

// PreTrade runs the rules that do not depend on the lot size, returning the
// first failure
func (v *Validator) PreTrade(cfg types.RiskConfig, p Proposal, s State) Check {
	for _, check := range []func() Check{
		func() Check { return CheckDailyLoss(cfg, s) },
		func() Check { return CheckDrawdown(cfg, s) },
		func() Check { return CheckTradingHours(cfg, s.Now) },
		func() Check { return CheckBlockedDates(cfg, s.Now) },
		func() Check { return CheckSymbolPositions(p, s) },
		func() Check { return CheckTotalPositions(cfg, s) },
		func() Check { return v.CheckCorrelation(cfg, p, s) },
	} {
		if c := check(); !c.Passed {
			return c
		}
	}
	return Pass
}

// PostSizing runs the rules that need the calculated lot
func (v *Validator) PostSizing(cfg types.RiskConfig, p Proposal, s State) Check {
	for _, check := range []func() Check{
		func() Check { return CheckLotSize(cfg, p) },
		func() Check { return CheckExposure(cfg, p, s) },
		func() Check { return v.CheckCorrelatedExposure(cfg, p, s) },
	} {
		if c := check(); !c.Passed {
			return c
		}
	}
	return Pass
}

// CheckDailyLoss blocks once today's realized loss reaches MaxDailyLoss percent of balance
func CheckDailyLoss(cfg types.RiskConfig, s State) Check {
	if s.Balance <= 0 {
		return fail(CodeNoBalance, s.Balance, 0, "account balance %.2f is not positive", s.Balance)
	}
	if cfg.MaxDailyLoss <= 0 || s.TodayPnL >= 0 {
		return Pass
	}
	lossPct := math.Abs(s.TodayPnL) / s.Balance * 100
	if lossPct >= cfg.MaxDailyLoss {
		return fail(CodeDailyLoss, lossPct, cfg.MaxDailyLoss,
			"daily loss %.2f%% reached limit %.2f%%", lossPct, cfg.MaxDailyLoss)
	}
	return Pass
}

// CheckDrawdown blocks while floating drawdown (balance to equity) reaches MaxDrawdown percent
func CheckDrawdown(cfg types.RiskConfig, s State) Check {
	if cfg.MaxDrawdown <= 0 || s.Balance <= 0 || s.Equity >= s.Balance {
		return Pass
	}
	dd := (s.Balance - s.Equity) / s.Balance * 100
	if dd >= cfg.MaxDrawdown {
		return fail(CodeDrawdown, dd, cfg.MaxDrawdown,
			"drawdown %.2f%% reached limit %.2f%%", dd, cfg.MaxDrawdown)
	}
	return Pass
}

// CheckTradingHours blocks outside the configured session window
func CheckTradingHours(cfg types.RiskConfig, now time.Time) Check {
	return checkHours(CodeTradingHours, cfg.TradingHours, now)
}

func checkHours(code string, h types.TradingHours, now time.Time) Check {
	ok, err := InTradingHours(h, now)
	if err != nil {
		return fail(CodeInvalidConfig, 0, 0, "trading hours: %v", err)
	}
	if !ok {
		window := h.Start + "-" + h.End
		if len(h.Days) > 0 {
			window += " " + strings.Join(h.Days, ",")
		}
		if h.Timezone != "" {
			window += " " + h.Timezone
		}
		return fail(code, 0, 0, "outside trading hours (%s)", window)
	}
	return Pass
}

// CheckBlockedDates blocks on configured holidays
func CheckBlockedDates(cfg types.RiskConfig, now time.Time) Check {
	blocked, err := IsBlockedDate(cfg.BlockedDates, cfg.TradingHours.Timezone, now)
	if err != nil {
		return fail(CodeInvalidConfig, 0, 0, "blocked dates: %v", err)
	}
	if blocked {
		return fail(CodeBlockedDate, 0, 0, "trading is blocked on %s", now.Format("2006-01-02"))
	}
	return Pass
}

// CheckSymbolPositions enforces the strategy's per-symbol position cap
func CheckSymbolPositions(p Proposal, s State) Check {
	if p.Strategy == nil || p.Strategy.MaxPositions <= 0 {
		return Pass
	}
	open := 0
	for _, pos := range s.Positions {
		if strings.EqualFold(pos.Symbol, p.Symbol) {
			open++
		}
	}
	if open >= p.Strategy.MaxPositions {
		return fail(CodeSymbolPositions, float64(open), float64(p.Strategy.MaxPositions),
			"%d open positions on %s, strategy allows %d", open, p.Symbol, p.Strategy.MaxPositions)
	}
	return Pass
}

// CheckTotalPositions enforces the account-wide position cap
func CheckTotalPositions(cfg types.RiskConfig, s State) Check {
	if cfg.MaxTotalPositions <= 0 {
		return Pass
	}
	if n := len(s.Positions); n >= cfg.MaxTotalPositions {
		return fail(CodeTotalPositions, float64(n), float64(cfg.MaxTotalPositions),
			"%d open positions, limit %d", n, cfg.MaxTotalPositions)
	}
	return Pass
}

// CheckExposure blocks when open lots already reach the cap or the new lots would exceed it
func CheckExposure(cfg types.RiskConfig, p Proposal, s State) Check {
	if cfg.MaxTotalExposure <= 0 {
		return Pass
	}
	open := 0.0
	for _, pos := range s.Positions {
		open += pos.Lots
	}
	if open >= cfg.MaxTotalExposure || open+p.Lots > cfg.MaxTotalExposure+1e-9 {
		return fail(CodeExposure, open+p.Lots, cfg.MaxTotalExposure,
			"exposure %.2f lots (+%.2f) exceeds limit %.2f", open, p.Lots, cfg.MaxTotalExposure)
	}
	return Pass
}

// CheckLotSize rejects lots outside [0.01, max] where max is the tighter of
// the risk config and strategy caps
func CheckLotSize(cfg types.RiskConfig, p Proposal) Check {
	if p.Lots < minLot {
		return fail(CodeLotSize, p.Lots, minLot, "lot %.4f below minimum %.2f", p.Lots, minLot)
	}
	limit := cfg.MaxLotSize
	if p.Strategy != nil && p.Strategy.MaxLotSize > 0 && (limit <= 0 || p.Strategy.MaxLotSize < limit) {
		limit = p.Strategy.MaxLotSize
	}
	if limit > 0 && p.Lots > limit+1e-9 {
		return fail(CodeLotSize, p.Lots, limit, "lot %.2f exceeds maximum %.2f", p.Lots, limit)
	}
	return Pass
}

// CheckCorrelation blocks a symbol too correlated with any other open symbol
func (v *Validator) CheckCorrelation(cfg types.RiskConfig, p Proposal, s State) Check {
	if cfg.CorrelationThreshold <= 0 {
		return Pass
	}
	for _, pos := range s.Positions {
		if strings.EqualFold(pos.Symbol, p.Symbol) {
			continue
		}
		c := v.correlations.Correlation(p.Symbol, pos.Symbol)
		if math.Abs(c) > cfg.CorrelationThreshold {
			return fail(CodeCorrelation, math.Abs(c), cfg.CorrelationThreshold,
				"%s correlation %.2f with open %s exceeds %.2f", p.Symbol, c, pos.Symbol, cfg.CorrelationThreshold)
		}
	}
	return Pass
}

// CheckCorrelatedExposure caps the net directional exposure after weighting
// every open position by its correlation with the new symbol
func (v *Validator) CheckCorrelatedExposure(cfg types.RiskConfig, p Proposal, s State) Check {
	if cfg.MaxCorrelatedExposure <= 0 {
		return Pass
	}
	exposure := p.Direction * p.Lots
	for _, pos := range s.Positions {
		exposure += v.correlations.Correlation(p.Symbol, pos.Symbol) * pos.Direction() * pos.Lots
	}
	if math.Abs(exposure) > cfg.MaxCorrelatedExposure+1e-9 {
		return fail(CodeCorrelatedExposure, math.Abs(exposure), cfg.MaxCorrelatedExposure,
			"correlated exposure %.2f lots exceeds limit %.2f", math.Abs(exposure), cfg.MaxCorrelatedExposure)
	}
	return Pass
}
