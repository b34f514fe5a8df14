package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/signal-bridge/internal/account"
	boterrors "github.com/ducminhle1904/signal-bridge/internal/errors"
	"github.com/ducminhle1904/signal-bridge/internal/logger"
	"github.com/ducminhle1904/signal-bridge/internal/monitoring"
	"github.com/ducminhle1904/signal-bridge/internal/sizing"
	"github.com/ducminhle1904/signal-bridge/internal/store"
	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

const component = "risk"

// Store is the persistence the risk engine needs
type Store interface {
	GetSignal(ctx context.Context, id string) (*types.Signal, error)
	GetStrategy(ctx context.Context, name string) (*types.Strategy, error)
	ListRiskConfigs(ctx context.Context) ([]*types.RiskConfig, error)
	UpdateSignal(ctx context.Context, s *types.Signal) error
	AppendAudit(ctx context.Context, e types.AuditEntry) error
}

// AccountSource provides account snapshots
type AccountSource interface {
	Snapshot(ctx context.Context) (account.Snapshot, error)
}

// Decision is the outcome of evaluating one signal
type Decision struct {
	Status types.SignalStatus `json:"status"`
	Check  Check              `json:"check"`
	Sizing *sizing.Result     `json:"sizing,omitempty"`
}

// Engine decides whether a pending signal becomes VALIDATED or REJECTED
type Engine struct {
	store     Store
	account   AccountSource
	validator *Validator
	sizer     *sizing.Engine
	log       *logger.Logger
	now       func() time.Time
	mu        sync.Mutex // one decision at a time
}

// NewEngine wires the risk engine
func NewEngine(st Store, acct AccountSource, validator *Validator, sizer *sizing.Engine, log *logger.Logger) *Engine {
	if validator == nil {
		validator = NewValidator(nil)
	}
	if sizer == nil {
		sizer = sizing.NewEngine(nil, 0)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		store:     st,
		account:   acct,
		validator: validator,
		sizer:     sizer,
		log:       log.With(component),
		now:       time.Now,
	}
}

// SetClock replaces the time source, for tests
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Evaluate validates and sizes a PENDING signal and persists the decision.
// An error means no decision was made and the signal stays PENDING.
// The stored record is authoritative: if another caller decided the signal
// first, sig is refreshed from the store and its current status returned.
func (e *Engine) Evaluate(ctx context.Context, sig *types.Signal) (Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sig.Status != types.SignalPending {
		return Decision{}, boterrors.NewValidationError(component, "evaluate",
			fmt.Sprintf("signal %s is already %s", sig.ID, sig.Status))
	}
	stored, err := e.store.GetSignal(ctx, sig.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load signal %s: %w", sig.ID, err)
	}
	if stored.Status != types.SignalPending {
		e.log.Debug("signal %s already %s, skipping evaluation", sig.ID, stored.Status)
		*sig = *stored
		return Decision{Status: stored.Status}, nil
	}

	d, err := e.evaluate(ctx, stored)
	*sig = *stored
	return d, err
}

// Reevaluate retries a signal left PENDING by an earlier failed evaluation.
// The stored copy is authoritative; signals older than maxAge are rejected as stale.
func (e *Engine) Reevaluate(ctx context.Context, id string, maxAge time.Duration) (Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sig, err := e.store.GetSignal(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	if sig.Status != types.SignalPending {
		return Decision{Status: sig.Status}, nil
	}
	if age := e.now().Sub(sig.CreatedAt); maxAge > 0 && age > maxAge {
		return e.reject(ctx, sig, fail(CodeStaleSignal, age.Seconds(), maxAge.Seconds(),
			"signal still pending after %s, limit %s", age.Round(time.Second), maxAge))
	}
	return e.evaluate(ctx, sig)
}

func (e *Engine) evaluate(ctx context.Context, sig *types.Signal) (Decision, error) {
	if sig.Status != types.SignalPending {
		return Decision{}, boterrors.NewValidationError(component, "evaluate",
			fmt.Sprintf("signal %s is already %s", sig.ID, sig.Status))
	}

	if !sig.Action.Valid() {
		return e.reject(ctx, sig, fail(CodeInvalidAction, 0, 0, "unknown action %q", sig.Action))
	}

	strategy, err := e.store.GetStrategy(ctx, sig.Strategy)
	if errors.Is(err, store.ErrNotFound) {
		return e.reject(ctx, sig, fail(CodeStrategyNotFound, 0, 0, "strategy %q not found", sig.Strategy))
	}
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load strategy %s: %w", sig.Strategy, err)
	}
	if !strategy.IsActive {
		return e.reject(ctx, sig, fail(CodeStrategyInactive, 0, 0, "strategy %q is inactive", strategy.Name))
	}

	// closing needs nothing beyond an active strategy
	if sig.Action == types.ActionClose {
		return e.validate(ctx, sig, Decision{Status: types.SignalValidated, Check: Pass})
	}

	if !strategy.AllowsSymbol(sig.Symbol) {
		return e.reject(ctx, sig, fail(CodeSymbolNotAllowed, 0, 0,
			"symbol %s not allowed for strategy %s", sig.Symbol, strategy.Name))
	}

	now := e.now()
	if c := checkHours(CodeStrategyHours, strategy.TradingHours, now); !c.Passed {
		return e.reject(ctx, sig, c)
	}

	cfg, err := e.riskConfig(ctx, strategy.Name)
	if err != nil {
		return Decision{}, err
	}

	snap, err := e.account.Snapshot(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("account snapshot unavailable: %w", err)
	}
	state := State{
		Balance:   snap.Balance.Balance,
		Equity:    snap.Balance.Equity,
		TodayPnL:  snap.TodayPnL,
		Positions: snap.Positions,
		Now:       now,
	}
	proposal := Proposal{
		Symbol:    sig.Symbol,
		Direction: sig.Action.Direction(),
		Strategy:  strategy,
	}

	if c := e.validator.PreTrade(cfg, proposal, state); !c.Passed {
		return e.reject(ctx, sig, c)
	}

	ref := sig.ReferencePrice()
	if c := checkStopSide(sig.Action, ref, sig.StopLoss); !c.Passed {
		return e.reject(ctx, sig, c)
	}

	maxLot := strategy.MaxLotSize
	if cfg.MaxLotSize > 0 && (maxLot <= 0 || cfg.MaxLotSize < maxLot) {
		maxLot = cfg.MaxLotSize
	}

	result, err := e.sizer.Size(sizing.Request{
		Balance:        snap.Balance.Balance,
		FreeMargin:     snap.Balance.FreeMargin,
		Symbol:         sig.Symbol,
		ReferencePrice: ref,
		StopLoss:       sig.StopLoss,
		TakeProfit:     sig.TakeProfit,
		RiskPercent:    strategy.DefaultRiskPercent,
		MaxLotSize:     maxLot,
	})
	if err != nil {
		return e.reject(ctx, sig, sizingCheck(err))
	}

	lot := result.LotSize
	if sig.SuggestedLot >= minLot && sig.SuggestedLot < lot {
		lot = sig.SuggestedLot
		result.LotSize = lot
		result.EffectiveRisk = lot * result.Points
	}
	monitoring.ObserveLotSize(sig.Symbol, lot)

	proposal.Lots = lot
	if c := e.validator.PostSizing(cfg, proposal, state); !c.Passed {
		return e.reject(ctx, sig, c)
	}

	if sig.TakeProfit <= 0 {
		if tp, ok := sizing.TakeProfit(sig.Action, ref, sig.StopLoss, strategy.RiskRewardRatio); ok {
			sig.TakeProfit = tp
		}
	}
	sig.CalculatedLot = lot
	sig.RiskAmount = roundCents(result.RiskAmount)

	return e.validate(ctx, sig, Decision{Status: types.SignalValidated, Check: Pass, Sizing: &result})
}

// DailyLoss re-runs only the daily-loss breaker for a strategy against a fresh snapshot
func (e *Engine) DailyLoss(ctx context.Context, strategy string) (Check, error) {
	cfg, err := e.riskConfig(ctx, strategy)
	if err != nil {
		return Check{}, err
	}
	snap, err := e.account.Snapshot(ctx)
	if err != nil {
		return Check{}, fmt.Errorf("account snapshot unavailable: %w", err)
	}
	return CheckDailyLoss(cfg, State{
		Balance:  snap.Balance.Balance,
		Equity:   snap.Balance.Equity,
		TodayPnL: snap.TodayPnL,
		Now:      e.now(),
	}), nil
}

func (e *Engine) riskConfig(ctx context.Context, strategy string) (types.RiskConfig, error) {
	configs, err := e.store.ListRiskConfigs(ctx)
	if err != nil {
		return types.RiskConfig{}, fmt.Errorf("failed to load risk configs: %w", err)
	}
	cfg, _ := store.EffectiveRiskConfig(configs, strategy)
	return cfg, nil
}

func (e *Engine) validate(ctx context.Context, sig *types.Signal, d Decision) (Decision, error) {
	sig.Status = types.SignalValidated
	sig.ErrorMessage = ""
	if err := e.store.UpdateSignal(ctx, sig); err != nil {
		return Decision{}, fmt.Errorf("failed to persist validated signal %s: %w", sig.ID, err)
	}

	msg := fmt.Sprintf("%s %s validated", sig.Action, sig.Symbol)
	if d.Sizing != nil {
		msg = fmt.Sprintf("%s %s lot=%.2f risk=%.2f limited_by=%s tp=%.5f",
			sig.Action, sig.Symbol, sig.CalculatedLot, sig.RiskAmount, d.Sizing.LimitedBy, sig.TakeProfit)
	}
	e.audit(ctx, sig.ID, "validated", msg)
	monitoring.RecordSignal(string(types.SignalValidated))
	e.log.Info("signal %s validated: %s", sig.ID, msg)
	return d, nil
}

func (e *Engine) reject(ctx context.Context, sig *types.Signal, c Check) (Decision, error) {
	sig.Finish(types.SignalRejected, c.Reason, e.now())
	if err := e.store.UpdateSignal(ctx, sig); err != nil {
		return Decision{}, fmt.Errorf("failed to persist rejected signal %s: %w", sig.ID, err)
	}

	e.audit(ctx, sig.ID, "rejected", c.Code+": "+c.Reason)
	monitoring.RecordSignal(string(types.SignalRejected))
	monitoring.RecordRejection(c.Code)
	e.log.Warning("signal %s rejected (%s): %s", sig.ID, c.Code, c.Reason)
	return Decision{Status: types.SignalRejected, Check: c}, nil
}

func (e *Engine) audit(ctx context.Context, id, event, msg string) {
	entry := types.AuditEntry{Time: e.now(), Entity: "signal", EntityID: id, Event: event, Message: msg}
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		e.log.LogError("audit append failed", err)
	}
}

// checkStopSide rejects a stop-loss on the profit side of the entry
func checkStopSide(action types.SignalAction, ref, sl float64) Check {
	if ref <= 0 {
		return fail(CodeInvalidSizing, 0, 0, "no reference price")
	}
	if sl <= 0 {
		return fail(CodeInvalidStopLoss, sl, ref, "stop loss is required")
	}
	if (action == types.ActionBuy && sl >= ref) || (action == types.ActionSell && sl <= ref) {
		return fail(CodeInvalidStopLoss, sl, ref, "stop loss %.5f on wrong side of %s price %.5f", sl, action, ref)
	}
	return Pass
}

func sizingCheck(err error) Check {
	code := CodeInvalidSizing
	switch {
	case errors.Is(err, sizing.ErrInvalidStopLoss):
		code = CodeInvalidStopLoss
	case errors.Is(err, sizing.ErrInsufficientMargin):
		code = CodeInsufficientMargin
	}
	reason := err.Error()
	var be *boterrors.BotError
	if errors.As(err, &be) && be.Underlying != nil {
		reason = be.Underlying.Error()
	}
	return Check{Code: code, Reason: reason}
}

func roundCents(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
