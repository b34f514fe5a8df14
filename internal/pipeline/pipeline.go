package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/signal-bridge/internal/bridge"
	boterrors "github.com/ducminhle1904/signal-bridge/internal/errors"
	"github.com/ducminhle1904/signal-bridge/internal/logger"
	"github.com/ducminhle1904/signal-bridge/internal/monitoring"
	"github.com/ducminhle1904/signal-bridge/internal/notifications"
	"github.com/ducminhle1904/signal-bridge/internal/risk"
	"github.com/ducminhle1904/signal-bridge/internal/safety"
	"github.com/ducminhle1904/signal-bridge/internal/store"
	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

const (
	component     = "pipeline"
	notifyTimeout = 10 * time.Second
)

// Terminal is the part of the terminal client the pipeline dispatches through
type Terminal interface {
	PlaceMarket(ctx context.Context, cmd bridge.MarketOrder) (types.Placement, error)
	PlaceLimit(ctx context.Context, cmd bridge.LimitOrder) (types.Placement, error)
	ClosePosition(ctx context.Context, ticket int64) (types.Placement, error)
}

// RiskGate re-checks the daily-loss breaker right before dispatch
type RiskGate interface {
	DailyLoss(ctx context.Context, strategy string) (risk.Check, error)
}

// PendingEvaluator retries risk evaluation of signals stuck in PENDING
type PendingEvaluator interface {
	Reevaluate(ctx context.Context, id string, maxAge time.Duration) (risk.Decision, error)
}

// Invalidator drops cached account state after the terminal changed it
type Invalidator interface {
	Invalidate()
}

// Config controls batch cadence
type Config struct {
	Interval  time.Duration               `json:"interval" yaml:"interval"`
	BatchSize int                         `json:"batch_size" yaml:"batch_size"`
	Pause     time.Duration               `json:"pause" yaml:"pause"` // between signals of one batch
	Breaker   safety.CircuitBreakerConfig `json:"breaker" yaml:"breaker"`

	// PENDING signals older than PendingGrace are evaluated again,
	// and rejected once older than PendingMaxAge
	PendingGrace  time.Duration `json:"pending_grace" yaml:"pending_grace"`
	PendingMaxAge time.Duration `json:"pending_max_age" yaml:"pending_max_age"`

	// VALIDATED signals older than SignalMaxAge fail instead of being
	// dispatched with stale prices. Zero disables the check.
	SignalMaxAge time.Duration `json:"signal_max_age" yaml:"signal_max_age"`
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Second,
		BatchSize: 5,
		Pause:     500 * time.Millisecond,
		Breaker: safety.CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
		},
		PendingGrace:  30 * time.Second,
		PendingMaxAge: 5 * time.Minute,
		SignalMaxAge:  15 * time.Minute,
	}
}

// BatchResult summarises one pipeline run
type BatchResult struct {
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
	Processed int    `json:"processed"`
	Placed    int    `json:"placed"`
	Rejected  int    `json:"rejected"`
	Retrying  int    `json:"retrying"`
	Failed    int    `json:"failed"`
}

type outcome int

const (
	outcomePlaced outcome = iota
	outcomeRejected
	outcomeRetrying
	outcomeFailed
	outcomeDeferred
)

// Pipeline moves VALIDATED signals to the terminal and applies the retry policy
type Pipeline struct {
	cfg      Config
	store    store.Store
	terminal Terminal
	gate     RiskGate
	pending  PendingEvaluator
	breaker  *safety.CircuitBreaker
	account  Invalidator
	health   *monitoring.HealthChecker
	notifier notifications.Notifier
	errStats *boterrors.ErrorStats
	log      *logger.Logger
	now      func() time.Time
	running  atomic.Bool
}

// New wires a pipeline. gate may be nil to skip the daily-loss re-check.
func New(cfg Config, st store.Store, terminal Terminal, gate RiskGate, log *logger.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	if cfg.PendingGrace <= 0 {
		cfg.PendingGrace = def.PendingGrace
	}
	if cfg.PendingMaxAge <= 0 {
		cfg.PendingMaxAge = def.PendingMaxAge
	}
	if cfg.SignalMaxAge < 0 {
		cfg.SignalMaxAge = 0
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(component)

	p := &Pipeline{
		cfg:      cfg,
		store:    st,
		terminal: terminal,
		gate:     gate,
		breaker:  safety.NewCircuitBreaker("dispatch", cfg.Breaker),
		errStats: boterrors.NewErrorStats(50),
		log:      log,
		now:      time.Now,
	}
	p.breaker.SetStateChangeCallback(p.breakerChanged)
	return p
}

func (p *Pipeline) breakerChanged(from, to safety.CircuitBreakerState) {
	p.log.Warning("dispatch circuit breaker %s -> %s", from, to)
	switch to {
	case safety.StateOpen:
		p.notify(notifications.LevelError, fmt.Sprintf("Dispatch paused: circuit breaker opened after repeated terminal failures (was %s)", from))
	case safety.StateClosed:
		if from != safety.StateClosed {
			p.notify(notifications.LevelSuccess, "Dispatch resumed: circuit breaker closed")
		}
	}
}

// notify is best effort; a failed alert is only logged
func (p *Pipeline) notify(level, msg string) {
	if p.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := p.notifier.SendAlert(ctx, level, msg); err != nil {
		p.log.Warning("notification failed: %v", err)
	}
}

// SetPendingEvaluator enables re-evaluation of signals left PENDING
func (p *Pipeline) SetPendingEvaluator(ev PendingEvaluator) { p.pending = ev }

// SetAccount registers the account cache to invalidate after fills
func (p *Pipeline) SetAccount(a Invalidator) { p.account = a }

// SetNotifier registers the operator alert channel
func (p *Pipeline) SetNotifier(n notifications.Notifier) { p.notifier = n }

// SetHealth registers the health checker fed by batches and dispatches
func (p *Pipeline) SetHealth(h *monitoring.HealthChecker) { p.health = h }

// SetClock replaces the time source, for tests
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

// Breaker exposes the dispatch circuit breaker
func (p *Pipeline) Breaker() *safety.CircuitBreaker { return p.breaker }

// ErrorStats exposes dispatch error statistics. Only safe to read between batches.
func (p *Pipeline) ErrorStats() *boterrors.ErrorStats { return p.errStats }

// Run processes batches every Interval until ctx is cancelled
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Info("signal pipeline started (interval=%s batch=%d)", p.cfg.Interval, p.cfg.BatchSize)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("signal pipeline stopped")
			return nil
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
				p.log.LogError("pipeline batch failed", err)
			}
		}
	}
}

// RunOnce processes up to BatchSize VALIDATED signals oldest first. A run that
// overlaps a previous one is skipped.
func (p *Pipeline) RunOnce(ctx context.Context) (BatchResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return BatchResult{Skipped: true, Reason: "previous batch still running"}, nil
	}
	defer p.running.Store(false)

	start := p.now()
	defer func() {
		monitoring.ObserveBatch(time.Since(start))
		if p.health != nil {
			p.health.MarkBatch(p.now())
		}
	}()

	if !p.breaker.Allow() {
		p.log.Debug("dispatch circuit breaker open, skipping batch")
		return BatchResult{Skipped: true, Reason: "circuit breaker open"}, nil
	}

	p.reevaluatePending(ctx)

	signals, err := p.store.ListSignals(ctx, store.SignalFilter{
		Status: types.SignalValidated,
		Limit:  p.cfg.BatchSize,
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to load validated signals: %w", err)
	}

	var res BatchResult
	for i, sig := range signals {
		if i > 0 {
			if p.breaker.State() == safety.StateOpen {
				p.log.Warning("circuit breaker opened mid-batch, leaving %d signals for later", len(signals)-i)
				break
			}
			if !p.pause(ctx) {
				return res, ctx.Err()
			}
		}

		switch p.process(ctx, sig) {
		case outcomePlaced:
			res.Placed++
		case outcomeRejected:
			res.Rejected++
		case outcomeRetrying:
			res.Retrying++
		case outcomeFailed:
			res.Failed++
		case outcomeDeferred:
			continue
		}
		res.Processed++
	}

	if res.Processed > 0 {
		p.log.Info("batch done: %d processed, %d placed, %d rejected, %d retrying, %d failed",
			res.Processed, res.Placed, res.Rejected, res.Retrying, res.Failed)
	}
	return res, nil
}

// reevaluatePending gives signals whose evaluation failed another chance. The
// grace period keeps it away from signals the webhook is still evaluating.
func (p *Pipeline) reevaluatePending(ctx context.Context) {
	if p.pending == nil {
		return
	}
	pending, err := p.store.ListSignals(ctx, store.SignalFilter{Status: types.SignalPending, Limit: p.cfg.BatchSize})
	if err != nil {
		p.log.LogError("failed to load pending signals", err)
		return
	}
	for _, sig := range pending {
		if p.now().Sub(sig.CreatedAt) < p.cfg.PendingGrace {
			continue
		}
		d, err := p.pending.Reevaluate(ctx, sig.ID, p.cfg.PendingMaxAge)
		if err != nil {
			p.log.Warning("re-evaluation of %s failed: %v", sig.ID, err)
			return
		}
		p.log.Info("pending signal %s re-evaluated: %s", sig.ID, d.Status)
	}
}

func (p *Pipeline) pause(ctx context.Context) bool {
	if p.cfg.Pause <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(p.cfg.Pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (p *Pipeline) process(ctx context.Context, sig *types.Signal) outcome {
	existing, err := p.store.FindOrderBySignal(ctx, sig.ID)
	if errors.Is(err, store.ErrNotFound) {
		existing = nil
	} else if err != nil {
		p.log.LogError("order lookup failed for signal "+sig.ID, err)
		return outcomeDeferred
	}
	if existing != nil && (existing.Status == types.OrderPlaced || existing.Status == types.OrderClosed) {
		// dispatched before a restart; only the signal update was lost
		p.finishSignal(ctx, sig, types.SignalProcessed, "")
		return outcomePlaced
	}

	if age := p.now().Sub(sig.CreatedAt); p.cfg.SignalMaxAge > 0 && age > p.cfg.SignalMaxAge {
		return p.failSignal(ctx, sig, boterrors.NewValidationError(component, "dispatch",
			fmt.Sprintf("signal is %s old, limit %s; prices are stale", age.Round(time.Second), p.cfg.SignalMaxAge)))
	}

	if sig.Action != types.ActionClose && p.gate != nil {
		check, err := p.gate.DailyLoss(ctx, sig.Strategy)
		if err != nil {
			p.log.Warning("daily-loss re-check for %s unavailable, deferring: %v", sig.ID, err)
			return outcomeDeferred
		}
		if !check.Passed {
			return p.rejectSignal(ctx, sig, check)
		}
	}

	var target *types.Order
	if sig.Action == types.ActionClose {
		open, err := p.store.FindOpenOrder(ctx, sig.Symbol, sig.Strategy)
		if errors.Is(err, store.ErrNotFound) {
			return p.failSignal(ctx, sig, boterrors.NewNoOpenPositionError(component, sig.Symbol, sig.Strategy))
		}
		if err != nil {
			p.log.LogError("open order lookup failed", err)
			return outcomeDeferred
		}
		target = open
	}

	order, done, err := p.orderFor(ctx, sig, existing, target)
	if err != nil {
		p.log.LogError("failed to prepare order for signal "+sig.ID, err)
		return outcomeDeferred
	}
	if done != nil {
		return *done
	}

	return p.dispatch(ctx, sig, order, target)
}

// orderFor returns the order to dispatch for sig, reusing the one left PENDING
// by a failed attempt. A non-nil outcome means no dispatch is needed.
func (p *Pipeline) orderFor(ctx context.Context, sig *types.Signal, existing, target *types.Order) (*types.Order, *outcome, error) {
	if existing != nil {
		if existing.RetryCount >= types.MaxOrderRetries {
			o := p.failSignal(ctx, sig, retryExhausted(existing))
			return nil, &o, nil
		}
		existing.Status = types.OrderSending
		existing.UpdatedAt = p.now()
		if err := p.store.UpdateOrder(ctx, existing); err != nil {
			return nil, nil, err
		}
		return existing, nil, nil
	}

	now := p.now()
	order := &types.Order{
		ID:         uuid.NewString(),
		SignalID:   sig.ID,
		StrategyID: sig.Strategy,
		Symbol:     sig.Symbol,
		Type:       orderType(sig, target),
		Lots:       sig.CalculatedLot,
		Price:      sig.EntryPrice,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Status:     types.OrderSending,
		RiskAmount: sig.RiskAmount,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if target != nil {
		order.Lots = target.Lots
		order.Price = 0
		order.StopLoss = 0
		order.TakeProfit = 0
		order.RiskAmount = 0
		order.ClosesOrderID = target.ID
	}
	if err := p.store.CreateOrder(ctx, order); err != nil {
		return nil, nil, err
	}
	p.audit(ctx, "order", order.ID, "created", fmt.Sprintf("%s %s %.2f for signal %s", order.Type, order.Symbol, order.Lots, sig.ID))
	return order, nil, nil
}

func orderType(sig *types.Signal, target *types.Order) types.OrderType {
	if target != nil {
		if target.Type.IsBuy() {
			return types.OrderSell
		}
		return types.OrderBuy
	}
	limit := sig.EntryPrice > 0
	switch {
	case sig.Action == types.ActionBuy && limit:
		return types.OrderBuyLimit
	case sig.Action == types.ActionBuy:
		return types.OrderBuy
	case limit:
		return types.OrderSellLimit
	default:
		return types.OrderSell
	}
}

func (p *Pipeline) send(ctx context.Context, sig *types.Signal, order *types.Order, target *types.Order) (types.Placement, error) {
	if target != nil {
		return p.terminal.ClosePosition(ctx, target.Ticket)
	}

	side := types.OrderBuy
	if sig.Action == types.ActionSell {
		side = types.OrderSell
	}
	comment := sig.Strategy
	if order.Price > 0 {
		cmd, err := bridge.NewLimitOrder(order.Symbol, side, order.Lots, order.Price, order.StopLoss, order.TakeProfit, comment)
		if err != nil {
			return types.Placement{}, err
		}
		return p.terminal.PlaceLimit(ctx, cmd)
	}
	cmd, err := bridge.NewMarketOrder(order.Symbol, side, order.Lots, order.StopLoss, order.TakeProfit, comment)
	if err != nil {
		return types.Placement{}, err
	}
	return p.terminal.PlaceMarket(ctx, cmd)
}

func (p *Pipeline) dispatch(ctx context.Context, sig *types.Signal, order *types.Order, target *types.Order) outcome {
	placement, err := p.send(ctx, sig, order, target)
	if err != nil {
		return p.dispatchFailed(ctx, sig, order, err)
	}
	p.breaker.RecordSuccess()

	now := p.now()
	order.Status = types.OrderPlaced
	order.LastError = ""
	order.FillPrice = placement.Price
	order.Ticket = placement.Ticket
	if target != nil {
		order.Ticket = target.Ticket
		order.Profit = placement.Profit
	}
	order.UpdatedAt = now
	if err := p.store.UpdateOrder(ctx, order); err != nil {
		p.log.LogError("failed to persist placed order "+order.ID, err)
	}

	if target != nil {
		target.Status = types.OrderClosed
		target.Profit = placement.Profit
		target.UpdatedAt = now
		if err := p.store.UpdateOrder(ctx, target); err != nil {
			p.log.LogError("failed to persist closed order "+target.ID, err)
		}
		p.audit(ctx, "order", target.ID, "closed", fmt.Sprintf("closed by signal %s profit=%.2f", sig.ID, placement.Profit))
		monitoring.RecordOrder(target.Symbol, string(types.OrderClosed))
	}

	p.finishSignal(ctx, sig, types.SignalProcessed, "")
	p.audit(ctx, "order", order.ID, "placed", fmt.Sprintf("ticket=%d price=%.5f", order.Ticket, order.FillPrice))
	monitoring.RecordOrder(order.Symbol, string(types.OrderPlaced))
	if p.account != nil {
		p.account.Invalidate()
	}
	if p.health != nil {
		p.health.MarkDispatch(now)
		p.health.ClearErrors()
	}
	p.log.Trade("%s %s %.2f lots ticket=%d price=%.5f (signal %s)",
		order.Type, order.Symbol, order.Lots, order.Ticket, order.FillPrice, sig.ID)
	return outcomePlaced
}

func (p *Pipeline) dispatchFailed(ctx context.Context, sig *types.Signal, order *types.Order, err error) outcome {
	p.breaker.RecordFailure()

	be := asBotError(err)
	p.errStats.RecordError(be)
	monitoring.RecordError(string(be.Category))
	if p.health != nil {
		p.health.RecordError(fmt.Sprintf("dispatch %s: %v", order.ID, err))
	}

	order.RetryCount++
	order.LastError = err.Error()
	order.UpdatedAt = p.now()
	order.Status = types.OrderPending
	if order.RetryCount >= types.MaxOrderRetries {
		order.Status = types.OrderError
	}
	if uerr := p.store.UpdateOrder(ctx, order); uerr != nil {
		p.log.LogError("failed to persist failed order "+order.ID, uerr)
	}
	monitoring.RecordOrder(order.Symbol, string(types.OrderError))
	p.audit(ctx, "order", order.ID, "dispatch_failed",
		fmt.Sprintf("attempt %d/%d: %v", order.RetryCount, types.MaxOrderRetries, err))

	if order.RetryCount >= types.MaxOrderRetries {
		return p.failSignal(ctx, sig, retryExhausted(order))
	}
	p.log.Warning("dispatch of order %s failed (attempt %d/%d), will retry: %v",
		order.ID, order.RetryCount, types.MaxOrderRetries, err)
	return outcomeRetrying
}

func retryExhausted(order *types.Order) *boterrors.BotError {
	return boterrors.NewBotError(boterrors.ErrorCategoryRetryExhausted, component, "dispatch",
		fmt.Sprintf("order %s failed after %d attempts: %s", order.ID, order.RetryCount, order.LastError))
}

func asBotError(err error) *boterrors.BotError {
	var be *boterrors.BotError
	if errors.As(err, &be) {
		return be
	}
	return boterrors.WrapError(err, boterrors.ErrorCategoryDispatch, component, "dispatch")
}

func (p *Pipeline) rejectSignal(ctx context.Context, sig *types.Signal, c risk.Check) outcome {
	p.abandonOrder(ctx, sig, "signal rejected: "+c.Reason)
	p.finishSignal(ctx, sig, types.SignalRejected, c.Reason)
	p.audit(ctx, "signal", sig.ID, "rejected", c.Code+": "+c.Reason)
	monitoring.RecordRejection(c.Code)
	p.log.Warning("signal %s rejected before dispatch (%s): %s", sig.ID, c.Code, c.Reason)
	return outcomeRejected
}

func (p *Pipeline) failSignal(ctx context.Context, sig *types.Signal, be *boterrors.BotError) outcome {
	p.errStats.RecordError(be)
	monitoring.RecordError(string(be.Category))
	p.abandonOrder(ctx, sig, be.Message)
	p.finishSignal(ctx, sig, types.SignalError, be.Message)
	p.audit(ctx, "signal", sig.ID, "error", be.Error())
	p.log.Error("signal %s failed: %v", sig.ID, be)
	p.notify(notifications.LevelError, fmt.Sprintf("Signal %s (%s %s %s) failed: %s",
		sig.ID, sig.Strategy, sig.Action, sig.Symbol, be.Message))
	return outcomeFailed
}

// abandonOrder moves an order still waiting for a retry to ERROR once its
// signal has ended without being dispatched.
func (p *Pipeline) abandonOrder(ctx context.Context, sig *types.Signal, reason string) {
	order, err := p.store.FindOrderBySignal(ctx, sig.ID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		p.log.LogError("order lookup failed for signal "+sig.ID, err)
		return
	}
	if order.Status != types.OrderPending && order.Status != types.OrderSending {
		return
	}

	order.Status = types.OrderError
	order.LastError = reason
	order.UpdatedAt = p.now()
	if err := p.store.UpdateOrder(ctx, order); err != nil {
		p.log.LogError("failed to persist abandoned order "+order.ID, err)
		return
	}
	monitoring.RecordOrder(order.Symbol, string(types.OrderError))
	p.audit(ctx, "order", order.ID, "abandoned", reason)
	p.log.Warning("order %s abandoned after %d attempts: %s", order.ID, order.RetryCount, reason)
}

func (p *Pipeline) finishSignal(ctx context.Context, sig *types.Signal, status types.SignalStatus, msg string) {
	sig.Finish(status, msg, p.now())
	if err := p.store.UpdateSignal(ctx, sig); err != nil {
		p.log.LogError("failed to persist signal "+sig.ID, err)
		return
	}
	monitoring.RecordSignal(string(status))
}

func (p *Pipeline) audit(ctx context.Context, entity, id, event, msg string) {
	entry := types.AuditEntry{Time: p.now(), Entity: entity, EntityID: id, Event: event, Message: msg}
	if err := p.store.AppendAudit(ctx, entry); err != nil {
		p.log.LogError("audit append failed", err)
	}
}
