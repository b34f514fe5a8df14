package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ducminhle1904/signal-bridge/internal/logger"
	"github.com/ducminhle1904/signal-bridge/internal/monitoring"
	"github.com/ducminhle1904/signal-bridge/internal/store"
	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// DefaultReconcileInterval is how often placed orders are checked against the terminal
const DefaultReconcileInterval = time.Minute

// PositionSource is the part of the terminal client the reconciler reads
type PositionSource interface {
	OpenPositions(ctx context.Context) ([]types.Position, error)
	OrderDetails(ctx context.Context, ticket int64) (types.OrderDetails, error)
}

// ReconcileResult summarises one reconciliation pass
type ReconcileResult struct {
	Checked int `json:"checked"`
	Closed  int `json:"closed"`
	Errors  int `json:"errors"`
}

// Reconciler marks PLACED orders CLOSED once their ticket left the terminal,
// for example after a stop-loss or take-profit hit
type Reconciler struct {
	store    store.Store
	terminal PositionSource
	account  Invalidator
	interval time.Duration
	log      *logger.Logger
	now      func() time.Time
	running  atomic.Bool
}

// NewReconciler creates a reconciler. A non-positive interval uses the default.
func NewReconciler(st store.Store, terminal PositionSource, interval time.Duration, log *logger.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{
		store:    st,
		terminal: terminal,
		interval: interval,
		log:      log.With("reconciler"),
		now:      time.Now,
	}
}

// SetAccount registers the account cache to invalidate when positions closed
func (r *Reconciler) SetAccount(a Invalidator) { r.account = a }

// SetClock replaces the time source, for tests
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// Run reconciles every interval until ctx is cancelled
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Warning("reconciliation failed: %v", err)
			}
		}
	}
}

// RunOnce compares PLACED orders with the terminal's open positions
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	if !r.running.CompareAndSwap(false, true) {
		return res, nil
	}
	defer r.running.Store(false)

	orders, err := r.store.ListOrders(ctx, store.OrderFilter{Status: types.OrderPlaced})
	if err != nil {
		return res, fmt.Errorf("failed to list placed orders: %w", err)
	}

	var candidates []*types.Order
	for _, o := range orders {
		if o.IsOpenPosition() {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		return res, nil
	}

	positions, err := r.terminal.OpenPositions(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to fetch open positions: %w", err)
	}
	open := make(map[int64]bool, len(positions))
	for _, p := range positions {
		open[p.Ticket] = true
	}

	for _, o := range candidates {
		res.Checked++
		if open[o.Ticket] {
			continue
		}

		details, err := r.terminal.OrderDetails(ctx, o.Ticket)
		if err != nil {
			res.Errors++
			r.log.Warning("could not fetch details of ticket %d: %v", o.Ticket, err)
			continue
		}
		if !details.IsClosed() {
			continue
		}

		o.Status = types.OrderClosed
		o.Profit = details.Profit
		o.UpdatedAt = r.now()
		if err := r.store.UpdateOrder(ctx, o); err != nil {
			res.Errors++
			r.log.LogError("failed to persist closed order "+o.ID, err)
			continue
		}
		res.Closed++

		msg := fmt.Sprintf("ticket %d closed on terminal at %.5f profit=%.2f", o.Ticket, details.ClosePrice, details.Profit)
		if err := r.store.AppendAudit(ctx, types.AuditEntry{
			Time: r.now(), Entity: "order", EntityID: o.ID, Event: "closed", Message: msg,
		}); err != nil {
			r.log.LogError("audit append failed", err)
		}
		monitoring.RecordOrder(o.Symbol, string(types.OrderClosed))
		r.log.Trade("%s %s %s", o.Symbol, o.Type, msg)
	}

	if res.Closed > 0 && r.account != nil {
		r.account.Invalidate()
	}
	return res, nil
}
