package store

import (
	"context"
	"errors"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// SignalFilter selects signals. Results are ordered oldest first.
type SignalFilter struct {
	Status   types.SignalStatus
	Strategy string
	Limit    int
}

// OrderFilter selects orders. Results are ordered oldest first.
type OrderFilter struct {
	Status   types.OrderStatus
	Symbol   string
	Strategy string
	Limit    int
}

// Store persists signals, orders, strategies, risk configs and the audit log.
// Getters return copies; callers persist changes with the Update methods.
type Store interface {
	CreateSignal(ctx context.Context, s *types.Signal) error
	GetSignal(ctx context.Context, id string) (*types.Signal, error)
	UpdateSignal(ctx context.Context, s *types.Signal) error
	ListSignals(ctx context.Context, f SignalFilter) ([]*types.Signal, error)

	CreateOrder(ctx context.Context, o *types.Order) error
	GetOrder(ctx context.Context, id string) (*types.Order, error)
	UpdateOrder(ctx context.Context, o *types.Order) error
	ListOrders(ctx context.Context, f OrderFilter) ([]*types.Order, error)
	// FindOrderBySignal returns the latest order created for a signal
	FindOrderBySignal(ctx context.Context, signalID string) (*types.Order, error)
	// FindOpenOrder returns the most recent open position for symbol and strategy
	FindOpenOrder(ctx context.Context, symbol, strategy string) (*types.Order, error)
	FindOrderByTicket(ctx context.Context, ticket int64) (*types.Order, error)

	GetStrategy(ctx context.Context, name string) (*types.Strategy, error)
	SaveStrategy(ctx context.Context, s *types.Strategy) error
	ListStrategies(ctx context.Context) ([]*types.Strategy, error)

	// ListRiskConfigs returns the global config (if any) and every strategy-scoped one
	ListRiskConfigs(ctx context.Context) ([]*types.RiskConfig, error)
	SaveRiskConfig(ctx context.Context, c *types.RiskConfig) error

	AppendAudit(ctx context.Context, e types.AuditEntry) error
	ListAudit(ctx context.Context, entityID string) ([]types.AuditEntry, error)
}

// EffectiveRiskConfig picks the active strategy-scoped config, falling back to
// the active global one. ok is false when neither exists.
func EffectiveRiskConfig(configs []*types.RiskConfig, strategy string) (cfg types.RiskConfig, ok bool) {
	var global *types.RiskConfig
	for _, c := range configs {
		if !c.IsActive {
			continue
		}
		if c.StrategyID == strategy && strategy != "" {
			return *c, true
		}
		if c.IsGlobal() {
			global = c
		}
	}
	if global != nil {
		return *global, true
	}
	return types.RiskConfig{}, false
}
