package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// Snapshot is the full store content, used for file persistence and export
type Snapshot struct {
	Signals     []*types.Signal     `json:"signals"`
	Orders      []*types.Order      `json:"orders"`
	Strategies  []*types.Strategy   `json:"strategies"`
	RiskConfigs []*types.RiskConfig `json:"risk_configs"`
	Audit       []types.AuditEntry  `json:"audit"`
}

type signalRecord struct {
	seq    uint64
	signal types.Signal
}

type orderRecord struct {
	seq   uint64
	order types.Order
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu          sync.RWMutex
	seq         uint64
	signals     map[string]*signalRecord
	orders      map[string]*orderRecord
	strategies  map[string]types.Strategy
	riskConfigs map[string]types.RiskConfig // keyed by strategy id, "" is global
	audit       []types.AuditEntry

	onChange  func() error
	auditHook func(types.AuditEntry)
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signals:     make(map[string]*signalRecord),
		orders:      make(map[string]*orderRecord),
		strategies:  make(map[string]types.Strategy),
		riskConfigs: make(map[string]types.RiskConfig),
	}
}

// changed must be called with mu held
func (m *MemoryStore) changed() error {
	if m.onChange == nil {
		return nil
	}
	return m.onChange()
}

func (m *MemoryStore) CreateSignal(_ context.Context, s *types.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		return fmt.Errorf("signal id is required")
	}
	if _, exists := m.signals[s.ID]; exists {
		return fmt.Errorf("signal %s already exists", s.ID)
	}
	m.seq++
	m.signals[s.ID] = &signalRecord{seq: m.seq, signal: *s}
	return m.changed()
}

func (m *MemoryStore) GetSignal(_ context.Context, id string) (*types.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.signals[id]
	if !ok {
		return nil, fmt.Errorf("signal %s: %w", id, ErrNotFound)
	}
	s := rec.signal
	return &s, nil
}

func (m *MemoryStore) UpdateSignal(_ context.Context, s *types.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.signals[s.ID]
	if !ok {
		return fmt.Errorf("signal %s: %w", s.ID, ErrNotFound)
	}
	rec.signal = *s
	return m.changed()
}

func (m *MemoryStore) ListSignals(_ context.Context, f SignalFilter) ([]*types.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]*signalRecord, 0, len(m.signals))
	for _, rec := range m.signals {
		if f.Status != "" && rec.signal.Status != f.Status {
			continue
		}
		if f.Strategy != "" && rec.signal.Strategy != f.Strategy {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.signal.CreatedAt.Equal(b.signal.CreatedAt) {
			return a.signal.CreatedAt.Before(b.signal.CreatedAt)
		}
		return a.seq < b.seq
	})
	if f.Limit > 0 && len(recs) > f.Limit {
		recs = recs[:f.Limit]
	}

	out := make([]*types.Signal, len(recs))
	for i, rec := range recs {
		s := rec.signal
		out[i] = &s
	}
	return out, nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, o *types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == "" {
		return fmt.Errorf("order id is required")
	}
	if _, exists := m.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	m.seq++
	m.orders[o.ID] = &orderRecord{seq: m.seq, order: *o}
	return m.changed()
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	o := rec.order
	return &o, nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, o *types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
	}
	rec.order = *o
	return m.changed()
}

// sortedOrders must be called with mu held
func (m *MemoryStore) sortedOrders(keep func(*types.Order) bool) []*orderRecord {
	recs := make([]*orderRecord, 0)
	for _, rec := range m.orders {
		if keep(&rec.order) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	return recs
}

func (m *MemoryStore) ListOrders(_ context.Context, f OrderFilter) ([]*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.sortedOrders(func(o *types.Order) bool {
		return (f.Status == "" || o.Status == f.Status) &&
			(f.Symbol == "" || strings.EqualFold(o.Symbol, f.Symbol)) &&
			(f.Strategy == "" || o.StrategyID == f.Strategy)
	})
	if f.Limit > 0 && len(recs) > f.Limit {
		recs = recs[:f.Limit]
	}
	out := make([]*types.Order, len(recs))
	for i, rec := range recs {
		o := rec.order
		out[i] = &o
	}
	return out, nil
}

func (m *MemoryStore) latestOrder(keep func(*types.Order) bool, what string) (*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.sortedOrders(keep)
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	o := recs[len(recs)-1].order
	return &o, nil
}

func (m *MemoryStore) FindOrderBySignal(_ context.Context, signalID string) (*types.Order, error) {
	return m.latestOrder(func(o *types.Order) bool {
		return o.SignalID == signalID
	}, "order for signal "+signalID)
}

func (m *MemoryStore) FindOpenOrder(_ context.Context, symbol, strategy string) (*types.Order, error) {
	return m.latestOrder(func(o *types.Order) bool {
		return o.IsOpenPosition() && strings.EqualFold(o.Symbol, symbol) && o.StrategyID == strategy
	}, fmt.Sprintf("open order for %s/%s", symbol, strategy))
}

func (m *MemoryStore) FindOrderByTicket(_ context.Context, ticket int64) (*types.Order, error) {
	return m.latestOrder(func(o *types.Order) bool {
		return o.Ticket == ticket && o.ClosesOrderID == ""
	}, fmt.Sprintf("order with ticket %d", ticket))
}

func (m *MemoryStore) GetStrategy(_ context.Context, name string) (*types.Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %s: %w", name, ErrNotFound)
	}
	return &s, nil
}

func (m *MemoryStore) SaveStrategy(_ context.Context, s *types.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Name == "" {
		return fmt.Errorf("strategy name is required")
	}
	m.strategies[s.Name] = *s
	return m.changed()
}

func (m *MemoryStore) ListStrategies(_ context.Context) ([]*types.Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) ListRiskConfigs(_ context.Context) ([]*types.RiskConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.RiskConfig, 0, len(m.riskConfigs))
	for _, c := range m.riskConfigs {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out, nil
}

func (m *MemoryStore) SaveRiskConfig(_ context.Context, c *types.RiskConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riskConfigs[c.StrategyID] = *c
	return m.changed()
}

func (m *MemoryStore) AppendAudit(_ context.Context, e types.AuditEntry) error {
	m.mu.Lock()
	m.audit = append(m.audit, e)
	err := m.changed()
	hook := m.auditHook
	m.mu.Unlock()

	if hook != nil {
		hook(e)
	}
	return err
}

// SetAuditHook registers fn to observe every appended audit entry. fn runs
// outside the store lock and must not block.
func (m *MemoryStore) SetAuditHook(fn func(types.AuditEntry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditHook = fn
}

func (m *MemoryStore) ListAudit(_ context.Context, entityID string) ([]types.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.AuditEntry, 0)
	for _, e := range m.audit {
		if entityID == "" || e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Snapshot copies the whole store content in insertion order
func (m *MemoryStore) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *MemoryStore) snapshotLocked() Snapshot {
	snap := Snapshot{
		Signals:     make([]*types.Signal, 0, len(m.signals)),
		Orders:      make([]*types.Order, 0, len(m.orders)),
		Strategies:  make([]*types.Strategy, 0, len(m.strategies)),
		RiskConfigs: make([]*types.RiskConfig, 0, len(m.riskConfigs)),
		Audit:       append([]types.AuditEntry(nil), m.audit...),
	}

	sigs := make([]*signalRecord, 0, len(m.signals))
	for _, rec := range m.signals {
		sigs = append(sigs, rec)
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].seq < sigs[j].seq })
	for _, rec := range sigs {
		s := rec.signal
		snap.Signals = append(snap.Signals, &s)
	}
	for _, rec := range m.sortedOrders(func(*types.Order) bool { return true }) {
		o := rec.order
		snap.Orders = append(snap.Orders, &o)
	}
	for _, s := range m.strategies {
		s := s
		snap.Strategies = append(snap.Strategies, &s)
	}
	sort.Slice(snap.Strategies, func(i, j int) bool { return snap.Strategies[i].Name < snap.Strategies[j].Name })
	for _, c := range m.riskConfigs {
		c := c
		snap.RiskConfigs = append(snap.RiskConfigs, &c)
	}
	sort.Slice(snap.RiskConfigs, func(i, j int) bool { return snap.RiskConfigs[i].StrategyID < snap.RiskConfigs[j].StrategyID })
	return snap
}

// restore replaces the content with snap; must be called before the store is shared
func (m *MemoryStore) restore(snap Snapshot) {
	for _, s := range snap.Signals {
		m.seq++
		m.signals[s.ID] = &signalRecord{seq: m.seq, signal: *s}
	}
	for _, o := range snap.Orders {
		m.seq++
		m.orders[o.ID] = &orderRecord{seq: m.seq, order: *o}
	}
	for _, s := range snap.Strategies {
		m.strategies[s.Name] = *s
	}
	for _, c := range snap.RiskConfigs {
		m.riskConfigs[c.StrategyID] = *c
	}
	m.audit = append(m.audit, snap.Audit...)
}
