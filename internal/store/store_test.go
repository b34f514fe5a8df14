package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

func TestMemoryStore_ListSignalsOldestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, m.CreateSignal(ctx, &types.Signal{ID: "c", Status: types.SignalValidated, CreatedAt: base.Add(2 * time.Minute)}))
	require.NoError(t, m.CreateSignal(ctx, &types.Signal{ID: "a", Status: types.SignalValidated, CreatedAt: base}))
	require.NoError(t, m.CreateSignal(ctx, &types.Signal{ID: "x", Status: types.SignalRejected, CreatedAt: base}))
	require.NoError(t, m.CreateSignal(ctx, &types.Signal{ID: "b", Status: types.SignalValidated, CreatedAt: base.Add(time.Minute)}))

	got, err := m.ListSignals(ctx, SignalFilter{Status: types.SignalValidated, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateSignal(ctx, &types.Signal{ID: "s1", Status: types.SignalPending}))

	s, err := m.GetSignal(ctx, "s1")
	require.NoError(t, err)
	s.Status = types.SignalValidated

	again, err := m.GetSignal(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, types.SignalPending, again.Status)

	_, err = m.GetSignal(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore_FindOpenOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	orders := []*types.Order{
		{ID: "o1", Symbol: "EURUSD", StrategyID: "S1", Status: types.OrderPlaced, Ticket: 100},
		{ID: "o2", Symbol: "EURUSD", StrategyID: "S1", Status: types.OrderPlaced, Ticket: 101},
		{ID: "o3", Symbol: "EURUSD", StrategyID: "S1", Status: types.OrderError},
		{ID: "o4", Symbol: "EURUSD", StrategyID: "S2", Status: types.OrderPlaced, Ticket: 102},
		{ID: "o5", Symbol: "EURUSD", StrategyID: "S1", Status: types.OrderPlaced, Ticket: 101, ClosesOrderID: "o2"},
	}
	for _, o := range orders {
		require.NoError(t, m.CreateOrder(ctx, o))
	}

	open, err := m.FindOpenOrder(ctx, "eurusd", "S1")
	require.NoError(t, err)
	assert.Equal(t, "o2", open.ID)

	_, err = m.FindOpenOrder(ctx, "GBPUSD", "S1")
	assert.True(t, errors.Is(err, ErrNotFound))

	byTicket, err := m.FindOrderByTicket(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "o2", byTicket.ID)
}

func TestEffectiveRiskConfig(t *testing.T) {
	configs := []*types.RiskConfig{
		{IsActive: true, MaxDailyLoss: 5},
		{StrategyID: "S1", IsActive: true, MaxDailyLoss: 2},
		{StrategyID: "S2", IsActive: false, MaxDailyLoss: 1},
	}

	cfg, ok := EffectiveRiskConfig(configs, "S1")
	require.True(t, ok)
	assert.Equal(t, 2.0, cfg.MaxDailyLoss)

	cfg, ok = EffectiveRiskConfig(configs, "S2")
	require.True(t, ok)
	assert.Equal(t, 5.0, cfg.MaxDailyLoss, "inactive strategy config falls back to global")

	_, ok = EffectiveRiskConfig(configs[2:], "S2")
	assert.False(t, ok)
}

func TestFileStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "store.json")

	fs, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.SaveStrategy(ctx, &types.Strategy{Name: "S1", IsActive: true, DefaultRiskPercent: 1}))
	require.NoError(t, fs.CreateSignal(ctx, &types.Signal{ID: "s1", Strategy: "S1", Status: types.SignalValidated}))
	require.NoError(t, fs.CreateOrder(ctx, &types.Order{ID: "o1", SignalID: "s1", Status: types.OrderPending, RetryCount: 1}))
	require.NoError(t, fs.AppendAudit(ctx, types.AuditEntry{Entity: "signal", EntityID: "s1", Event: "validated"}))
	require.NoError(t, fs.Close())

	_, err = os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(err))

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	order, err := reopened.FindOrderBySignal(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, order.RetryCount)

	audit, err := reopened.ListAudit(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestFileStore_LockedByAnotherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	first, err := OpenFileStore(path)
	require.NoError(t, err)
	defer first.Close()

	_, err = OpenFileStore(path)
	assert.Error(t, err)
}

func TestFileStore_RejectsCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"signals":[{"id":""}]}`), 0644))

	_, err := OpenFileStore(path)
	assert.Error(t, err)
	_, statErr := os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(statErr), "lock must be released on failed open")
}

func TestReadSnapshot_IgnoresLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	fs, err := OpenFileStore(path)
	require.NoError(t, err)
	defer fs.Close()
	require.NoError(t, fs.CreateSignal(ctx, &types.Signal{ID: "s1", Strategy: "S1", Status: types.SignalPending}))

	snap, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.Len(t, snap.Signals, 1)
	assert.Equal(t, "s1", snap.Signals[0].ID)

	_, err = ReadSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "does not exist")
}

func TestMemoryStore_AuditHook(t *testing.T) {
	st := NewMemoryStore()
	var seen []types.AuditEntry
	st.SetAuditHook(func(e types.AuditEntry) { seen = append(seen, e) })

	require.NoError(t, st.AppendAudit(context.Background(), types.AuditEntry{EntityID: "s1", Event: "received"}))
	require.Len(t, seen, 1)
	assert.Equal(t, "received", seen[0].Event)
}
