package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/signal-bridge/internal/account"
	"github.com/ducminhle1904/signal-bridge/internal/sizing"
	"github.com/ducminhle1904/signal-bridge/internal/store"
	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

type staticAccount struct {
	snap account.Snapshot
	err  error
}

func (s *staticAccount) Snapshot(context.Context) (account.Snapshot, error) {
	return s.snap, s.err
}

var fixedNow = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore, *staticAccount) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.SaveStrategy(ctx, &types.Strategy{
		Name:               "S1",
		IsActive:           true,
		DefaultRiskPercent: 1,
		MaxLotSize:         10,
		MaxPositions:       3,
		RiskRewardRatio:    2,
	}))
	require.NoError(t, st.SaveStrategy(ctx, &types.Strategy{Name: "OFF", IsActive: false, DefaultRiskPercent: 1}))
	require.NoError(t, st.SaveRiskConfig(ctx, &types.RiskConfig{IsActive: true, MaxDailyLoss: 3, MaxTotalPositions: 10}))

	acct := &staticAccount{snap: account.Snapshot{
		Balance: types.Balance{Balance: 10000, Equity: 10000, FreeMargin: 10000},
		TakenAt: fixedNow,
	}}
	e := NewEngine(st, acct, nil, sizing.NewEngine(nil, 0), nil)
	e.SetClock(func() time.Time { return fixedNow })
	return e, st, acct
}

func pendingSignal(t *testing.T, st *store.MemoryStore, s types.Signal) *types.Signal {
	t.Helper()
	if s.ID == "" {
		s.ID = "sig-1"
	}
	s.Status = types.SignalPending
	s.CreatedAt = fixedNow
	require.NoError(t, st.CreateSignal(context.Background(), &s))
	return &s
}

func TestEvaluate_EURUSDScenario(t *testing.T) {
	e, st, _ := newTestEngine(t)
	sig := pendingSignal(t, st, types.Signal{
		Strategy:     "S1",
		Action:       types.ActionBuy,
		Symbol:       "EURUSD",
		CurrentPrice: 1.1000,
		StopLoss:     1.0950,
	})

	d, err := e.Evaluate(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, types.SignalValidated, d.Status)
	require.NotNil(t, d.Sizing)
	assert.Equal(t, sizing.LimitedByRisk, d.Sizing.LimitedBy)

	stored, err := st.GetSignal(context.Background(), sig.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SignalValidated, stored.Status)
	assert.Equal(t, 2.0, stored.CalculatedLot)
	assert.Equal(t, 100.0, stored.RiskAmount)
	assert.InDelta(t, 1.1100, stored.TakeProfit, 1e-9)
	assert.Nil(t, stored.ProcessedAt)

	audit, err := st.ListAudit(context.Background(), sig.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "validated", audit[0].Event)
}

func TestEvaluate_KeepsSuppliedTakeProfitAndSmallerSuggestedLot(t *testing.T) {
	e, st, _ := newTestEngine(t)
	sig := pendingSignal(t, st, types.Signal{
		Strategy:     "S1",
		Action:       types.ActionSell,
		Symbol:       "EURUSD",
		CurrentPrice: 1.1000,
		StopLoss:     1.1050,
		TakeProfit:   1.0800,
		SuggestedLot: 0.5,
	})

	d, err := e.Evaluate(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, types.SignalValidated, d.Status)
	assert.Equal(t, 0.5, sig.CalculatedLot)
	assert.Equal(t, 100.0, sig.RiskAmount, "risk budget, not the risk at the smaller lot")
	assert.Equal(t, 25.0, d.Sizing.EffectiveRisk)
	assert.Equal(t, 1.08, sig.TakeProfit)
	assert.InDelta(t, 4.0, d.Sizing.RiskRewardRatio, 1e-6)
}

func TestEvaluate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		signal types.Signal
		setup  func(*staticAccount)
		code   string
	}{
		{"unknown strategy", types.Signal{Strategy: "NOPE", Action: types.ActionBuy, Symbol: "EURUSD", CurrentPrice: 1.1, StopLoss: 1.09}, nil, CodeStrategyNotFound},
		{"inactive strategy", types.Signal{Strategy: "OFF", Action: types.ActionBuy, Symbol: "EURUSD", CurrentPrice: 1.1, StopLoss: 1.09}, nil, CodeStrategyInactive},
		{"bad action", types.Signal{Strategy: "S1", Action: "hold", Symbol: "EURUSD"}, nil, CodeInvalidAction},
		{"daily loss", types.Signal{Strategy: "S1", Action: types.ActionBuy, Symbol: "EURUSD", CurrentPrice: 1.1, StopLoss: 1.09},
			func(a *staticAccount) { a.snap.TodayPnL = -350 }, CodeDailyLoss},
		{"stop on wrong side", types.Signal{Strategy: "S1", Action: types.ActionBuy, Symbol: "EURUSD", CurrentPrice: 1.1, StopLoss: 1.2}, nil, CodeInvalidStopLoss},
		{"missing stop", types.Signal{Strategy: "S1", Action: types.ActionSell, Symbol: "EURUSD", CurrentPrice: 1.1}, nil, CodeInvalidStopLoss},
		{"symbol cap", types.Signal{Strategy: "S1", Action: types.ActionBuy, Symbol: "EURUSD", CurrentPrice: 1.1, StopLoss: 1.09},
			func(a *staticAccount) {
				for i := 0; i < 3; i++ {
					a.snap.Positions = append(a.snap.Positions, types.Position{Symbol: "EURUSD", Type: types.OrderBuy, Lots: 0.1})
				}
			}, CodeSymbolPositions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, st, acct := newTestEngine(t)
			if tt.setup != nil {
				tt.setup(acct)
			}
			sig := pendingSignal(t, st, tt.signal)

			d, err := e.Evaluate(context.Background(), sig)
			require.NoError(t, err)
			assert.Equal(t, types.SignalRejected, d.Status)
			assert.Equal(t, tt.code, d.Check.Code)

			stored, err := st.GetSignal(context.Background(), sig.ID)
			require.NoError(t, err)
			assert.Equal(t, types.SignalRejected, stored.Status)
			assert.NotEmpty(t, stored.ErrorMessage)
			require.NotNil(t, stored.ProcessedAt)
			assert.Equal(t, fixedNow, *stored.ProcessedAt)
		})
	}
}

func TestEvaluate_StrategyConfigOverridesGlobal(t *testing.T) {
	e, st, acct := newTestEngine(t)
	require.NoError(t, st.SaveRiskConfig(context.Background(), &types.RiskConfig{StrategyID: "S1", IsActive: true, MaxDailyLoss: 1}))
	acct.snap.TodayPnL = -150 // 1.5%: fine globally, breached for S1

	sig := pendingSignal(t, st, types.Signal{Strategy: "S1", Action: types.ActionBuy, Symbol: "EURUSD", CurrentPrice: 1.1, StopLoss: 1.09})
	d, err := e.Evaluate(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, CodeDailyLoss, d.Check.Code)
}

func TestEvaluate_CloseOnlyNeedsActiveStrategy(t *testing.T) {
	e, st, acct := newTestEngine(t)
	acct.err = errors.New("terminal offline")

	sig := pendingSignal(t, st, types.Signal{Strategy: "S1", Action: types.ActionClose, Symbol: "EURUSD"})
	d, err := e.Evaluate(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, types.SignalValidated, d.Status)
	assert.Zero(t, sig.CalculatedLot)
}

func TestEvaluate_SnapshotFailureLeavesPending(t *testing.T) {
	e, st, acct := newTestEngine(t)
	acct.err = errors.New("terminal offline")

	sig := pendingSignal(t, st, types.Signal{Strategy: "S1", Action: types.ActionBuy, Symbol: "EURUSD", CurrentPrice: 1.1, StopLoss: 1.09})
	_, err := e.Evaluate(context.Background(), sig)
	require.Error(t, err)

	stored, err := st.GetSignal(context.Background(), sig.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SignalPending, stored.Status)
}

func TestEvaluate_DecidesOnlyOnce(t *testing.T) {
	e, st, _ := newTestEngine(t)
	sig := pendingSignal(t, st, types.Signal{Strategy: "S1", Action: types.ActionBuy, Symbol: "EURUSD", CurrentPrice: 1.1, StopLoss: 1.09})

	_, err := e.Evaluate(context.Background(), sig)
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), sig)
	assert.Error(t, err)
}

func TestDailyLoss(t *testing.T) {
	e, _, acct := newTestEngine(t)

	c, err := e.DailyLoss(context.Background(), "S1")
	require.NoError(t, err)
	assert.True(t, c.Passed)

	acct.snap.TodayPnL = -300
	c, err = e.DailyLoss(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, CodeDailyLoss, c.Code)
}

func TestReevaluate(t *testing.T) {
	e, st, acct := newTestEngine(t)
	acct.err = errors.New("terminal offline")
	sig := pendingSignal(t, st, types.Signal{Strategy: "S1", Action: types.ActionBuy, Symbol: "EURUSD", CurrentPrice: 1.1, StopLoss: 1.095})

	_, err := e.Evaluate(context.Background(), sig)
	require.Error(t, err)

	acct.err = nil
	d, err := e.Reevaluate(context.Background(), sig.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, types.SignalValidated, d.Status)

	// already decided: no second decision
	d, err = e.Reevaluate(context.Background(), sig.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, types.SignalValidated, d.Status)
	audit, err := st.ListAudit(context.Background(), sig.ID)
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestReevaluate_RejectsStaleSignal(t *testing.T) {
	e, st, _ := newTestEngine(t)
	sig := pendingSignal(t, st, types.Signal{Strategy: "S1", Action: types.ActionBuy, Symbol: "EURUSD", CurrentPrice: 1.1, StopLoss: 1.095})
	e.SetClock(func() time.Time { return fixedNow.Add(10 * time.Minute) })

	d, err := e.Reevaluate(context.Background(), sig.ID, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, types.SignalRejected, d.Status)
	assert.Equal(t, CodeStaleSignal, d.Check.Code)
}

func TestEvaluate_StaleCopyDoesNotOverwriteDecision(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()
	sig := pendingSignal(t, st, types.Signal{Strategy: "S1", Action: types.ActionBuy, Symbol: "EURUSD", CurrentPrice: 1.1, StopLoss: 1.095})
	staleCopy := *sig

	d, err := e.Reevaluate(ctx, sig.ID, time.Minute)
	require.NoError(t, err)
	require.Equal(t, types.SignalValidated, d.Status)

	stored, err := st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	stored.Finish(types.SignalProcessed, "", fixedNow)
	require.NoError(t, st.UpdateSignal(ctx, stored))

	d, err = e.Evaluate(ctx, &staleCopy)
	require.NoError(t, err)
	assert.Equal(t, types.SignalProcessed, d.Status)
	assert.Equal(t, types.SignalProcessed, staleCopy.Status, "caller copy refreshed from the store")

	stored, err = st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SignalProcessed, stored.Status)

	audit, err := st.ListAudit(ctx, sig.ID)
	require.NoError(t, err)
	assert.Len(t, audit, 1, "only one decision recorded")
}

func TestEvaluate_StaleRejectionStaysRejected(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()
	sig := pendingSignal(t, st, types.Signal{Strategy: "S1", Action: types.ActionBuy, Symbol: "EURUSD", CurrentPrice: 1.1, StopLoss: 1.095})
	staleCopy := *sig

	e.SetClock(func() time.Time { return fixedNow.Add(10 * time.Minute) })
	d, err := e.Reevaluate(ctx, sig.ID, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, types.SignalRejected, d.Status)

	d, err = e.Evaluate(ctx, &staleCopy)
	require.NoError(t, err)
	assert.Equal(t, types.SignalRejected, d.Status)

	stored, err := st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SignalRejected, stored.Status)
	assert.Zero(t, stored.CalculatedLot)
}

func TestEvaluate_ConcurrentWithReevaluateDecidesOnce(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()
	sig := pendingSignal(t, st, types.Signal{Strategy: "S1", Action: types.ActionBuy, Symbol: "EURUSD", CurrentPrice: 1.1, StopLoss: 1.095})
	webhookCopy := *sig

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := e.Evaluate(ctx, &webhookCopy)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := e.Reevaluate(ctx, sig.ID, time.Minute)
		assert.NoError(t, err)
	}()
	wg.Wait()

	stored, err := st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SignalValidated, stored.Status)
	assert.Equal(t, types.SignalValidated, webhookCopy.Status)

	audit, err := st.ListAudit(ctx, sig.ID)
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}
