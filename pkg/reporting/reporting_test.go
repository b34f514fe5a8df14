package reporting

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

var at = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func fixture() ([]*types.Signal, []*types.Order) {
	signals := []*types.Signal{
		{ID: "s1", Strategy: "S1", Action: types.ActionBuy, Symbol: "EURUSD", CurrentPrice: 1.1, StopLoss: 1.095, CalculatedLot: 2, RiskAmount: 100, Status: types.SignalProcessed, CreatedAt: at},
		{ID: "s2", Strategy: "S1", Action: types.ActionSell, Symbol: "GBPUSD", CurrentPrice: 1.27, Status: types.SignalRejected, ErrorMessage: "daily loss 3.10% reached limit 3.00%", CreatedAt: at},
		{ID: "s3", Strategy: "S1", Action: types.ActionSell, Symbol: "GBPUSD", CurrentPrice: 1.27, Status: types.SignalRejected, ErrorMessage: "daily loss 3.10% reached limit 3.00%", CreatedAt: at},
		{ID: "s4", Strategy: "S2", Action: types.ActionBuy, Symbol: "XAUUSD", CurrentPrice: 2350, Status: types.SignalRejected, ErrorMessage: "strategy \"S2\" is inactive", CreatedAt: at},
		{ID: "s5", Strategy: "S1", Action: types.ActionBuy, Symbol: "USDJPY", CurrentPrice: 150, Status: types.SignalPending, CreatedAt: at},
	}
	orders := []*types.Order{
		{ID: "o1", SignalID: "s1", Symbol: "EURUSD", Type: types.OrderBuy, Lots: 2, Status: types.OrderPlaced, Ticket: 1001, RiskAmount: 100, CreatedAt: at, UpdatedAt: at},
		{ID: "o2", Symbol: "GBPUSD", Type: types.OrderSell, Lots: 1, Status: types.OrderClosed, Ticket: 1002, Profit: 55.5, CreatedAt: at, UpdatedAt: at},
		{ID: "o3", Symbol: "USDJPY", Type: types.OrderBuy, Lots: 0.5, Status: types.OrderClosed, Ticket: 1003, Profit: -20, CreatedAt: at, UpdatedAt: at},
		{ID: "o4", Symbol: "USDJPY", Type: types.OrderSell, Lots: 0.5, Status: types.OrderPlaced, Ticket: 1004, ClosesOrderID: "o3", Profit: -20, CreatedAt: at, UpdatedAt: at},
		{ID: "o5", Symbol: "EURUSD", Type: types.OrderBuy, Lots: 1, Status: types.OrderError, RetryCount: 3, LastError: "timeout", CreatedAt: at, UpdatedAt: at},
	}
	return signals, orders
}

func TestSummarize(t *testing.T) {
	signals, orders := fixture()
	s := Summarize(signals, orders, at)

	assert.Equal(t, 5, s.Signals)
	assert.Equal(t, 3, s.SignalsByStatus[types.SignalRejected])
	assert.Equal(t, 5, s.Orders)
	assert.Equal(t, 1, s.OpenPositions, "close orders are not positions")
	assert.Equal(t, 2.0, s.OpenLots)
	assert.Equal(t, 100.0, s.RiskAtStake)
	assert.Equal(t, 2, s.ClosedTrades)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 35.5, s.NetProfit, 1e-9)
	assert.Equal(t, 50.0, s.WinRate())

	require.Len(t, s.TopRejections, 2)
	assert.Equal(t, 2, s.TopRejections[0].Count)
	assert.Contains(t, s.TopRejections[0].Reason, "daily loss")
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, nil, at)
	assert.Zero(t, s.Signals)
	assert.Zero(t, s.WinRate())
	assert.Empty(t, s.TopRejections)
}

func TestConsoleTables(t *testing.T) {
	signals, orders := fixture()
	var buf bytes.Buffer

	WriteSignals(&buf, signals)
	WriteOrders(&buf, orders)
	WriteSummary(&buf, Summarize(signals, orders, at))
	WriteStartup(&buf, StartupInfo{
		Version:    "test",
		HTTPAddr:   ":8080",
		BridgeDir:  "/tmp/bridge",
		Strategies: []*types.Strategy{{Name: "S1", IsActive: true, DefaultRiskPercent: 1}},
	})

	out := buf.String()
	assert.Contains(t, out, "SIGNALS (5)")
	assert.Contains(t, out, "ORDERS (5)")
	assert.Contains(t, out, "CLOSE o3")
	assert.Contains(t, out, "REJECTED")
	assert.Contains(t, out, "1001")
	assert.Contains(t, out, "Win rate")
	assert.Contains(t, out, "STRATEGIES")
	assert.Contains(t, out, "disabled")
}

func TestWriteXLSX(t *testing.T) {
	signals, orders := fixture()
	path := filepath.Join(t.TempDir(), "out", "report.xlsx")

	err := WriteXLSX(Export{
		Summary: Summarize(signals, orders, at),
		Signals: signals,
		Orders:  orders,
		Audit:   []types.AuditEntry{{Time: at, Entity: "signal", EntityID: "s2", Event: "rejected", Message: "daily_loss"}},
	}, path)
	require.NoError(t, err)

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	assert.Equal(t, []string{summarySheet, signalsSheet, ordersSheet, auditSheet}, fx.GetSheetList())

	rows, err := fx.GetRows(signalsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, "Created", rows[0][0])
	assert.Equal(t, "s2", rows[2][1])
	assert.Equal(t, "REJECTED", rows[2][12])

	rows, err = fx.GetRows(ordersSheet)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, "o3", rows[4][17])

	rows, err = fx.GetRows(auditSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "rejected", rows[1][3])
}

func TestWriteOrdersCSV(t *testing.T) {
	_, orders := fixture()
	path := filepath.Join(t.TempDir(), "orders.csv")
	require.NoError(t, WriteOrdersCSV(orders, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 6)
	assert.Equal(t, "Ticket", records[0][11])
	assert.Equal(t, "1002", records[2][11])
	assert.Equal(t, "55.50", records[2][15])
}

func TestDefaultOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("reports", "bridge_20240305_100000.xlsx"), DefaultOutputPath("", "xlsx", at))
}
