package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// StartupInfo is printed once when the bridge starts
type StartupInfo struct {
	Version     string
	HTTPAddr    string
	BridgeDir   string
	StorePath   string
	Strategies  []*types.Strategy
	AuthToken   bool
	RequirePing bool
}

// WriteStartup prints the startup banner tables
func WriteStartup(w io.Writer, info StartupInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("SIGNAL BRIDGE")
	t.SetStyle(table.StyleRounded)

	auth := "disabled"
	if info.AuthToken {
		auth = "token"
	}
	t.AppendRows([]table.Row{
		{"Version", info.Version},
		{"HTTP", info.HTTPAddr},
		{"Webhook auth", auth},
		{"Bridge dir", info.BridgeDir},
		{"Ping required", info.RequirePing},
		{"State file", info.StorePath},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, WidthMax: 15, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, WidthMax: 60, Align: text.AlignLeft},
	})
	t.Render()

	if len(info.Strategies) > 0 {
		WriteStrategies(w, info.Strategies)
	}
}

// WriteStrategies prints one row per configured strategy
func WriteStrategies(w io.Writer, strategies []*types.Strategy) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("STRATEGIES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Name", "Active", "Risk %", "Max Lot", "Max Pos", "R:R", "Symbols"})
	for _, s := range strategies {
		symbols := "all"
		if len(s.AllowedSymbols) > 0 {
			symbols = strings.Join(s.AllowedSymbols, ",")
		}
		t.AppendRow(table.Row{
			s.Name, s.IsActive, fmt.Sprintf("%.2f", s.DefaultRiskPercent),
			lotOrDash(s.MaxLotSize), intOrDash(s.MaxPositions), fmt.Sprintf("%.1f", s.RiskRewardRatio), symbols,
		})
	}
	t.Render()
}

// WriteSignals prints signals newest first as given
func WriteSignals(w io.Writer, signals []*types.Signal) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("SIGNALS (%d)", len(signals)))
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Created", "ID", "Strategy", "Action", "Symbol", "Price", "SL", "TP", "Lot", "Risk", "Status", "Message"})
	for _, s := range signals {
		t.AppendRow(table.Row{
			s.CreatedAt.Format("01-02 15:04:05"), shortID(s.ID), s.Strategy, s.Action, s.Symbol,
			price(s.ReferencePrice()), price(s.StopLoss), price(s.TakeProfit),
			lotOrDash(s.CalculatedLot), money(s.RiskAmount), s.Status, truncate(s.ErrorMessage, 40),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
		{Number: 9, Align: text.AlignRight},
		{Number: 10, Align: text.AlignRight},
	})
	t.Render()
}

// WriteOrders prints orders with their terminal tickets
func WriteOrders(w io.Writer, orders []*types.Order) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("ORDERS (%d)", len(orders)))
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Updated", "ID", "Ticket", "Symbol", "Type", "Lots", "Fill", "SL", "TP", "Status", "Retries", "Profit"})

	var profit float64
	for _, o := range orders {
		ticket := "-"
		if o.Ticket > 0 {
			ticket = fmt.Sprintf("%d", o.Ticket)
		}
		typ := string(o.Type)
		if o.ClosesOrderID != "" {
			typ = "CLOSE " + shortID(o.ClosesOrderID)
		}
		t.AppendRow(table.Row{
			o.UpdatedAt.Format("01-02 15:04:05"), shortID(o.ID), ticket, o.Symbol, typ,
			fmt.Sprintf("%.2f", o.Lots), price(o.FillPrice), price(o.StopLoss), price(o.TakeProfit),
			o.Status, o.RetryCount, money(o.Profit),
		})
		if o.Status == types.OrderClosed && o.ClosesOrderID == "" {
			profit += o.Profit
		}
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "", "", "", "Net", money(profit)})
	t.Render()
}

// WriteSummary prints the aggregate view
func WriteSummary(w io.Writer, s Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("SUMMARY " + s.GeneratedAt.Format("2006-01-02 15:04:05"))
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Signals", s.Signals},
		{"  validated", s.SignalsByStatus[types.SignalValidated]},
		{"  processed", s.SignalsByStatus[types.SignalProcessed]},
		{"  rejected", s.SignalsByStatus[types.SignalRejected]},
		{"  error", s.SignalsByStatus[types.SignalError]},
		{"  pending", s.SignalsByStatus[types.SignalPending]},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Open positions", fmt.Sprintf("%d (%.2f lots)", s.OpenPositions, s.OpenLots)},
		{"Risk at stake", fmt.Sprintf("$%.2f", s.RiskAtStake)},
		{"Closed trades", s.ClosedTrades},
		{"Win rate", fmt.Sprintf("%.1f%%", s.WinRate())},
		{"Net profit", fmt.Sprintf("$%.2f", s.NetProfit)},
	})
	if len(s.TopRejections) > 0 {
		t.AppendSeparator()
		for _, r := range s.TopRejections {
			t.AppendRow(table.Row{fmt.Sprintf("%dx", r.Count), truncate(r.Reason, 60)})
		}
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 60, Align: text.AlignLeft},
	})
	t.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func price(p float64) string {
	if p == 0 {
		return "-"
	}
	return fmt.Sprintf("%.5f", p)
}

func money(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

func lotOrDash(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

func intOrDash(v int) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", v)
}
