package reporting

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

const (
	summarySheet = "Summary"
	signalsSheet = "Signals"
	ordersSheet  = "Orders"
	auditSheet   = "Audit"
)

// ExcelStyles holds the workbook cell styles
type ExcelStyles struct {
	HeaderStyle   int
	BaseStyle     int
	PriceStyle    int
	CurrencyStyle int
	ProfitStyle   int
	LossStyle     int
	RejectedStyle int
	TitleStyle    int
}

// Export is everything written to a workbook
type Export struct {
	Summary Summary
	Signals []*types.Signal
	Orders  []*types.Order
	Audit   []types.AuditEntry
}

// WriteXLSX writes a workbook with summary, signals, orders and audit sheets
func WriteXLSX(exp Export, path string) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), summarySheet)
	for _, sheet := range []string{signalsSheet, ordersSheet, auditSheet} {
		if _, err := fx.NewSheet(sheet); err != nil {
			return err
		}
	}

	styles, err := createExcelStyles(fx)
	if err != nil {
		return err
	}

	if err := writeSummarySheet(fx, exp.Summary, styles); err != nil {
		return err
	}
	if err := writeSignalsSheet(fx, exp.Signals, styles); err != nil {
		return err
	}
	if err := writeOrdersSheet(fx, exp.Orders, styles); err != nil {
		return err
	}
	if err := writeAuditSheet(fx, exp.Audit, styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	border := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	// Header style - dark slate background with white text
	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	if styles.BaseStyle, err = fx.NewStyle(&excelize.Style{Border: border}); err != nil {
		return styles, err
	}

	customPrice := "0.00000"
	styles.PriceStyle, err = fx.NewStyle(&excelize.Style{
		CustomNumFmt: &customPrice,
		Alignment:    &excelize.Alignment{Horizontal: "right"},
		Border:       border,
	})
	if err != nil {
		return styles, err
	}

	// Currency style (right aligned, $ format)
	styles.CurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return styles, err
	}

	styles.ProfitStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "006100"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"C6EFCE"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return styles, err
	}

	styles.LossStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "9C0006"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"FFC7CE"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    border,
	})
	if err != nil {
		return styles, err
	}

	styles.RejectedStyle, err = fx.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Color: "9C0006"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"FFE8E8"}, Pattern: 1},
		Border: border,
	})
	if err != nil {
		return styles, err
	}

	styles.TitleStyle, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"1F4E79"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	})
	return styles, err
}

func writeHeader(fx *excelize.File, sheet string, row int, headers []string, styles ExcelStyles) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.HeaderStyle)
	}
}

// writeRow writes values from column A; styleFor picks the style per column
func writeRow(fx *excelize.File, sheet string, row int, values []interface{}, styleFor func(col int) int) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		fx.SetCellValue(sheet, cell, v)
		fx.SetCellStyle(sheet, cell, cell, styleFor(i+1))
	}
}

func profitStyle(v float64, styles ExcelStyles) int {
	switch {
	case v > 0:
		return styles.ProfitStyle
	case v < 0:
		return styles.LossStyle
	}
	return styles.CurrencyStyle
}

func writeSummarySheet(fx *excelize.File, s Summary, styles ExcelStyles) error {
	sheet := summarySheet
	fx.SetColWidth(sheet, "A", "A", 26)
	fx.SetColWidth(sheet, "B", "B", 40)

	fx.MergeCell(sheet, "A1", "B1")
	fx.SetCellValue(sheet, "A1", "Signal Bridge Report "+s.GeneratedAt.Format("2006-01-02 15:04"))
	fx.SetCellStyle(sheet, "A1", "B1", styles.TitleStyle)
	fx.SetRowHeight(sheet, 1, 24)

	rows := [][]interface{}{
		{"Signals", s.Signals},
		{"Validated", s.SignalsByStatus[types.SignalValidated]},
		{"Processed", s.SignalsByStatus[types.SignalProcessed]},
		{"Rejected", s.SignalsByStatus[types.SignalRejected]},
		{"Error", s.SignalsByStatus[types.SignalError]},
		{"Pending", s.SignalsByStatus[types.SignalPending]},
		{"Orders", s.Orders},
		{"Open positions", s.OpenPositions},
		{"Open lots", s.OpenLots},
		{"Risk at stake", s.RiskAtStake},
		{"Closed trades", s.ClosedTrades},
		{"Wins", s.Wins},
		{"Losses", s.Losses},
		{"Win rate %", s.WinRate()},
		{"Net profit", s.NetProfit},
	}

	row := 3
	for _, r := range rows {
		label := r[0].(string)
		writeRow(fx, sheet, row, r, func(col int) int {
			switch {
			case col == 2 && label == "Net profit":
				return profitStyle(s.NetProfit, styles)
			case col == 2 && label == "Risk at stake":
				return styles.CurrencyStyle
			}
			return styles.BaseStyle
		})
		row++
	}

	if len(s.TopRejections) > 0 {
		row++
		writeHeader(fx, sheet, row, []string{"Rejection reason", "Count"}, styles)
		row++
		for _, r := range s.TopRejections {
			writeRow(fx, sheet, row, []interface{}{r.Reason, r.Count}, func(int) int { return styles.RejectedStyle })
			row++
		}
	}
	return nil
}

func writeSignalsSheet(fx *excelize.File, signals []*types.Signal, styles ExcelStyles) error {
	sheet := signalsSheet
	headers := []string{
		"Created", "ID", "Strategy", "Action", "Symbol", "Entry", "Current",
		"Stop Loss", "Take Profit", "Suggested Lot", "Lot", "Risk", "Status", "Message",
	}
	widths := []float64{18, 38, 14, 8, 10, 12, 12, 12, 12, 12, 8, 10, 12, 50}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		fx.SetColWidth(sheet, col, col, w)
	}
	writeHeader(fx, sheet, 1, headers, styles)

	for i, s := range signals {
		row := i + 2
		rejected := s.Status == types.SignalRejected || s.Status == types.SignalError
		values := []interface{}{
			s.CreatedAt.Format("2006-01-02 15:04:05"), s.ID, s.Strategy, string(s.Action), s.Symbol,
			s.EntryPrice, s.CurrentPrice, s.StopLoss, s.TakeProfit, s.SuggestedLot,
			s.CalculatedLot, s.RiskAmount, string(s.Status), s.ErrorMessage,
		}
		writeRow(fx, sheet, row, values, func(col int) int {
			switch {
			case col >= 6 && col <= 9:
				return styles.PriceStyle
			case col == 12:
				return styles.CurrencyStyle
			case rejected && (col == 13 || col == 14):
				return styles.RejectedStyle
			}
			return styles.BaseStyle
		})
	}

	if len(signals) > 0 {
		fx.AutoFilter(sheet, fmt.Sprintf("A1:N%d", len(signals)+1), []excelize.AutoFilterOptions{})
	}
	return fx.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeOrdersSheet(fx *excelize.File, orders []*types.Order, styles ExcelStyles) error {
	sheet := ordersSheet
	headers := []string{
		"Created", "Updated", "ID", "Signal", "Strategy", "Symbol", "Type", "Lots", "Price",
		"Fill", "Stop Loss", "Take Profit", "Ticket", "Status", "Retries", "Risk", "Profit", "Closes", "Last Error",
	}
	widths := []float64{18, 18, 38, 38, 14, 10, 12, 8, 12, 12, 12, 12, 12, 10, 8, 10, 12, 38, 40}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		fx.SetColWidth(sheet, col, col, w)
	}
	writeHeader(fx, sheet, 1, headers, styles)

	for i, o := range orders {
		row := i + 2
		values := []interface{}{
			o.CreatedAt.Format("2006-01-02 15:04:05"), o.UpdatedAt.Format("2006-01-02 15:04:05"),
			o.ID, o.SignalID, o.StrategyID, o.Symbol, string(o.Type), o.Lots, o.Price,
			o.FillPrice, o.StopLoss, o.TakeProfit, o.Ticket, string(o.Status), o.RetryCount,
			o.RiskAmount, o.Profit, o.ClosesOrderID, o.LastError,
		}
		writeRow(fx, sheet, row, values, func(col int) int {
			switch {
			case col >= 9 && col <= 12:
				return styles.PriceStyle
			case col == 16:
				return styles.CurrencyStyle
			case col == 17:
				return profitStyle(o.Profit, styles)
			case col == 14 && o.Status == types.OrderError:
				return styles.RejectedStyle
			}
			return styles.BaseStyle
		})
	}

	if len(orders) > 0 {
		fx.AutoFilter(sheet, fmt.Sprintf("A1:S%d", len(orders)+1), []excelize.AutoFilterOptions{})
	}
	return fx.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeAuditSheet(fx *excelize.File, entries []types.AuditEntry, styles ExcelStyles) error {
	sheet := auditSheet
	fx.SetColWidth(sheet, "A", "A", 20)
	fx.SetColWidth(sheet, "B", "B", 8)
	fx.SetColWidth(sheet, "C", "C", 38)
	fx.SetColWidth(sheet, "D", "D", 12)
	fx.SetColWidth(sheet, "E", "E", 80)
	writeHeader(fx, sheet, 1, []string{"Time", "Entity", "ID", "Event", "Message"}, styles)

	for i, e := range entries {
		style := styles.BaseStyle
		if e.Event == "rejected" || e.Event == "failed" {
			style = styles.RejectedStyle
		}
		writeRow(fx, sheet, i+2, []interface{}{
			e.Time.Format("2006-01-02 15:04:05.000"), e.Entity, e.EntityID, e.Event, e.Message,
		}, func(int) int { return style })
	}
	return nil
}
