package reporting

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// WriteOrdersCSV writes orders as CSV, one row per order
func WriteOrdersCSV(orders []*types.Order, path string) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"Created", "ID", "Signal", "Strategy", "Symbol", "Type", "Lots", "Price", "Fill",
		"Stop_Loss", "Take_Profit", "Ticket", "Status", "Retries", "Risk_$", "Profit_$", "Closes",
	}); err != nil {
		return err
	}

	for _, o := range orders {
		if err := w.Write([]string{
			o.CreatedAt.Format("2006-01-02 15:04:05"),
			o.ID,
			o.SignalID,
			o.StrategyID,
			o.Symbol,
			string(o.Type),
			fmt.Sprintf("%.2f", o.Lots),
			strconv.FormatFloat(o.Price, 'f', -1, 64),
			strconv.FormatFloat(o.FillPrice, 'f', -1, 64),
			strconv.FormatFloat(o.StopLoss, 'f', -1, 64),
			strconv.FormatFloat(o.TakeProfit, 'f', -1, 64),
			strconv.FormatInt(o.Ticket, 10),
			string(o.Status),
			strconv.Itoa(o.RetryCount),
			fmt.Sprintf("%.2f", o.RiskAmount),
			fmt.Sprintf("%.2f", o.Profit),
			o.ClosesOrderID,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
