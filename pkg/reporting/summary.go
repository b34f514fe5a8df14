package reporting

import (
	"sort"
	"time"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// Summary aggregates signals and orders for status output and exports
type Summary struct {
	GeneratedAt     time.Time                  `json:"generated_at"`
	Signals         int                        `json:"signals"`
	SignalsByStatus map[types.SignalStatus]int `json:"signals_by_status"`
	Orders          int                        `json:"orders"`
	OrdersByStatus  map[types.OrderStatus]int  `json:"orders_by_status"`
	OpenPositions   int                        `json:"open_positions"`
	OpenLots        float64                    `json:"open_lots"`
	ClosedTrades    int                        `json:"closed_trades"`
	Wins            int                        `json:"wins"`
	Losses          int                        `json:"losses"`
	NetProfit       float64                    `json:"net_profit"`
	RiskAtStake     float64                    `json:"risk_at_stake"` // summed risk of open positions
	TopRejections   []ReasonCount              `json:"top_rejections,omitempty"`
}

// ReasonCount is how often one rejection or error message occurred
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// WinRate is the share of closed trades with positive profit, in percent
func (s Summary) WinRate() float64 {
	if s.ClosedTrades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.ClosedTrades) * 100
}

// Summarize builds a Summary. Close orders are counted as orders but their
// profit is attributed to the position they closed, so only position orders
// contribute to trade statistics.
func Summarize(signals []*types.Signal, orders []*types.Order, now time.Time) Summary {
	s := Summary{
		GeneratedAt:     now,
		Signals:         len(signals),
		SignalsByStatus: make(map[types.SignalStatus]int),
		Orders:          len(orders),
		OrdersByStatus:  make(map[types.OrderStatus]int),
	}

	reasons := make(map[string]int)
	for _, sig := range signals {
		s.SignalsByStatus[sig.Status]++
		if sig.Status == types.SignalRejected && sig.ErrorMessage != "" {
			reasons[sig.ErrorMessage]++
		}
	}

	for _, o := range orders {
		s.OrdersByStatus[o.Status]++
		if o.ClosesOrderID != "" {
			continue
		}
		switch {
		case o.IsOpenPosition():
			s.OpenPositions++
			s.OpenLots += o.Lots
			s.RiskAtStake += o.RiskAmount
		case o.Status == types.OrderClosed:
			s.ClosedTrades++
			s.NetProfit += o.Profit
			if o.Profit > 0 {
				s.Wins++
			} else if o.Profit < 0 {
				s.Losses++
			}
		}
	}

	for reason, n := range reasons {
		s.TopRejections = append(s.TopRejections, ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(s.TopRejections, func(i, j int) bool {
		if s.TopRejections[i].Count != s.TopRejections[j].Count {
			return s.TopRejections[i].Count > s.TopRejections[j].Count
		}
		return s.TopRejections[i].Reason < s.TopRejections[j].Reason
	})
	if len(s.TopRejections) > 5 {
		s.TopRejections = s.TopRejections[:5]
	}
	return s
}
