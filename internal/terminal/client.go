package terminal

import (
	"context"
	"time"

	"github.com/ducminhle1904/signal-bridge/internal/bridge"
	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// Timeouts are per-operation bridge timeouts
type Timeouts struct {
	Market time.Duration
	Limit  time.Duration
	Close  time.Duration
	Query  time.Duration
}

// DefaultTimeouts gives market orders the longest budget since the terminal
// waits for a fill
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Market: 30 * time.Second,
		Limit:  15 * time.Second,
		Close:  20 * time.Second,
		Query:  10 * time.Second,
	}
}

// CloseAllResult reports which tickets were flattened
type CloseAllResult struct {
	Closed []int64 `json:"closed"`
	Failed []int64 `json:"failed,omitempty"`
}

// Client exposes the terminal command vocabulary as typed calls
type Client struct {
	transport bridge.Transport
	timeouts  Timeouts
}

// NewClient wraps a transport. Zero timeouts fall back to the defaults.
func NewClient(transport bridge.Transport, timeouts Timeouts) *Client {
	def := DefaultTimeouts()
	if timeouts.Market <= 0 {
		timeouts.Market = def.Market
	}
	if timeouts.Limit <= 0 {
		timeouts.Limit = def.Limit
	}
	if timeouts.Close <= 0 {
		timeouts.Close = def.Close
	}
	if timeouts.Query <= 0 {
		timeouts.Query = def.Query
	}
	return &Client{transport: transport, timeouts: timeouts}
}

// Timeouts returns the effective timeouts
func (c *Client) Timeouts() Timeouts {
	return c.timeouts
}

// Balance fetches balance, equity and free margin
func (c *Client) Balance(ctx context.Context) (types.Balance, error) {
	var bal types.Balance
	err := bridge.Call(ctx, c.transport, bridge.GetBalance{}, c.timeouts.Query, &bal)
	return bal, err
}

// OpenPositions lists open market orders
func (c *Client) OpenPositions(ctx context.Context) ([]types.Position, error) {
	var positions []types.Position
	err := bridge.Call(ctx, c.transport, bridge.GetAllMarketOrders{}, c.timeouts.Query, &positions)
	return positions, err
}

// History lists trades closed within the last days
func (c *Client) History(ctx context.Context, days int) ([]types.ClosedTrade, error) {
	var trades []types.ClosedTrade
	err := bridge.Call(ctx, c.transport, bridge.GetOrderHistory{Days: days}, c.timeouts.Query, &trades)
	return trades, err
}

// OrderDetails fetches one ticket
func (c *Client) OrderDetails(ctx context.Context, ticket int64) (types.OrderDetails, error) {
	var details types.OrderDetails
	err := bridge.Call(ctx, c.transport, bridge.GetOrderDetails{Ticket: ticket}, c.timeouts.Query, &details)
	return details, err
}

// PlaceMarket sends a market order and returns the ticket and fill price
func (c *Client) PlaceMarket(ctx context.Context, cmd bridge.MarketOrder) (types.Placement, error) {
	var p types.Placement
	err := bridge.Call(ctx, c.transport, cmd, c.timeouts.Market, &p)
	return p, err
}

// PlaceLimit sends a pending order
func (c *Client) PlaceLimit(ctx context.Context, cmd bridge.LimitOrder) (types.Placement, error) {
	var p types.Placement
	err := bridge.Call(ctx, c.transport, cmd, c.timeouts.Limit, &p)
	return p, err
}

// ClosePosition closes one ticket
func (c *Client) ClosePosition(ctx context.Context, ticket int64) (types.Placement, error) {
	cmd, err := bridge.NewCloseMarketOrder(ticket)
	if err != nil {
		return types.Placement{}, err
	}
	var p types.Placement
	err = bridge.Call(ctx, c.transport, cmd, c.timeouts.Close, &p)
	return p, err
}

// CloseAll flattens every open position
func (c *Client) CloseAll(ctx context.Context) (CloseAllResult, error) {
	var res CloseAllResult
	err := bridge.Call(ctx, c.transport, bridge.CloseAllMarketOrders{}, c.timeouts.Close, &res)
	return res, err
}

// Modify changes stop-loss and take-profit of an open ticket
func (c *Client) Modify(ctx context.Context, ticket int64, sl, tp float64) error {
	cmd, err := bridge.NewModifyOrder(ticket, sl, tp)
	if err != nil {
		return err
	}
	return bridge.Call(ctx, c.transport, cmd, c.timeouts.Close, nil)
}
