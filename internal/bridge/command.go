package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// Command is one variant of the terminal command vocabulary. Variants are
// plain structs whose JSON fields are the command parameters.
type Command interface {
	Name() string
	Validate() error
}

const minLot = 0.01

// GetBalance asks for the account summary
type GetBalance struct{}

func (GetBalance) Name() string    { return "getBalance" }
func (GetBalance) Validate() error { return nil }

// MarketOrder opens a position at market
type MarketOrder struct {
	Symbol  string          `json:"symbol"`
	Type    types.OrderType `json:"type"`
	Lot     float64         `json:"lot"`
	SL      float64         `json:"sl"`
	TP      float64         `json:"tp"`
	Comment string          `json:"comment,omitempty"`
}

// NewMarketOrder builds a validated market order command
func NewMarketOrder(symbol string, side types.OrderType, lot, sl, tp float64, comment string) (MarketOrder, error) {
	cmd := MarketOrder{Symbol: symbol, Type: side, Lot: lot, SL: sl, TP: tp, Comment: comment}
	return cmd, cmd.Validate()
}

func (MarketOrder) Name() string { return "marketOrder" }

func (c MarketOrder) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("marketOrder: symbol is required")
	}
	if c.Type != types.OrderBuy && c.Type != types.OrderSell {
		return fmt.Errorf("marketOrder: type must be BUY or SELL, got %q", c.Type)
	}
	if c.Lot < minLot {
		return fmt.Errorf("marketOrder: lot must be at least %.2f, got %.4f", minLot, c.Lot)
	}
	if c.SL < 0 || c.TP < 0 {
		return fmt.Errorf("marketOrder: sl/tp must not be negative")
	}
	return nil
}

// LimitOrder places a pending order at a price
type LimitOrder struct {
	Symbol  string          `json:"symbol"`
	Type    types.OrderType `json:"type"`
	Lot     float64         `json:"lot"`
	Price   float64         `json:"price"`
	SL      float64         `json:"sl"`
	TP      float64         `json:"tp"`
	Comment string          `json:"comment,omitempty"`
}

// NewLimitOrder builds a validated limit order command
func NewLimitOrder(symbol string, side types.OrderType, lot, price, sl, tp float64, comment string) (LimitOrder, error) {
	cmd := LimitOrder{Symbol: symbol, Type: side, Lot: lot, Price: price, SL: sl, TP: tp, Comment: comment}
	return cmd, cmd.Validate()
}

func (LimitOrder) Name() string { return "limitOrder" }

func (c LimitOrder) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("limitOrder: symbol is required")
	}
	if c.Type != types.OrderBuyLimit && c.Type != types.OrderSellLimit {
		return fmt.Errorf("limitOrder: type must be BUY_LIMIT or SELL_LIMIT, got %q", c.Type)
	}
	if c.Lot < minLot {
		return fmt.Errorf("limitOrder: lot must be at least %.2f, got %.4f", minLot, c.Lot)
	}
	if c.Price <= 0 {
		return fmt.Errorf("limitOrder: price must be positive")
	}
	if c.SL < 0 || c.TP < 0 {
		return fmt.Errorf("limitOrder: sl/tp must not be negative")
	}
	return nil
}

// CloseMarketOrder closes one open position by ticket
type CloseMarketOrder struct {
	Ticket int64 `json:"ticket"`
}

func NewCloseMarketOrder(ticket int64) (CloseMarketOrder, error) {
	cmd := CloseMarketOrder{Ticket: ticket}
	return cmd, cmd.Validate()
}

func (CloseMarketOrder) Name() string { return "closeMarketOrder" }

func (c CloseMarketOrder) Validate() error {
	if c.Ticket <= 0 {
		return fmt.Errorf("closeMarketOrder: ticket is required")
	}
	return nil
}

// CloseAllMarketOrders flattens every open position
type CloseAllMarketOrders struct{}

func (CloseAllMarketOrders) Name() string    { return "closeAllMarketOrders" }
func (CloseAllMarketOrders) Validate() error { return nil }

// ModifyOrder changes stop-loss and take-profit of an open ticket
type ModifyOrder struct {
	Ticket int64   `json:"ticket"`
	SL     float64 `json:"sl"`
	TP     float64 `json:"tp"`
}

func NewModifyOrder(ticket int64, sl, tp float64) (ModifyOrder, error) {
	cmd := ModifyOrder{Ticket: ticket, SL: sl, TP: tp}
	return cmd, cmd.Validate()
}

func (ModifyOrder) Name() string { return "modifyOrder" }

func (c ModifyOrder) Validate() error {
	if c.Ticket <= 0 {
		return fmt.Errorf("modifyOrder: ticket is required")
	}
	if c.SL < 0 || c.TP < 0 {
		return fmt.Errorf("modifyOrder: sl/tp must not be negative")
	}
	if c.SL == 0 && c.TP == 0 {
		return fmt.Errorf("modifyOrder: at least one of sl or tp is required")
	}
	return nil
}

// GetAllMarketOrders lists open positions
type GetAllMarketOrders struct{}

func (GetAllMarketOrders) Name() string    { return "getAllMarketOrders" }
func (GetAllMarketOrders) Validate() error { return nil }

// GetOrderHistory lists closed trades of the last N days
type GetOrderHistory struct {
	Days int `json:"days"`
}

func (GetOrderHistory) Name() string { return "getOrderHistory" }

func (c GetOrderHistory) Validate() error {
	if c.Days <= 0 {
		return fmt.Errorf("getOrderHistory: days must be positive")
	}
	return nil
}

// GetOrderDetails fetches one ticket, open or closed
type GetOrderDetails struct {
	Ticket int64 `json:"ticket"`
}

func (GetOrderDetails) Name() string { return "getOrderDetails" }

func (c GetOrderDetails) Validate() error {
	if c.Ticket <= 0 {
		return fmt.Errorf("getOrderDetails: ticket is required")
	}
	return nil
}

// ping is only ever written to the ping channel
type ping struct{}

func (ping) Name() string    { return "ping" }
func (ping) Validate() error { return nil }

// encodeCommand flattens a command variant into the wire object
// {"id": ..., "command": ..., ...params}.
func encodeCommand(id string, cmd Command) ([]byte, error) {
	params, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s parameters: %w", cmd.Name(), err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(params, &fields); err != nil {
		return nil, fmt.Errorf("%s parameters are not a JSON object: %w", cmd.Name(), err)
	}

	fields["id"], _ = json.Marshal(id)
	fields["command"], _ = json.Marshal(cmd.Name())
	return json.Marshal(fields)
}

// response is the decoded terminal reply
type response struct {
	ID     string
	Result json.RawMessage
	Err    string
	Failed bool
}

// decodeResponse parses {"id","result"} or {"id","error"}
func decodeResponse(data []byte) (response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return response{}, fmt.Errorf("invalid JSON: %w", err)
	}

	var resp response
	rawID, ok := fields["id"]
	if !ok {
		return response{}, fmt.Errorf("missing id")
	}
	if err := json.Unmarshal(rawID, &resp.ID); err != nil || resp.ID == "" {
		return response{}, fmt.Errorf("id must be a non-empty string")
	}

	if rawErr, ok := fields["error"]; ok && string(rawErr) != "null" {
		resp.Failed = true
		var msg string
		if err := json.Unmarshal(rawErr, &msg); err == nil {
			resp.Err = msg
		} else {
			resp.Err = string(rawErr)
		}
		if resp.Err == "" {
			resp.Err = "terminal returned an empty error"
		}
		return resp, nil
	}

	result, ok := fields["result"]
	if !ok {
		return response{}, fmt.Errorf("response %s has neither result nor error", resp.ID)
	}
	resp.Result = result
	return resp, nil
}
