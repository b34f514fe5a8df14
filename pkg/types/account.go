package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Balance is the terminal account summary returned by getBalance
type Balance struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	FreeMargin float64 `json:"freeMargin"`
	Profit     float64 `json:"profit"`
}

// Position is an open market order as reported by the terminal
type Position struct {
	Ticket    int64     `json:"ticket"`
	Symbol    string    `json:"symbol"`
	Type      OrderType `json:"type"`
	Lots      float64   `json:"lots"`
	OpenPrice float64   `json:"openPrice"`
	Profit    float64   `json:"profit"`
	Comment   string    `json:"comment,omitempty"`
}

// Direction returns +1 for long positions and -1 for short ones
func (p Position) Direction() float64 {
	if p.Type.IsBuy() {
		return 1
	}
	return -1
}

// ClosedTrade is a history entry returned by getOrderHistory
type ClosedTrade struct {
	Ticket     int64        `json:"ticket"`
	Symbol     string       `json:"symbol"`
	Type       OrderType    `json:"type"`
	Lots       float64      `json:"lots"`
	OpenPrice  float64      `json:"openPrice"`
	ClosePrice float64      `json:"closePrice"`
	Profit     float64      `json:"profit"`
	CloseTime  TerminalTime `json:"closeTime"`
}

// OrderDetails is the getOrderDetails result for an open or closed ticket
type OrderDetails struct {
	Ticket     int64        `json:"ticket"`
	Symbol     string       `json:"symbol"`
	Type       OrderType    `json:"type"`
	Lots       float64      `json:"lots"`
	OpenPrice  float64      `json:"openPrice"`
	ClosePrice float64      `json:"closePrice"`
	SL         float64      `json:"sl"`
	TP         float64      `json:"tp"`
	Profit     float64      `json:"profit"`
	Status     string       `json:"status"` // "open" or "closed"
	CloseTime  TerminalTime `json:"closeTime"`
}

// IsClosed reports whether the ticket no longer holds a position
func (d OrderDetails) IsClosed() bool {
	return d.Status == "closed" || !d.CloseTime.IsZero()
}

// Placement is the result of marketOrder, limitOrder and closeMarketOrder
type Placement struct {
	Ticket int64   `json:"ticket"`
	Price  float64 `json:"price"`
	Profit float64 `json:"profit,omitempty"`
}

// TerminalTime accepts the timestamp formats terminals emit: RFC 3339,
// "2006.01.02 15:04:05" and unix seconds. Zone-less values are UTC.
type TerminalTime struct {
	time.Time
}

var terminalLayouts = []string{
	time.RFC3339Nano,
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006-01-02 15:04:05",
}

func (t *TerminalTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" || string(data) == `""` || string(data) == "0" {
		t.Time = time.Time{}
		return nil
	}

	if data[0] != '"' {
		secs, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid terminal time %s: %w", data, err)
		}
		t.Time = time.Unix(secs, 0).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, layout := range terminalLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised terminal time %q", s)
}

func (t TerminalTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}
