package types

import (
	"strings"
	"time"
)

// SignalAction is the trading intent carried by an alert
type SignalAction string

const (
	ActionBuy   SignalAction = "buy"
	ActionSell  SignalAction = "sell"
	ActionClose SignalAction = "close"
)

// Valid reports whether the action is one of the known intents
func (a SignalAction) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionClose:
		return true
	}
	return false
}

// Direction returns +1 for buy, -1 for sell and 0 for close
func (a SignalAction) Direction() float64 {
	switch a {
	case ActionBuy:
		return 1
	case ActionSell:
		return -1
	}
	return 0
}

// SignalStatus tracks a signal through validation and dispatch
type SignalStatus string

const (
	SignalPending   SignalStatus = "PENDING"
	SignalValidated SignalStatus = "VALIDATED"
	SignalProcessed SignalStatus = "PROCESSED"
	SignalRejected  SignalStatus = "REJECTED"
	SignalError     SignalStatus = "ERROR"
)

// Terminal reports whether no further transition is allowed
func (s SignalStatus) Terminal() bool {
	return s == SignalProcessed || s == SignalRejected || s == SignalError
}

// Signal is a trading instruction derived from an external alert
type Signal struct {
	ID            string       `json:"id"`
	Strategy      string       `json:"strategy"`
	Action        SignalAction `json:"action"`
	Symbol        string       `json:"symbol"`
	EntryPrice    float64      `json:"entry_price"` // 0 means market
	CurrentPrice  float64      `json:"current_price"`
	StopLoss      float64      `json:"stop_loss"`
	TakeProfit    float64      `json:"take_profit,omitempty"`
	SuggestedLot  float64      `json:"suggested_lot,omitempty"`
	CalculatedLot float64      `json:"calculated_lot"`
	RiskAmount    float64      `json:"risk_amount"`
	Status        SignalStatus `json:"status"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	ProcessedAt   *time.Time   `json:"processed_at,omitempty"`
}

// ReferencePrice is the entry price for pending orders, the current price otherwise
func (s *Signal) ReferencePrice() float64 {
	if s.EntryPrice > 0 {
		return s.EntryPrice
	}
	return s.CurrentPrice
}

// Finish moves the signal into a terminal state. ProcessedAt is only stamped once.
func (s *Signal) Finish(status SignalStatus, message string, at time.Time) {
	s.Status = status
	if message != "" {
		s.ErrorMessage = message
	}
	if s.ProcessedAt == nil {
		t := at
		s.ProcessedAt = &t
	}
}

// OrderType is the terminal-side order kind
type OrderType string

const (
	OrderBuy       OrderType = "BUY"
	OrderSell      OrderType = "SELL"
	OrderBuyLimit  OrderType = "BUY_LIMIT"
	OrderSellLimit OrderType = "SELL_LIMIT"
)

// IsBuy reports whether the order opens a long position
func (t OrderType) IsBuy() bool {
	return t == OrderBuy || t == OrderBuyLimit
}

// OrderStatus tracks an order through dispatch
type OrderStatus string

const (
	OrderSending OrderStatus = "SENDING"
	OrderPlaced  OrderStatus = "PLACED"
	OrderPending OrderStatus = "PENDING"
	OrderError   OrderStatus = "ERROR"
	OrderClosed  OrderStatus = "CLOSED"
)

// MaxOrderRetries bounds dispatch attempts per order
const MaxOrderRetries = 3

// Order is a dispatched, terminal-tracked trade instruction
type Order struct {
	ID            string      `json:"id"`
	SignalID      string      `json:"signal_id"`
	StrategyID    string      `json:"strategy_id"`
	Symbol        string      `json:"symbol"`
	Type          OrderType   `json:"type"`
	Lots          float64     `json:"lots"`
	Price         float64     `json:"price,omitempty"`
	StopLoss      float64     `json:"stop_loss"`
	TakeProfit    float64     `json:"take_profit"`
	Status        OrderStatus `json:"status"`
	Ticket        int64       `json:"ticket,omitempty"`
	FillPrice     float64     `json:"fill_price,omitempty"`
	RetryCount    int         `json:"retry_count"`
	RiskAmount    float64     `json:"risk_amount"`
	LastError     string      `json:"last_error,omitempty"`
	ClosesOrderID string      `json:"closes_order_id,omitempty"`
	Profit        float64     `json:"profit,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// IsOpenPosition reports whether the order holds a live position on the terminal
func (o *Order) IsOpenPosition() bool {
	return o.Status == OrderPlaced && o.Ticket > 0 && o.ClosesOrderID == ""
}

// TradingHours is a daily session window. Start after End wraps past midnight.
type TradingHours struct {
	Start    string   `json:"start" yaml:"start"` // HH:MM
	End      string   `json:"end" yaml:"end"`     // HH:MM
	Days     []string `json:"days,omitempty" yaml:"days,omitempty"`
	Timezone string   `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// IsZero reports whether no window is configured
func (h TradingHours) IsZero() bool {
	return h.Start == "" && h.End == ""
}

// Strategy holds per-strategy sizing and risk defaults
type Strategy struct {
	Name               string       `json:"name" yaml:"name"`
	IsActive           bool         `json:"is_active" yaml:"is_active"`
	DefaultRiskPercent float64      `json:"default_risk_percent" yaml:"default_risk_percent"`
	MaxLotSize         float64      `json:"max_lot_size" yaml:"max_lot_size"`
	MaxPositions       int          `json:"max_positions" yaml:"max_positions"`
	RiskRewardRatio    float64      `json:"risk_reward_ratio" yaml:"risk_reward_ratio"`
	AllowedSymbols     []string     `json:"allowed_symbols,omitempty" yaml:"allowed_symbols,omitempty"`
	TradingHours       TradingHours `json:"trading_hours" yaml:"trading_hours"`
}

// AllowsSymbol reports whether the strategy may trade the symbol. An empty list allows all.
func (s *Strategy) AllowsSymbol(symbol string) bool {
	if len(s.AllowedSymbols) == 0 {
		return true
	}
	for _, allowed := range s.AllowedSymbols {
		if strings.EqualFold(allowed, symbol) {
			return true
		}
	}
	return false
}

// RiskConfig holds account-level limits. An empty StrategyID marks the global config.
type RiskConfig struct {
	StrategyID            string       `json:"strategy_id,omitempty" yaml:"strategy_id,omitempty"`
	IsActive              bool         `json:"is_active" yaml:"is_active"`
	MaxDailyLoss          float64      `json:"max_daily_loss" yaml:"max_daily_loss"` // percent of balance
	MaxLotSize            float64      `json:"max_lot_size" yaml:"max_lot_size"`
	MaxTotalPositions     int          `json:"max_total_positions" yaml:"max_total_positions"`
	MaxTotalExposure      float64      `json:"max_total_exposure" yaml:"max_total_exposure"` // lots
	MaxDrawdown           float64      `json:"max_drawdown" yaml:"max_drawdown"`             // percent of balance
	TradingHours          TradingHours `json:"trading_hours" yaml:"trading_hours"`
	BlockedDates          []string     `json:"blocked_dates,omitempty" yaml:"blocked_dates,omitempty"` // 2006-01-02
	CorrelationThreshold  float64      `json:"correlation_threshold,omitempty" yaml:"correlation_threshold,omitempty"`
	MaxCorrelatedExposure float64      `json:"max_correlated_exposure,omitempty" yaml:"max_correlated_exposure,omitempty"`
}

// IsGlobal reports whether the config applies to every strategy
func (c *RiskConfig) IsGlobal() bool {
	return c.StrategyID == ""
}

// AuditEntry is an append-only record of a state change or rejection
type AuditEntry struct {
	Time     time.Time `json:"time"`
	Entity   string    `json:"entity"`
	EntityID string    `json:"entity_id"`
	Event    string    `json:"event"`
	Message  string    `json:"message,omitempty"`
}
