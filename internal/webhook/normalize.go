package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	boterrors "github.com/ducminhle1904/signal-bridge/internal/errors"
	"github.com/ducminhle1904/signal-bridge/internal/safety"
	"github.com/ducminhle1904/signal-bridge/internal/sizing"
	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// maxPriceShift bounds the power of ten divided out of a mis-scaled price
const maxPriceShift = 5

// Alert is a chart alert after alias resolution and price correction
type Alert struct {
	Strategy     string             `json:"strategy"`
	Action       types.SignalAction `json:"action"`
	Symbol       string             `json:"symbol"`
	EntryPrice   float64            `json:"entry_price"`
	CurrentPrice float64            `json:"current_price"`
	StopLoss     float64            `json:"stop_loss"`
	TakeProfit   float64            `json:"take_profit"`
	SuggestedLot float64            `json:"suggested_lot"`
	PriceScale   float64            `json:"price_scale,omitempty"` // divisor applied to all prices, 0 when untouched
}

// Signal converts the alert into a new PENDING signal
func (a Alert) Signal(id string) *types.Signal {
	return &types.Signal{
		ID:           id,
		Strategy:     a.Strategy,
		Action:       a.Action,
		Symbol:       a.Symbol,
		EntryPrice:   a.EntryPrice,
		CurrentPrice: a.CurrentPrice,
		StopLoss:     a.StopLoss,
		TakeProfit:   a.TakeProfit,
		SuggestedLot: a.SuggestedLot,
		Status:       types.SignalPending,
	}
}

var actionAliases = map[string]types.SignalAction{
	"buy":   types.ActionBuy,
	"long":  types.ActionBuy,
	"sell":  types.ActionSell,
	"short": types.ActionSell,
	"close": types.ActionClose,
	"exit":  types.ActionClose,
	"flat":  types.ActionClose,
}

// Normalizer maps loosely shaped alert payloads onto Alert
type Normalizer struct {
	symbols   *sizing.SymbolTable
	validator *safety.Validator
}

// NewNormalizer creates a normalizer using symbols for price sanity ranges
func NewNormalizer(symbols *sizing.SymbolTable) *Normalizer {
	if symbols == nil {
		symbols = sizing.NewSymbolTable(nil)
	}
	return &Normalizer{symbols: symbols, validator: safety.NewValidator()}
}

// Decode parses a raw alert body, keeping numbers exact
func Decode(body []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, boterrors.NewValidationError("webhook", "decode", fmt.Sprintf("invalid JSON body: %v", err))
	}
	if raw == nil {
		return nil, boterrors.NewValidationError("webhook", "decode", "empty alert body")
	}
	return raw, nil
}

// Normalize resolves field aliases, cleans the ticker and corrects prices
// that arrive scaled by a power of ten
func (n *Normalizer) Normalize(raw map[string]interface{}) (Alert, error) {
	var a Alert
	var err error

	a.Strategy = strings.TrimSpace(str(raw, "strategy", "strategy_id", "strategy_name"))

	action := strings.ToLower(strings.TrimSpace(str(raw, "action", "direction", "side")))
	resolved, ok := actionAliases[action]
	if !ok {
		return Alert{}, invalidField("action", fmt.Sprintf("unknown action %q", action))
	}
	a.Action = resolved
	a.Symbol = CleanTicker(str(raw, "ticker", "symbol"))

	if a.EntryPrice, err = num(raw, "price", "entry_price"); err != nil {
		return Alert{}, err
	}
	if a.CurrentPrice, err = num(raw, "close", "current_price"); err != nil {
		return Alert{}, err
	}
	if a.StopLoss, err = num(raw, "stop_loss", "sl"); err != nil {
		return Alert{}, err
	}
	if a.TakeProfit, err = num(raw, "take_profit", "tp"); err != nil {
		return Alert{}, err
	}
	if a.SuggestedLot, err = num(raw, "lot", "suggested_lot"); err != nil {
		return Alert{}, err
	}

	if a.CurrentPrice == 0 && a.EntryPrice > 0 {
		a.CurrentPrice = a.EntryPrice
	}

	checks := []safety.ValidationResult{
		n.validator.ValidateStringNotEmpty(a.Strategy, "strategy"),
		n.validator.ValidateSymbol(a.Symbol),
		n.validator.ValidateLot(a.SuggestedLot),
	}
	if a.Action != types.ActionClose {
		checks = append(checks,
			n.validator.ValidatePrice("current_price", a.CurrentPrice, false),
			n.validator.ValidatePrice("entry_price", a.EntryPrice, true),
			n.validator.ValidatePrice("stop_loss", a.StopLoss, true),
			n.validator.ValidatePrice("take_profit", a.TakeProfit, true),
		)
	}
	if r := safety.First(checks...); !r.Valid {
		return Alert{}, invalidField(r.Code, r.Message)
	}

	if a.Action != types.ActionClose {
		n.correctScale(&a)
	}
	return a, nil
}

// correctScale divides every price by the smallest power of ten that brings
// the reference price into the symbol's expected range
func (n *Normalizer) correctScale(a *Alert) {
	spec, _ := n.symbols.Lookup(a.Symbol)
	if !spec.HasPriceRange() {
		return
	}
	ref := a.EntryPrice
	if ref <= 0 {
		ref = a.CurrentPrice
	}
	if ref <= 0 || (ref >= spec.MinPrice && ref <= spec.MaxPrice) {
		return
	}

	for k := 1; k <= maxPriceShift; k++ {
		div := math.Pow10(k)
		scaled := ref / div
		if scaled >= spec.MinPrice && scaled <= spec.MaxPrice {
			a.EntryPrice /= div
			a.CurrentPrice /= div
			a.StopLoss /= div
			a.TakeProfit /= div
			a.PriceScale = div
			return
		}
	}
}

// CleanTicker strips an exchange prefix such as "OANDA:" and separators
func CleanTicker(ticker string) string {
	ticker = strings.TrimSpace(ticker)
	if i := strings.LastIndex(ticker, ":"); i >= 0 {
		ticker = ticker[i+1:]
	}
	return sizing.NormalizeSymbol(ticker)
}

func invalidField(code, msg string) error {
	return boterrors.NewValidationError("webhook", "normalize", msg).WithContext("code", code)
}

func str(raw map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// num returns the first present numeric field. Chart placeholders arrive as
// strings, so numeric strings are accepted.
func num(raw map[string]interface{}, keys ...string) (float64, error) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case json.Number:
			f, err := x.Float64()
			if err != nil {
				return 0, invalidField("INVALID_NUMBER", fmt.Sprintf("%s: %v", k, err))
			}
			return f, nil
		case float64:
			return x, nil
		case string:
			s := strings.TrimSpace(x)
			if s == "" {
				continue
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return 0, invalidField("INVALID_NUMBER", fmt.Sprintf("%s: %q is not a number", k, x))
			}
			return f, nil
		default:
			return 0, invalidField("INVALID_NUMBER", fmt.Sprintf("%s: unexpected type %T", k, v))
		}
	}
	return 0, nil
}
