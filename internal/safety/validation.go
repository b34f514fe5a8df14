package safety

import (
	"fmt"
	"math"
	"strings"
)

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

func invalid(code, format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

var valid = ValidationResult{Valid: true}

// Validator guards alert fields before they reach the risk engine
type Validator struct {
	maxPrice float64
	maxLot   float64
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{maxPrice: 1e7, maxLot: 1000}
}

// ValidatePrice validates a price field. Zero is accepted when the field is optional.
func (v *Validator) ValidatePrice(field string, price float64, optional bool) ValidationResult {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return invalid("INVALID_PRICE", "%s is not a finite number", field)
	}
	if price == 0 && optional {
		return valid
	}
	if price <= 0 {
		return invalid("INVALID_PRICE", "%s %.8f must be positive", field, price)
	}
	if price > v.maxPrice {
		return invalid("PRICE_OUT_OF_BOUNDS", "%s %.2f exceeds reasonable bounds", field, price)
	}
	return valid
}

// ValidateLot validates a suggested lot; zero means none was given
func (v *Validator) ValidateLot(lot float64) ValidationResult {
	if math.IsNaN(lot) || math.IsInf(lot, 0) || lot < 0 {
		return invalid("INVALID_LOT", "lot %v must be a non-negative number", lot)
	}
	if lot > v.maxLot {
		return invalid("LOT_OUT_OF_BOUNDS", "lot %.2f exceeds %.0f", lot, v.maxLot)
	}
	return valid
}

// ValidateSymbol validates a normalised trading symbol
func (v *Validator) ValidateSymbol(symbol string) ValidationResult {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return invalid("SYMBOL_EMPTY", "symbol cannot be empty")
	}
	if len(symbol) < 3 {
		return invalid("SYMBOL_TOO_SHORT", "symbol '%s' too short: minimum 3 characters required", symbol)
	}
	if len(symbol) > 20 {
		return invalid("SYMBOL_TOO_LONG", "symbol '%s' too long: maximum 20 characters allowed", symbol)
	}
	for _, char := range symbol {
		if !((char >= 'A' && char <= 'Z') || (char >= 'a' && char <= 'z') || (char >= '0' && char <= '9')) {
			return invalid("SYMBOL_INVALID_CHARS", "symbol '%s' contains invalid characters: only alphanumeric allowed", symbol)
		}
	}
	return valid
}

// ValidateStringNotEmpty validates that a required string is present
func (v *Validator) ValidateStringNotEmpty(value, fieldName string) ValidationResult {
	if strings.TrimSpace(value) == "" {
		return invalid("EMPTY_FIELD", "%s cannot be empty", fieldName)
	}
	return valid
}

// First returns the first failed result, or a valid one
func First(results ...ValidationResult) ValidationResult {
	for _, r := range results {
		if !r.Valid {
			return r
		}
	}
	return valid
}
