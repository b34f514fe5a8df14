package sizing

import "fmt"

// MarginCalculator converts position value into required margin within
// leverage bounds
type MarginCalculator struct {
	minLeverage float64
	maxLeverage float64
}

// NewMarginCalculator creates a calculator with the default leverage limits
func NewMarginCalculator() *MarginCalculator {
	return &MarginCalculator{
		minLeverage: 1.0,
		maxLeverage: 1000.0, // retail FX brokers rarely go beyond 1:1000
	}
}

// NewMarginCalculatorWithLimits creates a calculator with custom leverage limits
func NewMarginCalculatorWithLimits(minLev, maxLev float64) *MarginCalculator {
	return &MarginCalculator{minLeverage: minLev, maxLeverage: maxLev}
}

// RequiredMargin calculates the margin required for a position
// Formula: Required Margin = Position Value / Leverage
//
// Example: 110000 notional at 1:100 = 1100 margin
func (c *MarginCalculator) RequiredMargin(positionValue, leverage float64) float64 {
	if leverage <= 0 {
		return positionValue
	}
	return positionValue / c.clamp(leverage)
}

// MaxPositionValue calculates the largest notional the margin can carry
// Formula: Max Position = Available Margin × Leverage
func (c *MarginCalculator) MaxPositionValue(availableMargin, leverage float64) float64 {
	if availableMargin <= 0 || leverage <= 0 {
		return 0
	}
	return availableMargin * c.clamp(leverage)
}

// MaxLots returns the lot ceiling for a symbol given free margin and a safety
// factor in (0, 1]
func (c *MarginCalculator) MaxLots(spec SymbolSpec, price, freeMargin, safetyFactor float64) float64 {
	if !spec.HasMarginData() || price <= 0 {
		return 0
	}
	if safetyFactor <= 0 || safetyFactor > 1.0 {
		safetyFactor = DefaultSafetyFactor
	}
	perLot := c.RequiredMargin(price*spec.ContractSize, spec.Leverage)
	if perLot <= 0 {
		return 0
	}
	return freeMargin * safetyFactor / perLot
}

// Validate checks a configured leverage value
func (c *MarginCalculator) Validate(leverage float64) error {
	if leverage <= 0 {
		return fmt.Errorf("leverage must be greater than 0, got: %.2f", leverage)
	}
	if leverage < c.minLeverage {
		return fmt.Errorf("leverage %.2f is below minimum allowed %.2f", leverage, c.minLeverage)
	}
	if leverage > c.maxLeverage {
		return fmt.Errorf("leverage %.2f exceeds maximum allowed %.2f", leverage, c.maxLeverage)
	}
	return nil
}

// EffectiveLeverage returns position value over margin used
func (c *MarginCalculator) EffectiveLeverage(positionValue, margin float64) float64 {
	if margin <= 0 {
		return 1.0
	}
	return positionValue / margin
}

func (c *MarginCalculator) clamp(leverage float64) float64 {
	if leverage > c.maxLeverage {
		return c.maxLeverage
	}
	if leverage < c.minLeverage {
		return c.minLeverage
	}
	return leverage
}
