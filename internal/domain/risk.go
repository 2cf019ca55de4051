package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// TickSize is the price granularity of the BTCUSD inverse contract.
	TickSize = 0.5

	// takerFeeRate is the fee applied on top of the quantity when closing.
	takerFeeRate = 0.00075

	epochLayout = "2006-01-02 15:04:05.000000"
)

// QuantizePrice snaps a price to the 0.5 tick: the price is rounded to one
// decimal, then the tenths digit d becomes .5 when d/5 == 1 and .0 otherwise.
// Rounding works on the exact binary value of the float, so 50000.95
// (stored as 50000.9499...) rounds down to 50000.9.
func QuantizePrice(price float64) float64 {
	rounded, err := decimal.NewFromString(strconv.FormatFloat(price, 'f', 1, 64))
	if err != nil {
		// NaN o Inf
		return price
	}
	return quantize(rounded)
}

// ParseQuantizedPrice parses a venue price string and snaps it to the tick.
func ParseQuantizedPrice(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("domain.ParseQuantizedPrice: %q: %w", s, err)
	}
	return QuantizePrice(f), nil
}

// quantize snaps a value that already has a single decimal.
func quantize(rounded decimal.Decimal) float64 {
	whole := rounded.Truncate(0)
	tenths := rounded.Sub(whole).Abs().Shift(1).IntPart()

	if tenths/5 == 1 {
		half := decimal.NewFromFloat(TickSize)
		if rounded.IsNegative() {
			half = half.Neg()
		}
		whole = whole.Add(half)
	}
	f, _ := whole.Float64()
	return f
}

// BankruptcyPrice is the price at which the margin of an inverse contract
// position is fully exhausted.
func BankruptcyPrice(orderValue, quantity, accountBalance, orderMargin, feeToOpen float64) (float64, error) {
	denominator := orderValue + (accountBalance - orderMargin - feeToOpen)
	if denominator == 0 {
		return 0, fmt.Errorf("domain.BankruptcyPrice: %w", ErrDivisionByZero)
	}
	price := quantity * (1 + takerFeeRate) / denominator
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("domain.BankruptcyPrice: non-finite result: %w", ErrInvalidPrice)
	}
	return price, nil
}

// LiquidationPrice derives the forced-close price of an inverse contract
// position from its bankruptcy price. The order of operations is kept as is;
// simplifying it changes the rounding.
func LiquidationPrice(quantity, entryPrice, accountBalance, orderMargin, feeToOpen, maintenanceMargin float64) (float64, error) {
	if entryPrice == 0 || quantity == 0 {
		return 0, fmt.Errorf("domain.LiquidationPrice: zero entry price or quantity: %w", ErrDivisionByZero)
	}

	bankruptcy, err := BankruptcyPrice(quantity/entryPrice, quantity, accountBalance, orderMargin, feeToOpen)
	if err != nil {
		return 0, fmt.Errorf("domain.LiquidationPrice: %w", err)
	}
	if bankruptcy == 0 {
		return 0, fmt.Errorf("domain.LiquidationPrice: zero bankruptcy price: %w", ErrDivisionByZero)
	}

	z := -(accountBalance - orderMargin - quantity/entryPrice*maintenanceMargin - quantity*takerFeeRate/bankruptcy)
	y := z/quantity - 1/entryPrice
	if y == 0 {
		return 0, fmt.Errorf("domain.LiquidationPrice: %w", ErrDivisionByZero)
	}

	price := -1 / y
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("domain.LiquidationPrice: non-finite result: %w", ErrInvalidPrice)
	}
	return price, nil
}

// ConvertEpoch formats a millisecond epoch as "YYYY-MM-DD HH:MM:SS.ffffff"
// in loc (time.Local when nil).
func ConvertEpoch(epochMs int64, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMicro(epochMs * 1000).In(loc).Format(epochLayout)
}
