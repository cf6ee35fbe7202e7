// Package quant converts decision-side floating-point prices and sizes
// into the fixed-point micro-unit amounts the venue's order payload
// carries. It is the only place where floats cross into wire integers:
// everything upstream reasons in decimals, everything downstream in
// uint64 micro-units.
package quant

import (
	"fmt"
	"math"

	"github.com/marketloop/spreadbot/internal/domain"
)

// microScale is the venue's fixed-point scale: 1 share or 1 USDC equals
// 1e6 micro-units.
const microScale = 1e6

// Error reports an invalid price/size pair that cannot be quantized.
type Error struct {
	Side  domain.Side
	Price float64
	Size  float64
	Why   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("quant: %s price=%v size=%v: %s", e.Side, e.Price, e.Size, e.Why)
}

// Amounts converts (side, price, size) into the maker/taker micro-unit
// amounts for a limit order.
//
// The size is first rounded to 2 decimals, the notional (price * size)
// to 5 decimals. For a BUY the maker amount is the notional (USDC given)
// and the taker amount the size (shares received); for a SELL the two
// swap roles.
func Amounts(side domain.Side, price, size float64) (maker, taker uint64, err error) {
	s2 := round(size, 2)
	if s2 <= 0 {
		return 0, 0, &Error{Side: side, Price: price, Size: size, Why: "size rounds to zero"}
	}
	if price <= 0 {
		return 0, 0, &Error{Side: side, Price: price, Size: size, Why: "price must be positive"}
	}
	n5 := round(price*s2, 5)

	notionalMicro := micro(n5)
	sharesMicro := micro(s2)
	if notionalMicro == 0 || sharesMicro == 0 {
		return 0, 0, &Error{Side: side, Price: price, Size: size, Why: "amount rounds to zero"}
	}

	switch side {
	case domain.SideBuy:
		return notionalMicro, sharesMicro, nil
	case domain.SideSell:
		return sharesMicro, notionalMicro, nil
	default:
		return 0, 0, &Error{Side: side, Price: price, Size: size, Why: "unknown side"}
	}
}

// round rounds x to the given number of decimal places, half away from
// zero.
func round(x float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(x*scale) / scale
}

// micro converts a decimal amount to micro-units.
func micro(x float64) uint64 {
	return uint64(math.Round(x * microScale))
}
