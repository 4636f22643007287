// Package payout holds the fixed-point arithmetic shared by bet placement and
// claim settlement. All products are computed in 256-bit integers so a
// u64 * u64 never wraps; results that do not fit back into u64 take the
// caller's fallback instead.
package payout

import (
	"math"
	"strconv"

	"github.com/cockroachdb/apd/v3"
	"github.com/holiman/uint256"
)

// MulDiv returns floor(a*b/d). ok is false when d is zero or the quotient
// exceeds u64.
func MulDiv(a, b, d uint64) (q uint64, ok bool) {
	if d == 0 {
		return 0, false
	}
	x := new(uint256.Int).SetUint64(a)
	x.Mul(x, new(uint256.Int).SetUint64(b))
	x.Div(x, new(uint256.Int).SetUint64(d))
	if !x.IsUint64() {
		return 0, false
	}
	return x.Uint64(), true
}

// SaturatingAdd returns a+b, pinned at MaxUint64.
func SaturatingAdd(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return math.MaxUint64
}

// SaturatingInc32 returns n+1, pinned at MaxUint32.
func SaturatingInc32(n uint32) uint32 {
	if n == math.MaxUint32 {
		return n
	}
	return n + 1
}

// Locked computes the payout fixed at bet time from the pools right after
// the bet: floor(amount * totalAfter / sideAfter). A zero side pool or an
// unrepresentable result pays the stake back.
func Locked(amount, sideAfter, totalAfter uint64) uint64 {
	if sideAfter == 0 {
		return amount
	}
	q, ok := MulDiv(amount, totalAfter, sideAfter)
	if !ok {
		return amount
	}
	return q
}

// Proportional computes the pari-mutuel share at claim time:
// floor(bet * total / winning). An empty winning pool pays the stake back;
// an unrepresentable result pays nothing.
func Proportional(bet, winning, total uint64) uint64 {
	if winning == 0 {
		return bet
	}
	q, ok := MulDiv(bet, total, winning)
	if !ok {
		return 0
	}
	return q
}

// Clamp limits a payout to what the vault actually holds.
func Clamp(payout, vaultBalance uint64) uint64 {
	return min(payout, vaultBalance)
}

// Profit returns payout - bet, or zero on a loss.
func Profit(payout, bet uint64) uint64 {
	if payout <= bet {
		return 0
	}
	return payout - bet
}

var multiplierCtx = apd.BaseContext.WithPrecision(40)

// Multiplier returns payout/bet rounded down to two decimal places, e.g.
// "2.00" for a doubled stake. A zero bet yields "1.00".
func Multiplier(payout, bet uint64) *apd.Decimal {
	if bet == 0 {
		return apd.New(100, -2)
	}
	p := decimalFromUint64(payout)
	b := decimalFromUint64(bet)

	q := new(apd.Decimal)
	_, _ = multiplierCtx.Quo(q, p, b)

	c := multiplierCtx.WithPrecision(40)
	c.Rounding = apd.RoundDown
	out := new(apd.Decimal)
	_, _ = c.Quantize(out, q, -2)
	return out
}

func decimalFromUint64(v uint64) *apd.Decimal {
	d, _, err := apd.NewFromString(strconv.FormatUint(v, 10))
	if err != nil {
		return apd.New(0, 0)
	}
	return d
}
