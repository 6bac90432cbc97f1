package common

import "math/big"

// BPSDenominator is the basis-point scale shared by every ratio parameter.
const BPSDenominator = 10_000

var bps = big.NewInt(BPSDenominator)

// Clone returns a copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// MulDiv returns floor(a*b/c). A zero divisor yields zero.
func MulDiv(a, b, c *big.Int) *big.Int {
	if c == nil || c.Sign() == 0 || a == nil || b == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}

// MulDivUp returns ceil(a*b/c) for non-negative operands.
func MulDivUp(a, b, c *big.Int) *big.Int {
	if c == nil || c.Sign() == 0 || a == nil || b == nil {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(num, c, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// ApplyBps returns floor(amount*rate/10000).
func ApplyBps(amount *big.Int, rate uint64) *big.Int {
	return MulDiv(amount, new(big.Int).SetUint64(rate), bps)
}

// Min returns a copy of the smaller operand.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Positive reports whether v is non-nil and greater than zero.
func Positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
