package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 precision
	halfRay     = new(big.Int).Rsh(ray, 1)
	wad         = mustBigInt("1000000000000000000") // 1e18 precision for health factor and incentives
)

const blocksPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	product.Quo(product, ray)
	return product
}

func ratToRay(r *big.Rat) *big.Int {
	if r == nil {
		return new(big.Int).Set(ray)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	num := scaled.Num()
	den := scaled.Denom()
	result := new(big.Int).Quo(new(big.Int).Add(num, new(big.Int).Rsh(den, 1)), den)
	if result.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	return result
}

// rateFactor converts an annual rate into the compounded index multiplier for
// delta blocks using simple per-block interest.
func rateFactor(rate *big.Rat, delta uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || delta == 0 {
		return new(big.Int).Set(ray)
	}
	perBlock := new(big.Rat).Set(rate)
	perBlock.Quo(perBlock, new(big.Rat).SetUint64(blocksPerYear))
	perBlock.Mul(perBlock, new(big.Rat).SetUint64(delta))
	factor := new(big.Rat).Add(big.NewRat(1, 1), perBlock)
	return ratToRay(factor)
}

// toScaled converts an underlying amount into index-scaled units. roundUp
// selects ceiling rounding so the venue never under-charges.
func toScaled(amount, index *big.Int, roundUp bool) *big.Int {
	if amount == nil || amount.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(amount, ray)
	q, r := new(big.Int).QuoRem(num, index, new(big.Int))
	if roundUp && r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// fromScaled converts index-scaled units back into underlying.
func fromScaled(scaled, index *big.Int, roundUp bool) *big.Int {
	if scaled == nil || scaled.Sign() <= 0 || index == nil || index.Sign() == 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(scaled, index)
	q, r := new(big.Int).QuoRem(num, ray, new(big.Int))
	if roundUp && r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
