package loan

import "math/big"

var basisPoints = big.NewInt(10_000)

// PeriodsPerYear anchors the simple-interest rate unit: a position's
// RateBps is an annual rate over monthly periods.
const PeriodsPerYear = 12

// CalculateTermBalance computes the total owed over a term (principal
// plus simple interest), floor-rounded, then nudged up to the next
// multiple of periodsLeft so equal installments divide evenly.
//
//	principal * (BPS*periodsPerYear + rateBps*totalPeriods) / (BPS*periodsPerYear)
func CalculateTermBalance(principal *big.Int, rateBps, totalPeriods, periodsLeft uint64) *big.Int {
	if principal == nil || principal.Sign() <= 0 {
		return big.NewInt(0)
	}
	den := new(big.Int).Mul(basisPoints, big.NewInt(PeriodsPerYear))
	num := new(big.Int).Mul(new(big.Int).SetUint64(rateBps), new(big.Int).SetUint64(totalPeriods))
	num.Add(num, den)
	balance := new(big.Int).Mul(principal, num)
	balance.Quo(balance, den)
	return ceilToMultiple(balance, periodsLeft)
}

// ceilToMultiple rounds x up to the next multiple of n. n==0 leaves x
// untouched rather than faulting.
func ceilToMultiple(x *big.Int, n uint64) *big.Int {
	if n == 0 {
		return x
	}
	mod := new(big.Int).SetUint64(n)
	rem := new(big.Int).Mod(x, mod)
	if rem.Sign() == 0 {
		return x
	}
	return x.Add(x, rem.Sub(mod, rem))
}

// mulDiv returns a*b/d with floor rounding, and 0 on a zero divisor.
func mulDiv(a, b, d *big.Int) *big.Int {
	if a == nil || b == nil || d == nil || d.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, d)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
