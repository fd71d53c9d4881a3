// Package engine implements the battle bonding-curve market and settlement
// state machine: integer curve math, the four state-changing operations
// (initialize, buy, sell, end/claim), fee extraction, and the winner-take-most
// settlement split. All amounts are 256-bit unsigned integers in 18-decimal
// base units.
package engine

import "github.com/holiman/uint256"

var (
	one   = uint256.NewInt(1)
	two   = uint256.NewInt(2)
	three = uint256.NewInt(3)
)

// Isqrt returns the largest r such that r*r <= x.
//
// Newton's iteration is seeded from the bit length of x, so the starting
// guess is always >= sqrt(x) and no intermediate square exceeds 256 bits.
// Isqrt(0) == 0.
func Isqrt(x *uint256.Int) *uint256.Int {
	if x.IsZero() {
		return new(uint256.Int)
	}

	z := new(uint256.Int).Lsh(one, uint((x.BitLen()+1)/2))
	y := new(uint256.Int)
	t := new(uint256.Int)
	for {
		t.Div(x, z)
		y.Add(z, t)
		y.Rsh(y, 1)
		if y.Cmp(z) >= 0 {
			break
		}
		z.Set(y)
	}

	// The descent can land one above the floor; step down if z*z > x. The
	// overflow flag covers z == 2^128 where the square wraps.
	if _, overflow := t.MulOverflow(z, z); overflow || t.Gt(x) {
		z.Sub(z, one)
	}
	return z
}

// Icbrt returns the largest r such that r*r*r <= x.
//
// The initial guess 2^ceil(bitlen/3) is derived from the bit length of x,
// never from x itself: a naive guess of z = x overflows z*z during the first
// Newton step for x beyond ~1.07e38, which ordinary 18-decimal trade sizes
// reach. With the bit-length seed, z never exceeds 2^86 and every
// intermediate product fits in 256 bits. Icbrt(0) == 0.
func Icbrt(x *uint256.Int) *uint256.Int {
	if x.IsZero() {
		return new(uint256.Int)
	}

	z := new(uint256.Int).Lsh(one, uint((x.BitLen()+2)/3))
	y := new(uint256.Int)
	t := new(uint256.Int)
	for {
		// y = (2*z + x/z^2) / 3
		t.Mul(z, z)
		t.Div(x, t)
		y.Add(z, z)
		y.Add(y, t)
		y.Div(y, three)
		if y.Cmp(z) >= 0 {
			break
		}
		z.Set(y)
	}

	for !cubeAtMost(z, x) {
		z.Sub(z, one)
	}
	for {
		y.Add(z, one)
		if !cubeAtMost(y, x) {
			break
		}
		z.Set(y)
	}
	return z
}

// cubeAtMost reports whether r*r*r <= x without overflowing.
func cubeAtMost(r, x *uint256.Int) bool {
	sq, overflow := new(uint256.Int).MulOverflow(r, r)
	if overflow {
		return false
	}
	cb, overflow := sq.MulOverflow(sq, r)
	if overflow {
		return false
	}
	return !cb.Gt(x)
}
