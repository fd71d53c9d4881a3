package engine

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func u(dec string) *uint256.Int {
	v, err := uint256.FromDecimal(dec)
	if err != nil {
		panic(err)
	}
	return v
}

func TestIsqrt(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"0", "0"},
		{"1", "1"},
		{"2", "1"},
		{"3", "1"},
		{"4", "2"},
		{"8", "2"},
		{"9", "3"},
		{"15", "3"},
		{"16", "4"},
		{"1000000000000000000", "1000000000"},
		{"999999999999999999", "999999999"},
		{"100000000000000000000000", "316227766016"},
	}
	for _, tc := range cases {
		got := Isqrt(u(tc.in))
		if got.Dec() != tc.want {
			t.Errorf("Isqrt(%s) = %s, want %s", tc.in, got.Dec(), tc.want)
		}
	}
}

func TestIsqrtMatchesLibrary(t *testing.T) {
	// uint256's own Sqrt is the oracle for values our Newton loop must agree
	// with, including the extremes where intermediate squares would overflow.
	inputs := []*uint256.Int{
		uint256.NewInt(7),
		u("123456789123456789"),
		u("1000000000000000000000000000000000000"),
		new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 255), 1),
		new(uint256.Int).Not(new(uint256.Int)), // max uint256
	}
	for _, x := range inputs {
		want := new(uint256.Int).Sqrt(x)
		got := Isqrt(x)
		if !got.Eq(want) {
			t.Errorf("Isqrt(%s) = %s, want %s", x.Dec(), got.Dec(), want.Dec())
		}
	}
}

func TestIcbrt(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"0", "0"},
		{"1", "1"},
		{"7", "1"},
		{"8", "2"},
		{"26", "2"},
		{"27", "3"},
		{"63", "3"},
		{"64", "4"},
		{"1000000000000000000", "1000000"},
		{"999999999999999999", "999999"},
		{"1000000000000000000000000000000000", "100000000000"},
	}
	for _, tc := range cases {
		got := Icbrt(u(tc.in))
		if got.Dec() != tc.want {
			t.Errorf("Icbrt(%s) = %s, want %s", tc.in, got.Dec(), tc.want)
		}
	}
}

// verifyCbrtFloor checks r^3 <= x < (r+1)^3 with big.Int arithmetic so the
// verification itself cannot overflow.
func verifyCbrtFloor(t *testing.T, x, r *uint256.Int) {
	t.Helper()
	xb := x.ToBig()
	rb := r.ToBig()
	cube := new(big.Int).Mul(rb, rb)
	cube.Mul(cube, rb)
	if cube.Cmp(xb) > 0 {
		t.Fatalf("Icbrt(%s) = %s: cube exceeds input", x.Dec(), r.Dec())
	}
	next := new(big.Int).Add(rb, big.NewInt(1))
	cube.Mul(next, next)
	cube.Mul(cube, next)
	if cube.Cmp(xb) <= 0 {
		t.Fatalf("Icbrt(%s) = %s: not the floor, (r+1)^3 still fits", x.Dec(), r.Dec())
	}
}

func TestIcbrtLargeInputs(t *testing.T) {
	// Inputs past ~1.07e38 are exactly where a naive z = x initial guess
	// overflows z*z during the first Newton step. These must all succeed.
	inputs := []*uint256.Int{
		u("107000000000000000000000000000000000000"), // ~1.07e38
		u("200000000000000000000000000000000000000"), // 2e38
		u("100000000000000000000000000000000000000000000000000000000000"), // 1e59
		new(uint256.Int).Lsh(uint256.NewInt(1), 200),
		new(uint256.Int).Not(new(uint256.Int)), // max uint256
	}
	for _, x := range inputs {
		verifyCbrtFloor(t, x, Icbrt(x))
	}
}

func TestIcbrtTradeScale(t *testing.T) {
	// The curve evaluates Icbrt over f(supply) + payment*divisor. Exercise
	// production-scale sizes: 100 native units (1e20) and 100k token
	// units (1e23) at 18 decimals.
	supply := u("100000000000000000000000") // 1e23
	payment := u("100000000000000000000")   // 1e20

	target := curveIntegral(supply)
	scaled := new(uint256.Int).Mul(payment, curveDivisor)
	target.Add(target, scaled)

	verifyCbrtFloor(t, target, Icbrt(target))
}
