package engine

import (
	"testing"

	"github.com/holiman/uint256"
)

func tokens(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

func TestPricingZeroQuantities(t *testing.T) {
	if !CalculateBuyPrice(tokens(50), new(uint256.Int)).IsZero() {
		t.Error("buy price of zero tokens should be zero")
	}
	if !CalculateSellReturn(tokens(50), new(uint256.Int)).IsZero() {
		t.Error("sell return of zero tokens should be zero")
	}
	if !CalculateBuyPrice(new(uint256.Int), new(uint256.Int)).IsZero() {
		t.Error("buy price at zero supply for zero tokens should be zero")
	}
	if !TokensForPayment(tokens(50), new(uint256.Int)).IsZero() {
		t.Error("zero payment should mint zero tokens")
	}
}

func TestNoArbitrage(t *testing.T) {
	// Selling back what was just bought never returns more than it cost,
	// even before fees: sellReturn(s, n) <= buyPrice(s-n, n).
	supplies := []*uint256.Int{tokens(1), tokens(7), tokens(100), tokens(5000), u("100000000000000000000000")}
	quantities := []*uint256.Int{uint256.NewInt(1), u("100000000000000000"), tokens(1), tokens(50)}

	for _, s := range supplies {
		for _, n := range quantities {
			if n.Gt(s) {
				continue
			}
			before := new(uint256.Int).Sub(s, n)
			buy := CalculateBuyPrice(before, n)
			sell := CalculateSellReturn(s, n)
			if sell.Gt(buy) {
				t.Errorf("arbitrage: supply=%s tokens=%s sell=%s > buy=%s",
					s.Dec(), n.Dec(), sell.Dec(), buy.Dec())
			}
		}
	}
}

func TestBuyPriceMonotonicInSupply(t *testing.T) {
	// Buying the same quantity against a higher supply costs at least as
	// much, and strictly more at whole-token granularity.
	n := tokens(1)
	prev := CalculateBuyPrice(new(uint256.Int), n)
	for k := uint64(1); k <= 200; k++ {
		price := CalculateBuyPrice(tokens(k), n)
		if price.Lt(prev) {
			t.Fatalf("price decreased at supply %d: %s < %s", k, price.Dec(), prev.Dec())
		}
		if price.Eq(prev) {
			t.Fatalf("price flat at supply %d: %s", k, price.Dec())
		}
		prev = price
	}
}

func TestBuyPriceMonotonicInQuantity(t *testing.T) {
	s := tokens(10)
	prev := new(uint256.Int)
	for k := uint64(1); k <= 50; k++ {
		price := CalculateBuyPrice(s, tokens(k))
		if !price.Gt(prev) {
			t.Fatalf("price not increasing at quantity %d: %s <= %s", k, price.Dec(), prev.Dec())
		}
		prev = price
	}
}

func TestTokensForPaymentRoundTrip(t *testing.T) {
	// Minting from a payment and immediately selling the minted tokens must
	// never return more than the payment (pool safety).
	payments := []*uint256.Int{
		u("1000000000000000000"),      // 1 unit
		u("5000000000000000000"),      // 5 units
		u("100000000000000000000"),    // 100 units (largest supported trade)
		u("123456789012345678"),       // odd size
	}
	supplies := []*uint256.Int{new(uint256.Int), tokens(3), tokens(999), u("100000000000000000000000")}

	for _, s := range supplies {
		for _, x := range payments {
			minted := TokensForPayment(s, x)
			after := new(uint256.Int).Add(s, minted)
			back := CalculateSellReturn(after, minted)
			if back.Gt(x) {
				t.Errorf("round trip profitable: supply=%s pay=%s back=%s",
					s.Dec(), x.Dec(), back.Dec())
			}
		}
	}
}

func TestSequentialBuyersDiminishingTokens(t *testing.T) {
	// Equal payments against a rising supply mint strictly fewer tokens
	// each time.
	pay := tokens(1)
	supply := new(uint256.Int)
	prev := (*uint256.Int)(nil)
	for i := 0; i < 25; i++ {
		minted := TokensForPayment(supply, pay)
		if minted.IsZero() {
			t.Fatalf("buy %d minted nothing", i)
		}
		if prev != nil && !minted.Lt(prev) {
			t.Fatalf("buy %d minted %s, not less than previous %s", i, minted.Dec(), prev.Dec())
		}
		prev = minted
		supply.Add(supply, minted)
	}
}

func TestTokensForPaymentCurveBound(t *testing.T) {
	// The curve value of the post-mint supply never exceeds the curve value
	// paid in: f(s+minted) <= f(s) + payment*divisor. This is the exact
	// invariant that keeps pools non-negative.
	supplies := []*uint256.Int{new(uint256.Int), tokens(1), tokens(12345), u("100000000000000000000000")}
	payments := []*uint256.Int{uint256.NewInt(1), tokens(1), u("100000000000000000000")}

	for _, s := range supplies {
		for _, x := range payments {
			minted := TokensForPayment(s, x)
			after := new(uint256.Int).Add(s, minted)
			lhs := curveIntegral(after)
			rhs := curveIntegral(s)
			rhs.Add(rhs, new(uint256.Int).Mul(x, curveDivisor))
			if lhs.Gt(rhs) {
				t.Errorf("curve bound violated: supply=%s pay=%s", s.Dec(), x.Dec())
			}
		}
	}
}

func TestCurveAtTradeScaleBounds(t *testing.T) {
	// Full-path sanity at the largest supported sizes: a single 100-unit
	// native trade (1e20) and a 100k-token supply (1e23).
	supply := u("100000000000000000000000")
	pay := u("100000000000000000000")

	minted := TokensForPayment(supply, pay)
	if minted.IsZero() {
		t.Fatal("expected tokens for a 100-unit payment at 100k supply")
	}
	cost := CalculateBuyPrice(supply, minted)
	if cost.IsZero() {
		t.Fatal("expected non-zero cost")
	}
	ret := CalculateSellReturn(new(uint256.Int).Add(supply, minted), minted)
	if ret.Gt(pay) {
		t.Fatalf("sell return %s exceeds payment %s", ret.Dec(), pay.Dec())
	}
}
