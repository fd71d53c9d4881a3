package engine

import "github.com/holiman/uint256"

// The marginal price per token is proportional to the square root of the
// current supply. The cumulative cost of a supply s is
//
//	f(s) = s * Isqrt(s)        (~ s^(3/2), in raw curve units)
//
// and every trade is priced as a difference of f, scaled down by
// curveDivisor to convert curve units into payment base units. The inverse
// (tokens minted for a given payment) runs through the cube root:
// f^-1(y) = Icbrt(y)^2.
//
// Rounding is chosen so value can never be extracted from a pool: buy costs
// round up, sell returns and minted token counts round down. Because
// f(Icbrt(y)^2) = Icbrt(y)^3 <= y, the curve value of the supply after a buy
// never exceeds the curve value paid in, which makes the no-arbitrage bound
// exact and keeps pools from going negative.
var curveDivisor = uint256.NewInt(1_000_000_000_000_000) // 1e15

// curveIntegral computes f(s) = s * Isqrt(s) in raw curve units.
func curveIntegral(s *uint256.Int) *uint256.Int {
	r := Isqrt(s)
	return r.Mul(r, s)
}

// CalculateBuyPrice returns the payment required to mint tokensToMint
// against the given supply. Returns 0 when tokensToMint is 0; otherwise
// strictly increasing in both arguments at trade granularity.
func CalculateBuyPrice(currentSupply, tokensToMint *uint256.Int) *uint256.Int {
	if tokensToMint.IsZero() {
		return new(uint256.Int)
	}
	after := new(uint256.Int).Add(currentSupply, tokensToMint)
	cost := curveIntegral(after)
	cost.Sub(cost, curveIntegral(currentSupply))

	// Ceiling division: a buy must always cover the later sell return.
	rem := new(uint256.Int).Mod(cost, curveDivisor)
	cost.Div(cost, curveDivisor)
	if !rem.IsZero() {
		cost.Add(cost, one)
	}
	return cost
}

// CalculateSellReturn returns the gross proceeds of burning tokensToSell
// against the given supply, before fees. Returns 0 when tokensToSell is 0.
// Quantities above the supply are clamped to it.
func CalculateSellReturn(currentSupply, tokensToSell *uint256.Int) *uint256.Int {
	if tokensToSell.IsZero() || currentSupply.IsZero() {
		return new(uint256.Int)
	}
	burn := tokensToSell
	if burn.Gt(currentSupply) {
		burn = currentSupply
	}
	after := new(uint256.Int).Sub(currentSupply, burn)
	proceeds := curveIntegral(currentSupply)
	proceeds.Sub(proceeds, curveIntegral(after))
	return proceeds.Div(proceeds, curveDivisor)
}

// TokensForPayment returns the number of tokens minted for a net payment
// against the current supply, rounding down.
func TokensForPayment(currentSupply, netAmount *uint256.Int) *uint256.Int {
	if netAmount.IsZero() {
		return new(uint256.Int)
	}
	target := curveIntegral(currentSupply)
	scaled := new(uint256.Int).Mul(netAmount, curveDivisor)
	target.Add(target, scaled)

	root := Icbrt(target)
	after := root.Mul(root, root)
	if after.Lt(currentSupply) {
		// Dust payment below the curve's granularity.
		return new(uint256.Int)
	}
	return after.Sub(after, currentSupply)
}
