package engine

import "github.com/holiman/uint256"

// Fee and settlement-share rates, in basis points of 10_000. The five
// settlement shares must sum to exactly BasisPoints; TestSettlementShareSum
// guards the invariant.
const (
	BasisPoints uint64 = 10_000

	// Trade fees, charged on the gross amount of every buy and on the gross
	// curve return of every sell.
	ArtistFeeBps   uint64 = 100 // 1%
	PlatformFeeBps uint64 = 50  // 0.5%

	// Settlement split of the losing pool.
	WinnerTradersShareBps uint64 = 4000 // added to the winning pool
	LoserTradersShareBps  uint64 = 5000 // retained as the losing side's refund pool
	WinningArtistShareBps uint64 = 500
	LosingArtistShareBps  uint64 = 200
	PlatformShareBps      uint64 = 300
)

var bpsDenominator = uint256.NewInt(BasisPoints)

// bpsShare returns amount * bps / 10_000, rounding down.
func bpsShare(amount *uint256.Int, bps uint64) *uint256.Int {
	share := new(uint256.Int).Mul(amount, uint256.NewInt(bps))
	return share.Div(share, bpsDenominator)
}
