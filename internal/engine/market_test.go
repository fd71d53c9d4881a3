package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/wavewarz/battle-engine/internal/domain"
	"github.com/wavewarz/battle-engine/internal/payment"
)

var (
	artistA  = common.BytesToAddress([]byte{0xA1})
	artistB  = common.BytesToAddress([]byte{0xB1})
	admin    = common.BytesToAddress([]byte{0xAD})
	platform = common.BytesToAddress([]byte{0xF1})
	trader1  = common.BytesToAddress([]byte{0x11})
	trader2  = common.BytesToAddress([]byte{0x22})

	native = common.Address{}

	farFuture = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

type fixture struct {
	bank *payment.Bank
	mkt  *Market
	now  time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		bank: payment.NewBank(),
		now:  time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.mkt = NewMarket(f.bank, platform, opts...)

	for _, trader := range []common.Address{trader1, trader2} {
		f.bank.Mint(trader, native, units(1000))
	}
	return f
}

// startBattle initializes a native-asset battle and advances the clock into
// its trading window.
func (f *fixture) startBattle(t *testing.T, id uint64, duration time.Duration) {
	t.Helper()
	err := f.mkt.InitializeBattle(context.Background(), BattleParams{
		BattleID:  id,
		StartTime: f.now.Add(time.Minute),
		Duration:  duration,
		ArtistA:   artistA,
		ArtistB:   artistB,
		Admin:     admin,
	})
	if err != nil {
		t.Fatalf("initialize battle %d: %v", id, err)
	}
	f.now = f.now.Add(time.Minute)
}

func (f *fixture) buy(t *testing.T, trader common.Address, id uint64, sideA bool, amount *uint256.Int) *uint256.Int {
	t.Helper()
	minted, err := f.mkt.BuyShares(context.Background(), trader, id, sideA, amount, nil, farFuture, amount)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	return minted
}

func TestInitializeBattleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := BattleParams{
		BattleID:  7,
		StartTime: f.now.Add(time.Minute),
		Duration:  20 * time.Minute,
		ArtistA:   artistA,
		ArtistB:   artistB,
		Admin:     admin,
	}

	t.Run("zero identifier rejected", func(t *testing.T) {
		p := base
		p.BattleID = 0
		if err := f.mkt.InitializeBattle(ctx, p); !errors.Is(err, domain.ErrInvalidBattleID) {
			t.Fatalf("got %v, want ErrInvalidBattleID", err)
		}
	})
	t.Run("zero artist wallet", func(t *testing.T) {
		p := base
		p.ArtistB = common.Address{}
		if err := f.mkt.InitializeBattle(ctx, p); !errors.Is(err, domain.ErrInvalidArtistWallet) {
			t.Fatalf("got %v, want ErrInvalidArtistWallet", err)
		}
	})
	t.Run("zero duration", func(t *testing.T) {
		p := base
		p.Duration = 0
		if err := f.mkt.InitializeBattle(ctx, p); !errors.Is(err, domain.ErrInvalidDuration) {
			t.Fatalf("got %v, want ErrInvalidDuration", err)
		}
	})
	t.Run("start time not in the future", func(t *testing.T) {
		p := base
		p.StartTime = f.now
		if err := f.mkt.InitializeBattle(ctx, p); !errors.Is(err, domain.ErrInvalidStartTime) {
			t.Fatalf("got %v, want ErrInvalidStartTime", err)
		}
	})
	t.Run("duplicate identifier", func(t *testing.T) {
		if err := f.mkt.InitializeBattle(ctx, base); err != nil {
			t.Fatalf("first initialize: %v", err)
		}
		if err := f.mkt.InitializeBattle(ctx, base); !errors.Is(err, domain.ErrBattleExists) {
			t.Fatalf("got %v, want ErrBattleExists", err)
		}
	})
}

func TestBuyValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mkt.BuyShares(ctx, trader1, 99, true, units(1), nil, farFuture, units(1)); !errors.Is(err, domain.ErrBattleNotFound) {
		t.Fatalf("unknown battle: got %v", err)
	}

	err := f.mkt.InitializeBattle(ctx, BattleParams{
		BattleID:  1,
		StartTime: f.now.Add(time.Minute),
		Duration:  20 * time.Minute,
		ArtistA:   artistA,
		ArtistB:   artistB,
		Admin:     admin,
	})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("before start", func(t *testing.T) {
		if _, err := f.mkt.BuyShares(ctx, trader1, 1, true, units(1), nil, farFuture, units(1)); !errors.Is(err, domain.ErrBattleNotActive) {
			t.Fatalf("got %v, want ErrBattleNotActive", err)
		}
	})

	f.now = f.now.Add(time.Minute)

	t.Run("expired deadline", func(t *testing.T) {
		if _, err := f.mkt.BuyShares(ctx, trader1, 1, true, units(1), nil, f.now.Add(-time.Second), units(1)); !errors.Is(err, domain.ErrDeadlineExceeded) {
			t.Fatalf("got %v, want ErrDeadlineExceeded", err)
		}
	})
	t.Run("zero amount", func(t *testing.T) {
		if _, err := f.mkt.BuyShares(ctx, trader1, 1, true, new(uint256.Int), nil, farFuture, new(uint256.Int)); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("got %v, want ErrInvalidAmount", err)
		}
	})
	t.Run("native value mismatch", func(t *testing.T) {
		if _, err := f.mkt.BuyShares(ctx, trader1, 1, true, units(2), nil, farFuture, units(1)); !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Fatalf("got %v, want ErrInsufficientFunds", err)
		}
	})
	t.Run("slippage", func(t *testing.T) {
		huge := units(1_000_000)
		if _, err := f.mkt.BuyShares(ctx, trader1, 1, true, units(1), huge, farFuture, units(1)); !errors.Is(err, domain.ErrSlippageExceeded) {
			t.Fatalf("got %v, want ErrSlippageExceeded", err)
		}
	})
	t.Run("underfunded trader", func(t *testing.T) {
		amount := units(5000) // fixture mints only 1000
		if _, err := f.mkt.BuyShares(ctx, trader1, 1, true, amount, nil, farFuture, amount); !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Fatalf("got %v, want ErrInsufficientFunds", err)
		}
	})
	t.Run("after end", func(t *testing.T) {
		f.now = f.now.Add(21 * time.Minute)
		if _, err := f.mkt.BuyShares(ctx, trader1, 1, true, units(1), nil, farFuture, units(1)); !errors.Is(err, domain.ErrBattleNotActive) {
			t.Fatalf("got %v, want ErrBattleNotActive", err)
		}
	})
}

func TestBuyMintsAndDistributesFees(t *testing.T) {
	f := newFixture(t)
	f.startBattle(t, 1, 20*time.Minute)

	minted := f.buy(t, trader1, 1, true, units(10))
	if minted.IsZero() {
		t.Fatal("no tokens minted")
	}

	// 1% to the side wallet, 0.5% to the platform, remainder to the pool.
	wantArtist := new(uint256.Int).Div(units(10), uint256.NewInt(100))
	wantPlatform := new(uint256.Int).Div(units(10), uint256.NewInt(200))
	if got := f.bank.BalanceOf(artistA, native); !got.Eq(wantArtist) {
		t.Errorf("artist fee = %s, want %s", got.Dec(), wantArtist.Dec())
	}
	if got := f.bank.BalanceOf(platform, native); !got.Eq(wantPlatform) {
		t.Errorf("platform fee = %s, want %s", got.Dec(), wantPlatform.Dec())
	}

	b, err := f.mkt.GetBattle(1)
	if err != nil {
		t.Fatal(err)
	}
	wantPool := new(uint256.Int).Sub(units(10), wantArtist)
	wantPool.Sub(wantPool, wantPlatform)
	if !b.PoolA.Eq(wantPool) {
		t.Errorf("pool A = %s, want %s", b.PoolA.Dec(), wantPool.Dec())
	}
	if !b.SupplyA.Eq(minted) {
		t.Errorf("supply A = %s, want %s", b.SupplyA.Dec(), minted.Dec())
	}
	if bal, _ := f.mkt.BalanceOf(1, true, trader1); !bal.Eq(minted) {
		t.Errorf("ledger balance = %s, want %s", bal.Dec(), minted.Dec())
	}
}

func TestRoundTripAlwaysLoses(t *testing.T) {
	f := newFixture(t)
	f.startBattle(t, 1, 20*time.Minute)

	before := f.bank.BalanceOf(trader1, native)
	minted := f.buy(t, trader1, 1, true, units(1))
	if _, err := f.mkt.SellShares(context.Background(), trader1, 1, true, minted, nil, farFuture); err != nil {
		t.Fatalf("sell: %v", err)
	}
	after := f.bank.BalanceOf(trader1, native)
	if !after.Lt(before) {
		t.Fatalf("round trip did not lose money: before=%s after=%s", before.Dec(), after.Dec())
	}
}

func TestSellValidation(t *testing.T) {
	f := newFixture(t)
	f.startBattle(t, 1, 20*time.Minute)
	ctx := context.Background()
	minted := f.buy(t, trader1, 1, true, units(2))

	t.Run("zero amount", func(t *testing.T) {
		if _, err := f.mkt.SellShares(ctx, trader1, 1, true, new(uint256.Int), nil, farFuture); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("got %v, want ErrInvalidAmount", err)
		}
	})
	t.Run("insufficient balance", func(t *testing.T) {
		tooMany := new(uint256.Int).Add(minted, uint256.NewInt(1))
		if _, err := f.mkt.SellShares(ctx, trader1, 1, true, tooMany, nil, farFuture); !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Fatalf("got %v, want ErrInsufficientFunds", err)
		}
	})
	t.Run("wrong side", func(t *testing.T) {
		if _, err := f.mkt.SellShares(ctx, trader1, 1, false, minted, nil, farFuture); !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Fatalf("got %v, want ErrInsufficientFunds", err)
		}
	})
	t.Run("slippage", func(t *testing.T) {
		if _, err := f.mkt.SellShares(ctx, trader1, 1, true, minted, units(1000), farFuture); !errors.Is(err, domain.ErrSlippageExceeded) {
			t.Fatalf("got %v, want ErrSlippageExceeded", err)
		}
	})
}

func TestBattleIsolation(t *testing.T) {
	f := newFixture(t)
	f.startBattle(t, 1, 20*time.Minute)
	err := f.mkt.InitializeBattle(context.Background(), BattleParams{
		BattleID:  2,
		StartTime: f.now.Add(time.Second),
		Duration:  20 * time.Minute,
		ArtistA:   artistA,
		ArtistB:   artistB,
		Admin:     admin,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(time.Second)

	f.buy(t, trader2, 2, true, units(3))
	before, _ := f.mkt.GetBattle(2)

	f.buy(t, trader1, 1, true, units(7))
	f.buy(t, trader1, 1, false, units(4))

	after, _ := f.mkt.GetBattle(2)
	if !after.PoolA.Eq(before.PoolA) || !after.PoolB.Eq(before.PoolB) {
		t.Error("battle 2 pools changed by trades on battle 1")
	}
	if !after.SupplyA.Eq(before.SupplyA) || !after.SupplyB.Eq(before.SupplyB) {
		t.Error("battle 2 supplies changed by trades on battle 1")
	}
}

func TestEndBattleValidation(t *testing.T) {
	f := newFixture(t)
	f.startBattle(t, 1, 20*time.Minute)
	ctx := context.Background()

	if err := f.mkt.EndBattle(ctx, admin, 1, true); !errors.Is(err, domain.ErrBattleStillActive) {
		t.Fatalf("got %v, want ErrBattleStillActive", err)
	}

	f.now = f.now.Add(20 * time.Minute)

	if err := f.mkt.EndBattle(ctx, trader1, 1, true); !errors.Is(err, domain.ErrNotBattleAdmin) {
		t.Fatalf("got %v, want ErrNotBattleAdmin", err)
	}
	if err := f.mkt.EndBattle(ctx, admin, 99, true); !errors.Is(err, domain.ErrBattleNotFound) {
		t.Fatalf("got %v, want ErrBattleNotFound", err)
	}
	if err := f.mkt.EndBattle(ctx, admin, 1, true); err != nil {
		t.Fatalf("end battle: %v", err)
	}
	if err := f.mkt.EndBattle(ctx, admin, 1, true); !errors.Is(err, domain.ErrBattleAlreadyEnded) {
		t.Fatalf("got %v, want ErrBattleAlreadyEnded", err)
	}
}

func TestSettlementDistribution(t *testing.T) {
	f := newFixture(t)
	f.startBattle(t, 1, 20*time.Minute)
	ctx := context.Background()

	f.buy(t, trader1, 1, true, units(10))
	f.buy(t, trader2, 1, false, units(6))

	pre, _ := f.mkt.GetBattle(1)
	artistABefore := f.bank.BalanceOf(artistA, native)
	artistBBefore := f.bank.BalanceOf(artistB, native)
	platformBefore := f.bank.BalanceOf(platform, native)

	f.now = f.now.Add(20 * time.Minute)
	if err := f.mkt.EndBattle(ctx, admin, 1, true); err != nil {
		t.Fatal(err)
	}

	loser := pre.PoolB
	share := func(bps uint64) *uint256.Int {
		s := new(uint256.Int).Mul(loser, uint256.NewInt(bps))
		return s.Div(s, uint256.NewInt(10_000))
	}

	post, _ := f.mkt.GetBattle(1)
	wantWinnerPool := new(uint256.Int).Add(pre.PoolA, share(4000))
	if !post.PoolA.Eq(wantWinnerPool) {
		t.Errorf("winner pool = %s, want %s", post.PoolA.Dec(), wantWinnerPool.Dec())
	}
	if !post.PoolB.Eq(share(5000)) {
		t.Errorf("loser refund pool = %s, want %s", post.PoolB.Dec(), share(5000).Dec())
	}
	if got := new(uint256.Int).Sub(f.bank.BalanceOf(artistA, native), artistABefore); !got.Eq(share(500)) {
		t.Errorf("winning artist share = %s, want %s", got.Dec(), share(500).Dec())
	}
	if got := new(uint256.Int).Sub(f.bank.BalanceOf(artistB, native), artistBBefore); !got.Eq(share(200)) {
		t.Errorf("losing artist share = %s, want %s", got.Dec(), share(200).Dec())
	}
	if got := new(uint256.Int).Sub(f.bank.BalanceOf(platform, native), platformBefore); !got.Eq(share(300)) {
		t.Errorf("platform share = %s, want %s", got.Dec(), share(300).Dec())
	}

	// Total distributed never exceeds the loser pool; rounding dust of a few
	// base units may remain in escrow.
	total := new(uint256.Int).Add(share(4000), share(5000))
	total.Add(total, share(500))
	total.Add(total, share(200))
	total.Add(total, share(300))
	if total.Gt(loser) {
		t.Errorf("distributed %s exceeds loser pool %s", total.Dec(), loser.Dec())
	}
	dust := new(uint256.Int).Sub(loser, total)
	if dust.Gt(uint256.NewInt(4)) {
		t.Errorf("settlement dust %s exceeds tolerance", dust.Dec())
	}

	if !post.WinnerDecided || !post.WinnerIsSideA || post.IsActive {
		t.Error("settlement flags not committed")
	}
}

func TestSettlementShareSum(t *testing.T) {
	sum := WinnerTradersShareBps + LoserTradersShareBps +
		WinningArtistShareBps + LosingArtistShareBps + PlatformShareBps
	if sum != BasisPoints {
		t.Fatalf("settlement shares sum to %d, want %d", sum, BasisPoints)
	}
}

func TestZeroPoolSettlement(t *testing.T) {
	f := newFixture(t)
	f.startBattle(t, 1, 20*time.Minute)

	f.buy(t, trader1, 1, true, units(5)) // side B stays empty

	artistBBefore := f.bank.BalanceOf(artistB, native)
	platformBefore := f.bank.BalanceOf(platform, native)

	f.now = f.now.Add(20 * time.Minute)
	if err := f.mkt.EndBattle(context.Background(), admin, 1, true); err != nil {
		t.Fatalf("zero-pool settlement failed: %v", err)
	}
	if !f.bank.BalanceOf(artistB, native).Eq(artistBBefore) {
		t.Error("losing artist balance changed on zero-pool settlement")
	}
	if !f.bank.BalanceOf(platform, native).Eq(platformBefore) {
		t.Error("platform balance changed on zero-pool settlement")
	}
}

func TestClaimLifecycle(t *testing.T) {
	f := newFixture(t)
	f.startBattle(t, 1, 20*time.Minute)
	ctx := context.Background()

	f.buy(t, trader1, 1, true, units(5))
	f.buy(t, trader2, 1, false, units(3))

	if _, err := f.mkt.ClaimShares(ctx, trader1, 1); !errors.Is(err, domain.ErrWinnerNotDecided) {
		t.Fatalf("claim before settlement: got %v", err)
	}

	f.now = f.now.Add(20 * time.Minute)
	if err := f.mkt.EndBattle(ctx, admin, 1, true); err != nil {
		t.Fatal(err)
	}

	t.Run("trading disabled after settlement", func(t *testing.T) {
		if _, err := f.mkt.BuyShares(ctx, trader1, 1, true, units(1), nil, farFuture, units(1)); !errors.Is(err, domain.ErrBattleNotActive) {
			t.Fatalf("got %v, want ErrBattleNotActive", err)
		}
	})
	t.Run("non-holder cannot claim", func(t *testing.T) {
		stranger := common.BytesToAddress([]byte{0x99})
		if _, err := f.mkt.ClaimShares(ctx, stranger, 1); !errors.Is(err, domain.ErrNoTokensToClaim) {
			t.Fatalf("got %v, want ErrNoTokensToClaim", err)
		}
	})
	t.Run("claim pays once", func(t *testing.T) {
		before := f.bank.BalanceOf(trader1, native)
		got, err := f.mkt.ClaimShares(ctx, trader1, 1)
		if err != nil {
			t.Fatal(err)
		}
		if got.IsZero() {
			t.Fatal("zero claim for sole winning holder")
		}
		paid := new(uint256.Int).Sub(f.bank.BalanceOf(trader1, native), before)
		if !paid.Eq(got) {
			t.Errorf("paid %s, reported %s", paid.Dec(), got.Dec())
		}
		if _, err := f.mkt.ClaimShares(ctx, trader1, 1); !errors.Is(err, domain.ErrAlreadyClaimed) {
			t.Fatalf("second claim: got %v, want ErrAlreadyClaimed", err)
		}
	})
	t.Run("balances persist after claim", func(t *testing.T) {
		bal, err := f.mkt.BalanceOf(1, true, trader1)
		if err != nil {
			t.Fatal(err)
		}
		if bal.IsZero() {
			t.Error("token balance zeroed by claim; should persist as history")
		}
	})
}

func TestEndToEndScenario(t *testing.T) {
	// A 1200s battle starting 60s out, a 5-unit buy on side A, a 3-unit
	// buy on side B, side A wins.
	f := newFixture(t)
	ctx := context.Background()

	err := f.mkt.InitializeBattle(ctx, BattleParams{
		BattleID:  42,
		StartTime: f.now.Add(60 * time.Second),
		Duration:  1200 * time.Second,
		ArtistA:   artistA,
		ArtistB:   artistB,
		Admin:     admin,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(60 * time.Second)

	f.buy(t, trader1, 42, true, units(5))
	f.buy(t, trader2, 42, false, units(3))

	artistABefore := f.bank.BalanceOf(artistA, native)
	artistBBefore := f.bank.BalanceOf(artistB, native)
	platformBefore := f.bank.BalanceOf(platform, native)

	f.now = f.now.Add(1200 * time.Second)
	if err := f.mkt.EndBattle(ctx, admin, 42, true); err != nil {
		t.Fatal(err)
	}

	if !f.bank.BalanceOf(artistA, native).Gt(artistABefore) {
		t.Error("winning artist balance did not increase")
	}
	if !f.bank.BalanceOf(artistB, native).Gt(artistBBefore) {
		t.Error("losing artist consolation did not arrive")
	}
	if !f.bank.BalanceOf(platform, native).Gt(platformBefore) {
		t.Error("platform balance did not increase")
	}

	claimA, err := f.mkt.ClaimShares(ctx, trader1, 42)
	if err != nil {
		t.Fatalf("winner claim: %v", err)
	}
	claimB, err := f.mkt.ClaimShares(ctx, trader2, 42)
	if err != nil {
		t.Fatalf("loser claim: %v", err)
	}
	if !claimA.Gt(claimB) {
		t.Errorf("winner claim %s not greater than loser claim %s", claimA.Dec(), claimB.Dec())
	}
}

func TestClaimProportionality(t *testing.T) {
	f := newFixture(t)
	f.startBattle(t, 1, 20*time.Minute)
	ctx := context.Background()

	f.buy(t, trader1, 1, true, units(8))
	f.buy(t, trader2, 1, true, units(2))

	f.now = f.now.Add(20 * time.Minute)
	if err := f.mkt.EndBattle(ctx, admin, 1, true); err != nil {
		t.Fatal(err)
	}

	claim1, err := f.mkt.ClaimShares(ctx, trader1, 1)
	if err != nil {
		t.Fatal(err)
	}
	claim2, err := f.mkt.ClaimShares(ctx, trader2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !claim1.Gt(claim2) {
		t.Errorf("larger holder claimed %s, smaller holder %s", claim1.Dec(), claim2.Dec())
	}
}

func TestTokenAssetBattle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := common.BytesToAddress([]byte{0xEC})
	f.bank.Mint(trader1, token, units(100))

	err := f.mkt.InitializeBattle(ctx, BattleParams{
		BattleID:     1,
		StartTime:    f.now.Add(time.Minute),
		Duration:     20 * time.Minute,
		ArtistA:      artistA,
		ArtistB:      artistB,
		Admin:        admin,
		PaymentToken: token,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(time.Minute)

	t.Run("native value rejected", func(t *testing.T) {
		if _, err := f.mkt.BuyShares(ctx, trader1, 1, true, units(1), nil, farFuture, units(1)); !errors.Is(err, domain.ErrInvalidPaymentToken) {
			t.Fatalf("got %v, want ErrInvalidPaymentToken", err)
		}
	})
	t.Run("token payment pulled from caller", func(t *testing.T) {
		before := f.bank.BalanceOf(trader1, token)
		minted, err := f.mkt.BuyShares(ctx, trader1, 1, true, units(4), nil, farFuture, nil)
		if err != nil {
			t.Fatal(err)
		}
		if minted.IsZero() {
			t.Fatal("no tokens minted")
		}
		spent := new(uint256.Int).Sub(before, f.bank.BalanceOf(trader1, token))
		if !spent.Eq(units(4)) {
			t.Errorf("spent %s, want %s", spent.Dec(), units(4).Dec())
		}
		if got := f.bank.BalanceOf(artistA, token); got.IsZero() {
			t.Error("artist fee not paid in the battle's token")
		}
	})
}

func TestRejectedFeeRecipientFallsBackToPending(t *testing.T) {
	f := newFixture(t)
	f.startBattle(t, 1, 20*time.Minute)
	f.bank.SetRejecting(artistA, true)

	f.buy(t, trader1, 1, true, units(10))

	if !f.bank.BalanceOf(artistA, native).IsZero() {
		t.Error("rejecting artist received a direct payout")
	}
	pending := f.bank.PendingOf(artistA, native)
	wantFee := new(uint256.Int).Div(units(10), uint256.NewInt(100))
	if !pending.Eq(wantFee) {
		t.Errorf("pending credit = %s, want %s", pending.Dec(), wantFee.Dec())
	}

	withdrawn := f.bank.Withdraw(artistA, native)
	if !withdrawn.Eq(wantFee) {
		t.Errorf("withdrawn %s, want %s", withdrawn.Dec(), wantFee.Dec())
	}
	if !f.bank.BalanceOf(artistA, native).Eq(wantFee) {
		t.Error("withdrawal did not land on the artist balance")
	}
}

// reentrantVault re-enters the market from inside a payout, standing in for
// a hostile payment recipient.
type reentrantVault struct {
	*payment.Bank
	mkt       *Market
	attempted bool
	innerErr  error
}

func (v *reentrantVault) Payout(ctx context.Context, to, asset common.Address, amount *uint256.Int) error {
	if !v.attempted && v.mkt != nil {
		v.attempted = true
		_, v.innerErr = v.mkt.BuyShares(ctx, to, 1, true, units(1), nil, farFuture, units(1))
	}
	return v.Bank.Payout(ctx, to, asset, amount)
}

func TestReentrancyGuard(t *testing.T) {
	bank := payment.NewBank()
	vault := &reentrantVault{Bank: bank}
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	mkt := NewMarket(vault, platform, WithClock(func() time.Time { return now }))
	vault.mkt = mkt
	bank.Mint(trader1, native, units(100))

	ctx := context.Background()
	err := mkt.InitializeBattle(ctx, BattleParams{
		BattleID:  1,
		StartTime: now.Add(time.Minute),
		Duration:  20 * time.Minute,
		ArtistA:   artistA,
		ArtistB:   artistB,
		Admin:     admin,
	})
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Minute)

	if _, err := mkt.BuyShares(ctx, trader1, 1, true, units(5), nil, farFuture, units(5)); err != nil {
		t.Fatalf("outer buy failed: %v", err)
	}
	if !vault.attempted {
		t.Fatal("reentrant call never attempted")
	}
	if !errors.Is(vault.innerErr, domain.ErrReentrantCall) {
		t.Fatalf("inner call: got %v, want ErrReentrantCall", vault.innerErr)
	}

	// The guard must have been released on exit.
	if _, err := mkt.BuyShares(ctx, trader1, 1, true, units(1), nil, farFuture, units(1)); err != nil {
		t.Fatalf("follow-up buy after guard release: %v", err)
	}
}
