package handler

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/wavewarz/battle-engine/internal/engine"
	"github.com/wavewarz/battle-engine/internal/payment"
	"github.com/wavewarz/battle-engine/internal/service"
)

// Well-known test key, never used outside tests.
const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	testArtistA  = common.BytesToAddress([]byte{0xA1})
	testArtistB  = common.BytesToAddress([]byte{0xB1})
	testAdmin    = common.BytesToAddress([]byte{0xAD})
	testPlatform = common.BytesToAddress([]byte{0xF1})
)

// testEnv runs the battle routes against a real engine and service with
// in-memory payments and no persistence.
type testEnv struct {
	mux  *http.ServeMux
	bank *payment.Bank
	now  time.Time
}

func newTestEnv(t *testing.T, requireSig bool) *testEnv {
	t.Helper()

	env := &testEnv{
		bank: payment.NewBank(),
		now:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	market := engine.NewMarket(env.bank, testPlatform,
		engine.WithClock(func() time.Time { return env.now }))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewBattleService(market, testAdmin, nil, nil, nil, nil, nil, service.Bounds{
		MinDuration:   time.Minute,
		MaxDuration:   7 * 24 * time.Hour,
		MaxStartDelay: 30 * 24 * time.Hour,
	}, logger)

	h := NewBattleHandler(svc, requireSig, logger)
	bh := NewBankHandler(env.bank, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/battles", h.CreateBattle)
	mux.HandleFunc("GET /api/battles", h.ListBattles)
	mux.HandleFunc("GET /api/battles/{id}", h.GetBattle)
	mux.HandleFunc("POST /api/battles/{id}/buy", h.Buy)
	mux.HandleFunc("POST /api/battles/{id}/sell", h.Sell)
	mux.HandleFunc("POST /api/battles/{id}/end", h.End)
	mux.HandleFunc("POST /api/battles/{id}/claim", h.Claim)
	mux.HandleFunc("GET /api/quotes/buy", h.QuoteBuy)
	mux.HandleFunc("GET /api/quotes/sell", h.QuoteSell)
	mux.HandleFunc("POST /api/bank/deposit", bh.Deposit)
	mux.HandleFunc("POST /api/bank/withdraw", bh.Withdraw)
	mux.HandleFunc("GET /api/bank/balance", bh.Balance)
	env.mux = mux
	return env
}

func (env *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) createBattle(t *testing.T, id uint64) {
	t.Helper()

	rec := env.do(t, http.MethodPost, "/api/battles", map[string]any{
		"battle_id":        id,
		"start_time":       env.now.Add(time.Minute).Unix(),
		"duration_seconds": 3600,
		"artist_a":         testArtistA.Hex(),
		"artist_b":         testArtistB.Hex(),
		"admin":            testAdmin.Hex(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create battle: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	// Move past the start so trading is open.
	env.now = env.now.Add(2 * time.Minute)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

// signPersonal produces the EIP-191 personal-sign signature the trade
// endpoints expect, with the wallet-style recovery byte.
func signPersonal(t *testing.T, message string) string {
	t.Helper()

	key, err := ethcrypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	sig, err := ethcrypto.Sign(ethcrypto.Keccak256([]byte(prefixed)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig)
}

func testKeyAddress(t *testing.T) common.Address {
	t.Helper()

	key, err := ethcrypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	return ethcrypto.PubkeyToAddress(key.PublicKey)
}

func TestQuoteEndpoints(t *testing.T) {
	env := newTestEnv(t, false)
	env.createBattle(t, 1)

	t.Run("buy quote on empty curve", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/quotes/buy?battle_id=1&side=A&amount=1000000000000000000", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		body := decodeBody(t, rec)
		tokens, err := uint256.FromDecimal(body["tokens"].(string))
		if err != nil {
			t.Fatalf("parse tokens: %v", err)
		}
		if tokens.IsZero() {
			t.Fatal("expected a non-zero token quote for a 1-unit buy")
		}
	})

	t.Run("quote matches executed buy", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/quotes/buy?battle_id=1&side=A&amount=1000000000000000000", nil)
		quoted := decodeBody(t, rec)["tokens"].(string)

		trader := common.BytesToAddress([]byte{0x11})
		env.bank.Mint(trader, common.Address{}, uint256.NewInt(0).Mul(uint256.NewInt(10), uint256.NewInt(1e18)))
		buyRec := env.do(t, http.MethodPost, "/api/battles/1/buy", map[string]any{
			"trader":   trader.Hex(),
			"side":     "A",
			"amount":   "1000000000000000000",
			"value":    "1000000000000000000",
			"deadline": env.now.Add(time.Hour).Unix(),
		})
		if buyRec.Code != http.StatusOK {
			t.Fatalf("buy status = %d, body = %s", buyRec.Code, buyRec.Body.String())
		}
		got := decodeBody(t, buyRec)["tokens"].(string)
		if got != quoted {
			t.Fatalf("executed tokens = %s, quoted = %s", got, quoted)
		}
	})

	t.Run("sell quote after buy", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/quotes/sell?battle_id=1&side=A&amount=1000000000000000000", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		proceeds, err := uint256.FromDecimal(decodeBody(t, rec)["proceeds"].(string))
		if err != nil {
			t.Fatalf("parse proceeds: %v", err)
		}
		if proceeds.IsZero() {
			t.Fatal("expected non-zero sell proceeds against a funded curve")
		}
	})

	t.Run("unknown battle", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/quotes/buy?battle_id=99&side=A&amount=1", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("validation", func(t *testing.T) {
		for _, target := range []string{
			"/api/quotes/buy?battle_id=0&side=A&amount=1",
			"/api/quotes/buy?battle_id=1&side=X&amount=1",
			"/api/quotes/buy?battle_id=1&side=A&amount=abc",
			"/api/quotes/sell?battle_id=1&side=A",
		} {
			rec := env.do(t, http.MethodGet, target, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("%s: status = %d, want 400", target, rec.Code)
			}
		}
	})
}

func TestBattleLifecycleRoutes(t *testing.T) {
	env := newTestEnv(t, false)
	env.createBattle(t, 7)

	t.Run("get battle", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/battles/7", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decodeBody(t, rec)
		if body["id"] != float64(7) {
			t.Fatalf("id = %v, want 7", body["id"])
		}
		if body["is_active"] != true {
			t.Fatalf("is_active = %v, want true", body["is_active"])
		}
	})

	t.Run("duplicate create conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/battles", map[string]any{
			"battle_id":        7,
			"start_time":       env.now.Add(time.Minute).Unix(),
			"duration_seconds": 3600,
			"artist_a":         testArtistA.Hex(),
			"artist_b":         testArtistB.Hex(),
			"admin":            testAdmin.Hex(),
		})
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("end by non-admin forbidden", func(t *testing.T) {
		env.now = env.now.Add(2 * time.Hour)
		rec := env.do(t, http.MethodPost, "/api/battles/7/end", map[string]any{
			"caller":           testArtistA.Hex(),
			"winner_is_side_a": true,
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403, body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("end and claim", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/battles/7/end", map[string]any{
			"caller":           testAdmin.Hex(),
			"winner_is_side_a": true,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("end status = %d, body = %s", rec.Code, rec.Body.String())
		}

		// No position was opened, so the claim must fail cleanly.
		claimRec := env.do(t, http.MethodPost, "/api/battles/7/claim", map[string]any{
			"trader": testArtistA.Hex(),
		})
		if claimRec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("claim status = %d, want 422, body = %s", claimRec.Code, claimRec.Body.String())
		}
	})

	t.Run("missing battle", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/battles/999", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestSignedTradeRequests(t *testing.T) {
	env := newTestEnv(t, true)
	env.createBattle(t, 3)

	trader := testKeyAddress(t)
	env.bank.Mint(trader, common.Address{}, uint256.NewInt(0).Mul(uint256.NewInt(10), uint256.NewInt(1e18)))

	deadline := env.now.Add(time.Hour).Unix()
	amount := "1000000000000000000"

	t.Run("unsigned request rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/battles/3/buy", map[string]any{
			"trader":   trader.Hex(),
			"side":     "A",
			"amount":   amount,
			"value":    amount,
			"deadline": deadline,
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403, body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("signed request accepted", func(t *testing.T) {
		sig := signPersonal(t, fmt.Sprintf("battled:buy:3:A:%s:%d", amount, deadline))
		rec := env.do(t, http.MethodPost, "/api/battles/3/buy", map[string]any{
			"side":      "A",
			"amount":    amount,
			"value":     amount,
			"deadline":  deadline,
			"signature": sig,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		body := decodeBody(t, rec)
		if !strings.EqualFold(body["trader"].(string), trader.Hex()) {
			t.Fatalf("trader = %v, want recovered signer %s", body["trader"], trader.Hex())
		}
	})

	t.Run("signer mismatch rejected", func(t *testing.T) {
		sig := signPersonal(t, fmt.Sprintf("battled:buy:3:A:%s:%d", amount, deadline))
		rec := env.do(t, http.MethodPost, "/api/battles/3/buy", map[string]any{
			"trader":    testArtistB.Hex(),
			"side":      "A",
			"amount":    amount,
			"value":     amount,
			"deadline":  deadline,
			"signature": sig,
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("tampered payload rejected", func(t *testing.T) {
		// Signature covers a different amount than the request body.
		sig := signPersonal(t, fmt.Sprintf("battled:buy:3:A:%s:%d", "2000000000000000000", deadline))
		rec := env.do(t, http.MethodPost, "/api/battles/3/buy", map[string]any{
			"trader":    trader.Hex(),
			"side":      "A",
			"amount":    amount,
			"value":     amount,
			"deadline":  deadline,
			"signature": sig,
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})
}
