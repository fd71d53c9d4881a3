package handler

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestBankFunding(t *testing.T) {
	env := newTestEnv(t, false)
	env.createBattle(t, 1)

	trader := common.BytesToAddress([]byte{0x33})
	deadline := env.now.Add(time.Hour).Unix()
	buyBody := map[string]any{
		"trader":   trader.Hex(),
		"side":     "A",
		"amount":   "1000000000000000000",
		"deadline": deadline,
		"value":    "1000000000000000000",
	}

	t.Run("unfunded buy fails", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/battles/1/buy", buyBody)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("deposit credits the account", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/bank/deposit", map[string]any{
			"account": trader.Hex(),
			"amount":  "5000000000000000000",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("deposit status = %d, body = %s", rec.Code, rec.Body.String())
		}
		if got := decodeBody(t, rec)["balance"]; got != "5000000000000000000" {
			t.Errorf("balance = %v", got)
		}
	})

	t.Run("funded buy succeeds", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/battles/1/buy", buyBody)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		if tokens := decodeBody(t, rec)["tokens"].(string); tokens == "0" {
			t.Error("buy minted zero tokens")
		}
	})

	t.Run("balance reflects the spend", func(t *testing.T) {
		rec := env.do(t, http.MethodGet,
			"/api/bank/balance?account="+trader.Hex(), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		if got := decodeBody(t, rec)["balance"]; got != "4000000000000000000" {
			t.Errorf("balance after buy = %v, want 4000000000000000000", got)
		}
	})

	t.Run("withdraw collects pending payouts", func(t *testing.T) {
		// A rejecting fee recipient accrues pending credit instead of
		// blocking the trade.
		env.bank.SetRejecting(testPlatform, true)
		rec := env.do(t, http.MethodPost, "/api/battles/1/buy", buyBody)
		if rec.Code != http.StatusOK {
			t.Fatalf("buy status = %d, body = %s", rec.Code, rec.Body.String())
		}

		rec = env.do(t, http.MethodPost, "/api/bank/withdraw", map[string]any{
			"account": testPlatform.Hex(),
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("withdraw status = %d, body = %s", rec.Code, rec.Body.String())
		}
		if got := decodeBody(t, rec)["collected"].(string); got == "0" {
			t.Error("withdraw collected nothing")
		}
	})

	t.Run("rejects malformed deposits", func(t *testing.T) {
		for name, body := range map[string]map[string]any{
			"bad account": {"account": "nope", "amount": "1"},
			"bad amount":  {"account": trader.Hex(), "amount": "1.5"},
			"no amount":   {"account": trader.Hex()},
		} {
			rec := env.do(t, http.MethodPost, "/api/bank/deposit", body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("%s: status = %d", name, rec.Code)
			}
		}
	})
}

func TestCreateBattleWithoutAdmin(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/battles", map[string]any{
		"battle_id":        9,
		"start_time":       env.now.Add(time.Minute).Unix(),
		"duration_seconds": 3600,
		"artist_a":         testArtistA.Hex(),
		"artist_b":         testArtistB.Hex(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	admin, _ := decodeBody(t, rec)["admin"].(string)
	if !strings.EqualFold(admin, testAdmin.Hex()) {
		t.Errorf("admin = %q, want configured default %s", admin, testAdmin.Hex())
	}

	// The defaulted admin settles the battle.
	env.now = env.now.Add(2 * time.Hour)
	rec = env.do(t, http.MethodPost, "/api/battles/9/end", map[string]any{
		"caller":           testAdmin.Hex(),
		"winner_is_side_a": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
