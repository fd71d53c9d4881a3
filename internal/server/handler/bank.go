package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BankVault defines the funding operations the bank handler requires from
// the payment vault.
type BankVault interface {
	Mint(account, asset common.Address, amount *uint256.Int)
	Withdraw(account, asset common.Address) *uint256.Int
	BalanceOf(account, asset common.Address) *uint256.Int
	PendingOf(account, asset common.Address) *uint256.Int
}

// BankHandler serves the payment-vault endpoints. The market engine draws
// every trade payment from vault balances, so accounts must be funded here
// before they can buy. A deposit credits funds received out of band (an
// on-ramp or bridge settles the real money); the API key middleware guards
// the route like every other endpoint.
type BankHandler struct {
	bank   BankVault
	logger *slog.Logger
}

// NewBankHandler creates a BankHandler.
func NewBankHandler(bank BankVault, logger *slog.Logger) *BankHandler {
	return &BankHandler{bank: bank, logger: logger}
}

// bankRequest is the shared body for the deposit and withdraw endpoints.
// Amounts are base-10 strings in 18-decimal base units; an empty asset
// selects the native asset.
type bankRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

func (h *BankHandler) parseAccountAsset(w http.ResponseWriter, account, asset string) (common.Address, common.Address, bool) {
	acct, err := parseAddress(account)
	if err != nil {
		writeError(w, http.StatusBadRequest, "account: "+err.Error())
		return common.Address{}, common.Address{}, false
	}
	var ast common.Address
	if asset != "" {
		if ast, err = parseAddress(asset); err != nil {
			writeError(w, http.StatusBadRequest, "asset: "+err.Error())
			return common.Address{}, common.Address{}, false
		}
	}
	return acct, ast, true
}

// Deposit credits an account's vault balance.
// POST /api/bank/deposit
func (h *BankHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req bankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	account, asset, ok := h.parseAccountAsset(w, req.Account, req.Asset)
	if !ok {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.bank.Mint(account, asset, amount)
	h.logger.InfoContext(r.Context(), "vault deposit",
		slog.String("account", account.Hex()),
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.Dec()),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account.Hex(),
		"asset":   asset.Hex(),
		"balance": h.bank.BalanceOf(account, asset).Dec(),
	})
}

// Withdraw collects an account's pending payouts into its spendable balance.
// POST /api/bank/withdraw
func (h *BankHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req bankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	account, asset, ok := h.parseAccountAsset(w, req.Account, req.Asset)
	if !ok {
		return
	}

	collected := h.bank.Withdraw(account, asset)
	writeJSON(w, http.StatusOK, map[string]any{
		"account":   account.Hex(),
		"asset":     asset.Hex(),
		"collected": collected.Dec(),
		"balance":   h.bank.BalanceOf(account, asset).Dec(),
	})
}

// Balance returns an account's spendable and pending vault balances.
// GET /api/bank/balance?account=0x..&asset=0x..
func (h *BankHandler) Balance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	account, asset, ok := h.parseAccountAsset(w, q.Get("account"), q.Get("asset"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account.Hex(),
		"asset":   asset.Hex(),
		"balance": h.bank.BalanceOf(account, asset).Dec(),
		"pending": h.bank.PendingOf(account, asset).Dec(),
	})
}
