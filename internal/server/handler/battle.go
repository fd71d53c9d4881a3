package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/wavewarz/battle-engine/internal/crypto"
	"github.com/wavewarz/battle-engine/internal/domain"
	"github.com/wavewarz/battle-engine/internal/engine"
)

// BattleService defines the methods the battle handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type BattleService interface {
	CreateBattle(ctx context.Context, p engine.BattleParams) (domain.Battle, error)
	Buy(ctx context.Context, trader common.Address, battleID uint64, sideA bool, amount, minTokensOut *uint256.Int, deadline time.Time, value *uint256.Int) (*uint256.Int, error)
	Sell(ctx context.Context, trader common.Address, battleID uint64, sideA bool, tokenAmount, minAmountOut *uint256.Int, deadline time.Time) (*uint256.Int, error)
	End(ctx context.Context, caller common.Address, battleID uint64, winnerIsSideA bool) (domain.Battle, error)
	Claim(ctx context.Context, caller common.Address, battleID uint64) (*uint256.Int, error)
	GetBattle(ctx context.Context, battleID uint64) (domain.Battle, error)
	ListBattles(ctx context.Context) []domain.Battle
	BalanceOf(battleID uint64, sideA bool, trader common.Address) (*uint256.Int, error)
	HasClaimed(battleID uint64, trader common.Address) (bool, error)
	QuoteBuy(battleID uint64, sideA bool, amount *uint256.Int) (*uint256.Int, error)
	QuoteSell(battleID uint64, sideA bool, tokenAmount *uint256.Int) (*uint256.Int, error)
	TradesByBattle(ctx context.Context, battleID uint64, opts domain.ListOpts) ([]domain.TradeEvent, error)
	TradesByTrader(ctx context.Context, trader string, opts domain.ListOpts) ([]domain.TradeEvent, error)
	ClaimsByBattle(ctx context.Context, battleID uint64) ([]domain.ClaimEvent, error)
}

// BattleHandler serves the battle market HTTP endpoints.
type BattleHandler struct {
	battles BattleService
	// requireSig forces every state-changing trade request to carry a valid
	// EIP-191 signature over the canonical request message. When false the
	// trader field in the body is trusted as-is (suitable behind a gateway
	// that already authenticates wallets).
	requireSig bool
	logger     *slog.Logger
}

// NewBattleHandler creates a BattleHandler.
func NewBattleHandler(battles BattleService, requireSig bool, logger *slog.Logger) *BattleHandler {
	return &BattleHandler{
		battles:    battles,
		requireSig: requireSig,
		logger:     logger,
	}
}

// statusForError maps domain sentinel errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrBattleNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotBattleAdmin), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrBattleExists),
		errors.Is(err, domain.ErrBattleAlreadyEnded),
		errors.Is(err, domain.ErrBattleStillActive),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrWinnerNotDecided),
		errors.Is(err, domain.ErrBattleNotActive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidBattleID),
		errors.Is(err, domain.ErrInvalidArtistWallet),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrInvalidStartTime),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidPaymentToken):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrSlippageExceeded),
		errors.Is(err, domain.ErrDeadlineExceeded),
		errors.Is(err, domain.ErrNoTokensToClaim):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrReentrantCall):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs 5xx-class failures and writes the mapped status.
func (h *BattleHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// battleResponse augments the snapshot with a derived lifecycle status.
type battleResponse struct {
	domain.Battle
	Status domain.BattleStatus `json:"status"`
}

func toBattleResponse(b domain.Battle) battleResponse {
	return battleResponse{Battle: b, Status: b.Status(time.Now())}
}

// createBattleRequest is the body for POST /api/battles.
type createBattleRequest struct {
	BattleID        uint64 `json:"battle_id"`
	StartTime       int64  `json:"start_time"` // unix seconds
	DurationSeconds int64  `json:"duration_seconds"`
	ArtistA         string `json:"artist_a"`
	ArtistB         string `json:"artist_b"`
	Admin           string `json:"admin"`
	PaymentToken    string `json:"payment_token"` // empty or zero address for native
}

// CreateBattle initializes a new battle market.
// POST /api/battles
func (h *BattleHandler) CreateBattle(w http.ResponseWriter, r *http.Request) {
	var req createBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	artistA, err := parseAddress(req.ArtistA)
	if err != nil {
		writeError(w, http.StatusBadRequest, "artist_a: "+err.Error())
		return
	}
	artistB, err := parseAddress(req.ArtistB)
	if err != nil {
		writeError(w, http.StatusBadRequest, "artist_b: "+err.Error())
		return
	}
	// An omitted admin falls back to the service's configured admin wallet.
	var admin common.Address
	if req.Admin != "" {
		if admin, err = parseAddress(req.Admin); err != nil {
			writeError(w, http.StatusBadRequest, "admin: "+err.Error())
			return
		}
	}
	var paymentToken common.Address
	if req.PaymentToken != "" {
		if paymentToken, err = parseAddress(req.PaymentToken); err != nil {
			writeError(w, http.StatusBadRequest, "payment_token: "+err.Error())
			return
		}
	}

	b, err := h.battles.CreateBattle(r.Context(), engine.BattleParams{
		BattleID:     req.BattleID,
		StartTime:    time.Unix(req.StartTime, 0).UTC(),
		Duration:     time.Duration(req.DurationSeconds) * time.Second,
		ArtistA:      artistA,
		ArtistB:      artistB,
		Admin:        admin,
		PaymentToken: paymentToken,
	})
	if err != nil {
		h.writeServiceError(w, r, "create battle", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBattleResponse(b))
}

// listBattlesResponse wraps the list endpoint output with metadata.
type listBattlesResponse struct {
	Battles []battleResponse `json:"battles"`
	Total   int              `json:"total"`
}

// ListBattles returns every battle the engine currently holds.
// GET /api/battles
func (h *BattleHandler) ListBattles(w http.ResponseWriter, r *http.Request) {
	battles := h.battles.ListBattles(r.Context())

	resp := listBattlesResponse{
		Battles: make([]battleResponse, 0, len(battles)),
		Total:   len(battles),
	}
	for _, b := range battles {
		resp.Battles = append(resp.Battles, toBattleResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetBattle returns a single battle snapshot by its ID.
// GET /api/battles/{id}
func (h *BattleHandler) GetBattle(w http.ResponseWriter, r *http.Request) {
	id, err := battleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := h.battles.GetBattle(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get battle", err)
		return
	}
	writeJSON(w, http.StatusOK, toBattleResponse(b))
}

// tradeRequest is the shared body for the buy and sell endpoints. Amounts are
// base-10 strings in 18-decimal base units; deadline is unix seconds.
type tradeRequest struct {
	Trader       string `json:"trader"`
	Side         string `json:"side"` // "A" or "B"
	Amount       string `json:"amount"`
	MinTokensOut string `json:"min_tokens_out"` // buy only
	MinAmountOut string `json:"min_amount_out"` // sell only
	Deadline     int64  `json:"deadline"`
	Value        string `json:"value"` // buy only; native payment attached
	Signature    string `json:"signature"`
}

// resolveCaller determines the wallet a state-changing request acts for.
// With a signature present the signer is recovered from the canonical message
// and must match the trader field when both are given. Without one, the
// trader field is used directly unless signatures are required.
func (h *BattleHandler) resolveCaller(trader, signature, message string) (common.Address, error) {
	if signature == "" {
		if h.requireSig {
			return common.Address{}, fmt.Errorf("signature required: %w", domain.ErrUnauthorized)
		}
		return parseAddress(trader)
	}

	signer, err := crypto.RecoverSigner([]byte(message), signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature recovery: %w", domain.ErrUnauthorized)
	}
	if trader != "" {
		declared, err := parseAddress(trader)
		if err != nil {
			return common.Address{}, err
		}
		if declared != signer {
			return common.Address{}, fmt.Errorf("signer %s does not match trader %s: %w",
				signer.Hex(), declared.Hex(), domain.ErrUnauthorized)
		}
	}
	return signer, nil
}

// buyMessage is the canonical EIP-191 payload a trader signs for a buy.
func buyMessage(battleID uint64, side, amount string, deadline int64) string {
	return fmt.Sprintf("battled:buy:%d:%s:%s:%d", battleID, side, amount, deadline)
}

// sellMessage is the canonical EIP-191 payload a trader signs for a sell.
func sellMessage(battleID uint64, side, amount string, deadline int64) string {
	return fmt.Sprintf("battled:sell:%d:%s:%s:%d", battleID, side, amount, deadline)
}

// Buy purchases shares on one side of a battle.
// POST /api/battles/{id}/buy
func (h *BattleHandler) Buy(w http.ResponseWriter, r *http.Request) {
	id, err := battleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sideA, err := parseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minTokensOut := uint256.NewInt(0)
	if req.MinTokensOut != "" {
		if minTokensOut, err = parseAmount(req.MinTokensOut); err != nil {
			writeError(w, http.StatusBadRequest, "min_tokens_out: "+err.Error())
			return
		}
	}
	value := uint256.NewInt(0)
	if req.Value != "" {
		if value, err = parseAmount(req.Value); err != nil {
			writeError(w, http.StatusBadRequest, "value: "+err.Error())
			return
		}
	}

	trader, err := h.resolveCaller(req.Trader, req.Signature,
		buyMessage(id, domain.SideLabel(sideA), req.Amount, req.Deadline))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	tokens, err := h.battles.Buy(r.Context(), trader, id, sideA,
		amount, minTokensOut, time.Unix(req.Deadline, 0).UTC(), value)
	if err != nil {
		h.writeServiceError(w, r, "buy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"battle_id": id,
		"trader":    trader.Hex(),
		"side":      domain.SideLabel(sideA),
		"amount":    amount.Dec(),
		"tokens":    tokens.Dec(),
	})
}

// Sell sells previously purchased shares back to the curve.
// POST /api/battles/{id}/sell
func (h *BattleHandler) Sell(w http.ResponseWriter, r *http.Request) {
	id, err := battleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sideA, err := parseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenAmount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minAmountOut := uint256.NewInt(0)
	if req.MinAmountOut != "" {
		if minAmountOut, err = parseAmount(req.MinAmountOut); err != nil {
			writeError(w, http.StatusBadRequest, "min_amount_out: "+err.Error())
			return
		}
	}

	trader, err := h.resolveCaller(req.Trader, req.Signature,
		sellMessage(id, domain.SideLabel(sideA), req.Amount, req.Deadline))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	proceeds, err := h.battles.Sell(r.Context(), trader, id, sideA,
		tokenAmount, minAmountOut, time.Unix(req.Deadline, 0).UTC())
	if err != nil {
		h.writeServiceError(w, r, "sell", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"battle_id": id,
		"trader":    trader.Hex(),
		"side":      domain.SideLabel(sideA),
		"tokens":    tokenAmount.Dec(),
		"proceeds":  proceeds.Dec(),
	})
}

// endBattleRequest is the body for POST /api/battles/{id}/end.
type endBattleRequest struct {
	Caller        string `json:"caller"`
	WinnerIsSideA bool   `json:"winner_is_side_a"`
	Signature     string `json:"signature"`
}

// End settles a battle. Only the battle admin may call it.
// POST /api/battles/{id}/end
func (h *BattleHandler) End(w http.ResponseWriter, r *http.Request) {
	id, err := battleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req endBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg := fmt.Sprintf("battled:end:%d:%s", id, domain.SideLabel(req.WinnerIsSideA))
	caller, err := h.resolveCaller(req.Caller, req.Signature, msg)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	b, err := h.battles.End(r.Context(), caller, id, req.WinnerIsSideA)
	if err != nil {
		h.writeServiceError(w, r, "end battle", err)
		return
	}
	writeJSON(w, http.StatusOK, toBattleResponse(b))
}

// claimRequest is the body for POST /api/battles/{id}/claim.
type claimRequest struct {
	Trader    string `json:"trader"`
	Signature string `json:"signature"`
}

// Claim pays out the caller's one-time post-settlement share.
// POST /api/battles/{id}/claim
func (h *BattleHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, err := battleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := h.resolveCaller(req.Trader, req.Signature,
		fmt.Sprintf("battled:claim:%d", id))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	amount, err := h.battles.Claim(r.Context(), caller, id)
	if err != nil {
		h.writeServiceError(w, r, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"battle_id": id,
		"trader":    caller.Hex(),
		"amount":    amount.Dec(),
	})
}

// ListTrades returns the persisted trade history for a battle.
// GET /api/battles/{id}/trades
func (h *BattleHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	id, err := battleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trades, err := h.battles.TradesByBattle(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.writeServiceError(w, r, "list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.TradeEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"battle_id": id, "trades": trades})
}

// ListClaims returns the persisted claim history for a battle.
// GET /api/battles/{id}/claims
func (h *BattleHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	id, err := battleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	claims, err := h.battles.ClaimsByBattle(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "list claims", err)
		return
	}
	if claims == nil {
		claims = []domain.ClaimEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"battle_id": id, "claims": claims})
}

// ListTraderHistory returns the persisted trade history for a wallet.
// GET /api/traders/{address}/trades
func (h *BattleHandler) ListTraderHistory(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trades, err := h.battles.TradesByTrader(r.Context(), addr.Hex(), parseListOpts(r))
	if err != nil {
		h.writeServiceError(w, r, "trader history", err)
		return
	}
	if trades == nil {
		trades = []domain.TradeEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trader": addr.Hex(), "trades": trades})
}

// Balance returns a trader's share balance on one side of a battle.
// GET /api/battles/{id}/balance?trader=0x..&side=A
func (h *BattleHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id, err := battleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trader, err := parseAddress(r.URL.Query().Get("trader"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "trader: "+err.Error())
		return
	}
	sideA, err := parseSide(r.URL.Query().Get("side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	balance, err := h.battles.BalanceOf(id, sideA, trader)
	if err != nil {
		h.writeServiceError(w, r, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"battle_id": id,
		"trader":    trader.Hex(),
		"side":      domain.SideLabel(sideA),
		"balance":   balance.Dec(),
	})
}

// Claimed reports whether a trader has already claimed for a battle.
// GET /api/battles/{id}/claimed?trader=0x..
func (h *BattleHandler) Claimed(w http.ResponseWriter, r *http.Request) {
	id, err := battleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trader, err := parseAddress(r.URL.Query().Get("trader"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "trader: "+err.Error())
		return
	}

	claimed, err := h.battles.HasClaimed(id, trader)
	if err != nil {
		h.writeServiceError(w, r, "claimed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"battle_id": id,
		"trader":    trader.Hex(),
		"claimed":   claimed,
	})
}

// quoteParams parses the shared query parameters of the quote endpoints.
func quoteParams(r *http.Request) (uint64, bool, *uint256.Int, error) {
	q := r.URL.Query()
	id, err := strconv.ParseUint(q.Get("battle_id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false, nil, fmt.Errorf("invalid battle_id %q", q.Get("battle_id"))
	}
	sideA, err := parseSide(q.Get("side"))
	if err != nil {
		return 0, false, nil, err
	}
	amount, err := parseAmount(q.Get("amount"))
	if err != nil {
		return 0, false, nil, err
	}
	return id, sideA, amount, nil
}

// QuoteBuy simulates a buy without executing it.
// GET /api/quotes/buy?battle_id=..&side=A&amount=..
func (h *BattleHandler) QuoteBuy(w http.ResponseWriter, r *http.Request) {
	id, sideA, amount, err := quoteParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tokens, err := h.battles.QuoteBuy(id, sideA, amount)
	if err != nil {
		h.writeServiceError(w, r, "quote buy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"battle_id": id,
		"side":      domain.SideLabel(sideA),
		"amount":    amount.Dec(),
		"tokens":    tokens.Dec(),
	})
}

// QuoteSell simulates a sell without executing it.
// GET /api/quotes/sell?battle_id=..&side=A&amount=..
func (h *BattleHandler) QuoteSell(w http.ResponseWriter, r *http.Request) {
	id, sideA, amount, err := quoteParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	proceeds, err := h.battles.QuoteSell(id, sideA, amount)
	if err != nil {
		h.writeServiceError(w, r, "quote sell", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"battle_id": id,
		"side":      domain.SideLabel(sideA),
		"tokens":    amount.Dec(),
		"proceeds":  proceeds.Dec(),
	})
}
