package domain

import "errors"

var (
	// Generic store errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrContextDone   = errors.New("context cancelled")

	// Battle lifecycle and configuration errors.
	ErrBattleNotFound      = errors.New("battle not found")
	ErrBattleExists        = errors.New("battle already exists")
	ErrInvalidBattleID     = errors.New("invalid battle id")
	ErrInvalidArtistWallet = errors.New("invalid artist wallet")
	ErrInvalidDuration     = errors.New("invalid duration")
	ErrInvalidStartTime    = errors.New("invalid start time")
	ErrBattleNotActive     = errors.New("battle not active")
	ErrBattleStillActive   = errors.New("battle still active")
	ErrBattleAlreadyEnded  = errors.New("battle already ended")
	ErrNotBattleAdmin      = errors.New("caller is not the battle admin")

	// Trade and settlement errors.
	ErrDeadlineExceeded    = errors.New("deadline exceeded")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidPaymentToken = errors.New("invalid payment token")
	ErrSlippageExceeded    = errors.New("slippage exceeded")
	ErrWinnerNotDecided    = errors.New("winner not decided")
	ErrAlreadyClaimed      = errors.New("already claimed")
	ErrNoTokensToClaim     = errors.New("no tokens to claim")
	ErrReentrantCall       = errors.New("reentrant call")
)
