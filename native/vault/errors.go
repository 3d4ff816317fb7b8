package vault

import (
	"errors"

	nativecommon "yieldvault/native/common"
)

var (
	// ErrInvalidAsset is returned when depositing an asset missing from the
	// registry.
	ErrInvalidAsset = errors.New("vault: invalid asset")
	// ErrInvalidAmount is returned for zero, negative or malformed amounts.
	ErrInvalidAmount = errors.New("vault: invalid amount")
	// ErrInsufficientShares is returned when a withdrawal exceeds the
	// caller's share balance.
	ErrInsufficientShares = errors.New("vault: insufficient shares")
	// ErrInsufficientBalance is returned when a custody balance cannot cover a
	// debit.
	ErrInsufficientBalance = errors.New("vault: insufficient balance")
	// ErrConversionFailed wraps failures of the swap collaborator.
	ErrConversionFailed = errors.New("vault: conversion failed")
	// ErrStakingUnavailable wraps failures of the staking collaborator.
	ErrStakingUnavailable = errors.New("vault: staking unavailable")
	// ErrReentrantCall is returned when a collaborator re-enters the engine
	// while an operation is in flight.
	ErrReentrantCall = errors.New("vault: reentrant call")
	// ErrEngineBusy is returned when another operation held the engine for
	// longer than the caller was willing to wait.
	ErrEngineBusy = errors.New("vault: engine busy")
	// ErrRebaseWithShares is returned when a rebase is requested while shares
	// are outstanding.
	ErrRebaseWithShares = errors.New("vault: rebase requires zero total shares")
	// ErrNilState is returned when the engine has no backing store.
	ErrNilState = errors.New("vault: state not configured")
)

// ErrorCode maps an engine error to a stable machine readable code used by
// metrics labels and API responses.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidAsset):
		return "invalid_asset"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrConversionFailed):
		return "conversion_failed"
	case errors.Is(err, ErrStakingUnavailable):
		return "staking_unavailable"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant_call"
	case errors.Is(err, ErrEngineBusy):
		return "engine_busy"
	case errors.Is(err, ErrRebaseWithShares):
		return "rebase_with_shares"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	default:
		return "internal"
	}
}
