package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	nativecommon "yieldvault/native/common"
)

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		nil:                                 "ok",
		ErrInvalidAsset:                     "invalid_asset",
		fmt.Errorf("x: %w", ErrInvalidAmount): "invalid_amount",
		ErrInsufficientShares:               "insufficient_shares",
		ErrInsufficientBalance:              "insufficient_balance",
		conversionError(errors.New("boom")): "conversion_failed",
		stakingError(errors.New("boom")):    "staking_unavailable",
		ErrReentrantCall:                    "reentrant_call",
		ErrRebaseWithShares:                 "rebase_with_shares",
		ErrEngineBusy:                       "engine_busy",
		nativecommon.ErrModulePaused:        "paused",
		errors.New("disk on fire"):          "internal",
	}
	for err, want := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestCollaboratorErrorsKeepReentrancy(t *testing.T) {
	if err := conversionError(ErrReentrantCall); !errors.Is(err, ErrReentrantCall) || errors.Is(err, ErrConversionFailed) {
		t.Fatalf("reentrancy must surface unchanged, got %v", err)
	}
	if err := stakingError(ErrReentrantCall); !errors.Is(err, ErrReentrantCall) || errors.Is(err, ErrStakingUnavailable) {
		t.Fatalf("reentrancy must surface unchanged, got %v", err)
	}
}

func TestSimulatedSwapRates(t *testing.T) {
	swap := NewSimulatedSwap()
	ctx := context.Background()
	out, err := swap.Convert(ctx, assetX, big.NewInt(10), baseAsset)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	requireBig(t, "default rate", out, 10)
	swap.SetRate(assetX, baseAsset, 3, 4)
	out, _ = swap.Convert(ctx, assetX, big.NewInt(10), baseAsset)
	requireBig(t, "3/4 rate", out, 7)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := swap.Convert(cancelled, assetX, big.NewInt(10), baseAsset); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if swap.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", swap.Calls())
	}
}

func TestSimulatedStakingLifecycle(t *testing.T) {
	staking := NewSimulatedStaking()
	ctx := context.Background()
	if err := staking.Stake(ctx, big.NewInt(10)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, err := staking.Unstake(ctx, big.NewInt(11)); err == nil {
		t.Fatalf("expected unstake beyond balance to fail")
	}
	staking.SetDrip(big.NewInt(1), big.NewInt(2))
	staking.Accrue(big.NewInt(5), big.NewInt(0))
	claimed, err := staking.Claim(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	requireBig(t, "claimed0", claimed[RewardA], 6)
	requireBig(t, "claimed1", claimed[RewardB], 2)
	harvestable, _ := staking.Harvestable(ctx)
	if !harvestable.IsZero() {
		t.Fatalf("expected claim to drain earned rewards")
	}
}
