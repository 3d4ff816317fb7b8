package vault

import (
	"math/big"
	"testing"
)

func TestApplyHarvestIncreasesAccumulator(t *testing.T) {
	pool := newPool()
	pool.TotalShares = big.NewInt(10_000)
	split := applyHarvest(pool, NewAmounts(big.NewInt(100), big.NewInt(7)), HarvestHold)

	requireBig(t, "credited0", split.credited[RewardA], 100)
	requireBig(t, "credited1", split.credited[RewardB], 7)
	// 100 * 1e18 / 10_000
	want := new(big.Int).Div(RewardScale(), big.NewInt(100))
	if pool.AccRewardPerShare[RewardA].Cmp(want) != 0 {
		t.Fatalf("expected acc %s, got %s", want, pool.AccRewardPerShare[RewardA])
	}
}

func TestApplyHarvestWithoutSharesHolds(t *testing.T) {
	pool := newPool()
	split := applyHarvest(pool, NewAmounts(big.NewInt(40), big.NewInt(4)), HarvestHold)
	if !pool.AccRewardPerShare.IsZero() {
		t.Fatalf("accumulator must not move without shares")
	}
	requireBig(t, "held0", split.held[RewardA], 40)
	requireBig(t, "pool held1", pool.HeldRewards[RewardB], 4)

	pool.TotalShares = big.NewInt(8)
	split = applyHarvest(pool, ZeroAmounts(), HarvestHold)
	requireBig(t, "released0", split.credited[RewardA], 40)
	requireBig(t, "released1", split.credited[RewardB], 4)
	if !pool.HeldRewards.IsZero() {
		t.Fatalf("held rewards must be released, got %v", pool.HeldRewards)
	}
	requireBig(t, "acc0", pool.AccRewardPerShare[RewardA], 5*RewardScale().Int64())
}

func TestApplyHarvestWithoutSharesDiscards(t *testing.T) {
	pool := newPool()
	split := applyHarvest(pool, NewAmounts(big.NewInt(40), big.NewInt(0)), HarvestDiscard)
	requireBig(t, "discarded0", split.discarded[RewardA], 40)
	requireBig(t, "pool discarded0", pool.DiscardedRewards[RewardA], 40)
	if !pool.HeldRewards.IsZero() || !pool.AccRewardPerShare.IsZero() {
		t.Fatalf("discard must not hold or credit rewards")
	}
}

func TestSettleAndSnapshot(t *testing.T) {
	pool := newPool()
	user := newUserInfo(alice)
	user.Shares = big.NewInt(250)
	pool.TotalShares = big.NewInt(1000)
	snapshot(pool, user)

	applyHarvest(pool, NewAmounts(big.NewInt(400), big.NewInt(1000)), HarvestHold)
	pending := settle(pool, user)
	requireBig(t, "pending0", pending[RewardA], 100)
	requireBig(t, "pending1", pending[RewardB], 250)

	// Share change after settlement: new debt covers the new share count.
	user.Shares = big.NewInt(500)
	pool.TotalShares = big.NewInt(1250)
	snapshot(pool, user)
	if !pendingRewards(pool, user).IsZero() {
		t.Fatalf("expected nothing pending after snapshot")
	}
}

func TestPendingNeverNegative(t *testing.T) {
	pool := newPool()
	user := newUserInfo(alice)
	user.Shares = big.NewInt(1)
	user.RewardDebt = NewAmounts(big.NewInt(5), big.NewInt(5))
	if !pendingRewards(pool, user).IsZero() {
		t.Fatalf("pending must clamp at zero")
	}
}

func TestSnapshotRoundsDebtUp(t *testing.T) {
	half := new(big.Int).Div(RewardScale(), big.NewInt(2))
	pool := newPool()
	pool.TotalShares = big.NewInt(3)
	pool.AccRewardPerShare = NewAmounts(half, half)
	user := newUserInfo(alice)
	user.Shares = big.NewInt(3)
	snapshot(pool, user)
	// 3 shares at 0.5 per share is 1.5; the debt keeps the half unit.
	requireBig(t, "debt", user.RewardDebt[RewardA], 2)

	pool.AccRewardPerShare = NewAmounts(RewardScale(), RewardScale())
	// Earned 1.5 since the snapshot, only whole units are paid.
	requireBig(t, "pending", pendingRewards(pool, user)[RewardA], 1)
}
