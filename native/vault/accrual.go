package vault

import "math/big"

// pendingRewards returns shares*acc/RewardScale - debt per token, clamped at
// zero.
func pendingRewards(pool *Pool, user *UserInfo) Amounts {
	out := ZeroAmounts()
	if user == nil || user.Shares == nil || user.Shares.Sign() == 0 {
		return out
	}
	for i := range out {
		accrued := accumulated(user.Shares, pool.AccRewardPerShare[i])
		if debt := user.RewardDebt[i]; debt != nil {
			accrued.Sub(accrued, debt)
		}
		if accrued.Sign() > 0 {
			out[i] = accrued
		}
	}
	return out
}

// settle returns what the user is owed at the current accumulators. It must
// run before the share count changes; snapshot runs after.
func settle(pool *Pool, user *UserInfo) Amounts {
	return pendingRewards(pool, user)
}

// snapshot sets the reward debt from the user's current share count. The debt
// rounds up and pending rounds down, so a settlement never pays the fraction
// of a unit that the floor in the next settlement would hand out again.
func snapshot(pool *Pool, user *UserInfo) {
	for i := range user.RewardDebt {
		user.RewardDebt[i] = accumulatedUp(user.Shares, pool.AccRewardPerShare[i])
	}
}

type harvestSplit struct {
	credited  Amounts
	held      Amounts
	discarded Amounts
}

// applyHarvest folds amounts into the accumulators. With no shares outstanding
// nothing is divided: the hold policy parks the amounts and the discard policy
// records them as dropped. Parked amounts are released by the next harvest
// that finds shares.
func applyHarvest(pool *Pool, amounts Amounts, policy HarvestPolicy) harvestSplit {
	split := harvestSplit{credited: ZeroAmounts(), held: ZeroAmounts(), discarded: ZeroAmounts()}
	for i := range amounts {
		amount := copyBig(amounts[i])
		if pool.TotalShares.Sign() == 0 {
			if amount.Sign() == 0 {
				continue
			}
			if policy == HarvestDiscard {
				pool.DiscardedRewards[i] = new(big.Int).Add(pool.DiscardedRewards[i], amount)
				split.discarded[i] = amount
			} else {
				pool.HeldRewards[i] = new(big.Int).Add(pool.HeldRewards[i], amount)
				split.held[i] = amount
			}
			continue
		}
		amount.Add(amount, pool.HeldRewards[i])
		pool.HeldRewards[i] = big.NewInt(0)
		if amount.Sign() == 0 {
			continue
		}
		pool.AccRewardPerShare[i] = new(big.Int).Add(pool.AccRewardPerShare[i], accIncrement(amount, pool.TotalShares))
		split.credited[i] = amount
	}
	return split
}
