package vault

import (
	"context"
	"math/big"

	"yieldvault/core/events"
)

// Harvest pulls the rewards earned by the staked position and folds them into
// the accumulators. A harvest that finds no shares is not an error: the
// rewards are held or discarded according to the configured policy.
func (e *Engine) Harvest(ctx context.Context) (*HarvestResult, error) {
	var result *HarvestResult
	err := e.run(ctx, "harvest", true, func(tx *txn) error {
		claimed, err := e.staker.Claim(tx.ctx)
		if err != nil {
			return stakingError(err)
		}
		claimed = claimed.Clone()
		// Claimed rewards cannot be handed back to the staking target, so a
		// failed commit leaves them in the operator account unaccounted.
		tx.onRollback(func(context.Context) error {
			e.logger.Error("vault harvest rolled back after claim",
				"amount0", claimed[RewardA].String(),
				"amount1", claimed[RewardB].String())
			return nil
		})
		for i, amount := range claimed {
			if amount.Sign() < 0 {
				claimed[i] = big.NewInt(0)
				continue
			}
			if err := tx.credit(e.info.Module, e.info.RewardTokens[i], amount); err != nil {
				return err
			}
		}
		split := applyHarvest(tx.pool, claimed, e.policy)
		now := e.clock()
		if ts := now.Unix(); ts > 0 {
			tx.pool.LastHarvest = uint64(ts)
		}
		result = &HarvestResult{
			Harvested:         claimed,
			Credited:          split.credited,
			Held:              split.held,
			Discarded:         split.discarded,
			AccRewardPerShare: tx.pool.AccRewardPerShare.Clone(),
		}
		if claimed.IsZero() && split.credited.IsZero() {
			return nil
		}
		tx.emit(events.VaultHarvested{
			PoolID:    e.info.PoolID,
			Tokens:    e.info.RewardTokens,
			Amounts:   claimed.Clone(),
			Held:      split.held,
			Discarded: split.discarded,
			Timestamp: tx.pool.LastHarvest,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e.obs != nil {
		e.obs.Harvest(e.info.RewardTokens, result.Harvested)
	}
	e.logger.Info("vault harvested",
		"amount0", result.Harvested[RewardA].String(),
		"amount1", result.Harvested[RewardB].String(),
		"held0", result.Held[RewardA].String(),
		"held1", result.Held[RewardB].String())
	return result, nil
}
