package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/events"
)

// Claim pays the user's pending rewards. With convertToAsset every non-zero
// reward is converted into asset, otherwise the raw reward tokens are
// credited. Claiming with nothing pending succeeds and pays nothing.
func (e *Engine) Claim(ctx context.Context, user common.Address, convertToAsset bool, asset common.Address) (*ClaimResult, error) {
	result := &ClaimResult{}
	err := e.run(ctx, "claim", true, func(tx *txn) error {
		info, err := tx.state.GetUser(user)
		if err != nil {
			return err
		}
		if info == nil {
			return nil
		}
		pending := settle(tx.pool, info)
		snapshot(tx.pool, info)
		if err := tx.state.PutUser(info); err != nil {
			return err
		}
		payouts, err := e.payRewards(tx, user, pending, convertToAsset, asset)
		if err != nil {
			return err
		}
		result.Rewards = payouts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// payRewards moves settled rewards out of the module account. Reward tokens
// already equal to the payout asset are never sent through the swap.
func (e *Engine) payRewards(tx *txn, user common.Address, pending Amounts, convert bool, asset common.Address) ([]RewardPayout, error) {
	var payouts []RewardPayout
	module := e.info.Module
	for i, amount := range pending {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		token := e.info.RewardTokens[i]
		if err := tx.debit(module, token, amount); err != nil {
			return nil, err
		}
		payoutAsset := token
		payout := new(big.Int).Set(amount)
		if convert && asset != token {
			out, err := e.swap.Convert(tx.ctx, token, amount, asset)
			if err != nil {
				return nil, conversionError(err)
			}
			if out == nil || out.Sign() < 0 {
				return nil, fmt.Errorf("%w: invalid amount returned for %s", ErrConversionFailed, token.Hex())
			}
			payoutAsset = asset
			payout = new(big.Int).Set(out)
		}
		if err := tx.credit(user, payoutAsset, payout); err != nil {
			return nil, err
		}
		payouts = append(payouts, RewardPayout{
			Token:       token,
			Amount:      new(big.Int).Set(amount),
			PayoutAsset: payoutAsset,
			Payout:      payout,
		})
		tx.emit(events.VaultClaimed{
			PoolID:      e.info.PoolID,
			User:        user,
			Token:       token,
			Amount:      new(big.Int).Set(amount),
			PayoutAsset: payoutAsset,
			Payout:      new(big.Int).Set(payout),
		})
	}
	return payouts, nil
}
