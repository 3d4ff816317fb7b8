package vault

import (
	"fmt"
	"math/big"
)

// mint issues shares for baseAmount against the pooled position and credits
// them to user. totalBaseHeld is the position before the deposit is staked.
func mint(pool *Pool, user *UserInfo, baseAmount, totalBaseHeld *big.Int) (*big.Int, error) {
	if err := checkAmount(baseAmount); err != nil {
		return nil, err
	}
	if pool.TotalShares.Sign() > 0 && (totalBaseHeld == nil || totalBaseHeld.Sign() <= 0) {
		return nil, fmt.Errorf("%w: shares outstanding against an empty position", ErrInvalidAmount)
	}
	shares := SharesForDeposit(baseAmount, pool.TotalShares, totalBaseHeld)
	if shares.Sign() == 0 {
		return nil, fmt.Errorf("%w: deposit too small to mint a share", ErrInvalidAmount)
	}
	user.Shares = new(big.Int).Add(user.Shares, shares)
	pool.TotalShares = new(big.Int).Add(pool.TotalShares, shares)
	return shares, nil
}

// burn removes shares from user and returns the base amount they redeem,
// rounded down.
func burn(pool *Pool, user *UserInfo, shares, totalBaseHeld *big.Int) (*big.Int, error) {
	if err := checkAmount(shares); err != nil {
		return nil, err
	}
	if user.Shares.Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}
	owed := BaseForShares(shares, pool.TotalShares, totalBaseHeld)
	user.Shares = new(big.Int).Sub(user.Shares, shares)
	pool.TotalShares = new(big.Int).Sub(pool.TotalShares, shares)
	return owed, nil
}
