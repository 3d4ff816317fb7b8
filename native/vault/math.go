package vault

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var rewardScale = mustBigInt("1000000000000000000") // 1e18 accumulator precision

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// RewardScale returns the fixed-point scale applied to AccRewardPerShare.
func RewardScale() *big.Int {
	return new(big.Int).Set(rewardScale)
}

// checkAmount rejects nil, non-positive and >256-bit amounts.
func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("%w: exceeds 256 bits", ErrInvalidAmount)
	}
	return nil
}

// mulDiv returns floor(a*b/c). A zero or nil divisor yields zero.
func mulDiv(a, b, c *big.Int) *big.Int {
	if a == nil || b == nil || c == nil || c.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, c)
}

// mulDivUp returns ceil(a*b/c) for non-negative operands. A zero or nil
// divisor yields zero.
func mulDivUp(a, b, c *big.Int) *big.Int {
	if a == nil || b == nil || c == nil || c.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(product, c, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// SharesForDeposit converts a base amount into shares: 1:1 while no shares
// exist, otherwise proportional to the pooled position. Rounds down.
func SharesForDeposit(baseAmount, totalShares, totalBaseHeld *big.Int) *big.Int {
	if baseAmount == nil || baseAmount.Sign() <= 0 {
		return big.NewInt(0)
	}
	if totalShares == nil || totalShares.Sign() == 0 {
		return new(big.Int).Set(baseAmount)
	}
	return mulDiv(baseAmount, totalShares, totalBaseHeld)
}

// BaseForShares converts shares back into the base amount they represent.
// Rounds down so no fractional base unit is ever owed.
func BaseForShares(shares, totalShares, totalBaseHeld *big.Int) *big.Int {
	if shares == nil || shares.Sign() <= 0 {
		return big.NewInt(0)
	}
	return mulDiv(shares, totalBaseHeld, totalShares)
}

// accumulated returns shares*acc/RewardScale.
func accumulated(shares, acc *big.Int) *big.Int {
	return mulDiv(shares, acc, rewardScale)
}

// accumulatedUp returns shares*acc/RewardScale rounded up. Reward debt uses it
// so floor(accrued) - debt never exceeds what the shares earned.
func accumulatedUp(shares, acc *big.Int) *big.Int {
	return mulDivUp(shares, acc, rewardScale)
}

// accIncrement returns amount*RewardScale/totalShares.
func accIncrement(amount, totalShares *big.Int) *big.Int {
	return mulDiv(amount, rewardScale, totalShares)
}
