package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Swapper converts an amount of one asset into another. Implementations
// should fail rather than return a partial fill.
type Swapper interface {
	Convert(ctx context.Context, from common.Address, amount *big.Int, to common.Address) (*big.Int, error)
}

// Staker is the external position the vault stakes its base asset with.
// Harvestable reports rewards earned but not yet pulled; Claim pulls them and
// returns what was received.
type Staker interface {
	Stake(ctx context.Context, amount *big.Int) error
	Unstake(ctx context.Context, amount *big.Int) (*big.Int, error)
	Harvestable(ctx context.Context) (Amounts, error)
	Claim(ctx context.Context) (Amounts, error)
	Staked(ctx context.Context) (*big.Int, error)
}

// Observer receives operation outcomes and pool snapshots after commit.
type Observer interface {
	Operation(op, code string, elapsed time.Duration)
	Pool(totalShares *big.Int, acc [RewardTokenCount]*big.Int)
	Harvest(tokens [RewardTokenCount]common.Address, amounts [RewardTokenCount]*big.Int)
}

func conversionError(err error) error {
	if errors.Is(err, ErrConversionFailed) || errors.Is(err, ErrReentrantCall) || errors.Is(err, ErrEngineBusy) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrConversionFailed, err)
}

func stakingError(err error) error {
	if errors.Is(err, ErrStakingUnavailable) || errors.Is(err, ErrReentrantCall) || errors.Is(err, ErrEngineBusy) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStakingUnavailable, err)
}
