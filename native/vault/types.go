package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RewardTokenCount is the number of independently accruing reward streams.
const RewardTokenCount = 2

// Reward stream indexes.
const (
	RewardA = 0
	RewardB = 1
)

// Amounts carries one value per reward token.
type Amounts [RewardTokenCount]*big.Int

// ZeroAmounts returns an Amounts with every slot set to zero.
func ZeroAmounts() Amounts {
	var out Amounts
	for i := range out {
		out[i] = big.NewInt(0)
	}
	return out
}

// NewAmounts builds an Amounts from two values. Nil values become zero.
func NewAmounts(a, b *big.Int) Amounts {
	return Amounts{copyBig(a), copyBig(b)}
}

// Clone returns a deep copy with nil slots normalised to zero.
func (a Amounts) Clone() Amounts {
	var out Amounts
	for i := range a {
		out[i] = copyBig(a[i])
	}
	return out
}

// IsZero reports whether every slot is zero or nil.
func (a Amounts) IsZero() bool {
	for i := range a {
		if a[i] != nil && a[i].Sign() != 0 {
			return false
		}
	}
	return true
}

// Add returns the slot-wise sum.
func (a Amounts) Add(b Amounts) Amounts {
	out := a.Clone()
	for i := range out {
		if b[i] != nil {
			out[i].Add(out[i], b[i])
		}
	}
	return out
}

// Pool captures the global accounting state of a vault. TotalShares is the
// sum of every user's share balance. AccRewardPerShare is scaled by
// RewardScale and only ever grows, except through an explicit rebase while no
// shares exist.
type Pool struct {
	TotalShares       *big.Int
	AccRewardPerShare Amounts
	// HeldRewards parks rewards harvested while TotalShares was zero under the
	// hold policy. They are folded into the accumulators by the next harvest
	// that finds shares.
	HeldRewards Amounts
	// DiscardedRewards totals rewards dropped under the discard policy.
	DiscardedRewards Amounts
	// LastHarvest is the unix time of the last harvest. Accrual never reads
	// it.
	LastHarvest uint64
	// Epoch counts rebases.
	Epoch uint64
}

func newPool() *Pool {
	return &Pool{
		TotalShares:       big.NewInt(0),
		AccRewardPerShare: ZeroAmounts(),
		HeldRewards:       ZeroAmounts(),
		DiscardedRewards:  ZeroAmounts(),
	}
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	return &Pool{
		TotalShares:       copyBig(p.TotalShares),
		AccRewardPerShare: p.AccRewardPerShare.Clone(),
		HeldRewards:       p.HeldRewards.Clone(),
		DiscardedRewards:  p.DiscardedRewards.Clone(),
		LastHarvest:       p.LastHarvest,
		Epoch:             p.Epoch,
	}
}

// UserInfo maintains the vault position of a single depositor. RewardDebt is
// the per-token snapshot of Shares*AccRewardPerShare/RewardScale taken at the
// last settlement.
type UserInfo struct {
	Address    common.Address
	Shares     *big.Int
	RewardDebt Amounts
}

func newUserInfo(addr common.Address) *UserInfo {
	return &UserInfo{Address: addr, Shares: big.NewInt(0), RewardDebt: ZeroAmounts()}
}

// Clone returns a deep copy of the user record.
func (u *UserInfo) Clone() *UserInfo {
	if u == nil {
		return nil
	}
	return &UserInfo{Address: u.Address, Shares: copyBig(u.Shares), RewardDebt: u.RewardDebt.Clone()}
}

// PoolInfo describes the external position the vault manages.
type PoolInfo struct {
	Name         string
	PoolID       uint64
	AllocPoint   uint64
	LPToken      common.Address
	BaseAsset    common.Address
	RewardTokens [RewardTokenCount]common.Address
	Module       common.Address
}

// DepositResult summarises a completed deposit.
type DepositResult struct {
	BaseAmount *big.Int
	Shares     *big.Int
	NewShares  *big.Int
	Rewards    []RewardPayout
}

// WithdrawResult summarises a completed withdrawal.
type WithdrawResult struct {
	BaseAmount *big.Int
	Amount     *big.Int
	NewShares  *big.Int
	Rewards    []RewardPayout
}

// RewardPayout describes one reward token settled to a user.
type RewardPayout struct {
	Token       common.Address
	Amount      *big.Int
	PayoutAsset common.Address
	Payout      *big.Int
}

// ClaimResult lists the reward payouts of a claim. An empty list means
// nothing was pending.
type ClaimResult struct {
	Rewards []RewardPayout
}

// HarvestResult summarises a harvest.
type HarvestResult struct {
	Harvested Amounts
	Credited  Amounts
	Held      Amounts
	Discarded Amounts
	// AccRewardPerShare is the accumulator after the harvest.
	AccRewardPerShare Amounts
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
