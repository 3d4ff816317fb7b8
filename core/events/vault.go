package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/types"
)

const (
	// TypeVaultDeposit is emitted once a deposit has minted shares.
	TypeVaultDeposit = "vault.deposit"
	// TypeVaultWithdraw is emitted once shares have been burned and the
	// redeemed value paid out.
	TypeVaultWithdraw = "vault.withdraw"
	// TypeVaultClaimed is emitted per reward token paid to a depositor.
	TypeVaultClaimed = "vault.claimed"
	// TypeVaultHarvested is emitted when external rewards are folded into
	// the accumulators.
	TypeVaultHarvested = "vault.harvested"
	// TypeVaultAssetAdded is emitted when an asset becomes depositable.
	TypeVaultAssetAdded = "vault.assetAdded"
	// TypeVaultAssetRemoved is emitted when an asset stops being depositable.
	TypeVaultAssetRemoved = "vault.assetRemoved"
)

// VaultDeposit captures a completed deposit. Asset is nil when the vault runs
// without asset tracking, which yields the (user, amount) form.
type VaultDeposit struct {
	PoolID uint64
	User   common.Address
	Asset  *common.Address
	Amount *big.Int
	Shares *big.Int
}

// EventType satisfies the Event interface.
func (VaultDeposit) EventType() string { return TypeVaultDeposit }

// Event converts the structured payload into a broadcastable event.
func (e VaultDeposit) Event() *types.Event {
	attrs := map[string]string{
		"pool":   strconv.FormatUint(e.PoolID, 10),
		"user":   formatAddress(e.User),
		"amount": formatAmount(e.Amount),
	}
	if e.Asset != nil {
		attrs["asset"] = formatAddress(*e.Asset)
	}
	if e.Shares != nil {
		attrs["shares"] = formatAmount(e.Shares)
	}
	return &types.Event{Type: TypeVaultDeposit, Attributes: attrs}
}

// VaultWithdraw captures burned shares and the payout they produced.
type VaultWithdraw struct {
	PoolID uint64
	User   common.Address
	Shares *big.Int
	Asset  common.Address
	Amount *big.Int
}

// EventType satisfies the Event interface.
func (VaultWithdraw) EventType() string { return TypeVaultWithdraw }

// Event converts the structured payload into a broadcastable event.
func (e VaultWithdraw) Event() *types.Event {
	attrs := map[string]string{
		"pool":   strconv.FormatUint(e.PoolID, 10),
		"user":   formatAddress(e.User),
		"shares": formatAmount(e.Shares),
		"asset":  formatAddress(e.Asset),
	}
	if e.Amount != nil {
		attrs["amount"] = formatAmount(e.Amount)
	}
	return &types.Event{Type: TypeVaultWithdraw, Attributes: attrs}
}

// VaultClaimed captures a single reward token settlement. Amount is the raw
// reward owed; Payout is what the user received in PayoutAsset (equal to
// Amount when no conversion happened).
type VaultClaimed struct {
	PoolID      uint64
	User        common.Address
	Token       common.Address
	Amount      *big.Int
	PayoutAsset common.Address
	Payout      *big.Int
}

// EventType satisfies the Event interface.
func (VaultClaimed) EventType() string { return TypeVaultClaimed }

// Event converts the structured payload into a broadcastable event.
func (e VaultClaimed) Event() *types.Event {
	attrs := map[string]string{
		"pool":   strconv.FormatUint(e.PoolID, 10),
		"user":   formatAddress(e.User),
		"token":  formatAddress(e.Token),
		"amount": formatAmount(e.Amount),
	}
	if e.Payout != nil && e.PayoutAsset != e.Token {
		attrs["payoutAsset"] = formatAddress(e.PayoutAsset)
		attrs["payout"] = formatAmount(e.Payout)
	}
	return &types.Event{Type: TypeVaultClaimed, Attributes: attrs}
}

// VaultHarvested captures rewards pulled from the staking protocol. Held
// reports amounts parked because no shares existed at harvest time.
type VaultHarvested struct {
	PoolID    uint64
	Tokens    [2]common.Address
	Amounts   [2]*big.Int
	Held      [2]*big.Int
	Discarded [2]*big.Int
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (VaultHarvested) EventType() string { return TypeVaultHarvested }

// Event converts the structured payload into a broadcastable event.
func (e VaultHarvested) Event() *types.Event {
	attrs := map[string]string{
		"pool": strconv.FormatUint(e.PoolID, 10),
	}
	for i := range e.Tokens {
		idx := strconv.Itoa(i)
		if !zeroAddress(e.Tokens[i]) {
			attrs["token"+idx] = formatAddress(e.Tokens[i])
		}
		attrs["amount"+idx] = formatAmount(e.Amounts[i])
		if e.Held[i] != nil && e.Held[i].Sign() > 0 {
			attrs["held"+idx] = formatAmount(e.Held[i])
		}
		if e.Discarded[i] != nil && e.Discarded[i].Sign() > 0 {
			attrs["discarded"+idx] = formatAmount(e.Discarded[i])
		}
	}
	if e.Timestamp > 0 {
		attrs["timestamp"] = strconv.FormatUint(e.Timestamp, 10)
	}
	return &types.Event{Type: TypeVaultHarvested, Attributes: attrs}
}

// VaultAssetUpdated captures a registry change.
type VaultAssetUpdated struct {
	PoolID   uint64
	Asset    common.Address
	Accepted bool
}

// EventType satisfies the Event interface.
func (e VaultAssetUpdated) EventType() string {
	if e.Accepted {
		return TypeVaultAssetAdded
	}
	return TypeVaultAssetRemoved
}

// Event converts the structured payload into a broadcastable event.
func (e VaultAssetUpdated) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"pool":  strconv.FormatUint(e.PoolID, 10),
		"asset": formatAddress(e.Asset),
	}}
}
