package vault

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"yieldvault/storage"
)

// engineState is the persistence surface the engine drives. Every operation
// receives a state bound to its own journal.
type engineState interface {
	GetPool() (*Pool, error)
	PutPool(pool *Pool) error
	GetUser(addr common.Address) (*UserInfo, error)
	PutUser(user *UserInfo) error
	GetBalance(account, asset common.Address) (*big.Int, error)
	PutBalance(account, asset common.Address, amount *big.Int) error
	IsAccepted(asset common.Address) (bool, error)
	SetAccepted(asset common.Address, accepted bool) error
	ListAssets() ([]common.Address, error)
}

type storedPool struct {
	TotalShares *big.Int
	Acc         []*big.Int
	Held        []*big.Int
	Discarded   []*big.Int
	LastHarvest uint64
	Epoch       uint64
}

type storedUser struct {
	Shares     *big.Int
	RewardDebt []*big.Int
}

// kvState persists vault records as RLP under pool-scoped keys.
type kvState struct {
	kv     storage.KV
	poolID uint64
}

func newKVState(kv storage.KV, poolID uint64) *kvState {
	return &kvState{kv: kv, poolID: poolID}
}

func (s *kvState) get(key []byte, out interface{}) (bool, error) {
	data, err := s.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *kvState) put(key []byte, value interface{}) error {
	data, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Put(key, data)
}

// GetPool returns the pool record or nil when it was never written.
func (s *kvState) GetPool() (*Pool, error) {
	var stored storedPool
	ok, err := s.get(poolKey(s.poolID), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &Pool{
		TotalShares:       copyBig(stored.TotalShares),
		AccRewardPerShare: amountsFromSlice(stored.Acc),
		HeldRewards:       amountsFromSlice(stored.Held),
		DiscardedRewards:  amountsFromSlice(stored.Discarded),
		LastHarvest:       stored.LastHarvest,
		Epoch:             stored.Epoch,
	}, nil
}

func (s *kvState) PutPool(pool *Pool) error {
	if pool == nil {
		return fmt.Errorf("vault state: nil pool")
	}
	return s.put(poolKey(s.poolID), storedPool{
		TotalShares: copyBig(pool.TotalShares),
		Acc:         amountsToSlice(pool.AccRewardPerShare),
		Held:        amountsToSlice(pool.HeldRewards),
		Discarded:   amountsToSlice(pool.DiscardedRewards),
		LastHarvest: pool.LastHarvest,
		Epoch:       pool.Epoch,
	})
}

// GetUser returns the user record or nil when the address never deposited.
func (s *kvState) GetUser(addr common.Address) (*UserInfo, error) {
	var stored storedUser
	ok, err := s.get(userKey(s.poolID, addr), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &UserInfo{
		Address:    addr,
		Shares:     copyBig(stored.Shares),
		RewardDebt: amountsFromSlice(stored.RewardDebt),
	}, nil
}

func (s *kvState) PutUser(user *UserInfo) error {
	if user == nil {
		return fmt.Errorf("vault state: nil user")
	}
	return s.put(userKey(s.poolID, user.Address), storedUser{
		Shares:     copyBig(user.Shares),
		RewardDebt: amountsToSlice(user.RewardDebt),
	})
}

func (s *kvState) GetBalance(account, asset common.Address) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := s.get(balanceKey(s.poolID, account, asset), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func (s *kvState) PutBalance(account, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return s.kv.Delete(balanceKey(s.poolID, account, asset))
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("vault state: negative balance for %s", account.Hex())
	}
	return s.put(balanceKey(s.poolID, account, asset), amount)
}

func (s *kvState) IsAccepted(asset common.Address) (bool, error) {
	return s.kv.Has(assetKey(s.poolID, asset))
}

// SetAccepted toggles registry membership and keeps the sorted asset index in
// sync.
func (s *kvState) SetAccepted(asset common.Address, accepted bool) error {
	assets, err := s.ListAssets()
	if err != nil {
		return err
	}
	idx := sort.Search(len(assets), func(i int) bool {
		return bytes.Compare(assets[i].Bytes(), asset.Bytes()) >= 0
	})
	present := idx < len(assets) && assets[idx] == asset
	switch {
	case accepted && !present:
		assets = append(assets, common.Address{})
		copy(assets[idx+1:], assets[idx:])
		assets[idx] = asset
		if err := s.kv.Put(assetKey(s.poolID, asset), []byte{1}); err != nil {
			return err
		}
	case !accepted && present:
		assets = append(assets[:idx], assets[idx+1:]...)
		if err := s.kv.Delete(assetKey(s.poolID, asset)); err != nil {
			return err
		}
	default:
		return nil
	}
	return s.put(assetIndexKey(s.poolID), assets)
}

func (s *kvState) ListAssets() ([]common.Address, error) {
	var assets []common.Address
	if _, err := s.get(assetIndexKey(s.poolID), &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

func amountsToSlice(a Amounts) []*big.Int {
	out := make([]*big.Int, RewardTokenCount)
	for i := range a {
		out[i] = copyBig(a[i])
	}
	return out
}

func amountsFromSlice(values []*big.Int) Amounts {
	out := ZeroAmounts()
	for i := 0; i < RewardTokenCount && i < len(values); i++ {
		out[i] = copyBig(values[i])
	}
	return out
}
