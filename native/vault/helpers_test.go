package vault

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/events"
	"yieldvault/storage"
)

var (
	baseAsset = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	tokenA    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenB    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	assetX    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	nativeETH = common.Address{}

	alice = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob   = common.HexToAddress("0x2000000000000000000000000000000000000002")
	carol = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

type harness struct {
	t        *testing.T
	db       *storage.MemDB
	engine   *Engine
	swap     *SimulatedSwap
	staking  *SimulatedStaking
	recorder *events.Recorder
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.PoolID = 7
	cfg.BaseAsset = baseAsset.Hex()
	cfg.RewardTokens = []string{tokenA.Hex(), tokenB.Hex()}
	cfg.InitialAssets = []string{baseAsset.Hex()}
	return cfg
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithConfig(t, testConfig())
}

func newHarnessWithConfig(t *testing.T, cfg Config) *harness {
	t.Helper()
	db := storage.NewMemDB()
	swap := NewSimulatedSwap()
	staking := NewSimulatedStaking()
	engine, err := NewEngine(db, cfg, swap, staking)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	return &harness{t: t, db: db, engine: engine, swap: swap, staking: staking, recorder: recorder}
}

func (h *harness) fund(account, asset common.Address, amount int64) {
	h.t.Helper()
	if err := h.engine.Fund(context.Background(), account, asset, big.NewInt(amount)); err != nil {
		h.t.Fatalf("fund: %v", err)
	}
}

func (h *harness) deposit(user common.Address, amount int64) *DepositResult {
	h.t.Helper()
	h.fund(user, baseAsset, amount)
	res, err := h.engine.Deposit(context.Background(), user, baseAsset, big.NewInt(amount))
	if err != nil {
		h.t.Fatalf("deposit: %v", err)
	}
	return res
}

func (h *harness) harvest(a, b int64) *HarvestResult {
	h.t.Helper()
	h.staking.Accrue(big.NewInt(a), big.NewInt(b))
	res, err := h.engine.Harvest(context.Background())
	if err != nil {
		h.t.Fatalf("harvest: %v", err)
	}
	return res
}

func (h *harness) shares(user common.Address) *big.Int {
	h.t.Helper()
	shares, err := h.engine.Shares(user)
	if err != nil {
		h.t.Fatalf("shares: %v", err)
	}
	return shares
}

func (h *harness) pending(user common.Address) Amounts {
	h.t.Helper()
	pending, err := h.engine.Pending(user)
	if err != nil {
		h.t.Fatalf("pending: %v", err)
	}
	return pending
}

func (h *harness) balance(account, asset common.Address) *big.Int {
	h.t.Helper()
	balance, err := h.engine.Balance(account, asset)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return balance
}

func (h *harness) staked() *big.Int {
	h.t.Helper()
	staked, err := h.staking.Staked(context.Background())
	if err != nil {
		h.t.Fatalf("staked: %v", err)
	}
	return staked
}

// dump copies every key/value so tests can assert a failed operation left the
// store untouched.
func (h *harness) dump() map[string][]byte {
	out := make(map[string][]byte)
	for _, key := range h.db.Keys() {
		value, err := h.db.Get([]byte(key))
		if err != nil {
			h.t.Fatalf("dump %q: %v", key, err)
		}
		out[key] = value
	}
	return out
}

func (h *harness) requireUnchanged(before map[string][]byte) {
	h.t.Helper()
	after := h.dump()
	if len(after) != len(before) {
		h.t.Fatalf("expected %d keys, got %d", len(before), len(after))
	}
	for key, value := range before {
		if !bytes.Equal(after[key], value) {
			h.t.Fatalf("key %q changed", key)
		}
	}
}

func requireBig(t *testing.T, name string, got *big.Int, want int64) {
	t.Helper()
	if got == nil || got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s: expected %d, got %v", name, want, got)
	}
}
