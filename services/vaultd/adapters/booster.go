package adapters

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"yieldvault/native/vault"
)

const boosterABIJSON = `[
 {"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_pid","type":"uint256"},{"name":"_amount","type":"uint256"},{"name":"_stake","type":"bool"}],"outputs":[{"name":"","type":"bool"}]}
]`

const rewardPoolABIJSON = `[
 {"name":"withdrawAndUnwrap","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"},{"name":"claim","type":"bool"}],"outputs":[{"name":"","type":"bool"}]},
 {"name":"getReward","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_account","type":"address"},{"name":"_claimExtras","type":"bool"}],"outputs":[{"name":"","type":"bool"}]},
 {"name":"earned","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const erc20ABIJSON = `[
 {"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	boosterABI    = mustABI(boosterABIJSON)
	rewardPoolABI = mustABI(rewardPoolABIJSON)
	erc20ABI      = mustABI(erc20ABIJSON)

	// ErrTxReverted is returned when a submitted transaction has a failed receipt.
	ErrTxReverted = errors.New("booster: transaction reverted")
	// ErrNothingUnstaked is returned when a mined withdrawal did not raise the
	// operator's LP balance.
	ErrNothingUnstaked = errors.New("booster: withdrawal returned no lp tokens")
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// EVMBackend defines the subset of the Ethereum RPC used by the booster
// adapter. *ethclient.Client satisfies it.
type EVMBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// DialEVM initialises an Ethereum RPC client for the provided endpoint.
func DialEVM(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// BoosterConfig describes the external staking position.
type BoosterConfig struct {
	Booster      common.Address
	RewardPool   common.Address
	PoolID       *big.Int
	LPToken      common.Address
	RewardTokens [vault.RewardTokenCount]common.Address
	ChainID      *big.Int
	GasLimit     uint64
	// ReceiptTimeout bounds how long a submitted transaction is polled.
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// Booster stakes the vault's base asset into a booster deposit contract and
// collects rewards from its reward pool. Reward token A is reported by the
// pool's earned view. Token B has no view and is only observed on claim.
type Booster struct {
	backend EVMBackend
	cfg     BoosterConfig
	key     *ecdsa.PrivateKey
	account common.Address

	mu sync.Mutex
}

var _ vault.Staker = (*Booster)(nil)

// NewBooster validates the configuration and parses the operator key.
func NewBooster(backend EVMBackend, cfg BoosterConfig, privateKeyHex string) (*Booster, error) {
	if backend == nil {
		return nil, fmt.Errorf("booster: backend required")
	}
	if (cfg.Booster == common.Address{}) || (cfg.RewardPool == common.Address{}) || (cfg.LPToken == common.Address{}) {
		return nil, fmt.Errorf("booster: booster, reward pool and lp token addresses required")
	}
	if cfg.PoolID == nil || cfg.PoolID.Sign() < 0 {
		return nil, fmt.Errorf("booster: pool id required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("booster: chain id required")
	}
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("booster: parse private key: %w", err)
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 600_000
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Booster{
		backend: backend,
		cfg:     cfg,
		key:     key,
		account: gethcrypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Account returns the operator address that owns the staked position.
func (b *Booster) Account() common.Address { return b.account }

// Stake approves the booster and deposits amount with staking enabled.
func (b *Booster) Stake(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("booster: stake amount must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	approve, err := erc20ABI.Pack("approve", b.cfg.Booster, amount)
	if err != nil {
		return err
	}
	if err := b.transact(ctx, b.cfg.LPToken, approve); err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	deposit, err := boosterABI.Pack("deposit", b.cfg.PoolID, amount, true)
	if err != nil {
		return err
	}
	if err := b.transact(ctx, b.cfg.Booster, deposit); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

// Unstake withdraws and unwraps amount of the staked position without
// claiming rewards.
func (b *Booster) Unstake(ctx context.Context, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("booster: unstake amount must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	before, err := b.erc20Balance(ctx, b.cfg.LPToken)
	if err != nil {
		return nil, err
	}
	data, err := rewardPoolABI.Pack("withdrawAndUnwrap", amount, false)
	if err != nil {
		return nil, err
	}
	if err := b.transact(ctx, b.cfg.RewardPool, data); err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	after, err := b.erc20Balance(ctx, b.cfg.LPToken)
	if err != nil {
		return nil, err
	}
	received := new(big.Int).Sub(after, before)
	if received.Sign() <= 0 {
		return nil, fmt.Errorf("%w: lp balance %s after withdrawing %s", ErrNothingUnstaked, after, amount)
	}
	return received, nil
}

// Harvestable reports the rewards a Claim would currently return.
func (b *Booster) Harvestable(ctx context.Context) (vault.Amounts, error) {
	earned, err := b.callUint(ctx, b.cfg.RewardPool, rewardPoolABI, "earned", b.account)
	if err != nil {
		return vault.Amounts{}, err
	}
	return vault.NewAmounts(earned, nil), nil
}

// Claim collects rewards and reports the per-token balance increase.
func (b *Booster) Claim(ctx context.Context) (vault.Amounts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var before vault.Amounts
	for i, token := range b.cfg.RewardTokens {
		bal, err := b.erc20Balance(ctx, token)
		if err != nil {
			return vault.Amounts{}, err
		}
		before[i] = bal
	}
	data, err := rewardPoolABI.Pack("getReward", b.account, true)
	if err != nil {
		return vault.Amounts{}, err
	}
	if err := b.transact(ctx, b.cfg.RewardPool, data); err != nil {
		return vault.Amounts{}, fmt.Errorf("get reward: %w", err)
	}
	out := vault.ZeroAmounts()
	for i, token := range b.cfg.RewardTokens {
		after, err := b.erc20Balance(ctx, token)
		if err != nil {
			return vault.Amounts{}, err
		}
		if delta := new(big.Int).Sub(after, before[i]); delta.Sign() > 0 {
			out[i] = delta
		}
	}
	return out, nil
}

// Staked returns the position held in the reward pool.
func (b *Booster) Staked(ctx context.Context) (*big.Int, error) {
	return b.callUint(ctx, b.cfg.RewardPool, rewardPoolABI, "balanceOf", b.account)
}

func (b *Booster) erc20Balance(ctx context.Context, token common.Address) (*big.Int, error) {
	if (token == common.Address{}) {
		return big.NewInt(0), nil
	}
	return b.callUint(ctx, token, erc20ABI, "balanceOf", b.account)
}

func (b *Booster) callUint(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := b.backend.CallContract(ctx, ethereum.CallMsg{From: b.account, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(values) == 0 {
		return big.NewInt(0), nil
	}
	value, ok := values[0].(*big.Int)
	if !ok || value == nil {
		return nil, fmt.Errorf("decode %s: unexpected type %T", method, values[0])
	}
	return value, nil
}

func (b *Booster) transact(ctx context.Context, to common.Address, data []byte) error {
	nonce, err := b.backend.PendingNonceAt(ctx, b.account)
	if err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := b.backend.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("fetch gas price: %w", err)
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      b.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(b.cfg.ChainID), b.key)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	if err := b.backend.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}
	return b.waitMined(ctx, signed.Hash())
}

func (b *Booster) waitMined(ctx context.Context, hash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := b.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: %s", ErrTxReverted, hash.Hex())
			}
			return nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
