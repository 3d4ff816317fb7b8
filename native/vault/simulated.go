package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var errSimulatedUnstake = errors.New("simulated staking: unstake exceeds staked balance")

type swapPair struct {
	from common.Address
	to   common.Address
}

type swapRate struct {
	num *big.Int
	den *big.Int
}

// SimulatedSwap is a deterministic Swapper. Pairs without a configured rate
// convert 1:1.
type SimulatedSwap struct {
	mu       sync.Mutex
	rates    map[swapPair]swapRate
	failures map[swapPair]error
	failAll  error
	hook     func(ctx context.Context, from common.Address, amount *big.Int, to common.Address)
	calls    int
}

// NewSimulatedSwap returns a swap that converts every pair 1:1.
func NewSimulatedSwap() *SimulatedSwap {
	return &SimulatedSwap{
		rates:    make(map[swapPair]swapRate),
		failures: make(map[swapPair]error),
	}
}

// SetRate makes from->to convert at num/den, rounded down.
func (s *SimulatedSwap) SetRate(from, to common.Address, num, den int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[swapPair{from, to}] = swapRate{num: big.NewInt(num), den: big.NewInt(den)}
}

// Fail makes every conversion return err. A nil err clears the failure.
func (s *SimulatedSwap) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = err
}

// FailPair makes conversions from->to return err.
func (s *SimulatedSwap) FailPair(from, to common.Address, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, swapPair{from, to})
		return
	}
	s.failures[swapPair{from, to}] = err
}

// OnConvert installs a hook invoked before every conversion.
func (s *SimulatedSwap) OnConvert(hook func(ctx context.Context, from common.Address, amount *big.Int, to common.Address)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// Calls returns the number of Convert invocations.
func (s *SimulatedSwap) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Convert implements Swapper.
func (s *SimulatedSwap) Convert(ctx context.Context, from common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	s.mu.Lock()
	s.calls++
	hook := s.hook
	failAll := s.failAll
	pairErr := s.failures[swapPair{from, to}]
	rate, ok := s.rates[swapPair{from, to}]
	s.mu.Unlock()

	if hook != nil {
		hook(ctx, from, amount, to)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failAll != nil {
		return nil, failAll
	}
	if pairErr != nil {
		return nil, pairErr
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("simulated swap: invalid amount")
	}
	if from == to || !ok {
		return new(big.Int).Set(amount), nil
	}
	return mulDiv(amount, rate.num, rate.den), nil
}

// SimulatedStaking is a deterministic Staker holding its position in memory.
type SimulatedStaking struct {
	mu       sync.Mutex
	staked   *big.Int
	earned   Amounts
	drip     Amounts
	failures map[string]error
	hook     func(ctx context.Context, op string)
}

// NewSimulatedStaking returns an empty staking position.
func NewSimulatedStaking() *SimulatedStaking {
	return &SimulatedStaking{
		staked:   big.NewInt(0),
		earned:   ZeroAmounts(),
		drip:     ZeroAmounts(),
		failures: make(map[string]error),
	}
}

// Accrue adds rewards to the harvestable balance.
func (s *SimulatedStaking) Accrue(a, b *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.earned = s.earned.Add(NewAmounts(a, b))
}

// SetDrip makes every Claim accrue a and b before paying out, emulating a
// position that earns between harvests.
func (s *SimulatedStaking) SetDrip(a, b *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drip = NewAmounts(a, b)
}

// Appreciate grows the staked position without minting shares.
func (s *SimulatedStaking) Appreciate(amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staked = new(big.Int).Add(s.staked, copyBig(amount))
}

// FailOn makes op ("stake", "unstake", "harvestable", "claim", "staked")
// return err. A nil err clears the failure.
func (s *SimulatedStaking) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// OnCall installs a hook invoked at the start of every call.
func (s *SimulatedStaking) OnCall(hook func(ctx context.Context, op string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

func (s *SimulatedStaking) enter(ctx context.Context, op string) error {
	s.mu.Lock()
	hook := s.hook
	err := s.failures[op]
	s.mu.Unlock()
	if hook != nil {
		hook(ctx, op)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Stake implements Staker.
func (s *SimulatedStaking) Stake(ctx context.Context, amount *big.Int) error {
	if err := s.enter(ctx, "stake"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staked = new(big.Int).Add(s.staked, copyBig(amount))
	return nil
}

// Unstake implements Staker.
func (s *SimulatedStaking) Unstake(ctx context.Context, amount *big.Int) (*big.Int, error) {
	if err := s.enter(ctx, "unstake"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount == nil || s.staked.Cmp(amount) < 0 {
		return nil, errSimulatedUnstake
	}
	s.staked = new(big.Int).Sub(s.staked, amount)
	return new(big.Int).Set(amount), nil
}

// Harvestable implements Staker.
func (s *SimulatedStaking) Harvestable(ctx context.Context) (Amounts, error) {
	if err := s.enter(ctx, "harvestable"); err != nil {
		return Amounts{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.earned.Clone(), nil
}

// Claim implements Staker.
func (s *SimulatedStaking) Claim(ctx context.Context) (Amounts, error) {
	if err := s.enter(ctx, "claim"); err != nil {
		return Amounts{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.earned.Add(s.drip)
	s.earned = ZeroAmounts()
	return out, nil
}

// Staked implements Staker.
func (s *SimulatedStaking) Staked(ctx context.Context) (*big.Int, error) {
	if err := s.enter(ctx, "staked"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.staked), nil
}
