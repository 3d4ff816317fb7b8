package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"yieldvault/core/events"
	nativecommon "yieldvault/native/common"
	"yieldvault/storage"
)

const moduleName = "vault"

// ModuleName is the pause key of the vault module.
const ModuleName = moduleName

// DefaultLockWait bounds how long a mutating call waits for the operation in
// flight before failing with ErrEngineBusy.
const DefaultLockWait = 30 * time.Second

type reentryKey struct{}

// Engine orchestrates the state transitions of a single vault. Mutating
// operations are serialised and each one either commits entirely or leaves
// the store untouched.
type Engine struct {
	// lock is a one-slot semaphore so waiting writers can give up.
	lock     chan struct{}
	lockWait time.Duration
	viewMu   sync.RWMutex

	db          storage.Database
	info        PoolInfo
	policy      HarvestPolicy
	trackAssets bool

	swap    Swapper
	staker  Staker
	emitter events.Emitter
	logger  *slog.Logger
	pauses  nativecommon.PauseView
	obs     Observer
	clock   func() time.Time
}

// NewEngine binds a vault to db and its collaborators. The pool record and the
// configured initial assets are written the first time a pool id is seen.
func NewEngine(db storage.Database, cfg Config, swap Swapper, staker Staker) (*Engine, error) {
	if db == nil {
		return nil, ErrNilState
	}
	if swap == nil || staker == nil {
		return nil, fmt.Errorf("vault: swap and staking collaborators required")
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		db:          db,
		info:        cfg.PoolInfo(),
		policy:      cfg.HarvestPolicy,
		trackAssets: cfg.TrackAssets,
		swap:        swap,
		staker:      staker,
		emitter:     events.NoopEmitter{},
		logger:      slog.Default(),
		clock:       time.Now,
		lock:        make(chan struct{}, 1),
		lockWait:    DefaultLockWait,
	}
	if err := e.ensurePool(cfg.InitialAssets); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) ensurePool(initialAssets []string) error {
	journal := storage.NewJournal(e.db)
	state := newKVState(journal, e.info.PoolID)
	pool, err := state.GetPool()
	if err != nil {
		return err
	}
	if pool != nil {
		journal.Discard()
		return nil
	}
	if err := state.PutPool(newPool()); err != nil {
		journal.Discard()
		return err
	}
	for _, asset := range initialAssets {
		if err := state.SetAccepted(parseAddress(asset), true); err != nil {
			journal.Discard()
			return err
		}
	}
	return journal.Commit()
}

// SetEmitter configures the event sink. Events are only emitted after the
// operation committed.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger.With("component", moduleName, "pool", e.info.PoolID)
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetObserver wires a metrics sink.
func (e *Engine) SetObserver(obs Observer) {
	if e == nil {
		return
	}
	e.obs = obs
}

// SetClock overrides the time source used to stamp harvests.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// SetLockWait bounds how long a mutating call waits for the operation in
// flight. Non-positive values restore DefaultLockWait.
func (e *Engine) SetLockWait(d time.Duration) {
	if e == nil {
		return
	}
	if d <= 0 {
		d = DefaultLockWait
	}
	e.lockWait = d
}

// acquire takes the writer slot. It gives up when ctx ends or after lockWait,
// so a collaborator re-entering with a context of its own cannot hang the
// operation that called it.
func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.lock <- struct{}{}:
		return nil
	default:
	}
	timer := time.NewTimer(e.lockWait)
	defer timer.Stop()
	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrEngineBusy, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: waited %s", ErrEngineBusy, e.lockWait)
	}
}

func (e *Engine) release() {
	<-e.lock
}

// txn carries the working copy of one operation.
type txn struct {
	ctx        context.Context
	journal    *storage.Journal
	state      engineState
	pool       *Pool
	events     []events.Event
	compensate []func(context.Context) error
}

func (tx *txn) emit(ev events.Event) {
	tx.events = append(tx.events, ev)
}

// onRollback registers an undo step for an external effect. Undo steps run in
// reverse order when the operation fails.
func (tx *txn) onRollback(fn func(context.Context) error) {
	tx.compensate = append(tx.compensate, fn)
}

func (tx *txn) user(addr common.Address) (*UserInfo, error) {
	user, err := tx.state.GetUser(addr)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = newUserInfo(addr)
	}
	return user, nil
}

// move transfers amount of asset between custody accounts.
func (tx *txn) move(from, to, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := tx.debit(from, asset, amount); err != nil {
		return err
	}
	return tx.credit(to, asset, amount)
}

func (tx *txn) debit(account, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	balance, err := tx.state.GetBalance(account, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, account.Hex(), balance, asset.Hex(), amount)
	}
	return tx.state.PutBalance(account, asset, balance.Sub(balance, amount))
}

func (tx *txn) credit(account, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	balance, err := tx.state.GetBalance(account, asset)
	if err != nil {
		return err
	}
	return tx.state.PutBalance(account, asset, balance.Add(balance, amount))
}

// run executes fn as one atomic operation. guarded operations are rejected
// while the module is paused.
func (e *Engine) run(ctx context.Context, op string, guarded bool, fn func(tx *txn) error) (err error) {
	if e == nil || e.db == nil {
		return ErrNilState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, ok := ctx.Value(reentryKey{}).(*Engine); ok && owner == e {
		return ErrReentrantCall
	}
	start := time.Now()
	defer func() { e.observe(op, err, time.Since(start)) }()
	if guarded {
		if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
			return err
		}
	}

	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	journal := storage.NewJournal(e.db)
	tx := &txn{
		ctx:     context.WithValue(ctx, reentryKey{}, e),
		journal: journal,
		state:   newKVState(journal, e.info.PoolID),
	}
	pool, err := tx.state.GetPool()
	if err != nil {
		journal.Discard()
		return err
	}
	if pool == nil {
		pool = newPool()
	}
	tx.pool = pool

	if err := fn(tx); err != nil {
		journal.Discard()
		e.rollback(tx, op)
		e.logger.Warn("vault operation failed", "op", op, "code", ErrorCode(err), "error", err)
		return err
	}
	if err := tx.state.PutPool(tx.pool); err != nil {
		journal.Discard()
		e.rollback(tx, op)
		return err
	}

	e.viewMu.Lock()
	err = journal.Commit()
	e.viewMu.Unlock()
	if err != nil {
		e.rollback(tx, op)
		return fmt.Errorf("vault: commit %s: %w", op, err)
	}

	for _, ev := range tx.events {
		e.emitter.Emit(ev)
	}
	if e.obs != nil {
		e.obs.Pool(tx.pool.TotalShares, tx.pool.AccRewardPerShare)
	}
	e.logger.Debug("vault operation committed", "op", op, "events", len(tx.events), "totalShares", tx.pool.TotalShares.String())
	return nil
}

func (e *Engine) rollback(tx *txn, op string) {
	ctx := context.WithoutCancel(tx.ctx)
	for i := len(tx.compensate) - 1; i >= 0; i-- {
		if err := tx.compensate[i](ctx); err != nil {
			e.logger.Error("vault compensation failed", "op", op, "error", err)
		}
	}
}

func (e *Engine) observe(op string, err error, elapsed time.Duration) {
	if e.obs != nil {
		e.obs.Operation(op, ErrorCode(err), elapsed)
	}
}

// view runs a read-only query against committed state.
func (e *Engine) view(fn func(state engineState, pool *Pool) error) error {
	if e == nil || e.db == nil {
		return ErrNilState
	}
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	state := newKVState(e.db, e.info.PoolID)
	pool, err := state.GetPool()
	if err != nil {
		return err
	}
	if pool == nil {
		pool = newPool()
	}
	return fn(state, pool)
}

// PoolInfo returns the static pool metadata.
func (e *Engine) PoolInfo() PoolInfo {
	return e.info
}

// HarvestPolicy returns the zero-share harvest policy in force.
func (e *Engine) HarvestPolicy() HarvestPolicy {
	return e.policy
}

// Pool returns a copy of the committed pool state.
func (e *Engine) Pool() (*Pool, error) {
	var out *Pool
	err := e.view(func(_ engineState, pool *Pool) error {
		out = pool.Clone()
		return nil
	})
	return out, err
}

// TotalShares returns the number of outstanding shares.
func (e *Engine) TotalShares() (*big.Int, error) {
	pool, err := e.Pool()
	if err != nil {
		return nil, err
	}
	return pool.TotalShares, nil
}

// UserInfo returns the user's record. Unknown users yield a zeroed record.
func (e *Engine) UserInfo(addr common.Address) (*UserInfo, error) {
	var out *UserInfo
	err := e.view(func(state engineState, _ *Pool) error {
		user, err := state.GetUser(addr)
		if err != nil {
			return err
		}
		if user == nil {
			user = newUserInfo(addr)
		}
		out = user
		return nil
	})
	return out, err
}

// Shares returns the user's share balance.
func (e *Engine) Shares(addr common.Address) (*big.Int, error) {
	user, err := e.UserInfo(addr)
	if err != nil {
		return nil, err
	}
	return user.Shares, nil
}

// Pending returns the rewards the user could claim right now.
func (e *Engine) Pending(addr common.Address) (Amounts, error) {
	var out Amounts
	err := e.view(func(state engineState, pool *Pool) error {
		user, err := state.GetUser(addr)
		if err != nil {
			return err
		}
		out = pendingRewards(pool, user)
		return nil
	})
	return out, err
}

// PendingWithHarvestable adds the user's share of rewards the staking position
// has earned but the vault has not harvested yet, including held rewards.
func (e *Engine) PendingWithHarvestable(ctx context.Context, addr common.Address) (Amounts, error) {
	harvestable, err := e.staker.Harvestable(ctx)
	if err != nil {
		return Amounts{}, stakingError(err)
	}
	var out Amounts
	err = e.view(func(state engineState, pool *Pool) error {
		user, err := state.GetUser(addr)
		if err != nil {
			return err
		}
		projected := pool.Clone()
		applyHarvest(projected, harvestable, HarvestHold)
		out = pendingRewards(projected, user)
		return nil
	})
	return out, err
}

// IsAccepted reports whether asset may be deposited.
func (e *Engine) IsAccepted(asset common.Address) (bool, error) {
	var ok bool
	err := e.view(func(state engineState, _ *Pool) error {
		var err error
		ok, err = state.IsAccepted(asset)
		return err
	})
	return ok, err
}

// Assets lists the accepted assets in address order.
func (e *Engine) Assets() ([]common.Address, error) {
	var out []common.Address
	err := e.view(func(state engineState, _ *Pool) error {
		var err error
		out, err = state.ListAssets()
		return err
	})
	return out, err
}

// Balance returns the custody balance of account in asset.
func (e *Engine) Balance(account, asset common.Address) (*big.Int, error) {
	var out *big.Int
	err := e.view(func(state engineState, _ *Pool) error {
		var err error
		out, err = state.GetBalance(account, asset)
		return err
	})
	return out, err
}

// TotalBaseHeld returns the base amount currently staked.
func (e *Engine) TotalBaseHeld(ctx context.Context) (*big.Int, error) {
	staked, err := e.staker.Staked(ctx)
	if err != nil {
		return nil, stakingError(err)
	}
	return copyBig(staked), nil
}

// PreviewDeposit returns the shares baseAmount would mint now.
func (e *Engine) PreviewDeposit(ctx context.Context, baseAmount *big.Int) (*big.Int, error) {
	if err := checkAmount(baseAmount); err != nil {
		return nil, err
	}
	held, err := e.TotalBaseHeld(ctx)
	if err != nil {
		return nil, err
	}
	total, err := e.TotalShares()
	if err != nil {
		return nil, err
	}
	return SharesForDeposit(baseAmount, total, held), nil
}

// PreviewWithdraw returns the base amount shares would redeem now.
func (e *Engine) PreviewWithdraw(ctx context.Context, shares *big.Int) (*big.Int, error) {
	if err := checkAmount(shares); err != nil {
		return nil, err
	}
	held, err := e.TotalBaseHeld(ctx)
	if err != nil {
		return nil, err
	}
	total, err := e.TotalShares()
	if err != nil {
		return nil, err
	}
	if shares.Cmp(total) > 0 {
		return nil, ErrInsufficientShares
	}
	return BaseForShares(shares, total, held), nil
}

func (e *Engine) stakedLocked(tx *txn) (*big.Int, error) {
	staked, err := e.staker.Staked(tx.ctx)
	if err != nil {
		return nil, stakingError(err)
	}
	if staked == nil {
		return nil, fmt.Errorf("%w: staked balance unavailable", ErrStakingUnavailable)
	}
	return staked, nil
}

func isBase(info PoolInfo, asset common.Address) bool {
	return info.BaseAsset == asset
}
