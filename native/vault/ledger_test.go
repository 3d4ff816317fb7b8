package vault

import (
	"errors"
	"math/big"
	"testing"
)

func TestMintUpdatesUserAndTotal(t *testing.T) {
	pool := newPool()
	a := newUserInfo(alice)
	b := newUserInfo(bob)

	shares, err := mint(pool, a, big.NewInt(1000), big.NewInt(0))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	requireBig(t, "alice shares", shares, 1000)

	shares, err = mint(pool, b, big.NewInt(500), big.NewInt(2000))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	requireBig(t, "bob shares", shares, 250)
	requireBig(t, "total", pool.TotalShares, 1250)
	if sum := new(big.Int).Add(a.Shares, b.Shares); sum.Cmp(pool.TotalShares) != 0 {
		t.Fatalf("sum of shares %s != total %s", sum, pool.TotalShares)
	}
}

func TestMintRejectsInvalidAmounts(t *testing.T) {
	pool := newPool()
	user := newUserInfo(alice)
	if _, err := mint(pool, user, big.NewInt(0), big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	pool.TotalShares = big.NewInt(10)
	user.Shares = big.NewInt(10)
	if _, err := mint(pool, user, big.NewInt(5), big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for empty position, got %v", err)
	}
	if _, err := mint(pool, user, big.NewInt(1), big.NewInt(100)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for dust deposit, got %v", err)
	}
	requireBig(t, "total", pool.TotalShares, 10)
}

func TestBurnReturnsOwedBase(t *testing.T) {
	pool := newPool()
	user := newUserInfo(alice)
	if _, err := mint(pool, user, big.NewInt(300), big.NewInt(0)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	owed, err := burn(pool, user, big.NewInt(100), big.NewInt(1000))
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	requireBig(t, "owed", owed, 333)
	requireBig(t, "user shares", user.Shares, 200)
	requireBig(t, "total", pool.TotalShares, 200)
}

func TestBurnRejectsExcessAndZero(t *testing.T) {
	pool := newPool()
	user := newUserInfo(alice)
	if _, err := mint(pool, user, big.NewInt(10), big.NewInt(0)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := burn(pool, user, big.NewInt(11), big.NewInt(10)); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	if _, err := burn(pool, user, big.NewInt(0), big.NewInt(10)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	requireBig(t, "shares", user.Shares, 10)
}
