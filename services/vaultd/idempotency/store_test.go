package idempotency

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "idem.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestReserveCompleteReplay(t *testing.T) {
	store := openStore(t, time.Hour)

	state, resp, err := store.Reserve("alice\x00k1", "fp")
	require.NoError(t, err)
	require.Equal(t, StateNew, state)
	require.Nil(t, resp)

	state, _, err = store.Reserve("alice\x00k1", "fp")
	require.NoError(t, err)
	require.Equal(t, StatePending, state)

	require.NoError(t, store.Complete("alice\x00k1", Response{Status: 200, Body: []byte(`{"ok":true}`), Fingerprint: "fp"}))

	state, resp, err = store.Reserve("alice\x00k1", "fp")
	require.NoError(t, err)
	require.Equal(t, StateDone, state)
	require.Equal(t, 200, resp.Status)
	require.JSONEq(t, `{"ok":true}`, string(resp.Body))
	require.Equal(t, "fp", resp.Fingerprint)
}

func TestReleaseAllowsRetry(t *testing.T) {
	store := openStore(t, time.Hour)
	_, _, err := store.Reserve("k", "fp")
	require.NoError(t, err)
	require.NoError(t, store.Release("k"))

	state, _, err := store.Reserve("k", "fp")
	require.NoError(t, err)
	require.Equal(t, StateNew, state)
}

func TestReleaseKeepsCompletedResponse(t *testing.T) {
	store := openStore(t, time.Hour)
	_, _, err := store.Reserve("k", "fp")
	require.NoError(t, err)
	require.NoError(t, store.Complete("k", Response{Status: 201, Fingerprint: "fp"}))
	require.NoError(t, store.Release("k"))

	state, resp, err := store.Reserve("k", "fp")
	require.NoError(t, err)
	require.Equal(t, StateDone, state)
	require.Equal(t, 201, resp.Status)
}

func TestExpiredEntriesAreReservedAgainAndPruned(t *testing.T) {
	store := openStore(t, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	store.clock = func() time.Time { return now }

	_, _, err := store.Reserve("old", "fp")
	require.NoError(t, err)
	require.NoError(t, store.Complete("old", Response{Status: 200, Fingerprint: "fp"}))
	_, _, err = store.Reserve("stale", "fp")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	state, _, err := store.Reserve("old", "other")
	require.NoError(t, err)
	require.Equal(t, StateNew, state)

	removed, err := store.Prune()
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}

func TestCompleteRequiresReservation(t *testing.T) {
	store := openStore(t, 0)
	require.Error(t, store.Complete("missing", Response{Status: 200}))
}

func TestInvalidKeys(t *testing.T) {
	store := openStore(t, 0)
	_, _, err := store.Reserve("  ", "fp")
	require.ErrorIs(t, err, ErrInvalidKey)
	_, _, err = store.Reserve(strings.Repeat("k", maxStoredKey+1), "fp")
	require.ErrorIs(t, err, ErrInvalidKey)

	var closed *Store
	_, _, err = closed.Reserve("k", "fp")
	require.Error(t, err)
}
