package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"yieldvault/core/events"
	nativecommon "yieldvault/native/common"
	"yieldvault/native/vault"
	"yieldvault/observability/metrics"
	"yieldvault/services/vaultd/idempotency"
	auditstore "yieldvault/services/vaultd/storage"
	"yieldvault/storage"
)

const testSecret = "vaultd-test-secret"

var (
	baseAsset = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	tokenA    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenB    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	alice     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob       = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

type fixture struct {
	t       *testing.T
	srv     *Server
	engine  *vault.Engine
	staking *vault.SimulatedStaking
	pauses  *nativecommon.PauseSet
	audit   *auditstore.AuditLog
}

func newFixture(t *testing.T, limit RateLimit) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, Config{}, limit)
}

func newFixtureWithConfig(t *testing.T, srvCfg Config, limit RateLimit, opts ...func(*Deps)) *fixture {
	t.Helper()
	cfg := vault.DefaultConfig()
	cfg.Name = "http"
	cfg.PoolID = 3
	cfg.BaseAsset = baseAsset.Hex()
	cfg.RewardTokens = []string{tokenA.Hex(), tokenB.Hex()}
	cfg.InitialAssets = []string{baseAsset.Hex()}

	staking := vault.NewSimulatedStaking()
	engine, err := vault.NewEngine(storage.NewMemDB(), cfg, vault.NewSimulatedSwap(), staking)
	require.NoError(t, err)

	audit, err := auditstore.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })
	engine.SetEmitter(events.MultiEmitter{audit})

	pauses := nativecommon.NewPauseSet()
	engine.SetPauses(pauses)

	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	require.NoError(t, err)
	deps := Deps{
		Engine:  engine,
		Audit:   audit,
		Pauses:  pauses,
		Auth:    auth,
		Limiter: NewRateLimiter(limit),
		Metrics: metrics.Vault(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	srv, err := New(srvCfg, deps)
	require.NoError(t, err)
	return &fixture{t: t, srv: srv, engine: engine, staking: staking, pauses: pauses, audit: audit}
}

func (f *fixture) token(subject string, scopes ...string) string {
	f.t.Helper()
	tok, err := IssueToken(testSecret, TokenRequest{Subject: subject, Scopes: scopes, TTL: time.Minute})
	require.NoError(f.t, err)
	return tok
}

func (f *fixture) admin() string { return f.token("ops", ScopeAdmin) }

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	return f.doWithKey(method, path, token, "", body)
}

func (f *fixture) doWithKey(method, path, token, key string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if key != "" {
		req.Header.Set(idempotency.Header, key)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestDepositHarvestClaimFlow(t *testing.T) {
	f := newFixture(t, RateLimit{})
	admin := f.admin()
	user := f.token(alice.Hex(), ScopeUser)

	rec := f.do(http.MethodPost, "/v1/admin/fund", admin, fundRequest{Account: alice.Hex(), Asset: baseAsset.Hex(), Amount: "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/v1/deposit", user, depositRequest{User: alice.Hex(), Asset: baseAsset.Hex(), Amount: "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dep := decode[depositResponse](t, rec)
	require.Equal(t, "1000", dep.Shares)
	require.Equal(t, "1000", dep.NewShares)

	f.staking.Accrue(big.NewInt(500), big.NewInt(40))
	rec = f.do(http.MethodPost, "/v1/harvest", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	harvest := decode[harvestResponse](t, rec)
	require.Equal(t, []string{"500", "40"}, harvest.Harvested)

	rec = f.do(http.MethodGet, "/v1/users/"+alice.Hex(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[userResponse](t, rec)
	require.Equal(t, "1000", info.Shares)
	require.Equal(t, []string{"500", "40"}, info.Pending)
	require.Equal(t, []string{"500", "40"}, info.PendingWithHarvestable)

	rec = f.do(http.MethodPost, "/v1/claim", user, claimRequest{User: alice.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	claim := decode[claimResponse](t, rec)
	require.Len(t, claim.Rewards, 2)
	require.Equal(t, tokenA.Hex(), claim.Rewards[0].Token)
	require.Equal(t, "500", claim.Rewards[0].Payout)

	rec = f.do(http.MethodGet, "/v1/users/"+alice.Hex(), "", nil)
	info = decode[userResponse](t, rec)
	require.Equal(t, []string{"0", "0"}, info.Pending)
	require.Equal(t, "500", info.Balances[tokenA.Hex()])
	require.Equal(t, "40", info.Balances[tokenB.Hex()])

	rec = f.do(http.MethodPost, "/v1/withdraw", user, withdrawRequest{User: alice.Hex(), Shares: "400", Asset: baseAsset.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	wd := decode[withdrawResponse](t, rec)
	require.Equal(t, "400", wd.Amount)
	require.Equal(t, "600", wd.NewShares)

	rec = f.do(http.MethodGet, "/v1/pool", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pool := decode[poolResponse](t, rec)
	require.Equal(t, "600", pool.TotalShares)
	require.Equal(t, "600", pool.TotalBaseHeld)
	require.Equal(t, "hold", pool.HarvestPolicy)
	require.Equal(t, uint64(3), pool.PoolID)
}

func TestDepositWithIdempotencyKeyRunsOnce(t *testing.T) {
	replay, err := idempotency.Open(filepath.Join(t.TempDir(), "idem.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = replay.Close() })
	f := newFixtureWithConfig(t, Config{}, RateLimit{}, func(d *Deps) { d.Idempotency = replay })
	user := f.token(alice.Hex(), ScopeUser)

	rec := f.do(http.MethodPost, "/v1/admin/fund", f.admin(), fundRequest{Account: alice.Hex(), Asset: baseAsset.Hex(), Amount: "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req := depositRequest{User: alice.Hex(), Asset: baseAsset.Hex(), Amount: "300"}
	first := f.doWithKey(http.MethodPost, "/v1/deposit", user, "dep-1", req)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	again := f.doWithKey(http.MethodPost, "/v1/deposit", user, "dep-1", req)
	require.Equal(t, http.StatusOK, again.Code, again.Body.String())
	require.Equal(t, "true", again.Header().Get(idempotency.ReplayHeader))
	require.JSONEq(t, first.Body.String(), again.Body.String())

	shares, err := f.engine.Shares(alice)
	require.NoError(t, err)
	require.Equal(t, "300", shares.String())

	shouted := f.token(strings.ToUpper(alice.Hex()), ScopeUser)
	again = f.doWithKey(http.MethodPost, "/v1/deposit", shouted, "dep-1", req)
	require.Equal(t, "true", again.Header().Get(idempotency.ReplayHeader))

	fresh := f.doWithKey(http.MethodPost, "/v1/deposit", user, "dep-2", req)
	require.Equal(t, http.StatusOK, fresh.Code, fresh.Body.String())
	shares, err = f.engine.Shares(alice)
	require.NoError(t, err)
	require.Equal(t, "600", shares.String())
}

func TestEventsEndpointListsAuditLog(t *testing.T) {
	f := newFixture(t, RateLimit{})
	admin := f.admin()
	require.NoError(t, f.engine.Fund(context.Background(), bob, baseAsset, big.NewInt(50)))
	_, err := f.engine.Deposit(context.Background(), bob, baseAsset, big.NewInt(50))
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/v1/events?limit=5&type="+events.TypeVaultDeposit, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[map[string][]auditstore.Record](t, rec)
	require.Len(t, out["events"], 1)
	require.Equal(t, "50", out["events"][0].Attributes["amount"])

	rec = f.do(http.MethodGet, "/v1/events?limit=zero", admin, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t, RateLimit{})
	body := depositRequest{User: alice.Hex(), Asset: baseAsset.Hex(), Amount: "1"}

	rec := f.do(http.MethodPost, "/v1/deposit", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/v1/deposit", "garbage", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/v1/deposit", f.token(bob.Hex(), ScopeUser), body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/v1/harvest", f.token(alice.Hex(), ScopeUser), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	forged, err := IssueToken("other-secret", TokenRequest{Subject: "ops", Scopes: []string{ScopeAdmin}})
	require.NoError(t, err)
	rec = f.do(http.MethodPost, "/v1/harvest", forged, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := IssueToken(testSecret, TokenRequest{Subject: "ops", Scopes: []string{ScopeAdmin}, TTL: time.Minute, Now: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	rec = f.do(http.MethodPost, "/v1/harvest", expired, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	f := newFixture(t, RateLimit{})
	user := f.token(alice.Hex(), ScopeUser)

	rec := f.do(http.MethodPost, "/v1/deposit", user, depositRequest{User: alice.Hex(), Asset: tokenA.Hex(), Amount: "1"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "invalid_asset", decode[errorResponse](t, rec).Error)

	rec = f.do(http.MethodPost, "/v1/deposit", user, depositRequest{User: alice.Hex(), Asset: baseAsset.Hex(), Amount: "0"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_amount", decode[errorResponse](t, rec).Error)

	rec = f.do(http.MethodPost, "/v1/withdraw", user, withdrawRequest{User: alice.Hex(), Shares: "5", Asset: baseAsset.Hex()})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "insufficient_shares", decode[errorResponse](t, rec).Error)

	rec = f.do(http.MethodPost, "/v1/deposit", user, map[string]string{"user": alice.Hex(), "bogus": "1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "bad_request", decode[errorResponse](t, rec).Error)

	rec = f.do(http.MethodGet, "/v1/users/not-an-address", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPauseBlocksUserOperations(t *testing.T) {
	f := newFixture(t, RateLimit{})
	admin := f.admin()
	user := f.token(alice.Hex(), ScopeUser)
	require.NoError(t, f.engine.Fund(context.Background(), alice, baseAsset, big.NewInt(10)))

	rec := f.do(http.MethodPost, "/v1/admin/pause", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, f.pauses.IsPaused(vault.ModuleName))

	rec = f.do(http.MethodPost, "/v1/deposit", user, depositRequest{User: alice.Hex(), Asset: baseAsset.Hex(), Amount: "10"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "paused", decode[errorResponse](t, rec).Error)

	rec = f.do(http.MethodPost, "/v1/admin/unpause", admin, pauseRequest{Module: vault.ModuleName})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodPost, "/v1/deposit", user, depositRequest{User: alice.Hex(), Asset: baseAsset.Hex(), Amount: "10"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAssetAdministration(t *testing.T) {
	f := newFixture(t, RateLimit{})
	admin := f.admin()
	extra := common.HexToAddress("0x00000000000000000000000000000000000000c1")

	rec := f.do(http.MethodPost, "/v1/admin/assets", admin, assetRequest{Asset: extra.Hex()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/v1/assets", "", nil)
	assets := decode[map[string][]string](t, rec)["assets"]
	require.ElementsMatch(t, []string{baseAsset.Hex(), extra.Hex()}, assets)

	rec = f.do(http.MethodDelete, "/v1/admin/assets/"+extra.Hex(), admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	accepted, err := f.engine.IsAccepted(extra)
	require.NoError(t, err)
	require.False(t, accepted)
}

func TestRateLimiterRejectsBursts(t *testing.T) {
	f := newFixture(t, RateLimit{RequestsPerMinute: 1, Burst: 2})
	for i := 0; i < 2; i++ {
		rec := f.do(http.MethodGet, "/v1/assets", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(http.MethodGet, "/v1/assets", "", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = f.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func (f *fixture) assetsFrom(remote, forwarded string) int {
	f.t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/assets", nil)
	req.RemoteAddr = remote
	if forwarded != "" {
		req.Header.Set("X-Forwarded-For", forwarded)
		req.Header.Set("X-Real-IP", forwarded)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiterIgnoresForwardedHeadersByDefault(t *testing.T) {
	f := newFixture(t, RateLimit{RequestsPerMinute: 1, Burst: 1})
	require.Equal(t, http.StatusOK, f.assetsFrom("198.51.100.7:4000", "203.0.113.1"))
	require.Equal(t, http.StatusTooManyRequests, f.assetsFrom("198.51.100.7:4001", "203.0.113.2"))
	require.Equal(t, http.StatusTooManyRequests, f.assetsFrom("198.51.100.7:4002", ""))
	require.Equal(t, http.StatusOK, f.assetsFrom("198.51.100.8:4000", "203.0.113.1"))
}

func TestRateLimiterTrustsForwardedHeadersWhenConfigured(t *testing.T) {
	f := newFixtureWithConfig(t, Config{TrustProxyHeaders: true}, RateLimit{RequestsPerMinute: 1, Burst: 1})
	require.Equal(t, http.StatusOK, f.assetsFrom("10.0.0.2:4000", "203.0.113.1"))
	require.Equal(t, http.StatusOK, f.assetsFrom("10.0.0.2:4001", "203.0.113.2"))
	require.Equal(t, http.StatusTooManyRequests, f.assetsFrom("10.0.0.3:4000", "203.0.113.1"))
}

func TestHTTPMetricsRecorded(t *testing.T) {
	f := newFixture(t, RateLimit{})
	before := testutil.ToFloat64(metrics.Vault().HTTPRequestsVec().WithLabelValues("/v1/pool", "200"))
	f.do(http.MethodGet, "/v1/pool", "", nil)
	after := testutil.ToFloat64(metrics.Vault().HTTPRequestsVec().WithLabelValues("/v1/pool", "200"))
	require.Equal(t, before+1, after)
}

func TestToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("wrap: %w", vault.ErrInvalidAmount), http.StatusBadRequest, "invalid_amount"},
		{vault.ErrInvalidAsset, http.StatusUnprocessableEntity, "invalid_asset"},
		{vault.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
		{vault.ErrReentrantCall, http.StatusConflict, "reentrant_call"},
		{vault.ErrEngineBusy, http.StatusServiceUnavailable, "engine_busy"},
		{vault.ErrRebaseWithShares, http.StatusConflict, "rebase_with_shares"},
		{fmt.Errorf("%w: router down", vault.ErrConversionFailed), http.StatusBadGateway, "conversion_failed"},
		{vault.ErrStakingUnavailable, http.StatusServiceUnavailable, "staking_unavailable"},
		{nativecommon.ErrModulePaused, http.StatusServiceUnavailable, "paused"},
		{fmt.Errorf("%w: nope", errBadRequest), http.StatusBadRequest, "bad_request"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := toStatus(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
		require.Equal(t, tc.code, code, tc.err.Error())
	}
}
