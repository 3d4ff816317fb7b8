package server

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"yieldvault/native/vault"
	"yieldvault/services/vaultd/storage"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type depositRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type withdrawRequest struct {
	User   string `json:"user"`
	Shares string `json:"shares"`
	Asset  string `json:"asset"`
	Claim  bool   `json:"claim"`
}

type claimRequest struct {
	User    string `json:"user"`
	Convert bool   `json:"convert"`
	Asset   string `json:"asset"`
}

type assetRequest struct {
	Asset string `json:"asset"`
}

type fundRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type pauseRequest struct {
	Module string `json:"module"`
}

type rewardJSON struct {
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	PayoutAsset string `json:"payoutAsset"`
	Payout      string `json:"payout"`
}

type depositResponse struct {
	BaseAmount string       `json:"baseAmount"`
	Shares     string       `json:"shares"`
	NewShares  string       `json:"newShares"`
	Rewards    []rewardJSON `json:"rewards"`
}

type withdrawResponse struct {
	BaseAmount string       `json:"baseAmount"`
	Amount     string       `json:"amount"`
	NewShares  string       `json:"newShares"`
	Rewards    []rewardJSON `json:"rewards"`
}

type claimResponse struct {
	Rewards []rewardJSON `json:"rewards"`
}

type harvestResponse struct {
	Harvested         []string `json:"harvested"`
	Credited          []string `json:"credited"`
	Held              []string `json:"held"`
	Discarded         []string `json:"discarded"`
	AccRewardPerShare []string `json:"accRewardPerShare"`
}

type userResponse struct {
	Address                string            `json:"address"`
	Shares                 string            `json:"shares"`
	RewardDebt             []string          `json:"rewardDebt"`
	Pending                []string          `json:"pending"`
	PendingWithHarvestable []string          `json:"pendingWithHarvestable,omitempty"`
	Balances               map[string]string `json:"balances"`
}

type poolResponse struct {
	Name              string   `json:"name"`
	PoolID            uint64   `json:"poolId"`
	AllocPoint        uint64   `json:"allocPoint"`
	LPToken           string   `json:"lpToken"`
	BaseAsset         string   `json:"baseAsset"`
	RewardTokens      []string `json:"rewardTokens"`
	Module            string   `json:"module"`
	HarvestPolicy     string   `json:"harvestPolicy"`
	TotalShares       string   `json:"totalShares"`
	TotalBaseHeld     string   `json:"totalBaseHeld,omitempty"`
	AccRewardPerShare []string `json:"accRewardPerShare"`
	HeldRewards       []string `json:"heldRewards"`
	DiscardedRewards  []string `json:"discardedRewards"`
	LastHarvest       uint64   `json:"lastHarvest"`
	Epoch             uint64   `json:"epoch"`
	Paused            bool     `json:"paused"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if !s.authorizeUser(w, r, user) {
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	res, err := s.engine.Deposit(r.Context(), user, asset, amount)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse{
		BaseAmount: res.BaseAmount.String(),
		Shares:     res.Shares.String(),
		NewShares:  res.NewShares.String(),
		Rewards:    rewardsJSON(res.Rewards),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if !s.authorizeUser(w, r, user) {
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	shares, ok := new(big.Int).SetString(strings.TrimSpace(req.Shares), 10)
	if !ok {
		s.writeEngineError(w, r, fmt.Errorf("%w: shares must be a decimal integer", errBadRequest))
		return
	}
	res, err := s.engine.Withdraw(r.Context(), user, shares, asset, req.Claim)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{
		BaseAmount: res.BaseAmount.String(),
		Amount:     res.Amount.String(),
		NewShares:  res.NewShares.String(),
		Rewards:    rewardsJSON(res.Rewards),
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if !s.authorizeUser(w, r, user) {
		return
	}
	var asset common.Address
	if req.Convert {
		if asset, err = parseAddress("asset", req.Asset); err != nil {
			s.writeEngineError(w, r, err)
			return
		}
	}
	res, err := s.engine.Claim(r.Context(), user, req.Convert, asset)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{Rewards: rewardsJSON(res.Rewards)})
}

func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Harvest(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, harvestResponse{
		Harvested:         amountsJSON(res.Harvested),
		Credited:          amountsJSON(res.Credited),
		Held:              amountsJSON(res.Held),
		Discarded:         amountsJSON(res.Discarded),
		AccRewardPerShare: amountsJSON(res.AccRewardPerShare),
	})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("addr", chi.URLParam(r, "addr"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	info, err := s.engine.UserInfo(addr)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	pending, err := s.engine.Pending(addr)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	resp := userResponse{
		Address:    addr.Hex(),
		Shares:     info.Shares.String(),
		RewardDebt: amountsJSON(info.RewardDebt),
		Pending:    amountsJSON(pending),
		Balances:   make(map[string]string),
	}
	if r.URL.Query().Get("harvestable") != "false" {
		projected, err := s.engine.PendingWithHarvestable(r.Context(), addr)
		if err == nil {
			resp.PendingWithHarvestable = amountsJSON(projected)
		} else {
			s.logger.Warn("harvestable projection failed", "user", addr.Hex(), "error", err)
		}
	}
	tracked, err := s.custodyAssets()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	for _, asset := range tracked {
		bal, err := s.engine.Balance(addr, asset)
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		if bal.Sign() > 0 {
			resp.Balances[asset.Hex()] = bal.String()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// custodyAssets lists the accepted assets followed by the reward tokens.
func (s *Server) custodyAssets() ([]common.Address, error) {
	assets, err := s.engine.Assets()
	if err != nil {
		return nil, err
	}
	info := s.engine.PoolInfo()
	seen := make(map[common.Address]struct{}, len(assets)+vault.RewardTokenCount)
	out := make([]common.Address, 0, len(assets)+vault.RewardTokenCount)
	for _, a := range append(assets, info.RewardTokens[:]...) {
		if _, dup := seen[a]; dup || (a == common.Address{}) {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.engine.Pool()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	info := s.engine.PoolInfo()
	resp := poolResponse{
		Name:              info.Name,
		PoolID:            info.PoolID,
		AllocPoint:        info.AllocPoint,
		LPToken:           info.LPToken.Hex(),
		BaseAsset:         info.BaseAsset.Hex(),
		Module:            info.Module.Hex(),
		HarvestPolicy:     string(s.engine.HarvestPolicy()),
		TotalShares:       pool.TotalShares.String(),
		AccRewardPerShare: amountsJSON(pool.AccRewardPerShare),
		HeldRewards:       amountsJSON(pool.HeldRewards),
		DiscardedRewards:  amountsJSON(pool.DiscardedRewards),
		LastHarvest:       pool.LastHarvest,
		Epoch:             pool.Epoch,
		Paused:            s.pauses.IsPaused(vault.ModuleName),
	}
	for _, token := range info.RewardTokens {
		resp.RewardTokens = append(resp.RewardTokens, token.Hex())
	}
	if held, err := s.engine.TotalBaseHeld(r.Context()); err == nil {
		resp.TotalBaseHeld = held.String()
	} else {
		s.logger.Warn("staked position unavailable", "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.engine.Assets()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.Hex())
	}
	writeJSON(w, http.StatusOK, map[string][]string{"assets": out})
}

func (s *Server) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	var req assetRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if err := s.engine.AddAsset(r.Context(), asset); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.Hex(), "status": "accepted"})
}

func (s *Server) handleRemoveAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if err := s.engine.RemoveAsset(r.Context(), asset); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset.Hex(), "status": "removed"})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if err := s.engine.Fund(r.Context(), account, asset, amount); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	bal, err := s.engine.Balance(account, asset)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": account.Hex(), "asset": asset.Hex(), "balance": bal.String()})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.togglePause(w, r, true)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.togglePause(w, r, false)
}

func (s *Server) togglePause(w http.ResponseWriter, r *http.Request, pause bool) {
	var req pauseRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeEngineError(w, r, err)
			return
		}
	}
	module := strings.TrimSpace(req.Module)
	if module == "" {
		module = vault.ModuleName
	}
	if pause {
		s.pauses.Pause(module)
	} else {
		s.pauses.Resume(module)
	}
	subject := ""
	if p, ok := PrincipalFromContext(r.Context()); ok {
		subject = p.Subject
	}
	s.logger.Info("pause toggled", "module", module, "paused", pause, "subject", subject)
	writeJSON(w, http.StatusOK, map[string][]string{"paused": s.pauses.Paused()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit_unavailable", "audit log not configured")
		return
	}
	q := storage.Query{Type: r.URL.Query().Get("type"), User: r.URL.Query().Get("user")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeEngineError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		q.Limit = limit
	}
	recs, err := s.audit.Recent(r.Context(), q)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if recs == nil {
		recs = []storage.Record{}
	}
	writeJSON(w, http.StatusOK, map[string][]storage.Record{"events": recs})
}

// authorizeUser allows admins, or user-scoped tokens whose subject is the
// account being acted on.
func (s *Server) authorizeUser(w http.ResponseWriter, r *http.Request, user common.Address) bool {
	p, ok := PrincipalFromContext(r.Context())
	if ok && (p.HasScope(ScopeAdmin) || (p.HasScope(ScopeUser) && strings.EqualFold(p.Subject, user.Hex()))) {
		return true
	}
	writeError(w, http.StatusForbidden, "forbidden", "token not valid for "+user.Hex())
	return false
}

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address", errBadRequest, field)
	}
	return common.HexToAddress(trimmed), nil
}

// parseAmount accepts decimal integers. Sign and range checks are left to the
// engine.
func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount must be a decimal integer", errBadRequest)
	}
	return v, nil
}

func amountsJSON(a vault.Amounts) []string {
	out := make([]string, len(a))
	for i, v := range a {
		if v == nil {
			out[i] = "0"
			continue
		}
		out[i] = v.String()
	}
	return out
}

func rewardsJSON(payouts []vault.RewardPayout) []rewardJSON {
	out := make([]rewardJSON, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, rewardJSON{
			Token:       p.Token.Hex(),
			Amount:      p.Amount.String(),
			PayoutAsset: p.PayoutAsset.Hex(),
			Payout:      p.Payout.String(),
		})
	}
	return out
}
