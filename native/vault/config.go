package vault

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HarvestPolicy decides what happens to rewards harvested while no shares
// exist.
type HarvestPolicy string

const (
	// HarvestHold parks the rewards until the next harvest that finds shares.
	HarvestHold HarvestPolicy = "hold"
	// HarvestDiscard drops the rewards and records them as discarded.
	HarvestDiscard HarvestPolicy = "discard"
)

// Config captures the runtime configuration for a vault instance.
type Config struct {
	Name          string        `toml:"Name"`
	PoolID        uint64        `toml:"PoolID"`
	AllocPoint    uint64        `toml:"AllocPoint"`
	LPToken       string        `toml:"LPToken"`
	BaseAsset     string        `toml:"BaseAsset"`
	RewardTokens  []string      `toml:"RewardTokens"`
	ModuleAddress string        `toml:"ModuleAddress"`
	HarvestPolicy HarvestPolicy `toml:"HarvestPolicy"`
	// TrackAssets controls whether deposit events carry the deposited asset.
	TrackAssets   bool     `toml:"TrackAssets"`
	InitialAssets []string `toml:"InitialAssets"`
}

// DefaultConfig returns a config with the hold policy and asset tracking
// enabled. Token addresses still need to be provided.
func DefaultConfig() Config {
	return Config{
		Name:          "default",
		AllocPoint:    100,
		HarvestPolicy: HarvestHold,
		TrackAssets:   true,
	}
}

// LoadConfig decodes a TOML vault configuration and validates it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode vault config: %w", err)
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EnsureDefaults fills optional fields left empty.
func (c *Config) EnsureDefaults() {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = "default"
	}
	if c.HarvestPolicy == "" {
		c.HarvestPolicy = HarvestHold
	}
	c.HarvestPolicy = HarvestPolicy(strings.ToLower(strings.TrimSpace(string(c.HarvestPolicy))))
}

// Validate ensures the configuration is internally consistent.
func (c Config) Validate() error {
	switch c.HarvestPolicy {
	case HarvestHold, HarvestDiscard:
	default:
		return fmt.Errorf("vault config: unknown harvest policy %q", c.HarvestPolicy)
	}
	if !isAddress(c.BaseAsset) {
		return fmt.Errorf("vault config: base asset %q is not an address", c.BaseAsset)
	}
	if strings.TrimSpace(c.LPToken) != "" && !isAddress(c.LPToken) {
		return fmt.Errorf("vault config: lp token %q is not an address", c.LPToken)
	}
	if len(c.RewardTokens) != RewardTokenCount {
		return fmt.Errorf("vault config: exactly %d reward tokens required, got %d", RewardTokenCount, len(c.RewardTokens))
	}
	for i, token := range c.RewardTokens {
		if !isAddress(token) {
			return fmt.Errorf("vault config: reward token %d %q is not an address", i, token)
		}
	}
	if strings.EqualFold(strings.TrimSpace(c.RewardTokens[RewardA]), strings.TrimSpace(c.RewardTokens[RewardB])) {
		return fmt.Errorf("vault config: reward tokens must differ")
	}
	if strings.TrimSpace(c.ModuleAddress) != "" && !isAddress(c.ModuleAddress) {
		return fmt.Errorf("vault config: module address %q is not an address", c.ModuleAddress)
	}
	for _, asset := range c.InitialAssets {
		if !isAddress(asset) {
			return fmt.Errorf("vault config: initial asset %q is not an address", asset)
		}
	}
	return nil
}

// PoolInfo resolves the configured addresses. The module account defaults to
// an address derived from the vault name so multiple vaults never share
// custody.
func (c Config) PoolInfo() PoolInfo {
	info := PoolInfo{
		Name:       c.Name,
		PoolID:     c.PoolID,
		AllocPoint: c.AllocPoint,
		LPToken:    parseAddress(c.LPToken),
		BaseAsset:  parseAddress(c.BaseAsset),
	}
	for i := 0; i < RewardTokenCount && i < len(c.RewardTokens); i++ {
		info.RewardTokens[i] = parseAddress(c.RewardTokens[i])
	}
	if strings.TrimSpace(c.ModuleAddress) != "" {
		info.Module = parseAddress(c.ModuleAddress)
	} else {
		info.Module = ModuleAddress(c.Name)
	}
	return info
}

// ModuleAddress derives the custody account of a named vault.
func ModuleAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(moduleName + "/" + strings.TrimSpace(name))))
}

func isAddress(value string) bool {
	return common.IsHexAddress(strings.TrimSpace(value))
}

func parseAddress(value string) common.Address {
	return common.HexToAddress(strings.TrimSpace(value))
}
