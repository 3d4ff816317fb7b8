package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.toml")
	body := `Name = "crv-eth"
PoolID = 25
AllocPoint = 40
LPToken = "0x06325440D014e39736583c165C2963BA99fAf14E"
BaseAsset = "0x06325440D014e39736583c165C2963BA99fAf14E"
RewardTokens = ["0xD533a949740bb3306d119CC777fa900bA034cd52", "0x4e3FBD56CD56c3e72c1403e103b45Db9da5B9D2B"]
HarvestPolicy = "Discard"
TrackAssets = false
InitialAssets = ["0x0000000000000000000000000000000000000000"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.PoolID != 25 || cfg.AllocPoint != 40 || cfg.HarvestPolicy != HarvestDiscard || cfg.TrackAssets {
		t.Fatalf("unexpected config %+v", cfg)
	}
	info := cfg.PoolInfo()
	if info.Module != ModuleAddress("crv-eth") {
		t.Fatalf("expected derived module address, got %s", info.Module.Hex())
	}
	if info.RewardTokens[RewardA].Hex() != "0xD533a949740bb3306d119CC777fa900bA034cd52" {
		t.Fatalf("unexpected reward token %s", info.RewardTokens[RewardA].Hex())
	}
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"bad policy":        func(c *Config) { c.HarvestPolicy = "burn" },
		"bad base":          func(c *Config) { c.BaseAsset = "nope" },
		"one reward token":  func(c *Config) { c.RewardTokens = c.RewardTokens[:1] },
		"duplicate rewards": func(c *Config) { c.RewardTokens = []string{c.RewardTokens[0], c.RewardTokens[0]} },
		"bad module":        func(c *Config) { c.ModuleAddress = "0x12" },
		"bad initial asset": func(c *Config) { c.InitialAssets = []string{"xyz"} },
	}
	for name, mutate := range cases {
		cfg := testConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestConfigModuleOverride(t *testing.T) {
	cfg := testConfig()
	cfg.ModuleAddress = "0x9999999999999999999999999999999999999999"
	if got := cfg.PoolInfo().Module.Hex(); got != "0x9999999999999999999999999999999999999999" {
		t.Fatalf("expected module override, got %s", got)
	}
}

func TestEnsureDefaults(t *testing.T) {
	cfg := Config{HarvestPolicy: " HOLD "}
	cfg.EnsureDefaults()
	if cfg.Name != "default" || cfg.HarvestPolicy != HarvestHold {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}
