package harvester

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"yieldvault/native/vault"
	"yieldvault/storage"
)

func newEngine(t *testing.T) (*vault.Engine, *vault.SimulatedStaking) {
	t.Helper()
	cfg := vault.DefaultConfig()
	cfg.BaseAsset = common.HexToAddress("0xb0").Hex()
	cfg.RewardTokens = []string{common.HexToAddress("0xa1").Hex(), common.HexToAddress("0xa2").Hex()}
	staking := vault.NewSimulatedStaking()
	engine, err := vault.NewEngine(storage.NewMemDB(), cfg, vault.NewSimulatedSwap(), staking)
	require.NoError(t, err)
	return engine, staking
}
