package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"daopresale/native/presale"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "presale.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "2500", cfg.Sale.PriceTokens)

	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)

	sale, err := reloaded.SaleConfig()
	require.NoError(t, err)
	require.Equal(t, "200000000000000000", sale.MinAllocation.Dec())
	require.Equal(t, uint32(presale.AffiliateDenominator), sale.AffiliatePPM)
}

func TestLoadParsesSaleBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presale.toml")
	contents := `DataDir = "/var/lib/presale"
Admin = "0x00000000000000000000000000000000000000aD"

[Sale]
Beneficiary = "0xbFB6E9C33168D53Dc27144Dbff177E366bf509c5"
PriceTokens = "1e18"
PricePerPayment = "2500000000000000"
AffiliatePPM = 50000
MinAllocation = "2500000000000000"
MaxAllocation = "5e17"
PurchaseCap = "1e22"

[Pauses]
Presale = true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/presale", cfg.DataDir)
	require.Equal(t, "leveldb", cfg.Backend)
	require.True(t, cfg.Pauses.IsPaused("presale"))
	require.False(t, cfg.Pauses.IsPaused("swap"))

	admin, err := cfg.AdminAddress()
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xad"), admin)

	sale, err := cfg.SaleConfig()
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000", sale.Price.Tokens.Dec())
	require.Equal(t, "500000000000000000", sale.MaxAllocation.Dec())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presale.toml")
	require.NoError(t, os.WriteFile(path, []byte("DataDir = \"x\"\nBscDaoPrice = \"2500\"\n"), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, "BscDaoPrice")
}

func TestSaleConfigValidation(t *testing.T) {
	cases := map[string]func(*Config){
		"bad beneficiary":  func(c *Config) { c.Sale.Beneficiary = "not-an-address" },
		"zero beneficiary": func(c *Config) { c.Sale.Beneficiary = "0x0000000000000000000000000000000000000000" },
		"missing cap":      func(c *Config) { c.Sale.PurchaseCap = "" },
		"negative min":     func(c *Config) { c.Sale.MinAllocation = "-1" },
		"min above max":    func(c *Config) { c.Sale.MinAllocation = "6e20" },
		"ppm overflow":     func(c *Config) { c.Sale.AffiliatePPM = 1_000_001 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			_, err := cfg.SaleConfig()
			require.Error(t, err)
		})
	}

	_, err := Default().AdminAddress()
	require.Error(t, err, "default file leaves the admin unset")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presale.toml")
	cfg := Default()
	cfg.Admin = "0x00000000000000000000000000000000000000aa"
	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
	require.Error(t, Save(path, nil))
}
