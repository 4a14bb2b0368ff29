package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the deployment file consumed by presalectl and presaled. The Sale
// block mirrors the initializer arguments of the original deployment: the
// beneficiary, the price, the affiliate rate and the allocation bounds.
type Config struct {
	DataDir string `toml:"DataDir"`
	// Backend selects the ledger store: "leveldb" (default) or "bolt".
	Backend string `toml:"Backend"`
	Admin   string `toml:"Admin"`
	Sale    Sale   `toml:"Sale"`
	Pauses  Pauses `toml:"Pauses"`
}

// Sale carries the raw sale parameters. Amounts are decimal strings so 256-bit
// values survive the TOML round trip; scientific shorthand such as "2e17" is
// accepted.
type Sale struct {
	Beneficiary     string `toml:"Beneficiary"`
	PriceTokens     string `toml:"PriceTokens"`
	PricePerPayment string `toml:"PricePerPayment"`
	AffiliatePPM    uint32 `toml:"AffiliatePPM"`
	MinAllocation   string `toml:"MinAllocation"`
	MaxAllocation   string `toml:"MaxAllocation"`
	PurchaseCap     string `toml:"PurchaseCap"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./presale-data"
	}
	if strings.TrimSpace(cfg.Backend) == "" {
		cfg.Backend = "leveldb"
	}
	if strings.TrimSpace(cfg.Sale.PricePerPayment) == "" {
		cfg.Sale.PricePerPayment = "1"
	}
	return cfg, nil
}

// Default returns the parameters of the reference deployment: 2500 token units
// per wei, a 100% affiliate rate, a 0.2 to 500 coin allocation window and a
// 10,000 coin cap.
func Default() *Config {
	return &Config{
		DataDir: "./presale-data",
		Backend: "leveldb",
		Sale: Sale{
			Beneficiary:     "0x3A90582f1aea54bfe6A27bB4991A734477E08a19",
			PriceTokens:     "2500",
			PricePerPayment: "1",
			AffiliatePPM:    1_000_000,
			MinAllocation:   "200000000000000000",
			MaxAllocation:   "500000000000000000000",
			PurchaseCap:     "10000000000000000000000",
		},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	return persist(path, cfg)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
