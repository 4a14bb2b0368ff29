package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"daopresale/native/presale"
)

// SaleConfig parses and validates the Sale block into engine parameters.
func (c *Config) SaleConfig() (*presale.SaleConfig, error) {
	if c == nil {
		return nil, fmt.Errorf("config: nil config")
	}
	beneficiary, err := parseAddress("Sale.Beneficiary", c.Sale.Beneficiary)
	if err != nil {
		return nil, err
	}
	cfg := &presale.SaleConfig{Beneficiary: beneficiary, AffiliatePPM: c.Sale.AffiliatePPM}
	if cfg.Price.Tokens, err = parseAmount("Sale.PriceTokens", c.Sale.PriceTokens); err != nil {
		return nil, err
	}
	if cfg.Price.PerPayment, err = parseAmount("Sale.PricePerPayment", c.Sale.PricePerPayment); err != nil {
		return nil, err
	}
	if cfg.MinAllocation, err = parseAmount("Sale.MinAllocation", c.Sale.MinAllocation); err != nil {
		return nil, err
	}
	if cfg.MaxAllocation, err = parseAmount("Sale.MaxAllocation", c.Sale.MaxAllocation); err != nil {
		return nil, err
	}
	if cfg.PurchaseCap, err = parseAmount("Sale.PurchaseCap", c.Sale.PurchaseCap); err != nil {
		return nil, err
	}
	if err := presale.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AdminAddress parses the configured upgrade admin.
func (c *Config) AdminAddress() (common.Address, error) {
	if c == nil {
		return common.Address{}, fmt.Errorf("config: nil config")
	}
	return parseAddress("Admin", c.Admin)
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s: %q is not a hex address", field, raw)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("invalid %s: zero address", field)
	}
	return addr, nil
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("invalid %s: value required", field)
	}
	v, err := presale.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return v, nil
}
