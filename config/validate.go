package config

import (
	"fmt"
	"math/big"
	"strings"

	"agora/crypto"
)

// MaxRateBps is the upper bound for any rate expressed in basis points.
const MaxRateBps = 10_000

func ValidateConfig(g Global) error {
	if g.Market.MarginRateBps > MaxRateBps {
		return fmt.Errorf("market: margin_rate_bps > %d", MaxRateBps)
	}
	if g.Market.FeeRateBps > MaxRateBps {
		return fmt.Errorf("market: fee_rate_bps > %d", MaxRateBps)
	}
	if g.RPC.RequestsPerSecond < 0 {
		return fmt.Errorf("rpc: requests_per_second < 0")
	}
	if g.RPC.RequestsPerSecond > 0 && g.RPC.Burst <= 0 {
		return fmt.Errorf("rpc: burst <= 0")
	}
	if g.RPC.MaxBodyBytes <= 0 {
		return fmt.Errorf("rpc: max_body_bytes <= 0")
	}
	if g.RPC.CallQuota.MaxRequestsPerEpoch > 0 && g.RPC.CallQuota.EpochSeconds == 0 {
		return fmt.Errorf("rpc: call_quota epoch_seconds == 0")
	}
	return nil
}

// ValidateRoles checks the addresses that hold administrative capabilities.
func ValidateRoles(cfg *Config) error {
	roles := []struct {
		name  string
		value string
	}{
		{"Admin", cfg.Admin},
		{"Treasury", cfg.Treasury},
		{"OracleAuthority", cfg.OracleAuthority},
	}
	for _, role := range roles {
		if strings.TrimSpace(role.value) == "" {
			return fmt.Errorf("%s must be set", role.name)
		}
		if _, err := crypto.DecodeAddress(role.value); err != nil {
			return fmt.Errorf("invalid %s: %w", role.name, err)
		}
	}
	for i, alloc := range cfg.Genesis.Allocations {
		if _, err := crypto.DecodeAddress(alloc.Address); err != nil {
			return fmt.Errorf("genesis allocation %d: %w", i, err)
		}
		if _, err := ParseAmount(alloc.Balance); err != nil {
			return fmt.Errorf("genesis allocation %d: %w", i, err)
		}
	}
	return nil
}

// ParseAmount parses a non-negative base-10 integer amount.
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", value)
	}
	return amount, nil
}
