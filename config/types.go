package config

// Market carries the marketplace rates applied at genesis. Rates are basis
// points with two implied decimals (2000 = 20%).
type Market struct {
	MarginRateBps      uint32 `toml:"MarginRateBps" json:"marginRateBps"`
	FeeRateBps         uint32 `toml:"FeeRateBps" json:"feeRateBps"`
	ReturnPeriodBlocks uint64 `toml:"ReturnPeriodBlocks" json:"returnPeriodBlocks"`
}

// Pauses toggles state-mutating entry points per module.
type Pauses struct {
	Market   bool `toml:"Market" json:"market"`
	Transfer bool `toml:"Transfer" json:"transfer"`
}

// Quota defines rate limits for call submission on a per-address basis.
type Quota struct {
	MaxRequestsPerEpoch uint32 `toml:"MaxRequestsPerEpoch"`
	EpochSeconds        uint32 `toml:"EpochSeconds"`
}

// RPC controls the public HTTP surface.
type RPC struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
	MaxBodyBytes      int64   `toml:"MaxBodyBytes"`
	CallQuota         Quota   `toml:"CallQuota"`
}

// Global groups the policy knobs that must validate before the node starts.
type Global struct {
	Market Market `toml:"market"`
	Pauses Pauses `toml:"pauses"`
	RPC    RPC    `toml:"rpc"`
}

// Allocation seeds an account balance at genesis.
type Allocation struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

// Genesis lists the accounts funded on first start.
type Genesis struct {
	Allocations []Allocation `toml:"Allocations"`
}

// Telemetry configures OTLP export. An empty endpoint disables it.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
}

func defaultGlobalConfig() Global {
	return Global{
		Market: Market{
			MarginRateBps:      2000,
			FeeRateBps:         20,
			ReturnPeriodBlocks: 0,
		},
		RPC: RPC{
			RequestsPerSecond: 20,
			Burst:             40,
			MaxBodyBytes:      1 << 20,
			CallQuota: Quota{
				MaxRequestsPerEpoch: 120,
				EpochSeconds:        60,
			},
		},
	}
}
