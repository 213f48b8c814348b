package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"agora/config"
)

// Spec describes the state written before the first call is applied.
type Spec struct {
	ChainID         uint64            `json:"chainId"`
	Admin           string            `json:"admin"`
	Treasury        string            `json:"treasury"`
	OracleAuthority string            `json:"oracleAuthority"`
	Market          config.Market     `json:"market"`
	Pauses          config.Pauses     `json:"pauses"`
	Alloc           map[string]string `json:"alloc"` // addr -> amount

	admin           [20]byte
	treasury        [20]byte
	oracleAuthority [20]byte
	allocations     []Allocation
	validated       bool
}

// Allocation is a resolved genesis balance.
type Allocation struct {
	Address [20]byte
	Amount  *big.Int
}

// FromConfig builds a spec from the node configuration.
func FromConfig(cfg *config.Config) (*Spec, error) {
	if cfg == nil {
		return nil, fmt.Errorf("genesis: config must not be nil")
	}
	spec := &Spec{
		ChainID:         cfg.ChainID,
		Admin:           cfg.Admin,
		Treasury:        cfg.Treasury,
		OracleAuthority: cfg.OracleAuthority,
		Market:          cfg.Global.Market,
		Pauses:          cfg.Global.Pauses,
		Alloc:           make(map[string]string, len(cfg.Genesis.Allocations)),
	}
	for _, alloc := range cfg.Genesis.Allocations {
		key := strings.TrimSpace(alloc.Address)
		if _, dup := spec.Alloc[key]; dup {
			return nil, fmt.Errorf("genesis: duplicate allocation for %s", key)
		}
		spec.Alloc[key] = alloc.Balance
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// LoadSpec reads a JSON genesis file. Unknown fields are rejected.
func LoadSpec(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec Spec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

// Validate resolves addresses and amounts. It must succeed before Build.
func (s *Spec) Validate() error {
	if s.ChainID == 0 {
		return fmt.Errorf("chainId must be positive")
	}
	var err error
	if s.admin, err = ParseAccount(s.Admin); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if s.treasury, err = ParseAccount(s.Treasury); err != nil {
		return fmt.Errorf("treasury: %w", err)
	}
	if s.oracleAuthority, err = ParseAccount(s.OracleAuthority); err != nil {
		return fmt.Errorf("oracleAuthority: %w", err)
	}
	if s.Market.MarginRateBps > config.MaxRateBps || s.Market.FeeRateBps > config.MaxRateBps {
		return fmt.Errorf("market rates must not exceed %d bps", config.MaxRateBps)
	}

	allocations := make([]Allocation, 0, len(s.Alloc))
	for addr, amount := range s.Alloc {
		account, err := ParseAccount(addr)
		if err != nil {
			return fmt.Errorf("alloc %s: %w", addr, err)
		}
		value, err := config.ParseAmount(amount)
		if err != nil {
			return fmt.Errorf("alloc %s: %w", addr, err)
		}
		allocations = append(allocations, Allocation{Address: account, Amount: value})
	}
	sort.Slice(allocations, func(i, j int) bool {
		return bytes.Compare(allocations[i].Address[:], allocations[j].Address[:]) < 0
	})
	for i := 1; i < len(allocations); i++ {
		if allocations[i].Address == allocations[i-1].Address {
			return fmt.Errorf("alloc: duplicate account %x", allocations[i].Address)
		}
	}
	s.allocations = allocations
	s.validated = true
	return nil
}

// Allocations returns the resolved balances ordered by address.
func (s *Spec) Allocations() []Allocation {
	out := make([]Allocation, len(s.allocations))
	for i, alloc := range s.allocations {
		out[i] = Allocation{Address: alloc.Address, Amount: new(big.Int).Set(alloc.Amount)}
	}
	return out
}

func (s *Spec) AdminAddress() [20]byte           { return s.admin }
func (s *Spec) TreasuryAddress() [20]byte        { return s.treasury }
func (s *Spec) OracleAuthorityAddress() [20]byte { return s.oracleAuthority }
