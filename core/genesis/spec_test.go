package genesis

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agora/config"
	"agora/core/state"
	"agora/crypto"
	"agora/native/market"
	"agora/native/params"
	"agora/storage"
	"agora/storage/trie"
)

func testAddress(b byte) string {
	return crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{b}, 20)).String()
}

func validSpec() *Spec {
	return &Spec{
		ChainID:         7,
		Admin:           testAddress(0x01),
		Treasury:        testAddress(0x02),
		OracleAuthority: testAddress(0x03),
		Market:          config.Market{MarginRateBps: 2000, FeeRateBps: 20, ReturnPeriodBlocks: 50},
		Alloc: map[string]string{
			testAddress(0x05): "1000",
			testAddress(0x04): "250",
		},
	}
}

func TestValidateOrdersAllocations(t *testing.T) {
	spec := validSpec()
	if err := spec.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	allocs := spec.Allocations()
	if len(allocs) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocs))
	}
	if allocs[0].Address[0] != 0x04 || allocs[0].Amount.String() != "250" {
		t.Fatalf("unexpected first allocation %+v", allocs[0])
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	cases := map[string]func(*Spec){
		"zero chain":     func(s *Spec) { s.ChainID = 0 },
		"missing admin":  func(s *Spec) { s.Admin = "" },
		"module oracle":  func(s *Spec) { s.OracleAuthority = crypto.ModuleAddress("market").String() },
		"rate too large": func(s *Spec) { s.Market.FeeRateBps = config.MaxRateBps + 1 },
		"bad amount":     func(s *Spec) { s.Alloc[testAddress(0x06)] = "-5" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			spec := validSpec()
			mutate(spec)
			if err := spec.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadSpecRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	doc := `{"chainId":1,"admin":"` + testAddress(1) + `","treasury":"` + testAddress(2) +
		`","oracleAuthority":"` + testAddress(3) + `","validators":[]}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSpec(path); err == nil || !strings.Contains(err.Error(), "validators") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestFromConfigRejectsDuplicateAllocations(t *testing.T) {
	cfg := &config.Config{
		ChainID:         1,
		Admin:           testAddress(1),
		Treasury:        testAddress(2),
		OracleAuthority: testAddress(3),
		Genesis: config.Genesis{Allocations: []config.Allocation{
			{Address: testAddress(4), Balance: "1"},
			{Address: testAddress(4), Balance: "2"},
		}},
	}
	if _, err := FromConfig(cfg); err == nil {
		t.Fatalf("expected duplicate allocation error")
	}
}

func TestBuildWritesGenesisState(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	spec := validSpec()

	root, err := Build(spec, db)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	tr, err := trie.NewTrie(db, root.Bytes())
	if err != nil {
		t.Fatalf("open trie: %v", err)
	}
	manager := state.NewManager(tr)

	account, err := manager.GetAccount(bytes.Repeat([]byte{0x05}, 20))
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Balance.String() != "1000" {
		t.Fatalf("unexpected balance %s", account.Balance)
	}
	rates := market.NewRateConfig(manager)
	current, err := rates.Rates()
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if current != spec.Market {
		t.Fatalf("expected rates %+v, got %+v", spec.Market, current)
	}
	if ok, err := rates.IsAdmin(spec.AdminAddress()); err != nil || !ok {
		t.Fatalf("expected admin installed, ok=%v err=%v", ok, err)
	}
	roles, err := params.NewStore(manager).Roles()
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	if roles.Treasury != spec.TreasuryAddress() || roles.OracleAuthority != spec.OracleAuthorityAddress() {
		t.Fatalf("unexpected roles %+v", roles)
	}
}
