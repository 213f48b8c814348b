package params

import (
	"testing"

	"agora/config"
)

type memoryState struct {
	values map[string][]byte
}

func newMemoryState() *memoryState { return &memoryState{values: map[string][]byte{}} }

func (m *memoryState) ParamStoreSet(name string, value []byte) error {
	m.values[name] = append([]byte(nil), value...)
	return nil
}

func (m *memoryState) ParamStoreGet(name string) ([]byte, bool, error) {
	v, ok := m.values[name]
	return v, ok, nil
}

func TestStorePausesRoundTrip(t *testing.T) {
	store := NewStore(newMemoryState())
	if store.IsPaused("market") {
		t.Fatalf("expected market unpaused before any toggle")
	}
	if err := store.SetPauses(config.Pauses{Market: true}); err != nil {
		t.Fatalf("set pauses: %v", err)
	}
	if !store.IsPaused("market") {
		t.Fatalf("expected market paused")
	}
	if store.IsPaused("transfer") || store.IsPaused("unknown") {
		t.Fatalf("unexpected pause for other modules")
	}
}

func TestStoreCorruptPausesFailClosed(t *testing.T) {
	state := newMemoryState()
	state.values[ParamsKeyPauses] = []byte("{not json")
	store := NewStore(state)
	if !store.IsPaused("market") {
		t.Fatalf("expected corrupted pauses to report paused")
	}
}

func TestStoreMarketAndAdmin(t *testing.T) {
	store := NewStore(newMemoryState())
	if _, ok, err := store.Market(); err != nil || ok {
		t.Fatalf("expected unset market, ok=%v err=%v", ok, err)
	}
	want := config.Market{MarginRateBps: 2000, FeeRateBps: 20, ReturnPeriodBlocks: 5}
	if err := store.SetMarket(want); err != nil {
		t.Fatalf("set market: %v", err)
	}
	got, ok, err := store.Market()
	if err != nil || !ok || got != want {
		t.Fatalf("unexpected market %+v ok=%v err=%v", got, ok, err)
	}

	admin := [20]byte{0xAA}
	if err := store.SetMarketAdmin(admin); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	loaded, err := store.MarketAdmin()
	if err != nil || loaded != admin {
		t.Fatalf("unexpected admin %x err=%v", loaded, err)
	}
}

func TestStoreWithoutState(t *testing.T) {
	var store *Store
	if _, err := store.Pauses(); err == nil {
		t.Fatalf("expected error without state")
	}
}

func TestStoreRoles(t *testing.T) {
	store := NewStore(newMemoryState())
	roles, err := store.Roles()
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	if roles != (Roles{}) {
		t.Fatalf("expected zero roles before genesis, got %+v", roles)
	}
	want := Roles{Treasury: [20]byte{0x01}, OracleAuthority: [20]byte{0x02}}
	if err := store.SetRoles(want); err != nil {
		t.Fatalf("set roles: %v", err)
	}
	got, err := store.Roles()
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}
