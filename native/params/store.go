package params

import (
	"bytes"
	"encoding/json"
	"fmt"

	"agora/config"
)

// StoreState captures the subset of state manager capabilities required by the
// parameter helpers.
type StoreState interface {
	ParamStoreSet(name string, value []byte) error
	ParamStoreGet(name string) ([]byte, bool, error)
}

// Store provides typed accessors for administratively controlled parameters.
// Values are JSON encoded so they read the same in state dumps and RPC output.
type Store struct {
	state StoreState
}

func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("params: state not configured")
	}
	return s.state, nil
}

func (s *Store) put(key string, value interface{}) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("params: encode %s: %w", key, err)
	}
	return state.ParamStoreSet(key, encoded)
}

// get decodes key into out and reports whether a value was present.
func (s *Store) get(key string, out interface{}) (bool, error) {
	state, err := s.withState()
	if err != nil {
		return false, err
	}
	raw, ok, err := state.ParamStoreGet(key)
	if err != nil {
		return false, err
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("params: decode %s: %w", key, err)
	}
	return true, nil
}

// SetPauses persists the supplied pause configuration.
func (s *Store) SetPauses(pauses config.Pauses) error {
	return s.put(ParamsKeyPauses, pauses)
}

// Pauses loads the persisted pause configuration. When unset, a zero-value
// configuration is returned.
func (s *Store) Pauses() (config.Pauses, error) {
	var pauses config.Pauses
	if _, err := s.get(ParamsKeyPauses, &pauses); err != nil {
		return config.Pauses{}, err
	}
	return pauses, nil
}

// IsPaused implements the pause view consumed by module guards. Read errors
// are treated as paused so a corrupted toggle fails closed.
func (s *Store) IsPaused(module string) bool {
	pauses, err := s.Pauses()
	if err != nil {
		return true
	}
	switch module {
	case "market":
		return pauses.Market
	case "transfer":
		return pauses.Transfer
	default:
		return false
	}
}

func (s *Store) SetMarket(market config.Market) error {
	return s.put(ParamsKeyMarket, market)
}

// Market loads the marketplace rates. The boolean is false before genesis
// has written them.
func (s *Store) Market() (config.Market, bool, error) {
	var market config.Market
	ok, err := s.get(ParamsKeyMarket, &market)
	if err != nil {
		return config.Market{}, false, err
	}
	return market, ok, nil
}

func (s *Store) SetMarketAdmin(admin [20]byte) error {
	return s.put(ParamsKeyMarketAdmin, admin[:])
}

// MarketAdmin returns the rate administrator, or the zero address when unset.
func (s *Store) MarketAdmin() ([20]byte, error) {
	var raw []byte
	ok, err := s.get(ParamsKeyMarketAdmin, &raw)
	if err != nil || !ok {
		return [20]byte{}, err
	}
	if len(raw) != 20 {
		return [20]byte{}, fmt.Errorf("params: decode %s: expected 20 bytes, got %d", ParamsKeyMarketAdmin, len(raw))
	}
	var admin [20]byte
	copy(admin[:], raw)
	return admin, nil
}

// Roles names the accounts holding host-level capabilities outside the rate
// administrator.
type Roles struct {
	Treasury        [20]byte
	OracleAuthority [20]byte
}

type storedRoles struct {
	Treasury        []byte `json:"treasury"`
	OracleAuthority []byte `json:"oracleAuthority"`
}

func (s *Store) SetRoles(roles Roles) error {
	return s.put(ParamsKeyRoles, storedRoles{
		Treasury:        roles.Treasury[:],
		OracleAuthority: roles.OracleAuthority[:],
	})
}

// Roles returns the configured roles. Unset roles are zero addresses.
func (s *Store) Roles() (Roles, error) {
	var stored storedRoles
	ok, err := s.get(ParamsKeyRoles, &stored)
	if err != nil || !ok {
		return Roles{}, err
	}
	var roles Roles
	for _, field := range []struct {
		raw []byte
		dst *[20]byte
	}{
		{stored.Treasury, &roles.Treasury},
		{stored.OracleAuthority, &roles.OracleAuthority},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if len(field.raw) != 20 {
			return Roles{}, fmt.Errorf("params: decode %s: expected 20 bytes, got %d", ParamsKeyRoles, len(field.raw))
		}
		copy(field.dst[:], field.raw)
	}
	return roles, nil
}
