package genesis

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"agora/core/state"
	"agora/core/types"
	"agora/native/market"
	"agora/native/params"
	"agora/storage"
	"agora/storage/trie"
)

// Build writes the genesis state described by spec into db and returns the
// committed root at height 0.
func Build(spec *Spec, db storage.Database) (common.Hash, error) {
	if spec == nil {
		return common.Hash{}, fmt.Errorf("genesis spec must not be nil")
	}
	if db == nil {
		return common.Hash{}, fmt.Errorf("database must not be nil")
	}
	if !spec.validated {
		if err := spec.Validate(); err != nil {
			return common.Hash{}, err
		}
	}

	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		return common.Hash{}, err
	}
	manager := state.NewManager(tr)

	for _, alloc := range spec.Allocations() {
		if err := manager.PutAccount(alloc.Address[:], &types.Account{Balance: alloc.Amount}); err != nil {
			return common.Hash{}, fmt.Errorf("genesis alloc %x: %w", alloc.Address, err)
		}
	}

	store := params.NewStore(manager)
	if err := store.SetRoles(params.Roles{
		Treasury:        spec.TreasuryAddress(),
		OracleAuthority: spec.OracleAuthorityAddress(),
	}); err != nil {
		return common.Hash{}, err
	}
	if err := store.SetPauses(spec.Pauses); err != nil {
		return common.Hash{}, err
	}

	engine := market.NewEngine()
	engine.SetState(manager)
	if err := engine.Genesis(spec.AdminAddress(), spec.Market); err != nil {
		return common.Hash{}, fmt.Errorf("genesis market: %w", err)
	}
	if err := manager.SetHeight(0); err != nil {
		return common.Hash{}, err
	}
	return tr.Commit(0)
}
