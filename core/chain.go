package core

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"agora/storage"
)

var (
	chainTipKey      = []byte("chain/tip")
	chainHeightsKey  = []byte("chain/height/")
	errNoCommitments = errors.New("chain: no commitments recorded")
)

// Commitment records the state root produced at a height. CallHash is zero
// for genesis and for heights advanced without a call.
type Commitment struct {
	Height   uint64      `json:"height"`
	Root     common.Hash `json:"root"`
	CallHash common.Hash `json:"callHash"`
}

// Chain persists the committed root for every height so the host can reopen
// at its tip and serve historic roots.
type Chain struct {
	db  storage.Database
	mu  sync.RWMutex
	tip *Commitment
}

// OpenChain loads the tip from db. A fresh database has no tip.
func OpenChain(db storage.Database) (*Chain, error) {
	if db == nil {
		return nil, fmt.Errorf("chain: database must not be nil")
	}
	c := &Chain{db: db}
	ok, err := db.Has(chainTipKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return c, nil
	}
	raw, err := db.Get(chainTipKey)
	if err != nil {
		return nil, err
	}
	var tip Commitment
	if err := json.Unmarshal(raw, &tip); err != nil {
		return nil, fmt.Errorf("chain: decode tip: %w", err)
	}
	c.tip = &tip
	return c, nil
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(chainHeightsKey)+8)
	copy(key, chainHeightsKey)
	binary.BigEndian.PutUint64(key[len(chainHeightsKey):], height)
	return key
}

// Append records c as the new tip. Heights must be strictly increasing after
// the first record.
func (c *Chain) Append(commitment Commitment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tip != nil && commitment.Height <= c.tip.Height {
		return fmt.Errorf("chain: height %d does not extend tip %d", commitment.Height, c.tip.Height)
	}
	encoded, err := json.Marshal(commitment)
	if err != nil {
		return err
	}
	if err := c.db.Put(heightKey(commitment.Height), encoded); err != nil {
		return err
	}
	if err := c.db.Put(chainTipKey, encoded); err != nil {
		return err
	}
	tip := commitment
	c.tip = &tip
	return nil
}

// Tip returns the latest commitment.
func (c *Chain) Tip() (Commitment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tip == nil {
		return Commitment{}, errNoCommitments
	}
	return *c.tip, nil
}

func (c *Chain) Empty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip == nil
}

// At returns the commitment recorded at height. Heights skipped by
// AdvanceBlocks carry no record.
func (c *Chain) At(height uint64) (Commitment, bool, error) {
	ok, err := c.db.Has(heightKey(height))
	if err != nil || !ok {
		return Commitment{}, false, err
	}
	raw, err := c.db.Get(heightKey(height))
	if err != nil {
		return Commitment{}, false, err
	}
	var commitment Commitment
	if err := json.Unmarshal(raw, &commitment); err != nil {
		return Commitment{}, false, fmt.Errorf("chain: decode height %d: %w", height, err)
	}
	return commitment, true, nil
}
