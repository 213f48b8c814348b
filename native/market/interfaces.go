package market

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LogisticsOracle reports carrier status for a tracking id. Answers are
// untrusted beyond the terminal Delivered status; the engine only polls.
type LogisticsOracle interface {
	QueryStatus(trackingID string) (DeliveryStatus, error)
}

// InventoryLedger tracks per-account unit balances of each lot. Transfer
// succeeds only when operator is the owner or approved by it.
type InventoryLedger interface {
	Credit(account [20]byte, lotID uint64, quantity uint64) error
	BalanceOf(account [20]byte, lotID uint64) (uint64, error)
	IsApprovedForAll(owner, operator [20]byte) (bool, error)
	Transfer(operator, from, to [20]byte, lotID uint64, quantity uint64) error
	SetURI(lotID uint64, uri string) error
}

// TrackingKey is the registry key for a tracking id.
func TrackingKey(trackingID string) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(trackingID))
}
