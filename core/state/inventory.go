package state

import (
	"errors"
	"fmt"
	"math"

	"agora/core/events"
)

var (
	// ErrInventoryUnauthorized is returned when an operator moves units it
	// was not approved for.
	ErrInventoryUnauthorized = errors.New("inventory: operator not approved")
	// ErrInventoryInsufficient is returned when a holder lacks the units.
	ErrInventoryInsufficient = errors.New("inventory: insufficient balance")
)

// InventoryLedger is the multi-token unit ledger backing listed lots. It is a
// thin view over the state manager and shares its pending writes.
type InventoryLedger struct {
	manager *Manager
	emitter events.Emitter
}

// InventoryLedger returns the unit ledger bound to the manager.
func (m *Manager) InventoryLedger() *InventoryLedger {
	return &InventoryLedger{manager: m, emitter: events.NoopEmitter{}}
}

// SetEmitter routes approval and transfer events to emitter.
func (l *InventoryLedger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func inventoryBalanceKey(account [20]byte, lotID uint64) []byte {
	return concatKey(inventoryBalancePrefix, account[:], uint64Bytes(lotID))
}

func inventoryApprovalKey(owner, operator [20]byte) []byte {
	return concatKey(inventoryApprovalPrefix, owner[:], operator[:])
}

func inventoryURIKey(lotID uint64) []byte {
	return concatKey(inventoryURIPrefix, uint64Bytes(lotID))
}

func (l *InventoryLedger) BalanceOf(account [20]byte, lotID uint64) (uint64, error) {
	var balance uint64
	if _, err := l.manager.KVGet(inventoryBalanceKey(account, lotID), &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (l *InventoryLedger) setBalance(account [20]byte, lotID uint64, balance uint64) error {
	return l.manager.KVPut(inventoryBalanceKey(account, lotID), balance)
}

// Credit mints quantity units of lotID to account.
func (l *InventoryLedger) Credit(account [20]byte, lotID uint64, quantity uint64) error {
	if quantity == 0 {
		return fmt.Errorf("inventory: credit quantity must be positive")
	}
	balance, err := l.BalanceOf(account, lotID)
	if err != nil {
		return err
	}
	if balance > math.MaxUint64-quantity {
		return fmt.Errorf("inventory: balance overflow for lot %d", lotID)
	}
	if err := l.setBalance(account, lotID, balance+quantity); err != nil {
		return err
	}
	l.emitter.Emit(events.InventoryTransfer{To: account, LotID: lotID, Quantity: quantity})
	return nil
}

func (l *InventoryLedger) IsApprovedForAll(owner, operator [20]byte) (bool, error) {
	var approved bool
	if _, err := l.manager.KVGet(inventoryApprovalKey(owner, operator), &approved); err != nil {
		return false, err
	}
	return approved, nil
}

// SetApprovalForAll grants or revokes operator's right to move every unit
// owner holds.
func (l *InventoryLedger) SetApprovalForAll(owner, operator [20]byte, approved bool) error {
	if owner == operator {
		return fmt.Errorf("inventory: owner cannot approve itself")
	}
	if err := l.manager.KVPut(inventoryApprovalKey(owner, operator), approved); err != nil {
		return err
	}
	l.emitter.Emit(events.InventoryApproval{Owner: owner, Operator: operator, Approved: approved})
	return nil
}

// Transfer moves units between holders. operator must be from or hold an
// approval from it.
func (l *InventoryLedger) Transfer(operator, from, to [20]byte, lotID uint64, quantity uint64) error {
	if quantity == 0 {
		return fmt.Errorf("inventory: transfer quantity must be positive")
	}
	if operator != from {
		approved, err := l.IsApprovedForAll(from, operator)
		if err != nil {
			return err
		}
		if !approved {
			return ErrInventoryUnauthorized
		}
	}
	fromBalance, err := l.BalanceOf(from, lotID)
	if err != nil {
		return err
	}
	if fromBalance < quantity {
		return fmt.Errorf("%w: have %d, need %d", ErrInventoryInsufficient, fromBalance, quantity)
	}
	if from == to {
		return nil
	}
	toBalance, err := l.BalanceOf(to, lotID)
	if err != nil {
		return err
	}
	if toBalance > math.MaxUint64-quantity {
		return fmt.Errorf("inventory: balance overflow for lot %d", lotID)
	}
	if err := l.setBalance(from, lotID, fromBalance-quantity); err != nil {
		return err
	}
	if err := l.setBalance(to, lotID, toBalance+quantity); err != nil {
		return err
	}
	l.emitter.Emit(events.InventoryTransfer{Operator: operator, From: from, To: to, LotID: lotID, Quantity: quantity})
	return nil
}

func (l *InventoryLedger) SetURI(lotID uint64, uri string) error {
	return l.manager.KVPut(inventoryURIKey(lotID), uri)
}

func (l *InventoryLedger) URI(lotID uint64) (string, error) {
	var uri string
	if _, err := l.manager.KVGet(inventoryURIKey(lotID), &uri); err != nil {
		return "", err
	}
	return uri, nil
}
