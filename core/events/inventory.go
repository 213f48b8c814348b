package events

import (
	"strconv"

	"agora/core/types"
)

const (
	TypeInventoryApproval = "inventory.approval"
	TypeInventoryTransfer = "inventory.transfer"
)

// InventoryApproval records an owner granting or revoking an operator's right
// to move every lot the owner holds.
type InventoryApproval struct {
	Owner    [20]byte
	Operator [20]byte
	Approved bool
}

func (InventoryApproval) EventType() string { return TypeInventoryApproval }

func (e InventoryApproval) Event() *types.Event {
	return &types.Event{
		Type: TypeInventoryApproval,
		Attributes: map[string]string{
			"owner":    formatAddress(e.Owner),
			"operator": formatAddress(e.Operator),
			"approved": strconv.FormatBool(e.Approved),
		},
	}
}

// InventoryTransfer records units of a lot moving between holders. A zero
// From marks units credited at listing time.
type InventoryTransfer struct {
	Operator [20]byte
	From     [20]byte
	To       [20]byte
	LotID    uint64
	Quantity uint64
}

func (InventoryTransfer) EventType() string { return TypeInventoryTransfer }

func (e InventoryTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeInventoryTransfer,
		Attributes: map[string]string{
			"operator": formatAddress(e.Operator),
			"from":     formatAddress(e.From),
			"to":       formatAddress(e.To),
			"lotId":    formatUint(e.LotID),
			"quantity": formatUint(e.Quantity),
		},
	}
}
