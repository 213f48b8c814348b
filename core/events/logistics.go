package events

import (
	"encoding/hex"

	"agora/core/types"
)

const TypeLogisticsStatus = "logistics.status"

// LogisticsStatus is emitted when the oracle authority records a carrier
// status. Only the tracking id digest is published.
type LogisticsStatus struct {
	TrackingHash [32]byte
	Status       uint8
	Reporter     [20]byte
}

func (LogisticsStatus) EventType() string { return TypeLogisticsStatus }

func (e LogisticsStatus) Event() *types.Event {
	return &types.Event{
		Type: TypeLogisticsStatus,
		Attributes: map[string]string{
			"trackingHash": "0x" + hex.EncodeToString(e.TrackingHash[:]),
			"status":       formatUint(uint64(e.Status)),
			"reporter":     formatAddress(e.Reporter),
		},
	}
}
