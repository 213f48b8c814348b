package types

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Call payloads are JSON encoded into Call.Data. Addresses use the bech32
// text form, amounts are decimal strings and digests are 0x-prefixed hex.

type TransferPayload struct {
	To string `json:"to"`
}

type SellPayload struct {
	Quantity    uint64 `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	MetadataURI string `json:"metadataUri,omitempty"`
}

type BuyPayload struct {
	LotID               uint64 `json:"lotId"`
	Quantity            uint64 `json:"quantity"`
	DeliveryAddressHash string `json:"deliveryAddressHash"`
}

type ShipPayload struct {
	LotID      uint64 `json:"lotId"`
	Buyer      string `json:"buyer"`
	TrackingID string `json:"trackingId"`
}

// DeliverPayload names the buyer of a forward shipment, or the seller to
// address the lot's in-flight return.
type DeliverPayload struct {
	LotID uint64 `json:"lotId"`
	Party string `json:"party"`
}

type SettlePayload struct {
	LotID        uint64 `json:"lotId"`
	Counterparty string `json:"counterparty"`
}

type LotPayload struct {
	LotID uint64 `json:"lotId"`
}

type ReturningPayload struct {
	LotID               uint64 `json:"lotId"`
	Quantity            uint64 `json:"quantity"`
	TrackingID          string `json:"trackingId"`
	DeliveryAddressHash string `json:"deliveryAddressHash"`
}

type RatePayload struct {
	Bps uint32 `json:"bps"`
}

type ReturnPeriodPayload struct {
	Blocks uint64 `json:"blocks"`
}

type TransferAdminPayload struct {
	NewAdmin string `json:"newAdmin"`
}

type SetPausedPayload struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type ApprovalPayload struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

type LogisticsStatusPayload struct {
	TrackingID string `json:"trackingId"`
	Status     string `json:"status"`
}

// NewCall builds an unsigned call with payload encoded into Data.
func NewCall(chainID uint64, callType CallType, nonce uint64, value *big.Int, payload interface{}) (*Call, error) {
	if !callType.Valid() {
		return nil, fmt.Errorf("types: unknown call type %d", callType)
	}
	call := &Call{ChainID: chainID, Type: callType, Nonce: nonce, Value: value}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("types: encode %s payload: %w", callType, err)
		}
		call.Data = data
	}
	return call, nil
}

// DecodePayload unmarshals the call data into out.
func (c *Call) DecodePayload(out interface{}) error {
	if len(c.Data) == 0 {
		return fmt.Errorf("types: %s call has no payload", c.Type)
	}
	if err := json.Unmarshal(c.Data, out); err != nil {
		return fmt.Errorf("types: decode %s payload: %w", c.Type, err)
	}
	return nil
}
