package market

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"agora/config"
	"agora/core/types"
	"agora/crypto"
)

const (
	EventTypeListingCreated       = "market.listing.created"
	EventTypeTradeOpened          = "market.trade.opened"
	EventTypeTradeShipped         = "market.trade.shipped"
	EventTypeTradeDelivered       = "market.trade.delivered"
	EventTypeTradeReturnDelivered = "market.trade.return_delivered"
	EventTypeTradeSettled         = "market.trade.settled"
	EventTypeTradeRefunded        = "market.trade.refunded"
	EventTypeTradeReturning       = "market.trade.returning"
	EventTypeMarginReleased       = "market.margin.released"
	EventTypeFeeCollected         = "market.fee.collected"
	EventTypeRatesUpdated         = "market.rates.updated"
	EventTypeAdminTransferred     = "market.admin.transferred"
)

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// NewListingCreatedEvent returns the payload for a new lot.
func NewListingCreatedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingCreated, l)
}

// NewMarginReleasedEvent returns the payload emitted when the seller reclaims
// margin. amount is the value released.
func NewMarginReleasedEvent(l *Listing, amount *big.Int) *types.Event {
	evt := newListingEvent(EventTypeMarginReleased, l)
	evt.Attributes["amount"] = cloneBigInt(amount).String()
	return evt
}

// NewFeeCollectedEvent returns the payload emitted when a lot's fee escrow is
// swept to the treasury.
func NewFeeCollectedEvent(l *Listing, treasury [20]byte, amount *big.Int) *types.Event {
	evt := newListingEvent(EventTypeFeeCollected, l)
	evt.Attributes["treasury"] = formatAddress(treasury)
	evt.Attributes["amount"] = cloneBigInt(amount).String()
	return evt
}

func NewTradeOpenedEvent(t *Trade) *types.Event { return newTradeEvent(EventTypeTradeOpened, t) }

func NewTradeShippedEvent(t *Trade) *types.Event { return newTradeEvent(EventTypeTradeShipped, t) }

func NewTradeDeliveredEvent(t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeDelivered, t)
}

func NewTradeReturnDeliveredEvent(t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeReturnDelivered, t)
}

// NewTradeSettledEvent records who received the released payment.
func NewTradeSettledEvent(t *Trade, payee [20]byte, amount *big.Int) *types.Event {
	evt := newTradeEvent(EventTypeTradeSettled, t)
	evt.Attributes["payee"] = formatAddress(payee)
	evt.Attributes["amount"] = cloneBigInt(amount).String()
	return evt
}

func NewTradeRefundedEvent(t *Trade, amount *big.Int) *types.Event {
	evt := newTradeEvent(EventTypeTradeRefunded, t)
	evt.Attributes["amount"] = cloneBigInt(amount).String()
	return evt
}

func NewTradeReturningEvent(t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeReturning, t)
}

func NewRatesUpdatedEvent(m config.Market) *types.Event {
	return &types.Event{
		Type: EventTypeRatesUpdated,
		Attributes: map[string]string{
			"marginRateBps":      strconv.FormatUint(uint64(m.MarginRateBps), 10),
			"feeRateBps":         strconv.FormatUint(uint64(m.FeeRateBps), 10),
			"returnPeriodBlocks": strconv.FormatUint(m.ReturnPeriodBlocks, 10),
		},
	}
}

func NewAdminTransferredEvent(previous, next [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeAdminTransferred,
		Attributes: map[string]string{
			"previous": formatAddress(previous),
			"admin":    formatAddress(next),
		},
	}
}

func newListingEvent(eventType string, l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["lotId"] = strconv.FormatUint(sanitized.LotID, 10)
	attrs["seller"] = formatAddress(sanitized.Seller)
	attrs["unitPrice"] = sanitized.UnitPrice.String()
	attrs["totalQuantity"] = strconv.FormatUint(sanitized.TotalQuantity, 10)
	attrs["quantitySold"] = strconv.FormatUint(sanitized.QuantitySold, 10)
	attrs["marginEscrow"] = sanitized.MarginEscrow.String()
	attrs["feeEscrow"] = sanitized.FeeEscrow.String()
	attrs["marginRateBps"] = strconv.FormatUint(uint64(sanitized.MarginRateBps), 10)
	attrs["feeRateBps"] = strconv.FormatUint(uint64(sanitized.FeeRateBps), 10)
	if sanitized.MetadataURI != "" {
		attrs["metadataUri"] = sanitized.MetadataURI
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// Only the digest of the tracking id is published.
func newTradeEvent(eventType string, t *Trade) *types.Event {
	attrs := make(map[string]string)
	if t == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeTrade(t)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["lotId"] = strconv.FormatUint(sanitized.LotID, 10)
	attrs["seq"] = strconv.FormatUint(sanitized.Seq, 10)
	attrs["buyer"] = formatAddress(sanitized.Buyer)
	attrs["quantity"] = strconv.FormatUint(sanitized.Quantity, 10)
	attrs["paymentEscrow"] = sanitized.PaymentEscrow.String()
	attrs["direction"] = sanitized.Direction.String()
	attrs["state"] = sanitized.State.String()
	if sanitized.TrackingID != "" {
		attrs["trackingHash"] = "0x" + hex.EncodeToString(TrackingKey(sanitized.TrackingID).Bytes())
	}
	if sanitized.ShipTime != 0 {
		attrs["shipTime"] = strconv.FormatUint(sanitized.ShipTime, 10)
	}
	if sanitized.CompleteTime != 0 {
		attrs["completeTime"] = strconv.FormatUint(sanitized.CompleteTime, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAddress(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.MustNewAddress(crypto.AccountPrefix, addr[:]).String()
}
