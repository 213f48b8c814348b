package market

import (
	"fmt"
	"math/big"
	"strings"
)

// TradeState enumerates the lifecycle states of a trade.
type TradeState uint8

const (
	TradeStateUnknown TradeState = iota
	TradeAwaitingShipment
	TradeShipped
	TradeDelivered
	TradeReturnDelivered
	TradeSettled
	TradeRefunded
)

func (s TradeState) String() string {
	switch s {
	case TradeAwaitingShipment:
		return "awaiting_shipment"
	case TradeShipped:
		return "shipped"
	case TradeDelivered:
		return "delivered"
	case TradeReturnDelivered:
		return "return_delivered"
	case TradeSettled:
		return "settled"
	case TradeRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition can leave s.
func (s TradeState) Terminal() bool {
	return s == TradeSettled || s == TradeRefunded
}

func (s TradeState) Valid() bool {
	return s >= TradeAwaitingShipment && s <= TradeRefunded
}

// Direction records whose delivery a shipped trade is waiting on.
type Direction uint8

const (
	// ForwardDelivery moves goods from the seller to the buyer.
	ForwardDelivery Direction = iota
	// ReturnDelivery moves goods from the buyer back to the seller.
	ReturnDelivery
)

func (d Direction) String() string {
	if d == ReturnDelivery {
		return "return"
	}
	return "forward"
}

// DeliveryStatus is the carrier state reported by the logistics oracle.
type DeliveryStatus uint8

const (
	StatusNotFound DeliveryStatus = iota
	StatusInTransit
	StatusDelivered
	StatusException
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusInTransit:
		return "in_transit"
	case StatusDelivered:
		return "delivered"
	case StatusException:
		return "exception"
	default:
		return "not_found"
	}
}

// ParseDeliveryStatus accepts the names produced by String.
func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "not_found", "":
		return StatusNotFound, nil
	case "in_transit":
		return StatusInTransit, nil
	case "delivered":
		return StatusDelivered, nil
	case "exception":
		return StatusException, nil
	default:
		return StatusNotFound, fmt.Errorf("market: unknown delivery status %q", value)
	}
}

// Listing is one seller's batch offering. Escrow fields hold value owned by
// the engine vault until released.
type Listing struct {
	LotID          uint64
	Seller         [20]byte
	UnitPrice      *big.Int
	TotalQuantity  uint64
	QuantitySold   uint64
	MarginEscrow   *big.Int
	FeeEscrow      *big.Int
	MarginRateBps  uint32
	FeeRateBps     uint32
	MarginReleased bool
	FeeCollected   bool
	MetadataURI    string
	CreatedAt      uint64
}

// Available returns the units still open for purchase.
func (l *Listing) Available() uint64 {
	if l == nil || l.QuantitySold >= l.TotalQuantity {
		return 0
	}
	return l.TotalQuantity - l.QuantitySold
}

func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.UnitPrice = cloneBigInt(l.UnitPrice)
	clone.MarginEscrow = cloneBigInt(l.MarginEscrow)
	clone.FeeEscrow = cloneBigInt(l.FeeEscrow)
	return &clone
}

// Trade is one buyer's purchase against a listing. Seq distinguishes repeat
// purchases by the same buyer once an earlier trade has finished.
type Trade struct {
	LotID               uint64
	Seq                 uint64
	Buyer               [20]byte
	Quantity            uint64
	PaymentEscrow       *big.Int
	DeliveryAddressHash [32]byte
	TrackingID          string
	ShipTime            uint64
	CompleteTime        uint64
	Direction           Direction
	State               TradeState
	CreatedAt           uint64
}

func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	clone := *t
	clone.PaymentEscrow = cloneBigInt(t.PaymentEscrow)
	return &clone
}

// SanitizeListing validates a stored listing and fills nil amounts.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("market: nil listing")
	}
	out := l.Clone()
	if out.LotID == 0 {
		return nil, fmt.Errorf("market: listing lot id must be positive")
	}
	if out.QuantitySold > out.TotalQuantity {
		return nil, fmt.Errorf("market: listing %d sold %d of %d", out.LotID, out.QuantitySold, out.TotalQuantity)
	}
	for _, amt := range []*big.Int{out.UnitPrice, out.MarginEscrow, out.FeeEscrow} {
		if amt.Sign() < 0 {
			return nil, fmt.Errorf("market: listing %d has negative amount", out.LotID)
		}
	}
	return out, nil
}

// SanitizeTrade validates a stored trade and fills nil amounts.
func SanitizeTrade(t *Trade) (*Trade, error) {
	if t == nil {
		return nil, fmt.Errorf("market: nil trade")
	}
	out := t.Clone()
	if !out.State.Valid() {
		return nil, fmt.Errorf("market: trade %d/%x has invalid state %d", out.LotID, out.Buyer, out.State)
	}
	if out.Direction > ReturnDelivery {
		return nil, fmt.Errorf("market: trade %d/%x has invalid direction %d", out.LotID, out.Buyer, out.Direction)
	}
	if out.PaymentEscrow.Sign() < 0 {
		return nil, fmt.Errorf("market: trade %d/%x has negative escrow", out.LotID, out.Buyer)
	}
	return out, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
