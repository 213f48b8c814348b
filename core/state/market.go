package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"agora/native/market"
)

type storedListing struct {
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

type storedTrade struct {
	LotID               uint64
	Seq                 uint64
	Buyer               [20]byte
	Quantity            uint64
	PaymentEscrow       *big.Int
	DeliveryAddressHash [32]byte
	TrackingID          string
	ShipTime            uint64
	CompleteTime        uint64
	Direction           uint8
	State               uint8
	CreatedAt           uint64
}

func uint64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func concatKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part)
	}
	key := make([]byte, 0, size)
	key = append(key, prefix...)
	for _, part := range parts {
		key = append(key, part...)
	}
	return key
}

func marketListingKey(lotID uint64) []byte {
	return concatKey(marketListingPrefix, uint64Bytes(lotID))
}

func marketTradeHeadKey(lotID uint64, buyer [20]byte) []byte {
	return concatKey(marketTradeHeadPrefix, uint64Bytes(lotID), buyer[:])
}

func marketTradeKey(lotID uint64, buyer [20]byte, seq uint64) []byte {
	return concatKey(marketTradePrefix, uint64Bytes(lotID), buyer[:], uint64Bytes(seq))
}

func marketBuyersKey(lotID uint64) []byte {
	return concatKey(marketBuyersPrefix, uint64Bytes(lotID))
}

func newStoredListing(l *market.Listing) *storedListing {
	return &storedListing{
		LotID:          l.LotID,
		Seller:         l.Seller,
		UnitPrice:      bigOrZero(l.UnitPrice),
		TotalQuantity:  l.TotalQuantity,
		QuantitySold:   l.QuantitySold,
		MarginEscrow:   bigOrZero(l.MarginEscrow),
		FeeEscrow:      bigOrZero(l.FeeEscrow),
		MarginRateBps:  l.MarginRateBps,
		FeeRateBps:     l.FeeRateBps,
		MarginReleased: l.MarginReleased,
		FeeCollected:   l.FeeCollected,
		MetadataURI:    l.MetadataURI,
		CreatedAt:      l.CreatedAt,
	}
}

func (s *storedListing) toListing() *market.Listing {
	return &market.Listing{
		LotID:          s.LotID,
		Seller:         s.Seller,
		UnitPrice:      bigOrZero(s.UnitPrice),
		TotalQuantity:  s.TotalQuantity,
		QuantitySold:   s.QuantitySold,
		MarginEscrow:   bigOrZero(s.MarginEscrow),
		FeeEscrow:      bigOrZero(s.FeeEscrow),
		MarginRateBps:  s.MarginRateBps,
		FeeRateBps:     s.FeeRateBps,
		MarginReleased: s.MarginReleased,
		FeeCollected:   s.FeeCollected,
		MetadataURI:    s.MetadataURI,
		CreatedAt:      s.CreatedAt,
	}
}

func newStoredTrade(t *market.Trade) *storedTrade {
	return &storedTrade{
		LotID:               t.LotID,
		Seq:                 t.Seq,
		Buyer:               t.Buyer,
		Quantity:            t.Quantity,
		PaymentEscrow:       bigOrZero(t.PaymentEscrow),
		DeliveryAddressHash: t.DeliveryAddressHash,
		TrackingID:          t.TrackingID,
		ShipTime:            t.ShipTime,
		CompleteTime:        t.CompleteTime,
		Direction:           uint8(t.Direction),
		State:               uint8(t.State),
		CreatedAt:           t.CreatedAt,
	}
}

func (s *storedTrade) toTrade() *market.Trade {
	return &market.Trade{
		LotID:               s.LotID,
		Seq:                 s.Seq,
		Buyer:               s.Buyer,
		Quantity:            s.Quantity,
		PaymentEscrow:       bigOrZero(s.PaymentEscrow),
		DeliveryAddressHash: s.DeliveryAddressHash,
		TrackingID:          s.TrackingID,
		ShipTime:            s.ShipTime,
		CompleteTime:        s.CompleteTime,
		Direction:           market.Direction(s.Direction),
		State:               market.TradeState(s.State),
		CreatedAt:           s.CreatedAt,
	}
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// MarketNextLotID allocates the next lot id. Ids start at 1.
func (m *Manager) MarketNextLotID() (uint64, error) {
	var last uint64
	if _, err := m.KVGet(marketNextLotKey, &last); err != nil {
		return 0, err
	}
	next := last + 1
	if err := m.KVPut(marketNextLotKey, next); err != nil {
		return 0, err
	}
	return next, nil
}

// MarketLotCount returns how many lots have been allocated.
func (m *Manager) MarketLotCount() (uint64, error) {
	var last uint64
	if _, err := m.KVGet(marketNextLotKey, &last); err != nil {
		return 0, err
	}
	return last, nil
}

func (m *Manager) MarketListingPut(l *market.Listing) error {
	if l == nil {
		return fmt.Errorf("market: nil listing")
	}
	sanitized, err := market.SanitizeListing(l)
	if err != nil {
		return err
	}
	return m.KVPut(marketListingKey(sanitized.LotID), newStoredListing(sanitized))
}

func (m *Manager) MarketListingGet(lotID uint64) (*market.Listing, bool, error) {
	var stored storedListing
	ok, err := m.KVGet(marketListingKey(lotID), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return stored.toListing(), true, nil
}

// MarketTradePut writes the trade record under its sequence number, points the
// (lot, buyer) head at it and indexes the buyer on the lot.
func (m *Manager) MarketTradePut(t *market.Trade) error {
	if t == nil {
		return fmt.Errorf("market: nil trade")
	}
	sanitized, err := market.SanitizeTrade(t)
	if err != nil {
		return err
	}
	if sanitized.Seq == 0 {
		return fmt.Errorf("market: trade sequence must be positive")
	}
	if err := m.KVPut(marketTradeKey(sanitized.LotID, sanitized.Buyer, sanitized.Seq), newStoredTrade(sanitized)); err != nil {
		return err
	}
	if err := m.KVPut(marketTradeHeadKey(sanitized.LotID, sanitized.Buyer), sanitized.Seq); err != nil {
		return err
	}
	return m.KVAppend(marketBuyersKey(sanitized.LotID), sanitized.Buyer[:])
}

// MarketTradeGet returns the buyer's most recent trade on the lot.
func (m *Manager) MarketTradeGet(lotID uint64, buyer [20]byte) (*market.Trade, bool, error) {
	var seq uint64
	ok, err := m.KVGet(marketTradeHeadKey(lotID, buyer), &seq)
	if err != nil || !ok {
		return nil, ok, err
	}
	return m.MarketTradeAt(lotID, buyer, seq)
}

// MarketTradeAt returns a specific trade in the buyer's history on the lot.
func (m *Manager) MarketTradeAt(lotID uint64, buyer [20]byte, seq uint64) (*market.Trade, bool, error) {
	var stored storedTrade
	ok, err := m.KVGet(marketTradeKey(lotID, buyer, seq), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return stored.toTrade(), true, nil
}

// MarketTradeHistory returns every trade the buyer opened on the lot, oldest
// first.
func (m *Manager) MarketTradeHistory(lotID uint64, buyer [20]byte) ([]*market.Trade, error) {
	head, ok, err := m.MarketTradeGet(lotID, buyer)
	if err != nil || !ok {
		return nil, err
	}
	history := make([]*market.Trade, 0, head.Seq)
	for seq := uint64(1); seq < head.Seq; seq++ {
		trade, ok, err := m.MarketTradeAt(lotID, buyer, seq)
		if err != nil {
			return nil, err
		}
		if ok {
			history = append(history, trade)
		}
	}
	return append(history, head), nil
}

// MarketTradeBuyers lists every buyer that has traded on the lot in first
// purchase order.
func (m *Manager) MarketTradeBuyers(lotID uint64) ([][20]byte, error) {
	var raw [][]byte
	if err := m.KVGetList(marketBuyersKey(lotID), &raw); err != nil {
		return nil, err
	}
	buyers := make([][20]byte, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 20 {
			return nil, fmt.Errorf("market: corrupt buyer index entry for lot %d", lotID)
		}
		var buyer [20]byte
		copy(buyer[:], entry)
		buyers = append(buyers, buyer)
	}
	return buyers, nil
}
