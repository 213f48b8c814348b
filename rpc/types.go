package rpc

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"agora/core"
	"agora/crypto"
	"agora/native/market"
)

// ListingView is the JSON form of a listing. Amounts are decimal strings in
// base units.
type ListingView struct {
	LotID          uint64 `json:"lotId"`
	Seller         string `json:"seller"`
	UnitPrice      string `json:"unitPrice"`
	TotalQuantity  uint64 `json:"totalQuantity"`
	QuantitySold   uint64 `json:"quantitySold"`
	Available      uint64 `json:"available"`
	MarginEscrow   string `json:"marginEscrow"`
	FeeEscrow      string `json:"feeEscrow"`
	MarginRateBps  uint32 `json:"marginRateBps"`
	FeeRateBps     uint32 `json:"feeRateBps"`
	MarginReleased bool   `json:"marginReleased"`
	FeeCollected   bool   `json:"feeCollected"`
	MetadataURI    string `json:"metadataUri,omitempty"`
	CreatedAt      uint64 `json:"createdAt"`
}

type TradeView struct {
	LotID               uint64 `json:"lotId"`
	Seq                 uint64 `json:"seq"`
	Buyer               string `json:"buyer"`
	Quantity            uint64 `json:"quantity"`
	PaymentEscrow       string `json:"paymentEscrow"`
	DeliveryAddressHash string `json:"deliveryAddressHash"`
	TrackingID          string `json:"trackingId,omitempty"`
	ShipTime            uint64 `json:"shipTime,omitempty"`
	CompleteTime        uint64 `json:"completeTime,omitempty"`
	Direction           string `json:"direction"`
	State               string `json:"state"`
	CreatedAt           uint64 `json:"createdAt"`
}

type AccountView struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type InventoryView struct {
	Address string `json:"address"`
	LotID   uint64 `json:"lotId"`
	Balance uint64 `json:"balance"`
}

type PausesView struct {
	Market   bool `json:"market"`
	Transfer bool `json:"transfer"`
}

// ParamsView reports the live rate configuration and role holders.
type ParamsView struct {
	MarginRateBps      uint32     `json:"marginRateBps"`
	FeeRateBps         uint32     `json:"feeRateBps"`
	ReturnPeriodBlocks uint64     `json:"returnPeriodBlocks"`
	Admin              string     `json:"admin"`
	Treasury           string     `json:"treasury"`
	OracleAuthority    string     `json:"oracleAuthority"`
	Vault              string     `json:"vault"`
	Pauses             PausesView `json:"pauses"`
}

type StatusView struct {
	ChainID   uint64 `json:"chainId"`
	Height    uint64 `json:"height"`
	StateRoot string `json:"stateRoot"`
}

type LogisticsView struct {
	TrackingID string `json:"trackingId"`
	Status     string `json:"status"`
}

// SubmitResult wraps the receipt of an accepted call.
type SubmitResult struct {
	Receipt *core.Receipt `json:"receipt"`
}

func formatAddress(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.AccountPrefix, addr[:]).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newListingView(l *market.Listing) ListingView {
	return ListingView{
		LotID:          l.LotID,
		Seller:         formatAddress(l.Seller),
		UnitPrice:      formatAmount(l.UnitPrice),
		TotalQuantity:  l.TotalQuantity,
		QuantitySold:   l.QuantitySold,
		Available:      l.Available(),
		MarginEscrow:   formatAmount(l.MarginEscrow),
		FeeEscrow:      formatAmount(l.FeeEscrow),
		MarginRateBps:  l.MarginRateBps,
		FeeRateBps:     l.FeeRateBps,
		MarginReleased: l.MarginReleased,
		FeeCollected:   l.FeeCollected,
		MetadataURI:    l.MetadataURI,
		CreatedAt:      l.CreatedAt,
	}
}

func newTradeView(t *market.Trade) TradeView {
	return TradeView{
		LotID:               t.LotID,
		Seq:                 t.Seq,
		Buyer:               formatAddress(t.Buyer),
		Quantity:            t.Quantity,
		PaymentEscrow:       formatAmount(t.PaymentEscrow),
		DeliveryAddressHash: hexutil.Encode(t.DeliveryAddressHash[:]),
		TrackingID:          t.TrackingID,
		ShipTime:            t.ShipTime,
		CompleteTime:        t.CompleteTime,
		Direction:           t.Direction.String(),
		State:               t.State.String(),
		CreatedAt:           t.CreatedAt,
	}
}

func newTradeViews(trades []*market.Trade) []TradeView {
	out := make([]TradeView, 0, len(trades))
	for _, trade := range trades {
		out = append(out, newTradeView(trade))
	}
	return out
}
