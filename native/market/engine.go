package market

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"agora/config"
	"agora/core/events"
	"agora/core/types"
	"agora/crypto"
	nativecommon "agora/native/common"
	"agora/native/params"
)

const (
	moduleName = "market"
	// MaxMetadataURILength bounds the per-lot metadata pointer.
	MaxMetadataURILength = 512
	// MaxTrackingIDLength bounds carrier tracking ids.
	MaxTrackingIDLength = 128
)

var errNilClock = errors.New("market engine: clock not configured")

// VaultAddress is the custody account holding every escrowed amount and the
// units in transit.
func VaultAddress() [20]byte {
	var out [20]byte
	copy(out[:], crypto.ModuleAddress(moduleName).Bytes())
	return out
}

type engineState interface {
	params.StoreState
	MarketListingPut(*Listing) error
	MarketListingGet(lotID uint64) (*Listing, bool, error)
	MarketNextLotID() (uint64, error)
	MarketTradePut(*Trade) error
	MarketTradeGet(lotID uint64, buyer [20]byte) (*Trade, bool, error)
	MarketTradeBuyers(lotID uint64) ([][20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Engine runs the listing and trade lifecycle and is the only component that
// releases escrowed value. Every operation validates all preconditions before
// moving value or writing records.
type Engine struct {
	state     engineState
	inventory InventoryLedger
	oracle    LogisticsOracle
	emitter   events.Emitter
	treasury  [20]byte
	vault     [20]byte
	nowFn     func() uint64
	pauses    nativecommon.PauseView
}

// NewEngine creates a market engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		vault:   VaultAddress(),
	}
}

func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetInventory(ledger InventoryLedger) { e.inventory = ledger }

func (e *Engine) SetOracle(oracle LogisticsOracle) { e.oracle = oracle }

// SetFeeTreasury configures the account that receives swept fee escrow.
func (e *Engine) SetFeeTreasury(addr [20]byte) { e.treasury = addr }

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc configures the clock. The engine measures time in host blocks and
// treats 0 as "unset", so the clock must return heights starting at 1.
func (e *Engine) SetNowFunc(now func() uint64) { e.nowFn = now }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Vault returns the custody account address.
func (e *Engine) Vault() [20]byte { return e.vault }

// Rates exposes the rate configuration bound to the engine state.
func (e *Engine) Rates() *RateConfig {
	if e == nil || e.state == nil {
		return NewRateConfig(nil)
	}
	return NewRateConfig(e.state)
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: evt})
}

func (e *Engine) now() (uint64, error) {
	if e.nowFn == nil {
		return 0, errNilClock
	}
	now := e.nowFn()
	if now == 0 {
		return 0, errNilClock
	}
	return now, nil
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.inventory == nil {
		return errNilInventory
	}
	return nil
}

// --- rate administration ---

func (e *Engine) SetMarginRate(caller [20]byte, bps uint32) error {
	return e.updateRates(func(r *RateConfig) error { return r.SetMarginRate(caller, bps) })
}

func (e *Engine) SetFeeRate(caller [20]byte, bps uint32) error {
	return e.updateRates(func(r *RateConfig) error { return r.SetFeeRate(caller, bps) })
}

func (e *Engine) SetReturnPeriod(caller [20]byte, blocks uint64) error {
	return e.updateRates(func(r *RateConfig) error { return r.SetReturnPeriod(caller, blocks) })
}

func (e *Engine) TransferAdmin(caller, next [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.Rates().TransferAdmin(caller, next); err != nil {
		return err
	}
	e.emit(NewAdminTransferredEvent(caller, next))
	return nil
}

func (e *Engine) updateRates(apply func(*RateConfig) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	rates := e.Rates()
	if err := apply(rates); err != nil {
		return err
	}
	current, err := rates.Rates()
	if err != nil {
		return err
	}
	e.emit(NewRatesUpdatedEvent(current))
	return nil
}

// --- sale path ---

// Sell lists quantity units at unitPrice. value must equal margin+fee exactly,
// computed with the rates in force now. Returns the new lot id.
func (e *Engine) Sell(caller [20]byte, quantity uint64, unitPrice *big.Int, metadataURI string, value *big.Int) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if caller == ([20]byte{}) {
		return 0, fmt.Errorf("%w: seller required", ErrInvalidArgument)
	}
	if quantity == 0 {
		return 0, fmt.Errorf("%w: quantity must be positive", ErrInvalidArgument)
	}
	if unitPrice == nil || unitPrice.Sign() <= 0 {
		return 0, fmt.Errorf("%w: unit price must be positive", ErrInvalidArgument)
	}
	uri := strings.TrimSpace(metadataURI)
	if len(uri) > MaxMetadataURILength {
		return 0, fmt.Errorf("%w: metadata uri exceeds %d bytes", ErrInvalidArgument, MaxMetadataURILength)
	}
	rates, err := e.Rates().Rates()
	if err != nil {
		return 0, err
	}
	total, err := TotalPrice(quantity, unitPrice)
	if err != nil {
		return 0, err
	}
	margin, fee, err := MarginAndFee(total, rates.MarginRateBps, rates.FeeRateBps)
	if err != nil {
		return 0, err
	}
	required, err := SumAmounts(margin, fee)
	if err != nil {
		return 0, err
	}
	if err := requireExactValue(value, required); err != nil {
		return 0, err
	}
	now, err := e.now()
	if err != nil {
		return 0, err
	}
	if err := e.requireBalance(caller, required); err != nil {
		return 0, err
	}

	lotID, err := e.state.MarketNextLotID()
	if err != nil {
		return 0, err
	}
	listing := &Listing{
		LotID:         lotID,
		Seller:        caller,
		UnitPrice:     cloneBigInt(unitPrice),
		TotalQuantity: quantity,
		MarginEscrow:  margin,
		FeeEscrow:     fee,
		MarginRateBps: rates.MarginRateBps,
		FeeRateBps:    rates.FeeRateBps,
		MetadataURI:   uri,
		CreatedAt:     now,
	}
	if err := e.transferValue(caller, e.vault, required); err != nil {
		return 0, err
	}
	if err := e.state.MarketListingPut(listing); err != nil {
		return 0, err
	}
	if err := e.inventory.Credit(caller, lotID, quantity); err != nil {
		return 0, err
	}
	if uri != "" {
		if err := e.inventory.SetURI(lotID, uri); err != nil {
			return 0, err
		}
	}
	e.emit(NewListingCreatedEvent(listing))
	return lotID, nil
}

// --- purchase, shipment, delivery ---

// Buy opens a trade for quantity units. value must equal quantity*unitPrice.
func (e *Engine) Buy(caller [20]byte, lotID uint64, quantity uint64, deliveryAddressHash [32]byte, value *big.Int) (*Trade, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	listing, err := e.loadListing(lotID)
	if err != nil {
		return nil, err
	}
	if quantity == 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidArgument)
	}
	if caller == ([20]byte{}) {
		return nil, fmt.Errorf("%w: buyer required", ErrInvalidArgument)
	}
	if caller == listing.Seller {
		return nil, fmt.Errorf("%w: seller cannot buy own lot %d", ErrUnauthorized, lotID)
	}
	if listing.MarginReleased {
		return nil, fmt.Errorf("%w: lot %d is closed", ErrInvalidState, lotID)
	}
	previous, exists, err := e.state.MarketTradeGet(lotID, caller)
	if err != nil {
		return nil, err
	}
	if exists && !previous.State.Terminal() {
		return nil, fmt.Errorf("%w: open trade on lot %d in state %s", ErrDuplicateTrade, lotID, previous.State)
	}
	if quantity > listing.Available() {
		return nil, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientInventory, quantity, listing.Available())
	}
	payment, err := TotalPrice(quantity, listing.UnitPrice)
	if err != nil {
		return nil, err
	}
	if err := requireExactValue(value, payment); err != nil {
		return nil, err
	}
	now, err := e.now()
	if err != nil {
		return nil, err
	}
	if err := e.requireBalance(caller, payment); err != nil {
		return nil, err
	}

	seq := uint64(1)
	if exists {
		seq = previous.Seq + 1
	}
	trade := &Trade{
		LotID:               lotID,
		Seq:                 seq,
		Buyer:               caller,
		Quantity:            quantity,
		PaymentEscrow:       payment,
		DeliveryAddressHash: deliveryAddressHash,
		Direction:           ForwardDelivery,
		State:               TradeAwaitingShipment,
		CreatedAt:           now,
	}
	listing.QuantitySold += quantity
	if err := e.transferValue(caller, e.vault, payment); err != nil {
		return nil, err
	}
	if err := e.state.MarketListingPut(listing); err != nil {
		return nil, err
	}
	if err := e.state.MarketTradePut(trade); err != nil {
		return nil, err
	}
	e.emit(NewTradeOpenedEvent(trade))
	return trade.Clone(), nil
}

// Ship records the seller's forward shipment and takes the units into
// custody until delivery is confirmed.
func (e *Engine) Ship(caller [20]byte, lotID uint64, buyer [20]byte, trackingID string) (*Trade, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	listing, err := e.loadListing(lotID)
	if err != nil {
		return nil, err
	}
	if caller != listing.Seller {
		return nil, fmt.Errorf("%w: only the seller may ship lot %d", ErrUnauthorized, lotID)
	}
	trade, err := e.loadTrade(lotID, buyer)
	if err != nil {
		return nil, err
	}
	if trade.State != TradeAwaitingShipment {
		return nil, fmt.Errorf("%w: cannot ship from %s", ErrInvalidState, trade.State)
	}
	tracking, err := normalizeTrackingID(trackingID)
	if err != nil {
		return nil, err
	}
	if err := e.requireUndelivered(tracking); err != nil {
		return nil, err
	}
	if err := e.requireMovable(listing.Seller, lotID, trade.Quantity); err != nil {
		return nil, err
	}
	now, err := e.now()
	if err != nil {
		return nil, err
	}

	if err := e.inventory.Transfer(e.vault, listing.Seller, e.vault, lotID, trade.Quantity); err != nil {
		return nil, err
	}
	trade.TrackingID = tracking
	trade.ShipTime = now
	trade.CompleteTime = 0
	trade.Direction = ForwardDelivery
	trade.State = TradeShipped
	if err := e.state.MarketTradePut(trade); err != nil {
		return nil, err
	}
	e.emit(NewTradeShippedEvent(trade))
	return trade.Clone(), nil
}

// Deliver confirms an in-flight shipment against the logistics oracle. party
// names the trade's buyer; naming the lot's seller addresses the lot's single
// in-flight return. Anyone may call it.
func (e *Engine) Deliver(lotID uint64, party [20]byte) (*Trade, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.oracle == nil {
		return nil, errNilOracle
	}
	listing, err := e.loadListing(lotID)
	if err != nil {
		return nil, err
	}
	var trade *Trade
	if party == listing.Seller {
		trade, err = e.inFlightReturn(lotID)
	} else {
		trade, err = e.loadTrade(lotID, party)
	}
	if err != nil {
		return nil, err
	}
	if trade.State != TradeShipped {
		return nil, fmt.Errorf("%w: cannot deliver from %s", ErrInvalidState, trade.State)
	}
	status, err := e.oracle.QueryStatus(trade.TrackingID)
	if err != nil {
		return nil, fmt.Errorf("market: query logistics: %w", err)
	}
	if status != StatusDelivered {
		return nil, fmt.Errorf("%w: carrier reports %s", ErrNotYetDelivered, status)
	}
	now, err := e.now()
	if err != nil {
		return nil, err
	}

	switch trade.Direction {
	case ForwardDelivery:
		if err := e.inventory.Transfer(e.vault, e.vault, trade.Buyer, lotID, trade.Quantity); err != nil {
			return nil, err
		}
		trade.State = TradeDelivered
	case ReturnDelivery:
		if err := e.inventory.Transfer(e.vault, e.vault, listing.Seller, lotID, trade.Quantity); err != nil {
			return nil, err
		}
		trade.State = TradeReturnDelivered
	}
	trade.CompleteTime = now
	if err := e.state.MarketTradePut(trade); err != nil {
		return nil, err
	}
	if trade.State == TradeReturnDelivered {
		e.emit(NewTradeReturnDeliveredEvent(trade))
	} else {
		e.emit(NewTradeDeliveredEvent(trade))
	}
	return trade.Clone(), nil
}

// --- settlement, refund, return ---

// Settle releases a completed trade's payment to the party owed it: the
// seller after forward delivery (counterparty = buyer), the buyer after a
// return (counterparty = seller).
func (e *Engine) Settle(caller [20]byte, lotID uint64, counterparty [20]byte) (*Trade, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	listing, err := e.loadListing(lotID)
	if err != nil {
		return nil, err
	}
	buyer := caller
	if caller == listing.Seller {
		buyer = counterparty
	} else if counterparty != listing.Seller {
		return nil, fmt.Errorf("%w: counterparty must be the seller of lot %d", ErrUnauthorized, lotID)
	}
	trade, exists, err := e.state.MarketTradeGet(lotID, buyer)
	if err != nil {
		return nil, err
	}
	if !exists {
		if caller == listing.Seller {
			return nil, fmt.Errorf("%w: no trade on lot %d for buyer", ErrNotFound, lotID)
		}
		return nil, fmt.Errorf("%w: caller holds no trade on lot %d", ErrUnauthorized, lotID)
	}
	var entitled [20]byte
	switch trade.State {
	case TradeDelivered:
		entitled = listing.Seller
	case TradeReturnDelivered:
		entitled = trade.Buyer
	default:
		return nil, fmt.Errorf("%w: cannot settle from %s", ErrInvalidState, trade.State)
	}
	if caller != entitled {
		return nil, fmt.Errorf("%w: caller is not owed payment for this trade", ErrUnauthorized)
	}
	sweep, err := e.pendingFeeSweep(listing)
	if err != nil {
		return nil, err
	}

	payment := cloneBigInt(trade.PaymentEscrow)
	if err := e.transferValue(e.vault, caller, payment); err != nil {
		return nil, err
	}
	trade.PaymentEscrow = big.NewInt(0)
	trade.State = TradeSettled
	if err := e.state.MarketTradePut(trade); err != nil {
		return nil, err
	}
	if err := e.applyFeeSweep(listing, sweep); err != nil {
		return nil, err
	}
	e.emit(NewTradeSettledEvent(trade, caller, payment))
	return trade.Clone(), nil
}

// Refund returns the buyer's payment while the trade still awaits shipment
// and restores the units to the listing.
func (e *Engine) Refund(caller [20]byte, lotID uint64) (*Trade, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	listing, err := e.loadListing(lotID)
	if err != nil {
		return nil, err
	}
	trade, err := e.loadTrade(lotID, caller)
	if err != nil {
		return nil, err
	}
	if trade.State != TradeAwaitingShipment {
		return nil, fmt.Errorf("%w: cannot refund from %s", ErrInvalidState, trade.State)
	}
	if listing.QuantitySold < trade.Quantity {
		return nil, fmt.Errorf("%w: lot %d sold count below trade quantity", ErrInvalidState, lotID)
	}

	payment := cloneBigInt(trade.PaymentEscrow)
	if err := e.transferValue(e.vault, trade.Buyer, payment); err != nil {
		return nil, err
	}
	trade.PaymentEscrow = big.NewInt(0)
	trade.State = TradeRefunded
	listing.QuantitySold -= trade.Quantity
	if err := e.state.MarketTradePut(trade); err != nil {
		return nil, err
	}
	if err := e.state.MarketListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(NewTradeRefundedEvent(trade, payment))
	return trade.Clone(), nil
}

// Returning starts the return leg of a delivered trade. The buyer must have
// approved the engine to move the units. They move into engine custody here
// and on to the seller when Deliver confirms the return. The return needs its
// own tracking id; the forward id already reports delivered.
func (e *Engine) Returning(caller [20]byte, lotID uint64, quantity uint64, trackingID string, deliveryAddressHash [32]byte) (*Trade, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if _, err := e.loadListing(lotID); err != nil {
		return nil, err
	}
	trade, err := e.loadTrade(lotID, caller)
	if err != nil {
		return nil, err
	}
	if trade.State != TradeDelivered {
		return nil, fmt.Errorf("%w: cannot return from %s", ErrInvalidState, trade.State)
	}
	if quantity != trade.Quantity {
		return nil, fmt.Errorf("%w: return quantity %d must equal trade quantity %d", ErrInvalidArgument, quantity, trade.Quantity)
	}
	tracking, err := normalizeTrackingID(trackingID)
	if err != nil {
		return nil, err
	}
	if tracking == trade.TrackingID {
		return nil, fmt.Errorf("%w: return must not reuse the forward tracking id", ErrInvalidArgument)
	}
	if err := e.requireUndelivered(tracking); err != nil {
		return nil, err
	}
	now, err := e.now()
	if err != nil {
		return nil, err
	}
	period, err := e.Rates().ReturnPeriod()
	if err != nil {
		return nil, err
	}
	if period != 0 && (now < trade.CompleteTime || now-trade.CompleteTime > period) {
		return nil, fmt.Errorf("%w: delivered at %d, window %d, now %d", ErrReturnWindowExpired, trade.CompleteTime, period, now)
	}
	if err := e.requireMovable(trade.Buyer, lotID, trade.Quantity); err != nil {
		return nil, err
	}

	if err := e.inventory.Transfer(e.vault, trade.Buyer, e.vault, lotID, trade.Quantity); err != nil {
		return nil, err
	}
	trade.TrackingID = tracking
	trade.DeliveryAddressHash = deliveryAddressHash
	trade.ShipTime = now
	trade.CompleteTime = 0
	trade.Direction = ReturnDelivery
	trade.State = TradeShipped
	if err := e.state.MarketTradePut(trade); err != nil {
		return nil, err
	}
	e.emit(NewTradeReturningEvent(trade))
	return trade.Clone(), nil
}

// ReleaseMargin returns the seller's margin once every trade on the lot is
// terminal. It closes the lot to new purchases.
func (e *Engine) ReleaseMargin(caller [20]byte, lotID uint64) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	listing, err := e.loadListing(lotID)
	if err != nil {
		return nil, err
	}
	if caller != listing.Seller {
		return nil, fmt.Errorf("%w: only the seller may release margin on lot %d", ErrUnauthorized, lotID)
	}
	if listing.MarginReleased {
		return nil, fmt.Errorf("%w: margin already released for lot %d", ErrInvalidState, lotID)
	}
	open, err := e.openTrades(lotID)
	if err != nil {
		return nil, err
	}
	if open > 0 {
		return nil, fmt.Errorf("%w: %d trade(s) on lot %d not terminal", ErrOutstandingTrades, open, lotID)
	}
	sweep, err := e.pendingFeeSweep(listing)
	if err != nil {
		return nil, err
	}

	margin := cloneBigInt(listing.MarginEscrow)
	if err := e.transferValue(e.vault, listing.Seller, margin); err != nil {
		return nil, err
	}
	listing.MarginEscrow = big.NewInt(0)
	listing.MarginReleased = true
	if err := e.applyFeeSweep(listing, sweep); err != nil {
		return nil, err
	}
	if err := e.state.MarketListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(NewMarginReleasedEvent(listing, margin))
	return listing.Clone(), nil
}

// --- reads ---

// Listing returns the listing for lotID.
func (e *Engine) Listing(lotID uint64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadListing(lotID)
}

// Trade returns the buyer's most recent trade on lotID.
func (e *Engine) Trade(lotID uint64, buyer [20]byte) (*Trade, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadTrade(lotID, buyer)
}

// Trades returns the most recent trade of every buyer on lotID.
func (e *Engine) Trades(lotID uint64) ([]*Trade, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	buyers, err := e.state.MarketTradeBuyers(lotID)
	if err != nil {
		return nil, err
	}
	out := make([]*Trade, 0, len(buyers))
	for _, buyer := range buyers {
		trade, ok, err := e.state.MarketTradeGet(lotID, buyer)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, trade)
		}
	}
	return out, nil
}

// --- helpers ---

func (e *Engine) loadListing(lotID uint64) (*Listing, error) {
	listing, ok, err := e.state.MarketListingGet(lotID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: lot %d", ErrNotFound, lotID)
	}
	return SanitizeListing(listing)
}

func (e *Engine) loadTrade(lotID uint64, buyer [20]byte) (*Trade, error) {
	trade, ok, err := e.state.MarketTradeGet(lotID, buyer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no trade on lot %d for buyer", ErrNotFound, lotID)
	}
	return SanitizeTrade(trade)
}

// inFlightReturn finds the lot's unique trade whose return leg is shipped.
func (e *Engine) inFlightReturn(lotID uint64) (*Trade, error) {
	trades, err := e.Trades(lotID)
	if err != nil {
		return nil, err
	}
	var found *Trade
	for _, trade := range trades {
		if trade.Direction != ReturnDelivery || trade.State != TradeShipped {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: several returns in flight on lot %d; name the buyer", ErrInvalidState, lotID)
		}
		found = trade
	}
	if found == nil {
		return nil, fmt.Errorf("%w: no return in flight on lot %d", ErrNotFound, lotID)
	}
	return SanitizeTrade(found)
}

func (e *Engine) openTrades(lotID uint64) (int, error) {
	trades, err := e.Trades(lotID)
	if err != nil {
		return 0, err
	}
	open := 0
	for _, trade := range trades {
		if !trade.State.Terminal() {
			open++
		}
	}
	return open, nil
}

// pendingFeeSweep returns the fee amount the next settlement or margin release
// must move to the treasury, or nil when there is nothing to sweep.
func (e *Engine) pendingFeeSweep(listing *Listing) (*big.Int, error) {
	if listing.FeeCollected {
		return nil, nil
	}
	fee := cloneBigInt(listing.FeeEscrow)
	if fee.Sign() > 0 && e.treasury == ([20]byte{}) {
		return nil, errNilTreasury
	}
	return fee, nil
}

func (e *Engine) applyFeeSweep(listing *Listing, fee *big.Int) error {
	if fee == nil {
		return nil
	}
	if fee.Sign() > 0 {
		if err := e.transferValue(e.vault, e.treasury, fee); err != nil {
			return err
		}
	}
	listing.FeeEscrow = big.NewInt(0)
	listing.FeeCollected = true
	if err := e.state.MarketListingPut(listing); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		e.emit(NewFeeCollectedEvent(listing, e.treasury, fee))
	}
	return nil
}

// requireUndelivered rejects a tracking id the oracle already reports as
// delivered, so a shipment cannot complete without moving.
func (e *Engine) requireUndelivered(trackingID string) error {
	if e.oracle == nil {
		return errNilOracle
	}
	status, err := e.oracle.QueryStatus(trackingID)
	if err != nil {
		return fmt.Errorf("market: query logistics: %w", err)
	}
	if status == StatusDelivered {
		return fmt.Errorf("%w: tracking id already reports delivered", ErrInvalidArgument)
	}
	return nil
}

// requireMovable checks that the engine may move quantity units of lotID out
// of owner's balance.
func (e *Engine) requireMovable(owner [20]byte, lotID uint64, quantity uint64) error {
	approved, err := e.inventory.IsApprovedForAll(owner, e.vault)
	if err != nil {
		return err
	}
	if !approved {
		return fmt.Errorf("%w: inventory owner has not approved the market", ErrUnauthorized)
	}
	balance, err := e.inventory.BalanceOf(owner, lotID)
	if err != nil {
		return err
	}
	if balance < quantity {
		return fmt.Errorf("%w: holder has %d of lot %d, needs %d", ErrInsufficientInventory, balance, lotID, quantity)
	}
	return nil
}

func (e *Engine) requireBalance(addr [20]byte, amount *big.Int) error {
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account = ensureAccount(account)
	if account.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance %s below %s", ErrInsufficientFunds, account.Balance, amount)
	}
	return nil
}

func (e *Engine) transferValue(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer amount", ErrInvalidArgument)
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("%w: balance %s below %s", ErrInsufficientFunds, fromAcc.Balance, amt)
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	toAcc = ensureAccount(toAcc)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	return e.state.PutAccount(to[:], toAcc)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func requireExactValue(value, required *big.Int) error {
	attached := cloneBigInt(value)
	if attached.Cmp(required) != 0 {
		return fmt.Errorf("%w: attached %s, required exactly %s", ErrInvalidPayment, attached, required)
	}
	return nil
}

func normalizeTrackingID(trackingID string) (string, error) {
	trimmed := strings.TrimSpace(trackingID)
	if trimmed == "" {
		return "", fmt.Errorf("%w: tracking id required", ErrInvalidArgument)
	}
	if len(trimmed) > MaxTrackingIDLength {
		return "", fmt.Errorf("%w: tracking id exceeds %d bytes", ErrInvalidArgument, MaxTrackingIDLength)
	}
	return trimmed, nil
}

// Genesis installs the administrator and rates on an empty state.
func (e *Engine) Genesis(admin [20]byte, market config.Market) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.Rates().Bootstrap(admin, market); err != nil {
		return err
	}
	e.emit(NewRatesUpdatedEvent(market))
	return nil
}
