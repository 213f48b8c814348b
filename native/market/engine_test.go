package market

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"agora/config"
	"agora/core/events"
	"agora/core/types"
)

type mockState struct {
	listings map[uint64]*Listing
	trades   map[uint64]map[[20]byte]*Trade
	history  map[uint64]map[[20]byte][]*Trade
	buyers   map[uint64][][20]byte
	accounts map[[20]byte]*types.Account
	params   map[string][]byte
	nextLot  uint64
}

func newMockState() *mockState {
	return &mockState{
		listings: make(map[uint64]*Listing),
		trades:   make(map[uint64]map[[20]byte]*Trade),
		history:  make(map[uint64]map[[20]byte][]*Trade),
		buyers:   make(map[uint64][][20]byte),
		accounts: make(map[[20]byte]*types.Account),
		params:   make(map[string][]byte),
	}
}

func (m *mockState) ParamStoreSet(name string, value []byte) error {
	m.params[name] = append([]byte(nil), value...)
	return nil
}

func (m *mockState) ParamStoreGet(name string) ([]byte, bool, error) {
	v, ok := m.params[name]
	return v, ok, nil
}

func (m *mockState) MarketListingPut(l *Listing) error {
	m.listings[l.LotID] = l.Clone()
	return nil
}

func (m *mockState) MarketListingGet(lotID uint64) (*Listing, bool, error) {
	l, ok := m.listings[lotID]
	if !ok {
		return nil, false, nil
	}
	return l.Clone(), true, nil
}

func (m *mockState) MarketNextLotID() (uint64, error) {
	m.nextLot++
	return m.nextLot, nil
}

func (m *mockState) MarketTradePut(t *Trade) error {
	byBuyer, ok := m.trades[t.LotID]
	if !ok {
		byBuyer = make(map[[20]byte]*Trade)
		m.trades[t.LotID] = byBuyer
		m.history[t.LotID] = make(map[[20]byte][]*Trade)
	}
	if _, seen := byBuyer[t.Buyer]; !seen {
		m.buyers[t.LotID] = append(m.buyers[t.LotID], t.Buyer)
	}
	byBuyer[t.Buyer] = t.Clone()
	hist := m.history[t.LotID][t.Buyer]
	if n := len(hist); n > 0 && hist[n-1].Seq == t.Seq {
		hist[n-1] = t.Clone()
	} else {
		hist = append(hist, t.Clone())
	}
	m.history[t.LotID][t.Buyer] = hist
	return nil
}

func (m *mockState) MarketTradeGet(lotID uint64, buyer [20]byte) (*Trade, bool, error) {
	t, ok := m.trades[lotID][buyer]
	if !ok {
		return nil, false, nil
	}
	return t.Clone(), true, nil
}

func (m *mockState) MarketTradeBuyers(lotID uint64) ([][20]byte, error) {
	return append([][20]byte(nil), m.buyers[lotID]...), nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	return m.accounts[key].Copy(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = account.Copy()
	return nil
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	return m.accounts[addr].Copy().Balance
}

func (m *mockState) setBalance(addr [20]byte, amount *big.Int) {
	m.accounts[addr] = &types.Account{Balance: new(big.Int).Set(amount)}
}

type inventoryKey struct {
	account [20]byte
	lot     uint64
}

type mockInventory struct {
	balances  map[inventoryKey]uint64
	approvals map[[2][20]byte]bool
	uris      map[uint64]string
	credits   int
}

func newMockInventory() *mockInventory {
	return &mockInventory{
		balances:  make(map[inventoryKey]uint64),
		approvals: make(map[[2][20]byte]bool),
		uris:      make(map[uint64]string),
	}
}

func (m *mockInventory) Credit(account [20]byte, lotID uint64, quantity uint64) error {
	m.balances[inventoryKey{account, lotID}] += quantity
	m.credits++
	return nil
}

func (m *mockInventory) BalanceOf(account [20]byte, lotID uint64) (uint64, error) {
	return m.balances[inventoryKey{account, lotID}], nil
}

func (m *mockInventory) IsApprovedForAll(owner, operator [20]byte) (bool, error) {
	return m.approvals[[2][20]byte{owner, operator}], nil
}

func (m *mockInventory) approve(owner, operator [20]byte) {
	m.approvals[[2][20]byte{owner, operator}] = true
}

func (m *mockInventory) Transfer(operator, from, to [20]byte, lotID uint64, quantity uint64) error {
	if operator != from && !m.approvals[[2][20]byte{from, operator}] {
		return fmt.Errorf("inventory: operator not approved")
	}
	key := inventoryKey{from, lotID}
	if m.balances[key] < quantity {
		return fmt.Errorf("inventory: insufficient balance")
	}
	m.balances[key] -= quantity
	m.balances[inventoryKey{to, lotID}] += quantity
	return nil
}

func (m *mockInventory) SetURI(lotID uint64, uri string) error {
	m.uris[lotID] = uri
	return nil
}

type mockOracle struct {
	statuses map[string]DeliveryStatus
	queries  int
}

func newMockOracle() *mockOracle {
	return &mockOracle{statuses: make(map[string]DeliveryStatus)}
}

func (m *mockOracle) QueryStatus(trackingID string) (DeliveryStatus, error) {
	m.queries++
	return m.statuses[trackingID], nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func eventSeen(emitter *capturingEmitter, eventType string) bool {
	for _, evt := range emitter.events {
		if evt.EventType() == eventType {
			return true
		}
	}
	return false
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func ether(value string) *big.Int {
	amount, ok := new(big.Rat).SetString(value)
	if !ok {
		panic("bad amount " + value)
	}
	amount.Mul(amount, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))
	if !amount.IsInt() {
		panic("fractional base units " + value)
	}
	return new(big.Int).Set(amount.Num())
}

var (
	testAdmin    = newTestAddress(0xAD)
	testTreasury = newTestAddress(0xFE)
	testSeller   = newTestAddress(0x01)
	testBuyer    = newTestAddress(0x02)
	testBuyer2   = newTestAddress(0x03)
	testStranger = newTestAddress(0x04)
)

type testEnv struct {
	engine    *Engine
	state     *mockState
	inventory *mockInventory
	oracle    *mockOracle
	emitter   *capturingEmitter
	height    uint64
}

func setupMarket(t *testing.T, rates config.Market) *testEnv {
	t.Helper()
	env := &testEnv{
		engine:    NewEngine(),
		state:     newMockState(),
		inventory: newMockInventory(),
		oracle:    newMockOracle(),
		emitter:   &capturingEmitter{},
		height:    100,
	}
	env.engine.SetState(env.state)
	env.engine.SetInventory(env.inventory)
	env.engine.SetOracle(env.oracle)
	env.engine.SetEmitter(env.emitter)
	env.engine.SetFeeTreasury(testTreasury)
	env.engine.SetNowFunc(func() uint64 { return env.height })
	if err := env.engine.Genesis(testAdmin, rates); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	for _, addr := range [][20]byte{testSeller, testBuyer, testBuyer2, testStranger} {
		env.state.setBalance(addr, ether("100"))
	}
	env.inventory.approve(testSeller, env.engine.Vault())
	env.inventory.approve(testBuyer, env.engine.Vault())
	env.inventory.approve(testBuyer2, env.engine.Vault())
	return env
}

func defaultRates() config.Market {
	return config.Market{MarginRateBps: 2000, FeeRateBps: 20}
}

func (env *testEnv) sell(t *testing.T, quantity uint64, unitPrice *big.Int) uint64 {
	t.Helper()
	total, err := TotalPrice(quantity, unitPrice)
	if err != nil {
		t.Fatalf("total price: %v", err)
	}
	rates, err := env.engine.Rates().Rates()
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	margin, fee, err := MarginAndFee(total, rates.MarginRateBps, rates.FeeRateBps)
	if err != nil {
		t.Fatalf("margin and fee: %v", err)
	}
	lotID, err := env.engine.Sell(testSeller, quantity, unitPrice, "ipfs://lot", new(big.Int).Add(margin, fee))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	return lotID
}

func (env *testEnv) buy(t *testing.T, buyer [20]byte, lotID uint64, quantity uint64) *Trade {
	t.Helper()
	listing, err := env.engine.Listing(lotID)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	payment := new(big.Int).Mul(listing.UnitPrice, new(big.Int).SetUint64(quantity))
	trade, err := env.engine.Buy(buyer, lotID, quantity, [32]byte{0x01}, payment)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	return trade
}

func (env *testEnv) shipAndDeliver(t *testing.T, lotID uint64, buyer [20]byte, tracking string) {
	t.Helper()
	if _, err := env.engine.Ship(testSeller, lotID, buyer, tracking); err != nil {
		t.Fatalf("ship: %v", err)
	}
	env.height++
	env.oracle.statuses[tracking] = StatusDelivered
	if _, err := env.engine.Deliver(lotID, buyer); err != nil {
		t.Fatalf("deliver: %v", err)
	}
}

// assertVaultBalanced checks that the vault holds exactly the live escrow.
func (env *testEnv) assertVaultBalanced(t *testing.T) {
	t.Helper()
	expected := big.NewInt(0)
	for lotID, listing := range env.state.listings {
		expected.Add(expected, listing.MarginEscrow)
		expected.Add(expected, listing.FeeEscrow)
		for _, trade := range env.state.trades[lotID] {
			expected.Add(expected, trade.PaymentEscrow)
		}
	}
	if got := env.state.balance(env.engine.Vault()); got.Cmp(expected) != 0 {
		t.Fatalf("vault balance %s, live escrow %s", got, expected)
	}
}

func assertPaymentMatchesState(t *testing.T, trade *Trade) {
	t.Helper()
	live := trade.State == TradeAwaitingShipment || trade.State == TradeShipped || trade.State == TradeDelivered
	if live != (trade.PaymentEscrow.Sign() > 0) {
		t.Fatalf("payment escrow %s inconsistent with state %s", trade.PaymentEscrow, trade.State)
	}
}

func TestSellScenarioEscrowsMarginAndFee(t *testing.T) {
	env := setupMarket(t, defaultRates())
	price := ether("1.2")

	if _, err := env.engine.Sell(testSeller, 2, price, "", ether("0.4849")); !errors.Is(err, ErrInvalidPayment) {
		t.Fatalf("expected ErrInvalidPayment for overpayment, got %v", err)
	}
	if _, err := env.engine.Sell(testSeller, 2, price, "", ether("0.4847")); !errors.Is(err, ErrInvalidPayment) {
		t.Fatalf("expected ErrInvalidPayment for underpayment, got %v", err)
	}
	sellerBefore := env.state.balance(testSeller)

	lotID, err := env.engine.Sell(testSeller, 2, price, "ipfs://widget", ether("0.4848"))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if lotID != 1 {
		t.Fatalf("expected first lot id 1, got %d", lotID)
	}
	listing, err := env.engine.Listing(lotID)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if listing.MarginEscrow.Cmp(ether("0.48")) != 0 || listing.FeeEscrow.Cmp(ether("0.0048")) != 0 {
		t.Fatalf("unexpected escrow margin=%s fee=%s", listing.MarginEscrow, listing.FeeEscrow)
	}
	if listing.MarginRateBps != 2000 || listing.FeeRateBps != 20 {
		t.Fatalf("rates not snapshotted: %+v", listing)
	}
	if got := new(big.Int).Sub(sellerBefore, env.state.balance(testSeller)); got.Cmp(ether("0.4848")) != 0 {
		t.Fatalf("seller debited %s", got)
	}
	if bal, _ := env.inventory.BalanceOf(testSeller, lotID); bal != 2 {
		t.Fatalf("expected seller inventory 2, got %d", bal)
	}
	if env.inventory.uris[lotID] != "ipfs://widget" {
		t.Fatalf("metadata uri not recorded")
	}
	if !eventSeen(env.emitter, EventTypeListingCreated) {
		t.Fatalf("expected listing created event")
	}

	if _, err := env.engine.Buy(testBuyer, lotID, 1, [32]byte{0x09}, ether("1.1")); !errors.Is(err, ErrInvalidPayment) {
		t.Fatalf("expected ErrInvalidPayment, got %v", err)
	}
	env.buy(t, testBuyer, lotID, 1)
	env.shipAndDeliver(t, lotID, testBuyer, "TRACK-1")

	before := env.state.balance(testSeller)
	trade, err := env.engine.Settle(testSeller, lotID, testBuyer)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if gained := new(big.Int).Sub(env.state.balance(testSeller), before); gained.Cmp(ether("1.2")) != 0 {
		t.Fatalf("seller gained %s, want 1.2", gained)
	}
	if trade.State != TradeSettled || trade.PaymentEscrow.Sign() != 0 {
		t.Fatalf("unexpected trade after settle: %+v", trade)
	}
	if env.state.balance(testTreasury).Cmp(ether("0.0048")) != 0 {
		t.Fatalf("expected fee swept to treasury, got %s", env.state.balance(testTreasury))
	}
	if bal, _ := env.inventory.BalanceOf(testBuyer, lotID); bal != 1 {
		t.Fatalf("expected buyer inventory 1, got %d", bal)
	}
	env.assertVaultBalanced(t)
}

func TestSellValidation(t *testing.T) {
	env := setupMarket(t, defaultRates())
	if _, err := env.engine.Sell(testSeller, 0, ether("1"), "", big.NewInt(0)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero quantity, got %v", err)
	}
	if _, err := env.engine.Sell(testSeller, 1, big.NewInt(0), "", big.NewInt(0)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero price, got %v", err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	if _, err := env.engine.Sell(testSeller, 4, huge, "", big.NewInt(0)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
	poor := newTestAddress(0x55)
	if _, err := env.engine.Sell(poor, 2, ether("1.2"), "", ether("0.4848")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(env.state.listings) != 0 || env.state.nextLot != 0 {
		t.Fatalf("failed sells must not allocate lots")
	}
}

func TestRatesApplyProspectively(t *testing.T) {
	env := setupMarket(t, defaultRates())
	first := env.sell(t, 2, ether("1.2"))

	if err := env.engine.SetMarginRate(testAdmin, 1000); err != nil {
		t.Fatalf("set margin rate: %v", err)
	}
	if !eventSeen(env.emitter, EventTypeRatesUpdated) {
		t.Fatalf("expected rates updated event")
	}
	second := env.sell(t, 2, ether("1.2"))

	l1, _ := env.engine.Listing(first)
	l2, _ := env.engine.Listing(second)
	if l1.MarginEscrow.Cmp(ether("0.48")) != 0 {
		t.Fatalf("existing listing escrow changed: %s", l1.MarginEscrow)
	}
	if l2.MarginEscrow.Cmp(ether("0.24")) != 0 || l2.MarginRateBps != 1000 {
		t.Fatalf("new listing did not use new rate: %+v", l2)
	}
}

func TestBuyFailures(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 2, ether("1"))

	if _, err := env.engine.Buy(testBuyer, 99, 1, [32]byte{}, ether("1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.engine.Buy(testBuyer, lotID, 3, [32]byte{}, ether("3")); !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}
	if _, err := env.engine.Buy(testBuyer, lotID, 0, [32]byte{}, big.NewInt(0)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := env.engine.Buy(testSeller, lotID, 1, [32]byte{}, ether("1")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for self purchase, got %v", err)
	}
	env.buy(t, testBuyer, lotID, 1)
	if _, err := env.engine.Buy(testBuyer, lotID, 1, [32]byte{}, ether("1")); !errors.Is(err, ErrDuplicateTrade) {
		t.Fatalf("expected ErrDuplicateTrade, got %v", err)
	}
	env.buy(t, testBuyer2, lotID, 1)
	if _, err := env.engine.Buy(testStranger, lotID, 1, [32]byte{}, ether("1")); !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("expected sold-out lot to reject purchase, got %v", err)
	}
	listing, _ := env.engine.Listing(lotID)
	if listing.QuantitySold != 2 {
		t.Fatalf("expected quantity sold 2, got %d", listing.QuantitySold)
	}
	env.assertVaultBalanced(t)
}

func TestShipRequiresSellerAndOrder(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 1, ether("1"))
	env.buy(t, testBuyer, lotID, 1)

	if _, err := env.engine.Ship(testStranger, lotID, testBuyer, "T"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.engine.Ship(testSeller, lotID, testBuyer2, "T"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown buyer, got %v", err)
	}
	if _, err := env.engine.Ship(testSeller, lotID, testBuyer, "  "); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty tracking id, got %v", err)
	}
	trade, err := env.engine.Ship(testSeller, lotID, testBuyer, "T")
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if trade.State != TradeShipped || trade.ShipTime != env.height || trade.Direction != ForwardDelivery {
		t.Fatalf("unexpected shipped trade: %+v", trade)
	}
	if bal, _ := env.inventory.BalanceOf(env.engine.Vault(), lotID); bal != 1 {
		t.Fatalf("expected units in custody, got %d", bal)
	}
	if _, err := env.engine.Ship(testSeller, lotID, testBuyer, "T"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second ship, got %v", err)
	}
}

func TestShipWithoutSellerApproval(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 1, ether("1"))
	env.buy(t, testBuyer, lotID, 1)
	delete(env.inventory.approvals, [2][20]byte{testSeller, env.engine.Vault()})

	if _, err := env.engine.Ship(testSeller, lotID, testBuyer, "T"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without approval, got %v", err)
	}
	trade, _ := env.engine.Trade(lotID, testBuyer)
	if trade.State != TradeAwaitingShipment {
		t.Fatalf("failed ship must not change state")
	}
}

func TestDeliverWaitsForOracle(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 1, ether("1"))
	env.buy(t, testBuyer, lotID, 1)

	if _, err := env.engine.Deliver(lotID, testBuyer); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before ship, got %v", err)
	}
	if _, err := env.engine.Ship(testSeller, lotID, testBuyer, "T-1"); err != nil {
		t.Fatalf("ship: %v", err)
	}
	for _, status := range []DeliveryStatus{StatusNotFound, StatusInTransit, StatusException} {
		env.oracle.statuses["T-1"] = status
		if _, err := env.engine.Deliver(lotID, testBuyer); !errors.Is(err, ErrNotYetDelivered) {
			t.Fatalf("status %s: expected ErrNotYetDelivered, got %v", status, err)
		}
	}
	trade, _ := env.engine.Trade(lotID, testBuyer)
	if trade.State != TradeShipped || trade.CompleteTime != 0 {
		t.Fatalf("trade must stay shipped until the oracle resolves: %+v", trade)
	}
}

func TestDeliverReplayFails(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 2, ether("1"))
	env.buy(t, testBuyer, lotID, 2)
	env.shipAndDeliver(t, lotID, testBuyer, "T-1")

	trade, _ := env.engine.Trade(lotID, testBuyer)
	if trade.State != TradeDelivered || trade.CompleteTime == 0 {
		t.Fatalf("unexpected delivered trade: %+v", trade)
	}
	credits := env.inventory.credits
	buyerUnits, _ := env.inventory.BalanceOf(testBuyer, lotID)

	env.height++
	if _, err := env.engine.Deliver(lotID, testBuyer); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on replay, got %v", err)
	}
	after, _ := env.engine.Trade(lotID, testBuyer)
	if after.CompleteTime != trade.CompleteTime {
		t.Fatalf("replay changed complete time")
	}
	if env.inventory.credits != credits {
		t.Fatalf("replay credited inventory")
	}
	if units, _ := env.inventory.BalanceOf(testBuyer, lotID); units != buyerUnits {
		t.Fatalf("replay moved inventory")
	}
}

func TestRefundBoundary(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 3, ether("1"))
	env.buy(t, testBuyer, lotID, 3)
	before := env.state.balance(testBuyer)

	if _, err := env.engine.Refund(testStranger, lotID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stranger, got %v", err)
	}
	trade, err := env.engine.Refund(testBuyer, lotID)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if trade.State != TradeRefunded || trade.PaymentEscrow.Sign() != 0 {
		t.Fatalf("unexpected refunded trade: %+v", trade)
	}
	if gained := new(big.Int).Sub(env.state.balance(testBuyer), before); gained.Cmp(ether("3")) != 0 {
		t.Fatalf("buyer refunded %s, want 3", gained)
	}
	listing, _ := env.engine.Listing(lotID)
	if listing.QuantitySold != 0 {
		t.Fatalf("expected quantity sold restored, got %d", listing.QuantitySold)
	}
	if _, err := env.engine.Refund(testBuyer, lotID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second refund, got %v", err)
	}

	// The lot is immediately re-purchasable for the same quantity, and the
	// same buyer may open a fresh trade.
	again := env.buy(t, testBuyer, lotID, 3)
	if again.Seq != 2 {
		t.Fatalf("expected second trade sequence, got %d", again.Seq)
	}
	if _, err := env.engine.Ship(testSeller, lotID, testBuyer, "T"); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if _, err := env.engine.Refund(testBuyer, lotID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after ship, got %v", err)
	}
	env.assertVaultBalanced(t)
}

func TestSettleAuthorization(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 1, ether("1"))
	env.buy(t, testBuyer, lotID, 1)

	if _, err := env.engine.Settle(testSeller, lotID, testBuyer); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before delivery, got %v", err)
	}
	env.shipAndDeliver(t, lotID, testBuyer, "T")

	if _, err := env.engine.Settle(testBuyer, lotID, testSeller); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for buyer on forward trade, got %v", err)
	}
	if _, err := env.engine.Settle(testStranger, lotID, testSeller); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for stranger, got %v", err)
	}
	if _, err := env.engine.Settle(testBuyer, lotID, testStranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong counterparty, got %v", err)
	}
	if _, err := env.engine.Settle(testSeller, lotID, testStranger); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown buyer, got %v", err)
	}
	if _, err := env.engine.Settle(testSeller, lotID, testBuyer); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := env.engine.Settle(testSeller, lotID, testBuyer); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second settle, got %v", err)
	}
}

func TestFullReturnCycle(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 2, ether("1.2"))
	env.buy(t, testBuyer, lotID, 2)
	env.shipAndDeliver(t, lotID, testBuyer, "FWD-1")

	sellerUnitsBefore, _ := env.inventory.BalanceOf(testSeller, lotID)
	buyerBalanceBefore := env.state.balance(testBuyer)

	if _, err := env.engine.Returning(testBuyer, lotID, 1, "RET-1", [32]byte{0x02}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for partial return, got %v", err)
	}
	if _, err := env.engine.Returning(testStranger, lotID, 2, "RET-1", [32]byte{0x02}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-buyer, got %v", err)
	}
	trade, err := env.engine.Returning(testBuyer, lotID, 2, "RET-1", [32]byte{0x02})
	if err != nil {
		t.Fatalf("returning: %v", err)
	}
	if trade.State != TradeShipped || trade.Direction != ReturnDelivery || trade.CompleteTime != 0 || trade.ShipTime != env.height {
		t.Fatalf("unexpected return trade: %+v", trade)
	}
	if trade.DeliveryAddressHash != ([32]byte{0x02}) || trade.TrackingID != "RET-1" {
		t.Fatalf("return shipment fields not replaced: %+v", trade)
	}
	if units, _ := env.inventory.BalanceOf(testBuyer, lotID); units != 0 {
		t.Fatalf("returned units must leave the buyer, buyer has %d", units)
	}
	if units, _ := env.inventory.BalanceOf(env.engine.Vault(), lotID); units != 2 {
		t.Fatalf("returned units must sit in custody, vault has %d", units)
	}

	if _, err := env.engine.Deliver(lotID, testSeller); !errors.Is(err, ErrNotYetDelivered) {
		t.Fatalf("expected ErrNotYetDelivered, got %v", err)
	}
	env.height++
	env.oracle.statuses["RET-1"] = StatusDelivered
	trade, err = env.engine.Deliver(lotID, testSeller)
	if err != nil {
		t.Fatalf("deliver return: %v", err)
	}
	if trade.State != TradeReturnDelivered || trade.CompleteTime != env.height {
		t.Fatalf("unexpected return-delivered trade: %+v", trade)
	}
	if units, _ := env.inventory.BalanceOf(testSeller, lotID); units != sellerUnitsBefore+2 {
		t.Fatalf("seller inventory not restored: %d", units)
	}
	if _, err := env.engine.Deliver(lotID, testBuyer); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on return replay, got %v", err)
	}
	if _, err := env.engine.Settle(testSeller, lotID, testBuyer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for seller settling a return, got %v", err)
	}

	trade, err = env.engine.Settle(testBuyer, lotID, testSeller)
	if err != nil {
		t.Fatalf("settle return: %v", err)
	}
	if trade.State != TradeSettled {
		t.Fatalf("expected settled, got %s", trade.State)
	}
	if gained := new(big.Int).Sub(env.state.balance(testBuyer), buyerBalanceBefore); gained.Cmp(ether("2.4")) != 0 {
		t.Fatalf("buyer refunded %s, want 2.4", gained)
	}
	assertPaymentMatchesState(t, trade)
	env.assertVaultBalanced(t)
}

func TestReturnWindow(t *testing.T) {
	rates := defaultRates()
	rates.ReturnPeriodBlocks = 10
	env := setupMarket(t, rates)
	lotID := env.sell(t, 2, ether("1"))
	env.buy(t, testBuyer, lotID, 1)
	env.buy(t, testBuyer2, lotID, 1)
	env.shipAndDeliver(t, lotID, testBuyer, "A")
	env.shipAndDeliver(t, lotID, testBuyer2, "B")
	delivered, _ := env.engine.Trade(lotID, testBuyer)

	env.height = delivered.CompleteTime + 10
	if _, err := env.engine.Returning(testBuyer, lotID, 1, "A-RET", [32]byte{}); err != nil {
		t.Fatalf("returning at window edge: %v", err)
	}

	second, _ := env.engine.Trade(lotID, testBuyer2)
	env.height = second.CompleteTime + 11
	if _, err := env.engine.Returning(testBuyer2, lotID, 1, "B-RET", [32]byte{}); !errors.Is(err, ErrReturnWindowExpired) {
		t.Fatalf("expected ErrReturnWindowExpired, got %v", err)
	}

	if err := env.engine.SetReturnPeriod(testAdmin, 0); err != nil {
		t.Fatalf("set return period: %v", err)
	}
	env.height += 1_000_000
	if _, err := env.engine.Returning(testBuyer2, lotID, 1, "B-RET", [32]byte{}); err != nil {
		t.Fatalf("returning with window disabled: %v", err)
	}
}

func TestReturningRequiresBuyerApproval(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 1, ether("1"))
	env.buy(t, testBuyer, lotID, 1)
	env.shipAndDeliver(t, lotID, testBuyer, "A")
	delete(env.inventory.approvals, [2][20]byte{testBuyer, env.engine.Vault()})

	if _, err := env.engine.Returning(testBuyer, lotID, 1, "A-RET", [32]byte{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	trade, _ := env.engine.Trade(lotID, testBuyer)
	if trade.State != TradeDelivered {
		t.Fatalf("failed return must not change state")
	}
}

func TestReturnSurvivesRevokedApproval(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 1, ether("1"))
	env.buy(t, testBuyer, lotID, 1)
	env.shipAndDeliver(t, lotID, testBuyer, "A")
	if _, err := env.engine.Returning(testBuyer, lotID, 1, "A-RET", [32]byte{}); err != nil {
		t.Fatalf("returning: %v", err)
	}
	delete(env.inventory.approvals, [2][20]byte{testBuyer, env.engine.Vault()})

	env.height++
	env.oracle.statuses["A-RET"] = StatusDelivered
	trade, err := env.engine.Deliver(lotID, testBuyer)
	if err != nil {
		t.Fatalf("deliver return after revoked approval: %v", err)
	}
	if trade.State != TradeReturnDelivered {
		t.Fatalf("expected return delivered, got %s", trade.State)
	}
	if units, _ := env.inventory.BalanceOf(testSeller, lotID); units != 1 {
		t.Fatalf("seller should hold the returned unit, has %d", units)
	}
	if _, err := env.engine.Settle(testBuyer, lotID, testSeller); err != nil {
		t.Fatalf("settle return: %v", err)
	}
	if _, err := env.engine.ReleaseMargin(testSeller, lotID); err != nil {
		t.Fatalf("release margin: %v", err)
	}
	env.assertVaultBalanced(t)
}

func TestReturningRejectsDeliveredTrackingID(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 2, ether("1"))
	env.buy(t, testBuyer, lotID, 1)
	env.buy(t, testBuyer2, lotID, 1)
	env.shipAndDeliver(t, lotID, testBuyer, "OUT-1")
	env.shipAndDeliver(t, lotID, testBuyer2, "OUT-2")

	if _, err := env.engine.Returning(testBuyer, lotID, 1, " OUT-1 ", [32]byte{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for reused forward id, got %v", err)
	}
	if _, err := env.engine.Returning(testBuyer, lotID, 1, "OUT-2", [32]byte{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for delivered id, got %v", err)
	}
	trade, _ := env.engine.Trade(lotID, testBuyer)
	if trade.State != TradeDelivered || trade.TrackingID != "OUT-1" {
		t.Fatalf("rejected return must not change the trade: %+v", trade)
	}
	if units, _ := env.inventory.BalanceOf(testBuyer, lotID); units != 1 {
		t.Fatalf("rejected return must not move units, buyer has %d", units)
	}
}

func TestShipRejectsDeliveredTrackingID(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 1, ether("1"))
	env.buy(t, testBuyer, lotID, 1)
	env.oracle.statuses["DONE"] = StatusDelivered

	if _, err := env.engine.Ship(testSeller, lotID, testBuyer, "DONE"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	trade, _ := env.engine.Trade(lotID, testBuyer)
	if trade.State != TradeAwaitingShipment {
		t.Fatalf("rejected ship must not change state, got %s", trade.State)
	}
}

func TestDeliverAmbiguousReturns(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 2, ether("1"))
	env.buy(t, testBuyer, lotID, 1)
	env.buy(t, testBuyer2, lotID, 1)
	env.shipAndDeliver(t, lotID, testBuyer, "A")
	env.shipAndDeliver(t, lotID, testBuyer2, "B")

	if _, err := env.engine.Deliver(lotID, testSeller); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound with no return in flight, got %v", err)
	}
	if _, err := env.engine.Returning(testBuyer, lotID, 1, "A-RET", [32]byte{}); err != nil {
		t.Fatalf("returning A: %v", err)
	}
	if _, err := env.engine.Returning(testBuyer2, lotID, 1, "B-RET", [32]byte{}); err != nil {
		t.Fatalf("returning B: %v", err)
	}
	env.oracle.statuses["A-RET"] = StatusDelivered
	if _, err := env.engine.Deliver(lotID, testSeller); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for ambiguous return, got %v", err)
	}
	if _, err := env.engine.Deliver(lotID, testBuyer); err != nil {
		t.Fatalf("deliver by buyer key: %v", err)
	}
}

func TestReleaseMarginGating(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 2, ether("1"))
	env.buy(t, testBuyer, lotID, 1)
	env.buy(t, testBuyer2, lotID, 1)

	if _, err := env.engine.ReleaseMargin(testStranger, lotID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.engine.ReleaseMargin(testSeller, lotID); !errors.Is(err, ErrOutstandingTrades) {
		t.Fatalf("expected ErrOutstandingTrades, got %v", err)
	}
	if _, err := env.engine.Refund(testBuyer2, lotID); err != nil {
		t.Fatalf("refund: %v", err)
	}
	env.shipAndDeliver(t, lotID, testBuyer, "A")
	if _, err := env.engine.ReleaseMargin(testSeller, lotID); !errors.Is(err, ErrOutstandingTrades) {
		t.Fatalf("expected ErrOutstandingTrades while delivered trade is open, got %v", err)
	}
	if _, err := env.engine.Settle(testSeller, lotID, testBuyer); err != nil {
		t.Fatalf("settle: %v", err)
	}

	before := env.state.balance(testSeller)
	listing, err := env.engine.ReleaseMargin(testSeller, lotID)
	if err != nil {
		t.Fatalf("release margin: %v", err)
	}
	if !listing.MarginReleased || listing.MarginEscrow.Sign() != 0 {
		t.Fatalf("unexpected listing after release: %+v", listing)
	}
	if gained := new(big.Int).Sub(env.state.balance(testSeller), before); gained.Cmp(ether("0.4")) != 0 {
		t.Fatalf("seller margin %s, want 0.4", gained)
	}
	if _, err := env.engine.ReleaseMargin(testSeller, lotID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second release, got %v", err)
	}
	if _, err := env.engine.Buy(testStranger, lotID, 1, [32]byte{}, ether("1")); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected closed lot to reject purchase, got %v", err)
	}
	if !eventSeen(env.emitter, EventTypeMarginReleased) {
		t.Fatalf("expected margin released event")
	}
	env.assertVaultBalanced(t)
	if env.state.balance(env.engine.Vault()).Sign() != 0 {
		t.Fatalf("vault should be empty once the lot is closed")
	}
}

func TestReleaseMarginSweepsUnsettledFee(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 2, ether("1.2"))
	treasuryBefore := env.state.balance(testTreasury)

	if _, err := env.engine.ReleaseMargin(testSeller, lotID); err != nil {
		t.Fatalf("release margin on untouched lot: %v", err)
	}
	if gained := new(big.Int).Sub(env.state.balance(testTreasury), treasuryBefore); gained.Cmp(ether("0.0048")) != 0 {
		t.Fatalf("treasury gained %s, want 0.0048", gained)
	}
	listing, _ := env.engine.Listing(lotID)
	if !listing.FeeCollected || listing.FeeEscrow.Sign() != 0 {
		t.Fatalf("fee escrow not consumed: %+v", listing)
	}
	if !eventSeen(env.emitter, EventTypeFeeCollected) {
		t.Fatalf("expected fee collected event")
	}
	env.assertVaultBalanced(t)
}

func TestFeeSweptOnlyOnce(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 2, ether("1.2"))
	env.buy(t, testBuyer, lotID, 1)
	env.buy(t, testBuyer2, lotID, 1)
	env.shipAndDeliver(t, lotID, testBuyer, "A")
	env.shipAndDeliver(t, lotID, testBuyer2, "B")

	if _, err := env.engine.Settle(testSeller, lotID, testBuyer); err != nil {
		t.Fatalf("settle A: %v", err)
	}
	afterFirst := env.state.balance(testTreasury)
	if _, err := env.engine.Settle(testSeller, lotID, testBuyer2); err != nil {
		t.Fatalf("settle B: %v", err)
	}
	if env.state.balance(testTreasury).Cmp(afterFirst) != 0 {
		t.Fatalf("fee swept twice")
	}
	env.assertVaultBalanced(t)
}

func TestPausedMarketRejectsMutations(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 1, ether("1"))
	env.buy(t, testBuyer, lotID, 1)
	env.engine.SetPauses(pauseStub{"market": true})

	if _, err := env.engine.Sell(testSeller, 1, ether("1"), "", ether("0.202")); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := env.engine.Ship(testSeller, lotID, testBuyer, "T"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	// Exits stay open while paused.
	if _, err := env.engine.Refund(testBuyer, lotID); err != nil {
		t.Fatalf("refund while paused: %v", err)
	}
}

type pauseStub map[string]bool

func (p pauseStub) IsPaused(module string) bool { return p[module] }

func TestEngineRequiresClock(t *testing.T) {
	env := setupMarket(t, defaultRates())
	env.engine.SetNowFunc(nil)
	if _, err := env.engine.Sell(testSeller, 1, ether("1"), "", ether("0.202")); !errors.Is(err, errNilClock) {
		t.Fatalf("expected clock error, got %v", err)
	}
}

func TestTradeStateConsistency(t *testing.T) {
	env := setupMarket(t, defaultRates())
	lotID := env.sell(t, 1, ether("1"))
	trade := env.buy(t, testBuyer, lotID, 1)
	if trade.ShipTime != 0 || trade.CompleteTime != 0 {
		t.Fatalf("awaiting trade has timestamps: %+v", trade)
	}
	assertPaymentMatchesState(t, trade)

	shipped, err := env.engine.Ship(testSeller, lotID, testBuyer, "T")
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if shipped.ShipTime == 0 || shipped.CompleteTime != 0 {
		t.Fatalf("shipped trade timestamps: %+v", shipped)
	}
	assertPaymentMatchesState(t, shipped)

	env.height++
	env.oracle.statuses["T"] = StatusDelivered
	delivered, err := env.engine.Deliver(lotID, testBuyer)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if delivered.CompleteTime == 0 || delivered.CompleteTime < delivered.ShipTime {
		t.Fatalf("delivered trade timestamps: %+v", delivered)
	}
	assertPaymentMatchesState(t, delivered)
}
