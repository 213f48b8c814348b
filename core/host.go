package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"agora/config"
	"agora/core/genesis"
	"agora/core/types"
	"agora/crypto"
	"agora/native/market"
	"agora/native/params"
	"agora/observability"
	"agora/observability/metrics"
	"agora/storage"
	"agora/storage/trie"
)

// Receipt describes a committed call.
type Receipt struct {
	ID       string        `json:"id"`
	CallHash common.Hash   `json:"callHash"`
	Type     string        `json:"type"`
	Sender   string        `json:"sender"`
	Height   uint64        `json:"height"`
	Root     common.Hash   `json:"root"`
	LotID    uint64        `json:"lotId,omitempty"`
	Events   []types.Event `json:"events"`
}

// RatesView is the rate configuration together with its administrator.
type RatesView struct {
	config.Market
	Admin [20]byte
}

// Host owns the state trie and applies calls one at a time. Every call
// executes at its own height; a failed call leaves no trace in state.
type Host struct {
	mu        sync.Mutex
	db        storage.Database
	chain     *Chain
	processor *StateProcessor
	chainID   uint64
	logger    *slog.Logger
	metrics   *metrics.MarketMetrics
}

// NewHost opens the host on db, writing genesis from spec when db is empty.
func NewHost(db storage.Database, spec *genesis.Spec, logger *slog.Logger) (*Host, error) {
	if db == nil {
		return nil, fmt.Errorf("host: database must not be nil")
	}
	if spec == nil {
		return nil, fmt.Errorf("host: genesis spec must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	chain, err := OpenChain(db)
	if err != nil {
		return nil, err
	}
	if chain.Empty() {
		root, err := genesis.Build(spec, db)
		if err != nil {
			return nil, fmt.Errorf("host: build genesis: %w", err)
		}
		if err := chain.Append(Commitment{Height: 0, Root: root}); err != nil {
			return nil, err
		}
		logger.Info("genesis committed", slog.String("root", root.Hex()))
	}
	tip, err := chain.Tip()
	if err != nil {
		return nil, err
	}
	tr, err := trie.NewTrie(db, tip.Root.Bytes())
	if err != nil {
		return nil, fmt.Errorf("host: open state at %s: %w", tip.Root.Hex(), err)
	}
	processor, err := NewStateProcessor(tr, spec.ChainID)
	if err != nil {
		return nil, err
	}
	h := &Host{
		db:        db,
		chain:     chain,
		processor: processor,
		chainID:   spec.ChainID,
		logger:    logger.With(slog.String("component", "host")),
		metrics:   metrics.Market(),
	}
	h.metrics.SetHeight(tip.Height)
	return h, nil
}

func (h *Host) ChainID() uint64 { return h.chainID }

// Apply executes call. On success the new state is committed at the next
// height and a receipt returned; on failure state is reset to the last
// committed root.
func (h *Host) Apply(call *types.Call) (*Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	op := "unknown"
	if call != nil {
		op = call.Type.String()
	}
	tip, err := h.chain.Tip()
	if err != nil {
		return nil, err
	}
	height := tip.Height + 1

	h.processor.ClearEvents()
	outcome, err := h.processor.ApplyCall(call, height)
	if err == nil {
		var root common.Hash
		root, err = h.commit(height, call)
		if err == nil {
			return h.receipt(call, outcome, height, root)
		}
	}
	h.metrics.RecordCall(op, err)
	if resetErr := h.processor.ResetToRoot(tip.Root); resetErr != nil {
		h.logger.Error("state reset failed", slog.Any("error", resetErr))
		return nil, errors.Join(err, fmt.Errorf("host: reset state: %w", resetErr))
	}
	h.logger.Debug("call rejected", slog.String("call", op), slog.Any("error", err))
	return nil, err
}

func (h *Host) commit(height uint64, call *types.Call) (common.Hash, error) {
	root, err := h.processor.Commit(height)
	if err != nil {
		return common.Hash{}, err
	}
	hashBytes, err := call.Hash()
	if err != nil {
		return common.Hash{}, err
	}
	if err := h.chain.Append(Commitment{Height: height, Root: root, CallHash: common.BytesToHash(hashBytes)}); err != nil {
		return common.Hash{}, err
	}
	return root, nil
}

func (h *Host) receipt(call *types.Call, outcome *CallOutcome, height uint64, root common.Hash) (*Receipt, error) {
	from, err := call.From()
	if err != nil {
		return nil, err
	}
	hashBytes, err := call.Hash()
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{
		ID:       uuid.NewString(),
		CallHash: common.BytesToHash(hashBytes),
		Type:     call.Type.String(),
		Sender:   from.String(),
		Height:   height,
		Root:     root,
		Events:   h.processor.Events(),
	}
	if outcome != nil {
		receipt.LotID = outcome.LotID
	}
	h.processor.ClearEvents()

	h.metrics.RecordCall(receipt.Type, nil)
	h.metrics.SetHeight(height)
	for _, evt := range receipt.Events {
		observability.Events().RecordEvent(evt.Type)
		if kind := releaseKind(evt.Type); kind != "" {
			h.metrics.RecordRelease(kind)
		}
	}
	if call.Type == types.CallTypeSell {
		if count, err := h.processor.Manager().MarketLotCount(); err == nil {
			h.metrics.SetLots(count)
		}
	}
	h.logger.Info("call applied",
		slog.String("requestId", receipt.ID),
		slog.String("call", receipt.Type),
		slog.String("sender", receipt.Sender),
		slog.Uint64("height", height),
		slog.String("root", root.Hex()),
	)
	return receipt, nil
}

func releaseKind(eventType string) string {
	switch eventType {
	case market.EventTypeTradeSettled:
		return "payment"
	case market.EventTypeTradeRefunded:
		return "refund"
	case market.EventTypeMarginReleased:
		return "margin"
	case market.EventTypeFeeCollected:
		return "fee"
	default:
		return ""
	}
}

// AdvanceBlocks moves the host clock forward by n heights without applying a
// call. It is an in-process hook for tests and embedders; no call type or RPC
// route reaches it.
func (h *Host) AdvanceBlocks(n uint64) (uint64, error) {
	if n == 0 {
		return 0, fmt.Errorf("%w: advance by zero blocks", market.ErrInvalidArgument)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	tip, err := h.chain.Tip()
	if err != nil {
		return 0, err
	}
	height := tip.Height + n
	if height < tip.Height {
		return 0, market.ErrArithmeticOverflow
	}
	if err := h.processor.Manager().SetHeight(height); err != nil {
		_ = h.processor.ResetToRoot(tip.Root)
		return 0, err
	}
	root, err := h.processor.Commit(height)
	if err != nil {
		_ = h.processor.ResetToRoot(tip.Root)
		return 0, err
	}
	if err := h.chain.Append(Commitment{Height: height, Root: root}); err != nil {
		return 0, err
	}
	h.metrics.SetHeight(height)
	return height, nil
}

// --- reads ---

// Height returns the last committed height.
func (h *Host) Height() uint64 {
	tip, err := h.chain.Tip()
	if err != nil {
		return 0
	}
	return tip.Height
}

// StateRoot returns the last committed state root.
func (h *Host) StateRoot() common.Hash {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processor.CurrentRoot()
}

// CommitmentAt returns the root recorded at height.
func (h *Host) CommitmentAt(height uint64) (Commitment, bool, error) {
	return h.chain.At(height)
}

func (h *Host) Listing(lotID uint64) (*market.Listing, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processor.Market().Listing(lotID)
}

func (h *Host) Trade(lotID uint64, buyer [20]byte) (*market.Trade, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processor.Market().Trade(lotID, buyer)
}

// TradeHistory returns every trade buyer opened on lotID, oldest first.
func (h *Host) TradeHistory(lotID uint64, buyer [20]byte) ([]*market.Trade, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.processor.Market().Listing(lotID); err != nil {
		return nil, err
	}
	return h.processor.Manager().MarketTradeHistory(lotID, buyer)
}

func (h *Host) Trades(lotID uint64) ([]*market.Trade, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.processor.Market().Listing(lotID); err != nil {
		return nil, err
	}
	return h.processor.Market().Trades(lotID)
}

// InFlightShipments lists every shipped trade still waiting on a carrier,
// in lot order.
func (h *Host) InFlightShipments() ([]*market.Trade, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	count, err := h.processor.Manager().MarketLotCount()
	if err != nil {
		return nil, err
	}
	var out []*market.Trade
	for lotID := uint64(1); lotID <= count; lotID++ {
		trades, err := h.processor.Market().Trades(lotID)
		if err != nil {
			return nil, err
		}
		for _, trade := range trades {
			if trade.State == market.TradeShipped {
				out = append(out, trade)
			}
		}
	}
	return out, nil
}

// Account returns the balance and next nonce of addr.
func (h *Host) Account(addr [20]byte) (*types.Account, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processor.Manager().GetAccount(addr[:])
}

func (h *Host) InventoryBalance(addr [20]byte, lotID uint64) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processor.Manager().InventoryLedger().BalanceOf(addr, lotID)
}

func (h *Host) IsApprovedForAll(owner, operator [20]byte) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processor.Manager().InventoryLedger().IsApprovedForAll(owner, operator)
}

func (h *Host) Rates() (RatesView, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rates := h.processor.Market().Rates()
	current, err := rates.Rates()
	if err != nil {
		return RatesView{}, err
	}
	admin, err := rates.Admin()
	if err != nil {
		return RatesView{}, err
	}
	return RatesView{Market: current, Admin: admin}, nil
}

func (h *Host) Pauses() (config.Pauses, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processor.Params().Pauses()
}

func (h *Host) Roles() (params.Roles, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processor.Params().Roles()
}

// LogisticsStatus returns the carrier status recorded for trackingID.
func (h *Host) LogisticsStatus(trackingID string) (market.DeliveryStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processor.Manager().LogisticsRegistry().QueryStatus(trackingID)
}

// VaultAddress returns the custody account in its text form.
func (h *Host) VaultAddress() crypto.Address {
	vault := h.processor.Market().Vault()
	return crypto.MustNewAddress(crypto.ModulePrefix, vault[:])
}
