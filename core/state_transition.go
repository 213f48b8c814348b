package core

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"agora/config"
	"agora/core/events"
	agorastate "agora/core/state"
	"agora/core/types"
	"agora/crypto"
	nativecommon "agora/native/common"
	"agora/native/market"
	"agora/native/params"
	"agora/storage/trie"
)

const transferModule = "transfer"

// StateProcessor applies calls to the state trie. It is not safe for
// concurrent use; the host serialises access.
type StateProcessor struct {
	Trie          *trie.Trie
	chainID       uint64
	manager       *agorastate.Manager
	market        *market.Engine
	inventory     *agorastate.InventoryLedger
	logistics     *agorastate.LogisticsRegistry
	params        *params.Store
	committedRoot common.Hash
	height        uint64
	events        []types.Event
}

// CallOutcome carries call-specific results that do not live in events.
type CallOutcome struct {
	LotID uint64
}

func NewStateProcessor(tr *trie.Trie, chainID uint64) (*StateProcessor, error) {
	if tr == nil {
		return nil, fmt.Errorf("state processor: trie must not be nil")
	}
	manager := agorastate.NewManager(tr)
	sp := &StateProcessor{
		Trie:          tr,
		chainID:       chainID,
		manager:       manager,
		market:        market.NewEngine(),
		inventory:     manager.InventoryLedger(),
		logistics:     manager.LogisticsRegistry(),
		params:        params.NewStore(manager),
		committedRoot: tr.Root(),
		events:        make([]types.Event, 0),
	}
	emitter := stateProcessorEmitter{sp: sp}
	sp.inventory.SetEmitter(emitter)
	sp.logistics.SetEmitter(emitter)
	sp.market.SetState(manager)
	sp.market.SetInventory(sp.inventory)
	sp.market.SetOracle(sp.logistics)
	sp.market.SetPauses(sp.params)
	sp.market.SetEmitter(emitter)
	sp.market.SetNowFunc(func() uint64 { return sp.height })
	return sp, nil
}

// Manager exposes the state manager for read paths.
func (sp *StateProcessor) Manager() *agorastate.Manager { return sp.manager }

// Market exposes the market engine for read paths.
func (sp *StateProcessor) Market() *market.Engine { return sp.market }

func (sp *StateProcessor) Params() *params.Store { return sp.params }

// CurrentRoot returns the last committed state root.
func (sp *StateProcessor) CurrentRoot() common.Hash {
	return sp.committedRoot
}

// PendingRoot returns the root including uncommitted mutations.
func (sp *StateProcessor) PendingRoot() common.Hash {
	return sp.Trie.Hash()
}

// ResetToRoot discards in-memory changes and reloads the trie at root.
func (sp *StateProcessor) ResetToRoot(root common.Hash) error {
	if err := sp.Trie.Reset(root); err != nil {
		return err
	}
	sp.committedRoot = root
	sp.events = sp.events[:0]
	return nil
}

// Commit persists the trie and returns the new state root.
func (sp *StateProcessor) Commit(height uint64) (common.Hash, error) {
	newRoot, err := sp.Trie.Commit(height)
	if err != nil {
		return common.Hash{}, err
	}
	sp.committedRoot = newRoot
	return newRoot, nil
}

func (sp *StateProcessor) AppendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	attrs := make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		attrs[k] = v
	}
	sp.events = append(sp.events, types.Event{Type: evt.Type, Attributes: attrs})
}

// Events returns the events emitted since the last reset.
func (sp *StateProcessor) Events() []types.Event {
	out := make([]types.Event, len(sp.events))
	copy(out, sp.events)
	return out
}

func (sp *StateProcessor) ClearEvents() { sp.events = sp.events[:0] }

type stateProcessorEmitter struct {
	sp *StateProcessor
}

func (e stateProcessorEmitter) Emit(evt events.Event) {
	if e.sp == nil || evt == nil {
		return
	}
	if provider, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := provider.Event(); payload != nil {
			e.sp.AppendEvent(payload)
		}
		return
	}
	e.sp.AppendEvent(&types.Event{Type: evt.EventType(), Attributes: map[string]string{}})
}

// ApplyCall validates and executes call at height. On error the caller must
// reset to the committed root; partial writes are not undone here.
func (sp *StateProcessor) ApplyCall(call *types.Call, height uint64) (*CallOutcome, error) {
	if call == nil {
		return nil, fmt.Errorf("%w: nil call", ErrInvalidPayload)
	}
	if height == 0 {
		return nil, fmt.Errorf("state processor: height must be positive")
	}
	if !call.Type.Valid() {
		return nil, ErrUnknownCallType
	}
	if call.ChainID != sp.chainID {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrChainIDMismatch, call.ChainID, sp.chainID)
	}
	from, err := call.From()
	if err != nil {
		return nil, err
	}
	var sender [20]byte
	copy(sender[:], from.Bytes())

	account, err := sp.manager.GetAccount(sender[:])
	if err != nil {
		return nil, err
	}
	if call.Nonce != account.Nonce {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrNonceMismatch, call.Nonce, account.Nonce)
	}
	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value", market.ErrInvalidPayment)
	}
	if value.Sign() > 0 && !acceptsValue(call.Type) {
		return nil, ErrUnexpectedValue
	}

	roles, err := sp.params.Roles()
	if err != nil {
		return nil, err
	}
	sp.market.SetFeeTreasury(roles.Treasury)
	sp.height = height

	outcome, err := sp.dispatch(call, sender, value, roles)
	if err != nil {
		return nil, err
	}

	// Reload: the handler may have moved the sender's balance.
	account, err = sp.manager.GetAccount(sender[:])
	if err != nil {
		return nil, err
	}
	account.Nonce++
	if err := sp.manager.PutAccount(sender[:], account); err != nil {
		return nil, err
	}
	if err := sp.manager.SetHeight(height); err != nil {
		return nil, err
	}
	return outcome, nil
}

func acceptsValue(t types.CallType) bool {
	switch t {
	case types.CallTypeTransfer, types.CallTypeSell, types.CallTypeBuy:
		return true
	default:
		return false
	}
}

func (sp *StateProcessor) dispatch(call *types.Call, sender [20]byte, value *big.Int, roles params.Roles) (*CallOutcome, error) {
	outcome := &CallOutcome{}
	switch call.Type {
	case types.CallTypeTransfer:
		return outcome, sp.applyTransfer(call, sender, value)
	case types.CallTypeSell:
		var p types.SellPayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		price, err := config.ParseAmount(p.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: unit price: %v", market.ErrInvalidArgument, err)
		}
		lotID, err := sp.market.Sell(sender, p.Quantity, price, p.MetadataURI, value)
		if err != nil {
			return nil, err
		}
		outcome.LotID = lotID
		return outcome, nil
	case types.CallTypeBuy:
		var p types.BuyPayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		digest, err := parseDigest(p.DeliveryAddressHash)
		if err != nil {
			return nil, err
		}
		outcome.LotID = p.LotID
		_, err = sp.market.Buy(sender, p.LotID, p.Quantity, digest, value)
		return outcome, err
	case types.CallTypeShip:
		var p types.ShipPayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		buyer, err := parseAccount(p.Buyer)
		if err != nil {
			return nil, err
		}
		outcome.LotID = p.LotID
		_, err = sp.market.Ship(sender, p.LotID, buyer, p.TrackingID)
		return outcome, err
	case types.CallTypeDeliver:
		var p types.DeliverPayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		party, err := parseAccount(p.Party)
		if err != nil {
			return nil, err
		}
		outcome.LotID = p.LotID
		_, err = sp.market.Deliver(p.LotID, party)
		return outcome, err
	case types.CallTypeSettle:
		var p types.SettlePayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		counterparty, err := parseAccount(p.Counterparty)
		if err != nil {
			return nil, err
		}
		outcome.LotID = p.LotID
		_, err = sp.market.Settle(sender, p.LotID, counterparty)
		return outcome, err
	case types.CallTypeRefund:
		var p types.LotPayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		outcome.LotID = p.LotID
		_, err := sp.market.Refund(sender, p.LotID)
		return outcome, err
	case types.CallTypeReturning:
		var p types.ReturningPayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		digest, err := parseDigest(p.DeliveryAddressHash)
		if err != nil {
			return nil, err
		}
		outcome.LotID = p.LotID
		_, err = sp.market.Returning(sender, p.LotID, p.Quantity, p.TrackingID, digest)
		return outcome, err
	case types.CallTypeReleaseMargin:
		var p types.LotPayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		outcome.LotID = p.LotID
		_, err := sp.market.ReleaseMargin(sender, p.LotID)
		return outcome, err
	case types.CallTypeSetMarginRate:
		var p types.RatePayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		return outcome, sp.market.SetMarginRate(sender, p.Bps)
	case types.CallTypeSetFeeRate:
		var p types.RatePayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		return outcome, sp.market.SetFeeRate(sender, p.Bps)
	case types.CallTypeSetReturnPeriod:
		var p types.ReturnPeriodPayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		return outcome, sp.market.SetReturnPeriod(sender, p.Blocks)
	case types.CallTypeTransferAdmin:
		var p types.TransferAdminPayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		next, err := parseAccount(p.NewAdmin)
		if err != nil {
			return nil, err
		}
		return outcome, sp.market.TransferAdmin(sender, next)
	case types.CallTypeSetPaused:
		var p types.SetPausedPayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		return outcome, sp.applySetPaused(sender, p)
	case types.CallTypeSetApprovalForAll:
		var p types.ApprovalPayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		operator, err := parseOperator(p.Operator)
		if err != nil {
			return nil, err
		}
		if err := sp.inventory.SetApprovalForAll(sender, operator, p.Approved); err != nil {
			return nil, fmt.Errorf("%w: %v", market.ErrInvalidArgument, err)
		}
		return outcome, nil
	case types.CallTypeSetLogisticsStatus:
		var p types.LogisticsStatusPayload
		if err := decode(call, &p); err != nil {
			return nil, err
		}
		if roles.OracleAuthority == ([20]byte{}) || sender != roles.OracleAuthority {
			return nil, fmt.Errorf("%w: only the oracle authority reports logistics", market.ErrUnauthorized)
		}
		status, err := market.ParseDeliveryStatus(p.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", market.ErrInvalidArgument, err)
		}
		tracking := strings.TrimSpace(p.TrackingID)
		if tracking == "" || len(tracking) > market.MaxTrackingIDLength {
			return nil, fmt.Errorf("%w: invalid tracking id", market.ErrInvalidArgument)
		}
		return outcome, sp.logistics.SetStatus(sender, tracking, status)
	}
	return nil, ErrUnknownCallType
}

func (sp *StateProcessor) applyTransfer(call *types.Call, sender [20]byte, value *big.Int) error {
	if err := nativecommon.Guard(sp.params, transferModule); err != nil {
		return err
	}
	var p types.TransferPayload
	if err := decode(call, &p); err != nil {
		return err
	}
	to, err := parseAccount(p.To)
	if err != nil {
		return err
	}
	if value.Sign() == 0 {
		return fmt.Errorf("%w: transfer amount must be positive", market.ErrInvalidPayment)
	}
	fromAcc, err := sp.manager.GetAccount(sender[:])
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(value) < 0 {
		return fmt.Errorf("%w: balance %s below %s", market.ErrInsufficientFunds, fromAcc.Balance, value)
	}
	if to == sender {
		sp.AppendEvent(events.Transfer{From: sender, To: to, Amount: value}.Event())
		return nil
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, value)
	if err := sp.manager.PutAccount(sender[:], fromAcc); err != nil {
		return err
	}
	toAcc, err := sp.manager.GetAccount(to[:])
	if err != nil {
		return err
	}
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, value)
	if err := sp.manager.PutAccount(to[:], toAcc); err != nil {
		return err
	}
	sp.AppendEvent(events.Transfer{From: sender, To: to, Amount: value}.Event())
	return nil
}

func (sp *StateProcessor) applySetPaused(sender [20]byte, p types.SetPausedPayload) error {
	ok, err := sp.market.Rates().IsAdmin(sender)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: only the admin may toggle pauses", market.ErrUnauthorized)
	}
	pauses, err := sp.params.Pauses()
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(p.Module)) {
	case "market":
		pauses.Market = p.Paused
	case transferModule:
		pauses.Transfer = p.Paused
	default:
		return fmt.Errorf("%w: unknown module %q", market.ErrInvalidArgument, p.Module)
	}
	return sp.params.SetPauses(pauses)
}

func decode(call *types.Call, out interface{}) error {
	if err := call.DecodePayload(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func parseAccount(addr string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(addr))
	if err != nil {
		return out, fmt.Errorf("%w: %v", market.ErrInvalidArgument, err)
	}
	if decoded.Prefix() != crypto.AccountPrefix {
		return out, fmt.Errorf("%w: %s is not an account address", market.ErrInvalidArgument, addr)
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

// parseOperator accepts module addresses so owners can approve the vault.
func parseOperator(addr string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(addr))
	if err != nil {
		return out, fmt.Errorf("%w: %v", market.ErrInvalidArgument, err)
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

func parseDigest(value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil {
		return out, fmt.Errorf("%w: delivery address hash: %v", market.ErrInvalidArgument, err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("%w: delivery address hash must be 32 bytes", market.ErrInvalidArgument)
	}
	copy(out[:], raw)
	return out, nil
}
