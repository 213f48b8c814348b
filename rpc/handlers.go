package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"agora/core/types"
	"agora/crypto"
	"agora/native/market"
	"agora/observability"
	"agora/observability/logging"
)

// SubmitCall decodes a signed call, charges the sender's quota and applies
// it to the host.
func (s *Server) SubmitCall(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer body.Close()

	var call types.Call
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&call); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, codeInvalidRequest, "request body too large", maxBytesErr.Limit)
			return
		}
		writeError(w, http.StatusBadRequest, codeParseError, "invalid call body", err.Error())
		return
	}
	from, err := call.From()
	if err != nil {
		if errors.Is(err, types.ErrUnsignedCall) {
			writeFailure(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid signature", err.Error())
		return
	}
	sender := toRaw(from)
	if err := s.quotas.consume(sender, s.now()); err != nil {
		observability.RPC().RecordThrottle("quota_exceeded")
		writeFailure(w, err)
		return
	}
	receipt, err := s.backend.Apply(&call)
	if err != nil {
		s.logger.Debug("call rejected",
			slog.String("requestId", chimw.GetReqID(r.Context())),
			slog.String("call", call.Type.String()),
			slog.String("sender", from.String()),
			slog.Any("error", err),
		)
		writeFailure(w, err)
		return
	}
	writeResult(w, http.StatusOK, SubmitResult{Receipt: receipt})
}

func (s *Server) GetListing(w http.ResponseWriter, r *http.Request) {
	lotID, err := lotParam(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	listing, err := s.backend.Listing(lotID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, http.StatusOK, newListingView(listing))
}

// ListTrades returns the head trade of every buyer on the lot.
func (s *Server) ListTrades(w http.ResponseWriter, r *http.Request) {
	lotID, err := lotParam(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	trades, err := s.backend.Trades(lotID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, http.StatusOK, newTradeViews(trades))
}

func (s *Server) GetTrade(w http.ResponseWriter, r *http.Request) {
	lotID, buyer, err := tradeParams(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	trade, err := s.backend.Trade(lotID, buyer)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, http.StatusOK, newTradeView(trade))
}

func (s *Server) GetTradeHistory(w http.ResponseWriter, r *http.Request) {
	lotID, buyer, err := tradeParams(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	trades, err := s.backend.TradeHistory(lotID, buyer)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, http.StatusOK, newTradeViews(trades))
}

func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "addr")
	if err != nil {
		writeFailure(w, err)
		return
	}
	account, err := s.backend.Account(toRaw(addr))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, http.StatusOK, AccountView{
		Address: addr.String(),
		Balance: formatAmount(account.Balance),
		Nonce:   account.Nonce,
	})
}

func (s *Server) GetInventory(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "addr")
	if err != nil {
		writeFailure(w, err)
		return
	}
	lotID, err := lotParam(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	balance, err := s.backend.InventoryBalance(toRaw(addr), lotID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, http.StatusOK, InventoryView{Address: addr.String(), LotID: lotID, Balance: balance})
}

// ListShipments reports shipped trades still waiting on a carrier.
func (s *Server) ListShipments(w http.ResponseWriter, r *http.Request) {
	trades, err := s.backend.InFlightShipments()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, http.StatusOK, newTradeViews(trades))
}

func (s *Server) GetLogisticsStatus(w http.ResponseWriter, r *http.Request) {
	trackingID, err := url.PathUnescape(chi.URLParam(r, "trackingID"))
	if err != nil || strings.TrimSpace(trackingID) == "" {
		writeError(w, http.StatusBadRequest, codeInvalidParams, "invalid tracking id", nil)
		return
	}
	status, err := s.backend.LogisticsStatus(trackingID)
	if err != nil {
		s.logger.Warn("logistics lookup failed", logging.MaskField("trackingId", trackingID), slog.Any("error", err))
		writeFailure(w, err)
		return
	}
	writeResult(w, http.StatusOK, LogisticsView{TrackingID: trackingID, Status: status.String()})
}

func (s *Server) GetParams(w http.ResponseWriter, r *http.Request) {
	rates, err := s.backend.Rates()
	if err != nil {
		writeFailure(w, err)
		return
	}
	roles, err := s.backend.Roles()
	if err != nil {
		writeFailure(w, err)
		return
	}
	pauses, err := s.backend.Pauses()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeResult(w, http.StatusOK, ParamsView{
		MarginRateBps:      rates.MarginRateBps,
		FeeRateBps:         rates.FeeRateBps,
		ReturnPeriodBlocks: rates.ReturnPeriodBlocks,
		Admin:              formatAddress(rates.Admin),
		Treasury:           formatAddress(roles.Treasury),
		OracleAuthority:    formatAddress(roles.OracleAuthority),
		Vault:              s.backend.VaultAddress().String(),
		Pauses:             PausesView{Market: pauses.Market, Transfer: pauses.Transfer},
	})
}

func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, StatusView{
		ChainID:   s.backend.ChainID(),
		Height:    s.backend.Height(),
		StateRoot: s.backend.StateRoot().Hex(),
	})
}

func lotParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "lot")
	lotID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || lotID == 0 {
		return 0, fmt.Errorf("%w: lot id %q", market.ErrInvalidArgument, raw)
	}
	return lotID, nil
}

func addressParam(r *http.Request, name string) (crypto.Address, error) {
	return crypto.DecodeAddress(chi.URLParam(r, name))
}

func tradeParams(r *http.Request) (uint64, [20]byte, error) {
	lotID, err := lotParam(r)
	if err != nil {
		return 0, [20]byte{}, err
	}
	buyer, err := addressParam(r, "buyer")
	if err != nil {
		return 0, [20]byte{}, err
	}
	return lotID, toRaw(buyer), nil
}

func toRaw(addr crypto.Address) [20]byte {
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out
}
