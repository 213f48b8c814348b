package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"agora/config"
	"agora/core"
	"agora/core/types"
	"agora/crypto"
	"agora/native/market"
	"agora/native/params"
)

const (
	defaultMaxBodyBytes = 1 << 20
	readHeaderTimeout   = 5 * time.Second
	shutdownTimeout     = 10 * time.Second
)

// Backend is the host surface served over HTTP.
type Backend interface {
	ChainID() uint64
	Apply(call *types.Call) (*core.Receipt, error)
	Height() uint64
	StateRoot() common.Hash
	Listing(lotID uint64) (*market.Listing, error)
	Trade(lotID uint64, buyer [20]byte) (*market.Trade, error)
	TradeHistory(lotID uint64, buyer [20]byte) ([]*market.Trade, error)
	Trades(lotID uint64) ([]*market.Trade, error)
	InFlightShipments() ([]*market.Trade, error)
	Account(addr [20]byte) (*types.Account, error)
	InventoryBalance(addr [20]byte, lotID uint64) (uint64, error)
	Rates() (core.RatesView, error)
	Pauses() (config.Pauses, error)
	Roles() (params.Roles, error)
	LogisticsStatus(trackingID string) (market.DeliveryStatus, error)
	VaultAddress() crypto.Address
}

// Server exposes the host over a JSON HTTP API.
type Server struct {
	backend Backend
	cfg     config.RPC
	logger  *slog.Logger
	limiter *RateLimiter
	quotas  *callQuotas
	now     func() time.Time

	router http.Handler
}

// NewServer wires the router, rate limiter and per-sender call quota.
func NewServer(backend Backend, cfg config.RPC, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{
		backend: backend,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "rpc")),
		now:     time.Now,
	}
	s.limiter = NewRateLimiter(RateLimit{RequestsPerSecond: cfg.RequestsPerSecond, Burst: cfg.Burst}, s.logger)
	s.quotas = newCallQuotas(cfg.CallQuota)
	s.router = s.buildRouter()
	return s
}

// SetNowFunc overrides the clock used for quota epochs.
func (s *Server) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
	s.limiter.clockNow = now
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "agora-rpc")
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(CORS(CORSConfig{}))
	r.Use(s.observe)
	r.Use(s.limiter.Middleware)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/calls", s.SubmitCall)
		v1.Get("/lots/{lot}", s.GetListing)
		v1.Get("/lots/{lot}/trades", s.ListTrades)
		v1.Get("/lots/{lot}/trades/{buyer}", s.GetTrade)
		v1.Get("/lots/{lot}/trades/{buyer}/history", s.GetTradeHistory)
		v1.Get("/accounts/{addr}", s.GetAccount)
		v1.Get("/accounts/{addr}/inventory/{lot}", s.GetInventory)
		v1.Get("/shipments", s.ListShipments)
		v1.Get("/logistics/{trackingID}", s.GetLogisticsStatus)
		v1.Get("/params", s.GetParams)
		v1.Get("/status", s.GetStatus)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeMethodNotFound, "route not found", r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotFound, "method not allowed", r.Method)
	})
	return r
}

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("rpc: serve %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc: shutdown: %w", err)
	}
	return nil
}
