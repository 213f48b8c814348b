package relayer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/patrickmn/go-cache"

	"agora/core/types"
	"agora/crypto"
	"agora/native/market"
	"agora/observability/logging"
	"agora/rpc"
)

// Relayer feeds carrier statuses for in-flight shipments to the host as
// signed oracle reports, and settles delivery once a parcel arrives.
type Relayer struct {
	host        HostAPI
	carrier     Carrier
	signer      *crypto.PrivateKey
	sender      string
	chainID     uint64
	interval    time.Duration
	autoDeliver bool
	reported    *cache.Cache
	logger      *slog.Logger
}

// Options tune a Relayer.
type Options struct {
	ChainID      uint64
	PollInterval time.Duration
	DedupTTL     time.Duration
	AutoDeliver  bool
	Logger       *slog.Logger
}

func New(host HostAPI, carrier Carrier, signer *crypto.PrivateKey, opts Options) (*Relayer, error) {
	if host == nil {
		return nil, errors.New("relayer: host api required")
	}
	if carrier == nil {
		return nil, errors.New("relayer: carrier required")
	}
	if signer == nil {
		return nil, errors.New("relayer: signer required")
	}
	if opts.ChainID == 0 {
		return nil, errors.New("relayer: chain id required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = defaultDedupTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relayer{
		host:        host,
		carrier:     carrier,
		signer:      signer,
		sender:      signer.PubKey().Address().String(),
		chainID:     opts.ChainID,
		interval:    opts.PollInterval,
		autoDeliver: opts.AutoDeliver,
		reported:    cache.New(opts.DedupTTL, 2*opts.DedupTTL),
		logger:      logger.With(slog.String("component", "relayer")),
	}, nil
}

// Run polls until ctx is cancelled. Poll failures are logged and retried on
// the next tick.
func (r *Relayer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if err := r.Poll(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("poll failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollStats summarises one pass over in-flight shipments.
type PollStats struct {
	Checked   int
	Reported  int
	Delivered int
	Failed    int
}

// Poll checks every in-flight shipment once.
func (r *Relayer) Poll(ctx context.Context) error {
	stats, err := r.poll(ctx)
	if err != nil {
		return err
	}
	if stats.Reported > 0 || stats.Failed > 0 {
		r.logger.Info("poll complete",
			slog.Int("checked", stats.Checked),
			slog.Int("reported", stats.Reported),
			slog.Int("delivered", stats.Delivered),
			slog.Int("failed", stats.Failed),
		)
	}
	return nil
}

func (r *Relayer) poll(ctx context.Context) (PollStats, error) {
	var stats PollStats
	shipments, err := r.host.Shipments(ctx)
	if err != nil {
		return stats, fmt.Errorf("list shipments: %w", err)
	}
	for _, trade := range shipments {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if trade.TrackingID == "" {
			continue
		}
		stats.Checked++
		reported, delivered, err := r.relay(ctx, trade)
		if err != nil {
			stats.Failed++
			r.logger.Warn("relay failed",
				slog.Uint64("lot", trade.LotID),
				logging.MaskField("trackingId", trade.TrackingID),
				slog.Any("error", err),
			)
			continue
		}
		if reported {
			stats.Reported++
		}
		if delivered {
			stats.Delivered++
		}
	}
	return stats, nil
}

func (r *Relayer) relay(ctx context.Context, trade rpc.TradeView) (bool, bool, error) {
	status, err := r.carrier.Track(ctx, trade.TrackingID)
	if err != nil {
		return false, false, err
	}
	reported := false
	if last, ok := r.reported.Get(trade.TrackingID); !ok || last.(market.DeliveryStatus) != status {
		if err := r.submit(ctx, types.CallTypeSetLogisticsStatus, types.LogisticsStatusPayload{
			TrackingID: trade.TrackingID,
			Status:     status.String(),
		}); err != nil {
			return false, false, fmt.Errorf("report status: %w", err)
		}
		r.reported.Set(trade.TrackingID, status, cache.DefaultExpiration)
		reported = true
	}
	if status != market.StatusDelivered || !r.autoDeliver {
		return reported, false, nil
	}
	// The buyer key addresses both legs; the seller key is ambiguous once a
	// lot has several returns in flight.
	if err := r.submit(ctx, types.CallTypeDeliver, types.DeliverPayload{LotID: trade.LotID, Party: trade.Buyer}); err != nil {
		return reported, false, fmt.Errorf("deliver: %w", err)
	}
	return reported, true, nil
}

func (r *Relayer) submit(ctx context.Context, callType types.CallType, payload interface{}) error {
	account, err := r.host.Account(ctx, r.sender)
	if err != nil {
		return fmt.Errorf("load nonce: %w", err)
	}
	call, err := types.NewCall(r.chainID, callType, account.Nonce, new(big.Int), payload)
	if err != nil {
		return err
	}
	if err := call.Sign(r.signer); err != nil {
		return fmt.Errorf("sign %s: %w", callType, err)
	}
	receipt, err := r.host.Submit(ctx, call)
	if err != nil {
		return err
	}
	r.logger.Debug("call submitted", slog.String("call", callType.String()), slog.Uint64("height", receipt.Height))
	return nil
}
