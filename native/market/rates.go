package market

import (
	"fmt"

	"agora/config"
	"agora/native/params"
)

// RateConfig holds the ledger-wide margin and fee rates and the return
// window. Reads are open to anyone; writes require the administrator.
type RateConfig struct {
	store *params.Store
}

// NewRateConfig binds the rate configuration to a parameter store.
func NewRateConfig(state params.StoreState) *RateConfig {
	return &RateConfig{store: params.NewStore(state)}
}

// Bootstrap installs the administrator and initial rates. It fails once an
// administrator exists.
func (r *RateConfig) Bootstrap(admin [20]byte, market config.Market) error {
	if admin == ([20]byte{}) {
		return fmt.Errorf("%w: admin must be set", ErrInvalidArgument)
	}
	current, err := r.store.MarketAdmin()
	if err != nil {
		return err
	}
	if current != ([20]byte{}) {
		return fmt.Errorf("%w: rate admin already configured", ErrInvalidState)
	}
	if err := validateRate(market.MarginRateBps); err != nil {
		return err
	}
	if err := validateRate(market.FeeRateBps); err != nil {
		return err
	}
	if err := r.store.SetMarketAdmin(admin); err != nil {
		return err
	}
	return r.store.SetMarket(market)
}

func (r *RateConfig) Admin() ([20]byte, error) {
	return r.store.MarketAdmin()
}

// IsAdmin reports whether caller holds the rate administration capability.
func (r *RateConfig) IsAdmin(caller [20]byte) (bool, error) {
	admin, err := r.store.MarketAdmin()
	if err != nil {
		return false, err
	}
	return admin != ([20]byte{}) && admin == caller, nil
}

// TransferAdmin hands the administrator capability to next.
func (r *RateConfig) TransferAdmin(caller, next [20]byte) error {
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if next == ([20]byte{}) {
		return fmt.Errorf("%w: admin must be set", ErrInvalidArgument)
	}
	return r.store.SetMarketAdmin(next)
}

func (r *RateConfig) SetMarginRate(caller [20]byte, bps uint32) error {
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if err := validateRate(bps); err != nil {
		return err
	}
	return r.update(func(m *config.Market) { m.MarginRateBps = bps })
}

func (r *RateConfig) SetFeeRate(caller [20]byte, bps uint32) error {
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	if err := validateRate(bps); err != nil {
		return err
	}
	return r.update(func(m *config.Market) { m.FeeRateBps = bps })
}

// SetReturnPeriod sets the return window in blocks. Zero disables the window
// check entirely.
func (r *RateConfig) SetReturnPeriod(caller [20]byte, blocks uint64) error {
	if err := r.requireAdmin(caller); err != nil {
		return err
	}
	return r.update(func(m *config.Market) { m.ReturnPeriodBlocks = blocks })
}

// Rates returns the full configuration in force.
func (r *RateConfig) Rates() (config.Market, error) {
	market, _, err := r.store.Market()
	return market, err
}

func (r *RateConfig) MarginRate() (uint32, error) {
	market, err := r.Rates()
	return market.MarginRateBps, err
}

func (r *RateConfig) FeeRate() (uint32, error) {
	market, err := r.Rates()
	return market.FeeRateBps, err
}

func (r *RateConfig) ReturnPeriod() (uint64, error) {
	market, err := r.Rates()
	return market.ReturnPeriodBlocks, err
}

func (r *RateConfig) requireAdmin(caller [20]byte) error {
	ok, err := r.IsAdmin(caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: caller is not the rate admin", ErrUnauthorized)
	}
	return nil
}

func (r *RateConfig) update(mutate func(*config.Market)) error {
	market, err := r.Rates()
	if err != nil {
		return err
	}
	mutate(&market)
	return r.store.SetMarket(market)
}

func validateRate(bps uint32) error {
	if bps > BasisPointsDenominator {
		return fmt.Errorf("%w: rate %d bps exceeds %d", ErrInvalidArgument, bps, BasisPointsDenominator)
	}
	return nil
}
