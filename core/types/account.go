package types

import "math/big"

// Account is the host-level record for an address: a replay nonce and the
// native balance used for escrow payments.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// Copy returns a deep copy so callers can mutate the result freely.
func (a *Account) Copy() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	balance := big.NewInt(0)
	if a.Balance != nil {
		balance.Set(a.Balance)
	}
	return &Account{Nonce: a.Nonce, Balance: balance}
}
