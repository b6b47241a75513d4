package types

import "math/big"

// Account holds the spendable balance of a party on the ledger.
type Account struct {
	Balance *big.Int `json:"balance"`
}

// Clone returns a deep copy of the account with a non-nil balance.
func (a *Account) Clone() *Account {
	if a == nil || a.Balance == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	return &Account{Balance: new(big.Int).Set(a.Balance)}
}
