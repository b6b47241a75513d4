package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"janus/core/types"
)

type storedAccount struct {
	Balance *big.Int
}

// GetAccount loads the account stored under addr. Missing accounts come back
// with a zero balance.
func (tx *Tx) GetAccount(addr [20]byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := tx.KVGet(AccountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok || stored.Balance == nil {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return &types.Account{Balance: stored.Balance}, nil
}

// PutAccount persists the account. Balances must fit in 256 bits.
func (tx *Tx) PutAccount(addr [20]byte, account *types.Account) error {
	acc := account.Clone()
	if err := checkAmount(acc.Balance); err != nil {
		return fmt.Errorf("account balance: %w", err)
	}
	return tx.KVPut(AccountKey(addr), &storedAccount{Balance: acc.Balance})
}

func checkAmount(v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 {
		return fmt.Errorf("negative amount %s", v)
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return fmt.Errorf("amount %s overflows 256 bits", v)
	}
	return nil
}
