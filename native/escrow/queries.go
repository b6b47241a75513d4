package escrow

import "math/big"

func (e *Engine) readable(u *unit) error {
	if e.pauseBlocksReads && u.cfg.Paused {
		return ErrPaused
	}
	return nil
}

// GetOrder returns one order. Only its buyer, its seller or the owner may
// read it.
func (e *Engine) GetOrder(caller, buyer, seller [20]byte, id uint64) (*Order, error) {
	var out *Order
	err := e.view(func(u *unit) error {
		if err := e.readable(u); err != nil {
			return err
		}
		order, err := u.ledger.get(buyer, seller, id)
		if err != nil {
			return err
		}
		if caller != order.Buyer && caller != order.Seller && caller != u.cfg.Owner {
			return ErrUnauthorized
		}
		out = order.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func checkEnumeration(u *unit, caller, party [20]byte, role Role) error {
	switch role {
	case RoleBuyer:
		if party == ([20]byte{}) {
			return ErrInvalidBuyer
		}
	case RoleSeller:
		if party == ([20]byte{}) {
			return ErrInvalidSeller
		}
	default:
		return ErrInvalidRole
	}
	if caller != party && caller != u.cfg.Owner {
		return ErrUnauthorized
	}
	return nil
}

// CountFor returns how many orders the party holds in the given role.
func (e *Engine) CountFor(caller, party [20]byte, role Role) (uint64, error) {
	var count uint64
	err := e.view(func(u *unit) error {
		if err := e.readable(u); err != nil {
			return err
		}
		if err := checkEnumeration(u, caller, party, role); err != nil {
			return err
		}
		n, err := u.ledger.countFor(party, role)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	return count, err
}

// OrderAt returns the order stored at position index of the party's index.
func (e *Engine) OrderAt(caller, party [20]byte, role Role, index uint64) (*Order, error) {
	var out *Order
	err := e.view(func(u *unit) error {
		if err := e.readable(u); err != nil {
			return err
		}
		if err := checkEnumeration(u, caller, party, role); err != nil {
			return err
		}
		order, err := u.ledger.at(party, role, index)
		if err != nil {
			return err
		}
		out = order.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OrdersFor returns one page of the party's orders together with the total
// count. Limits above MaxPageSize are clamped.
func (e *Engine) OrdersFor(caller, party [20]byte, role Role, offset, limit uint64) ([]*Order, uint64, error) {
	if limit == 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	var (
		page  []*Order
		total uint64
	)
	err := e.view(func(u *unit) error {
		if err := e.readable(u); err != nil {
			return err
		}
		if err := checkEnumeration(u, caller, party, role); err != nil {
			return err
		}
		n, err := u.ledger.countFor(party, role)
		if err != nil {
			return err
		}
		total = n
		for i := offset; i < n && uint64(len(page)) < limit; i++ {
			order, err := u.ledger.at(party, role, i)
			if err != nil {
				return err
			}
			page = append(page, order.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return page, total, nil
}

// ExportOrders returns every order in creation order. Owner only.
func (e *Engine) ExportOrders(caller [20]byte) ([]*Order, error) {
	var out []*Order
	err := e.view(func(u *unit) error {
		if err := u.requireOwner(caller); err != nil {
			return err
		}
		n, err := u.ledger.countFor([20]byte{}, RoleLedger)
		if err != nil {
			return err
		}
		out = make([]*Order, 0, n)
		for i := uint64(0); i < n; i++ {
			order, err := u.ledger.at([20]byte{}, RoleLedger, i)
			if err != nil {
				return err
			}
			out = append(out, order.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Balance returns the spendable balance of account. Only the account holder
// or the owner may read it.
func (e *Engine) Balance(caller, account [20]byte) (*big.Int, error) {
	var balance *big.Int
	err := e.view(func(u *unit) error {
		if err := e.readable(u); err != nil {
			return err
		}
		if account == ([20]byte{}) {
			return ErrInvalidAccount
		}
		if caller != account && caller != u.cfg.Owner {
			return ErrUnauthorized
		}
		acc, err := u.st.GetAccount(account)
		if err != nil {
			return err
		}
		balance = acc.Clone().Balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// Custody returns the amount still held for an order. Owner only.
func (e *Engine) Custody(caller, buyer, seller [20]byte, id uint64) (*big.Int, error) {
	var held *big.Int
	err := e.view(func(u *unit) error {
		if err := u.requireOwner(caller); err != nil {
			return err
		}
		order, err := u.ledger.get(buyer, seller, id)
		if err != nil {
			return err
		}
		amount, err := u.st.CustodyGet(order.Ref())
		if err != nil {
			return err
		}
		held = cloneBigInt(amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return held, nil
}
