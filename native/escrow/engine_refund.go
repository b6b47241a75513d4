package escrow

// RequestRefund is invoked by the buyer. A paid order whose acceptance window
// has elapsed is settled immediately in the buyer's favour; an accepted order
// moves to a pending refund while the warranty window is open.
func (e *Engine) RequestRefund(caller, seller [20]byte, id uint64) (*Order, error) {
	var result *Order
	err := e.update(func(u *unit) error {
		if err := u.whenNotPaused(); err != nil {
			return err
		}
		order, err := u.ledger.get(caller, seller, id)
		if err != nil {
			return err
		}
		switch order.Status {
		case OrderPaid:
			if u.now <= u.cfg.Policy.acceptanceDeadline(order) {
				return ErrOrderNotYetAccepted
			}
			next := order.Clone()
			next.Status = OrderCompleted
			next.RefundStatus = RefundWithdrawn
			if err := u.refundBuyer(order, next, refundReasonExpired); err != nil {
				return err
			}
			result = next
			return nil
		case OrderCompleted:
			return ErrOrderCompleted
		}
		switch order.RefundStatus {
		case RefundRequested:
			return ErrRefundAlreadyRequested
		case RefundAccepted:
			return ErrRefundAlreadyAccepted
		case RefundDeclined:
			return ErrRefundAlreadyDeclined
		}
		if u.now > u.cfg.Policy.warrantyDeadline(order) {
			return ErrRefundWindowClosed
		}
		next := order.Clone()
		next.RefundStatus = RefundRequested
		if err := u.ledger.put(order, next); err != nil {
			return err
		}
		u.emit(NewRefundRequestedEvent(next))
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RevokeRefund withdraws a pending refund request.
func (e *Engine) RevokeRefund(caller, seller [20]byte, id uint64) (*Order, error) {
	var result *Order
	err := e.update(func(u *unit) error {
		if err := u.whenNotPaused(); err != nil {
			return err
		}
		order, err := u.ledger.get(caller, seller, id)
		if err != nil {
			return err
		}
		switch order.RefundStatus {
		case RefundNone:
			return ErrNoRefundRequested
		case RefundAccepted:
			return ErrRefundAlreadyAccepted
		case RefundDeclined:
			return ErrRefundAlreadyDeclined
		case RefundWithdrawn:
			return ErrOrderCompleted
		}
		next := order.Clone()
		next.RefundStatus = RefundNone
		if err := u.ledger.put(order, next); err != nil {
			return err
		}
		u.emit(NewRefundRevokedEvent(next))
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ResolveRefund records the arbiter's decision on a pending refund. Only
// RefundAccepted and RefundDeclined are valid outcomes.
func (e *Engine) ResolveRefund(caller, buyer, seller [20]byte, id uint64, outcome RefundStatus) (*Order, error) {
	var result *Order
	err := e.update(func(u *unit) error {
		if err := u.whenNotPaused(); err != nil {
			return err
		}
		if err := u.requireOwner(caller); err != nil {
			return err
		}
		if outcome != RefundAccepted && outcome != RefundDeclined {
			return ErrInvalidOutcome
		}
		order, err := u.ledger.get(buyer, seller, id)
		if err != nil {
			return err
		}
		switch order.RefundStatus {
		case RefundNone:
			if order.Status == OrderCompleted {
				return ErrOrderCompleted
			}
			return ErrNoRefundRequested
		case RefundAccepted:
			return ErrRefundAlreadyAccepted
		case RefundDeclined:
			return ErrRefundAlreadyDeclined
		case RefundWithdrawn:
			return ErrOrderCompleted
		}
		if order.Status == OrderCompleted {
			return ErrOrderCompleted
		}
		next := order.Clone()
		next.RefundStatus = outcome
		if err := u.ledger.put(order, next); err != nil {
			return err
		}
		u.emit(NewRefundResolvedEvent(next))
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// WithdrawRefund pays the full custodied amount back to the buyer after the
// arbiter accepted the refund.
func (e *Engine) WithdrawRefund(caller, seller [20]byte, id uint64) (*Order, error) {
	var result *Order
	err := e.update(func(u *unit) error {
		if err := u.whenNotPaused(); err != nil {
			return err
		}
		order, err := u.ledger.get(caller, seller, id)
		if err != nil {
			return err
		}
		if order.Status == OrderCompleted {
			return ErrOrderCompleted
		}
		switch order.RefundStatus {
		case RefundNone:
			if order.Status == OrderPaid {
				return ErrOrderNotAccepted
			}
			return ErrNoRefundRequested
		case RefundRequested:
			return ErrRefundInProgress
		case RefundDeclined:
			return ErrRefundAlreadyDeclined
		case RefundWithdrawn:
			return ErrOrderCompleted
		}
		next := order.Clone()
		next.Status = OrderCompleted
		next.RefundStatus = RefundWithdrawn
		if err := u.refundBuyer(order, next, refundReasonArbitrated); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// refundBuyer persists the terminal state and then returns custody to the
// buyer in the same unit.
func (u *unit) refundBuyer(before, after *Order, reason string) error {
	if err := u.ledger.put(before, after); err != nil {
		return err
	}
	held, err := u.release(before)
	if err != nil {
		return err
	}
	if err := u.move(VaultAddress, after.Buyer, held, "refund.withdrawn", after.ID); err != nil {
		return err
	}
	u.emit(NewRefundWithdrawnEvent(after, held, reason))
	return nil
}
