package escrow

// Pause halts every order and refund mutation. Only the owner may pause and a
// paused ledger cannot be paused again.
func (e *Engine) Pause(caller [20]byte) error {
	return e.update(func(u *unit) error {
		if err := u.requireOwner(caller); err != nil {
			return err
		}
		if u.cfg.Paused {
			return ErrAlreadyPaused
		}
		u.cfg.Paused = true
		if err := u.st.ConfigPut(u.cfg); err != nil {
			return err
		}
		u.emit(NewPausedEvent(caller))
		return nil
	})
}

// Unpause lifts the global pause.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.update(func(u *unit) error {
		if err := u.requireOwner(caller); err != nil {
			return err
		}
		if !u.cfg.Paused {
			return ErrNotPaused
		}
		u.cfg.Paused = false
		if err := u.st.ConfigPut(u.cfg); err != nil {
			return err
		}
		u.emit(NewUnpausedEvent(caller))
		return nil
	})
}

// PauseNewOrders stops order creation while existing orders keep resolving.
func (e *Engine) PauseNewOrders(caller [20]byte) error {
	return e.update(func(u *unit) error {
		if err := u.requireOwner(caller); err != nil {
			return err
		}
		if u.cfg.NewOrdersPaused {
			return ErrAlreadyPaused
		}
		u.cfg.NewOrdersPaused = true
		if err := u.st.ConfigPut(u.cfg); err != nil {
			return err
		}
		u.emit(NewNewOrdersPausedEvent(caller))
		return nil
	})
}

// UnpauseNewOrders re-enables order creation.
func (e *Engine) UnpauseNewOrders(caller [20]byte) error {
	return e.update(func(u *unit) error {
		if err := u.requireOwner(caller); err != nil {
			return err
		}
		if !u.cfg.NewOrdersPaused {
			return ErrNotPaused
		}
		u.cfg.NewOrdersPaused = false
		if err := u.st.ConfigPut(u.cfg); err != nil {
			return err
		}
		u.emit(NewNewOrdersUnpausedEvent(caller))
		return nil
	})
}

// UpdateOwner transfers the arbiter role. The null address is rejected.
func (e *Engine) UpdateOwner(caller, newOwner [20]byte) error {
	return e.update(func(u *unit) error {
		if err := u.requireOwner(caller); err != nil {
			return err
		}
		if newOwner == ([20]byte{}) {
			return ErrInvalidOwner
		}
		previous := u.cfg.Owner
		u.cfg.Owner = newOwner
		if err := u.st.ConfigPut(u.cfg); err != nil {
			return err
		}
		u.emit(NewOwnerUpdatedEvent(previous, newOwner))
		return nil
	})
}

// RenounceOwnership always fails: the ledger must keep an arbiter.
func (e *Engine) RenounceOwnership(caller [20]byte) error {
	return e.view(func(u *unit) error {
		if err := u.requireOwner(caller); err != nil {
			return err
		}
		return ErrRenounceDisabled
	})
}

// Settings returns a copy of the configuration record.
func (e *Engine) Settings() (*Config, error) {
	var cfg *Config
	err := e.view(func(u *unit) error {
		cfg = u.cfg.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Owner returns the current arbiter.
func (e *Engine) Owner() ([20]byte, error) {
	cfg, err := e.Settings()
	if err != nil {
		return [20]byte{}, err
	}
	return cfg.Owner, nil
}

// Fee returns the service fee in basis points.
func (e *Engine) Fee() (uint32, error) {
	cfg, err := e.Settings()
	if err != nil {
		return 0, err
	}
	return cfg.Policy.FeeBps, nil
}

// AcceptanceWindow returns the acceptance window in seconds.
func (e *Engine) AcceptanceWindow() (int64, error) {
	cfg, err := e.Settings()
	if err != nil {
		return 0, err
	}
	return cfg.Policy.AcceptanceWindow, nil
}

// WarrantyWindow returns the warranty window in seconds.
func (e *Engine) WarrantyWindow() (int64, error) {
	cfg, err := e.Settings()
	if err != nil {
		return 0, err
	}
	return cfg.Policy.WarrantyWindow, nil
}

// CreationMarker returns the unix time at which the ledger was initialised.
func (e *Engine) CreationMarker() (int64, error) {
	cfg, err := e.Settings()
	if err != nil {
		return 0, err
	}
	return cfg.CreationMarker, nil
}
