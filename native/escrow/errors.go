package escrow

import (
	"errors"
	"fmt"

	"janus/crypto"
)

// Kind classifies an escrow error so transports can decide how to surface it.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindConflict
	KindTiming
	KindPaused
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTiming:
		return "timing"
	case KindPaused:
		return "paused"
	default:
		return "internal"
	}
}

// Error is a classified escrow failure. Sentinels are compared by identity.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return "escrow: " + e.Message }

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	// Validation.
	ErrInvalidBuyer     = newError(KindValidation, "invalid_buyer", "invalid buyer address")
	ErrInvalidSeller    = newError(KindValidation, "invalid_seller", "invalid seller address")
	ErrPartiesMatch     = newError(KindValidation, "parties_match", "buyer and seller match")
	ErrInvalidPrice     = newError(KindValidation, "invalid_price", "price must be positive")
	ErrIncorrectPayment = newError(KindValidation, "incorrect_payment", "incorrect payment amount")
	ErrPriceMismatch    = newError(KindValidation, "price_mismatch", "price mismatch")
	ErrInvalidID        = newError(KindValidation, "invalid_id", "invalid order ID")
	ErrInvalidIndex     = newError(KindValidation, "invalid_index", "index out of range")
	ErrInvalidOutcome   = newError(KindValidation, "invalid_outcome", "invalid new refund status")
	ErrInvalidOwner     = newError(KindValidation, "invalid_owner", "invalid owner")
	ErrInvalidAmount    = newError(KindValidation, "invalid_amount", "amount must be positive")
	ErrInvalidRole      = newError(KindValidation, "invalid_role", "invalid role")
	ErrInvalidAccount   = newError(KindValidation, "invalid_account", "invalid account address")

	// Not found.
	ErrOrderNotFound = newError(KindNotFound, "order_not_found", "order does not exist")

	// Authorization.
	ErrUnauthorized        = newError(KindAuthorization, "unauthorized", "unauthorized access")
	ErrUnauthorizedAccount = newError(KindAuthorization, "unauthorized_account", "caller is not the owner")
	ErrRenounceDisabled    = newError(KindAuthorization, "renounce_disabled", "renouncing ownership is disabled")

	// State conflict.
	ErrOrderAlreadyAccepted   = newError(KindConflict, "order_already_accepted", "order already accepted")
	ErrOrderNotAccepted       = newError(KindConflict, "order_not_accepted", "order has to be accepted first")
	ErrOrderCompleted         = newError(KindConflict, "order_completed", "order already completed")
	ErrRefundPending          = newError(KindConflict, "refund_pending", "a refund has been requested for this order")
	ErrRefundGranted          = newError(KindConflict, "refund_granted", "a refund has been accepted for this order")
	ErrRefundDenied           = newError(KindConflict, "refund_denied", "a refund has been declined for this order")
	ErrRefundAlreadyRequested = newError(KindConflict, "refund_already_requested", "a refund has already been requested for this order")
	ErrRefundAlreadyAccepted  = newError(KindConflict, "refund_already_accepted", "a refund has already been accepted for this order")
	ErrRefundAlreadyDeclined  = newError(KindConflict, "refund_already_declined", "a refund has already been declined for this order")
	ErrNoRefundRequested      = newError(KindConflict, "no_refund_requested", "no refund has been requested for this order")
	ErrRefundInProgress       = newError(KindConflict, "refund_in_progress", "a refund is currently being processed")
	ErrAlreadyPaused          = newError(KindConflict, "already_paused", "paused")
	ErrNotPaused              = newError(KindConflict, "not_paused", "not paused")
	ErrInsufficientBalance    = newError(KindConflict, "insufficient_balance", "insufficient balance")

	// Timing.
	ErrAcceptanceExpired   = newError(KindTiming, "acceptance_expired", "order took too long to be accepted")
	ErrWarrantyActive      = newError(KindTiming, "warranty_active", "you cannot withdraw your funds yet")
	ErrRefundWindowClosed  = newError(KindTiming, "refund_window_closed", "refund window closed")
	ErrOrderNotYetAccepted = newError(KindTiming, "order_not_yet_accepted", "order has to be accepted first")

	// System state.
	ErrPaused          = newError(KindPaused, "paused", "paused")
	ErrNewOrdersPaused = newError(KindPaused, "new_orders_paused", "new orders are paused")

	// Internal invariants; these indicate corrupted state, not caller error.
	ErrIllegalTransition = newError(KindInternal, "illegal_transition", "illegal state transition")
	ErrCustodyReleased   = newError(KindInternal, "custody_released", "custody already released")
)

var (
	errNilState        = errors.New("escrow engine: state not configured")
	errNotBootstrapped = errors.New("escrow engine: ledger not initialised")
)

// KindOf returns the classification of err, or KindInternal when err is not
// an escrow error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable machine-readable code for err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

func unauthorizedAccount(caller [20]byte) error {
	return fmt.Errorf("%w: %s", ErrUnauthorizedAccount, crypto.FormatAddress(caller))
}
