package presale

import "errors"

// Initialisation failures.
var (
	ErrAlreadyInitialized = errors.New("presale: already initialized")
	ErrInvalidConfig      = errors.New("presale: invalid config")
)

// Admission failures.
var (
	ErrBelowMinimum = errors.New("presale: first purchase below minimum allocation")
	ErrAboveMaximum = errors.New("presale: contribution above maximum allocation")
	ErrCapExceeded  = errors.New("presale: purchase cap exceeded")
)

var (
	errNilState = errors.New("presale engine: state not configured")

	ErrNotInitialized      = errors.New("presale: not initialized")
	ErrInvalidAmount       = errors.New("presale: amount must be positive")
	ErrInvalidAddress      = errors.New("presale: address must not be zero")
	ErrDustPurchase        = errors.New("presale: payment converts to zero tokens")
	ErrAmountOverflow      = errors.New("presale: amount overflow")
	ErrAdminCannotPurchase = errors.New("presale: upgrade admin cannot purchase")
	ErrUnauthorized        = errors.New("presale: caller is not the upgrade admin")
	ErrAdmissionNotFound   = errors.New("presale: admission not found")
	ErrAlreadySettled      = errors.New("presale: admission already settled")
	ErrAdmissionMismatch   = errors.New("presale: admission does not match stored record")
	ErrSchemaDowngrade     = errors.New("presale: schema downgrade refused")
	ErrUnsupportedSchema   = errors.New("presale: stored schema newer than this binary")
	ErrLayoutIncompatible  = errors.New("presale: storage layout is not an append-only extension")
)
