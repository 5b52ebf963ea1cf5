package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors let the HTTP layer map engine outcomes to status
// codes without string matching.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrGateway        = errors.New("gateway call failed")
	ErrConflict       = errors.New("state already transitioned")
	ErrPersistenceGap = errors.New("gateway succeeded but local write failed")

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotRefundable       = errors.New("transaction is not refundable")
)

func Validation(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, a...))
}

func NotFound(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, a...))
}

func Gateway(err error) error {
	return fmt.Errorf("%w: %v", ErrGateway, err)
}

// PersistenceGap wraps a local-store failure that happened after the
// provider already moved money. Callers must report the money movement
// as successful and queue the gap for manual reconciliation.
func PersistenceGap(err error) error {
	return fmt.Errorf("%w: %v", ErrPersistenceGap, err)
}

func IsValidation(err error) bool     { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool       { return errors.Is(err, ErrNotFound) }
func IsGateway(err error) bool        { return errors.Is(err, ErrGateway) }
func IsConflict(err error) bool       { return errors.Is(err, ErrConflict) }
func IsPersistenceGap(err error) bool { return errors.Is(err, ErrPersistenceGap) }
