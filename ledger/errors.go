package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Classes of submission failures.
var (
	// ErrTransient failures may succeed on retry.
	ErrTransient = errors.New("transient ledger error")
	// ErrPermanent failures will not succeed on retry.
	ErrPermanent = errors.New("permanent ledger error")
)

// Rejections reported by the ledger.
var (
	ErrStaleReference        = errors.New("reference expired")
	ErrUnavailable           = errors.New("ledger unavailable")
	ErrTxNotFound            = errors.New("transaction not found")
	ErrReservoirInsufficient = errors.New("reservoir insufficient")
	ErrInvalidAccount        = errors.New("invalid account")
	ErrMalformed             = errors.New("malformed transaction")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrNonceMismatch         = errors.New("nonce mismatch")
	ErrAccountNotFound       = errors.New("account not found")
	ErrAccountExists         = errors.New("account already exists")
)

var permanent = []error{
	ErrReservoirInsufficient,
	ErrInvalidAccount,
	ErrMalformed,
	ErrUnauthorized,
	ErrNonceMismatch,
	ErrAccountNotFound,
	ErrAccountExists,
}

// IsPermanent reports whether err will fail the same way on retry.
// Unknown errors are considered transient. Retries are bounded anyway.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrPermanent) {
		return true
	}
	if errors.Is(err, ErrTransient) {
		return false
	}
	for _, p := range permanent {
		if errors.Is(err, p) {
			return true
		}
	}
	return false
}

// Classify wraps err into ErrTransient or ErrPermanent.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPermanent), errors.Is(err, ErrTransient):
		return err
	case IsPermanent(err):
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	default:
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
}

// isAmbiguous reports whether the transaction may have been applied
// although the attempt failed.
func isAmbiguous(err error) bool {
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrTxNotFound) ||
		errors.As(err, &netErr)
}

// Wire codes of rejections, shared by the gateway and its client.
var errorCodes = map[string]error{
	"stale_reference":        ErrStaleReference,
	"unavailable":            ErrUnavailable,
	"tx_not_found":           ErrTxNotFound,
	"reservoir_insufficient": ErrReservoirInsufficient,
	"invalid_account":        ErrInvalidAccount,
	"malformed":              ErrMalformed,
	"unauthorized":           ErrUnauthorized,
	"nonce_mismatch":         ErrNonceMismatch,
	"account_not_found":      ErrAccountNotFound,
	"account_exists":         ErrAccountExists,
}

func errorCode(err error) string {
	for code, e := range errorCodes {
		if errors.Is(err, e) {
			return code
		}
	}
	return "internal"
}

func errorFromCode(code, message string) error {
	if e, ok := errorCodes[code]; ok {
		return e
	}
	return fmt.Errorf("%w: %s: %s", ErrUnavailable, code, message)
}
