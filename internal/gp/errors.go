package gp

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyLength is returned for static keys that are not 16 bytes (2TDEA).
	ErrKeyLength = errors.New("key must be 16 bytes")
	// ErrCryptogram is returned when the card cryptogram does not match.
	ErrCryptogram = errors.New("card cryptogram mismatch")
	// ErrInvalidAPDU is returned for raw command APDUs with inconsistent lengths.
	ErrInvalidAPDU = errors.New("invalid command apdu")
	// ErrMalformed is returned for card responses that cannot be parsed.
	ErrMalformed = errors.New("malformed card response")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
	// ErrNoSecureChannel is returned by operations that need session keys.
	ErrNoSecureChannel = errors.New("no secure channel")
	// ErrKeyDataLength is returned for EMV key data that is not 10 bytes.
	ErrKeyDataLength = errors.New("key data must be 10 bytes")
	// ErrNotLocked is returned when the card still answers INITIALIZE UPDATE
	// after the attempt limit.
	ErrNotLocked = errors.New("card not locked")
)

// StatusError reports a status word other than the one an operation expects.
type StatusError struct {
	Op string
	SW uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s SW: %04x", e.Op, e.SW)
}
