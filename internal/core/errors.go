package core

import (
	"errors"
	"fmt"

	"github.com/ebfe/scard"
)

var (
	// ErrNoProvider means no PC/SC service could be reached.
	ErrNoProvider = errors.New("no smartcard terminal provider available")
	// ErrEnumeration means the provider is present but listing terminals failed.
	ErrEnumeration = errors.New("terminal enumeration failed")
	// ErrInvalidIndex matches any *InvalidIndexError.
	ErrInvalidIndex = errors.New("invalid terminal index")
	// ErrNoCard matches a *ConnectionError caused by an empty terminal.
	ErrNoCard = errors.New("no card present")
	// ErrConnect matches a *ConnectionError on a present card.
	ErrConnect = errors.New("card connection failed")
)

// InvalidIndexError reports a terminal index outside the registry.
type InvalidIndexError struct {
	Index int
	Count int
}

func (e *InvalidIndexError) Error() string {
	return fmt.Sprintf("invalid terminal index %d (have %d terminals)", e.Index, e.Count)
}

func (e *InvalidIndexError) Is(target error) bool {
	return target == ErrInvalidIndex
}

// ConnectionKind separates an empty terminal from a failed connection.
type ConnectionKind int

const (
	// ConnNoCard: nothing to connect to; insert a card and retry.
	ConnNoCard ConnectionKind = iota
	// ConnFailed: a card is there but could not be powered, selected or negotiated.
	ConnFailed
)

func (k ConnectionKind) String() string {
	if k == ConnNoCard {
		return "no card present"
	}
	return "connection failed"
}

// ConnectionError is returned by Registry.Connect.
type ConnectionError struct {
	Index    int
	Terminal string
	Protocol Protocol
	Kind     ConnectionKind
	Err      error
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("terminal %d (%s): %s", e.Index, e.Terminal, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	switch target {
	case ErrNoCard:
		return e.Kind == ConnNoCard
	case ErrConnect:
		return e.Kind == ConnFailed
	}
	return false
}

// classifyConnectErr maps provider errors that mean "the slot is empty".
func classifyConnectErr(err error) ConnectionKind {
	var serr scard.Error
	if errors.As(err, &serr) {
		switch serr {
		case scard.ErrNoSmartcard, scard.ErrRemovedCard:
			return ConnNoCard
		}
	}
	return ConnFailed
}

// isNoReaders reports the provider answer for a host with zero readers.
func isNoReaders(err error) bool {
	var serr scard.Error
	return errors.As(err, &serr) && serr == scard.ErrNoReadersAvailable
}
