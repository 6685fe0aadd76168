package core

// SmartCardContext is an established PC/SC context. Shares and protocols
// are passed as PC/SC constants; see ShareMode and Protocol.
type SmartCardContext interface {
	ListReaders() ([]string, error)
	// CardPresent samples the reader state without connecting.
	CardPresent(reader string) (bool, error)
	Connect(reader string, shareMode, protocol uint32) (SmartCard, error)
	Release() error
}

// SmartCard is a connected card handle. Transmit takes and returns raw
// APDU bytes; Disconnect takes a PC/SC disposition.
type SmartCard interface {
	Transmit(cmd []byte) ([]byte, error)
	Status() (SmartCardStatus, error)
	Disconnect(disposition uint32) error
}

// SmartCardStatus is what the provider reports for a connected card.
type SmartCardStatus struct {
	Reader         string
	State          uint32
	ActiveProtocol uint32
	Atr            []byte
}

// ContextFactory establishes contexts. Discover calls it once per registry.
type ContextFactory interface {
	EstablishContext() (SmartCardContext, error)
}

// DefaultContextFactory establishes contexts on the system PC/SC service.
type DefaultContextFactory struct{}
