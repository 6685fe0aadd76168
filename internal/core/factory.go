package core

import (
	"fmt"
	"strings"

	"github.com/ebfe/scard"

	"github.com/SimplyPrint/gpsh/internal/gp"
	"github.com/SimplyPrint/gpsh/internal/logging"
)

// Protocol selects the transmission protocol negotiated on connect.
type Protocol int

const (
	ProtocolAny Protocol = iota
	ProtocolT0
	ProtocolT1
)

func (p Protocol) String() string {
	switch p {
	case ProtocolT0:
		return "T=0"
	case ProtocolT1:
		return "T=1"
	default:
		return "*"
	}
}

func (p Protocol) pcsc() uint32 {
	switch p {
	case ProtocolT0:
		return uint32(scard.ProtocolT0)
	case ProtocolT1:
		return uint32(scard.ProtocolT1)
	default:
		return uint32(scard.ProtocolAny)
	}
}

// ParseProtocol accepts "*", "any", "T=0", "t0", "T=1" and "t1".
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "=", "")) {
	case "", "*", "any":
		return ProtocolAny, nil
	case "t0":
		return ProtocolT0, nil
	case "t1":
		return ProtocolT1, nil
	}
	return ProtocolAny, fmt.Errorf("unknown protocol %q", s)
}

// ShareMode is handed to the provider unchanged on connect.
type ShareMode int

const (
	ShareShared ShareMode = iota
	ShareExclusive
)

func (m ShareMode) String() string {
	if m == ShareExclusive {
		return "exclusive"
	}
	return "shared"
}

func (m ShareMode) pcsc() uint32 {
	if m == ShareExclusive {
		return uint32(scard.ShareExclusive)
	}
	return uint32(scard.ShareShared)
}

// ParseShareMode accepts "shared" and "exclusive".
func ParseShareMode(s string) (ShareMode, error) {
	switch strings.ToLower(s) {
	case "", "shared":
		return ShareShared, nil
	case "exclusive":
		return ShareExclusive, nil
	}
	return ShareShared, fmt.Errorf("unknown share mode %q", s)
}

// Connect opens a card connection on the terminal at index. An out of range
// index fails before the provider is asked anything. Presence is re-sampled
// so that an empty slot is reported as ErrNoCard rather than a generic
// failure; a failed presence check does not block the attempt.
func (r *Registry) Connect(index int, proto Protocol) (SmartCard, error) {
	t, err := r.Terminal(index)
	if err != nil {
		return nil, err
	}
	if r.ctx == nil {
		return nil, &ConnectionError{Index: index, Terminal: t.Name, Protocol: proto, Kind: ConnFailed,
			Err: fmt.Errorf("registry closed")}
	}

	present, err := r.ctx.CardPresent(t.Name)
	if err == nil && !present {
		logging.Warn(logging.CatCard, "No card in terminal", map[string]any{
			"index":  index,
			"reader": t.Name,
		})
		return nil, &ConnectionError{Index: index, Terminal: t.Name, Protocol: proto, Kind: ConnNoCard}
	}

	card, err := r.ctx.Connect(t.Name, r.shareMode.pcsc(), proto.pcsc())
	if err != nil {
		kind := classifyConnectErr(err)
		logging.Warn(logging.CatCard, "Card connection failed", map[string]any{
			"index":    index,
			"reader":   t.Name,
			"protocol": proto.String(),
			"kind":     kind.String(),
			"error":    err.Error(),
		})
		return nil, &ConnectionError{Index: index, Terminal: t.Name, Protocol: proto, Kind: kind, Err: err}
	}

	logging.Info(logging.CatCard, "Card connected", map[string]any{
		"index":    index,
		"reader":   t.Name,
		"protocol": proto.String(),
		"share":    r.shareMode.String(),
	})
	return card, nil
}

// SessionFactory turns a terminal index into a GP session.
type SessionFactory struct {
	Registry *Registry
	// Build wraps the connected card. Defaults to gp.NewSession.
	Build func(card gp.Card, terminal string) *gp.Session
}

// NewSessionFactory returns a factory over reg using gp.NewSession.
func NewSessionFactory(reg *Registry) *SessionFactory {
	return &SessionFactory{Registry: reg, Build: gp.NewSession}
}

// Open connects to the terminal at index and wraps the card in a session.
// The caller owns the session. Connection errors are returned unchanged.
func (f *SessionFactory) Open(index int, proto Protocol) (*gp.Session, error) {
	card, err := f.Registry.Connect(index, proto)
	if err != nil {
		return nil, err
	}

	t, _ := f.Registry.Terminal(index)
	build := f.Build
	if build == nil {
		build = gp.NewSession
	}
	return build(&cardChannel{card: card}, t.Name), nil
}

// cardChannel adapts a SmartCard to the transport a gp.Session drives.
type cardChannel struct {
	card SmartCard
}

func (c *cardChannel) Transmit(cmd []byte) ([]byte, error) {
	return c.card.Transmit(cmd)
}

func (c *cardChannel) Disconnect(reset bool) error {
	if reset {
		return c.card.Disconnect(uint32(scard.ResetCard))
	}
	return c.card.Disconnect(uint32(scard.LeaveCard))
}
