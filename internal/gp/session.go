// Package gp implements a GlobalPlatform management session on a connected card.
package gp

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/status-im/keycard-go/apdu"

	"github.com/SimplyPrint/gpsh/internal/logging"
)

const (
	swOK = 0x9000

	// Maximum command data field by channel level.
	maxDataPlain   = 255
	maxDataOneWrap = 247
	maxDataBoth    = 239
)

// Card is the transport a Session drives. Disconnect(true) resets the card.
type Card interface {
	Transmit(cmd []byte) ([]byte, error)
	Disconnect(reset bool) error
}

// Info is a snapshot of the session state.
type Info struct {
	Terminal   string
	Selected   string
	Secure     bool
	MAC        bool
	Encrypt    bool
	KeyVersion int
	MaxDataLen int
}

// Session is one card connection with at most one secure channel. Methods
// are serialized with an internal lock so the console and scripts can share it.
type Session struct {
	mu sync.Mutex

	card     Card
	terminal string
	rand     io.Reader

	selected   string
	keyVersion int
	maxDataLen int
	channel    *secureChannel
	closed     bool
}

// NewSession wraps a connected card.
func NewSession(card Card, terminal string) *Session {
	return &Session{
		card:       card,
		terminal:   terminal,
		rand:       rand.Reader,
		maxDataLen: maxDataPlain,
	}
}

// Terminal returns the name of the terminal the card sits in.
func (s *Session) Terminal() string {
	return s.terminal
}

// Info returns the current session state.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		Terminal:   s.terminal,
		Selected:   s.selected,
		KeyVersion: s.keyVersion,
		MaxDataLen: s.maxDataLen,
	}
	if s.channel != nil {
		info.Secure = true
		info.MAC = s.channel.mac
		info.Encrypt = s.channel.enc
	}
	return info
}

// Transmit sends cmd, chaining its data over several APDUs when it exceeds
// the current maximum, and wrapping each piece when a secure channel is open.
// The response of the last piece is returned.
func (s *Session) Transmit(cmd *apdu.Command) (*apdu.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transmit(cmd)
}

// TransmitRaw parses raw as a command APDU and sends it like Transmit. The
// result is the response data followed by the status word.
func (s *Session) TransmitRaw(raw []byte) ([]byte, error) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		return nil, err
	}
	resp, err := s.Transmit(cmd)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, resp.Data...), resp.Sw1, resp.Sw2), nil
}

func (s *Session) transmit(cmd *apdu.Command) (*apdu.Response, error) {
	if s.closed {
		return nil, ErrClosed
	}

	pieces := Chain(cmd, s.maxDataLen)
	if len(pieces) > 1 {
		logging.Debug(logging.CatGP, "Chaining command", map[string]any{
			"ins":    fmt.Sprintf("%02x", cmd.Ins),
			"length": len(cmd.Data),
			"pieces": len(pieces),
		})
	}

	var resp *apdu.Response
	for i, piece := range pieces {
		r, err := s.transmitSingle(piece)
		if err != nil {
			return nil, err
		}
		resp = r
		if i < len(pieces)-1 && resp.Sw != swOK {
			// The card refused an intermediate piece; the rest would be meaningless.
			return resp, nil
		}
	}
	return resp, nil
}

func (s *Session) transmitSingle(cmd *apdu.Command) (*apdu.Response, error) {
	out := cmd
	if s.channel != nil {
		wrapped, err := s.channel.wrap(cmd)
		if err != nil {
			return nil, err
		}
		out = wrapped
	}

	resp, err := s.exchange(out)
	if err != nil {
		return nil, err
	}

	if resp.Sw1 == 0x6c && s.channel == nil {
		// Wrong Le; the card told us the right one.
		retry := apdu.NewCommand(cmd.Cla, cmd.Ins, cmd.P1, cmd.P2, cmd.Data)
		retry.SetLe(resp.Sw2)
		if resp, err = s.exchange(retry); err != nil {
			return nil, err
		}
	}
	if resp.Sw1 == 0x61 {
		return s.getResponse(resp)
	}
	return resp, nil
}

// getResponse collects the remaining bytes of a 61xx answer.
func (s *Session) getResponse(first *apdu.Response) (*apdu.Response, error) {
	data := append([]byte{}, first.Data...)
	resp := first
	for resp.Sw1 == 0x61 {
		get := apdu.NewCommand(0x00, 0xc0, 0x00, 0x00, nil)
		get.SetLe(resp.Sw2)
		r, err := s.exchange(get)
		if err != nil {
			return nil, err
		}
		data = append(data, r.Data...)
		resp = r
	}
	return &apdu.Response{Data: data, Sw1: resp.Sw1, Sw2: resp.Sw2, Sw: resp.Sw}, nil
}

func (s *Session) exchange(cmd *apdu.Command) (*apdu.Response, error) {
	raw, err := cmd.Serialize()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize apdu: %w", err)
	}

	logging.Debug(logging.CatGP, "APDU >", map[string]any{
		"terminal": s.terminal,
		"apdu":     hex.EncodeToString(raw),
	})

	start := time.Now()
	out, err := s.card.Transmit(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to transmit apdu: %w", err)
	}

	resp, err := apdu.ParseResponse(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	logging.Debug(logging.CatGP, "APDU <", map[string]any{
		"terminal": s.terminal,
		"response": hex.EncodeToString(out),
		"ms":       time.Since(start).Milliseconds(),
	})

	return resp, nil
}

// Close ends any secure channel and disconnects the card with a reset.
// Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.resetChannel()
	s.closed = true
	s.selected = ""

	logging.Info(logging.CatCard, "Session closed", map[string]any{
		"terminal": s.terminal,
	})
	return s.card.Disconnect(true)
}

// decodeHex accepts hex with optional whitespace.
func decodeHex(what, s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", what, err)
	}
	return b, nil
}
