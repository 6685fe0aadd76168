package gp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/status-im/keycard-go/apdu"

	"github.com/SimplyPrint/gpsh/internal/logging"
)

// Select selects the application with the given AID (hex). Any secure
// channel ends with the selection.
func (s *Session) Select(aid string) error {
	raw, err := decodeHex("aid", aid)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetChannel()
	cmd := apdu.NewCommand(0x00, 0xa4, 0x04, 0x00, raw)
	cmd.SetLe(0)
	resp, err := s.transmit(cmd)
	if err != nil {
		return err
	}
	if resp.Sw != swOK {
		return &StatusError{Op: "SELECT " + strings.ToUpper(aid), SW: resp.Sw}
	}

	s.selected = strings.ToUpper(fmt.Sprintf("%x", raw))
	logging.Info(logging.CatGP, "Application selected", map[string]any{
		"terminal": s.terminal,
		"aid":      s.selected,
	})
	return nil
}

// GetData reads the data object tagged p1p2 (for example 0x0066 card data,
// 0x00e0 key information template, 0x00cf key derivation data).
func (s *Session) GetData(p1p2 uint16) ([]byte, error) {
	cmd := apdu.NewCommand(0x80, 0xca, uint8(p1p2>>8), uint8(p1p2), nil)
	cmd.SetLe(0)
	resp, err := s.Transmit(cmd)
	if err != nil {
		return nil, err
	}
	if resp.Sw != swOK {
		return nil, &StatusError{Op: fmt.Sprintf("GET DATA %04x", p1p2), SW: resp.Sw}
	}
	return resp.Data, nil
}

// GetKeyInfo returns the key set entries of the key information template as
// "<id>/<version>" in card order.
func (s *Session) GetKeyInfo() ([]string, error) {
	data, err := s.GetData(0x00e0)
	if err != nil {
		return nil, err
	}
	return parseKeyInfo(data)
}

func parseKeyInfo(data []byte) ([]string, error) {
	tmpl, err := apdu.FindTag(data, apdu.Tag{0xe0})
	if err != nil {
		return nil, fmt.Errorf("%w: key information template: %w", ErrMalformed, err)
	}

	var keys []string
	for n := 0; ; n++ {
		entry, err := apdu.FindTagN(tmpl, n, apdu.Tag{0xc0})
		if err != nil {
			break
		}
		if len(entry) < 2 {
			continue
		}
		keys = append(keys, fmt.Sprintf("%d/%d", entry[0], entry[1]))
	}
	return keys, nil
}

// GetStatus lists the issuer security domain, applications and security
// domains, and executable load files.
func (s *Session) GetStatus() (*StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &StatusResult{}

	isd, err := s.getStatus(0x80, swOK)
	if err != nil {
		return nil, err
	}
	if entries := parseEntries(isd, StatusISD); len(entries) > 0 {
		result.ISD = &entries[0]
	}

	apps, err := s.getStatus(0x40, 0x6a88)
	if err != nil {
		return nil, err
	}
	result.Apps = parseEntries(apps, StatusApp)

	files, err := s.getStatus(0x10, 0x6310)
	if err != nil {
		return nil, err
	}
	result.LoadFiles = parseLoadFiles(files)

	return result, nil
}

// getStatus sends GET STATUS for one subset. okAlt is an extra status word
// accepted as success (nothing found, or more data available).
func (s *Session) getStatus(p1 uint8, okAlt uint16) ([]byte, error) {
	cmd := apdu.NewCommand(0x80, 0xf2, p1, 0x00, []byte{0x4f, 0x00})
	cmd.SetLe(0)
	resp, err := s.transmit(cmd)
	if err != nil {
		return nil, err
	}
	if resp.Sw != swOK && resp.Sw != okAlt {
		return nil, &StatusError{Op: fmt.Sprintf("GET STATUS %02x", p1), SW: resp.Sw}
	}
	if resp.Sw == 0x6a88 {
		return nil, nil
	}
	return resp.Data, nil
}

// Delete deletes the object with the given AID. A refusal is logged and
// not returned; absent objects are the common case in scripts.
func (s *Session) Delete(aid string) error {
	raw, err := decodeHex("aid", aid)
	if err != nil {
		return err
	}

	data := append([]byte{0x4f, byte(len(raw))}, raw...)
	resp, err := s.Transmit(apdu.NewCommand(0x80, 0xe4, 0x00, 0x00, data))
	if err != nil {
		return err
	}
	if resp.Sw != swOK {
		logging.Warn(logging.CatGP, "Delete refused", map[string]any{
			"aid": strings.ToUpper(aid),
			"sw":  fmt.Sprintf("%04x", resp.Sw),
		})
	}
	return nil
}

// DeleteKey deletes the key with the given identifier and version. Like
// Delete, a refusal is only logged.
func (s *Session) DeleteKey(id, version int) error {
	if id < 0 || id > 0xff || version < 0 || version > 0xff {
		return fmt.Errorf("invalid key %d/%d", id, version)
	}

	cmd := apdu.NewCommand(0x80, 0xe4, 0x00, 0x00, []byte{0xd0, 0x01, byte(id), 0xd2, 0x01, byte(version)})
	cmd.SetLe(0)
	resp, err := s.Transmit(cmd)
	if err != nil {
		return err
	}
	if resp.Sw != swOK {
		logging.Warn(logging.CatGP, "Key delete refused", map[string]any{
			"key": fmt.Sprintf("%d/%d", id, version),
			"sw":  fmt.Sprintf("%04x", resp.Sw),
		})
	}
	return nil
}

// SetStatus changes the life cycle state of the object with the given AID.
func (s *Session) SetStatus(statusType, stateControl uint8, aid string) error {
	raw, err := decodeHex("aid", aid)
	if err != nil {
		return err
	}
	resp, err := s.Transmit(apdu.NewCommand(0x80, 0xf0, statusType, stateControl, raw))
	if err != nil {
		return err
	}
	if resp.Sw != swOK {
		return &StatusError{Op: fmt.Sprintf("SET STATUS %02x/%02x %s", statusType, stateControl, strings.ToUpper(aid)), SW: resp.Sw}
	}
	return nil
}

// StoreData sends data (hex) to the selected security domain. p1p2 carries
// the block number and data structure flags.
func (s *Session) StoreData(p1p2 uint16, data string) error {
	raw, err := decodeHex("data", data)
	if err != nil {
		return err
	}
	resp, err := s.Transmit(apdu.NewCommand(0x80, 0xda, uint8(p1p2>>8), uint8(p1p2), raw))
	if err != nil {
		return err
	}
	if resp.Sw != swOK {
		return &StatusError{Op: fmt.Sprintf("STORE DATA %04x", p1p2), SW: resp.Sw}
	}
	return nil
}

// GemaltoCardManager is the card manager AID LockCard selects.
const GemaltoCardManager = "A000000018434D00"

// LockCard selects the card manager and repeats INITIALIZE UPDATE with a
// zero challenge until the card refuses it, which exhausts the card's
// authentication retry counter. A locked card never opens a secure channel
// again. Some simulators never lock, so at most maxAttempts commands are
// sent; it returns how many the card accepted.
func (s *Session) LockCard(maxAttempts int) (int, error) {
	if maxAttempts <= 0 {
		return 0, fmt.Errorf("invalid attempt limit %d", maxAttempts)
	}
	if err := s.Select(GemaltoCardManager); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for accepted := 0; accepted < maxAttempts; accepted++ {
		cmd := apdu.NewCommand(0x80, 0x50, 0x00, 0x00, make([]byte, 8))
		cmd.SetLe(0)
		resp, err := s.transmit(cmd)
		if err != nil {
			return accepted, err
		}
		if resp.Sw != swOK {
			logging.Warn(logging.CatGP, "Card locked", map[string]any{
				"terminal": s.terminal,
				"accepted": accepted,
				"sw":       fmt.Sprintf("%04x", resp.Sw),
			})
			return accepted, nil
		}
	}
	return maxAttempts, fmt.Errorf("%w after %d attempts", ErrNotLocked, maxAttempts)
}

// IsStatus reports whether err is a *StatusError with the given status word.
func IsStatus(err error, sw uint16) bool {
	var se *StatusError
	return errors.As(err, &se) && se.SW == sw
}
