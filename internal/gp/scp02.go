package gp

import (
	"crypto/cipher"
	"crypto/des"
	"fmt"
	"io"

	"github.com/status-im/keycard-go/apdu"
	"github.com/status-im/keycard-go/globalplatform"
	"github.com/status-im/keycard-go/globalplatform/crypto"

	"github.com/SimplyPrint/gpsh/internal/logging"
)

// derivationPurposeDEK derives the session data encryption key.
var derivationPurposeDEK = []byte{0x01, 0x81}

// secureChannel holds the session keys of an authenticated SCP02 channel.
type secureChannel struct {
	wrapper *globalplatform.SCP02Wrapper
	encKey  []byte
	dekKey  []byte
	mac     bool
	enc     bool
}

// wrap applies C-MAC then C-DECRYPTION to cmd. The MAC covers the plain data.
func (c *secureChannel) wrap(cmd *apdu.Command) (*apdu.Command, error) {
	if !c.mac && !c.enc {
		return cmd, nil
	}
	data := cmd.Data

	var mac []byte
	if c.mac {
		wrapped, err := c.wrapper.Wrap(cmd)
		if err != nil {
			return nil, fmt.Errorf("failed to compute c-mac: %w", err)
		}
		wd := wrapped.Data
		mac = append([]byte(nil), wd[len(wd)-8:]...)
	}

	if c.enc && len(data) > 0 {
		encrypted, err := encryptCBC(c.encKey, crypto.AppendDESPadding(append([]byte(nil), data...)))
		if err != nil {
			return nil, err
		}
		data = encrypted
	}

	body := make([]byte, 0, len(data)+len(mac))
	body = append(body, data...)
	body = append(body, mac...)

	out := apdu.NewCommand(cmd.Cla|0x04, cmd.Ins, cmd.P1, cmd.P2, body)
	if ok, le := cmd.Le(); ok {
		out.SetLe(le)
	}
	return out, nil
}

// encryptCBC is 3DES-CBC with a zero IV over block aligned data.
func encryptCBC(key, data []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(key24(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, make([]byte, des.BlockSize)).CryptBlocks(out, data)
	return out, nil
}

// encryptECB is 3DES-ECB over block aligned data.
func encryptECB(key, data []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(key24(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += des.BlockSize {
		block.Encrypt(out[i:i+des.BlockSize], data[i:i+des.BlockSize])
	}
	return out, nil
}

// key24 expands a 2TDEA key to the K1|K2|K1 form.
func key24(key []byte) []byte {
	out := make([]byte, 0, 24)
	out = append(out, key[:16]...)
	return append(out, key[:8]...)
}

// staticKeys are the card static keys a secure channel is derived from.
type staticKeys struct {
	enc, mac, dek []byte
}

// SCP02 opens a secure channel with the given static key (hex, 16 bytes)
// used for all of ENC, MAC and DEK. keyVersion 0 lets the card pick the key
// set. EXTERNAL AUTHENTICATE is always MACed; enc and mac choose what the
// following commands carry.
func (s *Session) SCP02(keyVersion int, enc, mac bool, staticKey string) error {
	key, err := decodeKey("static key", staticKey)
	if err != nil {
		return err
	}
	return s.openSCP02(keyVersion, enc, mac, staticKeys{enc: key, mac: key, dek: key})
}

// SCP02Diversified opens a secure channel with static keys diversified from
// masterKey and the 10 byte keyData (GET DATA 00cf) using EMV CPS 1.1.
func (s *Session) SCP02Diversified(keyVersion int, enc, mac bool, masterKey, keyData string) error {
	master, err := decodeKey("master key", masterKey)
	if err != nil {
		return err
	}
	kd, err := decodeKeyData(keyData)
	if err != nil {
		return err
	}
	keys, err := diversifyAll(master, kd)
	if err != nil {
		return err
	}
	return s.openSCP02(keyVersion, enc, mac, keys)
}

func (s *Session) openSCP02(keyVersion int, enc, mac bool, keys staticKeys) error {
	if keyVersion < 0 || keyVersion > 0xff {
		return fmt.Errorf("invalid key version %d", keyVersion)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.resetChannel()

	hostChallenge := make([]byte, 8)
	if _, err := io.ReadFull(s.rand, hostChallenge); err != nil {
		return fmt.Errorf("failed to generate host challenge: %w", err)
	}

	initUpdate := apdu.NewCommand(0x80, 0x50, uint8(keyVersion), 0x00, hostChallenge)
	initUpdate.SetLe(0)
	resp, err := s.transmit(initUpdate)
	if err != nil {
		return err
	}
	if resp.Sw != swOK {
		return &StatusError{Op: "INITIALIZE UPDATE", SW: resp.Sw}
	}

	d := resp.Data
	if len(d) < 28 {
		return fmt.Errorf("%w: INITIALIZE UPDATE returned %d bytes, want 28", ErrMalformed, len(d))
	}

	cardKeyVersion := int(d[10])
	if scp := d[11]; scp != 0x02 {
		logging.Warn(logging.CatGP, "Card reports non SCP02 protocol", map[string]any{
			"scp": fmt.Sprintf("%02x", scp),
		})
	}
	seq := append([]byte(nil), d[12:14]...)
	cardChallenge := append([]byte(nil), d[12:20]...)
	cardCryptogram := append([]byte(nil), d[20:28]...)

	encKey, err := crypto.DeriveKey(keys.enc, seq, crypto.DerivationPurposeEnc)
	if err != nil {
		return fmt.Errorf("failed to derive s-enc: %w", err)
	}
	macKey, err := crypto.DeriveKey(keys.mac, seq, crypto.DerivationPurposeMac)
	if err != nil {
		return fmt.Errorf("failed to derive s-mac: %w", err)
	}
	dekKey, err := crypto.DeriveKey(keys.dek, seq, derivationPurposeDEK)
	if err != nil {
		return fmt.Errorf("failed to derive s-dek: %w", err)
	}

	ok, err := crypto.VerifyCryptogram(encKey, hostChallenge, cardChallenge, cardCryptogram)
	if err != nil {
		return fmt.Errorf("failed to verify card cryptogram: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: card sent %x", ErrCryptogram, cardCryptogram)
	}

	hostData := make([]byte, 0, 24)
	hostData = append(hostData, cardChallenge...)
	hostData = append(hostData, hostChallenge...)
	hostCryptogram, err := crypto.Mac3DES(encKey, crypto.AppendDESPadding(hostData), crypto.NullBytes8)
	if err != nil {
		return fmt.Errorf("failed to compute host cryptogram: %w", err)
	}

	var level uint8
	if enc {
		level |= 0x02
	}
	if mac {
		level |= 0x01
	}

	s.channel = &secureChannel{
		wrapper: globalplatform.NewSCP02Wrapper(macKey),
		encKey:  encKey,
		dekKey:  dekKey,
		mac:     true,
	}

	resp, err = s.transmit(apdu.NewCommand(0x80, 0x82, level, 0x00, hostCryptogram))
	if err != nil {
		s.resetChannel()
		return err
	}
	if resp.Sw != swOK {
		s.resetChannel()
		return &StatusError{Op: "EXTERNAL AUTHENTICATE", SW: resp.Sw}
	}

	s.channel.mac = mac
	s.channel.enc = enc
	s.keyVersion = cardKeyVersion
	switch {
	case mac && enc:
		s.maxDataLen = maxDataBoth
	case mac || enc:
		s.maxDataLen = maxDataOneWrap
	default:
		// Authenticated but plain; commands go out unwrapped.
		s.maxDataLen = maxDataPlain
	}

	logging.Info(logging.CatGP, "Secure channel established", map[string]any{
		"terminal":    s.terminal,
		"key_version": cardKeyVersion,
		"mac":         mac,
		"enc":         enc,
	})
	return nil
}

// TerminateSCP02 drops the secure channel state. Later commands go out plain.
func (s *Session) TerminateSCP02() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetChannel()
}

func (s *Session) resetChannel() {
	s.channel = nil
	s.keyVersion = 0
	s.maxDataLen = maxDataPlain
}

// WrapData encrypts block aligned data with the session DEK, as used for
// key and secret values inside PUT KEY and STORE DATA.
func (s *Session) WrapData(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrapData(data)
}

func (s *Session) wrapData(data []byte) ([]byte, error) {
	if s.channel == nil {
		return nil, ErrNoSecureChannel
	}
	if len(data)%des.BlockSize != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of %d", len(data), des.BlockSize)
	}
	return encryptECB(s.channel.dekKey, data)
}
