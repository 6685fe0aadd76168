package gp

import (
	"fmt"

	"github.com/status-im/keycard-go/apdu"
	"github.com/status-im/keycard-go/globalplatform/crypto"

	"github.com/SimplyPrint/gpsh/internal/logging"
)

const (
	insPutKey = 0xd8

	// P2 for replacing several keys of key identifier 1 in one command.
	p2PutKeyMultiple = 0x81

	keyTypeDES3  = 0x80
	keyDataBytes = 10
)

func decodeKey(what, s string) ([]byte, error) {
	key, err := decodeHex(what, s)
	if err != nil {
		return nil, err
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrKeyLength, what, len(key))
	}
	return key, nil
}

func decodeKeyData(s string) ([]byte, error) {
	kd, err := decodeHex("key data", s)
	if err != nil {
		return nil, err
	}
	if len(kd) != keyDataBytes {
		return nil, fmt.Errorf("%w: got %d", ErrKeyDataLength, len(kd))
	}
	return kd, nil
}

// KeyDataFromIINCIN builds EMV key data as four zero bytes, the last two
// bytes of the IIN and the last four bytes of the CIN (GET DATA 0042 / 0045).
func KeyDataFromIINCIN(iin, cin string) (string, error) {
	i, err := decodeHex("iin", iin)
	if err != nil {
		return "", err
	}
	c, err := decodeHex("cin", cin)
	if err != nil {
		return "", err
	}
	if len(i) < 2 || len(c) < 4 {
		return "", fmt.Errorf("iin needs 2 bytes and cin 4, got %d and %d", len(i), len(c))
	}
	kd := make([]byte, 4, keyDataBytes)
	kd = append(kd, i[len(i)-2:]...)
	kd = append(kd, c[len(c)-4:]...)
	return fmt.Sprintf("%x", kd), nil
}

// setOddParity returns a copy of key with the DES parity bit of every byte set.
func setOddParity(key []byte) []byte {
	out := make([]byte, len(key))
	for i, b := range key {
		p := b ^ b>>4
		p ^= p >> 2
		p ^= p >> 1
		out[i] = b ^ (p&1 ^ 1)
	}
	return out
}

// emvDiversify derives card key n (1 ENC, 2 MAC, 3 DEK) from master per
// EMV CPS 1.1: 3DES(master)[kd[4:10] F0 n || kd[4:10] 0F n].
func emvDiversify(master, keyData []byte, n byte) ([]byte, error) {
	tail := keyData[len(keyData)-6:]
	in := make([]byte, 0, 16)
	in = append(in, tail...)
	in = append(in, 0xf0, n)
	in = append(in, tail...)
	in = append(in, 0x0f, n)

	out, err := encryptECB(master, in)
	if err != nil {
		return nil, err
	}
	return setOddParity(out), nil
}

func diversifyAll(master, keyData []byte) (staticKeys, error) {
	var keys [3][]byte
	for i := range keys {
		k, err := emvDiversify(master, keyData, byte(i+1))
		if err != nil {
			return staticKeys{}, fmt.Errorf("failed to diversify key %d: %w", i+1, err)
		}
		keys[i] = k
	}
	return staticKeys{enc: keys[0], mac: keys[1], dek: keys[2]}, nil
}

// keyCheckValue is the first three bytes of the key encrypting zeros.
func keyCheckValue(key []byte) ([]byte, error) {
	out, err := encryptECB(key, crypto.NullBytes8)
	if err != nil {
		return nil, err
	}
	return out[:3], nil
}

// keyComponent formats one PUT KEY key block: type, length, the key under
// the session DEK, then the check value.
func (s *Session) keyComponent(key []byte) ([]byte, error) {
	kcv, err := keyCheckValue(key)
	if err != nil {
		return nil, err
	}
	wrapped, err := s.wrapData(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 22)
	out = append(out, keyTypeDES3, byte(len(wrapped)))
	out = append(out, wrapped...)
	out = append(out, byte(len(kcv)))
	return append(out, kcv...), nil
}

// PutKeys replaces the ENC, MAC and DEK keys of key identifier 1. The keys
// are hex 2TDEA values; odd parity is applied before they are sent. It needs
// an open secure channel for the DEK.
func (s *Session) PutKeys(currentVersion, newVersion int, enc, mac, dek string) error {
	var keys [3][]byte
	for i, k := range []struct{ what, hex string }{{"enc key", enc}, {"mac key", mac}, {"dek key", dek}} {
		key, err := decodeKey(k.what, k.hex)
		if err != nil {
			return err
		}
		keys[i] = setOddParity(key)
	}
	return s.putKeys(currentVersion, newVersion, staticKeys{enc: keys[0], mac: keys[1], dek: keys[2]})
}

// PutKeysDiversified replaces the keys of key identifier 1 with keys
// diversified from masterKey and the 10 byte keyData.
func (s *Session) PutKeysDiversified(currentVersion, newVersion int, masterKey, keyData string) error {
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
	return s.putKeys(currentVersion, newVersion, keys)
}

// PutKeysFromIINCIN is PutKeysDiversified with key data built from the card
// IIN and CIN.
func (s *Session) PutKeysFromIINCIN(currentVersion, newVersion int, masterKey, iin, cin string) error {
	kd, err := KeyDataFromIINCIN(iin, cin)
	if err != nil {
		return err
	}
	return s.PutKeysDiversified(currentVersion, newVersion, masterKey, kd)
}

func (s *Session) putKeys(currentVersion, newVersion int, keys staticKeys) error {
	if currentVersion < 0 || currentVersion > 0xff || newVersion < 0 || newVersion > 0xff {
		return fmt.Errorf("invalid key version %d -> %d", currentVersion, newVersion)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data := []byte{byte(newVersion)}
	for _, key := range [][]byte{keys.enc, keys.mac, keys.dek} {
		part, err := s.keyComponent(key)
		if err != nil {
			return err
		}
		data = append(data, part...)
	}

	cmd := apdu.NewCommand(0x80, insPutKey, byte(currentVersion), p2PutKeyMultiple, data)
	cmd.SetLe(0)
	resp, err := s.transmit(cmd)
	if err != nil {
		return err
	}
	if resp.Sw != swOK {
		return &StatusError{Op: fmt.Sprintf("PUT KEY %d -> %d", currentVersion, newVersion), SW: resp.Sw}
	}

	s.keyVersion = newVersion
	logging.Info(logging.CatGP, "Keys replaced", map[string]any{
		"terminal":    s.terminal,
		"key_version": newVersion,
	})
	return nil
}
