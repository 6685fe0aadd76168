package gp

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOddParity(t *testing.T) {
	in := mustHex("404142434445464748494a4b4c4d4e4f")
	got := setOddParity(in)
	assert.Equal(t, "404043434545464649494a4a4c4c4f4f", hex.EncodeToString(got))
	assert.Equal(t, mustHex("404142434445464748494a4b4c4d4e4f"), in, "input must not change")
}

func TestKeyCheckValue(t *testing.T) {
	kcv, err := keyCheckValue(mustHex(testKey))
	require.NoError(t, err)
	assert.Equal(t, "8baf47", hex.EncodeToString(kcv))
}

func TestKeyDataFromIINCIN(t *testing.T) {
	kd, err := KeyDataFromIINCIN("42021234", "4508aabb56789abc")
	require.NoError(t, err)
	assert.Equal(t, "00000000123456789abc", kd)

	_, err = KeyDataFromIINCIN("12", "56789abc")
	require.Error(t, err)
}

func TestPutKeysNeedsSecureChannel(t *testing.T) {
	card := &fakeCard{}
	s := NewSession(card, "r")

	err := s.PutKeys(0x20, 0x21, testKey, testKey, testKey)
	require.ErrorIs(t, err, ErrNoSecureChannel)
	assert.Empty(t, card.sent)
}

func TestPutKeysValidation(t *testing.T) {
	s := NewSession(&fakeCard{}, "r")

	require.ErrorIs(t, s.PutKeys(0x20, 0x21, "4041", testKey, testKey), ErrKeyLength)
	require.ErrorIs(t, s.PutKeysDiversified(0x20, 0x21, testKey, "0102"), ErrKeyDataLength)
	require.ErrorIs(t, s.SCP02Diversified(0, false, true, testKey, "0102"), ErrKeyDataLength)
	require.Error(t, s.PutKeys(0x20, 0x100, testKey, testKey, testKey))
}

func TestPutKeysRefused(t *testing.T) {
	card := vectorCard(vectorInitResponse)
	s := vectorSession(card)
	require.NoError(t, s.SCP02(0, false, true, testKey))

	card.respond = func([]byte) []byte { return mustHex("6a80") }
	err := s.PutKeysFromIINCIN(0x20, 0x21, testKey, "1234", "56789abc")
	assert.True(t, IsStatus(err, 0x6a80))
	assert.Equal(t, 0x20, s.Info().KeyVersion, "key version only moves on success")

	last := card.sent[len(card.sent)-1]
	assert.Equal(t, mustHex("84d820814b"), last[:5])
}
