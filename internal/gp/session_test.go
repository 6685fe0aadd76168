package gp

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/status-im/keycard-go/apdu"
	"github.com/status-im/keycard-go/globalplatform/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "404142434445464748494a4b4c4d4e4f"

func TestTransmitRaw(t *testing.T) {
	card := &fakeCard{queue: [][]byte{mustHex("6f109000")}}
	s := NewSession(card, "ACS Reader 1")

	out, err := s.TransmitRaw(mustHex("00a4040000"))
	require.NoError(t, err)
	assert.Equal(t, mustHex("6f109000"), out)
	assert.Equal(t, []string{"00a4040000"}, card.sentHex())
}

func TestTransmitRawInvalid(t *testing.T) {
	card := &fakeCard{}
	s := NewSession(card, "r")

	_, err := s.TransmitRaw(mustHex("00a40400ff00"))
	require.ErrorIs(t, err, ErrInvalidAPDU)
	assert.Empty(t, card.sent)
}

func TestTransmitChainsLongData(t *testing.T) {
	card := &fakeCard{respond: func([]byte) []byte { return mustHex("9000") }}
	s := NewSession(card, "r")

	_, err := s.Transmit(apdu.NewCommand(0x80, 0xe8, 0x00, 0x00, make([]byte, 300)))
	require.NoError(t, err)
	require.Len(t, card.sent, 2)
	assert.Equal(t, byte(0x90), card.sent[0][0])
	assert.Equal(t, byte(0xff), card.sent[0][4])
	assert.Equal(t, byte(0x80), card.sent[1][0])
	assert.Equal(t, byte(45), card.sent[1][4])
}

func TestTransmitStopsChainOnError(t *testing.T) {
	card := &fakeCard{respond: func([]byte) []byte { return mustHex("6a80") }}
	s := NewSession(card, "r")

	resp, err := s.Transmit(apdu.NewCommand(0x80, 0xe8, 0x00, 0x00, make([]byte, 600)))
	require.NoError(t, err)
	assert.Equal(t, uint16(0x6a80), resp.Sw)
	assert.Len(t, card.sent, 1)
}

func TestTransmitGetResponse(t *testing.T) {
	card := &fakeCard{queue: [][]byte{mustHex("aabb6103"), mustHex("ccddee9000")}}
	s := NewSession(card, "r")

	cmd := apdu.NewCommand(0x80, 0xca, 0x00, 0x66, nil)
	cmd.SetLe(0)
	resp, err := s.Transmit(cmd)
	require.NoError(t, err)
	assert.Equal(t, mustHex("aabbccddee"), resp.Data)
	assert.Equal(t, uint16(0x9000), resp.Sw)
	assert.Equal(t, []string{"80ca006600", "00c0000003"}, card.sentHex())
}

func TestTransmitWrongLength(t *testing.T) {
	card := &fakeCard{queue: [][]byte{mustHex("6c10"), mustHex("01029000")}}
	s := NewSession(card, "r")

	cmd := apdu.NewCommand(0x80, 0xca, 0x00, 0x66, nil)
	cmd.SetLe(0)
	resp, err := s.Transmit(cmd)
	require.NoError(t, err)
	assert.Equal(t, mustHex("0102"), resp.Data)
	assert.Equal(t, []string{"80ca006600", "80ca006610"}, card.sentHex())
}

func TestTransmitWrongLengthThenMoreData(t *testing.T) {
	card := &fakeCard{queue: [][]byte{mustHex("6c10"), mustHex("01026102"), mustHex("03049000")}}
	s := NewSession(card, "r")

	cmd := apdu.NewCommand(0x80, 0xca, 0x00, 0x66, nil)
	cmd.SetLe(0)
	resp, err := s.Transmit(cmd)
	require.NoError(t, err)
	assert.Equal(t, mustHex("01020304"), resp.Data)
	assert.Equal(t, uint16(0x9000), resp.Sw)
	assert.Equal(t, []string{"80ca006600", "80ca006610", "00c0000002"}, card.sentHex())
}

func TestTransmitCardError(t *testing.T) {
	cause := errors.New("reader unplugged")
	s := NewSession(&fakeCard{transmitErr: cause}, "r")

	_, err := s.Transmit(apdu.NewCommand(0x00, 0xa4, 0x04, 0x00, nil))
	require.ErrorIs(t, err, cause)
}

func TestSelect(t *testing.T) {
	card := &fakeCard{queue: [][]byte{mustHex("9000"), mustHex("6a82")}}
	s := NewSession(card, "r")

	require.NoError(t, s.Select("a000000003000000"))
	assert.Equal(t, "A000000003000000", s.Info().Selected)
	assert.Equal(t, "00a4040008a00000000300000000", card.sentHex()[0])

	err := s.Select("a0000000")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, uint16(0x6a82), se.SW)
	assert.True(t, IsStatus(err, 0x6a82))
}

func TestGetData(t *testing.T) {
	card := &fakeCard{queue: [][]byte{mustHex("66049000"), mustHex("6a88")}}
	s := NewSession(card, "r")

	data, err := s.GetData(0x0066)
	require.NoError(t, err)
	assert.Equal(t, mustHex("6604"), data)

	_, err = s.GetData(0x00cf)
	assert.True(t, IsStatus(err, 0x6a88))
	assert.Equal(t, "80ca00cf00", card.sentHex()[1])
}

func TestGetKeyInfo(t *testing.T) {
	card := &fakeCard{queue: [][]byte{mustHex("e012c00401ff8010c00402ff8010c00403ff80109000")}}
	s := NewSession(card, "r")

	keys, err := s.GetKeyInfo()
	require.NoError(t, err)
	assert.Equal(t, []string{"1/255", "2/255", "3/255"}, keys)
	assert.Equal(t, "80ca00e000", card.sentHex()[0])
}

func TestGetKeyInfoMissingTemplate(t *testing.T) {
	card := &fakeCard{queue: [][]byte{mustHex("66009000")}}
	s := NewSession(card, "r")

	_, err := s.GetKeyInfo()
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDeleteIgnoresRefusal(t *testing.T) {
	card := &fakeCard{queue: [][]byte{mustHex("6a88"), mustHex("6a88")}}
	s := NewSession(card, "r")

	require.NoError(t, s.Delete("a0000000620001"))
	require.NoError(t, s.DeleteKey(1, 255))
	assert.Equal(t, []string{
		"80e40000094f07a0000000620001",
		"80e4000006d00101d201ff00",
	}, card.sentHex())
}

func TestSetStatusAndStoreData(t *testing.T) {
	card := &fakeCard{queue: [][]byte{mustHex("9000"), mustHex("6985")}}
	s := NewSession(card, "r")

	require.NoError(t, s.SetStatus(0x80, 0x7f, "a000000003000000"))
	err := s.StoreData(0x0070, "0102")
	assert.True(t, IsStatus(err, 0x6985))
	assert.Equal(t, []string{
		"80f0807f08a000000003000000",
		"80da0070020102",
	}, card.sentHex())
}

func TestClose(t *testing.T) {
	card := &fakeCard{}
	s := NewSession(card, "r")

	require.NoError(t, s.Close())
	assert.True(t, card.disconnected)
	assert.True(t, card.reset)
	require.NoError(t, s.Close())

	_, err := s.Transmit(apdu.NewCommand(0x00, 0xa4, 0x04, 0x00, nil))
	require.ErrorIs(t, err, ErrClosed)
}

// scp02Card emulates the card side of the SCP02 handshake for testKey.
type scp02Card struct {
	fakeCard
	badCryptogram bool
	authLevel     byte
	authData      []byte
}

func newSCP02Card(t *testing.T, badCryptogram bool) *scp02Card {
	c := &scp02Card{badCryptogram: badCryptogram}
	key := mustHex(testKey)
	seq := []byte{0x00, 0x2a}
	cardChallenge := []byte{0x00, 0x2a, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

	c.respond = func(cmd []byte) []byte {
		switch cmd[1] {
		case 0x50:
			host := cmd[5:13]
			encKey, err := crypto.DeriveKey(key, seq, crypto.DerivationPurposeEnc)
			require.NoError(t, err)

			data := append(append([]byte(nil), host...), cardChallenge...)
			cryptogram, err := crypto.Mac3DES(encKey, crypto.AppendDESPadding(data), crypto.NullBytes8)
			require.NoError(t, err)
			if c.badCryptogram {
				cryptogram = make([]byte, 8)
			}

			resp := make([]byte, 10)
			resp = append(resp, 0x01, 0x02)
			resp = append(resp, cardChallenge...)
			resp = append(resp, cryptogram...)
			return append(resp, 0x90, 0x00)
		case 0x82:
			c.authLevel = cmd[2]
			c.authData = append([]byte(nil), cmd[5:5+int(cmd[4])]...)
		}
		return []byte{0x90, 0x00}
	}
	return c
}

func TestSCP02(t *testing.T) {
	card := newSCP02Card(t, false)
	s := NewSession(card, "r")
	hostChallenge := mustHex("1122334455667788")
	s.rand = bytes.NewReader(hostChallenge)

	require.NoError(t, s.SCP02(0, false, true, testKey))

	require.Len(t, card.sent, 2)
	assert.Equal(t, "8050000008"+"1122334455667788"+"00", card.sentHex()[0])

	auth := card.sent[1]
	assert.Equal(t, byte(0x84), auth[0])
	assert.Equal(t, byte(0x82), auth[1])
	assert.Equal(t, byte(0x01), card.authLevel)
	require.Len(t, card.authData, 16)

	encKey, err := crypto.DeriveKey(mustHex(testKey), []byte{0x00, 0x2a}, crypto.DerivationPurposeEnc)
	require.NoError(t, err)
	hostData := append([]byte{0x00, 0x2a, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, hostChallenge...)
	want, err := crypto.Mac3DES(encKey, crypto.AppendDESPadding(hostData), crypto.NullBytes8)
	require.NoError(t, err)
	assert.Equal(t, want, card.authData[:8])

	info := s.Info()
	assert.True(t, info.Secure)
	assert.True(t, info.MAC)
	assert.False(t, info.Encrypt)
	assert.Equal(t, 1, info.KeyVersion)
	assert.Equal(t, maxDataOneWrap, info.MaxDataLen)

	// MACed commands carry CLA 0x84 and 8 trailing bytes.
	_, err = s.GetData(0x0066)
	require.NoError(t, err)
	last := card.sent[len(card.sent)-1]
	assert.Equal(t, byte(0x84), last[0])
	assert.Equal(t, byte(0x08), last[4])

	s.TerminateSCP02()
	assert.False(t, s.Info().Secure)
	assert.Equal(t, maxDataPlain, s.Info().MaxDataLen)
}

func TestSCP02EncryptAndMAC(t *testing.T) {
	card := newSCP02Card(t, false)
	s := NewSession(card, "r")
	s.rand = bytes.NewReader(make([]byte, 8))

	require.NoError(t, s.SCP02(0, true, true, testKey))
	assert.Equal(t, byte(0x03), card.authLevel)
	assert.Equal(t, maxDataBoth, s.Info().MaxDataLen)

	require.NoError(t, s.StoreData(0x0000, "0102030405"))
	last := card.sent[len(card.sent)-1]
	assert.Equal(t, byte(0x84), last[0])
	// 5 bytes pad to 8, plus the MAC.
	assert.Equal(t, byte(16), last[4])
	assert.NotEqual(t, mustHex("0102030405"), last[5:10])

	wrapped, err := s.WrapData(make([]byte, 16))
	require.NoError(t, err)
	assert.Len(t, wrapped, 16)

	_, err = s.WrapData(make([]byte, 5))
	require.Error(t, err)
}

func TestSCP02BadCryptogram(t *testing.T) {
	card := newSCP02Card(t, true)
	s := NewSession(card, "r")
	s.rand = bytes.NewReader(make([]byte, 8))

	err := s.SCP02(0, false, true, testKey)
	require.ErrorIs(t, err, ErrCryptogram)
	assert.Len(t, card.sent, 1)
	assert.False(t, s.Info().Secure)
}

func TestSCP02KeyLength(t *testing.T) {
	card := &fakeCard{}
	s := NewSession(card, "r")

	err := s.SCP02(0, false, true, "4041424344")
	require.ErrorIs(t, err, ErrKeyLength)
	assert.Empty(t, card.sent)

	err = s.SCP02(0, false, true, "zz")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "static key"))
}

func TestSCP02InitializeUpdateRefused(t *testing.T) {
	card := &fakeCard{queue: [][]byte{mustHex("6982")}}
	s := NewSession(card, "r")
	s.rand = bytes.NewReader(make([]byte, 8))

	err := s.SCP02(0, false, true, testKey)
	assert.True(t, IsStatus(err, 0x6982))
}

func TestSelectEndsSecureChannel(t *testing.T) {
	card := newSCP02Card(t, false)
	s := NewSession(card, "r")
	s.rand = bytes.NewReader(make([]byte, 8))

	require.NoError(t, s.SCP02(0, false, true, testKey))
	require.NoError(t, s.Select("a000000003000000"))
	assert.False(t, s.Info().Secure)
	assert.Equal(t, byte(0x00), card.sent[len(card.sent)-1][0])
}
