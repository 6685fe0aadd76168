package console

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/ebfe/scard"
	"github.com/stretchr/testify/require"

	"github.com/SimplyPrint/gpsh/internal/core"
)

type fakeFactory struct {
	ctx *fakeContext
}

func (f *fakeFactory) EstablishContext() (core.SmartCardContext, error) {
	return f.ctx, nil
}

type fakeContext struct {
	readers []string
	cards   map[string]*fakeCard
}

func (c *fakeContext) ListReaders() ([]string, error) { return c.readers, nil }

func (c *fakeContext) CardPresent(reader string) (bool, error) {
	_, ok := c.cards[reader]
	return ok, nil
}

func (c *fakeContext) Connect(reader string, _, _ uint32) (core.SmartCard, error) {
	card, ok := c.cards[reader]
	if !ok {
		return nil, scard.ErrNoSmartcard
	}
	return card, nil
}

func (c *fakeContext) Release() error { return nil }

// fakeCard answers by exact command hex; anything else is 6D00.
type fakeCard struct {
	responses map[string]string
	panicOn   string
	sent      []string
}

func (c *fakeCard) Transmit(cmd []byte) ([]byte, error) {
	h := hex.EncodeToString(cmd)
	c.sent = append(c.sent, h)
	if c.panicOn != "" && h == c.panicOn {
		panic("card exploded")
	}
	if resp, ok := c.responses[h]; ok {
		return hex.DecodeString(resp)
	}
	return []byte{0x6d, 0x00}, nil
}

func (c *fakeCard) Status() (core.SmartCardStatus, error) {
	return core.SmartCardStatus{}, errors.New("not implemented")
}

func (c *fakeCard) Disconnect(uint32) error { return nil }

// newRegistry discovers "ACS Reader 0" (empty) and "ACS Reader 1" (card).
func newRegistry(t *testing.T, card *fakeCard) *core.Registry {
	t.Helper()
	ctx := &fakeContext{
		readers: []string{"ACS Reader 0", "ACS Reader 1"},
		cards:   map[string]*fakeCard{"ACS Reader 1": card},
	}
	reg, err := core.Discover(&fakeFactory{ctx: ctx})
	require.NoError(t, err)
	return reg
}

func newCard() *fakeCard {
	return &fakeCard{responses: map[string]string{
		"00a4040008a00000000300000000": "6f009000",
		"80ca006600":                   "66049000",
		"80ca00e000":                   "e006c00401ff80109000",
	}}
}
