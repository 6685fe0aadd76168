package core

import (
	"github.com/ebfe/scard"
)

// EstablishContext opens a PC/SC context on the host's default provider.
func (DefaultContextFactory) EstablishContext() (SmartCardContext, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}
	return &pcscContext{ctx: ctx}, nil
}

type pcscContext struct {
	ctx *scard.Context
}

func (c *pcscContext) ListReaders() ([]string, error) {
	return c.ctx.ListReaders()
}

// CardPresent samples the reader state without waiting for a change.
func (c *pcscContext) CardPresent(reader string) (bool, error) {
	rs := []scard.ReaderState{
		{
			Reader:       reader,
			CurrentState: scard.StateUnaware,
		},
	}

	if err := c.ctx.GetStatusChange(rs, 0); err != nil {
		return false, err
	}

	return rs[0].EventState&scard.StatePresent != 0, nil
}

func (c *pcscContext) Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error) {
	card, err := c.ctx.Connect(reader, scard.ShareMode(shareMode), scard.Protocol(protocol))
	if err != nil {
		return nil, err
	}
	return &pcscCard{card: card}, nil
}

func (c *pcscContext) Release() error {
	return c.ctx.Release()
}

type pcscCard struct {
	card *scard.Card
}

func (c *pcscCard) Transmit(cmd []byte) ([]byte, error) {
	return c.card.Transmit(cmd)
}

func (c *pcscCard) Status() (SmartCardStatus, error) {
	st, err := c.card.Status()
	if err != nil {
		return SmartCardStatus{}, err
	}
	return SmartCardStatus{
		Reader:         st.Reader,
		State:          uint32(st.State),
		ActiveProtocol: uint32(st.ActiveProtocol),
		Atr:            st.Atr,
	}, nil
}

func (c *pcscCard) Disconnect(disposition uint32) error {
	return c.card.Disconnect(scard.Disposition(disposition))
}
