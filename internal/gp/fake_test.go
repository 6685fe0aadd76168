package gp

import (
	"encoding/hex"
	"errors"
)

// fakeCard answers commands through respond, or from a fixed queue.
type fakeCard struct {
	sent         [][]byte
	queue        [][]byte
	respond      func(cmd []byte) []byte
	transmitErr  error
	disconnected bool
	reset        bool
}

func (c *fakeCard) Transmit(cmd []byte) ([]byte, error) {
	c.sent = append(c.sent, append([]byte(nil), cmd...))
	if c.transmitErr != nil {
		return nil, c.transmitErr
	}
	if c.respond != nil {
		return c.respond(cmd), nil
	}
	if len(c.queue) == 0 {
		return nil, errors.New("fake card: no response queued")
	}
	resp := c.queue[0]
	c.queue = c.queue[1:]
	return resp, nil
}

func (c *fakeCard) Disconnect(reset bool) error {
	c.disconnected = true
	c.reset = reset
	return nil
}

func (c *fakeCard) sentHex() []string {
	out := make([]string, len(c.sent))
	for i, b := range c.sent {
		out[i] = hex.EncodeToString(b)
	}
	return out
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
