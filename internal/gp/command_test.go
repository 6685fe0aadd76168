package gp

import (
	"encoding/hex"
	"testing"

	"github.com/status-im/keycard-go/apdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		data    string
		hasLe   bool
		le      uint8
		wantErr bool
	}{
		{name: "case 1", raw: "00a40400"},
		{name: "case 2s", raw: "80ca006600", hasLe: true, le: 0},
		{name: "case 3s", raw: "00a4040003a00000", data: "a00000"},
		{name: "case 4s", raw: "00a4040003a0000010", data: "a00000", hasLe: true, le: 0x10},
		{name: "case 2e", raw: "80ca0066000100", hasLe: true, le: 0},
		{name: "case 2e short le", raw: "80ca0066000020", hasLe: true, le: 0x20},
		{name: "case 3e", raw: "80e20000000003112233", data: "112233"},
		{name: "case 4e", raw: "80e2000000000311223300ff", data: "112233", hasLe: true, le: 0xff},
		{name: "too short", raw: "00a404", wantErr: true},
		{name: "lc mismatch", raw: "00a4040005a000", wantErr: true},
		{name: "extended lc mismatch", raw: "80e20000000005112233", wantErr: true},
		{name: "truncated extended", raw: "80e200000000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := decodeHex("apdu", tt.raw)
			require.NoError(t, err)

			cmd, err := ParseCommand(raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAPDU)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, raw[0], cmd.Cla)
			assert.Equal(t, raw[1], cmd.Ins)
			assert.Equal(t, raw[2], cmd.P1)
			assert.Equal(t, raw[3], cmd.P2)
			assert.Equal(t, tt.data, hex.EncodeToString(cmd.Data))

			hasLe, le := cmd.Le()
			assert.Equal(t, tt.hasLe, hasLe)
			if tt.hasLe {
				assert.Equal(t, tt.le, le)
			}
		})
	}
}

func TestChain(t *testing.T) {
	data := make([]byte, 600)
	for i := range data {
		data[i] = byte(i)
	}
	cmd := apdu.NewCommand(0x80, 0xe8, 0x00, 0x00, data)
	cmd.SetLe(0)

	pieces := Chain(cmd, 255)
	require.Len(t, pieces, 3)

	var joined []byte
	for i, p := range pieces {
		joined = append(joined, p.Data...)
		hasLe, _ := p.Le()
		if i < len(pieces)-1 {
			assert.Equal(t, uint8(0x90), p.Cla, "piece %d", i)
			assert.Len(t, p.Data, 255)
			assert.False(t, hasLe)
		} else {
			assert.Equal(t, uint8(0x80), p.Cla)
			assert.Len(t, p.Data, 90)
			assert.True(t, hasLe)
		}
	}
	assert.Equal(t, data, joined)
}

func TestChainEmptyData(t *testing.T) {
	cmd := apdu.NewCommand(0x90, 0xca, 0x00, 0x66, nil)
	pieces := Chain(cmd, 255)
	require.Len(t, pieces, 1)
	assert.Equal(t, uint8(0x80), pieces[0].Cla)
	assert.Empty(t, pieces[0].Data)
}
