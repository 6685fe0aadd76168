package gp

import (
	"encoding/hex"
	"fmt"

	"github.com/status-im/keycard-go/apdu"
)

// ParseCommand splits a raw command APDU into its parts.
//
//	case 1:  |CLA|INS|P1 |P2 |                                 len = 4
//	case 2s: |CLA|INS|P1 |P2 |LE |                             len = 5
//	case 3s: |CLA|INS|P1 |P2 |LC |...BODY...|                  len = 6..260
//	case 4s: |CLA|INS|P1 |P2 |LC |...BODY...|LE |              len = 7..261
//	case 2e: |CLA|INS|P1 |P2 |00 |LE1|LE2|                     len = 7
//	case 3e: |CLA|INS|P1 |P2 |00 |LC1|LC2|...BODY...|          len = 8..65542
//	case 4e: |CLA|INS|P1 |P2 |00 |LC1|LC2|...BODY...|LE1|LE2|  len =10..65544
//
// Extended bodies are kept whole and chained on transmit. An extended Le is
// sent as a short Le; values above 255 (and 0, meaning 65536) become 0x00.
func ParseCommand(raw []byte) (*apdu.Command, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: must be at least 4 bytes, got %s", ErrInvalidAPDU, hex.EncodeToString(raw))
	}
	cla, ins, p1, p2 := raw[0], raw[1], raw[2], raw[3]

	switch {
	case len(raw) == 4:
		return apdu.NewCommand(cla, ins, p1, p2, nil), nil
	case len(raw) == 5:
		cmd := apdu.NewCommand(cla, ins, p1, p2, nil)
		cmd.SetLe(raw[4])
		return cmd, nil
	}

	if lc := int(raw[4]); lc > 0 {
		data := append([]byte{}, raw[5:min(5+lc, len(raw))]...)
		switch len(raw) {
		case 5 + lc:
			return apdu.NewCommand(cla, ins, p1, p2, data), nil
		case 6 + lc:
			cmd := apdu.NewCommand(cla, ins, p1, p2, data)
			cmd.SetLe(raw[len(raw)-1])
			return cmd, nil
		default:
			return nil, fmt.Errorf("%w: single byte lc=%d, expected length %d or %d, got %d: %s",
				ErrInvalidAPDU, lc, 5+lc, 6+lc, len(raw), hex.EncodeToString(raw))
		}
	}

	if len(raw) < 7 {
		return nil, fmt.Errorf("%w: truncated extended length: %s", ErrInvalidAPDU, hex.EncodeToString(raw))
	}
	n := int(raw[5])<<8 | int(raw[6])
	if len(raw) == 7 {
		cmd := apdu.NewCommand(cla, ins, p1, p2, nil)
		cmd.SetLe(shortLe(n))
		return cmd, nil
	}

	switch len(raw) {
	case n + 7:
		return apdu.NewCommand(cla, ins, p1, p2, append([]byte{}, raw[7:]...)), nil
	case n + 9:
		cmd := apdu.NewCommand(cla, ins, p1, p2, append([]byte{}, raw[7:7+n]...))
		cmd.SetLe(shortLe(int(raw[len(raw)-2])<<8 | int(raw[len(raw)-1])))
		return cmd, nil
	default:
		return nil, fmt.Errorf("%w: double byte lc=%d, expected length %d or %d, got %d: %s",
			ErrInvalidAPDU, n, n+7, n+9, len(raw), hex.EncodeToString(raw))
	}
}

func shortLe(le int) uint8 {
	if le <= 0 || le > 0xff {
		return 0
	}
	return uint8(le)
}

// Chain splits cmd into pieces carrying at most maxDataLen bytes of data.
// Every piece but the last has the chaining bit (0x10) set in CLA; the last
// one has it cleared and carries Le.
func Chain(cmd *apdu.Command, maxDataLen int) []*apdu.Command {
	data := cmd.Data
	hasLe, le := cmd.Le()

	pieces := (len(data) + maxDataLen - 1) / maxDataLen
	if pieces < 1 {
		pieces = 1
	}

	out := make([]*apdu.Command, 0, pieces)
	for i := 0; i < pieces; i++ {
		start := i * maxDataLen
		end := min(start+maxDataLen, len(data))
		last := i == pieces-1

		cla := cmd.Cla | 0x10
		if last {
			cla = cmd.Cla &^ 0x10
		}
		piece := apdu.NewCommand(cla, cmd.Ins, cmd.P1, cmd.P2, append([]byte(nil), data[start:end]...))
		if last && hasLe {
			piece.SetLe(le)
		}
		out = append(out, piece)
	}
	return out
}
