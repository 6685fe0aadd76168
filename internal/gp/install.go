package gp

import (
	"fmt"
	"os"
	"strings"

	"github.com/status-im/keycard-go/apdu"
	"github.com/status-im/keycard-go/globalplatform"

	"github.com/SimplyPrint/gpsh/internal/logging"
)

// InstallForLoad prepares the card to receive the load file loadFileAID,
// associated with the security domain sdAID (empty for the ISD).
func (s *Session) InstallForLoad(loadFileAID, sdAID string) error {
	lf, err := decodeHex("load file aid", loadFileAID)
	if err != nil {
		return err
	}
	sd, err := decodeHex("security domain aid", sdAID)
	if err != nil {
		return err
	}

	resp, err := s.Transmit(globalplatform.NewCommandInstallForLoad(lf, sd))
	if err != nil {
		return err
	}
	if resp.Sw != swOK {
		return &StatusError{Op: "INSTALL [for load] " + strings.ToUpper(loadFileAID), SW: resp.Sw}
	}
	logging.Info(logging.CatGP, "Install for load accepted", map[string]any{
		"terminal":  s.terminal,
		"load_file": strings.ToUpper(loadFileAID),
	})
	return nil
}

// InstallForInstall installs and makes selectable applicationAID from
// moduleAID of loadFileAID, with the given privilege byte and install
// parameters (hex, wrapped in a C9 tag).
func (s *Session) InstallForInstall(loadFileAID, moduleAID, applicationAID string, privileges uint8, params string) error {
	var aids [3][]byte
	for i, a := range []struct{ what, hex string }{
		{"load file aid", loadFileAID},
		{"module aid", moduleAID},
		{"application aid", applicationAID},
	} {
		raw, err := decodeHex(a.what, a.hex)
		if err != nil {
			return err
		}
		aids[i] = raw
	}
	p, err := decodeHex("install parameters", params)
	if err != nil {
		return err
	}
	if len(p) > 0xff-2 {
		return fmt.Errorf("install parameters too long: %d bytes", len(p))
	}

	cmd := globalplatform.NewCommandInstallForInstall(aids[0], aids[1], aids[2], p)
	// The builder always asks for no privileges; the byte follows the
	// three AIDs and the privileges length.
	privOffset := 3 + len(aids[0]) + len(aids[1]) + len(aids[2]) + 1
	cmd.Data[privOffset] = privileges

	resp, err := s.Transmit(cmd)
	if err != nil {
		return err
	}
	if resp.Sw != swOK {
		return &StatusError{Op: "INSTALL [for install] " + strings.ToUpper(applicationAID), SW: resp.Sw}
	}
	logging.Info(logging.CatGP, "Application installed", map[string]any{
		"terminal":    s.terminal,
		"application": strings.ToUpper(applicationAID),
		"privileges":  fmt.Sprintf("%02x", privileges),
	})
	return nil
}

// Load sends the components of the CAP file at path as a C4 load file data
// block, split into LOAD commands that fit the current channel.
func (s *Session) Load(path string) error {
	block, err := loadFileDataBlock(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.maxDataLen
	count := (len(block) + size - 1) / size
	if count > 0x100 {
		return fmt.Errorf("load file needs %d blocks, at most 256 fit", count)
	}

	for i := 0; i < count; i++ {
		end := min((i+1)*size, len(block))
		p1 := uint8(globalplatform.P1LoadMoreBlocks)
		if i == count-1 {
			p1 = globalplatform.P1LoadLastBlock
		}

		cmd := apdu.NewCommand(0x80, globalplatform.InsLoad, p1, uint8(i), block[i*size:end])
		resp, err := s.transmit(cmd)
		if err != nil {
			return err
		}
		if resp.Sw != swOK {
			return &StatusError{Op: fmt.Sprintf("LOAD block %d", i), SW: resp.Sw}
		}
	}

	logging.Info(logging.CatGP, "Load file sent", map[string]any{
		"terminal": s.terminal,
		"file":     path,
		"bytes":    len(block),
		"blocks":   count,
	})
	return nil
}

// loadFileDataBlock reads a CAP file into its C4 tagged form.
func loadFileDataBlock(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cap file: %w", err)
	}
	defer f.Close()

	stream, err := globalplatform.NewLoadCommandStream(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read cap file %s: %w", path, err)
	}

	// The stream cuts fixed size blocks; join them so they can be recut to
	// the channel's limit.
	var block []byte
	for stream.Next() {
		block = append(block, stream.GetCommand().Data...)
	}
	// A bare C4 00 means no known component was found.
	if len(block) < 3 {
		return nil, fmt.Errorf("cap file %s has no components", path)
	}
	return block, nil
}
