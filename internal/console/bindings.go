// Package console provides the operator bindings and the interactive shell
// on top of a discovered terminal registry.
package console

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/SimplyPrint/gpsh/internal/core"
	"github.com/SimplyPrint/gpsh/internal/gp"
)

// ISK is the default issuer secure key (2TDEA, bytes 0x40..0x4f) found on
// development cards.
const ISK = "404142434445464748494a4b4c4d4e4f"

// Bindings are the helpers an operator reaches for first.
type Bindings struct {
	factory *core.SessionFactory
}

// NewBindings binds GP to the factory's registry.
func NewBindings(factory *core.SessionFactory) *Bindings {
	return &Bindings{factory: factory}
}

// Registry returns the registry GP resolves indices against.
func (b *Bindings) Registry() *core.Registry {
	return b.factory.Registry
}

// GP connects to terminal id with any protocol and returns a fresh session.
// Registry and connection errors are returned as is.
func (b *Bindings) GP(id int) (*gp.Session, error) {
	return b.factory.Open(id, core.ProtocolAny)
}

// Hex renders b as lowercase hex without separators.
func Hex(b []byte) string {
	return hex.EncodeToString(b)
}

// Banner prints the terminal list and a usage reminder.
func Banner(w io.Writer, reg *core.Registry) {
	fmt.Fprintln(w, "Available Cards:")
	if reg.Len() == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for line := range reg.Describe() {
		fmt.Fprintf(w, "  %s\n", line)
	}
	fmt.Fprintf(w, "Variables:\n  ISK = %s\n", ISK)
	fmt.Fprintln(w, "Functions:\n  gp(id)\n  hex(buf)")
	fmt.Fprintln(w, "GP methods:\n  getData(p1p2)\n  scp02(keyVersion(0), enc?, mac?, isk)\n  getStatus()\n  getKeyInfo()")
	fmt.Fprintln(w, `Type "help" for all commands.`)
}
