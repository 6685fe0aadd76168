package gp

import (
	"fmt"
	"strings"
)

// StatusKind tells which GET STATUS subset an entry came from.
type StatusKind int

const (
	StatusISD StatusKind = iota
	StatusApp
	StatusLoadFile
)

// StatusEntry is one record of a GET STATUS response.
type StatusEntry struct {
	Kind       StatusKind
	AID        []byte
	LifeCycle  byte
	Privileges byte
	Modules    [][]byte
}

// StatusResult is the combined card status. ISD is nil when the card
// returned no issuer security domain record.
type StatusResult struct {
	ISD       *StatusEntry
	Apps      []StatusEntry
	LoadFiles []StatusEntry
}

var isdLifeCycles = map[byte]string{
	0x01: "OP_READY",
	0x07: "INITIALIZED",
	0x0f: "SECURED",
	0xef: "CARD_LOCKED",
	0xff: "TERMINATED",
}

var knownAIDs = map[string]string{
	"A0000000030000":   "visa.openplatform",
	"A0000000035350":   "Security Domain",
	"A000000018434D00": "Gemalto Card Manager",
	"A0000000620001":   "java.lang",
	"A0000000620002":   "java.io",
	"A0000000620003":   "java.rmi",
	"A0000000620101":   "javacard.framework",
	"A000000062010101": "javacard.framework.service",
	"A0000000620102":   "javacard.security",
	"A0000000620201":   "javacardx.crypto",
	"A00000015100":     "org.globalplatform",
	"E82881C11702":     "ISO24727 Alpha",
}

var privileges = []struct {
	mask     byte
	expected byte
	name     string
}{
	{0x80, 0x80, "Security Domain"},
	{0xc1, 0xc0, "DAP Verification"},
	{0xa0, 0xa0, "Delegated Management"},
	{0x10, 0x10, "Card lock"},
	{0x08, 0x08, "Card terminate"},
	{0x04, 0x04, "Default Selected"},
	{0x02, 0x02, "CVM management"},
	{0xc1, 0xc1, "Mandated DAP Verification"},
}

// parseEntries reads |len|aid|lifecycle|privs| records. A truncated
// trailing record is dropped.
func parseEntries(data []byte, kind StatusKind) []StatusEntry {
	var entries []StatusEntry
	for i := 0; i < len(data); {
		n := int(data[i])
		if i+n+3 > len(data) {
			break
		}
		entries = append(entries, StatusEntry{
			Kind:       kind,
			AID:        append([]byte(nil), data[i+1:i+1+n]...),
			LifeCycle:  data[i+1+n],
			Privileges: data[i+2+n],
		})
		i += n + 3
	}
	return entries
}

// parseLoadFiles reads |len|aid|lifecycle|privs|count|{len|module aid}...| records.
func parseLoadFiles(data []byte) []StatusEntry {
	var entries []StatusEntry
	for i := 0; i < len(data); {
		n := int(data[i])
		if i+n+4 > len(data) {
			break
		}
		e := StatusEntry{
			Kind:       StatusLoadFile,
			AID:        append([]byte(nil), data[i+1:i+1+n]...),
			LifeCycle:  data[i+1+n],
			Privileges: data[i+2+n],
		}
		count := int(data[i+3+n])
		i += n + 4

		for j := 0; j < count && i < len(data); j++ {
			m := int(data[i])
			if i+1+m > len(data) {
				i = len(data)
				break
			}
			e.Modules = append(e.Modules, append([]byte(nil), data[i+1:i+1+m]...))
			i += m + 1
		}
		entries = append(entries, e)
	}
	return entries
}

// LifeCycleName decodes the life cycle byte for the entry's kind, "?" if unknown.
func (e StatusEntry) LifeCycleName() string {
	switch e.Kind {
	case StatusISD:
		if name, ok := isdLifeCycles[e.LifeCycle]; ok {
			return name
		}
	case StatusApp:
		switch {
		case e.LifeCycle == 0x03:
			return "INSTALLED"
		case e.LifeCycle&0x85 == 0x05:
			return "SELECTABLE"
		case e.LifeCycle&0x83 == 0x83:
			return "LOCKED"
		}
	case StatusLoadFile:
		if e.LifeCycle == 0x01 {
			return "LOADED"
		}
	}
	return "?"
}

// PrivilegeNames lists the privileges granted by the entry's privilege byte.
func (e StatusEntry) PrivilegeNames() []string {
	var names []string
	for _, p := range privileges {
		if e.Privileges&p.mask == p.expected {
			names = append(names, p.name)
		}
	}
	return names
}

// AIDHex is the AID in upper case hex.
func (e StatusEntry) AIDHex() string {
	return strings.ToUpper(fmt.Sprintf("%x", e.AID))
}

// Description names well known AIDs.
func (e StatusEntry) Description() string {
	return knownAIDs[e.AIDHex()]
}

// String renders one line per record in the classic card listing layout.
func (r *StatusResult) String() string {
	var sb strings.Builder

	if r.ISD != nil {
		fmt.Fprintf(&sb, "%12s : %-11s : %-18s : %-26s : %s\n", "Card Manager",
			r.ISD.LifeCycleName(), r.ISD.AIDHex(), r.ISD.Description(), strings.Join(r.ISD.PrivilegeNames(), "|"))
	}
	for _, app := range r.Apps {
		fmt.Fprintf(&sb, "%12s : %-11s : %-18s : %-26s : %s\n", "Application",
			app.LifeCycleName(), app.AIDHex(), app.Description(), strings.Join(app.PrivilegeNames(), "|"))
	}
	for _, lf := range r.LoadFiles {
		fmt.Fprintf(&sb, "%12s : %-11s : %-18s : %-26s\n", "Load File",
			lf.LifeCycleName(), lf.AIDHex(), lf.Description())
		for _, m := range lf.Modules {
			fmt.Fprintf(&sb, "%12s : %-11s : %-18s\n", "Module", "", strings.ToUpper(fmt.Sprintf("%x", m)))
		}
	}
	return sb.String()
}
