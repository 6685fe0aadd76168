package console

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/kr/pretty"

	"github.com/SimplyPrint/gpsh/internal/core"
	"github.com/SimplyPrint/gpsh/internal/logging"
)

type command struct {
	name    string
	usage   string
	help    string
	minArgs int
	maxArgs int // -1 for no limit
	run     func(c *Console, args []string) error
}

func commandTable() map[string]*command {
	cmds := []*command{
		{name: "terms", usage: "terms", help: "list terminals of the current registry", run: (*Console).cmdTerms},
		{name: "rescan", usage: "rescan", help: "discover terminals again; open sessions stay usable", run: (*Console).cmdRescan},
		{name: "gp", usage: "gp <id>", help: "connect to terminal <id> and open a GP session", minArgs: 1, maxArgs: 1, run: (*Console).cmdGP},
		{name: "sessions", usage: "sessions", help: "list open sessions", run: (*Console).cmdSessions},
		{name: "use", usage: "use <n>", help: "make session <n> current", minArgs: 1, maxArgs: 1, run: (*Console).cmdUse},
		{name: "hex", usage: "hex <text>", help: "print the bytes of <text> as hex", minArgs: 1, maxArgs: -1, run: (*Console).cmdHex},
		{name: "isk", usage: "isk", help: "print the default issuer secure key", run: (*Console).cmdISK},
		{name: "select", usage: "select <aid>", help: "SELECT an application by AID", minArgs: 1, maxArgs: 1, run: (*Console).cmdSelect},
		{name: "getData", usage: "getData <p1p2>", help: "GET DATA, e.g. getData 0066", minArgs: 1, maxArgs: 1, run: (*Console).cmdGetData},
		{name: "getKeyInfo", usage: "getKeyInfo", help: "list key sets as id/version", run: (*Console).cmdGetKeyInfo},
		{name: "getStatus", usage: "getStatus", help: "GET STATUS of ISD, applications and load files", run: (*Console).cmdGetStatus},
		{name: "scp02", usage: "scp02 <keyVersion> <enc> <mac> [key]", help: "open an SCP02 secure channel (key defaults to ISK)", minArgs: 3, maxArgs: 4, run: (*Console).cmdSCP02},
		{name: "scp02Diversified", usage: "scp02Diversified <keyVersion> <enc> <mac> <master> <keyData>", help: "open SCP02 with EMV diversified card keys", minArgs: 5, maxArgs: 5, run: (*Console).cmdSCP02Diversified},
		{name: "putKeys", usage: "putKeys <current> <new> <enc> <mac> <dek>", help: "PUT KEY: replace the key set (needs scp02)", minArgs: 5, maxArgs: 5, run: (*Console).cmdPutKeys},
		{name: "putKeysDiversified", usage: "putKeysDiversified <current> <new> <master> <keyData>", help: "PUT KEY with keys diversified from <master>", minArgs: 4, maxArgs: 4, run: (*Console).cmdPutKeysDiversified},
		{name: "putKeysIINCIN", usage: "putKeysIINCIN <current> <new> <master> <iin> <cin>", help: "PUT KEY with key data from the card IIN and CIN", minArgs: 5, maxArgs: 5, run: (*Console).cmdPutKeysIINCIN},
		{name: "installForLoad", usage: "installForLoad <loadFile> [sd]", help: "INSTALL [for load] (sd defaults to the ISD)", minArgs: 1, maxArgs: 2, run: (*Console).cmdInstallForLoad},
		{name: "load", usage: "load <capFile>", help: "LOAD the components of a CAP file", minArgs: 1, maxArgs: 1, run: (*Console).cmdLoad},
		{name: "installForInstall", usage: "installForInstall <loadFile> <module> <app> [priv] [params]", help: "INSTALL [for install and make selectable]", minArgs: 3, maxArgs: 5, run: (*Console).cmdInstallForInstall},
		{name: "lockCard", usage: "lockCard confirm [maxAttempts]", help: "fail INITIALIZE UPDATE until the card locks; irreversible", minArgs: 1, maxArgs: 2, run: (*Console).cmdLockCard},
		{name: "send", usage: "send <apdu>", help: "transmit a raw command APDU (hex)", minArgs: 1, maxArgs: -1, run: (*Console).cmdSend},
		{name: "delete", usage: "delete <aid>", help: "DELETE an object by AID", minArgs: 1, maxArgs: 1, run: (*Console).cmdDelete},
		{name: "deleteKey", usage: "deleteKey <id> <version>", help: "DELETE a key", minArgs: 2, maxArgs: 2, run: (*Console).cmdDeleteKey},
		{name: "setStatus", usage: "setStatus <type> <control> <aid>", help: "SET STATUS (hex type and control)", minArgs: 3, maxArgs: 3, run: (*Console).cmdSetStatus},
		{name: "storeData", usage: "storeData <p1p2> <data>", help: "STORE DATA (hex)", minArgs: 2, maxArgs: 2, run: (*Console).cmdStoreData},
		{name: "terminate", usage: "terminate", help: "drop the secure channel, keep the card connected", run: (*Console).cmdTerminate},
		{name: "close", usage: "close", help: "close the current session and reset the card", run: (*Console).cmdClose},
		{name: "info", usage: "info", help: "show the current session state", run: (*Console).cmdInfo},
		{name: "logs", usage: "logs [n]", help: "show recent log entries", maxArgs: 1, run: (*Console).cmdLogs},
		{name: "help", usage: "help", help: "show this list", run: (*Console).cmdHelp},
		{name: "exit", usage: "exit", help: "leave the console", run: (*Console).cmdExit},
	}

	table := make(map[string]*command, len(cmds)+1)
	for _, cmd := range cmds {
		table[cmd.name] = cmd
	}
	table["quit"] = table["exit"]
	return table
}

func (c *Console) cmdTerms(_ []string) error {
	reg := c.bindings.Registry()
	if reg.Len() == 0 {
		fmt.Fprintln(c.out, "  (none)")
	}
	for line := range reg.Describe() {
		fmt.Fprintf(c.out, "  %s\n", line)
	}
	return nil
}

func (c *Console) cmdRescan(args []string) error {
	if c.rediscover == nil {
		return errors.New("rescan is not available")
	}
	reg, err := c.rediscover()
	if err != nil {
		return err
	}
	// The previous registry is left open: sessions opened from it hold its context.
	c.bindings = NewBindings(core.NewSessionFactory(reg))
	logging.Info(logging.CatConsole, "Terminals rediscovered", map[string]any{
		"count": reg.Len(),
	})
	return c.cmdTerms(args)
}

func (c *Console) cmdGP(args []string) error {
	id, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	session, err := c.bindings.GP(id)
	if err != nil {
		return err
	}
	c.sessions = append(c.sessions, session)
	c.current = len(c.sessions) - 1
	fmt.Fprintf(c.out, "session %d: %s\n", c.current, session.Terminal())
	return nil
}

func (c *Console) cmdSessions(_ []string) error {
	if len(c.sessions) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return nil
	}
	for i, s := range c.sessions {
		marker := " "
		if i == c.current {
			marker = "*"
		}
		info := s.Info()
		var flags []string
		if info.Selected != "" {
			flags = append(flags, "selected "+info.Selected)
		}
		if info.Secure {
			flags = append(flags, "scp02")
		}
		line := fmt.Sprintf("%s %d: %s", marker, i, info.Terminal)
		if len(flags) > 0 {
			line += " [" + strings.Join(flags, ", ") + "]"
		}
		fmt.Fprintln(c.out, line)
	}
	return nil
}

func (c *Console) cmdUse(args []string) error {
	n, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	if n < 0 || n >= len(c.sessions) {
		return fmt.Errorf("no session %d (have %d)", n, len(c.sessions))
	}
	c.current = n
	return nil
}

func (c *Console) cmdHex(args []string) error {
	fmt.Fprintln(c.out, Hex([]byte(strings.Join(args, " "))))
	return nil
}

func (c *Console) cmdISK(_ []string) error {
	fmt.Fprintln(c.out, ISK)
	return nil
}

func (c *Console) cmdSelect(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.Select(resolveHex(args[0]))
}

func (c *Console) cmdGetData(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	p1p2, err := parseP1P2(args[0])
	if err != nil {
		return err
	}
	data, err := s.GetData(p1p2)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, Hex(data))
	return nil
}

func (c *Console) cmdGetKeyInfo(_ []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	keys, err := s.GetKeyInfo()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "[%s]\n", strings.Join(keys, ", "))
	return nil
}

func (c *Console) cmdGetStatus(_ []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	status, err := s.GetStatus()
	if err != nil {
		return err
	}
	fmt.Fprint(c.out, status.String())
	return nil
}

func (c *Console) cmdSCP02(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	keyVersion, err := parseInt(args[0], 8)
	if err != nil {
		return err
	}
	enc, err := parseBool(args[1])
	if err != nil {
		return err
	}
	mac, err := parseBool(args[2])
	if err != nil {
		return err
	}
	key := ISK
	if len(args) == 4 {
		key = resolveHex(args[3])
	}
	if err := s.SCP02(keyVersion, enc, mac, key); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "secure channel open (key version %d)\n", s.Info().KeyVersion)
	return nil
}

func (c *Console) cmdSCP02Diversified(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	keyVersion, err := parseInt(args[0], 8)
	if err != nil {
		return err
	}
	enc, err := parseBool(args[1])
	if err != nil {
		return err
	}
	mac, err := parseBool(args[2])
	if err != nil {
		return err
	}
	if err := s.SCP02Diversified(keyVersion, enc, mac, resolveHex(args[3]), resolveHex(args[4])); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "secure channel open (key version %d)\n", s.Info().KeyVersion)
	return nil
}

// keyVersions reads the current and new key version arguments.
func keyVersions(args []string) (int, int, error) {
	current, err := parseInt(args[0], 8)
	if err != nil {
		return 0, 0, err
	}
	next, err := parseInt(args[1], 8)
	if err != nil {
		return 0, 0, err
	}
	return current, next, nil
}

func (c *Console) cmdPutKeys(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	current, next, err := keyVersions(args)
	if err != nil {
		return err
	}
	if err := s.PutKeys(current, next, resolveHex(args[2]), resolveHex(args[3]), resolveHex(args[4])); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "keys replaced (key version %d)\n", next)
	return nil
}

func (c *Console) cmdPutKeysDiversified(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	current, next, err := keyVersions(args)
	if err != nil {
		return err
	}
	if err := s.PutKeysDiversified(current, next, resolveHex(args[2]), resolveHex(args[3])); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "keys replaced (key version %d)\n", next)
	return nil
}

func (c *Console) cmdPutKeysIINCIN(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	current, next, err := keyVersions(args)
	if err != nil {
		return err
	}
	if err := s.PutKeysFromIINCIN(current, next, resolveHex(args[2]), resolveHex(args[3]), resolveHex(args[4])); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "keys replaced (key version %d)\n", next)
	return nil
}

func (c *Console) cmdInstallForLoad(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	sd := ""
	if len(args) == 2 {
		sd = resolveHex(args[1])
	}
	return s.InstallForLoad(resolveHex(args[0]), sd)
}

func (c *Console) cmdLoad(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.Load(args[0])
}

func (c *Console) cmdInstallForInstall(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	var privileges uint8
	if len(args) >= 4 {
		if privileges, err = parseByte(args[3]); err != nil {
			return err
		}
	}
	params := ""
	if len(args) == 5 {
		params = resolveHex(args[4])
	}
	return s.InstallForInstall(resolveHex(args[0]), resolveHex(args[1]), resolveHex(args[2]), privileges, params)
}

// defaultLockAttempts bounds lockCard when no limit is given.
const defaultLockAttempts = 64

func (c *Console) cmdLockCard(args []string) error {
	if args[0] != "confirm" {
		return errors.New(`lockCard locks the card for good; run "lockCard confirm" to go ahead`)
	}
	s, err := c.session()
	if err != nil {
		return err
	}
	limit := defaultLockAttempts
	if len(args) == 2 {
		if limit, err = parseInt(args[1], 16); err != nil {
			return err
		}
	}
	accepted, err := s.LockCard(limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "card locked after %d accepted INITIALIZE UPDATE\n", accepted)
	return nil
}

func (c *Console) cmdSend(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	raw, err := decodeArg(strings.Join(args, ""))
	if err != nil {
		return err
	}
	resp, err := s.TransmitRaw(raw)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, Hex(resp))
	return nil
}

func (c *Console) cmdDelete(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.Delete(resolveHex(args[0]))
}

func (c *Console) cmdDeleteKey(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	id, err := parseInt(args[0], 8)
	if err != nil {
		return err
	}
	version, err := parseInt(args[1], 8)
	if err != nil {
		return err
	}
	return s.DeleteKey(id, version)
}

func (c *Console) cmdSetStatus(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	statusType, err := parseByte(args[0])
	if err != nil {
		return err
	}
	control, err := parseByte(args[1])
	if err != nil {
		return err
	}
	return s.SetStatus(statusType, control, resolveHex(args[2]))
}

func (c *Console) cmdStoreData(args []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	p1p2, err := parseP1P2(args[0])
	if err != nil {
		return err
	}
	return s.StoreData(p1p2, resolveHex(args[1]))
}

func (c *Console) cmdTerminate(_ []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	s.TerminateSCP02()
	return nil
}

func (c *Console) cmdClose(_ []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	c.sessions = append(c.sessions[:c.current], c.sessions[c.current+1:]...)
	c.current = len(c.sessions) - 1
	return s.Close()
}

func (c *Console) cmdInfo(_ []string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	_, err = pretty.Fprintf(c.out, "%# v\n", s.Info())
	return err
}

func (c *Console) cmdLogs(args []string) error {
	n := 20
	if len(args) == 1 {
		v, err := parseInt(args[0], 16)
		if err != nil {
			return err
		}
		n = v
	}
	for _, e := range logging.Recent(n) {
		line := fmt.Sprintf("%s %-5s [%s] %s", e.Time.Format("15:04:05.000"), e.Level, e.Category, e.Message)
		if len(e.Fields) > 0 {
			line += " " + fmt.Sprint(e.Fields)
		}
		fmt.Fprintln(c.out, line)
	}
	return nil
}

func (c *Console) cmdHelp(_ []string) error {
	for _, name := range c.commandNames() {
		if name == "quit" {
			continue
		}
		cmd := c.commands[name]
		fmt.Fprintf(c.out, "  %-62s %s\n", cmd.usage, cmd.help)
	}
	fmt.Fprintln(c.out, `Call syntax works too: gp(1), getData(0x66), scp02(0, false, true, ISK)`)
	return nil
}

func (c *Console) cmdExit(_ []string) error {
	return errQuit
}

// decodeArg decodes hex after dropping a 0x prefix.
func decodeArg(s string) ([]byte, error) {
	b, err := hex.DecodeString(resolveHex(s))
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}
