package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sort"
	"strings"

	"golang.org/x/term"

	"github.com/SimplyPrint/gpsh/internal/core"
	"github.com/SimplyPrint/gpsh/internal/gp"
	"github.com/SimplyPrint/gpsh/internal/logging"
)

// errQuit ends the read loop.
var errQuit = errors.New("quit")

// Console is the line oriented shell. It keeps the sessions it opened in a
// numbered list; none of them is closed unless the operator asks.
type Console struct {
	in     io.Reader
	out    io.Writer
	prompt string

	rediscover func() (*core.Registry, error)
	bindings   *Bindings
	sessions   []*gp.Session
	current    int

	commands map[string]*command
}

// Option configures a Console.
type Option func(*Console)

// WithInput sets the line source. Default is os.Stdin.
func WithInput(r io.Reader) Option {
	return func(c *Console) { c.in = r }
}

// WithOutput sets where results are printed. Default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Console) { c.out = w }
}

// WithPrompt sets the interactive prompt.
func WithPrompt(p string) Option {
	return func(c *Console) { c.prompt = p }
}

// WithRediscover enables the rescan command.
func WithRediscover(fn func() (*core.Registry, error)) Option {
	return func(c *Console) { c.rediscover = fn }
}

// New returns a console bound to reg.
func New(reg *core.Registry, opts ...Option) *Console {
	c := &Console{
		in:       os.Stdin,
		out:      os.Stdout,
		prompt:   "gp> ",
		bindings: NewBindings(core.NewSessionFactory(reg)),
		current:  -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.commands = commandTable()
	return c
}

// Bindings returns the bindings of the current registry.
func (c *Console) Bindings() *Bindings {
	return c.bindings
}

// Sessions returns the sessions opened so far, in opening order.
func (c *Console) Sessions() []*gp.Session {
	return append([]*gp.Session(nil), c.sessions...)
}

// Run reads and executes lines until EOF or exit. An interactive terminal
// gets line editing, history and tab completion.
func (c *Console) Run() error {
	if f, ok := c.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // G115: Fd() fits in int
		return c.runTerminal(f)
	}
	return c.runLines()
}

func (c *Console) runLines() error {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if c.Execute(scanner.Text()) {
			return nil
		}
	}
	return scanner.Err()
}

func (c *Console) runTerminal(f *os.File) error {
	fd := int(f.Fd()) //nolint:gosec // G115: Fd() fits in int
	state, err := term.MakeRaw(fd)
	if err != nil {
		logging.Warn(logging.CatConsole, "Line editing unavailable", map[string]any{
			"error": err.Error(),
		})
		return c.runLines()
	}
	defer func() { _ = term.Restore(fd, state) }()

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{f, c.out}, c.prompt)
	t.AutoCompleteCallback = c.complete

	// Raw mode needs CRLF; the terminal writer translates and redraws the prompt.
	out := c.out
	c.out = t
	logging.SetOutput(t)
	defer func() {
		c.out = out
		logging.SetOutput(os.Stderr)
	}()

	for {
		line, err := t.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.Execute(line) {
			return nil
		}
	}
}

// complete expands a unique command name prefix on tab.
func (c *Console) complete(line string, pos int, key rune) (string, int, bool) {
	if key != '\t' || strings.ContainsAny(line[:pos], " (") {
		return "", 0, false
	}
	prefix := line[:pos]
	var matches []string
	for name := range c.commands {
		if strings.HasPrefix(name, prefix) {
			matches = append(matches, name)
		}
	}
	if len(matches) != 1 {
		return "", 0, false
	}
	completed := matches[0] + " " + line[pos:]
	return completed, len(matches[0]) + 1, true
}

// Execute runs one line and reports whether the console should stop.
// Command failures are printed; they never end the loop.
func (c *Console) Execute(line string) (quit bool) {
	name, args := parseLine(line)
	if name == "" {
		return false
	}

	cmd, ok := c.commands[name]
	if !ok {
		if s := suggest(name, c.commandNames()); s != "" {
			fmt.Fprintf(c.out, "unknown command %q, did you mean %q?\n", name, s)
		} else {
			fmt.Fprintf(c.out, "unknown command %q, type \"help\"\n", name)
		}
		return false
	}
	if len(args) < cmd.minArgs || (cmd.maxArgs >= 0 && len(args) > cmd.maxArgs) {
		fmt.Fprintf(c.out, "usage: %s\n", cmd.usage)
		return false
	}

	err := c.run(cmd, args)
	if errors.Is(err, errQuit) {
		return true
	}
	if err != nil {
		logging.Debug(logging.CatConsole, "Command failed", map[string]any{
			"command": name,
			"error":   err.Error(),
		})
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
	return false
}

func (c *Console) run(cmd *command, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logging.CapturePanic(r, stack, "console:"+cmd.name)
			logging.Error(logging.CatConsole, "Command panicked", map[string]any{
				"command": cmd.name,
				"panic":   fmt.Sprint(r),
				"stack":   string(stack),
			})
			err = fmt.Errorf("internal error in %s: %v", cmd.name, r)
		}
	}()
	return cmd.run(c, args)
}

func (c *Console) commandNames() []string {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// session returns the current session.
func (c *Console) session() (*gp.Session, error) {
	if c.current < 0 || c.current >= len(c.sessions) {
		return nil, errors.New(`no session, open one with "gp <id>"`)
	}
	return c.sessions[c.current], nil
}
