package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is the minimum severity that gets emitted.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel parses a level name. Unknown names map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Category groups log entries by subsystem.
type Category string

const (
	CatSystem  Category = "system"
	CatReader  Category = "reader"
	CatCard    Category = "card"
	CatGP      Category = "gp"
	CatConsole Category = "console"
)

// Entry is one retained log record.
type Entry struct {
	Time     time.Time      `json:"time"`
	Level    Level          `json:"level"`
	Category Category       `json:"category"`
	Message  string         `json:"message"`
	Fields   map[string]any `json:"fields,omitempty"`
}

type logger struct {
	mu      sync.Mutex
	out     *logrus.Logger
	level   Level
	entries []Entry
	next    int
	full    bool
}

var std = newLogger(1000, LevelInfo)

func newLogger(bufferSize int, level Level) *logger {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	out := logrus.New()
	out.SetOutput(os.Stderr)
	out.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	out.SetLevel(level.logrus())
	return &logger{
		out:     out,
		level:   level,
		entries: make([]Entry, bufferSize),
	}
}

// Init replaces the default logger. bufferSize bounds the number of entries
// kept in memory for Recent.
func Init(bufferSize int, level Level) {
	l := newLogger(bufferSize, level)
	std.mu.Lock()
	l.out.SetOutput(std.out.Out)
	std.mu.Unlock()
	std = l
}

// SetOutput redirects emitted log lines. Retained entries are unaffected.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.out.SetOutput(w)
}

// SetLevel changes the minimum emitted and retained level.
func SetLevel(level Level) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = level
	std.out.SetLevel(level.logrus())
}

func Debug(cat Category, msg string, fields map[string]any) { std.log(LevelDebug, cat, msg, fields) }
func Info(cat Category, msg string, fields map[string]any)  { std.log(LevelInfo, cat, msg, fields) }
func Warn(cat Category, msg string, fields map[string]any)  { std.log(LevelWarn, cat, msg, fields) }
func Error(cat Category, msg string, fields map[string]any) { std.log(LevelError, cat, msg, fields) }

func (l *logger) log(level Level, cat Category, msg string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	l.entries[l.next] = Entry{
		Time:     time.Now(),
		Level:    level,
		Category: cat,
		Message:  msg,
		Fields:   fields,
	}
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}

	e := l.out.WithField("cat", string(cat))
	if len(fields) > 0 {
		e = e.WithFields(logrus.Fields(fields))
	}
	switch level {
	case LevelDebug:
		e.Debug(msg)
	case LevelInfo:
		e.Info(msg)
	case LevelWarn:
		e.Warn(msg)
	default:
		e.Error(msg)
	}
}

// Recent returns up to n retained entries, oldest first. n <= 0 returns all.
func Recent(n int) []Entry {
	std.mu.Lock()
	defer std.mu.Unlock()

	var ordered []Entry
	if std.full {
		ordered = append(ordered, std.entries[std.next:]...)
	}
	ordered = append(ordered, std.entries[:std.next]...)

	if n > 0 && len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}
