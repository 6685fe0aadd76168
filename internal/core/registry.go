package core

import (
	"fmt"
	"iter"

	"github.com/SimplyPrint/gpsh/internal/logging"
)

// Presence is a point-in-time card presence sample.
type Presence int

const (
	PresenceAbsent Presence = iota
	PresencePresent
	// PresenceUnknown means the presence check itself failed. It is not the same as absent.
	PresenceUnknown
)

func (p Presence) String() string {
	switch p {
	case PresencePresent:
		return "present"
	case PresenceAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// Terminal is one reader as seen at discovery time.
type Terminal struct {
	Index       int
	Name        string
	Presence    Presence
	PresenceErr error
}

// Registry is the ordered result of one discovery pass. Indices are
// 0..Len()-1 in provider order and never change for the Registry's lifetime.
type Registry struct {
	ctx       SmartCardContext
	terminals []Terminal
	shareMode ShareMode
}

// Option configures Discover.
type Option func(*Registry)

// WithShareMode sets the share mode used by Connect. Default is ShareShared.
func WithShareMode(mode ShareMode) Option {
	return func(r *Registry) {
		r.shareMode = mode
	}
}

// Discover lists the terminals of the default provider and samples card
// presence on each. The returned Registry owns the PC/SC context; call Close
// when no session opened from it is needed anymore.
func Discover(factory ContextFactory, opts ...Option) (*Registry, error) {
	ctx, err := factory.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoProvider, err)
	}

	names, err := ctx.ListReaders()
	if err != nil && !isNoReaders(err) {
		_ = ctx.Release()
		return nil, fmt.Errorf("%w: %w", ErrEnumeration, err)
	}

	r := &Registry{
		ctx:       ctx,
		terminals: make([]Terminal, 0, len(names)),
		shareMode: ShareShared,
	}
	for _, opt := range opts {
		opt(r)
	}

	for i, name := range names {
		t := Terminal{Index: i, Name: name}
		present, err := ctx.CardPresent(name)
		switch {
		case err != nil:
			t.Presence = PresenceUnknown
			t.PresenceErr = err
			logging.Warn(logging.CatReader, "Card presence check failed", map[string]any{
				"index":  i,
				"reader": name,
				"error":  err.Error(),
			})
		case present:
			t.Presence = PresencePresent
		default:
			t.Presence = PresenceAbsent
		}
		r.terminals = append(r.terminals, t)
	}

	logging.Info(logging.CatReader, "Terminal discovery complete", map[string]any{
		"count": len(r.terminals),
	})
	return r, nil
}

// Len returns the number of discovered terminals.
func (r *Registry) Len() int {
	return len(r.terminals)
}

// Terminal returns the terminal at index.
func (r *Registry) Terminal(index int) (Terminal, error) {
	if index < 0 || index >= len(r.terminals) {
		return Terminal{}, &InvalidIndexError{Index: index, Count: len(r.terminals)}
	}
	return r.terminals[index], nil
}

// Terminals returns a copy of the discovered terminals in index order.
func (r *Registry) Terminals() []Terminal {
	out := make([]Terminal, len(r.terminals))
	copy(out, r.terminals)
	return out
}

// Describe yields "<index>:<presence>:<name>" for every terminal in index
// order. It reads the discovery snapshot and can be ranged over repeatedly.
func (r *Registry) Describe() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, t := range r.terminals {
			if !yield(fmt.Sprintf("%d:%s:%s", t.Index, t.Presence, t.Name)) {
				return
			}
		}
	}
}

// Close releases the PC/SC context. Cards connected through it become unusable.
func (r *Registry) Close() error {
	if r.ctx == nil {
		return nil
	}
	err := r.ctx.Release()
	r.ctx = nil
	return err
}
