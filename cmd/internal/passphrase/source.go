// Package passphrase resolves keystore passphrases for the stabled binaries.
package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrMismatch is returned when a confirmation prompt differs from the first
// entry.
var ErrMismatch = errors.New("passphrases do not match")

// Option configures a Source.
type Option func(*Source)

// WithConfirm asks twice on the terminal. Used when a new keystore is written.
func WithConfirm() Option {
	return func(s *Source) { s.confirm = true }
}

// WithLabel names the keystore in prompts and errors.
func WithLabel(label string) Option {
	return func(s *Source) {
		if label = strings.TrimSpace(label); label != "" {
			s.label = label
		}
	}
}

// Source resolves a keystore passphrase from an environment variable or by
// prompting the operator. The first result is cached.
type Source struct {
	envVar  string
	label   string
	confirm bool
	out     io.Writer
	prompt  func() ([]byte, error)
	isTTY   func() bool

	once  sync.Once
	value string
	err   error
}

// NewSource returns a source that checks envVar before prompting on the
// terminal.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{
		envVar: strings.TrimSpace(envVar),
		label:  "keeper keystore",
		out:    os.Stderr,
		prompt: func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) },
		isTTY:  func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the passphrase. A set environment variable is used verbatim and
// never confirmed; whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() { s.value, s.err = s.resolve() })
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !s.isTTY() {
		if s.envVar != "" {
			return "", fmt.Errorf("%s passphrase required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s passphrase required and no terminal available", s.label)
	}

	first, err := s.ask("Enter " + s.label + " passphrase: ")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(first) == "" {
		return "", fmt.Errorf("%s passphrase cannot be empty", s.label)
	}
	if s.confirm {
		again, err := s.ask("Repeat " + s.label + " passphrase: ")
		if err != nil {
			return "", err
		}
		if again != first {
			return "", ErrMismatch
		}
	}
	return first, nil
}

func (s *Source) ask(label string) (string, error) {
	fmt.Fprint(s.out, label)
	raw, err := s.prompt()
	fmt.Fprintln(s.out)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}
