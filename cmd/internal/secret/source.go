// Package secret resolves operator secrets that should not live in config
// files.
package secret

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a secret from an explicit value, an environment
// variable or a terminal prompt, in that order. The first result is cached.
type Source struct {
	label    string
	envVar   string
	explicit string

	lookup   func(string) (string, bool)
	terminal func() bool
	read     func() ([]byte, error)
	prompt   io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource builds a source for label. explicit wins when non-blank.
func NewSource(label, envVar, explicit string) *Source {
	fd := int(os.Stdin.Fd())
	return &Source{
		label:    strings.TrimSpace(label),
		envVar:   strings.TrimSpace(envVar),
		explicit: explicit,
		lookup:   os.LookupEnv,
		terminal: func() bool { return term.IsTerminal(fd) },
		read:     func() ([]byte, error) { return term.ReadPassword(fd) },
		prompt:   os.Stderr,
	}
}

// Get returns the cached secret or resolves it on first use. Whitespace-only
// secrets are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if strings.TrimSpace(s.explicit) != "" {
			s.value = strings.TrimSpace(s.explicit)
			return
		}
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = strings.TrimSpace(value)
				return
			}
		}

		if !s.terminal() {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
			} else {
				s.err = fmt.Errorf("%s required and no terminal available", s.label)
			}
			return
		}

		fmt.Fprintf(s.prompt, "Enter %s: ", s.label)
		raw, err := s.read()
		fmt.Fprintln(s.prompt)
		if err != nil {
			s.err = fmt.Errorf("failed to read %s: %w", s.label, err)
			return
		}
		if strings.TrimSpace(string(raw)) == "" {
			s.err = errors.New(s.label + " cannot be empty")
			return
		}
		s.value = strings.TrimSpace(string(raw))
	})

	return s.value, s.err
}
