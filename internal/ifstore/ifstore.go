// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: pkg/dial/config.go (Config-with-defaults constructor),
// pkg/dial/slogger.go (SLogger abstraction).

// Package ifstore implements the process-wide interface store: a registry
// from interface name to descriptor and from interface name to
// constructor object, used by the broker (internal/objruntime) to
// validate and marshal calls (spec §4.1).
package ifstore

import (
	"bytes"
	"encoding/gob"
	"sort"

	"github.com/esmicro/kernel/internal/conc"
	"github.com/esmicro/kernel/internal/errkind"
)

// SLogger abstracts the [*slog.Logger] behavior used by this package.
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type discardSLogger struct{}

func (discardSLogger) Debug(msg string, args ...any) {}
func (discardSLogger) Info(msg string, args ...any)  {}

// DefaultSLogger returns a no-op [SLogger].
func DefaultSLogger() SLogger { return discardSLogger{} }

// Config holds common configuration for the interface store.
type Config struct {
	// Logger receives register/lookup/remove lifecycle events.
	//
	// Set by [NewConfig] to a no-op logger.
	Logger SLogger
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{Logger: DefaultSLogger()}
}

// MethodSig is one method in an interface descriptor: its name and
// positional argument count, enough for the broker to validate an RPC
// request's argument list before dispatch.
type MethodSig struct {
	Name    string
	NumArgs int
}

// Descriptor is one interface's metadata: its fully-qualified name, the
// interfaces it directly extends, and the methods it directly declares.
// InheritedMethodCount is filled in by the store's second registration
// pass, not by the caller.
type Descriptor struct {
	Name                 string
	Bases                []string
	Methods              []MethodSig
	InheritedMethodCount int
}

// Module is the unit parsed by [*Store.Register]: a descriptor blob may
// describe more than one interface, matching modules that declare a
// family of related interfaces together.
type Module struct {
	Descriptors []*Descriptor
}

// Marshal encodes m as an opaque blob suitable for [*Store.Register].
func (m *Module) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, errkind.New(errkind.BadMessage, err)
	}
	return buf.Bytes(), nil
}

func unmarshalModule(blob []byte) (*Module, error) {
	var m Module
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&m); err != nil {
		return nil, errkind.New(errkind.BadMessage, err)
	}
	return &m, nil
}

type entry struct {
	descriptor *Descriptor
	blob       []byte // the byte-for-byte encoding this descriptor arrived in
	ctor       any
}

// Store is the process-wide interface registry (spec §4.1).
//
// Concurrent access is mediated by a [*conc.Monitor]: registration is rare
// and lookups are frequent, matching the read-mostly access pattern the
// spec calls for.
type Store struct {
	mon     *conc.Monitor
	logger  SLogger
	entries map[string]*entry
}

// New creates an empty [*Store].
func New(cfg *Config) *Store {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Store{
		mon:     conc.NewMonitor("ifstore", nil),
		logger:  cfg.Logger,
		entries: make(map[string]*entry),
	}
}

// Register parses blob as a [Module] and inserts each of its descriptors
// under its fully-qualified name, then recomputes InheritedMethodCount for
// every descriptor currently in the store (a second pass, so that forward
// references across modules registered in separate calls resolve
// correctly).
//
// Re-registering an interface name is a no-op only if the new descriptor's
// encoding is byte-for-byte identical to what is already stored;
// otherwise it fails with [errkind.AlreadyExists].
func (s *Store) Register(self *conc.Thread, blob []byte) error {
	mod, err := unmarshalModule(blob)
	if err != nil {
		return err
	}

	if err := s.mon.Lock(self.Context(), self); err != nil {
		return err
	}
	defer s.mon.Unlock(self)

	for _, d := range mod.Descriptors {
		encoded, err := (&Module{Descriptors: []*Descriptor{d}}).Marshal()
		if err != nil {
			return err
		}
		if existing, ok := s.entries[d.Name]; ok {
			if bytes.Equal(existing.blob, encoded) {
				continue // identical re-registration: no-op
			}
			return errkind.New(errkind.AlreadyExists, errConflict{name: d.Name})
		}
		cp := *d
		cp.InheritedMethodCount = 0
		s.entries[d.Name] = &entry{descriptor: &cp, blob: encoded}
	}

	s.recomputeInheritedCountsLocked()
	s.logger.Info("ifstore.register", "count", len(mod.Descriptors))
	return nil
}

// recomputeInheritedCountsLocked walks each descriptor's base chain and
// sums method counts. Callers must hold s.mon.
func (s *Store) recomputeInheritedCountsLocked() {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic iteration for diagnostics/tests

	var count func(name string, seen map[string]bool) int
	count = func(name string, seen map[string]bool) int {
		if seen[name] {
			return 0 // cyclic bases: do not double count or loop forever
		}
		seen[name] = true
		e, ok := s.entries[name]
		if !ok {
			return 0 // forward reference not yet registered
		}
		total := len(e.descriptor.Methods)
		for _, base := range e.descriptor.Bases {
			total += count(base, seen)
		}
		return total
	}

	for _, name := range names {
		e := s.entries[name]
		e.descriptor.InheritedMethodCount = count(name, map[string]bool{})
	}
}

// Lookup returns the descriptor registered under name.
func (s *Store) Lookup(self *conc.Thread, name string) (*Descriptor, error) {
	if err := s.mon.Lock(self.Context(), self); err != nil {
		return nil, err
	}
	defer s.mon.Unlock(self)

	e, ok := s.entries[name]
	if !ok {
		return nil, errkind.New(errkind.NotFound, errNotFound{name: name})
	}
	cp := *e.descriptor
	return &cp, nil
}

// SetConstructor associates a constructor object with an already-registered
// interface name.
func (s *Store) SetConstructor(self *conc.Thread, name string, ctor any) error {
	if err := s.mon.Lock(self.Context(), self); err != nil {
		return err
	}
	defer s.mon.Unlock(self)

	e, ok := s.entries[name]
	if !ok {
		return errkind.New(errkind.NotFound, errNotFound{name: name})
	}
	e.ctor = ctor
	return nil
}

// GetConstructor returns the constructor object associated with name, if
// any. The second result is false if name is unregistered or has no
// constructor set.
func (s *Store) GetConstructor(self *conc.Thread, name string) (any, bool, error) {
	if err := s.mon.Lock(self.Context(), self); err != nil {
		return nil, false, err
	}
	defer s.mon.Unlock(self)

	e, ok := s.entries[name]
	if !ok {
		return nil, false, nil
	}
	return e.ctor, e.ctor != nil, nil
}

// Remove deletes an interface from the store and recomputes inherited
// method counts for whatever descriptors remain (a descriptor that based
// itself on the removed one simply stops counting its methods, matching
// Lookup/recomputeInheritedCountsLocked's tolerance of forward/dangling
// references).
func (s *Store) Remove(self *conc.Thread, name string) error {
	if err := s.mon.Lock(self.Context(), self); err != nil {
		return err
	}
	defer s.mon.Unlock(self)

	if _, ok := s.entries[name]; !ok {
		return errkind.New(errkind.NotFound, errNotFound{name: name})
	}
	delete(s.entries, name)
	s.recomputeInheritedCountsLocked()
	return nil
}

type errNotFound struct{ name string }

func (e errNotFound) Error() string { return "interface not found: " + e.name }

type errConflict struct{ name string }

func (e errConflict) Error() string {
	return "interface already registered with a different descriptor: " + e.name
}
