// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: pkg/dial/slogger.go (SLogger abstraction), pkg/dial/config.go
// (Config-with-defaults constructor pattern).

// Package conc implements the concurrency kernel: threads with priorities,
// a priority-inheriting recursive monitor with condition variables, and an
// alarm/timer scheduler.
//
// The interface store (ifstore), the capability table (objruntime),
// conduit nodes, and TCP connections (netstack/tcp) build their mutual
// exclusion on top of [*Monitor] rather than a bare sync.Mutex, so that
// priority inversion between threads of different priority is resolved
// the same way in each. The UDP port table and this package's Scheduler
// use sync.Mutex; the ARP and DHCP state machines do no locking.
package conc

import (
	"time"

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

// Config holds common configuration for the concurrency kernel.
//
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Logger is stored by [NewScheduler]; the scheduler does not emit any
	// log records through it.
	//
	// Set by [NewConfig] to a no-op logger.
	Logger SLogger

	// TimeNow returns the current time, used by the alarm scheduler.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Logger:  DefaultSLogger(),
		TimeNow: time.Now,
	}
}

// Priority is a thread's scheduling priority. Higher values run first when
// threads contend for the same monitor; see [*Monitor] for the boosting
// rule.
type Priority int

const (
	PriorityIdle   Priority = 0
	PriorityNormal Priority = 10
	PriorityHigh   Priority = 20
	PriorityRT     Priority = 30
)

// ErrDeadlock is an [errkind.Error] of kind [errkind.Deadlock]. It is the
// value [*Monitor.Lock] panics with whenever the kernel detects a
// wait-for cycle among monitors: deadlock detection is fatal, so it is
// never returned as an ordinary error.
var ErrDeadlock = errkind.New(errkind.Deadlock, errDeadlockCause{})

type errDeadlockCause struct{}

func (errDeadlockCause) Error() string { return "deadlock: cyclic wait-for graph detected" }
