// SPDX-License-Identifier: GPL-3.0-or-later

package dial

import "github.com/esmicro/kernel/internal/errkind"

// ErrClassifier classifies errors into categorical strings for analysis.
//
// Implementations map errors to short, descriptive labels (e.g., "TIMED_OUT",
// "CONNECTION_RESET") that facilitate systematic analysis of network events.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
//
// This allows using simple functions as classifiers:
//
//	op.ErrClassifier = ErrClassifierFunc(errkind.ClassifyLabel)
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// DefaultErrClassifier is a no-op classifier that returns an empty string.
var DefaultErrClassifier = ErrClassifierFunc(func(error) string { return "" })

// KernelErrClassifier classifies errors using the kernel's own closed
// error-kind taxonomy (§7), so that dial pipelines used by the DNS resolver
// (internal/netstack/dns) log the same vocabulary the rest of the core uses.
var KernelErrClassifier = ErrClassifierFunc(func(err error) string {
	return errkind.Classify(err).String()
})
