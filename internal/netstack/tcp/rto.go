// SPDX-License-Identifier: GPL-3.0-or-later

package tcp

import "time"

// RTOEstimator implements the Jacobson/Karels smoothed round-trip-time
// estimator (RFC 6298): srtt and rttvar are updated on every accepted
// RTT sample, and RTO is derived as srtt + max(clockGranularity, 4*rttvar),
// clamped to [minRTO, maxRTO].
type RTOEstimator struct {
	srtt    time.Duration
	rttvar  time.Duration
	hasSample bool

	minRTO, maxRTO time.Duration
	clockGranularity time.Duration
}

const (
	defaultInitialRTO = time.Second
	defaultMinRTO     = time.Second
	defaultMaxRTO     = 2 * 60 * time.Second // 2*MSL, MSL=60s
	clockGranularity  = 10 * time.Millisecond

	alphaDenominator = 8 // srtt weight = 1/8
	betaDenominator  = 4 // rttvar weight = 1/4
)

// NewRTOEstimator creates an [*RTOEstimator] with RFC 6298's 1s initial
// RTO and 1s floor, and a ceiling of 2*MSL.
func NewRTOEstimator() *RTOEstimator {
	return &RTOEstimator{minRTO: defaultMinRTO, maxRTO: defaultMaxRTO, clockGranularity: clockGranularity}
}

// Sample feeds one accepted RTT measurement (never taken from a
// retransmitted segment's ACK, per Karn's algorithm — the caller is
// responsible for that exclusion).
func (e *RTOEstimator) Sample(rtt time.Duration) {
	if !e.hasSample {
		e.srtt = rtt
		e.rttvar = rtt / 2
		e.hasSample = true
		return
	}
	delta := e.srtt - rtt
	if delta < 0 {
		delta = -delta
	}
	e.rttvar += (delta - e.rttvar) / betaDenominator
	e.srtt += (rtt - e.srtt) / alphaDenominator
}

// RTO returns the current retransmission timeout.
func (e *RTOEstimator) RTO() time.Duration {
	if !e.hasSample {
		return defaultInitialRTO
	}
	rto := e.srtt + max(e.clockGranularity, 4*e.rttvar)
	if rto < e.minRTO {
		rto = e.minRTO
	}
	if rto > e.maxRTO {
		rto = e.maxRTO
	}
	return rto
}

// Backoff doubles the effective RTO after a retransmission timeout
// (RFC 6298 §5.5), without perturbing the underlying srtt/rttvar
// estimate — the next accepted sample recomputes RTO from scratch.
func (e *RTOEstimator) Backoff(current time.Duration) time.Duration {
	next := current * 2
	if next > e.maxRTO {
		next = e.maxRTO
	}
	return next
}
