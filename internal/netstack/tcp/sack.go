// SPDX-License-Identifier: GPL-3.0-or-later

package tcp

import "sort"

// Scoreboard tracks which bytes beyond SendUna have been selectively
// acknowledged by the peer (RFC 2018, RFC 6675), so retransmission can
// skip ranges already received out of order instead of resending
// everything after the first gap.
type Scoreboard struct {
	blocks []SACKBlock // sorted, non-overlapping, in sequence-space order
}

// Update merges newly reported SACK blocks into the scoreboard.
func (s *Scoreboard) Update(blocks []SACKBlock) {
	s.blocks = append(s.blocks, blocks...)
	if len(s.blocks) == 0 {
		return
	}
	sort.Slice(s.blocks, func(i, j int) bool { return seqLess(s.blocks[i].Left, s.blocks[j].Left) })
	merged := s.blocks[:1]
	for _, b := range s.blocks[1:] {
		last := &merged[len(merged)-1]
		if !seqLess(last.Right, b.Left) { // overlapping or adjacent
			if seqLess(last.Right, b.Right) {
				last.Right = b.Right
			}
			continue
		}
		merged = append(merged, b)
	}
	s.blocks = merged
}

// Covered reports whether every byte in [seq, seq+length) has been
// SACKed, i.e. a retransmission can skip this range.
func (s *Scoreboard) Covered(seq uint32, length uint32) bool {
	end := seq + length
	for _, b := range s.blocks {
		if seqLE(b.Left, seq) && seqLE(end, b.Right) {
			return true
		}
	}
	return false
}

// Reset clears the scoreboard. The connection itself trims the scoreboard
// with Prune on each cumulative ACK and does not call Reset.
func (s *Scoreboard) Reset() { s.blocks = nil }

// Prune drops blocks entirely to the left of una, since a cumulative ACK
// of una already covers them.
func (s *Scoreboard) Prune(una uint32) {
	var kept []SACKBlock
	for _, b := range s.blocks {
		if seqLess(una, b.Right) {
			kept = append(kept, b)
		}
	}
	s.blocks = kept
}

// seqLess reports whether a precedes b in 32-bit sequence-space modular
// arithmetic (RFC 793 §3.3's wraparound-safe comparison).
func seqLess(a, b uint32) bool { return int32(a-b) < 0 }

func seqLE(a, b uint32) bool { return a == b || seqLess(a, b) }
