// Copyright 2026 The Calimero Authors
// This file is part of Calimero.
//
// Calimero is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Calimero is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Calimero. If not, see <http://www.gnu.org/licenses/>.

// Package hlc implements the hybrid logical clock used to order causal
// deltas: a (wall-ms, logical-counter, author) tuple, compared
// lexicographically with author bytes as the final tiebreak so the order is
// total even between concurrent events from different authors.
package hlc

import (
	"bytes"
	"time"
)

// Timestamp is a hybrid logical clock reading.
type Timestamp struct {
	WallMS  int64
	Counter uint32
	Author  [32]byte
}

// Compare orders two Timestamps lexicographically on (WallMS, Counter,
// Author). It returns -1, 0, or 1.
func Compare(a, b Timestamp) int {
	if a.WallMS != b.WallMS {
		if a.WallMS < b.WallMS {
			return -1
		}
		return 1
	}
	if a.Counter != b.Counter {
		if a.Counter < b.Counter {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.Author[:], b.Author[:])
}

// Less reports whether a sorts strictly before b.
func Less(a, b Timestamp) bool { return Compare(a, b) < 0 }

// Clock generates monotonically advancing Timestamps for one author. It is
// safe only for use by the single writer that owns it (the execution task
// for one identity); it is not a shared, lock-protected singleton per the
// "no ambient global state" design note.
type Clock struct {
	author  [32]byte
	lastMS  int64
	counter uint32
	now     func() time.Time
}

// New returns a Clock for author. now defaults to time.Now when nil, and is
// overridable so tests can drive wall-time deterministically.
func New(author [32]byte, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{author: author, now: now}
}

// Tick returns the next Timestamp for this clock's author. Within the same
// wall-ms bucket the logical counter advances; crossing into a new wall-ms
// resets it, unless wall time regressed, in which case the clock holds at
// the last wall-ms and keeps advancing the counter (standard HLC behavior).
func (c *Clock) Tick() Timestamp {
	wall := c.now().UnixMilli()
	if wall > c.lastMS {
		c.lastMS = wall
		c.counter = 0
	} else {
		c.counter++
	}
	return Timestamp{WallMS: c.lastMS, Counter: c.counter, Author: c.author}
}

// Observe folds a remote Timestamp into this clock, as a standard HLC
// receive-side update: the local clock advances past whatever it just saw,
// so a subsequent Tick always sorts after remote events it has observed.
func (c *Clock) Observe(remote Timestamp) {
	if remote.WallMS > c.lastMS {
		c.lastMS = remote.WallMS
		c.counter = remote.Counter
		return
	}
	if remote.WallMS == c.lastMS && remote.Counter > c.counter {
		c.counter = remote.Counter
	}
}

// WithinDrift reports whether ts's wall-ms component is within tolerance of
// now. Only future skew is checked: a timestamp in the past is never
// rejected on drift grounds alone.
func WithinDrift(ts Timestamp, now time.Time, tolerance time.Duration) bool {
	future := time.UnixMilli(ts.WallMS).Sub(now)
	return future <= tolerance
}
