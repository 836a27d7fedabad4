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

package sync

import (
	"sync"
	"time"

	"github.com/calimero-network/core-sub010/internal/types"
)

// QuarantineCooldown is how long a sender stays quarantined after forging
// or otherwise failing a root-hash check (spec.md §4.H.1 step 5, scenario
// S4).
const QuarantineCooldown = 10 * time.Minute

type quarantineKey struct {
	ctx    types.ContextId
	sender types.PublicKey
}

// quarantineList tracks, per context, senders whose deltas are rejected
// outright until their cooldown elapses.
type quarantineList struct {
	mu    sync.Mutex
	until map[quarantineKey]time.Time
	now   func() time.Time
}

func newQuarantineList(now func() time.Time) *quarantineList {
	if now == nil {
		now = time.Now
	}
	return &quarantineList{until: make(map[quarantineKey]time.Time), now: now}
}

// Quarantine marks sender as untrusted in ctx for QuarantineCooldown.
func (q *quarantineList) Quarantine(ctx types.ContextId, sender types.PublicKey) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.until[quarantineKey{ctx, sender}] = q.now().Add(QuarantineCooldown)
}

// IsQuarantined reports whether sender's cooldown in ctx is still active.
func (q *quarantineList) IsQuarantined(ctx types.ContextId, sender types.PublicKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	until, ok := q.until[quarantineKey{ctx, sender}]
	if !ok {
		return false
	}
	if q.now().After(until) {
		delete(q.until, quarantineKey{ctx, sender})
		return false
	}
	return true
}
