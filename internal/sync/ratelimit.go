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

	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/time/rate"
)

// deltaRequestRate/deltaRequestBurst bound how fast this node issues
// DeltaRequests to any single peer (spec.md §5 back-pressure): a cascade
// of missing parents must not turn into an unbounded request storm against
// one slow or adversarial counterpart.
const (
	deltaRequestRate  = 20 // requests/sec
	deltaRequestBurst = 40
)

// peerLimiters hands out one token-bucket limiter per peer, created lazily.
type peerLimiters struct {
	mu       sync.Mutex
	limiters map[peer.ID]*rate.Limiter
}

func newPeerLimiters() *peerLimiters {
	return &peerLimiters{limiters: make(map[peer.ID]*rate.Limiter)}
}

func (p *peerLimiters) get(id peer.ID) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Limit(deltaRequestRate), deltaRequestBurst)
		p.limiters[id] = l
	}
	return l
}
