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
	"time"

	"github.com/libp2p/go-libp2p/core/network"

	"github.com/calimero-network/core-sub010/internal/calerr"
)

// timedStream wraps a direct libp2p stream with H.2's per-recv deadline
// (spec.md §4.H.2 "each recv has a configurable deadline").
type timedStream struct {
	network.Stream
	deadline time.Duration
}

func (s *timedStream) sendFrame(payload []byte) error {
	if s.deadline > 0 {
		_ = s.SetWriteDeadline(time.Now().Add(s.deadline))
	}
	return writeFrame(s, payload)
}

func (s *timedStream) recvFrame() ([]byte, error) {
	if s.deadline > 0 {
		_ = s.SetReadDeadline(time.Now().Add(s.deadline))
	}
	b, err := readFrame(s)
	if err != nil {
		return nil, calerr.Wrap(calerr.Timeout, "recv timed out or stream closed", err)
	}
	return b, nil
}

// sequenceTracker enforces H.2's monotonically increasing sequence_id per
// direction: a gap or repeat terminates the stream.
type sequenceTracker struct {
	next uint64
}

func (t *sequenceTracker) expect(got uint64) error {
	if got != t.next {
		return calerr.New(calerr.IntegrityViolation, "out-of-order sequence_id")
	}
	t.next++
	return nil
}
