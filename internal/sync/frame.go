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
	"encoding/binary"
	"io"

	"github.com/calimero-network/core-sub010/internal/calerr"
)

// maxFrameSize bounds one frame read off a direct stream, so a misbehaving
// or adversarial peer cannot force an unbounded allocation.
const maxFrameSize = 16 * 1024 * 1024

// writeFrame writes a uint32-length-prefixed payload. Streams carry
// arbitrary byte sequences with no implicit message boundary, so every
// initFrame/respFrame is framed explicitly rather than relying on a single
// Read returning exactly one message.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return calerr.Wrap(calerr.Timeout, "write frame length", err)
	}
	if _, err := w.Write(payload); err != nil {
		return calerr.Wrap(calerr.Timeout, "write frame body", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, calerr.Wrap(calerr.Timeout, "read frame length", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, calerr.New(calerr.InvalidArgument, "frame exceeds maximum size")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, calerr.Wrap(calerr.Timeout, "read frame body", err)
	}
	return buf, nil
}
