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

package crdt

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/hlc"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
)

func init() { register(TypeVector, vector{}) }

// vector implements Collection as an append-only sequence: every Add
// action is stored under a sub-key that sorts in (HLC, author) order, so
// two replicas that applied the same append set — regardless of the
// order the network delivered them in — converge on the same sequence
// (spec.md §4.D, §8 scenario S2: concurrent appends order by HLC then
// author).
type vector struct{}

const vecKeyPrefix = "\x02v"

// vecEntryKey encodes ts big-endian so lexicographic byte order on the
// key matches hlc.Compare's ordering (the wire package's little-endian
// integers are for message encoding, not for keys meant to sort).
func vecEntryKey(ctx types.ContextId, h Handle, ts hlc.Timestamp) []byte {
	sub := make([]byte, 0, len(vecKeyPrefix)+8+4+32)
	sub = append(sub, []byte(vecKeyPrefix)...)
	var wallBuf [8]byte
	binary.BigEndian.PutUint64(wallBuf[:], uint64(ts.WallMS))
	sub = append(sub, wallBuf[:]...)
	var counterBuf [4]byte
	binary.BigEndian.PutUint32(counterBuf[:], ts.Counter)
	sub = append(sub, counterBuf[:]...)
	sub = append(sub, ts.Author[:]...)
	return stateKey(ctx, h.RootId, sub)
}

func (vector) Apply(tx store.RwTx, ctx types.ContextId, h Handle, ts hlc.Timestamp, action types.Action) error {
	if action.Kind != types.ActionAdd {
		return calerr.New(calerr.InvalidArgument, "Vector only accepts Add (append) actions")
	}
	key := vecEntryKey(ctx, h, ts)
	if has, err := tx.Has(store.ContextState, key); err != nil {
		return err
	} else if has {
		return nil // idempotent re-apply of the same (ts, author) append
	}
	return tx.Put(store.ContextState, key, append([]byte(nil), action.Value...))
}

// Values returns the vector's elements in convergent order: ascending
// (HLC, author), i.e. the same order Fold digests them in.
func (vector) Values(tx store.Tx, ctx types.ContextId, h Handle) ([][]byte, error) {
	prefix := stateKey(ctx, h.RootId, []byte(vecKeyPrefix))
	it := tx.Iter(store.ContextState)
	defer it.Close()
	var out [][]byte
	for ok := it.Seek(prefix); ok; ok = it.Next() {
		out = append(out, append([]byte(nil), it.Value()...))
	}
	return out, nil
}

func (v vector) Fold(tx store.Tx, ctx types.ContextId, h Handle) ([32]byte, error) {
	values, err := v.Values(tx, ctx, h)
	if err != nil {
		return [32]byte{}, err
	}
	h256 := sha256.New()
	for _, val := range values {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(val)))
		h256.Write(lenBuf[:])
		h256.Write(val)
	}
	var out [32]byte
	copy(out[:], h256.Sum(nil))
	return out, nil
}

func (v vector) Compare(tx store.Tx, ctx types.ContextId, h Handle, action types.Action) (bool, error) {
	digest, err := v.Fold(tx, ctx, h)
	if err != nil {
		return false, err
	}
	return bytesEqual(digest[:], action.Proof), nil
}
