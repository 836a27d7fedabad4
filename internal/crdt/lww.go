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

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/hlc"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
	"github.com/calimero-network/core-sub010/internal/wire"
)

func init() { register(TypeLwwRegister, lwwRegister{}) }

// entry is the persisted (hlc, value, tombstone) triple shared by
// LwwRegister and UnorderedMap's per-key LWW entries.
type entry struct {
	ts        hlc.Timestamp
	value     []byte
	tombstone bool
}

func encodeEntry(e entry) []byte {
	w := wire.NewWriter(64 + len(e.value))
	w.WriteByte(wire.Version)
	w.WriteInt64(e.ts.WallMS)
	w.WriteUint32(e.ts.Counter)
	w.WriteFixed(e.ts.Author[:])
	if e.tombstone {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
	w.WriteBytes(e.value)
	return w.Bytes()
}

func decodeEntry(b []byte) (entry, error) {
	r := wire.NewReader(b)
	if err := r.ExpectVersion(); err != nil {
		return entry{}, calerr.Wrap(calerr.SerializationError, "entry version", err)
	}
	wallMS, err := r.ReadInt64()
	if err != nil {
		return entry{}, err
	}
	counter, err := r.ReadUint32()
	if err != nil {
		return entry{}, err
	}
	author, err := r.ReadFixed(32)
	if err != nil {
		return entry{}, err
	}
	tomb, err := r.ReadByte()
	if err != nil {
		return entry{}, err
	}
	val, err := r.ReadBytes()
	if err != nil {
		return entry{}, err
	}
	e := entry{
		ts:        hlc.Timestamp{WallMS: wallMS, Counter: counter},
		value:     append([]byte(nil), val...),
		tombstone: tomb != 0,
	}
	copy(e.ts.Author[:], author)
	return e, nil
}

// loadEntry reads and decodes the entry at key, or a calerr.NotFound if
// absent.
func loadEntry(tx store.Tx, key []byte) (entry, error) {
	raw, err := tx.Get(store.ContextState, key)
	if err != nil {
		return entry{}, err
	}
	return decodeEntry(raw)
}

func digestOf(e entry) [32]byte { return sha256.Sum256(encodeEntry(e)) }

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// lwwRegister implements Collection for a single last-writer-wins value:
// the Delta's HLC is compared against the currently stored entry's HLC,
// and the later one wins (spec.md §4.D, §8 scenario S1).
type lwwRegister struct{}

const lwwSubKey = "\x00value"

func (lwwRegister) Apply(tx store.RwTx, ctx types.ContextId, h Handle, ts hlc.Timestamp, action types.Action) error {
	if action.Kind != types.ActionAdd && action.Kind != types.ActionUpdate {
		return calerr.New(calerr.InvalidArgument, "LwwRegister only accepts Add/Update actions")
	}
	key := stateKey(ctx, h.RootId, []byte(lwwSubKey))
	existing, err := loadEntry(tx, key)
	if err != nil && !calerr.Is(err, calerr.NotFound) {
		return err
	}
	if err == nil && !hlc.Less(existing.ts, ts) {
		return nil // existing write is later or equal: last-writer-wins keeps it
	}
	return tx.Put(store.ContextState, key, encodeEntry(entry{ts: ts, value: action.Value}))
}

func (lwwRegister) Fold(tx store.Tx, ctx types.ContextId, h Handle) ([32]byte, error) {
	key := stateKey(ctx, h.RootId, []byte(lwwSubKey))
	e, err := loadEntry(tx, key)
	if calerr.Is(err, calerr.NotFound) {
		return sha256.Sum256([]byte("lww:empty")), nil
	}
	if err != nil {
		return [32]byte{}, err
	}
	return digestOf(e), nil
}

func (lwwRegister) Compare(tx store.Tx, ctx types.ContextId, h Handle, action types.Action) (bool, error) {
	key := stateKey(ctx, h.RootId, []byte(lwwSubKey))
	e, err := loadEntry(tx, key)
	if calerr.Is(err, calerr.NotFound) {
		return len(action.Proof) == 0, nil
	}
	if err != nil {
		return false, err
	}
	digest := digestOf(e)
	return bytesEqual(digest[:], action.Proof), nil
}
