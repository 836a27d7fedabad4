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
	"sort"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/hlc"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
)

func init() { register(TypeUnorderedMap, unorderedMap{}) }

// unorderedMap implements Collection as a set of independently
// last-writer-wins entries keyed by Action.Key: ActionAdd/ActionUpdate set
// an entry's value, ActionDelete tombstones it, each compared on the
// Delta's HLC exactly as lwwRegister compares its single value (spec.md
// §4.D "per-key LWW merge").
type unorderedMap struct{}

// mapKeyPrefix is a fixed tag so a map's per-key state rows are
// distinguishable from any future sub-key scheme sharing the same root.
const mapKeyPrefix = "\x01k"

func mapEntryKey(ctx types.ContextId, h Handle, entryKey []byte) []byte {
	return stateKey(ctx, h.RootId, append([]byte(mapKeyPrefix), entryKey...))
}

func (unorderedMap) Apply(tx store.RwTx, ctx types.ContextId, h Handle, ts hlc.Timestamp, action types.Action) error {
	switch action.Kind {
	case types.ActionAdd, types.ActionUpdate, types.ActionDelete:
	default:
		return calerr.New(calerr.InvalidArgument, "UnorderedMap only accepts Add/Update/Delete actions")
	}
	key := mapEntryKey(ctx, h, action.Key)
	existing, err := loadEntry(tx, key)
	if err != nil && !calerr.Is(err, calerr.NotFound) {
		return err
	}
	if err == nil && !hlc.Less(existing.ts, ts) {
		return nil // existing write is later or equal
	}
	e := entry{ts: ts, tombstone: action.Kind == types.ActionDelete}
	if !e.tombstone {
		e.value = action.Value
	}
	return tx.Put(store.ContextState, key, encodeEntry(e))
}

// Fold digests every live (non-tombstoned) entry in key order, so two
// replicas holding the same logical entry set converge to the same digest
// regardless of the order entries were applied in.
func (unorderedMap) Fold(tx store.Tx, ctx types.ContextId, h Handle) ([32]byte, error) {
	prefix := stateKey(ctx, h.RootId, []byte(mapKeyPrefix))
	it := tx.Iter(store.ContextState)
	defer it.Close()

	type row struct {
		key []byte
		e   entry
	}
	var rows []row
	for ok := it.Seek(prefix); ok; ok = it.Next() {
		e, err := decodeEntry(it.Value())
		if err != nil {
			return [32]byte{}, err
		}
		if e.tombstone {
			continue
		}
		k := append([]byte(nil), it.Key()[len(prefix):]...)
		rows = append(rows, row{key: k, e: e})
	}
	sort.Slice(rows, func(i, j int) bool {
		return string(rows[i].key) < string(rows[j].key)
	})

	h256 := sha256.New()
	for _, r := range rows {
		h256.Write(r.key)
		h256.Write(encodeEntry(r.e))
	}
	var out [32]byte
	copy(out[:], h256.Sum(nil))
	return out, nil
}

// GetMapValue reads one live entry directly, without going through an
// Action — the read side of the runtime's scoped storage import
// (storage_read, spec.md §4.E), which has no causal effect of its own and
// so never needs an HLC or a CRDT dispatch.
func GetMapValue(tx store.Tx, ctx types.ContextId, h Handle, key []byte) ([]byte, bool, error) {
	e, err := loadEntry(tx, mapEntryKey(ctx, h, key))
	if calerr.Is(err, calerr.NotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if e.tombstone {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (unorderedMap) Compare(tx store.Tx, ctx types.ContextId, h Handle, action types.Action) (bool, error) {
	key := mapEntryKey(ctx, h, action.Key)
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
