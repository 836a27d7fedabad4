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

package dag

import (
	"time"

	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
	"github.com/calimero-network/core-sub010/internal/wire"
)

// TombstoneKey is the stable identifier for one deleted entity, per the
// scheme spec.md §9 recommends for the gap it flags: type_id ‖ entity_id.
type TombstoneKey struct {
	TypeId byte
	Key    []byte
}

func tombstoneRecordKey(ctx types.ContextId, tk TombstoneKey) []byte {
	out := make([]byte, 0, 32+1+len(tk.Key))
	out = append(out, ctx[:]...)
	out = append(out, tk.TypeId)
	out = append(out, tk.Key...)
	return out
}

// RecordTombstone marks entity tk as deleted at deletedAtUnixMS, so
// IsTombstoned can report the TOMBSTONE_RETENTION window independent of
// the delta that carried the delete action (GC may prune that delta's
// payload). The record itself is never deleted; IsTombstoned reports false
// once retention has elapsed.
func (s *Store) RecordTombstone(ctx types.ContextId, tk TombstoneKey, deletedAtUnixMS int64) error {
	return s.db.Update(func(tx store.RwTx) error {
		w := wire.NewWriter(16)
		w.WriteByte(wire.Version)
		w.WriteInt64(deletedAtUnixMS)
		return tx.Put(store.DagTombstone, tombstoneRecordKey(ctx, tk), w.Bytes())
	})
}

// IsTombstoned reports whether tk is within its retention window as of now.
func (s *Store) IsTombstoned(ctx types.ContextId, tk TombstoneKey, now time.Time) (bool, error) {
	var tombstoned bool
	err := s.db.View(func(tx store.Tx) error {
		raw, err := tx.Get(store.DagTombstone, tombstoneRecordKey(ctx, tk))
		if err != nil {
			return nil // not found => not tombstoned; NotFound is not an error here
		}
		r := wire.NewReader(raw)
		if err := r.ExpectVersion(); err != nil {
			return err
		}
		deletedAt, err := r.ReadInt64()
		if err != nil {
			return err
		}
		tombstoned = now.Sub(time.UnixMilli(deletedAt)) < TombstoneRetention
		return nil
	})
	return tombstoned, err
}

// GC prunes the payload of every delta in ctx that was inserted at least
// TombstoneRetention before now. Actions live inside the encrypted
// Ciphertext, so GC operates one level up: it marks the Delta record itself
// as "pruned", so causal references to its DeltaId remain resolvable
// (parents can still be named) without retaining the ciphertext.
// Eligibility is by insertion age alone: GC does not read the tombstone
// records RecordTombstone writes, nor check whether a delta carried any
// delete action.
func (s *Store) GC(ctx types.ContextId, now time.Time) error {
	var prunable []types.DeltaId
	err := s.db.View(func(tx store.Tx) error {
		it := tx.Iter(store.ContextDelta)
		defer it.Close()
		for ok := it.Seek(contextPrefix(ctx)); ok; ok = it.Next() {
			d, err := types.DecodeDelta(wire.NewReader(it.Value()))
			if err != nil {
				continue
			}
			if now.Sub(time.UnixMilli(d.InsertedAtUnixMS)) >= TombstoneRetention {
				prunable = append(prunable, d.Id)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(tx store.RwTx) error {
		for _, id := range prunable {
			raw, err := tx.Get(store.ContextDelta, deltaKey(ctx, id))
			if err != nil {
				continue
			}
			d, err := types.DecodeDelta(wire.NewReader(raw))
			if err != nil {
				continue
			}
			d.Ciphertext = nil // pruned marker: id, parents, HLC survive; payload does not
			w := wire.NewWriter(128)
			d.Encode(w)
			if err := tx.Put(store.ContextDelta, deltaKey(ctx, id), w.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
}

// Pruned reports whether d's payload has been GC'd away.
func Pruned(d *types.Delta) bool { return len(d.Ciphertext) == 0 }
