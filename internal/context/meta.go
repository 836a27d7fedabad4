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

package context

import (
	"sort"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/crdt"
	"github.com/calimero-network/core-sub010/internal/hlc"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
	"github.com/calimero-network/core-sub010/internal/wire"
)

// meta is the persisted per-context record (spec.md §3 Context: current
// ApplicationId, current root-state hash, ...). The root-state hash itself
// is never stored directly — it is always recomputed by RootHash by
// folding every touched collection — but the set of collections that have
// been touched (handles) must be recorded so that fold knows what to walk.
type meta struct {
	ApplicationId types.ApplicationId
	MigrationTS   hlc.Timestamp // HLC of the last applied migration, LWW-compared like any CRDT write
	Handles       []crdt.Handle // kept sorted by (RootId, TypeId) for deterministic folding
}

func metaKey(ctx types.ContextId) []byte { return ctx[:] }

func (m meta) encode() []byte {
	w := wire.NewWriter(64 + len(m.Handles)*33)
	w.WriteByte(wire.Version)
	w.WriteFixed(m.ApplicationId[:])
	w.WriteInt64(m.MigrationTS.WallMS)
	w.WriteUint32(m.MigrationTS.Counter)
	w.WriteFixed(m.MigrationTS.Author[:])
	w.WriteUint32(uint32(len(m.Handles)))
	for _, h := range m.Handles {
		w.WriteFixed(h.RootId[:])
		w.WriteByte(h.TypeId)
	}
	return w.Bytes()
}

func decodeMeta(b []byte) (meta, error) {
	var m meta
	r := wire.NewReader(b)
	if err := r.ExpectVersion(); err != nil {
		return m, calerr.Wrap(calerr.SerializationError, "context meta version", err)
	}
	appId, err := r.ReadFixed(32)
	if err != nil {
		return m, err
	}
	copy(m.ApplicationId[:], appId)
	wallMS, err := r.ReadInt64()
	if err != nil {
		return m, err
	}
	counter, err := r.ReadUint32()
	if err != nil {
		return m, err
	}
	author, err := r.ReadFixed(32)
	if err != nil {
		return m, err
	}
	m.MigrationTS = hlc.Timestamp{WallMS: wallMS, Counter: counter}
	copy(m.MigrationTS.Author[:], author)
	n, err := r.ReadUint32()
	if err != nil {
		return m, err
	}
	m.Handles = make([]crdt.Handle, n)
	for i := range m.Handles {
		root, err := r.ReadFixed(32)
		if err != nil {
			return m, err
		}
		copy(m.Handles[i].RootId[:], root)
		typeId, err := r.ReadByte()
		if err != nil {
			return m, err
		}
		m.Handles[i].TypeId = typeId
	}
	return m, nil
}

func getMeta(tx store.Tx, ctx types.ContextId) (meta, error) {
	raw, err := tx.Get(store.ContextMeta, metaKey(ctx))
	if err != nil {
		return meta{}, err
	}
	return decodeMeta(raw)
}

func putMeta(tx store.RwTx, ctx types.ContextId, m meta) error {
	return tx.Put(store.ContextMeta, metaKey(ctx), m.encode())
}

func handleLess(a, b crdt.Handle) bool {
	for i := range a.RootId {
		if a.RootId[i] != b.RootId[i] {
			return a.RootId[i] < b.RootId[i]
		}
	}
	return a.TypeId < b.TypeId
}

// ensureHandle records h in ctx's meta if not already present, keeping the
// handle list sorted so RootHash folds deterministically regardless of the
// order in which replicas happened to first touch each collection.
func ensureHandle(tx store.RwTx, ctx types.ContextId, h crdt.Handle) error {
	m, err := getMeta(tx, ctx)
	if calerr.Is(err, calerr.NotFound) {
		return calerr.New(calerr.NotFound, "no context record for "+ctx.String())
	}
	if err != nil {
		return err
	}
	for _, existing := range m.Handles {
		if existing == h {
			return nil
		}
	}
	m.Handles = append(m.Handles, h)
	sort.Slice(m.Handles, func(i, j int) bool { return handleLess(m.Handles[i], m.Handles[j]) })
	return putMeta(tx, ctx, m)
}
