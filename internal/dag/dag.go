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

// Package dag is the causal DAG store (component C): a per-context,
// tombstoned, append-only log of deltas keyed by hybrid logical clock, with
// a head-set index and a pending index for deltas whose parents have not
// yet arrived (§4.C, §4.H.5).
package dag

import (
	"sort"
	"time"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/hlc"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
	"github.com/calimero-network/core-sub010/internal/wire"
)

// TombstoneRetention is the minimum lifetime of a tombstone action before
// GC may prune it (spec.md invariant #5).
const TombstoneRetention = 24 * time.Hour

// FullResyncThreshold is the horizon beyond which a peer must bootstrap
// instead of incrementally syncing (spec.md invariant #5).
const FullResyncThreshold = 48 * time.Hour

// Store is the component C contract.
type Store struct {
	db store.DB
}

func New(db store.DB) *Store { return &Store{db: db} }

func deltaKey(ctx types.ContextId, id types.DeltaId) []byte {
	k := make([]byte, 64)
	copy(k, ctx[:])
	copy(k[32:], id[:])
	return k
}

func contextPrefix(ctx types.ContextId) []byte { return ctx[:] }

// encodeIdSet/decodeIdSet serialize a head set as a simple concatenation of
// 32-byte ids, sorted for determinism.
func encodeIdSet(ids []types.DeltaId) []byte {
	sorted := append([]types.DeltaId(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return less32(sorted[i][:], sorted[j][:]) })
	w := wire.NewWriter(1 + len(sorted)*32)
	w.WriteByte(wire.Version)
	for _, id := range sorted {
		w.WriteFixed(id[:])
	}
	return w.Bytes()
}

func decodeIdSet(b []byte) ([]types.DeltaId, error) {
	r := wire.NewReader(b)
	if err := r.ExpectVersion(); err != nil {
		return nil, err
	}
	var out []types.DeltaId
	for r.Remaining() > 0 {
		raw, err := r.ReadFixed(32)
		if err != nil {
			return nil, err
		}
		var id types.DeltaId
		copy(id[:], raw)
		out = append(out, id)
	}
	return out, nil
}

func less32(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func (s *Store) headsKey(ctx types.ContextId) []byte { return ctx[:] }

// Heads returns the current head set: deltas with no present child.
func (s *Store) Heads(ctx types.ContextId) ([]types.DeltaId, error) {
	var out []types.DeltaId
	err := s.db.View(func(tx store.Tx) error {
		raw, err := tx.Get(store.ContextHeads, s.headsKey(ctx))
		if calerr.Is(err, calerr.NotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out, err = decodeIdSet(raw)
		return err
	})
	return out, err
}

func (s *Store) setHeads(tx store.RwTx, ctx types.ContextId, heads []types.DeltaId) error {
	return tx.Put(store.ContextHeads, s.headsKey(ctx), encodeIdSet(heads))
}

// Has reports whether id is present (applied, not just pending) locally.
func (s *Store) Has(ctx types.ContextId, id types.DeltaId) (bool, error) {
	var has bool
	err := s.db.View(func(tx store.Tx) error {
		var err error
		has, err = tx.Has(store.ContextDelta, deltaKey(ctx, id))
		return err
	})
	return has, err
}

// Get returns the persisted (still-encrypted) form of id.
func (s *Store) Get(ctx types.ContextId, id types.DeltaId) (*types.Delta, error) {
	var d *types.Delta
	err := s.db.View(func(tx store.Tx) error {
		raw, err := tx.Get(store.ContextDelta, deltaKey(ctx, id))
		if err != nil {
			return err
		}
		d, err = types.DecodeDelta(wire.NewReader(raw))
		if err != nil {
			return calerr.Wrap(calerr.SerializationError, "decode delta", err)
		}
		return nil
	})
	return d, err
}

// Append stores d if and only if every parent it names is already present
// locally; otherwise it returns a MissingDependency error and performs no
// write (callers should fall back to EnqueuePending). On success the head
// set is updated per §4.C's head-set algorithm: remove d's parents from the
// heads, insert d.
func (s *Store) Append(ctx types.ContextId, d *types.Delta) error {
	return s.db.Update(func(tx store.RwTx) error {
		return s.appendLocked(tx, ctx, d)
	})
}

func (s *Store) appendLocked(tx store.RwTx, ctx types.ContextId, d *types.Delta) error {
	if has, err := tx.Has(store.ContextDelta, deltaKey(ctx, d.Id)); err != nil {
		return err
	} else if has {
		return nil // idempotent apply: re-appending a present delta is a no-op
	}

	for _, p := range d.Parents {
		present, err := tx.Has(store.ContextDelta, deltaKey(ctx, p))
		if err != nil {
			return err
		}
		if !present {
			return calerr.New(calerr.MissingDependency, "parent "+p.String()+" not present")
		}
	}

	w := wire.NewWriter(256)
	d.Encode(w)
	if err := tx.Put(store.ContextDelta, deltaKey(ctx, d.Id), w.Bytes()); err != nil {
		return err
	}

	raw, err := tx.Get(store.ContextHeads, s.headsKey(ctx))
	var heads []types.DeltaId
	if err == nil {
		heads, err = decodeIdSet(raw)
		if err != nil {
			return err
		}
	} else if !calerr.Is(err, calerr.NotFound) {
		return err
	}

	heads = removeAll(heads, d.Parents)
	heads = append(heads, d.Id)
	return s.setHeads(tx, ctx, heads)
}

func removeAll(set []types.DeltaId, remove []types.DeltaId) []types.DeltaId {
	if len(remove) == 0 {
		return set
	}
	skip := make(map[types.DeltaId]struct{}, len(remove))
	for _, r := range remove {
		skip[r] = struct{}{}
	}
	out := set[:0:0]
	for _, id := range set {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// pendingWaitKey / pendingByKey index the pending set (§4.H.5): for every
// delta D enqueued because a parent is missing, one row per still-missing
// parent "wait:parent -> D.Id", plus one row "body:D.Id -> encoded D"
// holding the delta itself so Cascade can re-attempt it later.
func pendingWaitKey(ctx types.ContextId, missingParent, waitingDelta types.DeltaId) []byte {
	k := make([]byte, 1+96)
	k[0] = 'w'
	copy(k[1:], ctx[:])
	copy(k[33:], missingParent[:])
	copy(k[65:], waitingDelta[:])
	return k
}

func pendingBodyKey(ctx types.ContextId, id types.DeltaId) []byte {
	k := make([]byte, 1+64)
	k[0] = 'b'
	copy(k[1:], ctx[:])
	copy(k[33:], id[:])
	return k
}

// EnqueuePending records d as waiting on its currently-missing parents.
// Idempotent: re-enqueuing the same delta overwrites its body and wait
// rows.
func (s *Store) EnqueuePending(ctx types.ContextId, d *types.Delta) error {
	return s.db.Update(func(tx store.RwTx) error {
		missing, err := s.missingParentsOf(tx, ctx, d)
		if err != nil {
			return err
		}
		if len(missing) == 0 {
			return calerr.New(calerr.InvalidArgument, "EnqueuePending called with no missing parents")
		}
		w := wire.NewWriter(256)
		d.Encode(w)
		if err := tx.Put(store.ContextPending, pendingBodyKey(ctx, d.Id), w.Bytes()); err != nil {
			return err
		}
		for _, p := range missing {
			if err := tx.Put(store.ContextPending, pendingWaitKey(ctx, p, d.Id), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) missingParentsOf(tx store.Tx, ctx types.ContextId, d *types.Delta) ([]types.DeltaId, error) {
	var missing []types.DeltaId
	for _, p := range d.Parents {
		present, err := tx.Has(store.ContextDelta, deltaKey(ctx, p))
		if err != nil {
			return nil, err
		}
		if !present {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// MissingParents returns every DeltaId named as a parent by some pending
// delta but not yet stored — the set a node should issue DeltaRequests for.
func (s *Store) MissingParents(ctx types.ContextId) ([]types.DeltaId, error) {
	seen := map[types.DeltaId]struct{}{}
	var out []types.DeltaId
	err := s.db.View(func(tx store.Tx) error {
		it := tx.Iter(store.ContextPending)
		defer it.Close()
		prefix := append([]byte{'w'}, ctx[:]...)
		for ok := it.Seek(prefix); ok; ok = it.Next() {
			key := it.Key()
			var parent types.DeltaId
			copy(parent[:], key[1+32:1+64])
			if _, dup := seen[parent]; dup {
				continue
			}
			present, err := tx.Has(store.ContextDelta, deltaKey(ctx, parent))
			if err != nil {
				return err
			}
			if !present {
				seen[parent] = struct{}{}
				out = append(out, parent)
			}
		}
		return nil
	})
	return out, err
}

// CascadeVerify folds a cascaded delta's actions into CRDT state via tx and
// reports whether the resulting state is valid, inside the same transaction
// Cascade is about to append the delta in. Returning an IntegrityViolation
// error aborts that transaction — so the CRDT mutation and the DAG append
// both roll back together — and the delta is reported via Cascade's
// rejected slice instead of applied; any other error aborts Cascade
// entirely and propagates to the caller.
type CascadeVerify func(tx store.RwTx, d *types.Delta) error

// Cascade re-attempts every pending delta whose missing parents are now all
// present, applying newly-satisfiable deltas via verify-then-Append and
// recursively unblocking anything that was waiting on them in turn. verify
// runs inside the same transaction as the append, so a rejected delta is
// never durably appended and never leaves its CRDT mutation applied
// (spec.md invariant #7, testable property #2) — unlike appending first and
// verifying after, which would let a forged root hash corrupt local state
// before anyone notices. A rejected delta is still removed from the pending
// index (in its own follow-up transaction) so Cascade does not retry it
// forever; callers are expected to quarantine its author. Cascade
// terminates because each resolved candidate — applied or rejected —
// strictly shrinks the pending index (§4.H.5).
func (s *Store) Cascade(ctx types.ContextId, verify CascadeVerify) (applied, rejected []*types.Delta, err error) {
	for {
		progressed := false
		candidates, cerr := s.pendingBodies(ctx)
		if cerr != nil {
			return applied, rejected, cerr
		}
		for _, d := range candidates {
			uerr := s.db.Update(func(tx store.RwTx) error {
				missing, err := s.missingParentsOf(tx, ctx, d)
				if err != nil {
					return err
				}
				if len(missing) > 0 {
					return nil
				}
				if err := verify(tx, d); err != nil {
					return err
				}
				if err := s.appendLocked(tx, ctx, d); err != nil {
					return err
				}
				return s.removePendingLocked(tx, ctx, d.Id)
			})
			if uerr != nil {
				if !calerr.Is(uerr, calerr.IntegrityViolation) {
					return applied, rejected, uerr
				}
				if rerr := s.db.Update(func(tx store.RwTx) error {
					return s.removePendingLocked(tx, ctx, d.Id)
				}); rerr != nil {
					return applied, rejected, rerr
				}
				rejected = append(rejected, d)
				progressed = true
				continue
			}
			if still, _ := s.Has(ctx, d.Id); still {
				applied = append(applied, d)
				progressed = true
			}
		}
		if !progressed {
			return applied, rejected, nil
		}
	}
}

func (s *Store) pendingBodies(ctx types.ContextId) ([]*types.Delta, error) {
	var out []*types.Delta
	err := s.db.View(func(tx store.Tx) error {
		it := tx.Iter(store.ContextPending)
		defer it.Close()
		prefix := append([]byte{'b'}, ctx[:]...)
		for ok := it.Seek(prefix); ok; ok = it.Next() {
			d, err := types.DecodeDelta(wire.NewReader(it.Value()))
			if err != nil {
				return calerr.Wrap(calerr.SerializationError, "decode pending delta", err)
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

func (s *Store) removePendingLocked(tx store.RwTx, ctx types.ContextId, id types.DeltaId) error {
	if err := tx.Delete(store.ContextPending, pendingBodyKey(ctx, id)); err != nil {
		return err
	}
	// Remove every wait row naming id as the waiting delta, across all
	// parents it might have been keyed under.
	it := tx.Iter(store.ContextPending)
	defer it.Close()
	prefix := append([]byte{'w'}, ctx[:]...)
	var toDelete [][]byte
	for ok := it.Seek(prefix); ok; ok = it.Next() {
		key := it.Key()
		var waiting types.DeltaId
		copy(waiting[:], key[1+64:1+96])
		if waiting == id {
			toDelete = append(toDelete, append([]byte(nil), key...))
		}
	}
	for _, k := range toDelete {
		if err := tx.Delete(store.ContextPending, k); err != nil {
			return err
		}
	}
	return nil
}

// RangeSince returns every stored delta for ctx whose HLC is >= horizon, in
// topological (Kahn's algorithm) order with HLC as the tiebreak within any
// parent-free frontier, per §4.C.
func (s *Store) RangeSince(ctx types.ContextId, horizon hlc.Timestamp) ([]*types.Delta, error) {
	var all []*types.Delta
	err := s.db.View(func(tx store.Tx) error {
		it := tx.Iter(store.ContextDelta)
		defer it.Close()
		for ok := it.Seek(contextPrefix(ctx)); ok; ok = it.Next() {
			d, err := types.DecodeDelta(wire.NewReader(it.Value()))
			if err != nil {
				return calerr.Wrap(calerr.SerializationError, "decode delta", err)
			}
			if !hlc.Less(d.HLC, horizon) {
				all = append(all, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return TopoSort(all), nil
}

// TopoSort orders deltas via Kahn's algorithm over the parent-set relation,
// breaking ties within any parent-free frontier by HLC order (spec.md
// §4.C). Parents outside the input set (already applied/pruned) are
// treated as already satisfied.
func TopoSort(deltas []*types.Delta) []*types.Delta {
	byId := make(map[types.DeltaId]*types.Delta, len(deltas))
	indegree := make(map[types.DeltaId]int, len(deltas))
	children := make(map[types.DeltaId][]types.DeltaId, len(deltas))
	for _, d := range deltas {
		byId[d.Id] = d
	}
	for _, d := range deltas {
		count := 0
		for _, p := range d.Parents {
			if _, inSet := byId[p]; inSet {
				count++
				children[p] = append(children[p], d.Id)
			}
		}
		indegree[d.Id] = count
	}

	var frontier []types.DeltaId
	for _, d := range deltas {
		if indegree[d.Id] == 0 {
			frontier = append(frontier, d.Id)
		}
	}

	var out []*types.Delta
	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool {
			return hlc.Less(byId[frontier[i]].HLC, byId[frontier[j]].HLC)
		})
		next := frontier[0]
		frontier = frontier[1:]
		out = append(out, byId[next])
		for _, child := range children[next] {
			indegree[child]--
			if indegree[child] == 0 {
				frontier = append(frontier, child)
			}
		}
	}
	return out
}

// RecomputeHeads rebuilds the head set via a reverse-parent-index scan:
// {D : D present and no present delta names D as a parent}. Used after GC
// or any other operation that may have invalidated the incrementally
// maintained head index.
func (s *Store) RecomputeHeads(ctx types.ContextId) error {
	return s.db.Update(func(tx store.RwTx) error {
		named := make(map[types.DeltaId]struct{})
		var all []types.DeltaId
		it := tx.Iter(store.ContextDelta)
		defer it.Close()
		for ok := it.Seek(contextPrefix(ctx)); ok; ok = it.Next() {
			d, err := types.DecodeDelta(wire.NewReader(it.Value()))
			if err != nil {
				return calerr.Wrap(calerr.SerializationError, "decode delta", err)
			}
			all = append(all, d.Id)
			for _, p := range d.Parents {
				named[p] = struct{}{}
			}
		}
		var heads []types.DeltaId
		for _, id := range all {
			if _, isParent := named[id]; !isParent {
				heads = append(heads, id)
			}
		}
		return s.setHeads(tx, ctx, heads)
	})
}
