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

// Package crdt implements the typed collections of component D atop the
// key-value substrate: LwwRegister, UnorderedMap, Vector. Each implements
// the narrow {apply(action, store), fold(store) -> hash} contract of
// spec.md §9 — the runtime dispatches on an action's TypeId; adding a new
// CRDT type means registering an id and an implementation of Collection,
// never a switch on a host-language type.
package crdt

import (
	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/hlc"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
)

// Well-known TypeIds. Application bytecode addresses a collection by a
// (RootId, TypeId) handle pair — an opaque token, never a language
// reference (spec.md §9 "opaque handles").
const (
	TypeLwwRegister byte = iota + 1
	TypeUnorderedMap
	TypeVector
)

// Handle is the opaque token application code holds for one collection
// instance: it serializes as just the root id plus the type it names.
type Handle struct {
	RootId [32]byte
	TypeId byte
}

// Collection is the contract every CRDT type implements.
type Collection interface {
	// Apply folds one Action, recorded at ts, into the collection's
	// persisted state. ts is the enclosing Delta's HLC — every Action
	// within one Delta is applied at the same logical instant.
	Apply(tx store.RwTx, ctx types.ContextId, h Handle, ts hlc.Timestamp, action types.Action) error
	// Fold computes a deterministic digest over the collection's current
	// state; two replicas that applied the same action set converge to
	// the same Fold result (spec.md §8 law #2, scoped per-collection; the
	// context root hash folds every collection's digest together).
	Fold(tx store.Tx, ctx types.ContextId, h Handle) ([32]byte, error)
	// Compare evaluates a Compare action's proof against current state,
	// for sync-time divergence checks (spec.md §9 Open Question #2:
	// comparison payloads carry TypeId alongside the proof).
	Compare(tx store.Tx, ctx types.ContextId, h Handle, action types.Action) (bool, error)
}

// registry maps TypeId -> implementation. Populated by each type's init().
var registry = map[byte]Collection{}

func register(typeId byte, c Collection) { registry[typeId] = c }

// Lookup returns the Collection implementation for typeId, or an
// InvalidArgument error if no type is registered under it.
func Lookup(typeId byte) (Collection, error) {
	c, ok := registry[typeId]
	if !ok {
		return nil, calerr.New(calerr.InvalidArgument, "unknown CRDT type_id")
	}
	return c, nil
}

// Apply dispatches action to the collection named by its TypeId.
func Apply(tx store.RwTx, ctx types.ContextId, h Handle, ts hlc.Timestamp, action types.Action) error {
	c, err := Lookup(h.TypeId)
	if err != nil {
		return err
	}
	return c.Apply(tx, ctx, h, ts, action)
}

// Fold dispatches to the collection named by h.TypeId.
func Fold(tx store.Tx, ctx types.ContextId, h Handle) ([32]byte, error) {
	c, err := Lookup(h.TypeId)
	if err != nil {
		return [32]byte{}, err
	}
	return c.Fold(tx, ctx, h)
}

// stateKey builds the ContextState column key: ctx ‖ root_id ‖ sub_key.
func stateKey(ctx types.ContextId, root [32]byte, subKey []byte) []byte {
	out := make([]byte, 0, 64+len(subKey))
	out = append(out, ctx[:]...)
	out = append(out, root[:]...)
	out = append(out, subKey...)
	return out
}

func statePrefix(ctx types.ContextId, root [32]byte) []byte {
	out := make([]byte, 0, 64)
	out = append(out, ctx[:]...)
	out = append(out, root[:]...)
	return out
}
