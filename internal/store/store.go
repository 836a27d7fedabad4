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

// Package store is the key-value substrate (component A): an ordered,
// column-partitioned byte store with atomic write batches and cheap
// read-only snapshots. Columns mirror erigon-lib/kv/tables.go's pattern of
// naming logical tables as plain strings rather than modeling them as
// distinct Go types.
package store

import (
	"github.com/calimero-network/core-sub010/internal/calerr"
)

// Column names one logical table. The production engine (mdbx.go, behind
// the mdbx_engine build tag) maps each Column to one MDBX named database;
// the default in-memory engine (memory.go) maps it to one B-tree.
type Column string

const (
	// ContextMeta holds one record per context: current ApplicationId,
	// root-state hash, member set summary, configuration revision.
	ContextMeta Column = "ContextMeta"
	// ContextDelta holds (ContextId ‖ DeltaId) -> encoded Delta.
	ContextDelta Column = "ContextDelta"
	// ContextHeads holds one record per context: the current head DeltaId set.
	ContextHeads Column = "ContextHeads"
	// ContextPending holds the pending index: missing DeltaId -> set of
	// waiting DeltaIds (§4.H.5).
	ContextPending Column = "ContextPending"
	// ContextState holds ContextId ‖ collection_root_id ‖ sub_key -> CRDT
	// serialized bytes (§4.D).
	ContextState Column = "ContextState"
	// ContextIdentity holds ContextId ‖ PublicKey -> peer Identity record
	// (sender key if established); owned keypairs live in
	// ContextOwnedIdentity.
	ContextIdentity Column = "ContextIdentity"
	// ContextOwnedIdentity holds ContextId ‖ PublicKey -> owned keypair
	// record (private key present), the subset of ContextIdentity entries
	// this node itself holds the signing key for (§3 "Identity... optional
	// PrivateKey, present only for identities this node owns"). Kept as a
	// separate column from ContextIdentity (which internal/sync indexes by
	// peer sender-key state) so the context manager never has to
	// distinguish owned from peer records by value inspection.
	ContextOwnedIdentity Column = "ContextOwnedIdentity"
	// Blob holds BlobId -> blob metadata (size, chunk count, content hash).
	Blob Column = "Blob"
	// BlobChunk holds BlobId ‖ chunk_index -> chunk bytes.
	BlobChunk Column = "BlobChunk"
	// Alias holds a local human-readable name -> target id mapping.
	Alias Column = "Alias"
	// Application holds ApplicationId -> Application descriptor.
	Application Column = "Application"
	// DagTombstone holds ContextId ‖ tombstone_key -> delete time (Unix ms),
	// read by dag.Store.IsTombstoned to report the TOMBSTONE_RETENTION window
	// independent of the originating delta's lifetime.
	DagTombstone Column = "DagTombstone"
)

// AllColumns enumerates every column the substrate must create on open.
var AllColumns = []Column{
	ContextMeta, ContextDelta, ContextHeads, ContextPending, ContextState,
	ContextIdentity, ContextOwnedIdentity, Blob, BlobChunk, Alias, Application, DagTombstone,
}

// ErrNotFound-shaped helper: components compare with calerr.Is(err, calerr.NotFound).
func notFound(col Column, key []byte) error {
	return calerr.New(calerr.NotFound, "key not found in column "+string(col))
}

// DB is the top-level handle to the substrate: one process-local handle per
// node, injected into every component that needs durable storage.
type DB interface {
	// View opens a read-only snapshot. The snapshot is consistent for its
	// entire lifetime regardless of concurrent writers.
	View(fn func(Tx) error) error
	// Update opens a temporal read-write view; fn's mutations are buffered
	// and applied as one atomic batch on return, or discarded entirely if
	// fn returns an error or panics.
	Update(fn func(RwTx) error) error
	Close() error
}

// Tx is a read-only view over the substrate.
type Tx interface {
	Get(col Column, key []byte) ([]byte, error)
	Has(col Column, key []byte) (bool, error)
	// Iter returns a cursor over col in ascending key order.
	Iter(col Column) Iterator
}

// RwTx is a buffered read-write view; nothing is visible to other
// transactions until the enclosing Update call returns without error.
type RwTx interface {
	Tx
	Put(col Column, key, value []byte) error
	Delete(col Column, key []byte) error
}

// Iterator walks one column in ascending key order, optionally narrowed to
// keys sharing a prefix via Seek.
type Iterator interface {
	// Seek positions the iterator at the first key sharing prefix; it
	// returns false if none exists.
	Seek(prefix []byte) bool
	// Next advances the iterator; it returns false once no further key
	// shares the prefix given to Seek.
	Next() bool
	Key() []byte
	Value() []byte
	// Close releases any resources held by the iterator. Safe to call
	// multiple times.
	Close()
}
