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

// Package blob is the content-addressed blob store (component B): objects
// are keyed by BlobId = hash(content), chunked for transport, and stored as
// a chunk list in the key-value substrate (column A). Network announcements
// carry only the BlobId; peers fetch chunks over the request/response
// protocol (component H).
package blob

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
	"github.com/calimero-network/core-sub010/internal/wire"
)

// ChunkSize bounds one chunk's payload. 256KiB mirrors the chunk-boundary
// convention of piece-addressed transports like anacrolix/torrent without
// adopting their swarm protocol (see DESIGN.md): our chunks travel over
// direct request/response streams, not a BitTorrent-style piece exchange.
const ChunkSize = 256 * 1024

// Meta is the persisted header for a blob.
type Meta struct {
	Size       uint64
	ChunkCount uint32
}

func (m Meta) encode() []byte {
	w := wire.NewWriter(16)
	w.WriteByte(wire.Version)
	w.WriteUint64(m.Size)
	w.WriteUint32(m.ChunkCount)
	return w.Bytes()
}

func decodeMeta(b []byte) (Meta, error) {
	r := wire.NewReader(b)
	if err := r.ExpectVersion(); err != nil {
		return Meta{}, calerr.Wrap(calerr.SerializationError, "blob meta version", err)
	}
	size, err := r.ReadUint64()
	if err != nil {
		return Meta{}, calerr.Wrap(calerr.SerializationError, "blob meta size", err)
	}
	count, err := r.ReadUint32()
	if err != nil {
		return Meta{}, calerr.Wrap(calerr.SerializationError, "blob meta count", err)
	}
	return Meta{Size: size, ChunkCount: count}, nil
}

// Store is the component B contract.
type Store struct {
	db store.DB
}

func New(db store.DB) *Store { return &Store{db: db} }

func chunkKey(id types.BlobId, index uint32) []byte {
	key := make([]byte, 32+4)
	copy(key, id[:])
	binary.BigEndian.PutUint32(key[32:], index)
	return key
}

// Put reads all of r, hashing and chunking it, and writes the result
// atomically into the substrate. Returns the content-derived BlobId and
// total size.
func (s *Store) Put(r io.Reader) (types.BlobId, uint64, error) {
	var chunks [][]byte
	buf := make([]byte, ChunkSize)
	var total uint64
	hasher := sha256.New()
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			chunks = append(chunks, chunk)
			hasher.Write(chunk)
			total += uint64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return types.BlobId{}, 0, calerr.Wrap(calerr.StorageError, "read blob content", err)
		}
	}

	var id types.BlobId
	copy(id[:], hasher.Sum(nil))

	meta := Meta{Size: total, ChunkCount: uint32(len(chunks))}
	err := s.db.Update(func(tx store.RwTx) error {
		if err := tx.Put(store.Blob, id[:], meta.encode()); err != nil {
			return err
		}
		for i, chunk := range chunks {
			if err := tx.Put(store.BlobChunk, chunkKey(id, uint32(i)), chunk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return types.BlobId{}, 0, err
	}
	return id, total, nil
}

// EnsureMeta records id's chunk layout ahead of its chunks arriving, so a
// BlobShare fetcher (§4.H.2 S6) can reassemble via Get once every chunk
// PutChunk has delivered is in place. A no-op if meta is already recorded.
func (s *Store) EnsureMeta(id types.BlobId, size uint64, chunkCount uint32) error {
	return s.db.Update(func(tx store.RwTx) error {
		if has, err := tx.Has(store.Blob, id[:]); err != nil {
			return err
		} else if has {
			return nil
		}
		return tx.Put(store.Blob, id[:], Meta{Size: size, ChunkCount: chunkCount}.encode())
	})
}

// GetMeta returns id's chunk layout, letting a BlobRequest responder (or a
// fetcher tracking how many BlobShare chunks remain) learn ChunkCount
// without reassembling the full content.
func (s *Store) GetMeta(id types.BlobId) (Meta, error) {
	var meta Meta
	err := s.db.View(func(tx store.Tx) error {
		raw, err := tx.Get(store.Blob, id[:])
		if err != nil {
			return err
		}
		meta, err = decodeMeta(raw)
		return err
	})
	return meta, err
}

// Has reports whether id's metadata is present (the blob may still be
// incomplete if chunks are missing — callers needing a full presence check
// should attempt Get, which fails with MissingDependency while any chunk is
// absent).
func (s *Store) Has(id types.BlobId) (bool, error) {
	var has bool
	err := s.db.View(func(tx store.Tx) error {
		var err error
		has, err = tx.Has(store.Blob, id[:])
		return err
	})
	return has, err
}

// Get reassembles and returns the full content of id.
func (s *Store) Get(id types.BlobId) ([]byte, error) {
	var meta Meta
	var out []byte
	err := s.db.View(func(tx store.Tx) error {
		raw, err := tx.Get(store.Blob, id[:])
		if err != nil {
			return err
		}
		meta, err = decodeMeta(raw)
		if err != nil {
			return err
		}
		out = make([]byte, 0, meta.Size)
		for i := uint32(0); i < meta.ChunkCount; i++ {
			chunk, err := tx.Get(store.BlobChunk, chunkKey(id, i))
			if err != nil {
				return calerr.Wrap(calerr.MissingDependency, "missing blob chunk", err)
			}
			out = append(out, chunk...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a blob and all of its chunks. Callers are responsible for
// the "shared, longest referrer" lifetime policy of spec.md §3 — Delete
// itself performs no reference counting.
func (s *Store) Delete(id types.BlobId) error {
	return s.db.Update(func(tx store.RwTx) error {
		raw, err := tx.Get(store.Blob, id[:])
		if calerr.Is(err, calerr.NotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		meta, err := decodeMeta(raw)
		if err != nil {
			return err
		}
		for i := uint32(0); i < meta.ChunkCount; i++ {
			if err := tx.Delete(store.BlobChunk, chunkKey(id, i)); err != nil {
				return err
			}
		}
		return tx.Delete(store.Blob, id[:])
	})
}

// PutChunk stores one chunk received from a BlobShare response (§4.H.2),
// ahead of the final chunk landing and the blob becoming Get-able.
func (s *Store) PutChunk(id types.BlobId, index uint32, data []byte) error {
	return s.db.Update(func(tx store.RwTx) error {
		return tx.Put(store.BlobChunk, chunkKey(id, index), data)
	})
}

// GetChunk returns one chunk for a BlobRequest responder.
func (s *Store) GetChunk(id types.BlobId, index uint32) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx store.Tx) error {
		v, err := tx.Get(store.BlobChunk, chunkKey(id, index))
		if err != nil {
			return err
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}
