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

// Package sync is the sync engine (component H): broadcast (H.1),
// request/response catchup over direct streams (H.2), bootstrap/DAG
// catchup (H.3), the key-share handshake (H.4), and pending-index cascade
// integration with internal/dag (H.5).
package sync

import (
	"github.com/calimero-network/core-sub010/internal/types"
	"github.com/calimero-network/core-sub010/internal/wire"
)

// BroadcastMessage is the gossip payload published after a successful
// local execution (spec.md §4.H.1 step 2).
type BroadcastMessage struct {
	ContextId    types.ContextId
	AuthorPublic types.PublicKey
	RootHash     [32]byte
	Parents      []types.DeltaId
	HLC          hlcWire
	Ciphertext   []byte
	Nonce        [12]byte
}

// hlcWire avoids importing internal/hlc just for three fields here; kept
// byte-identical to hlc.Timestamp's wire shape.
type hlcWire struct {
	WallMS  int64
	Counter uint32
	Author  [32]byte
}

func (m BroadcastMessage) encode() []byte {
	w := wire.NewWriter(256)
	w.WriteByte(wire.Version)
	w.WriteFixed(m.ContextId[:])
	w.WriteFixed(m.AuthorPublic[:])
	w.WriteFixed(m.RootHash[:])
	w.WriteUint32(uint32(len(m.Parents)))
	for _, p := range m.Parents {
		w.WriteFixed(p[:])
	}
	w.WriteInt64(m.HLC.WallMS)
	w.WriteUint32(m.HLC.Counter)
	w.WriteFixed(m.HLC.Author[:])
	w.WriteBytes(m.Ciphertext)
	w.WriteFixed(m.Nonce[:])
	return w.Bytes()
}

func decodeBroadcastMessage(b []byte) (BroadcastMessage, error) {
	var m BroadcastMessage
	r := wire.NewReader(b)
	if err := r.ExpectVersion(); err != nil {
		return m, err
	}
	ctxId, err := r.ReadFixed(32)
	if err != nil {
		return m, err
	}
	copy(m.ContextId[:], ctxId)
	author, err := r.ReadFixed(32)
	if err != nil {
		return m, err
	}
	copy(m.AuthorPublic[:], author)
	root, err := r.ReadFixed(32)
	if err != nil {
		return m, err
	}
	copy(m.RootHash[:], root)
	n, err := r.ReadUint32()
	if err != nil {
		return m, err
	}
	m.Parents = make([]types.DeltaId, n)
	for i := range m.Parents {
		p, err := r.ReadFixed(32)
		if err != nil {
			return m, err
		}
		copy(m.Parents[i][:], p)
	}
	wallMS, err := r.ReadInt64()
	if err != nil {
		return m, err
	}
	counter, err := r.ReadUint32()
	if err != nil {
		return m, err
	}
	hlcAuthor, err := r.ReadFixed(32)
	if err != nil {
		return m, err
	}
	m.HLC = hlcWire{WallMS: wallMS, Counter: counter}
	copy(m.HLC.Author[:], hlcAuthor)
	ct, err := r.ReadBytes()
	if err != nil {
		return m, err
	}
	m.Ciphertext = append([]byte(nil), ct...)
	nonce, err := r.ReadFixed(12)
	if err != nil {
		return m, err
	}
	copy(m.Nonce[:], nonce)
	return m, nil
}

// payloadKind tags the variant carried by an initFrame or respFrame
// (spec.md §4.H.2's abstract tagged unions).
type payloadKind byte

const (
	payloadDeltaRequest payloadKind = iota + 1
	payloadDagHeadsRequest
	payloadBlobRequest
	payloadKeyShareInit
	payloadDeltaResponse
	payloadDeltaNotFound
	payloadDagHeadsResponse
	payloadBlobShare
	payloadKeyShareData
)

// initFrame is the first message a catchup/handshake stream's initiator
// sends (spec.md §4.H.2 Init).
type initFrame struct {
	ContextId types.ContextId
	PartyId   types.PublicKey
	Kind      payloadKind
	DeltaId   types.DeltaId // payloadDeltaRequest
	BlobId    types.BlobId  // payloadBlobRequest
	Ephemeral [32]byte      // payloadKeyShareInit: X25519 ephemeral public key
	NextNonce [12]byte
}

func (f initFrame) encode() []byte {
	w := wire.NewWriter(160)
	w.WriteByte(wire.Version)
	w.WriteFixed(f.ContextId[:])
	w.WriteFixed(f.PartyId[:])
	w.WriteByte(byte(f.Kind))
	w.WriteFixed(f.DeltaId[:])
	w.WriteFixed(f.BlobId[:])
	w.WriteFixed(f.Ephemeral[:])
	w.WriteFixed(f.NextNonce[:])
	return w.Bytes()
}

func decodeInitFrame(b []byte) (initFrame, error) {
	var f initFrame
	r := wire.NewReader(b)
	if err := r.ExpectVersion(); err != nil {
		return f, err
	}
	ctxId, err := r.ReadFixed(32)
	if err != nil {
		return f, err
	}
	copy(f.ContextId[:], ctxId)
	party, err := r.ReadFixed(32)
	if err != nil {
		return f, err
	}
	copy(f.PartyId[:], party)
	kind, err := r.ReadByte()
	if err != nil {
		return f, err
	}
	f.Kind = payloadKind(kind)
	deltaId, err := r.ReadFixed(32)
	if err != nil {
		return f, err
	}
	copy(f.DeltaId[:], deltaId)
	blobId, err := r.ReadFixed(32)
	if err != nil {
		return f, err
	}
	copy(f.BlobId[:], blobId)
	ephemeral, err := r.ReadFixed(32)
	if err != nil {
		return f, err
	}
	copy(f.Ephemeral[:], ephemeral)
	nonce, err := r.ReadFixed(12)
	if err != nil {
		return f, err
	}
	copy(f.NextNonce[:], nonce)
	return f, nil
}

// respFrame is every subsequent message on a catchup/handshake stream
// (spec.md §4.H.2 Message). SequenceId must increase by exactly one per
// message in a given direction; NextNonce chains into the following
// message the same way initFrame.NextNonce seeds the first.
type respFrame struct {
	SequenceId uint64
	Kind       payloadKind
	DeltaBytes []byte          // payloadDeltaResponse: encoded Delta
	Heads      []types.DeltaId // payloadDagHeadsResponse
	RootHash   [32]byte        // payloadDagHeadsResponse
	ChunkIndex uint32          // payloadBlobShare
	ChunkTotal uint32          // payloadBlobShare
	ChunkData  []byte          // payloadBlobShare
	SenderKeyCipher []byte     // payloadKeyShareData: AEAD-sealed sender key, see handshake.go
	NextNonce  [12]byte
}

func (f respFrame) encode() []byte {
	w := wire.NewWriter(256)
	w.WriteByte(wire.Version)
	w.WriteUint64(f.SequenceId)
	w.WriteByte(byte(f.Kind))
	w.WriteBytes(f.DeltaBytes)
	w.WriteUint32(uint32(len(f.Heads)))
	for _, h := range f.Heads {
		w.WriteFixed(h[:])
	}
	w.WriteFixed(f.RootHash[:])
	w.WriteUint32(f.ChunkIndex)
	w.WriteUint32(f.ChunkTotal)
	w.WriteBytes(f.ChunkData)
	w.WriteBytes(f.SenderKeyCipher)
	w.WriteFixed(f.NextNonce[:])
	return w.Bytes()
}

func decodeRespFrame(b []byte) (respFrame, error) {
	var f respFrame
	r := wire.NewReader(b)
	if err := r.ExpectVersion(); err != nil {
		return f, err
	}
	seq, err := r.ReadUint64()
	if err != nil {
		return f, err
	}
	f.SequenceId = seq
	kind, err := r.ReadByte()
	if err != nil {
		return f, err
	}
	f.Kind = payloadKind(kind)
	if f.DeltaBytes, err = r.ReadBytes(); err != nil {
		return f, err
	}
	f.DeltaBytes = append([]byte(nil), f.DeltaBytes...)
	n, err := r.ReadUint32()
	if err != nil {
		return f, err
	}
	f.Heads = make([]types.DeltaId, n)
	for i := range f.Heads {
		h, err := r.ReadFixed(32)
		if err != nil {
			return f, err
		}
		copy(f.Heads[i][:], h)
	}
	root, err := r.ReadFixed(32)
	if err != nil {
		return f, err
	}
	copy(f.RootHash[:], root)
	if f.ChunkIndex, err = r.ReadUint32(); err != nil {
		return f, err
	}
	if f.ChunkTotal, err = r.ReadUint32(); err != nil {
		return f, err
	}
	if f.ChunkData, err = r.ReadBytes(); err != nil {
		return f, err
	}
	f.ChunkData = append([]byte(nil), f.ChunkData...)
	if f.SenderKeyCipher, err = r.ReadBytes(); err != nil {
		return f, err
	}
	f.SenderKeyCipher = append([]byte(nil), f.SenderKeyCipher...)
	nonce, err := r.ReadFixed(12)
	if err != nil {
		return f, err
	}
	copy(f.NextNonce[:], nonce)
	return f, nil
}
