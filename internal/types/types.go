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

// Package types holds the core entities of spec.md §3 that are shared
// across component boundaries (dag, crdt, identity, sync, context) to avoid
// import cycles: ContextId, DeltaId, PublicKey, Action and Delta.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/calimero-network/core-sub010/internal/hlc"
	"github.com/calimero-network/core-sub010/internal/wire"
)

// ContextId identifies a context: derived from a generating keypair.
type ContextId [32]byte

func (c ContextId) String() string { return hex.EncodeToString(c[:]) }

// DeltaId identifies a Delta: hash(parents ‖ hlc ‖ actions).
type DeltaId [32]byte

func (d DeltaId) String() string { return hex.EncodeToString(d[:]) }

// PublicKey is an Ed25519 public key, context-scoped when used as an
// Identity's key.
type PublicKey [32]byte

func (p PublicKey) String() string { return hex.EncodeToString(p[:]) }

// BlobId identifies content-addressed bytes: hash(content).
type BlobId [32]byte

func (b BlobId) String() string { return hex.EncodeToString(b[:]) }

// ApplicationId identifies an Application: hash(bytecode).
type ApplicationId [32]byte

func (a ApplicationId) String() string { return hex.EncodeToString(a[:]) }

// ActionKind selects which Action variant is encoded.
type ActionKind byte

const (
	ActionAdd ActionKind = iota + 1
	ActionUpdate
	ActionDelete
	ActionCompare
)

// Action is one CRDT-dispatched mutation or comparison. RootId and TypeId
// together name the collection (component D) that must apply or fold it —
// the same (RootId, TypeId) pair the application code holds as an opaque
// Handle (spec.md §9 "opaque handles to storage collections"); an Action
// carries both explicitly so a peer can dispatch it without re-running the
// WASM logic that produced it.
type Action struct {
	Kind   ActionKind
	RootId [32]byte
	TypeId byte
	Key    []byte
	Value  []byte // empty for Delete
	Proof  []byte // only for Compare
}

// Encode appends the wire representation of a to w.
func (a Action) Encode(w *wire.Writer) {
	w.WriteByte(byte(a.Kind))
	w.WriteFixed(a.RootId[:])
	w.WriteByte(a.TypeId)
	w.WriteBytes(a.Key)
	w.WriteBytes(a.Value)
	w.WriteBytes(a.Proof)
}

// DecodeAction reads one Action from r.
func DecodeAction(r *wire.Reader) (Action, error) {
	var a Action
	kind, err := r.ReadByte()
	if err != nil {
		return a, err
	}
	a.Kind = ActionKind(kind)
	rootId, err := r.ReadFixed(32)
	if err != nil {
		return a, err
	}
	copy(a.RootId[:], rootId)
	typeId, err := r.ReadByte()
	if err != nil {
		return a, err
	}
	a.TypeId = typeId
	if a.Key, err = r.ReadBytes(); err != nil {
		return a, err
	}
	if a.Value, err = r.ReadBytes(); err != nil {
		return a, err
	}
	if a.Proof, err = r.ReadBytes(); err != nil {
		return a, err
	}
	return a, nil
}

// Delta is one causal state change: spec.md §3.
type Delta struct {
	Id               DeltaId
	Parents          []DeltaId
	HLC              hlc.Timestamp
	ExpectedRoot     [32]byte
	Actions          []Action // plaintext view; Ciphertext is what travels on the wire
	Author           PublicKey
	Ciphertext       []byte
	Nonce            [12]byte
	InsertedAtUnixMS int64
}

// sortedParents returns a copy of parents in ascending byte order, so
// DeltaId hashing is independent of the order parents were supplied in.
func sortedParents(parents []DeltaId) []DeltaId {
	out := make([]DeltaId, len(parents))
	copy(out, parents)
	sort.Slice(out, func(i, j int) bool {
		for k := 0; k < 32; k++ {
			if out[i][k] != out[j][k] {
				return out[i][k] < out[j][k]
			}
		}
		return false
	})
	return out
}

// ComputeDeltaId computes DeltaId = hash(parents ‖ hlc ‖ actions), as
// spec.md §3 defines it. Actions are hashed in their encoded (post-encrypt
// boundary does not matter here: actions are always hashed in plaintext
// form, before encryption, since the hash is author-computed before the
// payload is sealed) order.
func ComputeDeltaId(parents []DeltaId, ts hlc.Timestamp, actions []Action) DeltaId {
	w := wire.NewWriter(256)
	w.WriteByte(wire.Version)
	for _, p := range sortedParents(parents) {
		w.WriteFixed(p[:])
	}
	w.WriteInt64(ts.WallMS)
	w.WriteUint32(ts.Counter)
	w.WriteFixed(ts.Author[:])
	for _, a := range actions {
		a.Encode(w)
	}
	sum := sha256.Sum256(w.Bytes())
	return DeltaId(sum)
}

// Encode writes the persisted/wire form of d (everything except the
// plaintext Actions, which only exist locally after decryption).
func (d *Delta) Encode(w *wire.Writer) {
	w.WriteByte(wire.Version)
	w.WriteFixed(d.Id[:])
	w.WriteUint32(uint32(len(d.Parents)))
	for _, p := range d.Parents {
		w.WriteFixed(p[:])
	}
	w.WriteInt64(d.HLC.WallMS)
	w.WriteUint32(d.HLC.Counter)
	w.WriteFixed(d.HLC.Author[:])
	w.WriteFixed(d.ExpectedRoot[:])
	w.WriteFixed(d.Author[:])
	w.WriteBytes(d.Ciphertext)
	w.WriteFixed(d.Nonce[:])
	w.WriteInt64(d.InsertedAtUnixMS)
}

// DecodeDelta reads a Delta written by Encode.
func DecodeDelta(r *wire.Reader) (*Delta, error) {
	if err := r.ExpectVersion(); err != nil {
		return nil, err
	}
	d := &Delta{}
	id, err := r.ReadFixed(32)
	if err != nil {
		return nil, err
	}
	copy(d.Id[:], id)

	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	d.Parents = make([]DeltaId, n)
	for i := range d.Parents {
		p, err := r.ReadFixed(32)
		if err != nil {
			return nil, err
		}
		copy(d.Parents[i][:], p)
	}

	wallMS, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	counter, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	author, err := r.ReadFixed(32)
	if err != nil {
		return nil, err
	}
	d.HLC = hlc.Timestamp{WallMS: wallMS, Counter: counter}
	copy(d.HLC.Author[:], author)

	root, err := r.ReadFixed(32)
	if err != nil {
		return nil, err
	}
	copy(d.ExpectedRoot[:], root)

	authorKey, err := r.ReadFixed(32)
	if err != nil {
		return nil, err
	}
	copy(d.Author[:], authorKey)

	ct, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	d.Ciphertext = append([]byte(nil), ct...)

	nonce, err := r.ReadFixed(12)
	if err != nil {
		return nil, err
	}
	copy(d.Nonce[:], nonce)

	insertedAt, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	d.InsertedAtUnixMS = insertedAt

	return d, nil
}

// Capability is a permission granted to a context identity by the
// ConfigOracle (spec.md §4.J / §6).
type Capability string

const (
	CapManageMembers     Capability = "ManageMembers"
	CapManageApplication Capability = "ManageApplication"
	CapProposal          Capability = "Proposal"
)

// Application is the immutable descriptor of spec.md §3.
type Application struct {
	Id               ApplicationId
	BlobId           BlobId
	CompiledBlobId   BlobId
	Size             uint64
	SourceURI        string
	Metadata         []byte
}

// Encode appends the wire representation of a to w.
func (a Application) Encode(w *wire.Writer) {
	w.WriteByte(wire.Version)
	w.WriteFixed(a.Id[:])
	w.WriteFixed(a.BlobId[:])
	w.WriteFixed(a.CompiledBlobId[:])
	w.WriteUint64(a.Size)
	w.WriteBytes([]byte(a.SourceURI))
	w.WriteBytes(a.Metadata)
}

// DecodeApplication reads an Application written by Encode.
func DecodeApplication(r *wire.Reader) (Application, error) {
	var a Application
	if err := r.ExpectVersion(); err != nil {
		return a, err
	}
	id, err := r.ReadFixed(32)
	if err != nil {
		return a, err
	}
	copy(a.Id[:], id)
	blobId, err := r.ReadFixed(32)
	if err != nil {
		return a, err
	}
	copy(a.BlobId[:], blobId)
	compiledId, err := r.ReadFixed(32)
	if err != nil {
		return a, err
	}
	copy(a.CompiledBlobId[:], compiledId)
	size, err := r.ReadUint64()
	if err != nil {
		return a, err
	}
	a.Size = size
	uri, err := r.ReadBytes()
	if err != nil {
		return a, err
	}
	a.SourceURI = string(uri)
	if a.Metadata, err = r.ReadBytes(); err != nil {
		return a, err
	}
	return a, nil
}

// ConfigRecord mirrors the external anchor record spec.md §3 describes.
type ConfigRecord struct {
	ContextId  ContextId
	AppId      ApplicationId
	Revision   uint64
	Members    []PublicKey
	Privileges map[PublicKey][]Capability
}
