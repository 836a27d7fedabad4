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

package sync

import (
	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/identity"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
	"github.com/calimero-network/core-sub010/internal/wire"
)

// peerRecord is what one node knows about one other identity within one
// context: the long-term key derived straight from Ed25519 public keys
// (always computable, needs no exchange) and the handshake-negotiated
// SenderKey once H.4 has run (spec.md §4.H.1/H.4).
type peerRecord struct {
	HasSenderKey bool
	SenderKey    identity.SharedKey
}

func (r peerRecord) encode() []byte {
	w := wire.NewWriter(40)
	w.WriteByte(wire.Version)
	if r.HasSenderKey {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
	w.WriteFixed(r.SenderKey[:])
	return w.Bytes()
}

func decodePeerRecord(b []byte) (peerRecord, error) {
	var r peerRecord
	rd := wire.NewReader(b)
	if err := rd.ExpectVersion(); err != nil {
		return r, err
	}
	flag, err := rd.ReadByte()
	if err != nil {
		return r, err
	}
	r.HasSenderKey = flag != 0
	key, err := rd.ReadFixed(32)
	if err != nil {
		return r, err
	}
	copy(r.SenderKey[:], key)
	return r, nil
}

func identityKey(ctx types.ContextId, peer types.PublicKey) []byte {
	k := make([]byte, 64)
	copy(k, ctx[:])
	copy(k[32:], peer[:])
	return k
}

// peerKey returns the symmetric key to use for communication with peer in
// ctx: the negotiated SenderKey if H.4 has already run, otherwise the
// long-term key derived directly from both Ed25519 identities (spec.md
// §4.H.1: "for peers the same ciphertext is readable because the author
// publishes its public key with the message").
func (e *Engine) peerKey(ctx types.ContextId, peer types.PublicKey) (identity.SharedKey, error) {
	var rec peerRecord
	err := e.db.View(func(tx store.Tx) error {
		raw, err := tx.Get(store.ContextIdentity, identityKey(ctx, peer))
		if calerr.Is(err, calerr.NotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err = decodePeerRecord(raw)
		return err
	})
	if err != nil {
		return identity.SharedKey{}, err
	}
	if rec.HasSenderKey {
		return rec.SenderKey, nil
	}
	return identity.Derive(e.self, peer)
}

func (e *Engine) hasSenderKey(ctx types.ContextId, peer types.PublicKey) (bool, error) {
	var has bool
	err := e.db.View(func(tx store.Tx) error {
		raw, err := tx.Get(store.ContextIdentity, identityKey(ctx, peer))
		if calerr.Is(err, calerr.NotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := decodePeerRecord(raw)
		has = rec.HasSenderKey
		return err
	})
	return has, err
}

func (e *Engine) storeSenderKey(ctx types.ContextId, peer types.PublicKey, key identity.SharedKey) error {
	rec := peerRecord{HasSenderKey: true, SenderKey: key}
	return e.db.Update(func(tx store.RwTx) error {
		return tx.Put(store.ContextIdentity, identityKey(ctx, peer), rec.encode())
	})
}
