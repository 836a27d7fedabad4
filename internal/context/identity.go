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
	"crypto/ed25519"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/identity"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
	"github.com/calimero-network/core-sub010/internal/wire"
)

// ownedIdentityKey / decodeKeyPair persist one of this node's own
// keypairs for one context (spec.md §3 "Identity... optional PrivateKey,
// present only for identities this node owns"; "An owner may have multiple
// identities per context"). The private seed never leaves this column.
func ownedIdentityKey(ctx types.ContextId, pub types.PublicKey) []byte {
	k := make([]byte, 64)
	copy(k, ctx[:])
	copy(k[32:], pub[:])
	return k
}

func encodeKeyPair(kp identity.KeyPair) []byte {
	w := wire.NewWriter(40)
	w.WriteByte(wire.Version)
	w.WriteFixed(kp.Private.Seed())
	return w.Bytes()
}

func decodeKeyPair(b []byte) (identity.KeyPair, error) {
	r := wire.NewReader(b)
	if err := r.ExpectVersion(); err != nil {
		return identity.KeyPair{}, calerr.Wrap(calerr.SerializationError, "owned identity version", err)
	}
	seed, err := r.ReadFixed(ed25519.SeedSize)
	if err != nil {
		return identity.KeyPair{}, calerr.Wrap(calerr.SerializationError, "owned identity seed", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return identity.KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// storeOwnedIdentity persists kp as owned within ctx.
func (m *Manager) storeOwnedIdentity(ctx types.ContextId, kp identity.KeyPair) error {
	return m.db.Update(func(tx store.RwTx) error {
		return tx.Put(store.ContextOwnedIdentity, ownedIdentityKey(ctx, kp.PublicKey()), encodeKeyPair(kp))
	})
}

// OwnedIdentity returns one of this node's own keypairs for ctx.
func (m *Manager) OwnedIdentity(ctx types.ContextId, pub types.PublicKey) (identity.KeyPair, error) {
	var kp identity.KeyPair
	err := m.db.View(func(tx store.Tx) error {
		raw, err := tx.Get(store.ContextOwnedIdentity, ownedIdentityKey(ctx, pub))
		if err != nil {
			return err
		}
		kp, err = decodeKeyPair(raw)
		return err
	})
	return kp, err
}

// OwnedIdentities lists every keypair this node owns within ctx.
func (m *Manager) OwnedIdentities(ctx types.ContextId) ([]types.PublicKey, error) {
	var out []types.PublicKey
	err := m.db.View(func(tx store.Tx) error {
		it := tx.Iter(store.ContextOwnedIdentity)
		defer it.Close()
		for ok := it.Seek(ctx[:]); ok; ok = it.Next() {
			key := it.Key()
			if len(key) != 64 {
				continue
			}
			var pub types.PublicKey
			copy(pub[:], key[32:])
			out = append(out, pub)
		}
		return nil
	})
	return out, err
}
