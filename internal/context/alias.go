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
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/wire"
)

// AliasKind tags what an alias's target id names, since the Alias column
// stores all three kinds of target under one namespace.
type AliasKind byte

const (
	AliasContext AliasKind = iota + 1
	AliasIdentity
	AliasApplication
)

// AliasStore is a purely local human-readable name -> target id convenience
// layer (original_source/crates/store/src/key.rs; never gossiped, never
// consulted by any causal/consensus logic). Last writer wins on a name
// collision; there is no distributed uniqueness guarantee.
type AliasStore struct {
	db store.DB
}

func aliasRecord(kind AliasKind, target [32]byte) []byte {
	w := wire.NewWriter(34)
	w.WriteByte(wire.Version)
	w.WriteByte(byte(kind))
	w.WriteFixed(target[:])
	return w.Bytes()
}

func decodeAliasRecord(b []byte) (AliasKind, [32]byte, error) {
	var target [32]byte
	r := wire.NewReader(b)
	if err := r.ExpectVersion(); err != nil {
		return 0, target, err
	}
	kind, err := r.ReadByte()
	if err != nil {
		return 0, target, err
	}
	raw, err := r.ReadFixed(32)
	if err != nil {
		return 0, target, err
	}
	copy(target[:], raw)
	return AliasKind(kind), target, nil
}

// CreateAlias binds name to target, overwriting any prior binding.
func (a *AliasStore) CreateAlias(name string, kind AliasKind, target [32]byte) error {
	return a.db.Update(func(tx store.RwTx) error {
		return tx.Put(store.Alias, []byte(name), aliasRecord(kind, target))
	})
}

// ResolveAlias returns name's bound target id and kind.
func (a *AliasStore) ResolveAlias(name string) (AliasKind, [32]byte, error) {
	var kind AliasKind
	var target [32]byte
	err := a.db.View(func(tx store.Tx) error {
		raw, err := tx.Get(store.Alias, []byte(name))
		if err != nil {
			return err
		}
		kind, target, err = decodeAliasRecord(raw)
		return err
	})
	return kind, target, err
}

// DeleteAlias removes name's binding, if any.
func (a *AliasStore) DeleteAlias(name string) error {
	return a.db.Update(func(tx store.RwTx) error {
		return tx.Delete(store.Alias, []byte(name))
	})
}

// Aliases exposes the Manager's local alias namespace.
func (m *Manager) Aliases() *AliasStore { return m.aliases }
