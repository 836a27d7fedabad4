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
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/crdt"
	"github.com/calimero-network/core-sub010/internal/hlc"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
)

// execView is the mutating runtime.StorageBackend used while executing a
// mutating call locally (ExecuteRequest): every Write/Remove is routed
// through Manager.ApplyAction, the same method remote replay in
// internal/sync calls directly, and the resulting Actions are buffered so
// the caller can build the Delta that carries them.
type execView struct {
	tx       store.RwTx
	mgr      *Manager
	ctx      types.ContextId
	ts       hlc.Timestamp
	produced []types.Action
}

func (v *execView) Read(key []byte) ([]byte, bool, error) {
	return crdt.GetMapValue(v.tx, v.ctx, defaultStorageHandle(), key)
}

func (v *execView) Write(key, value []byte) error {
	action := types.Action{
		Kind:   types.ActionUpdate,
		RootId: defaultStorageRoot,
		TypeId: crdt.TypeUnorderedMap,
		Key:    append([]byte(nil), key...),
		Value:  append([]byte(nil), value...),
	}
	if err := v.mgr.ApplyAction(v.tx, v.ctx, v.ts, action); err != nil {
		return err
	}
	v.produced = append(v.produced, action)
	return nil
}

func (v *execView) Remove(key []byte) error {
	action := types.Action{
		Kind:   types.ActionDelete,
		RootId: defaultStorageRoot,
		TypeId: crdt.TypeUnorderedMap,
		Key:    append([]byte(nil), key...),
	}
	if err := v.mgr.ApplyAction(v.tx, v.ctx, v.ts, action); err != nil {
		return err
	}
	v.produced = append(v.produced, action)
	return nil
}

// queryView is the read-only runtime.StorageBackend used for Query calls
// (spec.md §4.I "query: no Delta produced"): Write/Remove always fail so an
// application method marked as a query cannot silently mutate state.
type queryView struct {
	tx  store.Tx
	ctx types.ContextId
}

func (v *queryView) Read(key []byte) ([]byte, bool, error) {
	return crdt.GetMapValue(v.tx, v.ctx, defaultStorageHandle(), key)
}

func (v *queryView) Write(key, value []byte) error {
	return calerr.New(calerr.Unauthorized, "query execution cannot write storage")
}

func (v *queryView) Remove(key []byte) error {
	return calerr.New(calerr.Unauthorized, "query execution cannot remove storage")
}

// deterministicRandom derives random_bytes() output from ts via HMAC-SHA256
// counter-mode expansion (Open Question #3): every replica applying the
// same Delta computes byte-identical randomness, since ts (the Delta's own
// HLC) is itself part of the causal state every replica agrees on.
func deterministicRandom(ts hlc.Timestamp) func(callIndex uint32, n int) []byte {
	key := make([]byte, 0, 8+4+32)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(ts.WallMS))
	key = append(key, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:4], ts.Counter)
	key = append(key, tmp[:4]...)
	key = append(key, ts.Author[:]...)

	return func(callIndex uint32, n int) []byte {
		out := make([]byte, 0, n+sha256.Size)
		var block uint32
		for len(out) < n {
			mac := hmac.New(sha256.New, key)
			var ctr [8]byte
			binary.LittleEndian.PutUint32(ctr[:4], callIndex)
			binary.LittleEndian.PutUint32(ctr[4:], block)
			mac.Write(ctr[:])
			out = append(out, mac.Sum(nil)...)
			block++
		}
		return out[:n]
	}
}

// csprngRandom backs random_bytes() during query execution, where replay
// determinism across replicas is irrelevant since a query never produces a
// Delta (spec.md §4.I "query: no Delta produced").
func csprngRandom(_ uint32, n int) []byte {
	out := make([]byte, n)
	_, _ = rand.Read(out) // crypto/rand.Read's only failure mode is a broken OS CSPRNG
	return out
}
