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

// Package configoracle is the ConfigOracle client (component J): a pure
// read interface over the external anchor (on-chain or equivalent
// append-only store) that holds each context's membership, application
// pinning, and per-identity capabilities (spec.md §4.J, §6). The core only
// ever depends on the Oracle interface; real chain clients are out of
// scope (spec.md §1) and live outside this module.
package configoracle

import (
	"context"
	"sync"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/types"
)

// Oracle is the abstract read surface spec.md §6 names: "application,
// members, privileges" keyed by ContextId.
type Oracle interface {
	// Application returns the ApplicationId currently pinned to ctx.
	Application(ctx context.Context, contextId types.ContextId) (types.ApplicationId, error)
	// Members returns a page of ctx's member public keys.
	Members(ctx context.Context, contextId types.ContextId, offset, length int) ([]types.PublicKey, error)
	// Privileges returns each named key's granted capabilities in ctx.
	// Keys with no entry in the result have no capabilities.
	Privileges(ctx context.Context, contextId types.ContextId, keys []types.PublicKey) (map[types.PublicKey][]types.Capability, error)
	// Revision returns ctx's current configuration revision number,
	// advanced by the anchor on every membership/application/privilege
	// change (spec.md §3 Context.configuration revision number).
	Revision(ctx context.Context, contextId types.ContextId) (uint64, error)
}

// MemoryOracle is an in-memory Oracle used by tests and by cmd/calimerod
// when no external anchor is configured. It is a fake, not a cache: writes
// (PutRecord) are the only way records ever appear in it — nothing reaches
// out over a network.
type MemoryOracle struct {
	mu      sync.RWMutex
	records map[types.ContextId]types.ConfigRecord
}

// NewMemory constructs an empty MemoryOracle.
func NewMemory() *MemoryOracle {
	return &MemoryOracle{records: make(map[types.ContextId]types.ConfigRecord)}
}

// PutRecord installs or replaces the full record for a context, as a
// genesis `CreateContext` or a subsequent membership/application change
// would against a real anchor (spec.md §3 ConfigRecord).
func (m *MemoryOracle) PutRecord(rec types.ConfigRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ContextId] = rec
}

func (m *MemoryOracle) get(contextId types.ContextId) (types.ConfigRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[contextId]
	if !ok {
		return types.ConfigRecord{}, calerr.New(calerr.NotFound, "no ConfigRecord for context")
	}
	return rec, nil
}

func (m *MemoryOracle) Application(_ context.Context, contextId types.ContextId) (types.ApplicationId, error) {
	rec, err := m.get(contextId)
	if err != nil {
		return types.ApplicationId{}, err
	}
	return rec.AppId, nil
}

func (m *MemoryOracle) Members(_ context.Context, contextId types.ContextId, offset, length int) ([]types.PublicKey, error) {
	rec, err := m.get(contextId)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > len(rec.Members) {
		return nil, calerr.New(calerr.InvalidArgument, "member page offset out of range")
	}
	end := offset + length
	if length <= 0 || end > len(rec.Members) {
		end = len(rec.Members)
	}
	out := make([]types.PublicKey, end-offset)
	copy(out, rec.Members[offset:end])
	return out, nil
}

func (m *MemoryOracle) Privileges(_ context.Context, contextId types.ContextId, keys []types.PublicKey) (map[types.PublicKey][]types.Capability, error) {
	rec, err := m.get(contextId)
	if err != nil {
		return nil, err
	}
	out := make(map[types.PublicKey][]types.Capability, len(keys))
	for _, k := range keys {
		if caps, ok := rec.Privileges[k]; ok {
			out[k] = caps
		}
	}
	return out, nil
}

func (m *MemoryOracle) Revision(_ context.Context, contextId types.ContextId) (uint64, error) {
	rec, err := m.get(contextId)
	if err != nil {
		return 0, err
	}
	return rec.Revision, nil
}

// HasCapability reports whether caps contains want. Its caller is the
// context manager's UpdateApplication privilege check; no delta-admission
// path consults ConfigOracle, so deltas from authors outside the member
// set are applied without this or any other membership check.
func HasCapability(caps []types.Capability, want types.Capability) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}
