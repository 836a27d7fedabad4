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
	stdctx "context"

	"github.com/calimero-network/core-sub010/internal/runtime"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
)

// ExecuteRequest runs method against contextId's pinned application with
// mutating storage access (spec.md §4.I "execute: produces a Delta"): every
// storage_write/remove the guest performs is folded into CRDT state inside
// one transaction, after which the resulting actions are sealed into a
// Delta, appended to the DAG, and broadcast to the context's gossip topic.
// A method that performs no writes still completes normally but produces no
// Delta (there is nothing causal to record).
func (m *Manager) ExecuteRequest(ctx stdctx.Context, contextId types.ContextId, executor types.PublicKey, method string, input []byte) (runtime.Outcome, error) {
	ts := m.clockFor(contextId, executor).Tick()
	app, wasmBytes, err := m.loadApplicationBytecode(contextId)
	if err != nil {
		return runtime.Outcome{}, err
	}

	view := &execView{mgr: m, ctx: contextId, ts: ts}
	var outcome runtime.Outcome
	var root [32]byte
	err = m.db.Update(func(tx store.RwTx) error {
		view.tx = tx
		var execErr error
		outcome, execErr = m.host.Execute(ctx, app.Id, wasmBytes, method, input, runtime.Env{
			Storage:             view,
			ExecutorId:          executor,
			DeterministicRandom: deterministicRandom(ts),
		})
		if execErr != nil {
			return execErr
		}
		root, execErr = m.RootHash(tx, contextId)
		return execErr
	})
	if err != nil {
		return outcome, err
	}

	if len(view.produced) == 0 {
		return outcome, nil
	}

	parents, err := m.dagStore.Heads(contextId)
	if err != nil {
		return outcome, err
	}
	d := &types.Delta{
		Id:           types.ComputeDeltaId(parents, ts, view.produced),
		Parents:      parents,
		HLC:          ts,
		ExpectedRoot: root,
		Actions:      view.produced,
		Author:       executor,
	}
	if err := sealAndPublish(ctx, m, contextId, d); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// Query runs method with read-only storage access: nothing it does can
// produce a Delta (spec.md §4.I "query: no Delta produced"), so it needs
// neither an HLC tick nor a DAG head lookup.
func (m *Manager) Query(ctx stdctx.Context, contextId types.ContextId, executor types.PublicKey, method string, input []byte) (runtime.Outcome, error) {
	app, wasmBytes, err := m.loadApplicationBytecode(contextId)
	if err != nil {
		return runtime.Outcome{}, err
	}

	var outcome runtime.Outcome
	err = m.db.View(func(tx store.Tx) error {
		view := &queryView{tx: tx, ctx: contextId}
		var execErr error
		outcome, execErr = m.host.Execute(ctx, app.Id, wasmBytes, method, input, runtime.Env{
			Storage:             view,
			ExecutorId:          executor,
			DeterministicRandom: csprngRandom,
		})
		return execErr
	})
	return outcome, err
}
