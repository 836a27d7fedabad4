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

// Package runtime is the WASM execution host (component E): it compiles and
// runs application bytecode under wazero, with a metered host import surface
// matching _examples/original_source/sdk's env ABI (register_len/
// read_register, input, value_return, log_utf8, panic/panic_utf8,
// storage_read/write/remove, random_bytes, time_now, executor_id, emit,
// send_proposal), gas/memory/wall-time budgets, and a compiled-module cache.
package runtime

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/types"
)

// Limits bounds one execution (spec.md §4.E/§5).
type Limits struct {
	MaxMemoryPages uint32        // 64KiB pages; 0 uses wazero's default cap
	GasBudget      uint64        // total gas a call may spend on storage_* imports
	GasPerHostCall uint64        // cost charged per storage_* import invocation
	Timeout        time.Duration // wall-clock budget for one Execute call
}

// DefaultLimits are conservative bounds suitable for untrusted application
// bytecode.
var DefaultLimits = Limits{
	MaxMemoryPages: 256, // 16 MiB
	GasBudget:      10_000_000,
	GasPerHostCall: 1,
	Timeout:        5 * time.Second,
}

// StorageBackend is the narrow storage seam the host's storage_* imports
// call into — satisfied by the context manager's per-context CRDT/state
// view (internal/context), never by internal/store directly, so this
// package has no dependency on the DAG/CRDT layers.
type StorageBackend interface {
	Read(key []byte) ([]byte, bool, error)
	Write(key, value []byte) error
	Remove(key []byte) error
}

// Event is one emit() call recorded during execution.
type Event struct {
	Kind string
	Data []byte
}

// Env is the host-side environment one Execute call runs against.
type Env struct {
	Storage StorageBackend
	// ExecutorId is returned by the executor_id() import.
	ExecutorId types.PublicKey
	// Now backs time_now(); defaults to time.Now when nil.
	Now func() time.Time
	// DeterministicRandom backs random_bytes() during mutating calls (Open
	// Question #3): callers of Execute for a mutating Delta application
	// must supply a function deriving bytes from the Delta's HLC so replay
	// on every replica is bit-identical; query execution may instead pass a
	// CSPRNG-backed closure.
	DeterministicRandom func(callIndex uint32, n int) []byte
	// OnProposal is invoked for each send_proposal() call; it returns the
	// 32-byte ProposalId the guest receives back.
	OnProposal func(actionsBorsh []byte) [32]byte
}

// Outcome is everything one Execute call produced.
type Outcome struct {
	ReturnValue []byte
	Logs        []string
	Events      []Event
	ProposalIds [][32]byte
	GasUsed     uint64
}

// Host owns the wazero runtime and the compiled-module cache shared across
// every context executing applications in this process.
type Host struct {
	rt     wazero.Runtime
	cache  *moduleCache
	limits Limits
}

// New constructs a Host. ctx is used only to construct the underlying
// wazero runtime (wazero's API requires one at construction); it is not
// retained.
func New(ctx context.Context, limits Limits) (*Host, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if limits.MaxMemoryPages > 0 {
		cfg = cfg.WithMemoryLimitPages(limits.MaxMemoryPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	return &Host{rt: rt, cache: newModuleCache(rt, 64), limits: limits}, nil
}

func (h *Host) Close(ctx context.Context) error { return h.rt.Close(ctx) }

// Execute runs one method of an application's compiled bytecode to
// completion: the guest calls input() once to receive input, and
// value_return() at most once to set the Outcome's ReturnValue (matching
// _examples/original_source/sdk/src/env.rs's single-shot input/output
// registers).
func (h *Host) Execute(ctx context.Context, appId types.ApplicationId, wasmBytes []byte, method string, input []byte, env Env) (Outcome, error) {
	if env.Now == nil {
		env.Now = time.Now
	}
	timeout := h.limits.Timeout
	if timeout <= 0 {
		timeout = DefaultLimits.Timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	compiled, err := h.cache.get(execCtx, appId, wasmBytes)
	if err != nil {
		return Outcome{}, err
	}

	st := newExecState(input, env, h.limits)
	hostMod, err := buildHostModule(execCtx, h.rt, st)
	if err != nil {
		return Outcome{}, calerr.Wrap(calerr.StorageError, "instantiate host imports", err)
	}
	defer hostMod.Close(execCtx)

	modCfg := wazero.NewModuleConfig().WithName(appId.String())
	mod, err := h.rt.InstantiateModule(execCtx, compiled, modCfg)
	if err != nil {
		return Outcome{}, calerr.Wrap(calerr.ResourceExhausted, "instantiate application module", err)
	}
	defer mod.Close(execCtx)

	fn := mod.ExportedFunction(method)
	if fn == nil {
		return Outcome{}, calerr.New(calerr.InvalidArgument, "application has no exported method "+method)
	}
	st.memory = mod.Memory()
	if st.memory == nil {
		return Outcome{}, calerr.New(calerr.StorageError, "application module has no memory export")
	}

	if _, err := fn.Call(execCtx); err != nil {
		if st.guestPanic != "" {
			return st.outcome(), calerr.New(calerr.InvalidArgument, "application panicked: "+st.guestPanic)
		}
		if execCtx.Err() != nil {
			return st.outcome(), calerr.Wrap(calerr.Timeout, "execution deadline exceeded", execCtx.Err())
		}
		return st.outcome(), calerr.Wrap(calerr.ResourceExhausted, "wasm trap", err)
	}
	return st.outcome(), nil
}
