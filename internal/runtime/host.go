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

package runtime

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/calimero-network/core-sub010/internal/calerr"
)

// execState holds everything one Execute call's host imports read or
// mutate. It is rebuilt fresh per call; nothing here is shared across
// executions.
type execState struct {
	env    Env
	limits Limits
	memory api.Memory

	input      []byte
	registers  map[uint64][]byte
	gasSpent   uint64
	guestPanic string
	out        Outcome
	randomCall uint32
}

func newExecState(input []byte, env Env, limits Limits) *execState {
	return &execState{
		env:       env,
		limits:    limits,
		input:     input,
		registers: make(map[uint64][]byte),
	}
}

func (s *execState) outcome() Outcome {
	s.out.GasUsed = s.gasSpent
	return s.out
}

// chargeGas returns a trap error once the gas budget is exhausted;
// storage_read, storage_write and storage_remove call it first, and the
// other host imports are not metered.
func (s *execState) chargeGas() error {
	if s.limits.GasBudget == 0 {
		return nil
	}
	s.gasSpent += s.limits.GasPerHostCall
	if s.gasSpent > s.limits.GasBudget {
		return calerr.New(calerr.ResourceExhausted, "gas budget exhausted")
	}
	return nil
}

func (s *execState) readMemory(ptr, length uint32) ([]byte, error) {
	b, ok := s.memory.Read(ptr, length)
	if !ok {
		return nil, calerr.New(calerr.InvalidArgument, "guest memory read out of bounds")
	}
	// Memory.Read aliases the live wasm linear memory; copy before the
	// guest can observe or mutate it out from under the host.
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (s *execState) writeMemory(ptr uint32, data []byte) error {
	if !s.memory.Write(ptr, data) {
		return calerr.New(calerr.InvalidArgument, "guest memory write out of bounds")
	}
	return nil
}

// buildHostModule registers the "env" host module's import surface against
// st and instantiates it. Building fresh per Execute call keeps host state
// entirely call-scoped — simpler to reason about than mutating a long-lived
// instance, at the cost of one extra instantiation per call.
func buildHostModule(ctx context.Context, rt wazero.Runtime, st *execState) (api.Closer, error) {
	b := rt.NewHostModuleBuilder("env")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, registerId uint64) {
		st.registers[registerId] = append([]byte(nil), st.input...)
	}).Export("input")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, registerId uint64) uint64 {
		v, ok := st.registers[registerId]
		if !ok {
			return ^uint64(0) // sentinel "no such register" per original_source/sdk/src/env.rs
		}
		return uint64(len(v))
	}).Export("register_len")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, registerId uint64, ptr uint32) {
		v := st.registers[registerId]
		_ = st.writeMemory(ptr, v)
	}).Export("read_register")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, valueLen, valuePtr uint32) {
		v, err := st.readMemory(valuePtr, valueLen)
		if err == nil {
			st.out.ReturnValue = v
		}
	}).Export("value_return")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, msgLen, msgPtr uint32) {
		v, err := st.readMemory(msgPtr, msgLen)
		if err == nil {
			st.out.Logs = append(st.out.Logs, string(v))
		}
	}).Export("log_utf8")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module) {
		st.guestPanic = "panic"
	}).Export("panic")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, msgLen, msgPtr uint32) {
		v, err := st.readMemory(msgPtr, msgLen)
		if err == nil {
			st.guestPanic = string(v)
		} else {
			st.guestPanic = "panic (unreadable message)"
		}
	}).Export("panic_utf8")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, keyLen, keyPtr uint32, registerId uint64) uint64 {
		if err := st.chargeGas(); err != nil {
			return 2
		}
		key, err := st.readMemory(keyPtr, keyLen)
		if err != nil {
			return 2
		}
		val, found, err := st.env.Storage.Read(key)
		if err != nil {
			return 2
		}
		if !found {
			return 0
		}
		st.registers[registerId] = val
		return 1
	}).Export("storage_read")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, keyLen, keyPtr, valueLen, valuePtr uint32, registerId uint64) uint64 {
		if err := st.chargeGas(); err != nil {
			return 2
		}
		key, err := st.readMemory(keyPtr, keyLen)
		if err != nil {
			return 2
		}
		value, err := st.readMemory(valuePtr, valueLen)
		if err != nil {
			return 2
		}
		previous, had, _ := st.env.Storage.Read(key)
		if err := st.env.Storage.Write(key, value); err != nil {
			return 2
		}
		if had {
			st.registers[registerId] = previous
			return 1
		}
		return 0
	}).Export("storage_write")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, keyLen, keyPtr uint32, registerId uint64) uint64 {
		if err := st.chargeGas(); err != nil {
			return 2
		}
		key, err := st.readMemory(keyPtr, keyLen)
		if err != nil {
			return 2
		}
		previous, had, _ := st.env.Storage.Read(key)
		if err := st.env.Storage.Remove(key); err != nil {
			return 2
		}
		if had {
			st.registers[registerId] = previous
			return 1
		}
		return 0
	}).Export("storage_remove")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, length, ptr uint32) {
		var bytes []byte
		if st.env.DeterministicRandom != nil {
			bytes = st.env.DeterministicRandom(st.randomCall, int(length))
			st.randomCall++
		} else {
			bytes = make([]byte, length)
		}
		_ = st.writeMemory(ptr, bytes)
	}).Export("random_bytes")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module) uint64 {
		return uint64(st.env.Now().UnixMilli())
	}).Export("time_now")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, registerId uint64) {
		st.registers[registerId] = append([]byte(nil), st.env.ExecutorId[:]...)
	}).Export("executor_id")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, kindLen, kindPtr, dataLen, dataPtr uint32) {
		kind, err := st.readMemory(kindPtr, kindLen)
		if err != nil {
			return
		}
		data, err := st.readMemory(dataPtr, dataLen)
		if err != nil {
			return
		}
		st.out.Events = append(st.out.Events, Event{Kind: string(kind), Data: data})
	}).Export("emit")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, m api.Module, actionsLen, actionsPtr, retPtr uint32) {
		actions, err := st.readMemory(actionsPtr, actionsLen)
		if err != nil {
			return
		}
		var id [32]byte
		if st.env.OnProposal != nil {
			id = st.env.OnProposal(actions)
		}
		st.out.ProposalIds = append(st.out.ProposalIds, id)
		_ = st.writeMemory(retPtr, id[:])
	}).Export("send_proposal")

	return b.Instantiate(ctx)
}
