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

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero"
	"golang.org/x/sync/singleflight"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/types"
)

// moduleCache memoizes wazero.CompileModule by ApplicationId: compiling
// bytecode is expensive relative to running it, and the same application
// typically executes many times across many deltas/queries (spec.md §4.E).
// golang-lru bounds memory; singleflight collapses concurrent first-use
// compiles of the same application into one (both libraries are in the
// teacher's own go.mod).
type moduleCache struct {
	rt    wazero.Runtime
	cache *lru.Cache[types.ApplicationId, wazero.CompiledModule]
	group singleflight.Group
}

func newModuleCache(rt wazero.Runtime, size int) *moduleCache {
	c, _ := lru.New[types.ApplicationId, wazero.CompiledModule](size)
	return &moduleCache{rt: rt, cache: c}
}

func (mc *moduleCache) get(ctx context.Context, id types.ApplicationId, wasmBytes []byte) (wazero.CompiledModule, error) {
	if m, ok := mc.cache.Get(id); ok {
		return m, nil
	}
	v, err, _ := mc.group.Do(id.String(), func() (interface{}, error) {
		if m, ok := mc.cache.Get(id); ok {
			return m, nil
		}
		compiled, err := mc.rt.CompileModule(ctx, wasmBytes)
		if err != nil {
			return nil, calerr.Wrap(calerr.InvalidArgument, "compile application module", err)
		}
		mc.cache.Add(id, compiled)
		return compiled, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(wazero.CompiledModule), nil
}
