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

//go:build !mdbx_engine

package main

import "github.com/calimero-network/core-sub010/internal/store"

// openStore backs the default build with the in-memory store; build with
// -tags mdbx_engine for a durable on-disk node.
func openStore(dataDir string) (store.DB, error) {
	return store.NewMemDB(), nil
}
