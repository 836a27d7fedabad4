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

package main

import (
	"crypto/ed25519"
	"os"
	"path/filepath"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/identity"
)

const identityFileName = "node.key"

// loadOrCreateIdentity reads the node's Ed25519 seed from dataDir/node.key,
// generating and persisting a fresh one (0600) on first run. The seed is the
// node's only durable secret; losing it changes the node's identity.
// ContextIds are not derived from it: each comes from a fresh genesis
// keypair generated at CreateContext.
func loadOrCreateIdentity(dataDir string) (identity.KeyPair, error) {
	path := filepath.Join(dataDir, identityFileName)
	seed, err := os.ReadFile(path)
	if err == nil {
		if len(seed) != ed25519.SeedSize {
			return identity.KeyPair{}, calerr.New(calerr.SerializationError, "identity file has wrong length")
		}
		priv := ed25519.NewKeyFromSeed(seed)
		return identity.KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
	}
	if !os.IsNotExist(err) {
		return identity.KeyPair{}, calerr.Wrap(calerr.StorageError, "read identity file", err)
	}

	kp, err := identity.Generate()
	if err != nil {
		return identity.KeyPair{}, err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return identity.KeyPair{}, calerr.Wrap(calerr.StorageError, "create data dir", err)
	}
	if err := os.WriteFile(path, kp.Private.Seed(), 0o600); err != nil {
		return identity.KeyPair{}, calerr.Wrap(calerr.StorageError, "write identity file", err)
	}
	return kp, nil
}
