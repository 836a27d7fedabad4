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

package mesh

import (
	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/identity"
)

// LibP2PIdentity converts a node's Ed25519 keypair (component F) into the
// libp2p crypto.PrivKey used as the host's transport identity, so a peer's
// libp2p peer.ID and its Calimero PublicKey are derived from the same key
// rather than maintaining two unrelated identities. ed25519.PrivateKey's
// wire format (seed‖public, 64 bytes) is exactly what
// crypto.UnmarshalEd25519PrivateKey expects.
func LibP2PIdentity(kp identity.KeyPair) (crypto.PrivKey, error) {
	sk, err := crypto.UnmarshalEd25519PrivateKey(kp.Private)
	if err != nil {
		return nil, calerr.Wrap(calerr.InvalidArgument, "convert keypair to libp2p identity", err)
	}
	return sk, nil
}
