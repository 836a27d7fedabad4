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
	"crypto/rand"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/identity"
	"github.com/calimero-network/core-sub010/internal/types"
	"github.com/calimero-network/core-sub010/internal/wire"
)

// InvitationPayload is the signed token an existing member hands a
// prospective one out of band (spec.md §4.I "invite a member"). JoinContext
// checks the inviter's signature and that the invitee matches; neither it
// nor bootstrap checks the invitee's membership in ConfigOracle, so an
// invitation with a valid signature is accepted even after revocation.
type InvitationPayload struct {
	ContextId     types.ContextId
	InviterPublic types.PublicKey
	InviteePublic types.PublicKey
	Nonce         [16]byte
	Signature     []byte
}

func (p InvitationPayload) signingBytes() []byte {
	w := wire.NewWriter(96)
	w.WriteByte(wire.Version)
	w.WriteFixed(p.ContextId[:])
	w.WriteFixed(p.InviterPublic[:])
	w.WriteFixed(p.InviteePublic[:])
	w.WriteFixed(p.Nonce[:])
	return w.Bytes()
}

// Verify checks the invitation's signature against its claimed inviter.
func (p InvitationPayload) Verify() bool {
	return identity.Verify(p.InviterPublic, p.signingBytes(), p.Signature)
}

// Invite produces a signed InvitationPayload naming invitee, authored by
// inviter — one of inviter's own keypairs for contextId (spec.md §4.I).
// Callers must already have confirmed inviter holds a capability allowing
// it to grow membership (CapManageMembers) before handing the result out.
func (m *Manager) Invite(contextId types.ContextId, inviter identity.KeyPair, invitee types.PublicKey) (InvitationPayload, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return InvitationPayload{}, calerr.Wrap(calerr.StorageError, "read invitation nonce", err)
	}
	p := InvitationPayload{
		ContextId:     contextId,
		InviterPublic: inviter.PublicKey(),
		InviteePublic: invitee,
		Nonce:         nonce,
	}
	p.Signature = inviter.Sign(p.signingBytes())
	return p, nil
}
