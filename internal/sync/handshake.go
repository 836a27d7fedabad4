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

package sync

import (
	"context"
	"crypto/rand"
	"crypto/sha256"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
	"golang.org/x/crypto/curve25519"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/identity"
	"github.com/calimero-network/core-sub010/internal/types"
)

// The H.4 key-share handshake establishes a per-peer-pair SenderKey and
// records it (peerKey returns it); the H.2 catchup streams in this package
// do not seal their frames with it (spec.md §4.H.4). It
// runs over a fresh ephemeral X25519 exchange distinct from either party's
// long-term Ed25519 identity — even though libp2p's own transport security
// already authenticates and encrypts the stream, spec.md §4.H.4 specifies
// its own two-message application-layer exchange, so this package implements
// that exchange rather than relying solely on the transport layer (see
// DESIGN.md's note on why flynn/noise's *protocol* isn't adopted wholesale,
// only its two-message pattern borrowed for this handshake's shape).

func newEphemeral() (pub, priv [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return pub, priv, calerr.Wrap(calerr.StorageError, "read ephemeral key entropy", err)
	}
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, priv, calerr.Wrap(calerr.StorageError, "derive ephemeral public key", err)
	}
	copy(pub[:], p)
	return pub, priv, nil
}

func randomKeyMaterial() ([32]byte, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return b, calerr.Wrap(calerr.StorageError, "read sender-key entropy", err)
	}
	return b, nil
}

// handshakeKey derives the symmetric AEAD key two parties use to seal their
// SenderKey contribution during this one handshake, from the X25519
// ephemeral exchange. A raw X25519 output is not itself safe to use
// directly as an AEAD key (it is not uniformly distributed over the full
// key space), so it is hashed first.
func handshakeKey(priv [32]byte, theirPub [32]byte) (identity.SharedKey, error) {
	shared, err := curve25519.X25519(priv[:], theirPub[:])
	if err != nil {
		return identity.SharedKey{}, calerr.Wrap(calerr.IntegrityViolation, "invalid peer ephemeral key", err)
	}
	return identity.SharedKey(sha256.Sum256(shared)), nil
}

// combineContributions XORs both parties' random contributions into the
// final negotiated SenderKey, so either party computes the identical value
// regardless of which one ran as initiator.
func combineContributions(mine, theirs [32]byte) identity.SharedKey {
	var sk identity.SharedKey
	for i := range sk {
		sk[i] = mine[i] ^ theirs[i]
	}
	return sk
}

// EnsureSenderKey runs H.4 with peerIdentity over a fresh stream to p if no
// sender key for that identity in ctx is already on record. The H.2
// catchup client does not call it.
func (e *Engine) EnsureSenderKey(ctx context.Context, contextId types.ContextId, p peer.ID, peerIdentity types.PublicKey) error {
	has, err := e.hasSenderKey(contextId, peerIdentity)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	return e.initiateKeyShare(ctx, contextId, p, peerIdentity)
}

// initiateKeyShare is the initiator side of spec.md §4.H.4: both parties
// send an Init carrying an ephemeral public key and a next_nonce, then both
// send their freshly generated SenderKey contribution, AEAD-sealed under
// the handshake key, using the nonce the counterpart just supplied.
func (e *Engine) initiateKeyShare(ctx context.Context, contextId types.ContextId, p peer.ID, peerIdentity types.PublicKey) error {
	stream, err := e.openStreamTo(ctx, p, protoHandshake)
	if err != nil {
		return err
	}
	defer stream.Close()

	myEphPub, myEphPriv, err := newEphemeral()
	if err != nil {
		return err
	}
	myNonce, err := identity.RandomNonce()
	if err != nil {
		return err
	}

	init := initFrame{
		ContextId: contextId,
		PartyId:   e.self.PublicKey(),
		Kind:      payloadKeyShareInit,
		Ephemeral: myEphPub,
		NextNonce: myNonce,
	}
	if err := stream.sendFrame(init.encode()); err != nil {
		return err
	}

	rawInit, err := stream.recvFrame()
	if err != nil {
		return err
	}
	theirInit, err := decodeInitFrame(rawInit)
	if err != nil {
		return err
	}
	if theirInit.Kind != payloadKeyShareInit {
		return calerr.New(calerr.InvalidArgument, "expected KeyShare init frame")
	}
	if theirInit.PartyId != peerIdentity {
		return calerr.New(calerr.IntegrityViolation, "handshake peer identity mismatch")
	}

	hsKey, err := handshakeKey(myEphPriv, theirInit.Ephemeral)
	if err != nil {
		return err
	}

	myContribution, err := randomKeyMaterial()
	if err != nil {
		return err
	}
	myCipher, err := hsKey.Encrypt(myContribution[:], theirInit.NextNonce)
	if err != nil {
		return err
	}
	mine := respFrame{SequenceId: 0, Kind: payloadKeyShareData, SenderKeyCipher: myCipher, NextNonce: myNonce}
	if err := stream.sendFrame(mine.encode()); err != nil {
		return err
	}

	rawTheirs, err := stream.recvFrame()
	if err != nil {
		return err
	}
	theirs, err := decodeRespFrame(rawTheirs)
	if err != nil {
		return err
	}
	if theirs.Kind != payloadKeyShareData || theirs.SequenceId != 0 {
		return calerr.New(calerr.InvalidArgument, "expected KeyShare data frame")
	}
	theirContributionBytes, err := hsKey.Decrypt(theirs.SenderKeyCipher, myNonce)
	if err != nil {
		return err
	}
	var theirContribution [32]byte
	copy(theirContribution[:], theirContributionBytes)

	return e.storeSenderKey(contextId, peerIdentity, combineContributions(myContribution, theirContribution))
}

// handleHandshakeStream is the responder side of H.4, registered on
// protoHandshake by Engine.Start. It mirrors initiateKeyShare's message
// order from the other seat: receive the peer's Init, send its own Init,
// receive the peer's data frame, send its own.
func (e *Engine) handleHandshakeStream(s network.Stream) {
	defer s.Close()
	contextId, peerIdentity, err := e.runHandshakeResponder(s)
	if err != nil {
		e.log.Warn("key-share handshake failed",
			zap.Error(err), zap.String("peer", s.Conn().RemotePeer().String()))
		_ = s.Reset()
		return
	}
	e.log.Debug("key-share handshake complete",
		zap.String("context", contextId.String()), zap.String("peer", peerIdentity.String()))
}

func (e *Engine) runHandshakeResponder(netStream network.Stream) (types.ContextId, types.PublicKey, error) {
	stream := &timedStream{Stream: netStream, deadline: RecvTimeout}

	rawInit, err := stream.recvFrame()
	if err != nil {
		return types.ContextId{}, types.PublicKey{}, err
	}
	theirInit, err := decodeInitFrame(rawInit)
	if err != nil {
		return types.ContextId{}, types.PublicKey{}, err
	}
	if theirInit.Kind != payloadKeyShareInit {
		return types.ContextId{}, types.PublicKey{}, calerr.New(calerr.InvalidArgument, "expected KeyShare init frame")
	}

	myEphPub, myEphPriv, err := newEphemeral()
	if err != nil {
		return types.ContextId{}, types.PublicKey{}, err
	}
	myNonce, err := identity.RandomNonce()
	if err != nil {
		return types.ContextId{}, types.PublicKey{}, err
	}
	mine := initFrame{
		ContextId: theirInit.ContextId,
		PartyId:   e.self.PublicKey(),
		Kind:      payloadKeyShareInit,
		Ephemeral: myEphPub,
		NextNonce: myNonce,
	}
	if err := stream.sendFrame(mine.encode()); err != nil {
		return types.ContextId{}, types.PublicKey{}, err
	}

	rawTheirData, err := stream.recvFrame()
	if err != nil {
		return types.ContextId{}, types.PublicKey{}, err
	}
	theirData, err := decodeRespFrame(rawTheirData)
	if err != nil {
		return types.ContextId{}, types.PublicKey{}, err
	}
	if theirData.Kind != payloadKeyShareData || theirData.SequenceId != 0 {
		return types.ContextId{}, types.PublicKey{}, calerr.New(calerr.InvalidArgument, "expected KeyShare data frame")
	}

	hsKey, err := handshakeKey(myEphPriv, theirInit.Ephemeral)
	if err != nil {
		return types.ContextId{}, types.PublicKey{}, err
	}
	theirContributionBytes, err := hsKey.Decrypt(theirData.SenderKeyCipher, myNonce)
	if err != nil {
		return types.ContextId{}, types.PublicKey{}, err
	}
	var theirContribution [32]byte
	copy(theirContribution[:], theirContributionBytes)

	myContribution, err := randomKeyMaterial()
	if err != nil {
		return types.ContextId{}, types.PublicKey{}, err
	}
	myCipher, err := hsKey.Encrypt(myContribution[:], theirInit.NextNonce)
	if err != nil {
		return types.ContextId{}, types.PublicKey{}, err
	}
	mineData := respFrame{SequenceId: 0, Kind: payloadKeyShareData, SenderKeyCipher: myCipher, NextNonce: myNonce}
	if err := stream.sendFrame(mineData.encode()); err != nil {
		return types.ContextId{}, types.PublicKey{}, err
	}

	sk := combineContributions(myContribution, theirContribution)
	if err := e.storeSenderKey(theirInit.ContextId, theirInit.PartyId, sk); err != nil {
		return types.ContextId{}, types.PublicKey{}, err
	}
	return theirInit.ContextId, theirInit.PartyId, nil
}
