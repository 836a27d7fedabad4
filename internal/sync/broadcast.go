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
	"crypto/sha256"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/hlc"
	"github.com/calimero-network/core-sub010/internal/identity"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
	"github.com/calimero-network/core-sub010/internal/wire"
)

// contextBroadcastKey derives the symmetric key every member of ctx
// encrypts/decrypts gossip broadcasts with. spec.md §4.H.1 describes
// broadcast encryption as "SharedKey(I_private, I_public)" with the caveat
// that "the same ciphertext is readable [by peers] because the author
// publishes its public key with the message" — but a pairwise Ed25519 DH
// secret (identity.Derive) is only ever reproducible by the two parties
// that hold the matching private key, never by a third member just from a
// public key, so it cannot be what makes a single broadcast ciphertext
// readable by an entire topic. The reading that is actually consistent
// with a one-ciphertext-many-readers topic is a key every member of the
// context can derive identically from public information (the ContextId
// itself, known to every member by construction): broadcast confidentiality
// here is a wire-hygiene layer, not a pairwise secret; topic subscription
// is not gated, so any peer that knows the ContextId can derive this key.
// Pairwise keys (SharedKey / the H.4 SenderKey) are not used by the direct
// H.2 request/response streams either: their frames travel unsealed, and
// the Deltas they carry stay sealed under this broadcast key.
func contextBroadcastKey(ctx types.ContextId) identity.SharedKey {
	return identity.SharedKey(sha256.Sum256(append([]byte("calimero-broadcast-key:"), ctx[:]...)))
}

// SealDeltaActions seals d.Actions under ctx's shared broadcast key and sets
// d.Ciphertext/d.Nonce in place (spec.md §3: a Delta's encrypted payload and
// nonce are attributes of the Delta itself, not just of one wire message).
// The context manager calls this exactly once, at authorship, before
// appending a freshly-built Delta to the DAG; Broadcast and the catchup
// responders (§4.H.2) all serve that same sealed form back out.
func SealDeltaActions(contextId types.ContextId, d *types.Delta) error {
	nonce, err := identity.RandomNonce()
	if err != nil {
		return err
	}
	key := contextBroadcastKey(contextId)
	ciphertext, err := key.Encrypt(encodeActions(d.Actions), nonce)
	if err != nil {
		return err
	}
	d.Ciphertext = ciphertext
	d.Nonce = nonce
	return nil
}

// Broadcast publishes an already-sealed Delta on ctx's gossip topic
// (spec.md §4.H.1 sender steps 2-3; step 1's sealing is SealDeltaActions,
// run once by the caller at authorship). If mesh peer count is zero, it is
// skipped: late joiners will pick the delta up via H.3 bootstrap instead.
func (e *Engine) Broadcast(ctx context.Context, contextId types.ContextId, d *types.Delta) error {
	n, err := e.mesh.PeerCount(contextId)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if len(d.Ciphertext) == 0 {
		return calerr.New(calerr.InvalidArgument, "Broadcast called with an unsealed delta")
	}

	msg := BroadcastMessage{
		ContextId:    contextId,
		AuthorPublic: d.Author,
		RootHash:     d.ExpectedRoot,
		Parents:      d.Parents,
		HLC:          hlcWire{WallMS: d.HLC.WallMS, Counter: d.HLC.Counter, Author: d.HLC.Author},
		Ciphertext:   d.Ciphertext,
		Nonce:        d.Nonce,
	}
	return e.mesh.Publish(ctx, contextId, msg.encode())
}

func encodeActions(actions []types.Action) []byte {
	w := wire.NewWriter(256)
	w.WriteByte(wire.Version)
	w.WriteUint32(uint32(len(actions)))
	for _, a := range actions {
		a.Encode(w)
	}
	return w.Bytes()
}

func decodeActions(b []byte) ([]types.Action, error) {
	r := wire.NewReader(b)
	if err := r.ExpectVersion(); err != nil {
		return nil, err
	}
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make([]types.Action, n)
	for i := range out {
		a, err := types.DecodeAction(r)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// missingParentsOf reports which of d's named parents are not yet present
// in the local DAG.
func (e *Engine) missingParentsOf(contextId types.ContextId, d *types.Delta) ([]types.DeltaId, error) {
	var missing []types.DeltaId
	for _, p := range d.Parents {
		has, err := e.dagStore.Has(contextId, p)
		if err != nil {
			return nil, err
		}
		if !has {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// handleBroadcast is the receiver side of spec.md §4.H.1: discard unknown
// contexts, decrypt, reject an HLC more than 5s ahead of the local clock
// (hlc.WithinDrift), enqueue-and-fetch on a missing parent, apply in
// HLC-topological order, verify the root hash, quarantine on mismatch, and
// cascade anything the new delta unblocked.
func (e *Engine) handleBroadcast(ctx context.Context, contextId types.ContextId, from peer.ID, raw []byte) error {
	msg, err := decodeBroadcastMessage(raw)
	if err != nil {
		return calerr.Wrap(calerr.SerializationError, "decode broadcast message", err)
	}
	if msg.ContextId != contextId {
		return calerr.New(calerr.InvalidArgument, "broadcast context_id mismatch")
	}
	if e.quarantine.IsQuarantined(contextId, msg.AuthorPublic) {
		return calerr.New(calerr.Unauthorized, "sender quarantined")
	}

	key := contextBroadcastKey(contextId)
	plain, err := key.Decrypt(msg.Ciphertext, msg.Nonce)
	if err != nil {
		return err
	}
	actions, err := decodeActions(plain)
	if err != nil {
		return err
	}

	ts := hlc.Timestamp(msg.HLC)
	const driftTolerance = 5 * time.Second
	if !hlc.WithinDrift(ts, e.quarantine.now(), driftTolerance) {
		return calerr.New(calerr.InvalidArgument, "broadcast HLC more than 5s ahead of local clock")
	}
	e.clock.Observe(ts)
	d := &types.Delta{
		Id:           types.ComputeDeltaId(msg.Parents, ts, actions),
		Parents:      msg.Parents,
		HLC:          ts,
		ExpectedRoot: msg.RootHash,
		Actions:      actions,
		Author:       msg.AuthorPublic,
		Ciphertext:   msg.Ciphertext,
		Nonce:        msg.Nonce,
	}

	has, err := e.dagStore.Has(contextId, d.Id)
	if err != nil {
		return err
	}
	if has {
		return nil // already applied, gossip re-delivery
	}

	missing, err := e.missingParentsOf(contextId, d)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		if err := e.dagStore.EnqueuePending(contextId, d); err != nil {
			return err
		}
		return e.requestMissingParents(ctx, contextId, from, missing)
	}

	if err := e.applyAndAppend(contextId, d); err != nil {
		if calerr.Is(err, calerr.IntegrityViolation) {
			e.quarantine.Quarantine(contextId, msg.AuthorPublic)
			e.log.Warn("quarantining peer after root hash mismatch",
				zap.String("context", contextId.String()),
				zap.String("author", msg.AuthorPublic.String()))
		}
		return err
	}

	return e.cascadeAndVerify(contextId)
}

// applyAndAppend replays d's actions into the CRDT state, verifies the
// resulting root hash against d.ExpectedRoot, and only then appends d to the
// durable causal log. A crash between the two steps can leave CRDT state
// applied without the matching DAG entry; Append is idempotent on retry, so
// re-delivery (gossip's normal behavior) repairs it.
func (e *Engine) applyAndAppend(contextId types.ContextId, d *types.Delta) error {
	err := e.db.Update(func(tx store.RwTx) error {
		for _, a := range d.Actions {
			if err := e.roots.ApplyAction(tx, contextId, d.HLC, a); err != nil {
				return err
			}
		}
		got, err := e.roots.RootHash(tx, contextId)
		if err != nil {
			return err
		}
		if got != d.ExpectedRoot {
			return calerr.New(calerr.IntegrityViolation, "post-apply root hash mismatch")
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.dagStore.Append(contextId, d)
}

// cascadeAndVerify re-attempts every pending delta whose parents are now
// satisfied (spec.md §4.H.5). dag.Store.Cascade runs verifyAndApplyCascaded
// inside the same transaction as the append, so a delta whose claimed root
// hash does not match reality is neither applied nor appended — it comes
// back in rejected, and its author is quarantined so no further traffic
// from it is accepted (spec.md invariant #7, testable property #2).
func (e *Engine) cascadeAndVerify(contextId types.ContextId) error {
	_, rejected, err := e.dagStore.Cascade(contextId, func(tx store.RwTx, d *types.Delta) error {
		return e.verifyAndApplyCascaded(tx, contextId, d)
	})
	if err != nil {
		return err
	}
	for _, d := range rejected {
		e.quarantine.Quarantine(contextId, d.Author)
		e.log.Warn("quarantining peer after cascaded root hash mismatch",
			zap.String("context", contextId.String()),
			zap.String("author", d.Author.String()))
	}
	return nil
}

// verifyAndApplyCascaded decrypts a cascaded delta's sealed actions, folds
// them into CRDT state via tx, and confirms the resulting root hash matches
// d.ExpectedRoot. Called by dag.Store.Cascade inside the same transaction it
// is about to append d in: returning IntegrityViolation here aborts that
// transaction outright, so a forged root hash rolls back both the CRDT
// mutation and the would-be DAG append instead of corrupting local state.
func (e *Engine) verifyAndApplyCascaded(tx store.RwTx, contextId types.ContextId, d *types.Delta) error {
	// d was round-tripped through the pending store via Delta.Encode, which
	// persists only the sealed Ciphertext (Actions are a local-only view
	// populated at decrypt time); recover it the same way handleBroadcast
	// did on first receipt.
	key := contextBroadcastKey(contextId)
	plain, err := key.Decrypt(d.Ciphertext, d.Nonce)
	if err != nil {
		return err
	}
	actions, err := decodeActions(plain)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if err := e.roots.ApplyAction(tx, contextId, d.HLC, a); err != nil {
			return err
		}
	}
	got, err := e.roots.RootHash(tx, contextId)
	if err != nil {
		return err
	}
	if got != d.ExpectedRoot {
		return calerr.New(calerr.IntegrityViolation, "post-apply root hash mismatch (cascaded)")
	}
	return nil
}
