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
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/calimero-network/core-sub010/internal/blob"
	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/dag"
	"github.com/calimero-network/core-sub010/internal/hlc"
	"github.com/calimero-network/core-sub010/internal/identity"
	"github.com/calimero-network/core-sub010/internal/mesh"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
)

// fakeRoots is a stand-in for internal/context.Manager: it folds Actions
// into store.ContextState through the same tx the caller is using, so a
// rolled-back Update genuinely discards the mutation instead of just
// pretending to (an in-memory map fake would not catch the bug this file's
// cascade tests target). Root hash is the SHA-256 of every stored
// (key, value) pair for ctx, in key order.
type fakeRoots struct{}

func stateKey(ctx types.ContextId, key []byte) []byte {
	k := make([]byte, 32+len(key))
	copy(k, ctx[:])
	copy(k[32:], key)
	return k
}

func (fakeRoots) ApplyAction(tx store.RwTx, ctx types.ContextId, _ hlc.Timestamp, action types.Action) error {
	k := stateKey(ctx, action.Key)
	if action.Kind == types.ActionDelete {
		return tx.Delete(store.ContextState, k)
	}
	return tx.Put(store.ContextState, k, append([]byte(nil), action.Value...))
}

func (fakeRoots) RootHash(tx store.Tx, ctx types.ContextId) ([32]byte, error) {
	h := sha256.New()
	it := tx.Iter(store.ContextState)
	defer it.Close()
	for ok := it.Seek(ctx[:]); ok; ok = it.Next() {
		h.Write(it.Key())
		h.Write(it.Value())
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func newTestEngine(t *testing.T) (*Engine, *mesh.Mesh) {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	sk, err := mesh.LibP2PIdentity(kp)
	require.NoError(t, err)
	m, err := mesh.New(context.Background(), mesh.Options{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		Identity:    sk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	db := store.NewMemDB()
	e := New(Options{
		DB:     db,
		Dag:    dag.New(db),
		Blobs:  blob.New(db),
		Self:   kp,
		Mesh:   m,
		Roots:  fakeRoots{},
		Now:    time.Now,
		Logger: zap.NewNop(),
	})
	e.Start()
	return e, m
}

func addrOf(t *testing.T, m *mesh.Mesh) string {
	t.Helper()
	addrs := m.Addrs()
	require.NotEmpty(t, addrs)
	return addrs[0].String() + "/p2p/" + m.ID().String()
}

var errSpeculative = errors.New("speculative root computation, discard on return")

// expectedRootAfter computes the root hash e.roots would report after
// applying actions on top of ctx's currently committed state, without
// persisting the attempt (the Update closure always returns an error, so
// MemDB.Update discards the speculative writes).
func expectedRootAfter(t *testing.T, e *Engine, contextId types.ContextId, actions []types.Action) [32]byte {
	t.Helper()
	var out [32]byte
	err := e.db.Update(func(tx store.RwTx) error {
		for _, a := range actions {
			if err := e.roots.ApplyAction(tx, contextId, hlc.Timestamp{}, a); err != nil {
				return err
			}
		}
		var err error
		out, err = e.roots.RootHash(tx, contextId)
		if err != nil {
			return err
		}
		return errSpeculative
	})
	if err != nil && !errors.Is(err, errSpeculative) {
		require.NoError(t, err)
	}
	return out
}

func snapshotState(t *testing.T, e *Engine, contextId types.ContextId) map[string][]byte {
	t.Helper()
	out := map[string][]byte{}
	err := e.db.View(func(tx store.Tx) error {
		it := tx.Iter(store.ContextState)
		defer it.Close()
		for ok := it.Seek(contextId[:]); ok; ok = it.Next() {
			out[string(it.Key())] = append([]byte(nil), it.Value()...)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func sealedDelta(t *testing.T, contextId types.ContextId, author identity.KeyPair, parents []types.DeltaId, ts hlc.Timestamp, actions []types.Action, expectedRoot [32]byte) *types.Delta {
	t.Helper()
	d := &types.Delta{
		Id:           types.ComputeDeltaId(parents, ts, actions),
		Parents:      parents,
		HLC:          ts,
		ExpectedRoot: expectedRoot,
		Actions:      actions,
		Author:       author.PublicKey(),
	}
	require.NoError(t, SealDeltaActions(contextId, d))
	return d
}

func encodedBroadcast(contextId types.ContextId, d *types.Delta) []byte {
	msg := BroadcastMessage{
		ContextId:    contextId,
		AuthorPublic: d.Author,
		RootHash:     d.ExpectedRoot,
		Parents:      d.Parents,
		HLC:          hlcWire{WallMS: d.HLC.WallMS, Counter: d.HLC.Counter, Author: d.HLC.Author},
		Ciphertext:   d.Ciphertext,
		Nonce:        d.Nonce,
	}
	return msg.encode()
}

// TestHandleBroadcastAppliesDeltaAndCascadesPendingChild covers the H.1
// happy path plus H.5 cascade: a child arrives before its parent, is
// enqueued, and is folded in once the parent is later delivered.
func TestHandleBroadcastAppliesDeltaAndCascadesPendingChild(t *testing.T) {
	e, _ := newTestEngine(t)
	var contextId types.ContextId
	contextId[0] = 1
	author, err := identity.Generate()
	require.NoError(t, err)

	rootTs := hlc.Timestamp{WallMS: 100, Author: author.PublicKey()}
	rootRoot := expectedRootAfter(t, e, contextId, nil)
	root := sealedDelta(t, contextId, author, nil, rootTs, nil, rootRoot)

	childAction := types.Action{Kind: types.ActionUpdate, Key: []byte("k"), Value: []byte("v")}
	childTs := hlc.Timestamp{WallMS: 200, Author: author.PublicKey()}
	childRoot := expectedRootAfter(t, e, contextId, []types.Action{childAction})
	child := sealedDelta(t, contextId, author, []types.DeltaId{root.Id}, childTs, []types.Action{childAction}, childRoot)

	// Child arrives first: it has a missing parent, so it is merely
	// enqueued. The network fetch this would normally trigger is expected
	// to fail (the placeholder sender "from" peer id is unreachable); the
	// delta must still be pending afterward.
	_ = e.handleBroadcast(context.Background(), contextId, "unreachable-peer", encodedBroadcast(contextId, child))
	missing, err := e.dagStore.MissingParents(contextId)
	require.NoError(t, err)
	require.Equal(t, []types.DeltaId{root.Id}, missing)

	require.NoError(t, e.handleBroadcast(context.Background(), contextId, "unreachable-peer", encodedBroadcast(contextId, root)))

	has, err := e.dagStore.Has(contextId, child.Id)
	require.NoError(t, err)
	require.True(t, has, "cascade must apply the previously-pending child once its parent lands")

	got, err := e.currentRoot(contextId)
	require.NoError(t, err)
	require.Equal(t, childRoot, got)
}

// TestHandleBroadcastQuarantinesSenderOnRootHashMismatch covers scenario S4
// on the direct-receipt path: a forged ExpectedRoot must be rejected, the
// CRDT mutation must not persist, and the author must be quarantined so a
// second (even legitimate) delta from them is rejected outright.
func TestHandleBroadcastQuarantinesSenderOnRootHashMismatch(t *testing.T) {
	e, _ := newTestEngine(t)
	var contextId types.ContextId
	contextId[0] = 2
	author, err := identity.Generate()
	require.NoError(t, err)

	action := types.Action{Kind: types.ActionUpdate, Key: []byte("k"), Value: []byte("v")}
	ts := hlc.Timestamp{WallMS: 100, Author: author.PublicKey()}
	forged := expectedRootAfter(t, e, contextId, []types.Action{action})
	forged[0] ^= 0xFF // corrupt it
	bad := sealedDelta(t, contextId, author, nil, ts, []types.Action{action}, forged)

	err = e.handleBroadcast(context.Background(), contextId, "peer-a", encodedBroadcast(contextId, bad))
	require.Error(t, err)
	require.True(t, calerr.Is(err, calerr.IntegrityViolation))

	has, err := e.dagStore.Has(contextId, bad.Id)
	require.NoError(t, err)
	require.False(t, has, "a delta failing root verification must never be durably appended")

	root, err := e.currentRoot(contextId)
	require.NoError(t, err)
	require.Equal(t, sha256.Sum256(nil), root, "the rejected delta's CRDT mutation must not persist")

	require.True(t, e.quarantine.IsQuarantined(contextId, author.PublicKey()))

	good := sealedDelta(t, contextId, author, nil, hlc.Timestamp{WallMS: 200, Author: author.PublicKey()}, nil, [32]byte{})
	err = e.handleBroadcast(context.Background(), contextId, "peer-a", encodedBroadcast(contextId, good))
	require.True(t, calerr.Is(err, calerr.Unauthorized), "a quarantined sender's further deltas must be rejected outright")
}

// TestCascadeQuarantinesForgerButAppliesHonestSibling is the cascade-path
// counterpart of S4: two deltas are both blocked on the same missing
// parent, one honest and one forged. Once the parent lands, dag.Store's
// verify-then-append must keep the forged delta's mutation from ever
// committing while still applying the honest sibling.
func TestCascadeQuarantinesForgerButAppliesHonestSibling(t *testing.T) {
	e, _ := newTestEngine(t)
	var contextId types.ContextId
	contextId[0] = 3

	honestAuthor, err := identity.Generate()
	require.NoError(t, err)
	forgerAuthor, err := identity.Generate()
	require.NoError(t, err)

	rootTs := hlc.Timestamp{WallMS: 100, Author: honestAuthor.PublicKey()}
	rootRoot := expectedRootAfter(t, e, contextId, nil)
	root := sealedDelta(t, contextId, honestAuthor, nil, rootTs, nil, rootRoot)
	require.NoError(t, e.applyAndAppend(contextId, root))

	honestAction := types.Action{Kind: types.ActionUpdate, Key: []byte("honest"), Value: []byte("v1")}
	honestTs := hlc.Timestamp{WallMS: 200, Author: honestAuthor.PublicKey()}
	honestRoot := expectedRootAfter(t, e, contextId, []types.Action{honestAction})
	honest := sealedDelta(t, contextId, honestAuthor, []types.DeltaId{root.Id}, honestTs, []types.Action{honestAction}, honestRoot)

	forgedAction := types.Action{Kind: types.ActionUpdate, Key: []byte("forged"), Value: []byte("v2")}
	forgerTs := hlc.Timestamp{WallMS: 200, Author: forgerAuthor.PublicKey()}
	var forgedRoot [32]byte
	forgedRoot[0] = 0xAB // never matches any real post-apply state
	forger := sealedDelta(t, contextId, forgerAuthor, []types.DeltaId{root.Id}, forgerTs, []types.Action{forgedAction}, forgedRoot)

	require.NoError(t, e.dagStore.EnqueuePending(contextId, honest))
	require.NoError(t, e.dagStore.EnqueuePending(contextId, forger))

	require.NoError(t, e.cascadeAndVerify(contextId))

	hasHonest, err := e.dagStore.Has(contextId, honest.Id)
	require.NoError(t, err)
	require.True(t, hasHonest)

	hasForged, err := e.dagStore.Has(contextId, forger.Id)
	require.NoError(t, err)
	require.False(t, hasForged, "a cascaded delta failing root verification must never be durably appended")

	require.True(t, e.quarantine.IsQuarantined(contextId, forgerAuthor.PublicKey()))
	require.False(t, e.quarantine.IsQuarantined(contextId, honestAuthor.PublicKey()))

	got, err := e.currentRoot(contextId)
	require.NoError(t, err)
	require.Equal(t, honestRoot, got, "only the honest sibling's mutation may have landed")

	missing, err := e.dagStore.MissingParents(contextId)
	require.NoError(t, err)
	require.Empty(t, missing, "the rejected delta must still be dropped from the pending index")
}

// TestFetchAndApplyRetrievesMissingParentOverStream covers scenario S3: a
// node lacking both a delta and its parent fetches each, recursively, over
// a real direct stream to a peer that has them.
func TestFetchAndApplyRetrievesMissingParentOverStream(t *testing.T) {
	server, serverMesh := newTestEngine(t)
	client, clientMesh := newTestEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, clientMesh.Connect(ctx, addrOf(t, serverMesh)))

	var contextId types.ContextId
	contextId[0] = 4
	author, err := identity.Generate()
	require.NoError(t, err)

	rootTs := hlc.Timestamp{WallMS: 100, Author: author.PublicKey()}
	rootRoot := expectedRootAfter(t, server, contextId, nil)
	root := sealedDelta(t, contextId, author, nil, rootTs, nil, rootRoot)
	require.NoError(t, server.applyAndAppend(contextId, root))

	action := types.Action{Kind: types.ActionUpdate, Key: []byte("k"), Value: []byte("v")}
	midTs := hlc.Timestamp{WallMS: 200, Author: author.PublicKey()}
	midRoot := expectedRootAfter(t, server, contextId, []types.Action{action})
	mid := sealedDelta(t, contextId, author, []types.DeltaId{root.Id}, midTs, []types.Action{action}, midRoot)
	require.NoError(t, server.applyAndAppend(contextId, mid))

	require.NoError(t, client.fetchAndApply(ctx, contextId, serverMesh.ID(), mid.Id))

	hasRoot, err := client.dagStore.Has(contextId, root.Id)
	require.NoError(t, err)
	require.True(t, hasRoot, "fetchAndApply must transitively retrieve the missing ancestor")

	hasMid, err := client.dagStore.Has(contextId, mid.Id)
	require.NoError(t, err)
	require.True(t, hasMid)

	got, err := client.currentRoot(contextId)
	require.NoError(t, err)
	require.Equal(t, midRoot, got)
}

// TestRequestBlobFetchesChunksOverStream covers scenario S6: a node lacking
// a blob fetches and reassembles it chunk by chunk from a peer, verifying
// the reassembled content hash.
func TestRequestBlobFetchesChunksOverStream(t *testing.T) {
	server, serverMesh := newTestEngine(t)
	client, clientMesh := newTestEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, clientMesh.Connect(ctx, addrOf(t, serverMesh)))

	content := make([]byte, blob.ChunkSize*2+17)
	for i := range content {
		content[i] = byte(i)
	}
	id, size, err := server.blobs.Put(bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, uint64(len(content)), size)

	require.NoError(t, client.RequestBlob(ctx, serverMesh.ID(), id))

	has, err := client.blobs.Has(id)
	require.NoError(t, err)
	require.True(t, has)

	got, err := client.blobs.Get(id)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

// TestBootstrapCatchesUpAndVerifiesRootHash covers scenario S5: a late
// joiner fetches every head (transitively) from a single peer and confirms
// its resulting local root hash matches what that peer reported. The
// golden-state diff between both replicas' CRDT snapshots, not just the
// root hash, is asserted via cmp.Diff.
func TestBootstrapCatchesUpAndVerifiesRootHash(t *testing.T) {
	server, serverMesh := newTestEngine(t)
	client, clientMesh := newTestEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, clientMesh.Connect(ctx, addrOf(t, serverMesh)))

	var contextId types.ContextId
	contextId[0] = 5
	author, err := identity.Generate()
	require.NoError(t, err)

	rootTs := hlc.Timestamp{WallMS: 100, Author: author.PublicKey()}
	rootRoot := expectedRootAfter(t, server, contextId, nil)
	root := sealedDelta(t, contextId, author, nil, rootTs, nil, rootRoot)
	require.NoError(t, server.applyAndAppend(contextId, root))

	action := types.Action{Kind: types.ActionUpdate, Key: []byte("k"), Value: []byte("v")}
	midTs := hlc.Timestamp{WallMS: 200, Author: author.PublicKey()}
	midRoot := expectedRootAfter(t, server, contextId, []types.Action{action})
	mid := sealedDelta(t, contextId, author, []types.DeltaId{root.Id}, midTs, []types.Action{action}, midRoot)
	require.NoError(t, server.applyAndAppend(contextId, mid))

	require.NoError(t, client.Bootstrap(ctx, contextId, serverMesh.ID()))

	if diff := cmp.Diff(snapshotState(t, server, contextId), snapshotState(t, client, contextId)); diff != "" {
		t.Fatalf("client state diverged from bootstrap source (-server +client):\n%s", diff)
	}
}

// TestBootstrapWithRetryFallsBackToNextCandidate ensures a candidate that
// cannot be reached does not abort the whole catchup attempt.
func TestBootstrapWithRetryFallsBackToNextCandidate(t *testing.T) {
	server, serverMesh := newTestEngine(t)
	client, clientMesh := newTestEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, clientMesh.Connect(ctx, addrOf(t, serverMesh)))

	var contextId types.ContextId
	contextId[0] = 6
	author, err := identity.Generate()
	require.NoError(t, err)
	rootRoot := expectedRootAfter(t, server, contextId, nil)
	root := sealedDelta(t, contextId, author, nil, hlc.Timestamp{WallMS: 100, Author: author.PublicKey()}, nil, rootRoot)
	require.NoError(t, server.applyAndAppend(contextId, root))

	unreachable, err := identity.Generate()
	require.NoError(t, err)
	unreachableSK, err := mesh.LibP2PIdentity(unreachable)
	require.NoError(t, err)
	unreachableId, err := peer.IDFromPublicKey(unreachableSK.GetPublic())
	require.NoError(t, err)

	require.NoError(t, client.BootstrapWithRetry(ctx, contextId, []peer.ID{unreachableId, serverMesh.ID()}))
}

func TestEnsureSenderKeyNegotiatesMatchingSenderKey(t *testing.T) {
	a, aMesh := newTestEngine(t)
	b, bMesh := newTestEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, aMesh.Connect(ctx, addrOf(t, bMesh)))

	var contextId types.ContextId
	contextId[0] = 8

	require.NoError(t, a.EnsureSenderKey(ctx, contextId, bMesh.ID(), b.self.PublicKey()))

	require.Eventually(t, func() bool {
		has, err := b.hasSenderKey(contextId, a.self.PublicKey())
		return err == nil && has
	}, 5*time.Second, 50*time.Millisecond, "responder side of the handshake must record a's sender key")

	keyA, err := a.peerKey(contextId, b.self.PublicKey())
	require.NoError(t, err)
	keyB, err := b.peerKey(contextId, a.self.PublicKey())
	require.NoError(t, err)
	require.Equal(t, keyA, keyB)
}
