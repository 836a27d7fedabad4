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

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/identity"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
	"github.com/calimero-network/core-sub010/internal/wire"
)

// handleCatchupStream is the server side of spec.md §4.H.2: one Init frame
// names which of DeltaRequest/DagHeadsRequest/BlobRequest is being asked
// for, and the response is one or more respFrames carrying the answer.
func (e *Engine) handleCatchupStream(s network.Stream) {
	defer s.Close()
	if err := e.serveCatchup(s); err != nil {
		e.log.Warn("catchup stream failed", zap.Error(err), zap.String("peer", s.Conn().RemotePeer().String()))
		_ = s.Reset()
	}
}

func (e *Engine) serveCatchup(netStream network.Stream) error {
	stream := &timedStream{Stream: netStream, deadline: RecvTimeout}
	raw, err := stream.recvFrame()
	if err != nil {
		return err
	}
	req, err := decodeInitFrame(raw)
	if err != nil {
		return err
	}

	switch req.Kind {
	case payloadDeltaRequest:
		return e.serveDeltaRequest(stream, req)
	case payloadDagHeadsRequest:
		return e.serveDagHeadsRequest(stream, req)
	case payloadBlobRequest:
		return e.serveBlobRequest(stream, req)
	default:
		return calerr.New(calerr.InvalidArgument, "unexpected catchup init kind")
	}
}

func (e *Engine) serveDeltaRequest(stream *timedStream, req initFrame) error {
	d, err := e.dagStore.Get(req.ContextId, req.DeltaId)
	if calerr.Is(err, calerr.NotFound) {
		return stream.sendFrame(respFrame{SequenceId: 0, Kind: payloadDeltaNotFound}.encode())
	}
	if err != nil {
		return err
	}
	w := wire.NewWriter(256)
	d.Encode(w)
	return stream.sendFrame(respFrame{SequenceId: 0, Kind: payloadDeltaResponse, DeltaBytes: w.Bytes()}.encode())
}

func (e *Engine) serveDagHeadsRequest(stream *timedStream, req initFrame) error {
	heads, err := e.dagStore.Heads(req.ContextId)
	if err != nil {
		return err
	}
	root, err := e.currentRoot(req.ContextId)
	if err != nil {
		return err
	}
	return stream.sendFrame(respFrame{SequenceId: 0, Kind: payloadDagHeadsResponse, Heads: heads, RootHash: root}.encode())
}

// currentRoot computes ctx's current aggregate root hash via the
// RootHasher this Engine was constructed with.
func (e *Engine) currentRoot(contextId types.ContextId) ([32]byte, error) {
	var root [32]byte
	err := e.db.View(func(tx store.Tx) error {
		var err error
		root, err = e.roots.RootHash(tx, contextId)
		return err
	})
	return root, err
}

func (e *Engine) serveBlobRequest(stream *timedStream, req initFrame) error {
	meta, err := e.blobs.GetMeta(req.BlobId)
	if calerr.Is(err, calerr.NotFound) {
		return stream.sendFrame(respFrame{SequenceId: 0, Kind: payloadDeltaNotFound}.encode())
	}
	if err != nil {
		return err
	}
	for i := uint32(0); i < meta.ChunkCount; i++ {
		chunk, err := e.blobs.GetChunk(req.BlobId, i)
		if err != nil {
			return err
		}
		resp := respFrame{
			SequenceId: uint64(i),
			Kind:       payloadBlobShare,
			ChunkIndex: i,
			ChunkTotal: meta.ChunkCount,
			ChunkData:  chunk,
		}
		if err := stream.sendFrame(resp.encode()); err != nil {
			return err
		}
	}
	return nil
}

// requestDelta is the client side of a single DeltaRequest/DeltaResponse
// round trip.
func (e *Engine) requestDelta(ctx context.Context, contextId types.ContextId, from peer.ID, id types.DeltaId) (*types.Delta, error) {
	stream, err := e.openStreamTo(ctx, from, protoCatchup)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	nonce, err := identity.RandomNonce()
	if err != nil {
		return nil, err
	}
	req := initFrame{ContextId: contextId, PartyId: e.self.PublicKey(), Kind: payloadDeltaRequest, DeltaId: id, NextNonce: nonce}
	if err := stream.sendFrame(req.encode()); err != nil {
		return nil, err
	}
	raw, err := stream.recvFrame()
	if err != nil {
		return nil, err
	}
	resp, err := decodeRespFrame(raw)
	if err != nil {
		return nil, err
	}
	if resp.Kind == payloadDeltaNotFound {
		return nil, calerr.New(calerr.NotFound, "peer does not have requested delta")
	}
	if resp.Kind != payloadDeltaResponse {
		return nil, calerr.New(calerr.InvalidArgument, "unexpected catchup response kind for DeltaRequest")
	}
	d, err := types.DecodeDelta(wire.NewReader(resp.DeltaBytes))
	if err != nil {
		return nil, calerr.Wrap(calerr.SerializationError, "decode delta response", err)
	}
	return d, nil
}

// requestDagHeads is the client side of a DagHeadsRequest/DagHeadsResponse
// round trip (spec.md §4.H.3 step 1).
func (e *Engine) requestDagHeads(ctx context.Context, contextId types.ContextId, from peer.ID) ([]types.DeltaId, [32]byte, error) {
	stream, err := e.openStreamTo(ctx, from, protoCatchup)
	if err != nil {
		return nil, [32]byte{}, err
	}
	defer stream.Close()

	nonce, err := identity.RandomNonce()
	if err != nil {
		return nil, [32]byte{}, err
	}
	req := initFrame{ContextId: contextId, PartyId: e.self.PublicKey(), Kind: payloadDagHeadsRequest, NextNonce: nonce}
	if err := stream.sendFrame(req.encode()); err != nil {
		return nil, [32]byte{}, err
	}
	raw, err := stream.recvFrame()
	if err != nil {
		return nil, [32]byte{}, err
	}
	resp, err := decodeRespFrame(raw)
	if err != nil {
		return nil, [32]byte{}, err
	}
	if resp.Kind != payloadDagHeadsResponse {
		return nil, [32]byte{}, calerr.New(calerr.InvalidArgument, "unexpected catchup response kind for DagHeadsRequest")
	}
	return resp.Heads, resp.RootHash, nil
}

// RequestBlob fetches id in full from peer from, reassembling it chunk by
// chunk via BlobRequest/BlobShare (spec.md §8 S6), and verifies the
// reassembled content hashes to id before returning. A no-op if id is
// already present locally.
func (e *Engine) RequestBlob(ctx context.Context, from peer.ID, id types.BlobId) error {
	if has, err := e.blobs.Has(id); err != nil {
		return err
	} else if has {
		return nil
	}

	stream, err := e.openStreamTo(ctx, from, protoCatchup)
	if err != nil {
		return err
	}
	defer stream.Close()

	nonce, err := identity.RandomNonce()
	if err != nil {
		return err
	}
	req := initFrame{PartyId: e.self.PublicKey(), Kind: payloadBlobRequest, BlobId: id, NextNonce: nonce}
	if err := stream.sendFrame(req.encode()); err != nil {
		return err
	}

	seq := &sequenceTracker{}
	var chunkTotal uint32
	for {
		raw, err := stream.recvFrame()
		if err != nil {
			return err
		}
		resp, err := decodeRespFrame(raw)
		if err != nil {
			return err
		}
		if resp.Kind == payloadDeltaNotFound {
			return calerr.New(calerr.NotFound, "peer does not have requested blob")
		}
		if resp.Kind != payloadBlobShare {
			return calerr.New(calerr.InvalidArgument, "unexpected catchup response kind for BlobRequest")
		}
		if err := seq.expect(resp.SequenceId); err != nil {
			return err
		}
		if err := e.blobs.PutChunk(id, resp.ChunkIndex, resp.ChunkData); err != nil {
			return err
		}
		chunkTotal = resp.ChunkTotal
		if resp.ChunkIndex+1 >= chunkTotal {
			break
		}
	}

	if err := e.blobs.EnsureMeta(id, 0, chunkTotal); err != nil {
		return err
	}
	content, err := e.blobs.Get(id)
	if err != nil {
		return err
	}
	if sha256.Sum256(content) != [32]byte(id) {
		_ = e.blobs.Delete(id)
		return calerr.New(calerr.IntegrityViolation, "reassembled blob content hash mismatch")
	}
	return nil
}

// fetchAndApply retrieves id and every ancestor it transitively depends on
// that this node does not yet have, applying them in parent-first order
// (spec.md §8 S3). It is idempotent: a delta already present is a no-op.
func (e *Engine) fetchAndApply(ctx context.Context, contextId types.ContextId, from peer.ID, id types.DeltaId) error {
	if has, err := e.dagStore.Has(contextId, id); err != nil {
		return err
	} else if has {
		return nil
	}

	if err := e.limiters.get(from).Wait(ctx); err != nil {
		return calerr.Wrap(calerr.ResourceExhausted, "delta request rate limited", err)
	}
	d, err := e.requestDelta(ctx, contextId, from, id)
	if err != nil {
		return err
	}
	for _, p := range d.Parents {
		if err := e.fetchAndApply(ctx, contextId, from, p); err != nil {
			return err
		}
	}

	key := contextBroadcastKey(contextId)
	plain, err := key.Decrypt(d.Ciphertext, d.Nonce)
	if err != nil {
		return err
	}
	actions, err := decodeActions(plain)
	if err != nil {
		return err
	}
	d.Actions = actions
	return e.applyAndAppend(contextId, d)
}

// requestMissingParents is spec.md §4.H.1 step 4's client side: fetch every
// currently-missing parent (transitively) from the peer that delivered the
// blocked broadcast, then cascade anything those fetches unblocked.
func (e *Engine) requestMissingParents(ctx context.Context, contextId types.ContextId, from peer.ID, missing []types.DeltaId) error {
	for _, id := range missing {
		if err := e.fetchAndApply(ctx, contextId, from, id); err != nil {
			return err
		}
	}
	return e.cascadeAndVerify(contextId)
}
