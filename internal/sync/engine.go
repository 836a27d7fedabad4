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
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
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

// protoCatchup/protoHandshake are the direct-stream protocol ids H.2-H.4
// run over, distinct from the gossip topics H.1 uses.
const (
	protoCatchup   protocol.ID = "/calimero/sync/catchup/1.0.0"
	protoHandshake protocol.ID = "/calimero/sync/handshake/1.0.0"
)

// RecvTimeout is H.2's default per-message deadline (spec.md §4.H.2).
const RecvTimeout = 30 * time.Second

// RootHasher computes the aggregate root hash of a context's current CRDT
// state (spec.md §3 "current root-state hash"): the authority a received
// Delta's ExpectedRoot is checked against (§4.H.1 step 5) and the value a
// DagHeadsResponse reports (§4.H.2). Implemented by internal/context (the
// only component that knows which collection handles a context has
// touched); kept as an interface here so internal/sync never imports
// internal/context (which in turn depends on internal/sync to broadcast).
type RootHasher interface {
	RootHash(tx store.Tx, ctx types.ContextId) ([32]byte, error)
	// ApplyAction dispatches one decoded Action against ctx's state,
	// inside tx, at ts — the same operation ContextManager performs
	// locally after WASM execution, reused here to apply a remote
	// delta's actions.
	ApplyAction(tx store.RwTx, ctx types.ContextId, ts hlc.Timestamp, action types.Action) error
}

// Engine is the component H contract: the node's local identity, storage
// and network handles, plus the quarantine/rate-limit state H.1 and H.5
// need across calls.
type Engine struct {
	db       store.DB
	dagStore *dag.Store
	blobs    *blob.Store
	self     identity.KeyPair
	mesh     *mesh.Mesh
	roots    RootHasher
	clock    *hlc.Clock
	log      *zap.Logger

	quarantine *quarantineList
	limiters   *peerLimiters
}

// Options configures an Engine.
type Options struct {
	DB       store.DB
	Dag      *dag.Store
	Blobs    *blob.Store
	Self     identity.KeyPair
	Mesh     *mesh.Mesh
	Roots    RootHasher
	Now      func() time.Time
	Logger   *zap.Logger
}

func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		db:         opts.DB,
		dagStore:   opts.Dag,
		blobs:      opts.Blobs,
		self:       opts.Self,
		mesh:       opts.Mesh,
		roots:      opts.Roots,
		clock:      hlc.New(opts.Self.PublicKey(), opts.Now),
		log:        log,
		quarantine: newQuarantineList(opts.Now),
		limiters:   newPeerLimiters(),
	}
}

// Start registers this node's direct-stream protocol handlers. It must run
// once per process before any peer can reach this node's H.2/H.4 server
// side; H.1 gossip receipt is driven separately per joined context by
// ListenContext.
func (e *Engine) Start() {
	e.mesh.SetStreamHandler(protoCatchup, e.handleCatchupStream)
	e.mesh.SetStreamHandler(protoHandshake, e.handleHandshakeStream)
}

// ListenContext subscribes to ctx's gossip topic and processes incoming
// broadcasts until the context is canceled (spec.md §4.H.1 receiver side).
// Run as a long-lived goroutine per joined context by internal/node.
func (e *Engine) ListenContext(ctx context.Context, contextId types.ContextId) error {
	sub, err := e.mesh.Subscribe(contextId)
	if err != nil {
		return err
	}
	defer sub.Close()
	for {
		data, from, err := sub.Next(ctx)
		if err != nil {
			if calerr.Is(err, calerr.Cancelled) {
				return nil
			}
			return err
		}
		if err := e.handleBroadcast(ctx, contextId, from, data); err != nil {
			e.log.Warn("dropping broadcast message", zap.Error(err), zap.String("context", contextId.String()))
		}
	}
}

func (e *Engine) openStreamTo(ctx context.Context, p peer.ID, proto protocol.ID) (*timedStream, error) {
	s, err := e.mesh.OpenStream(ctx, p, proto)
	if err != nil {
		return nil, err
	}
	return &timedStream{Stream: s, deadline: RecvTimeout}, nil
}
