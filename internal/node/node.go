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

// Package node is the node runtime (component K): it wires components A-J
// into one running process, dispatches external requests (Execute, Query,
// CreateContext, JoinContext) onto the context manager, runs one gossip
// listener goroutine per locally joined context under an errgroup, and fans
// WASM-produced events out to subscribers. No HTTP/CLI surface lives here
// (out of scope, spec.md §1) — cmd/calimerod is the only caller.
package node

import (
	stdctx "context"
	"sync"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/calimero-network/core-sub010/internal/calerr"
	calcontext "github.com/calimero-network/core-sub010/internal/context"
	"github.com/calimero-network/core-sub010/internal/identity"
	"github.com/calimero-network/core-sub010/internal/mesh"
	"github.com/calimero-network/core-sub010/internal/runtime"
	syncpkg "github.com/calimero-network/core-sub010/internal/sync"
	"github.com/calimero-network/core-sub010/internal/types"
)

// Event is one application-emitted event fanned out to subscribers, tagged
// with the context and Delta author it came from (spec.md §6 EventStream).
type Event struct {
	ContextId types.ContextId
	Executor  types.PublicKey
	Kind      string
	Data      []byte
}

// Options configures a Node. Every field is a component built and wired by
// cmd/calimerod; Node itself constructs none of them.
type Options struct {
	Manager *calcontext.Manager
	Engine  *syncpkg.Engine
	Mesh    *mesh.Mesh
	Self    identity.KeyPair
	Logger  *zap.Logger
}

// Node is the component K contract.
type Node struct {
	manager *calcontext.Manager
	engine  *syncpkg.Engine
	mesh    *mesh.Mesh
	self    identity.KeyPair
	log     *zap.Logger

	group    *errgroup.Group
	groupCtx stdctx.Context
	cancel   stdctx.CancelFunc

	mu        sync.Mutex
	listening map[types.ContextId]bool

	subMu       sync.Mutex
	subscribers map[uuid.UUID]chan Event
}

// New constructs a Node. Run must be called once to start gossip
// listeners; a context created before Run gets its listener when Run
// starts.
func New(opts Options) *Node {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{
		manager:     opts.Manager,
		engine:      opts.Engine,
		mesh:        opts.Mesh,
		self:        opts.Self,
		log:         log,
		listening:   make(map[types.ContextId]bool),
		subscribers: make(map[uuid.UUID]chan Event),
	}
}

// Run starts the engine's direct-stream protocol handlers and a gossip
// listener for every context this node already holds local state for
// (e.g. restored from a prior run). It must be called once; Shutdown stops
// every goroutine it started.
func (n *Node) Run(ctx stdctx.Context) error {
	n.engine.Start()

	groupCtx, cancel := stdctx.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(groupCtx)
	n.group = group
	n.groupCtx = groupCtx
	n.cancel = cancel

	contexts, err := n.manager.ListContexts()
	if err != nil {
		cancel()
		return err
	}
	for _, c := range contexts {
		n.listenContext(c)
	}
	return nil
}

// Shutdown cancels every listener goroutine Run/JoinContext started and
// waits for them to exit.
func (n *Node) Shutdown() error {
	if n.cancel == nil {
		return nil
	}
	n.cancel()
	err := n.group.Wait()
	if err != nil && calerr.Is(err, calerr.Cancelled) {
		return nil
	}
	return err
}

// listenContext starts (at most once) the gossip listener goroutine for
// contextId, supervised by Run's errgroup (spec.md §4.H.1 receiver side).
func (n *Node) listenContext(contextId types.ContextId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.group == nil {
		return // Run not yet called; it lists every stored context itself
	}
	if n.listening[contextId] {
		return
	}
	n.listening[contextId] = true
	n.group.Go(func() error {
		return n.engine.ListenContext(n.groupCtx, contextId)
	})
}

// CreateContext originates a new context and starts listening to its
// gossip topic.
func (n *Node) CreateContext(appId types.ApplicationId, creator identity.KeyPair) (types.ContextId, error) {
	contextId, err := n.manager.CreateContext(appId, creator)
	if err != nil {
		return types.ContextId{}, err
	}
	n.listenContext(contextId)
	return contextId, nil
}

// JoinContext admits this node to an existing context, bootstraps its DAG,
// and starts listening to its gossip topic.
func (n *Node) JoinContext(ctx stdctx.Context, invitation calcontext.InvitationPayload, invitee identity.KeyPair, candidates []peer.ID) error {
	if err := n.manager.JoinContext(ctx, invitation, invitee, candidates); err != nil {
		return err
	}
	n.listenContext(invitation.ContextId)
	return nil
}

// ExecuteRequest runs a mutating application method and fans out any
// emitted events to subscribers (spec.md §6 Executor/EventStream).
func (n *Node) ExecuteRequest(ctx stdctx.Context, contextId types.ContextId, executor types.PublicKey, method string, input []byte) (runtime.Outcome, error) {
	outcome, err := n.manager.ExecuteRequest(ctx, contextId, executor, method, input)
	if err != nil {
		return outcome, err
	}
	for _, ev := range outcome.Events {
		n.publish(Event{ContextId: contextId, Executor: executor, Kind: ev.Kind, Data: ev.Data})
	}
	return outcome, nil
}

// Query runs a read-only application method.
func (n *Node) Query(ctx stdctx.Context, contextId types.ContextId, executor types.PublicKey, method string, input []byte) (runtime.Outcome, error) {
	return n.manager.Query(ctx, contextId, executor, method, input)
}

// PeerId returns this node's libp2p peer id (spec.md §6 node_id).
func (n *Node) PeerId() peer.ID { return n.mesh.ID() }

// PeerCount returns the number of gossip-meshed peers on contextId's topic
// (spec.md §6 mesh_peer_count).
func (n *Node) PeerCount(contextId types.ContextId) (int, error) {
	return n.mesh.PeerCount(contextId)
}

// Subscribe registers a new event subscriber and returns its id (used to
// Unsubscribe later) and the channel events are delivered on. The channel
// is buffered; a subscriber that falls behind drops events rather than
// blocking execution (spec.md §5: the node's single execution path must
// never stall on a slow consumer).
func (n *Node) Subscribe() (uuid.UUID, <-chan Event) {
	id := uuid.New()
	ch := make(chan Event, 64)
	n.subMu.Lock()
	n.subscribers[id] = ch
	n.subMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Node) Unsubscribe(id uuid.UUID) {
	n.subMu.Lock()
	ch, ok := n.subscribers[id]
	delete(n.subscribers, id)
	n.subMu.Unlock()
	if ok {
		close(ch)
	}
}

func (n *Node) publish(ev Event) {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	for _, ch := range n.subscribers {
		select {
		case ch <- ev:
		default:
			n.log.Warn("dropping event for slow subscriber", zap.String("context", ev.ContextId.String()))
		}
	}
}
