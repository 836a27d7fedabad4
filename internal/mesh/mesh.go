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

// Package mesh is the gossip mesh (component G): a libp2p host with
// gossipsub pub/sub per context, direct streams for the sync engine's
// request/response protocols, and best-effort NAT traversal.
package mesh

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	mplex "github.com/libp2p/go-libp2p-mplex"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/types"
)

// Options configures a Mesh (spec.md §4.G).
type Options struct {
	ListenAddrs []string
	Identity    crypto.PrivKey
	Logger      *zap.Logger
}

// topicName is the gossipsub topic one context's members publish deltas on:
// the hex ContextId, so topic membership maps 1:1 onto context membership.
func topicName(ctx types.ContextId) string { return ctx.String() }

// Mesh wraps one libp2p host plus its gossipsub router.
type Mesh struct {
	host   host.Host
	pubsub *pubsub.PubSub
	log    *zap.Logger

	mu     sync.Mutex
	topics map[types.ContextId]*pubsub.Topic
}

// New constructs and starts a Mesh: a libp2p host listening on
// opts.ListenAddrs, using opts.Identity as its peer identity (the node's
// Ed25519 keypair, per spec.md §4.F/§4.G sharing one identity across
// signing and transport), mplex as its only stream muxer (Erigon's go.mod
// already names go-libp2p-mplex; passing libp2p.Muxer replaces libp2p's
// default muxer list, so yamux is not enabled), and a gossipsub router.
func New(ctx context.Context, opts Options) (*Mesh, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(opts.ListenAddrs...),
		libp2p.Identity(opts.Identity),
		libp2p.Muxer("/mplex/6.7.0", mplex.DefaultTransport),
	)
	if err != nil {
		return nil, calerr.Wrap(calerr.StorageError, "create libp2p host", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, calerr.Wrap(calerr.StorageError, "create gossipsub router", err)
	}

	m := &Mesh{host: h, pubsub: ps, log: log, topics: make(map[types.ContextId]*pubsub.Topic)}
	go m.attemptPortMapping()
	return m, nil
}

func (m *Mesh) Close() error { return m.host.Close() }

// ID returns this node's libp2p peer id.
func (m *Mesh) ID() peer.ID { return m.host.ID() }

// Addrs returns the addresses this host is currently reachable on.
func (m *Mesh) Addrs() []multiaddr.Multiaddr { return m.host.Addrs() }

// Connect dials a peer named by a full p2p multiaddr (.../p2p/<id>).
func (m *Mesh) Connect(ctx context.Context, addr string) error {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return calerr.Wrap(calerr.InvalidArgument, "parse peer multiaddr", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return calerr.Wrap(calerr.InvalidArgument, "resolve peer addr info", err)
	}
	if err := m.host.Connect(ctx, *info); err != nil {
		return calerr.Wrap(calerr.StorageError, "connect to peer", err)
	}
	return nil
}

func (m *Mesh) topic(ctx types.ContextId) (*pubsub.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.topics[ctx]; ok {
		return t, nil
	}
	t, err := m.pubsub.Join(topicName(ctx))
	if err != nil {
		return nil, calerr.Wrap(calerr.StorageError, "join gossip topic", err)
	}
	m.topics[ctx] = t
	return t, nil
}

// Subscription is a live feed of gossip messages for one context.
type Subscription struct {
	sub *pubsub.Subscription
	self peer.ID
}

// Subscribe joins ctx's gossip topic and returns a feed of messages from
// other peers (spec.md §4.H.1 broadcast receive side).
func (m *Mesh) Subscribe(ctx types.ContextId) (*Subscription, error) {
	t, err := m.topic(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, calerr.Wrap(calerr.StorageError, "subscribe to gossip topic", err)
	}
	return &Subscription{sub: sub, self: m.host.ID()}, nil
}

// Next blocks until the next message from a remote peer arrives, skipping
// messages this node published itself.
func (s *Subscription) Next(ctx context.Context) ([]byte, peer.ID, error) {
	for {
		msg, err := s.sub.Next(ctx)
		if err != nil {
			return nil, "", calerr.Wrap(calerr.Cancelled, "gossip subscription closed", err)
		}
		if msg.ReceivedFrom == s.self {
			continue
		}
		return msg.Data, msg.ReceivedFrom, nil
	}
}

func (s *Subscription) Close() { s.sub.Cancel() }

// Publish broadcasts data on ctx's gossip topic (spec.md §4.H.1).
func (m *Mesh) Publish(ctx context.Context, contextId types.ContextId, data []byte) error {
	t, err := m.topic(contextId)
	if err != nil {
		return err
	}
	if err := t.Publish(ctx, data); err != nil {
		return calerr.Wrap(calerr.StorageError, "publish gossip message", err)
	}
	return nil
}

// Peers returns the peers currently meshed on ctx's topic.
func (m *Mesh) Peers(ctx types.ContextId) ([]peer.ID, error) {
	t, err := m.topic(ctx)
	if err != nil {
		return nil, err
	}
	return t.ListPeers(), nil
}

// PeerCount is a convenience wrapper around Peers for callers that only
// need the count (spec.md §6 mesh_peer_count).
func (m *Mesh) PeerCount(ctx types.ContextId) (int, error) {
	peers, err := m.Peers(ctx)
	if err != nil {
		return 0, err
	}
	return len(peers), nil
}

// SetStreamHandler registers a handler for direct (non-pubsub) protocol
// streams — the transport the sync engine's request/response and handshake
// protocols (§4.H.2-H.4) run over.
func (m *Mesh) SetStreamHandler(pid protocol.ID, handler network.StreamHandler) {
	m.host.SetStreamHandler(pid, handler)
}

// OpenStream opens a direct stream to p speaking pid.
func (m *Mesh) OpenStream(ctx context.Context, p peer.ID, pid protocol.ID) (network.Stream, error) {
	s, err := m.host.NewStream(ctx, p, pid)
	if err != nil {
		return nil, calerr.Wrap(calerr.StorageError, fmt.Sprintf("open stream (%s)", pid), err)
	}
	return s, nil
}
