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

package node

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core-sub010/internal/blob"
	calcontext "github.com/calimero-network/core-sub010/internal/context"
	"github.com/calimero-network/core-sub010/internal/configoracle"
	"github.com/calimero-network/core-sub010/internal/dag"
	"github.com/calimero-network/core-sub010/internal/identity"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
)

// newTestNode builds a Node around a real Manager but a nil Engine/Mesh, for
// tests that never call Run/JoinContext/PeerCount — the same scoping the
// context manager's own tests use to avoid needing a real wasm Host.
func newTestNode(t *testing.T) (*Node, identity.KeyPair) {
	t.Helper()
	db := store.NewMemDB()
	oracle := configoracle.NewMemory()
	manager := calcontext.NewManager(calcontext.ManagerOptions{
		DB:     db,
		Dag:    dag.New(db),
		Blobs:  blob.New(db),
		Oracle: oracle,
	})
	self, err := identity.Generate()
	require.NoError(t, err)
	n := New(Options{Manager: manager, Self: self})
	return n, self
}

func TestCreateContextDelegatesToManager(t *testing.T) {
	n, self := newTestNode(t)
	contextId, err := n.CreateContext(types.ApplicationId{1}, self)
	require.NoError(t, err)
	require.NotZero(t, contextId)

	contexts, err := n.manager.ListContexts()
	require.NoError(t, err)
	require.Equal(t, []types.ContextId{contextId}, contexts)
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	n, _ := newTestNode(t)
	id, ch := n.Subscribe()
	defer n.Unsubscribe(id)

	want := Event{Kind: "greet", Data: []byte("hi")}
	n.publish(want)

	select {
	case got := <-ch:
		require.Equal(t, want, got)
	default:
		t.Fatal("expected buffered event to be immediately available")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	n, _ := newTestNode(t)
	id, ch := n.Subscribe()
	defer n.Unsubscribe(id)

	for i := 0; i < cap(ch)+8; i++ {
		n.publish(Event{Kind: "spam"})
	}
	require.Len(t, ch, cap(ch))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	n, _ := newTestNode(t)
	id, ch := n.Subscribe()
	n.Unsubscribe(id)

	_, ok := <-ch
	require.False(t, ok)
}

func TestSubscribersAreIndependent(t *testing.T) {
	n, _ := newTestNode(t)
	id1, ch1 := n.Subscribe()
	id2, ch2 := n.Subscribe()
	defer n.Unsubscribe(id1)
	defer n.Unsubscribe(id2)

	n.publish(Event{Kind: "fanout"})
	require.Len(t, ch1, 1)
	require.Len(t, ch2, 1)
	require.NotEqual(t, id1, id2)
}
