package mesh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core-sub010/internal/identity"
	"github.com/calimero-network/core-sub010/internal/types"
)

func newTestMesh(t *testing.T) *Mesh {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	sk, err := LibP2PIdentity(kp)
	require.NoError(t, err)

	m, err := New(context.Background(), Options{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		Identity:    sk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestTopicNameIsHexContextId(t *testing.T) {
	ctx := types.ContextId{0xab, 0xcd}
	require.Equal(t, ctx.String(), topicName(ctx))
}

func TestTwoPeersExchangeGossipMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("gossipsub mesh formation needs real wall-clock time")
	}

	a := newTestMesh(t)
	b := newTestMesh(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	require.NoError(t, a.Connect(ctx, firstAddr(t, b)))

	contextId := types.ContextId{1, 2, 3}
	subA, err := a.Subscribe(contextId)
	require.NoError(t, err)
	defer subA.Close()
	subB, err := b.Subscribe(contextId)
	require.NoError(t, err)
	defer subB.Close()

	require.Eventually(t, func() bool {
		n, _ := a.PeerCount(contextId)
		return n > 0
	}, 10*time.Second, 100*time.Millisecond, "gossip mesh never formed between the two peers")

	payload := []byte("delta announcement")
	require.NoError(t, a.Publish(ctx, contextId, payload))

	data, from, err := subB.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, payload, data)
	require.Equal(t, a.ID(), from)
}

func firstAddr(t *testing.T, m *Mesh) string {
	t.Helper()
	addrs := m.Addrs()
	require.NotEmpty(t, addrs)
	return addrs[0].String() + "/p2p/" + m.ID().String()
}
