package dag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/calimero-network/core-sub010/internal/hlc"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
)

func mkDelta(author byte, ms int64, counter uint32, parents ...types.DeltaId) *types.Delta {
	ts := hlc.Timestamp{WallMS: ms, Counter: counter, Author: [32]byte{author}}
	actions := []types.Action{{Kind: types.ActionUpdate, TypeId: 1, Key: []byte("k"), Value: []byte{author}}}
	id := types.ComputeDeltaId(parents, ts, actions)
	return &types.Delta{
		Id:               id,
		Parents:          parents,
		HLC:              ts,
		Author:           types.PublicKey{author},
		Ciphertext:       []byte{author},
		InsertedAtUnixMS: ms,
	}
}

func newStore() *Store { return New(store.NewMemDB()) }

func TestAppendRejectsMissingParent(t *testing.T) {
	s := newStore()
	var ctx types.ContextId
	orphan := mkDelta(1, 100, 0, types.DeltaId{9})
	err := s.Append(ctx, orphan)
	require.True(t, calerr.Is(err, calerr.MissingDependency))
}

func TestAppendUpdatesHeads(t *testing.T) {
	s := newStore()
	var ctx types.ContextId
	root := mkDelta(1, 100, 0)
	require.NoError(t, s.Append(ctx, root))

	heads, err := s.Heads(ctx)
	require.NoError(t, err)
	require.Equal(t, []types.DeltaId{root.Id}, heads)

	child := mkDelta(1, 200, 0, root.Id)
	require.NoError(t, s.Append(ctx, child))

	heads, err = s.Heads(ctx)
	require.NoError(t, err)
	require.Equal(t, []types.DeltaId{child.Id}, heads, "appending a child must remove its parent from heads")
}

func TestAppendIsIdempotent(t *testing.T) {
	s := newStore()
	var ctx types.ContextId
	d := mkDelta(1, 100, 0)
	require.NoError(t, s.Append(ctx, d))
	require.NoError(t, s.Append(ctx, d))

	heads, err := s.Heads(ctx)
	require.NoError(t, err)
	require.Len(t, heads, 1)
}

func TestPendingCascadeAppliesInOrder(t *testing.T) {
	s := newStore()
	var ctx types.ContextId

	root := mkDelta(1, 100, 0)
	mid := mkDelta(1, 200, 0, root.Id)
	leaf := mkDelta(1, 300, 0, mid.Id)

	// Receive leaf and mid before root: both get enqueued as pending.
	require.NoError(t, s.EnqueuePending(ctx, leaf))
	require.NoError(t, s.EnqueuePending(ctx, mid))

	missing, err := s.MissingParents(ctx)
	require.NoError(t, err)
	require.Equal(t, []types.DeltaId{root.Id}, missing)

	require.NoError(t, s.Append(ctx, root))
	noopVerify := func(tx store.RwTx, d *types.Delta) error { return nil }
	applied, rejected, err := s.Cascade(ctx, noopVerify)
	require.NoError(t, err)
	require.Empty(t, rejected)
	require.Len(t, applied, 2)
	require.Equal(t, mid.Id, applied[0].Id)
	require.Equal(t, leaf.Id, applied[1].Id)

	has, err := s.Has(ctx, leaf.Id)
	require.NoError(t, err)
	require.True(t, has)

	missing, err = s.MissingParents(ctx)
	require.NoError(t, err)
	require.Empty(t, missing, "pending index must reach empty once every dependency resolves")
}

func TestCascadeRejectsAndDropsDeltaFailingVerify(t *testing.T) {
	s := newStore()
	var ctx types.ContextId

	root := mkDelta(1, 100, 0)
	bad := mkDelta(1, 200, 0, root.Id)
	good := mkDelta(2, 200, 0, root.Id)

	require.NoError(t, s.EnqueuePending(ctx, bad))
	require.NoError(t, s.EnqueuePending(ctx, good))
	require.NoError(t, s.Append(ctx, root))

	verify := func(tx store.RwTx, d *types.Delta) error {
		if d.Id == bad.Id {
			return calerr.New(calerr.IntegrityViolation, "forged root hash")
		}
		return nil
	}
	applied, rejected, err := s.Cascade(ctx, verify)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	require.Equal(t, good.Id, applied[0].Id)
	require.Len(t, rejected, 1)
	require.Equal(t, bad.Id, rejected[0].Id)

	hasBad, err := s.Has(ctx, bad.Id)
	require.NoError(t, err)
	require.False(t, hasBad, "a delta that fails verify must never be durably appended")

	hasGood, err := s.Has(ctx, good.Id)
	require.NoError(t, err)
	require.True(t, hasGood)

	missing, err := s.MissingParents(ctx)
	require.NoError(t, err)
	require.Empty(t, missing, "a rejected delta must still be dropped from the pending index so Cascade does not retry it forever")
}

func TestTopoSortBreaksTiesByHLC(t *testing.T) {
	root := mkDelta(1, 0, 0)
	a := mkDelta(1, 50, 0, root.Id)
	b := mkDelta(2, 50, 0, root.Id)

	sorted := TopoSort([]*types.Delta{b, a, root})
	require.Equal(t, root.Id, sorted[0].Id)
	// Concurrent children at the same HLC wall-ms/counter tie-break on
	// author bytes: author 1 < author 2.
	require.Equal(t, a.Id, sorted[1].Id)
	require.Equal(t, b.Id, sorted[2].Id)
}

func TestRangeSinceFiltersByHorizon(t *testing.T) {
	s := newStore()
	var ctx types.ContextId
	root := mkDelta(1, 100, 0)
	child := mkDelta(1, 200, 0, root.Id)
	require.NoError(t, s.Append(ctx, root))
	require.NoError(t, s.Append(ctx, child))

	all, err := s.RangeSince(ctx, hlc.Timestamp{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	recent, err := s.RangeSince(ctx, hlc.Timestamp{WallMS: 150})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, child.Id, recent[0].Id)
}

func TestGCPrunesPayloadButKeepsCausalReference(t *testing.T) {
	s := newStore()
	var ctx types.ContextId
	old := mkDelta(1, 0, 0)
	old.InsertedAtUnixMS = time.Now().Add(-48 * time.Hour).UnixMilli()
	require.NoError(t, s.Append(ctx, old))

	child := mkDelta(1, 1, 0, old.Id)
	require.NoError(t, s.Append(ctx, child))

	require.NoError(t, s.GC(ctx, time.Now()))

	got, err := s.Get(ctx, old.Id)
	require.NoError(t, err)
	require.True(t, Pruned(got))

	// The child's parent reference must still resolve: appending further
	// descendants of old must not fail with MissingDependency.
	grandchild := mkDelta(1, 2, 0, child.Id)
	require.NoError(t, s.Append(ctx, grandchild))
}

func TestTombstoneRetention(t *testing.T) {
	s := newStore()
	var ctx types.ContextId
	tk := TombstoneKey{TypeId: 2, Key: []byte("x")}
	deletedAt := time.Now().Add(-23 * time.Hour)
	require.NoError(t, s.RecordTombstone(ctx, tk, deletedAt.UnixMilli()))

	still, err := s.IsTombstoned(ctx, tk, deletedAt.Add(TombstoneRetention-time.Minute))
	require.NoError(t, err)
	require.True(t, still, "a read just before retention elapses must still observe the tombstone")

	gone, err := s.IsTombstoned(ctx, tk, deletedAt.Add(TombstoneRetention+time.Minute))
	require.NoError(t, err)
	require.False(t, gone)
}
