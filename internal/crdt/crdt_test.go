package crdt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core-sub010/internal/hlc"
	"github.com/calimero-network/core-sub010/internal/store"
	"github.com/calimero-network/core-sub010/internal/types"
)

func mkTs(author byte, ms int64, counter uint32) hlc.Timestamp {
	return hlc.Timestamp{WallMS: ms, Counter: counter, Author: [32]byte{author}}
}

func applyOne(t *testing.T, db store.DB, ctx types.ContextId, h Handle, ts hlc.Timestamp, action types.Action) {
	t.Helper()
	require.NoError(t, db.Update(func(tx store.RwTx) error {
		return Apply(tx, ctx, h, ts, action)
	}))
}

func foldOf(t *testing.T, db store.DB, ctx types.ContextId, h Handle) [32]byte {
	t.Helper()
	var out [32]byte
	require.NoError(t, db.View(func(tx store.Tx) error {
		var err error
		out, err = Fold(tx, ctx, h)
		return err
	}))
	return out
}

// TestLwwRegisterConvergesOnLatestWriteRegardlessOfOrder realizes spec.md
// §8 scenario S1: two replicas applying the same two concurrent writes in
// opposite delivery order converge on the same final value.
func TestLwwRegisterConvergesOnLatestWriteRegardlessOfOrder(t *testing.T) {
	var ctx types.ContextId
	h := Handle{RootId: [32]byte{1}, TypeId: TypeLwwRegister}

	writeA := types.Action{Kind: types.ActionUpdate, TypeId: TypeLwwRegister, Value: []byte("a")}
	writeB := types.Action{Kind: types.ActionUpdate, TypeId: TypeLwwRegister, Value: []byte("b")}
	tsA := mkTs(1, 100, 0)
	tsB := mkTs(2, 100, 1) // later HLC: B must win regardless of delivery order

	replica1 := store.NewMemDB()
	applyOne(t, replica1, ctx, h, tsA, writeA)
	applyOne(t, replica1, ctx, h, tsB, writeB)

	replica2 := store.NewMemDB()
	applyOne(t, replica2, ctx, h, tsB, writeB)
	applyOne(t, replica2, ctx, h, tsA, writeA)

	require.Equal(t, foldOf(t, replica1, ctx, h), foldOf(t, replica2, ctx, h))

	var got []byte
	require.NoError(t, replica1.View(func(tx store.Tx) error {
		e, err := loadEntry(tx, stateKey(ctx, h.RootId, []byte(lwwSubKey)))
		got = e.value
		return err
	}))
	require.Equal(t, []byte("b"), got, "later HLC write must win regardless of apply order")
}

func TestLwwRegisterCompareMatchesCurrentDigest(t *testing.T) {
	var ctx types.ContextId
	h := Handle{RootId: [32]byte{1}, TypeId: TypeLwwRegister}
	db := store.NewMemDB()
	applyOne(t, db, ctx, h, mkTs(1, 100, 0), types.Action{Kind: types.ActionAdd, Value: []byte("v")})

	digest := foldOf(t, db, ctx, h)
	require.NoError(t, db.View(func(tx store.Tx) error {
		col, err := Lookup(TypeLwwRegister)
		require.NoError(t, err)
		match, err := col.Compare(tx, ctx, h, types.Action{Proof: digest[:]})
		require.NoError(t, err)
		require.True(t, match)
		return err
	}))
}

func TestUnorderedMapPerKeyLwwAndTombstone(t *testing.T) {
	var ctx types.ContextId
	h := Handle{RootId: [32]byte{2}, TypeId: TypeUnorderedMap}
	db := store.NewMemDB()

	applyOne(t, db, ctx, h, mkTs(1, 100, 0), types.Action{Kind: types.ActionAdd, Key: []byte("x"), Value: []byte("1")})
	applyOne(t, db, ctx, h, mkTs(1, 200, 0), types.Action{Kind: types.ActionAdd, Key: []byte("y"), Value: []byte("2")})

	digestBefore := foldOf(t, db, ctx, h)

	// A stale write to "x" (earlier HLC) must lose to the existing entry.
	applyOne(t, db, ctx, h, mkTs(1, 50, 0), types.Action{Kind: types.ActionUpdate, Key: []byte("x"), Value: []byte("stale")})
	require.Equal(t, digestBefore, foldOf(t, db, ctx, h), "an earlier-HLC write must not override a later one")

	// Deleting "y" removes it from the fold digest.
	applyOne(t, db, ctx, h, mkTs(1, 300, 0), types.Action{Kind: types.ActionDelete, Key: []byte("y")})

	onlyX := store.NewMemDB()
	applyOne(t, onlyX, ctx, h, mkTs(1, 100, 0), types.Action{Kind: types.ActionAdd, Key: []byte("x"), Value: []byte("1")})
	require.Equal(t, foldOf(t, onlyX, ctx, h), foldOf(t, db, ctx, h), "a tombstoned key must be excluded from the digest, converging with a replica that never saw it")
}

func TestUnorderedMapFoldIsOrderIndependent(t *testing.T) {
	var ctx types.ContextId
	h := Handle{RootId: [32]byte{3}, TypeId: TypeUnorderedMap}

	db1 := store.NewMemDB()
	applyOne(t, db1, ctx, h, mkTs(1, 100, 0), types.Action{Kind: types.ActionAdd, Key: []byte("a"), Value: []byte("1")})
	applyOne(t, db1, ctx, h, mkTs(1, 101, 0), types.Action{Kind: types.ActionAdd, Key: []byte("b"), Value: []byte("2")})

	db2 := store.NewMemDB()
	applyOne(t, db2, ctx, h, mkTs(1, 101, 0), types.Action{Kind: types.ActionAdd, Key: []byte("b"), Value: []byte("2")})
	applyOne(t, db2, ctx, h, mkTs(1, 100, 0), types.Action{Kind: types.ActionAdd, Key: []byte("a"), Value: []byte("1")})

	require.Equal(t, foldOf(t, db1, ctx, h), foldOf(t, db2, ctx, h))
}

// TestVectorOrdersConcurrentAppendsByHlcThenAuthor realizes spec.md §8
// scenario S2: two authors append concurrently (same wall-ms); both
// replicas converge on the same final sequence, ordered by HLC with
// author bytes as the tiebreak, independent of delivery order.
func TestVectorOrdersConcurrentAppendsByHlcThenAuthor(t *testing.T) {
	var ctx types.ContextId
	h := Handle{RootId: [32]byte{4}, TypeId: TypeVector}

	tsLow := mkTs(1, 500, 0)  // author 1
	tsHigh := mkTs(2, 500, 0) // author 2, same wall-ms/counter: author tiebreak

	replica1 := store.NewMemDB()
	applyOne(t, replica1, ctx, h, tsLow, types.Action{Kind: types.ActionAdd, Value: []byte("from-1")})
	applyOne(t, replica1, ctx, h, tsHigh, types.Action{Kind: types.ActionAdd, Value: []byte("from-2")})

	replica2 := store.NewMemDB()
	applyOne(t, replica2, ctx, h, tsHigh, types.Action{Kind: types.ActionAdd, Value: []byte("from-2")})
	applyOne(t, replica2, ctx, h, tsLow, types.Action{Kind: types.ActionAdd, Value: []byte("from-1")})

	require.Equal(t, foldOf(t, replica1, ctx, h), foldOf(t, replica2, ctx, h))

	v := vector{}
	var values [][]byte
	require.NoError(t, replica1.View(func(tx store.Tx) error {
		var err error
		values, err = v.Values(tx, ctx, h)
		return err
	}))
	require.Equal(t, [][]byte{[]byte("from-1"), []byte("from-2")}, values, "author 1's append must sort before author 2's at an equal HLC")
}

func TestVectorAppendIsIdempotent(t *testing.T) {
	var ctx types.ContextId
	h := Handle{RootId: [32]byte{5}, TypeId: TypeVector}
	db := store.NewMemDB()
	ts := mkTs(1, 10, 0)
	action := types.Action{Kind: types.ActionAdd, Value: []byte("only")}
	applyOne(t, db, ctx, h, ts, action)
	applyOne(t, db, ctx, h, ts, action)

	v := vector{}
	var values [][]byte
	require.NoError(t, db.View(func(tx store.Tx) error {
		var err error
		values, err = v.Values(tx, ctx, h)
		return err
	}))
	require.Len(t, values, 1)
}

func TestLookupUnknownTypeId(t *testing.T) {
	_, err := Lookup(255)
	require.Error(t, err)
}
