package store

import (
	"testing"

	"github.com/calimero-network/core-sub010/internal/calerr"
	"github.com/stretchr/testify/require"
)

func TestMemDBPutGet(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Update(func(tx RwTx) error {
		return tx.Put(ContextMeta, []byte("k1"), []byte("v1"))
	}))

	require.NoError(t, db.View(func(tx Tx) error {
		v, err := tx.Get(ContextMeta, []byte("k1"))
		require.NoError(t, err)
		require.Equal(t, []byte("v1"), v)
		return nil
	}))
}

func TestMemDBNotFound(t *testing.T) {
	db := NewMemDB()
	err := db.View(func(tx Tx) error {
		_, err := tx.Get(ContextMeta, []byte("missing"))
		return err
	})
	require.True(t, calerr.Is(err, calerr.NotFound))
}

func TestMemDBAbortedUpdateLeavesNoTrace(t *testing.T) {
	db := NewMemDB()
	sentinel := calerr.New(calerr.InvalidArgument, "boom")
	err := db.Update(func(tx RwTx) error {
		require.NoError(t, tx.Put(ContextMeta, []byte("k"), []byte("v")))
		return sentinel
	})
	require.Error(t, err)

	require.NoError(t, db.View(func(tx Tx) error {
		has, err := tx.Has(ContextMeta, []byte("k"))
		require.NoError(t, err)
		require.False(t, has, "failed Update must not commit any part of its batch")
		return nil
	}))
}

func TestMemDBIteratorOrderAndPrefix(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Update(func(tx RwTx) error {
		for _, k := range []string{"a/1", "a/2", "b/1", "a/0"} {
			if err := tx.Put(ContextState, []byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	}))

	var got []string
	require.NoError(t, db.View(func(tx Tx) error {
		it := tx.Iter(ContextState)
		defer it.Close()
		for ok := it.Seek([]byte("a/")); ok; ok = it.Next() {
			got = append(got, string(it.Key()))
		}
		return nil
	}))
	require.Equal(t, []string{"a/0", "a/1", "a/2"}, got)
}

func TestMemDBViewIsSnapshotConsistent(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Update(func(tx RwTx) error {
		return tx.Put(ContextMeta, []byte("k"), []byte("v1"))
	}))

	snapshotSeen := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = db.View(func(tx Tx) error {
			close(snapshotSeen)
			<-done
			v, err := tx.Get(ContextMeta, []byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v1"), v, "snapshot must not observe a concurrent writer's mutation")
			return nil
		})
	}()

	<-snapshotSeen
	require.NoError(t, db.Update(func(tx RwTx) error {
		return tx.Put(ContextMeta, []byte("k"), []byte("v2"))
	}))
	close(done)
}
