package blob

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calimero-network/core-sub010/internal/store"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New(store.NewMemDB())
	content := make([]byte, ChunkSize*2+137)
	_, err := rand.Read(content)
	require.NoError(t, err)

	id, size, err := s.Put(bytes.NewReader(content))
	require.NoError(t, err)
	require.EqualValues(t, len(content), size)

	got, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestBlobIdIsContentAddressed(t *testing.T) {
	s := New(store.NewMemDB())
	id1, _, err := s.Put(bytes.NewReader([]byte("same content")))
	require.NoError(t, err)
	id2, _, err := s.Put(bytes.NewReader([]byte("same content")))
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestDeleteRemovesChunks(t *testing.T) {
	s := New(store.NewMemDB())
	id, _, err := s.Put(bytes.NewReader([]byte("abc")))
	require.NoError(t, err)

	require.NoError(t, s.Delete(id))
	has, err := s.Has(id)
	require.NoError(t, err)
	require.False(t, has)

	_, err = s.Get(id)
	require.Error(t, err)
}

func TestChunkedAnnounceAndFetch(t *testing.T) {
	sender := New(store.NewMemDB())
	content := make([]byte, ChunkSize+10)
	for i := range content {
		content[i] = byte(i)
	}
	id, _, err := sender.Put(bytes.NewReader(content))
	require.NoError(t, err)

	// Simulate a receiver reassembling via per-chunk BlobRequest/BlobShare
	// round trips (§8 S6) instead of a bulk Get.
	receiver := New(store.NewMemDB())
	for i := uint32(0); i < 2; i++ {
		chunk, err := sender.GetChunk(id, i)
		require.NoError(t, err)
		require.NoError(t, receiver.PutChunk(id, i, chunk))
	}
	require.NoError(t, receiver.EnsureMeta(id, uint64(len(content)), 2))
	got, err := receiver.Get(id)
	require.NoError(t, err)
	require.Equal(t, content, got)
}
