package db_test

import (
	"path/filepath"
	"testing"

	"github.com/eric2788/webcamrec/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBucket(t *testing.T) *db.Bucket {
	t.Helper()
	client, err := db.Open(filepath.Join(t.TempDir(), "nested", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	b, err := client.Bucket("segments")
	require.NoError(t, err)
	return b
}

func TestBucket_ReverseAndStop(t *testing.T) {
	b := openBucket(t)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, b.Put([]byte(k), []byte(k+k)))
	}

	var seen []string
	err := b.Reverse(func(k, _ []byte) error {
		seen = append(seen, string(k))
		if len(seen) == 2 {
			return db.ErrStopIteration
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, seen)

	n, err := b.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBucket_Modify(t *testing.T) {
	b := openBucket(t)
	require.NoError(t, b.Put([]byte("k"), []byte("1")))

	require.NoError(t, b.Modify([]byte("k"), func(old []byte) ([]byte, error) {
		return append(append([]byte(nil), old...), '2'), nil
	}))
	v, err := b.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "12", string(v))

	require.NoError(t, b.Modify([]byte("k"), func([]byte) ([]byte, error) { return nil, nil }))
	ok, err := b.Exists([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)

	missing, err := b.Get([]byte("nope"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}
