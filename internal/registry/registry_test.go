package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_HashGrammar_Deterministic(t *testing.T) {
	src := []byte(`unit Foo { x: uint8; }`)
	h1 := HashGrammar(src)
	h2 := HashGrammar(src)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, HashGrammar([]byte(`unit Bar { y: uint8; }`)))
}

func Test_Cache_PutGet_RoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "plans.db")
	c, err := Open(dbPath)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	hash := HashGrammar([]byte(`unit Foo { x: uint8; }`))

	_, found, err := c.Get(ctx, hash)
	require.NoError(t, err)
	assert.False(t, found)

	entry := Entry{
		Manifest: Manifest{
			Magic:            "SPPL",
			Version:          1,
			CreatedTimestamp: 1700000000,
			DebugFlag:        false,
			OptimizeFlag:     true,
		},
		PlanBlob: []byte{0x01, 0x02, 0x03},
	}
	require.NoError(t, c.Put(ctx, hash, entry))

	got, found, err := c.Get(ctx, hash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entry.Manifest, got.Manifest)
	assert.Equal(t, entry.PlanBlob, got.PlanBlob)
}

func Test_Cache_Put_OverwritesExistingHash(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "plans.db")
	c, err := Open(dbPath)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	hash := HashGrammar([]byte(`unit Foo { x: uint8; }`))

	require.NoError(t, c.Put(ctx, hash, Entry{
		Manifest: Manifest{Magic: "SPPL", Version: 1, CreatedTimestamp: 1},
		PlanBlob: []byte{0xAA},
	}))
	require.NoError(t, c.Put(ctx, hash, Entry{
		Manifest: Manifest{Magic: "SPPL", Version: 1, CreatedTimestamp: 2},
		PlanBlob: []byte{0xBB},
	}))

	got, found, err := c.Get(ctx, hash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), got.Manifest.CreatedTimestamp)
	assert.Equal(t, []byte{0xBB}, got.PlanBlob)
}

func Test_Cache_Delete(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "plans.db")
	c, err := Open(dbPath)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	hash := HashGrammar([]byte(`unit Foo { x: uint8; }`))
	require.NoError(t, c.Put(ctx, hash, Entry{
		Manifest: Manifest{Magic: "SPPL", Version: 1},
		PlanBlob: []byte{0x01},
	}))

	require.NoError(t, c.Delete(ctx, hash))

	_, found, err := c.Get(ctx, hash)
	require.NoError(t, err)
	assert.False(t, found)

	// deleting an absent hash is not an error.
	require.NoError(t, c.Delete(ctx, hash))
}
