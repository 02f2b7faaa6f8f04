package core

import (
	"context"
	"testing"

	"github.com/intercooperative/icn-core/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestFileBackendPutGetRoundTrip(t *testing.T) {
	sandbox, err := testutil.NewSandbox()
	require.NoError(t, err)
	defer sandbox.Cleanup()

	backend, err := NewFileBackend(sandbox.Path("blocks"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, backend.Put(ctx, "key-one", []byte("hello dag")))

	data, ok, err := backend.Get(ctx, "key-one")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello dag"), data)

	_, ok, err = backend.Get(ctx, "missing-key")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileBackendDeleteIsIdempotent(t *testing.T) {
	sandbox, err := testutil.NewSandbox()
	require.NoError(t, err)
	defer sandbox.Cleanup()

	backend, err := NewFileBackend(sandbox.Path("blocks"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, backend.Put(ctx, "k", []byte("v")))
	require.NoError(t, backend.Delete(ctx, "k"))
	require.NoError(t, backend.Delete(ctx, "k")) // no error on second delete

	_, ok, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileBackendKeysRoundTripsOriginalKeyForm(t *testing.T) {
	sandbox, err := testutil.NewSandbox()
	require.NoError(t, err)
	defer sandbox.Cleanup()

	backend, err := NewFileBackend(sandbox.Path("blocks"))
	require.NoError(t, err)

	ctx := context.Background()
	want := []string{"bafy-one", "bafy-two", "bafy-three"}
	for _, k := range want {
		require.NoError(t, backend.Put(ctx, k, []byte(k)))
	}

	got, err := backend.Keys(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, want, got)
}

// TestFileBackendDetectsCorruption exercises DAGStore's deserialization
// path against a backend file scrambled on disk, using testutil.Reverse to
// produce a deterministically corrupted (but still non-empty) encoding.
func TestFileBackendDetectsCorruption(t *testing.T) {
	sandbox, err := testutil.NewSandbox()
	require.NoError(t, err)
	defer sandbox.Cleanup()

	backend, err := NewFileBackend(sandbox.Path("blocks"))
	require.NoError(t, err)
	store := NewDAGStore(backend, nil)

	author, err := ParseDID("did:icn:filewriter")
	require.NoError(t, err)
	block, err := NewBlock([]byte("payload"), nil, author, ScopeLocal)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, block))

	raw, ok, err := backend.Get(ctx, block.CID.String())
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, backend.Put(ctx, block.CID.String(), []byte(testutil.Reverse(string(raw)))))

	_, err = store.Get(ctx, block.CID)
	require.Error(t, err)
}
