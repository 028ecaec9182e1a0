package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeFreesTemporaries(t *testing.T) {
	b, mod := newTestBridge(t)
	ctx := context.Background()

	caller, err := b.Wasmify(ctx, []float64{1, 2}, Unspecified)
	require.NoError(t, err)

	s := b.NewScope(ctx)
	tmp, err := s.Allocate(Int32, 8)
	require.NoError(t, err)
	converted, err := s.Wasmify([]float32{1, 2, 3}, Unspecified)
	require.NoError(t, err)
	borrowed, err := s.Wasmify(caller, Float64)
	require.NoError(t, err)
	kept := s.Keep(s.Track(mustAllocate(t, b, 4)))

	assert.True(t, converted.Owned())
	assert.False(t, borrowed.Owned())
	assert.Equal(t, 4, mod.HeapStats().Allocations)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	assert.False(t, tmp.Live())
	assert.False(t, converted.Live())
	assert.True(t, caller.Live(), "caller-owned input survives")
	assert.True(t, borrowed.Live())
	assert.True(t, kept.Live())
	assert.Equal(t, 2, mod.HeapStats().Allocations)
}

func TestScopeCloseIgnoresCancellation(t *testing.T) {
	b, mod := newTestBridge(t)
	ctx, cancel := context.WithCancel(context.Background())

	s := b.NewScope(ctx)
	_, err := s.Allocate(Float64, 16)
	require.NoError(t, err)
	cancel()

	require.NoError(t, s.Close())
	assert.Equal(t, 0, mod.HeapStats().Allocations)
}

func TestScopeErrorPathReleasesEverything(t *testing.T) {
	b, mod := newTestBridge(t)
	ctx := context.Background()

	run := func() (*Buffer, error) {
		s := b.NewScope(ctx)
		defer s.Close()

		if _, err := s.Allocate(Float64, 32); err != nil {
			return nil, err
		}
		return s.Wasmify([]float32{1}, Float64)
	}

	_, err := run()
	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 0, mod.HeapStats().Allocations)
	assert.Equal(t, 0, b.Registry().Live())
}

func mustAllocate(t *testing.T, b *Bridge, n int) *Buffer {
	t.Helper()
	buf, err := Allocate[uint8](context.Background(), b, n)
	require.NoError(t, err)
	return buf
}
