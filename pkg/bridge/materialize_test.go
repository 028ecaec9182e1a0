package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woxQAQ/arena-bridge/internal/native"
)

func sequence(n int) []uint8 {
	out := make([]uint8, n)
	for i := range out {
		out[i] = uint8(i)
	}
	return out
}

func TestByteBufferMaterialization(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()

	buf, err := Allocate[uint8](ctx, b, 100)
	require.NoError(t, err)
	require.NoError(t, Store(buf, 0, sequence(100)))

	copied, err := PossibleCopy[uint8](buf, ModeCopy)
	require.NoError(t, err)
	assert.Equal(t, HostCopy, copied.Kind())

	view, err := PossibleCopy[uint8](buf, ModeView)
	require.NoError(t, err)
	assert.Equal(t, Resolvable, view.Kind())
	require.NotNil(t, view.View())

	materialized, err := view.View().Materialize()
	require.NoError(t, err)
	assert.Equal(t, sequence(100), materialized)

	// The copy is independent of the arena.
	require.NoError(t, Store(buf, 0, []uint8{200}))
	got, err := copied.Get()
	require.NoError(t, err)
	assert.Equal(t, sequence(100), got)

	// The view sees the write.
	materialized, err = view.Get()
	require.NoError(t, err)
	assert.Equal(t, uint8(200), materialized[0])

	_, err = PossibleCopy[uint8](sequence(100), ModeView)
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestPossibleCopySurvivesAllocations(t *testing.T) {
	b, mod := newTestBridge(t)
	ctx := context.Background()

	want := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	buf, err := b.Wasmify(ctx, want, Float64)
	require.NoError(t, err)

	copied, err := PossibleCopy[float64](buf, ModeCopy)
	require.NoError(t, err)
	view, err := PossibleCopy[float64](buf, ModeView)
	require.NoError(t, err)

	grows := mod.Memory().(interface{ Grows() int }).Grows()
	scratch := make([]*Buffer, 0, 10000)
	for range 10000 {
		s, err := Allocate[float64](ctx, b, 8)
		require.NoError(t, err)
		scratch = append(scratch, s)
	}
	require.Greater(t, mod.Memory().(interface{ Grows() int }).Grows(), grows, "arena must have relocated")

	got, err := copied.Get()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = view.Get()
	require.NoError(t, err)
	assert.Equal(t, want, got, "re-resolvable view recovers after growth")

	for _, s := range scratch {
		require.NoError(t, s.Free(ctx))
	}
}

func TestPossibleCopyNoneInvalidatedByGrowth(t *testing.T) {
	want := []float64{1, 2, 3, 4}

	t.Run("epoch checks", func(t *testing.T) {
		b, _ := newTestBridge(t)
		ctx := context.Background()

		buf, err := b.Wasmify(ctx, want, Unspecified)
		require.NoError(t, err)
		live, err := PossibleCopy[float64](buf, ModeNone)
		require.NoError(t, err)
		assert.Equal(t, ArenaView, live.Kind())

		got, err := live.Get()
		require.NoError(t, err)
		assert.Equal(t, want, got, "correct while nothing intervenes")

		_, err = Allocate[uint8](ctx, b, 4*native.PageSize)
		require.NoError(t, err)

		_, err = live.Get()
		var stale *StaleViewError
		require.ErrorAs(t, err, &stale)
		assert.Less(t, stale.Captured, stale.Current)

		fresh, err := PossibleCopy[float64](buf, ModeNone)
		require.NoError(t, err)
		got, err = fresh.Get()
		require.NoError(t, err)
		assert.Equal(t, want, got, "re-derived view is correct")
	})

	t.Run("caller discipline", func(t *testing.T) {
		b, _ := newTestBridge(t, WithEpochChecks(false))
		ctx := context.Background()

		buf, err := b.Wasmify(ctx, want, Unspecified)
		require.NoError(t, err)
		live, err := PossibleCopy[float64](buf, ModeNone)
		require.NoError(t, err)

		_, err = Allocate[uint8](ctx, b, 4*native.PageSize)
		require.NoError(t, err)

		got, err := live.Get()
		require.NoError(t, err)
		assert.NotEqual(t, want, got, "stale view reads relocated memory")
		assert.NotEqual(t, want, live.Slice())
	})
}

func TestPossibleCopyHostSlice(t *testing.T) {
	host := []int32{1, 2, 3}

	alias, err := PossibleCopy[int32](host, ModeNone)
	require.NoError(t, err)
	assert.Equal(t, CallerAlias, alias.Kind())
	host[0] = 10
	assert.Equal(t, int32(10), alias.Slice()[0])

	copied, err := PossibleCopy[int32](host, ModeCopy)
	require.NoError(t, err)
	host[0] = 20
	assert.Equal(t, int32(10), copied.Slice()[0])
	assert.Equal(t, 3, copied.Len())

	_, err = PossibleCopy[int32]([]float64{1}, ModeCopy)
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestPossibleCopyTypeMismatch(t *testing.T) {
	b, _ := newTestBridge(t)

	buf, err := Allocate[int16](context.Background(), b, 4)
	require.NoError(t, err)

	_, err = PossibleCopy[float32](buf, ModeCopy)
	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, Float32, mismatch.Expected)
	assert.Equal(t, Int16, mismatch.Actual)

	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestPossibleCopyReleasedBuffer(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()

	buf, err := Allocate[float64](ctx, b, 4)
	require.NoError(t, err)
	view, err := PossibleCopy[float64](buf, ModeView)
	require.NoError(t, err)
	require.NoError(t, buf.Free(ctx))

	_, err = PossibleCopy[float64](buf, ModeCopy)
	assert.ErrorIs(t, err, ErrReleased)
	_, err = view.Get()
	assert.ErrorIs(t, err, ErrReleased)
	assert.Nil(t, view.Slice(), "unchecked read of a released view")
	assert.Equal(t, 4, view.Len())
}

func TestNilBufferRejected(t *testing.T) {
	b, _ := newTestBridge(t)
	var buf *Buffer

	var validationErr *ValidationError
	_, err := PossibleCopy[float64](buf, ModeCopy)
	assert.ErrorAs(t, err, &validationErr)

	_, err = b.Wasmify(context.Background(), buf, Float64)
	assert.ErrorAs(t, err, &validationErr)
	_, err = b.Wasmify(context.Background(), buf, Unspecified)
	assert.ErrorAs(t, err, &validationErr)
}

func roundTrip[T Element](t *testing.T, b *Bridge, in []T) {
	t.Helper()
	buf, err := b.Wasmify(context.Background(), in, ElementTypeOf[T]())
	require.NoError(t, err)
	defer buf.Free(context.Background())

	assert.True(t, buf.Owned())
	assert.Equal(t, len(in), buf.Len())
	assert.Equal(t, ElementTypeOf[T](), buf.ElementType())

	out, err := PossibleCopy[T](buf, ModeCopy)
	require.NoError(t, err)
	assert.Equal(t, native.Bytes(in), native.Bytes(out.Slice()))
}

func TestWasmifyHostSliceRoundTrip(t *testing.T) {
	b, _ := newTestBridge(t)

	roundTrip(t, b, []int8{-1, 0, 1, 127})
	roundTrip(t, b, []uint8{0, 1, 255})
	roundTrip(t, b, []int16{-300, 300})
	roundTrip(t, b, []uint16{65535})
	roundTrip(t, b, []int32{-70000, 70000})
	roundTrip(t, b, []uint32{1 << 31})
	roundTrip(t, b, []int64{-1 << 40})
	roundTrip(t, b, []uint64{1 << 63})
	roundTrip(t, b, []float32{0.5, -2.25})
	roundTrip(t, b, []float64{3.14159, -1e300})
	roundTrip(t, b, []float64{})
}

func TestWasmifyPlainInts(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()

	buf, err := b.Wasmify(ctx, []int{1, 2, 3}, Unspecified)
	require.NoError(t, err)
	assert.Equal(t, Float64, buf.ElementType())
	got, err := PossibleCopy[float64](buf, ModeCopy)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got.Slice())

	buf, err = Wasmify(ctx, b, []int{-4, 5}, Int32)
	require.NoError(t, err)
	ints, err := PossibleCopy[int32](buf, ModeCopy)
	require.NoError(t, err)
	assert.Equal(t, []int32{-4, 5}, ints.Slice())
}

func TestWasmifyTypeMismatchBeforeAllocation(t *testing.T) {
	b, mod := newTestBridge(t)
	ctx := context.Background()

	baseline := mod.HeapStats()

	_, err := b.Wasmify(ctx, []float32{1, 2}, Float64)
	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)

	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
	assert.Equal(t, baseline, mod.HeapStats(), "nothing allocated")

	owned, err := Allocate[int32](ctx, b, 2)
	require.NoError(t, err)
	_, err = b.Wasmify(ctx, owned, Float64)
	assert.ErrorAs(t, err, &mismatch)

	_, err = b.Wasmify(ctx, "not an array", Unspecified)
	assert.ErrorAs(t, err, &validationErr)
}

func TestWasmifyOwnedBufferYieldsIndependentViews(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()

	owned, err := b.Wasmify(ctx, []float64{1, 2, 3}, Unspecified)
	require.NoError(t, err)

	first, err := b.Wasmify(ctx, owned, Float64)
	require.NoError(t, err)
	second, err := b.Wasmify(ctx, owned, Unspecified)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.False(t, first.Owned())
	assert.False(t, second.Owned())
	assert.Equal(t, owned.Offset(), first.Offset())

	require.NoError(t, first.Free(ctx))
	got, err := PossibleCopy[float64](second, ModeCopy)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got.Slice())
	require.NoError(t, second.Free(ctx))

	got, err = PossibleCopy[float64](owned, ModeCopy)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got.Slice(), "freeing views leaves the owner intact")

	// A bare view passes through unchanged.
	again, err := b.Wasmify(ctx, first, Unspecified)
	require.NoError(t, err)
	assert.Same(t, first, again)

	// Once the owner is freed the views are dead.
	require.NoError(t, owned.Free(ctx))
	_, err = PossibleCopy[float64](second, ModeCopy)
	assert.ErrorIs(t, err, ErrReleased)
	_, err = b.Wasmify(ctx, first, Unspecified)
	assert.ErrorIs(t, err, ErrReleased)
}

func TestWasmifyForeignArenaClones(t *testing.T) {
	src, _ := newTestBridge(t)
	dst, dstMod := newTestBridge(t)
	ctx := context.Background()

	foreign, err := src.Wasmify(ctx, []int64{7, 8, 9}, Unspecified)
	require.NoError(t, err)

	clone, err := dst.Wasmify(ctx, foreign, Int64)
	require.NoError(t, err)
	assert.True(t, clone.Owned())
	assert.Same(t, dst.Arena(), clone.Arena())
	assert.Equal(t, 1, dstMod.HeapStats().Allocations)

	require.NoError(t, foreign.Free(ctx))
	got, err := PossibleCopy[int64](clone, ModeCopy)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8, 9}, got.Slice())
}

func TestBufferSliceAndStore(t *testing.T) {
	b, _ := newTestBridge(t)
	ctx := context.Background()

	buf, err := Allocate[int32](ctx, b, 6)
	require.NoError(t, err)
	require.NoError(t, Store(buf, 0, []int32{0, 1, 2, 3, 4, 5}))

	mid, err := buf.Slice(2, 5)
	require.NoError(t, err)
	assert.False(t, mid.Owned())
	got, err := PossibleCopy[int32](mid, ModeCopy)
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 3, 4}, got.Slice())

	_, err = buf.Slice(4, 7)
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)

	assert.ErrorAs(t, Store(buf, 5, []int32{1, 2}), &validationErr)
	var mismatch *TypeMismatchError
	assert.ErrorAs(t, Store(buf, 0, []float64{1}), &mismatch)

	raw, err := mid.Bytes()
	require.NoError(t, err)
	assert.Len(t, raw, 12)
}
