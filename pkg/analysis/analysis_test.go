package analysis

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/arena-bridge/internal/refnative"
	"github.com/woxQAQ/arena-bridge/pkg/bridge"
)

func newBridge(t *testing.T) (*bridge.Bridge, *refnative.Module) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mod := refnative.New(refnative.Options{Workers: 4, InitialPages: 1}, logger)
	b, err := bridge.New(context.Background(), mod, bridge.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Terminate(context.Background()) })
	return b, mod
}

// 3 features x 2 cells, column-major.
var counts = []float64{
	1, 0, 2,
	0, 0, 5,
}

func TestPerCellQC(t *testing.T) {
	b, mod := newBridge(t)
	ctx := context.Background()

	qc, err := PerCellQC(ctx, b, counts, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, qc.NumCells())

	sums, err := qc.Sums(bridge.ModeCopy)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 5}, sums.Slice())

	detected, err := qc.Detected(bridge.ModeNone)
	require.NoError(t, err)
	assert.Equal(t, bridge.ArenaView, detected.Kind())
	got, err := detected.Get()
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 1}, got)

	// Only the result and its two buffers remain; the input was a temporary.
	assert.Equal(t, 3, mod.HeapStats().Allocations)
	assert.Equal(t, 1, b.Registry().Live())

	require.NoError(t, qc.Free(ctx))
	require.NoError(t, qc.Free(ctx))
	assert.Equal(t, 0, mod.HeapStats().Allocations)

	assert.Equal(t, []float64{3, 5}, sums.Slice(), "copies outlive the result")
	_, err = qc.Sums(bridge.ModeCopy)
	assert.ErrorIs(t, err, bridge.ErrReleased)
}

func TestPerCellQCFromArenaBuffer(t *testing.T) {
	b, mod := newBridge(t)
	ctx := context.Background()

	in, err := b.Wasmify(ctx, counts, bridge.Float64)
	require.NoError(t, err)

	qc, err := PerCellQC(ctx, b, in, 3, 2)
	require.NoError(t, err)
	defer qc.Free(ctx)

	assert.True(t, in.Live(), "caller-owned input is not freed")
	assert.Equal(t, 4, mod.HeapStats().Allocations)
}

func TestPerCellQCIntegerCounts(t *testing.T) {
	b, _ := newBridge(t)
	ctx := context.Background()

	qc, err := PerCellQC(ctx, b, []int{4, 0, 0, 1}, 2, 2)
	require.NoError(t, err)
	defer qc.Free(ctx)

	sums, err := qc.Sums(bridge.ModeCopy)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 1}, sums.Slice())
}

func TestPerCellQCValidation(t *testing.T) {
	b, mod := newBridge(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		matrix any
		nrow   int
		ncol   int
	}{
		{"zero rows", counts, 0, 2},
		{"length mismatch", counts, 4, 2},
		{"unsupported type", "counts", 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PerCellQC(ctx, b, tt.matrix, tt.nrow, tt.ncol)
			var validationErr *bridge.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, 0, mod.HeapStats().Allocations, "temporaries are freed")
		})
	}

	_, err := PerCellQC(ctx, b, []float32{1, 2}, 1, 2)
	var mismatch *bridge.TypeMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestPerCellQCCancelled(t *testing.T) {
	b, mod := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := PerCellQC(ctx, b, counts, 3, 2)
	var nerr *bridge.NativeComputationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, refnative.CodeCancelled, nerr.Code)
	assert.Equal(t, 0, mod.HeapStats().Allocations)
}

func TestLogNormalize(t *testing.T) {
	b, mod := newBridge(t)
	ctx := context.Background()

	norm, err := LogNormalize(ctx, b, counts, 3, 2, []float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 3, norm.NRow())
	assert.Equal(t, 2, norm.NCol())

	data, err := norm.Data(bridge.ModeCopy)
	require.NoError(t, err)
	want := []float64{1, 0, math.Log2(3), 0, 0, math.Log2(3.5)}
	assert.InDeltaSlice(t, want, data.Slice(), 1e-12)

	col, err := norm.Column(1, bridge.ModeView)
	require.NoError(t, err)
	assert.Equal(t, bridge.Resolvable, col.Kind())
	got, err := col.Get()
	require.NoError(t, err)
	assert.InDeltaSlice(t, want[3:], got, 1e-12)

	_, err = norm.Column(2, bridge.ModeCopy)
	var validationErr *bridge.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	require.NoError(t, norm.Free(ctx))
	assert.Equal(t, 0, mod.HeapStats().Allocations)
}

func TestLogNormalizeDerivedSizeFactors(t *testing.T) {
	b, _ := newBridge(t)
	ctx := context.Background()

	norm, err := LogNormalize(ctx, b, counts, 3, 2, nil)
	require.NoError(t, err)
	defer norm.Free(ctx)

	// Column sums 3 and 5 centered at one give factors 0.75 and 1.25.
	data, err := norm.Data(bridge.ModeCopy)
	require.NoError(t, err)
	assert.InDelta(t, math.Log2(1/0.75+1), data.Slice()[0], 1e-12)
	assert.InDelta(t, math.Log2(5/1.25+1), data.Slice()[5], 1e-12)
}

func TestLogNormalizeRejectsBadSizeFactors(t *testing.T) {
	b, mod := newBridge(t)
	ctx := context.Background()

	_, err := LogNormalize(ctx, b, counts, 3, 2, []float64{1})
	var validationErr *bridge.ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = LogNormalize(ctx, b, counts, 3, 2, []float64{1, 0})
	var nerr *bridge.NativeComputationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, refnative.CodeInvalidArgument, nerr.Code)
	assert.Equal(t, 0, mod.HeapStats().Allocations)
}

func TestPipelineChainsArenaBuffers(t *testing.T) {
	b, _ := newBridge(t)
	ctx := context.Background()

	norm, err := LogNormalize(ctx, b, counts, 3, 2, []float64{1, 1})
	require.NoError(t, err)
	defer norm.Free(ctx)

	qc, err := PerCellQC(ctx, b, norm.Buffer(), 3, 2)
	require.NoError(t, err)
	defer qc.Free(ctx)

	sums, err := qc.Sums(bridge.ModeCopy)
	require.NoError(t, err)
	assert.InDelta(t, 1+math.Log2(3), sums.Slice()[0], 1e-12)
	assert.True(t, norm.Buffer().Live())
}

// Two well separated groups of three 2-d points.
var points = []float64{
	0, 0,
	0, 1,
	1, 0,
	10, 10,
	10, 11,
	11, 10,
}

func TestKMeans(t *testing.T) {
	b, mod := newBridge(t)
	ctx := context.Background()

	km, err := NewKMeans(ctx, b, points, 2, 6, 2, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, km.K())

	clusters, err := km.Clusters(bridge.ModeCopy)
	require.NoError(t, err)
	assert.Equal(t, []int32{-1, -1, -1, -1, -1, -1}, clusters.Slice())

	converged, err := km.Run(ctx, 100)
	require.NoError(t, err)
	assert.True(t, converged)

	iterations, err := km.Iterations()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, iterations, 2)
	done, err := km.Converged()
	require.NoError(t, err)
	assert.True(t, done)

	clusters, err = km.Clusters(bridge.ModeCopy)
	require.NoError(t, err)
	c := clusters.Slice()
	assert.Equal(t, c[0], c[1])
	assert.Equal(t, c[0], c[2])
	assert.Equal(t, c[3], c[4])
	assert.Equal(t, c[3], c[5])
	assert.NotEqual(t, c[0], c[3])

	centers, err := km.Centers(bridge.ModeCopy)
	require.NoError(t, err)
	low := centers.Slice()[2*int(c[0]) : 2*int(c[0])+2]
	high := centers.Slice()[2*int(c[3]) : 2*int(c[3])+2]
	assert.InDeltaSlice(t, []float64{1.0 / 3, 1.0 / 3}, low, 1e-12)
	assert.InDeltaSlice(t, []float64{31.0 / 3, 31.0 / 3}, high, 1e-12)

	again, err := km.Advance(ctx, 5, time.Second)
	require.NoError(t, err)
	assert.True(t, again)

	require.NoError(t, km.Free(ctx))
	assert.Equal(t, 0, mod.HeapStats().Allocations)

	_, err = km.Advance(ctx, 1, 0)
	assert.ErrorIs(t, err, bridge.ErrReleased)
	_, err = km.Iterations()
	assert.ErrorIs(t, err, bridge.ErrReleased)
}

func TestKMeansStepwise(t *testing.T) {
	b, _ := newBridge(t)
	ctx := context.Background()

	km, err := NewKMeans(ctx, b, points, 2, 6, 2, 3)
	require.NoError(t, err)
	defer km.Free(ctx)

	_, err = km.Advance(ctx, 1, 0)
	require.NoError(t, err)
	iterations, err := km.Iterations()
	require.NoError(t, err)
	assert.Equal(t, 1, iterations)

	_, err = km.Advance(ctx, -1, 0)
	var validationErr *bridge.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestKMeansRunCountsPriorIterations(t *testing.T) {
	b, _ := newBridge(t)
	ctx := context.Background()

	km, err := NewKMeans(ctx, b, points, 2, 6, 2, 3)
	require.NoError(t, err)
	defer km.Free(ctx)

	_, err = km.Advance(ctx, 1, 0)
	require.NoError(t, err)

	// The iteration cap is already reached.
	_, err = km.Run(ctx, 1)
	require.NoError(t, err)
	iterations, err := km.Iterations()
	require.NoError(t, err)
	assert.Equal(t, 1, iterations)

	_, err = km.Run(ctx, 2)
	require.NoError(t, err)
	iterations, err = km.Iterations()
	require.NoError(t, err)
	assert.Equal(t, 2, iterations)
}

func TestKMeansValidation(t *testing.T) {
	b, mod := newBridge(t)
	ctx := context.Background()

	var validationErr *bridge.ValidationError
	_, err := NewKMeans(ctx, b, points, 2, 6, 0, 1)
	assert.ErrorAs(t, err, &validationErr)
	_, err = NewKMeans(ctx, b, points, 2, 6, 7, 1)
	assert.ErrorAs(t, err, &validationErr)
	_, err = NewKMeans(ctx, b, points, 3, 6, 2, 1)
	assert.ErrorAs(t, err, &validationErr)

	assert.Equal(t, 0, mod.HeapStats().Allocations)
}
