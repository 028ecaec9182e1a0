package refnative

import (
	"context"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/woxQAQ/arena-bridge/internal/native"
)

// Status codes reported by the built-in kernels.
const (
	CodeInvalidDimensions uint32 = iota + 1
	CodeOutOfMemory
	CodeInvalidReference
	CodeInvalidArgument
	CodeCancelled
)

var defaultMessages = map[uint32]string{
	CodeInvalidDimensions: "matrix dimensions do not match the supplied buffer",
	CodeOutOfMemory:       "native allocation failed: arena cannot grow",
	CodeInvalidReference:  "reference does not name a live native object",
	CodeInvalidArgument:   "invalid argument passed to native entry point",
	CodeCancelled:         "native computation cancelled",
}

// Object kinds and layouts (uint32 fields).
const (
	// KindQC: [ncells, sumsPtr, detectedPtr]
	KindQC = "qc"
	// KindNormalized: [nrow, ncol, dataPtr]
	KindNormalized = "normalized"
	// KindKMeans: [ndim, nobs, k, centersPtr, clustersPtr, dataPtr, iterations, converged]
	KindKMeans = "kmeans"
)

// Field indexes of the k-means object.
const (
	kmNDim = iota
	kmNObs
	kmK
	kmCenters
	kmClusters
	kmData
	kmIterations
	kmConverged
	kmFields
)

func registerBuiltins(m *Module) {
	m.Register("per_cell_qc", perCellQC)
	m.Register("qc_free", destructor(KindQC, 3, 1, 2))
	m.Register("log_normalize", logNormalize)
	m.Register("normalized_free", destructor(KindNormalized, 3, 2))
	m.Register("kmeans_create", kmeansCreate)
	m.Register("kmeans_step", kmeansStep)
	m.Register("kmeans_free", destructor(KindKMeans, kmFields, kmCenters, kmClusters, kmData))
}

// destructor frees the allocations named by the owned field indexes and
// then the object itself.
func destructor(kind string, nfields int, owned ...int) Kernel {
	return func(_ context.Context, m *Module, p []uint64) uint64 {
		if len(p) != 1 {
			return native.Fail(CodeInvalidArgument)
		}
		ref := uint32(p[0]) //nolint:gosec // G115: refs are 32-bit
		if !m.Object(ref, kind) {
			return native.Fail(CodeInvalidReference)
		}
		fields, _ := m.Fields(ref, nfields)
		for _, i := range owned {
			m.Release(fields[i])
		}
		m.DropObject(ref)
		return native.OK(0)
	}
}

// dims validates a column-major float64 matrix argument.
func dims(m *Module, ptr uint32, nrow, ncol uint64) (int, int, bool) {
	if nrow == 0 || ncol == 0 || nrow > math.MaxUint32 || ncol > math.MaxUint32 {
		return 0, 0, false
	}
	if nrow*ncol*8 > math.MaxUint32 {
		return 0, 0, false
	}
	if _, ok := m.mem.Read(ptr, uint32(nrow*ncol*8)); !ok {
		return 0, 0, false
	}
	return int(nrow), int(ncol), true
}

// perCellQC(matrixPtr, nrow, ncol) computes per-column sums and counts of
// non-zero entries.
func perCellQC(ctx context.Context, m *Module, p []uint64) uint64 {
	if len(p) != 3 {
		return native.Fail(CodeInvalidArgument)
	}
	ptr := uint32(p[0]) //nolint:gosec // G115: arena offsets are 32-bit
	nrow, ncol, ok := dims(m, ptr, p[1], p[2])
	if !ok {
		return native.Fail(CodeInvalidDimensions)
	}

	sumsPtr := m.Alloc(uint32(ncol * 8)) //nolint:gosec // G115: bounded by dims
	detPtr := m.Alloc(uint32(ncol * 4))  //nolint:gosec // G115: bounded by dims
	obj := m.NewObject(KindQC, 3)
	if sumsPtr == 0 || detPtr == 0 || obj == 0 {
		m.Release(sumsPtr, detPtr)
		if obj != 0 {
			m.DropObject(obj)
		}
		return native.Fail(CodeOutOfMemory)
	}

	mat, _ := m.Float64s(ptr, nrow*ncol)
	sums, _ := m.Float64s(sumsPtr, ncol)
	detected, _ := m.Int32s(detPtr, ncol)

	err := m.parallel(ctx, ncol, func(lo, hi int) {
		for c := lo; c < hi; c++ {
			var s float64
			var d int32
			for _, v := range mat[c*nrow : (c+1)*nrow] {
				s += v
				if v != 0 {
					d++
				}
			}
			sums[c] = s
			detected[c] = d
		}
	})
	if err != nil {
		m.Release(sumsPtr, detPtr)
		m.DropObject(obj)
		return native.Fail(CodeCancelled)
	}

	m.SetFields(obj, 0, uint32(ncol), sumsPtr, detPtr) //nolint:gosec // G115: bounded by dims
	return native.OK(obj)
}

// logNormalize(matrixPtr, nrow, ncol, sizeFactorsPtr) divides each column by
// its size factor and applies log2(x+1). A zero sizeFactorsPtr derives size
// factors from column sums centered at one.
func logNormalize(ctx context.Context, m *Module, p []uint64) uint64 {
	if len(p) != 4 {
		return native.Fail(CodeInvalidArgument)
	}
	ptr := uint32(p[0])   //nolint:gosec // G115: arena offsets are 32-bit
	sfPtr := uint32(p[3]) //nolint:gosec // G115: arena offsets are 32-bit
	nrow, ncol, ok := dims(m, ptr, p[1], p[2])
	if !ok {
		return native.Fail(CodeInvalidDimensions)
	}
	if sfPtr != 0 {
		if _, ok := m.Float64s(sfPtr, ncol); !ok {
			return native.Fail(CodeInvalidDimensions)
		}
	}

	dataPtr := m.Alloc(uint32(nrow * ncol * 8)) //nolint:gosec // G115: bounded by dims
	obj := m.NewObject(KindNormalized, 3)
	if dataPtr == 0 || obj == 0 {
		m.Release(dataPtr)
		if obj != 0 {
			m.DropObject(obj)
		}
		return native.Fail(CodeOutOfMemory)
	}
	fail := func(code uint32) uint64 {
		m.Release(dataPtr)
		m.DropObject(obj)
		return native.Fail(code)
	}

	mat, _ := m.Float64s(ptr, nrow*ncol)
	out, _ := m.Float64s(dataPtr, nrow*ncol)

	factors := make([]float64, ncol)
	if sfPtr != 0 {
		sf, _ := m.Float64s(sfPtr, ncol)
		copy(factors, sf)
	} else {
		var mean float64
		for c := range factors {
			for _, v := range mat[c*nrow : (c+1)*nrow] {
				factors[c] += v
			}
			mean += factors[c]
		}
		mean /= float64(ncol)
		for c := range factors {
			if mean > 0 {
				factors[c] /= mean
			}
		}
	}
	for _, f := range factors {
		if !(f > 0) || math.IsInf(f, 0) {
			return fail(CodeInvalidArgument)
		}
	}

	err := m.parallel(ctx, ncol, func(lo, hi int) {
		for c := lo; c < hi; c++ {
			for r := 0; r < nrow; r++ {
				i := c*nrow + r
				out[i] = math.Log2(mat[i]/factors[c] + 1)
			}
		}
	})
	if err != nil {
		return fail(CodeCancelled)
	}

	m.SetFields(obj, 0, uint32(nrow), uint32(ncol), dataPtr) //nolint:gosec // G115: bounded by dims
	return native.OK(obj)
}

// kmeansCreate(dataPtr, ndim, nobs, k, seed) copies the observations
// (column-major, one column per observation) and seeds k centers from
// distinct observations.
func kmeansCreate(_ context.Context, m *Module, p []uint64) uint64 {
	if len(p) != 5 {
		return native.Fail(CodeInvalidArgument)
	}
	ptr := uint32(p[0]) //nolint:gosec // G115: arena offsets are 32-bit
	ndim, nobs, ok := dims(m, ptr, p[1], p[2])
	if !ok {
		return native.Fail(CodeInvalidDimensions)
	}
	if p[3] == 0 || p[3] > uint64(nobs) {
		return native.Fail(CodeInvalidArgument)
	}
	k := int(p[3]) //nolint:gosec // G115: bounded by nobs

	centersPtr := m.Alloc(uint32(k * ndim * 8)) //nolint:gosec // G115: bounded by dims
	clustersPtr := m.Alloc(uint32(nobs * 4))    //nolint:gosec // G115: bounded by dims
	dataPtr := m.Alloc(uint32(ndim * nobs * 8)) //nolint:gosec // G115: bounded by dims
	obj := m.NewObject(KindKMeans, kmFields)
	if centersPtr == 0 || clustersPtr == 0 || dataPtr == 0 || obj == 0 {
		m.Release(centersPtr, clustersPtr, dataPtr)
		if obj != 0 {
			m.DropObject(obj)
		}
		return native.Fail(CodeOutOfMemory)
	}

	src, _ := m.Float64s(ptr, ndim*nobs)
	data, _ := m.Float64s(dataPtr, ndim*nobs)
	centers, _ := m.Float64s(centersPtr, k*ndim)
	clusters, _ := m.Int32s(clustersPtr, nobs)

	copy(data, src)
	rng := rand.New(rand.NewPCG(p[4], 0x9E3779B97F4A7C15))
	for i, obs := range rng.Perm(nobs)[:k] {
		copy(centers[i*ndim:(i+1)*ndim], data[obs*ndim:(obs+1)*ndim])
	}
	for i := range clusters {
		clusters[i] = -1
	}

	m.SetFields(obj, 0,
		uint32(ndim), uint32(nobs), uint32(k), //nolint:gosec // G115: bounded by dims
		centersPtr, clustersPtr, dataPtr, 0, 0)
	return native.OK(obj)
}

// kmeansStep(ref, steps, budgetMillis) runs up to steps Lloyd iterations.
// The time budget and ctx are only checked between iterations. The status
// value is 1 once the assignment is stable.
func kmeansStep(ctx context.Context, m *Module, p []uint64) uint64 {
	if len(p) != 3 {
		return native.Fail(CodeInvalidArgument)
	}
	ref := uint32(p[0]) //nolint:gosec // G115: refs are 32-bit
	if !m.Object(ref, KindKMeans) {
		return native.Fail(CodeInvalidReference)
	}
	f, _ := m.Fields(ref, kmFields)
	if f[kmConverged] != 0 {
		return native.OK(1)
	}

	ndim, nobs, k := int(f[kmNDim]), int(f[kmNObs]), int(f[kmK])
	data, _ := m.Float64s(f[kmData], ndim*nobs)
	centers, _ := m.Float64s(f[kmCenters], k*ndim)
	clusters, _ := m.Int32s(f[kmClusters], nobs)

	budget := time.Duration(p[2]) * time.Millisecond //nolint:gosec // G115: caller-supplied budget
	start := time.Now()
	iterations := f[kmIterations]
	converged := uint32(0)

	for step := uint64(0); step < p[1]; step++ {
		if step > 0 && budget > 0 && time.Since(start) >= budget {
			break
		}
		if ctx.Err() != nil {
			m.SetFields(ref, kmIterations, iterations)
			return native.Fail(CodeCancelled)
		}

		var changed atomic.Bool
		err := m.parallel(ctx, nobs, func(lo, hi int) {
			for o := lo; o < hi; o++ {
				obs := data[o*ndim : (o+1)*ndim]
				best, bestDist := 0, math.Inf(1)
				for c := 0; c < k; c++ {
					var d float64
					for j, v := range centers[c*ndim : (c+1)*ndim] {
						diff := obs[j] - v
						d += diff * diff
					}
					if d < bestDist {
						best, bestDist = c, d
					}
				}
				if clusters[o] != int32(best) { //nolint:gosec // G115: k is 32-bit
					clusters[o] = int32(best) //nolint:gosec // G115: k is 32-bit
					changed.Store(true)
				}
			}
		})
		if err != nil {
			m.SetFields(ref, kmIterations, iterations)
			return native.Fail(CodeCancelled)
		}

		sums := make([]float64, k*ndim)
		counts := make([]int, k)
		for o, c := range clusters {
			counts[c]++
			for j := 0; j < ndim; j++ {
				sums[int(c)*ndim+j] += data[o*ndim+j]
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for j := 0; j < ndim; j++ {
				centers[c*ndim+j] = sums[c*ndim+j] / float64(counts[c])
			}
		}

		iterations++
		if !changed.Load() {
			converged = 1
			break
		}
	}

	m.SetFields(ref, kmIterations, iterations, converged)
	return native.OK(converged)
}
