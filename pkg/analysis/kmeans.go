package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/woxQAQ/arena-bridge/pkg/bridge"
)

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

// KMeans is a stateful native k-means clustering. Observations are the
// columns of a column-major ndim x nobs matrix.
type KMeans struct {
	b        *bridge.Bridge
	h        *bridge.Handle
	ndim     int
	nobs     int
	k        int
	centers  *bridge.Buffer
	clusters *bridge.Buffer
}

// NewKMeans copies the observations into a native clustering state and
// seeds k centers from distinct observations chosen with seed.
func NewKMeans(ctx context.Context, b *bridge.Bridge, data Matrix, ndim, nobs, k int, seed uint64) (*KMeans, error) {
	const op = "kmeans"

	if k <= 0 || k > nobs {
		return nil, &bridge.ValidationError{
			Op:      op,
			Message: fmt.Sprintf("cluster count %d out of range [1, %d]", k, nobs),
		}
	}

	s := b.NewScope(ctx)
	defer s.Close()

	in, err := resolveMatrix(s, op, data, ndim, nobs)
	if err != nil {
		return nil, err
	}

	return bridge.CallWrap(ctx, b,
		bridge.Entry("kmeans_create", offset(in), uint64(ndim), uint64(nobs), uint64(k), seed),
		"kmeans_free",
		func(h *bridge.Handle) (*KMeans, error) {
			fields, err := b.Fields(h, kmFields)
			if err != nil {
				return nil, err
			}
			if int(fields[kmNDim]) != ndim || int(fields[kmNObs]) != nobs || int(fields[kmK]) != k {
				return nil, &bridge.ValidationError{
					Op: op,
					Message: fmt.Sprintf("native state has ndim=%d nobs=%d k=%d",
						fields[kmNDim], fields[kmNObs], fields[kmK]),
				}
			}
			centers, err := b.Child(h, fields[kmCenters], k*ndim, bridge.Float64)
			if err != nil {
				return nil, err
			}
			clusters, err := b.Child(h, fields[kmClusters], nobs, bridge.Int32)
			if err != nil {
				return nil, err
			}
			return &KMeans{
				b:        b,
				h:        h,
				ndim:     ndim,
				nobs:     nobs,
				k:        k,
				centers:  centers,
				clusters: clusters,
			}, nil
		})
}

// Advance runs up to steps Lloyd iterations, stopping early once budget has
// elapsed (checked between iterations; zero means no budget). It reports
// whether the assignment has converged.
func (km *KMeans) Advance(ctx context.Context, steps int, budget time.Duration) (bool, error) {
	if steps < 0 {
		return false, &bridge.ValidationError{Op: "kmeans advance", Message: fmt.Sprintf("negative step count %d", steps)}
	}
	if !km.h.Live() {
		return false, bridge.ErrReleased
	}
	v, err := km.b.Invoke(ctx, "kmeans_step",
		uint64(km.h.Ref()), uint64(steps), uint64(budget.Milliseconds()))
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// Run advances until convergence or maxSteps iterations in total, counting
// iterations already run by Advance.
func (km *KMeans) Run(ctx context.Context, maxSteps int) (bool, error) {
	done, err := km.Iterations()
	if err != nil {
		return false, err
	}
	if remaining := maxSteps - done; remaining > 0 {
		return km.Advance(ctx, remaining, 0)
	}
	return km.Converged()
}

// Iterations returns the number of iterations run so far.
func (km *KMeans) Iterations() (int, error) {
	fields, err := km.b.Fields(km.h, kmFields)
	if err != nil {
		return 0, err
	}
	return int(fields[kmIterations]), nil
}

// Converged reports whether the last iteration left the assignment
// unchanged.
func (km *KMeans) Converged() (bool, error) {
	fields, err := km.b.Fields(km.h, kmFields)
	if err != nil {
		return false, err
	}
	return fields[kmConverged] != 0, nil
}

// K returns the number of clusters.
func (km *KMeans) K() int {
	return km.k
}

// Centers returns the column-major ndim x k matrix of cluster centers.
func (km *KMeans) Centers(mode bridge.Mode) (bridge.Value[float64], error) {
	return bridge.PossibleCopy[float64](km.centers, mode)
}

// Clusters returns the cluster index of every observation, or -1 before
// the first iteration.
func (km *KMeans) Clusters(mode bridge.Mode) (bridge.Value[int32], error) {
	return bridge.PossibleCopy[int32](km.clusters, mode)
}

// Free releases the native state.
func (km *KMeans) Free(ctx context.Context) error {
	return km.h.Release(ctx)
}
