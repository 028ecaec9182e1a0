// Package analysis drives the numeric kernels of a native module through
// the bridge: per-cell quality control, log-normalization and k-means
// clustering.
//
// Every function resolves its inputs into the arena, frees the temporaries
// it created on every exit path, and returns a wrapper owning the native
// result. Wrappers must be freed with Free; unreachable wrappers are
// reclaimed by the bridge's cleanup fallback.
package analysis

import (
	"fmt"

	"github.com/woxQAQ/arena-bridge/pkg/bridge"
)

// Matrix is anything bridge.Wasmify accepts as a float64 column-major
// matrix: a []float64, a plain []int, or a Float64 *bridge.Buffer.
type Matrix = any

// resolveMatrix resolves a nrow x ncol matrix into the scope's arena.
func resolveMatrix(s *bridge.Scope, op string, matrix Matrix, nrow, ncol int) (*bridge.Buffer, error) {
	if nrow <= 0 || ncol <= 0 {
		return nil, &bridge.ValidationError{
			Op:      op,
			Message: fmt.Sprintf("matrix dimensions must be positive, got %d x %d", nrow, ncol),
		}
	}
	buf, err := s.Wasmify(matrix, bridge.Float64)
	if err != nil {
		return nil, err
	}
	if buf.Len() != nrow*ncol {
		return nil, &bridge.ValidationError{
			Op:      op,
			Message: fmt.Sprintf("matrix has %d elements, expected %d x %d", buf.Len(), nrow, ncol),
		}
	}
	return buf, nil
}

// resolveVector resolves an optional float64 vector of length n. A nil
// value resolves to nil.
func resolveVector(s *bridge.Scope, op string, vector any, n int) (*bridge.Buffer, error) {
	if vector == nil {
		return nil, nil
	}
	buf, err := s.Wasmify(vector, bridge.Float64)
	if err != nil {
		return nil, err
	}
	if buf.Len() != n {
		return nil, &bridge.ValidationError{
			Op:      op,
			Message: fmt.Sprintf("vector has %d elements, expected %d", buf.Len(), n),
		}
	}
	return buf, nil
}

func offset(buf *bridge.Buffer) uint64 {
	if buf == nil {
		return 0
	}
	return uint64(buf.Offset())
}
