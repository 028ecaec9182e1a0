package analysis

import (
	"context"
	"fmt"

	"github.com/woxQAQ/arena-bridge/pkg/bridge"
)

// QC result object fields.
const (
	qcNumCells = iota
	qcSums
	qcDetected
	qcFields
)

// QCResults holds per-cell quality control metrics computed natively. The
// sums and detected counts live in arena buffers owned by the result.
type QCResults struct {
	h        *bridge.Handle
	ncells   int
	sums     *bridge.Buffer
	detected *bridge.Buffer
}

// PerCellQC computes, for each of the ncol cells (columns) of a column-major
// nrow x ncol count matrix, the sum of counts and the number of detected
// (non-zero) features.
func PerCellQC(ctx context.Context, b *bridge.Bridge, matrix Matrix, nrow, ncol int) (*QCResults, error) {
	const op = "per cell qc"

	s := b.NewScope(ctx)
	defer s.Close()

	in, err := resolveMatrix(s, op, matrix, nrow, ncol)
	if err != nil {
		return nil, err
	}

	return bridge.CallWrap(ctx, b,
		bridge.Entry("per_cell_qc", offset(in), uint64(nrow), uint64(ncol)),
		"qc_free",
		func(h *bridge.Handle) (*QCResults, error) {
			fields, err := b.Fields(h, qcFields)
			if err != nil {
				return nil, err
			}
			if int(fields[qcNumCells]) != ncol {
				return nil, &bridge.ValidationError{
					Op:      op,
					Message: fmt.Sprintf("native result reports %d cells, expected %d", fields[qcNumCells], ncol),
				}
			}
			sums, err := b.Child(h, fields[qcSums], ncol, bridge.Float64)
			if err != nil {
				return nil, err
			}
			detected, err := b.Child(h, fields[qcDetected], ncol, bridge.Int32)
			if err != nil {
				return nil, err
			}
			return &QCResults{h: h, ncells: ncol, sums: sums, detected: detected}, nil
		})
}

// NumCells returns the number of cells.
func (r *QCResults) NumCells() int {
	return r.ncells
}

// Sums returns the per-cell count sums.
func (r *QCResults) Sums(mode bridge.Mode) (bridge.Value[float64], error) {
	return bridge.PossibleCopy[float64](r.sums, mode)
}

// Detected returns the per-cell number of detected features.
func (r *QCResults) Detected(mode bridge.Mode) (bridge.Value[int32], error) {
	return bridge.PossibleCopy[int32](r.detected, mode)
}

// Handle returns the handle of the native result.
func (r *QCResults) Handle() *bridge.Handle {
	return r.h
}

// Free releases the native result. Values obtained with bridge.ModeCopy
// stay valid.
func (r *QCResults) Free(ctx context.Context) error {
	return r.h.Release(ctx)
}
