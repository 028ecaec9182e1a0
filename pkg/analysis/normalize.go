package analysis

import (
	"context"
	"fmt"

	"github.com/woxQAQ/arena-bridge/pkg/bridge"
)

const (
	normNRow = iota
	normNCol
	normData
	normFields
)

// NormalizedMatrix is a log-normalized column-major matrix held natively.
type NormalizedMatrix struct {
	h    *bridge.Handle
	nrow int
	ncol int
	data *bridge.Buffer
}

// LogNormalize divides every column of a column-major nrow x ncol matrix by
// its size factor and applies log2(x+1). sizeFactors is optional (nil); when
// absent, factors are derived from the column sums centered at one.
func LogNormalize(ctx context.Context, b *bridge.Bridge, matrix Matrix, nrow, ncol int, sizeFactors any) (*NormalizedMatrix, error) {
	const op = "log normalize"

	s := b.NewScope(ctx)
	defer s.Close()

	in, err := resolveMatrix(s, op, matrix, nrow, ncol)
	if err != nil {
		return nil, err
	}
	sf, err := resolveVector(s, op, sizeFactors, ncol)
	if err != nil {
		return nil, err
	}

	return bridge.CallWrap(ctx, b,
		bridge.Entry("log_normalize", offset(in), uint64(nrow), uint64(ncol), offset(sf)),
		"normalized_free",
		func(h *bridge.Handle) (*NormalizedMatrix, error) {
			fields, err := b.Fields(h, normFields)
			if err != nil {
				return nil, err
			}
			if int(fields[normNRow]) != nrow || int(fields[normNCol]) != ncol {
				return nil, &bridge.ValidationError{
					Op: op,
					Message: fmt.Sprintf("native result is %d x %d, expected %d x %d",
						fields[normNRow], fields[normNCol], nrow, ncol),
				}
			}
			data, err := b.Child(h, fields[normData], nrow*ncol, bridge.Float64)
			if err != nil {
				return nil, err
			}
			return &NormalizedMatrix{h: h, nrow: nrow, ncol: ncol, data: data}, nil
		})
}

// NRow returns the number of rows (features).
func (m *NormalizedMatrix) NRow() int {
	return m.nrow
}

// NCol returns the number of columns (cells).
func (m *NormalizedMatrix) NCol() int {
	return m.ncol
}

// Data returns the whole matrix.
func (m *NormalizedMatrix) Data(mode bridge.Mode) (bridge.Value[float64], error) {
	return bridge.PossibleCopy[float64](m.data, mode)
}

// Column returns column j.
func (m *NormalizedMatrix) Column(j int, mode bridge.Mode) (bridge.Value[float64], error) {
	if j < 0 || j >= m.ncol {
		return bridge.Value[float64]{}, &bridge.ValidationError{
			Op:      "column",
			Message: fmt.Sprintf("column %d out of range [0, %d)", j, m.ncol),
		}
	}
	col, err := m.data.Slice(j*m.nrow, (j+1)*m.nrow)
	if err != nil {
		return bridge.Value[float64]{}, err
	}
	return bridge.PossibleCopy[float64](col, mode)
}

// Buffer returns a bare view of the matrix, suitable as input to another
// operation on the same bridge.
func (m *NormalizedMatrix) Buffer() *bridge.Buffer {
	return m.data
}

// Free releases the native result.
func (m *NormalizedMatrix) Free(ctx context.Context) error {
	return m.h.Release(ctx)
}
