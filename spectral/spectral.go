// Package spectral defines the execution context used by the fluid metric:
// real-to-complex transform plans over batched grid fields, the half-spectrum
// buffer they fill, and the per-frequency operator kernel.
//
// A Context is passed explicitly to every metric so several backends can
// coexist in one process. The host backend (package spectral/host) runs
// entirely in Go; the occa backend (package spectral/occa) evaluates the
// operator kernel on an OCCA device.
package spectral

import (
	"errors"
	"fmt"

	"github.com/notargets/FlowKernel/grid"
)

// ErrClosed is returned by contexts, plans and kernels used after Close.
var ErrClosed = errors.New("execution context closed")

// Context creates transform plans and operator kernels for one backend.
type Context interface {
	Name() string
	// NewPlan returns a transform pair for fields of shape (N, C, spatial...),
	// batched over the N*C channel blocks.
	NewPlan(shape []int, precision grid.Precision) (Plan, error)
	// NewKernel returns the per-frequency operator described by params.
	NewKernel(params OperatorParams) (Kernel, error)
	Close() error
}

// Plan is a real-to-complex / complex-to-real transform pair. Both legs are
// unnormalized; scale divides the output by the number of spatial points, so
// scaling exactly one leg of a round trip reproduces the input.
type Plan interface {
	Forward(dst *Spectrum, src *grid.Field, scale bool) error
	Inverse(dst *grid.Field, src *Spectrum, scale bool) error
}

// Kernel applies the operator symbol, or its inverse, to every frequency bin
// of a spectrum in place.
type Kernel interface {
	Apply(F *Spectrum, inverse bool) error
}

// HalfShape folds the last spatial axis of a real field shape to N/2+1
func HalfShape(shape []int) []int {
	half := append([]int(nil), shape...)
	half[len(half)-1] = half[len(half)-1]/2 + 1
	return half
}

// CheckFieldForPlan validates that f can be transformed by a plan built for shape and precision
func CheckFieldForPlan(f *grid.Field, shape []int, precision grid.Precision) error {
	if !equalInts(f.Shape(), shape) {
		return fmt.Errorf("%w: field %v, plan %v", grid.ErrShapeMismatch, f.Shape(), shape)
	}
	if f.Precision() != precision {
		return fmt.Errorf("%w: field %v, plan %v", grid.ErrPrecisionMismatch, f.Precision(), precision)
	}
	if !f.IsContiguous() {
		return grid.ErrNotContiguous
	}
	return nil
}

// CheckSpectrum validates that s has the given half-spectrum shape and precision
func CheckSpectrum(s *Spectrum, shape []int, precision grid.Precision) error {
	if !equalInts(s.shape, shape) {
		return fmt.Errorf("%w: spectrum %v, expected %v", grid.ErrShapeMismatch, s.shape, shape)
	}
	if s.precision != precision {
		return fmt.Errorf("%w: spectrum %v, expected %v", grid.ErrPrecisionMismatch, s.precision, precision)
	}
	return nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
