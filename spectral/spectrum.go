package spectral

import (
	"fmt"

	"github.com/notargets/FlowKernel/grid"
)

// Spectrum is a C-ordered complex array of shape (N, C, s0, ..., s_last/2+1)
// holding the half spectrum of a real grid field. Storage is complex64 for
// Single precision and complex128 for Double.
type Spectrum struct {
	shape     []int
	precision grid.Precision
	C64       []complex64
	C128      []complex128
}

// NewSpectrum allocates a zeroed spectrum of the given (already halved) shape
func NewSpectrum(shape []int, precision grid.Precision) (*Spectrum, error) {
	if !precision.Valid() {
		return nil, fmt.Errorf("%w: %v", grid.ErrUnsupportedPrecision, precision)
	}
	if len(shape) < 3 {
		return nil, fmt.Errorf("%w: spectrum shape %v", grid.ErrShapeMismatch, shape)
	}
	n := 1
	for _, s := range shape {
		if s <= 0 {
			return nil, fmt.Errorf("%w: spectrum shape %v", grid.ErrShapeMismatch, shape)
		}
		n *= s
	}
	sp := &Spectrum{
		shape:     append([]int(nil), shape...),
		precision: precision,
	}
	if precision == grid.Single {
		sp.C64 = make([]complex64, n)
	} else {
		sp.C128 = make([]complex128, n)
	}
	return sp, nil
}

func (s *Spectrum) Shape() []int { return append([]int(nil), s.shape...) }
func (s *Spectrum) Precision() grid.Precision { return s.precision }
func (s *Spectrum) Batch() int { return s.shape[0] }
func (s *Spectrum) Channels() int { return s.shape[1] }
func (s *Spectrum) Dim() int { return len(s.shape) - 2 }

// Len is the total number of complex values
func (s *Spectrum) Len() int {
	if s.precision == grid.Single {
		return len(s.C64)
	}
	return len(s.C128)
}

// BlockLen is the number of frequency bins per channel block
func (s *Spectrum) BlockLen() int {
	n := 1
	for _, e := range s.shape[2:] {
		n *= e
	}
	return n
}

func (s *Spectrum) At(i int) complex128 {
	if s.precision == grid.Single {
		return complex128(s.C64[i])
	}
	return s.C128[i]
}

func (s *Spectrum) Set(i int, v complex128) {
	if s.precision == grid.Single {
		s.C64[i] = complex64(v)
		return
	}
	s.C128[i] = v
}

// Zero clears every bin
func (s *Spectrum) Zero() {
	clear(s.C64)
	clear(s.C128)
}
