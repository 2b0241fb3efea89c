package spectral

import (
	"fmt"
	"math"

	"github.com/notargets/FlowKernel/grid"
)

// OperatorParams describes the Fourier symbol of
//
//	L'L = -α∇² - β∇(∇·) + γI
//
// on a periodic grid. Cos[d][k] = 1-cos(2πk/N_d) and Sin[d][k] = sin(2πk/N_d)
// are tabulated once per axis for k in [0, N_d). At a frequency bin the
// symbol is the symmetric dim×dim matrix
//
//	A_dd = α·Σ_e Cos[e] + γ + β·Cos[d]
//	A_de = β·Sin[d]·Sin[e]   (d ≠ e)
//
// Every diagonal entry is at most 4α + 2β + γ in 2-D, which is where the
// conditioning bound γ > 4α + 2β comes from.
type OperatorParams struct {
	ComplexShape []int
	Cos          [][]float64
	Sin          [][]float64
	Alpha        float64
	Beta         float64
	Gamma        float64
	Precision    grid.Precision
}

// Dim is the spatial rank of the operator
func (p *OperatorParams) Dim() int {
	return len(p.ComplexShape) - 2
}

// Validate checks the tables against the complex shape
func (p *OperatorParams) Validate() error {
	dim := p.Dim()
	if err := grid.CheckDimension(dim); err != nil {
		return err
	}
	if p.ComplexShape[1] != dim {
		return fmt.Errorf("%w: %d vector components on a %d-D grid",
			grid.ErrShapeMismatch, p.ComplexShape[1], dim)
	}
	if !p.Precision.Valid() {
		return fmt.Errorf("%w: %v", grid.ErrUnsupportedPrecision, p.Precision)
	}
	if len(p.Cos) != dim || len(p.Sin) != dim {
		return fmt.Errorf("%w: %d lookup tables for a %d-D operator",
			grid.ErrShapeMismatch, len(p.Cos), dim)
	}
	for d := 0; d < dim; d++ {
		if len(p.Cos[d]) < p.ComplexShape[2+d] || len(p.Sin[d]) != len(p.Cos[d]) {
			return fmt.Errorf("%w: lookup table %d too short for extent %d",
				grid.ErrShapeMismatch, d, p.ComplexShape[2+d])
		}
	}
	for _, v := range []float64{p.Alpha, p.Beta, p.Gamma} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite operator coefficient %v", v)
		}
	}
	return nil
}

// Symbol2D returns the entries a00, a01 (= a10) and a11 of the symbol at bin (i, j)
func (p *OperatorParams) Symbol2D(i, j int) (a00, a01, a11 float64) {
	c0, c1 := p.Cos[0][i], p.Cos[1][j]
	diag := p.Alpha*(c0+c1) + p.Gamma
	a00 = diag + p.Beta*c0
	a01 = p.Beta * p.Sin[0][i] * p.Sin[1][j]
	a11 = diag + p.Beta*c1
	return
}

// ApplyOperator2D multiplies the two-component spectrum F by the symbol, or by
// its closed-form inverse, at every bin of batch entries [lo, hi).
// F is laid out as (N, 2, n0, h1).
func ApplyOperator2D[C complex64 | complex128](F []C, p *OperatorParams, lo, hi int, inverse bool) {
	n0, h1 := p.ComplexShape[2], p.ComplexShape[3]
	block := n0 * h1
	for n := lo; n < hi; n++ {
		base0 := (2 * n) * block
		base1 := base0 + block
		for i := 0; i < n0; i++ {
			for j := 0; j < h1; j++ {
				a00, a01, a11 := p.Symbol2D(i, j)
				if inverse {
					det := a00*a11 - a01*a01
					a00, a01, a11 = a11/det, -a01/det, a00/det
				}
				k := i*h1 + j
				f0, f1 := complex128(F[base0+k]), complex128(F[base1+k])
				F[base0+k] = C(complex(a00, 0)*f0 + complex(a01, 0)*f1)
				F[base1+k] = C(complex(a01, 0)*f0 + complex(a11, 0)*f1)
			}
		}
	}
}

// CheckKernelInput validates a spectrum handed to a Kernel built from p
func CheckKernelInput(F *Spectrum, p *OperatorParams) error {
	if err := CheckSpectrum(F, p.ComplexShape, p.Precision); err != nil {
		return err
	}
	if p.Dim() == 3 {
		return fmt.Errorf("3-D fluid operator: %w", grid.ErrNotImplemented)
	}
	return nil
}
