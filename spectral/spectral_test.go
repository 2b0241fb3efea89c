package spectral

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/notargets/FlowKernel/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testParams(n0, n1 int, precision grid.Precision) *OperatorParams {
	p := &OperatorParams{
		ComplexShape: []int{2, 2, n0, n1/2 + 1},
		Alpha:        0.7,
		Beta:         0.3,
		Gamma:        5.0,
		Precision:    precision,
	}
	for _, n := range []int{n0, n1} {
		c := make([]float64, n)
		s := make([]float64, n)
		for k := 0; k < n; k++ {
			c[k] = 1 - math.Cos(2*math.Pi*float64(k)/float64(n))
			s[k] = math.Sin(2 * math.Pi * float64(k) / float64(n))
		}
		p.Cos = append(p.Cos, c)
		p.Sin = append(p.Sin, s)
	}
	return p
}

func TestHalfShape(t *testing.T) {
	assert.Equal(t, []int{2, 2, 8, 5}, HalfShape([]int{2, 2, 8, 8}))
	assert.Equal(t, []int{1, 3, 4, 6, 4}, HalfShape([]int{1, 3, 4, 6, 7}))
}

func TestForEachLine(t *testing.T) {
	shape := []int{3, 4, 5}
	for axis := range shape {
		visited := make([]int, 60)
		lines := 0
		ForEachLine(shape, axis, func(start, stride int) {
			lines++
			for k := 0; k < shape[axis]; k++ {
				visited[start+k*stride]++
			}
		})
		assert.Equal(t, 60/shape[axis], lines)
		for i, v := range visited {
			assert.Equal(t, 1, v, "axis %d element %d", axis, i)
		}
	}
}

func TestSpectrum(t *testing.T) {
	s, err := NewSpectrum([]int{1, 2, 4, 3}, grid.Single)
	require.NoError(t, err)
	assert.Equal(t, 24, s.Len())
	assert.Equal(t, 12, s.BlockLen())
	s.Set(5, complex(1, -2))
	assert.Equal(t, complex(1, -2), s.At(5))
	s.Zero()
	assert.Equal(t, complex128(0), s.At(5))

	_, err = NewSpectrum([]int{1, 2, 4, 3}, grid.Precision(7))
	assert.True(t, errors.Is(err, grid.ErrUnsupportedPrecision))
}

func TestSymbol2D_MatchesDenseOperator(t *testing.T) {
	p := testParams(8, 6, grid.Double)
	require.NoError(t, p.Validate())
	bound := 4*p.Alpha + 2*p.Beta + p.Gamma
	for i := 0; i < 8; i++ {
		for j := 0; j < 4; j++ {
			a00, a01, a11 := p.Symbol2D(i, j)
			c := mat.NewDiagDense(2, []float64{p.Cos[0][i], p.Cos[1][j]})
			s := mat.NewVecDense(2, []float64{p.Sin[0][i], p.Sin[1][j]})
			var grad mat.Dense
			grad.Outer(p.Beta, s, s)
			lap := p.Alpha*(p.Cos[0][i]+p.Cos[1][j]) + p.Gamma
			assert.InDelta(t, lap+p.Beta*c.At(0, 0), a00, 1e-14)
			assert.InDelta(t, grad.At(0, 1), a01, 1e-14)
			assert.InDelta(t, lap+p.Beta*c.At(1, 1), a11, 1e-14)
			assert.LessOrEqual(t, math.Max(a00, a11), bound+1e-12)
		}
	}
	// zero frequency reduces to γI
	a00, a01, a11 := p.Symbol2D(0, 0)
	assert.Equal(t, p.Gamma, a00)
	assert.Equal(t, 0.0, a01)
	assert.Equal(t, p.Gamma, a11)

	// a checkerboard along axis 0 is penalized by the grad-div term
	a00, a01, a11 = p.Symbol2D(4, 0)
	assert.InDelta(t, 2*p.Alpha+p.Gamma+2*p.Beta, a00, 1e-14)
	assert.InDelta(t, 0.0, a01, 1e-14)
	assert.InDelta(t, 2*p.Alpha+p.Gamma, a11, 1e-14)
}

func TestApplyOperator2D_InverseAgainstGonum(t *testing.T) {
	p := testParams(6, 8, grid.Double)
	F, err := NewSpectrum(p.ComplexShape, grid.Double)
	require.NoError(t, err)
	for i := range F.C128 {
		F.C128[i] = complex(math.Sin(float64(i)), math.Cos(float64(3*i)))
	}
	orig := append([]complex128(nil), F.C128...)

	ApplyOperator2D(F.C128, p, 0, 2, true)

	block := F.BlockLen()
	h1 := p.ComplexShape[3]
	for n := 0; n < 2; n++ {
		for k := 0; k < block; k++ {
			a00, a01, a11 := p.Symbol2D(k/h1, k%h1)
			A := mat.NewSymDense(2, []float64{a00, a01, a01, a11})
			var Ainv mat.Dense
			require.NoError(t, Ainv.Inverse(A))
			f0, f1 := orig[2*n*block+k], orig[(2*n+1)*block+k]
			e0 := complex(Ainv.At(0, 0), 0)*f0 + complex(Ainv.At(0, 1), 0)*f1
			e1 := complex(Ainv.At(1, 0), 0)*f0 + complex(Ainv.At(1, 1), 0)*f1
			assert.Less(t, cmplx.Abs(e0-F.C128[2*n*block+k]), 1e-13)
			assert.Less(t, cmplx.Abs(e1-F.C128[(2*n+1)*block+k]), 1e-13)
		}
	}

	ApplyOperator2D(F.C128, p, 0, 2, false)
	for i := range orig {
		assert.Less(t, cmplx.Abs(orig[i]-F.C128[i]), 1e-13)
	}
}

func TestApplyOperator2D_SinglePrecisionMatchesDouble(t *testing.T) {
	p64 := testParams(4, 4, grid.Double)
	p32 := testParams(4, 4, grid.Single)
	F64, err := NewSpectrum(p64.ComplexShape, grid.Double)
	require.NoError(t, err)
	F32, err := NewSpectrum(p32.ComplexShape, grid.Single)
	require.NoError(t, err)
	for i := 0; i < F64.Len(); i++ {
		v := complex(float64(i%7)-3, float64(i%5))
		F64.Set(i, v)
		F32.Set(i, v)
	}
	ApplyOperator2D(F64.C128, p64, 0, 2, false)
	ApplyOperator2D(F32.C64, p32, 0, 2, false)
	for i := 0; i < F64.Len(); i++ {
		assert.Less(t, cmplx.Abs(F64.At(i)-F32.At(i)), 1e-4*math.Max(1, cmplx.Abs(F64.At(i))))
	}
}

func TestCheckKernelInput(t *testing.T) {
	p := testParams(4, 4, grid.Double)
	F, err := NewSpectrum(p.ComplexShape, grid.Single)
	require.NoError(t, err)
	assert.True(t, errors.Is(CheckKernelInput(F, p), grid.ErrPrecisionMismatch))

	p3 := &OperatorParams{ComplexShape: []int{1, 3, 4, 4, 3}, Precision: grid.Double}
	F3, err := NewSpectrum(p3.ComplexShape, grid.Double)
	require.NoError(t, err)
	assert.True(t, errors.Is(CheckKernelInput(F3, p3), grid.ErrNotImplemented))
}

func TestOperatorParams_Validate(t *testing.T) {
	p := testParams(4, 4, grid.Double)
	require.NoError(t, p.Validate())

	bad := *p
	bad.Gamma = math.NaN()
	assert.Error(t, bad.Validate())

	bad = *p
	bad.Cos = bad.Cos[:1]
	assert.True(t, errors.Is(bad.Validate(), grid.ErrShapeMismatch))

	bad = *p
	bad.ComplexShape = []int{1, 2, 4, 4, 4, 3}
	assert.True(t, grid.IsDimensionError(bad.Validate()))
}
