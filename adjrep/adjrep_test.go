package adjrep

import (
	"errors"
	"math"
	"testing"

	"github.com/notargets/FlowKernel/grid"
	"github.com/notargets/FlowKernel/metric"
	"github.com/notargets/FlowKernel/spectral/host"
	"github.com/notargets/FlowKernel/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scalarMetric is the metric of L'L = γI
type scalarMetric struct{ gamma float64 }

func (sm scalarMetric) Sharp(m *grid.Field) (*grid.Field, error) { return m.Scale(1 / sm.gamma), nil }
func (sm scalarMetric) Flat(v *grid.Field) (*grid.Field, error) { return v.Scale(sm.gamma), nil }

// translationInverter inverts constant displacements
type translationInverter struct{}

func (translationInverter) Invert(u *grid.Field) (*grid.Field, error) { return u.Neg(), nil }

type failingInverter struct{}

func (failingInverter) Invert(*grid.Field) (*grid.Field, error) { return nil, errInvert }

var errInvert = errors.New("not invertible")

func newFluidMetric(t *testing.T, shape []int) *metric.FluidMetric {
	ctx, err := host.NewContext(host.Config{Logger: utils.NoopLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })
	fm, err := metric.NewFluidMetric(ctx, metric.Config{
		Shape:     shape,
		Alpha:     1,
		Beta:      0.2,
		Gamma:     8,
		Precision: "double",
		Logger:    utils.NoopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fm.Close() })
	return fm
}

func smoothField(shape []int, seed int) *grid.Field {
	dim := len(shape) - 2
	var modes []utils.Mode
	for c := 0; c < dim; c++ {
		for d := 0; d < dim; d++ {
			wn := make([]int, dim)
			wn[d] = 1
			modes = append(modes, utils.Mode{
				Component:  c,
				Wavenumber: wn,
				Amplitude:  1 / float64(1+(c+d+seed)%dim),
				Phase:      1.1*float64(seed) + 0.7*float64(c) + 0.3*float64(d),
				BatchPhase: 0.5,
			})
		}
	}
	return utils.SinCosField(shape, grid.Double, modes...)
}

func TestNew(t *testing.T) {
	ar, err := New(2)
	require.NoError(t, err)
	assert.Equal(t, 2, ar.Dim())
	_, err = New(4)
	assert.True(t, grid.IsDimensionError(err))
	_, err = New(1)
	assert.True(t, grid.IsDimensionError(err))
}

func TestAd_Antisymmetry(t *testing.T) {
	for _, shape := range [][]int{{2, 2, 12, 10}, {1, 3, 6, 5, 4}} {
		ar, err := New(len(shape) - 2)
		require.NoError(t, err)
		v := utils.RandomField(shape, grid.Double, 1)
		w := utils.RandomField(shape, grid.Double, 2)

		vw, err := ar.Ad(v, w)
		require.NoError(t, err)
		wv, err := ar.Ad(w, v)
		require.NoError(t, err)
		sum, err := vw.Add(wv)
		require.NoError(t, err)
		assert.Less(t, sum.MaxAbs(), 1e-13)

		vv, err := ar.Ad(v, v)
		require.NoError(t, err)
		assert.Equal(t, 0.0, vv.MaxAbs())
	}
}

func TestAd_Bilinear(t *testing.T) {
	shape := []int{1, 2, 8, 8}
	ar, err := New(2)
	require.NoError(t, err)
	v := utils.RandomField(shape, grid.Double, 3)
	w1 := utils.RandomField(shape, grid.Double, 4)
	w2 := utils.RandomField(shape, grid.Double, 5)
	comb, err := w1.AddScaled(2, w2)
	require.NoError(t, err)

	a1, err := ar.Ad(v, w1)
	require.NoError(t, err)
	a2, err := ar.Ad(v, w2)
	require.NoError(t, err)
	ac, err := ar.Ad(v, comb)
	require.NoError(t, err)
	expected, err := a1.AddScaled(2, a2)
	require.NoError(t, err)
	d, err := ac.MaxAbsDiff(expected)
	require.NoError(t, err)
	assert.Less(t, d, 1e-12)
}

// pairingFields returns v, w and m built so that m shares wavenumbers with
// the products in ad(v, w), which keeps both sides of the pairing well away
// from zero
func pairingFields(shape []int) (v, w, m *grid.Field) {
	mode := func(c int, k []int, amp, phase float64) utils.Mode {
		return utils.Mode{Component: c, Wavenumber: k, Amplitude: amp, Phase: phase}
	}
	if len(shape) == 4 {
		v = utils.SinCosField(shape, grid.Double,
			mode(0, []int{1, 0}, 1, 0.3), mode(0, []int{0, 1}, 0.5, 1.1),
			mode(1, []int{1, 0}, 0.7, 0.2), mode(1, []int{0, 1}, 1, 2))
		w = utils.SinCosField(shape, grid.Double,
			mode(0, []int{0, 1}, 1, 0.9), mode(0, []int{1, 0}, 0.4, 0.1),
			mode(1, []int{1, 0}, 1, 1.7), mode(1, []int{0, 1}, 0.6, 0.4))
		m = utils.SinCosField(shape, grid.Double,
			mode(0, []int{1, 1}, 1, 0.5), mode(0, []int{1, -1}, 0.8, 1.3),
			mode(1, []int{1, 1}, 0.6, 2.2), mode(1, []int{2, 0}, 0.9, 0.7),
			mode(0, []int{0, 2}, 0.5, 0.2), mode(1, []int{1, -1}, 0.7, 0.9))
		return
	}
	v = utils.SinCosField(shape, grid.Double,
		mode(0, []int{1, 0, 0}, 1, 0.3), mode(1, []int{0, 1, 0}, 0.8, 1.1),
		mode(2, []int{0, 0, 1}, 0.6, 0.2), mode(0, []int{0, 0, 1}, 0.5, 2),
		mode(2, []int{1, 0, 0}, 0.7, 0.4))
	w = utils.SinCosField(shape, grid.Double,
		mode(0, []int{0, 1, 0}, 1, 0.9), mode(1, []int{0, 0, 1}, 0.6, 0.1),
		mode(2, []int{1, 0, 0}, 1, 1.7), mode(1, []int{1, 0, 0}, 0.4, 0.5))
	m = utils.SinCosField(shape, grid.Double,
		mode(0, []int{1, 1, 0}, 1, 0.5), mode(1, []int{0, 1, 1}, 0.8, 1.3),
		mode(2, []int{1, 0, 1}, 0.6, 2.2), mode(0, []int{1, 0, 1}, 0.7, 0.8),
		mode(2, []int{0, 1, 1}, 0.5, 0.3), mode(1, []int{1, 1, 0}, 0.9, 1.9))
	return
}

// pairingError returns <m, ad(v, w)> and the relative gap to <ad*(v, m), w>
func pairingError(t *testing.T, shape []int) (rhs, rel float64) {
	ar, err := New(len(shape) - 2)
	require.NoError(t, err)
	v, w, m := pairingFields(shape)

	star, err := ar.AdStar(v, m)
	require.NoError(t, err)
	ad, err := ar.Ad(v, w)
	require.NoError(t, err)
	lhs, err := star.Dot(w)
	require.NoError(t, err)
	rhs, err = m.Dot(ad)
	require.NoError(t, err)
	return rhs, math.Abs(lhs-rhs) / math.Abs(rhs)
}

func TestAdStar_Pairing(t *testing.T) {
	// <ad*(v, m), w> = <m, ad(v, w)> holds up to the O(h²) product rule
	// error of central differences on smooth fields
	t.Run("SecondOrder2D", func(t *testing.T) {
		rhs32, rel32 := pairingError(t, []int{1, 2, 32, 32})
		rhs64, rel64 := pairingError(t, []int{1, 2, 64, 64})
		assert.Greater(t, math.Abs(rhs32), 10.0)
		assert.Greater(t, math.Abs(rhs64), 10.0)
		assert.Less(t, rel32, 1e-2)
		assert.Less(t, rel64, 3e-3)
		// doubling the resolution quarters the error
		assert.InDelta(t, 4.0, rel32/rel64, 0.5)
	})

	t.Run("ThreeDimensional", func(t *testing.T) {
		rhs, rel := pairingError(t, []int{1, 3, 8, 8, 8})
		assert.Greater(t, math.Abs(rhs), 10.0)
		assert.Less(t, rel, 1e-2)
	})
}

func TestAdStar_PairingExactForConstantVelocity(t *testing.T) {
	shape := []int{2, 2, 9, 11}
	ar, err := New(2)
	require.NoError(t, err)
	v := utils.ConstantField(shape, grid.Double, 0.7, -1.3)
	m := utils.RandomField(shape, grid.Double, 6)
	w := utils.RandomField(shape, grid.Double, 7)

	star, err := ar.AdStar(v, m)
	require.NoError(t, err)
	ad, err := ar.Ad(v, w)
	require.NoError(t, err)
	lhs, err := star.Dot(w)
	require.NoError(t, err)
	rhs, err := m.Dot(ad)
	require.NoError(t, err)
	assert.InDelta(t, lhs, rhs, 1e-11*math.Max(1, math.Abs(lhs)))
}

func TestAdStar_DivergenceTerm(t *testing.T) {
	// with m constant, ad*(v, m) = (Dv)ᵀ·m + m·div(v)
	nx, ny := 16, 8
	shape := []int{1, 2, nx, ny}
	ar, err := New(2)
	require.NoError(t, err)
	v := utils.SinCosField(shape, grid.Double,
		utils.Mode{Component: 0, Wavenumber: []int{1, 0}, Amplitude: 1})
	m := utils.ConstantField(shape, grid.Double, 2, 3)

	out, err := ar.AdStar(v, m)
	require.NoError(t, err)
	theta := 2 * math.Pi / float64(nx)
	for x := 0; x < nx; x++ {
		dv := math.Sin(theta) * math.Cos(theta*float64(x))
		for y := 0; y < ny; y++ {
			// (Dv)ᵀm gives 2·∂x v0 in component 0, div(v)·m gives (2, 3)·∂x v0
			assert.InDelta(t, 4*dv, out.At(out.Index(0, 0, x, y)), 1e-12)
			assert.InDelta(t, 3*dv, out.At(out.Index(0, 1, x, y)), 1e-12)
		}
	}
}

func TestBigAdStar(t *testing.T) {
	shape := []int{2, 2, 8, 6}
	ar, err := New(2)
	require.NoError(t, err)
	m := utils.RandomField(shape, grid.Double, 8)

	t.Run("ZeroDisplacementIsIdentity", func(t *testing.T) {
		out, err := ar.BigAdStar(grid.MustNew(shape, grid.Double), m)
		require.NoError(t, err)
		d, err := out.MaxAbsDiff(m)
		require.NoError(t, err)
		assert.Equal(t, 0.0, d)
	})

	t.Run("TranslationShifts", func(t *testing.T) {
		u := utils.ConstantField(shape, grid.Double, 2, -1)
		out, err := ar.BigAdStar(u, m)
		require.NoError(t, err)
		for n := 0; n < 2; n++ {
			for c := 0; c < 2; c++ {
				for x := 0; x < 8; x++ {
					for y := 0; y < 6; y++ {
						expected := m.At(m.Index(n, c, (x+2)%8, (y+5)%6))
						assert.InDelta(t, expected, out.At(out.Index(n, c, x, y)), 1e-14)
					}
				}
			}
		}
	})
}

func TestBigAd(t *testing.T) {
	shape := []int{1, 2, 8, 6}
	v := utils.RandomField(shape, grid.Double, 9)
	u := utils.ConstantField(shape, grid.Double, 3, 1)

	t.Run("NotImplementedWithoutInverter", func(t *testing.T) {
		ar, err := New(2)
		require.NoError(t, err)
		_, err = ar.BigAd(u, v)
		assert.True(t, errors.Is(err, grid.ErrNotImplemented))
	})

	t.Run("TranslationShiftsBack", func(t *testing.T) {
		ar, err := New(2, WithInverter(translationInverter{}))
		require.NoError(t, err)
		out, err := ar.BigAd(u, v)
		require.NoError(t, err)
		for c := 0; c < 2; c++ {
			for x := 0; x < 8; x++ {
				for y := 0; y < 6; y++ {
					expected := v.At(v.Index(0, c, (x+5)%8, (y+5)%6))
					assert.InDelta(t, expected, out.At(out.Index(0, c, x, y)), 1e-14)
				}
			}
		}
	})

	t.Run("InverterErrorPropagates", func(t *testing.T) {
		ar, err := New(2, WithInverter(failingInverter{}))
		require.NoError(t, err)
		_, err = ar.BigAd(u, v)
		assert.True(t, errors.Is(err, errInvert))
	})
}

func TestDaggerForms(t *testing.T) {
	shape := []int{1, 2, 16, 16}
	ar, err := New(2)
	require.NoError(t, err)
	x := smoothField(shape, 0)
	y := smoothField(shape, 1)

	t.Run("ScalarMetricReducesToAdStar", func(t *testing.T) {
		dagger, err := ar.AdDagger(x, y, scalarMetric{gamma: 4})
		require.NoError(t, err)
		star, err := ar.AdStar(x, y)
		require.NoError(t, err)
		d, err := dagger.MaxAbsDiff(star)
		require.NoError(t, err)
		assert.Less(t, d, 1e-12)

		big, err := ar.BigAdDagger(grid.MustNew(shape, grid.Double), y, scalarMetric{gamma: 4})
		require.NoError(t, err)
		d, err = big.MaxAbsDiff(y)
		require.NoError(t, err)
		assert.Less(t, d, 1e-14)
	})

	fm := newFluidMetric(t, shape)

	t.Run("SymIsSymmetric", func(t *testing.T) {
		sxy, err := ar.Sym(x, y, fm)
		require.NoError(t, err)
		syx, err := ar.Sym(y, x, fm)
		require.NoError(t, err)
		d, err := sxy.MaxAbsDiff(syx)
		require.NoError(t, err)
		assert.Less(t, d, 1e-12)
		assert.Greater(t, sxy.MaxAbs(), 0.0)
	})

	t.Run("SymDaggerComplementsAd", func(t *testing.T) {
		sd, err := ar.SymDagger(x, y, fm)
		require.NoError(t, err)
		ad, err := ar.Ad(x, y)
		require.NoError(t, err)
		dagger, err := ar.AdDagger(y, x, fm)
		require.NoError(t, err)
		sum, err := sd.Add(ad)
		require.NoError(t, err)
		d, err := sum.MaxAbsDiff(dagger)
		require.NoError(t, err)
		assert.Less(t, d, 1e-12)
	})

	t.Run("BigAdDaggerZeroDisplacement", func(t *testing.T) {
		out, err := ar.BigAdDagger(grid.MustNew(shape, grid.Double), y, fm)
		require.NoError(t, err)
		d, err := out.MaxAbsDiff(y)
		require.NoError(t, err)
		assert.Less(t, d, 1e-10)
	})

	t.Run("MetricErrorsPropagate", func(t *testing.T) {
		wrong := utils.RandomField([]int{1, 2, 8, 8}, grid.Double, 1)
		_, err := ar.AdDagger(wrong, wrong, fm)
		assert.True(t, errors.Is(err, grid.ErrShapeMismatch))
	})
}

func TestErrors(t *testing.T) {
	ar, err := New(2)
	require.NoError(t, err)
	a := grid.MustNew([]int{1, 2, 8, 8}, grid.Double)
	_, err = ar.Ad(a, grid.MustNew([]int{1, 2, 8, 6}, grid.Double))
	assert.True(t, errors.Is(err, grid.ErrShapeMismatch))
	_, err = ar.AdStar(a, grid.MustNew([]int{1, 2, 8, 8}, grid.Single))
	assert.True(t, errors.Is(err, grid.ErrPrecisionMismatch))
	_, err = ar.Ad(grid.MustNew([]int{1, 3, 4, 4, 4}, grid.Double), grid.MustNew([]int{1, 3, 4, 4, 4}, grid.Double))
	assert.True(t, errors.Is(err, grid.ErrShapeMismatch))
	_, err = ar.BigAdStar(grid.MustNew([]int{1, 3, 8, 8}, grid.Double), grid.MustNew([]int{1, 3, 8, 8}, grid.Double))
	assert.True(t, errors.Is(err, grid.ErrShapeMismatch))
}
