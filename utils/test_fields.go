package utils

import (
	"math"
	"math/rand"

	"github.com/notargets/FlowKernel/grid"
)

// Mode is one Fourier mode of an analytic periodic test field. Component c
// of every batch entry n carries
//
//	Amplitude * sin(2π Σ_d k_d x_d / N_d + Phase + n*BatchPhase)
type Mode struct {
	Component  int
	Wavenumber []int
	Amplitude  float64
	Phase      float64
	BatchPhase float64
}

// SinCosField builds a field on shape from a sum of Fourier modes
func SinCosField(shape []int, precision grid.Precision, modes ...Mode) *grid.Field {
	f := grid.MustNew(shape, precision)
	spatial := f.Spatial()
	pos := make([]int, len(spatial))
	for n := 0; n < f.Batch(); n++ {
		for _, md := range modes {
			forEachPoint(spatial, pos, func() {
				theta := md.Phase + float64(n)*md.BatchPhase
				for d, k := range md.Wavenumber {
					theta += 2 * math.Pi * float64(k*pos[d]) / float64(spatial[d])
				}
				i := f.Index(n, md.Component, pos...)
				f.Set(i, f.At(i)+md.Amplitude*math.Sin(theta))
			})
		}
	}
	return f
}

// ConstantField fills component c of every grid point with values[c]
func ConstantField(shape []int, precision grid.Precision, values ...float64) *grid.Field {
	f := grid.MustNew(shape, precision)
	spatial := f.Spatial()
	pos := make([]int, len(spatial))
	for n := 0; n < f.Batch(); n++ {
		for c := 0; c < f.Channels() && c < len(values); c++ {
			forEachPoint(spatial, pos, func() {
				f.Set(f.Index(n, c, pos...), values[c])
			})
		}
	}
	return f
}

// RandomField fills a field with uniform values in [-1, 1) from a seeded source
func RandomField(shape []int, precision grid.Precision, seed int64) *grid.Field {
	rng := rand.New(rand.NewSource(seed))
	f := grid.MustNew(shape, precision)
	for i := 0; i < f.Len(); i++ {
		f.Set(i, 2*rng.Float64()-1)
	}
	return f
}

func forEachPoint(spatial, pos []int, fn func()) {
	for d := range pos {
		pos[d] = 0
	}
	for {
		fn()
		d := len(spatial) - 1
		for ; d >= 0; d-- {
			pos[d]++
			if pos[d] < spatial[d] {
				break
			}
			pos[d] = 0
		}
		if d < 0 {
			return
		}
	}
}
