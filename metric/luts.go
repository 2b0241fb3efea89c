package metric

import "math"

// LookupTables hold, per spatial axis d and integer frequency k in [0, N_d),
//
//	Cos[d][k] = 1 - cos(2πk/N_d)
//	Sin[d][k] = sin(2πk/N_d)
//
// Cos sums over the axes to the symbol of the discrete negative Laplacian,
// Sin builds the divergence coupling. The last axis is only read up to
// N/2 in the half spectrum.
type LookupTables struct {
	Cos [][]float64
	Sin [][]float64
}

func newLookupTables(spatial []int) (luts LookupTables) {
	luts.Cos = make([][]float64, len(spatial))
	luts.Sin = make([][]float64, len(spatial))
	for d, n := range spatial {
		luts.Cos[d] = make([]float64, n)
		luts.Sin[d] = make([]float64, n)
		for k := 0; k < n; k++ {
			theta := 2 * math.Pi * float64(k) / float64(n)
			luts.Cos[d][k] = 1 - math.Cos(theta)
			luts.Sin[d][k] = math.Sin(theta)
		}
	}
	return
}
