package diffop

import (
	"fmt"
	"math"

	"github.com/notargets/FlowKernel/grid"
	"golang.org/x/sync/errgroup"
)

// InterpDef warps f by the deformation x -> x + u(x), returning f(x + u(x))
// sampled with multilinear interpolation and periodic wrap.
//
// f has shape (N, C, s...) and u is a displacement field of shape
// (N, dim, s...) or (1, dim, s...), the latter shared by every batch entry.
func InterpDef(f, u *grid.Field) (*grid.Field, error) {
	if err := checkVectorField(u); err != nil {
		return nil, fmt.Errorf("interp: %w", err)
	}
	if !equalInts(f.Spatial(), u.Spatial()) {
		return nil, fmt.Errorf("interp: %w: spatial %v vs %v",
			grid.ErrShapeMismatch, f.Spatial(), u.Spatial())
	}
	if u.Batch() != 1 && u.Batch() != f.Batch() {
		return nil, fmt.Errorf("interp: %w: displacement batch %d for field batch %d",
			grid.ErrShapeMismatch, u.Batch(), f.Batch())
	}
	if f.Precision() != u.Precision() {
		return nil, fmt.Errorf("interp: %w", grid.ErrPrecisionMismatch)
	}

	dim, nb, nc := u.Dim(), f.Batch(), f.Channels()
	st := newStencil(f.Spatial())
	fin, uin := f.Float64s(), u.Float64s()
	out := grid.NewLike(f)
	corners := 1 << dim

	var g errgroup.Group
	for n := 0; n < nb; n++ {
		g.Go(func() error {
			un := n
			if u.Batch() == 1 {
				un = 0
			}
			base := make([]int, dim)
			frac := make([]float64, dim)
			for p := 0; p < st.size; p++ {
				for d := 0; d < dim; d++ {
					y := float64(st.coord(p, d)) + uin[(un*dim+d)*st.size+p]
					fl := math.Floor(y)
					frac[d] = y - fl
					base[d] = int(fl)
				}
				for c := 0; c < nc; c++ {
					block := fin[(n*nc+c)*st.size : (n*nc+c+1)*st.size]
					var val float64
					for k := 0; k < corners; k++ {
						w := 1.0
						q := 0
						for d := 0; d < dim; d++ {
							x := base[d]
							if k&(1<<d) != 0 {
								x++
								w *= frac[d]
							} else {
								w *= 1 - frac[d]
							}
							if w == 0 {
								break
							}
							q += wrap(x, st.spatial[d]) * st.strides[d]
						}
						if w != 0 {
							val += w * block[q]
						}
					}
					out.Set((n*nc+c)*st.size+p, val)
				}
			}
			return nil
		})
	}
	return out, g.Wait()
}

func wrap(x, n int) int {
	return ((x % n) + n) % n
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
