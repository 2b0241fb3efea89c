// Package diffop is a CPU reference implementation of the vector calculus
// primitives consumed by the adjoint representation: gradient, divergence,
// Jacobian-vector products and deformation-based interpolation.
//
// All operators use unit grid spacing and second order central differences
// with periodic boundaries, matching the periodicity assumed by the spectral
// metric. Inputs are never modified and every call allocates its output.
package diffop

import (
	"fmt"

	"github.com/notargets/FlowKernel/grid"
	"golang.org/x/sync/errgroup"
)

// Gradient returns the spatial gradient of every channel of f.
// For f of shape (N, C, s...) the result has shape (N, C*dim, s...) with
// channel c*dim+d holding the derivative of channel c along axis d.
func Gradient(f *grid.Field) (*grid.Field, error) {
	dim := f.Dim()
	if err := grid.CheckDimension(dim); err != nil {
		return nil, fmt.Errorf("gradient: %w", err)
	}
	nb, nc := f.Batch(), f.Channels()
	st := newStencil(f.Spatial())
	in := f.Float64s()

	shape := append([]int{nb, nc * dim}, f.Spatial()...)
	out, err := grid.New(shape, f.Precision())
	if err != nil {
		return nil, fmt.Errorf("gradient: %w", err)
	}

	var g errgroup.Group
	for n := 0; n < nb; n++ {
		g.Go(func() error {
			for c := 0; c < nc; c++ {
				block := in[(n*nc+c)*st.size : (n*nc+c+1)*st.size]
				for d := 0; d < dim; d++ {
					base := (n*nc*dim + c*dim + d) * st.size
					for p := 0; p < st.size; p++ {
						out.Set(base+p, st.diff(block, p, d))
					}
				}
			}
			return nil
		})
	}
	return out, g.Wait()
}

// Divergence returns the divergence of the vector field v of shape
// (N, dim, s...) as a field of shape (N, 1, s...).
func Divergence(v *grid.Field) (*grid.Field, error) {
	if err := checkVectorField(v); err != nil {
		return nil, fmt.Errorf("divergence: %w", err)
	}
	dim, nb := v.Dim(), v.Batch()
	st := newStencil(v.Spatial())
	in := v.Float64s()

	shape := append([]int{nb, 1}, v.Spatial()...)
	out, err := grid.New(shape, v.Precision())
	if err != nil {
		return nil, fmt.Errorf("divergence: %w", err)
	}

	var g errgroup.Group
	for n := 0; n < nb; n++ {
		g.Go(func() error {
			for p := 0; p < st.size; p++ {
				var div float64
				for d := 0; d < dim; d++ {
					block := in[(n*dim+d)*st.size : (n*dim+d+1)*st.size]
					div += st.diff(block, p, d)
				}
				out.Set(n*st.size+p, div)
			}
			return nil
		})
	}
	return out, g.Wait()
}

// JacobianTimesVectorfield returns (Da)·b, componentwise
//
//	out_i = Σ_j ∂_j a_i b_j
//
// or, with transpose set, exactly (Da)^T·b
//
//	out_i = Σ_j ∂_i a_j b_j
//
// a and b are vector fields of identical shape (N, dim, s...).
func JacobianTimesVectorfield(a, b *grid.Field, transpose bool) (*grid.Field, error) {
	if err := checkVectorField(a); err != nil {
		return nil, fmt.Errorf("jacobian: %w", err)
	}
	if err := a.CheckCompatible(b); err != nil {
		return nil, fmt.Errorf("jacobian: %w", err)
	}
	dim, nb := a.Dim(), a.Batch()
	st := newStencil(a.Spatial())
	ain, bin := a.Float64s(), b.Float64s()
	out := grid.NewLike(a)

	var g errgroup.Group
	for n := 0; n < nb; n++ {
		g.Go(func() error {
			for i := 0; i < dim; i++ {
				base := (n*dim + i) * st.size
				for p := 0; p < st.size; p++ {
					var sum float64
					for j := 0; j < dim; j++ {
						bj := bin[(n*dim+j)*st.size+p]
						if transpose {
							block := ain[(n*dim+j)*st.size : (n*dim+j+1)*st.size]
							sum += st.diff(block, p, i) * bj
						} else {
							block := ain[(n*dim+i)*st.size : (n*dim+i+1)*st.size]
							sum += st.diff(block, p, j) * bj
						}
					}
					out.Set(base+p, sum)
				}
			}
			return nil
		})
	}
	return out, g.Wait()
}

func checkVectorField(v *grid.Field) error {
	dim := v.Dim()
	if err := grid.CheckDimension(dim); err != nil {
		return err
	}
	if v.Channels() != dim {
		return fmt.Errorf("%w: vector field with %d components on a %d-D grid",
			grid.ErrShapeMismatch, v.Channels(), dim)
	}
	return nil
}
