// Package adjrep implements the adjoint representation of the group of
// diffeomorphisms on a periodic grid: the Lie bracket of velocity fields,
// its dual action on momenta and the metric dagger forms built from them
// (cf. Bullo 1995, Hinkle 2015).
//
// Deformations phi are represented by their displacement u, phi(x) = x + u(x),
// so that Dphi = I + Du on the periodic grid.
package adjrep

import (
	"fmt"

	"github.com/notargets/FlowKernel/diffop"
	"github.com/notargets/FlowKernel/grid"
)

// Metric raises and lowers indices. metric.FluidMetric satisfies it; any
// other metric with the same two operations can be substituted.
type Metric interface {
	Sharp(m *grid.Field) (*grid.Field, error)
	Flat(v *grid.Field) (*grid.Field, error)
}

// Inverter computes the displacement of phi⁻¹ from the displacement of phi
type Inverter interface {
	Invert(u *grid.Field) (*grid.Field, error)
}

// AdjRep holds only the spatial dimension and an optional Inverter. It keeps
// no state between calls and is safe to share.
type AdjRep struct {
	dim      int
	inverter Inverter
}

// Option configures an AdjRep
type Option func(*AdjRep)

// WithInverter supplies the deformation inverse needed by BigAd
func WithInverter(inv Inverter) Option {
	return func(ar *AdjRep) {
		ar.inverter = inv
	}
}

// New creates an AdjRep for dim 2 or 3
func New(dim int, opts ...Option) (ar *AdjRep, err error) {
	if err = grid.CheckDimension(dim); err != nil {
		return nil, fmt.Errorf("adjrep: %w", err)
	}
	ar = &AdjRep{dim: dim}
	for _, opt := range opts {
		opt(ar)
	}
	return
}

func (ar *AdjRep) Dim() int { return ar.dim }

// Ad is the small adjoint action of v on w, the negative Lie bracket
//
//	ad(v, w) = -[v, w] = Dv·w - Dw·v
func (ar *AdjRep) Ad(v, w *grid.Field) (*grid.Field, error) {
	if err := ar.check(v, w); err != nil {
		return nil, fmt.Errorf("ad: %w", err)
	}
	dvw, err := diffop.JacobianTimesVectorfield(v, w, false)
	if err != nil {
		return nil, fmt.Errorf("ad: %w", err)
	}
	dwv, err := diffop.JacobianTimesVectorfield(w, v, false)
	if err != nil {
		return nil, fmt.Errorf("ad: %w", err)
	}
	if err = dvw.AddInPlace(-1, dwv); err != nil {
		return nil, fmt.Errorf("ad: %w", err)
	}
	return dvw, nil
}

// BigAd is the adjoint action of the deformation with displacement u on v
//
//	Ad(phi, v) = (Dphi∘phi⁻¹)·(v∘phi⁻¹)
//
// It needs phi⁻¹ and returns grid.ErrNotImplemented unless the AdjRep was
// built WithInverter.
func (ar *AdjRep) BigAd(u, v *grid.Field) (*grid.Field, error) {
	if ar.inverter == nil {
		return nil, fmt.Errorf("big ad: deformation inverse required: %w", grid.ErrNotImplemented)
	}
	if err := ar.check(u, v); err != nil {
		return nil, fmt.Errorf("big ad: %w", err)
	}
	uinv, err := ar.inverter.Invert(u)
	if err != nil {
		return nil, fmt.Errorf("big ad: invert: %w", err)
	}
	// both factors are sampled at phi⁻¹(x), so form (I + Du)·v first and warp once
	w, err := diffop.JacobianTimesVectorfield(u, v, false)
	if err != nil {
		return nil, fmt.Errorf("big ad: %w", err)
	}
	if err = w.AddInPlace(1, v); err != nil {
		return nil, fmt.Errorf("big ad: %w", err)
	}
	out, err := diffop.InterpDef(w, uinv)
	if err != nil {
		return nil, fmt.Errorf("big ad: %w", err)
	}
	return out, nil
}

// AdStar is the coadjoint action of the velocity v on the momentum m
//
//	ad*(v, m) = (Dv)ᵀ·m + Dm·v + m·div(v)
//
// so that <ad*(v, m), w> = <m, ad(v, w)> up to discretization error.
func (ar *AdjRep) AdStar(v, m *grid.Field) (*grid.Field, error) {
	if err := ar.check(v, m); err != nil {
		return nil, fmt.Errorf("ad*: %w", err)
	}
	out, err := diffop.JacobianTimesVectorfield(v, m, true)
	if err != nil {
		return nil, fmt.Errorf("ad*: %w", err)
	}
	dmv, err := diffop.JacobianTimesVectorfield(m, v, false)
	if err != nil {
		return nil, fmt.Errorf("ad*: %w", err)
	}
	if err = out.AddInPlace(1, dmv); err != nil {
		return nil, fmt.Errorf("ad*: %w", err)
	}
	div, err := diffop.Divergence(v)
	if err != nil {
		return nil, fmt.Errorf("ad*: %w", err)
	}

	// m·div(v), the divergence broadcast over the vector components
	nb, size := m.Batch(), m.SpatialLen()
	for n := 0; n < nb; n++ {
		for c := 0; c < ar.dim; c++ {
			base := (n*ar.dim + c) * size
			for p := 0; p < size; p++ {
				out.Set(base+p, out.At(base+p)+m.At(base+p)*div.At(n*size+p))
			}
		}
	}
	return out, nil
}

// BigAdStar is the coadjoint action of the deformation with displacement u
// on the momentum m
//
//	Ad*(phi, m)(x) = Dphi(x)·m(phi(x)) = m∘phi + Du·(m∘phi)
func (ar *AdjRep) BigAdStar(u, m *grid.Field) (*grid.Field, error) {
	if err := ar.check(u, m); err != nil {
		return nil, fmt.Errorf("big ad*: %w", err)
	}
	mphi, err := diffop.InterpDef(m, u)
	if err != nil {
		return nil, fmt.Errorf("big ad*: %w", err)
	}
	out, err := diffop.JacobianTimesVectorfield(u, mphi, false)
	if err != nil {
		return nil, fmt.Errorf("big ad*: %w", err)
	}
	if err = out.AddInPlace(1, mphi); err != nil {
		return nil, fmt.Errorf("big ad*: %w", err)
	}
	return out, nil
}

// The dagger forms replace the dual action by the adjoint action under a
// metric: flat the velocity, apply the coadjoint action, sharp the result.

// AdDagger returns sharp(ad*(x, flat(y)))
func (ar *AdjRep) AdDagger(x, y *grid.Field, metric Metric) (*grid.Field, error) {
	my, err := metric.Flat(y)
	if err != nil {
		return nil, fmt.Errorf("ad†: %w", err)
	}
	m, err := ar.AdStar(x, my)
	if err != nil {
		return nil, fmt.Errorf("ad†: %w", err)
	}
	return metric.Sharp(m)
}

// BigAdDagger returns sharp(Ad*(phi, flat(y)))
func (ar *AdjRep) BigAdDagger(u, y *grid.Field, metric Metric) (*grid.Field, error) {
	my, err := metric.Flat(y)
	if err != nil {
		return nil, fmt.Errorf("big ad†: %w", err)
	}
	m, err := ar.BigAdStar(u, my)
	if err != nil {
		return nil, fmt.Errorf("big ad†: %w", err)
	}
	return metric.Sharp(m)
}

// Sym is the negative symmetrized ad†, used for reduced Jacobi fields
//
//	sym(x, y) = -(ad†(x, y) + ad†(y, x))
func (ar *AdjRep) Sym(x, y *grid.Field, metric Metric) (*grid.Field, error) {
	a, err := ar.AdDagger(x, y, metric)
	if err != nil {
		return nil, fmt.Errorf("sym: %w", err)
	}
	b, err := ar.AdDagger(y, x, metric)
	if err != nil {
		return nil, fmt.Errorf("sym: %w", err)
	}
	if err = a.AddInPlace(1, b); err != nil {
		return nil, fmt.Errorf("sym: %w", err)
	}
	a.ScaleInPlace(-1)
	return a, nil
}

// SymDagger returns ad†(y, x) - ad(x, y)
func (ar *AdjRep) SymDagger(x, y *grid.Field, metric Metric) (*grid.Field, error) {
	a, err := ar.AdDagger(y, x, metric)
	if err != nil {
		return nil, fmt.Errorf("sym†: %w", err)
	}
	b, err := ar.Ad(x, y)
	if err != nil {
		return nil, fmt.Errorf("sym†: %w", err)
	}
	if err = a.AddInPlace(-1, b); err != nil {
		return nil, fmt.Errorf("sym†: %w", err)
	}
	return a, nil
}

func (ar *AdjRep) check(a, b *grid.Field) error {
	if a.Dim() != ar.dim {
		return fmt.Errorf("%w: %d-D field for a %d-D representation",
			grid.ErrShapeMismatch, a.Dim(), ar.dim)
	}
	if a.Channels() != ar.dim {
		return fmt.Errorf("%w: vector field with %d components on a %d-D grid",
			grid.ErrShapeMismatch, a.Channels(), ar.dim)
	}
	return a.CheckCompatible(b)
}
