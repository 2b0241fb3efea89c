package host

import (
	"fmt"

	"github.com/notargets/FlowKernel/grid"
	"github.com/notargets/FlowKernel/spectral"
	"golang.org/x/sync/errgroup"
)

// Plan transforms batched grid fields with one lineTransform per worker.
// Plans and scratch lines are built once; a Plan must not be used by two
// goroutines at the same time.
type Plan struct {
	shape     []int
	half      []int
	spatial   []int
	hspatial  []int
	precision grid.Precision
	workers   []*planWorker
}

type planWorker struct {
	lt    lineTransform
	block []complex128 // one half-spectrum channel block
	rline []float64
	cin   []complex128
	cout  []complex128
}

func newPlan(shape []int, precision grid.Precision, engine Engine, workers int) (*Plan, error) {
	if err := grid.CheckDimension(len(shape) - 2); err != nil {
		return nil, fmt.Errorf("host plan: %w", err)
	}
	if !precision.Valid() {
		return nil, fmt.Errorf("host plan: %w: %v", grid.ErrUnsupportedPrecision, precision)
	}
	half := spectral.HalfShape(shape)
	p := &Plan{
		shape:     append([]int(nil), shape...),
		half:      half,
		spatial:   append([]int(nil), shape[2:]...),
		hspatial:  append([]int(nil), half[2:]...),
		precision: precision,
	}
	lines := shape[0] * shape[1]
	if workers > lines {
		workers = lines
	}
	if workers < 1 {
		workers = 1
	}
	maxLen := 0
	for _, n := range p.spatial {
		maxLen = max(maxLen, n)
	}
	blockLen := 1
	for _, n := range p.hspatial {
		blockLen *= n
	}
	for w := 0; w < workers; w++ {
		lt, err := newLineTransform(engine, p.spatial)
		if err != nil {
			return nil, fmt.Errorf("host plan: %w", err)
		}
		p.workers = append(p.workers, &planWorker{
			lt:    lt,
			block: make([]complex128, blockLen),
			rline: make([]float64, p.spatial[len(p.spatial)-1]),
			cin:   make([]complex128, maxLen),
			cout:  make([]complex128, maxLen),
		})
	}
	return p, nil
}

func (p *Plan) spatialLen() int {
	n := 1
	for _, e := range p.spatial {
		n *= e
	}
	return n
}

// Forward computes the half spectrum of every channel block of src
func (p *Plan) Forward(dst *spectral.Spectrum, src *grid.Field, scale bool) error {
	if err := spectral.CheckFieldForPlan(src, p.shape, p.precision); err != nil {
		return fmt.Errorf("forward transform: %w", err)
	}
	if err := spectral.CheckSpectrum(dst, p.half, p.precision); err != nil {
		return fmt.Errorf("forward transform: %w", err)
	}
	factor := 1.0
	if scale {
		factor = 1 / float64(p.spatialLen())
	}
	return p.fanOut(func(w *planWorker, b int) {
		p.forwardBlock(w, dst, src, b, factor)
	})
}

// Inverse computes the real fields whose half spectra are held in src.
// src is left untouched.
func (p *Plan) Inverse(dst *grid.Field, src *spectral.Spectrum, scale bool) error {
	if err := spectral.CheckFieldForPlan(dst, p.shape, p.precision); err != nil {
		return fmt.Errorf("inverse transform: %w", err)
	}
	if err := spectral.CheckSpectrum(src, p.half, p.precision); err != nil {
		return fmt.Errorf("inverse transform: %w", err)
	}
	factor := 1.0
	if scale {
		factor = 1 / float64(p.spatialLen())
	}
	return p.fanOut(func(w *planWorker, b int) {
		p.inverseBlock(w, dst, src, b, factor)
	})
}

// fanOut splits the N*C channel blocks into contiguous chunks, one per worker
func (p *Plan) fanOut(fn func(w *planWorker, b int)) error {
	lines := p.shape[0] * p.shape[1]
	chunk := (lines + len(p.workers) - 1) / len(p.workers)
	var g errgroup.Group
	for wi, w := range p.workers {
		lo, hi := wi*chunk, min((wi+1)*chunk, lines)
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			for b := lo; b < hi; b++ {
				fn(w, b)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Plan) forwardBlock(w *planWorker, dst *spectral.Spectrum, src *grid.Field, b int, factor float64) {
	last := len(p.spatial) - 1
	nr, hr := p.spatial[last], p.hspatial[last]
	rows := len(w.block) / hr
	rbase := b * rows * nr

	// real transform along the last axis
	for r := 0; r < rows; r++ {
		off := rbase + r*nr
		if p.precision == grid.Single {
			for k, v := range src.Float32Data()[off : off+nr] {
				w.rline[k] = float64(v)
			}
		} else {
			copy(w.rline, src.Float64Data()[off:off+nr])
		}
		w.lt.realForward(w.block[r*hr:(r+1)*hr], w.rline)
	}
	// complex transforms along the remaining axes
	for axis := last - 1; axis >= 0; axis-- {
		n := p.hspatial[axis]
		in, out := w.cin[:n], w.cout[:n]
		spectral.ForEachLine(p.hspatial, axis, func(start, stride int) {
			for k := 0; k < n; k++ {
				in[k] = w.block[start+k*stride]
			}
			w.lt.forward(axis, out, in)
			for k := 0; k < n; k++ {
				w.block[start+k*stride] = out[k]
			}
		})
	}

	cbase := b * len(w.block)
	f := complex(factor, 0)
	for k, v := range w.block {
		dst.Set(cbase+k, v*f)
	}
}

func (p *Plan) inverseBlock(w *planWorker, dst *grid.Field, src *spectral.Spectrum, b int, factor float64) {
	last := len(p.spatial) - 1
	nr, hr := p.spatial[last], p.hspatial[last]
	cbase := b * len(w.block)
	for k := range w.block {
		w.block[k] = src.At(cbase + k)
	}

	for axis := 0; axis < last; axis++ {
		n := p.hspatial[axis]
		in, out := w.cin[:n], w.cout[:n]
		spectral.ForEachLine(p.hspatial, axis, func(start, stride int) {
			for k := 0; k < n; k++ {
				in[k] = w.block[start+k*stride]
			}
			w.lt.inverse(axis, out, in)
			for k := 0; k < n; k++ {
				w.block[start+k*stride] = out[k]
			}
		})
	}

	rows := len(w.block) / hr
	rbase := b * rows * nr
	for r := 0; r < rows; r++ {
		w.lt.realInverse(w.rline, w.block[r*hr:(r+1)*hr])
		off := rbase + r*nr
		if p.precision == grid.Single {
			out := dst.Float32Data()[off : off+nr]
			for k, v := range w.rline {
				out[k] = float32(v * factor)
			}
		} else {
			out := dst.Float64Data()[off : off+nr]
			for k, v := range w.rline {
				out[k] = v * factor
			}
		}
	}
}
