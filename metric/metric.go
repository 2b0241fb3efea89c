// Package metric implements the fluid metric of LDDMM: the Green's function
// of
//
//	L'L = -α∇² - β∇(∇·) + γI
//
// applied in the Fourier domain (Christensen et al. 1994, Hinkle 2013). It
// converts momenta (covector fields) into velocities with Sharp and back with
// Flat.
package metric

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/notargets/FlowKernel/grid"
	"github.com/notargets/FlowKernel/spectral"
	"github.com/notargets/FlowKernel/utils"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidCoefficient is returned when alpha, beta or gamma is not finite.
	ErrInvalidCoefficient = errors.New("invalid operator coefficient")
	// ErrIllConditioned is returned in strict mode when gamma <= 4*alpha + 2*beta.
	ErrIllConditioned = errors.New("ill-conditioned fluid kernel")
)

// Metric raises and lowers indices between momentum and velocity fields.
type Metric interface {
	// Sharp converts a momentum into a velocity
	Sharp(m *grid.Field) (*grid.Field, error)
	// Flat converts a velocity into a momentum
	Flat(v *grid.Field) (*grid.Field, error)
}

// Config holds configuration for creating a FluidMetric
type Config struct {
	// Shape of the velocity / momentum fields, (N, C, spatial...)
	Shape []int
	Alpha float64
	Beta  float64
	Gamma float64
	// Precision is "single" or "double"; empty means "single"
	Precision string
	// StrictConditioning turns the ill-conditioning warning into an error
	StrictConditioning bool
	Logger             *utils.Logger
}

// FluidMetric owns the lookup tables, transform plan, operator kernel and
// scratch spectrum for one grid configuration.
//
// The scratch spectrum is overwritten by every Sharp and Flat call, so a
// FluidMetric must not be used from two goroutines at once. Callers that
// share an instance serialize access themselves.
type FluidMetric struct {
	shape        []int
	complexShape []int
	dim          int
	alpha        float64
	beta         float64
	gamma        float64
	precision    grid.Precision
	luts         LookupTables
	plan         spectral.Plan
	kernel       spectral.Kernel
	Fv           *spectral.Spectrum
	logger       *utils.Logger
}

var _ Metric = (*FluidMetric)(nil)

// NewFluidMetric builds a FluidMetric on the execution context ctx
func NewFluidMetric(ctx spectral.Context, cfg Config) (fm *FluidMetric, err error) {
	if ctx == nil {
		return nil, errors.New("fluid metric: nil execution context")
	}
	if len(cfg.Shape) < 2 {
		return nil, fmt.Errorf("fluid metric: %w", &grid.DimensionError{Dimension: len(cfg.Shape) - 2})
	}
	dim := len(cfg.Shape) - 2
	if err = grid.CheckDimension(dim); err != nil {
		return nil, fmt.Errorf("fluid metric: %w", err)
	}
	tag := cfg.Precision
	if tag == "" {
		tag = "single"
	}
	precision, err := grid.ParsePrecision(tag)
	if err != nil {
		return nil, fmt.Errorf("fluid metric: %w", err)
	}
	for _, c := range []float64{cfg.Alpha, cfg.Beta, cfg.Gamma} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("fluid metric: %w: %v", ErrInvalidCoefficient, c)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	logger = logger.WithComponent("metric").WithShape(cfg.Shape)

	defer func() {
		if err != nil && fm != nil {
			fm.Close()
			fm = nil
		}
	}()
	fm = &FluidMetric{
		shape:        append([]int(nil), cfg.Shape...),
		complexShape: spectral.HalfShape(cfg.Shape),
		dim:          dim,
		alpha:        cfg.Alpha,
		beta:         cfg.Beta,
		gamma:        cfg.Gamma,
		precision:    precision,
		logger:       logger,
	}
	if !fm.WellConditioned() {
		bound := 4*fm.alpha + 2*fm.beta
		if cfg.StrictConditioning {
			err = fmt.Errorf("fluid metric: %w: gamma %g <= 4*alpha + 2*beta = %g",
				ErrIllConditioned, fm.gamma, bound)
			return
		}
		logger.Warn("ill-conditioned kernel", "gamma", fm.gamma, "bound", bound)
	}

	// initialize memory for out of place transforms
	if fm.Fv, err = spectral.NewSpectrum(fm.complexShape, precision); err != nil {
		err = fmt.Errorf("fluid metric: %w", err)
		return
	}
	fm.luts = newLookupTables(fm.shape[2:])
	if fm.plan, err = ctx.NewPlan(fm.shape, precision); err != nil {
		err = fmt.Errorf("fluid metric: transform plan: %w", err)
		return
	}
	if fm.kernel, err = ctx.NewKernel(fm.operatorParams()); err != nil {
		err = fmt.Errorf("fluid metric: operator kernel: %w", err)
		return
	}

	if logger.Enabled(slog.LevelDebug) {
		logger.Debug("fluid metric ready",
			"context", ctx.Name(),
			"precision", precision.String(),
			"alpha", fm.alpha, "beta", fm.beta, "gamma", fm.gamma,
			"complex_shape", fm.complexShape)
	}
	return fm, nil
}

func (fm *FluidMetric) operatorParams() spectral.OperatorParams {
	return spectral.OperatorParams{
		ComplexShape: fm.ComplexShape(),
		Cos:          fm.luts.Cos,
		Sin:          fm.luts.Sin,
		Alpha:        fm.alpha,
		Beta:         fm.beta,
		Gamma:        fm.gamma,
		Precision:    fm.precision,
	}
}

func (fm *FluidMetric) Shape() []int { return append([]int(nil), fm.shape...) }
func (fm *FluidMetric) ComplexShape() []int { return append([]int(nil), fm.complexShape...) }
func (fm *FluidMetric) Dim() int { return fm.dim }
func (fm *FluidMetric) Precision() grid.Precision { return fm.precision }
func (fm *FluidMetric) LookupTables() LookupTables { return fm.luts }

// Coefficients returns alpha, beta and gamma
func (fm *FluidMetric) Coefficients() (alpha, beta, gamma float64) {
	return fm.alpha, fm.beta, fm.gamma
}

// WellConditioned reports gamma > 4*alpha + 2*beta
func (fm *FluidMetric) WellConditioned() bool {
	return fm.gamma > 4*fm.alpha+2*fm.beta
}

// OperatorAvailable reports whether OperatorFourier, Sharp and Flat are
// implemented for this dimension. The 3-D operator is not.
func (fm *FluidMetric) OperatorAvailable() bool {
	return fm.dim == 2
}

// Symbol returns the dim×dim operator matrix at the frequency bin freq
// (indices into the complex shape)
//
//	A_dd = α·Σ_e Cos[e] + γ + β·Cos[d]
//	A_de = β·Sin[d]·Sin[e]   (d ≠ e)
func (fm *FluidMetric) Symbol(freq ...int) (*mat.SymDense, error) {
	if len(freq) != fm.dim {
		return nil, fmt.Errorf("%w: %d frequency indices for a %d-D metric",
			grid.ErrShapeMismatch, len(freq), fm.dim)
	}
	var lap float64
	c := make([]float64, fm.dim)
	s := make([]float64, fm.dim)
	for d, k := range freq {
		if k < 0 || k >= fm.complexShape[2+d] {
			return nil, fmt.Errorf("%w: frequency index %d out of range on axis %d",
				grid.ErrShapeMismatch, k, d)
		}
		c[d] = fm.luts.Cos[d][k]
		s[d] = fm.luts.Sin[d][k]
		lap += c[d]
	}
	A := mat.NewSymDense(fm.dim, nil)
	for i := 0; i < fm.dim; i++ {
		A.SetSym(i, i, fm.alpha*lap+fm.gamma+fm.beta*c[i])
		for j := i + 1; j < fm.dim; j++ {
			A.SetSym(i, j, fm.beta*s[i]*s[j])
		}
	}
	return A, nil
}

// OperatorFourier multiplies the spectrum F by the operator symbol or, with
// inverse set, by its inverse.
func (fm *FluidMetric) OperatorFourier(F *spectral.Spectrum, inverse bool) error {
	if !fm.OperatorAvailable() {
		return fmt.Errorf("%d-D fluid operator: %w", fm.dim, grid.ErrNotImplemented)
	}
	if fm.kernel == nil {
		return spectral.ErrClosed
	}
	return fm.kernel.Apply(F, inverse)
}

// Sharp raises indices: it converts a momentum (covector field) to a
// velocity (vector field) by applying the Green's function, which smooths
// the momentum.
func (fm *FluidMetric) Sharp(m *grid.Field) (*grid.Field, error) {
	return fm.SharpInto(nil, m)
}

// SharpInto is Sharp writing into out; out is allocated when nil
func (fm *FluidMetric) SharpInto(out, m *grid.Field) (*grid.Field, error) {
	return fm.apply(out, m, true)
}

// Flat lowers indices: it converts a velocity (vector field) to a momentum
// (covector field).
func (fm *FluidMetric) Flat(v *grid.Field) (*grid.Field, error) {
	return fm.FlatInto(nil, v)
}

// FlatInto is Flat writing into out; out is allocated when nil
func (fm *FluidMetric) FlatInto(out, v *grid.Field) (*grid.Field, error) {
	return fm.apply(out, v, false)
}

// apply runs transform, operator and inverse transform. Sharp scales the
// forward leg and Flat the inverse leg.
func (fm *FluidMetric) apply(out, in *grid.Field, sharp bool) (*grid.Field, error) {
	op := "flat"
	if sharp {
		op = "sharp"
	}
	if fm.plan == nil {
		return nil, fmt.Errorf("%s: %w", op, spectral.ErrClosed)
	}
	if err := fm.checkInput(in); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if out == nil {
		out = grid.NewLike(in)
	} else if err := fm.checkInput(out); err != nil {
		return nil, fmt.Errorf("%s: output: %w", op, err)
	}
	if err := fm.plan.Forward(fm.Fv, in, sharp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := fm.OperatorFourier(fm.Fv, sharp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := fm.plan.Inverse(out, fm.Fv, !sharp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (fm *FluidMetric) checkInput(f *grid.Field) error {
	if !f.IsContiguous() {
		return grid.ErrNotContiguous
	}
	if !equalInts(f.Shape(), fm.shape) {
		return fmt.Errorf("%w: field %v, metric %v", grid.ErrShapeMismatch, f.Shape(), fm.shape)
	}
	if f.Precision() != fm.precision {
		return fmt.Errorf("%w: field %v, metric %v", grid.ErrPrecisionMismatch, f.Precision(), fm.precision)
	}
	return nil
}

// Close releases the plan and kernel, including any device memory they hold.
// The context is owned by the caller and stays open.
func (fm *FluidMetric) Close() (err error) {
	for _, r := range []any{fm.kernel, fm.plan} {
		if c, ok := r.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}
	fm.plan = nil
	fm.kernel = nil
	fm.Fv = nil
	return
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
