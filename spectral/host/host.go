// Package host is the pure Go execution context: FFTs from gonum (or go-dsp)
// and the fluid operator kernel evaluated on the CPU, with work fanned out
// over batch entries.
package host

import (
	"fmt"
	"runtime"

	"github.com/notargets/FlowKernel/grid"
	"github.com/notargets/FlowKernel/spectral"
	"github.com/notargets/FlowKernel/utils"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration for creating a host Context
type Config struct {
	Engine  Engine
	Workers int // defaults to GOMAXPROCS
	Logger  *utils.Logger
}

// Context implements spectral.Context on the host
type Context struct {
	engine  Engine
	workers int
	logger  *utils.Logger
	closed  bool
}

var _ spectral.Context = (*Context)(nil)

// NewContext creates a host Context
func NewContext(cfg Config) (ctx *Context, err error) {
	if cfg.Engine != EngineGonum && cfg.Engine != EngineGoDSP {
		return nil, fmt.Errorf("unknown FFT engine %v", cfg.Engine)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	ctx = &Context{
		engine:  cfg.Engine,
		workers: workers,
		logger:  logger.WithComponent("host"),
	}
	ctx.logger.Debug("host context created", "engine", cfg.Engine.String(), "workers", workers)
	return
}

func (ctx *Context) Name() string {
	return "host/" + ctx.engine.String()
}

// Engine reports the FFT engine used by plans of this context
func (ctx *Context) Engine() Engine { return ctx.engine }

func (ctx *Context) NewPlan(shape []int, precision grid.Precision) (spectral.Plan, error) {
	if ctx.closed {
		return nil, spectral.ErrClosed
	}
	return newPlan(shape, precision, ctx.engine, ctx.workers)
}

func (ctx *Context) NewKernel(params spectral.OperatorParams) (spectral.Kernel, error) {
	if ctx.closed {
		return nil, spectral.ErrClosed
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("host kernel: %w", err)
	}
	return &Kernel{params: params, workers: ctx.workers}, nil
}

func (ctx *Context) Close() error {
	ctx.closed = true
	return nil
}

// Kernel evaluates the fluid operator symbol bin by bin on the host
type Kernel struct {
	params  spectral.OperatorParams
	workers int
}

func (k *Kernel) Apply(F *spectral.Spectrum, inverse bool) error {
	if err := spectral.CheckKernelInput(F, &k.params); err != nil {
		return fmt.Errorf("host kernel: %w", err)
	}
	nb := F.Batch()
	chunk := (nb + k.workers - 1) / k.workers
	var g errgroup.Group
	for lo := 0; lo < nb; lo += chunk {
		hi := min(lo+chunk, nb)
		g.Go(func() error {
			if F.Precision() == grid.Single {
				spectral.ApplyOperator2D(F.C64, &k.params, lo, hi, inverse)
			} else {
				spectral.ApplyOperator2D(F.C128, &k.params, lo, hi, inverse)
			}
			return nil
		})
	}
	return g.Wait()
}
