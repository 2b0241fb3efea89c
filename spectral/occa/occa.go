// Package occa evaluates the fluid operator kernel on an OCCA device
// (OpenMP, CUDA or Serial). OCCA provides no FFT, so transform plans are
// delegated to an embedded host context.
package occa

import (
	"errors"
	"fmt"

	"github.com/notargets/FlowKernel/grid"
	"github.com/notargets/FlowKernel/runner"
	"github.com/notargets/FlowKernel/runner/builder"
	"github.com/notargets/FlowKernel/spectral"
	"github.com/notargets/FlowKernel/spectral/host"
	"github.com/notargets/FlowKernel/utils"
	"github.com/notargets/gocca"
	"gonum.org/v1/gonum/mat"
)

// ErrNoDevice is returned when no OCCA backend could be opened
var ErrNoDevice = errors.New("no OCCA device available")

// DefaultBackends are tried in order by CreateDevice
var DefaultBackends = []string{
	`{"mode": "OpenMP"}`,
	`{"mode": "CUDA", "device_id": 0}`,
	`{"mode": "Serial"}`,
}

// CreateDevice opens the first OCCA backend that succeeds, preferring
// parallel backends
func CreateDevice(backends ...string) (device *gocca.OCCADevice, err error) {
	if len(backends) == 0 {
		backends = DefaultBackends
	}
	var errs []error
	for _, props := range backends {
		device, err = gocca.NewDevice(props)
		if err == nil {
			return device, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", props, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrNoDevice, errors.Join(errs...))
}

// Config holds configuration for creating an occa Context
type Config struct {
	// Props selects a device, e.g. `{"mode": "CUDA", "device_id": 0}`.
	// Empty tries DefaultBackends in order.
	Props string
	// Device, when set, is used instead of opening one; the caller keeps ownership
	Device *gocca.OCCADevice
	// Host configures the embedded host context that runs the transforms
	Host   host.Config
	Logger *utils.Logger
}

// Context implements spectral.Context with the operator kernel on a device
type Context struct {
	device     *gocca.OCCADevice
	ownsDevice bool
	host       *host.Context
	kernels    []*Kernel
	logger     *utils.Logger
	closed     bool
}

var _ spectral.Context = (*Context)(nil)

// NewContext opens (or adopts) a device and creates the embedded host context
func NewContext(cfg Config) (ctx *Context, err error) {
	logger := cfg.Logger
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	ctx = &Context{
		device: cfg.Device,
		logger: logger.WithComponent("occa"),
	}
	if ctx.device == nil {
		if cfg.Props != "" {
			ctx.device, err = gocca.NewDevice(cfg.Props)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrNoDevice, cfg.Props, err)
			}
		} else if ctx.device, err = CreateDevice(); err != nil {
			return nil, err
		}
		ctx.ownsDevice = true
	}
	hostCfg := cfg.Host
	if hostCfg.Logger == nil {
		hostCfg.Logger = logger
	}
	if ctx.host, err = host.NewContext(hostCfg); err != nil {
		if ctx.ownsDevice {
			ctx.device.Free()
		}
		return nil, err
	}
	ctx.logger.Info("created OCCA device", "mode", ctx.device.Mode())
	return
}

func (ctx *Context) Name() string {
	return "occa/" + ctx.device.Mode()
}

// Device returns the underlying OCCA device
func (ctx *Context) Device() *gocca.OCCADevice { return ctx.device }

func (ctx *Context) NewPlan(shape []int, precision grid.Precision) (spectral.Plan, error) {
	if ctx.closed {
		return nil, spectral.ErrClosed
	}
	return ctx.host.NewPlan(shape, precision)
}

func (ctx *Context) NewKernel(params spectral.OperatorParams) (spectral.Kernel, error) {
	if ctx.closed {
		return nil, spectral.ErrClosed
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("occa kernel: %w", err)
	}
	k, err := newKernel(ctx, params)
	if err != nil {
		return nil, err
	}
	ctx.kernels = append(ctx.kernels, k)
	return k, nil
}

// Close frees every kernel still open and, when the context opened it, the device
func (ctx *Context) Close() error {
	if ctx.closed {
		return nil
	}
	ctx.closed = true
	for _, k := range ctx.kernels {
		k.Close()
	}
	ctx.kernels = nil
	if err := ctx.host.Close(); err != nil {
		return err
	}
	if ctx.ownsDevice {
		ctx.device.Free()
	}
	return nil
}

// Kernel is the fluid operator compiled for one device. It runs through a
// runner with one partition per batch entry. Lookup tables live in device
// memory for the kernel's lifetime; the spectrum is rebound and copied in
// and out on every Apply.
type Kernel struct {
	params spectral.OperatorParams
	runner *runner.Runner
	source string
	freed  bool
}

func newKernel(ctx *Context, params spectral.OperatorParams) (k *Kernel, err error) {
	k = &Kernel{params: params}
	// a 3-D kernel is accepted so construction succeeds; Apply reports the gap
	if params.Dim() != 2 {
		return k, nil
	}
	defer func() {
		if err != nil {
			k.Close()
			k = nil
		}
	}()

	cs := params.ComplexShape
	nbatch, n0, h1 := cs[0], cs[2], cs[3]
	K := make([]int, nbatch)
	for n := range K {
		K[n] = n0
	}
	floatType := builder.Float64
	var alpha, beta, gamma interface{} = params.Alpha, params.Beta, params.Gamma
	if params.Precision == grid.Single {
		floatType = builder.Float32
		alpha, beta, gamma = float32(params.Alpha), float32(params.Beta), float32(params.Gamma)
	}

	if k.runner, err = runner.NewRunner(ctx.device, builder.Config{
		K:         K,
		FloatType: floatType,
		IntType:   builder.INT32,
		Constants: map[string]int{"N0": n0, "H1": h1},
	}); err != nil {
		err = fmt.Errorf("occa kernel: %w", err)
		return
	}
	kr := k.runner

	// interleaved (re, im) values of the whole spectrum
	values := 2 * nbatch * 2 * n0 * h1
	if err = kr.DefineBindings(
		builder.Input("cos0").Bind(mat.NewDense(1, n0, params.Cos[0][:n0])).ToMatrix(),
		builder.Input("sin0").Bind(mat.NewDense(1, n0, params.Sin[0][:n0])).ToMatrix(),
		builder.Input("cos1").Bind(mat.NewDense(1, h1, params.Cos[1][:h1])).ToMatrix(),
		builder.Input("sin1").Bind(mat.NewDense(1, h1, params.Sin[1][:h1])).ToMatrix(),
		builder.InOut("F").Type(floatType).Size(values),
		builder.Scalar("alpha").Bind(alpha),
		builder.Scalar("beta").Bind(beta),
		builder.Scalar("gamma").Bind(gamma),
	); err != nil {
		return
	}
	if err = kr.AllocateDevice(); err != nil {
		return
	}

	for _, kernel := range []struct {
		name    string
		inverse bool
	}{{forwardKernelName, false}, {inverseKernelName, true}} {
		if _, err = kr.ConfigureKernel(kernel.name,
			kr.Param("cos0"), kr.Param("sin0"), kr.Param("cos1"), kr.Param("sin1"),
			kr.Param("F").Copy(),
			kr.Param("alpha"), kr.Param("beta"), kr.Param("gamma"),
		); err != nil {
			return
		}
		var signature string
		if signature, err = kr.GetKernelSignatureForConfig(kernel.name); err != nil {
			return
		}
		src := operatorKernel(kernel.name, signature, kernel.inverse)
		if _, err = kr.BuildKernel(src, kernel.name); err != nil {
			return
		}
		k.source += src
	}
	k.source = kr.KernelPreamble + k.source

	ctx.logger.Debug("built operator kernels",
		"complex_shape", cs, "partitions", nbatch,
		"bytes", values*params.Precision.RealSize())
	return
}

// Source returns the generated OCCA source, empty for kernels that never compile
func (k *Kernel) Source() string { return k.source }

func (k *Kernel) Apply(F *spectral.Spectrum, inverse bool) error {
	if k.freed {
		return spectral.ErrClosed
	}
	if err := spectral.CheckKernelInput(F, &k.params); err != nil {
		return fmt.Errorf("occa kernel: %w", err)
	}
	var spectrum interface{} = F.C128
	if F.Precision() == grid.Single {
		spectrum = F.C64
	}
	name := forwardKernelName
	if inverse {
		name = inverseKernelName
	}
	if err := k.runner.Rebind("F", spectrum); err != nil {
		return fmt.Errorf("occa kernel: %w", err)
	}
	if err := k.runner.ExecuteKernel(name); err != nil {
		return fmt.Errorf("occa kernel: %w", err)
	}
	return nil
}

// Close releases the compiled kernels and device memory
func (k *Kernel) Close() error {
	if k.freed {
		return nil
	}
	k.freed = true
	if k.runner != nil {
		k.runner.Free()
	}
	return nil
}
