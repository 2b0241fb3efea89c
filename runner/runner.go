// Package runner compiles and executes partition-parallel OCCA kernels. A
// Runner owns the device memory of every bound parameter, moves host data
// in and out around each launch, and builds the kernel signature from the
// bindings so kernel source only supplies the body.
package runner

import (
	"fmt"
	"unsafe"

	"github.com/notargets/FlowKernel/runner/builder"
	"github.com/notargets/gocca"
)

// MaxKpart bounds the elements of one partition, the @inner loop extent
const MaxKpart = 1 << 20

// Runner orchestrates kernel compilation and execution
type Runner struct {
	*builder.Builder
	Device        *gocca.OCCADevice
	Kernels       map[string]*gocca.OCCAKernel
	PooledMemory  map[string]*gocca.OCCAMemory
	Bindings      map[string]*DeviceBinding
	KernelConfigs map[string]*KernelConfig
	IsAllocated   bool
	hostOffsets   map[string][]int64
}

// NewRunner creates a Runner and uploads the partition sizes K
func NewRunner(device *gocca.OCCADevice, cfg builder.Config) (*Runner, error) {
	if device == nil {
		return nil, fmt.Errorf("runner needs a device")
	}
	bld, err := builder.NewBuilder(cfg)
	if err != nil {
		return nil, err
	}
	if bld.KpartMax > MaxKpart {
		return nil, fmt.Errorf("KpartMax=%d exceeds %d, balance K values or increase partition count (K=%v)",
			bld.KpartMax, MaxKpart, bld.K)
	}

	kr := &Runner{
		Builder:       bld,
		Device:        device,
		Kernels:       make(map[string]*gocca.OCCAKernel),
		PooledMemory:  make(map[string]*gocca.OCCAMemory),
		Bindings:      make(map[string]*DeviceBinding),
		KernelConfigs: make(map[string]*KernelConfig),
		hostOffsets:   make(map[string][]int64),
	}
	kr.PooledMemory["K"] = kr.mallocInts(toInt64(bld.K))
	return kr, nil
}

// mallocInts allocates an int_t array holding values
func (kr *Runner) mallocInts(values []int64) *gocca.OCCAMemory {
	if kr.IntType == builder.INT32 {
		v32 := make([]int32, len(values))
		for i, v := range values {
			v32[i] = int32(v)
		}
		return kr.Device.Malloc(int64(len(v32)*4), unsafe.Pointer(&v32[0]), nil)
	}
	return kr.Device.Malloc(int64(len(values)*8), unsafe.Pointer(&values[0]), nil)
}

func toInt64(k []int) []int64 {
	out := make([]int64, len(k))
	for i, v := range k {
		out[i] = int64(v)
	}
	return out
}

// AllocateDeviceMatrices allocates every device matrix not yet on the device
func (kr *Runner) AllocateDeviceMatrices() error {
	for name := range kr.DeviceMatrices {
		if _, exists := kr.PooledMemory[name]; exists {
			continue
		}
		if err := kr.uploadMatrix(name); err != nil {
			return err
		}
	}
	return nil
}

// uploadMatrix writes a device matrix in column-major order and the runner's
// float type, allocating it on first use
func (kr *Runner) uploadMatrix(name string) error {
	matrix, ok := kr.DeviceMatrices[name]
	if !ok {
		return fmt.Errorf("device matrix %s not defined", name)
	}
	rows, cols := matrix.Dims()
	total := rows * cols
	var (
		ptr   unsafe.Pointer
		bytes int64
	)
	if kr.FloatType == builder.Float32 {
		transposed := make([]float32, total)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				transposed[j*rows+i] = float32(matrix.At(i, j))
			}
		}
		ptr, bytes = unsafe.Pointer(&transposed[0]), int64(total*4)
	} else {
		transposed := make([]float64, total)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				transposed[j*rows+i] = matrix.At(i, j)
			}
		}
		ptr, bytes = unsafe.Pointer(&transposed[0]), int64(total*8)
	}
	if mem, exists := kr.PooledMemory[name]; exists {
		mem.CopyFrom(ptr, bytes)
		return nil
	}
	kr.PooledMemory[name] = kr.Device.Malloc(bytes, ptr, nil)
	return nil
}

// GetMemory returns the device memory for a named array
func (kr *Runner) GetMemory(arrayName string) *gocca.OCCAMemory {
	return kr.PooledMemory[arrayName+"_global"]
}

// GetOffsets returns the host copy of a named array's partition offsets, in values
func (kr *Runner) GetOffsets(arrayName string) []int64 {
	return kr.hostOffsets[arrayName]
}

// BuildKernel compiles a kernel with the generated preamble prepended
func (kr *Runner) BuildKernel(kernelSource, kernelName string) (*gocca.OCCAKernel, error) {
	kr.GeneratePreamble()
	fullSource := kr.KernelPreamble + "\n" + kernelSource

	var kernel *gocca.OCCAKernel
	var err error
	if kr.Device.Mode() == "OpenMP" {
		// Workaround for OCCA bug: OpenMP doesn't get default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = kr.Device.BuildKernelFromString(fullSource, kernelName, props)
	} else {
		kernel, err = kr.Device.BuildKernelFromString(fullSource, kernelName, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kernel %s: %w", kernelName, err)
	}
	if kernel == nil {
		return nil, fmt.Errorf("kernel build returned nil for %s", kernelName)
	}
	kr.Kernels[kernelName] = kernel
	return kernel, nil
}

// Free releases all kernels and device memory. The device itself stays open.
func (kr *Runner) Free() {
	for name, kernel := range kr.Kernels {
		kernel.Free()
		delete(kr.Kernels, name)
	}
	for name, mem := range kr.PooledMemory {
		mem.Free()
		delete(kr.PooledMemory, name)
	}
}

// allocateSingleArray allocates a partitioned array and its offset table
func (kr *Runner) allocateSingleArray(spec builder.ArraySpec) error {
	total := int64(kr.GetTotalElements())
	values := spec.Size / spec.DataType.Size()
	if values%total != 0 {
		return fmt.Errorf("array %s of %d values does not divide into %d elements",
			spec.Name, values, total)
	}

	offsets, totalSize := kr.CalculateAlignedOffsetsAndSize(spec)
	kr.PooledMemory[spec.Name+"_global"] = kr.Device.Malloc(totalSize, nil, nil)
	kr.PooledMemory[spec.Name+"_offsets"] = kr.mallocInts(offsets)
	kr.hostOffsets[spec.Name] = offsets
	kr.AllocatedArrays = append(kr.AllocatedArrays, spec.Name)
	return nil
}
