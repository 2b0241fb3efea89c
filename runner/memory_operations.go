package runner

import (
	"fmt"
	"unsafe"

	"github.com/notargets/FlowKernel/runner/builder"
	"github.com/notargets/gocca"
)

// executeCopyActions performs the requested action of every parameter that has it
func (kr *Runner) executeCopyActions(params []ParameterUsage, action ActionFlags) error {
	for _, param := range params {
		if !param.HasAction(action) {
			continue
		}
		var err error
		if action == CopyTo {
			err = kr.copyToDeviceFromBinding(param.Binding)
		} else {
			err = kr.copyFromDeviceFromBinding(param.Binding)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", param.Binding.Name, err)
		}
	}
	return nil
}

// copyToDeviceFromBinding performs host→device copy using DeviceBinding
func (kr *Runner) copyToDeviceFromBinding(binding *DeviceBinding) error {
	if binding.IsScalar || binding.IsTemp {
		return nil
	}
	if binding.HostBinding == nil {
		return fmt.Errorf("no host data bound")
	}
	// Device matrices are stored without the _global suffix
	if binding.IsMatrix {
		return kr.uploadMatrix(binding.Name)
	}
	mem := kr.GetMemory(binding.Name)
	if mem == nil {
		return fmt.Errorf("no device memory allocated")
	}

	ptr, err := hostPointer(binding.HostBinding)
	if err != nil {
		return err
	}
	if binding.HostType != binding.DeviceType {
		if ptr, err = convertValues(ptr, binding.Size, binding.HostType, binding.DeviceType); err != nil {
			return err
		}
	}
	kr.copyPartitions(binding, mem, ptr, true)
	return nil
}

// copyFromDeviceFromBinding performs device→host copy using DeviceBinding
func (kr *Runner) copyFromDeviceFromBinding(binding *DeviceBinding) error {
	if binding.IsScalar || binding.IsTemp || binding.IsMatrix {
		return nil
	}
	if binding.HostBinding == nil {
		return fmt.Errorf("no host data bound")
	}
	mem := kr.GetMemory(binding.Name)
	if mem == nil {
		return fmt.Errorf("no device memory allocated")
	}

	ptr, err := hostPointer(binding.HostBinding)
	if err != nil {
		return err
	}
	if binding.HostType == binding.DeviceType {
		kr.copyPartitions(binding, mem, ptr, false)
		return nil
	}
	staging := newStaging(binding.Size, binding.DeviceType)
	kr.copyPartitions(binding, mem, staging, false)
	converted, err := convertValues(staging, binding.Size, binding.DeviceType, binding.HostType)
	if err != nil {
		return err
	}
	copyBytes(ptr, converted, binding.Size*binding.HostType.Size())
	return nil
}

// copyPartitions moves a contiguous host array to or from the aligned
// partitions of its device array. host holds values of the device type.
func (kr *Runner) copyPartitions(binding *DeviceBinding, mem *gocca.OCCAMemory,
	host unsafe.Pointer, toDevice bool) {
	offsets := kr.hostOffsets[binding.Name]
	valueSize := binding.DeviceType.Size()
	valuesPerElement := binding.Size / int64(kr.GetTotalElements())

	var start int64
	for p := 0; p < kr.NumPartitions; p++ {
		count := int64(kr.K[p]) * valuesPerElement
		src := unsafe.Add(host, start*valueSize)
		if toDevice {
			mem.CopyFromWithOffset(src, count*valueSize, offsets[p]*valueSize)
		} else {
			mem.CopyToWithOffset(src, count*valueSize, offsets[p]*valueSize)
		}
		start += count
	}
}

// hostPointer returns the address of the first value of a host slice
func hostPointer(hostVar interface{}) (unsafe.Pointer, error) {
	n, err := hostLen(hostVar)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("empty host slice %T", hostVar)
	}
	switch v := hostVar.(type) {
	case []float32:
		return unsafe.Pointer(&v[0]), nil
	case []float64:
		return unsafe.Pointer(&v[0]), nil
	case []int32:
		return unsafe.Pointer(&v[0]), nil
	case []int64:
		return unsafe.Pointer(&v[0]), nil
	case []complex64:
		return unsafe.Pointer(&v[0]), nil
	default:
		return unsafe.Pointer(&hostVar.([]complex128)[0]), nil
	}
}

// hostLen returns the length of a supported host slice
func hostLen(hostVar interface{}) (int, error) {
	switch v := hostVar.(type) {
	case []float32:
		return len(v), nil
	case []float64:
		return len(v), nil
	case []int32:
		return len(v), nil
	case []int64:
		return len(v), nil
	case []complex64:
		return len(v), nil
	case []complex128:
		return len(v), nil
	default:
		return 0, fmt.Errorf("unsupported host type %T", hostVar)
	}
}

func newStaging(n int64, dt builder.DataType) unsafe.Pointer {
	if dt == builder.Float32 || dt == builder.INT32 {
		return unsafe.Pointer(&make([]float32, n)[0])
	}
	return unsafe.Pointer(&make([]float64, n)[0])
}

// convertValues returns a new buffer holding n values converted between the
// two float types
func convertValues(src unsafe.Pointer, n int64, from, to builder.DataType) (unsafe.Pointer, error) {
	switch {
	case from == builder.Float64 && to == builder.Float32:
		in := unsafe.Slice((*float64)(src), n)
		out := make([]float32, n)
		for i, v := range in {
			out[i] = float32(v)
		}
		return unsafe.Pointer(&out[0]), nil
	case from == builder.Float32 && to == builder.Float64:
		in := unsafe.Slice((*float32)(src), n)
		out := make([]float64, n)
		for i, v := range in {
			out[i] = float64(v)
		}
		return unsafe.Pointer(&out[0]), nil
	default:
		return nil, fmt.Errorf("unsupported conversion %s to %s", from, to)
	}
}

func copyBytes(dst, src unsafe.Pointer, n int64) {
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}
