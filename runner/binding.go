package runner

import (
	"fmt"
	"sort"

	"github.com/notargets/FlowKernel/runner/builder"
	"gonum.org/v1/gonum/mat"
)

// ActionFlags represents the memory operations to perform for a parameter
type ActionFlags int

const (
	NoAction ActionFlags = 0
	// Copy from host to device before kernel execution
	CopyTo ActionFlags = 1 << iota
	// Copy from device to host after kernel execution
	CopyBack
	Copy = CopyTo | CopyBack
)

// DeviceBinding represents a host↔device data binding
type DeviceBinding struct {
	Name string

	// HostBinding is a []T, []complexT, mat.Matrix or scalar. Arrays may be
	// bound later with Rebind.
	HostBinding interface{}

	HostType   builder.DataType
	DeviceType builder.DataType

	// Size in values on the device; complex host data counts twice
	Size        int64
	ElementSize int

	IsMatrix bool
	IsScalar bool
	IsTemp   bool

	Alignment builder.AlignmentType
	IsOutput  bool
}

// ParameterUsage represents how a binding is used in a specific kernel
type ParameterUsage struct {
	Binding *DeviceBinding
	Actions ActionFlags
}

// HasAction checks if a specific action is set
func (pu *ParameterUsage) HasAction(action ActionFlags) bool {
	return pu.Actions&action != 0
}

// DefineBindings establishes host↔device data relationships, once per runner
func (kr *Runner) DefineBindings(params ...*builder.ParamBuilder) error {
	if kr.IsAllocated {
		return fmt.Errorf("bindings cannot be defined after AllocateDevice has been called")
	}
	for i, p := range params {
		spec := p.Spec
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
		if _, exists := kr.Bindings[spec.Name]; exists {
			return fmt.Errorf("parameter %s defined twice", spec.Name)
		}
		kr.Bindings[spec.Name] = createBindingFromParam(&spec)
	}
	return nil
}

// createBindingFromParam converts a ParamSpec into a DeviceBinding
func createBindingFromParam(spec *builder.ParamSpec) *DeviceBinding {
	binding := &DeviceBinding{
		Name:        spec.Name,
		HostBinding: spec.HostBinding,
		HostType:    spec.DataType,
		DeviceType:  spec.GetEffectiveType(),
		Size:        spec.Size,
		Alignment:   spec.Alignment,
		IsOutput:    !spec.IsConst(),
		IsMatrix:    spec.IsMatrix,
	}
	switch spec.Direction {
	case builder.DirectionScalar:
		binding.IsScalar = true
		binding.DeviceType = spec.DataType // Scalars don't convert
		binding.Size = 1
	case builder.DirectionTemp:
		binding.IsTemp = true
		binding.HostType = 0
	}
	binding.ElementSize = int(binding.DeviceType.Size())
	return binding
}

// Rebind points an array or scalar binding at new host data of the same type
// and size. Arrays are only moved by the copy actions of later executions.
func (kr *Runner) Rebind(name string, hostVar interface{}) error {
	binding := kr.GetBinding(name)
	if binding == nil {
		return fmt.Errorf("parameter %s not defined", name)
	}
	if binding.IsTemp || binding.IsMatrix {
		return fmt.Errorf("parameter %s cannot be rebound", name)
	}
	dt, perValue := builder.DataTypeOf(hostVar)
	if dt != binding.HostType {
		return fmt.Errorf("parameter %s: host type %T does not match %s", name, hostVar, binding.HostType)
	}
	if !binding.IsScalar {
		values, err := hostLen(hostVar)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
		if int64(values*perValue) != binding.Size {
			return fmt.Errorf("parameter %s: %d values bound, %d allocated",
				name, values*perValue, binding.Size)
		}
	}
	binding.HostBinding = hostVar
	return nil
}

// GetBinding returns a binding by name
func (kr *Runner) GetBinding(name string) *DeviceBinding {
	return kr.Bindings[name]
}

// AllocateDevice allocates device memory for all defined bindings
func (kr *Runner) AllocateDevice() error {
	if kr.IsAllocated {
		return fmt.Errorf("device memory already allocated")
	}
	if len(kr.Bindings) == 0 {
		return fmt.Errorf("no bindings defined - call DefineBindings first")
	}

	// name order keeps the partition macros stable between runs
	names := make([]string, 0, len(kr.Bindings))
	for name := range kr.Bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		binding := kr.Bindings[name]
		switch {
		case binding.IsScalar:
		case binding.IsMatrix:
			kr.AddDeviceMatrix(name, binding.HostBinding.(mat.Matrix))
		default:
			err := kr.allocateSingleArray(builder.ArraySpec{
				Name:      name,
				Size:      binding.Size * int64(binding.ElementSize),
				DataType:  binding.DeviceType,
				Alignment: binding.Alignment,
				IsOutput:  binding.IsOutput,
			})
			if err != nil {
				return fmt.Errorf("failed to allocate array %s: %w", name, err)
			}
		}
	}
	if err := kr.AllocateDeviceMatrices(); err != nil {
		return fmt.Errorf("failed to allocate device matrices: %w", err)
	}
	kr.IsAllocated = true
	return nil
}
