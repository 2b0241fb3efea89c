package builder

import (
	"fmt"
	"reflect"

	"gonum.org/v1/gonum/mat"
)

// Direction indicates parameter data flow
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
	DirectionInOut
	DirectionTemp
	DirectionScalar
)

// ParamBuilder provides a fluent interface for building kernel parameters
type ParamBuilder struct {
	Spec ParamSpec
}

// ParamSpec holds the complete specification for a kernel parameter
type ParamSpec struct {
	Name        string
	Direction   Direction
	HostBinding interface{}

	// Type and size (inferred or explicit). Complex slices count as
	// interleaved real values.
	DataType DataType
	Size     int64

	// Data movement
	DoCopyTo    bool
	DoCopyBack  bool
	ConvertType DataType // 0 means no conversion

	// Memory attributes
	Alignment AlignmentType

	// Matrix attributes
	IsMatrix   bool
	MatrixRows int
	MatrixCols int
}

// Input creates a parameter specification for a const input
func Input(deviceName string) *ParamBuilder {
	return &ParamBuilder{Spec: ParamSpec{Name: deviceName, Direction: DirectionInput}}
}

// Output creates a parameter specification for a non-const output
func Output(deviceName string) *ParamBuilder {
	return &ParamBuilder{Spec: ParamSpec{Name: deviceName, Direction: DirectionOutput}}
}

// InOut creates a parameter specification for a non-const input/output
func InOut(deviceName string) *ParamBuilder {
	return &ParamBuilder{Spec: ParamSpec{Name: deviceName, Direction: DirectionInOut}}
}

// Scalar creates a parameter specification for a scalar value
func Scalar(deviceName string) *ParamBuilder {
	return &ParamBuilder{Spec: ParamSpec{Name: deviceName, Direction: DirectionScalar}}
}

// Temp creates a parameter specification for a device-only temporary array
func Temp(deviceName string) *ParamBuilder {
	return &ParamBuilder{Spec: ParamSpec{Name: deviceName, Direction: DirectionTemp}}
}

// Bind associates a host variable with this parameter
func (p *ParamBuilder) Bind(hostVar interface{}) *ParamBuilder {
	p.Spec.HostBinding = hostVar
	p.inferFromBinding()
	return p
}

// Copy sets bidirectional copy (host→device before, device→host after)
func (p *ParamBuilder) Copy() *ParamBuilder {
	p.Spec.DoCopyTo = true
	p.Spec.DoCopyBack = true
	return p
}

// CopyTo sets host→device copy before kernel execution
func (p *ParamBuilder) CopyTo() *ParamBuilder {
	p.Spec.DoCopyTo = true
	return p
}

// CopyBack sets device→host copy after kernel execution
func (p *ParamBuilder) CopyBack() *ParamBuilder {
	p.Spec.DoCopyBack = true
	return p
}

// NoCopy explicitly disables data movement
func (p *ParamBuilder) NoCopy() *ParamBuilder {
	p.Spec.DoCopyTo = false
	p.Spec.DoCopyBack = false
	return p
}

// Convert sets type conversion during copy operations
func (p *ParamBuilder) Convert(toType DataType) *ParamBuilder {
	p.Spec.ConvertType = toType
	return p
}

// Type sets explicit type, for arrays bound after allocation and Temp arrays
func (p *ParamBuilder) Type(dataType DataType) *ParamBuilder {
	p.Spec.DataType = dataType
	return p
}

// Size sets explicit size in values
func (p *ParamBuilder) Size(values int) *ParamBuilder {
	p.Spec.Size = int64(values)
	return p
}

// ToMatrix marks this parameter as a device matrix
func (p *ParamBuilder) ToMatrix() *ParamBuilder {
	p.Spec.IsMatrix = true
	if m, ok := p.Spec.HostBinding.(mat.Matrix); ok {
		p.Spec.MatrixRows, p.Spec.MatrixCols = m.Dims()
	}
	return p
}

// Align sets memory alignment requirements
func (p *ParamBuilder) Align(alignment AlignmentType) *ParamBuilder {
	p.Spec.Alignment = alignment
	return p
}

// inferFromBinding extracts type and size information from the host binding
func (p *ParamBuilder) inferFromBinding() {
	if p.Spec.HostBinding == nil {
		return
	}
	if m, ok := p.Spec.HostBinding.(mat.Matrix); ok {
		rows, cols := m.Dims()
		p.Spec.Size = int64(rows * cols)
		p.Spec.DataType = Float64 // gonum matrices are float64
		p.Spec.MatrixRows = rows
		p.Spec.MatrixCols = cols
		return
	}

	v := reflect.ValueOf(p.Spec.HostBinding)
	t := v.Type()
	if t.Kind() == reflect.Slice {
		dt, perValue := dataTypeOfKind(t.Elem().Kind(), true)
		p.Spec.DataType = dt
		p.Spec.Size = int64(v.Len() * perValue)
		return
	}
	if dt, perValue := dataTypeOfKind(t.Kind(), false); perValue == 1 {
		p.Spec.DataType = dt
		p.Spec.Size = 1
	}
}

// DataTypeOf returns the device type and values per item of a host slice or
// scalar. Complex values occupy two interleaved reals.
func DataTypeOf(hostVar interface{}) (dt DataType, perValue int) {
	if hostVar == nil {
		return 0, 0
	}
	t := reflect.TypeOf(hostVar)
	if t.Kind() == reflect.Slice {
		return dataTypeOfKind(t.Elem().Kind(), true)
	}
	return dataTypeOfKind(t.Kind(), false)
}

// dataTypeOfKind maps a Go kind to its device type. A Go int is passed to
// kernels as a C int, so it is only accepted as a scalar.
func dataTypeOfKind(kind reflect.Kind, inSlice bool) (DataType, int) {
	switch kind {
	case reflect.Float32:
		return Float32, 1
	case reflect.Float64:
		return Float64, 1
	case reflect.Int32:
		return INT32, 1
	case reflect.Int64:
		return INT64, 1
	case reflect.Int:
		if inSlice {
			return 0, 0
		}
		return INT32, 1
	case reflect.Complex64:
		return Float32, 2
	case reflect.Complex128:
		return Float64, 2
	default:
		return 0, 0
	}
}

// Validate checks if the parameter specification is complete and valid
func (p *ParamSpec) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("parameter name cannot be empty")
	}

	if p.Direction == DirectionScalar {
		if p.IsMatrix {
			return fmt.Errorf("scalars cannot be matrices")
		}
		if p.DataType == 0 && p.HostBinding == nil {
			return fmt.Errorf("scalar %s needs type or binding", p.Name)
		}
		return nil
	}

	if p.Size == 0 {
		return fmt.Errorf("array %s needs size", p.Name)
	}
	if p.DataType == 0 {
		return fmt.Errorf("array %s needs type", p.Name)
	}
	if p.IsMatrix {
		if _, ok := p.HostBinding.(mat.Matrix); !ok {
			return fmt.Errorf("device matrix %s needs a mat.Matrix binding", p.Name)
		}
	}

	// Temp arrays cannot have host bindings or copy operations
	if p.Direction == DirectionTemp {
		if p.HostBinding != nil {
			return fmt.Errorf("temp array %s cannot have host binding", p.Name)
		}
		if p.DoCopyTo || p.DoCopyBack {
			return fmt.Errorf("temp array %s cannot have copy operations", p.Name)
		}
	}
	return nil
}

// IsConst returns whether this parameter should be const in the kernel signature
func (p *ParamSpec) IsConst() bool {
	switch p.Direction {
	case DirectionOutput, DirectionInOut, DirectionTemp:
		return false
	default:
		return true
	}
}

// GetEffectiveType returns the type to use on device (considering conversion)
func (p *ParamSpec) GetEffectiveType() DataType {
	if p.ConvertType != 0 {
		return p.ConvertType
	}
	return p.DataType
}
