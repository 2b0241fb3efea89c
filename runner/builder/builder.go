package builder

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// DataType represents the precision of numerical data
type DataType int

const (
	Float32 DataType = iota + 1
	Float64
	INT32
	INT64
)

// Size returns the size in bytes of one value
func (dt DataType) Size() int64 {
	switch dt {
	case Float32, INT32:
		return 4
	default:
		return 8
	}
}

func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case INT32:
		return "int32"
	case INT64:
		return "int64"
	default:
		return fmt.Sprintf("DataType(%d)", int(dt))
	}
}

// AlignmentType specifies memory alignment requirements
type AlignmentType int

const (
	NoAlignment    AlignmentType = 1
	CacheLineAlign AlignmentType = 64
	WarpAlign      AlignmentType = 128
	PageAlign      AlignmentType = 4096
)

// ArraySpec defines user requirements for array allocation
type ArraySpec struct {
	Name      string
	Size      int64 // bytes
	Alignment AlignmentType
	DataType  DataType
	IsOutput  bool
}

// Builder generates the preamble shared by partition-parallel kernels
type Builder struct {
	// Partition configuration
	NumPartitions int
	K             []int
	KpartMax      int // Maximum K value across all partitions

	// Type configuration
	FloatType DataType
	IntType   DataType

	// Integer constants emitted as #defines
	Constants map[string]int

	// Device matrices to allocate in global memory
	DeviceMatrices map[string]mat.Matrix

	// Array tracking for macro generation
	AllocatedArrays []string

	// Generated code
	KernelPreamble string
}

// Config holds configuration for creating a Builder
type Config struct {
	K         []int
	FloatType DataType
	IntType   DataType
	Constants map[string]int
}

// NewBuilder creates a new Builder instance
func NewBuilder(cfg Config) (*Builder, error) {
	if len(cfg.K) == 0 {
		return nil, fmt.Errorf("K array cannot be empty")
	}
	kpartMax := 0
	for i, k := range cfg.K {
		if k <= 0 {
			return nil, fmt.Errorf("partition %d has K=%d, must be positive", i, k)
		}
		kpartMax = max(kpartMax, k)
	}
	floatType := cfg.FloatType
	if floatType == 0 {
		floatType = Float64
	}
	intType := cfg.IntType
	if intType == 0 {
		intType = INT64
	}
	kb := &Builder{
		NumPartitions:   len(cfg.K),
		K:               append([]int(nil), cfg.K...),
		KpartMax:        kpartMax,
		FloatType:       floatType,
		IntType:         intType,
		Constants:       make(map[string]int, len(cfg.Constants)),
		DeviceMatrices:  make(map[string]mat.Matrix),
		AllocatedArrays: []string{},
	}
	for name, v := range cfg.Constants {
		kb.Constants[name] = v
	}
	return kb, nil
}

// AddDeviceMatrix adds a matrix to be allocated in device global memory
func (kb *Builder) AddDeviceMatrix(name string, m mat.Matrix) {
	kb.DeviceMatrices[name] = m
}

// CalculateAlignedOffsetsAndSize computes partition offsets with alignment.
// Offsets are in values, not bytes, so that ptr + offset addresses a partition.
func (kb *Builder) CalculateAlignedOffsetsAndSize(spec ArraySpec) (
	[]int64, int64) {
	offsets := make([]int64, kb.NumPartitions+1)
	valueSize := spec.DataType.Size()
	bytesPerElement := spec.Size / int64(kb.GetTotalElements())
	valuesPerElement := bytesPerElement / valueSize

	alignment := int64(spec.Alignment)
	if alignment == 0 {
		alignment = int64(NoAlignment)
	}
	align := func(b int64) int64 {
		if b%alignment != 0 {
			b = ((b + alignment - 1) / alignment) * alignment
		}
		return b
	}

	currentByteOffset := int64(0)
	for i := 0; i < kb.NumPartitions; i++ {
		currentByteOffset = align(currentByteOffset)
		offsets[i] = currentByteOffset / valueSize
		currentByteOffset += int64(kb.K[i]) * valuesPerElement * valueSize
	}
	// Final offset for bounds checking
	currentByteOffset = align(currentByteOffset)
	offsets[kb.NumPartitions] = currentByteOffset / valueSize

	return offsets, offsets[kb.NumPartitions] * valueSize
}

// GetTotalElements returns sum of all K values
func (kb *Builder) GetTotalElements() int {
	total := 0
	for _, k := range kb.K {
		total += k
	}
	return total
}

// GeneratePreamble generates the type definitions, constants and partition macros
func (kb *Builder) GeneratePreamble() string {
	var sb strings.Builder

	sb.WriteString(kb.generateTypeDefinitions())
	sb.WriteString(kb.generateConstants())
	sb.WriteString(kb.generatePartitionMacros())

	kb.KernelPreamble = sb.String()
	return kb.KernelPreamble
}

// generateTypeDefinitions creates type definitions based on precision settings
func (kb *Builder) generateTypeDefinitions() string {
	var sb strings.Builder

	floatTypeStr := "double"
	floatSuffix := ""
	if kb.FloatType == Float32 {
		floatTypeStr = "float"
		floatSuffix = "f"
	}
	intTypeStr := "long"
	if kb.IntType == INT32 {
		intTypeStr = "int"
	}

	sb.WriteString(fmt.Sprintf("typedef %s real_t;\n", floatTypeStr))
	sb.WriteString(fmt.Sprintf("typedef %s int_t;\n", intTypeStr))
	sb.WriteString(fmt.Sprintf("#define REAL_ZERO 0.0%s\n", floatSuffix))
	sb.WriteString(fmt.Sprintf("#define REAL_ONE 1.0%s\n", floatSuffix))
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("#define NPART %d\n", kb.NumPartitions))
	sb.WriteString(fmt.Sprintf("#define KpartMax %d\n", kb.KpartMax))
	sb.WriteString("\n")
	return sb.String()
}

// generateConstants emits the user constants in name order
func (kb *Builder) generateConstants() string {
	if len(kb.Constants) == 0 {
		return ""
	}
	names := make([]string, 0, len(kb.Constants))
	for name := range kb.Constants {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(fmt.Sprintf("#define %s %d\n", name, kb.Constants[name]))
	}
	sb.WriteString("\n")
	return sb.String()
}

// generatePartitionMacros creates macros for partition data access
func (kb *Builder) generatePartitionMacros() string {
	if len(kb.AllocatedArrays) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("// Partition access macros\n")
	for _, arrayName := range kb.AllocatedArrays {
		sb.WriteString(fmt.Sprintf("#define %s_PART(part) (%s_global + %s_offsets[part])\n",
			arrayName, arrayName, arrayName))
	}
	sb.WriteString("\n")
	return sb.String()
}

// GetIntSize returns the size of the integer type in bytes
func (kb *Builder) GetIntSize() int {
	return int(kb.IntType.Size())
}
