package runner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/notargets/FlowKernel/runner/builder"
)

// KernelArgument represents a single kernel argument with metadata
type KernelArgument struct {
	Name      string
	Type      string // "int_t*", "real_t*", scalar C type
	MemoryKey string // Key in PooledMemory, empty for scalars
	IsConst   bool
	Category  string // "system", "matrix", "array_data", "array_offset", "scalar"
}

// ExecuteKernel copies configured inputs in, launches the kernel, waits, and
// copies configured outputs back. Scalars without a bound value are taken
// from scalarValues in configuration order.
func (kr *Runner) ExecuteKernel(name string, scalarValues ...interface{}) error {
	config, exists := kr.KernelConfigs[name]
	if !exists {
		return fmt.Errorf("kernel %s not configured - use ConfigureKernel first", name)
	}
	kernel, exists := kr.Kernels[name]
	if !exists {
		return fmt.Errorf("kernel %s not compiled - use BuildKernel first", name)
	}

	if err := kr.executeCopyActions(config.Parameters, CopyTo); err != nil {
		return fmt.Errorf("pre-kernel copy failed: %w", err)
	}
	args, err := kr.buildKernelArgumentsFromConfig(config, scalarValues)
	if err != nil {
		return fmt.Errorf("failed to build arguments: %w", err)
	}
	if err := kernel.RunWithArgs(args...); err != nil {
		return fmt.Errorf("kernel execution failed: %w", err)
	}
	kr.Device.Finish()
	if err := kr.executeCopyActions(config.Parameters, CopyBack); err != nil {
		return fmt.Errorf("post-kernel copy failed: %w", err)
	}
	return nil
}

// buildKernelArgumentsFromConfig builds kernel arguments using KernelConfig
func (kr *Runner) buildKernelArgumentsFromConfig(config *KernelConfig, scalarValues []interface{}) ([]interface{}, error) {
	kernelArgs := kr.GetKernelArgumentsForConfig(config)
	args := make([]interface{}, 0, len(kernelArgs))
	scalarIdx := 0

	for _, karg := range kernelArgs {
		if karg.Category != "scalar" {
			mem, exists := kr.PooledMemory[karg.MemoryKey]
			if !exists {
				return nil, fmt.Errorf("memory for %s not found", karg.MemoryKey)
			}
			args = append(args, mem)
			continue
		}
		binding := kr.GetBinding(karg.Name)
		switch {
		case binding.HostBinding != nil:
			args = append(args, binding.HostBinding)
		case scalarIdx < len(scalarValues):
			args = append(args, scalarValues[scalarIdx])
			scalarIdx++
		default:
			return nil, fmt.Errorf("scalar %s not provided", karg.Name)
		}
	}
	return args, nil
}

// GetKernelArgumentsForConfig returns the ordered kernel arguments: K, then
// device matrices by name, then each array's data and offsets, then scalars
func (kr *Runner) GetKernelArgumentsForConfig(config *KernelConfig) []KernelArgument {
	args := []KernelArgument{{
		Name:      "K",
		Type:      "int_t*",
		MemoryKey: "K",
		IsConst:   true,
		Category:  "system",
	}}

	var matrices []*DeviceBinding
	for _, usage := range config.Parameters {
		if usage.Binding.IsMatrix {
			matrices = append(matrices, usage.Binding)
		}
	}
	sort.Slice(matrices, func(i, j int) bool { return matrices[i].Name < matrices[j].Name })
	for _, binding := range matrices {
		args = append(args, KernelArgument{
			Name:      binding.Name,
			Type:      "real_t*",
			MemoryKey: binding.Name,
			IsConst:   true,
			Category:  "matrix",
		})
	}

	for _, usage := range config.Parameters {
		binding := usage.Binding
		if binding.IsScalar || binding.IsMatrix {
			continue
		}
		args = append(args,
			KernelArgument{
				Name:      binding.Name + "_global",
				Type:      arrayTypeName(binding.DeviceType),
				MemoryKey: binding.Name + "_global",
				IsConst:   !binding.IsOutput,
				Category:  "array_data",
			},
			KernelArgument{
				Name:      binding.Name + "_offsets",
				Type:      "int_t*",
				MemoryKey: binding.Name + "_offsets",
				IsConst:   true,
				Category:  "array_offset",
			})
	}

	for _, usage := range config.Parameters {
		if usage.Binding.IsScalar {
			args = append(args, KernelArgument{
				Name:     usage.Binding.Name,
				Type:     GetScalarTypeName(usage.Binding.DeviceType),
				IsConst:  true,
				Category: "scalar",
			})
		}
	}
	return args
}

// GetKernelSignatureForConfig generates the parameter list of a configured kernel
func (kr *Runner) GetKernelSignatureForConfig(kernelName string) (string, error) {
	config, exists := kr.KernelConfigs[kernelName]
	if !exists {
		return "", fmt.Errorf("kernel %s not configured", kernelName)
	}
	args := kr.GetKernelArgumentsForConfig(config)
	params := make([]string, 0, len(args))
	for _, karg := range args {
		constStr := ""
		if karg.IsConst {
			constStr = "const "
		}
		params = append(params, fmt.Sprintf("%s%s %s", constStr, karg.Type, karg.Name))
	}
	return strings.Join(params, ",\n\t"), nil
}

// arrayTypeName returns the pointer type of an array on the device
func arrayTypeName(dt builder.DataType) string {
	switch dt {
	case builder.INT32, builder.INT64:
		return "int_t*"
	default:
		return "real_t*"
	}
}

// GetScalarTypeName returns the C type name for scalar parameters
func GetScalarTypeName(dt builder.DataType) string {
	switch dt {
	case builder.Float32:
		return "float"
	case builder.INT32:
		return "int"
	case builder.INT64:
		return "long"
	default:
		return "double"
	}
}
