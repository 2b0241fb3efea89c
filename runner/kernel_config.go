package runner

import (
	"fmt"
)

// KernelConfig references the bindings one kernel uses and the memory
// operations performed around each of its launches
type KernelConfig struct {
	Name       string
	Parameters []ParameterUsage
}

// GetParameter finds a parameter usage by name
func (kc *KernelConfig) GetParameter(name string) *ParameterUsage {
	for i := range kc.Parameters {
		if kc.Parameters[i].Binding.Name == name {
			return &kc.Parameters[i]
		}
	}
	return nil
}

// ConfigureKernel creates a kernel-specific parameter configuration
func (kr *Runner) ConfigureKernel(name string, params ...*ParamConfig) (*KernelConfig, error) {
	if !kr.IsAllocated {
		return nil, fmt.Errorf("device memory not allocated - call AllocateDevice first")
	}
	config := &KernelConfig{
		Name:       name,
		Parameters: make([]ParameterUsage, 0, len(params)),
	}
	for _, param := range params {
		if param == nil {
			continue
		}
		if param.binding == nil {
			return nil, fmt.Errorf("kernel %s: parameter %s not defined", name, param.name)
		}
		config.Parameters = append(config.Parameters, ParameterUsage{
			Binding: param.binding,
			Actions: param.actions,
		})
	}
	kr.KernelConfigs[name] = config
	return config, nil
}

// Param creates a parameter configuration for a named binding
func (kr *Runner) Param(name string) *ParamConfig {
	return &ParamConfig{
		name:    name,
		binding: kr.GetBinding(name),
	}
}

// ParamConfig is a lightweight builder for configuring parameter actions
type ParamConfig struct {
	name    string
	binding *DeviceBinding
	actions ActionFlags
}

// CopyTo sets the parameter to copy from host to device
func (pc *ParamConfig) CopyTo() *ParamConfig {
	pc.actions |= CopyTo
	return pc
}

// CopyBack sets the parameter to copy from device to host
func (pc *ParamConfig) CopyBack() *ParamConfig {
	pc.actions |= CopyBack
	return pc
}

// Copy sets the parameter for bidirectional copy
func (pc *ParamConfig) Copy() *ParamConfig {
	pc.actions |= Copy
	return pc
}

// NoCopy explicitly disables all copy operations for this parameter
func (pc *ParamConfig) NoCopy() *ParamConfig {
	pc.actions = NoAction
	return pc
}
