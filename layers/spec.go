package layers

import (
	"fmt"
	"sort"
	"strings"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	LinearLayer LayerType = iota
	Conv2DLayer
	ReLULayer
	MaxPool2DLayer
	AdaptiveAvgPool2DLayer
	FlattenLayer
	DropoutLayer
	SequentialLayer
)

func (lt LayerType) String() string {
	switch lt {
	case LinearLayer:
		return "Linear"
	case Conv2DLayer:
		return "Conv2d"
	case ReLULayer:
		return "ReLU"
	case MaxPool2DLayer:
		return "MaxPool2d"
	case AdaptiveAvgPool2DLayer:
		return "AdaptiveAvgPool2d"
	case FlattenLayer:
		return "Flatten"
	case DropoutLayer:
		return "Dropout"
	case SequentialLayer:
		return "Sequential"
	default:
		return "Unknown"
	}
}

// LayerSpec describes one layer's configuration and parameter footprint.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec lists the leaf layers of a model in execution order.
type ModelSpec struct {
	Layers          []LayerSpec `json:"layers"`
	TotalParameters int64       `json:"total_parameters"`
}

// Describe flattens the module tree rooted at m into a ModelSpec. Layer
// names are dotted paths such as "features.0".
func Describe(m Module, name string) *ModelSpec {
	spec := &ModelSpec{}
	describe(m, name, spec)
	return spec
}

func describe(m Module, name string, spec *ModelSpec) {
	if c, ok := m.(NamedContainer); ok {
		for _, child := range c.NamedChildren() {
			describe(child.Module, join(name, child.Name), spec)
		}
		return
	}
	if c, ok := m.(Container); ok {
		for i, child := range c.Children() {
			describe(child, join(name, fmt.Sprint(i)), spec)
		}
		return
	}
	ls := m.Spec()
	ls.Name = name
	spec.Layers = append(spec.Layers, ls)
	spec.TotalParameters += ls.ParameterCount
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	var sb strings.Builder
	sb.WriteString("Model Summary:\n")
	for _, l := range ms.Layers {
		sb.WriteString(fmt.Sprintf("  %-16s %-18s", l.Name, l.Type))
		if len(l.Parameters) > 0 {
			sb.WriteString(" " + formatParams(l.Parameters))
		}
		if l.ParameterCount > 0 {
			sb.WriteString(fmt.Sprintf("  params=%d", l.ParameterCount))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("Total Parameters: %d\n", ms.TotalParameters))
	return sb.String()
}

func formatParams(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
