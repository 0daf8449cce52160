// Package device resolves the compute device named in a run configuration.
package device

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnavailable is returned when an accelerator is requested that this
// build cannot drive.
var ErrUnavailable = errors.New("device unavailable")

// Type is a compute device kind.
type Type int

const (
	CPU Type = iota
	CUDA
	MPS
)

func (t Type) String() string {
	switch t {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	case MPS:
		return "mps"
	default:
		return "unknown"
	}
}

// Device is a parsed device name such as "cpu" or "cuda:1".
type Device struct {
	Type  Type
	Index int
}

func (d Device) String() string {
	if d.Type == CUDA {
		return "cuda:" + strconv.Itoa(d.Index)
	}
	return d.Type.String()
}


// Parse reads a device name. "gpu" is accepted as an alias of "cuda".
func Parse(name string) (Device, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	kind, idx, hasIdx := strings.Cut(n, ":")
	var d Device
	switch kind {
	case "", "cpu":
		d.Type = CPU
	case "cuda", "gpu":
		d.Type = CUDA
	case "mps":
		d.Type = MPS
	default:
		return Device{}, errors.Errorf("unknown device %q", name)
	}
	if hasIdx {
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 || d.Type != CUDA {
			return Device{}, errors.Errorf("invalid device index in %q", name)
		}
		d.Index = i
	}
	return d, nil
}

// Ensure fails unless the device can run the layer engine.
func Ensure(d Device) error {
	if d.Type != CPU {
		return errors.Wrapf(ErrUnavailable, "%s: only cpu is supported", d)
	}
	return nil
}

// Resolve parses name and checks availability.
func Resolve(name string) (Device, error) {
	d, err := Parse(name)
	if err != nil {
		return Device{}, err
	}
	if err := Ensure(d); err != nil {
		return Device{}, err
	}
	return d, nil
}
