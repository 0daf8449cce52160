package checkpoints

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	// FormatProto is a protobuf wire encoding of the checkpoint.
	FormatProto CheckpointFormat = iota
	FormatJSON
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatProto:
		return "proto"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseFormat maps "proto"/"pb"/"bin" and "json" to a format.
func ParseFormat(s string) (CheckpointFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "proto", "pb", "bin", "protobuf":
		return FormatProto, nil
	case "json":
		return FormatJSON, nil
	}
	return 0, errors.Errorf("unsupported checkpoint format %q", s)
}

// Tensor is a named parameter's shape and row-major values.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Checkpoint is the persisted form of a model: its state dict plus
// information about the run that produced it.
type Checkpoint struct {
	StateDict map[string]Tensor `json:"state_dict"`
	Optimizer *OptimizerState   `json:"optimizer,omitempty"`
	Metadata  Metadata          `json:"metadata"`
}

// OptimizerState captures optimizer hyperparameters and per-parameter buffers.
type OptimizerState struct {
	Type       string             `json:"type"`
	Parameters map[string]float64 `json:"parameters"`
	Buffers    map[string]Tensor  `json:"buffers,omitempty"`
}

// Metadata contains checkpoint metadata
type Metadata struct {
	RunID        string    `json:"run_id,omitempty"`
	Architecture string    `json:"architecture,omitempty"`
	NumClasses   int       `json:"num_classes,omitempty"`
	ClassNames   []string  `json:"class_names,omitempty"`
	Epoch        int       `json:"epoch"`
	LearningRate float64   `json:"learning_rate"`
	TrainLoss    float64   `json:"train_loss"`
	TrainAcc     float64   `json:"train_acc"`
	ValLoss      float64   `json:"val_loss"`
	ValAcc       float64   `json:"val_acc"`
	Framework    string    `json:"framework"`
	Version      string    `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
}

// Names returns the state dict keys sorted.
func (c *Checkpoint) Names() []string {
	return sortedKeys(c.StateDict)
}

func sortedKeys(m map[string]Tensor) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate checks every tensor's data length against its shape.
func (c *Checkpoint) Validate() error {
	if len(c.StateDict) == 0 {
		return errors.New("checkpoint has an empty state_dict")
	}
	for _, name := range c.Names() {
		t := c.StateDict[name]
		n := 1
		for _, d := range t.Shape {
			n *= d
		}
		if n != len(t.Data) {
			return errors.Errorf("tensor %s: shape %v needs %d values, has %d", name, t.Shape, n, len(t.Data))
		}
	}
	return nil
}

// Marshal encodes c in the given format.
func Marshal(c *Checkpoint, format CheckpointFormat) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.Marshal(c)
		return data, errors.Wrap(err, "marshal checkpoint json")
	case FormatProto:
		return marshalProto(c), nil
	default:
		return nil, errors.Errorf("unsupported checkpoint format: %s", format)
	}
}

// Unmarshal decodes a checkpoint, detecting JSON by its leading brace.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c *Checkpoint
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '{' {
		c = &Checkpoint{}
		if err := json.Unmarshal(trimmed, c); err != nil {
			return nil, errors.Wrap(err, "unmarshal checkpoint json")
		}
	} else {
		var err error
		if c, err = unmarshalProto(data); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes c to path, replacing any existing file. The data goes to a
// temporary file in the same directory first and is renamed into place.
func Save(path string, c *Checkpoint, format CheckpointFormat) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := Marshal(c, format)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create checkpoint dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp checkpoint")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", tmp.Name())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "sync %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "replace %s", path)
	}
	return nil
}

// Load reads and validates a checkpoint file of either format.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read checkpoint %s", path)
	}
	c, err := Unmarshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint %s", path)
	}
	return c, nil
}
