// Package models holds the VGG classifier used for liveness detection.
package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/checkpoints"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/layers"
)

// M marks a 2x2 max-pool in VGGConfig.Features.
const M = -1

// headIndex is the position of the final Linear inside the classifier.
const headIndex = 6

// VGGConfig describes a VGG network.
type VGGConfig struct {
	Name string
	// Features lists conv output widths; M inserts a max-pool.
	Features      []int
	InputChannels int
	// PoolSize is the edge of the adaptive average pool output.
	PoolSize int
	Hidden   int
	Dropout  float64
	// BackboneClasses is the head width of checkpoints loaded through
	// Options.PretrainedPath.
	BackboneClasses int
}

// VGG19Config is configuration "E" of the VGG paper with an ImageNet head.
func VGG19Config() VGGConfig {
	return VGGConfig{
		Name: "vgg19",
		Features: []int{
			64, 64, M,
			128, 128, M,
			256, 256, 256, 256, M,
			512, 512, 512, 512, M,
			512, 512, 512, 512, M,
		},
		InputChannels:   3,
		PoolSize:        7,
		Hidden:          4096,
		Dropout:         0.5,
		BackboneClasses: 1000,
	}
}

// Options control how weights are initialized.
type Options struct {
	// PretrainedPath is a checkpoint holding backbone weights with a
	// BackboneClasses-wide head. The head is replaced after loading.
	PretrainedPath string
	// Seed makes initialization deterministic when non-zero.
	Seed int64
}

// VGG is a convolutional backbone followed by a three-layer classifier.
type VGG struct {
	cfg        VGGConfig
	numClass   int
	Features   *layers.Sequential
	AvgPool    *layers.AdaptiveAvgPool2D
	Flatten    *layers.Flatten
	Classifier *layers.Sequential
	training   bool
}

// NewVGG19 builds the stock VGG19 with a numClass-wide head.
func NewVGG19(numClass int, opts Options) (*VGG, error) {
	return NewVGG(VGG19Config(), numClass, opts)
}

// NewVGG builds the network, initializes it like torchvision, optionally
// loads backbone weights and finally installs a fresh numClass-wide head.
func NewVGG(cfg VGGConfig, numClass int, opts Options) (*VGG, error) {
	if numClass <= 0 {
		return nil, errors.Errorf("number of classes must be positive, got %d", numClass)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if opts.Seed != 0 {
		layers.SetRandomSeed(opts.Seed)
	}

	v := &VGG{cfg: cfg, numClass: cfg.BackboneClasses, training: true}
	v.Features = layers.NewSequential()
	in := cfg.InputChannels
	for _, width := range cfg.Features {
		if width == M {
			v.Features.Add(layers.NewMaxPool2D(2, 2))
			continue
		}
		v.Features.Add(layers.NewConv2D(in, width, 3, 1, 1))
		v.Features.Add(layers.NewReLU())
		in = width
	}
	v.AvgPool = layers.NewAdaptiveAvgPool2D(cfg.PoolSize, cfg.PoolSize)
	v.Flatten = layers.NewFlatten()
	v.Classifier = layers.NewSequential(
		layers.NewLinear(in*cfg.PoolSize*cfg.PoolSize, cfg.Hidden),
		layers.NewReLU(),
		layers.NewDropout(cfg.Dropout),
		layers.NewLinear(cfg.Hidden, cfg.Hidden),
		layers.NewReLU(),
		layers.NewDropout(cfg.Dropout),
		layers.NewLinear(cfg.Hidden, cfg.BackboneClasses),
	)
	v.initWeights()

	if opts.PretrainedPath != "" {
		ckpt, err := checkpoints.Load(opts.PretrainedPath)
		if err != nil {
			return nil, errors.Wrap(err, "load pretrained weights")
		}
		if err := v.LoadStateDict(ckpt.StateDict, true); err != nil {
			return nil, errors.Wrapf(err, "pretrained weights %s", opts.PretrainedPath)
		}
		log.WithField("path", opts.PretrainedPath).Info("loaded pretrained backbone")
	}

	if err := v.ReplaceHead(numClass); err != nil {
		return nil, err
	}
	return v, nil
}

func (c VGGConfig) validate() error {
	if c.InputChannels <= 0 || c.PoolSize <= 0 || c.Hidden <= 0 || c.BackboneClasses <= 0 {
		return errors.Errorf("invalid vgg config %+v", c)
	}
	convs := 0
	for _, w := range c.Features {
		if w == M {
			continue
		}
		if w <= 0 {
			return errors.Errorf("invalid conv width %d", w)
		}
		convs++
	}
	if convs == 0 {
		return errors.New("vgg config has no conv layers")
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return errors.Errorf("dropout must be in [0, 1), got %g", c.Dropout)
	}
	return nil
}

// initWeights follows torchvision: kaiming-normal (fan_out) convs, N(0, 0.01)
// linears, zero biases.
func (v *VGG) initWeights() {
	for _, m := range v.Features.Children() {
		if conv, ok := m.(*layers.Conv2D); ok {
			k := conv.KernelSize()
			layers.KaimingNormal(conv.Weight, conv.OutChannels()*k*k)
			layers.Zeros(conv.Bias)
		}
	}
	for _, m := range v.Classifier.Children() {
		if lin, ok := m.(*layers.Linear); ok {
			layers.Normal(lin.Weight, 0, 0.01)
			layers.Zeros(lin.Bias)
		}
	}
}

// ReplaceHead swaps the last classifier layer for a freshly initialized
// Linear with numClass outputs. Every other layer is left untouched.
func (v *VGG) ReplaceHead(numClass int) error {
	if numClass <= 0 {
		return errors.Errorf("number of classes must be positive, got %d", numClass)
	}
	head, ok := v.Classifier.At(headIndex).(*layers.Linear)
	if !ok {
		return errors.New("classifier head is not a linear layer")
	}
	if err := v.Classifier.Set(headIndex, layers.NewLinear(head.InFeatures(), numClass)); err != nil {
		return err
	}
	v.numClass = numClass
	return nil
}

// Head returns the final classifier layer.
func (v *VGG) Head() *layers.Linear {
	return v.Classifier.At(headIndex).(*layers.Linear)
}

// NumClasses returns the head width.
func (v *VGG) NumClasses() int { return v.numClass }

// Config returns the architecture configuration.
func (v *VGG) Config() VGGConfig { return v.cfg }

// NamedChildren names the sub-modules the way torchvision does.
func (v *VGG) NamedChildren() []layers.NamedModule {
	return []layers.NamedModule{
		{Name: "features", Module: v.Features},
		{Name: "avgpool", Module: v.AvgPool},
		{Name: "flatten", Module: v.Flatten},
		{Name: "classifier", Module: v.Classifier},
	}
}

// Forward maps [N, C, H, W] images to [N, numClass] logits.
func (v *VGG) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	out := x
	for _, child := range v.NamedChildren() {
		var err error
		if out, err = child.Forward(out); err != nil {
			return nil, errors.Wrap(err, child.Name)
		}
	}
	return out, nil
}

// Backward propagates the logits gradient through every layer.
func (v *VGG) Backward(grad *tensor.Dense) (*tensor.Dense, error) {
	children := v.NamedChildren()
	g := grad
	for i := len(children) - 1; i >= 0; i-- {
		var err error
		if g, err = children[i].Backward(g); err != nil {
			return nil, errors.Wrap(err, children[i].Name)
		}
	}
	return g, nil
}

// Parameters returns every trainable parameter.
func (v *VGG) Parameters() []*layers.Parameter {
	return append(v.Features.Parameters(), v.Classifier.Parameters()...)
}

// NamedParameters returns parameters keyed like a torchvision state dict.
func (v *VGG) NamedParameters() []layers.NamedParameter {
	return layers.NamedParameters(v, "")
}

// Train sets the model to training mode.
func (v *VGG) Train() {
	v.training = true
	for _, c := range v.NamedChildren() {
		c.Train()
	}
}

// Eval sets the model to evaluation mode.
func (v *VGG) Eval() {
	v.training = false
	for _, c := range v.NamedChildren() {
		c.Eval()
	}
}

// IsTraining returns true if in training mode
func (v *VGG) IsTraining() bool { return v.training }

// Spec describes the model for summaries.
func (v *VGG) Spec() layers.LayerSpec {
	var count int64
	for _, p := range v.Parameters() {
		count += int64(len(p.Grad))
	}
	return layers.LayerSpec{
		Type:           layers.SequentialLayer,
		Name:           v.cfg.Name,
		Parameters:     map[string]interface{}{"num_classes": v.numClass},
		ParameterCount: count,
	}
}

// Summary prints every leaf layer with its configuration.
func (v *VGG) Summary() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s (num_classes=%d)\n", strings.ToUpper(v.cfg.Name), v.numClass))
	sb.WriteString(layers.Describe(v, "").Summary())
	return sb.String()
}

// StateDict copies every parameter into a name-keyed map.
func (v *VGG) StateDict() map[string]checkpoints.Tensor {
	sd := make(map[string]checkpoints.Tensor)
	for _, p := range v.NamedParameters() {
		data := make([]float32, len(p.Data()))
		copy(data, p.Data())
		sd[p.Name] = checkpoints.Tensor{Shape: p.Shape(), Data: data}
	}
	return sd
}

// LoadStateDict copies matching tensors into the model. With strict set,
// missing or unexpected keys are errors; shape mismatches always are.
func (v *VGG) LoadStateDict(sd map[string]checkpoints.Tensor, strict bool) error {
	seen := make(map[string]bool, len(sd))
	var missing []string
	for _, p := range v.NamedParameters() {
		t, ok := sd[p.Name]
		if !ok {
			missing = append(missing, p.Name)
			continue
		}
		seen[p.Name] = true
		if !sameShape(t.Shape, p.Shape()) {
			return errors.Wrapf(layers.ErrShapeMismatch, "%s: checkpoint %v, model %v", p.Name, t.Shape, p.Shape())
		}
		copy(p.Data(), t.Data)
	}
	if !strict {
		return nil
	}
	if len(missing) > 0 {
		return errors.Errorf("missing keys in state dict: %s", strings.Join(missing, ", "))
	}
	var unexpected []string
	for name := range sd {
		if !seen[name] {
			unexpected = append(unexpected, name)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return errors.Errorf("unexpected keys in state dict: %s", strings.Join(unexpected, ", "))
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
