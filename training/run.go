// Package training drives the liveness classifier: per-epoch training with
// validation and checkpointing, test-set scoring to CSV and per-video
// scoring.
package training

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/checkpoints"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/device"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/models"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/optimizer"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/data"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/dataloader"
)

// Version is written into checkpoint metadata.
const Version = "1.0.0"

// Split names a dataset split.
type Split string

const (
	SplitTrain Split = "train"
	SplitVal   Split = "val"
	SplitTest  Split = "test"
)

// SchedulerConfig enables a step-decay learning-rate schedule.
type SchedulerConfig struct {
	Enabled  bool
	StepSize int
	Gamma    float64
	// Advance steps the schedule after every validation pass. When false
	// the schedule is built but the rate never changes.
	Advance bool
}

// RunConfig is fixed for the lifetime of a RunModel.
type RunConfig struct {
	Device         string
	NumClasses     int
	PretrainedPath string
	Seed           int64
	// Model overrides the VGG19 layout when set.
	Model *models.VGGConfig

	Optim     optimizer.SGDConfig
	Scheduler SchedulerConfig

	LogPolicy        LogPolicy
	TrainLogInterval int
	EvalLogInterval  int

	CheckpointFormat checkpoints.CheckpointFormat
	// PositiveClass is the class index whose probability is the liveness
	// score.
	PositiveClass int
	// MetricsFile receives a Prometheus textfile dump after every epoch and
	// test pass when set.
	MetricsFile string
}

// DefaultRunConfig returns two classes on the CPU, SGD at 0.01 and log
// refreshes every 250 training and 200 evaluation steps.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Device:           "cpu",
		NumClasses:       2,
		Optim:            optimizer.DefaultSGDConfig(),
		Scheduler:        SchedulerConfig{StepSize: 10, Gamma: 0.1, Advance: true},
		LogPolicy:        EveryN,
		TrainLogInterval: 250,
		EvalLogInterval:  200,
		CheckpointFormat: checkpoints.FormatProto,
		PositiveClass:    1,
	}
}

// Validate checks the run configuration.
func (c RunConfig) Validate() error {
	if c.NumClasses <= 0 {
		return errors.Errorf("number of classes must be positive, got %d", c.NumClasses)
	}
	if c.PositiveClass < 0 || c.PositiveClass >= c.NumClasses {
		return errors.Errorf("positive class %d out of range [0, %d)", c.PositiveClass, c.NumClasses)
	}
	if err := c.Optim.Validate(); err != nil {
		return err
	}
	if c.Scheduler.Enabled {
		if _, err := NewStepLRScheduler(c.Scheduler.StepSize, c.Scheduler.Gamma); err != nil {
			return err
		}
	}
	return nil
}

// DataSource supplies the loaders a run consumes.
type DataSource interface {
	Config() data.Config
	TrainLoader() (*dataloader.DataLoader, error)
	ValLoader() (*dataloader.DataLoader, error)
	TestLoader() (*dataloader.DataLoader, error)
	TestVideoLoader() (*data.VideoSet, error)
}

// EpochMetrics summarizes one epoch.
type EpochMetrics struct {
	Epoch        int
	LearningRate float64
	TrainLoss    float64
	TrainAcc     float64
	ValLoss      float64
	ValAcc       float64
	Duration     time.Duration
}

// Option customizes a RunModel.
type Option func(*RunModel)

// WithOutput sends progress bars to w instead of stderr.
func WithOutput(w io.Writer) Option {
	return func(r *RunModel) { r.out = w }
}

// WithSplits restricts which loaders are built. All three are built by
// default.
func WithSplits(splits ...Split) Option {
	return func(r *RunModel) { r.splits = splits }
}

// WithRecorder replaces the default telemetry recorder.
func WithRecorder(rec *Recorder) Option {
	return func(r *RunModel) { r.recorder = rec }
}

// RunModel owns the model, optimizer, loss, schedule and loaders of one run.
type RunModel struct {
	cfg      RunConfig
	runID    string
	device   device.Device
	data     DataSource
	model    *models.VGG
	opt      *optimizer.SGD
	loss     Loss
	schedule *Schedule

	train, val, test *dataloader.DataLoader

	splits   []Split
	out      io.Writer
	recorder *Recorder
	logger   *log.Entry
	history  []EpochMetrics
}

// NewRunModel builds everything a run needs and logs the device and the
// dataset sizes.
func NewRunModel(cfg RunConfig, src DataSource, opts ...Option) (*RunModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid run configuration")
	}
	dev, err := device.Resolve(cfg.Device)
	if err != nil {
		return nil, err
	}

	r := &RunModel{
		cfg:    cfg,
		runID:  uuid.NewString(),
		device: dev,
		data:   src,
		splits: []Split{SplitTrain, SplitVal, SplitTest},
		out:    os.Stderr,
		loss:   NewCrossEntropyLoss(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.recorder == nil {
		r.recorder = NewRecorder(r.runID)
	}
	r.logger = log.WithField("run_id", r.runID)

	modelCfg := models.VGG19Config()
	if cfg.Model != nil {
		modelCfg = *cfg.Model
	}
	r.model, err = models.NewVGG(modelCfg, cfg.NumClasses, models.Options{
		PretrainedPath: cfg.PretrainedPath,
		Seed:           cfg.Seed,
	})
	if err != nil {
		return nil, errors.Wrap(err, "build model")
	}

	r.opt, err = optimizer.NewSGD(r.model.NamedParameters(), cfg.Optim)
	if err != nil {
		return nil, errors.Wrap(err, "build optimizer")
	}
	if cfg.Scheduler.Enabled {
		step, err := NewStepLRScheduler(cfg.Scheduler.StepSize, cfg.Scheduler.Gamma)
		if err != nil {
			return nil, err
		}
		r.schedule = NewSchedule(step, r.opt)
	}

	for _, split := range r.splits {
		if err := r.buildLoader(split); err != nil {
			return nil, err
		}
	}

	r.logger.WithField("device", dev.String()).Info("Device use")
	fields := log.Fields{}
	for _, s := range []struct {
		name Split
		dl   *dataloader.DataLoader
	}{{SplitTrain, r.train}, {SplitVal, r.val}, {SplitTest, r.test}} {
		if s.dl != nil {
			fields[string(s.name)] = s.dl.NumSamples()
		}
	}
	r.logger.WithFields(fields).Info("Done load dataset")
	return r, nil
}

func (r *RunModel) buildLoader(split Split) error {
	var err error
	switch split {
	case SplitTrain:
		r.train, err = r.data.TrainLoader()
	case SplitVal:
		r.val, err = r.data.ValLoader()
	case SplitTest:
		r.test, err = r.data.TestLoader()
	default:
		return errors.Errorf("unknown split %q", split)
	}
	return errors.Wrapf(err, "load %s data", split)
}

// RunID returns the identifier stamped on checkpoints and metrics.
func (r *RunModel) RunID() string { return r.runID }

// Model returns the classifier being trained.
func (r *RunModel) Model() *models.VGG { return r.model }

// Optimizer returns the SGD optimizer.
func (r *RunModel) Optimizer() *optimizer.SGD { return r.opt }

// Recorder returns the telemetry recorder.
func (r *RunModel) Recorder() *Recorder { return r.recorder }

// History returns the metrics of every finished epoch.
func (r *RunModel) History() []EpochMetrics {
	out := make([]EpochMetrics, len(r.history))
	copy(out, r.history)
	return out
}

// Train runs epochs rounds of train, validate, optional schedule step and
// checkpoint save to savePath/weightFile. The checkpoint is overwritten
// every epoch.
func (r *RunModel) Train(epochs int, savePath, weightFile string) error {
	if epochs <= 0 {
		return errors.Errorf("epochs must be positive, got %d", epochs)
	}
	if r.train == nil || r.val == nil {
		return errors.New("train and val loaders are required for training")
	}
	if savePath != "" {
		if err := os.MkdirAll(savePath, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", savePath)
		}
	}
	target := filepath.Join(savePath, weightFile)

	for epoch := 1; epoch <= epochs; epoch++ {
		start := time.Now()
		lr := r.opt.LR()

		trainM, err := r.trainOneEpoch(epoch, epochs, lr)
		if err != nil {
			return errors.Wrapf(err, "epoch %d train", epoch)
		}
		valM, err := r.evaluate(r.val, ValidDescription(epoch, epochs, lr), nil)
		if err != nil {
			return errors.Wrapf(err, "epoch %d validation", epoch)
		}

		if r.schedule != nil && r.cfg.Scheduler.Advance {
			next := r.schedule.Step()
			r.logger.WithFields(log.Fields{"epoch": epoch, "lr": next}).Debug("Learning rate scheduled")
		}

		em := EpochMetrics{
			Epoch:        epoch,
			LearningRate: lr,
			TrainLoss:    trainM.Loss(),
			TrainAcc:     trainM.Acc(),
			ValLoss:      valM.Loss(),
			ValAcc:       valM.Acc(),
			Duration:     time.Since(start),
		}
		if err := r.saveCheckpoint(target, em); err != nil {
			return errors.Wrapf(err, "epoch %d checkpoint", epoch)
		}
		r.history = append(r.history, em)

		r.recorder.ObservePass(string(SplitTrain), trainM)
		r.recorder.ObservePass(string(SplitVal), valM)
		r.recorder.ObserveEpoch(epoch, r.opt.LR())
		if err := r.recorder.WriteToTextfile(r.cfg.MetricsFile); err != nil {
			r.logger.WithError(err).Warn("Metrics dump failed")
		}

		r.logger.WithFields(log.Fields{
			"epoch":      epoch,
			"train_loss": fmt.Sprintf("%.4f", em.TrainLoss),
			"train_acc":  fmt.Sprintf("%.4f", em.TrainAcc),
			"val_loss":   fmt.Sprintf("%.4f", em.ValLoss),
			"val_acc":    fmt.Sprintf("%.4f", em.ValAcc),
			"path":       target,
		}).Info("Epoch finished")
	}
	return nil
}

func (r *RunModel) trainOneEpoch(epoch, epochs int, lr float64) (*RunningMetrics, error) {
	r.model.Train()
	r.train.Reset()

	bar := NewProgressBar(r.out, EpochDescription(epoch, epochs, lr, "Train"), r.train.Len())
	m := &RunningMetrics{}
	for step := 0; ; step++ {
		batch, err := r.train.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		r.opt.ZeroGrad()
		logits, err := r.model.Forward(batch.Images)
		if err != nil {
			return nil, errors.Wrap(err, "forward")
		}
		loss, err := r.loss.Forward(logits, batch.Labels)
		if err != nil {
			return nil, err
		}
		grad, err := r.loss.Backward()
		if err != nil {
			return nil, err
		}
		if _, err := r.model.Backward(grad); err != nil {
			return nil, errors.Wrap(err, "backward")
		}
		correct, err := Accuracy(logits, batch.Labels)
		if err != nil {
			return nil, err
		}
		if err := r.opt.Step(); err != nil {
			return nil, errors.Wrap(err, "optimizer step")
		}

		m.Update(loss, correct, batch.Size())
		r.progress(bar, step, r.cfg.TrainLogInterval, m)
	}
	bar.Update(r.train.Len(), map[string]float64{"acc": m.Acc(), "loss": m.Loss()})
	bar.Finish()
	return m, nil
}

// batchSink receives every evaluated batch together with its softmax
// probabilities.
type batchSink func(batch *dataloader.Batch, probs []float32, classes int) error

func (r *RunModel) evaluate(dl *dataloader.DataLoader, desc string, sink batchSink) (*RunningMetrics, error) {
	r.model.Eval()
	dl.Reset()

	bar := NewProgressBar(r.out, desc, dl.Len())
	m := &RunningMetrics{}
	for step := 0; ; step++ {
		batch, err := dl.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		logits, err := r.model.Forward(batch.Images)
		if err != nil {
			return nil, errors.Wrap(err, "forward")
		}
		loss, err := r.loss.Forward(logits, batch.Labels)
		if err != nil {
			return nil, err
		}
		correct, err := Accuracy(logits, batch.Labels)
		if err != nil {
			return nil, err
		}
		m.Update(loss, correct, batch.Size())

		if sink != nil {
			probs, err := softmaxData(logits)
			if err != nil {
				return nil, err
			}
			if err := sink(batch, probs, r.cfg.NumClasses); err != nil {
				return nil, err
			}
		}
		r.progress(bar, step, r.cfg.EvalLogInterval, m)
	}
	bar.Update(dl.Len(), map[string]float64{"acc": m.Acc(), "loss": m.Loss()})
	bar.Finish()
	return m, nil
}

func (r *RunModel) progress(bar *ProgressBar, step, interval int, m *RunningMetrics) {
	if r.cfg.LogPolicy.ShouldLog(step, interval) {
		bar.Update(step+1, map[string]float64{"acc": m.Acc(), "loss": m.Loss()})
		return
	}
	bar.Update(step+1, nil)
}

func (r *RunModel) saveCheckpoint(path string, em EpochMetrics) error {
	ckpt := &checkpoints.Checkpoint{
		StateDict: r.model.StateDict(),
		Optimizer: r.opt.GetState(),
		Metadata: checkpoints.Metadata{
			RunID:        r.runID,
			Architecture: r.model.Config().Name,
			NumClasses:   r.cfg.NumClasses,
			Epoch:        em.Epoch,
			LearningRate: em.LearningRate,
			TrainLoss:    em.TrainLoss,
			TrainAcc:     em.TrainAcc,
			ValLoss:      em.ValLoss,
			ValAcc:       em.ValAcc,
			Framework:    "liveness",
			Version:      Version,
			CreatedAt:    time.Now().UTC(),
		},
	}
	return checkpoints.Save(path, ckpt, r.cfg.CheckpointFormat)
}

// LoadWeights restores model weights from a checkpoint written by Train.
// Momentum buffers are restored too when the checkpoint carries them; the
// configured SGD settings are kept. An advancing schedule continues from
// the checkpoint's epoch.
func (r *RunModel) LoadWeights(path string) error {
	ckpt, err := checkpoints.Load(path)
	if err != nil {
		return err
	}
	if err := r.model.LoadStateDict(ckpt.StateDict, true); err != nil {
		return errors.Wrapf(err, "load weights from %s", path)
	}
	if ckpt.Optimizer != nil {
		if err := r.opt.LoadState(ckpt.Optimizer); err != nil {
			return errors.Wrapf(err, "load optimizer state from %s", path)
		}
	}
	if r.schedule != nil && r.cfg.Scheduler.Advance {
		r.schedule.Resume(ckpt.Metadata.Epoch)
	}
	r.logger.WithFields(log.Fields{"path": path, "epoch": ckpt.Metadata.Epoch, "lr": r.opt.LR()}).Info("Weights loaded")
	return nil
}
