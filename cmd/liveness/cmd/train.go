package cmd

import (
	"github.com/spf13/cobra"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/config"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/training"
)

var trainDescription = "train on the train split, validate every epoch and save a checkpoint."

var trainFlagKeys = map[string]string{
	"train.epochs":              "epochs",
	"train.save_path":           "save-path",
	"train.weight_file":         "weight-file",
	"train.resume":              "resume",
	"train.checkpoint_format":   "checkpoint-format",
	"model.pretrained_path":     "pretrained",
	"optim.lr":                  "lr",
	"optim.weight_decay":        "weight-decay",
	"optim.momentum":            "momentum",
	"optim.scheduler.enabled":   "scheduler",
	"optim.scheduler.step_size": "step-size",
	"optim.scheduler.gamma":     "gamma",
	"train.log_policy":          "log-policy",
}

var trainCmd = &cobra.Command{
	Use:               "train [flags]",
	Short:             trainDescription,
	Long:              trainDescription,
	Args:              cobra.NoArgs,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd.Flags(), trainFlagKeys)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		run, cfg, err := newRun(training.SplitTrain, training.SplitVal)
		if err != nil {
			return err
		}
		if cfg.Train.Resume != "" {
			if err := run.LoadWeights(cfg.Train.Resume); err != nil {
				return err
			}
		}
		return run.Train(cfg.Train.Epochs, cfg.Train.SavePath, cfg.Train.WeightFile)
	},
}

func init() {
	defaults := config.Default()

	flags := trainCmd.Flags()
	flags.Int("epochs", defaults.Train.Epochs, "number of epochs")
	flags.String("save-path", defaults.Train.SavePath, "checkpoint directory")
	flags.String("weight-file", defaults.Train.WeightFile, "checkpoint file name, overwritten every epoch")
	flags.String("resume", defaults.Train.Resume, "checkpoint to continue from")
	flags.String("checkpoint-format", defaults.Train.CheckpointFormat, "proto or json")
	flags.String("pretrained", defaults.Model.PretrainedPath, "ImageNet VGG19 checkpoint to start from")
	flags.Float64("lr", defaults.Optim.LR, "learning rate")
	flags.Float64("weight-decay", defaults.Optim.WeightDecay, "L2 penalty")
	flags.Float64("momentum", defaults.Optim.Momentum, "SGD momentum")
	flags.Bool("scheduler", defaults.Optim.Scheduler.Enabled, "decay the learning rate every step-size epochs")
	flags.Int("step-size", defaults.Optim.Scheduler.StepSize, "epochs between decays")
	flags.Float64("gamma", defaults.Optim.Scheduler.Gamma, "decay factor")
	flags.String("log-policy", defaults.Train.LogPolicy, "every-n, skip-every-n or always")
}
