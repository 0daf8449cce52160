package cmd

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/config"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/training"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/data"
)

var rootDescription = "train, test and score a VGG19 face liveness classifier."

var cfgFile string

// rootFlagKeys maps config keys to persistent flag names.
var rootFlagKeys = map[string]string{
	"log_level":         "log-level",
	"log_format":        "log-format",
	"device":            "device",
	"metrics_file":      "metrics-file",
	"data.train_path":   "train-path",
	"data.val_path":     "val-path",
	"data.test_path":    "test-path",
	"data.batch_size":   "batch-size",
	"data.image_size":   "image-size",
	"data.num_workers":  "num-workers",
	"model.num_classes": "num-classes",
}

var rootCmd = &cobra.Command{
	Use:               "liveness",
	Short:             rootDescription,
	Long:              rootDescription,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(viper.GetString("log_level"), viper.GetString("log_format"))
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("liveness failed")
		os.Exit(1)
	}
}

func init() {
	defaults := config.Default()

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("device", defaults.Device, "device to run on; only cpu is available")
	flags.String("metrics-file", defaults.MetricsFile, "Prometheus textfile written after every epoch and test pass")
	flags.String("train-path", defaults.Data.TrainPath, "training image folder")
	flags.String("val-path", defaults.Data.ValPath, "validation image folder")
	flags.String("test-path", defaults.Data.TestPath, "test image folder")
	flags.Int("batch-size", defaults.Data.BatchSize, "samples per batch")
	flags.Int("image-size", defaults.Data.ImageSize, "square input edge in pixels")
	flags.Int("num-workers", defaults.Data.NumWorkers, "parallel image decodes")
	flags.Int("num-classes", defaults.Model.NumClasses, "classifier width")

	if err := bindFlags(flags, rootFlagKeys); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(trainCmd, testCmd, videoCmd, configCmd)
}

// bindFlags ties config keys to flags; an explicitly set flag beats the
// config file and the environment. Subcommands bind in PreRunE because
// some of them share config keys.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return errors.Wrapf(err, "bind flag %s", name)
		}
	}
	return nil
}

func setupLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "log level")
	}
	log.SetLevel(lvl)
	switch format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format %q", format)
	}
	log.SetOutput(os.Stderr)
	return nil
}

func loadConfig() (config.Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	return config.Load(viper.GetViper())
}

// newRun loads the configuration and builds a run over the given splits.
func newRun(splits ...training.Split) (*training.RunModel, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	dc, err := cfg.DataConfig()
	if err != nil {
		return nil, cfg, err
	}
	ld, err := data.New(dc)
	if err != nil {
		return nil, cfg, err
	}
	rc, err := cfg.RunConfig()
	if err != nil {
		return nil, cfg, err
	}
	run, err := training.NewRunModel(rc, ld, training.WithSplits(splits...))
	return run, cfg, err
}
