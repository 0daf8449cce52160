package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/config"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/training"
)

var testDescription = "score the test split with saved weights and write a results CSV."

var testFlagKeys = map[string]string{
	"test.weights":     "weights",
	"test.results_csv": "results-csv",
}

var testCmd = &cobra.Command{
	Use:               "test [flags]",
	Short:             testDescription,
	Long:              testDescription,
	Args:              cobra.NoArgs,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd.Flags(), testFlagKeys)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		run, cfg, err := newRun(training.SplitTest)
		if err != nil {
			return err
		}
		if cfg.Test.Weights == "" {
			return errors.New("test.weights is not set")
		}
		if err := run.LoadWeights(cfg.Test.Weights); err != nil {
			return err
		}
		report, err := run.Test(cfg.Test.ResultsCSV)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "accuracy=%.4f loss=%.4f samples=%d", report.Accuracy, report.Loss, report.Samples)
		if report.HasROC {
			fmt.Fprintf(cmd.OutOrStdout(), " auc=%.4f eer=%.4f", report.AUC, report.EER)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	defaults := config.Default()

	flags := testCmd.Flags()
	flags.String("weights", defaults.Test.Weights, "checkpoint to evaluate")
	flags.String("results-csv", defaults.Test.ResultsCSV, "output CSV")
}
