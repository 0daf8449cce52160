package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/config"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/video"
)

var videoDescription = "score every video of the video test folder by averaging frame scores."

var videoFlagKeys = map[string]string{
	"data.test_video_path": "video-path",
	"test.weights":         "weights",
	"video.ffmpeg":         "ffmpeg",
	"video.fps":            "fps",
	"video.max_frames":     "max-frames",
	"video.results_csv":    "results-csv",
}

var videoCmd = &cobra.Command{
	Use:               "video [flags]",
	Short:             videoDescription,
	Long:              videoDescription,
	Args:              cobra.NoArgs,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd.Flags(), videoFlagKeys)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		run, cfg, err := newRun()
		if err != nil {
			return err
		}
		if cfg.Test.Weights == "" {
			return errors.New("test.weights is not set")
		}
		if err := run.LoadWeights(cfg.Test.Weights); err != nil {
			return err
		}
		extractor := &video.FFmpegExtractor{
			Binary:    cfg.Video.FFmpeg,
			FPS:       cfg.Video.FPS,
			MaxFrames: cfg.Video.MaxFrames,
		}
		_, err = run.ScoreVideos(cmd.Context(), extractor, cfg.Video.ResultsCSV)
		return err
	},
}

func init() {
	defaults := config.Default()

	flags := videoCmd.Flags()
	flags.String("video-path", defaults.Data.TestVideoPath, "folder of videos to score")
	flags.String("weights", defaults.Test.Weights, "checkpoint to score with")
	flags.String("ffmpeg", defaults.Video.FFmpeg, "ffmpeg binary")
	flags.Float64("fps", defaults.Video.FPS, "frames sampled per second of video")
	flags.Int("max-frames", defaults.Video.MaxFrames, "frames per video, 0 for all")
	flags.String("results-csv", defaults.Video.ResultsCSV, "output CSV")
}
