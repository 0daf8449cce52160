package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/layers"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/preprocessing"
	"github.com/LamKser/ZaloAI-2022-Pholotino-Liveness-detection/vision/video"
)

// VideoScore is the liveness score of one video.
type VideoScore struct {
	FileName string
	Score    float64
	Frames   int
}

// ScoreVideos extracts frames from every file of the video test directory,
// averages the positive-class probability over the frames and writes
// fname,liveness_score rows to outCSV.
func (r *RunModel) ScoreVideos(ctx context.Context, extractor video.FrameExtractor, outCSV string) ([]VideoScore, error) {
	set, err := r.data.TestVideoLoader()
	if err != nil {
		return nil, err
	}
	tmp, err := os.MkdirTemp("", "liveness-frames-")
	if err != nil {
		return nil, errors.Wrap(err, "create frame directory")
	}
	defer os.RemoveAll(tmp)

	dcfg := r.data.Config()
	r.model.Eval()

	bar := NewProgressBar(r.out, "[Video]", len(set.Files))
	scores := make([]VideoScore, 0, len(set.Files))
	for i, name := range set.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frameDir := filepath.Join(tmp, fmt.Sprintf("%05d", i))
		res, err := extractor.ExtractFrames(ctx, filepath.Join(set.Dir, name), frameDir)
		if err != nil {
			return nil, errors.Wrapf(err, "video %s", name)
		}
		if len(res.FramePaths) == 0 {
			return nil, errors.Errorf("video %s produced no frames", name)
		}

		inputs, err := preprocessing.PreprocessFiles(res.FramePaths, set.Transform, dcfg.Decode, dcfg.NumWorkers)
		if err != nil {
			return nil, errors.Wrapf(err, "video %s", name)
		}
		score, err := r.scoreFrames(inputs, set.Transform.Shape(), dcfg.BatchSize)
		if err != nil {
			return nil, errors.Wrapf(err, "video %s", name)
		}
		scores = append(scores, VideoScore{FileName: name, Score: score, Frames: len(inputs)})
		os.RemoveAll(frameDir)

		bar.Update(i+1, nil)
		log.WithFields(log.Fields{"run_id": r.runID, "video": name, "frames": len(inputs), "score": score}).Debug("Video scored")
	}
	bar.Finish()

	if err := WriteVideoScoresCSV(outCSV, scores); err != nil {
		return nil, err
	}
	r.logger.WithFields(log.Fields{"path": outCSV, "videos": len(scores)}).Info("Saved video results")
	return scores, nil
}

// scoreFrames runs the model over the frames batchSize at a time and
// returns the mean positive-class probability.
func (r *RunModel) scoreFrames(frames [][]float32, sampleShape []int, batchSize int) (float64, error) {
	if batchSize <= 0 {
		batchSize = len(frames)
	}
	per := 1
	for _, d := range sampleShape {
		per *= d
	}

	var sum float64
	for lo := 0; lo < len(frames); lo += batchSize {
		hi := lo + batchSize
		if hi > len(frames) {
			hi = len(frames)
		}
		buf := make([]float32, 0, (hi-lo)*per)
		for _, f := range frames[lo:hi] {
			if len(f) != per {
				return 0, errors.Wrapf(layers.ErrShapeMismatch, "frame has %d values, want %d", len(f), per)
			}
			buf = append(buf, f...)
		}
		shape := append([]int{hi - lo}, sampleShape...)
		logits, err := r.model.Forward(layers.New(shape, buf))
		if err != nil {
			return 0, errors.Wrap(err, "forward")
		}
		probs, err := softmaxData(logits)
		if err != nil {
			return 0, err
		}
		c := r.cfg.NumClasses
		for i := 0; i < hi-lo; i++ {
			sum += float64(probs[i*c+r.cfg.PositiveClass])
		}
	}
	return sum / float64(len(frames)), nil
}

// WriteVideoScoresCSV writes fname,liveness_score rows, replacing any
// existing file.
func WriteVideoScoresCSV(path string, scores []VideoScore) error {
	records := make([][]string, 0, len(scores)+1)
	records = append(records, []string{"fname", "liveness_score"})
	for _, s := range scores {
		records = append(records, []string{s.FileName, strconv.FormatFloat(s.Score, 'f', 6, 64)})
	}
	return writeCSV(path, records)
}
