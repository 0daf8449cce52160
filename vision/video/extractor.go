// Package video turns video files into still frames for scoring.
package video

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// FrameExtractionResult lists the frames written for one video.
type FrameExtractionResult struct {
	FramePaths    []string
	FrameCount    int
	VideoDuration float64
}

// FrameExtractor writes frames of videoPath into outputDir.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, videoPath string, outputDir string) (*FrameExtractionResult, error)
}

// FFmpegExtractor samples frames with the ffmpeg binary.
type FFmpegExtractor struct {
	// Binary defaults to "ffmpeg" looked up on PATH.
	Binary string
	// FPS is the sampling rate; zero keeps every frame.
	FPS float64
	// MaxFrames stops after that many frames when positive.
	MaxFrames int
}

// ExtractFrames runs ffmpeg and returns the JPEG frames it produced in
// order.
func (e *FFmpegExtractor) ExtractFrames(ctx context.Context, videoPath string, outputDir string) (*FrameExtractionResult, error) {
	bin := e.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create frame dir %s", outputDir)
	}

	args := e.args(videoPath, outputDir)
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.WithFields(log.Fields{"video": videoPath, "out": outputDir}).Debug("extracting frames")
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "ffmpeg %s: %s", videoPath, strings.TrimSpace(stderr.String()))
	}

	frames, err := filepath.Glob(filepath.Join(outputDir, "frame_*.jpg"))
	if err != nil {
		return nil, errors.Wrap(err, "list frames")
	}
	sort.Strings(frames)
	if len(frames) == 0 {
		return nil, errors.Errorf("no frames extracted from %s", videoPath)
	}

	res := &FrameExtractionResult{FramePaths: frames, FrameCount: len(frames)}
	if e.FPS > 0 {
		res.VideoDuration = float64(len(frames)) / e.FPS
	}
	return res, nil
}

func (e *FFmpegExtractor) args(videoPath, outputDir string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y", "-i", videoPath}
	if e.FPS > 0 {
		args = append(args, "-vf", fmt.Sprintf("fps=%g", e.FPS))
	}
	if e.MaxFrames > 0 {
		args = append(args, "-frames:v", fmt.Sprint(e.MaxFrames))
	}
	return append(args, "-q:v", "2", filepath.Join(outputDir, "frame_%05d.jpg"))
}
