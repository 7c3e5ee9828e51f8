package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/wyattbram/video-analysis-service/internal/domain/entity"
	"go.uber.org/zap"
)

// Sampler extracts one still image per IntervalSeconds of video using the
// ffmpeg fps filter. Frame count rounding for durations that are not an
// exact multiple of the interval is delegated to ffmpeg, which floors.
type Sampler struct {
	format  string
	tempDir string
	logger  *zap.Logger

	// Overridable for tests.
	ffmpegBin  string
	ffprobeBin string
}

func NewSampler(format, tempDir string, logger *zap.Logger) *Sampler {
	return &Sampler{
		format:     format,
		tempDir:    tempDir,
		logger:     logger,
		ffmpegBin:  "ffmpeg",
		ffprobeBin: "ffprobe",
	}
}

func (s *Sampler) Sample(ctx context.Context, videoPath string, spec entity.SampleSpec) (*entity.FrameSet, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("%w: %s", entity.ErrSourceNotFound, videoPath)
	}

	duration, err := s.videoDuration(ctx, videoPath)
	if err != nil {
		s.logger.Warn("could not get video duration", zap.Error(err))
	}

	scratchDir, err := os.MkdirTemp(s.tempDir, "frames_")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	framePattern := filepath.Join(scratchDir, fmt.Sprintf("frame_%%05d.%s", s.format))
	cmd := exec.CommandContext(ctx, s.ffmpegBin,
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%g", spec.IntervalSeconds),
		"-q:v", "2",
		framePattern,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		os.RemoveAll(scratchDir)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v, output: %s", entity.ErrExtractionFailed, err, strings.TrimSpace(string(output)))
	}

	paths, err := filepath.Glob(filepath.Join(scratchDir, fmt.Sprintf("frame_*.%s", s.format)))
	if err != nil {
		os.RemoveAll(scratchDir)
		return nil, fmt.Errorf("glob frames: %w", err)
	}
	if len(paths) == 0 {
		os.RemoveAll(scratchDir)
		return nil, fmt.Errorf("%w: video shorter than one %gs interval?",
			entity.ErrNoFramesProduced, spec.IntervalSeconds)
	}
	sort.Strings(paths)

	// Earliest-timestamp frames are kept when the cap bites.
	truncated := 0
	if spec.MaxFrames > 0 && len(paths) > spec.MaxFrames {
		truncated = len(paths) - spec.MaxFrames
		paths = paths[:spec.MaxFrames]
	}

	frames := make([]entity.Frame, len(paths))
	for i, p := range paths {
		frames[i] = entity.Frame{
			Index:        i + 1,
			TimestampSec: float64(i) * spec.IntervalSeconds,
			Name:         filepath.Base(p),
			Path:         p,
		}
	}

	s.logger.Info("frames sampled",
		zap.Int("count", len(frames)),
		zap.Int("truncated", truncated),
		zap.Float64("interval_seconds", spec.IntervalSeconds),
		zap.Float64("video_duration", duration),
	)

	return entity.NewFrameSet(frames, duration, spec.IntervalSeconds, scratchDir), nil
}

func (s *Sampler) videoDuration(ctx context.Context, videoPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, s.ffprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}
