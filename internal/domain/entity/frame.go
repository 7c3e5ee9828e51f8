package entity

import (
	"fmt"
	"os"
	"sync"
)

// SampleSpec configures frame sampling for one pipeline run.
type SampleSpec struct {
	// IntervalSeconds is the target spacing between consecutive frames.
	// Must be > 0.
	IntervalSeconds float64

	// MaxFrames, when > 0, caps the sequence to the earliest MaxFrames
	// frames. Truncation is policy, not an error.
	MaxFrames int
}

func (s SampleSpec) Validate() error {
	if s.IntervalSeconds <= 0 {
		return fmt.Errorf("%w: interval_seconds must be > 0, got %v",
			ErrInvalidConfiguration, s.IntervalSeconds)
	}
	if s.MaxFrames < 0 {
		return fmt.Errorf("%w: max_frames must be >= 0, got %d",
			ErrInvalidConfiguration, s.MaxFrames)
	}
	return nil
}

// Frame is one sampled still image. Index is 1-based and dense. The image
// bytes live in the sampler's scratch directory until FrameSet.Release.
type Frame struct {
	Index        int
	TimestampSec float64
	Name         string
	Path         string
}

// Bytes reads the frame image from scratch storage.
func (f Frame) Bytes() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", f.Name, err)
	}
	return data, nil
}

// FrameSet is an ordered frame sequence backed by scratch storage owned by
// the sampler. Release reclaims the storage and is safe to call more than
// once; it must run on every exit path.
type FrameSet struct {
	Frames          []Frame
	VideoDuration   float64
	IntervalSeconds float64

	scratchDir string
	release    sync.Once
}

func NewFrameSet(frames []Frame, duration, interval float64, scratchDir string) *FrameSet {
	return &FrameSet{
		Frames:          frames,
		VideoDuration:   duration,
		IntervalSeconds: interval,
		scratchDir:      scratchDir,
	}
}

func (fs *FrameSet) Release() {
	fs.release.Do(func() {
		if fs.scratchDir != "" {
			os.RemoveAll(fs.scratchDir)
		}
	})
}
