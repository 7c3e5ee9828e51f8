package port

import (
	"context"

	"github.com/wyattbram/video-analysis-service/internal/domain/entity"
)

// FrameSampler turns a video file into an ordered frame sequence, one frame
// per spec.IntervalSeconds of video. The returned FrameSet owns scratch
// storage; callers must Release it on every exit path.
type FrameSampler interface {
	Sample(ctx context.Context, videoPath string, spec entity.SampleSpec) (*entity.FrameSet, error)
}
