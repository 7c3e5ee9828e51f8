package port

import (
	"context"

	"github.com/wyattbram/video-analysis-service/internal/domain/entity"
)

// FrameDetector scores one frame against the detection worker and returns the
// object count. Failures come back as *entity.WorkerError so the dispatcher
// can decide retryability. The call is idempotent; retry policy belongs to
// the caller.
type FrameDetector interface {
	Detect(ctx context.Context, endpoint string, frame entity.Frame) (int, error)
}
