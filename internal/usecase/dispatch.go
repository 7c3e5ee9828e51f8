package usecase

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/wyattbram/video-analysis-service/internal/domain/entity"
	"github.com/wyattbram/video-analysis-service/internal/domain/port"
	"github.com/wyattbram/video-analysis-service/internal/infra/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher fans frames out to the detection worker under bounded
// concurrency. Each frame writes its outcome into a slot addressed by frame
// index, so output ordering never depends on completion order. One frame's
// failure never aborts the run; only sampler failures (upstream) or the
// optional fail-fast-on-total-failure policy do.
type Dispatcher struct {
	detector port.FrameDetector
	cfg      DispatchConfig
	logger   *zap.Logger
}

type DispatchConfig struct {
	Endpoint string

	// Concurrency bounds in-flight requests. The worker is usually a single
	// GPU-bound process; keep this small.
	Concurrency int

	// FrameRetries is the number of additional attempts per frame on
	// transient failures. Rejections and malformed responses are terminal
	// on the first attempt.
	FrameRetries int

	RetryBaseDelay time.Duration

	// FailFastOnTotalFailure turns an every-frame-failed run into a hard
	// error instead of an all-failure report. Off by default.
	FailFastOnTotalFailure bool
}

// DispatchResult carries index-ordered outcomes. Partial means the run was
// cancelled before every frame resolved; Outcomes then holds only the frames
// that did resolve, still in index order.
type DispatchResult struct {
	Outcomes []entity.FrameOutcome
	Partial  bool
}

func NewDispatcher(detector port.FrameDetector, cfg DispatchConfig, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	return &Dispatcher{detector: detector, cfg: cfg, logger: logger}
}

func (d *Dispatcher) Run(ctx context.Context, frames []entity.Frame) (*DispatchResult, error) {
	slots := make([]entity.FrameOutcome, len(frames))
	resolved := make([]bool, len(frames))

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)

	for i, frame := range frames {
		// No new dispatch may start once cancellation is observed.
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Admission may have raced with cancellation; re-check before
			// the first attempt.
			if ctx.Err() != nil {
				return nil
			}
			outcome, ok := d.dispatchFrame(ctx, frame)
			if ok {
				slots[i] = outcome
				resolved[i] = true
			}
			return nil
		})
	}
	g.Wait()

	outcomes := make([]entity.FrameOutcome, 0, len(frames))
	failed := 0
	for i := range slots {
		if !resolved[i] {
			continue
		}
		outcomes = append(outcomes, slots[i])
		if slots[i].Failed() {
			failed++
		}
	}
	partial := len(outcomes) < len(frames)

	if d.cfg.FailFastOnTotalFailure && !partial && len(outcomes) > 0 && failed == len(outcomes) {
		return nil, entity.ErrAllFramesFailed
	}

	return &DispatchResult{Outcomes: outcomes, Partial: partial}, nil
}

// dispatchFrame runs the attempt sequence for one frame. It returns ok=false
// when the frame was abandoned by cancellation, in which case no outcome is
// recorded for it.
func (d *Dispatcher) dispatchFrame(ctx context.Context, frame entity.Frame) (entity.FrameOutcome, bool) {
	attempts := d.cfg.FrameRetries + 1
	var last *entity.WorkerError

	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		count, err := d.detector.Detect(ctx, d.cfg.Endpoint, frame)
		metrics.FrameDetectionDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.FramesDetectedTotal.WithLabelValues("success").Inc()
			metrics.GarbageDetectedTotal.Add(float64(count))
			return entity.SuccessOutcome(frame, count), true
		}

		if ctx.Err() != nil {
			return entity.FrameOutcome{}, false
		}

		we, ok := entity.AsWorkerError(err)
		if !ok {
			we = &entity.WorkerError{Kind: entity.FailureWorkerUnreachable, Message: err.Error()}
		}
		last = we

		if !we.Retryable() || attempt == attempts {
			break
		}

		delay := d.backoff(attempt)
		d.logger.Warn("frame attempt failed, retrying",
			zap.String("frame", frame.Name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(we),
		)
		metrics.FrameRetryTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return entity.FrameOutcome{}, false
		}
	}

	d.logger.Warn("frame failed",
		zap.String("frame", frame.Name),
		zap.String("kind", string(last.Kind)),
		zap.String("message", last.Message),
	)
	metrics.FramesDetectedTotal.WithLabelValues(string(last.Kind)).Inc()
	return entity.FailureOutcome(frame, last.Kind, last.Message), true
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}
