package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/wyattbram/video-analysis-service/internal/domain/entity"
	"github.com/wyattbram/video-analysis-service/internal/domain/port"
	"github.com/wyattbram/video-analysis-service/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type AnalyzeVideoUseCase struct {
	repo      port.JobRepository
	storage   port.VideoStorage
	sampler   port.FrameSampler
	detector  port.FrameDetector
	publisher port.StatusPublisher
	dlq       port.DLQPublisher
	notifier  port.FailureNotifier
	logger    *zap.Logger
	cfg       AnalyzeVideoConfig
}

type AnalyzeVideoConfig struct {
	TempDir     string
	MaxRetries  int
	WorkerURL   string
	Concurrency int

	FrameRetries    int
	FrameRetryDelay time.Duration

	DefaultInterval  float64
	DefaultMaxFrames int

	FailFastOnTotalFailure bool

	// PipelineTimeout > 0 bounds one whole run; per-attempt timeouts live
	// in the detection client.
	PipelineTimeout time.Duration
}

// AnalyzeRequest is the pipeline entrypoint input: a local video handle plus
// sampling and dispatch parameters. Zero-valued overrides fall back to the
// use case configuration.
type AnalyzeRequest struct {
	VideoPath       string
	VideoName       string
	IntervalSeconds float64
	MaxFrames       int
	WorkerURL       string
	Concurrency     int
	FrameRetries    int
}

func NewAnalyzeVideoUseCase(
	repo port.JobRepository,
	storage port.VideoStorage,
	sampler port.FrameSampler,
	detector port.FrameDetector,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg AnalyzeVideoConfig,
) *AnalyzeVideoUseCase {
	return &AnalyzeVideoUseCase{
		repo:      repo,
		storage:   storage,
		sampler:   sampler,
		detector:  detector,
		publisher: publisher,
		dlq:       dlq,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
	}
}

// Analyze runs the core pipeline for one video already on local disk:
// sample frames, fan them out to the detection worker, aggregate the
// outcomes. Sampler failures abort the run; per-frame failures are absorbed
// into the report.
func (uc *AnalyzeVideoUseCase) Analyze(ctx context.Context, req AnalyzeRequest) (*entity.Report, error) {
	tracer := otel.Tracer("usecase")

	interval := req.IntervalSeconds
	if interval == 0 {
		interval = uc.cfg.DefaultInterval
	}
	maxFrames := req.MaxFrames
	if maxFrames == 0 {
		maxFrames = uc.cfg.DefaultMaxFrames
	}

	sampleStart := time.Now()
	ctxSample, spanSample := tracer.Start(ctx, "sample_frames")
	frameSet, err := uc.sampler.Sample(ctxSample, req.VideoPath, entity.SampleSpec{
		IntervalSeconds: interval,
		MaxFrames:       maxFrames,
	})
	spanSample.End()
	if err != nil {
		return nil, err
	}
	defer frameSet.Release()
	metrics.JobProcessingDuration.WithLabelValues("sample").Observe(time.Since(sampleStart).Seconds())
	metrics.FramesSampledTotal.Add(float64(len(frameSet.Frames)))

	endpoint := req.WorkerURL
	if endpoint == "" {
		endpoint = uc.cfg.WorkerURL
	}
	concurrency := req.Concurrency
	if concurrency == 0 {
		concurrency = uc.cfg.Concurrency
	}
	retries := req.FrameRetries
	if retries == 0 {
		retries = uc.cfg.FrameRetries
	}

	detectStart := time.Now()
	ctxDetect, spanDetect := tracer.Start(ctx, "detect_frames")
	spanDetect.SetAttributes(attribute.Int("frames", len(frameSet.Frames)))
	dispatcher := NewDispatcher(uc.detector, DispatchConfig{
		Endpoint:               endpoint,
		Concurrency:            concurrency,
		FrameRetries:           retries,
		RetryBaseDelay:         uc.cfg.FrameRetryDelay,
		FailFastOnTotalFailure: uc.cfg.FailFastOnTotalFailure,
	}, uc.logger)
	result, err := dispatcher.Run(ctxDetect, frameSet.Frames)
	spanDetect.End()
	if err != nil {
		return nil, err
	}
	metrics.JobProcessingDuration.WithLabelValues("detect").Observe(time.Since(detectStart).Seconds())

	report, err := entity.Aggregate(result.Outcomes, result.Partial)
	if err != nil {
		return nil, err
	}
	report.Video = req.VideoName
	report.StepSeconds = interval
	report.VideoDuration = frameSet.VideoDuration

	return report, nil
}

// Execute handles one queue delivery end to end. Poison messages go to the
// DLQ instead of being retried; pipeline failures are retried via requeue
// until the job's attempts run out.
func (uc *AnalyzeVideoUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "AnalyzeVideoUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.VideoAnalysisMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("video_key", msg.VideoKey))

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	if err != nil {
		job = entity.NewAnalysisJob(msg.UserID, msg.VideoKey, msg.FileSize,
			msg.IntervalSeconds, msg.MaxFrames, uc.cfg.MaxRetries)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	}

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		_ = uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded")
		return nil
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.runPipeline(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	metrics.JobProcessingDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	return nil
}

func (uc *AnalyzeVideoUseCase) runPipeline(
	ctx context.Context,
	job *entity.AnalysisJob,
	msg entity.VideoAnalysisMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.cfg.TempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	dlStart := time.Now()
	ctxDl, spanDl := tracer.Start(ctx, "download_video")
	videoPath := filepath.Join(workDir, "input.mp4")
	if err := uc.storage.DownloadVideo(ctxDl, msg.VideoKey, videoPath); err != nil {
		spanDl.End()
		log.Error("failed to download video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_video: "+err.Error(), log)
	}
	spanDl.End()
	metrics.JobProcessingDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	runCtx := ctx
	if uc.cfg.PipelineTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, uc.cfg.PipelineTimeout)
		defer cancel()
	}

	report, err := uc.Analyze(runCtx, AnalyzeRequest{
		VideoPath:       videoPath,
		VideoName:       filepath.Base(msg.VideoKey),
		IntervalSeconds: msg.IntervalSeconds,
		MaxFrames:       msg.MaxFrames,
	})
	if err != nil {
		log.Error("video analysis failed", zap.Error(err))
		// A bad sampling interval repeats identically on every retry.
		if errors.Is(err, entity.ErrInvalidConfiguration) {
			return uc.handlePermanentFailure(ctx, job, msg, rawMsg, "analyze: "+err.Error())
		}
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "analyze: "+err.Error(), log)
	}

	if err := uc.repo.SaveReport(ctx, job.ID, report); err != nil {
		log.Error("failed to persist report", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "save_report: "+err.Error(), log)
	}

	upStart := time.Now()
	ctxUp, spanUp := tracer.Start(ctx, "upload_report")
	reportKey := fmt.Sprintf("%s/report_%s.json", msg.UserID, job.ID.String())
	reportJSON, err := json.Marshal(report)
	if err != nil {
		spanUp.End()
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := uc.storage.UploadReport(ctxUp, reportKey, bytes.NewReader(reportJSON), int64(len(reportJSON))); err != nil {
		spanUp.End()
		log.Error("report upload failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "upload_report: "+err.Error(), log)
	}
	spanUp.End()
	metrics.JobProcessingDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	job.MarkCompleted(reportKey, report, report.VideoDuration)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}

	uc.publishStatus(ctx, job, log)

	log.Info("job completed",
		zap.Int("frames_processed", report.FramesProcessed),
		zap.Int("total_garbage_count", report.TotalGarbageCount),
		zap.Int("failed_frames", report.FailedFrameCount),
		zap.Bool("partial", report.Partial),
		zap.String("report_key", reportKey),
	)

	return nil
}

func (uc *AnalyzeVideoUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.AnalysisJob,
	msg entity.VideoAnalysisMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg)
	}

	metrics.JobRetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *AnalyzeVideoUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.AnalysisJob,
	msg entity.VideoAnalysisMessage,
	rawMsg []byte,
	errMsg string,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, job, uc.logger)

	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), msg.VideoKey, errMsg)
	}

	return nil
}

func (uc *AnalyzeVideoUseCase) publishStatus(ctx context.Context, job *entity.AnalysisJob, log *zap.Logger) {
	statusMsg := entity.AnalysisStatusMessage{
		JobID:           job.ID,
		UserID:          job.UserID,
		Status:          job.Status,
		VideoKey:        job.VideoKey,
		ReportKey:       job.ReportKey,
		FramesProcessed: job.FramesProcessed,
		TotalCount:      job.TotalCount,
		FailedFrames:    job.FailedFrames,
		Duration:        job.VideoDuration,
		ErrorMessage:    job.ErrorMessage,
		Attempt:         job.Attempt,
		MaxAttempts:     job.MaxAttempts,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
