package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wyattbram/video-analysis-service/internal/domain/entity"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.AnalysisJob) error {
	query := `
		INSERT INTO analysis_jobs (
			id, user_id, video_key, report_key, status,
			interval_seconds, max_frames, frames_processed, total_count, failed_frames,
			file_size, video_duration, attempt, max_attempts,
			error_message, created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`

	_, err := r.pool.Exec(ctx, query,
		job.ID, job.UserID, job.VideoKey, job.ReportKey, string(job.Status),
		job.IntervalSeconds, job.MaxFrames, job.FramesProcessed, job.TotalCount, job.FailedFrames,
		job.FileSize, job.VideoDuration, job.Attempt, job.MaxAttempts,
		job.ErrorMessage, job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Update(ctx context.Context, job *entity.AnalysisJob) error {
	query := `
		UPDATE analysis_jobs SET
			status=$2, report_key=$3, frames_processed=$4, total_count=$5,
			failed_frames=$6, video_duration=$7, attempt=$8,
			error_message=$9, updated_at=$10, completed_at=$11
		WHERE id=$1`

	_, err := r.pool.Exec(ctx, query,
		job.ID, string(job.Status), job.ReportKey, job.FramesProcessed,
		job.TotalCount, job.FailedFrames, job.VideoDuration, job.Attempt,
		job.ErrorMessage, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.AnalysisJob, error) {
	query := `
		SELECT id, user_id, video_key, report_key, status,
			interval_seconds, max_frames, frames_processed, total_count, failed_frames,
			file_size, video_duration, attempt, max_attempts,
			error_message, created_at, updated_at, completed_at
		FROM analysis_jobs WHERE id=$1`

	job := &entity.AnalysisJob{}
	var status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.VideoKey, &job.ReportKey, &status,
		&job.IntervalSeconds, &job.MaxFrames, &job.FramesProcessed, &job.TotalCount, &job.FailedFrames,
		&job.FileSize, &job.VideoDuration, &job.Attempt, &job.MaxAttempts,
		&job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	job.Status = entity.JobStatus(status)
	return job, nil
}

// SaveReport upserts the aggregated report for a job, with the per-frame
// breakdown as JSONB.
func (r *JobRepository) SaveReport(ctx context.Context, jobID uuid.UUID, report *entity.Report) error {
	frameResults, err := json.Marshal(report.FrameResults)
	if err != nil {
		return fmt.Errorf("marshal frame results: %w", err)
	}

	query := `
		INSERT INTO analysis_reports (
			job_id, frames_processed, total_garbage_count, average_garbage_count,
			failed_frame_count, partial, frame_results, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (job_id) DO UPDATE SET
			frames_processed=EXCLUDED.frames_processed,
			total_garbage_count=EXCLUDED.total_garbage_count,
			average_garbage_count=EXCLUDED.average_garbage_count,
			failed_frame_count=EXCLUDED.failed_frame_count,
			partial=EXCLUDED.partial,
			frame_results=EXCLUDED.frame_results`

	_, err = r.pool.Exec(ctx, query,
		jobID, report.FramesProcessed, report.TotalGarbageCount, report.AverageGarbageCount,
		report.FailedFrameCount, report.Partial, frameResults,
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}
