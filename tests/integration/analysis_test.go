package integration

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/wyattbram/video-analysis-service/internal/domain/entity"
	"github.com/wyattbram/video-analysis-service/internal/infra/email"
	"github.com/wyattbram/video-analysis-service/internal/infra/ffmpeg"
	"github.com/wyattbram/video-analysis-service/internal/infra/inference"
	miniostorage "github.com/wyattbram/video-analysis-service/internal/infra/minio"
	"github.com/wyattbram/video-analysis-service/internal/infra/postgres"
	"github.com/wyattbram/video-analysis-service/internal/infra/rabbitmq"
	"github.com/wyattbram/video-analysis-service/internal/usecase"
	"github.com/wyattbram/video-analysis-service/pkg/logger"
)

type stack struct {
	pgConnStr string
	rmqURL    string
	rmqConn   *amqp.Connection
	pool      *pgxpool.Pool
	storage   *miniostorage.Storage
	minio     *miniogo.Client
	statusPub *rabbitmq.StatusPublisher
	dlqPub    *rabbitmq.DLQPublisher
}

// startStack brings up Postgres, RabbitMQ and MinIO containers, runs the
// migrations and wires the shared infra clients. Containers are torn down
// via t.Cleanup.
func startStack(ctx context.Context, t *testing.T) *stack {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("jobs"),
		tcpostgres.WithUsername("job_user"),
		tcpostgres.WithPassword("job_pass"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rmqContainer, err := tcrabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rmqContainer.Terminate(context.Background()) })

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = minioContainer.Terminate(context.Background()) })

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	require.NoError(t, postgres.RunMigrations(pgConnStr, "../../migrations"))

	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:     minioEndpoint,
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		UseSSL:       false,
		UploadBucket: "uploads",
		ReportBucket: "reports",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBuckets(ctx))

	minioClient, err := miniogo.New(minioEndpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	rmqConn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rmqConn.Close() })

	pub, err := rabbitmq.NewPublisher(rmqConn, "wastewatch.video")
	require.NoError(t, err)

	return &stack{
		pgConnStr: pgConnStr,
		rmqURL:    rmqURL,
		rmqConn:   rmqConn,
		pool:      pool,
		storage:   storage,
		minio:     minioClient,
		statusPub: rabbitmq.NewStatusPublisher(pub, "video.status"),
		dlqPub:    rabbitmq.NewDLQPublisher(pub, "video.analysis.dlq"),
	}
}

func startConsumer(ctx context.Context, t *testing.T, s *stack, workerURL string) {
	t.Helper()

	log, _ := logger.New("debug")
	repo := postgres.NewJobRepository(s.pool)
	sampler := ffmpeg.NewSampler("jpg", t.TempDir(), log)
	detector := inference.NewClient(10*time.Second, log)
	notifier := email.NewSMTPNotifier("localhost", 1025, "test@test.local", log)

	uc := usecase.NewAnalyzeVideoUseCase(
		repo, s.storage, sampler, detector,
		s.statusPub, s.dlqPub, notifier,
		log,
		usecase.AnalyzeVideoConfig{
			TempDir:         t.TempDir(),
			MaxRetries:      3,
			WorkerURL:       workerURL,
			Concurrency:     2,
			FrameRetries:    1,
			FrameRetryDelay: 100 * time.Millisecond,
			DefaultInterval: 1,
		},
	)

	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         s.rmqURL,
		Queue:       "video.analysis",
		Exchange:    "wastewatch.video",
		DLQ:         "video.analysis.dlq",
		StatusQueue: "video.status",
		Prefetch:    1,
		WorkerCount: 1,
		BaseDelayMs: 100,
	}, uc.Execute, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = consumer.Close() })

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	t.Cleanup(consumerCancel)
	go func() {
		consumer.Start(consumerCtx)
	}()

	// Give the consumer time to bind its queues.
	time.Sleep(500 * time.Millisecond)
}

// stubDetectionWorker mimics the HTTP detection worker: it decodes the posted
// image and answers a fixed garbage count per frame.
func stubDetectionWorker(t *testing.T, countPerFrame int) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ImageData string `json:"image_data"`
			Filename  string `json:"filename"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, err := base64.StdEncoding.DecodeString(req.ImageData); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"garbage_count": countPerFrame})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func publishAnalysisMessage(ctx context.Context, t *testing.T, s *stack, body []byte) {
	t.Helper()

	ch, err := s.rmqConn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.PublishWithContext(ctx,
		"wastewatch.video",
		"video.analysis",
		false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	))
}

func TestAnalyzeVideoEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	s := startStack(ctx, t)

	testVideoPath := filepath.Join("..", "testdata", "test.mp4")
	if _, err := os.Stat(testVideoPath); os.IsNotExist(err) {
		t.Skip("test video not found at tests/testdata/test.mp4 - generate it with: ffmpeg -f lavfi -i testsrc=duration=3:size=320x240:rate=1 -c:v libx264 -pix_fmt yuv420p tests/testdata/test.mp4")
	}

	videoKey := "testuser/test.mp4"
	_, err := s.minio.FPutObject(ctx, "uploads", videoKey, testVideoPath, miniogo.PutObjectOptions{
		ContentType: "video/mp4",
	})
	require.NoError(t, err)

	worker, calls := stubDetectionWorker(t, 2)
	startConsumer(ctx, t, s, worker.URL+"/")

	jobID := uuid.New()
	videoInfo, _ := os.Stat(testVideoPath)
	msgBody, err := json.Marshal(entity.VideoAnalysisMessage{
		JobID:           jobID,
		UserID:          "testuser",
		VideoKey:        videoKey,
		FileSize:        videoInfo.Size(),
		IntervalSeconds: 1,
		UserEmail:       "test@test.local",
	})
	require.NoError(t, err)
	publishAnalysisMessage(ctx, t, s, msgBody)

	statusCh, err := s.rmqConn.Channel()
	require.NoError(t, err)
	defer statusCh.Close()

	statusMsgs, err := statusCh.Consume("video.status", "", true, false, false, false, nil)
	require.NoError(t, err)

	var statusMsg entity.AnalysisStatusMessage
	select {
	case delivery := <-statusMsgs:
		require.NoError(t, json.Unmarshal(delivery.Body, &statusMsg))
	case <-time.After(2 * time.Minute):
		t.Fatal("timeout waiting for status message")
	}

	assert.Equal(t, jobID, statusMsg.JobID)
	assert.Equal(t, entity.JobStatusCompleted, statusMsg.Status)
	assert.Greater(t, statusMsg.FramesProcessed, 0)
	assert.Equal(t, statusMsg.FramesProcessed*2, statusMsg.TotalCount)
	assert.NotEmpty(t, statusMsg.ReportKey)
	assert.Equal(t, int64(statusMsg.FramesProcessed), calls.Load())

	// Report lands in the reports bucket as JSON.
	reportObj, err := s.minio.GetObject(ctx, "reports", statusMsg.ReportKey, miniogo.GetObjectOptions{})
	require.NoError(t, err)

	var report entity.Report
	require.NoError(t, json.NewDecoder(reportObj).Decode(&report))
	assert.Equal(t, statusMsg.FramesProcessed, report.FramesProcessed)
	assert.Equal(t, statusMsg.TotalCount, report.TotalGarbageCount)
	assert.InDelta(t, 2.0, report.AverageGarbageCount, 1e-9)
	assert.Equal(t, 0, report.FailedFrameCount)
	assert.False(t, report.Partial)
	assert.Len(t, report.FrameResults, report.FramesProcessed)

	// Job row reflects the completed analysis.
	var dbStatus string
	var dbFrames, dbTotal int
	err = s.pool.QueryRow(ctx,
		"SELECT status, frames_processed, total_count FROM analysis_jobs WHERE id=$1", jobID,
	).Scan(&dbStatus, &dbFrames, &dbTotal)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", dbStatus)
	assert.Equal(t, report.FramesProcessed, dbFrames)
	assert.Equal(t, report.TotalGarbageCount, dbTotal)

	// Persisted report row carries the frame results.
	var dbResultCount int
	err = s.pool.QueryRow(ctx,
		"SELECT jsonb_array_length(frame_results) FROM analysis_reports WHERE job_id=$1", jobID,
	).Scan(&dbResultCount)
	require.NoError(t, err)
	assert.Equal(t, report.FramesProcessed, dbResultCount)

	t.Logf("Test passed: %d frames analyzed, report at %s", report.FramesProcessed, statusMsg.ReportKey)
}

func TestAnalyzeVideoMalformedMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := startStack(ctx, t)

	worker, _ := stubDetectionWorker(t, 0)
	startConsumer(ctx, t, s, worker.URL+"/")

	publishAnalysisMessage(ctx, t, s, []byte(`{invalid json`))

	// Wait and verify the message landed in the DLQ.
	time.Sleep(2 * time.Second)

	dlqCh, err := s.rmqConn.Channel()
	require.NoError(t, err)
	defer dlqCh.Close()

	dlqMsg, ok, err := dlqCh.Get("video.analysis.dlq", true)
	require.NoError(t, err)
	assert.True(t, ok, "malformed message should be in DLQ")
	assert.Equal(t, `{invalid json`, string(dlqMsg.Body))
}
