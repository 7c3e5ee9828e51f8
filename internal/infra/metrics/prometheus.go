package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wastewatch_jobs_processed_total",
		Help: "Total number of analysis jobs processed, by status",
	}, []string{"status"})

	JobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wastewatch_job_processing_duration_seconds",
		Help:    "Duration of the video analysis pipeline, by stage",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wastewatch_frames_sampled_total",
		Help: "Total number of frames sampled across all jobs",
	})

	FramesDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wastewatch_frames_detected_total",
		Help: "Per-frame detection outcomes, by result (success or failure kind)",
	}, []string{"result"})

	FrameDetectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wastewatch_frame_detection_duration_seconds",
		Help:    "Duration of one detection worker round trip",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	GarbageDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wastewatch_garbage_detected_total",
		Help: "Total detected objects summed across all frames",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wastewatch_active_workers",
		Help: "Number of currently active workers processing jobs",
	})

	JobRetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wastewatch_job_retry_total",
		Help: "Total number of job-level retries",
	}, []string{"attempt"})

	FrameRetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wastewatch_frame_retry_total",
		Help: "Total number of per-frame detection retries",
	}, []string{"attempt"})
)
