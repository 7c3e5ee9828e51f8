package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wyattbram/video-analysis-service/internal/domain/entity"
	"go.uber.org/zap"
)

// Client posts one frame per request to the detection worker. The worker
// speaks JSON: {"image_data": <base64>, "filename": <name>} in,
// {"garbage_count": <int>} or {"error": <string>} out.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

type detectRequest struct {
	ImageData string `json:"image_data"`
	Filename  string `json:"filename"`
}

type detectResponse struct {
	GarbageCount *int   `json:"garbage_count"`
	Error        string `json:"error"`
}

func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) Detect(ctx context.Context, endpoint string, frame entity.Frame) (int, error) {
	image, err := frame.Bytes()
	if err != nil {
		return 0, &entity.WorkerError{Kind: entity.FailureMalformedResponse, Message: err.Error()}
	}

	body, err := json.Marshal(detectRequest{
		ImageData: base64.StdEncoding.EncodeToString(image),
		Filename:  frame.Name,
	})
	if err != nil {
		return 0, &entity.WorkerError{Kind: entity.FailureMalformedResponse, Message: "encode request: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, &entity.WorkerError{Kind: entity.FailureWorkerUnreachable, Message: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &entity.WorkerError{Kind: entity.FailureWorkerUnreachable, Message: err.Error()}
	}
	defer resp.Body.Close()

	return c.parseResponse(resp, frame)
}

func (c *Client) parseResponse(resp *http.Response, frame entity.Frame) (int, error) {
	// 5xx is treated as transient: the worker process exists but choked.
	if resp.StatusCode >= http.StatusInternalServerError {
		return 0, &entity.WorkerError{
			Kind:    entity.FailureWorkerUnreachable,
			Message: fmt.Sprintf("worker returned status %d", resp.StatusCode),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, &entity.WorkerError{Kind: entity.FailureWorkerUnreachable, Message: "read response: " + err.Error()}
	}

	var parsed detectResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, &entity.WorkerError{
			Kind:    entity.FailureMalformedResponse,
			Message: fmt.Sprintf("non-JSON response (status %d): %.200s", resp.StatusCode, raw),
		}
	}

	if parsed.Error != "" {
		return 0, &entity.WorkerError{Kind: entity.FailureWorkerRejected, Message: parsed.Error}
	}

	// A missing or negative count is never coerced to zero.
	if parsed.GarbageCount == nil || *parsed.GarbageCount < 0 {
		return 0, &entity.WorkerError{
			Kind:    entity.FailureMalformedResponse,
			Message: fmt.Sprintf("response carries no valid count (status %d): %.200s", resp.StatusCode, raw),
		}
	}

	c.logger.Debug("frame scored",
		zap.String("frame", frame.Name),
		zap.Int("garbage_count", *parsed.GarbageCount),
	)
	return *parsed.GarbageCount, nil
}
