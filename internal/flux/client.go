// Package flux talks to the Black Forest Labs image editing API: one submit call
// returns a polling URL that is queried until the job reaches a terminal state.
package flux

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/digkill/pawstudio/internal/apperr"
	"github.com/digkill/pawstudio/internal/config"
)

const maxResultBytes = 32 << 20

const publicFailure = "image generation failed"

var (
	ErrGenerationFailed = apperr.New(apperr.KindExternalService, publicFailure).WithPublic(publicFailure)
	ErrContentModerated = apperr.New(apperr.KindContentModerated, "image was rejected by the content policy")
	ErrTimeout          = apperr.New(apperr.KindTimeout, "image generation timed out").WithPublic("image generation timed out")
)

func upstream(op string, err error) error {
	return apperr.Wrap(apperr.KindExternalService, op, err).WithPublic(publicFailure)
}

type Status string

const (
	StatusPending          Status = "Pending"
	StatusReady            Status = "Ready"
	StatusError            Status = "Error"
	StatusFailed           Status = "Failed"
	StatusContentModerated Status = "Content Moderated"
	StatusRequestModerated Status = "Request Moderated"
	StatusTaskNotFound     Status = "Task not found"
)

// Options tune the client; zero values fall back to the defaults of Load.
type Options struct {
	APIKey          string
	BaseURL         string
	ModelPath       string
	SafetyTolerance int
	OutputFormat    string
	PollInterval    time.Duration
	PollAttempts    int
	PollBackoff     float64
	HTTPTimeout     time.Duration
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		APIKey:          cfg.FluxAPIKey,
		BaseURL:         cfg.FluxBaseURL,
		ModelPath:       cfg.FluxModelPath,
		SafetyTolerance: cfg.FluxSafetyTolerance,
		OutputFormat:    cfg.FluxOutputFormat,
		PollInterval:    cfg.FluxPollInterval,
		PollAttempts:    cfg.FluxPollAttempts,
		PollBackoff:     cfg.FluxPollBackoff,
		HTTPTimeout:     cfg.RequestTimeout,
	}
}

type Client struct {
	opts       Options
	httpClient *http.Client
	log        *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Task is the handle returned by a submission.
type Task struct {
	ID         string `json:"id"`
	PollingURL string `json:"polling_url"`
}

// Request is one edit job. ReferenceImageURL, when set, is sent as a second input
// image the prompt can refer to.
type Request struct {
	Image             []byte
	MimeType          string
	Prompt            string
	ReferenceImageURL string
}

// Result is a downloaded generation artifact.
type Result struct {
	Bytes       []byte
	ContentType string
	SourceURL   string
}

func NewClient(opts Options, log *slog.Logger) *Client {
	if opts.ModelPath == "" {
		opts.ModelPath = "/v1/flux-kontext-pro"
	}
	if opts.OutputFormat == "" {
		opts.OutputFormat = "jpeg"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 30
	}
	if opts.PollBackoff < 1 {
		opts.PollBackoff = 1
	}
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		sleep:      sleepContext,
	}
}

// Transform submits one job and waits for its result.
func (c *Client) Transform(ctx context.Context, req Request) (*Result, error) {
	task, err := c.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.Poll(ctx, task)
}

// Submit posts one generation request. Failures are not retried here.
func (c *Client) Submit(ctx context.Context, job Request) (*Task, error) {
	if len(job.Image) == 0 {
		return nil, apperr.Validation("source image is empty")
	}
	if strings.TrimSpace(job.Prompt) == "" {
		return nil, apperr.Validation("prompt is empty")
	}
	mimeType := job.MimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(job.Image).String()
	}

	payload := map[string]any{
		"prompt":           job.Prompt,
		"input_image":      "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(job.Image),
		"safety_tolerance": c.opts.SafetyTolerance,
		"output_format":    c.opts.OutputFormat,
	}
	if job.ReferenceImageURL != "" {
		payload["input_image_2"] = job.ReferenceImageURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	fullURL := c.opts.BaseURL + c.opts.ModelPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("x-key", c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.log.Info("submitting flux job", "url", fullURL, "image_bytes", len(job.Image), "reference", job.ReferenceImageURL != "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, upstream("submit generation", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, upstream("read submit response", err)
	}

	if resp.StatusCode >= 300 {
		c.log.Error("flux submit failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		return nil, upstream("submit generation", fmt.Errorf("status=%d body=%s", resp.StatusCode, truncateBody(rawBody)))
	}

	var task Task
	if err := json.Unmarshal(rawBody, &task); err != nil {
		return nil, upstream("decode submit response", err)
	}
	if task.ID == "" || task.PollingURL == "" {
		return nil, upstream("submit generation", fmt.Errorf("missing id or polling_url (body=%s)", truncateBody(rawBody)))
	}

	c.log.Info("flux job submitted", "task_id", task.ID)
	return &task, nil
}

type pollResponse struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Result *struct {
		Sample string `json:"sample"`
	} `json:"result"`
}

// Poll queries the task until Ready, a failure state, ctx cancellation or the
// attempt ceiling. The wait grows by PollBackoff after every pending answer.
func (c *Client) Poll(ctx context.Context, task *Task) (*Result, error) {
	interval := c.opts.PollInterval
	maxAttempts := c.opts.PollAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := c.fetchStatus(ctx, task)
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case StatusReady:
			if status.Result == nil || status.Result.Sample == "" {
				return nil, upstream("poll generation", fmt.Errorf("ready without result sample"))
			}
			c.log.Info("flux job ready", "task_id", task.ID, "attempt", attempt)
			return c.download(ctx, status.Result.Sample)

		case StatusContentModerated, StatusRequestModerated:
			c.log.Warn("flux job moderated", "task_id", task.ID, "attempt", attempt, "status", status.Status)
			return nil, ErrContentModerated

		case StatusError, StatusFailed:
			c.log.Error("flux job failed", "task_id", task.ID, "attempt", attempt)
			return nil, ErrGenerationFailed

		default:
			if attempt%10 == 1 {
				c.log.Debug("flux job pending", "task_id", task.ID, "attempt", attempt, "max_attempts", maxAttempts, "status", status.Status)
			}
		}

		if attempt == maxAttempts {
			break
		}
		if err := c.sleep(ctx, interval); err != nil {
			return nil, err
		}
		interval = time.Duration(float64(interval) * c.opts.PollBackoff)
	}

	c.log.Error("flux job timed out", "task_id", task.ID, "attempts", maxAttempts)
	return nil, ErrTimeout
}

func (c *Client) fetchStatus(ctx context.Context, task *Task) (*pollResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.PollingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("x-key", c.opts.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, upstream("poll generation", err)
	}
	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if err != nil {
		return nil, upstream("read poll response", err)
	}

	if resp.StatusCode >= 300 {
		c.log.Error("flux poll failed", "status", resp.StatusCode, "task_id", task.ID, "body", truncateBody(rawBody))
		return nil, upstream("poll generation", fmt.Errorf("status=%d body=%s", resp.StatusCode, truncateBody(rawBody)))
	}

	var status pollResponse
	if err := json.Unmarshal(rawBody, &status); err != nil {
		return nil, upstream("decode poll response", err)
	}
	return &status, nil
}

func (c *Client) download(ctx context.Context, sampleURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sampleURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, upstream("download result", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, upstream("download result", fmt.Errorf("status=%d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		return nil, upstream("read result", err)
	}
	if len(data) == 0 {
		return nil, upstream("download result", fmt.Errorf("empty body"))
	}

	contentType := resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx > 0 {
		contentType = contentType[:idx]
	}
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = mimetype.Detect(data).String()
	}
	return &Result{Bytes: data, ContentType: contentType, SourceURL: sampleURL}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
