package music

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/zhouzirui/moodtune/backend/internal/config"
)

var (
	// ErrNoTaskID marks a submission whose response carried no task handle.
	// Callers may resubmit.
	ErrNoTaskID = errors.New("music: response carried no task id")
	// ErrTaskFailed is returned by Poll when the service reports a failed task.
	ErrTaskFailed  = errors.New("music: task failed")
	ErrEmptyPrompt = errors.New("music: prompt is empty")
)

// Client talks to the remote rendering service.
type Client interface {
	Submit(ctx context.Context, prompt string) (string, error)
	Poll(ctx context.Context, taskID string) (TaskState, error)
}

const statusFinished = "finished"

// TaskState is the data section of a getState response.
type TaskState struct {
	Status string `json:"taskStatus"`
	Items  []Item `json:"items"`
}

type Item struct {
	AudioURL string `json:"cld2AudioUrl"`
}

// Finished reports whether the task is done.
func (s TaskState) Finished() bool {
	return strings.EqualFold(s.Status, statusFinished)
}

func (s TaskState) failed() bool {
	switch strings.ToLower(s.Status) {
	case "failed", "error":
		return true
	}
	return false
}

// FirstResult returns the first item's audio reference, or "" when there is none.
func (s TaskState) FirstResult() string {
	if len(s.Items) == 0 {
		return ""
	}
	return s.Items[0].AudioURL
}

type generateRequest struct {
	ExpectAIModel        string `json:"expectAiModel"`
	InputType            string `json:"inputType"`
	MVVersion            string `json:"mvVersion"`
	MakeInstrumental     bool   `json:"makeInstrumental"`
	GPTDescriptionPrompt string `json:"gptDescriptionPrompt"`
	CallbackURL          string `json:"callbackUrl"`
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    *T     `json:"data"`
}

type generateData struct {
	TaskBatchID string `json:"taskBatchId"`
}

// HTTPClient implements Client over the service's JSON API.
type HTTPClient struct {
	baseURL string
	token   string
	userID  string
	http    *http.Client
}

// NewHTTPClient builds a client from the music section of the config.
func NewHTTPClient(cfg config.MusicConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIKey,
		userID:  cfg.UserID,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Submit asks the service to render an instrumental piece for prompt and returns
// the task batch id. A response without an id, including a non-2xx one, yields
// an error wrapping ErrNoTaskID.
func (c *HTTPClient) Submit(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	body, err := json.Marshal(generateRequest{
		ExpectAIModel:        "suno",
		InputType:            "10",
		MVVersion:            "chirp-v4",
		MakeInstrumental:     true,
		GPTDescriptionPrompt: prompt,
		CallbackURL:          "",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/suno/music/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read generate response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d: %s", ErrNoTaskID, resp.StatusCode, truncate(raw))
	}

	var out envelope[generateData]
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrNoTaskID, err)
	}
	if out.Data == nil || strings.TrimSpace(out.Data.TaskBatchID) == "" {
		return "", fmt.Errorf("%w: code=%d msg=%q", ErrNoTaskID, out.Code, out.Message)
	}
	return out.Data.TaskBatchID, nil
}

// Poll fetches the current state of a task. Transport failures, non-2xx
// statuses and malformed bodies are all errors.
func (c *HTTPClient) Poll(ctx context.Context, taskID string) (TaskState, error) {
	endpoint := c.baseURL + "/suno/music/getState?" + url.Values{"taskBatchId": {taskID}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return TaskState{}, fmt.Errorf("failed to build state request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return TaskState{}, fmt.Errorf("state request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return TaskState{}, fmt.Errorf("failed to read state response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TaskState{}, fmt.Errorf("state request returned status %d: %s", resp.StatusCode, truncate(raw))
	}

	var out envelope[TaskState]
	if err := json.Unmarshal(raw, &out); err != nil {
		return TaskState{}, fmt.Errorf("failed to decode state response: %w", err)
	}
	if out.Data == nil {
		return TaskState{}, fmt.Errorf("state response has no data: code=%d msg=%q", out.Code, out.Message)
	}
	if out.Data.failed() {
		return *out.Data, fmt.Errorf("%w: status %q", ErrTaskFailed, out.Data.Status)
	}
	return *out.Data, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-token", c.token)
	req.Header.Set("x-userId", c.userID)
}

func truncate(raw []byte) string {
	const limit = 256
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}
