package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"predictops/internal/domain"
)

// Client is the HTTP client for the prediction backend.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// APIError wraps non-2xx responses. Message is a best-effort extraction from
// a JSON error body.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d message=%s", e.StatusCode, e.Message)
}

// errorMessage pulls a human-readable message out of a JSON error body.
func errorMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"error", "message", "detail", "response"} {
			if v, ok := payload[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return "request failed"
}

// MachineList returns the machine catalogue.
func (c *Client) MachineList(ctx context.Context) ([]domain.Machine, error) {
	var resp []domain.Machine
	err := c.do(ctx, http.MethodGet, "/api/machine_list", nil, &resp)
	return resp, err
}

// MachineDefaults fetches the baseline operating parameters for a machine.
func (c *Client) MachineDefaults(ctx context.Context, machineID string) (domain.MachineDefaults, error) {
	var resp domain.MachineDefaults
	endpoint := "/api/machine_defaults?machine_id=" + url.QueryEscape(machineID)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ProjectList returns the backend project directory.
func (c *Client) ProjectList(ctx context.Context) ([]domain.ProjectRecord, error) {
	var resp []domain.ProjectRecord
	err := c.do(ctx, http.MethodGet, "/api/project_list", nil, &resp)
	return resp, err
}

// CreateProject creates a backend project.
func (c *Client) CreateProject(ctx context.Context, name string) (domain.ProjectRecord, error) {
	var resp domain.ProjectRecord
	err := c.do(ctx, http.MethodPost, "/api/projects", map[string]string{"project name": name}, &resp)
	return resp, err
}

// DeleteProject deletes a backend project by name.
func (c *Client) DeleteProject(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/projects?name="+url.QueryEscape(name), nil, nil)
}

// Chat dispatches a conversational request and decodes the reply into out.
func (c *Client) Chat(ctx context.Context, req domain.ChatRequest, out any) error {
	return c.do(ctx, http.MethodPost, "/chat", req, out)
}

// NamedFile is one multipart upload part.
type NamedFile struct {
	Name   string
	Reader io.Reader
}

// UploadFiles posts the dataset files as a multipart form keyed by the
// backend's logical file keys ("1".."4").
func (c *Client) UploadFiles(ctx context.Context, parts map[string]NamedFile) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	for key, part := range parts {
		fw, err := form.CreateFormFile(key, part.Name)
		if err != nil {
			return err
		}
		if _, err := io.Copy(fw, part.Reader); err != nil {
			return fmt.Errorf("read %s: %w", part.Name, err)
		}
	}
	if err := form.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/files/upload", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return c.send(req, nil)
}

// StartTraining kicks off the long-running training job. The response is a
// single-entry map of stage key to stage result.
func (c *Client) StartTraining(ctx context.Context) (map[string]string, error) {
	var resp map[string]string
	err := c.do(ctx, http.MethodPost, "/files/run-script", nil, &resp)
	return resp, err
}

// Progress fetches the current training checkpoint.
func (c *Client) Progress(ctx context.Context) (domain.TrainingProgress, error) {
	var resp domain.TrainingProgress
	err := c.do(ctx, http.MethodGet, "/files/progress", nil, &resp)
	return resp, err
}

// DeployModel deploys the trained model.
func (c *Client) DeployModel(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/files/deploy-model", nil, nil)
}

// SensorData returns live sensor readings for a machine.
func (c *Client) SensorData(ctx context.Context, machineID string) ([]domain.SensorReading, error) {
	var resp []domain.SensorReading
	endpoint := "/api/live_data?machine_id=" + url.QueryEscape(machineID)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Failures returns the recorded failure history for a machine.
func (c *Client) Failures(ctx context.Context, machineID string) ([]domain.FailureRecord, error) {
	var resp []domain.FailureRecord
	err := c.do(ctx, http.MethodGet, "/live-data/failures/"+url.PathEscape(machineID), nil, &resp)
	return resp, err
}

// Maintenance returns the maintenance history for a machine.
func (c *Client) Maintenance(ctx context.Context, machineID string) ([]domain.MaintenanceRecord, error) {
	var resp []domain.MaintenanceRecord
	err := c.do(ctx, http.MethodGet, "/live-data/maintenance/"+url.PathEscape(machineID), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+"/"+strings.TrimLeft(endpoint, "/"), &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(b), Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
