// Package apiclient talks to a running convertd over its HTTP surface. The
// convertctl submit, status, fetch and wait commands are built on it.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"convertd/internal/api"
)

// ErrUnavailable is returned when no server answers at the configured address.
var ErrUnavailable = errors.New("convertd API unavailable")

// Error is a non-2xx answer from the server.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("convertd returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("convertd returned status %d: %s", e.StatusCode, e.Message)
}

// Client is safe for concurrent use.
type Client struct {
	base *url.URL
	http *http.Client
}

// New returns a client for bind, which may be host:port or a full URL.
func New(bind string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("api address is required")
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base: base,
		// Downloads can be large; callers bound them with ctx instead.
		http: &http.Client{},
	}, nil
}

// Submission is one upload request. Fields carries conversion options by
// their form names (quality, bitrate, crf, dpi, ...).
type Submission struct {
	Path   string
	Target string
	Fields map[string]string
}

// Submit uploads the file at s.Path.
func (c *Client) Submit(ctx context.Context, s Submission) (api.ConvertResponse, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return api.ConvertResponse{}, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("convert_to", s.Target); err != nil {
		return api.ConvertResponse{}, err
	}
	for k, v := range s.Fields {
		if err := mw.WriteField(k, v); err != nil {
			return api.ConvertResponse{}, err
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(s.Path))
	if err != nil {
		return api.ConvertResponse{}, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return api.ConvertResponse{}, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return api.ConvertResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/convert"), &body)
	if err != nil {
		return api.ConvertResponse{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out api.ConvertResponse
	if err := c.doJSON(req, http.StatusAccepted, &out); err != nil {
		return api.ConvertResponse{}, err
	}
	return out, nil
}

// Status reads the reconciled status of jobID.
func (c *Client) Status(ctx context.Context, jobID string) (api.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/status/"+url.PathEscape(jobID)), nil)
	if err != nil {
		return api.StatusResponse{}, err
	}
	var out api.StatusResponse
	if err := c.doJSON(req, http.StatusOK, &out); err != nil {
		return api.StatusResponse{}, err
	}
	return out, nil
}

// Wait polls Status every interval until the job completes or fails. onPoll,
// when set, sees every intermediate answer.
func (c *Client) Wait(ctx context.Context, jobID string, interval time.Duration, onPoll func(api.StatusResponse)) (api.StatusResponse, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.Status(ctx, jobID)
		if err != nil {
			return api.StatusResponse{}, err
		}
		if onPoll != nil {
			onPoll(st)
		}
		if st.Status == "completed" || st.Status == "failed" {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Open starts the download of jobID's artifact and returns the body along
// with the server's attachment name. The caller closes the body.
func (c *Client) Open(ctx context.Context, jobID string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/result/"+url.PathEscape(jobID)), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, "", decodeError(resp)
	}

	name := jobID
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = filepath.Base(params["filename"])
	}
	return resp.Body, name, nil
}

// Fetch streams the artifact of jobID into w and returns the server's
// attachment name.
func (c *Client) Fetch(ctx context.Context, jobID string, w io.Writer) (string, error) {
	body, name, err := c.Open(ctx, jobID)
	if err != nil {
		return "", err
	}
	defer body.Close()
	if _, err := io.Copy(w, body); err != nil {
		return "", fmt.Errorf("download %s: %w", jobID, err)
	}
	return name, nil
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/health"), nil)
	if err != nil {
		return err
	}
	var out api.HealthResponse
	return c.doJSON(req, http.StatusOK, &out)
}

func (c *Client) endpoint(path string) string {
	return c.base.ResolveReference(&url.URL{Path: path}).String()
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		if isConnError(err) {
			return nil, fmt.Errorf("%w at %s: %v", ErrUnavailable, c.base.Host, err)
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) doJSON(req *http.Request, want int, out any) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return &Error{StatusCode: resp.StatusCode, Message: body.Error}
}

func isConnError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
