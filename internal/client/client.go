// Package client is a Go client for the session server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hay-kot/snapdls/internal/core/volume"
	"github.com/hay-kot/snapdls/internal/server"
)

// ErrInvalidSession is returned when the server does not know the session id.
var ErrInvalidSession = errors.New("invalid session")

// APIError is a non-success response other than an invalid session.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Status is the /status response.
type Status struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Client talks to one server.
type Client struct {
	base *url.URL
	http *http.Client
}

// New returns a client for baseURL. A nil hc uses a client with a generous
// timeout, since starting a session can wait for a model to load.
func New(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q needs a scheme and host", baseURL)
	}
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{base: u, http: hc}, nil
}

// Status queries the server version.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/status", nil, nil, "", &out)
	return out, err
}

// StartSession returns the id of a new session.
func (c *Client) StartSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/start_session", nil, nil, "", &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// EndSession releases a session.
func (c *Client) EndSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodGet, "/end_session/"+url.PathEscape(id), nil, nil, "", nil)
}

// UploadRaw sets the session image.
func (c *Client) UploadRaw(ctx context.Context, id string, img *volume.Volume) error {
	body, ctype, err := multipartVolume(img)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/upload_raw/"+url.PathEscape(id), nil, body, ctype, nil)
}

// PointInteraction places a point at index and returns the updated mask,
// one byte per voxel.
func (c *Client) PointInteraction(ctx context.Context, id string, index [3]int, foreground bool) ([]byte, error) {
	q := url.Values{}
	q.Set("x", strconv.Itoa(index[0]))
	q.Set("y", strconv.Itoa(index[1]))
	q.Set("z", strconv.Itoa(index[2]))
	q.Set("foreground", strconv.FormatBool(foreground))

	return c.result(ctx, http.MethodGet, "/process_point_interaction/"+url.PathEscape(id), q, nil, "")
}

// ScribbleInteraction applies a painted mask and returns the updated mask.
func (c *Client) ScribbleInteraction(ctx context.Context, id string, mask *volume.Mask, foreground bool) ([]byte, error) {
	return c.maskInteraction(ctx, "/process_scribble_interaction/", id, mask, foreground)
}

// LassoInteraction applies a contour mask and returns the updated mask.
func (c *Client) LassoInteraction(ctx context.Context, id string, mask *volume.Mask, foreground bool) ([]byte, error) {
	return c.maskInteraction(ctx, "/process_lasso_interaction/", id, mask, foreground)
}

// ResetInteractions clears the session mask.
func (c *Client) ResetInteractions(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodGet, "/reset_interactions/"+url.PathEscape(id), nil, nil, "", nil)
}

// Sessions lists the live client sessions.
func (c *Client) Sessions(ctx context.Context) ([]server.SessionSummary, error) {
	var out []server.SessionSummary
	err := c.do(ctx, http.MethodGet, "/sessions", nil, nil, "", &out)
	return out, err
}

func (c *Client) maskInteraction(ctx context.Context, path, id string, mask *volume.Mask, foreground bool) ([]byte, error) {
	img := &volume.Volume{Geometry: mask.Geometry.Clone(), Voxels: make([]float32, len(mask.Voxels))}
	for i, v := range mask.Voxels {
		if v != 0 {
			img.Voxels[i] = 1
		}
	}

	body, ctype, err := multipartVolume(img)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("foreground", strconv.FormatBool(foreground))
	return c.result(ctx, http.MethodPost, path+url.PathEscape(id), q, body, ctype)
}

func (c *Client) result(ctx context.Context, method, path string, q url.Values, body io.Reader, ctype string) ([]byte, error) {
	var out struct {
		Status string `json:"status"`
		Result string `json:"result"`
	}
	if err := c.do(ctx, method, path, q, body, ctype, &out); err != nil {
		return nil, err
	}
	return volume.DecodeMaskBytes(out.Result)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader, ctype string, out any) error {
	u := c.base.JoinPath(path)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrInvalidSession
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func multipartVolume(img *volume.Volume) (io.Reader, string, error) {
	payload, meta, err := volume.EncodeRaw(img)
	if err != nil {
		return nil, "", fmt.Errorf("encode volume: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", fmt.Errorf("encode metadata: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("metadata", string(metaJSON)); err != nil {
		return nil, "", err
	}
	fw, err := mw.CreateFormFile("file", "volume.raw.gz")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
