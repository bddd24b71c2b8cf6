package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const userAgent = "edgeq/1.0"

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream error: %s", e.Status)
}

// Client talks to the voter admin API.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: timeout},
	}
}

// DefaultToken is the token used when a request carries none of its own.
func (c *Client) DefaultToken() string { return c.token }

// GetVisitRecord fetches visitRecord/{id}.
func (c *Client) GetVisitRecord(ctx context.Context, id, token string) (any, error) {
	return c.do(ctx, http.MethodGet, c.recordURL(id), token, nil)
}

// PatchVisitRecord stores body, JSON encoded, as the record's description.
func (c *Client) PatchVisitRecord(ctx context.Context, id, token string, body map[string]any) (any, error) {
	desc, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode description")
	}
	payload, err := json.Marshal(map[string]string{"description": string(desc)})
	if err != nil {
		return nil, errors.Wrap(err, "encode patch body")
	}
	return c.do(ctx, http.MethodPatch, c.recordURL(id), token, payload)
}

func (c *Client) recordURL(id string) string {
	return c.baseURL + "/visitRecord/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, target, token string, body []byte) (any, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", method, target)
	}
	if token == "" {
		token = c.token
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, target)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read upstream body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: string(raw)}
	}

	if !isJSON(resp.Header.Get("Content-Type")) {
		return string(raw), nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, "decode upstream json")
	}
	return out, nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
