// Package realtime brokers the two upstream calls a browser needs to open a
// voice call: an ephemeral credential and the SDP answer to its offer.
package realtime

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
	"time"
)

var ErrUpstreamUnavailable = errors.New("realtime upstream unavailable")

// UpstreamError carries the upstream status and body. The body is meant for
// server logs and must not reach the browser.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("realtime %s: status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("realtime %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUpstreamUnavailable, e.Err}
	}
	return []error{ErrUpstreamUnavailable}
}

type Client struct {
	BaseURL      string
	APIKey       string
	Model        string
	Voice        string
	Instructions string
	Timeout      time.Duration
	Retries      int
	Backoff      time.Duration
	HTTP         *http.Client
}

func NewClient(baseURL, apiKey, model, voice, instructions string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Model:        model,
		Voice:        voice,
		Instructions: instructions,
		Timeout:      10 * time.Second,
		Retries:      1,
		Backoff:      250 * time.Millisecond,
		HTTP:         &http.Client{},
	}
}

type sessionReq struct {
	Model        string `json:"model"`
	Voice        string `json:"voice"`
	Instructions string `json:"instructions,omitempty"`
}

// EphemeralCredential mints a short-lived credential and returns the upstream
// JSON unchanged. Browsers read client_secret.value from it.
func (c *Client) EphemeralCredential(ctx context.Context) (json.RawMessage, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, &UpstreamError{Op: "session", Err: errors.New("api key is required")}
	}
	b, err := json.Marshal(sessionReq{Model: c.Model, Voice: c.Voice, Instructions: c.Instructions})
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, "session", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/realtime/sessions"), bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &UpstreamError{Op: "session", Err: errors.New("invalid json from upstream")}
	}
	return json.RawMessage(body), nil
}

// Negotiate forwards one SDP offer under the ephemeral key and returns the
// answer.
func (c *Client) Negotiate(ctx context.Context, ephemeralKey, offerSDP string) (string, error) {
	if strings.TrimSpace(ephemeralKey) == "" {
		return "", errors.New("realtime: ephemeral key is required")
	}
	if strings.TrimSpace(offerSDP) == "" {
		return "", errors.New("realtime: sdp offer is required")
	}

	target := c.endpoint("/realtime") + "?model=" + url.QueryEscape(c.Model)
	body, err := c.do(ctx, "negotiate", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(offerSDP))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/sdp")
		req.Header.Set("Authorization", "Bearer "+ephemeralKey)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

// do runs one call under the per-call timeout. Only failures without an
// HTTP response are retried.
func (c *Client) do(ctx context.Context, op string, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}

	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &UpstreamError{Op: op, Err: ctx.Err()}
			case <-time.After(c.Backoff):
			}
		}

		body, status, err := c.once(ctx, hc, build)
		if err == nil {
			if status < 200 || status >= 300 {
				return nil, &UpstreamError{Op: op, Status: status, Body: body2msg(body, status)}
			}
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &UpstreamError{Op: op, Err: lastErr}
}

func (c *Client) once(ctx context.Context, hc *http.Client, build func(context.Context) (*http.Request, error)) ([]byte, int, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	req, err := build(ctx)
	if err != nil {
		return nil, 0, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func body2msg(body []byte, status int) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 4*1024 {
		msg = msg[:4*1024]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return msg
}
