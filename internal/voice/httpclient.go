package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/suPer8Hu/voice-tutor/internal/models"
)

const authCookie = "auth-token"

// HTTPBackend talks to this server's bookkeeping routes with the login
// cookie of the learner.
type HTTPBackend struct {
	BaseURL   string
	AuthToken string
	Client    *http.Client
}

func NewHTTPBackend(baseURL, token string) *HTTPBackend {
	return &HTTPBackend{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		AuthToken: token,
		Client:    noRedirects(&http.Client{Timeout: 10 * time.Second}),
	}
}

type voiceSessionReq struct {
	Action         string `json:"action"`
	VoiceSessionID string `json:"voice_session_id,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type conversationReq struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// StartVoiceSession returns the id of the new row from the response envelope.
func (b *HTTPBackend) StartVoiceSession(ctx context.Context) (string, error) {
	body, err := b.post(ctx, "/log-voice-session", voiceSessionReq{Action: "start"})
	if err != nil {
		return "", err
	}
	var env struct {
		Data struct {
			VoiceSessionID string `json:"voice_session_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("/log-voice-session: decode start: %w", err)
	}
	if env.Data.VoiceSessionID == "" {
		return "", errors.New("/log-voice-session: missing voice_session_id")
	}
	return env.Data.VoiceSessionID, nil
}

func (b *HTTPBackend) StopVoiceSession(ctx context.Context, voiceSessionID string, durationSec int, reason string) error {
	_, err := b.post(ctx, "/log-voice-session", voiceSessionReq{
		Action:         "stop",
		VoiceSessionID: voiceSessionID,
		Duration:       durationSec,
		Reason:         reason,
	})
	return err
}

func (b *HTTPBackend) LogConversation(ctx context.Context, role models.Role, text string) error {
	_, err := b.post(ctx, "/conversation/log", conversationReq{Role: string(role), Text: text})
	return err
}

func (b *HTTPBackend) post(ctx context.Context, path string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: authCookie, Value: b.AuthToken})

	resp, err := client(b.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := statusError(path, resp); err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64*1024))
}

// statusError maps a response to the coordinator's error vocabulary. Only
// 5xx stays retryable.
func statusError(path string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	detail := strings.TrimSpace(string(msg))
	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrVoiceSessionOpen
	case resp.StatusCode >= 300 && resp.StatusCode < 500:
		// a redirect means the cookie no longer resolves
		return fmt.Errorf("%s: status %d: %s: %w", path, resp.StatusCode, detail, ErrRejected)
	}
	return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, detail)
}

// BridgeClient fetches the ephemeral credential from this server's /token.
type BridgeClient struct {
	BaseURL   string
	AuthToken string
	Client    *http.Client
}

func NewBridgeClient(baseURL, token string) *BridgeClient {
	return &BridgeClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		AuthToken: token,
		Client:    noRedirects(&http.Client{Timeout: 15 * time.Second}),
	}
}

func (b *BridgeClient) Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"/token", nil)
	if err != nil {
		return "", err
	}
	req.AddCookie(&http.Cookie{Name: authCookie, Value: b.AuthToken})

	resp, err := client(b.Client).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch /token: status %d", resp.StatusCode)
	}

	var data struct {
		ClientSecret struct {
			Value string `json:"value"`
		} `json:"client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	if data.ClientSecret.Value == "" {
		return "", errors.New("missing ephemeral key")
	}
	return data.ClientSecret.Value, nil
}

// HTTPPinger measures the round trip of one GET. Any HTTP response counts
// as reachable.
type HTTPPinger struct {
	Client *http.Client
	Now    func() time.Time
}

func NewHTTPPinger() *HTTPPinger {
	return &HTTPPinger{Client: &http.Client{Timeout: SampleInterval}, Now: time.Now}
}

func (p *HTTPPinger) Ping(ctx context.Context, target string) (time.Duration, error) {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	start := now()
	resp, err := client(p.Client).Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
	return now().Sub(start), nil
}

// Login signs in against this server and returns the auth cookie value.
func Login(ctx context.Context, hc *http.Client, baseURL, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	c := *client(hc)
	resp, err := noRedirects(&c).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("login: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == authCookie && ck.Value != "" {
			return ck.Value, nil
		}
	}
	return "", errors.New("login: no auth cookie in response")
}

// noRedirects keeps protected routes from silently landing on /login.
func noRedirects(c *http.Client) *http.Client {
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c
}

func client(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}
