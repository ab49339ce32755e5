package voice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/voice-tutor/internal/models"
)

func TestHTTPBackend_SendsCookieAndMapsStatuses(t *testing.T) {
	var bodies []map[string]any
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie("auth-token")
		if assert.NoError(t, err) {
			assert.Equal(t, "tok", ck.Value)
		}
		var m map[string]any
		_ = json.NewDecoder(r.Body).Decode(&m)
		m["path"] = r.URL.Path
		bodies = append(bodies, m)
		w.WriteHeader(status)
		if status == http.StatusOK && m["action"] == "start" {
			_, _ = w.Write([]byte(`{"code":0,"message":"ok","data":{"voice_session_id":"vs-1"}}`))
		}
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL+"/", "tok")
	ctx := context.Background()

	id, err := b.StartVoiceSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "vs-1", id)
	require.NoError(t, b.StopVoiceSession(ctx, id, 42, "user"))
	require.NoError(t, b.LogConversation(ctx, models.RoleSystem, "Hi"))

	require.Len(t, bodies, 3)
	assert.Equal(t, map[string]any{"path": "/log-voice-session", "action": "start"}, bodies[0])
	assert.Equal(t, map[string]any{"path": "/log-voice-session", "action": "stop", "voice_session_id": "vs-1", "duration": float64(42), "reason": "user"}, bodies[1])
	assert.Equal(t, map[string]any{"path": "/conversation/log", "role": "SYSTEM", "text": "Hi"}, bodies[2])

	status = http.StatusConflict
	_, err = b.StartVoiceSession(ctx)
	assert.ErrorIs(t, err, ErrVoiceSessionOpen)

	status = http.StatusNotFound
	assert.ErrorIs(t, b.LogConversation(ctx, models.RoleInfo, "x"), ErrRejected)

	status = http.StatusFound
	assert.ErrorIs(t, b.StopVoiceSession(ctx, "vs-1", 1, "user"), ErrRejected)

	status = http.StatusInternalServerError
	err = b.LogConversation(ctx, models.RoleInfo, "x")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRejected))
}

func TestBridgeClient_ReadsClientSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			if ck, err := r.Cookie("auth-token"); err != nil || ck.Value != "good" {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			_, _ = w.Write([]byte(`{"client_secret":{"value":"ek_abc","expires_at":1}}`))
		default:
			_, _ = w.Write([]byte("login page"))
		}
	}))
	defer srv.Close()

	key, err := NewBridgeClient(srv.URL, "good").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ek_abc", key)

	_, err = NewBridgeClient(srv.URL, "stale").Token(context.Background())
	assert.Error(t, err)
}

func TestBridgeClient_MissingKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewBridgeClient(srv.URL, "t").Token(context.Background())
	assert.EqualError(t, err, "missing ephemeral key")
}

func TestHTTPPinger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	now := time.Unix(0, 0)
	p := NewHTTPPinger()
	p.Now = func() time.Time {
		now = now.Add(25 * time.Millisecond)
		return now
	}

	d, err := p.Ping(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 25*time.Millisecond, d)

	_, err = p.Ping(context.Background(), "http://127.0.0.1:1")
	assert.Error(t, err)
}

func TestLogin_ReturnsCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["password"] != "demopassword" {
			http.Error(w, "Invalid email or password", http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "auth-token", Value: "abc"})
		http.Redirect(w, r, "/", http.StatusFound)
	}))
	defer srv.Close()

	tok, err := Login(context.Background(), nil, srv.URL, "demo@demo.com", "demopassword")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = Login(context.Background(), nil, srv.URL, "demo@demo.com", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
