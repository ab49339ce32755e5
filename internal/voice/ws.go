package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const dialTimeout = 10 * time.Second

// WSDialer opens the realtime data channel over a websocket. Audio is carried
// by the browser's own media path, so the stream is not sent here.
type WSDialer struct {
	URL    string
	Model  string
	Logger *slog.Logger
}

func NewWSDialer(rawURL, model string, logger *slog.Logger) *WSDialer {
	if rawURL == "" {
		rawURL = "wss://api.openai.com/v1/realtime"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSDialer{URL: rawURL, Model: model, Logger: logger}
}

func (d *WSDialer) Dial(ctx context.Context, key string, _ Stream) (Transport, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, err
	}
	if d.Model != "" {
		q := u.Query()
		q.Set("model", d.Model)
		u.RawQuery = q.Encode()
	}

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+key)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, err
	}

	t := &wsTransport{
		conn:   conn,
		events: make(chan Event, 64),
		log:    d.Logger,
	}
	t.events <- Opened{}
	go t.readLoop()
	return t, nil
}

type wsTransport struct {
	conn   *websocket.Conn
	events chan Event
	log    *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool
}

func (t *wsTransport) Events() <-chan Event { return t.events }

func (t *wsTransport) Send(ctx context.Context, msg any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	return t.conn.WriteJSON(msg)
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		t.closed = true
		_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) readLoop() {
	defer close(t.events)
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			t.writeMu.Lock()
			closing := t.closed
			t.writeMu.Unlock()
			if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
				return
			}
			t.events <- Failed{Err: err}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		ev, err := ParseEvent(data)
		if err != nil {
			t.log.Debug("dropping undecodable event", "err", err, "data", truncate(string(data), 200))
			continue
		}
		t.events <- ev
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
