package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/suPer8Hu/voice-tutor/internal/models"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	every   time.Duration
	f       func()
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.add(d, 0, f)
}

func (c *fakeClock) Every(d time.Duration, f func()) Timer {
	return c.add(d, d, f)
}

func (c *fakeClock) add(d, every time.Duration, f func()) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), every: every, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() {
	t.c.mu.Lock()
	t.stopped = true
	t.c.mu.Unlock()
}

// Advance moves time forward and runs due callbacks in order, outside the
// clock's lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.at.After(end) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = end
			c.mu.Unlock()
			return
		}
		c.now = next.at
		if next.every > 0 {
			next.at = next.at.Add(next.every)
		} else {
			next.stopped = true
		}
		f := next.f
		c.mu.Unlock()
		f()
	}
}

func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type fakeStream struct {
	mu         sync.Mutex
	live       bool
	released   int
	releaseErr error
	panics     bool
}

func (s *fakeStream) Live() bool { return s.live }

func (s *fakeStream) Release() error {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
	if s.panics {
		panic("track already stopped")
	}
	return s.releaseErr
}

func (s *fakeStream) releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type fakeMic struct {
	stream *fakeStream
	err    error
	calls  int
}

func (m *fakeMic) Acquire(context.Context) (Stream, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type fakeBridge struct {
	key   string
	err   error
	calls int
	// block, when set, makes Token wait for ctx after signalling entered
	block   bool
	entered chan struct{}
}

func (b *fakeBridge) Token(ctx context.Context) (string, error) {
	b.calls++
	if b.block {
		close(b.entered)
		<-ctx.Done()
		return "", ctx.Err()
	}
	return b.key, b.err
}

type fakeTransport struct {
	mu       sync.Mutex
	events   chan Event
	sent     []any
	closed   int
	closeErr error
	once     sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan Event, 16)}
}

func (t *fakeTransport) Events() <-chan Event { return t.events }

func (t *fakeTransport) Send(_ context.Context, msg any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed++
	t.mu.Unlock()
	t.once.Do(func() { close(t.events) })
	return t.closeErr
}

func (t *fakeTransport) closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type fakeDialer struct {
	transport *fakeTransport
	err       error
	key       string
}

func (d *fakeDialer) Dial(_ context.Context, key string, _ Stream) (Transport, error) {
	d.key = key
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

type logLine struct {
	Role models.Role
	Text string
}

type stopCall struct {
	ID       string
	Duration int
	Reason   string
}

type fakeBackend struct {
	mu        sync.Mutex
	starts    int
	startErrs []error
	stops     []stopCall
	logs      []logLine
	down      bool
}

func (b *fakeBackend) StartVoiceSession(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	if len(b.startErrs) > 0 {
		err := b.startErrs[0]
		b.startErrs = b.startErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("vs-%d", b.starts), nil
}

func (b *fakeBackend) StopVoiceSession(_ context.Context, id string, d int, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errors.New("backend down")
	}
	b.stops = append(b.stops, stopCall{id, d, reason})
	return nil
}

// rowBackend keeps voice session rows the way the server does: one open
// row per login session, stops addressed by id.
type rowBackend struct {
	mu sync.Mutex
	// failStops makes that many stop deliveries fail before any succeeds
	failStops int
	rows      []*row
	logs      []logLine
}

type row struct {
	id       string
	ended    bool
	duration int
}

func (b *rowBackend) StartVoiceSession(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.rows {
		if !r.ended {
			return "", ErrVoiceSessionOpen
		}
	}
	r := &row{id: fmt.Sprintf("vs-%d", len(b.rows)+1)}
	b.rows = append(b.rows, r)
	return r.id, nil
}

func (b *rowBackend) StopVoiceSession(_ context.Context, id string, d int, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failStops > 0 {
		b.failStops--
		return errors.New("backend down")
	}
	for _, r := range b.rows {
		if r.ended || (id != "" && r.id != id) {
			continue
		}
		r.ended, r.duration = true, d
		break
	}
	return nil
}

func (b *rowBackend) LogConversation(_ context.Context, role models.Role, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = append(b.logs, logLine{role, text})
	return nil
}

func (b *rowBackend) snapshot() []row {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]row, 0, len(b.rows))
	for _, r := range b.rows {
		out = append(out, *r)
	}
	return out
}

func (b *fakeBackend) LogConversation(_ context.Context, role models.Role, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errors.New("backend down")
	}
	b.logs = append(b.logs, logLine{role, text})
	return nil
}

func (b *fakeBackend) snapshot() (int, []stopCall, []logLine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts, append([]stopCall(nil), b.stops...), append([]logLine(nil), b.logs...)
}

type fakePinger struct {
	mu    sync.Mutex
	calls map[string]int
	d     time.Duration
	fail  bool
}

func (p *fakePinger) Ping(_ context.Context, target string) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[target]++
	if p.fail {
		return 0, errors.New("unreachable")
	}
	return p.d, nil
}

func (p *fakePinger) count(target string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[target]
}
