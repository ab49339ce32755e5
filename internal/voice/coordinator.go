// Package voice drives one learner's voice call: microphone, realtime
// transport, backend bookkeeping, inactivity watchdog and latency sampling.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/voice-tutor/internal/logqueue"
	"github.com/suPer8Hu/voice-tutor/internal/models"
)

const (
	InactivityTimeout = 30 * time.Second
	SampleInterval    = 5 * time.Second
	TickInterval      = time.Second

	ReasonUser     = "user"
	ReasonInactive = "inactive-30s"
	ReasonClosed   = "closed"
	ReasonError    = "error"
)

var (
	ErrBusy         = errors.New("voice: a call is already in progress")
	ErrStartAborted = errors.New("voice: start aborted")

	// ErrVoiceSessionOpen is returned by Backend.StartVoiceSession when the
	// login session still has an open call.
	ErrVoiceSessionOpen = errors.New("voice: voice session already open")
	// ErrRejected marks a backend refusal that retrying cannot fix.
	ErrRejected = errors.New("voice: backend rejected request")
)

type State int

const (
	Idle State = iota
	Starting
	Active
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	}
	return "idle"
}

type Microphone interface {
	Acquire(ctx context.Context) (Stream, error)
}

type Stream interface {
	Live() bool
	Release() error
}

// Bridge hands out the ephemeral credential for the realtime API.
type Bridge interface {
	Token(ctx context.Context) (string, error)
}

type Dialer interface {
	Dial(ctx context.Context, key string, s Stream) (Transport, error)
}

// Transport is an open realtime data channel. Events is closed when the
// channel ends.
type Transport interface {
	Events() <-chan Event
	Send(ctx context.Context, msg any) error
	Close() error
}

// Backend records calls server-side. StartVoiceSession returns the id of
// the new row; StopVoiceSession closes that row only, or the open row of the
// login session when the id is empty.
type Backend interface {
	StartVoiceSession(ctx context.Context) (string, error)
	StopVoiceSession(ctx context.Context, voiceSessionID string, durationSec int, reason string) error
	LogConversation(ctx context.Context, role models.Role, text string) error
}

type Pinger interface {
	Ping(ctx context.Context, target string) (time.Duration, error)
}

// Snapshot is the UI-facing view of the coordinator. Nil latencies are
// unknown.
type Snapshot struct {
	State            State
	DurationSec      int
	TransportLatency *time.Duration
	BackendLatency   *time.Duration
	APILatency       *time.Duration
	Advisory         Advisory
}

type Options struct {
	UserAgent     string
	BackendTarget string
	APITarget     string
	Clock         Clock
	Logger        *slog.Logger
	QueueSize     int
	RetryInterval time.Duration
}

type outboxKind int

const (
	outboxLog outboxKind = iota
	outboxStop
)

type outboxItem struct {
	kind           outboxKind
	role           models.Role
	text           string
	voiceSessionID string
	duration       int
	reason         string
}

type Coordinator struct {
	mic     Microphone
	bridge  Bridge
	dialer  Dialer
	backend Backend
	pinger  Pinger

	clock         Clock
	log           *slog.Logger
	ua            string
	backendTarget string
	apiTarget     string
	outbox        *logqueue.Queue[outboxItem]

	mu             sync.Mutex
	state          State
	gen            uint64
	cancelStart    context.CancelFunc
	// aborting is the gen of a Start that was stopped and still holds resources
	aborting       uint64
	stream         Stream
	transport      Transport
	opened         bool
	voiceSessionID string

	ticker    Timer
	watchdog  Timer
	watchGen  uint64
	sampler   Timer
	pingTimer Timer

	duration         int
	transportLatency *time.Duration
	backendLatency   *time.Duration
	apiLatency       *time.Duration
	advisory         Advisory
	baselineDone     bool
	// responses whose transcript was already logged from TranscriptDone
	loggedResponses map[string]bool
}

func NewCoordinator(mic Microphone, bridge Bridge, dialer Dialer, backend Backend, pinger Pinger, opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Coordinator{
		mic:             mic,
		bridge:          bridge,
		dialer:          dialer,
		backend:         backend,
		pinger:          pinger,
		clock:           opts.Clock,
		log:             opts.Logger,
		ua:              opts.UserAgent,
		backendTarget:   opts.BackendTarget,
		apiTarget:       opts.APITarget,
		loggedResponses: map[string]bool{},
	}
	c.outbox = logqueue.New("voice_backend", opts.QueueSize, opts.RetryInterval, c.deliver, opts.Logger)
	return c
}

// Run delivers queued backend writes until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	c.outbox.Run(ctx)
}

// FlushLogs delivers queued backend writes now.
func (c *Coordinator) FlushLogs(ctx context.Context) int {
	return c.outbox.Flush(ctx)
}

type resources struct {
	stream         Stream
	transport      Transport
	opened         bool
	voiceSessionID string
}

// Start moves Idle to Starting and acquires everything a call needs. The
// call becomes Active when the transport reports Opened.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = Starting
	c.gen++
	gen := c.gen
	sctx, cancel := context.WithCancel(ctx)
	c.cancelStart = cancel
	c.advisory = AdvisoryNone
	c.mu.Unlock()
	defer cancel()

	res, err := c.acquire(sctx)
	if err != nil {
		c.failStart(gen, err)
		return err
	}

	c.mu.Lock()
	if c.gen != gen || c.state != Starting {
		c.mu.Unlock()
		c.release(res, "start-aborted")
		c.finishAbort(gen)
		return ErrStartAborted
	}
	c.stream = res.stream
	c.transport = res.transport
	c.opened = true
	c.voiceSessionID = res.voiceSessionID
	c.cancelStart = nil
	c.mu.Unlock()

	go c.pump(gen, res.transport)
	return nil
}

func (c *Coordinator) acquire(ctx context.Context) (*resources, error) {
	if DetectInAppBrowser(c.ua) {
		return nil, &CapabilityError{Kind: CapabilityInAppBrowser}
	}

	stream, err := c.mic.Acquire(ctx)
	if err != nil {
		return nil, asCapabilityError(err)
	}
	res := &resources{stream: stream}
	if !stream.Live() {
		c.release(res, "")
		return nil, &CapabilityError{Kind: CapabilitySilent}
	}

	key, err := c.bridge.Token(ctx)
	if err != nil {
		c.release(res, "")
		return nil, fmt.Errorf("token: %w", err)
	}
	if key == "" {
		c.release(res, "")
		return nil, errors.New("token: missing ephemeral key")
	}

	tr, err := c.dialer.Dial(ctx, key, stream)
	if err != nil {
		c.release(res, "")
		return nil, fmt.Errorf("dial: %w", err)
	}
	res.transport = tr

	id, err := c.openVoiceSession(ctx)
	if err != nil {
		c.release(res, "")
		return nil, fmt.Errorf("voice session: %w", err)
	}
	res.opened = true
	res.voiceSessionID = id
	return res, nil
}

// openVoiceSession drains queued writes first. When the login session
// still has an open row, a queued stop of the previous call is delivered
// with its observed duration; failing that, the open row is closed once
// as stale.
func (c *Coordinator) openVoiceSession(ctx context.Context) (string, error) {
	c.outbox.Flush(ctx)
	id, err := c.backend.StartVoiceSession(ctx)
	if !errors.Is(err, ErrVoiceSessionOpen) {
		return id, err
	}

	if it, ok := c.pendingStop(); ok {
		if serr := c.backend.StopVoiceSession(ctx, it.voiceSessionID, it.duration, it.reason); serr == nil {
			id, err = c.backend.StartVoiceSession(ctx)
			if !errors.Is(err, ErrVoiceSessionOpen) {
				return id, err
			}
		}
	}

	c.log.Info("closing stale voice session")
	if serr := c.backend.StopVoiceSession(ctx, "", 0, "stale"); serr != nil {
		return "", serr
	}
	return c.backend.StartVoiceSession(ctx)
}

// pendingStop is the newest undelivered stop of an earlier call.
func (c *Coordinator) pendingStop() (outboxItem, bool) {
	items := c.outbox.Pending()
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].kind == outboxStop && items[i].voiceSessionID != "" {
			return items[i], true
		}
	}
	return outboxItem{}, false
}

func (c *Coordinator) failStart(gen uint64, err error) {
	var ce *CapabilityError
	isCap := errors.As(err, &ce)

	c.mu.Lock()
	current := c.gen == gen && c.state == Starting
	if current {
		c.state = Idle
		c.cancelStart = nil
		if isCap {
			c.advisory = ce.Advisory()
		}
	}
	c.mu.Unlock()

	if !current {
		c.finishAbort(gen)
		return
	}
	if isCap {
		c.log.Info("microphone unavailable", "kind", ce.Kind.String(), "err", ce.Err)
		return
	}
	c.log.Warn("failed to start session", "err", err)
	c.enqueueLog(models.RoleInfo, "Failed to start session: "+err.Error())
}

// release tears down resources of a start that did not become the call.
func (c *Coordinator) release(res *resources, reason string) {
	c.teardown(res.transport, res.stream)
	if res.opened {
		c.outbox.Enqueue(outboxItem{kind: outboxStop, voiceSessionID: res.voiceSessionID, duration: 0, reason: reason})
	}
}

// finishAbort ends Stopping once the stopped Start of gen let go of its
// resources.
func (c *Coordinator) finishAbort(gen uint64) {
	c.mu.Lock()
	if c.state == Stopping && c.aborting == gen {
		c.state = Idle
		c.aborting = 0
	}
	c.mu.Unlock()
}

func (c *Coordinator) teardown(tr Transport, st Stream) {
	if tr != nil {
		c.safely("close transport", tr.Close)
	}
	if st != nil {
		c.safely("release microphone", st.Release)
	}
}

// safely runs one teardown step; its failure never skips the others.
func (c *Coordinator) safely(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("teardown step panicked", "step", step, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		c.log.Warn("teardown step failed", "step", step, "err", err)
	}
}

func (c *Coordinator) pump(gen uint64, tr Transport) {
	for ev := range tr.Events() {
		c.dispatch(gen, ev)
	}
	c.dispatch(gen, Closed{})
}

// HandleEvent applies one event to the current call.
func (c *Coordinator) HandleEvent(ev Event) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.dispatch(gen, ev)
}

func (c *Coordinator) dispatch(gen uint64, ev Event) {
	if _, ok := ev.(Opened); ok {
		c.onOpen(gen)
		return
	}

	c.mu.Lock()
	if c.gen != gen || (c.state != Active && c.state != Starting) {
		c.mu.Unlock()
		return
	}

	var lines []string
	var userLine string
	switch e := ev.(type) {
	case ResponseCreated, ResponseDelta:
		c.rearmLocked(gen)
	case TranscriptDone:
		if e.Text != "" {
			lines = append(lines, e.Text)
			if e.ResponseID != "" {
				c.loggedResponses[e.ResponseID] = true
			}
		}
		c.rearmLocked(gen)
	case ResponseDone:
		c.rearmLocked(gen)
		if !c.loggedResponses[e.ResponseID] {
			lines = append(lines, e.Transcripts...)
		}
		delete(c.loggedResponses, e.ResponseID)
	case UserTranscript:
		userLine = e.Text
	case Pong:
		if e.PingTimestamp > 0 {
			d := c.clock.Now().Sub(time.UnixMilli(e.PingTimestamp))
			if d < 0 {
				d = 0
			}
			c.transportLatency = &d
		}
	case ServerError:
		c.mu.Unlock()
		c.log.Warn("realtime error event", "message", e.Message)
		c.enqueueLog(models.RoleInfo, "Realtime error: "+e.Message)
		return
	case Closed:
		c.mu.Unlock()
		c.enqueueLog(models.RoleInfo, "Data channel closed")
		c.stop(gen, ReasonClosed)
		return
	case Failed:
		c.mu.Unlock()
		msg := "unknown"
		if e.Err != nil {
			msg = e.Err.Error()
		}
		c.enqueueLog(models.RoleInfo, "Data channel error: "+msg)
		c.stop(gen, ReasonError)
		return
	case Unknown:
		c.mu.Unlock()
		c.log.Debug("ignoring event", "type", e.Type)
		return
	}
	c.mu.Unlock()

	for _, l := range lines {
		c.enqueueLog(models.RoleSystem, l)
	}
	if userLine != "" {
		c.enqueueLog(models.RoleUser, userLine)
	}
}

// onOpen confirms Starting to Active and starts the call timers.
func (c *Coordinator) onOpen(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != Starting || c.transport == nil {
		c.mu.Unlock()
		return
	}
	c.state = Active
	c.duration = 0
	c.ticker = c.clock.Every(TickInterval, func() { c.tick(gen) })
	c.sampler = c.clock.Every(SampleInterval, func() { c.sample(gen) })
	c.pingTimer = c.clock.Every(SampleInterval, func() { c.sendPing(gen) })
	c.rearmLocked(gen)
	c.mu.Unlock()

	c.enqueueLog(models.RoleInfo, "Data channel opened")
}

func (c *Coordinator) rearmLocked(gen uint64) {
	if c.state != Active {
		return
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.watchGen++
	wg := c.watchGen
	c.watchdog = c.clock.AfterFunc(InactivityTimeout, func() { c.inactive(gen, wg) })
}

func (c *Coordinator) inactive(gen, wg uint64) {
	c.mu.Lock()
	if c.gen != gen || c.watchGen != wg || c.state != Active {
		c.mu.Unlock()
		return
	}
	c.advisory = AdvisoryInactive
	c.mu.Unlock()

	c.log.Info("no response from AI, ending call", "timeout", InactivityTimeout)
	c.stop(gen, ReasonInactive)
}

func (c *Coordinator) tick(gen uint64) {
	c.mu.Lock()
	if c.gen == gen && c.state == Active {
		c.duration++
	}
	c.mu.Unlock()
}

func (c *Coordinator) sample(gen uint64) {
	backend, api := c.measure()

	c.mu.Lock()
	if c.gen == gen && c.state == Active {
		c.backendLatency, c.apiLatency = backend, api
	}
	c.mu.Unlock()
}

func (c *Coordinator) sendPing(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != Active || c.transport == nil {
		c.mu.Unlock()
		return
	}
	tr := c.transport
	now := c.clock.Now()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), SampleInterval)
	defer cancel()
	msg := map[string]any{"type": "ping", "pingTimestamp": now.UnixMilli(), "event_id": uuid.NewString()}
	if err := tr.Send(ctx, msg); err != nil {
		c.log.Debug("transport ping failed", "err", err)
	}
}

// measure samples both latency targets. A failed sample is nil.
func (c *Coordinator) measure() (backend, api *time.Duration) {
	if c.pinger == nil {
		return nil, nil
	}
	probe := func(target string) *time.Duration {
		if target == "" {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), SampleInterval)
		defer cancel()
		d, err := c.pinger.Ping(ctx, target)
		if err != nil {
			c.log.Debug("latency sample failed", "target", target, "err", err)
			return nil
		}
		return &d
	}
	return probe(c.backendTarget), probe(c.apiTarget)
}

// SampleBaseline measures backend and API latency once, before any call.
// Later calls report false and do nothing.
func (c *Coordinator) SampleBaseline() bool {
	c.mu.Lock()
	if c.baselineDone {
		c.mu.Unlock()
		return false
	}
	c.baselineDone = true
	c.mu.Unlock()

	backend, api := c.measure()

	c.mu.Lock()
	c.backendLatency, c.apiLatency = backend, api
	c.mu.Unlock()
	return true
}

// Stop ends the call from any trigger. It is safe to call repeatedly and
// concurrently; only the first call while Starting or Active has effect.
func (c *Coordinator) Stop(reason string) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.stop(gen, reason)
}

func (c *Coordinator) stop(gen uint64, reason string) {
	if reason == "" {
		reason = ReasonUser
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	switch c.state {
	case Idle, Stopping:
		c.mu.Unlock()
		return
	case Starting:
		// the in-flight Start releases what it acquired, then goes Idle
		c.gen++
		c.aborting = gen
		if c.cancelStart != nil {
			c.cancelStart()
		}
		c.cancelStart = nil
		c.state = Stopping
		c.mu.Unlock()
		return
	}

	c.state = Stopping
	tr, st := c.transport, c.stream
	timers := []Timer{c.ticker, c.watchdog, c.sampler, c.pingTimer}
	duration := c.duration
	opened := c.opened
	vsID := c.voiceSessionID
	c.transport, c.stream, c.opened, c.voiceSessionID = nil, nil, false, ""
	c.ticker, c.watchdog, c.sampler, c.pingTimer = nil, nil, nil, nil
	c.mu.Unlock()

	for _, t := range timers {
		if t != nil {
			t.Stop()
		}
	}
	c.teardown(tr, st)

	if opened {
		c.outbox.Enqueue(outboxItem{kind: outboxStop, voiceSessionID: vsID, duration: duration, reason: reason})
	}
	if reason == ReasonInactive {
		c.enqueueLog(models.RoleInfo, "Session terminated due to 30s inactivity from AI.")
	} else {
		c.enqueueLog(models.RoleInfo, fmt.Sprintf("Session ended (%s) after %ds", reason, duration))
	}

	c.mu.Lock()
	c.state = Idle
	c.duration = 0
	c.transportLatency, c.backendLatency, c.apiLatency = nil, nil, nil
	c.loggedResponses = map[string]bool{}
	c.mu.Unlock()
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:            c.state,
		DurationSec:      c.duration,
		TransportLatency: copyDuration(c.transportLatency),
		BackendLatency:   copyDuration(c.backendLatency),
		APILatency:       copyDuration(c.apiLatency),
		Advisory:         c.advisory,
	}
}

func (c *Coordinator) DismissAdvisory() {
	c.mu.Lock()
	c.advisory = AdvisoryNone
	c.mu.Unlock()
}

func (c *Coordinator) enqueueLog(role models.Role, text string) {
	c.outbox.Enqueue(outboxItem{kind: outboxLog, role: role, text: text})
}

// deliver is the outbox sink. Rejections are dropped, everything else is
// retried by the queue.
func (c *Coordinator) deliver(ctx context.Context, it outboxItem) error {
	var err error
	switch it.kind {
	case outboxStop:
		err = c.backend.StopVoiceSession(ctx, it.voiceSessionID, it.duration, it.reason)
	default:
		err = c.backend.LogConversation(ctx, it.role, it.text)
	}
	if errors.Is(err, ErrRejected) {
		c.log.Warn("backend rejected write, dropping", "err", err)
		return nil
	}
	return err
}

func copyDuration(d *time.Duration) *time.Duration {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
