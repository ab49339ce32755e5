package conversation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/suPer8Hu/voice-tutor/internal/logging"
	"github.com/suPer8Hu/voice-tutor/internal/models"
	"github.com/suPer8Hu/voice-tutor/internal/testsupport"
	"gorm.io/gorm"
)

type recordingMirror struct {
	lines []string
	err   error
}

func (m *recordingMirror) Append(email, sessionID string, role models.Role, text string) error {
	m.lines = append(m.lines, email+"|"+sessionID+"|"+string(role)+"|"+text)
	return m.err
}

func setup(t *testing.T) (*gorm.DB, *Service, Caller) {
	t.Helper()
	gdb := testsupport.OpenDB(t)
	u := testsupport.CreateUser(t, gdb, "demo@demo.com", "demopassword")
	sess := testsupport.CreateAuthSession(t, gdb, u.ID)
	svc := NewService(NewRepo(gdb), nil, logging.Discard())
	return gdb, svc, Caller{UserID: u.ID, Email: u.Email, SessionID: sess.ID, IP: "127.0.0.1", UserAgent: "test"}
}

func TestStartLogStop_ClosesOnlyThatRow(t *testing.T) {
	gdb, svc, caller := setup(t)
	ctx := context.Background()

	// an unrelated closed call of another login session
	other := testsupport.CreateAuthSession(t, gdb, caller.UserID)
	otherCaller := caller
	otherCaller.SessionID = other.ID
	prev, err := svc.Start(ctx, otherCaller)
	if err != nil {
		t.Fatalf("start other: %v", err)
	}
	if _, err := svc.Stop(ctx, otherCaller, "", 7); err != nil {
		t.Fatalf("stop other: %v", err)
	}

	vs, err := svc.Start(ctx, caller)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !vs.Open() {
		t.Fatalf("expected new voice session to be open")
	}

	if _, err := svc.Append(ctx, caller, models.RoleSystem, "Hi"); err != nil {
		t.Fatalf("append: %v", err)
	}

	closed, err := svc.Stop(ctx, caller, "", 42)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if closed == nil || closed.ID != vs.ID {
		t.Fatalf("expected %s to be closed, got %+v", vs.ID, closed)
	}

	var rows []models.VoiceSession
	if err := gdb.Order("started_at ASC").Find(&rows).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 voice sessions, got %d", len(rows))
	}
	if rows[0].ID != prev.ID || *rows[0].DurationSec != 7 {
		t.Fatalf("previous row changed: %+v", rows[0])
	}
	if rows[1].EndedAt == nil || rows[1].DurationSec == nil || *rows[1].DurationSec != 42 {
		t.Fatalf("unexpected closed row: %+v", rows[1])
	}

	var msgs []models.ConversationMessage
	if err := gdb.Find(&msgs).Error; err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].VoiceSessionID != vs.ID || msgs[0].Message != "Hi" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestStop_TwiceIsNoop(t *testing.T) {
	gdb, svc, caller := setup(t)
	ctx := context.Background()

	if _, err := svc.Start(ctx, caller); err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := svc.Stop(ctx, caller, "", 10)
	if err != nil || first == nil {
		t.Fatalf("first stop: %v %v", first, err)
	}

	second, err := svc.Stop(ctx, caller, "", 99)
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if second != nil {
		t.Fatalf("expected no-op, closed %+v", second)
	}

	var vs models.VoiceSession
	if err := gdb.First(&vs, "id = ?", first.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if vs.EndedAt == nil || *vs.DurationSec != 10 {
		t.Fatalf("row was touched again: %+v", vs)
	}
}

func TestStop_WithoutAnyCall(t *testing.T) {
	_, svc, caller := setup(t)
	closed, err := svc.Stop(context.Background(), caller, "", 5)
	if err != nil || closed != nil {
		t.Fatalf("expected no-op, got %v %v", closed, err)
	}
}

func TestStart_RefusesSecondOpenCall(t *testing.T) {
	gdb, svc, caller := setup(t)
	ctx := context.Background()

	if _, err := svc.Start(ctx, caller); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Start(ctx, caller); !errors.Is(err, ErrVoiceSessionOpen) {
		t.Fatalf("expected ErrVoiceSessionOpen, got %v", err)
	}

	var cnt int64
	gdb.Model(&models.VoiceSession{}).Count(&cnt)
	if cnt != 1 {
		t.Fatalf("expected 1 voice session, got %d", cnt)
	}

	if _, err := svc.Stop(ctx, caller, "", 1); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := svc.Start(ctx, caller); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
}

func TestAppend_NSequentialInOrder(t *testing.T) {
	gdb, svc, caller := setup(t)
	ctx := context.Background()

	vs, err := svc.Start(ctx, caller)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	const n = 12
	for i := 0; i < n; i++ {
		role := models.RoleSystem
		if i%3 == 0 {
			role = models.RoleInfo
		}
		if _, err := svc.Append(ctx, caller, role, "line "+strconv.Itoa(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	var msgs []models.ConversationMessage
	if err := gdb.Order("id ASC").Find(&msgs).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(msgs) != n {
		t.Fatalf("expected %d messages, got %d", n, len(msgs))
	}
	for i, m := range msgs {
		if m.VoiceSessionID != vs.ID {
			t.Fatalf("message %d bound to %s", i, m.VoiceSessionID)
		}
		if m.Message != "line "+strconv.Itoa(i) {
			t.Fatalf("message %d out of order: %q", i, m.Message)
		}
		if m.UserID != caller.UserID {
			t.Fatalf("message %d has user %d", i, m.UserID)
		}
	}

	listed, err := svc.Transcript(ctx, caller, vs.ID, 0, 0)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(listed) != n || listed[0].Message != "line 0" {
		t.Fatalf("unexpected transcript listing: %d", len(listed))
	}
}

func TestAppend_AttachesToLatestStarted(t *testing.T) {
	_, svc, caller := setup(t)
	ctx := context.Background()
	now := time.Now()
	svc.now = func() time.Time { return now }

	first, _ := svc.Start(ctx, caller)
	_, _ = svc.Stop(ctx, caller, "", 3)
	now = now.Add(time.Minute)
	second, err := svc.Start(ctx, caller)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}

	msg, err := svc.Append(ctx, caller, models.RoleUser, "hello")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.VoiceSessionID != second.ID || msg.VoiceSessionID == first.ID {
		t.Fatalf("attached to wrong call %s", msg.VoiceSessionID)
	}
}

func TestAppend_Validation(t *testing.T) {
	_, svc, caller := setup(t)
	ctx := context.Background()

	if _, err := svc.Append(ctx, caller, models.RoleSystem, "orphan"); !errors.Is(err, ErrNoVoiceSession) {
		t.Fatalf("expected ErrNoVoiceSession, got %v", err)
	}
	if _, err := svc.Start(ctx, caller); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Append(ctx, caller, "ASSISTANT", "x"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := svc.Append(ctx, caller, models.RoleSystem, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	// roles are case-insensitive on the wire
	m, err := svc.Append(ctx, caller, "system", "ok")
	if err != nil || m.Role != models.RoleSystem {
		t.Fatalf("lowercase role: %v %v", m, err)
	}
}

func TestAppend_MirrorFailureIsContained(t *testing.T) {
	gdb, _, caller := setup(t)
	mirror := &recordingMirror{err: errors.New("disk full")}
	svc := NewService(NewRepo(gdb), mirror, logging.Discard())
	ctx := context.Background()

	if _, err := svc.Start(ctx, caller); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Append(ctx, caller, models.RoleSystem, "hello"); err != nil {
		t.Fatalf("append should ignore mirror failure: %v", err)
	}
	if len(mirror.lines) != 1 || mirror.lines[0] != caller.Email+"|"+caller.SessionID+"|SYSTEM|hello" {
		t.Fatalf("unexpected mirror lines: %v", mirror.lines)
	}
}

func TestTranscript_HidesOtherUsersCalls(t *testing.T) {
	gdb, svc, caller := setup(t)
	ctx := context.Background()
	vs, err := svc.Start(ctx, caller)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	intruder := testsupport.CreateUser(t, gdb, "other@demo.com", "pw")
	_, err = svc.Transcript(ctx, Caller{UserID: intruder.ID}, vs.ID, 0, 0)
	if !errors.Is(err, ErrNoVoiceSession) {
		t.Fatalf("expected ErrNoVoiceSession, got %v", err)
	}
}

func TestStop_ByIDClosesOnlyThatRow(t *testing.T) {
	gdb, svc, caller := setup(t)
	ctx := context.Background()

	first, err := svc.Start(ctx, caller)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Stop(ctx, caller, first.ID, 7); err != nil {
		t.Fatalf("stop first: %v", err)
	}
	second, err := svc.Start(ctx, caller)
	if err != nil {
		t.Fatalf("start second: %v", err)
	}

	// a late stop for the first call must not end the second
	late, err := svc.Stop(ctx, caller, first.ID, 99)
	if err != nil || late != nil {
		t.Fatalf("late stop: %v %v", late, err)
	}
	var row models.VoiceSession
	if err := gdb.First(&row, "id = ?", second.ID).Error; err != nil {
		t.Fatalf("reload second: %v", err)
	}
	if !row.Open() {
		t.Fatalf("second call was closed by a stop for the first: %+v", row)
	}
	if err := gdb.First(&row, "id = ?", first.ID).Error; err != nil {
		t.Fatalf("reload first: %v", err)
	}
	if *row.DurationSec != 7 {
		t.Fatalf("first call duration rewritten: %d", *row.DurationSec)
	}

	// another login session cannot close it either
	other := testsupport.CreateAuthSession(t, gdb, caller.UserID)
	otherCaller := caller
	otherCaller.SessionID = other.ID
	if closed, err := svc.Stop(ctx, otherCaller, second.ID, 1); err != nil || closed != nil {
		t.Fatalf("foreign stop: %v %v", closed, err)
	}

	closed, err := svc.Stop(ctx, caller, second.ID, 12)
	if err != nil || closed == nil || closed.ID != second.ID {
		t.Fatalf("stop second: %v %v", closed, err)
	}
}

func TestStart_TruncatesClientFields(t *testing.T) {
	gdb, svc, caller := setup(t)
	caller.UserAgent = strings.Repeat("x", 600)
	caller.IP = " " + strings.Repeat("9", 80)

	vs, err := svc.Start(context.Background(), caller)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var got models.VoiceSession
	if err := gdb.First(&got, "id = ?", vs.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.UserAgent) != 512 {
		t.Fatalf("user agent length = %d, want 512", len(got.UserAgent))
	}
	if len(got.IP) != 64 {
		t.Fatalf("ip length = %d, want 64", len(got.IP))
	}
}
