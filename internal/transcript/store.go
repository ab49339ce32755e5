// Package transcript keeps a human-readable copy of each conversation on
// disk, one directory per user and login session.
package transcript

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/suPer8Hu/voice-tutor/internal/models"
)

const fileName = "conversation.txt"

type Line struct {
	At   time.Time
	Role models.Role
	Text string
}

// String renders the on-disk form: "<RFC3339> <ROLE>: <text>".
func (l Line) String() string {
	return l.At.UTC().Format(time.RFC3339) + " " + string(l.Role) + ": " + l.Text
}

type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Path is the transcript file of one login session.
func (s *Store) Path(email, sessionID string) string {
	return filepath.Join(s.dir, safeName(email), safeName(sessionID), fileName)
}

func (s *Store) Append(email, sessionID string, role models.Role, text string) error {
	path := s.Path(email, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock transcript: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	line := Line{At: s.now(), Role: role, Text: flatten(text)}
	if _, err := f.WriteString(line.String() + "\n"); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

// Read returns every line of a transcript. A missing file is an empty transcript.
func (s *Store) Read(email, sessionID string) ([]Line, error) {
	f, err := os.Open(s.Path(email, sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Line
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		l, ok := parseLine(sc.Text())
		if ok {
			out = append(out, l)
		}
	}
	return out, sc.Err()
}

func parseLine(raw string) (Line, bool) {
	ts, rest, ok := strings.Cut(raw, " ")
	if !ok {
		return Line{}, false
	}
	at, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return Line{}, false
	}
	role, text, ok := strings.Cut(rest, ": ")
	if !ok {
		return Line{}, false
	}
	return Line{At: at, Role: models.Role(role), Text: text}, true
}

func flatten(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}

// safeName keeps path components inside the store directory.
func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
}
