package voice

import (
	"sync"
	"time"
)

// Clock schedules the coordinator's timers. Callbacks run on their own
// goroutine in the system clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Every(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop()
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return afterTimer{time.AfterFunc(d, f)}
}

func (SystemClock) Every(d time.Duration, f func()) Timer {
	t := &tickTimer{t: time.NewTicker(d), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-t.t.C:
				f()
			case <-t.done:
				return
			}
		}
	}()
	return t
}

type afterTimer struct{ t *time.Timer }

func (a afterTimer) Stop() { a.t.Stop() }

type tickTimer struct {
	t    *time.Ticker
	done chan struct{}
	once sync.Once
}

func (t *tickTimer) Stop() {
	t.once.Do(func() {
		t.t.Stop()
		close(t.done)
	})
}
