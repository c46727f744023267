// Package presence keeps a user's online flag fresh while a client session is
// alive and flips it on lifecycle events.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	writeTimeout             = 5 * time.Second
)

// Writer persists a presence flag. Writes are last-write-wins.
type Writer interface {
	SetPresence(ctx context.Context, userID string, online bool) error
}

type Event int

const (
	EventUnload Event = iota
	EventVisibilityHidden
	EventVisibilityVisible
	EventFocus
	EventBlur
)

func (e Event) String() string {
	switch e {
	case EventUnload:
		return "unload"
	case EventVisibilityHidden:
		return "visibility_hidden"
	case EventVisibilityVisible:
		return "visibility_visible"
	case EventFocus:
		return "focus"
	case EventBlur:
		return "blur"
	default:
		return "unknown"
	}
}

// Online reports the presence flag an event maps to.
func (e Event) Online() bool {
	return e == EventVisibilityVisible || e == EventFocus
}

type tickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Tracker owns at most one live Session.
type Tracker struct {
	writer    Writer
	interval  time.Duration
	logger    *zap.Logger
	newTicker tickerFunc

	startMu sync.Mutex
	mu      sync.Mutex
	current *Session
}

func NewTracker(writer Writer, interval time.Duration, logger *zap.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		writer:    writer,
		interval:  interval,
		logger:    logger,
		newTicker: realTicker,
	}
}

// Start stops any session the tracker already runs, marks userID online and
// arms the keepalive. The session ends on Stop or when ctx is done.
func (t *Tracker) Start(ctx context.Context, userID string) *Session {
	t.startMu.Lock()
	defer t.startMu.Unlock()

	if prior := t.Current(); prior != nil {
		prior.Stop()
	}

	s := &Session{
		tracker: t,
		userID:  userID,
		events:  make(chan Event, 16),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.write(ctx, true)

	tick, stopTick := t.newTicker(t.interval)

	t.mu.Lock()
	t.current = s
	t.mu.Unlock()

	go s.run(ctx, tick, stopTick)
	return s
}

// Current returns the live session, or nil.
func (t *Tracker) Current() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Tracker) clear(s *Session) {
	t.mu.Lock()
	if t.current == s {
		t.current = nil
	}
	t.mu.Unlock()
}

// Session is the scoped handle returned by Start.
type Session struct {
	tracker *Tracker
	userID  string
	events  chan Event
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (s *Session) UserID() string { return s.userID }

// Dispatch feeds a lifecycle event to the session. It returns false once the
// session has stopped.
func (s *Session) Dispatch(ev Event) bool {
	select {
	case <-s.done:
		return false
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.stop:
		return false
	case <-s.done:
		return false
	}
}

// Stop ends the keepalive, ignores further events and marks the user offline.
// It waits for the session goroutine to exit and is safe to call repeatedly.
func (s *Session) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// Done is closed once the session has fully stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run(ctx context.Context, tick <-chan time.Time, stopTick func()) {
	defer close(s.done)
	defer s.tracker.clear(s)
	defer s.write(context.WithoutCancel(ctx), false)
	defer stopTick()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-tick:
			s.write(ctx, true)
		case ev := <-s.events:
			s.tracker.logger.Debug("presence event",
				zap.String("user_id", s.userID), zap.Stringer("event", ev))
			s.write(ctx, ev.Online())
		}
	}
}

func (s *Session) write(ctx context.Context, online bool) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.tracker.writer.SetPresence(ctx, s.userID, online); err != nil {
		s.tracker.logger.Warn("presence write failed",
			zap.String("user_id", s.userID), zap.Bool("online", online), zap.Error(err))
	}
}
