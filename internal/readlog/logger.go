// Package readlog records best-effort reading sessions: how long a document stayed open
// and how much of it was seen.
package readlog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/reading"
	"github.com/MarcoPoloResearchLab/folio/internal/tasks"
	"go.uber.org/zap"
)

const (
	DefaultFlushInterval = 30 * time.Second
	finalFlushTimeout    = 2 * time.Second
)

var (
	errMissingDocumentKey = errors.New("readlog: document key required")
	errMissingStore       = errors.New("readlog: store required")
	errMissingTasks       = errors.New("readlog: task queue required")
)

// Store is the backend side of reading sessions.
type Store interface {
	OpenSession(ctx context.Context, documentKey string, deviceClass reading.DeviceClass) (string, error)
	UpdateSession(ctx context.Context, sessionID string, counters reading.SessionCounters) error
}

// Submitter runs work off the caller's path.
type Submitter interface {
	Submit(name string, run tasks.Func)
}

// Config wires a Logger to one document open.
type Config struct {
	DocumentKey   string
	ViewportWidth int
	Store         Store
	Tasks         Submitter
	FlushInterval time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
}

type mode int

const (
	modePending mode = iota
	modeActive
	modeNoop
	modeClosed
)

// Logger tracks one reading session.
type Logger struct {
	documentKey   string
	deviceClass   reading.DeviceClass
	store         Store
	tasks         Submitter
	flushInterval time.Duration
	clock         func() time.Time
	logger        *zap.Logger

	mu          sync.Mutex
	mode        mode
	sessionID   string
	startedAt   time.Time
	pages       map[int]struct{}
	currentPage int
	totalPages  int

	stop    chan struct{}
	stopped chan struct{}
}

// New validates the configuration.
func New(cfg Config) (*Logger, error) {
	documentKey := strings.TrimSpace(cfg.DocumentKey)
	switch {
	case documentKey == "":
		return nil, errMissingDocumentKey
	case cfg.Store == nil:
		return nil, errMissingStore
	case cfg.Tasks == nil:
		return nil, errMissingTasks
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		documentKey:   documentKey,
		deviceClass:   reading.DeviceClassForWidth(cfg.ViewportWidth),
		store:         cfg.Store,
		tasks:         cfg.Tasks,
		flushInterval: interval,
		clock:         clock,
		logger:        logger.With(zap.String("document_key", documentKey)),
		pages:         make(map[int]struct{}),
	}, nil
}

// Start opens the backend session and starts the periodic flush. A failure leaves the
// logger in no-op mode for the rest of the open.
func (l *Logger) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.mode != modePending {
		l.mu.Unlock()
		return nil
	}
	l.startedAt = l.clock()
	l.mu.Unlock()

	sessionID, err := l.store.OpenSession(ctx, l.documentKey, l.deviceClass)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode == modeClosed {
		return nil
	}
	if err != nil {
		l.mode = modeNoop
		l.logger.Info("reading session unavailable; logging disabled", zap.Error(err))
		return err
	}
	l.mode = modeActive
	l.sessionID = sessionID
	l.stop = make(chan struct{})
	l.stopped = make(chan struct{})
	go l.tick(l.stop, l.stopped)
	l.logger.Debug("reading session started",
		zap.String("session_id", sessionID),
		zap.String("device_class", string(l.deviceClass)))
	if l.currentPage > 0 {
		l.flushLocked("session.flush")
	}
	return nil
}

// PageChanged updates the counters and flushes them.
func (l *Logger) PageChanged(page, totalPages int) {
	if page < 1 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode == modeNoop || l.mode == modeClosed {
		return
	}
	l.pages[page] = struct{}{}
	l.currentPage = page
	if totalPages > 0 {
		l.totalPages = totalPages
	}
	l.flushLocked("session.flush")
}

// Counters returns the values the next flush would send.
func (l *Logger) Counters() reading.SessionCounters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.countersLocked()
}

// SessionID is empty until Start succeeds.
func (l *Logger) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// DeviceClass reports the class derived from the viewport width.
func (l *Logger) DeviceClass() reading.DeviceClass {
	return l.deviceClass
}

// Close stops the periodic flush and queues one final flush with a short deadline.
func (l *Logger) Close() {
	l.mu.Lock()
	if l.mode == modeClosed {
		l.mu.Unlock()
		return
	}
	active := l.mode == modeActive
	l.mode = modeClosed
	stop, stopped := l.stop, l.stopped
	l.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}
	if !active {
		return
	}

	l.mu.Lock()
	sessionID := l.sessionID
	counters := l.countersLocked()
	l.mu.Unlock()
	l.tasks.Submit("session.final_flush", func(ctx context.Context) error {
		flushCtx, cancel := context.WithTimeout(ctx, finalFlushTimeout)
		defer cancel()
		return l.store.UpdateSession(flushCtx, sessionID, counters)
	})
}

func (l *Logger) tick(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			if l.mode == modeActive {
				l.flushLocked("session.periodic_flush")
			}
			l.mu.Unlock()
		}
	}
}

func (l *Logger) flushLocked(name string) {
	if l.mode != modeActive || l.sessionID == "" {
		return
	}
	sessionID := l.sessionID
	counters := l.countersLocked()
	l.tasks.Submit(name, func(ctx context.Context) error {
		return l.store.UpdateSession(ctx, sessionID, counters)
	})
}

func (l *Logger) countersLocked() reading.SessionCounters {
	viewed := len(l.pages)
	if l.totalPages > 0 && viewed > l.totalPages {
		viewed = l.totalPages
	}
	var duration int64
	if !l.startedAt.IsZero() {
		duration = int64(l.clock().Sub(l.startedAt) / time.Second)
		if duration < 0 {
			duration = 0
		}
	}
	return reading.SessionCounters{
		PagesViewed:     viewed,
		LastPage:        l.currentPage,
		DurationSeconds: duration,
	}
}
