// Package progress decides where a document resumes and keeps the device and remote
// progress tiers moving together afterwards.
package progress

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

// State is the reconciler's position in its open sequence.
type State int

const (
	StateIdle State = iota
	StateLocalLoaded
	StateReconciled
	StateReady
)

func (state State) String() string {
	switch state {
	case StateIdle:
		return "idle"
	case StateLocalLoaded:
		return "local_loaded"
	case StateReconciled:
		return "reconciled"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Behavior selects how the surface moves to a page.
type Behavior string

const (
	BehaviorInstant  Behavior = "instant"
	BehaviorAnimated Behavior = "animated"
)

var (
	errMissingDocumentKey = errors.New("progress: document key required")
	errMissingLocalCache  = errors.New("progress: local cache required")
)

// RemoteStore is the user-scoped progress tier.
type RemoteStore interface {
	FetchProgress(ctx context.Context, documentKey, userID string) (reading.Progress, bool, error)
	StoreProgress(ctx context.Context, documentKey string, progress reading.Progress) error
}

// Navigator moves the editing surface to a page.
type Navigator interface {
	NavigateTo(ctx context.Context, page int, behavior Behavior) error
}

// Submitter runs work off the caller's path.
type Submitter interface {
	Submit(name string, run tasks.Func)
}

// ReconcilerConfig wires a Reconciler to one document open. Remote, UserID and Tasks
// are optional; without them progress stays device-local.
type ReconcilerConfig struct {
	DocumentKey string
	UserID      string
	Local       LocalCache
	Remote      RemoteStore
	Navigator   Navigator
	Tasks       Submitter
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Reconciler merges local and remote progress at open and tracks page changes afterwards.
type Reconciler struct {
	documentKey string
	userID      string
	local       LocalCache
	remote      RemoteStore
	navigator   Navigator
	tasks       Submitter
	clock       func() time.Time
	logger      *zap.Logger

	mu             sync.Mutex
	state          State
	localEntry     Entry
	resumePage     int
	totalPages     int
	surfaceReady   bool
	navigated      bool
	resumeComplete bool
}

// NewReconciler validates the configuration.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	documentKey := strings.TrimSpace(cfg.DocumentKey)
	if documentKey == "" {
		return nil, errMissingDocumentKey
	}
	if cfg.Local == nil {
		return nil, errMissingLocalCache
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		documentKey: documentKey,
		userID:      strings.TrimSpace(cfg.UserID),
		local:       cfg.Local,
		remote:      cfg.Remote,
		navigator:   cfg.Navigator,
		tasks:       cfg.Tasks,
		clock:       clock,
		logger:      logger.With(zap.String("document_key", documentKey)),
		state:       StateIdle,
	}, nil
}

// LoadLocal reads the device tier. The returned page lets the surface start moving
// before the remote answer arrives.
func (r *Reconciler) LoadLocal(ctx context.Context) int {
	entry, found, err := r.local.Load(ctx, r.documentKey)
	if err != nil {
		r.logger.Warn("local progress read failed", zap.Error(err))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if found {
		r.localEntry = entry
	}
	if r.state == StateIdle {
		r.state = StateLocalLoaded
	}
	return r.localEntry.LastPage
}

// Open runs the full open sequence and returns the resume page. When the surface has
// already reported ready, the resume navigation happens before Open returns.
func (r *Reconciler) Open(ctx context.Context) int {
	if r.State() == StateIdle {
		r.LoadLocal(ctx)
	}

	r.mu.Lock()
	local := r.localEntry
	r.mu.Unlock()

	resume := local.LastPage
	total := local.TotalPages
	if remote, ok := r.fetchRemote(ctx); ok && remote.LastPage > local.LastPage {
		resume = remote.LastPage
		total = remote.TotalPages
		adopted := Entry{LastPage: remote.LastPage, TotalPages: remote.TotalPages, LastUpdated: r.clock().UTC()}
		if err := r.local.Store(ctx, r.documentKey, adopted); err != nil {
			r.logger.Warn("local progress overwrite failed", zap.Error(err))
		}
		r.logger.Debug("remote progress adopted", zap.Int("local_page", local.LastPage), zap.Int("remote_page", remote.LastPage))
	}

	r.mu.Lock()
	r.resumePage = resume
	r.totalPages = total
	r.state = StateReconciled
	ready := r.surfaceReady
	r.mu.Unlock()

	if ready {
		r.resume(ctx)
	}
	return resume
}

func (r *Reconciler) fetchRemote(ctx context.Context) (reading.Progress, bool) {
	if r.remote == nil || r.userID == "" {
		return reading.Progress{}, false
	}
	remote, found, err := r.remote.FetchProgress(ctx, r.documentKey, r.userID)
	if err != nil {
		r.logger.Info("remote progress unavailable; using local", zap.Error(err))
		return reading.Progress{}, false
	}
	return remote, found
}

// SurfaceReady records that the surface is laid out. The resume navigation fires at most
// once per open, as soon as both the surface is ready and the resume page is known.
func (r *Reconciler) SurfaceReady(ctx context.Context) {
	r.mu.Lock()
	r.surfaceReady = true
	reconciled := r.state >= StateReconciled
	r.mu.Unlock()
	if reconciled {
		r.resume(ctx)
	}
}

func (r *Reconciler) resume(ctx context.Context) {
	r.mu.Lock()
	if r.navigated {
		r.mu.Unlock()
		return
	}
	r.navigated = true
	page := r.resumePage
	r.mu.Unlock()

	// Page changes emitted while navigating are still suppressed: resumeComplete is
	// only set after NavigateTo returns.
	if page > 1 && r.navigator != nil {
		if err := r.navigator.NavigateTo(ctx, page, BehaviorInstant); err != nil {
			r.logger.Warn("resume navigation failed", zap.Int("page", page), zap.Error(err))
		}
	}

	r.mu.Lock()
	r.resumeComplete = true
	r.state = StateReady
	r.mu.Unlock()
}

// PageChanged records a new position. It reports false when the change was discarded
// because the resume sequence has not completed.
func (r *Reconciler) PageChanged(ctx context.Context, page, totalPages int) bool {
	if page < 1 {
		return false
	}
	r.mu.Lock()
	if !r.resumeComplete {
		r.mu.Unlock()
		r.logger.Debug("page change before resume ignored", zap.Int("page", page))
		return false
	}
	if totalPages > 0 {
		r.totalPages = totalPages
	}
	total := r.totalPages
	now := r.clock().UTC()
	r.mu.Unlock()

	if err := r.local.Store(ctx, r.documentKey, Entry{LastPage: page, TotalPages: total, LastUpdated: now}); err != nil {
		r.logger.Warn("local progress write failed", zap.Int("page", page), zap.Error(err))
	}

	if r.remote != nil && r.userID != "" && r.tasks != nil {
		documentKey := r.documentKey
		progress := reading.Progress{LastPage: page, TotalPages: total}
		r.tasks.Submit("progress.store", func(taskCtx context.Context) error {
			return r.remote.StoreProgress(taskCtx, documentKey, progress)
		})
	}
	return true
}

// State reports the current position in the open sequence.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ResumePage reports the reconciled page; zero before Open completes.
func (r *Reconciler) ResumePage() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumePage
}

// ResumeComplete reports whether page changes are being tracked.
func (r *Reconciler) ResumeComplete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resumeComplete
}
