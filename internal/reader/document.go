// Package reader owns one document open: it seeds annotations, resumes reading progress
// and logs the session, then routes surface events to the right component.
package reader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/annotate"
	"github.com/MarcoPoloResearchLab/folio/internal/progress"
	"github.com/MarcoPoloResearchLab/folio/internal/readlog"
	"github.com/MarcoPoloResearchLab/folio/internal/tasks"
	"go.uber.org/zap"
)

var (
	errMissingDocumentKey = errors.New("reader: document key required")
	errMissingBackend     = errors.New("reader: backend required")
	errMissingLocalCache  = errors.New("reader: local progress cache required")
	errDocumentClosed     = errors.New("reader: document closed")
)

// Backend is everything the reader persists to.
type Backend interface {
	annotate.Store
	annotate.Loader
	progress.RemoteStore
	readlog.Store
}

// Surface is the editing component showing the document.
type Surface interface {
	annotate.Surface
	progress.Navigator
}

// Config describes one document open.
type Config struct {
	DocumentKey   string
	UserID        string
	Backend       Backend
	LocalCache    progress.LocalCache
	Surface       Surface
	Tasks         *tasks.Queue
	ViewportWidth int
	FlushInterval time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
}

// OpenResult summarizes what happened while opening.
type OpenResult struct {
	Seed       annotate.SeedResult
	ResumePage int
	SessionID  string
}

// Document is the per-open state. The id map and the loaded guard live and die with it.
type Document struct {
	documentKey string
	surface     Surface
	tasks       *tasks.Queue
	ownsTasks   bool
	logger      *zap.Logger

	ids        *annotate.IDMap
	guard      *annotate.LoadGuard
	listener   *annotate.Listener
	seeder     *annotate.Seeder
	reconciler *progress.Reconciler
	sessionLog *readlog.Logger

	startOnce sync.Once
	result    OpenResult

	mu     sync.Mutex
	closed bool
}

// Open builds the document and runs its open sequence.
func Open(ctx context.Context, cfg Config) (*Document, error) {
	document, err := New(cfg)
	if err != nil {
		return nil, err
	}
	document.Start(ctx)
	return document, nil
}

// New builds the per-document components without touching the backend, so the surface
// can be connected to the document before stored annotations are materialized.
func New(cfg Config) (*Document, error) {
	documentKey := strings.TrimSpace(cfg.DocumentKey)
	switch {
	case documentKey == "":
		return nil, errMissingDocumentKey
	case cfg.Backend == nil:
		return nil, errMissingBackend
	case cfg.LocalCache == nil:
		return nil, errMissingLocalCache
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := cfg.Tasks
	ownsTasks := false
	if queue == nil {
		queue = tasks.NewQueue(tasks.QueueConfig{Logger: logger})
		ownsTasks = true
	}

	document := &Document{
		documentKey: documentKey,
		surface:     cfg.Surface,
		tasks:       queue,
		ownsTasks:   ownsTasks,
		logger:      logger.With(zap.String("document_key", documentKey)),
		ids:         annotate.NewIDMap(),
		guard:       &annotate.LoadGuard{},
	}

	var err error
	document.listener, err = annotate.NewListener(annotate.ListenerConfig{
		DocumentKey: documentKey,
		IDMap:       document.ids,
		Store:       cfg.Backend,
		Tasks:       queue,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	document.seeder, err = annotate.NewSeeder(annotate.SeederConfig{
		DocumentKey: documentKey,
		Loader:      cfg.Backend,
		IDMap:       document.ids,
		Guard:       document.guard,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	reconcilerConfig := progress.ReconcilerConfig{
		DocumentKey: documentKey,
		UserID:      cfg.UserID,
		Local:       cfg.LocalCache,
		Remote:      cfg.Backend,
		Tasks:       queue,
		Clock:       cfg.Clock,
		Logger:      logger,
	}
	if cfg.Surface != nil {
		reconcilerConfig.Navigator = cfg.Surface
	}
	document.reconciler, err = progress.NewReconciler(reconcilerConfig)
	if err != nil {
		return nil, err
	}
	document.sessionLog, err = readlog.New(readlog.Config{
		DocumentKey:   documentKey,
		ViewportWidth: cfg.ViewportWidth,
		Store:         cfg.Backend,
		Tasks:         queue,
		FlushInterval: cfg.FlushInterval,
		Clock:         cfg.Clock,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	return document, nil
}

// Start seeds annotations, reconciles progress and opens the reading session
// concurrently. Backend failures degrade the open rather than fail it. Only the first
// call does any work.
func (d *Document) Start(ctx context.Context) OpenResult {
	d.startOnce.Do(func() {
		d.reconciler.LoadLocal(ctx)

		var result OpenResult
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			result.Seed, _ = d.seeder.Seed(ctx, d.materializer())
		}()
		go func() {
			defer wg.Done()
			result.ResumePage = d.reconciler.Open(ctx)
		}()
		go func() {
			defer wg.Done()
			_ = d.sessionLog.Start(ctx)
		}()
		wg.Wait()
		result.SessionID = d.sessionLog.SessionID()
		d.mu.Lock()
		d.result = result
		d.mu.Unlock()

		d.logger.Info("document opened",
			zap.Int("annotations", result.Seed.Loaded),
			zap.Int("skipped_annotations", result.Seed.Skipped),
			zap.Int("resume_page", result.ResumePage),
			zap.Bool("session", result.SessionID != ""))
	})
	return d.Result()
}

// Result reports what Start did; it is empty until Start completes.
func (d *Document) Result() OpenResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result
}

// HandleMutation routes an editing-surface mutation event.
func (d *Document) HandleMutation(event annotate.Event) annotate.Decision {
	if d.isClosed() {
		return annotate.Decision{Reason: errDocumentClosed.Error()}
	}
	return d.listener.Handle(event)
}

// HandlePageChange fans a page change out to progress tracking and the session log.
// It reports whether the progress tiers accepted the position.
func (d *Document) HandlePageChange(ctx context.Context, page, totalPages int) bool {
	if d.isClosed() {
		return false
	}
	accepted := d.reconciler.PageChanged(ctx, page, totalPages)
	d.sessionLog.PageChanged(page, totalPages)
	return accepted
}

// SurfaceReady tells the document the surface is laid out and may be navigated.
func (d *Document) SurfaceReady(ctx context.Context) {
	if d.isClosed() {
		return
	}
	d.reconciler.SurfaceReady(ctx)
}

// Remount handles the surface being torn down and rebuilt within the same open. Stored
// annotations are only ever seeded once per open.
func (d *Document) Remount(ctx context.Context) (annotate.SeedResult, error) {
	if d.isClosed() {
		return annotate.SeedResult{}, errDocumentClosed
	}
	return d.seeder.Seed(ctx, d.materializer())
}

// Resolve exposes the durable id currently mapped to a surface id.
func (d *Document) Resolve(surfaceID string) (string, bool) {
	return d.ids.Resolve(surfaceID)
}

// ResumePage reports the reconciled page of this open.
func (d *Document) ResumePage() int {
	return d.reconciler.ResumePage()
}

// Close ends the session. Writes already queued still run; when the document owns its
// task queue it waits for them until ctx ends.
func (d *Document) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.sessionLog.Close()
	if d.ownsTasks {
		return d.tasks.Close(ctx)
	}
	return nil
}

func (d *Document) materializer() annotate.Surface {
	if d.surface == nil {
		return nil
	}
	return d.surface
}

func (d *Document) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
