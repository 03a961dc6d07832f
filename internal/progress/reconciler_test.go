package progress

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/reading"
	"github.com/MarcoPoloResearchLab/folio/internal/tasks"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRemote struct {
	mu       sync.Mutex
	progress reading.Progress
	found    bool
	fetchErr error
	fetches  int
	stored   []reading.Progress
}

func (remote *fakeRemote) FetchProgress(context.Context, string, string) (reading.Progress, bool, error) {
	remote.mu.Lock()
	defer remote.mu.Unlock()
	remote.fetches++
	return remote.progress, remote.found, remote.fetchErr
}

func (remote *fakeRemote) StoreProgress(_ context.Context, _ string, progress reading.Progress) error {
	remote.mu.Lock()
	defer remote.mu.Unlock()
	remote.stored = append(remote.stored, progress)
	return nil
}

func (remote *fakeRemote) storedPages() []int {
	remote.mu.Lock()
	defer remote.mu.Unlock()
	pages := make([]int, 0, len(remote.stored))
	for _, progress := range remote.stored {
		pages = append(pages, progress.LastPage)
	}
	return pages
}

// echoNavigator mimics a surface that reports a page change while scrolling.
type echoNavigator struct {
	mu         sync.Mutex
	reconciler *Reconciler
	pages      []int
	accepted   []bool
}

func (navigator *echoNavigator) NavigateTo(ctx context.Context, page int, behavior Behavior) error {
	navigator.mu.Lock()
	navigator.pages = append(navigator.pages, page)
	navigator.mu.Unlock()
	if navigator.reconciler != nil {
		// layout reports an intermediate page first, then the destination
		first := navigator.reconciler.PageChanged(ctx, 1, 0)
		second := navigator.reconciler.PageChanged(ctx, page, 0)
		navigator.mu.Lock()
		navigator.accepted = append(navigator.accepted, first, second)
		navigator.mu.Unlock()
	}
	return nil
}

func TestResumePageIsMonotonicMax(t *testing.T) {
	testCases := []struct {
		name       string
		localPage  int
		remotePage int
		expected   int
	}{
		{name: "remote ahead", localPage: 5, remotePage: 12, expected: 12},
		{name: "local ahead", localPage: 12, remotePage: 5, expected: 12},
		{name: "equal", localPage: 8, remotePage: 8, expected: 8},
		{name: "no local", localPage: 0, remotePage: 3, expected: 3},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			cache := newTestCache(t)
			if testCase.localPage > 0 {
				require.NoError(t, cache.Store(context.Background(), "doc-a", Entry{LastPage: testCase.localPage, LastUpdated: time.Now()}))
			}
			remote := &fakeRemote{progress: reading.Progress{LastPage: testCase.remotePage}, found: true}
			reconciler := newTestReconciler(t, cache, remote, "reader-1", nil, nil)

			require.Equal(t, testCase.expected, reconciler.Open(context.Background()))
			require.Equal(t, StateReconciled, reconciler.State())

			entry, _, err := cache.Load(context.Background(), "doc-a")
			require.NoError(t, err)
			require.Equal(t, testCase.expected, entry.LastPage, "local tier holds the reconciled page")
		})
	}
}

func TestRemoteFailureFallsBackToLocal(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Store(context.Background(), "doc-a", Entry{LastPage: 6, LastUpdated: time.Now()}))
	remote := &fakeRemote{fetchErr: errors.New("offline")}
	reconciler := newTestReconciler(t, cache, remote, "reader-1", nil, nil)

	require.Equal(t, 6, reconciler.Open(context.Background()))
}

func TestMissingIdentitySkipsRemote(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Store(context.Background(), "doc-a", Entry{LastPage: 2, LastUpdated: time.Now()}))
	remote := &fakeRemote{progress: reading.Progress{LastPage: 30}, found: true}
	queue := tasks.NewQueue(tasks.QueueConfig{})
	reconciler := newTestReconciler(t, cache, remote, "", nil, queue)

	require.Equal(t, 2, reconciler.Open(context.Background()))
	reconciler.SurfaceReady(context.Background())
	require.True(t, reconciler.PageChanged(context.Background(), 3, 0))
	drainQueue(t, queue)

	require.Zero(t, remote.fetches)
	require.Empty(t, remote.storedPages())
}

func TestResumeNavigationHappensOnceAndSuppressesEchoes(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Store(context.Background(), "doc-a", Entry{LastPage: 40, TotalPages: 90, LastUpdated: time.Now()}))
	remote := &fakeRemote{}
	queue := tasks.NewQueue(tasks.QueueConfig{})
	navigator := &echoNavigator{}
	reconciler := newTestReconciler(t, cache, remote, "reader-1", navigator, queue)
	navigator.reconciler = reconciler

	require.False(t, reconciler.PageChanged(context.Background(), 2, 90), "layout-induced change before open is dropped")
	require.Equal(t, 40, reconciler.Open(context.Background()))
	reconciler.SurfaceReady(context.Background())
	reconciler.SurfaceReady(context.Background())

	require.Equal(t, []int{40}, navigator.pages)
	require.Equal(t, []bool{false, false}, navigator.accepted)
	require.True(t, reconciler.ResumeComplete())
	require.Equal(t, StateReady, reconciler.State())

	entry, _, err := cache.Load(context.Background(), "doc-a")
	require.NoError(t, err)
	require.Equal(t, 40, entry.LastPage, "navigation echo must not overwrite the resume page")

	require.True(t, reconciler.PageChanged(context.Background(), 41, 90))
	drainQueue(t, queue)
	require.Equal(t, []int{41}, remote.storedPages())
	entry, _, err = cache.Load(context.Background(), "doc-a")
	require.NoError(t, err)
	require.Equal(t, 41, entry.LastPage)
	require.Equal(t, 90, entry.TotalPages)
}

func TestSurfaceReadyBeforeOpenStillNavigates(t *testing.T) {
	cache := newTestCache(t)
	remote := &fakeRemote{progress: reading.Progress{LastPage: 7, TotalPages: 50}, found: true}
	navigator := &echoNavigator{}
	reconciler := newTestReconciler(t, cache, remote, "reader-1", navigator, nil)

	reconciler.SurfaceReady(context.Background())
	require.Empty(t, navigator.pages)
	require.Equal(t, 7, reconciler.Open(context.Background()))
	require.Equal(t, []int{7}, navigator.pages)
}

func TestFirstPageDoesNotNavigate(t *testing.T) {
	for _, page := range []int{0, 1} {
		cache := newTestCache(t)
		if page > 0 {
			require.NoError(t, cache.Store(context.Background(), "doc-a", Entry{LastPage: page, LastUpdated: time.Now()}))
		}
		navigator := &echoNavigator{}
		reconciler := newTestReconciler(t, cache, nil, "", navigator, nil)

		reconciler.Open(context.Background())
		reconciler.SurfaceReady(context.Background())
		require.Empty(t, navigator.pages)
		require.True(t, reconciler.ResumeComplete())
	}
}

func TestTotalPagesNeverClamps(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Store(context.Background(), "doc-a", Entry{LastPage: 15, TotalPages: 10, LastUpdated: time.Now()}))
	reconciler := newTestReconciler(t, cache, nil, "", &echoNavigator{}, nil)
	require.Equal(t, 15, reconciler.Open(context.Background()))
}

func TestLoadLocalExposesOptimisticPage(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Store(context.Background(), "doc-a", Entry{LastPage: 11, LastUpdated: time.Now()}))
	reconciler := newTestReconciler(t, cache, nil, "", nil, nil)

	require.Equal(t, 11, reconciler.LoadLocal(context.Background()))
	require.Equal(t, StateLocalLoaded, reconciler.State())
}

func newTestCache(t *testing.T) *SQLiteCache {
	t.Helper()
	cache, err := OpenSQLiteCache(filepath.Join(t.TempDir(), "progress.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func newTestReconciler(t *testing.T, cache LocalCache, remote RemoteStore, userID string, navigator Navigator, submitter Submitter) *Reconciler {
	t.Helper()
	cfg := ReconcilerConfig{
		DocumentKey: "doc-a",
		UserID:      userID,
		Local:       cache,
		Navigator:   navigator,
		Tasks:       submitter,
		Logger:      zap.NewNop(),
	}
	if remote != nil {
		cfg.Remote = remote
	}
	reconciler, err := NewReconciler(cfg)
	require.NoError(t, err)
	return reconciler
}

func drainQueue(t *testing.T, queue *tasks.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, queue.Drain(ctx))
}
