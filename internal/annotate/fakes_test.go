package annotate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/folio/internal/annotations"
	"github.com/MarcoPoloResearchLab/folio/internal/tasks"
)

type recordedCall struct {
	operation string
	id        string
	patch     annotations.Patch
}

type fakeStore struct {
	mu        sync.Mutex
	calls     []recordedCall
	nextID    int
	stored    []annotations.Annotation
	createErr error
	loadErr   error
}

func (store *fakeStore) Create(_ context.Context, documentKey string, annotation annotations.Annotation) (annotations.Annotation, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.calls = append(store.calls, recordedCall{operation: "create"})
	if store.createErr != nil {
		return annotations.Annotation{}, store.createErr
	}
	store.nextID++
	annotation.ID = fmt.Sprintf("durable-%d", store.nextID)
	annotation.DocumentKey = documentKey
	store.stored = append(store.stored, annotation)
	return annotation, nil
}

func (store *fakeStore) Update(_ context.Context, durableID string, patch annotations.Patch) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.calls = append(store.calls, recordedCall{operation: "update", id: durableID, patch: patch})
	return nil
}

func (store *fakeStore) Delete(_ context.Context, durableID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.calls = append(store.calls, recordedCall{operation: "delete", id: durableID})
	return nil
}

func (store *fakeStore) LoadAll(context.Context, string) ([]annotations.Annotation, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.calls = append(store.calls, recordedCall{operation: "load"})
	if store.loadErr != nil {
		return nil, store.loadErr
	}
	return append([]annotations.Annotation(nil), store.stored...), nil
}

func (store *fakeStore) count(operation string) int {
	store.mu.Lock()
	defer store.mu.Unlock()
	total := 0
	for _, call := range store.calls {
		if call.operation == operation {
			total++
		}
	}
	return total
}

func (store *fakeStore) callsOf(operation string) []recordedCall {
	store.mu.Lock()
	defer store.mu.Unlock()
	var matching []recordedCall
	for _, call := range store.calls {
		if call.operation == operation {
			matching = append(matching, call)
		}
	}
	return matching
}

// inlineTasks runs jobs synchronously on Submit.
type inlineTasks struct{}

func (inlineTasks) Submit(_ string, run tasks.Func) {
	_ = run(context.Background())
}

// recordingSurface registers what it was asked to draw and, like a real surface, emits
// a create event for every materialized annotation.
type recordingSurface struct {
	listener     *Listener
	ids          *IDMap
	materialized []annotations.Annotation
	seenMapped   []bool
	fail         bool
}

func (surface *recordingSurface) Materialize(_ context.Context, loaded []annotations.Annotation) error {
	if surface.fail {
		return errors.New("surface not ready")
	}
	for _, annotation := range loaded {
		_, mapped := surface.ids.Resolve(annotation.ID)
		surface.seenMapped = append(surface.seenMapped, mapped)
		surface.materialized = append(surface.materialized, annotation)
		if surface.listener != nil {
			surface.listener.Handle(Event{Type: EventCreate, Committed: true, SurfaceID: annotation.ID, Annotation: annotation})
		}
	}
	return nil
}
