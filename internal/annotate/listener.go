package annotate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/folio/internal/annotations"
	"github.com/MarcoPoloResearchLab/folio/internal/tasks"
	"go.uber.org/zap"
)

var (
	errMissingDocumentKey = errors.New("annotate: document key required")
	errMissingIDMap       = errors.New("annotate: id map required")
	errMissingStore       = errors.New("annotate: store required")
	errMissingTasks       = errors.New("annotate: task queue required")
	errMissingDurableID   = errors.New("annotate: backend returned no durable id")
)

// Store is the persistence side of the listener.
type Store interface {
	Create(ctx context.Context, documentKey string, annotation annotations.Annotation) (annotations.Annotation, error)
	Update(ctx context.Context, durableID string, patch annotations.Patch) error
	Delete(ctx context.Context, durableID string) error
}

// Submitter runs work off the caller's path.
type Submitter interface {
	Submit(name string, run tasks.Func)
}

// ListenerConfig wires a Listener to one document open.
type ListenerConfig struct {
	DocumentKey string
	IDMap       *IDMap
	Store       Store
	Tasks       Submitter
	Logger      *zap.Logger
}

// Listener classifies mutation events and dispatches persist-worthy ones.
type Listener struct {
	documentKey string
	ids         *IDMap
	store       Store
	tasks       Submitter
	logger      *zap.Logger
}

// NewListener validates the configuration.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	documentKey := strings.TrimSpace(cfg.DocumentKey)
	switch {
	case documentKey == "":
		return nil, errMissingDocumentKey
	case cfg.IDMap == nil:
		return nil, errMissingIDMap
	case cfg.Store == nil:
		return nil, errMissingStore
	case cfg.Tasks == nil:
		return nil, errMissingTasks
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		documentKey: documentKey,
		ids:         cfg.IDMap,
		store:       cfg.Store,
		tasks:       cfg.Tasks,
		logger:      logger.With(zap.String("document_key", documentKey)),
	}, nil
}

// Handle classifies the event and, when it is persist-worthy, queues the persistence
// call. It returns without waiting for the backend.
func (l *Listener) Handle(event Event) Decision {
	decision := Classify(event, l.ids)
	surfaceID := event.surfaceID()
	if !decision.Persist {
		l.logger.Debug("annotation event skipped",
			zap.String("surface_id", surfaceID),
			zap.String("event", string(event.Type)),
			zap.String("reason", decision.Reason))
		return decision
	}

	switch decision.Operation {
	case OperationCreate:
		snapshot := event.Annotation
		l.tasks.Submit("annotation.create", func(ctx context.Context) error {
			return l.create(ctx, surfaceID, snapshot)
		})
	case OperationUpdate:
		patch := annotations.PatchFromAnnotation(event.Annotation)
		l.tasks.Submit("annotation.update", func(ctx context.Context) error {
			return l.update(ctx, surfaceID, patch)
		})
	case OperationDelete:
		l.tasks.Submit("annotation.delete", func(ctx context.Context) error {
			return l.delete(ctx, surfaceID)
		})
	}
	return decision
}

func (l *Listener) create(ctx context.Context, surfaceID string, snapshot annotations.Annotation) error {
	// A seed or an earlier create may have registered the id after classification.
	if _, known := l.ids.Resolve(surfaceID); known {
		l.logger.Debug("annotation already persisted", zap.String("surface_id", surfaceID))
		return nil
	}
	snapshot.ID = ""
	created, err := l.store.Create(ctx, l.documentKey, snapshot)
	if err != nil {
		return fmt.Errorf("create annotation %s: %w", surfaceID, err)
	}
	if created.ID == "" {
		return fmt.Errorf("create annotation %s: %w", surfaceID, errMissingDurableID)
	}
	l.ids.Register(surfaceID, created.ID)
	l.logger.Debug("annotation persisted", zap.String("surface_id", surfaceID), zap.String("annotation_id", created.ID))
	return nil
}

func (l *Listener) update(ctx context.Context, surfaceID string, patch annotations.Patch) error {
	durableID, ok := l.ids.Resolve(surfaceID)
	if !ok {
		l.logger.Info("annotation update skipped: no durable id", zap.String("surface_id", surfaceID))
		return nil
	}
	if err := l.store.Update(ctx, durableID, patch); err != nil {
		return fmt.Errorf("update annotation %s: %w", durableID, err)
	}
	return nil
}

func (l *Listener) delete(ctx context.Context, surfaceID string) error {
	durableID, ok := l.ids.Resolve(surfaceID)
	if !ok {
		l.logger.Info("annotation delete skipped: no durable id", zap.String("surface_id", surfaceID))
		return nil
	}
	if err := l.store.Delete(ctx, durableID); err != nil {
		return fmt.Errorf("delete annotation %s: %w", durableID, err)
	}
	l.ids.Forget(surfaceID)
	return nil
}
