package annotate

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/folio/internal/annotations"
	"go.uber.org/zap"
)

var errMissingLoader = errors.New("annotate: loader required")

// Loader fetches the stored annotations of a document.
type Loader interface {
	LoadAll(ctx context.Context, documentKey string) ([]annotations.Annotation, error)
}

// Surface receives the annotations to draw.
type Surface interface {
	Materialize(ctx context.Context, loaded []annotations.Annotation) error
}

// LoadGuard records whether a document open already seeded its surface.
type LoadGuard struct {
	mu     sync.Mutex
	loaded bool
}

// Claim marks the guard loaded and reports whether the caller is the first.
func (g *LoadGuard) Claim() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loaded {
		return false
	}
	g.loaded = true
	return true
}

// Loaded reports whether seeding has been claimed.
func (g *LoadGuard) Loaded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loaded
}

// SeederConfig wires a Seeder to one document open.
type SeederConfig struct {
	DocumentKey string
	Loader      Loader
	IDMap       *IDMap
	Guard       *LoadGuard
	Logger      *zap.Logger
}

// Seeder loads stored annotations once per document open.
type Seeder struct {
	documentKey string
	loader      Loader
	ids         *IDMap
	guard       *LoadGuard
	logger      *zap.Logger
}

// SeedResult summarizes one seeding pass.
type SeedResult struct {
	Seeded  bool
	Loaded  int
	Skipped int
}

// NewSeeder validates the configuration.
func NewSeeder(cfg SeederConfig) (*Seeder, error) {
	documentKey := strings.TrimSpace(cfg.DocumentKey)
	switch {
	case documentKey == "":
		return nil, errMissingDocumentKey
	case cfg.Loader == nil:
		return nil, errMissingLoader
	case cfg.IDMap == nil:
		return nil, errMissingIDMap
	}
	guard := cfg.Guard
	if guard == nil {
		guard = &LoadGuard{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{
		documentKey: documentKey,
		loader:      cfg.Loader,
		ids:         cfg.IDMap,
		guard:       guard,
		logger:      logger.With(zap.String("document_key", documentKey)),
	}, nil
}

// Seed loads the stored annotations, registers every id with itself and only then hands
// them to the surface. Later calls on the same open are no-ops. A load failure leaves
// the document without stored annotations; it is not retried.
func (s *Seeder) Seed(ctx context.Context, surface Surface) (SeedResult, error) {
	if !s.guard.Claim() {
		s.logger.Debug("annotations already seeded")
		return SeedResult{}, nil
	}

	stored, err := s.loader.LoadAll(ctx, s.documentKey)
	if err != nil {
		s.logger.Warn("annotation load failed", zap.Error(err))
		return SeedResult{Seeded: true}, err
	}

	drawable := make([]annotations.Annotation, 0, len(stored))
	skipped := 0
	for _, annotation := range stored {
		if annotation.Kind == annotations.KindInk && !annotation.HasInkPaths() {
			skipped++
			s.logger.Warn("skipping ink annotation without paths", zap.String("annotation_id", annotation.ID))
			continue
		}
		drawable = append(drawable, annotation)
	}
	for _, annotation := range drawable {
		s.ids.Register(annotation.ID, annotation.ID)
	}

	result := SeedResult{Seeded: true, Loaded: len(drawable), Skipped: skipped}
	if surface == nil || len(drawable) == 0 {
		return result, nil
	}
	if err := surface.Materialize(ctx, drawable); err != nil {
		s.logger.Warn("surface failed to materialize annotations", zap.Error(err))
		return result, err
	}
	return result, nil
}
