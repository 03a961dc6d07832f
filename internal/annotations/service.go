package annotations

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/documents"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "annotations.service.new"
	opList       = "annotations.list"
	opCreate     = "annotations.create"
	opUpdate     = "annotations.update"
	opDelete     = "annotations.delete"

	fieldUserID       = "user_id"
	fieldDocumentKey  = "document_key"
	fieldAnnotationID = "annotation_id"

	queryOwnerDocument   = "user_id = ? AND document_key = ?"
	queryOwnerAnnotation = "user_id = ? AND annotation_id = ?"
	orderPageThenCreated = "page_index ASC, sequence ASC"

	reasonMissingDatabase   = "missing_database"
	reasonMissingIDProvider = "missing_id_provider"
	reasonInvalidAnnotation = "invalid_annotation"
	reasonIDGeneration      = "id_generation_failed"
	reasonInsertFailed      = "insert_failed"
	reasonQueryFailed       = "query_failed"
	reasonNotFound          = "not_found"
	reasonSaveFailed        = "save_failed"
	reasonDeleteFailed      = "delete_failed"
)

// ServiceConfig describes the dependencies of the annotation store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists annotations per user and document.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, documents.NewServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// List returns every stored annotation of the document ordered by page, then creation order.
func (service *Service) List(ctx context.Context, userID documents.UserID, documentKey documents.Key) ([]Annotation, error) {
	if service.db == nil {
		service.logError(opList, reasonMissingDatabase, errMissingDatabase)
		return nil, documents.NewServiceError(opList, reasonMissingDatabase, errMissingDatabase)
	}

	var records []Record
	if err := service.db.WithContext(ctx).
		Where(queryOwnerDocument, userID.String(), documentKey.String()).
		Order(orderPageThenCreated).
		Find(&records).Error; err != nil {
		service.logError(opList, reasonQueryFailed, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldDocumentKey, documentKey.String()))
		return nil, documents.NewServiceError(opList, reasonQueryFailed, err)
	}

	result := make([]Annotation, 0, len(records))
	for _, record := range records {
		result = append(result, record.toAnnotation())
	}
	return result, nil
}

// Create stores a new annotation and returns it with its durable identifier assigned.
func (service *Service) Create(ctx context.Context, userID documents.UserID, documentKey documents.Key, annotation Annotation) (Annotation, error) {
	if service.db == nil {
		service.logError(opCreate, reasonMissingDatabase, errMissingDatabase)
		return Annotation{}, documents.NewServiceError(opCreate, reasonMissingDatabase, errMissingDatabase)
	}
	if service.idProvider == nil {
		service.logError(opCreate, reasonMissingIDProvider, errMissingIDProvider)
		return Annotation{}, documents.NewServiceError(opCreate, reasonMissingIDProvider, errMissingIDProvider)
	}
	if err := annotation.Validate(); err != nil {
		return Annotation{}, documents.NewServiceError(opCreate, reasonInvalidAnnotation, err)
	}

	annotationID, err := service.idProvider.NewID()
	if err != nil {
		service.logError(opCreate, reasonIDGeneration, err, zap.String(fieldDocumentKey, documentKey.String()))
		return Annotation{}, documents.NewServiceError(opCreate, reasonIDGeneration, err)
	}

	now := service.clock().UTC().Unix()
	annotation.ID = annotationID
	annotation.DocumentKey = documentKey.String()
	annotation.CreatedAtSeconds = now
	annotation.UpdatedAtSeconds = now

	record := recordFromAnnotation(annotation)
	record.UserID = userID.String()
	if err := service.db.WithContext(ctx).Create(&record).Error; err != nil {
		service.logError(opCreate, reasonInsertFailed, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldDocumentKey, documentKey.String()))
		return Annotation{}, documents.NewServiceError(opCreate, reasonInsertFailed, err)
	}
	return record.toAnnotation(), nil
}

// Update overwrites the patched fields. Applying the same patch twice yields the same row.
func (service *Service) Update(ctx context.Context, userID documents.UserID, annotationID ID, patch Patch) (Annotation, error) {
	if service.db == nil {
		service.logError(opUpdate, reasonMissingDatabase, errMissingDatabase)
		return Annotation{}, documents.NewServiceError(opUpdate, reasonMissingDatabase, errMissingDatabase)
	}
	if err := patch.Validate(); err != nil {
		return Annotation{}, documents.NewServiceError(opUpdate, reasonInvalidAnnotation, err)
	}

	var updated Record
	txErr := service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record Record
		err := tx.Where(queryOwnerAnnotation, userID.String(), annotationID.String()).Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return documents.NewServiceError(opUpdate, reasonNotFound, ErrAnnotationNotFound)
		}
		if err != nil {
			service.logError(opUpdate, reasonQueryFailed, err, zap.String(fieldAnnotationID, annotationID.String()))
			return documents.NewServiceError(opUpdate, reasonQueryFailed, err)
		}
		before := record
		record.applyPatch(patch)
		if record == before {
			updated = record
			return nil
		}
		record.UpdatedAtSeconds = service.clock().UTC().Unix()
		if err := tx.Save(&record).Error; err != nil {
			service.logError(opUpdate, reasonSaveFailed, err, zap.String(fieldAnnotationID, annotationID.String()))
			return documents.NewServiceError(opUpdate, reasonSaveFailed, err)
		}
		updated = record
		return nil
	})
	if txErr != nil {
		return Annotation{}, txErr
	}
	return updated.toAnnotation(), nil
}

// Delete removes the annotation. Deleting an unknown identifier is not an error; the
// returned record reports what was removed when the row existed.
func (service *Service) Delete(ctx context.Context, userID documents.UserID, annotationID ID) (Annotation, bool, error) {
	if service.db == nil {
		service.logError(opDelete, reasonMissingDatabase, errMissingDatabase)
		return Annotation{}, false, documents.NewServiceError(opDelete, reasonMissingDatabase, errMissingDatabase)
	}

	var removed Record
	found := false
	txErr := service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where(queryOwnerAnnotation, userID.String(), annotationID.String()).Take(&removed).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			service.logError(opDelete, reasonQueryFailed, err, zap.String(fieldAnnotationID, annotationID.String()))
			return documents.NewServiceError(opDelete, reasonQueryFailed, err)
		}
		if err := tx.Where(queryOwnerAnnotation, userID.String(), annotationID.String()).Delete(&Record{}).Error; err != nil {
			service.logError(opDelete, reasonDeleteFailed, err, zap.String(fieldAnnotationID, annotationID.String()))
			return documents.NewServiceError(opDelete, reasonDeleteFailed, err)
		}
		found = true
		return nil
	})
	if txErr != nil {
		return Annotation{}, false, txErr
	}
	if !found {
		return Annotation{}, false, nil
	}
	return removed.toAnnotation(), true, nil
}

func (service *Service) loggerOrDefault() *zap.Logger {
	if service == nil || service.logger == nil {
		return noOpLogger
	}
	return service.logger
}

func (service *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	service.loggerOrDefault().Error("annotations service error", attrs...)
}
