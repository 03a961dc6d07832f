package reading

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/documents"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew     = "reading.service.new"
	opGetProgress    = "reading.get_progress"
	opSetProgress    = "reading.set_progress"
	opOpenSession    = "reading.open_session"
	opUpdateSession  = "reading.update_session"
	fieldUserID      = "user_id"
	fieldDocumentKey = "document_key"
	fieldSessionID   = "session_id"

	queryOwnerDocument = "user_id = ? AND document_key = ?"
	queryOwnerSession  = "user_id = ? AND session_id = ?"

	reasonMissingDatabase = "missing_database"
	reasonInvalidInput    = "invalid_input"
	reasonQueryFailed     = "query_failed"
	reasonUpsertFailed    = "upsert_failed"
	reasonInsertFailed    = "insert_failed"
	reasonSaveFailed      = "save_failed"
	reasonNotFound        = "not_found"
	reasonIDGeneration    = "id_generation_failed"
)

// ServiceConfig describes the dependencies of the reading store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service stores remote reading progress and reading sessions.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, documents.NewServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// GetProgress returns the stored progress or ErrProgressNotFound.
func (service *Service) GetProgress(ctx context.Context, userID documents.UserID, documentKey documents.Key) (Progress, error) {
	if service.db == nil {
		service.logError(opGetProgress, reasonMissingDatabase, errMissingDatabase)
		return Progress{}, documents.NewServiceError(opGetProgress, reasonMissingDatabase, errMissingDatabase)
	}
	var record ProgressRecord
	err := service.db.WithContext(ctx).
		Where(queryOwnerDocument, userID.String(), documentKey.String()).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Progress{}, documents.NewServiceError(opGetProgress, reasonNotFound, ErrProgressNotFound)
	}
	if err != nil {
		service.logError(opGetProgress, reasonQueryFailed, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldDocumentKey, documentKey.String()))
		return Progress{}, documents.NewServiceError(opGetProgress, reasonQueryFailed, err)
	}
	return Progress{
		LastPage:         record.LastPage,
		TotalPages:       record.TotalPages,
		UpdatedAtSeconds: record.UpdatedAtSeconds,
	}, nil
}

// SetProgress overwrites the stored position. The remote tier keeps whatever the client
// sends; the forward-only merge happens on the reader side.
func (service *Service) SetProgress(ctx context.Context, userID documents.UserID, documentKey documents.Key, progress Progress) (Progress, error) {
	if service.db == nil {
		service.logError(opSetProgress, reasonMissingDatabase, errMissingDatabase)
		return Progress{}, documents.NewServiceError(opSetProgress, reasonMissingDatabase, errMissingDatabase)
	}
	if err := progress.Validate(); err != nil {
		return Progress{}, documents.NewServiceError(opSetProgress, reasonInvalidInput, err)
	}
	record := ProgressRecord{
		UserID:           userID.String(),
		DocumentKey:      documentKey.String(),
		LastPage:         progress.LastPage,
		TotalPages:       progress.TotalPages,
		UpdatedAtSeconds: service.clock().UTC().Unix(),
	}
	err := service.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: fieldUserID}, {Name: fieldDocumentKey}},
		DoUpdates: clause.AssignmentColumns([]string{"last_page", "total_pages", "updated_at_s"}),
	}).Create(&record).Error
	if err != nil {
		service.logError(opSetProgress, reasonUpsertFailed, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldDocumentKey, documentKey.String()))
		return Progress{}, documents.NewServiceError(opSetProgress, reasonUpsertFailed, err)
	}
	return Progress{
		LastPage:         record.LastPage,
		TotalPages:       record.TotalPages,
		UpdatedAtSeconds: record.UpdatedAtSeconds,
	}, nil
}

// OpenSession records the start of a reading session and returns its identifier.
func (service *Service) OpenSession(ctx context.Context, userID documents.UserID, documentKey documents.Key, deviceClass DeviceClass) (Session, error) {
	if service.db == nil {
		service.logError(opOpenSession, reasonMissingDatabase, errMissingDatabase)
		return Session{}, documents.NewServiceError(opOpenSession, reasonMissingDatabase, errMissingDatabase)
	}
	if _, err := ParseDeviceClass(string(deviceClass)); err != nil {
		return Session{}, documents.NewServiceError(opOpenSession, reasonInvalidInput, err)
	}
	sessionID, err := uuid.NewV7()
	if err != nil {
		service.logError(opOpenSession, reasonIDGeneration, err)
		return Session{}, documents.NewServiceError(opOpenSession, reasonIDGeneration, err)
	}
	now := service.clock().UTC().Unix()
	record := SessionRecord{
		SessionID:        sessionID.String(),
		UserID:           userID.String(),
		DocumentKey:      documentKey.String(),
		DeviceClass:      string(deviceClass),
		StartedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := service.db.WithContext(ctx).Create(&record).Error; err != nil {
		service.logError(opOpenSession, reasonInsertFailed, err,
			zap.String(fieldUserID, userID.String()),
			zap.String(fieldDocumentKey, documentKey.String()))
		return Session{}, documents.NewServiceError(opOpenSession, reasonInsertFailed, err)
	}
	return record.toSession(), nil
}

// UpdateSession applies flushed counters. Flushes are fire-and-forget and may arrive out
// of order, so pages viewed and duration only move forward.
func (service *Service) UpdateSession(ctx context.Context, userID documents.UserID, sessionID SessionID, counters SessionCounters) (Session, error) {
	if service.db == nil {
		service.logError(opUpdateSession, reasonMissingDatabase, errMissingDatabase)
		return Session{}, documents.NewServiceError(opUpdateSession, reasonMissingDatabase, errMissingDatabase)
	}
	if err := counters.Validate(); err != nil {
		return Session{}, documents.NewServiceError(opUpdateSession, reasonInvalidInput, err)
	}

	var updated SessionRecord
	txErr := service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record SessionRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryOwnerSession, userID.String(), sessionID.String()).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return documents.NewServiceError(opUpdateSession, reasonNotFound, ErrSessionNotFound)
		}
		if err != nil {
			service.logError(opUpdateSession, reasonQueryFailed, err, zap.String(fieldSessionID, sessionID.String()))
			return documents.NewServiceError(opUpdateSession, reasonQueryFailed, err)
		}
		if counters.PagesViewed > record.PagesViewed {
			record.PagesViewed = counters.PagesViewed
		}
		if counters.DurationSeconds > record.DurationSeconds {
			record.DurationSeconds = counters.DurationSeconds
		}
		if counters.LastPage > 0 {
			record.LastPage = counters.LastPage
		}
		record.UpdatedAtSeconds = service.clock().UTC().Unix()
		if err := tx.Save(&record).Error; err != nil {
			service.logError(opUpdateSession, reasonSaveFailed, err, zap.String(fieldSessionID, sessionID.String()))
			return documents.NewServiceError(opUpdateSession, reasonSaveFailed, err)
		}
		updated = record
		return nil
	})
	if txErr != nil {
		return Session{}, txErr
	}
	return updated.toSession(), nil
}

func (service *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	logger := noOpLogger
	if service != nil && service.logger != nil {
		logger = service.logger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("reading service error", attrs...)
}
