package reading

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DeviceClass buckets the reader's viewport.
type DeviceClass string

const (
	DeviceClassMobile  DeviceClass = "mobile"
	DeviceClassTablet  DeviceClass = "tablet"
	DeviceClassDesktop DeviceClass = "desktop"
)

const (
	mobileMaxWidth = 768
	tabletMaxWidth = 1024
)

var (
	// ErrInvalidProgress indicates a progress payload outside its bounds.
	ErrInvalidProgress = errors.New("reading: invalid progress")
	// ErrInvalidDeviceClass indicates an unknown device class.
	ErrInvalidDeviceClass = errors.New("reading: invalid device class")
	// ErrInvalidSessionID indicates an empty or malformed session identifier.
	ErrInvalidSessionID = errors.New("reading: invalid session id")
	// ErrInvalidCounters indicates negative session counters.
	ErrInvalidCounters = errors.New("reading: invalid session counters")
	// ErrProgressNotFound indicates that no remote progress exists for the document.
	ErrProgressNotFound = errors.New("reading: progress not found")
	// ErrSessionNotFound indicates that the session does not exist for the user.
	ErrSessionNotFound = errors.New("reading: session not found")
)

// DeviceClassForWidth derives the device class from a viewport width in CSS pixels.
func DeviceClassForWidth(width int) DeviceClass {
	switch {
	case width > 0 && width < mobileMaxWidth:
		return DeviceClassMobile
	case width > 0 && width < tabletMaxWidth:
		return DeviceClassTablet
	default:
		return DeviceClassDesktop
	}
}

// ParseDeviceClass validates a textual device class.
func ParseDeviceClass(raw string) (DeviceClass, error) {
	switch DeviceClass(strings.ToLower(strings.TrimSpace(raw))) {
	case DeviceClassMobile:
		return DeviceClassMobile, nil
	case DeviceClassTablet:
		return DeviceClassTablet, nil
	case DeviceClassDesktop:
		return DeviceClassDesktop, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDeviceClass, raw)
	}
}

// SessionID is a validated reading session identifier.
type SessionID string

// NewSessionID validates raw input and returns a SessionID.
func NewSessionID(rawInput string) (SessionID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if _, err := uuid.Parse(trimmed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSessionID, err)
	}
	return SessionID(trimmed), nil
}

// String returns the underlying identifier.
func (id SessionID) String() string {
	return string(id)
}

// Progress is the remote reading position of one user within one document.
type Progress struct {
	LastPage         int   `json:"last_page"`
	TotalPages       int   `json:"total_pages"`
	UpdatedAtSeconds int64 `json:"updated_at_s,omitempty"`
}

// Validate checks the progress bounds.
func (progress Progress) Validate() error {
	if progress.LastPage < 1 {
		return fmt.Errorf("%w: last page %d", ErrInvalidProgress, progress.LastPage)
	}
	if progress.TotalPages < 0 {
		return fmt.Errorf("%w: total pages %d", ErrInvalidProgress, progress.TotalPages)
	}
	return nil
}

// SessionCounters are the values flushed by an open reading session.
type SessionCounters struct {
	PagesViewed     int   `json:"pages_viewed"`
	LastPage        int   `json:"last_page"`
	DurationSeconds int64 `json:"duration_s"`
}

// Validate checks the counters are non-negative.
func (counters SessionCounters) Validate() error {
	if counters.PagesViewed < 0 || counters.LastPage < 0 || counters.DurationSeconds < 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidCounters, counters)
	}
	return nil
}

// Session is a stored reading session.
type Session struct {
	SessionID        string      `json:"session_id"`
	DocumentKey      string      `json:"document_key"`
	DeviceClass      DeviceClass `json:"device_class"`
	StartedAtSeconds int64       `json:"started_at_s"`
	PagesViewed      int         `json:"pages_viewed"`
	LastPage         int         `json:"last_page"`
	DurationSeconds  int64       `json:"duration_s"`
}

// ProgressRecord stores the remote tier of reading progress.
type ProgressRecord struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	DocumentKey      string `gorm:"column:document_key;primaryKey;size:190;not null"`
	LastPage         int    `gorm:"column:last_page;not null"`
	TotalPages       int    `gorm:"column:total_pages;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ProgressRecord) TableName() string {
	return "reading_progress"
}

// SessionRecord stores one open-to-close interval of document viewing.
type SessionRecord struct {
	SessionID        string `gorm:"column:session_id;primaryKey;size:64;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;index:idx_reading_sessions_owner,priority:1"`
	DocumentKey      string `gorm:"column:document_key;size:190;not null;index:idx_reading_sessions_owner,priority:2"`
	DeviceClass      string `gorm:"column:device_class;size:16;not null"`
	StartedAtSeconds int64  `gorm:"column:started_at_s;not null"`
	PagesViewed      int    `gorm:"column:pages_viewed;not null;default:0"`
	LastPage         int    `gorm:"column:last_page;not null;default:0"`
	DurationSeconds  int64  `gorm:"column:duration_s;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SessionRecord) TableName() string {
	return "reading_sessions"
}

func (record SessionRecord) toSession() Session {
	return Session{
		SessionID:        record.SessionID,
		DocumentKey:      record.DocumentKey,
		DeviceClass:      DeviceClass(record.DeviceClass),
		StartedAtSeconds: record.StartedAtSeconds,
		PagesViewed:      record.PagesViewed,
		LastPage:         record.LastPage,
		DurationSeconds:  record.DurationSeconds,
	}
}
