package reading

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/documents"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestDeviceClassForWidth(t *testing.T) {
	testCases := []struct {
		width    int
		expected DeviceClass
	}{
		{width: 375, expected: DeviceClassMobile},
		{width: 767, expected: DeviceClassMobile},
		{width: 768, expected: DeviceClassTablet},
		{width: 1023, expected: DeviceClassTablet},
		{width: 1024, expected: DeviceClassDesktop},
		{width: 0, expected: DeviceClassDesktop},
	}
	for _, testCase := range testCases {
		if got := DeviceClassForWidth(testCase.width); got != testCase.expected {
			t.Fatalf("width %d: got %s want %s", testCase.width, got, testCase.expected)
		}
	}
}

func TestProgressRoundTripOverwrites(t *testing.T) {
	service := mustReadingService(t)
	ctx := context.Background()
	userID := documents.UserID("user-1")
	documentKey := documents.Key("doc-A")

	if _, err := service.GetProgress(ctx, userID, documentKey); !errors.Is(err, ErrProgressNotFound) {
		t.Fatalf("expected not found before first write, got %v", err)
	}

	if _, err := service.SetProgress(ctx, userID, documentKey, Progress{LastPage: 12, TotalPages: 50}); err != nil {
		t.Fatalf("set progress failed: %v", err)
	}
	if _, err := service.SetProgress(ctx, userID, documentKey, Progress{LastPage: 5, TotalPages: 50}); err != nil {
		t.Fatalf("set progress failed: %v", err)
	}

	progress, err := service.GetProgress(ctx, userID, documentKey)
	if err != nil {
		t.Fatalf("get progress failed: %v", err)
	}
	if progress.LastPage != 5 || progress.TotalPages != 50 {
		t.Fatalf("expected last write to win, got %+v", progress)
	}

	if _, err := service.GetProgress(ctx, documents.UserID("user-2"), documentKey); !errors.Is(err, ErrProgressNotFound) {
		t.Fatalf("progress must be scoped per user, got %v", err)
	}
}

func TestSetProgressRejectsInvalidPage(t *testing.T) {
	service := mustReadingService(t)
	_, err := service.SetProgress(context.Background(), "user-1", "doc-A", Progress{LastPage: 0})
	if !errors.Is(err, ErrInvalidProgress) {
		t.Fatalf("expected invalid progress error, got %v", err)
	}
}

func TestSessionCountersOnlyMoveForward(t *testing.T) {
	service := mustReadingService(t)
	ctx := context.Background()
	userID := documents.UserID("user-1")

	session, err := service.OpenSession(ctx, userID, "doc-A", DeviceClassTablet)
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}
	if session.StartedAtSeconds != 1700000000 {
		t.Fatalf("unexpected start time %d", session.StartedAtSeconds)
	}
	sessionID, err := NewSessionID(session.SessionID)
	if err != nil {
		t.Fatalf("session id should be a uuid: %v", err)
	}

	if _, err := service.UpdateSession(ctx, userID, sessionID, SessionCounters{PagesViewed: 4, LastPage: 9, DurationSeconds: 120}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	updated, err := service.UpdateSession(ctx, userID, sessionID, SessionCounters{PagesViewed: 2, LastPage: 3, DurationSeconds: 60})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.PagesViewed != 4 || updated.DurationSeconds != 120 {
		t.Fatalf("stale flush regressed counters: %+v", updated)
	}
	if updated.LastPage != 3 {
		t.Fatalf("expected last page to follow the latest flush, got %d", updated.LastPage)
	}
}

func TestUpdateSessionRequiresOwner(t *testing.T) {
	service := mustReadingService(t)
	ctx := context.Background()

	session, err := service.OpenSession(ctx, "user-1", "doc-A", DeviceClassDesktop)
	if err != nil {
		t.Fatalf("open session failed: %v", err)
	}
	_, err = service.UpdateSession(ctx, "user-2", SessionID(session.SessionID), SessionCounters{PagesViewed: 1})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session not found for another user, got %v", err)
	}
}

func TestOpenSessionRejectsUnknownDeviceClass(t *testing.T) {
	service := mustReadingService(t)
	_, err := service.OpenSession(context.Background(), "user-1", "doc-A", DeviceClass("watch"))
	if !errors.Is(err, ErrInvalidDeviceClass) {
		t.Fatalf("expected invalid device class, got %v", err)
	}
}

func mustReadingService(t *testing.T) *Service {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:reading_test_%d?mode=memory&cache=shared", time.Now().UnixNano())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := database.AutoMigrate(&ProgressRecord{}, &SessionRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: database,
		Clock: func() time.Time {
			return time.Unix(1700000000, 0).UTC()
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}
