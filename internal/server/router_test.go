package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/annotations"
	"github.com/MarcoPoloResearchLab/folio/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/internal/reading"
	"github.com/MarcoPoloResearchLab/folio/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "router-test-secret"
	testCookieName    = "folio_session"
)

type routerFixture struct {
	handler  http.Handler
	token    string
	realtime *RealtimeDispatcher
}

func TestAnnotationLifecycleOverHTTP(t *testing.T) {
	fixture := newRouterFixture(t, "reader-1")

	createBody := `{"page_index":2,"kind":"ink","color":"#ff0000","opacity":0.5,"stroke_width":3,` +
		`"rect":{"x":1,"y":2,"width":30,"height":40},"ink_paths":[[{"x":1,"y":2},{"x":3.25,"y":4}]],"author":"ana"}`
	recorder := fixture.do(t, http.MethodPost, "/documents/doc-a/annotations", createBody)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var created annotations.Annotation
	decodeBody(t, recorder, &created)
	if created.ID == "" {
		t.Fatalf("expected durable id to be assigned")
	}
	if string(created.InkPaths) != `[[{"x":1,"y":2},{"x":3.25,"y":4}]]` {
		t.Fatalf("expected ink paths to be preserved, got %s", created.InkPaths)
	}

	recorder = fixture.do(t, http.MethodPatch, "/annotations/"+created.ID, `{"color":"#00ff00"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = fixture.do(t, http.MethodGet, "/documents/doc-a/annotations", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on list, got %d", recorder.Code)
	}
	var listed annotationListResponse
	decodeBody(t, recorder, &listed)
	if len(listed.Annotations) != 1 || listed.Annotations[0].Color != "#00ff00" {
		t.Fatalf("expected updated annotation in list, got %+v", listed.Annotations)
	}

	for attempt := 0; attempt < 2; attempt++ {
		recorder = fixture.do(t, http.MethodDelete, "/annotations/"+created.ID, "")
		if recorder.Code != http.StatusNoContent {
			t.Fatalf("expected 204 on delete attempt %d, got %d", attempt, recorder.Code)
		}
	}

	recorder = fixture.do(t, http.MethodGet, "/documents/doc-a/annotations", "")
	decodeBody(t, recorder, &listed)
	if len(listed.Annotations) != 0 {
		t.Fatalf("expected no annotations after delete, got %d", len(listed.Annotations))
	}
}

func TestCreateAnnotationRejectsUnknownKind(t *testing.T) {
	fixture := newRouterFixture(t, "reader-1")
	recorder := fixture.do(t, http.MethodPost, "/documents/doc-a/annotations", `{"page_index":0,"kind":"stamp"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var payload map[string]string
	decodeBody(t, recorder, &payload)
	if payload["error"] != "invalid_annotation" {
		t.Fatalf("expected invalid_annotation code, got %q", payload["error"])
	}
}

func TestUpdateUnknownAnnotationReturnsNotFound(t *testing.T) {
	fixture := newRouterFixture(t, "reader-1")
	recorder := fixture.do(t, http.MethodPatch, "/annotations/missing", `{"color":"#000000"}`)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestProgressRoundTripOverHTTP(t *testing.T) {
	fixture := newRouterFixture(t, "reader-1")

	recorder := fixture.do(t, http.MethodGet, "/documents/doc-a/progress", "")
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any progress, got %d", recorder.Code)
	}

	recorder = fixture.do(t, http.MethodPut, "/documents/doc-a/progress", `{"last_page":7,"total_pages":30}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on store, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = fixture.do(t, http.MethodGet, "/documents/doc-a/progress", "")
	var progress reading.Progress
	decodeBody(t, recorder, &progress)
	if progress.LastPage != 7 || progress.TotalPages != 30 {
		t.Fatalf("unexpected progress %+v", progress)
	}

	recorder = fixture.do(t, http.MethodPut, "/documents/doc-a/progress", `{"last_page":0}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for page 0, got %d", recorder.Code)
	}
}

func TestReadingSessionOverHTTP(t *testing.T) {
	fixture := newRouterFixture(t, "reader-1")

	recorder := fixture.do(t, http.MethodPost, "/documents/doc-a/sessions", `{"device_class":"tablet"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var session reading.Session
	decodeBody(t, recorder, &session)
	if session.SessionID == "" || session.DeviceClass != reading.DeviceClassTablet {
		t.Fatalf("unexpected session %+v", session)
	}

	recorder = fixture.do(t, http.MethodPatch, "/sessions/"+session.SessionID, `{"pages_viewed":3,"last_page":4,"duration_s":90}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	decodeBody(t, recorder, &session)
	if session.PagesViewed != 3 || session.LastPage != 4 || session.DurationSeconds != 90 {
		t.Fatalf("unexpected counters %+v", session)
	}

	recorder = fixture.do(t, http.MethodPost, "/documents/doc-a/sessions", `{"device_class":"watch"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown device class, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	fixture := newRouterFixture(t, "reader-1")
	request := httptest.NewRequest(http.MethodGet, "/documents/doc-a/annotations", http.NoBody)
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestSessionCookieAuthenticates(t *testing.T) {
	fixture := newRouterFixture(t, "reader-1")
	request := httptest.NewRequest(http.MethodGet, "/documents/doc-a/annotations", http.NoBody)
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: fixture.token})
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with cookie session, got %d", recorder.Code)
	}
}

func TestCreatePublishesRealtimeChange(t *testing.T) {
	fixture := newRouterFixture(t, "reader-1")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	stream, cleanup := fixture.realtime.Subscribe(ctx, "reader-1")
	defer cleanup()

	recorder := fixture.do(t, http.MethodPost, "/documents/doc-b/annotations", `{"page_index":0,"kind":"highlight","opacity":1}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", recorder.Code)
	}
	var created annotations.Annotation
	decodeBody(t, recorder, &created)

	select {
	case message := <-stream:
		if message.DocumentKey != "doc-b" || len(message.AnnotationIDs) != 1 || message.AnnotationIDs[0] != created.ID {
			t.Fatalf("unexpected realtime message %+v", message)
		}
	case <-time.After(time.Second):
		t.Fatal("expected realtime message after create")
	}
}

func TestAnnotationsAreScopedToOwner(t *testing.T) {
	fixture := newRouterFixture(t, "reader-1")
	recorder := fixture.do(t, http.MethodPost, "/documents/doc-a/annotations", `{"page_index":0,"kind":"square","opacity":1}`)
	var created annotations.Annotation
	decodeBody(t, recorder, &created)

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret)})
	otherToken, _, err := issuer.IssueSessionToken("reader-2", "")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	other := routerFixture{handler: fixture.handler, token: otherToken}
	recorder = other.do(t, http.MethodGet, "/documents/doc-a/annotations", "")
	var listed annotationListResponse
	decodeBody(t, recorder, &listed)
	if len(listed.Annotations) != 0 {
		t.Fatalf("expected other user to see no annotations, got %d", len(listed.Annotations))
	}
	recorder = other.do(t, http.MethodPatch, "/annotations/"+created.ID, `{"color":"#123456"}`)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign annotation, got %d", recorder.Code)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatal("expected missing dependency error")
	}
}

func newRouterFixture(t *testing.T, userID string) routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&annotations.Record{}, &reading.ProgressRecord{}, &reading.SessionRecord{}, &users.Identity{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	annotationService, err := annotations.NewService(annotations.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("annotations service: %v", err)
	}
	readingService, err := reading.NewService(reading.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("reading service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("users service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("session validator: %v", err)
	}
	realtime := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: validator,
		Users:            userService,
		Annotations:      annotationService,
		Reading:          readingService,
		Realtime:         realtime,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret)})
	token, _, err := issuer.IssueSessionToken(userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return routerFixture{handler: handler, token: token, realtime: realtime}
}

func (fixture routerFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+fixture.token)
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
}
