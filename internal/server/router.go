package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/annotations"
	"github.com/MarcoPoloResearchLab/folio/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/internal/documents"
	"github.com/MarcoPoloResearchLab/folio/internal/reading"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "folio_user_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserResolver     = errors.New("user resolver dependency required")
	errMissingAnnotations      = errors.New("annotations service dependency required")
	errMissingReading          = errors.New("reading service dependency required")
)

// SessionValidator authenticates an incoming request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserResolver maps validated claims onto the canonical user id.
type UserResolver interface {
	ResolveCanonicalUserID(claims auth.SessionClaims) (string, error)
}

type Dependencies struct {
	SessionValidator SessionValidator
	Users            UserResolver
	Annotations      *annotations.Service
	Reading          *reading.Service
	Realtime         *RealtimeDispatcher
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserResolver
	}
	if deps.Annotations == nil {
		return nil, errMissingAnnotations
	}
	if deps.Reading == nil {
		return nil, errMissingReading
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		sessions:          deps.SessionValidator,
		users:             deps.Users,
		annotations:       deps.Annotations,
		reading:           deps.Reading,
		realtime:          realtime,
		logger:            logger,
		heartbeatInterval: realtimeHeartbeatInterval,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/documents/:documentKey/annotations", handler.handleListAnnotations)
	protected.POST("/documents/:documentKey/annotations", handler.handleCreateAnnotation)
	protected.PATCH("/annotations/:annotationID", handler.handleUpdateAnnotation)
	protected.DELETE("/annotations/:annotationID", handler.handleDeleteAnnotation)
	protected.GET("/documents/:documentKey/progress", handler.handleGetProgress)
	protected.PUT("/documents/:documentKey/progress", handler.handleSetProgress)
	protected.POST("/documents/:documentKey/sessions", handler.handleOpenSession)
	protected.PATCH("/sessions/:sessionID", handler.handleUpdateSession)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(string) bool { return true },
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions          SessionValidator
	users             UserResolver
	annotations       *annotations.Service
	reading           *reading.Service
	realtime          *RealtimeDispatcher
	logger            *zap.Logger
	heartbeatInterval time.Duration
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.users.ResolveCanonicalUserID(claims)
	if err != nil {
		h.logger.Warn("user resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) requestUserID(c *gin.Context) (documents.UserID, bool) {
	userID, err := documents.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func (h *httpHandler) requestDocumentKey(c *gin.Context) (documents.Key, bool) {
	documentKey, err := documents.NewKey(c.Param("documentKey"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_key"})
		return "", false
	}
	return documentKey, true
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{target: annotations.ErrInvalidAnnotation, status: http.StatusBadRequest, code: "invalid_annotation"},
	{target: annotations.ErrInvalidAnnotationID, status: http.StatusBadRequest, code: "invalid_annotation_id"},
	{target: reading.ErrInvalidProgress, status: http.StatusBadRequest, code: "invalid_progress"},
	{target: reading.ErrInvalidDeviceClass, status: http.StatusBadRequest, code: "invalid_device_class"},
	{target: reading.ErrInvalidSessionID, status: http.StatusBadRequest, code: "invalid_session_id"},
	{target: reading.ErrInvalidCounters, status: http.StatusBadRequest, code: "invalid_counters"},
	{target: annotations.ErrAnnotationNotFound, status: http.StatusNotFound, code: "annotation_not_found"},
	{target: reading.ErrProgressNotFound, status: http.StatusNotFound, code: "progress_not_found"},
	{target: reading.ErrSessionNotFound, status: http.StatusNotFound, code: "session_not_found"},
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			c.JSON(mapping.status, gin.H{"error": mapping.code})
			return
		}
	}
	code, ok := documents.ServiceErrorCode(err)
	if !ok {
		code = "internal"
	}
	h.logger.Error("request failed", zap.String("code", code), zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": code})
}

func (h *httpHandler) publishChange(userID documents.UserID, documentKey string, annotationIDs ...string) {
	if documentKey == "" || len(annotationIDs) == 0 {
		return
	}
	h.realtime.Publish(RealtimeMessage{
		UserID:        userID.String(),
		EventType:     RealtimeEventAnnotationsChanged,
		DocumentKey:   documentKey,
		AnnotationIDs: annotationIDs,
		Timestamp:     time.Now().UTC(),
	})
}
