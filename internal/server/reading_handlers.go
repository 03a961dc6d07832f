package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/folio/internal/reading"
	"github.com/gin-gonic/gin"
)

type openSessionRequest struct {
	DeviceClass string `json:"device_class"`
}

func (h *httpHandler) handleGetProgress(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	documentKey, ok := h.requestDocumentKey(c)
	if !ok {
		return
	}
	progress, err := h.reading.GetProgress(c.Request.Context(), userID, documentKey)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (h *httpHandler) handleSetProgress(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	documentKey, ok := h.requestDocumentKey(c)
	if !ok {
		return
	}
	var request reading.Progress
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	stored, err := h.reading.SetProgress(c.Request.Context(), userID, documentKey, request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (h *httpHandler) handleOpenSession(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	documentKey, ok := h.requestDocumentKey(c)
	if !ok {
		return
	}
	var request openSessionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	deviceClass, err := reading.ParseDeviceClass(request.DeviceClass)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_device_class"})
		return
	}
	session, err := h.reading.OpenSession(c.Request.Context(), userID, documentKey, deviceClass)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *httpHandler) handleUpdateSession(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	sessionID, err := reading.NewSessionID(c.Param("sessionID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_session_id"})
		return
	}
	var counters reading.SessionCounters
	if err := c.ShouldBindJSON(&counters); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	session, err := h.reading.UpdateSession(c.Request.Context(), userID, sessionID, counters)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}
