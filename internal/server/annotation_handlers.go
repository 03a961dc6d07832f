package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/folio/internal/annotations"
	"github.com/gin-gonic/gin"
)

type annotationListResponse struct {
	Annotations []annotations.Annotation `json:"annotations"`
}

func (h *httpHandler) handleListAnnotations(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	documentKey, ok := h.requestDocumentKey(c)
	if !ok {
		return
	}
	loaded, err := h.annotations.List(c.Request.Context(), userID, documentKey)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if loaded == nil {
		loaded = []annotations.Annotation{}
	}
	c.JSON(http.StatusOK, annotationListResponse{Annotations: loaded})
}

func (h *httpHandler) handleCreateAnnotation(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	documentKey, ok := h.requestDocumentKey(c)
	if !ok {
		return
	}
	var request annotations.Annotation
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	created, err := h.annotations.Create(c.Request.Context(), userID, documentKey, request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishChange(userID, created.DocumentKey, created.ID)
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleUpdateAnnotation(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	annotationID, err := annotations.NewID(c.Param("annotationID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_annotation_id"})
		return
	}
	var patch annotations.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	updated, err := h.annotations.Update(c.Request.Context(), userID, annotationID, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishChange(userID, updated.DocumentKey, updated.ID)
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleDeleteAnnotation(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	annotationID, err := annotations.NewID(c.Param("annotationID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_annotation_id"})
		return
	}
	removed, existed, err := h.annotations.Delete(c.Request.Context(), userID, annotationID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if existed {
		h.publishChange(userID, removed.DocumentKey, removed.ID)
	}
	c.Status(http.StatusNoContent)
}
