package server

import (
	"errors"
	"net/http"

	"github.com/ephemera-notes/ephemera/internal/notes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const minNotePasswordLength = 6

type createNoteRequestPayload struct {
	Content  string `json:"content"`
	Password string `json:"password"`
}

type createNoteResponsePayload struct {
	ID               string `json:"id"`
	URL              string `json:"url"`
	ExpiresAtSeconds int64  `json:"expires_at_s"`
}

type noteMetaPayload struct {
	ID               string `json:"id"`
	HasPassword      bool   `json:"hasPassword"`
	ReadOnly         bool   `json:"readOnly"`
	Views            int64  `json:"views"`
	ExpiresAtSeconds int64  `json:"expires_at_s"`
}

type accessNoteRequestPayload struct {
	Password string `json:"password"`
}

type changeURLRequestPayload struct {
	NewURL string `json:"newUrl"`
}

type notePasswordRequestPayload struct {
	Password string `json:"password"`
}

type readOnlyRequestPayload struct {
	ReadOnly *bool `json:"readOnly"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var request createNoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var ownerID *string
	if userID := c.GetString(userIDContextKey); userID != "" {
		ownerID = &userID
	}

	note, err := h.notesService.Create(c.Request.Context(), request.Content, request.Password, ownerID)
	if err != nil {
		h.respondNoteError(c, "create note failed", err)
		return
	}

	c.JSON(http.StatusOK, createNoteResponsePayload{
		ID:               note.NoteID,
		URL:              "/" + note.NoteID,
		ExpiresAtSeconds: note.ExpiresAtSeconds,
	})
}

func (h *httpHandler) handleNoteMeta(c *gin.Context) {
	id, ok := h.bindNoteID(c, c.Param("id"))
	if !ok {
		return
	}

	note, err := h.notesService.Get(c.Request.Context(), id)
	if err != nil {
		h.respondNoteError(c, "note meta failed", err)
		return
	}

	c.JSON(http.StatusOK, noteMetaPayload{
		ID:               note.NoteID,
		HasPassword:      note.HasPassword(),
		ReadOnly:         note.ReadOnly,
		Views:            note.Views,
		ExpiresAtSeconds: note.ExpiresAtSeconds,
	})
}

func (h *httpHandler) handleNoteAccess(c *gin.Context) {
	id, ok := h.bindNoteID(c, c.Param("id"))
	if !ok {
		return
	}

	var request accessNoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	note, err := h.notesService.Get(c.Request.Context(), id)
	if err != nil {
		h.respondNoteError(c, "note access failed", err)
		return
	}

	if note.HasPassword() {
		if request.Password == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "password_required"})
			return
		}
		match, err := h.notesService.VerifyPassword(c.Request.Context(), id, request.Password)
		if err != nil {
			h.respondNoteError(c, "password verification failed", err)
			return
		}
		if !match {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_password"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"content": note.Content})
}

func (h *httpHandler) handleCheckURL(c *gin.Context) {
	rawURL := c.Param("url")
	id, err := notes.NewNoteID(rawURL)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"available": false, "error": "invalid_url_format"})
		return
	}

	taken, err := h.notesService.Exists(c.Request.Context(), id)
	if err != nil {
		h.respondNoteError(c, "url check failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"available": !taken, "url": id.String()})
}

func (h *httpHandler) handleChangeURL(c *gin.Context) {
	id, ok := h.bindNoteID(c, c.Param("id"))
	if !ok {
		return
	}

	var request changeURLRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	newID, err := notes.NewNoteID(request.NewURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url_format"})
		return
	}

	userID := c.GetString(userIDContextKey)
	if err := h.notesService.ChangeURL(c.Request.Context(), id, newID, userID); err != nil {
		h.respondNoteError(c, "url change failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "url changed", "newUrl": newID.String()})
}

func (h *httpHandler) handleSetPassword(c *gin.Context) {
	id, ok := h.bindNoteID(c, c.Param("id"))
	if !ok {
		return
	}

	var request notePasswordRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Password) < minNotePasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password_too_short"})
		return
	}

	userID := c.GetString(userIDContextKey)
	if err := h.notesService.SetPassword(c.Request.Context(), id, request.Password, userID); err != nil {
		h.respondNoteError(c, "set password failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleRemovePassword(c *gin.Context) {
	id, ok := h.bindNoteID(c, c.Param("id"))
	if !ok {
		return
	}

	userID := c.GetString(userIDContextKey)
	if err := h.notesService.RemovePassword(c.Request.Context(), id, userID); err != nil {
		h.respondNoteError(c, "remove password failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleSetReadOnly(c *gin.Context) {
	id, ok := h.bindNoteID(c, c.Param("id"))
	if !ok {
		return
	}

	var request readOnlyRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ReadOnly == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	userID := c.GetString(userIDContextKey)
	if err := h.notesService.SetReadOnly(c.Request.Context(), id, *request.ReadOnly, userID); err != nil {
		h.respondNoteError(c, "set read-only failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) bindNoteID(c *gin.Context, raw string) (notes.NoteID, bool) {
	id, err := notes.NewNoteID(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return "", false
	}
	return id, true
}

func (h *httpHandler) respondNoteError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, notes.ErrNoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
	case errors.Is(err, notes.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_owner"})
	case errors.Is(err, notes.ErrURLTaken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "url_taken"})
	case errors.Is(err, notes.ErrReadOnly):
		c.JSON(http.StatusConflict, gin.H{"error": "note_read_only"})
	default:
		h.logger.Error(message, zap.Error(err))
		payload := gin.H{"error": "internal_error"}
		var serviceErr *notes.ServiceError
		if errors.As(err, &serviceErr) {
			payload["code"] = serviceErr.Code()
		}
		c.JSON(http.StatusInternalServerError, payload)
	}
}
