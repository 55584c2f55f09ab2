package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/lavadoc/internal/pkg/errcode"
	"github.com/xxxsen/lavadoc/internal/pkg/response"
	"github.com/xxxsen/lavadoc/internal/service"
)

type DocumentHandler struct {
	documents *service.DocumentService
	restores  *service.RestoreService
}

func NewDocumentHandler(documents *service.DocumentService, restores *service.RestoreService) *DocumentHandler {
	return &DocumentHandler{documents: documents, restores: restores}
}

type updateRequest struct {
	Content         *string `json:"content"`
	Editor          string  `json:"editor"`
	ExpectedVersion *int    `json:"expected_version"`
}

type restoreRequest struct {
	Version int    `json:"version"`
	Actor   string `json:"actor"`
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.GetDocument(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.Content == nil {
		response.Error(c, errcode.ErrInvalid, "content required")
		return
	}
	res, err := h.documents.UpdateDocument(c.Request.Context(), service.UpdateInput{
		Content:         *req.Content,
		Editor:          req.Editor,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res.Document)
}

func (h *DocumentHandler) Restore(c *gin.Context) {
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.Version < 1 {
		response.Error(c, errcode.ErrInvalid, "version required")
		return
	}
	doc, err := h.restores.Restore(c.Request.Context(), req.Version, req.Actor)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}
