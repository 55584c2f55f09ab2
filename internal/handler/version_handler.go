package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/lavadoc/internal/pkg/errcode"
	"github.com/xxxsen/lavadoc/internal/pkg/response"
	"github.com/xxxsen/lavadoc/internal/service"
)

type VersionHandler struct {
	documents *service.DocumentService
}

func NewVersionHandler(documents *service.DocumentService) *VersionHandler {
	return &VersionHandler{documents: documents}
}

func (h *VersionHandler) List(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid limit")
		return
	}
	versions, err := h.documents.ListVersions(c.Request.Context(), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, versions)
}

func (h *VersionHandler) Get(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid version")
		return
	}
	rec, err := h.documents.GetVersion(c.Request.Context(), version)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, rec)
}
