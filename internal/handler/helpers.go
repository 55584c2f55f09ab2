package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lavadoc/internal/middleware"
	"github.com/xxxsen/lavadoc/internal/pkg/errcode"
	appErr "github.com/xxxsen/lavadoc/internal/pkg/errors"
	"github.com/xxxsen/lavadoc/internal/pkg/response"
)

func queryInt(c *gin.Context, name string) (int, error) {
	value := c.Query(name)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, appErr.ErrInvalid
	}
	return parsed, nil
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Warn("request failed",
		zap.String("request_id", c.GetString(middleware.RequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	if conflict, ok := appErr.AsConflict(err); ok {
		response.ErrorWithData(c, errcode.ErrConflict, "conflict", conflict)
		return
	}
	switch {
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, err.Error())
	case errors.Is(err, appErr.ErrTooMany):
		response.Error(c, errcode.ErrTooMany, http.StatusText(http.StatusTooManyRequests))
	case errors.Is(err, appErr.ErrUnavailable):
		response.Error(c, errcode.ErrAIUnavailable, "generator unavailable")
	case errors.Is(err, appErr.ErrGeneratorFailed):
		response.Error(c, errcode.ErrAIFailed, "generator failed")
	case errors.Is(err, appErr.ErrPersistence):
		response.Error(c, errcode.ErrPersistence, "storage unavailable")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
