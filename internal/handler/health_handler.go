package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lavadoc/internal/pkg/response"
	"github.com/xxxsen/lavadoc/internal/pkg/timeutil"
)

const healthPingTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store     Pinger
	storeType string
	generator string
}

// NewHealthHandler reports on store; generator is the configured generator name, empty when none.
func NewHealthHandler(store Pinger, storeType, generator string) *HealthHandler {
	return &HealthHandler{store: store, storeType: storeType, generator: generator}
}

type healthResponse struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	StoreOK   bool   `json:"store_ok"`
	Generator string `json:"generator,omitempty"`
	AIEnabled bool   `json:"ai_enabled"`
	Timestamp int64  `json:"timestamp"`
}

func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()
	res := healthResponse{
		Status:    "ok",
		Store:     h.storeType,
		StoreOK:   true,
		Generator: h.generator,
		AIEnabled: h.generator != "",
		Timestamp: timeutil.NowUnixMilli(),
	}
	if err := h.store.Ping(ctx); err != nil {
		logutil.GetLogger(ctx).Error("store ping failed", zap.String("store", h.storeType), zap.Error(err))
		res.Status = "degraded"
		res.StoreOK = false
	}
	response.Success(c, res)
}
