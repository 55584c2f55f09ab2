package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lavadoc/internal/metrics"
	"github.com/xxxsen/lavadoc/internal/model"
	appErr "github.com/xxxsen/lavadoc/internal/pkg/errors"
)

type RestoreService struct {
	docs     *DocumentService
	notifier NotificationSink
}

func NewRestoreService(docs *DocumentService, notifier NotificationSink) *RestoreService {
	if notifier == nil {
		notifier = nopSink{}
	}
	return &RestoreService{docs: docs, notifier: notifier}
}

// Restore copies the content of target into a brand new version. It always
// creates a version, even when the content already matches the head.
func (s *RestoreService) Restore(ctx context.Context, target int, actor string) (*model.Document, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", appErr.ErrInvalid)
	}
	rec, err := s.docs.GetVersion(ctx, target)
	if err != nil {
		metrics.Restores.WithLabelValues("not_found").Inc()
		return nil, err
	}
	res, err := s.docs.apply(ctx, mutation{
		content: rec.Content,
		editor:  actor,
		force:   true,
		summary: fmt.Sprintf("Restored to version %d (%s)", rec.Version, rec.ChangeSummary),
		silent:  true,
	})
	if err != nil {
		metrics.Restores.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.Restores.WithLabelValues("restored").Inc()
	logutil.GetLogger(ctx).Info("document restored",
		zap.String("actor", actor),
		zap.Int("target", target),
		zap.Int("version", res.Document.Version),
	)
	s.notifier.Post(ctx, SystemActor, fmt.Sprintf("Restored to v%d. This created v%d.", target, res.Document.Version))
	return res.Document, nil
}
