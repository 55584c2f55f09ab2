package service

import (
	"context"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lavadoc/internal/metrics"
	"github.com/xxxsen/lavadoc/internal/model"
	"github.com/xxxsen/lavadoc/internal/pkg/timeutil"
	"github.com/xxxsen/lavadoc/internal/repo"
)

// SystemActor is the nickname used for messages the service posts itself.
const SystemActor = "Lava"

// NotificationSink receives human readable event lines. Post never fails from
// the caller's point of view.
type NotificationSink interface {
	Post(ctx context.Context, actor, message string)
}

// MessageSink appends notifications to the chat log.
type MessageSink struct {
	log  repo.MessageLog
	keep int
}

func NewMessageSink(log repo.MessageLog, keep int) *MessageSink {
	return &MessageSink{log: log, keep: keep}
}

func (s *MessageSink) Post(ctx context.Context, actor, message string) {
	if strings.TrimSpace(actor) == "" {
		actor = SystemActor
	}
	msg := &model.Message{
		ID:        newID(),
		Nickname:  actor,
		Text:      message,
		Timestamp: timeutil.NowUnixMilli(),
	}
	if err := s.log.AppendMessage(ctx, msg, s.keep); err != nil {
		logutil.GetLogger(ctx).Error("post notification failed", zap.String("actor", actor), zap.Error(err))
		return
	}
	metrics.Messages.Inc()
}

type LogSink struct{}

func (LogSink) Post(ctx context.Context, actor, message string) {
	logutil.GetLogger(ctx).Info("notification", zap.String("actor", actor), zap.String("message", message))
}

type MultiSink []NotificationSink

func (m MultiSink) Post(ctx context.Context, actor, message string) {
	for _, sink := range m {
		if sink != nil {
			sink.Post(ctx, actor, message)
		}
	}
}

type nopSink struct{}

func (nopSink) Post(context.Context, string, string) {}
