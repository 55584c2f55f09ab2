package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lavadoc/internal/repo"
)

type MessageTrimJob struct {
	log  repo.MessageLog
	keep int
}

func NewMessageTrimJob(log repo.MessageLog, keep int) *MessageTrimJob {
	return &MessageTrimJob{log: log, keep: keep}
}

func (j *MessageTrimJob) Name() string {
	return "message_trim"
}

func (j *MessageTrimJob) Run(ctx context.Context) error {
	if j.log == nil || j.keep <= 0 {
		return nil
	}
	n, err := j.log.TrimMessages(ctx, j.keep)
	if err != nil {
		return err
	}
	if n > 0 {
		logutil.GetLogger(ctx).Info("trimmed messages", zap.Int("count", n))
	}
	return nil
}
