package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type versionPruner interface {
	PruneVersions(ctx context.Context) (int, error)
}

// RetentionJob re-applies the version retention bound. Commits already evict
// as they go, so this only matters after the bound was lowered or records were
// written by another process.
type RetentionJob struct {
	docs versionPruner
}

func NewRetentionJob(docs versionPruner) *RetentionJob {
	return &RetentionJob{docs: docs}
}

func (j *RetentionJob) Name() string {
	return "retention"
}

func (j *RetentionJob) Run(ctx context.Context) error {
	if j.docs == nil {
		return nil
	}
	n, err := j.docs.PruneVersions(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logutil.GetLogger(ctx).Info("pruned versions", zap.Int("count", n))
	}
	return nil
}
