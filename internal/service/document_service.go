package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/lavadoc/internal/metrics"
	"github.com/xxxsen/lavadoc/internal/model"
	appErr "github.com/xxxsen/lavadoc/internal/pkg/errors"
	"github.com/xxxsen/lavadoc/internal/repo"
	"github.com/xxxsen/lavadoc/internal/summary"
)

const (
	initialEditor  = "system"
	initialSummary = "Initial document"

	DefaultVersionListLimit = 20

	versionCacheSize = 256
	versionCacheTTL  = time.Hour
)

type Outcome int

const (
	OutcomeMutated Outcome = iota + 1
	OutcomeNoOp
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMutated:
		return "mutated"
	case OutcomeNoOp:
		return "noop"
	default:
		return "unknown"
	}
}

// VersionArchiver keeps records that retention dropped.
type VersionArchiver interface {
	Archive(ctx context.Context, records []model.VersionRecord) error
}

type DocumentOptions struct {
	// VersionKeep bounds the version index; <= 0 keeps everything.
	VersionKeep    int
	InitialContent string
	Archive        VersionArchiver
	Now            func() time.Time
}

type DocumentService struct {
	writeMu        sync.Mutex
	store          repo.Store
	notifier       NotificationSink
	archive        VersionArchiver
	cache          *expirable.LRU[int, model.VersionRecord]
	keep           int
	initialContent string
	now            func() time.Time
}

func NewDocumentService(store repo.Store, notifier NotificationSink, opts DocumentOptions) *DocumentService {
	if notifier == nil {
		notifier = nopSink{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &DocumentService{
		store:          store,
		notifier:       notifier,
		archive:        opts.Archive,
		cache:          expirable.NewLRU[int, model.VersionRecord](versionCacheSize, nil, versionCacheTTL),
		keep:           opts.VersionKeep,
		initialContent: opts.InitialContent,
		now:            opts.Now,
	}
}

type UpdateInput struct {
	Content         string
	Editor          string
	ExpectedVersion *int
}

type UpdateResult struct {
	Document *model.Document
	Outcome  Outcome
}

// mutation is the internal form of an update. Restores force a new version and
// bring their own summary and notification.
type mutation struct {
	content  string
	editor   string
	expected *int
	force    bool
	summary  string
	silent   bool
}

// GetDocument returns the head, creating version 1 on first access.
func (s *DocumentService) GetDocument(ctx context.Context) (*model.Document, error) {
	head, err := s.store.GetHead(ctx)
	if err == nil {
		return head, nil
	}
	if !appErr.IsNotFound(err) {
		return nil, appErr.PersistenceFault(err)
	}
	initial := &model.Document{
		Content:       s.initialContent,
		Version:       1,
		LastModified:  s.now().UnixMilli(),
		LastEditor:    initialEditor,
		ChangeSummary: initialSummary,
	}
	head, err = s.store.InitHead(ctx, initial, s.keep)
	if err != nil {
		return nil, appErr.PersistenceFault(err)
	}
	logutil.GetLogger(ctx).Info("document initialized", zap.Int("version", head.Version))
	metrics.DocumentVersion.Set(float64(head.Version))
	return head, nil
}

func (s *DocumentService) UpdateDocument(ctx context.Context, in UpdateInput) (*UpdateResult, error) {
	return s.apply(ctx, mutation{
		content:  in.Content,
		editor:   in.Editor,
		expected: in.ExpectedVersion,
	})
}

// apply runs one mutation. Writers are serialized within the process; a commit
// that loses to another process is retried against the fresh head unless the
// caller pinned an expected version.
func (s *DocumentService) apply(ctx context.Context, m mutation) (*UpdateResult, error) {
	editor := strings.TrimSpace(m.editor)
	if editor == "" {
		return nil, fmt.Errorf("%w: editor is required", appErr.ErrInvalid)
	}
	logger := logutil.GetLogger(ctx).With(zap.String("editor", editor))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for {
		head, err := s.GetDocument(ctx)
		if err != nil {
			metrics.DocumentUpdates.WithLabelValues("error").Inc()
			return nil, err
		}
		if m.expected != nil && *m.expected != head.Version {
			return nil, s.reject(ctx, editor, m.silent, &appErr.ConflictError{
				ExpectedVersion: *m.expected,
				CurrentVersion:  head.Version,
				LastEditor:      head.LastEditor,
				LastModified:    head.LastModified,
				ChangeSummary:   head.ChangeSummary,
			})
		}
		if !m.force && m.content == head.Content {
			metrics.DocumentUpdates.WithLabelValues(OutcomeNoOp.String()).Inc()
			return &UpdateResult{Document: head, Outcome: OutcomeNoOp}, nil
		}

		changeSummary := m.summary
		if changeSummary == "" {
			changeSummary = summary.Summarize(head.Content, m.content)
		}
		modified := s.now().UnixMilli()
		if modified < head.LastModified {
			modified = head.LastModified
		}
		next := &model.Document{
			Content:       m.content,
			Version:       head.Version + 1,
			LastModified:  modified,
			LastEditor:    editor,
			ChangeSummary: changeSummary,
		}
		res, err := s.store.Commit(ctx, &repo.Commit{
			ExpectedVersion: head.Version,
			Previous:        head.Record(),
			Next:            next,
			Keep:            s.keep,
		})
		if err != nil {
			conflict, ok := appErr.AsConflict(err)
			if !ok {
				metrics.DocumentUpdates.WithLabelValues("error").Inc()
				logger.Error("commit document failed", zap.Int("version", next.Version), zap.Error(err))
				return nil, appErr.PersistenceFault(err)
			}
			if m.expected != nil {
				conflict.ExpectedVersion = *m.expected
				return nil, s.reject(ctx, editor, m.silent, conflict)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			metrics.DocumentUpdates.WithLabelValues("retried").Inc()
			logger.Debug("head moved during commit, retrying",
				zap.Int("observed_version", head.Version),
				zap.Int("current_version", conflict.CurrentVersion),
			)
			continue
		}

		s.cache.Add(next.Version, *next.Record())
		s.evicted(ctx, res.Evicted)
		metrics.DocumentUpdates.WithLabelValues(OutcomeMutated.String()).Inc()
		metrics.DocumentVersion.Set(float64(next.Version))
		logger.Info("document updated", zap.Int("version", next.Version), zap.String("summary", changeSummary))
		if !m.silent {
			s.notifier.Post(ctx, SystemActor, fmt.Sprintf("%s updated the document (v%d): %s", editor, next.Version, changeSummary))
		}
		return &UpdateResult{Document: next, Outcome: OutcomeMutated}, nil
	}
}

func (s *DocumentService) reject(ctx context.Context, editor string, silent bool, conflict *appErr.ConflictError) error {
	metrics.DocumentUpdates.WithLabelValues("conflict").Inc()
	logutil.GetLogger(ctx).Warn("document update rejected",
		zap.String("editor", editor),
		zap.Int("expected_version", conflict.ExpectedVersion),
		zap.Int("current_version", conflict.CurrentVersion),
	)
	if silent {
		return conflict
	}
	s.notifier.Post(ctx, SystemActor, fmt.Sprintf("%s's edit was rejected: the document is at v%d (edited by %s), not v%d",
		editor, conflict.CurrentVersion, conflict.LastEditor, conflict.ExpectedVersion))
	return conflict
}

// evicted drops retention casualties from the cache and hands them to the archive.
func (s *DocumentService) evicted(ctx context.Context, records []model.VersionRecord) {
	if len(records) == 0 {
		return
	}
	for _, rec := range records {
		s.cache.Remove(rec.Version)
	}
	metrics.VersionsEvicted.Add(float64(len(records)))
	if s.archive == nil {
		return
	}
	if err := s.archive.Archive(ctx, records); err != nil {
		logutil.GetLogger(ctx).Error("archive evicted versions failed", zap.Int("count", len(records)), zap.Error(err))
	}
}

func (s *DocumentService) GetVersion(ctx context.Context, version int) (*model.VersionRecord, error) {
	if version < 1 {
		return nil, appErr.ErrNotFound
	}
	if rec, ok := s.cache.Get(version); ok {
		// another process sharing the store may have evicted it
		retained, err := s.store.HasVersion(ctx, version)
		if err != nil {
			return nil, appErr.PersistenceFault(err)
		}
		if retained {
			metrics.VersionCache.WithLabelValues("hit").Inc()
			return &rec, nil
		}
		s.cache.Remove(version)
		metrics.VersionCache.WithLabelValues("stale").Inc()
		return nil, appErr.ErrNotFound
	}
	metrics.VersionCache.WithLabelValues("miss").Inc()
	rec, err := s.store.GetVersion(ctx, version)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, appErr.ErrNotFound
		}
		return nil, appErr.PersistenceFault(err)
	}
	s.cache.Add(version, *rec)
	return rec, nil
}

// ListVersions returns metadata newest first. limit <= 0 means the default page
// and anything above the retention bound is clamped to it.
func (s *DocumentService) ListVersions(ctx context.Context, limit int) ([]model.VersionMeta, error) {
	if limit <= 0 {
		limit = DefaultVersionListLimit
	}
	if s.keep > 0 && limit > s.keep {
		limit = s.keep
	}
	if _, err := s.GetDocument(ctx); err != nil {
		return nil, err
	}
	metas, err := s.store.ListVersions(ctx, limit)
	if err != nil {
		return nil, appErr.PersistenceFault(err)
	}
	return metas, nil
}

// PruneVersions re-applies the retention bound, used after the bound was lowered.
func (s *DocumentService) PruneVersions(ctx context.Context) (int, error) {
	if s.keep <= 0 {
		return 0, nil
	}
	evicted, err := s.store.PruneVersions(ctx, s.keep)
	if err != nil {
		return 0, appErr.PersistenceFault(err)
	}
	s.evicted(ctx, evicted)
	return len(evicted), nil
}
