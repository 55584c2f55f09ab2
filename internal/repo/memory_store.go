package repo

import (
	"context"
	"sync"

	"github.com/xxxsen/lavadoc/internal/model"
	appErr "github.com/xxxsen/lavadoc/internal/pkg/errors"
)

// MemoryStore keeps everything in process. It backs tests and single-node setups
// where losing history on restart is acceptable.
type MemoryStore struct {
	mu       sync.RWMutex
	head     *model.Document
	versions map[int]model.VersionRecord
	index    []int
	messages []model.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[int]model.VersionRecord)}
}

func (s *MemoryStore) GetHead(ctx context.Context) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.head == nil {
		return nil, appErr.ErrNotFound
	}
	doc := *s.head
	return &doc, nil
}

func (s *MemoryStore) InitHead(ctx context.Context, doc *model.Document, keep int) (*model.Document, error) {
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.head == nil {
		head := *doc
		s.head = &head
		s.saveLocked(doc.Record(), keep)
	}
	out := *s.head
	return &out, nil
}

func (s *MemoryStore) Commit(ctx context.Context, c *Commit) (*CommitResult, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.head == nil {
		return nil, appErr.ErrNotFound
	}
	if s.head.Version != c.ExpectedVersion {
		return nil, conflictFrom(c.ExpectedVersion, s.head)
	}
	if c.Previous != nil {
		if _, ok := s.versions[c.Previous.Version]; !ok {
			s.versions[c.Previous.Version] = *c.Previous
			s.index, _ = planEviction(s.index, []int{c.Previous.Version}, 0)
		}
	}
	next := *c.Next
	s.head = &next
	evicted := s.saveLocked(next.Record(), c.Keep)
	return &CommitResult{Evicted: evicted}, nil
}

func (s *MemoryStore) SaveVersion(ctx context.Context, record *model.VersionRecord, keep int) ([]model.VersionRecord, error) {
	if err := ValidateRecord(record); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(record, keep), nil
}

func (s *MemoryStore) saveLocked(record *model.VersionRecord, keep int) []model.VersionRecord {
	s.versions[record.Version] = *record
	kept, evicted := planEviction(s.index, []int{record.Version}, keep)
	s.index = kept
	return s.dropLocked(evicted)
}

func (s *MemoryStore) dropLocked(versions []int) []model.VersionRecord {
	out := make([]model.VersionRecord, 0, len(versions))
	for _, v := range versions {
		if rec, ok := s.versions[v]; ok {
			out = append(out, rec)
			delete(s.versions, v)
		}
	}
	return out
}

func (s *MemoryStore) GetVersion(ctx context.Context, version int) (*model.VersionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.versions[version]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) HasVersion(ctx context.Context, version int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.versions[version]
	return ok, nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, limit int) ([]model.VersionMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = clampLimit(limit, len(s.index))
	out := make([]model.VersionMeta, 0, limit)
	for i := len(s.index) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.versions[s.index[i]]
		out = append(out, rec.Meta())
	}
	return out, nil
}

func (s *MemoryStore) PruneVersions(ctx context.Context, keep int) ([]model.VersionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept, evicted := planEviction(s.index, nil, keep)
	s.index = kept
	return s.dropLocked(evicted), nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *model.Message, keep int) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *msg)
	s.trimLocked(keep)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = clampLimit(limit, len(s.messages))
	out := make([]model.Message, limit)
	copy(out, s.messages[len(s.messages)-limit:])
	return out, nil
}

func (s *MemoryStore) TrimMessages(ctx context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trimLocked(keep), nil
}

func (s *MemoryStore) trimLocked(keep int) int {
	if keep <= 0 || len(s.messages) <= keep {
		return 0
	}
	dropped := len(s.messages) - keep
	s.messages = append([]model.Message(nil), s.messages[dropped:]...)
	return dropped
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
