package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xxxsen/lavadoc/internal/model"
	appErr "github.com/xxxsen/lavadoc/internal/pkg/errors"
)

// VersionStore keeps immutable snapshots keyed by version number plus an ordered
// index of retained versions. A keep value <= 0 disables eviction.
type VersionStore interface {
	SaveVersion(ctx context.Context, record *model.VersionRecord, keep int) ([]model.VersionRecord, error)
	GetVersion(ctx context.Context, version int) (*model.VersionRecord, error)
	// HasVersion reports whether version is still retained.
	HasVersion(ctx context.Context, version int) (bool, error)
	ListVersions(ctx context.Context, limit int) ([]model.VersionMeta, error)
	PruneVersions(ctx context.Context, keep int) ([]model.VersionRecord, error)
}

// HeadStore owns the single live document.
type HeadStore interface {
	GetHead(ctx context.Context) (*model.Document, error)
	// InitHead stores doc and its version record unless a head already exists.
	// It returns whichever head is stored afterwards.
	InitHead(ctx context.Context, doc *model.Document, keep int) (*model.Document, error)
	// Commit atomically replaces the head if its version still equals
	// c.ExpectedVersion, otherwise it returns a *errors.ConflictError.
	Commit(ctx context.Context, c *Commit) (*CommitResult, error)
}

type MessageLog interface {
	AppendMessage(ctx context.Context, msg *model.Message, keep int) error
	ListMessages(ctx context.Context, limit int) ([]model.Message, error)
	TrimMessages(ctx context.Context, keep int) (int, error)
}

type Store interface {
	HeadStore
	VersionStore
	MessageLog
	Ping(ctx context.Context) error
	Close() error
}

type Commit struct {
	ExpectedVersion int
	// Previous is the outgoing head, written only when its version has no record yet.
	Previous *model.VersionRecord
	Next     *model.Document
	Keep     int
}

type CommitResult struct {
	Evicted []model.VersionRecord
}

func (c *Commit) validate() error {
	if c == nil || c.Next == nil {
		return fmt.Errorf("%w: commit without next head", appErr.ErrInvalid)
	}
	if err := ValidateDocument(c.Next); err != nil {
		return err
	}
	if c.Next.Version != c.ExpectedVersion+1 {
		return fmt.Errorf("%w: next version %d does not follow %d", appErr.ErrInvalid, c.Next.Version, c.ExpectedVersion)
	}
	if c.Previous != nil {
		if err := ValidateRecord(c.Previous); err != nil {
			return err
		}
	}
	return nil
}

func ValidateRecord(r *model.VersionRecord) error {
	if r == nil {
		return fmt.Errorf("%w: nil version record", appErr.ErrInvalid)
	}
	if r.Version < 1 {
		return fmt.Errorf("%w: version must be >= 1, got %d", appErr.ErrInvalid, r.Version)
	}
	if strings.TrimSpace(r.LastEditor) == "" {
		return fmt.Errorf("%w: version %d has no editor", appErr.ErrInvalid, r.Version)
	}
	if r.LastModified <= 0 {
		return fmt.Errorf("%w: version %d has no timestamp", appErr.ErrInvalid, r.Version)
	}
	return nil
}

func ValidateDocument(d *model.Document) error {
	if d == nil {
		return fmt.Errorf("%w: nil document", appErr.ErrInvalid)
	}
	return ValidateRecord(d.Record())
}

func validateMessage(m *model.Message) error {
	if m == nil || m.ID == "" || strings.TrimSpace(m.Nickname) == "" {
		return fmt.Errorf("%w: malformed message", appErr.ErrInvalid)
	}
	return nil
}

func conflictFrom(expected int, head *model.Document) *appErr.ConflictError {
	return &appErr.ConflictError{
		ExpectedVersion: expected,
		CurrentVersion:  head.Version,
		LastEditor:      head.LastEditor,
		LastModified:    head.LastModified,
		ChangeSummary:   head.ChangeSummary,
	}
}

// planEviction merges added into the ascending index and splits off the oldest
// entries beyond keep.
func planEviction(index []int, added []int, keep int) (kept []int, evicted []int) {
	seen := make(map[int]struct{}, len(index)+len(added))
	merged := make([]int, 0, len(index)+len(added))
	for _, v := range append(append([]int{}, index...), added...) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		merged = append(merged, v)
	}
	sort.Ints(merged)
	if keep <= 0 || len(merged) <= keep {
		return merged, nil
	}
	cut := len(merged) - keep
	return merged[cut:], merged[:cut]
}

func clampLimit(limit, size int) int {
	if limit <= 0 || limit > size {
		return size
	}
	return limit
}

func sortRecords(records []model.VersionRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].Version < records[j].Version })
}
