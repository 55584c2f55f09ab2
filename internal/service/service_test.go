package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/lavadoc/internal/model"
	appErr "github.com/xxxsen/lavadoc/internal/pkg/errors"
	"github.com/xxxsen/lavadoc/internal/repo"
)

type recordingSink struct {
	mu    sync.Mutex
	posts []string
}

func (s *recordingSink) Post(ctx context.Context, actor, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, actor+": "+message)
}

func (s *recordingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.posts...)
}

type recordingArchive struct {
	records []model.VersionRecord
	err     error
}

func (a *recordingArchive) Archive(ctx context.Context, records []model.VersionRecord) error {
	a.records = append(a.records, records...)
	return a.err
}

// failingStore lets a test break individual store calls.
type failingStore struct {
	repo.Store
	commitErr error
	headErr   error
	// commitConflicts makes that many commits fail as if another writer won.
	commitConflicts int
}

func (s *failingStore) Commit(ctx context.Context, c *repo.Commit) (*repo.CommitResult, error) {
	if s.commitErr != nil {
		return nil, s.commitErr
	}
	if s.commitConflicts > 0 {
		s.commitConflicts--
		return nil, &appErr.ConflictError{ExpectedVersion: c.ExpectedVersion, CurrentVersion: c.ExpectedVersion + 1, LastEditor: "carol"}
	}
	return s.Store.Commit(ctx, c)
}

func (s *failingStore) GetHead(ctx context.Context) (*model.Document, error) {
	if s.headErr != nil {
		return nil, s.headErr
	}
	return s.Store.GetHead(ctx)
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	store   repo.Store
	sink    *recordingSink
	archive *recordingArchive
	docs    *DocumentService
	restore *RestoreService
}

func newFixture(t *testing.T, keep int) *fixture {
	t.Helper()
	return newFixtureWithStore(t, repo.NewMemoryStore(), keep)
}

func newFixtureWithStore(t *testing.T, store repo.Store, keep int) *fixture {
	t.Helper()
	sink := &recordingSink{}
	archive := &recordingArchive{}
	clock := &stepClock{now: time.UnixMilli(1700000000000)}
	docs := NewDocumentService(store, sink, DocumentOptions{
		VersionKeep:    keep,
		InitialContent: "# Welcome",
		Archive:        archive,
		Now:            clock.Now,
	})
	return &fixture{
		store:   store,
		sink:    sink,
		archive: archive,
		docs:    docs,
		restore: NewRestoreService(docs, sink),
	}
}

func (f *fixture) update(t *testing.T, content, editor string) *model.Document {
	t.Helper()
	res, err := f.docs.UpdateDocument(context.Background(), UpdateInput{Content: content, Editor: editor})
	require.NoError(t, err)
	require.Equal(t, OutcomeMutated, res.Outcome)
	return res.Document
}

func intPtr(v int) *int {
	return &v
}

func TestGetDocumentInitializes(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	doc, err := f.docs.GetDocument(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, doc.Version)
	require.Equal(t, "# Welcome", doc.Content)
	require.Equal(t, "system", doc.LastEditor)
	require.Equal(t, "Initial document", doc.ChangeSummary)

	again, err := f.docs.GetDocument(ctx)
	require.NoError(t, err)
	require.Equal(t, doc, again)

	rec, err := f.docs.GetVersion(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "# Welcome", rec.Content)
	require.Empty(t, f.sink.all())
}

func TestUpdateDocumentMutates(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	res, err := f.docs.UpdateDocument(ctx, UpdateInput{Content: "# Welcome\nhello", Editor: "alice", ExpectedVersion: intPtr(1)})
	require.NoError(t, err)
	require.Equal(t, OutcomeMutated, res.Outcome)
	require.Equal(t, 2, res.Document.Version)
	require.Equal(t, "alice", res.Document.LastEditor)
	require.Equal(t, "Added 1 line", res.Document.ChangeSummary)

	head, err := f.docs.GetDocument(ctx)
	require.NoError(t, err)
	require.Equal(t, res.Document, head)

	rec, err := f.docs.GetVersion(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, head.Content, rec.Content)
	require.Equal(t, head.LastModified, rec.LastModified)

	require.Equal(t, []string{"Lava: alice updated the document (v2): Added 1 line"}, f.sink.all())
}

func TestUpdateDocumentVersionsIncreaseByOne(t *testing.T) {
	f := newFixture(t, 100)
	prev, err := f.docs.GetDocument(context.Background())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		next := f.update(t, fmt.Sprintf("content %d", i), "bob")
		require.Equal(t, prev.Version+1, next.Version)
		require.GreaterOrEqual(t, next.LastModified, prev.LastModified)
		prev = next
	}
}

func TestUpdateDocumentNoOp(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	before := f.update(t, "same text", "alice")
	posts := len(f.sink.all())

	res, err := f.docs.UpdateDocument(ctx, UpdateInput{Content: "same text", Editor: "bob"})
	require.NoError(t, err)
	require.Equal(t, OutcomeNoOp, res.Outcome)
	require.Equal(t, before, res.Document)

	head, err := f.docs.GetDocument(ctx)
	require.NoError(t, err)
	require.Equal(t, before, head)
	require.Len(t, f.sink.all(), posts)

	_, err = f.docs.GetVersion(ctx, before.Version+1)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestUpdateDocumentConflict(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	for i := 2; i <= 5; i++ {
		f.update(t, fmt.Sprintf("v%d", i), "bob")
	}
	before, err := f.docs.GetDocument(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, before.Version)

	_, err = f.docs.UpdateDocument(ctx, UpdateInput{Content: "x", Editor: "alice", ExpectedVersion: intPtr(3)})
	require.ErrorIs(t, err, appErr.ErrConflict)
	conflict, ok := appErr.AsConflict(err)
	require.True(t, ok)
	require.Equal(t, 5, conflict.CurrentVersion)
	require.Equal(t, 3, conflict.ExpectedVersion)
	require.Equal(t, "bob", conflict.LastEditor)
	require.Equal(t, before.ChangeSummary, conflict.ChangeSummary)

	after, err := f.docs.GetDocument(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)

	posts := f.sink.all()
	require.Equal(t, "Lava: alice's edit was rejected: the document is at v5 (edited by bob), not v3", posts[len(posts)-1])
}

func TestUpdateDocumentValidation(t *testing.T) {
	f := newFixture(t, 100)
	_, err := f.docs.UpdateDocument(context.Background(), UpdateInput{Content: "x", Editor: "  "})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestUpdateDocumentPersistenceFault(t *testing.T) {
	store := &failingStore{Store: repo.NewMemoryStore()}
	f := newFixtureWithStore(t, store, 100)
	ctx := context.Background()
	_, err := f.docs.GetDocument(ctx)
	require.NoError(t, err)

	boom := errors.New("connection reset")
	store.commitErr = boom
	_, err = f.docs.UpdateDocument(ctx, UpdateInput{Content: "new", Editor: "alice"})
	require.ErrorIs(t, err, appErr.ErrPersistence)
	require.ErrorIs(t, err, boom)

	store.commitErr = nil
	head, err := f.docs.GetDocument(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, head.Version)

	store.headErr = boom
	_, err = f.docs.GetDocument(ctx)
	require.ErrorIs(t, err, appErr.ErrPersistence)
}

func TestCommitRaceRetriesUnconditionalWrite(t *testing.T) {
	store := &failingStore{Store: repo.NewMemoryStore()}
	f := newFixtureWithStore(t, store, 100)
	ctx := context.Background()
	_, err := f.docs.GetDocument(ctx)
	require.NoError(t, err)

	store.commitConflicts = 2
	res, err := f.docs.UpdateDocument(ctx, UpdateInput{Content: "new", Editor: "alice"})
	require.NoError(t, err)
	require.Equal(t, OutcomeMutated, res.Outcome)
	require.Equal(t, 2, res.Document.Version)
	require.Equal(t, 0, store.commitConflicts)
	posts := f.sink.all()
	require.Len(t, posts, 1)
	require.Contains(t, posts[0], "alice updated the document (v2)")
}

func TestCommitRaceWithExpectationIsConflict(t *testing.T) {
	store := &failingStore{Store: repo.NewMemoryStore()}
	f := newFixtureWithStore(t, store, 100)
	ctx := context.Background()
	_, err := f.docs.GetDocument(ctx)
	require.NoError(t, err)

	store.commitConflicts = 1
	_, err = f.docs.UpdateDocument(ctx, UpdateInput{Content: "new", Editor: "alice", ExpectedVersion: intPtr(1)})
	require.ErrorIs(t, err, appErr.ErrConflict)
	require.False(t, appErr.IsPersistence(err))
	conflict, ok := appErr.AsConflict(err)
	require.True(t, ok)
	require.Equal(t, 1, conflict.ExpectedVersion)
	require.Equal(t, 2, conflict.CurrentVersion)
}

func TestSharedStoreWritersAllSucceed(t *testing.T) {
	store := repo.NewMemoryStore()
	a := newFixtureWithStore(t, store, 100)
	b := newFixtureWithStore(t, store, 100)
	ctx := context.Background()
	_, err := a.docs.GetDocument(ctx)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}
	for i := 0; i < 10; i++ {
		f := a
		if i%2 == 1 {
			f = b
		}
		wg.Add(2)
		go func(i int, f *fixture) {
			defer wg.Done()
			_, err := f.docs.UpdateDocument(ctx, UpdateInput{Content: fmt.Sprintf("writer %d", i), Editor: fmt.Sprintf("w%d", i)})
			record(err)
		}(i, f)
		go func(f *fixture) {
			defer wg.Done()
			_, err := f.restore.Restore(ctx, 1, "restorer")
			record(err)
		}(f)
	}
	wg.Wait()
	require.Empty(t, errs)

	head, err := b.docs.GetDocument(ctx)
	require.NoError(t, err)
	require.Equal(t, 21, head.Version)
	metas, err := a.docs.ListVersions(ctx, 100)
	require.NoError(t, err)
	require.Len(t, metas, 21)
}

func TestCachedVersionEvictedByOtherWriter(t *testing.T) {
	const keep = 3
	store := repo.NewMemoryStore()
	a := newFixtureWithStore(t, store, keep)
	b := newFixtureWithStore(t, store, keep)
	ctx := context.Background()

	_, err := a.docs.GetDocument(ctx)
	require.NoError(t, err)
	first, err := a.docs.GetVersion(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "# Welcome", first.Content)

	for i := 0; i < 5; i++ {
		b.update(t, fmt.Sprintf("edit %d", i), "bob")
	}

	_, err = a.docs.GetVersion(ctx, 1)
	require.ErrorIs(t, err, appErr.ErrNotFound)
	_, err = a.restore.Restore(ctx, 1, "alice")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	head, err := a.docs.GetDocument(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, head.Version)
	require.Equal(t, "edit 4", head.Content)
}

func TestRetentionEvictsOldest(t *testing.T) {
	const keep = 5
	f := newFixture(t, keep)
	ctx := context.Background()

	_, err := f.docs.GetVersion(ctx, 1)
	require.ErrorIs(t, err, appErr.ErrNotFound)
	_, err = f.docs.GetDocument(ctx)
	require.NoError(t, err)
	first, err := f.docs.GetVersion(ctx, 1)
	require.NoError(t, err)

	for i := 0; i < keep+1; i++ {
		f.update(t, fmt.Sprintf("edit %d", i), "alice")
	}
	metas, err := f.docs.ListVersions(ctx, keep+5)
	require.NoError(t, err)
	require.Len(t, metas, keep)
	require.Equal(t, keep+2, metas[0].Version)

	_, err = f.docs.GetVersion(ctx, 1)
	require.ErrorIs(t, err, appErr.ErrNotFound)
	_, err = f.docs.GetVersion(ctx, 2)
	require.ErrorIs(t, err, appErr.ErrNotFound)

	require.Len(t, f.archive.records, 2)
	require.Equal(t, *first, f.archive.records[0])
}

func TestRetentionUnbounded(t *testing.T) {
	f := newFixture(t, 0)
	for i := 0; i < 30; i++ {
		f.update(t, fmt.Sprintf("edit %d", i), "alice")
	}
	metas, err := f.docs.ListVersions(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, metas, 31)

	metas, err = f.docs.ListVersions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, metas, DefaultVersionListLimit)

	n, err := f.docs.PruneVersions(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestArchiveFailureDoesNotFailUpdate(t *testing.T) {
	f := newFixture(t, 1)
	f.archive.err = errors.New("disk full")
	f.update(t, "a", "alice")
	f.update(t, "b", "alice")
	require.Len(t, f.archive.records, 2)
}

func TestRestore(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	v2 := f.update(t, "version two", "alice")
	for i := 3; i <= 7; i++ {
		f.update(t, fmt.Sprintf("version %d", i), "bob")
	}

	doc, err := f.restore.Restore(ctx, 2, "bob")
	require.NoError(t, err)
	require.Equal(t, 8, doc.Version)
	require.Equal(t, v2.Content, doc.Content)
	require.Equal(t, "bob", doc.LastEditor)
	require.Equal(t, fmt.Sprintf("Restored to version 2 (%s)", v2.ChangeSummary), doc.ChangeSummary)

	rec, err := f.docs.GetVersion(ctx, 8)
	require.NoError(t, err)
	orig, err := f.docs.GetVersion(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, orig.Content, rec.Content)

	posts := f.sink.all()
	require.Equal(t, "Lava: Restored to v2. This created v8.", posts[len(posts)-1])
}

func TestRestoreOfHeadContentCreatesVersion(t *testing.T) {
	f := newFixture(t, 100)
	head := f.update(t, "current", "alice")
	doc, err := f.restore.Restore(context.Background(), head.Version, "bob")
	require.NoError(t, err)
	require.Equal(t, head.Version+1, doc.Version)
	require.Equal(t, head.Content, doc.Content)
}

func TestRestoreMissingVersion(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	f.update(t, "x", "alice")

	_, err := f.restore.Restore(ctx, 42, "bob")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	head, err := f.docs.GetDocument(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, head.Version)

	_, err = f.restore.Restore(ctx, 1, "")
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestConcurrentUpdatesWithSameExpectation(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	_, err := f.docs.GetDocument(ctx)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		mutated   int
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.docs.UpdateDocument(ctx, UpdateInput{
				Content:         fmt.Sprintf("writer %d", i),
				Editor:          fmt.Sprintf("w%d", i),
				ExpectedVersion: intPtr(1),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				mutated++
			case appErr.IsConflict(err):
				conflicts++
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, mutated)
	require.Equal(t, 9, conflicts)

	head, err := f.docs.GetDocument(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, head.Version)
}
