package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"

	"github.com/xxxsen/lavadoc/internal/model"
	"github.com/xxxsen/lavadoc/internal/pkg/dbutil"
	appErr "github.com/xxxsen/lavadoc/internal/pkg/errors"
)

const (
	tableHead     = "document_head"
	tableVersions = "document_versions"
	tableMessages = "messages"

	headRowID = 1
)

var (
	headColumns    = []string{"content", "version", "last_modified", "last_editor", "change_summary"}
	versionColumns = []string{"version", "content", "last_modified", "last_editor", "change_summary"}
	messageColumns = []string{"id", "nickname", "text", "created_at"}
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetHead(ctx context.Context) (*model.Document, error) {
	return s.loadHead(ctx, s.db, false)
}

func (s *PostgresStore) loadHead(ctx context.Context, q sqlx.QueryerContext, lock bool) (*model.Document, error) {
	where := map[string]interface{}{"id": headRowID}
	sqlStr, args, err := builder.BuildSelect(tableHead, where, headColumns)
	if err != nil {
		return nil, err
	}
	if lock {
		sqlStr += " FOR UPDATE"
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var doc model.Document
	if err := sqlx.GetContext(ctx, q, &doc, sqlStr, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (s *PostgresStore) InitHead(ctx context.Context, doc *model.Document, keep int) (*model.Document, error) {
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO document_head (id, content, version, last_modified, last_editor, change_summary)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			headRowID, doc.Content, doc.Version, doc.LastModified, doc.LastEditor, doc.ChangeSummary)
		if err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			return nil
		}
		if err := upsertVersion(ctx, tx, doc.Record(), true); err != nil {
			return err
		}
		_, err = pruneVersions(ctx, tx, keep)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetHead(ctx)
}

func (s *PostgresStore) Commit(ctx context.Context, c *Commit) (*CommitResult, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	result := &CommitResult{}
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		head, err := s.loadHead(ctx, tx, true)
		if err != nil {
			return err
		}
		if head.Version != c.ExpectedVersion {
			return conflictFrom(c.ExpectedVersion, head)
		}
		if c.Previous != nil {
			if err := upsertVersion(ctx, tx, c.Previous, false); err != nil {
				return err
			}
		}
		where := map[string]interface{}{"id": headRowID, "version": c.ExpectedVersion}
		update := map[string]interface{}{
			"content":        c.Next.Content,
			"version":        c.Next.Version,
			"last_modified":  c.Next.LastModified,
			"last_editor":    c.Next.LastEditor,
			"change_summary": c.Next.ChangeSummary,
		}
		sqlStr, args, err := builder.BuildUpdate(tableHead, where, update)
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		res, err := tx.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return err
		}
		if affected, err := res.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			return conflictFrom(c.ExpectedVersion, head)
		}
		if err := upsertVersion(ctx, tx, c.Next.Record(), true); err != nil {
			return err
		}
		result.Evicted, err = pruneVersions(ctx, tx, c.Keep)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) SaveVersion(ctx context.Context, record *model.VersionRecord, keep int) ([]model.VersionRecord, error) {
	if err := ValidateRecord(record); err != nil {
		return nil, err
	}
	var evicted []model.VersionRecord
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := upsertVersion(ctx, tx, record, true); err != nil {
			return err
		}
		var err error
		evicted, err = pruneVersions(ctx, tx, keep)
		return err
	})
	return evicted, err
}

func (s *PostgresStore) GetVersion(ctx context.Context, version int) (*model.VersionRecord, error) {
	where := map[string]interface{}{"version": version}
	sqlStr, args, err := builder.BuildSelect(tableVersions, where, versionColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var rec model.VersionRecord
	if err := s.db.GetContext(ctx, &rec, sqlStr, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) HasVersion(ctx context.Context, version int) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM document_versions WHERE version = $1)`, version)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, limit int) ([]model.VersionMeta, error) {
	where := map[string]interface{}{"_orderby": "version desc"}
	if limit > 0 {
		where["_limit"] = []uint{0, uint(limit)}
	}
	sqlStr, args, err := builder.BuildSelect(tableVersions, where, versionColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var records []model.VersionRecord
	if err := s.db.SelectContext(ctx, &records, sqlStr, args...); err != nil {
		return nil, err
	}
	out := make([]model.VersionMeta, 0, len(records))
	for i := range records {
		out = append(out, records[i].Meta())
	}
	return out, nil
}

func (s *PostgresStore) PruneVersions(ctx context.Context, keep int) ([]model.VersionRecord, error) {
	var evicted []model.VersionRecord
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		evicted, err = pruneVersions(ctx, tx, keep)
		return err
	})
	return evicted, err
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *model.Message, keep int) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		data := map[string]interface{}{
			"id":         msg.ID,
			"nickname":   msg.Nickname,
			"text":       msg.Text,
			"created_at": msg.Timestamp,
		}
		sqlStr, args, err := builder.BuildInsert(tableMessages, []map[string]interface{}{data})
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			if dbutil.IsConflict(err) {
				return appErr.ErrConflict
			}
			return err
		}
		_, err = trimMessages(ctx, tx, keep)
		return err
	})
}

func (s *PostgresStore) ListMessages(ctx context.Context, limit int) ([]model.Message, error) {
	where := map[string]interface{}{"_orderby": "seq desc"}
	if limit > 0 {
		where["_limit"] = []uint{0, uint(limit)}
	}
	sqlStr, args, err := builder.BuildSelect(tableMessages, where, messageColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var msgs []model.Message
	if err := s.db.SelectContext(ctx, &msgs, sqlStr, args...); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

func (s *PostgresStore) TrimMessages(ctx context.Context, keep int) (int, error) {
	var dropped int
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		dropped, err = trimMessages(ctx, tx, keep)
		return err
	})
	return dropped, err
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// upsertVersion writes a record; with overwrite false an existing row is kept.
func upsertVersion(ctx context.Context, tx *sqlx.Tx, rec *model.VersionRecord, overwrite bool) error {
	action := "DO NOTHING"
	if overwrite {
		action = `DO UPDATE SET content = EXCLUDED.content,
			last_modified = EXCLUDED.last_modified,
			last_editor = EXCLUDED.last_editor,
			change_summary = EXCLUDED.change_summary`
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (version, content, last_modified, last_editor, change_summary)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (version) `+action,
		rec.Version, rec.Content, rec.LastModified, rec.LastEditor, rec.ChangeSummary)
	return err
}

func pruneVersions(ctx context.Context, tx *sqlx.Tx, keep int) ([]model.VersionRecord, error) {
	if keep <= 0 {
		return nil, nil
	}
	var evicted []model.VersionRecord
	err := tx.SelectContext(ctx, &evicted, `
		DELETE FROM document_versions
		WHERE version NOT IN (
			SELECT version
			FROM document_versions
			ORDER BY version DESC
			LIMIT $1
		)
		RETURNING version, content, last_modified, last_editor, change_summary`, keep)
	if err != nil {
		return nil, err
	}
	sortRecords(evicted)
	return evicted, nil
}

func trimMessages(ctx context.Context, tx *sqlx.Tx, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE seq NOT IN (
			SELECT seq
			FROM messages
			ORDER BY seq DESC
			LIMIT $1
		)`, keep)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
