package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS hmacfs_entries (
	path        TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	type        TEXT NOT NULL,
	content     BYTEA,
	mime_type   TEXT NOT NULL DEFAULT '',
	size        BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	parent_path TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS hmacfs_entries_parent_path_idx ON hmacfs_entries (parent_path);
`

const selectColumns = `SELECT path, name, type, content, mime_type, size, created_at, updated_at, parent_path FROM hmacfs_entries`

type postgresEngine struct {
	logger  *slog.Logger
	db      *sql.DB
	timeout time.Duration
}

var _ Engine = &postgresEngine{}

// NewPostgres opens the database at databaseURL and creates the entries table
// and its parent index if they are missing. The returned engine owns the
// connection pool.
func NewPostgres(ctx context.Context, logger *slog.Logger, databaseURL string, timeout time.Duration) (Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pe := &postgresEngine{
		logger:  logger.WithGroup("engine"),
		db:      db,
		timeout: timeout,
	}

	octx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(octx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	if _, err := db.ExecContext(octx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate hmacfs_entries")
	}

	pe.logger.Info("postgres engine ready")
	return pe, nil
}

func (p *postgresEngine) Close() error {
	return p.db.Close()
}

// classifySQL treats data exceptions as corruption; every other driver or
// connection failure is transient.
func classifySQL(op, path string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code.Class() == "22" {
			return corruption(op, path, err)
		}
		return transient(op, path, errors.Wrapf(err, "postgres %s (%s)", pqErr.Code.Class().Name(), pqErr.Code))
	}
	return transient(op, path, err)
}

// TEXT columns cannot hold NUL, which is a legal byte inside a path segment.
// Text values are stored escaped; the mapping is injective so equality on
// path and parent_path still matches exactly one logical value.
var (
	textEscaper   = strings.NewReplacer(`\`, `\\`, "\x00", `\0`)
	textUnescaper = strings.NewReplacer(`\\`, `\`, `\0`, "\x00")
)

func pgText(s string) string {
	return textEscaper.Replace(s)
}

func fromPGText(s string) string {
	return textUnescaper.Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.Entry, error) {
	var (
		e       models.Entry
		kind    string
		content []byte
	)
	if err := row.Scan(&e.Path, &e.Name, &kind, &content, &e.MimeType, &e.Size,
		&e.CreatedAt, &e.UpdatedAt, &e.ParentPath); err != nil {
		return nil, err
	}
	e.Path = fromPGText(e.Path)
	e.Name = fromPGText(e.Name)
	e.MimeType = fromPGText(e.MimeType)
	e.ParentPath = fromPGText(e.ParentPath)
	e.Kind = models.Kind(kind)
	if e.Kind == models.KindFile {
		e.Content = content
		if e.Content == nil {
			e.Content = []byte{}
		}
	}
	if err := validate(&e); err != nil {
		return nil, &rowError{err: err}
	}
	return &e, nil
}

func (p *postgresEngine) Get(ctx context.Context, path string) (*models.Entry, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	row := p.db.QueryRowContext(ctx, selectColumns+` WHERE path = $1`, pgText(path))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		if isRowError(err) {
			return nil, corruption("get", path, err)
		}
		return nil, classifySQL("get", path, err)
	}
	return e, nil
}

func (p *postgresEngine) Put(ctx context.Context, e *models.Entry) error {
	if err := validate(e); err != nil {
		return corruption("put", e.Path, errors.Wrap(err, "refusing to write invalid entry"))
	}

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	var content []byte
	if e.Kind == models.KindFile {
		content = e.Content
	}

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO hmacfs_entries (path, name, type, content, mime_type, size, created_at, updated_at, parent_path)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (path) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			content = EXCLUDED.content,
			mime_type = EXCLUDED.mime_type,
			size = EXCLUDED.size,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			parent_path = EXCLUDED.parent_path`,
		pgText(e.Path), pgText(e.Name), string(e.Kind), content, pgText(e.MimeType), e.Size, e.CreatedAt, e.UpdatedAt, pgText(e.ParentPath))
	if err != nil {
		return classifySQL("put", e.Path, err)
	}
	return nil
}

func (p *postgresEngine) Delete(ctx context.Context, path string) error {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.db.ExecContext(ctx, `DELETE FROM hmacfs_entries WHERE path = $1`, pgText(path)); err != nil {
		return classifySQL("delete", path, err)
	}
	return nil
}

func (p *postgresEngine) ScanByParent(ctx context.Context, parent string) ([]*models.Entry, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, selectColumns+` WHERE parent_path = $1`, pgText(parent))
	if err != nil {
		return nil, classifySQL("scan", parent, err)
	}
	defer rows.Close()

	var entries []*models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			if isRowError(err) {
				return nil, corruption("scan", parent, err)
			}
			return nil, classifySQL("scan", parent, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQL("scan", parent, err)
	}
	return entries, nil
}

// rowError marks a row that was read but did not hold a valid entry.
type rowError struct {
	err error
}

func (r *rowError) Error() string { return "invalid row: " + r.err.Error() }

func (r *rowError) Unwrap() error { return r.err }

func isRowError(err error) bool {
	var re *rowError
	return errors.As(err, &re)
}
