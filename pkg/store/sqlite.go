package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/KobraKid/bestiary-sub000/pkg/entry"
)

// SetupSchema initializes the entry and resource tables in the provided
// database. It is idempotent and safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaEntries = `
CREATE TABLE IF NOT EXISTS entries (
    package TEXT NOT NULL,
    grp     TEXT NOT NULL,
    id      TEXT NOT NULL,
    doc     TEXT NOT NULL,
    PRIMARY KEY (package, grp, id)
);
`
		schemaResources = `
CREATE TABLE IF NOT EXISTS resources (
    package TEXT NOT NULL,
    id      TEXT NOT NULL,
    doc     TEXT NOT NULL,
    PRIMARY KEY (package, id)
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaEntries); err != nil {
		return fmt.Errorf("could not create entries schema: %w", err)
	}
	if _, err = tx.Exec(schemaResources); err != nil {
		return fmt.Errorf("could not create resources schema: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// SQLStore keeps entries and resources as JSON documents in a SQL database.
// It holds prepared statements for every lookup the renderer performs.
type SQLStore struct {
	db                *sql.DB
	stmtFindEntry     *sql.Stmt
	stmtEntriesByID   *sql.Stmt
	stmtEntriesSorted *sql.Stmt
	stmtCountEntries  *sql.Stmt
	stmtFindResource  *sql.Stmt
	stmtPutEntry      *sql.Stmt
	stmtPutResource   *sql.Stmt
	logger            *slog.Logger
}

// NewSQLStore prepares all statements against db. SetupSchema must have been
// run on db beforehand.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	var err error
	prepare := func(query string) *sql.Stmt {
		if err != nil {
			return nil
		}
		var stmt *sql.Stmt
		stmt, err = db.Prepare(query)
		return stmt
	}

	s.stmtFindEntry = prepare(`SELECT doc FROM entries WHERE package = ? AND grp = ? AND id = ?;`)
	s.stmtEntriesByID = prepare(`SELECT id, doc FROM entries WHERE package = ? AND grp = ? ORDER BY id LIMIT ? OFFSET ?;`)
	s.stmtEntriesSorted = prepare(`SELECT id, doc FROM entries WHERE package = ? AND grp = ? ORDER BY json_extract(doc, ?), id LIMIT ? OFFSET ?;`)
	s.stmtCountEntries = prepare(`SELECT COUNT(*) FROM entries WHERE package = ? AND grp = ?;`)
	s.stmtFindResource = prepare(`SELECT doc FROM resources WHERE package = ? AND id = ?;`)
	s.stmtPutEntry = prepare(`INSERT INTO entries (package, grp, id, doc) VALUES (?, ?, ?, ?) ON CONFLICT(package, grp, id) DO UPDATE SET doc = excluded.doc;`)
	s.stmtPutResource = prepare(`INSERT INTO resources (package, id, doc) VALUES (?, ?, ?) ON CONFLICT(package, id) DO UPDATE SET doc = excluded.doc;`)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

// SetLogger sets the logger for the store. By default, all logs are discarded.
func (s *SQLStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Close releases the prepared statements. The database itself is owned by the caller.
func (s *SQLStore) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtFindEntry, s.stmtEntriesByID, s.stmtEntriesSorted, s.stmtCountEntries,
		s.stmtFindResource, s.stmtPutEntry, s.stmtPutResource,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return nil
}

// FindEntry implements EntryStore.
func (s *SQLStore) FindEntry(ctx context.Context, pkg, group, id string) (*entry.Entry, error) {
	var doc string
	err := s.stmtFindEntry.QueryRowContext(ctx, pkg, group, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entry %s/%s.%s: %w", pkg, group, id, err)
	}
	return decodeEntry(pkg, group, id, doc)
}

// FindEntries implements EntryStore.
func (s *SQLStore) FindEntries(ctx context.Context, pkg, group string, page, pageSize int, sort string) ([]*entry.Entry, error) {
	limit := pageSize
	if limit <= 0 {
		limit = -1
	}
	offset := 0
	if pageSize > 0 {
		offset = pageOffset(page, pageSize)
	}

	var (
		rows *sql.Rows
		err  error
	)
	if ValidSortKey(sort) {
		rows, err = s.stmtEntriesSorted.QueryContext(ctx, pkg, group, jsonPath(sort), limit, offset)
	} else {
		if sort != "" {
			s.logger.WarnContext(ctx, "Ignoring invalid sort key", "sort", sort)
		}
		rows, err = s.stmtEntriesByID.QueryContext(ctx, pkg, group, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entries of %s/%s: %w", pkg, group, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var entries []*entry.Entry
	for rows.Next() {
		var id, doc string
		if err = rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		e, err := decodeEntry(pkg, group, id, doc)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// CountEntries implements EntryStore.
func (s *SQLStore) CountEntries(ctx context.Context, pkg, group string) (int, error) {
	var count int
	if err := s.stmtCountEntries.QueryRowContext(ctx, pkg, group).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entries of %s/%s: %w", pkg, group, err)
	}
	return count, nil
}

// FindResource implements ResourceStore.
func (s *SQLStore) FindResource(ctx context.Context, pkg, id string) (*entry.Resource, error) {
	var doc string
	err := s.stmtFindResource.QueryRowContext(ctx, pkg, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query resource %s/%s: %w", pkg, id, err)
	}
	var value entry.Value
	if err = json.Unmarshal([]byte(doc), &value); err != nil {
		return nil, fmt.Errorf("corrupt resource %s/%s: %w", pkg, id, err)
	}
	return &entry.Resource{Package: pkg, ID: id, Value: value}, nil
}

// PutEntry implements Writer.
func (s *SQLStore) PutEntry(ctx context.Context, e *entry.Entry) error {
	doc, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode entry %s/%s: %w", e.Package, e.Key(), err)
	}
	if _, err = s.stmtPutEntry.ExecContext(ctx, e.Package, e.Group, e.ID, string(doc)); err != nil {
		return fmt.Errorf("failed to store entry %s/%s: %w", e.Package, e.Key(), err)
	}
	return nil
}

// PutResource implements Writer.
func (s *SQLStore) PutResource(ctx context.Context, r *entry.Resource) error {
	doc, err := json.Marshal(r.Value)
	if err != nil {
		return fmt.Errorf("failed to encode resource %s/%s: %w", r.Package, r.ID, err)
	}
	if _, err = s.stmtPutResource.ExecContext(ctx, r.Package, r.ID, string(doc)); err != nil {
		return fmt.Errorf("failed to store resource %s/%s: %w", r.Package, r.ID, err)
	}
	return nil
}

func decodeEntry(pkg, group, id, doc string) (*entry.Entry, error) {
	var attrs entry.Value
	if err := json.Unmarshal([]byte(doc), &attrs); err != nil {
		return nil, fmt.Errorf("corrupt entry %s/%s.%s: %w", pkg, group, id, err)
	}
	return &entry.Entry{Package: pkg, Group: group, ID: id, Attributes: attrs}, nil
}

// jsonPath turns a validated attribute path into a SQLite JSON path.
func jsonPath(sort string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range strings.Split(sort, ".") {
		b.WriteString(`."`)
		b.WriteString(seg)
		b.WriteString(`"`)
	}
	return b.String()
}
