package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/serp-monitor/internal/model"
)

// SQLiteStore implements Store on a single SQLite database file. Each tenant
// gets its own file.
type SQLiteStore struct {
	db       *sql.DB
	tenantID string
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn, tenantID string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer keeps snapshot ids in commit order.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, tenantID: tenantID}, nil
}

// newSQLiteFromDB wraps an existing handle. Used with sqlmock in tests.
func newSQLiteFromDB(db *sql.DB, tenantID string) *SQLiteStore {
	return &SQLiteStore{db: db, tenantID: tenantID}
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS search_settings (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	search_query   TEXT NOT NULL,
	location       TEXT NOT NULL,
	enabled        INTEGER NOT NULL DEFAULT 1,
	interval_hours INTEGER NOT NULL CHECK (interval_hours > 0),
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS search_results (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	query         TEXT NOT NULL,
	search_date   DATETIME NOT NULL,
	total_results INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS search_links (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	search_result_id INTEGER NOT NULL REFERENCES search_results(id),
	url              TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	snippet          TEXT NOT NULL DEFAULT '',
	position         INTEGER NOT NULL,
	domain           TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL,
	UNIQUE (search_result_id, position)
);

CREATE INDEX IF NOT EXISTS idx_search_results_date ON search_results(search_date, id);
CREATE INDEX IF NOT EXISTS idx_search_results_query_date ON search_results(query, search_date, id);
CREATE INDEX IF NOT EXISTS idx_search_links_url ON search_links(url);
CREATE INDEX IF NOT EXISTS idx_search_links_domain ON search_links(domain);
CREATE INDEX IF NOT EXISTS idx_search_links_created_at ON search_links(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Settings ---

func (s *SQLiteStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT search_query, location, enabled, interval_hours, created_at, updated_at
		 FROM search_settings WHERE id = 1`,
	)
	var st model.Settings
	err := row.Scan(&st.SearchQuery, &st.Location, &st.Enabled, &st.IntervalHours, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get settings")
	}
	return &st, nil
}

func (s *SQLiteStore) EnsureSettings(ctx context.Context, defaults model.Settings) (*model.Settings, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_settings (id, search_query, location, enabled, interval_hours, created_at, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		defaults.SearchQuery, defaults.Location, defaults.Enabled, defaults.IntervalHours, now, now,
	)
	if err != nil {
		return nil, persistErr("ensure settings", err)
	}
	return s.GetSettings(ctx)
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, st *model.Settings) error {
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_settings (id, search_query, location, enabled, interval_hours, created_at, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			search_query = excluded.search_query,
			location = excluded.location,
			enabled = excluded.enabled,
			interval_hours = excluded.interval_hours,
			updated_at = excluded.updated_at`,
		st.SearchQuery, st.Location, st.Enabled, st.IntervalHours, st.CreatedAt, st.UpdatedAt,
	)
	return persistErr("save settings", err)
}

// --- Snapshots ---

// CreateSnapshot writes the snapshot row and all of its links in one
// transaction and fills in the assigned ids.
func (s *SQLiteStore) CreateSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if snap.SearchDate.IsZero() {
		snap.SearchDate = time.Now().UTC()
	}
	snap.SearchDate = snap.SearchDate.UTC()
	snap.TenantID = s.tenantID

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin snapshot", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO search_results (query, search_date, total_results) VALUES (?, ?, ?)`,
		snap.Query, snap.SearchDate, snap.TotalResults,
	)
	if err != nil {
		return persistErr("insert snapshot", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return persistErr("snapshot id", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO search_links (search_result_id, url, title, snippet, position, domain, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return persistErr("prepare links", err)
	}
	defer stmt.Close() //nolint:errcheck

	linkIDs := make([]int64, len(snap.Links))
	for i := range snap.Links {
		l := &snap.Links[i]
		res, err := stmt.ExecContext(ctx, id, l.URL, l.Title, l.Snippet, l.Position, l.Domain, snap.SearchDate)
		if err != nil {
			return persistErr(fmt.Sprintf("insert link %d", l.Position), err)
		}
		if linkIDs[i], err = res.LastInsertId(); err != nil {
			return persistErr("link id", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit snapshot", err)
	}

	snap.ID = id
	for i := range snap.Links {
		snap.Links[i].ID = linkIDs[i]
		snap.Links[i].SnapshotID = id
		snap.Links[i].CreatedAt = snap.SearchDate
	}
	return nil
}

const sqliteSnapshotCols = `id, query, search_date, total_results`

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id int64) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSnapshotCols+` FROM search_results WHERE id = ?`, id)
	snap, err := s.scanSnapshot(row)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrSnapshotNotFound
	}
	return snap, s.loadLinks(ctx, snap)
}

// PreviousSnapshot returns the snapshot of the same query term immediately
// before snap in (search_date, id) order.
func (s *SQLiteStore) PreviousSnapshot(ctx context.Context, snap *model.Snapshot) (*model.Snapshot, error) {
	date := snap.SearchDate.UTC()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSnapshotCols+` FROM search_results
		 WHERE query = ? AND id <> ? AND (search_date < ? OR (search_date = ? AND id < ?))
		 ORDER BY search_date DESC, id DESC LIMIT 1`,
		snap.Query, snap.ID, date, date, snap.ID,
	)
	prev, err := s.scanSnapshot(row)
	if err != nil || prev == nil {
		return nil, err
	}
	return prev, s.loadLinks(ctx, prev)
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSnapshotCols+` FROM search_results ORDER BY search_date DESC, id DESC LIMIT 1`)
	return s.withLinks(ctx, row)
}

func (s *SQLiteStore) FirstSnapshot(ctx context.Context) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSnapshotCols+` FROM search_results ORDER BY search_date ASC, id ASC LIMIT 1`)
	return s.withLinks(ctx, row)
}

func (s *SQLiteStore) withLinks(ctx context.Context, row *sql.Row) (*model.Snapshot, error) {
	snap, err := s.scanSnapshot(row)
	if err != nil || snap == nil {
		return nil, err
	}
	return snap, s.loadLinks(ctx, snap)
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.Snapshot, error) {
	var where []string
	var args []any
	if filter.Query != "" {
		where = append(where, "query = ?")
		args = append(args, filter.Query)
	}
	if !filter.Since.IsZero() {
		where = append(where, "search_date >= ?")
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		where = append(where, "search_date <= ?")
		args = append(args, filter.Until.UTC())
	}

	query := `SELECT ` + sqliteSnapshotCols + ` FROM search_results`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if filter.Desc {
		query += ` ORDER BY search_date DESC, id DESC`
	} else {
		query += ` ORDER BY search_date ASC, id ASC`
	}
	// sqlite treats a negative LIMIT as unbounded.
	query += ` LIMIT ? OFFSET ?`
	args = append(args, defaultLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	var snaps []model.Snapshot
	for rows.Next() {
		var snap model.Snapshot
		if err := rows.Scan(&snap.ID, &snap.Query, &snap.SearchDate, &snap.TotalResults); err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		snap.TenantID = s.tenantID
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		rows.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: list snapshots iterate")
	}
	rows.Close() //nolint:errcheck

	for i := range snaps {
		if err := s.loadLinks(ctx, &snaps[i]); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

// helpers

func (s *SQLiteStore) scanSnapshot(row *sql.Row) (*model.Snapshot, error) {
	var snap model.Snapshot
	err := row.Scan(&snap.ID, &snap.Query, &snap.SearchDate, &snap.TotalResults)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan snapshot")
	}
	snap.TenantID = s.tenantID
	return &snap, nil
}

func (s *SQLiteStore) loadLinks(ctx context.Context, snap *model.Snapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, title, snippet, position, domain, created_at
		 FROM search_links WHERE search_result_id = ? ORDER BY position ASC`,
		snap.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: load links for snapshot %d", snap.ID)
	}
	defer rows.Close() //nolint:errcheck

	snap.Links = snap.Links[:0]
	for rows.Next() {
		l := model.Link{SnapshotID: snap.ID}
		if err := rows.Scan(&l.ID, &l.URL, &l.Title, &l.Snippet, &l.Position, &l.Domain, &l.CreatedAt); err != nil {
			return eris.Wrap(err, "sqlite: scan link")
		}
		snap.Links = append(snap.Links, l)
	}
	return eris.Wrap(rows.Err(), "sqlite: load links iterate")
}
