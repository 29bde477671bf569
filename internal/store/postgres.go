package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/serp-monitor/internal/db"
	"github.com/sells-group/serp-monitor/internal/model"
)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPool creates the pgx pool shared by every tenant schema.
func NewPool(ctx context.Context, connString string, poolCfg *PoolConfig) (*pgxpool.Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return pool, nil
}

// SchemaPrefix prefixes every tenant schema name.
const SchemaPrefix = "tenant_"

// maxIdentifierLen is NAMEDATALEN-1. Postgres truncates longer names.
const maxIdentifierLen = 63

// SchemaName maps a tenant id to its postgres schema. The sanitized id is
// kept as is, case and dashes included; identifiers are always quoted.
func SchemaName(tenantID string) string {
	return SchemaPrefix + model.SanitizeTenantID(tenantID)
}

// PostgresStore implements Store inside one tenant schema of a shared pool.
type PostgresStore struct {
	pool     db.Pool
	schema   string
	tenantID string
}

// NewPostgres returns a store for tenantID. The pool is shared and is not
// closed by Close.
func NewPostgres(pool db.Pool, tenantID string) *PostgresStore {
	return &PostgresStore{pool: pool, schema: SchemaName(tenantID), tenantID: tenantID}
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.search_settings (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	search_query   TEXT NOT NULL,
	location       TEXT NOT NULL,
	enabled        BOOLEAN NOT NULL DEFAULT true,
	interval_hours INTEGER NOT NULL CHECK (interval_hours > 0),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[1]s.search_results (
	id            BIGSERIAL PRIMARY KEY,
	query         TEXT NOT NULL,
	search_date   TIMESTAMPTZ NOT NULL,
	total_results BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS %[1]s.search_links (
	id               BIGSERIAL PRIMARY KEY,
	search_result_id BIGINT NOT NULL REFERENCES %[1]s.search_results(id),
	url              TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	snippet          TEXT NOT NULL DEFAULT '',
	position         INTEGER NOT NULL,
	domain           TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (search_result_id, position)
);

CREATE INDEX IF NOT EXISTS idx_search_results_date ON %[1]s.search_results(search_date, id);
CREATE INDEX IF NOT EXISTS idx_search_results_query_date ON %[1]s.search_results(query, search_date, id);
CREATE INDEX IF NOT EXISTS idx_search_links_url ON %[1]s.search_links(url);
CREATE INDEX IF NOT EXISTS idx_search_links_domain ON %[1]s.search_links(domain);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := pgx.Identifier{s.schema}.Sanitize()
	_, err := s.pool.Exec(ctx, fmt.Sprintf(postgresMigration, schema))
	return eris.Wrapf(err, "postgres: migrate %s", s.schema)
}

func (s *PostgresStore) Close() error {
	return nil
}

// --- Settings ---

func (s *PostgresStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var st model.Settings
	err := s.pool.QueryRow(ctx,
		`SELECT search_query, location, enabled, interval_hours, created_at, updated_at FROM `+
			s.table("search_settings")+` WHERE id = 1`,
	).Scan(&st.SearchQuery, &st.Location, &st.Enabled, &st.IntervalHours, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get settings")
	}
	return &st, nil
}

func (s *PostgresStore) EnsureSettings(ctx context.Context, defaults model.Settings) (*model.Settings, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("search_settings")+` (id, search_query, location, enabled, interval_hours)
		 VALUES (1, $1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		defaults.SearchQuery, defaults.Location, defaults.Enabled, defaults.IntervalHours,
	)
	if err != nil {
		return nil, persistErr("ensure settings", err)
	}
	return s.GetSettings(ctx)
}

func (s *PostgresStore) SaveSettings(ctx context.Context, st *model.Settings) error {
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("search_settings")+` (id, search_query, location, enabled, interval_hours, created_at, updated_at)
		 VALUES (1, $1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			search_query = EXCLUDED.search_query,
			location = EXCLUDED.location,
			enabled = EXCLUDED.enabled,
			interval_hours = EXCLUDED.interval_hours,
			updated_at = EXCLUDED.updated_at`,
		st.SearchQuery, st.Location, st.Enabled, st.IntervalHours, st.CreatedAt, st.UpdatedAt,
	)
	return persistErr("save settings", err)
}

// --- Snapshots ---

var linkColumns = []string{"search_result_id", "url", "title", "snippet", "position", "domain", "created_at"}

// CreateSnapshot inserts the snapshot row and COPYs its links within a single
// transaction.
func (s *PostgresStore) CreateSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if snap.SearchDate.IsZero() {
		snap.SearchDate = time.Now().UTC()
	}
	snap.SearchDate = snap.SearchDate.UTC()
	snap.TenantID = s.tenantID

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistErr("begin snapshot", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO `+s.table("search_results")+` (query, search_date, total_results)
		 VALUES ($1, $2, $3) RETURNING id`,
		snap.Query, snap.SearchDate, snap.TotalResults,
	).Scan(&id)
	if err != nil {
		return persistErr("insert snapshot", err)
	}

	rows := make([][]any, len(snap.Links))
	for i, l := range snap.Links {
		rows[i] = []any{id, l.URL, l.Title, l.Snippet, l.Position, l.Domain, snap.SearchDate}
	}
	if _, err := db.CopyFromSchema(ctx, tx, s.schema, "search_links", linkColumns, rows); err != nil {
		return persistErr("copy links", err)
	}

	var linkIDs map[int]int64
	if len(snap.Links) > 0 {
		if linkIDs, err = s.linkIDsByPosition(ctx, tx, id); err != nil {
			return persistErr("read link ids", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return persistErr("commit snapshot", err)
	}

	snap.ID = id
	for i := range snap.Links {
		snap.Links[i].ID = linkIDs[snap.Links[i].Position]
		snap.Links[i].SnapshotID = id
		snap.Links[i].CreatedAt = snap.SearchDate
	}
	return nil
}

// linkIDsByPosition reads back the ids COPY assigned. Positions are unique
// within a snapshot.
func (s *PostgresStore) linkIDsByPosition(ctx context.Context, tx pgx.Tx, snapshotID int64) (map[int]int64, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, position FROM `+s.table("search_links")+` WHERE search_result_id = $1`, snapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[int]int64)
	for rows.Next() {
		var id int64
		var pos int
		if err := rows.Scan(&id, &pos); err != nil {
			return nil, err
		}
		ids[pos] = id
	}
	return ids, rows.Err()
}

const pgSnapshotCols = `id, query, search_date, total_results`

func (s *PostgresStore) GetSnapshot(ctx context.Context, id int64) (*model.Snapshot, error) {
	snap, err := s.scanSnapshot(s.pool.QueryRow(ctx,
		`SELECT `+pgSnapshotCols+` FROM `+s.table("search_results")+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrSnapshotNotFound
	}
	return snap, s.loadLinks(ctx, snap)
}

func (s *PostgresStore) PreviousSnapshot(ctx context.Context, snap *model.Snapshot) (*model.Snapshot, error) {
	prev, err := s.scanSnapshot(s.pool.QueryRow(ctx,
		`SELECT `+pgSnapshotCols+` FROM `+s.table("search_results")+`
		 WHERE query = $1 AND id <> $2 AND (search_date, id) < ($3, $2)
		 ORDER BY search_date DESC, id DESC LIMIT 1`,
		snap.Query, snap.ID, snap.SearchDate.UTC(),
	))
	if err != nil || prev == nil {
		return nil, err
	}
	return prev, s.loadLinks(ctx, prev)
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	return s.edgeSnapshot(ctx, "DESC")
}

func (s *PostgresStore) FirstSnapshot(ctx context.Context) (*model.Snapshot, error) {
	return s.edgeSnapshot(ctx, "ASC")
}

// edgeSnapshot returns the first snapshot in (search_date, id) order for dir.
func (s *PostgresStore) edgeSnapshot(ctx context.Context, dir string) (*model.Snapshot, error) {
	snap, err := s.scanSnapshot(s.pool.QueryRow(ctx,
		`SELECT `+pgSnapshotCols+` FROM `+s.table("search_results")+
			` ORDER BY search_date `+dir+`, id `+dir+` LIMIT 1`))
	if err != nil || snap == nil {
		return nil, err
	}
	return snap, s.loadLinks(ctx, snap)
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.Snapshot, error) {
	var where []string
	var args []any
	if filter.Query != "" {
		args = append(args, filter.Query)
		where = append(where, fmt.Sprintf("query = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		where = append(where, fmt.Sprintf("search_date >= $%d", len(args)))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until.UTC())
		where = append(where, fmt.Sprintf("search_date <= $%d", len(args)))
	}

	query := `SELECT ` + pgSnapshotCols + ` FROM ` + s.table("search_results")
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if filter.Desc {
		query += ` ORDER BY search_date DESC, id DESC`
	} else {
		query += ` ORDER BY search_date ASC, id ASC`
	}
	if limit := defaultLimit(filter.Limit); limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	args = append(args, filter.Offset)
	query += fmt.Sprintf(` OFFSET $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	var snaps []model.Snapshot
	for rows.Next() {
		var snap model.Snapshot
		if err := rows.Scan(&snap.ID, &snap.Query, &snap.SearchDate, &snap.TotalResults); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		snap.TenantID = s.tenantID
		snaps = append(snaps, snap)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots iterate")
	}

	for i := range snaps {
		if err := s.loadLinks(ctx, &snaps[i]); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

func (s *PostgresStore) scanSnapshot(row pgx.Row) (*model.Snapshot, error) {
	var snap model.Snapshot
	err := row.Scan(&snap.ID, &snap.Query, &snap.SearchDate, &snap.TotalResults)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan snapshot")
	}
	snap.TenantID = s.tenantID
	return &snap, nil
}

func (s *PostgresStore) loadLinks(ctx context.Context, snap *model.Snapshot) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, url, title, snippet, position, domain, created_at FROM `+s.table("search_links")+`
		 WHERE search_result_id = $1 ORDER BY position ASC`,
		snap.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: load links for snapshot %d", snap.ID)
	}
	defer rows.Close()

	snap.Links = snap.Links[:0]
	for rows.Next() {
		l := model.Link{SnapshotID: snap.ID}
		if err := rows.Scan(&l.ID, &l.URL, &l.Title, &l.Snippet, &l.Position, &l.Domain, &l.CreatedAt); err != nil {
			return eris.Wrap(err, "postgres: scan link")
		}
		snap.Links = append(snap.Links, l)
	}
	return eris.Wrap(rows.Err(), "postgres: load links iterate")
}

// listTenantSchemas returns the tenant ids that already have a schema.
func listTenantSchemas(ctx context.Context, pool db.Pool) ([]string, error) {
	rows, err := pool.Query(ctx,
		`SELECT schema_name FROM information_schema.schemata WHERE schema_name LIKE 'tenant\_%' ORDER BY schema_name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tenant schemas")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan schema")
		}
		ids = append(ids, strings.TrimPrefix(name, SchemaPrefix))
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list tenant schemas iterate")
}
