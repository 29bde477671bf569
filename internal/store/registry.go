package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/serp-monitor/internal/db"
	"github.com/sells-group/serp-monitor/internal/model"
)

// Driver names accepted by Options.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// sqliteFile is the database file name inside each tenant directory.
const sqliteFile = "serp.db"

// Options configures how the registry opens tenant stores.
type Options struct {
	Driver  string
	DataDir string
	// Pool is required for the postgres driver.
	Pool db.Pool
	// Tenants are always reported by Tenants even before their first write.
	Tenants []string
}

// Opener opens (but does not migrate) the store of a sanitized tenant id.
type Opener func(ctx context.Context, tenantID string) (Store, error)

// Registry hands out one migrated Store per tenant, opening them lazily.
type Registry struct {
	opts   Options
	open   Opener
	mu     sync.Mutex
	stores map[string]Store
}

// NewRegistry creates a Registry for the configured driver.
func NewRegistry(opts Options) (*Registry, error) {
	r := &Registry{opts: opts, stores: make(map[string]Store)}
	switch opts.Driver {
	case "", DriverSQLite:
		r.opts.Driver = DriverSQLite
		if opts.DataDir == "" {
			return nil, eris.New("store: data_dir is required for sqlite")
		}
		r.open = r.openSQLite
	case DriverPostgres:
		if opts.Pool == nil {
			return nil, eris.New("store: postgres driver requires a pool")
		}
		r.open = func(_ context.Context, tenantID string) (Store, error) {
			if schema := SchemaName(tenantID); len(schema) > maxIdentifierLen {
				return nil, eris.Errorf("store: schema name %q exceeds %d bytes", schema, maxIdentifierLen)
			}
			return NewPostgres(opts.Pool, tenantID), nil
		}
	default:
		return nil, eris.Errorf("store: unknown driver %q", opts.Driver)
	}
	return r, nil
}

// NewRegistryWithOpener creates a Registry that opens stores with fn.
func NewRegistryWithOpener(fn Opener, tenants ...string) *Registry {
	return &Registry{opts: Options{Tenants: tenants}, open: fn, stores: make(map[string]Store)}
}

func (r *Registry) openSQLite(_ context.Context, tenantID string) (Store, error) {
	dir := filepath.Join(r.opts.DataDir, tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "store: create tenant dir %s", dir)
	}
	return NewSQLite(filepath.Join(dir, sqliteFile), tenantID)
}

// Resolve returns the store of tenantID, opening and migrating it on first
// use. Ids are sanitized first, so "../x" and "x" share a store.
func (r *Registry) Resolve(ctx context.Context, tenantID string) (Store, error) {
	id := model.SanitizeTenantID(tenantID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[id]; ok {
		return s, nil
	}

	s, err := r.open(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "store: open tenant %s", id)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "store: migrate tenant %s", id)
	}
	r.stores[id] = s
	zap.L().Debug("store: tenant opened", zap.String("tenant_id", id), zap.String("driver", r.opts.Driver))
	return s, nil
}

// Tenants lists every known tenant: configured ids, ids with persisted data
// and ids opened during this process. The result is sorted and deduplicated.
func (r *Registry) Tenants(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, t := range r.opts.Tenants {
		seen[model.SanitizeTenantID(t)] = struct{}{}
	}

	switch r.opts.Driver {
	case DriverSQLite:
		entries, err := os.ReadDir(r.opts.DataDir)
		if err != nil && !os.IsNotExist(err) {
			return nil, eris.Wrap(err, "store: list tenants")
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, err := os.Stat(filepath.Join(r.opts.DataDir, e.Name(), sqliteFile)); err == nil {
				seen[model.SanitizeTenantID(e.Name())] = struct{}{}
			}
		}
	case DriverPostgres:
		ids, err := listTenantSchemas(ctx, r.opts.Pool)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}

	r.mu.Lock()
	for id := range r.stores {
		seen[id] = struct{}{}
	}
	r.mu.Unlock()

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Close closes every opened store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, s := range r.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = eris.Wrapf(err, "store: close tenant %s", id)
		}
		delete(r.stores, id)
	}
	return firstErr
}
