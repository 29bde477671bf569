package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/serp-monitor/internal/model"
)

func testDefaults() model.Settings {
	return model.Settings{SearchQuery: "padişah bet", Location: "Fatih,Istanbul", Enabled: true, IntervalHours: 12}
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry(Options{Driver: "sqlite"})
	assert.Error(t, err)

	_, err = NewRegistry(Options{Driver: "postgres"})
	assert.Error(t, err)

	_, err = NewRegistry(Options{Driver: "mongo", DataDir: t.TempDir()})
	assert.Error(t, err)
}

func TestRegistry_SQLite_ResolveCreatesTenantFile(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(Options{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() }) //nolint:errcheck
	ctx := context.Background()

	s1, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "acme", "serp.db"))
	require.NoError(t, err)

	s2, err := r.Resolve(ctx, "../acme")
	require.NoError(t, err)
	assert.Same(t, s1, s2, "sanitized ids share a store")

	_, err = s1.EnsureSettings(ctx, testDefaults())
	require.NoError(t, err)
}

func TestRegistry_SQLite_TenantsIsolated(t *testing.T) {
	r, err := NewRegistry(Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() }) //nolint:errcheck
	ctx := context.Background()

	a, err := r.Resolve(ctx, "a")
	require.NoError(t, err)
	b, err := r.Resolve(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, a.CreateSnapshot(ctx, &model.Snapshot{Query: "alpha"}))

	latest, err := b.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestRegistry_SQLite_Tenants(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "stray"), 0o755))

	r, err := NewRegistry(Options{DataDir: dir, Tenants: []string{"configured", "default"}})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() }) //nolint:errcheck

	_, err = r.Resolve(context.Background(), "zeta")
	require.NoError(t, err)

	tenants, err := r.Tenants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"configured", "default", "zeta"}, tenants)
}

func TestRegistry_Tenants_MissingDataDir(t *testing.T) {
	r, err := NewRegistry(Options{DataDir: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)

	tenants, err := r.Tenants(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tenants)
}

func TestRegistry_ResolveOpensOnce(t *testing.T) {
	var mu sync.Mutex
	opens := 0
	r := NewRegistryWithOpener(func(_ context.Context, id string) (Store, error) {
		mu.Lock()
		opens++
		mu.Unlock()
		return NewSQLite(filepath.Join(t.TempDir(), id+".db"), id)
	})
	t.Cleanup(func() { r.Close() }) //nolint:errcheck

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), "same")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, opens)
}

func TestRegistry_ResolveOpenError(t *testing.T) {
	r := NewRegistryWithOpener(func(context.Context, string) (Store, error) {
		return nil, errors.New("boom")
	})

	_, err := r.Resolve(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open tenant x")
}
