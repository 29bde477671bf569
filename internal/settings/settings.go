// Package settings reads and updates a tenant's search settings and keeps
// the tenant's recurring job in step with them.
package settings

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/internal/store"
)

// ErrInvalidSettings is returned when an update would leave the settings
// unusable.
var ErrInvalidSettings = errors.New("invalid settings")

// StoreResolver returns the store of a tenant.
type StoreResolver interface {
	Resolve(ctx context.Context, tenantID string) (store.Store, error)
}

// Scheduler is the part of the schedule manager the service drives.
type Scheduler interface {
	Reschedule(ctx context.Context, tenantID string, intervalHours int) error
	Stop(tenantID string)
}

// Service implements settings reads and updates.
type Service struct {
	stores    StoreResolver
	scheduler Scheduler
	defaults  model.Settings

	// locks holds one *sync.Mutex per tenant id.
	locks sync.Map
}

// New creates a Service. scheduler may be nil for one-shot CLI use, in which
// case updates never touch a schedule.
func New(stores StoreResolver, scheduler Scheduler, defaults model.Settings) *Service {
	return &Service{stores: stores, scheduler: scheduler, defaults: defaults}
}

// Get returns the tenant's settings, creating the defaults on first access.
func (s *Service) Get(ctx context.Context, tenantID string) (*model.Settings, error) {
	st, err := s.stores.Resolve(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "settings: resolve %s", tenantID)
	}
	out, err := st.EnsureSettings(ctx, s.defaults)
	if err != nil {
		return nil, eris.Wrapf(err, "settings: load %s", tenantID)
	}
	return out, nil
}

// Validate checks a complete settings value.
func Validate(st *model.Settings) error {
	var problems []string
	if st.IntervalHours <= 0 {
		problems = append(problems, "interval_hours must be > 0")
	}
	if len(st.Terms()) == 0 {
		problems = append(problems, "search_query must contain at least one term")
	}
	if len(problems) > 0 {
		return eris.Wrap(ErrInvalidSettings, strings.Join(problems, "; "))
	}
	return nil
}

// Update applies u, saves the result and then synchronously reschedules the
// tenant (enabled) or stops it (disabled) when u touched the schedule. Updates
// of one tenant run one at a time, so the job always matches the last save.
func (s *Service) Update(ctx context.Context, tenantID string, u model.SettingsUpdate) (*model.Settings, error) {
	tenantID = model.SanitizeTenantID(tenantID)
	unlock := s.lockTenant(tenantID)
	defer unlock()

	current, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	next := *current
	u.Apply(&next)
	if u.SearchQuery != nil {
		next.SearchQuery = strings.Join(model.SplitTerms(next.SearchQuery), ", ")
	}
	if u.Location != nil {
		next.Location = strings.TrimSpace(next.Location)
	}
	if err := Validate(&next); err != nil {
		return nil, err
	}

	st, err := s.stores.Resolve(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "settings: resolve %s", tenantID)
	}
	if err := st.SaveSettings(ctx, &next); err != nil {
		return nil, eris.Wrapf(err, "settings: save %s", tenantID)
	}

	zap.L().Info("settings: updated",
		zap.String("tenant_id", tenantID),
		zap.String("search_query", next.SearchQuery),
		zap.Bool("enabled", next.Enabled),
		zap.Int("interval_hours", next.IntervalHours),
	)

	if s.scheduler == nil || !u.TouchesSchedule() {
		return &next, nil
	}
	if next.Enabled {
		if err := s.scheduler.Reschedule(ctx, tenantID, next.IntervalHours); err != nil {
			return &next, eris.Wrapf(err, "settings: reschedule %s", tenantID)
		}
	} else {
		s.scheduler.Stop(tenantID)
	}
	return &next, nil
}

func (s *Service) lockTenant(tenantID string) func() {
	v, _ := s.locks.LoadOrStore(tenantID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
