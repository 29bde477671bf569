// Package notify delivers change events and daily digests to the configured
// sinks. Delivery is best effort: failures are logged, never propagated to
// ingestion.
package notify

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/serp-monitor/internal/config"
	"github.com/sells-group/serp-monitor/internal/model"
)

// Notifier delivers notification payloads.
type Notifier interface {
	NotifyChange(ctx context.Context, ev model.ChangeEvent) error
	NotifyDigest(ctx context.Context, d model.Digest) error
}

// Multi fans out to every sink and joins their errors.
type Multi []Notifier

func (m Multi) NotifyChange(ctx context.Context, ev model.ChangeEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyChange(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyDigest(ctx context.Context, d model.Digest) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyDigest(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes payloads to the global zap logger.
type Log struct{}

func (Log) NotifyChange(_ context.Context, ev model.ChangeEvent) error {
	log := zap.L().Info
	if ev.Kind == model.ChangeCriticalDrop {
		log = zap.L().Warn
	}
	log("notify: "+string(ev.Kind),
		zap.String("tenant_id", ev.TenantID),
		zap.String("query", ev.Query),
		zap.String("url", ev.URL),
		zap.String("domain", ev.Domain),
		zap.Int("old_position", ev.OldPosition),
		zap.Int("new_position", ev.NewPosition),
		zap.Int("change", ev.Change),
	)
	return nil
}

func (Log) NotifyDigest(_ context.Context, d model.Digest) error {
	zap.L().Info("notify: daily digest",
		zap.String("tenant_id", d.TenantID),
		zap.String("date", d.Date),
		zap.Int("total_searches", d.TotalSearches),
		zap.Int("unique_links", d.UniqueLinks),
		zap.Int("top_links", len(d.TopLinks)),
	)
	return nil
}

// New builds the notifier for the configured sinks. The SQS sink needs an AWS
// client and is built through NewSQSFromConfig.
func New(ctx context.Context, cfg config.NotifyConfig) (Notifier, error) {
	var m Multi
	for _, sink := range cfg.Sinks {
		switch sink {
		case "log":
			m = append(m, Log{})
		case "email":
			m = append(m, NewEmail(cfg.Email))
		case "webhook":
			m = append(m, NewWebhook(cfg.Webhook))
		case "sqs":
			s, err := NewSQSFromConfig(ctx, cfg.SQS)
			if err != nil {
				return nil, err
			}
			m = append(m, s)
		default:
			return nil, eris.Errorf("notify: unknown sink %q", sink)
		}
	}
	if len(m) == 0 {
		return Log{}, nil
	}
	if len(m) == 1 {
		return m[0], nil
	}
	return m, nil
}
