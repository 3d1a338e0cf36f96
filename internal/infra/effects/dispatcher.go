// Package effects runs the notifications and audit writes produced by
// committed lifecycle mutations. Delivery is best effort: failures are
// retried a few times, then logged and dropped.
package effects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"resume-billing/internal/domain/model"
	"resume-billing/internal/domain/ports/adapter"
	"resume-billing/internal/domain/ports/repository"
	"resume-billing/internal/infra/metrics"
	"resume-billing/internal/infra/worker"
)

var _ adapter.EffectDispatcher = (*Dispatcher)(nil)

// Submitter is the part of worker.Pool the dispatcher uses.
type Submitter interface {
	Submit(task worker.Task) error
	Len() int
}

type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
	// InlineTimeout bounds delivery when the pool is saturated and the
	// effect runs on the caller's goroutine.
	InlineTimeout time.Duration
}

type Dispatcher struct {
	pool  Submitter
	sink  adapter.NotificationSink
	audit repository.AuditLogRepository
	opts  Options
	log   *zerolog.Logger
}

func NewDispatcher(pool Submitter, sink adapter.NotificationSink, audit repository.AuditLogRepository, opts Options, logger *zerolog.Logger) *Dispatcher {
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.InlineTimeout <= 0 {
		opts.InlineTimeout = 5 * time.Second
	}
	l := logger.With().Str("component", "EffectDispatcher").Logger()
	return &Dispatcher{pool: pool, sink: sink, audit: audit, opts: opts, log: &l}
}

// Dispatch queues each effect. When the pool is full the effect is delivered
// inline on a context detached from the caller so a finished request does
// not cancel it.
func (d *Dispatcher) Dispatch(ctx context.Context, effects []model.Effect) {
	for _, e := range effects {
		e := e
		task := func(ctx context.Context) error { return d.deliver(ctx, e) }
		if d.pool != nil {
			err := d.pool.Submit(task)
			metrics.SetEffectQueueDepth(d.pool.Len())
			if err == nil {
				continue
			}
			d.log.Warn().Err(err).Str("kind", string(e.Kind)).Msg("effect queue unavailable, delivering inline")
		}
		inlineCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.InlineTimeout)
		_ = task(inlineCtx)
		cancel()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e model.Effect) error {
	var err error
	for attempt := 0; attempt <= d.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.IncEffect(string(e.Kind), "retried")
			select {
			case <-ctx.Done():
				return d.drop(e, ctx.Err())
			case <-time.After(d.opts.RetryBackoff << (attempt - 1)):
			}
		}
		if err = d.apply(ctx, e); err == nil {
			metrics.IncEffect(string(e.Kind), "delivered")
			return nil
		}
		if errors.Is(err, errMalformed) {
			break
		}
	}
	return d.drop(e, err)
}

var errMalformed = errors.New("malformed effect")

func (d *Dispatcher) apply(ctx context.Context, e model.Effect) error {
	switch e.Kind {
	case model.EffectNotifyUser:
		if e.Notification == nil {
			return errMalformed
		}
		return d.sink.CreateNotification(ctx, *e.Notification)
	case model.EffectNotifyAdmins:
		if e.AdminEvent == nil {
			return errMalformed
		}
		return d.sink.NotifyAdmins(ctx, *e.AdminEvent)
	case model.EffectAudit:
		if e.Audit == nil || d.audit == nil {
			return errMalformed
		}
		return d.audit.Append(ctx, repository.NoTX, e.Audit)
	default:
		return fmt.Errorf("%w: kind %q", errMalformed, e.Kind)
	}
}

func (d *Dispatcher) drop(e model.Effect, err error) error {
	metrics.IncEffect(string(e.Kind), "dropped")
	d.log.Error().Err(err).Str("kind", string(e.Kind)).Msg("effect dropped")
	return err
}
