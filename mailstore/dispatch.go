package mailstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kochj23/mailsummary/consts"
	"github.com/kochj23/mailsummary/logger"
	"github.com/kochj23/mailsummary/pkg/metrics"
	"github.com/kochj23/mailsummary/pkg/retry"
	"github.com/kochj23/mailsummary/rules"
)

// Archiver snapshots a raw message before a destructive effect runs.
type Archiver interface {
	Archive(ctx context.Context, data []byte) (string, error)
}

// Dispatcher applies the side effects of a rule pass against the mail
// store. Each effect is retried with backoff and isolated from the others;
// one failing effect never blocks the rest of the batch.
type Dispatcher struct {
	mutator  Mutator
	archiver Archiver    // optional, snapshots before delete and archive
	raws     RawProvider // optional, feeds the archiver
	backoff  retry.BackoffConfig
}

type DispatcherOption func(*Dispatcher)

// WithArchiver snapshots raw message bodies through the given archiver
// before destructive effects run.
func WithArchiver(a Archiver, raws RawProvider) DispatcherOption {
	return func(d *Dispatcher) {
		d.archiver = a
		d.raws = raws
	}
}

func WithBackoff(cfg retry.BackoffConfig) DispatcherOption {
	return func(d *Dispatcher) { d.backoff = cfg }
}

func NewDispatcher(mutator Mutator, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		mutator: mutator,
		backoff: retry.DefaultBackoffConfig(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchFailure records one effect that failed after retries.
type DispatchFailure struct {
	Effect rules.Effect
	Err    error
}

func (f DispatchFailure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Effect.Kind, f.Effect.ExternalID, f.Err)
}

func (f DispatchFailure) Unwrap() error {
	return f.Err
}

// Dispatch applies all effects in order. It returns the effects that failed
// after retries together with their errors; a nil slice means the whole
// batch succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, effects []rules.Effect) []DispatchFailure {
	var failed []DispatchFailure
	for _, effect := range effects {
		if err := ctx.Err(); err != nil {
			failed = append(failed, DispatchFailure{Effect: effect, Err: err})
			return failed
		}
		if err := d.dispatchOne(ctx, effect); err != nil {
			logger.ErrorContext(ctx, "effect dispatch failed",
				"effect", effect.Kind, "external_id", effect.ExternalID, "rule_id", effect.RuleID, "error", err)
			failed = append(failed, DispatchFailure{Effect: effect, Err: err})
		}
	}
	return failed
}

func (d *Dispatcher) dispatchOne(ctx context.Context, effect rules.Effect) error {
	start := time.Now()
	err := retry.WithRetry(ctx, func() error {
		return d.apply(ctx, effect)
	}, d.backoff)

	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.EffectDispatchesTotal.WithLabelValues(string(effect.Kind), status).Inc()
	metrics.EffectDispatchDuration.WithLabelValues(string(effect.Kind)).Observe(time.Since(start).Seconds())
	return err
}

func (d *Dispatcher) apply(ctx context.Context, effect rules.Effect) error {
	switch effect.Kind {
	case rules.EffectDelete:
		if err := d.snapshot(ctx, effect.ExternalID); err != nil {
			return err
		}
		return d.mutator.Delete(ctx, effect.ExternalID)
	case rules.EffectArchive:
		if err := d.snapshot(ctx, effect.ExternalID); err != nil {
			return err
		}
		return d.mutator.Archive(ctx, effect.ExternalID)
	case rules.EffectMove:
		return d.mutator.Move(ctx, effect.ExternalID, effect.Mailbox)
	case rules.EffectAddTag:
		return d.mutator.AddTag(ctx, effect.ExternalID, effect.Tag)
	case rules.EffectMarkRead:
		return d.mutator.MarkRead(ctx, effect.ExternalID)
	case rules.EffectMarkUnread:
		return d.mutator.MarkUnread(ctx, effect.ExternalID)
	default:
		// Unknown effect kinds never reach the mail store.
		return retry.Stop(fmt.Errorf("unknown effect kind %q", effect.Kind))
	}
}

// snapshot archives the raw message before a destructive effect. A message
// whose raw body is no longer available is dispatched without a snapshot;
// an archiver failure blocks the destructive effect.
func (d *Dispatcher) snapshot(ctx context.Context, externalID string) error {
	if d.archiver == nil || d.raws == nil {
		return nil
	}
	raw, ok := d.raws.Raw(externalID)
	if !ok {
		logger.Debug("no raw body available for snapshot", "external_id", externalID)
		return nil
	}
	contentHash, err := d.archiver.Archive(ctx, raw)
	if err != nil {
		if errors.Is(err, consts.ErrS3UploadFailed) {
			return err
		}
		return fmt.Errorf("pre-delete snapshot failed: %w", err)
	}
	logger.Debug("archived message before destructive effect",
		"external_id", externalID, "hash", contentHash)
	return nil
}
