package harvester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	nativecommon "yieldvault/native/common"
	"yieldvault/native/vault"
)

// Target is the vault operation driven by the loop.
type Target interface {
	Harvest(ctx context.Context) (*vault.HarvestResult, error)
}

// Recorder counts harvest outcomes.
type Recorder interface {
	ObserveHarvestRun(outcome string)
}

// Outcome labels passed to the Recorder.
const (
	OutcomeOK     = "ok"
	OutcomePaused = "paused"
	OutcomeError  = "error"
)

// Option configures a Loop.
type Option func(*Loop)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Loop) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithRecorder installs an outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(h *Loop) {
		h.recorder = r
	}
}

// WithTimeout bounds each harvest call.
func WithTimeout(d time.Duration) Option {
	return func(h *Loop) {
		h.timeout = d
	}
}

// Loop periodically folds external rewards into the vault accumulators.
type Loop struct {
	target   Target
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	recorder Recorder
}

// New constructs a harvest loop.
func New(target Target, interval time.Duration, opts ...Option) (*Loop, error) {
	if target == nil {
		return nil, fmt.Errorf("harvest target required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	h := &Loop{target: target, interval: interval, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.logger = h.logger.With("component", "harvester")
	return h, nil
}

// Run blocks, harvesting on every tick until ctx is cancelled. Failures are
// logged and counted. The loop never retries within a tick.
func (h *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	h.logger.Info("harvester started", "interval", h.interval.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := h.Tick(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Tick performs a single harvest.
func (h *Loop) Tick(ctx context.Context) (*vault.HarvestResult, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	res, err := h.target.Harvest(ctx)
	switch {
	case err == nil:
		h.record(OutcomeOK)
		h.logger.Debug("harvest tick", "harvested_a", res.Harvested[vault.RewardA].String(), "harvested_b", res.Harvested[vault.RewardB].String())
	case errors.Is(err, nativecommon.ErrModulePaused):
		h.record(OutcomePaused)
		h.logger.Info("harvest skipped", "reason", "paused")
	default:
		h.record(OutcomeError)
		h.logger.Warn("harvest failed", "code", vault.ErrorCode(err), "error", err)
	}
	return res, err
}

func (h *Loop) record(outcome string) {
	if h.recorder != nil {
		h.recorder.ObserveHarvestRun(outcome)
	}
}
