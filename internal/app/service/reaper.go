package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/robfig/cron/v3"
	"github.com/sifan077/shortlink/internal/app/repository"
	prominfra "github.com/sifan077/shortlink/internal/infra/prometheus"
	"go.uber.org/zap"
)

// ReaperPolicy selects what happens to expired links. A reaper applies
// exactly one policy.
type ReaperPolicy string

const (
	ReaperPolicyDelete     ReaperPolicy = "delete"
	ReaperPolicyDeactivate ReaperPolicy = "deactivate"

	DefaultReaperSchedule = "@every 1h"

	reaperLockKey      = "shortlink:reaper"
	defaultReaperLease = 5 * time.Minute
)

// ParseReaperPolicy accepts "delete" and "deactivate" in any case. Empty means delete.
func ParseReaperPolicy(s string) (ReaperPolicy, error) {
	switch p := ReaperPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ReaperPolicyDelete, nil
	case ReaperPolicyDelete, ReaperPolicyDeactivate:
		return p, nil
	default:
		return "", fmt.Errorf("unknown reaper policy %q", s)
	}
}

// ReaperOptions configures a Reaper.
type ReaperOptions struct {
	Policy       ReaperPolicy
	Schedule     string
	StoreTimeout time.Duration
	// Locker, when set, makes scheduled sweeps take a cluster-wide lease
	// so that only one instance sweeps at a time.
	Locker  *redislock.Client
	LockTTL time.Duration
	// ClickEvents older than ClickEventRetention are pruned on every
	// scheduled run. A zero retention keeps them forever.
	ClickEvents         repository.ClickEventRepository
	ClickEventRetention time.Duration
	Metrics             *prominfra.Metrics
	Logger              *zap.Logger
}

// Reaper reclaims links whose expiration has passed. Links without an
// expiration are never touched.
type Reaper struct {
	repo repository.LinkRepository
	opts ReaperOptions
	cron *cron.Cron
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewReaper validates the policy and schedule and returns an idle reaper.
func NewReaper(repo repository.LinkRepository, opts ReaperOptions) (*Reaper, error) {
	policy, err := ParseReaperPolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	opts.Policy = policy

	if opts.Schedule == "" {
		opts.Schedule = DefaultReaperSchedule
	}
	if _, err := cronParser.Parse(opts.Schedule); err != nil {
		return nil, fmt.Errorf("parse reaper schedule %q: %w", opts.Schedule, err)
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultReaperLease
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Reaper{repo: repo, opts: opts}, nil
}

// Policy returns the policy this reaper applies.
func (r *Reaper) Policy() ReaperPolicy {
	return r.opts.Policy
}

// Sweep reclaims every link that expired before now and returns how many
// were reclaimed. Failures are logged and reported as zero. Running it again
// without intervening writes reclaims nothing.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) int64 {
	start := time.Now()

	reclaimed, err := r.sweep(ctx, now)
	r.opts.Metrics.ObserveSweep(string(r.opts.Policy), reclaimed, time.Since(start).Seconds(), err != nil)
	if err != nil {
		r.opts.Logger.Error("expiration sweep failed",
			zap.String("policy", string(r.opts.Policy)),
			zap.Time("now", now),
			zap.Error(err),
		)
		return 0
	}

	if reclaimed > 0 {
		r.opts.Logger.Info("expired links reclaimed",
			zap.String("policy", string(r.opts.Policy)),
			zap.Int64("count", reclaimed),
			zap.Time("now", now),
		)
	}
	return reclaimed
}

func (r *Reaper) sweep(ctx context.Context, now time.Time) (int64, error) {
	activeOnly := r.opts.Policy == ReaperPolicyDeactivate

	cctx, cancel := context.WithTimeout(ctx, r.opts.StoreTimeout)
	eligible, err := r.repo.CountExpired(cctx, now, activeOnly)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("count expired links: %w", err)
	}
	if eligible == 0 {
		return 0, nil
	}

	rctx, cancel := context.WithTimeout(ctx, r.opts.StoreTimeout)
	defer cancel()

	var reclaimed int64
	switch r.opts.Policy {
	case ReaperPolicyDeactivate:
		reclaimed, err = r.repo.DeactivateExpired(rctx, now)
	default:
		reclaimed, err = r.repo.DeleteExpired(rctx, now)
	}
	if err != nil {
		return 0, fmt.Errorf("%s expired links: %w", r.opts.Policy, err)
	}

	if reclaimed != eligible {
		r.opts.Logger.Warn("reclaimed count differs from eligible count",
			zap.Int64("eligible", eligible),
			zap.Int64("reclaimed", reclaimed),
		)
	}
	return reclaimed, nil
}

// Start schedules sweeps. Panics inside a run are recovered and an
// overlapping run is skipped.
func (r *Reaper) Start() error {
	if r.cron != nil {
		return errors.New("reaper already started")
	}

	logger := cronLogger{s: r.opts.Logger.Sugar()}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(r.opts.Schedule, r.runScheduled); err != nil {
		return fmt.Errorf("schedule reaper: %w", err)
	}

	r.cron = c
	c.Start()
	r.opts.Logger.Info("expiration reaper started",
		zap.String("schedule", r.opts.Schedule),
		zap.String("policy", string(r.opts.Policy)),
	)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (r *Reaper) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
	r.opts.Logger.Info("expiration reaper stopped")
}

func (r *Reaper) runScheduled() {
	ctx := context.Background()

	if r.opts.Locker != nil {
		lock, err := r.opts.Locker.Obtain(ctx, reaperLockKey, r.opts.LockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			r.opts.Logger.Debug("reaper lease held elsewhere, skipping run")
			return
		}
		if err != nil {
			r.opts.Logger.Warn("failed to obtain reaper lease, skipping run", zap.Error(err))
			return
		}
		defer func() {
			if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.opts.Logger.Warn("failed to release reaper lease", zap.Error(err))
			}
		}()
	}

	now := time.Now()
	r.Sweep(ctx, now)
	r.PruneClickEvents(ctx, now)
}

// PruneClickEvents removes click events recorded before now minus the
// retention window and returns how many were removed. Failures are logged
// and reported as zero.
func (r *Reaper) PruneClickEvents(ctx context.Context, now time.Time) int64 {
	if r.opts.ClickEvents == nil || r.opts.ClickEventRetention <= 0 {
		return 0
	}

	cutoff := now.Add(-r.opts.ClickEventRetention)
	pctx, cancel := context.WithTimeout(ctx, r.opts.StoreTimeout)
	defer cancel()

	removed, err := r.opts.ClickEvents.DeleteBefore(pctx, cutoff)
	if err != nil {
		r.opts.Logger.Error("click event pruning failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0
	}
	if removed > 0 {
		r.opts.Logger.Info("old click events pruned",
			zap.Int64("count", removed),
			zap.Time("cutoff", cutoff),
		)
	}
	return removed
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
