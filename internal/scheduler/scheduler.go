package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billsync/internal/cache"
	"github.com/smallbiznis/billsync/internal/clock"
	obsmetrics "github.com/smallbiznis/billsync/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/billsync/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobExpireDeferredCancellations = "expire_deferred_cancellations"

var ErrInvalidConfig = errors.New("scheduler: invalid config")

type Params struct {
	fx.In

	Log             *zap.Logger
	Clock           clock.Clock
	GenID           *snowflake.Node
	SubscriptionSvc subscriptiondomain.Service
	Locker          *cache.Locker                `optional:"true"`
	Metrics         *obsmetrics.SchedulerMetrics `optional:"true"`
	Config          Config                       `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	genID           *snowflake.Node
	clock           clock.Clock
	locker          *cache.Locker
	metrics         *obsmetrics.SchedulerMetrics
	subscriptionSvc subscriptiondomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil || p.SubscriptionSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		genID:           p.GenID,
		clock:           p.Clock,
		locker:          p.Locker,
		metrics:         p.Metrics,
		subscriptionSvc: p.SubscriptionSvc,
	}, nil
}

// runJob executes fn under the job's leader lock when a locker is configured.
// A replica that loses the lock skips the run.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	if s.locker != nil {
		key := "billsync:scheduler:" + name
		token, ok, err := s.locker.TryLock(parent, key, s.cfg.LockTTL)
		if err != nil {
			s.log.Warn("scheduler lock failed", zap.String("job", name), zap.Error(err))
			s.metrics.IncJobError(name, obsmetrics.ClassifySchedulerError(err))
			return nil
		}
		if !ok {
			s.log.Debug("scheduler lock held elsewhere", zap.String("job", name))
			s.metrics.IncJobError(name, obsmetrics.SchedulerJobReasonLockNotAcquired)
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(parent), key, token); err != nil {
				s.log.Warn("scheduler lock release failed", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	run := s.newJobRun(name, batchSize)
	s.logJobStart(ctx, run)

	err := fn(ctx, run)
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	s.metrics.ObserveJob(name, time.Since(start), err)
	s.metrics.AddBatchProcessed(name, run.processedCount)
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick resumes the backlog
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.String("run_id", run.runID),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobExpireDeferredCancellations, func(ctx context.Context) error {
			return s.runJob(ctx, JobExpireDeferredCancellations, s.cfg.BatchSize, s.cfg.JobTimeout, s.ExpireDeferredCancellationsJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ExpireDeferredCancellationsJob ends subscriptions cancelled at period end
// once their period is over, one batch at a time until the backlog drains.
func (s *Scheduler) ExpireDeferredCancellationsJob(ctx context.Context, run *jobRun) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		expired, err := s.subscriptionSvc.ExpireDeferredCancellations(ctx, s.cfg.BatchSize)
		run.AddProcessed(expired)
		if err != nil {
			run.IncError()
			s.logger(ctx).Error("scheduler.subscription.expire_failed",
				zap.String("job", run.job),
				zap.String("run_id", run.runID),
				zap.Error(err),
			)
			return err
		}
		if expired < s.cfg.BatchSize {
			return nil
		}
	}
}
