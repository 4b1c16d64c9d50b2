// Package settlementbatch claims due withdrawals and submits them to the
// payout rail.
package settlementbatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/internal/domain/repositories"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
	"github.com/pixpay/settlement_service/pkg/jobqueue"
	"github.com/pixpay/settlement_service/pkg/metrics"
)

const JobName = "settlement-batch"

// PayoutClient submits payouts. Submissions with the same idempotency key
// must resolve to the same payout.
type PayoutClient interface {
	Submit(ctx context.Context, sub entities.PayoutSubmission) (string, error)
}

// AuditSink receives lifecycle events. Record must not block.
type AuditSink interface {
	Record(ctx context.Context, event entities.AuditEvent)
}

// SchedulerConfig holds configuration for the settlement batch
type SchedulerConfig struct {
	BatchSize       int           // requests claimed per round
	MaxConcurrency  int           // concurrent payout submissions
	SubmitTimeout   time.Duration // per-submission deadline
	ShutdownTimeout time.Duration // how long Stop waits for in-flight submissions
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchSize:       100,
		MaxConcurrency:  8,
		SubmitTimeout:   30 * time.Second,
		ShutdownTimeout: 60 * time.Second,
	}
}

// BatchResult summarizes one RunOnce
type BatchResult struct {
	Claimed   int `json:"claimed"`
	Submitted int `json:"submitted"`
	Skipped   int `json:"skipped"`
	Deferred  int `json:"deferred"`
	Failed    int `json:"failed"`
}

// Scheduler runs settlement batches
type Scheduler struct {
	withdrawals repositories.WithdrawalRepository
	payouts     PayoutClient
	audit       AuditSink
	config      SchedulerConfig
	logger      *zap.Logger
	now         func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewScheduler creates a new settlement scheduler
func NewScheduler(
	withdrawals repositories.WithdrawalRepository,
	payouts PayoutClient,
	audit AuditSink,
	config SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = defaults.SubmitTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	return &Scheduler{
		withdrawals: withdrawals,
		payouts:     payouts,
		audit:       audit,
		config:      config,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the scheduler clock
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Job registers the batch with the cron scheduler
func (s *Scheduler) Job(schedule string) jobqueue.ScheduledJob {
	return jobqueue.ScheduledJob{
		Name:     JobName,
		Schedule: schedule,
		Handler: func(ctx context.Context) error {
			_, err := s.RunOnce(ctx)
			if apperrors.IsConflict(err) {
				return nil
			}
			return err
		},
	}
}

// RunOnce claims due requests and submits them until a round comes back
// short. Only one run is active at a time; a concurrent call gets a
// conflict.
func (s *Scheduler) RunOnce(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	if !s.running.CompareAndSwap(false, true) {
		return result, apperrors.NewConflictError("settlement batch already running")
	}
	defer s.running.Store(false)

	start := time.Now()
	defer func() { metrics.SettlementBatchDuration.Observe(time.Since(start).Seconds()) }()

	for ctx.Err() == nil {
		claimed, err := s.withdrawals.ClaimDue(ctx, s.now(), s.config.BatchSize)
		if err != nil {
			return result, fmt.Errorf("failed to claim due withdrawals: %w", err)
		}
		if len(claimed) == 0 {
			break
		}

		result.Claimed += len(claimed)
		metrics.SettlementClaimedTotal.Add(float64(len(claimed)))
		s.process(ctx, claimed, &result)

		if len(claimed) < s.config.BatchSize {
			break
		}
	}

	if result.Claimed > 0 {
		s.logger.Info("Settlement batch finished",
			zap.Int("claimed", result.Claimed),
			zap.Int("submitted", result.Submitted),
			zap.Int("skipped", result.Skipped),
			zap.Int("deferred", result.Deferred),
			zap.Int("failed", result.Failed),
			zap.Duration("duration", time.Since(start)))
	}
	return result, nil
}

type outcome int

const (
	outcomeSubmitted outcome = iota
	outcomeSkipped
	outcomeDeferred
	outcomeFailed
	outcomeAbandoned
)

// process fans a claimed round out over a bounded worker pool
func (s *Scheduler) process(ctx context.Context, claimed []*entities.WithdrawalRequest, result *BatchResult) {
	semaphore := make(chan struct{}, s.config.MaxConcurrency)
	var mu sync.Mutex

	for _, w := range claimed {
		s.audit.Record(ctx, entities.NewAuditEvent(entities.AuditWithdrawalProcessing, w, entities.WithdrawalStatusApproved, nil))

		semaphore <- struct{}{}
		s.wg.Add(1)
		go func(w *entities.WithdrawalRequest) {
			defer func() {
				<-semaphore
				s.wg.Done()
				if r := recover(); r != nil {
					s.logger.Error("Panic in payout submission",
						zap.String("withdrawal_id", w.ID.String()),
						zap.Any("panic", r))
				}
			}()

			o := s.settle(ctx, w)
			mu.Lock()
			switch o {
			case outcomeSubmitted:
				result.Submitted++
			case outcomeSkipped:
				result.Skipped++
			case outcomeDeferred:
				result.Deferred++
			case outcomeFailed:
				result.Failed++
			}
			mu.Unlock()
		}(w)
	}

	for i := 0; i < cap(semaphore); i++ {
		semaphore <- struct{}{}
	}
}

// settle submits one claimed request. The submission runs on a context
// detached from ctx so a shutdown does not cut an in-flight call short.
// Retryable or timed-out submissions leave the request PROCESSING without a
// ref; the reconciler resubmits it under the same idempotency key.
func (s *Scheduler) settle(ctx context.Context, w *entities.WithdrawalRequest) outcome {
	log := s.logger.With(zap.String("withdrawal_id", w.ID.String()))

	if w.HasPayoutRef() {
		log.Info("Manual payout recorded, skipping submission",
			zap.String("payout_ref", *w.ExternalPayoutRef))
		metrics.SettlementSubmissionsTotal.WithLabelValues("skipped").Inc()
		return outcomeSkipped
	}

	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.SubmitTimeout)
	defer cancel()

	ref, err := s.payouts.Submit(submitCtx, entities.NewPayoutSubmission(w))
	if err != nil {
		if apperrors.IsIndeterminate(err) {
			metrics.SettlementSubmissionsTotal.WithLabelValues("deferred").Inc()
			log.Warn("Payout submission deferred", zap.Error(err))
			return outcomeDeferred
		}
		metrics.SettlementSubmissionsTotal.WithLabelValues("failed").Inc()
		log.Error("Payout submission failed", zap.Error(err))
		return s.fail(submitCtx, w, fmt.Sprintf("payout submission failed: %v", err))
	}

	updated, err := s.withdrawals.AttachPayoutRef(submitCtx, w.ID, ref, s.now())
	if err != nil {
		// the payout exists on the rail; the reconciler resubmits with the
		// same key and recovers the ref
		log.Error("Failed to attach payout ref",
			zap.String("payout_ref", ref),
			zap.Error(err))
		metrics.SettlementSubmissionsTotal.WithLabelValues("unattached").Inc()
		return outcomeAbandoned
	}

	metrics.SettlementSubmissionsTotal.WithLabelValues("submitted").Inc()
	event := entities.NewAuditEvent(entities.AuditWithdrawalSubmitted, updated, entities.WithdrawalStatusProcessing, nil)
	event.Details = map[string]interface{}{"payout_ref": ref}
	s.audit.Record(ctx, event)
	log.Info("Payout submitted", zap.String("payout_ref", ref))
	return outcomeSubmitted
}

func (s *Scheduler) fail(ctx context.Context, w *entities.WithdrawalRequest, reason string) outcome {
	failed, err := s.withdrawals.Fail(ctx, w.ID, reason, s.now())
	if err != nil {
		if apperrors.IsConflict(err) {
			metrics.RecordConflict("fail")
		}
		s.logger.Error("Failed to mark withdrawal failed",
			zap.String("withdrawal_id", w.ID.String()),
			zap.Error(err))
		return outcomeAbandoned
	}
	metrics.RecordTransition(string(entities.WithdrawalStatusFailed))
	s.audit.Record(ctx, entities.NewAuditEvent(entities.AuditWithdrawalFailed, failed, entities.WithdrawalStatusProcessing, nil))
	return outcomeFailed
}

// Stop waits for in-flight submissions
func (s *Scheduler) Stop() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Settlement scheduler stopped gracefully")
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Warn("Shutdown timeout reached, some submissions may not have completed",
			zap.Duration("timeout", s.config.ShutdownTimeout))
	}
}

// IsRunning reports whether a batch is in progress
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}
