// Package reconciliation drives in-flight payouts to a terminal status by
// polling the payout rail and by applying its webhook notifications.
package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/internal/domain/repositories"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
	"github.com/pixpay/settlement_service/pkg/metrics"
	"github.com/pixpay/settlement_service/pkg/retry"
)

// ManualReviewReason is recorded on payouts that did not settle within the
// lookback window.
const ManualReviewReason = "manual review required"

const (
	sourcePoll    = "poll"
	sourceWebhook = "webhook"
)

// PayoutClient queries payouts and resubmits those whose ref was never
// recorded. Submissions with the same idempotency key resolve to the same
// payout.
type PayoutClient interface {
	Submit(ctx context.Context, sub entities.PayoutSubmission) (string, error)
	QueryStatus(ctx context.Context, ref string) (*entities.PayoutStatusResult, error)
}

// AuditSink receives lifecycle events. Record must not block.
type AuditSink interface {
	Record(ctx context.Context, event entities.AuditEvent)
}

// Deduper tracks webhook notification ids already seen
type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Config holds configuration for the reconciliation loop
type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxConcurrency int
	Lookback       time.Duration // age after which a PROCESSING request without a terminal status goes to manual review
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	ResubmitAfter  time.Duration // claim age after which a request without a ref is resubmitted
	SubmitTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   30 * time.Second,
		BatchSize:      100,
		MaxConcurrency: 8,
		Lookback:       24 * time.Hour,
		BaseBackoff:    30 * time.Second,
		MaxBackoff:     30 * time.Minute,
		ResubmitAfter:  2 * time.Minute,
		SubmitTimeout:  30 * time.Second,
	}
}

// Outcome describes what a convergence attempt did
type Outcome struct {
	WithdrawalID uuid.UUID                 `json:"withdrawal_id"`
	Status       entities.WithdrawalStatus `json:"status"`
	Converged    bool                      `json:"converged"`
	Duplicate    bool                      `json:"duplicate,omitempty"`
}

// RunResult summarizes one polling pass
type RunResult struct {
	Checked     int `json:"checked"`
	Converged   int `json:"converged"`
	Rescheduled int `json:"rescheduled"`
	Resubmitted int `json:"resubmitted"`
	Escalated   int `json:"escalated"`
	Errors      int `json:"errors"`
}

// Reconciler polls PROCESSING requests and applies payout notifications
type Reconciler struct {
	withdrawals repositories.WithdrawalRepository
	payouts     PayoutClient
	audit       AuditSink
	dedupe      Deduper
	config      Config
	backoff     *retry.Backoff
	logger      *zap.Logger
	now         func() time.Time

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewReconciler creates a new reconciler
func NewReconciler(
	withdrawals repositories.WithdrawalRepository,
	payouts PayoutClient,
	audit AuditSink,
	config Config,
	logger *zap.Logger,
) *Reconciler {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.Lookback <= 0 {
		config.Lookback = defaults.Lookback
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = defaults.BaseBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.ResubmitAfter <= 0 {
		config.ResubmitAfter = defaults.ResubmitAfter
	}
	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = defaults.SubmitTimeout
	}

	return &Reconciler{
		withdrawals: withdrawals,
		payouts:     payouts,
		audit:       audit,
		config:      config,
		backoff:     retry.NewBackoff(config.BaseBackoff, config.MaxBackoff, 2.0, 0.2),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithDeduper enables notification dedupe
func (r *Reconciler) WithDeduper(d Deduper) *Reconciler {
	r.dedupe = d
	return r
}

// WithClock replaces the reconciler clock
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Start begins the polling loop
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return fmt.Errorf("reconciler is already running")
	}
	r.isRunning = true

	ctx, r.cancel = context.WithCancel(ctx)
	r.logger.Info("Starting reconciliation loop",
		zap.Duration("poll_interval", r.config.PollInterval),
		zap.Duration("lookback", r.config.Lookback),
		zap.Int("batch_size", r.config.BatchSize))

	r.wg.Add(1)
	go r.pollLoop(ctx)
	return nil
}

// Stop cancels the loop and waits for the current pass to finish
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return fmt.Errorf("reconciler is not running")
	}
	r.cancel()
	r.isRunning = false
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("Reconciliation loop stopped")
	return nil
}

func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isRunning
}

func (r *Reconciler) pollLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Reconciliation pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce polls every in-flight request whose next poll is due
func (r *Reconciler) RunOnce(ctx context.Context) (RunResult, error) {
	var result RunResult
	now := r.now()

	inflight, err := r.withdrawals.ListInFlight(ctx, now, r.config.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list in-flight withdrawals: %w", err)
	}
	metrics.InFlightPayouts.Set(float64(len(inflight)))
	if len(inflight) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, r.config.MaxConcurrency)

	for _, w := range inflight {
		if ctx.Err() != nil {
			break
		}
		semaphore <- struct{}{}
		wg.Add(1)
		go func(w *entities.WithdrawalRequest) {
			defer func() {
				<-semaphore
				wg.Done()
				if p := recover(); p != nil {
					r.logger.Error("Panic in reconciliation",
						zap.String("withdrawal_id", w.ID.String()),
						zap.Any("panic", p))
				}
			}()

			step := r.reconcile(ctx, w, now)
			mu.Lock()
			result.Checked++
			switch step {
			case stepConverged:
				result.Converged++
			case stepRescheduled:
				result.Rescheduled++
			case stepResubmitted:
				result.Resubmitted++
			case stepEscalated:
				result.Escalated++
			case stepError:
				result.Errors++
			}
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	r.logger.Info("Reconciliation pass finished",
		zap.Int("checked", result.Checked),
		zap.Int("converged", result.Converged),
		zap.Int("rescheduled", result.Rescheduled),
		zap.Int("resubmitted", result.Resubmitted),
		zap.Int("escalated", result.Escalated),
		zap.Int("errors", result.Errors))
	return result, nil
}

type step int

const (
	stepNoop step = iota
	stepConverged
	stepRescheduled
	stepResubmitted
	stepEscalated
	stepError
)

func claimedAt(w *entities.WithdrawalRequest) time.Time {
	if w.ClaimedAt != nil {
		return *w.ClaimedAt
	}
	return w.UpdatedAt
}

// reconcile advances one in-flight request. The rail is always asked
// before a request past the lookback is escalated, so a payout that
// settled late still converges.
func (r *Reconciler) reconcile(ctx context.Context, w *entities.WithdrawalRequest, now time.Time) step {
	log := r.logger.With(zap.String("withdrawal_id", w.ID.String()))
	age := now.Sub(claimedAt(w))
	stale := age > r.config.Lookback

	if !w.HasPayoutRef() {
		if stale {
			return r.escalate(ctx, w)
		}
		if age < r.config.ResubmitAfter {
			// submission may still be in flight
			metrics.ReconciliationPollsTotal.WithLabelValues("no_ref").Inc()
			return r.reschedule(ctx, w, now)
		}
		return r.resubmit(ctx, w, now)
	}

	res, err := r.payouts.QueryStatus(ctx, *w.ExternalPayoutRef)
	if err != nil {
		metrics.ReconciliationPollsTotal.WithLabelValues("error").Inc()
		log.Warn("Payout status query failed",
			zap.String("payout_ref", *w.ExternalPayoutRef),
			zap.Bool("retryable", apperrors.IsRetryable(err)),
			zap.Error(err))
		if stale {
			return r.escalate(ctx, w)
		}
		return r.reschedule(ctx, w, now)
	}
	if !res.Status.IsTerminal() {
		metrics.ReconciliationPollsTotal.WithLabelValues("pending").Inc()
		if stale {
			return r.escalate(ctx, w)
		}
		return r.reschedule(ctx, w, now)
	}

	metrics.ReconciliationPollsTotal.WithLabelValues("terminal").Inc()
	outcome, err := r.converge(ctx, w, res.Status, res.Reason, sourcePoll)
	if err != nil {
		log.Error("Failed to converge withdrawal", zap.Error(err))
		return stepError
	}
	if outcome.Converged {
		return stepConverged
	}
	return stepNoop
}

func (r *Reconciler) reschedule(ctx context.Context, w *entities.WithdrawalRequest, now time.Time) step {
	attempts := w.PollAttempts + 1
	next := now.Add(r.backoff.Calculate(attempts))
	if err := r.withdrawals.SchedulePoll(ctx, w.ID, attempts, next); err != nil {
		if apperrors.IsConflict(err) {
			return stepNoop
		}
		r.logger.Error("Failed to schedule poll",
			zap.String("withdrawal_id", w.ID.String()),
			zap.Error(err))
		return stepError
	}
	return stepRescheduled
}

// resubmit replays the submission of a request whose ref was never
// recorded and attaches the ref the rail answers with. The idempotency key
// is the withdrawal id, so an accepted payout is returned, not duplicated.
func (r *Reconciler) resubmit(ctx context.Context, w *entities.WithdrawalRequest, now time.Time) step {
	log := r.logger.With(zap.String("withdrawal_id", w.ID.String()))

	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.SubmitTimeout)
	defer cancel()

	ref, err := r.payouts.Submit(submitCtx, entities.NewPayoutSubmission(w))
	if err != nil {
		if apperrors.IsIndeterminate(err) {
			metrics.ReconciliationPollsTotal.WithLabelValues("resubmit_deferred").Inc()
			log.Warn("Payout resubmission deferred", zap.Error(err))
			return r.reschedule(ctx, w, now)
		}
		metrics.ReconciliationPollsTotal.WithLabelValues("resubmit_rejected").Inc()
		log.Error("Payout resubmission rejected", zap.Error(err))
		return r.failSubmission(submitCtx, w, err)
	}

	updated, err := r.withdrawals.AttachPayoutRef(submitCtx, w.ID, ref, r.now())
	if err != nil {
		if apperrors.IsConflict(err) {
			// attached concurrently or no longer PROCESSING
			return stepNoop
		}
		log.Error("Failed to attach resubmitted payout ref",
			zap.String("payout_ref", ref),
			zap.Error(err))
		return r.reschedule(ctx, w, now)
	}

	metrics.ReconciliationPollsTotal.WithLabelValues("resubmitted").Inc()
	event := entities.NewAuditEvent(entities.AuditWithdrawalSubmitted, updated, entities.WithdrawalStatusProcessing, nil)
	event.Details = map[string]interface{}{"payout_ref": ref, "source": "resubmit"}
	r.audit.Record(ctx, event)
	log.Info("Payout ref recovered by resubmission", zap.String("payout_ref", ref))

	// poll the recovered ref on the next pass
	if err := r.withdrawals.SchedulePoll(ctx, w.ID, updated.PollAttempts, now); err != nil && !apperrors.IsConflict(err) {
		log.Warn("Failed to schedule poll", zap.Error(err))
	}
	return stepResubmitted
}

func (r *Reconciler) failSubmission(ctx context.Context, w *entities.WithdrawalRequest, cause error) step {
	reason := fmt.Sprintf("payout submission failed: %v", cause)
	failed, err := r.withdrawals.Fail(ctx, w.ID, reason, r.now())
	if err != nil {
		if apperrors.IsConflict(err) {
			return stepNoop
		}
		r.logger.Error("Failed to mark withdrawal failed",
			zap.String("withdrawal_id", w.ID.String()),
			zap.Error(err))
		return stepError
	}
	metrics.RecordTransition(string(entities.WithdrawalStatusFailed))
	event := entities.NewAuditEvent(entities.AuditWithdrawalFailed, failed, entities.WithdrawalStatusProcessing, nil)
	event.Details = map[string]interface{}{"reason": reason}
	r.audit.Record(ctx, event)
	return stepConverged
}

func (r *Reconciler) escalate(ctx context.Context, w *entities.WithdrawalRequest) step {
	failed, err := r.withdrawals.Fail(ctx, w.ID, ManualReviewReason, r.now())
	if err != nil {
		if apperrors.IsConflict(err) {
			return stepNoop
		}
		r.logger.Error("Failed to escalate withdrawal",
			zap.String("withdrawal_id", w.ID.String()),
			zap.Error(err))
		return stepError
	}

	metrics.ReconciliationManualReviewTotal.Inc()
	metrics.RecordTransition(string(entities.WithdrawalStatusFailed))
	event := entities.NewAuditEvent(entities.AuditWithdrawalFailed, failed, entities.WithdrawalStatusProcessing, nil)
	event.Details = map[string]interface{}{"reason": ManualReviewReason}
	r.audit.Record(ctx, event)

	r.logger.Warn("Withdrawal escalated to manual review",
		zap.String("withdrawal_id", w.ID.String()),
		zap.Time("claimed_at", claimedAt(w)))
	return stepEscalated
}

// HandleNotification applies a payout webhook notification. Redelivered
// or stale notifications are no-ops.
func (r *Reconciler) HandleNotification(ctx context.Context, n entities.PayoutNotification) (*Outcome, error) {
	n.Status = entities.PayoutStatus(strings.ToUpper(strings.TrimSpace(string(n.Status))))
	if !n.Status.IsValid() {
		metrics.WebhookNotificationsTotal.WithLabelValues("invalid").Inc()
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown payout status: %s", n.Status))
	}

	if r.dedupe != nil {
		first, err := r.dedupe.FirstSeen(ctx, n.ID)
		if err != nil {
			// convergence is idempotent, so a dedupe outage only costs a re-apply
			r.logger.Warn("Notification dedupe unavailable", zap.Error(err))
		} else if !first {
			metrics.WebhookNotificationsTotal.WithLabelValues("duplicate").Inc()
			return &Outcome{Duplicate: true}, nil
		}
	}

	outcome, err := r.applyNotification(ctx, n)
	if err != nil {
		metrics.WebhookNotificationsTotal.WithLabelValues("error").Inc()
		if r.dedupe != nil {
			if ferr := r.dedupe.Forget(ctx, n.ID); ferr != nil {
				r.logger.Warn("Failed to forget notification", zap.String("notification_id", n.ID), zap.Error(ferr))
			}
		}
		return nil, err
	}

	if outcome.Converged {
		metrics.WebhookNotificationsTotal.WithLabelValues("applied").Inc()
	} else {
		metrics.WebhookNotificationsTotal.WithLabelValues("noop").Inc()
	}
	return outcome, nil
}

func (r *Reconciler) applyNotification(ctx context.Context, n entities.PayoutNotification) (*Outcome, error) {
	w, err := r.withdrawals.GetByPayoutRef(ctx, n.Ref)
	if err != nil {
		return nil, err
	}
	if !n.Status.IsTerminal() {
		return &Outcome{WithdrawalID: w.ID, Status: w.Status}, nil
	}
	return r.converge(ctx, w, n.Status, n.Reason, sourceWebhook)
}

// converge drives w to the withdrawal status matching a terminal payout
// status. Only the caller that wins the transition emits audit events.
func (r *Reconciler) converge(ctx context.Context, w *entities.WithdrawalRequest, status entities.PayoutStatus, reason, source string) (*Outcome, error) {
	outcome := &Outcome{WithdrawalID: w.ID, Status: w.Status}
	target, ok := status.TargetStatus()
	if !ok || w.Status != entities.WithdrawalStatusProcessing {
		return outcome, nil
	}

	var (
		updated *entities.WithdrawalRequest
		err     error
	)
	switch target {
	case entities.WithdrawalStatusCompleted:
		updated, err = r.withdrawals.Complete(ctx, w.ID, r.now())
	default:
		if strings.TrimSpace(reason) == "" {
			reason = "payout " + strings.ToLower(string(status))
		}
		updated, err = r.withdrawals.Fail(ctx, w.ID, reason, r.now())
	}
	if err != nil {
		if apperrors.IsConflict(err) {
			metrics.RecordConflict("converge")
			current, gerr := r.withdrawals.GetByID(ctx, w.ID)
			if gerr == nil {
				outcome.Status = current.Status
			}
			return outcome, nil
		}
		return nil, fmt.Errorf("failed to converge withdrawal %s: %w", w.ID, err)
	}

	outcome.Status = updated.Status
	outcome.Converged = true
	metrics.RecordTransition(string(updated.Status))
	metrics.ReconciliationConvergedTotal.WithLabelValues(string(updated.Status), source).Inc()

	eventType := entities.AuditWithdrawalCompleted
	if updated.Status == entities.WithdrawalStatusFailed {
		eventType = entities.AuditWithdrawalFailed
	}
	event := entities.NewAuditEvent(eventType, updated, entities.WithdrawalStatusProcessing, nil)
	event.Details = map[string]interface{}{
		"payout_status": string(status),
		"source":        source,
	}
	if updated.ExternalPayoutRef != nil {
		event.Details["payout_ref"] = *updated.ExternalPayoutRef
	}
	r.audit.Record(ctx, event)

	r.logger.Info("Withdrawal converged",
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("status", string(updated.Status)),
		zap.String("source", source))
	return outcome, nil
}
