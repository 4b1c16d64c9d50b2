package settlementbatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/internal/domain/repositories"
	"github.com/pixpay/settlement_service/internal/infrastructure/repositories/memory"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
)

var fixedNow = time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

type MockPayoutClient struct {
	mock.Mock
}

func (m *MockPayoutClient) Submit(ctx context.Context, sub entities.PayoutSubmission) (string, error) {
	args := m.Called(ctx, sub)
	return args.String(0), args.Error(1)
}

type recordingSink struct {
	mu     sync.Mutex
	events []entities.AuditEvent
}

func (r *recordingSink) Record(_ context.Context, e entities.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) count(t entities.AuditEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// countingClient hands out a distinct ref per submission
type countingClient struct {
	calls int32
}

func (c *countingClient) Submit(_ context.Context, sub entities.PayoutSubmission) (string, error) {
	atomic.AddInt32(&c.calls, 1)
	return "cw_" + sub.IdempotencyKey.String(), nil
}

func strPtr(s string) *string { return &s }

func seedApproved(t *testing.T, store *memory.Store, scheduledFor time.Time, manualRef *string) *entities.WithdrawalRequest {
	t.Helper()
	ctx := context.Background()
	keyType := entities.PixKeyTypeEmail
	w := &entities.WithdrawalRequest{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Amount:      100000,
		Fee:         1500,
		NetAmount:   98500,
		Method:      entities.WithdrawalMethodPIX,
		Destination: entities.Destination{PixKey: strPtr("user@example.com"), PixKeyType: &keyType},
		Status:      entities.WithdrawalStatusPending,
		RequestedAt: fixedNow.Add(-48 * time.Hour),
		UpdatedAt:   fixedNow.Add(-48 * time.Hour),
	}
	require.NoError(t, store.Create(ctx, w))
	approved, err := store.Approve(ctx, w.ID, repositories.ApproveParams{
		AdminID:      uuid.New(),
		ScheduledFor: scheduledFor,
		PayoutRef:    manualRef,
		DecidedAt:    fixedNow.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	return approved
}

func newScheduler(t *testing.T, store *memory.Store, client PayoutClient, sink AuditSink, batchSize int) *Scheduler {
	return NewScheduler(store, client, sink, SchedulerConfig{
		BatchSize:      batchSize,
		MaxConcurrency: 4,
		SubmitTimeout:  time.Second,
	}, zaptest.NewLogger(t)).WithClock(func() time.Time { return fixedNow })
}

func TestRunOnceSubmitsDueRequests(t *testing.T) {
	store := memory.NewStore()
	due := seedApproved(t, store, fixedNow.Add(-time.Minute), nil)
	notYet := seedApproved(t, store, fixedNow.Add(time.Hour), nil)

	client := new(MockPayoutClient)
	client.On("Submit", mock.Anything, mock.MatchedBy(func(sub entities.PayoutSubmission) bool {
		return sub.IdempotencyKey == due.ID && sub.NetAmount == 98500 && sub.Method == entities.WithdrawalMethodPIX
	})).Return("cw_due", nil).Once()
	sink := &recordingSink{}

	result, err := newScheduler(t, store, client, sink, 10).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Claimed: 1, Submitted: 1}, result)
	client.AssertExpectations(t)

	got, err := store.GetByID(context.Background(), due.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.WithdrawalStatusProcessing, got.Status)
	require.NotNil(t, got.ExternalPayoutRef)
	assert.Equal(t, "cw_due", *got.ExternalPayoutRef)

	untouched, err := store.GetByID(context.Background(), notYet.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.WithdrawalStatusApproved, untouched.Status)

	assert.Equal(t, 1, sink.count(entities.AuditWithdrawalProcessing))
	assert.Equal(t, 1, sink.count(entities.AuditWithdrawalSubmitted))
}

func TestRunOnceSkipsManualPayouts(t *testing.T) {
	store := memory.NewStore()
	manual := seedApproved(t, store, fixedNow.Add(-time.Minute), strPtr("manual-ted-77"))

	client := new(MockPayoutClient)
	result, err := newScheduler(t, store, client, &recordingSink{}, 10).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Claimed: 1, Skipped: 1}, result)
	client.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)

	got, err := store.GetByID(context.Background(), manual.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.WithdrawalStatusProcessing, got.Status)
	assert.Equal(t, "manual-ted-77", *got.ExternalPayoutRef)
}

func TestRunOnceFailsRejectedSubmissions(t *testing.T) {
	store := memory.NewStore()
	w := seedApproved(t, store, fixedNow.Add(-time.Minute), nil)

	client := new(MockPayoutClient)
	client.On("Submit", mock.Anything, mock.Anything).
		Return("", apperrors.NewExternalError("payout", errors.New("status 422: pix key rejected"), false))
	sink := &recordingSink{}

	result, err := newScheduler(t, store, client, sink, 10).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	got, err := store.GetByID(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.WithdrawalStatusFailed, got.Status)
	require.NotNil(t, got.StatusReason)
	assert.Contains(t, *got.StatusReason, "payout submission failed:")
	assert.Contains(t, *got.StatusReason, "pix key rejected")
	assert.Equal(t, 1, sink.count(entities.AuditWithdrawalFailed))
}

func TestRunOnceDefersIndeterminateSubmissions(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"open breaker", apperrors.NewExternalError("payout", errors.New("circuit breaker is open"), true)},
		{"deadline", apperrors.NewExternalError("payout", context.DeadlineExceeded, false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			w := seedApproved(t, store, fixedNow.Add(-time.Minute), nil)

			client := new(MockPayoutClient)
			client.On("Submit", mock.Anything, mock.Anything).Return("", tt.err).Once()
			sink := &recordingSink{}

			result, err := newScheduler(t, store, client, sink, 10).RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, BatchResult{Claimed: 1, Deferred: 1}, result)

			got, err := store.GetByID(context.Background(), w.ID)
			require.NoError(t, err)
			assert.Equal(t, entities.WithdrawalStatusProcessing, got.Status)
			assert.Nil(t, got.ExternalPayoutRef)
			assert.Nil(t, got.StatusReason)
			assert.Zero(t, sink.count(entities.AuditWithdrawalFailed))
		})
	}
}

func TestRunOnceStampsRefWithSchedulerClock(t *testing.T) {
	store := memory.NewStore()
	w := seedApproved(t, store, fixedNow.Add(-time.Minute), nil)

	_, err := newScheduler(t, store, &countingClient{}, &recordingSink{}, 10).RunOnce(context.Background())
	require.NoError(t, err)

	got, err := store.GetByID(context.Background(), w.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExternalPayoutRef)
	assert.Equal(t, fixedNow, got.UpdatedAt)
}

func TestRunOnceDrainsFullBatches(t *testing.T) {
	store := memory.NewStore()
	for i := 0; i < 7; i++ {
		seedApproved(t, store, fixedNow.Add(-time.Duration(i+1)*time.Minute), nil)
	}

	client := &countingClient{}

	result, err := newScheduler(t, store, client, &recordingSink{}, 3).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, result.Claimed)
	assert.Equal(t, 7, result.Submitted)
	assert.Equal(t, int32(7), atomic.LoadInt32(&client.calls))
}

func TestConcurrentRunsConflict(t *testing.T) {
	store := memory.NewStore()
	seedApproved(t, store, fixedNow.Add(-time.Minute), nil)

	release := make(chan struct{})
	client := new(MockPayoutClient)
	client.On("Submit", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return("cw_slow", nil)

	scheduler := newScheduler(t, store, client, &recordingSink{}, 10)
	done := make(chan BatchResult)
	go func() {
		result, _ := scheduler.RunOnce(context.Background())
		done <- result
	}()

	require.Eventually(t, scheduler.IsRunning, time.Second, 5*time.Millisecond)
	_, err := scheduler.RunOnce(context.Background())
	assert.True(t, apperrors.IsConflict(err))

	close(release)
	assert.Equal(t, 1, (<-done).Submitted)
	assert.False(t, scheduler.IsRunning())
}
