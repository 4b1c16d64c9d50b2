package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/internal/domain/services/settlement"
	"github.com/pixpay/settlement_service/internal/infrastructure/repositories/memory"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
	"github.com/pixpay/settlement_service/pkg/logger"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type countingSink struct {
	mu     sync.Mutex
	counts map[entities.AuditEventType]int
}

func (c *countingSink) Record(_ context.Context, e entities.AuditEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[entities.AuditEventType]int)
	}
	c.counts[e.Type]++
}

func (c *countingSink) count(t entities.AuditEventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[t]
}

func strPtr(s string) *string { return &s }

func seedPending(t *testing.T, store *memory.Store, couponID *uuid.UUID) *entities.WithdrawalRequest {
	t.Helper()
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
		RequestedAt: fixedNow,
		UpdatedAt:   fixedNow,
	}
	ctx := context.Background()
	if couponID == nil {
		require.NoError(t, store.Create(ctx, w))
		return w
	}
	code := "WELCOME20"
	w.CouponID = couponID
	w.CouponCode = &code
	w.DiscountAmount = 300
	w.NetAmount = 98800
	require.NoError(t, store.CreateWithCoupon(ctx, w, entities.CouponReservation{CouponID: *couponID}))
	return w
}

func newService(store *memory.Store, sink AuditSink, requireReason bool) *Service {
	policy := settlement.FixedDelayPolicy{Delay: 24 * time.Hour}
	return NewService(store, policy, sink, Config{RequireRejectReason: requireReason}, logger.Nop()).
		WithClock(func() time.Time { return fixedNow })
}

func TestApproveSchedulesSettlement(t *testing.T) {
	store := memory.NewStore()
	sink := &countingSink{}
	svc := newService(store, sink, true)
	w := seedPending(t, store, nil)
	adminID := uuid.New()

	approved, err := svc.Decide(context.Background(), Decision{
		RequestID: w.ID,
		AdminID:   adminID,
		Approve:   true,
		Notes:     strPtr("  looks good "),
	})
	require.NoError(t, err)

	assert.Equal(t, entities.WithdrawalStatusApproved, approved.Status)
	require.NotNil(t, approved.ScheduledFor)
	assert.Equal(t, fixedNow.Add(24*time.Hour), *approved.ScheduledFor)
	assert.Equal(t, adminID, *approved.DecidedBy)
	assert.Equal(t, "looks good", *approved.AdminNotes)
	assert.False(t, approved.HasPayoutRef())
	assert.Equal(t, 1, sink.count(entities.AuditWithdrawalApproved))
}

func TestApproveWithManualPayoutRef(t *testing.T) {
	store := memory.NewStore()
	svc := newService(store, &countingSink{}, true)
	w := seedPending(t, store, nil)

	approved, err := svc.Decide(context.Background(), Decision{
		RequestID:         w.ID,
		AdminID:           uuid.New(),
		Approve:           true,
		ExternalPayoutRef: strPtr("manual-123"),
	})
	require.NoError(t, err)
	assert.True(t, approved.HasPayoutRef())

	found, err := store.GetByPayoutRef(context.Background(), "manual-123")
	require.NoError(t, err)
	assert.Equal(t, w.ID, found.ID)
}

func TestConcurrentApprovesHaveOneWinner(t *testing.T) {
	store := memory.NewStore()
	sink := &countingSink{}
	svc := newService(store, sink, true)
	w := seedPending(t, store, nil)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Decide(context.Background(), Decision{RequestID: w.ID, AdminID: uuid.New(), Approve: true})
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	succeeded, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperrors.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, sink.count(entities.AuditWithdrawalApproved))
}

func TestRejectRequiresReason(t *testing.T) {
	store := memory.NewStore()
	svc := newService(store, &countingSink{}, true)
	w := seedPending(t, store, nil)

	_, err := svc.Decide(context.Background(), Decision{RequestID: w.ID, AdminID: uuid.New(), Notes: strPtr("   ")})
	assert.True(t, apperrors.IsValidation(err))

	stored, _ := store.GetByID(context.Background(), w.ID)
	assert.Equal(t, entities.WithdrawalStatusPending, stored.Status)
}

func TestRejectDefaultsReasonWhenOptional(t *testing.T) {
	store := memory.NewStore()
	svc := newService(store, &countingSink{}, false)
	w := seedPending(t, store, nil)

	rejected, err := svc.Decide(context.Background(), Decision{RequestID: w.ID, AdminID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, entities.WithdrawalStatusRejected, rejected.Status)
	assert.Equal(t, DefaultRejectReason, *rejected.StatusReason)
}

func TestRejectReleasesCoupon(t *testing.T) {
	store := memory.NewStore()
	sink := &countingSink{}
	svc := newService(store, sink, true)
	ctx := context.Background()

	maxUses := 1
	c := &entities.DiscountCoupon{
		ID:                 uuid.New(),
		Code:               "WELCOME20",
		DiscountPercentage: 20,
		MaxUses:            &maxUses,
		ValidFrom:          fixedNow.Add(-time.Hour),
		IsActive:           true,
	}
	require.NoError(t, store.Coupons().Create(ctx, c))
	w := seedPending(t, store, &c.ID)

	rejected, err := svc.Decide(ctx, Decision{RequestID: w.ID, AdminID: uuid.New(), Notes: strPtr("KYC mismatch")})
	require.NoError(t, err)
	assert.Equal(t, "KYC mismatch", *rejected.StatusReason)

	stored, _ := store.Coupons().GetByID(ctx, c.ID)
	assert.Equal(t, 0, stored.CurrentUses)
	assert.Equal(t, 1, sink.count(entities.AuditCouponReleased))
}

func TestDecideOnDecidedRequest(t *testing.T) {
	store := memory.NewStore()
	svc := newService(store, &countingSink{}, true)
	w := seedPending(t, store, nil)
	ctx := context.Background()

	_, err := svc.Decide(ctx, Decision{RequestID: w.ID, AdminID: uuid.New(), Approve: true})
	require.NoError(t, err)

	_, err = svc.Decide(ctx, Decision{RequestID: w.ID, AdminID: uuid.New(), Notes: strPtr("too late")})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, apperrors.CodeInvalidState, apperrors.GetCode(err))

	_, err = svc.Decide(ctx, Decision{RequestID: uuid.New(), AdminID: uuid.New(), Approve: true})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestQueueDefaultsToPending(t *testing.T) {
	store := memory.NewStore()
	svc := newService(store, &countingSink{}, true)
	ctx := context.Background()
	first := seedPending(t, store, nil)
	seedPending(t, store, nil)

	_, err := svc.Decide(ctx, Decision{RequestID: first.ID, AdminID: uuid.New(), Approve: true})
	require.NoError(t, err)

	queue, err := svc.Queue(ctx, entities.WithdrawalFilter{})
	require.NoError(t, err)
	assert.Len(t, queue, 1)

	approved := entities.WithdrawalStatusApproved
	queue, err = svc.Queue(ctx, entities.WithdrawalFilter{Status: &approved})
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, first.ID, queue[0].ID)
}
