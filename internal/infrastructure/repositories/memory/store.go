// Package memory is an in-process store with the same compare-and-set
// semantics as the postgres repositories. A single mutex stands in for the
// database's row-level atomicity; it backs local development and the
// concurrency tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/internal/domain/repositories"
	apperrors "github.com/pixpay/settlement_service/pkg/errors"
)

// Store implements repositories.WithdrawalRepository. Coupons returns the
// repositories.CouponRepository view over the same state.
type Store struct {
	mu          sync.Mutex
	withdrawals map[uuid.UUID]*entities.WithdrawalRequest
	byRef       map[string]uuid.UUID
	coupons     map[uuid.UUID]*entities.DiscountCoupon
	byCode      map[string]uuid.UUID
	usages      map[uuid.UUID]*entities.CouponUsage // keyed by withdrawal id
}

var (
	_ repositories.WithdrawalRepository = (*Store)(nil)
	_ repositories.CouponRepository     = (*Coupons)(nil)
)

func NewStore() *Store {
	return &Store{
		withdrawals: make(map[uuid.UUID]*entities.WithdrawalRequest),
		byRef:       make(map[string]uuid.UUID),
		coupons:     make(map[uuid.UUID]*entities.DiscountCoupon),
		byCode:      make(map[string]uuid.UUID),
		usages:      make(map[uuid.UUID]*entities.CouponUsage),
	}
}

func copyWithdrawal(w *entities.WithdrawalRequest) *entities.WithdrawalRequest {
	c := *w
	return &c
}

func copyCoupon(c *entities.DiscountCoupon) *entities.DiscountCoupon {
	cp := *c
	cp.AllowedMethods = append([]string(nil), c.AllowedMethods...)
	return &cp
}

func strPtr(s string) *string { return &s }

// Create inserts a request without a coupon
func (s *Store) Create(_ context.Context, w *entities.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(w)
}

func (s *Store) insertLocked(w *entities.WithdrawalRequest) error {
	if _, exists := s.withdrawals[w.ID]; exists {
		return apperrors.NewDuplicateError("withdrawal already exists")
	}
	if w.HasPayoutRef() {
		if _, exists := s.byRef[*w.ExternalPayoutRef]; exists {
			return apperrors.NewDuplicateError("payout reference already attached to another withdrawal")
		}
		s.byRef[*w.ExternalPayoutRef] = w.ID
	}
	s.withdrawals[w.ID] = copyWithdrawal(w)
	return nil
}

// CreateWithCoupon applies the guarded increment, the per-user cap and both
// inserts as one step.
func (s *Store) CreateWithCoupon(_ context.Context, w *entities.WithdrawalRequest, r entities.CouponReservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[r.CouponID]
	if !ok {
		return repositories.ErrCouponNotFound()
	}
	if !c.IsActive {
		return apperrors.NewCouponError("coupon is inactive")
	}
	if c.MaxUses != nil && c.CurrentUses >= *c.MaxUses {
		return apperrors.NewCouponError(repositories.ReasonUsageLimitReached)
	}
	if r.MaxUsesPerUser != nil && s.countUsagesLocked(c.ID, w.UserID) >= *r.MaxUsesPerUser {
		return apperrors.NewCouponError(repositories.ReasonPerUserUsageLimitReached)
	}
	if _, exists := s.usages[w.ID]; exists {
		return apperrors.NewDuplicateError("coupon already applied to this withdrawal")
	}

	if err := s.insertLocked(w); err != nil {
		return err
	}
	c.CurrentUses++
	c.UpdatedAt = w.RequestedAt
	s.usages[w.ID] = &entities.CouponUsage{
		ID:                  uuid.New(),
		CouponID:            c.ID,
		UserID:              w.UserID,
		WithdrawalRequestID: w.ID,
		AppliedAt:           w.RequestedAt,
	}
	return nil
}

func (s *Store) countUsagesLocked(couponID, userID uuid.UUID) int {
	n := 0
	for _, u := range s.usages {
		if u.CouponID == couponID && u.UserID == userID {
			n++
		}
	}
	return n
}

// releaseLocked removes the usage row for a withdrawal and gives the use
// back to the coupon. Releasing twice is a no-op.
func (s *Store) releaseLocked(withdrawalID uuid.UUID, at time.Time) {
	u, ok := s.usages[withdrawalID]
	if !ok {
		return
	}
	delete(s.usages, withdrawalID)
	if c, ok := s.coupons[u.CouponID]; ok && c.CurrentUses > 0 {
		c.CurrentUses--
		c.UpdatedAt = at
	}
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*entities.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, repositories.ErrWithdrawalNotFound()
	}
	return copyWithdrawal(w), nil
}

func (s *Store) GetByPayoutRef(_ context.Context, ref string) (*entities.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[ref]
	if !ok {
		return nil, repositories.ErrWithdrawalNotFound()
	}
	return copyWithdrawal(s.withdrawals[id]), nil
}

// list returns matching requests newest first
func (s *Store) list(match func(*entities.WithdrawalRequest) bool, filter entities.WithdrawalFilter) []*entities.WithdrawalRequest {
	filter = filter.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entities.WithdrawalRequest
	for _, w := range s.withdrawals {
		if filter.Status != nil && w.Status != *filter.Status {
			continue
		}
		if match(w) {
			out = append(out, copyWithdrawal(w))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})

	if filter.Offset >= len(out) {
		return []*entities.WithdrawalRequest{}
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (s *Store) ListByUser(_ context.Context, userID uuid.UUID, filter entities.WithdrawalFilter) ([]*entities.WithdrawalRequest, error) {
	return s.list(func(w *entities.WithdrawalRequest) bool { return w.UserID == userID }, filter), nil
}

func (s *Store) ListByStatus(_ context.Context, filter entities.WithdrawalFilter) ([]*entities.WithdrawalRequest, error) {
	return s.list(func(*entities.WithdrawalRequest) bool { return true }, filter), nil
}

// transition is the compare-and-set every status change goes through
func (s *Store) transition(id uuid.UUID, op string, from, to entities.WithdrawalStatus, apply func(w *entities.WithdrawalRequest) error) (*entities.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return nil, repositories.ErrWithdrawalNotFound()
	}
	if w.Status != from || !entities.CanTransition(from, to) {
		return nil, repositories.NewStateConflict(op, from, w.Status)
	}

	next := copyWithdrawal(w)
	next.Status = to
	if err := apply(next); err != nil {
		return nil, err
	}
	s.withdrawals[id] = next
	return copyWithdrawal(next), nil
}

func (s *Store) Approve(_ context.Context, id uuid.UUID, p repositories.ApproveParams) (*entities.WithdrawalRequest, error) {
	return s.transition(id, "approve", entities.WithdrawalStatusPending, entities.WithdrawalStatusApproved, func(w *entities.WithdrawalRequest) error {
		if p.PayoutRef != nil {
			if _, taken := s.byRef[*p.PayoutRef]; taken {
				return apperrors.NewDuplicateError("payout reference already attached to another withdrawal")
			}
			s.byRef[*p.PayoutRef] = w.ID
			w.ExternalPayoutRef = strPtr(*p.PayoutRef)
		}
		scheduled := p.ScheduledFor
		decided := p.DecidedAt
		admin := p.AdminID
		w.ScheduledFor = &scheduled
		w.DecidedAt = &decided
		w.DecidedBy = &admin
		w.AdminNotes = p.Notes
		w.UpdatedAt = p.DecidedAt
		return nil
	})
}

func (s *Store) Reject(_ context.Context, id uuid.UUID, p repositories.RejectParams) (*entities.WithdrawalRequest, error) {
	return s.transition(id, "reject", entities.WithdrawalStatusPending, entities.WithdrawalStatusRejected, func(w *entities.WithdrawalRequest) error {
		decided := p.DecidedAt
		admin := p.AdminID
		w.StatusReason = strPtr(p.Reason)
		w.AdminNotes = p.Notes
		w.DecidedAt = &decided
		w.DecidedBy = &admin
		w.ProcessedAt = &decided
		w.UpdatedAt = p.DecidedAt
		s.releaseLocked(w.ID, p.DecidedAt)
		return nil
	})
}

func (s *Store) Cancel(_ context.Context, id, userID uuid.UUID, at time.Time) (*entities.WithdrawalRequest, error) {
	s.mu.Lock()
	w, ok := s.withdrawals[id]
	owned := ok && w.UserID == userID
	s.mu.Unlock()
	if !owned {
		return nil, repositories.ErrWithdrawalNotFound()
	}

	return s.transition(id, "cancel", entities.WithdrawalStatusPending, entities.WithdrawalStatusCancelled, func(w *entities.WithdrawalRequest) error {
		w.ProcessedAt = &at
		w.UpdatedAt = at
		s.releaseLocked(w.ID, at)
		return nil
	})
}

func (s *Store) ClaimDue(_ context.Context, now time.Time, limit int) ([]*entities.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*entities.WithdrawalRequest
	for _, w := range s.withdrawals {
		if w.Status == entities.WithdrawalStatusApproved && w.ScheduledFor != nil && !w.ScheduledFor.After(now) {
			due = append(due, w)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(*due[j].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*entities.WithdrawalRequest, 0, len(due))
	for _, w := range due {
		next := copyWithdrawal(w)
		claimedAt := now
		next.Status = entities.WithdrawalStatusProcessing
		next.ClaimedAt = &claimedAt
		next.UpdatedAt = now
		s.withdrawals[w.ID] = next
		claimed = append(claimed, copyWithdrawal(next))
	}
	return claimed, nil
}

func (s *Store) AttachPayoutRef(_ context.Context, id uuid.UUID, ref string, at time.Time) (*entities.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return nil, repositories.ErrWithdrawalNotFound()
	}
	if w.Status != entities.WithdrawalStatusProcessing {
		return nil, repositories.NewStateConflict("attach payout ref to", entities.WithdrawalStatusProcessing, w.Status)
	}
	if w.HasPayoutRef() {
		return nil, apperrors.NewConflictError("withdrawal already has a payout reference")
	}
	if _, taken := s.byRef[ref]; taken {
		return nil, apperrors.NewDuplicateError("payout reference already attached to another withdrawal")
	}

	next := copyWithdrawal(w)
	next.ExternalPayoutRef = strPtr(ref)
	next.UpdatedAt = at
	s.withdrawals[id] = next
	s.byRef[ref] = id
	return copyWithdrawal(next), nil
}

func (s *Store) Complete(_ context.Context, id uuid.UUID, at time.Time) (*entities.WithdrawalRequest, error) {
	return s.transition(id, "complete", entities.WithdrawalStatusProcessing, entities.WithdrawalStatusCompleted, func(w *entities.WithdrawalRequest) error {
		w.ProcessedAt = &at
		w.UpdatedAt = at
		w.NextPollAt = nil
		return nil
	})
}

func (s *Store) Fail(_ context.Context, id uuid.UUID, reason string, at time.Time) (*entities.WithdrawalRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.NewValidationError("failure reason is required")
	}
	return s.transition(id, "fail", entities.WithdrawalStatusProcessing, entities.WithdrawalStatusFailed, func(w *entities.WithdrawalRequest) error {
		w.StatusReason = strPtr(reason)
		w.ProcessedAt = &at
		w.UpdatedAt = at
		w.NextPollAt = nil
		return nil
	})
}

func (s *Store) ListInFlight(_ context.Context, now time.Time, limit int) ([]*entities.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entities.WithdrawalRequest
	for _, w := range s.withdrawals {
		if w.Status != entities.WithdrawalStatusProcessing {
			continue
		}
		if w.NextPollAt != nil && w.NextPollAt.After(now) {
			continue
		}
		out = append(out, copyWithdrawal(w))
	}
	sort.Slice(out, func(i, j int) bool {
		return claimTime(out[i]).Before(claimTime(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func claimTime(w *entities.WithdrawalRequest) time.Time {
	if w.ClaimedAt != nil {
		return *w.ClaimedAt
	}
	return w.UpdatedAt
}

func (s *Store) SchedulePoll(_ context.Context, id uuid.UUID, attempts int, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return repositories.ErrWithdrawalNotFound()
	}
	if w.Status != entities.WithdrawalStatusProcessing {
		return repositories.NewStateConflict("schedule poll for", entities.WithdrawalStatusProcessing, w.Status)
	}
	n := copyWithdrawal(w)
	n.PollAttempts = attempts
	n.NextPollAt = &next
	s.withdrawals[id] = n
	return nil
}
