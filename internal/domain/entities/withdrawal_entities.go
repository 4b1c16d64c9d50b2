package entities

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WithdrawalStatus is the lifecycle state of a withdrawal request
type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "PENDING"
	WithdrawalStatusApproved   WithdrawalStatus = "APPROVED"
	WithdrawalStatusRejected   WithdrawalStatus = "REJECTED"
	WithdrawalStatusProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalStatusCompleted  WithdrawalStatus = "COMPLETED"
	WithdrawalStatusFailed     WithdrawalStatus = "FAILED"
	WithdrawalStatusCancelled  WithdrawalStatus = "CANCELLED"
)

// withdrawalTransitions is the complete state machine. Statuses missing
// from the map or mapped to nothing are terminal.
var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalStatusPending:    {WithdrawalStatusApproved, WithdrawalStatusRejected, WithdrawalStatusCancelled},
	WithdrawalStatusApproved:   {WithdrawalStatusProcessing},
	WithdrawalStatusProcessing: {WithdrawalStatusCompleted, WithdrawalStatusFailed},
	WithdrawalStatusCompleted:  nil,
	WithdrawalStatusFailed:     nil,
	WithdrawalStatusCancelled:  nil,
	WithdrawalStatusRejected:   nil,
}

// AllWithdrawalStatuses lists every status in lifecycle order
func AllWithdrawalStatuses() []WithdrawalStatus {
	return []WithdrawalStatus{
		WithdrawalStatusPending,
		WithdrawalStatusApproved,
		WithdrawalStatusRejected,
		WithdrawalStatusProcessing,
		WithdrawalStatusCompleted,
		WithdrawalStatusFailed,
		WithdrawalStatusCancelled,
	}
}

func (s WithdrawalStatus) IsValid() bool {
	_, ok := withdrawalTransitions[s]
	return ok
}

func (s WithdrawalStatus) IsTerminal() bool {
	return s.IsValid() && len(withdrawalTransitions[s]) == 0
}

// RequiresReason reports whether entering s needs a status reason
func (s WithdrawalStatus) RequiresReason() bool {
	return s == WithdrawalStatusRejected || s == WithdrawalStatusFailed
}

// CanTransition reports whether from -> to is an edge of the state machine
func CanTransition(from, to WithdrawalStatus) bool {
	for _, next := range withdrawalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// WithdrawalMethod is the payout rail a withdrawal settles on
type WithdrawalMethod string

const (
	WithdrawalMethodPIX   WithdrawalMethod = "PIX"
	WithdrawalMethodDEPIX WithdrawalMethod = "DEPIX"
)

func (m WithdrawalMethod) IsValid() bool {
	switch m {
	case WithdrawalMethodPIX, WithdrawalMethodDEPIX:
		return true
	}
	return false
}

// PixKeyType identifies how a PIX key addresses the receiver
type PixKeyType string

const (
	PixKeyTypeCPF       PixKeyType = "CPF"
	PixKeyTypeCNPJ      PixKeyType = "CNPJ"
	PixKeyTypeEmail     PixKeyType = "EMAIL"
	PixKeyTypePhone     PixKeyType = "PHONE"
	PixKeyTypeRandomKey PixKeyType = "RANDOM_KEY"
)

var (
	phoneKeyPattern     = regexp.MustCompile(`^\+55\d{10,11}$`)
	chainAddressPattern = regexp.MustCompile(`^[a-zA-Z0-9]{26,100}$`)
)

// Destination is where a payout goes. Exactly one variant is populated and
// it must match the withdrawal method.
type Destination struct {
	PixKey       *string     `json:"pix_key,omitempty" db:"pix_key"`
	PixKeyType   *PixKeyType `json:"pix_key_type,omitempty" db:"pix_key_type"`
	ChainAddress *string     `json:"chain_address,omitempty" db:"chain_address"`
}

// Validate checks the destination against the method.
func (d Destination) Validate(method WithdrawalMethod) error {
	hasPix := d.PixKey != nil || d.PixKeyType != nil
	hasChain := d.ChainAddress != nil

	switch method {
	case WithdrawalMethodPIX:
		if hasChain {
			return fmt.Errorf("chain address not allowed for PIX withdrawals")
		}
		if d.PixKey == nil || d.PixKeyType == nil {
			return fmt.Errorf("pix key and pix key type are required")
		}
		return ValidatePixKey(*d.PixKeyType, *d.PixKey)
	case WithdrawalMethodDEPIX:
		if hasPix {
			return fmt.Errorf("pix key not allowed for DEPIX withdrawals")
		}
		if d.ChainAddress == nil || !chainAddressPattern.MatchString(*d.ChainAddress) {
			return fmt.Errorf("a valid chain address is required")
		}
		return nil
	default:
		return fmt.Errorf("invalid withdrawal method: %s", method)
	}
}

// NormalizePixKey strips formatting users commonly type into document keys.
func NormalizePixKey(keyType PixKeyType, key string) string {
	key = strings.TrimSpace(key)
	switch keyType {
	case PixKeyTypeCPF, PixKeyTypeCNPJ:
		return strings.NewReplacer(".", "", "-", "", "/", "", " ", "").Replace(key)
	case PixKeyTypeEmail:
		return strings.ToLower(key)
	case PixKeyTypeRandomKey:
		return strings.ToLower(key)
	}
	return key
}

// ValidatePixKey checks the format of an already normalized key
func ValidatePixKey(keyType PixKeyType, key string) error {
	switch keyType {
	case PixKeyTypeCPF:
		if !validCPF(key) {
			return fmt.Errorf("invalid CPF pix key")
		}
	case PixKeyTypeCNPJ:
		if !validCNPJ(key) {
			return fmt.Errorf("invalid CNPJ pix key")
		}
	case PixKeyTypeEmail:
		addr, err := mail.ParseAddress(key)
		if err != nil || addr.Address != key || len(key) > 77 {
			return fmt.Errorf("invalid email pix key")
		}
	case PixKeyTypePhone:
		if !phoneKeyPattern.MatchString(key) {
			return fmt.Errorf("phone pix key must be in +55DDDNUMBER format")
		}
	case PixKeyTypeRandomKey:
		if _, err := uuid.Parse(key); err != nil || len(key) != 36 {
			return fmt.Errorf("invalid random pix key")
		}
	default:
		return fmt.Errorf("invalid pix key type: %s", keyType)
	}
	return nil
}

func digitsOnly(s string, n int) ([]int, bool) {
	if len(s) != n {
		return nil, false
	}
	digits := make([]int, n)
	for i, r := range s {
		if r < '0' || r > '9' {
			return nil, false
		}
		digits[i] = int(r - '0')
	}
	return digits, true
}

func allSame(d []int) bool {
	for _, v := range d[1:] {
		if v != d[0] {
			return false
		}
	}
	return true
}

func validCPF(s string) bool {
	d, ok := digitsOnly(s, 11)
	if !ok || allSame(d) {
		return false
	}
	for pos := 9; pos <= 10; pos++ {
		sum := 0
		for i := 0; i < pos; i++ {
			sum += d[i] * (pos + 1 - i)
		}
		check := sum * 10 % 11
		if check == 10 {
			check = 0
		}
		if check != d[pos] {
			return false
		}
	}
	return true
}

func validCNPJ(s string) bool {
	d, ok := digitsOnly(s, 14)
	if !ok || allSame(d) {
		return false
	}
	weights := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	for pos := 12; pos <= 13; pos++ {
		sum := 0
		w := weights[13-pos:]
		for i := 0; i < pos; i++ {
			sum += d[i] * w[i]
		}
		check := sum % 11
		if check < 2 {
			check = 0
		} else {
			check = 11 - check
		}
		if check != d[pos] {
			return false
		}
	}
	return true
}

// WithdrawalRequest is a user's request to move funds off the platform.
// Monetary fields are integer cents. Fee, DiscountAmount and NetAmount are
// fixed at creation.
type WithdrawalRequest struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	UserID         uuid.UUID        `json:"user_id" db:"user_id"`
	Amount         int64            `json:"amount" db:"amount"`
	Fee            int64            `json:"fee" db:"fee"`
	DiscountAmount int64            `json:"discount_amount" db:"discount_amount"`
	NetAmount      int64            `json:"net_amount" db:"net_amount"`
	Method         WithdrawalMethod `json:"method" db:"method"`
	Destination

	Status       WithdrawalStatus `json:"status" db:"status"`
	StatusReason *string          `json:"status_reason,omitempty" db:"status_reason"`

	CouponID   *uuid.UUID `json:"coupon_id,omitempty" db:"coupon_id"`
	CouponCode *string    `json:"coupon_code,omitempty" db:"coupon_code"`

	AdminNotes *string    `json:"admin_notes,omitempty" db:"admin_notes"`
	DecidedBy  *uuid.UUID `json:"decided_by,omitempty" db:"decided_by"`
	DecidedAt  *time.Time `json:"decided_at,omitempty" db:"decided_at"`

	ExternalPayoutRef *string    `json:"external_payout_ref,omitempty" db:"external_payout_ref"`
	PollAttempts      int        `json:"poll_attempts" db:"poll_attempts"`
	NextPollAt        *time.Time `json:"next_poll_at,omitempty" db:"next_poll_at"`

	RequestedAt  time.Time  `json:"requested_at" db:"requested_at"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty" db:"scheduled_for"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Validate checks the invariants a request must satisfy to be persisted
func (w *WithdrawalRequest) Validate() error {
	if w.ID == uuid.Nil {
		return fmt.Errorf("withdrawal ID is required")
	}
	if w.UserID == uuid.Nil {
		return fmt.Errorf("user ID is required")
	}
	if w.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if !w.Method.IsValid() {
		return fmt.Errorf("invalid withdrawal method: %s", w.Method)
	}
	if err := w.Destination.Validate(w.Method); err != nil {
		return err
	}
	if !w.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", w.Status)
	}
	if w.Fee < 0 || w.DiscountAmount < 0 || w.DiscountAmount > w.Fee {
		return fmt.Errorf("invalid fee breakdown")
	}
	if w.NetAmount+w.Fee-w.DiscountAmount != w.Amount {
		return fmt.Errorf("net amount does not reconcile with amount, fee and discount")
	}
	if w.NetAmount <= 0 {
		return fmt.Errorf("net amount must be positive")
	}
	if w.Status.RequiresReason() && (w.StatusReason == nil || strings.TrimSpace(*w.StatusReason) == "") {
		return fmt.Errorf("status %s requires a reason", w.Status)
	}
	if (w.CouponID == nil) != (w.CouponCode == nil) {
		return fmt.Errorf("coupon id and code must be set together")
	}
	return nil
}

// HasPayoutRef reports whether the request was already submitted to the rail
func (w *WithdrawalRequest) HasPayoutRef() bool {
	return w.ExternalPayoutRef != nil && *w.ExternalPayoutRef != ""
}

// WithdrawalFilter narrows list queries
type WithdrawalFilter struct {
	Status *WithdrawalStatus
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps paging values into the supported range
func (f WithdrawalFilter) Normalize() WithdrawalFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
