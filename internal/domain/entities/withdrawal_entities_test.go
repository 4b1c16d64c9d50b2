package entities

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func pixDestination(keyType PixKeyType, key string) Destination {
	return Destination{PixKey: strPtr(key), PixKeyType: &keyType}
}

func TestStateMachineEdges(t *testing.T) {
	allowed := map[WithdrawalStatus][]WithdrawalStatus{
		WithdrawalStatusPending:    {WithdrawalStatusApproved, WithdrawalStatusRejected, WithdrawalStatusCancelled},
		WithdrawalStatusApproved:   {WithdrawalStatusProcessing},
		WithdrawalStatusProcessing: {WithdrawalStatusCompleted, WithdrawalStatusFailed},
	}

	for _, from := range AllWithdrawalStatuses() {
		for _, to := range AllWithdrawalStatuses() {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := map[WithdrawalStatus]bool{
		WithdrawalStatusCompleted: true,
		WithdrawalStatusFailed:    true,
		WithdrawalStatusCancelled: true,
		WithdrawalStatusRejected:  true,
	}
	for _, s := range AllWithdrawalStatuses() {
		assert.Equal(t, terminal[s], s.IsTerminal(), s)
	}
	assert.False(t, WithdrawalStatus("pending").IsValid())
}

func TestValidatePixKey(t *testing.T) {
	tests := []struct {
		name    string
		keyType PixKeyType
		key     string
		valid   bool
	}{
		{"cpf", PixKeyTypeCPF, "52998224725", true},
		{"cpf bad check digit", PixKeyTypeCPF, "52998224724", false},
		{"cpf repeated digits", PixKeyTypeCPF, "11111111111", false},
		{"cnpj", PixKeyTypeCNPJ, "11222333000181", true},
		{"cnpj bad check digit", PixKeyTypeCNPJ, "11222333000182", false},
		{"email", PixKeyTypeEmail, "user@example.com", true},
		{"email with name", PixKeyTypeEmail, "User <user@example.com>", false},
		{"phone", PixKeyTypePhone, "+5511987654321", true},
		{"phone missing country", PixKeyTypePhone, "11987654321", false},
		{"random key", PixKeyTypeRandomKey, "123e4567-e89b-12d3-a456-426614174000", true},
		{"random key short", PixKeyTypeRandomKey, "123e4567", false},
		{"unknown type", PixKeyType("IBAN"), "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePixKey(tt.keyType, tt.key)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNormalizePixKey(t *testing.T) {
	assert.Equal(t, "52998224725", NormalizePixKey(PixKeyTypeCPF, "529.982.247-25"))
	assert.Equal(t, "11222333000181", NormalizePixKey(PixKeyTypeCNPJ, "11.222.333/0001-81"))
	assert.Equal(t, "user@example.com", NormalizePixKey(PixKeyTypeEmail, " User@Example.com "))
}

func TestDestinationMustMatchMethod(t *testing.T) {
	pix := pixDestination(PixKeyTypeEmail, "user@example.com")
	chain := Destination{ChainAddress: strPtr("lq1qqf8er278e6nyvuwtgf39e6ewvtcnllkjwkyrs3")}

	assert.NoError(t, pix.Validate(WithdrawalMethodPIX))
	assert.NoError(t, chain.Validate(WithdrawalMethodDEPIX))
	assert.Error(t, pix.Validate(WithdrawalMethodDEPIX))
	assert.Error(t, chain.Validate(WithdrawalMethodPIX))

	both := pix
	both.ChainAddress = chain.ChainAddress
	assert.Error(t, both.Validate(WithdrawalMethodPIX))
	assert.Error(t, Destination{}.Validate(WithdrawalMethodPIX))
}

func TestWithdrawalValidate(t *testing.T) {
	valid := func() *WithdrawalRequest {
		return &WithdrawalRequest{
			ID:             uuid.New(),
			UserID:         uuid.New(),
			Amount:         100000,
			Fee:            1500,
			DiscountAmount: 300,
			NetAmount:      98800,
			Method:         WithdrawalMethodPIX,
			Destination:    pixDestination(PixKeyTypeCPF, "52998224725"),
			Status:         WithdrawalStatusPending,
			RequestedAt:    time.Now(),
		}
	}

	assert.NoError(t, valid().Validate())

	w := valid()
	w.NetAmount = 98500
	assert.Error(t, w.Validate(), "net amount must reconcile")

	w = valid()
	w.Status = WithdrawalStatusFailed
	assert.Error(t, w.Validate(), "failure needs a reason")
	w.StatusReason = strPtr("payout rejected")
	assert.NoError(t, w.Validate())

	w = valid()
	w.CouponCode = strPtr("WELCOME20")
	assert.Error(t, w.Validate(), "coupon code without id")
}

func TestPayoutStatusMapping(t *testing.T) {
	to, ok := PayoutStatusSuccess.TargetStatus()
	assert.True(t, ok)
	assert.Equal(t, WithdrawalStatusCompleted, to)

	for _, s := range []PayoutStatus{PayoutStatusFailed, PayoutStatusCancelled, PayoutStatusExpired} {
		to, ok := s.TargetStatus()
		assert.True(t, ok)
		assert.Equal(t, WithdrawalStatusFailed, to)
	}

	for _, s := range []PayoutStatus{PayoutStatusPending, PayoutStatusProcessing} {
		_, ok := s.TargetStatus()
		assert.False(t, ok)
		assert.False(t, s.IsTerminal())
	}
}

func TestCouponAllowsMethod(t *testing.T) {
	c := &DiscountCoupon{}
	assert.True(t, c.AllowsMethod(WithdrawalMethodDEPIX))

	c.AllowedMethods = []string{"PIX"}
	assert.True(t, c.AllowsMethod(WithdrawalMethodPIX))
	assert.False(t, c.AllowsMethod(WithdrawalMethodDEPIX))
	assert.Equal(t, "WELCOME20", NormalizeCouponCode("  welcome20 "))
}
