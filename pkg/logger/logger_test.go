package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestForWithdrawalAddsField(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := NewLogger(zap.New(core))

	log.ForWithdrawal("w-1").Infow("Withdrawal approved", "admin_id", "a-1")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "w-1", fields["withdrawal_id"])
		assert.Equal(t, "a-1", fields["admin_id"])
	}
}

func TestWithContextWithoutSpanIsUnchanged(t *testing.T) {
	log := Nop()
	assert.Same(t, log, log.WithContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zap.InfoLevel, parseLevel("unknown"))
	assert.Equal(t, zap.ErrorLevel, parseLevel("error"))
}
