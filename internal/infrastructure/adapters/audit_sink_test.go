package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pixpay/settlement_service/internal/domain/entities"
)

func event(eventType entities.AuditEventType) entities.AuditEvent {
	w := &entities.WithdrawalRequest{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Status: entities.WithdrawalStatusApproved,
	}
	return entities.NewAuditEvent(eventType, w, entities.WithdrawalStatusPending, nil)
}

func TestAuditSinkDrainsOnClose(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewAuditSink(16, zap.New(core))

	for i := 0; i < 10; i++ {
		sink.Record(context.Background(), event(entities.AuditWithdrawalApproved))
	}
	require.True(t, sink.Close(time.Second))

	entries := logs.FilterMessage("audit").All()
	require.Len(t, entries, 10)
	fields := entries[0].ContextMap()
	assert.Equal(t, "withdrawal.approved", fields["event_type"])
	assert.Equal(t, "PENDING", fields["from_status"])
	assert.Equal(t, "APPROVED", fields["to_status"])
	assert.Equal(t, "system", fields["actor_id"])
}

func TestAuditSinkDropsAfterClose(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewAuditSink(4, zap.New(core))
	require.True(t, sink.Close(time.Second))

	assert.NotPanics(t, func() {
		sink.Record(context.Background(), event(entities.AuditWithdrawalFailed))
	})
	assert.Equal(t, 1, logs.FilterMessage("Audit event dropped").Len())
	assert.True(t, sink.Close(time.Second), "close is idempotent")
}

func TestAuditSinkRecordNeverBlocks(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	sink := NewAuditSink(1, zap.New(core))
	defer sink.Close(time.Second)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			sink.Record(context.Background(), event(entities.AuditWithdrawalCreated))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
}
