package adapters

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pixpay/settlement_service/internal/domain/entities"
	"github.com/pixpay/settlement_service/pkg/metrics"
)

const defaultAuditBuffer = 1024

// AuditSink records withdrawal state changes as structured log lines.
// Record never blocks: when the buffer is full the event is dropped.
type AuditSink struct {
	events chan entities.AuditEvent
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAuditSink starts the background writer
func NewAuditSink(bufferSize int, logger *zap.Logger) *AuditSink {
	if bufferSize <= 0 {
		bufferSize = defaultAuditBuffer
	}
	s := &AuditSink{
		events: make(chan entities.AuditEvent, bufferSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Record enqueues an event
func (s *AuditSink) Record(_ context.Context, event entities.AuditEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop(event, "sink closed")
		return
	}

	select {
	case s.events <- event:
	default:
		s.drop(event, "buffer full")
	}
}

func (s *AuditSink) drop(event entities.AuditEvent, reason string) {
	metrics.AuditEventsDroppedTotal.Inc()
	s.logger.Warn("Audit event dropped",
		zap.String("reason", reason),
		zap.String("event_type", string(event.Type)),
		zap.String("withdrawal_id", event.WithdrawalID.String()))
}

func (s *AuditSink) run() {
	defer close(s.done)
	for event := range s.events {
		s.write(event)
	}
}

func (s *AuditSink) write(event entities.AuditEvent) {
	fields := []zap.Field{
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", string(event.Type)),
		zap.String("withdrawal_id", event.WithdrawalID.String()),
		zap.String("user_id", event.UserID.String()),
		zap.String("from_status", string(event.FromStatus)),
		zap.String("to_status", string(event.ToStatus)),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", event.ActorID.String()))
	} else {
		fields = append(fields, zap.String("actor_id", "system"))
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}

	s.logger.Info("audit", fields...)
	metrics.AuditEventsTotal.WithLabelValues(string(event.Type)).Inc()
}

// Close stops accepting events and waits up to timeout for the buffer to
// drain. It returns false if the timeout elapsed first.
func (s *AuditSink) Close(timeout time.Duration) bool {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		s.logger.Warn("Audit sink drain timed out", zap.Int("pending", len(s.events)))
		return false
	}
}
