/**
 * @description
 * This file defines the AuditSink used by every engine component. The sink
 * is best-effort by contract: recording an audit entry must never fail the
 * financial operation that produced it, so delivery failures are logged
 * locally and, where a broker is available, the record is also fanned out as
 * an event for external monitoring.
 *
 * @notes
 * - Transition audits are NOT written through this sink; the repository
 *   commits those in the same transaction as the state change. The sink
 *   covers everything else: rejected attempts, warnings, integrity findings.
 *
 * @dependencies
 * - internal/domain, internal/store: For the audit model and persistence.
 * - pkg/rabbitmq: Optional event fanout.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tunewave/finance-service/internal/domain"
	"github.com/tunewave/finance-service/internal/store"
	"github.com/tunewave/finance-service/pkg/rabbitmq"
)

// AuditSink records audit entries. Implementations must never return an
// error to the caller of a financial operation.
type AuditSink interface {
	Record(ctx context.Context, rec domain.AuditRecord)
}

// StoreAuditSink persists audit records to the append-only audit_logs table
// and optionally publishes them to the event exchange.
type StoreAuditSink struct {
	repo     store.Repository
	producer rabbitmq.Publisher // may be nil
}

// NewStoreAuditSink creates the default audit sink. producer may be nil.
func NewStoreAuditSink(repo store.Repository, producer rabbitmq.Publisher) *StoreAuditSink {
	return &StoreAuditSink{repo: repo, producer: producer}
}

// Record writes the audit row best-effort. A persistence failure is logged
// at critical severity and never propagated.
func (s *StoreAuditSink) Record(ctx context.Context, rec domain.AuditRecord) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if err := s.repo.InsertAuditRecord(ctx, rec); err != nil {
		log.Printf("CRITICAL: audit record delivery failed: event=%s target=%s/%s severity=%s err=%v",
			rec.Event, rec.TargetType, rec.TargetID, rec.Severity, err)
	}

	if s.producer != nil {
		if err := s.producer.Publish(ctx, rabbitmq.EventsExchange, "audit.recorded", rec); err != nil {
			log.Printf("WARN: audit event publish failed: event=%s target=%s/%s err=%v",
				rec.Event, rec.TargetType, rec.TargetID, err)
		}
	}
}

// auditStatusChange builds the standard audit record for a committed status
// transition. The repository inserts it transactionally with the change.
func auditStatusChange(category, event, narrative string, actor domain.ActorContext, targetType, targetID string, severity domain.AuditSeverity, oldStatus, newStatus string, meta map[string]interface{}) *domain.AuditRecord {
	return &domain.AuditRecord{
		ID:         uuid.New(),
		Category:   category,
		Event:      event,
		Narrative:  narrative,
		Actor:      actor,
		TargetType: targetType,
		TargetID:   targetID,
		Severity:   severity,
		OldValues:  map[string]interface{}{"status": oldStatus},
		NewValues:  map[string]interface{}{"status": newStatus},
		Metadata:   meta,
		CreatedAt:  time.Now().UTC(),
	}
}
