/**
 * @description
 * This file defines the audit trail records and the actor context that every
 * financial operation receives. Audit records are append-only: they are
 * written alongside the state change they describe and are never mutated or
 * deleted, so the trail can be replayed for reconciliation and forensics.
 *
 * @notes
 * - The actor context is passed explicitly into every operation; there is no
 *   ambient "current user" state anywhere in the engine.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditSeverity grades how alarming an audit record is.
type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "info"
	AuditSeverityNotice   AuditSeverity = "notice"
	AuditSeverityWarning  AuditSeverity = "warning"
	AuditSeverityCritical AuditSeverity = "critical"
)

// Audit categories used by the engine.
const (
	AuditCategoryPayment = "payment"
	AuditCategoryRevenue = "revenue"
	AuditCategoryPayout  = "payout"
)

// ActorContext identifies who (or what) triggered an operation. Handlers
// populate it from the authenticated request; internal collaborators use a
// system actor.
type ActorContext struct {
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"` // e.g. 'artist', 'admin', 'system'
	RequestID string `json:"request_id,omitempty"`
}

// SystemActor is the actor recorded for transitions triggered by provider
// callbacks and internal jobs rather than an authenticated user.
func SystemActor(component string) ActorContext {
	return ActorContext{ActorID: "system:" + component, Role: "system"}
}

// AuditRecord is one entry in the append-only audit trail. It maps directly
// to the `audit_logs` table.
type AuditRecord struct {
	ID         uuid.UUID              `json:"id"`
	Category   string                 `json:"category"`
	Event      string                 `json:"event"` // e.g. 'payout.approved'
	Narrative  string                 `json:"narrative"`
	Actor      ActorContext           `json:"actor"`
	TargetType string                 `json:"target_type"`
	TargetID   string                 `json:"target_id"` // entity id or external reference
	Severity   AuditSeverity          `json:"severity"`
	OldValues  map[string]interface{} `json:"old_values,omitempty"`
	NewValues  map[string]interface{} `json:"new_values,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
