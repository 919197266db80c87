package intake

import (
	"context"

	"github.com/google/uuid"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/override"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

type RecordRepository interface {
	GetRecord(ctx context.Context, id uuid.UUID) (*Record, error)
}

type OverrideRepository interface {
	// GetOverride returns the current override, or nil if there is none.
	GetOverride(ctx context.Context, recordID uuid.UUID) (*override.Override, error)
	// SaveOverride replaces the record's override (last write wins) and
	// appends the audit entry in the same transaction. computed is the
	// level the engine produced at write time, used as the from-level when
	// no earlier override exists.
	SaveOverride(ctx context.Context, o *override.Override, computed *severity.Escalation) (override.AuditEntry, error)
	// AuditTrail returns every override write for a record, oldest first.
	AuditTrail(ctx context.Context, recordID uuid.UUID) ([]override.AuditEntry, error)
}
