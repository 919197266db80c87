package rules

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// InTx runs fn in a transaction; repository calls made with the
	// context passed to fn join it.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateRule(ctx context.Context, d *RuleDefinition) error
	GetRule(ctx context.Context, id uuid.UUID) (*RuleDefinition, error)
	GetRuleByKey(ctx context.Context, key string) (*RuleDefinition, error)
	// ListRules returns definitions with their active version attached. An
	// empty domain lists all.
	ListRules(ctx context.Context, domain Domain) ([]*RuleDefinition, error)

	// CreateVersion inserts v as a draft, assigning Version = max+1 for the
	// definition.
	CreateVersion(ctx context.Context, v *RuleVersion) error
	GetVersion(ctx context.Context, id uuid.UUID) (*RuleVersion, error)
	// UpdateDraft rewrites logic and defaults of a draft; ErrNotDraft when
	// the version is no longer a draft.
	UpdateDraft(ctx context.Context, v *RuleVersion) error
	// Activate archives the currently active version of the definition and
	// activates id, atomically.
	Activate(ctx context.Context, id uuid.UUID, reason, actor string) (*RuleVersion, error)
	// History returns every version of a definition, newest first.
	History(ctx context.Context, ruleID uuid.UUID) ([]*RuleVersion, error)
	// ActiveVersion returns the active version, or nil if there is none.
	ActiveVersion(ctx context.Context, ruleID uuid.UUID) (*RuleVersion, error)
	// ActiveVersions returns the active set for a domain ordered by key.
	ActiveVersions(ctx context.Context, domain Domain) ([]*RuleVersion, error)
}
