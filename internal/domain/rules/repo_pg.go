package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/db"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, r.pool, fn)
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Errorf(engine.CodeNotFound, "%s not found", what)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

const defCols = `d.id, d.key, d.title, d.domain, d.created_at`

const versionCols = `v.id, v.rule_id, d.key, d.title, d.domain, v.version, v.status, v.logic,
	v.level_default, v.action_default, v.change_reason, v.created_by, v.created_at,
	v.activated_at, v.activated_by, v.activation_reason`

const versionFrom = ` FROM rule_version v JOIN rule_definition d ON d.id = v.rule_id`

func scanVersion(row pgx.Row) (*RuleVersion, error) {
	var v RuleVersion
	err := row.Scan(&v.ID, &v.RuleID, &v.RuleKey, &v.Title, &v.Domain, &v.Version, &v.Status, &v.Logic,
		&v.Defaults.LevelDefault, &v.Defaults.ActionDefault, &v.ChangeReason, &v.CreatedBy, &v.CreatedAt,
		&v.ActivatedAt, &v.ActivatedBy, &v.ActivationReason)
	return &v, err
}

func collectVersions(rows pgx.Rows) ([]*RuleVersion, error) {
	defer rows.Close()
	var out []*RuleVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *repoPG) CreateRule(ctx context.Context, d *RuleDefinition) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO rule_definition (id, key, title, domain)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		d.ID, d.Key, d.Title, d.Domain).Scan(&d.CreatedAt)
	if db.IsPgCode(err, db.CodeUniqueViolation) {
		return engine.Errorf(engine.CodeValidation, "rule key %q already exists", d.Key)
	}
	return err
}

func (r *repoPG) GetRule(ctx context.Context, id uuid.UUID) (*RuleDefinition, error) {
	var d RuleDefinition
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+defCols+` FROM rule_definition d WHERE d.id = $1`, id).
		Scan(&d.ID, &d.Key, &d.Title, &d.Domain, &d.CreatedAt)
	if err != nil {
		return nil, notFound(err, "rule")
	}
	return &d, nil
}

func (r *repoPG) GetRuleByKey(ctx context.Context, key string) (*RuleDefinition, error) {
	var d RuleDefinition
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+defCols+` FROM rule_definition d WHERE d.key = $1`, key).
		Scan(&d.ID, &d.Key, &d.Title, &d.Domain, &d.CreatedAt)
	if err != nil {
		return nil, notFound(err, "rule")
	}
	return &d, nil
}

func (r *repoPG) ListRules(ctx context.Context, domain Domain) ([]*RuleDefinition, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+defCols+`, v.id
		FROM rule_definition d
		LEFT JOIN rule_version v ON v.rule_id = d.id AND v.status = 'active'
		WHERE $1 = '' OR d.domain = $1
		ORDER BY d.key`, string(domain))
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var defs []*RuleDefinition
	var activeIDs []*uuid.UUID
	for rows.Next() {
		var d RuleDefinition
		var activeID *uuid.UUID
		if err := rows.Scan(&d.ID, &d.Key, &d.Title, &d.Domain, &d.CreatedAt, &activeID); err != nil {
			return nil, err
		}
		defs = append(defs, &d)
		activeIDs = append(activeIDs, activeID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i, id := range activeIDs {
		if id == nil {
			continue
		}
		v, err := r.GetVersion(ctx, *id)
		if err != nil {
			return nil, err
		}
		defs[i].ActiveVersion = v
	}
	return defs, nil
}

func (r *repoPG) CreateVersion(ctx context.Context, v *RuleVersion) error {
	return r.InTx(ctx, func(ctx context.Context) error {
		q := r.conn(ctx)
		// serialise version numbering per definition
		var locked uuid.UUID
		if err := q.QueryRow(ctx, `SELECT id FROM rule_definition WHERE id = $1 FOR UPDATE`, v.RuleID).Scan(&locked); err != nil {
			return notFound(err, "rule")
		}
		v.ID = uuid.New()
		v.Status = StatusDraft
		err := q.QueryRow(ctx, `
			INSERT INTO rule_version (id, rule_id, version, status, logic, level_default, action_default,
				change_reason, created_by)
			SELECT $1, $2, COALESCE(MAX(version), 0) + 1, 'draft', $3, $4, $5, $6, $7
			FROM rule_version WHERE rule_id = $2
			RETURNING version, created_at`,
			v.ID, v.RuleID, v.Logic, v.Defaults.LevelDefault, v.Defaults.ActionDefault,
			v.ChangeReason, v.CreatedBy).Scan(&v.Version, &v.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert rule version: %w", err)
		}
		return nil
	})
}

func (r *repoPG) GetVersion(ctx context.Context, id uuid.UUID) (*RuleVersion, error) {
	v, err := scanVersion(r.conn(ctx).QueryRow(ctx, `SELECT `+versionCols+versionFrom+` WHERE v.id = $1`, id))
	if err != nil {
		return nil, notFound(err, "rule version")
	}
	return v, nil
}

func (r *repoPG) UpdateDraft(ctx context.Context, v *RuleVersion) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE rule_version SET logic = $2, level_default = $3, action_default = $4
		WHERE id = $1 AND status = 'draft'`,
		v.ID, v.Logic, v.Defaults.LevelDefault, v.Defaults.ActionDefault)
	if err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrNotDraft
	}
	return nil
}

func (r *repoPG) Activate(ctx context.Context, id uuid.UUID, reason, actor string) (*RuleVersion, error) {
	var out *RuleVersion
	err := r.InTx(ctx, func(ctx context.Context) error {
		q := r.conn(ctx)
		var ruleID uuid.UUID
		if err := q.QueryRow(ctx, `SELECT rule_id FROM rule_version WHERE id = $1`, id).Scan(&ruleID); err != nil {
			return notFound(err, "rule version")
		}
		var locked uuid.UUID
		if err := q.QueryRow(ctx, `SELECT id FROM rule_definition WHERE id = $1 FOR UPDATE NOWAIT`, ruleID).Scan(&locked); err != nil {
			return err
		}
		// the target must still be a draft once the lock is held
		var status Status
		if err := q.QueryRow(ctx, `SELECT status FROM rule_version WHERE id = $1`, id).Scan(&status); err != nil {
			return err
		}
		if status != StatusDraft {
			return engine.ErrNotDraft
		}
		if _, err := q.Exec(ctx, `
			UPDATE rule_version SET status = 'archived'
			WHERE rule_id = $1 AND status = 'active'`, ruleID); err != nil {
			return err
		}
		tag, err := q.Exec(ctx, `
			UPDATE rule_version
			SET status = 'active', activated_at = NOW(), activated_by = $2, activation_reason = $3
			WHERE id = $1 AND status = 'draft'`, id, actor, reason)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return engine.ErrNotDraft
		}
		out, err = r.GetVersion(ctx, id)
		return err
	})
	switch {
	case err == nil:
		return out, nil
	case db.IsPgCode(err, db.CodeLockNotAvailable),
		db.IsPgCode(err, db.CodeUniqueViolation),
		db.IsPgCode(err, db.CodeSerializationFailure):
		return nil, engine.Wrap(engine.CodeActivationConflict, err, "another activation is in progress for this rule")
	}
	return nil, err
}

func (r *repoPG) History(ctx context.Context, ruleID uuid.UUID) ([]*RuleVersion, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+versionCols+versionFrom+`
		WHERE v.rule_id = $1 ORDER BY v.version DESC`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("rule history: %w", err)
	}
	return collectVersions(rows)
}

func (r *repoPG) ActiveVersion(ctx context.Context, ruleID uuid.UUID) (*RuleVersion, error) {
	v, err := scanVersion(r.conn(ctx).QueryRow(ctx, `SELECT `+versionCols+versionFrom+`
		WHERE v.rule_id = $1 AND v.status = 'active'`, ruleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active version: %w", err)
	}
	return v, nil
}

func (r *repoPG) ActiveVersions(ctx context.Context, domain Domain) ([]*RuleVersion, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+versionCols+versionFrom+`
		WHERE d.domain = $1 AND v.status = 'active' ORDER BY d.key`, string(domain))
	if err != nil {
		return nil, fmt.Errorf("active versions: %w", err)
	}
	return collectVersions(rows)
}
