package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/db"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/override"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository {
	return &recordRepoPG{pool: pool}
}

func (r *recordRepoPG) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	q := db.Conn(ctx, r.pool)
	rec := Record{ID: id}
	var raw []byte
	err := q.QueryRow(ctx, `SELECT structured_data FROM intake_record WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.Errorf(engine.CodeNotFound, "intake record not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get intake record: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec.StructuredData); err != nil {
		return nil, fmt.Errorf("decode structured data: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, role, content, created_at FROM intake_chat_message
		WHERE record_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		rec.ChatMessages = append(rec.ChatMessages, m)
	}
	return &rec, rows.Err()
}

type overrideRepoPG struct{ pool *pgxpool.Pool }

func NewOverrideRepoPG(pool *pgxpool.Pool) OverrideRepository {
	return &overrideRepoPG{pool: pool}
}

const overrideCols = `id, record_id, level, reason, created_by, created_at`

func scanOverride(row pgx.Row) (*override.Override, error) {
	var o override.Override
	err := row.Scan(&o.ID, &o.RecordID, &o.Level, &o.Reason, &o.CreatedBy, &o.CreatedAt)
	return &o, err
}

func (r *overrideRepoPG) GetOverride(ctx context.Context, recordID uuid.UUID) (*override.Override, error) {
	o, err := scanOverride(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+overrideCols+` FROM intake_override WHERE record_id = $1`, recordID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get override: %w", err)
	}
	return o, nil
}

func (r *overrideRepoPG) SaveOverride(ctx context.Context, o *override.Override, computed *severity.Escalation) (override.AuditEntry, error) {
	var entry override.AuditEntry
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		// writers for one record queue on the record row, so each audit
		// entry sees the override committed before it
		var locked uuid.UUID
		if err := q.QueryRow(ctx, `SELECT id FROM intake_record WHERE id = $1 FOR UPDATE`, o.RecordID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return engine.Errorf(engine.CodeNotFound, "intake record not found")
			}
			return fmt.Errorf("lock intake record: %w", err)
		}
		prev, err := scanOverride(q.QueryRow(ctx,
			`SELECT `+overrideCols+` FROM intake_override WHERE record_id = $1 FOR UPDATE`, o.RecordID))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			prev = nil
		case err != nil:
			return fmt.Errorf("lock override: %w", err)
		}

		o.ID = uuid.New()
		err = q.QueryRow(ctx, `
			INSERT INTO intake_override (id, record_id, level, reason, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, clock_timestamp())
			ON CONFLICT (record_id) DO UPDATE
			SET id = EXCLUDED.id, level = EXCLUDED.level, reason = EXCLUDED.reason,
				created_by = EXCLUDED.created_by, created_at = clock_timestamp()
			RETURNING created_at`,
			o.ID, o.RecordID, o.Level, o.Reason, o.CreatedBy).Scan(&o.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert override: %w", err)
		}

		entry = override.NewAuditEntry(prev, o, computed)
		entry.ID = uuid.New()
		_, err = q.Exec(ctx, `
			INSERT INTO intake_override_audit (id, record_id, from_level, to_level, reason, actor, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			entry.ID, entry.RecordID, entry.FromLevel, entry.ToLevel, entry.Reason, entry.Actor, entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("append override audit: %w", err)
		}
		return nil
	})
	return entry, err
}

func (r *overrideRepoPG) AuditTrail(ctx context.Context, recordID uuid.UUID) ([]override.AuditEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, record_id, from_level, to_level, reason, actor, created_at
		FROM intake_override_audit WHERE record_id = $1 ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("override audit: %w", err)
	}
	defer rows.Close()
	var out []override.AuditEntry
	for rows.Next() {
		var e override.AuditEntry
		if err := rows.Scan(&e.ID, &e.RecordID, &e.FromLevel, &e.ToLevel, &e.Reason, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
