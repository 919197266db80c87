//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/domain/intake"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/domain/rules"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/override"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

func newIntakeService(t *testing.T, pool *pgxpool.Pool) *intake.Service {
	t.Helper()
	ruleSvc := rules.NewService(rules.NewRepoPG(pool), zerolog.Nop())
	if _, err := ruleSvc.ImportBundle(context.Background(), rules.DefaultBundle, true, "baseline", "cli:test"); err != nil {
		t.Fatalf("import default bundle: %v", err)
	}
	return intake.NewService(intake.NewRecordRepoPG(pool), intake.NewOverrideRepoPG(pool), ruleSvc, zerolog.Nop())
}

func TestRecordRepo_GetRecord(t *testing.T) {
	pool := newSchemaPool(t)
	repo := intake.NewRecordRepoPG(pool)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	id := seedRecord(t, pool,
		map[string]any{"phq9": map[string]any{"total": 23}},
		chatFixture{id: "m2", role: "patient", content: "second", at: base.Add(time.Minute)},
		chatFixture{id: "m1", role: "assistant", content: "first", at: base},
	)

	rec, err := repo.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if len(rec.ChatMessages) != 2 || rec.ChatMessages[0].ID != "m1" || rec.ChatMessages[1].ID != "m2" {
		t.Fatalf("expected chat in creation order, got %+v", rec.ChatMessages)
	}
	phq, ok := rec.StructuredData["phq9"].(map[string]any)
	if !ok {
		t.Fatalf("structured data not decoded: %+v", rec.StructuredData)
	}
	if got := fmt.Sprint(phq["total"]); got != "23" {
		t.Errorf("phq9 total = %s", got)
	}

	if _, err := repo.GetRecord(ctx, uuid.New()); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestIntake_AssessFromDatabase(t *testing.T) {
	pool := newSchemaPool(t)
	svc := newIntakeService(t, pool)
	ctx := context.Background()

	id := seedRecord(t, pool, nil,
		chatFixture{id: "m1", role: "patient", content: "Ich habe seit einer Stunde Brustschmerz.", at: time.Now().Add(-time.Minute)},
	)
	a, err := svc.Assess(ctx, id)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if a.Effective.EscalationLevel == nil || *a.Effective.EscalationLevel != severity.EscalationA {
		t.Fatalf("expected A, got %+v", a.Effective)
	}
	if !a.PolicyResult.Verified || a.Effective.State != override.StateComputed {
		t.Errorf("expected verified computed result, got verified=%v state=%s", a.PolicyResult.Verified, a.Effective.State)
	}
}

func TestOverrideRepo_UpsertAndAudit(t *testing.T) {
	pool := newSchemaPool(t)
	svc := newIntakeService(t, pool)
	ctx := context.Background()

	id := seedRecord(t, pool, nil,
		chatFixture{id: "m1", role: "patient", content: "Mir wird oft schwarz vor Augen, Ohnmacht gestern.", at: time.Now()},
	)

	first, err := svc.SetOverride(ctx, id, "C", "known vasovagal history", "dr.a@example.org")
	if err != nil {
		t.Fatalf("first override: %v", err)
	}
	if first.Audit.FromLevel == nil || *first.Audit.FromLevel != severity.EscalationB {
		t.Errorf("first audit entry should start from the computed level B, got %+v", first.Audit.FromLevel)
	}
	if first.Effective.State != override.StateOverridden {
		t.Errorf("state = %s", first.Effective.State)
	}

	second, err := svc.SetOverride(ctx, id, "A", "new symptoms on callback", "dr.b@example.org")
	if err != nil {
		t.Fatalf("second override: %v", err)
	}
	if second.Audit.FromLevel == nil || *second.Audit.FromLevel != severity.EscalationC {
		t.Errorf("second audit entry should start from the previous override, got %+v", second.Audit.FromLevel)
	}

	var rows int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM intake_override WHERE record_id = $1`, id).Scan(&rows); err != nil {
		t.Fatalf("count overrides: %v", err)
	}
	if rows != 1 {
		t.Errorf("expected one current override row, got %d", rows)
	}

	a, err := svc.Assess(ctx, id)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if a.Override == nil || a.Override.CreatedBy != "dr.b@example.org" || *a.Effective.EscalationLevel != severity.EscalationA {
		t.Errorf("expected the latest override to win, got %+v", a.Override)
	}

	trail, err := svc.OverrideHistory(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(trail))
	}
	if trail[0].ToLevel != severity.EscalationC || trail[1].ToLevel != severity.EscalationA {
		t.Errorf("audit trail out of order: %+v", trail)
	}
}

func TestOverrideRepo_RejectsBadInput(t *testing.T) {
	pool := newSchemaPool(t)
	svc := newIntakeService(t, pool)
	ctx := context.Background()
	id := seedRecord(t, pool, nil)

	if _, err := svc.SetOverride(ctx, id, "A", "   ", "dr.a@example.org"); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("expected validation error for blank reason, got %v", err)
	}
	if _, err := svc.SetOverride(ctx, id, "D", "typo", "dr.a@example.org"); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("expected validation error for unknown level, got %v", err)
	}
	if _, err := svc.SetOverride(ctx, uuid.New(), "A", "missing", "dr.a@example.org"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected NOT_FOUND for unknown record, got %v", err)
	}
}

func TestOverrideRepo_ConcurrentWrites(t *testing.T) {
	pool := newSchemaPool(t)
	svc := newIntakeService(t, pool)
	ctx := context.Background()
	id := seedRecord(t, pool, nil)

	levels := []string{"A", "B", "C"}
	const n = 9
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.SetOverride(ctx, id, levels[i%3], fmt.Sprintf("writer %d", i), "dr@example.org")
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("writer %d: %v", i, err)
		}
	}

	trail, err := svc.OverrideHistory(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(trail) != n {
		t.Fatalf("expected %d audit entries, got %d", n, len(trail))
	}
	// every entry after the first chains from its predecessor
	for i := 1; i < len(trail); i++ {
		if trail[i].FromLevel == nil || *trail[i].FromLevel != trail[i-1].ToLevel {
			t.Errorf("audit entry %d does not chain from %d", i, i-1)
		}
	}
}
