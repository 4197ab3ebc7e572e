package journal

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/thingy-control/internal/control"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestStore_RecentEmpty(t *testing.T) {
	store := setupTestStore(t)

	entries, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", entries)
	}
}

func TestStore_EmitAndRecent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	store.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	transitions := []control.Transition{
		{Field: control.FieldLeftRight, Old: 0, New: 1},
		{Field: control.FieldLeftRight, Old: 1, New: -1},
		{Field: control.FieldShoot, Old: 0, New: 1},
	}
	for _, tr := range transitions {
		if err := store.Emit(ctx, tr); err != nil {
			t.Fatalf("emit %v: %v", tr, err)
		}
	}

	entries, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Field != "shoot" || entries[0].New != "true" {
		t.Errorf("newest = %+v, want shoot -> true", entries[0])
	}
	if entries[1].Old != "Left" || entries[1].New != "Right" || entries[1].NewValue != -1 {
		t.Errorf("second = %+v, want Left -> Right", entries[1])
	}
	if !entries[0].Time.Equal(base.Add(3 * time.Second)) {
		t.Errorf("time = %v, want %v", entries[0].Time, base.Add(3*time.Second))
	}
}

func TestStore_CountsAndPrune(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	_ = store.Emit(ctx, control.Transition{Field: control.FieldJump, Old: 0, New: 1})

	now = now.Add(time.Hour)
	_ = store.Emit(ctx, control.Transition{Field: control.FieldJump, Old: 1, New: 0})
	_ = store.Emit(ctx, control.Transition{Field: control.FieldSpin, Old: 0, New: 1})

	counts, err := store.Counts(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["jump"] != 1 || counts["spin"] != 1 {
		t.Errorf("counts = %v, want jump=1 spin=1", counts)
	}

	n, err := store.Prune(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	entries, _ := store.Recent(ctx, 10)
	if len(entries) != 2 {
		t.Errorf("remaining = %d, want 2", len(entries))
	}
}

func TestStore_SubsecondBoundaries(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	whole := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	half := whole.Add(500 * time.Millisecond)
	for _, ts := range []time.Time{whole, half} {
		store.now = func() time.Time { return ts }
		if err := store.Emit(ctx, control.Transition{Field: control.FieldShoot, Old: 0, New: 1}); err != nil {
			t.Fatalf("emit at %v: %v", ts, err)
		}
	}

	cut := whole.Add(100 * time.Millisecond)
	counts, err := store.Counts(ctx, cut)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["shoot"] != 1 {
		t.Errorf("counts since %v = %v, want shoot=1", cut, counts)
	}

	n, err := store.Prune(ctx, cut)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 || !entries[0].Time.Equal(half) {
		t.Errorf("remaining = %+v, want the entry at %v", entries, half)
	}
}
