package testsupport

import (
	"context"
	"testing"

	"storyloom/internal/assets"
	"storyloom/internal/config"
)

// MustOpenStore opens an assets.SQLiteStore for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *assets.SQLiteStore {
	t.Helper()

	store, err := assets.Open(cfg)
	if err != nil {
		t.Fatalf("assets.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewPlanRecord inserts a plan record carrying plan and returns it.
func NewPlanRecord(t testing.TB, store assets.Store, id string, keyframes, scenes, clips int) *assets.PlanRecord {
	t.Helper()

	ctx := context.Background()
	rec := &assets.PlanRecord{ID: id, Description: "a fox", Lesson: "sharing", Language: "English", State: "plan_ready"}
	if err := store.SavePlan(ctx, rec); err != nil {
		t.Fatalf("store.SavePlan: %v", err)
	}
	data, err := storyEncode(SamplePlan(keyframes, scenes, clips))
	if err != nil {
		t.Fatalf("encode plan: %v", err)
	}
	if err := store.SetPlanJSON(ctx, id, data); err != nil {
		t.Fatalf("store.SetPlanJSON: %v", err)
	}
	got, err := store.GetPlan(ctx, id)
	if err != nil {
		t.Fatalf("store.GetPlan: %v", err)
	}
	return got
}
