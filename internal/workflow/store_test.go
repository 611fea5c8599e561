package workflow_test

import (
	"context"
	"errors"
	"testing"

	"folio/internal/services"
	"folio/internal/testsupport"
	"folio/internal/workflow"
)

func TestStoreSaveRoundTrip(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	workflows := workflow.NewStore(db)
	ctx := context.Background()

	def, err := workflow.Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	saved, err := workflows.Save(ctx, def)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == 0 {
		t.Fatal("saved workflow should get an id")
	}

	loaded, err := workflows.Get(ctx, "digitize-basic")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded == nil {
		t.Fatal("saved workflow not found")
	}
	if loaded.Definition.StepCount() != 3 {
		t.Fatalf("loaded step count = %d", loaded.Definition.StepCount())
	}

	byID, err := workflows.GetByID(ctx, saved.ID)
	if err != nil || byID == nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.Name != "digitize-basic" {
		t.Fatalf("name = %q", byID.Name)
	}
}

func TestStoreSaveReplacesByName(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	workflows := workflow.NewStore(db)
	ctx := context.Background()

	def := &workflow.Definition{
		Name:       "evolving",
		Processors: map[string]workflow.Processor{"a": {Provider: "p", Category: "action"}},
		Steps:      []workflow.Step{{Processor: "a"}},
	}
	first, err := workflows.Save(ctx, def)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	def.Steps = []workflow.Step{{Processor: "a", Steps: []workflow.Step{{Processor: "a"}}}}
	second, err := workflows.Save(ctx, def)
	if err != nil {
		t.Fatalf("resave: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("replacing a workflow must keep its id")
	}
	if second.Definition.StepCount() != 2 {
		t.Fatalf("updated step count = %d", second.Definition.StepCount())
	}

	all, err := workflows.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("list size = %d, want 1", len(all))
	}
}

func TestStoreGetAbsent(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	workflows := workflow.NewStore(db)

	record, err := workflows.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record != nil {
		t.Fatal("absent workflow should return nil")
	}
}

func TestStoreDeleteUnknown(t *testing.T) {
	db := testsupport.MustOpenDB(t)
	workflows := workflow.NewStore(db)

	err := workflows.Delete(context.Background(), "ghost")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
