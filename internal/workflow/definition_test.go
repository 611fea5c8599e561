package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"folio/internal/provider"
	"folio/internal/services"
	"folio/internal/workflow"
)

type stubProvider struct {
	id       string
	category provider.Category
	args     []provider.ArgSpec

	premiseErr error
	execute    func(ctx context.Context, target *provider.Target, args provider.Args, progress provider.ProgressFunc) error

	mu    sync.Mutex
	calls []string
}

func (p *stubProvider) ID() string                  { return p.id }
func (p *stubProvider) Category() provider.Category { return p.category }
func (p *stubProvider) DescribeArgs() []provider.ArgSpec {
	return p.args
}

func (p *stubProvider) CheckPremise(context.Context, *provider.Target) error {
	return p.premiseErr
}

func (p *stubProvider) Execute(ctx context.Context, target *provider.Target, args provider.Args, progress provider.ProgressFunc) error {
	p.mu.Lock()
	p.calls = append(p.calls, target.Track.String())
	p.mu.Unlock()
	if p.execute != nil {
		return p.execute(ctx, target, args, progress)
	}
	return nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func newRegistry(t *testing.T, providers ...provider.Provider) *provider.Registry {
	t.Helper()
	registry := provider.NewRegistry()
	for _, p := range providers {
		if err := registry.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.ID(), err)
		}
	}
	return registry
}

const sampleYAML = `
name: digitize-basic
description: import, recognize, export
processors:
  ingest:
    provider: fs-import
    category: import
  recognize:
    provider: tesseract
    category: character_recognition
    args:
      language: deu
  archive:
    provider: zip-export
    category: export
steps:
  - processor: ingest
    steps:
      - processor: recognize
        steps:
          - processor: archive
`

func TestParseCountsEveryNode(t *testing.T) {
	def, err := workflow.Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.Name != "digitize-basic" {
		t.Fatalf("name = %q", def.Name)
	}
	if got := def.StepCount(); got != 3 {
		t.Fatalf("step count = %d, want 3", got)
	}

	encoded, err := def.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	again, err := workflow.Parse(encoded)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if again.StepCount() != 3 {
		t.Fatal("encode/parse changed the graph")
	}
}

func TestParseRejectsEmptyDefinitions(t *testing.T) {
	cases := map[string]string{
		"no name":  "steps:\n  - processor: a\n",
		"no steps": "name: empty\n",
		"bad yaml": "name: [unclosed\n",
	}
	for label, doc := range cases {
		if _, err := workflow.Parse([]byte(doc)); !errors.Is(err, services.ErrValidation) {
			t.Errorf("%s: err = %v, want validation error", label, err)
		}
	}
}

func TestStepCountCountsFanOut(t *testing.T) {
	def := &workflow.Definition{
		Name: "fan",
		Steps: []workflow.Step{
			{Processor: "a", Steps: []workflow.Step{
				{Processor: "b"},
				{Processor: "c", Steps: []workflow.Step{{Processor: "d"}}},
			}},
		},
	}
	if got := def.StepCount(); got != 4 {
		t.Fatalf("step count = %d, want 4", got)
	}
}

func TestResolveBindsEveryProcessor(t *testing.T) {
	registry := newRegistry(t,
		&stubProvider{id: "fs-import", category: provider.CategoryImport},
		&stubProvider{id: "tesseract", category: provider.CategoryCharRec, args: []provider.ArgSpec{
			{Name: "language", Type: provider.ArgString, Default: "eng"},
		}},
		&stubProvider{id: "zip-export", category: provider.CategoryExport},
	)
	def, err := workflow.Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	bindings, err := workflow.Resolve(def, registry)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(bindings) != 3 {
		t.Fatalf("bindings = %d, want 3", len(bindings))
	}
	if got := bindings["recognize"].Args.StringArg("language", ""); got != "deu" {
		t.Fatalf("recognize language = %q, want deu", got)
	}
}

func TestResolveFailsFast(t *testing.T) {
	active := &stubProvider{id: "fs-import", category: provider.CategoryImport}
	trainer := &stubProvider{id: "seg-train", category: provider.CategoryTraining}
	registry := newRegistry(t, active, trainer)
	if err := registry.SetActive(provider.CategoryImport, "fs-import", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	cases := map[string]*workflow.Definition{
		"unknown processor": {
			Name:  "w",
			Steps: []workflow.Step{{Processor: "nope"}},
		},
		"unknown category": {
			Name:       "w",
			Processors: map[string]workflow.Processor{"p": {Provider: "fs-import", Category: "sorcery"}},
			Steps:      []workflow.Step{{Processor: "p"}},
		},
		"uninstalled provider": {
			Name:       "w",
			Processors: map[string]workflow.Processor{"p": {Provider: "ghost", Category: "import"}},
			Steps:      []workflow.Step{{Processor: "p"}},
		},
		"inactive provider": {
			Name:       "w",
			Processors: map[string]workflow.Processor{"p": {Provider: "fs-import", Category: "import"}},
			Steps:      []workflow.Step{{Processor: "p"}},
		},
		"training category": {
			Name:       "w",
			Processors: map[string]workflow.Processor{"p": {Provider: "seg-train", Category: "training"}},
			Steps:      []workflow.Step{{Processor: "p"}},
		},
	}
	for label, def := range cases {
		if _, err := workflow.Resolve(def, registry); !errors.Is(err, services.ErrValidation) {
			t.Errorf("%s: err = %v, want validation error", label, err)
		}
	}
}
