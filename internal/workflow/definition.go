package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"folio/internal/provider"
	"folio/internal/services"
)

// Mode selects how sibling branches of one parent are scheduled.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// ParseMode validates a concurrency mode string.
func ParseMode(value string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeSequential:
		return ModeSequential, true
	case ModeParallel:
		return ModeParallel, true
	}
	return "", false
}

// Step is one node of the path graph. Child steps run after the step itself
// completes and derive from the snapshot it produced.
type Step struct {
	Processor   string `yaml:"processor" json:"processor"`
	Label       string `yaml:"label,omitempty" json:"label,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []Step `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// Processor maps a processor id used in the path graph onto an installed
// provider plus its initialization arguments.
type Processor struct {
	Provider string         `yaml:"provider" json:"provider"`
	Category string         `yaml:"category" json:"category"`
	Args     map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
}

// Definition is a persisted workflow template.
type Definition struct {
	Name        string               `yaml:"name" json:"name"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
	Processors  map[string]Processor `yaml:"processors" json:"processors"`
	Steps       []Step               `yaml:"steps" json:"steps"`
}

// Parse decodes a YAML workflow definition. Structural validity only; use
// Resolve to check references against a provider registry.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "parse definition", "invalid yaml", err)
	}
	if strings.TrimSpace(def.Name) == "" {
		return nil, services.Wrap(services.ErrValidation, "workflow", "parse definition", "workflow name required", nil)
	}
	if len(def.Steps) == 0 {
		return nil, services.Wrap(services.ErrValidation, "workflow", "parse definition", "at least one step required", nil)
	}
	return &def, nil
}

// Encode renders the definition back to YAML for persistence.
func (d *Definition) Encode() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "encode definition", "marshal failed", err)
	}
	return data, nil
}

// StepCount returns the total node count of the path graph. The scheduler
// uses it as the fixed denominator for job progress.
func (d *Definition) StepCount() int {
	return countSteps(d.Steps)
}

func countSteps(steps []Step) int {
	total := 0
	for i := range steps {
		total += 1 + countSteps(steps[i].Steps)
	}
	return total
}

// Binding pairs a resolved provider with its stage category and validated
// initialization arguments. Bindings are resolved once per job start.
type Binding struct {
	ProcessorID string
	Provider    provider.Provider
	Category    provider.Category
	Args        provider.Args
}

// InitArgsJSON renders the bound arguments for the snapshot record.
func (b *Binding) InitArgsJSON() string {
	if len(b.Args) == 0 {
		return ""
	}
	data, err := json.Marshal(b.Args)
	if err != nil {
		return ""
	}
	return string(data)
}

// Resolve validates every processor reference in the path graph against the
// registry and returns the per-processor bindings. Any violation fails the
// whole resolution before execution starts.
func Resolve(def *Definition, registry *provider.Registry) (map[string]*Binding, error) {
	if def == nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "resolve", "nil definition", nil)
	}
	bindings := make(map[string]*Binding)
	if err := resolveSteps(def, registry, def.Steps, bindings); err != nil {
		return nil, err
	}
	return bindings, nil
}

func resolveSteps(def *Definition, registry *provider.Registry, steps []Step, bindings map[string]*Binding) error {
	for i := range steps {
		step := &steps[i]
		id := strings.TrimSpace(step.Processor)
		if id == "" {
			return services.Wrap(services.ErrValidation, "workflow", "resolve", "step missing processor id", nil)
		}
		if _, done := bindings[id]; !done {
			binding, err := resolveProcessor(def, registry, id)
			if err != nil {
				return err
			}
			bindings[id] = binding
		}
		if err := resolveSteps(def, registry, step.Steps, bindings); err != nil {
			return err
		}
	}
	return nil
}

func resolveProcessor(def *Definition, registry *provider.Registry, id string) (*Binding, error) {
	proc, ok := def.Processors[id]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "workflow", "resolve",
			fmt.Sprintf("unknown processor %q", id), nil)
	}
	category, ok := provider.ParseCategory(proc.Category)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "workflow", "resolve",
			fmt.Sprintf("processor %q: unknown category %q", id, proc.Category), nil)
	}
	if !category.ProcessCapable() {
		return nil, services.Wrap(services.ErrValidation, "workflow", "resolve",
			fmt.Sprintf("processor %q: category %s cannot run as a workflow step", id, category), nil)
	}
	reg, err := registry.Lookup(category, proc.Provider)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "resolve",
			fmt.Sprintf("processor %q: provider %q not installed for category %s", id, proc.Provider, category), err)
	}
	if !reg.Active {
		return nil, services.Wrap(services.ErrValidation, "workflow", "resolve",
			fmt.Sprintf("processor %q: provider %q is inactive", id, proc.Provider), nil)
	}
	args, err := provider.ValidateArgs(reg.Provider.DescribeArgs(), proc.Args)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "resolve",
			fmt.Sprintf("processor %q: invalid arguments", id), err)
	}
	return &Binding{
		ProcessorID: id,
		Provider:    reg.Provider,
		Category:    category,
		Args:        args,
	}, nil
}
