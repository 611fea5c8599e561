package provider

import (
	"context"
	"path/filepath"
	"strings"

	"folio/internal/track"
)

// Category classifies pipeline stages. Each provider belongs to exactly one
// category, and workflow steps may only bind providers of the category their
// processor entry declares.
type Category string

const (
	CategoryImport      Category = "import"
	CategoryPreprocess  Category = "preprocessing"
	CategoryLayout      Category = "layout_recognition"
	CategoryCharRec     Category = "character_recognition"
	CategoryPostCorrect Category = "post_correction"
	CategoryExport      Category = "export"
	CategoryAction      Category = "action"
	CategoryTraining    Category = "training"
)

var allCategories = []Category{
	CategoryImport,
	CategoryPreprocess,
	CategoryLayout,
	CategoryCharRec,
	CategoryPostCorrect,
	CategoryExport,
	CategoryAction,
	CategoryTraining,
}

// Categories returns the ordered list of known stage categories.
func Categories() []Category {
	cp := make([]Category, len(allCategories))
	copy(cp, allCategories)
	return cp
}

// ParseCategory converts a string into a known Category.
func ParseCategory(value string) (Category, bool) {
	normalized := Category(strings.ToLower(strings.TrimSpace(value)))
	for _, category := range allCategories {
		if category == normalized {
			return category, true
		}
	}
	return "", false
}

// AllowsDerivation reports whether snapshots created by this category may
// have children. Export snapshots are terminal.
func (c Category) AllowsDerivation() bool {
	return c != CategoryExport
}

// ProcessCapable reports whether providers of this category may appear as
// workflow steps. Training providers run outside pipeline execution.
func (c Category) ProcessCapable() bool {
	return c != CategoryTraining
}

// Target bundles what a provider operates on: the sandbox workspace on disk
// plus addressing metadata. The scheduler fills it per step; providers treat
// the paths as opaque.
type Target struct {
	Project      string
	SandboxID    int64
	WorkspaceDir string
	Track        track.Track
	Pages        []string
	Metadata     map[string]string
}

// Workspace subdirectory layout shared by the built-in providers. Import
// stages page images under PagesDir; recognition writes under TextDir and
// LayoutDir; export collects into ExportsDir.
const (
	PagesDir   = "pages"
	LayoutDir  = "layout"
	TextDir    = "text"
	ExportsDir = "exports"
)

// PagesPath returns the staged page-image directory of the workspace.
func (t *Target) PagesPath() string { return filepath.Join(t.WorkspaceDir, PagesDir) }

// LayoutPath returns the layout-analysis output directory.
func (t *Target) LayoutPath() string { return filepath.Join(t.WorkspaceDir, LayoutDir) }

// TextPath returns the recognized-text output directory.
func (t *Target) TextPath() string { return filepath.Join(t.WorkspaceDir, TextDir) }

// ExportsPath returns the export artifact directory.
func (t *Target) ExportsPath() string { return filepath.Join(t.WorkspaceDir, ExportsDir) }

// ProgressFunc receives provider progress in [0,1] plus a short message.
// Implementations must be safe for concurrent use.
type ProgressFunc func(fraction float64, message string)

// Provider is the single execution contract shared by all stage categories.
// Execute must poll ctx.Done() between internal sub-steps: cancellation is
// cooperative and a provider that never polls only stops at its next natural
// checkpoint.
type Provider interface {
	ID() string
	Category() Category
	DescribeArgs() []ArgSpec
	// CheckPremise reports whether the provider can run against the target
	// right now. A non-nil return wrapped in services.ErrPremise is a
	// blocking condition, not an execution failure.
	CheckPremise(ctx context.Context, target *Target) error
	Execute(ctx context.Context, target *Target, args Args, progress ProgressFunc) error
}
