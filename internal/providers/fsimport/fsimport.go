// Package fsimport stages page images from a source directory into the
// sandbox workspace. It is usually the first step of a pipeline and seeds
// the pages directory every later stage reads from.
package fsimport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"folio/internal/fileutil"
	"folio/internal/provider"
	"folio/internal/services"
)

// Provider copies matching files from a configured source directory.
type Provider struct{}

// New returns the filesystem import provider.
func New() *Provider { return &Provider{} }

func (*Provider) ID() string                  { return "fs-import" }
func (*Provider) Category() provider.Category { return provider.CategoryImport }

func (*Provider) DescribeArgs() []provider.ArgSpec {
	return []provider.ArgSpec{
		{Name: "source", Type: provider.ArgString, Required: true},
		{Name: "pattern", Type: provider.ArgString, Default: "*.png"},
	}
}

// CheckPremise requires a readable source directory. Matching files are
// checked at execution time so a premise pass stays cheap.
func (*Provider) CheckPremise(_ context.Context, target *provider.Target) error {
	if target == nil || target.WorkspaceDir == "" {
		return services.Wrap(services.ErrPremise, "fs-import", "premise", "no workspace configured", nil)
	}
	return nil
}

func (p *Provider) Execute(ctx context.Context, target *provider.Target, args provider.Args, progress provider.ProgressFunc) error {
	source := args.StringArg("source", "")
	pattern := args.StringArg("pattern", "*.png")

	info, err := os.Stat(source)
	if err != nil || !info.IsDir() {
		return services.Wrap(services.ErrExecution, "fs-import", "stat source",
			fmt.Sprintf("source directory %q unavailable", source), err)
	}

	matches, err := filepath.Glob(filepath.Join(source, pattern))
	if err != nil {
		return services.Wrap(services.ErrExecution, "fs-import", "glob",
			fmt.Sprintf("bad pattern %q", pattern), err)
	}
	if len(matches) == 0 {
		return services.Wrap(services.ErrExecution, "fs-import", "glob",
			fmt.Sprintf("no files matching %q in %q", pattern, source), nil)
	}
	sort.Strings(matches)

	pagesDir := target.PagesPath()
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return services.Wrap(services.ErrExecution, "fs-import", "mkdir", "create pages directory", err)
	}

	for i, match := range matches {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCanceled, "fs-import", "copy", "import canceled", err)
		}
		dest := filepath.Join(pagesDir, filepath.Base(match))
		if err := fileutil.CopyFileVerified(match, dest); err != nil {
			return services.Wrap(services.ErrExecution, "fs-import", "copy",
				fmt.Sprintf("stage %s", filepath.Base(match)), err)
		}
		progress(float64(i+1)/float64(len(matches)), fmt.Sprintf("staged %s", filepath.Base(match)))
	}
	return nil
}
