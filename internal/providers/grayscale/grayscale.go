// Package grayscale is the preprocessing provider: it converts staged page
// images to 8-bit grayscale and optionally rescales them before
// recognition.
package grayscale

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/image/draw"

	"folio/internal/provider"
	"folio/internal/services"

	_ "image/jpeg"
)

// Provider normalizes staged pages for the recognition stages.
type Provider struct{}

// New returns the grayscale preprocessing provider.
func New() *Provider { return &Provider{} }

func (*Provider) ID() string                  { return "grayscale" }
func (*Provider) Category() provider.Category { return provider.CategoryPreprocess }

func (*Provider) DescribeArgs() []provider.ArgSpec {
	return []provider.ArgSpec{
		{Name: "scale", Type: provider.ArgFloat, Default: 1.0},
	}
}

// CheckPremise requires staged pages to operate on.
func (*Provider) CheckPremise(_ context.Context, target *provider.Target) error {
	pages, err := listPages(target)
	if err != nil {
		return services.Wrap(services.ErrPremise, "grayscale", "premise", "cannot list staged pages", err)
	}
	if len(pages) == 0 {
		return services.Wrap(services.ErrPremise, "grayscale", "premise", "no staged pages to preprocess", nil)
	}
	return nil
}

func (p *Provider) Execute(ctx context.Context, target *provider.Target, args provider.Args, progress provider.ProgressFunc) error {
	scale := args.FloatArg("scale", 1.0)
	if scale <= 0 {
		return services.Wrap(services.ErrValidation, "grayscale", "execute", "scale must be positive", nil)
	}

	pages, err := listPages(target)
	if err != nil {
		return services.Wrap(services.ErrExecution, "grayscale", "list pages", "cannot list staged pages", err)
	}

	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCanceled, "grayscale", "convert", "preprocessing canceled", err)
		}
		if err := convertPage(page, scale); err != nil {
			return services.Wrap(services.ErrExecution, "grayscale", "convert",
				fmt.Sprintf("page %s", filepath.Base(page)), err)
		}
		progress(float64(i+1)/float64(len(pages)), fmt.Sprintf("converted %s", filepath.Base(page)))
	}
	return nil
}

func convertPage(path string, scale float64) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	img, _, err := image.Decode(in)
	in.Close()
	if err != nil {
		return err
	}

	bounds := img.Bounds()
	width := int(float64(bounds.Dx()) * scale)
	height := int(float64(bounds.Dy()) * scale)
	if width < 1 || height < 1 {
		return fmt.Errorf("scaled size %dx%d below one pixel", width, height)
	}

	gray := image.NewGray(image.Rect(0, 0, width, height))
	if width == bounds.Dx() && height == bounds.Dy() {
		draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, bounds, draw.Src, nil)
	}

	// Converted pages always land as png regardless of source format.
	dest := pngName(path)
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if err := png.Encode(out, gray); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if dest != path {
		return os.Remove(path)
	}
	return nil
}

func pngName(path string) string {
	ext := filepath.Ext(path)
	if ext == ".png" {
		return path
	}
	return path[:len(path)-len(ext)] + ".png"
}

func listPages(target *provider.Target) ([]string, error) {
	if target == nil || target.WorkspaceDir == "" {
		return nil, fmt.Errorf("no workspace configured")
	}
	var pages []string
	for _, pattern := range []string{"*.png", "*.jpg", "*.jpeg"} {
		matches, err := filepath.Glob(filepath.Join(target.PagesPath(), pattern))
		if err != nil {
			return nil, err
		}
		pages = append(pages, matches...)
	}
	sort.Strings(pages)
	return pages, nil
}
