// Package projection implements layout recognition by horizontal projection
// profiling: rows whose ink density stays above a threshold are merged into
// text-line regions, written as one JSON document per page.
package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"folio/internal/provider"
	"folio/internal/services"

	_ "image/jpeg"
	_ "image/png"
)

// Region is one detected text line in page pixel coordinates.
type Region struct {
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
	Right  int `json:"right"`
}

// PageLayout is the per-page analysis result.
type PageLayout struct {
	Page    string   `json:"page"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Regions []Region `json:"regions"`
}

// Provider segments pages into line regions.
type Provider struct{}

// New returns the projection-profile layout provider.
func New() *Provider { return &Provider{} }

func (*Provider) ID() string                  { return "projection" }
func (*Provider) Category() provider.Category { return provider.CategoryLayout }

func (*Provider) DescribeArgs() []provider.ArgSpec {
	return []provider.ArgSpec{
		{Name: "threshold", Type: provider.ArgFloat, Default: 0.05},
		{Name: "min_height", Type: provider.ArgInt, Default: 4},
	}
}

func (*Provider) CheckPremise(_ context.Context, target *provider.Target) error {
	pages, err := listPages(target)
	if err != nil {
		return services.Wrap(services.ErrPremise, "projection", "premise", "cannot list staged pages", err)
	}
	if len(pages) == 0 {
		return services.Wrap(services.ErrPremise, "projection", "premise", "no staged pages to segment", nil)
	}
	return nil
}

func (p *Provider) Execute(ctx context.Context, target *provider.Target, args provider.Args, progress provider.ProgressFunc) error {
	threshold := args.FloatArg("threshold", 0.05)
	minHeight := args.IntArg("min_height", 4)

	pages, err := listPages(target)
	if err != nil {
		return services.Wrap(services.ErrExecution, "projection", "list pages", "cannot list staged pages", err)
	}
	if err := os.MkdirAll(target.LayoutPath(), 0o755); err != nil {
		return services.Wrap(services.ErrExecution, "projection", "mkdir", "create layout directory", err)
	}

	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCanceled, "projection", "segment", "layout analysis canceled", err)
		}
		layout, err := analyzePage(page, threshold, minHeight)
		if err != nil {
			return services.Wrap(services.ErrExecution, "projection", "segment",
				fmt.Sprintf("page %s", filepath.Base(page)), err)
		}
		if err := writeLayout(target, layout); err != nil {
			return services.Wrap(services.ErrExecution, "projection", "write layout",
				fmt.Sprintf("page %s", filepath.Base(page)), err)
		}
		progress(float64(i+1)/float64(len(pages)),
			fmt.Sprintf("segmented %s: %d lines", filepath.Base(page), len(layout.Regions)))
	}
	return nil
}

func analyzePage(path string, threshold float64, minHeight int) (*PageLayout, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(in)
	in.Close()
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	layout := &PageLayout{Page: filepath.Base(path), Width: width, Height: height}

	// Ink ratio per row; a pixel counts as ink below mid luminance.
	profile := make([]float64, height)
	for y := 0; y < height; y++ {
		ink := 0
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			luma := (299*r + 587*g + 114*b) / 1000
			if luma < 0x8000 {
				ink++
			}
		}
		profile[y] = float64(ink) / float64(width)
	}

	inBand := false
	start := 0
	for y := 0; y <= height; y++ {
		above := y < height && profile[y] >= threshold
		switch {
		case above && !inBand:
			inBand = true
			start = y
		case !above && inBand:
			inBand = false
			if y-start >= minHeight {
				layout.Regions = append(layout.Regions, trimRegion(img, start, y))
			}
		}
	}
	return layout, nil
}

// trimRegion shrinks a row band to its horizontal ink extent.
func trimRegion(img image.Image, top, bottom int) Region {
	bounds := img.Bounds()
	left, right := bounds.Dx(), 0
	for y := top; y < bottom; y++ {
		for x := 0; x < bounds.Dx(); x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			if (299*r+587*g+114*b)/1000 < 0x8000 {
				if x < left {
					left = x
				}
				if x > right {
					right = x
				}
			}
		}
	}
	if left > right {
		left, right = 0, bounds.Dx()-1
	}
	return Region{Top: top, Bottom: bottom, Left: left, Right: right + 1}
}

func writeLayout(target *provider.Target, layout *PageLayout) error {
	data, err := json.MarshalIndent(layout, "", "  ")
	if err != nil {
		return err
	}
	name := layout.Page[:len(layout.Page)-len(filepath.Ext(layout.Page))] + ".json"
	return os.WriteFile(filepath.Join(target.LayoutPath(), name), data, 0o644)
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
