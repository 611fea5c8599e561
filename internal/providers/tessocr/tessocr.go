// Package tessocr runs character recognition over staged page images using
// the tesseract engine through the gosseract client. One client is created
// per page so a crashed recognition never poisons the next one.
package tessocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"folio/internal/provider"
	"folio/internal/services"
)

// Provider recognizes text per page, writing one .txt file per image.
type Provider struct {
	languages   []string
	tessdataDir string
}

// New returns the tesseract provider. languages are the default recognition
// languages when a step does not override them; tessdataDir may be empty to
// use the system default.
func New(languages []string, tessdataDir string) *Provider {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Provider{languages: languages, tessdataDir: tessdataDir}
}

func (*Provider) ID() string                  { return "tesseract" }
func (*Provider) Category() provider.Category { return provider.CategoryCharRec }

func (p *Provider) DescribeArgs() []provider.ArgSpec {
	return []provider.ArgSpec{
		{Name: "language", Type: provider.ArgString, Default: strings.Join(p.languages, "+")},
		{Name: "dpi", Type: provider.ArgInt, Default: 0},
	}
}

func (*Provider) CheckPremise(_ context.Context, target *provider.Target) error {
	pages, err := listPages(target)
	if err != nil {
		return services.Wrap(services.ErrPremise, "tesseract", "premise", "cannot list staged pages", err)
	}
	if len(pages) == 0 {
		return services.Wrap(services.ErrPremise, "tesseract", "premise", "no staged pages to recognize", nil)
	}
	return nil
}

func (p *Provider) Execute(ctx context.Context, target *provider.Target, args provider.Args, progress provider.ProgressFunc) error {
	languages := strings.Split(args.StringArg("language", strings.Join(p.languages, "+")), "+")
	dpi := args.IntArg("dpi", 0)

	pages, err := listPages(target)
	if err != nil {
		return services.Wrap(services.ErrExecution, "tesseract", "list pages", "cannot list staged pages", err)
	}
	if err := os.MkdirAll(target.TextPath(), 0o755); err != nil {
		return services.Wrap(services.ErrExecution, "tesseract", "mkdir", "create text directory", err)
	}

	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCanceled, "tesseract", "recognize", "recognition canceled", err)
		}
		text, err := p.recognizePage(page, languages, dpi)
		if err != nil {
			return services.Wrap(services.ErrExecution, "tesseract", "recognize",
				fmt.Sprintf("page %s", filepath.Base(page)), err)
		}
		name := strings.TrimSuffix(filepath.Base(page), filepath.Ext(page)) + ".txt"
		if err := os.WriteFile(filepath.Join(target.TextPath(), name), []byte(text), 0o644); err != nil {
			return services.Wrap(services.ErrExecution, "tesseract", "write text",
				fmt.Sprintf("page %s", filepath.Base(page)), err)
		}
		progress(float64(i+1)/float64(len(pages)), fmt.Sprintf("recognized %s", filepath.Base(page)))
	}
	return nil
}

func (p *Provider) recognizePage(path string, languages []string, dpi int) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if p.tessdataDir != "" {
		if err := client.SetTessdataPrefix(p.tessdataDir); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := client.SetImage(path); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if len(languages) > 0 {
		if err := client.SetLanguage(languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	if dpi > 0 {
		if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(dpi)); err != nil {
			return "", fmt.Errorf("set dpi: %w", err)
		}
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text) + "\n", nil
}

func listPages(target *provider.Target) ([]string, error) {
	if target == nil || target.WorkspaceDir == "" {
		return nil, fmt.Errorf("no workspace configured")
	}
	var pages []string
	for _, pattern := range []string{"*.png", "*.jpg", "*.jpeg", "*.tif", "*.tiff"} {
		matches, err := filepath.Glob(filepath.Join(target.PagesPath(), pattern))
		if err != nil {
			return nil, err
		}
		pages = append(pages, matches...)
	}
	sort.Strings(pages)
	return pages, nil
}
