// Package normalize is the post-correction provider: it canonicalizes
// recognized text (unicode normalization, whitespace collapse) and applies
// configurable substitution rules for recurring OCR confusions.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"folio/internal/provider"
	"folio/internal/services"
)

// Provider rewrites text files in place.
type Provider struct{}

// New returns the text normalization provider.
func New() *Provider { return &Provider{} }

func (*Provider) ID() string                  { return "normalize" }
func (*Provider) Category() provider.Category { return provider.CategoryPostCorrect }

func (*Provider) DescribeArgs() []provider.ArgSpec {
	return []provider.ArgSpec{
		{Name: "form", Type: provider.ArgString, Default: "nfc"},
		{Name: "collapse_whitespace", Type: provider.ArgBool, Default: true},
		// JSON object of literal replacements, e.g. {"ſ": "s", "0ber": "Ober"}.
		{Name: "substitutions", Type: provider.ArgString, Default: ""},
	}
}

func (*Provider) CheckPremise(_ context.Context, target *provider.Target) error {
	files, err := listTexts(target)
	if err != nil {
		return services.Wrap(services.ErrPremise, "normalize", "premise", "cannot list recognized text", err)
	}
	if len(files) == 0 {
		return services.Wrap(services.ErrPremise, "normalize", "premise", "no recognized text to correct", nil)
	}
	return nil
}

func (p *Provider) Execute(ctx context.Context, target *provider.Target, args provider.Args, progress provider.ProgressFunc) error {
	form, err := parseForm(args.StringArg("form", "nfc"))
	if err != nil {
		return err
	}
	collapse := args.BoolArg("collapse_whitespace", true)
	replacer, err := parseSubstitutions(args.StringArg("substitutions", ""))
	if err != nil {
		return err
	}

	files, err := listTexts(target)
	if err != nil {
		return services.Wrap(services.ErrExecution, "normalize", "list texts", "cannot list recognized text", err)
	}

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrCanceled, "normalize", "correct", "post-correction canceled", err)
		}
		if err := correctFile(file, form, collapse, replacer); err != nil {
			return services.Wrap(services.ErrExecution, "normalize", "correct",
				fmt.Sprintf("file %s", filepath.Base(file)), err)
		}
		progress(float64(i+1)/float64(len(files)), fmt.Sprintf("corrected %s", filepath.Base(file)))
	}
	return nil
}

func correctFile(path string, form norm.Form, collapse bool, replacer *strings.Replacer) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	text := form.String(string(raw))
	if replacer != nil {
		text = replacer.Replace(text)
	}
	if collapse {
		text = collapseWhitespace(text)
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

// collapseWhitespace squeezes runs of spaces and tabs but keeps line breaks,
// since line structure carries layout information downstream.
func collapseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}

func parseForm(value string) (norm.Form, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "nfc":
		return norm.NFC, nil
	case "nfd":
		return norm.NFD, nil
	case "nfkc":
		return norm.NFKC, nil
	case "nfkd":
		return norm.NFKD, nil
	}
	return 0, services.Wrap(services.ErrValidation, "normalize", "execute",
		fmt.Sprintf("unknown normalization form %q", value), nil)
}

func parseSubstitutions(value string) (*strings.Replacer, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var rules map[string]string
	if err := json.Unmarshal([]byte(value), &rules); err != nil {
		return nil, services.Wrap(services.ErrValidation, "normalize", "execute", "substitutions must be a JSON object", err)
	}
	pairs := make([]string, 0, len(rules)*2)
	keys := make([]string, 0, len(rules))
	for from := range rules {
		keys = append(keys, from)
	}
	sort.Strings(keys)
	for _, from := range keys {
		pairs = append(pairs, from, rules[from])
	}
	return strings.NewReplacer(pairs...), nil
}

func listTexts(target *provider.Target) ([]string, error) {
	if target == nil || target.WorkspaceDir == "" {
		return nil, fmt.Errorf("no workspace configured")
	}
	files, err := filepath.Glob(filepath.Join(target.TextPath(), "*.txt"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
