// Package format renders reasoning results for presentation. JSON is the
// canonical form; text, markdown and html are derived from the same view.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// Options controls what a rendering includes.
type Options struct {
	ShowSteps         bool
	IncludeValidation bool
}

// Content types per format.
const (
	ContentTypeJSON     = "application/json"
	ContentTypeText     = "text/plain; charset=utf-8"
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
	ContentTypeHTML     = "text/html; charset=utf-8"
)

// ParseFormat accepts a format name case-insensitively; empty means json.
func ParseFormat(s string) (types.OutputFormat, error) {
	switch f := types.OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return types.FormatJSON, nil
	case types.FormatJSON, types.FormatText, types.FormatMarkdown, types.FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want json, text, markdown or html)", s)
}

// Render serializes res in the requested format and returns the body and
// its content type.
func Render(res *types.Result, f types.OutputFormat, opts Options) ([]byte, string, error) {
	if res == nil {
		return nil, "", fmt.Errorf("render: nil result")
	}
	v := view(res, opts)
	switch f {
	case "", types.FormatJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("render json: %w", err)
		}
		return b, ContentTypeJSON, nil
	case types.FormatText:
		return []byte(Text(v)), ContentTypeText, nil
	case types.FormatMarkdown:
		return []byte(Markdown(v)), ContentTypeMarkdown, nil
	case types.FormatHTML:
		return HTML(v), ContentTypeHTML, nil
	}
	return nil, "", fmt.Errorf("unknown output format %q", f)
}

// view applies the options to a copy of the result.
func view(res *types.Result, opts Options) *types.Result {
	v := *res
	if !opts.ShowSteps {
		v.Steps = nil
	}
	if len(res.Metadata) > 0 {
		v.Metadata = make(map[string]any, len(res.Metadata))
		for k, val := range res.Metadata {
			if k == "validation" && !opts.IncludeValidation {
				continue
			}
			v.Metadata[k] = val
		}
	}
	if !opts.IncludeValidation && len(v.Steps) > 0 {
		v.Steps = append([]types.Step(nil), v.Steps...)
		for i := range v.Steps {
			v.Steps[i].Validation = nil
		}
	}
	return &v
}

// Value renders an answer or step output as a short string.
func Value(x any) string {
	switch t := x.(type) {
	case nil:
		return "none"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', 10, 64)
	case []float64:
		parts := make([]string, len(t))
		for i, f := range t {
			parts[i] = strconv.FormatFloat(f, 'g', 10, 64)
		}
		return strings.Join(parts, ", ")
	case fmt.Stringer:
		return t.String()
	}
	b, err := json.Marshal(x)
	if err != nil {
		return fmt.Sprint(x)
	}
	return string(b)
}

func validationOf(res *types.Result) (types.ValidationResult, bool) {
	vr, ok := res.Metadata["validation"].(types.ValidationResult)
	return vr, ok
}

// ─── Text ───

// Text strips all structure down to plain sentences.
func Text(res *types.Result) string {
	var b strings.Builder
	if res.Success {
		fmt.Fprintf(&b, "Answer: %s.\n", sentence(Value(res.FinalAnswer)))
	} else {
		fmt.Fprintf(&b, "No answer was reached (%s): %s.\n", res.ErrorKind, sentence(res.Error))
	}
	fmt.Fprintf(&b, "Strategy: %s. Confidence: %.2f.\n", res.StrategyUsed, res.OverallConfidence)
	for _, s := range res.Steps {
		fmt.Fprintf(&b, "Step %d, %s: %s. Result: %s (confidence %.2f).\n",
			s.ID, s.Description, sentence(s.Reasoning), sentence(Value(s.Output)), s.Confidence)
	}
	for _, is := range res.Issues {
		fmt.Fprintf(&b, "Note: %s.\n", sentence(is.Message))
	}
	if vr, ok := validationOf(res); ok {
		if vr.IsValid {
			b.WriteString("Validation passed.\n")
		} else {
			b.WriteString("Validation failed.\n")
		}
		for _, is := range vr.Issues {
			fmt.Fprintf(&b, "Validation note: %s.\n", sentence(is))
		}
	}
	return b.String()
}

func sentence(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ".")
}

// ─── Markdown ───

// Markdown renders headers and numbered steps.
func Markdown(res *types.Result) string {
	var b strings.Builder
	b.WriteString("# Reasoning result\n\n")
	fmt.Fprintf(&b, "- **Strategy:** %s\n", res.StrategyUsed)
	fmt.Fprintf(&b, "- **Success:** %t\n", res.Success)
	fmt.Fprintf(&b, "- **Confidence:** %.2f\n\n", res.OverallConfidence)

	if res.Success {
		fmt.Fprintf(&b, "## Answer\n\n%s\n\n", Value(res.FinalAnswer))
	} else {
		fmt.Fprintf(&b, "## Error\n\n`%s`: %s\n\n", res.ErrorKind, res.Error)
	}
	if len(res.Steps) > 0 {
		b.WriteString("## Steps\n\n")
		for i, s := range res.Steps {
			fmt.Fprintf(&b, "%d. **%s** (confidence %.2f): %s\n   Result: `%s`\n", i+1, s.Description, s.Confidence, s.Reasoning, Value(s.Output))
		}
		b.WriteString("\n")
	}
	if len(res.Issues) > 0 {
		b.WriteString("## Issues\n\n")
		for _, is := range res.Issues {
			fmt.Fprintf(&b, "- `%s`: %s\n", is.Kind, is.Message)
		}
		b.WriteString("\n")
	}
	if vr, ok := validationOf(res); ok {
		fmt.Fprintf(&b, "## Validation\n\n- **Valid:** %t\n", vr.IsValid)
		for _, is := range vr.Issues {
			fmt.Fprintf(&b, "- %s\n", is)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ─── HTML ───

// HTML renders the markdown form to an HTML fragment.
func HTML(res *types.Result) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	r := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.SkipHTML})
	return bytes.TrimSpace(markdown.ToHTML([]byte(Markdown(res)), p, r))
}
