// Package template renders notification texts with text/template.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// DeadlineLayout is how deadlines appear in rendered texts.
const DeadlineLayout = "2006-01-02 15:04 MST"

var funcs = template.FuncMap{
	"deadline": FormatDeadline,
	"upper":    strings.ToUpper,
	"quote": func(s string) string {
		return fmt.Sprintf("%q", s)
	},
}

// FormatDeadline formats t in UTC, or "not set" for the zero time.
func FormatDeadline(t time.Time) string {
	if t.IsZero() {
		return "not set"
	}

	return t.UTC().Format(DeadlineLayout)
}

// Parse compiles a named template with the helper functions available.
func Parse(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", name, err)
	}

	return tmpl, nil
}

// MustParse is Parse for package level templates.
func MustParse(name, text string) *template.Template {
	return template.Must(Parse(name, text))
}

// Render executes tmpl with data.
func Render(tmpl *template.Template, data any) (string, error) {
	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", tmpl.Name(), err)
	}

	return buf.String(), nil
}
