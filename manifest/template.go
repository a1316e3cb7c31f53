package manifest

import (
	"os"
	"strings"
	"text/template"
)

// templateEngine renders source entries with the manifest's defines.
type templateEngine struct {
	defines map[string]string
	funcs   template.FuncMap
}

// newTemplateEngine creates a new engine with the provided global definitions.
func newTemplateEngine(defines map[string]string) *templateEngine {
	d := make(map[string]string)
	for k, v := range defines {
		d[k] = v
	}
	return &templateEngine{
		defines: d,
		funcs: template.FuncMap{
			"env":   os.Getenv,
			"lower": strings.ToLower,
			"upper": strings.ToUpper,
		},
	}
}

// render executes the provided text as a template using the engine's definitions.
// If the text does not contain "{{", it is returned as-is. Undefined keys are errors.
func (e *templateEngine) render(name, text string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	t, err := template.New(name).Funcs(e.funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := t.Execute(&buf, e.defines); err != nil {
		return "", err
	}
	return buf.String(), nil
}
