package util

import (
	"bytes"
	"strings"
	"text/template"
)

// RenderTemplate executes a text/template against data. Prompts are plain
// text, so no HTML escaping is applied.
func RenderTemplate(text string, data any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	tmpl, err := template.New("prompt").Funcs(template.FuncMap{
		"default": func(defaultVal any, val any) any {
			if val == nil || val == "" {
				return defaultVal
			}
			return val
		},
		"join": strings.Join,
	}).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// MustTemplate is RenderTemplate for templates known to be valid.
func MustTemplate(text string, data any) string {
	out, err := RenderTemplate(text, data)
	if err != nil {
		panic(err)
	}
	return out
}
