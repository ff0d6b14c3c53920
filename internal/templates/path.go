// Package templates compiles the path templates used by endpoint definitions.
// Templates are Go text/template sources with the sprig function map; the
// template data is the endpoint argument itself.
package templates

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// ErrInvalidPath reports a rendered path that is not a usable request path,
// typically because a placeholder rendered empty.
var ErrInvalidPath = errors.New("templates: invalid rendered path")

var funcs = buildFuncs()

func buildFuncs() template.FuncMap {
	base := sprig.TxtFuncMap()
	// Paths are rendered from request arguments only; nothing may reach the
	// process environment or filesystem.
	for _, name := range []string{"env", "expandenv", "readDir", "mustReadDir", "readFile", "mustReadFile", "glob"} {
		delete(base, name)
	}
	out := make(template.FuncMap, len(base)+1)
	for name, fn := range base {
		out[name] = fn
	}
	out["seg"] = func(v any) string {
		return url.PathEscape(strings.TrimSpace(fmt.Sprint(v)))
	}
	return out
}

// Path is a compiled path template. Paths are safe for concurrent use.
type Path struct {
	name   string
	source string
	tmpl   *template.Template
}

// CompilePath parses source. Sources without actions render verbatim.
func CompilePath(name, source string) (*Path, error) {
	trimmed := strings.TrimSpace(source)
	if !strings.HasPrefix(trimmed, "/") {
		return nil, fmt.Errorf("templates: path %q must start with /", source)
	}
	if name == "" {
		name = "path"
	}
	p := &Path{name: name, source: trimmed}
	if !strings.Contains(trimmed, "{{") {
		return p, nil
	}
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("templates: compile %q: %w", name, err)
	}
	p.tmpl = tmpl
	return p, nil
}

// MustCompilePath is CompilePath for package-level declarations.
func MustCompilePath(name, source string) *Path {
	p, err := CompilePath(name, source)
	if err != nil {
		panic(err)
	}
	return p
}

// Render executes the template against data and checks the result is a
// well-formed absolute path without empty segments.
func (p *Path) Render(data any) (string, error) {
	if p == nil {
		return "", errors.New("templates: nil path")
	}
	if p.tmpl == nil {
		return p.source, nil
	}
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute %q: %w", p.name, err)
	}
	rendered := buf.String()
	if !strings.HasPrefix(rendered, "/") || strings.Contains(rendered, "//") || (len(rendered) > 1 && strings.HasSuffix(rendered, "/")) {
		return "", fmt.Errorf("%w: %q rendered %q", ErrInvalidPath, p.name, rendered)
	}
	return rendered, nil
}

// Source returns the template text, used for logs and the endpoint catalog.
func (p *Path) Source() string {
	if p == nil {
		return ""
	}
	return p.source
}

// Static reports whether the path has no placeholders.
func (p *Path) Static() bool { return p != nil && p.tmpl == nil }
