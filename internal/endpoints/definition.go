// Package endpoints declares every backend operation the dashboard uses:
// verb, path template, argument mapping and cache tags. Declarations are
// built at package init and never change afterwards.
package endpoints

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/l0p7/admindata/internal/httpclient"
	"github.com/l0p7/admindata/internal/templates"
)

// Kind separates reads from writes.
type Kind uint8

const (
	KindQuery Kind = iota + 1
	KindMutation
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindMutation:
		return "mutation"
	default:
		return "unknown"
	}
}

// Definition describes one endpoint.
type Definition struct {
	Name   string
	Kind   Kind
	Method string
	Path   *templates.Path
	// Provides is set on queries, Invalidates on mutations.
	Provides    []Tag
	Invalidates []Tag
	// NoArg marks queries that take no argument and may be pinned.
	NoArg bool
}

// Tags returns the tags the endpoint provides or invalidates, per its kind.
func (d Definition) Tags() []Tag {
	if d.Kind == KindMutation {
		return slices.Clone(d.Invalidates)
	}
	return slices.Clone(d.Provides)
}

// binding is what an argument mapper produces: the template data for the
// path plus optional query and body.
type binding struct {
	PathData any
	Query    url.Values
	Body     httpclient.Body
}

type binder[A any] func(arg A) (binding, error)

func (d Definition) request(b binding) (httpclient.Request, error) {
	path, err := d.Path.Render(b.PathData)
	if err != nil {
		return httpclient.Request{}, err
	}
	return httpclient.Request{
		Endpoint: d.Name,
		Method:   d.Method,
		Path:     path,
		Query:    b.Query,
		Body:     b.Body,
	}, nil
}

// Query is a typed read endpoint: A is the argument, R the envelope data.
type Query[A, R any] struct {
	def  Definition
	bind binder[A]
}

// Definition returns the declaration.
func (q Query[A, R]) Definition() Definition { return q.def }

// Name returns the endpoint name.
func (q Query[A, R]) Name() string { return q.def.Name }

// Request maps arg to a backend request.
func (q Query[A, R]) Request(arg A) (httpclient.Request, error) {
	b, err := q.bind(arg)
	if err != nil {
		return httpclient.Request{}, err
	}
	return q.def.request(b)
}

// Mutation is a typed write endpoint.
type Mutation[A, R any] struct {
	def  Definition
	bind binder[A]
}

// Definition returns the declaration.
func (m Mutation[A, R]) Definition() Definition { return m.def }

// Name returns the endpoint name.
func (m Mutation[A, R]) Name() string { return m.def.Name }

// Request maps arg to a backend request.
func (m Mutation[A, R]) Request(arg A) (httpclient.Request, error) {
	b, err := m.bind(arg)
	if err != nil {
		return httpclient.Request{}, err
	}
	return m.def.request(b)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Definition{}
)

func register(def Definition) Definition {
	if def.Name == "" || def.Path == nil {
		panic("endpoints: definition requires name and path")
	}
	def.Method = strings.ToUpper(def.Method)
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[def.Name]; exists {
		panic(fmt.Sprintf("endpoints: duplicate endpoint %q", def.Name))
	}
	registry[def.Name] = def
	return def
}

func query[A, R any](name, method, path string, provides []Tag, bind binder[A]) Query[A, R] {
	def := register(Definition{
		Name:     name,
		Kind:     KindQuery,
		Method:   method,
		Path:     templates.MustCompilePath(name, path),
		Provides: provides,
	})
	return Query[A, R]{def: def, bind: bind}
}

// noArgQuery declares a query taking NoArg. Such queries are pinnable.
func noArgQuery[R any](name, path string, provides []Tag) Query[NoArg, R] {
	def := register(Definition{
		Name:     name,
		Kind:     KindQuery,
		Method:   "GET",
		Path:     templates.MustCompilePath(name, path),
		Provides: provides,
		NoArg:    true,
	})
	return Query[NoArg, R]{def: def, bind: func(NoArg) (binding, error) { return binding{}, nil }}
}

func mutation[A, R any](name, method, path string, invalidates []Tag, bind binder[A]) Mutation[A, R] {
	def := register(Definition{
		Name:        name,
		Kind:        KindMutation,
		Method:      method,
		Path:        templates.MustCompilePath(name, path),
		Invalidates: invalidates,
	})
	return Mutation[A, R]{def: def, bind: bind}
}

// Catalog lists every definition sorted by name.
func Catalog() []Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Definition, 0, len(registry))
	for _, def := range registry {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a definition by name.
func Lookup(name string) (Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	def, ok := registry[name]
	return def, ok
}

// ProvidersOf lists the queries that provide tag.
func ProvidersOf(tag Tag) []Definition {
	var out []Definition
	for _, def := range Catalog() {
		if def.Kind == KindQuery && slices.Contains(def.Provides, tag) {
			out = append(out, def)
		}
	}
	return out
}

// NoArg is the argument of endpoints that take none. Its JSON form is null,
// so all callers share one cache key.
type NoArg struct{}

// MarshalJSON implements json.Marshaler.
func (NoArg) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Param is one name/value query filter.
type Param struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ListParams is an ordered list of query filters.
type ListParams []Param

// Set collapses repeated names, last value winning.
func (p ListParams) Set() url.Values {
	if len(p) == 0 {
		return nil
	}
	values := url.Values{}
	for _, param := range p {
		values.Set(param.Name, param.Value)
	}
	return values
}

// Append keeps every param, so a name may repeat.
func (p ListParams) Append() url.Values {
	if len(p) == 0 {
		return nil
	}
	values := url.Values{}
	for _, param := range p {
		values.Add(param.Name, param.Value)
	}
	return values
}

// ID is the path argument of single-resource endpoints.
type ID string

type idPath struct {
	ID string
}

func requireID(id string) (idPath, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return idPath{}, httpclient.Validation("id", "required")
	}
	return idPath{ID: id}, nil
}
