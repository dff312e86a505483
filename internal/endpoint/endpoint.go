// Package endpoint describes the HTTP targets a load campaign exercises.
//
// A [Descriptor] is an immutable value: the route to call, the HTTP method,
// how many requests to issue and the outcome each response is checked
// against. Descriptors are built with [New] (or decoded from configuration
// and checked with [Descriptor.Validate]) and are never mutated afterwards.
package endpoint

import (
	"net/http"
	"strings"
)

// SupportedMethods lists the HTTP methods a descriptor may use.
var SupportedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodHead,
	http.MethodOptions,
}

// Descriptor describes one endpoint under test.
type Descriptor struct {
	Name     string            `validate:"-"`
	Route    string            `validate:"required"`
	Method   string            `validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	Load     int               `validate:"gte=0"`
	Headers  map[string]string `validate:"-"`
	Body     Body
	Expected Expected
}

// Body is the optional request payload. At most one of Content and File is set.
type Body struct {
	Content     string `validate:"excluded_with=File"`
	File        string
	ContentType string
}

// IsZero reports whether no payload is configured.
func (b Body) IsZero() bool {
	return b.Content == "" && b.File == ""
}

// Expected is the predicate a response must satisfy to pass its check.
type Expected struct {
	Status       int               `validate:"gte=100,lte=599"`
	Headers      map[string]string `validate:"-"`
	BodyContains string
	JSON         []JSONAssertion `validate:"dive"`
}

// JSONAssertion requires the value at a gjson path of the response body to
// render as Equals.
type JSONAssertion struct {
	Path   string `validate:"required"`
	Equals string
}

// Option customises a descriptor built with New.
type Option func(*Descriptor)

// WithName sets the label used in reports.
func WithName(name string) Option {
	return func(d *Descriptor) {
		d.Name = strings.TrimSpace(name)
	}
}

// WithHeaders sets request headers sent with every request.
func WithHeaders(headers map[string]string) Option {
	return func(d *Descriptor) {
		if len(headers) == 0 {
			return
		}
		d.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			d.Headers[http.CanonicalHeaderKey(strings.TrimSpace(k))] = v
		}
	}
}

// WithBody sets the request payload.
func WithBody(body Body) Option {
	return func(d *Descriptor) {
		d.Body = body
	}
}

// New builds and validates a descriptor. The method is upper-cased and the
// route trimmed before validation.
func New(route, method string, load int, expected Expected, opts ...Option) (Descriptor, error) {
	d := Descriptor{
		Route:    strings.TrimSpace(route),
		Method:   strings.ToUpper(strings.TrimSpace(method)),
		Load:     load,
		Expected: expected,
	}
	if d.Method == "" {
		d.Method = http.MethodGet
	}
	for _, opt := range opts {
		opt(&d)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Label returns the name shown in reports, falling back to "METHOD route".
func (d Descriptor) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Method + " " + d.Route
}
