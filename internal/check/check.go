// Package check compares an observed HTTP response with the outcome an
// endpoint expects. Evaluate is pure: it performs no I/O and always returns
// exactly one verdict for one observation.
package check

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/torosent/loadcheck/internal/endpoint"
)

// Observed is the outcome of a single request. Status is 0 when Err is set.
type Observed struct {
	Status  int
	Elapsed time.Duration
	Err     error
	Header  http.Header
	Body    []byte
}

// Result is the verdict for one observation. Reason is empty on success.
type Result struct {
	Passed bool
	Reason string
}

// NeedsBody reports whether evaluating against expected reads the response body.
func NeedsBody(expected endpoint.Expected) bool {
	return expected.BodyContains != "" || len(expected.JSON) > 0
}

// Evaluate checks observed against expected. Transport errors always fail;
// otherwise status, headers, body substring and JSON assertions are checked
// in that order and the first mismatch is reported.
func Evaluate(observed Observed, expected endpoint.Expected) Result {
	if observed.Err != nil {
		return fail("transport error: %v", observed.Err)
	}
	if observed.Status != expected.Status {
		return fail("status mismatch: want %d, got %d", expected.Status, observed.Status)
	}

	if len(expected.Headers) > 0 {
		names := make([]string, 0, len(expected.Headers))
		for name := range expected.Headers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			want := expected.Headers[name]
			got := observed.Header.Get(name)
			if got != want {
				return fail("header mismatch: %s want %q, got %q", http.CanonicalHeaderKey(name), want, got)
			}
		}
	}

	if expected.BodyContains != "" && !strings.Contains(string(observed.Body), expected.BodyContains) {
		return fail("body mismatch: missing %q", expected.BodyContains)
	}

	for _, assertion := range expected.JSON {
		value := gjson.GetBytes(observed.Body, jsonPath(assertion.Path))
		if !value.Exists() {
			return fail("json mismatch: %s want %q, got <missing>", assertion.Path, assertion.Equals)
		}
		if value.String() != assertion.Equals {
			return fail("json mismatch: %s want %q, got %q", assertion.Path, assertion.Equals, value.String())
		}
	}

	return Result{Passed: true}
}

func fail(format string, args ...any) Result {
	return Result{Passed: false, Reason: fmt.Sprintf(format, args...)}
}

// jsonPath accepts "$.field", "$" and bare gjson paths.
func jsonPath(path string) string {
	if len(path) > 0 && path[0] == '$' {
		if len(path) > 1 && path[1] == '.' {
			return path[2:]
		}
		if len(path) == 1 {
			return "@this"
		}
	}
	return path
}
