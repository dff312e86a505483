package endpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidDescriptor is matched by every descriptor validation failure.
var ErrInvalidDescriptor = errors.New("invalid descriptor")

// InvalidDescriptorError lists the problems found with a single descriptor.
type InvalidDescriptorError struct {
	Label  string
	Issues []string
}

func (e *InvalidDescriptorError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("invalid descriptor %q", e.Label)
	}
	return fmt.Sprintf("invalid descriptor %q: %s", e.Label, strings.Join(e.Issues, "; "))
}

// Is makes errors.Is(err, ErrInvalidDescriptor) hold.
func (e *InvalidDescriptorError) Is(target error) bool {
	return target == ErrInvalidDescriptor
}

// Invalid returns an InvalidDescriptorError for d with the given issues.
func Invalid(d Descriptor, issues ...string) error {
	return &InvalidDescriptorError{Label: d.Label(), Issues: issues}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the descriptor invariants: a non-empty route, a supported
// method, a non-negative load and a well-formed expected outcome.
func (d Descriptor) Validate() error {
	err := validate.Struct(d)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return Invalid(d, err.Error())
	}
	issues := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		issues = append(issues, describe(fe))
	}
	return Invalid(d, issues...)
}

func describe(fe validator.FieldError) string {
	switch fe.StructNamespace() {
	case "Descriptor.Route":
		return "route is required"
	case "Descriptor.Method":
		if fe.Tag() == "required" {
			return "method is required"
		}
		return fmt.Sprintf("method %q is not supported (use one of %s)", fe.Value(), strings.Join(SupportedMethods, ", "))
	case "Descriptor.Load":
		return fmt.Sprintf("load must be >= 0, got %v", fe.Value())
	case "Descriptor.Expected.Status":
		return fmt.Sprintf("expected status must be between 100 and 599, got %v", fe.Value())
	case "Descriptor.Body.Content":
		return "body and body file cannot both be provided"
	}
	if fe.Field() == "Path" {
		return fmt.Sprintf("%s: json assertion path is required", strings.TrimPrefix(fe.StructNamespace(), "Descriptor."))
	}
	return fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.StructNamespace(), "Descriptor."), fe.Tag())
}
