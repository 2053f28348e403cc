package confstack

import (
	"errors"
	"fmt"
)

var (
	// ErrSyntax is returned when a document is not well-formed YAML.
	ErrSyntax = errors.New("malformed YAML document")
	// ErrDuplicateKey is returned when one mapping node defines the same key twice.
	ErrDuplicateKey = errors.New("duplicate mapping key")
	// ErrNotMapping is returned when a document root is a scalar or a sequence.
	ErrNotMapping = errors.New("document root must be a mapping")
	// ErrUnexpectedKeys is returned when the configuration contains top-level keys outside the allowed set.
	ErrUnexpectedKeys = errors.New("unexpected top-level keys")
	// ErrInvalidShape is returned when a required nested section is missing or is not a mapping.
	ErrInvalidShape = errors.New("invalid configuration shape")
)

// Mark is a position inside a YAML document. Line and Column are 1-based.
type Mark struct {
	Line   int
	Column int
}

func (m Mark) String() string {
	return fmt.Sprintf("line %d, column %d", m.Line, m.Column)
}

// ParseError reports a document that could not be turned into a mapping.
// Kind is one of ErrSyntax, ErrDuplicateKey or ErrNotMapping.
type ParseError struct {
	Path string
	Kind error
	Err  error

	// Populated for ErrDuplicateKey only.
	Key       string
	Mapping   Mark
	First     Mark
	Duplicate Mark
}

func (e *ParseError) Error() string {
	source := e.Path
	if source == "" {
		source = "<input>"
	}

	switch e.Kind {
	case ErrDuplicateKey:
		return fmt.Sprintf("parse %s: while constructing a mapping at %s: found duplicate key %q at %s (first defined at %s)",
			source, e.Mapping, e.Key, e.Duplicate, e.First)
	case ErrSyntax:
		return fmt.Sprintf("parse %s: %v", source, e.Err)
	default:
		if e.Err != nil {
			return fmt.Sprintf("parse %s: %v: %v", source, e.Kind, e.Err)
		}
		return fmt.Sprintf("parse %s: %v", source, e.Kind)
	}
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *ParseError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ValidationError reports a structural problem in a merged configuration.
// Kind is one of ErrUnexpectedKeys or ErrInvalidShape.
type ValidationError struct {
	Kind error
	// Keys lists the offending top-level keys, sorted, for ErrUnexpectedKeys.
	Keys []string
	// Path names the required nested mapping, e.g. "db.connections", for ErrInvalidShape.
	Path string
}

func (e *ValidationError) Error() string {
	if e.Kind == ErrUnexpectedKeys {
		return fmt.Sprintf("unexpected top-level keys: %q", e.Keys)
	}
	return fmt.Sprintf("%s must be a mapping", e.Path)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}
