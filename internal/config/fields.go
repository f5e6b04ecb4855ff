package config

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/gribget/internal/catalog"
)

// FieldError records one field selection that failed to resolve.
type FieldError struct {
	Field  string
	Reason error
}

// FieldErrors collects all field selection failures so the user sees
// every bad selection at once instead of one per invocation.
type FieldErrors struct {
	Invalid []FieldError
}

func (e *FieldErrors) HasErrors() bool {
	return len(e.Invalid) > 0
}

func (e *FieldErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("field selection failed:\n")
	for _, fe := range e.Invalid {
		sb.WriteString(fmt.Sprintf("  - %s: %v\n", fe.Field, fe.Reason))
	}
	sb.WriteString("\nFields are PARAM, PARAM@LEVEL or PARAM@LEVEL@QUALIFIER, e.g. TMP@\"500 mb\" or GUST@surface@anl.\n")
	sb.WriteString(fmt.Sprintf("Known params: %s\n", strings.Join(catalog.Params(), ", ")))
	return sb.String()
}

// ParseField turns one PARAM[@LEVEL[@QUALIFIER]] selection into a
// catalog query. Free-text selections with no @ separator fall back to
// description matching.
func ParseField(field string) catalog.Query {
	parts := strings.SplitN(field, "@", 3)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch len(parts) {
	case 3:
		return catalog.Query{Param: parts[0], Level: parts[1], Qualifier: parts[2]}
	case 2:
		return catalog.Query{Param: parts[0], Level: parts[1]}
	default:
		if strings.ContainsAny(field, " -") {
			return catalog.Query{Description: strings.TrimSpace(field)}
		}
		return catalog.Query{Param: parts[0]}
	}
}

// ResolveFields parses and resolves every selection against the
// parameter catalog, aggregating failures.
func ResolveFields(fields []string) ([]catalog.Query, error) {
	errs := &FieldErrors{}
	queries := make([]catalog.Query, 0, len(fields))
	for _, field := range fields {
		q := ParseField(field)
		if _, err := catalog.Resolve(q); err != nil {
			errs.Invalid = append(errs.Invalid, FieldError{Field: field, Reason: err})
			continue
		}
		queries = append(queries, q)
	}
	if errs.HasErrors() {
		return nil, errs
	}
	return queries, nil
}
