// Package catalog holds the static parameter table for the supported
// gridded products and resolves partial, human-supplied queries into
// canonical entries.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Entry is one row of the parameter table. The table is loaded once at
// process start and never mutated, so entries are safe to share across
// goroutines without locking.
type Entry struct {
	Ordinal     int
	Level       string
	Param       string
	Qualifier   string
	Description string
}

func (e Entry) String() string {
	return fmt.Sprintf("%s @ %s (%s)", e.Param, e.Level, e.Qualifier)
}

// Query is a partial specification of an entry. Any subset of fields may
// be set; empty fields are wildcards. Description is matched as a
// case-insensitive substring.
type Query struct {
	Level       string
	Param       string
	Qualifier   string
	Description string
}

func (q Query) String() string {
	var parts []string
	if q.Param != "" {
		parts = append(parts, q.Param)
	}
	if q.Level != "" {
		parts = append(parts, q.Level)
	}
	if q.Qualifier != "" {
		parts = append(parts, q.Qualifier)
	}
	if q.Description != "" {
		parts = append(parts, fmt.Sprintf("%q", q.Description))
	}
	if len(parts) == 0 {
		return "<empty query>"
	}
	return strings.Join(parts, " ")
}

// UnknownParameterError is returned when a query matches no catalog entry.
type UnknownParameterError struct {
	Query Query
}

func (e *UnknownParameterError) Error() string {
	return fmt.Sprintf("unknown parameter: %s", e.Query)
}

// AmbiguousParameterError is returned when a query matches more than one
// catalog entry. The caller must disambiguate; the catalog never guesses.
type AmbiguousParameterError struct {
	Query   Query
	Matches []Entry
}

func (e *AmbiguousParameterError) Error() string {
	names := make([]string, len(e.Matches))
	for i, m := range e.Matches {
		names[i] = m.String()
	}
	return fmt.Sprintf("ambiguous parameter %s: matches %s", e.Query, strings.Join(names, ", "))
}

// Resolve maps a partial query to exactly one catalog entry. Exact
// matching on the supplied fields is attempted first; if that does not
// single out one entry, a case-insensitive substring match on the
// description narrows the set.
func Resolve(q Query) (Entry, error) {
	matches := matchExact(q)
	if len(matches) != 1 && q.Description != "" {
		matches = matchDescription(matches, q.Description)
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return Entry{}, &UnknownParameterError{Query: q}
	default:
		return Entry{}, &AmbiguousParameterError{Query: q, Matches: matches}
	}
}

// ResolveMany resolves a batch of queries, preserving caller order. It
// fails atomically: if any query is unknown or ambiguous no entries are
// returned.
func ResolveMany(queries []Query) ([]Entry, error) {
	entries := make([]Entry, 0, len(queries))
	for _, q := range queries {
		e, err := Resolve(q)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func matchExact(q Query) []Entry {
	var matches []Entry
	for _, e := range table {
		if q.Level != "" && !strings.EqualFold(e.Level, q.Level) {
			continue
		}
		if q.Param != "" && !strings.EqualFold(e.Param, q.Param) {
			continue
		}
		if q.Qualifier != "" && !strings.EqualFold(e.Qualifier, q.Qualifier) {
			continue
		}
		matches = append(matches, e)
	}
	return matches
}

func matchDescription(candidates []Entry, fragment string) []Entry {
	if candidates == nil {
		candidates = table
	}
	needle := strings.ToLower(fragment)
	var matches []Entry
	for _, e := range candidates {
		if strings.Contains(strings.ToLower(e.Description), needle) {
			matches = append(matches, e)
		}
	}
	return matches
}

// Entries returns a copy of the full table in ordinal order.
func Entries() []Entry {
	out := make([]Entry, len(table))
	copy(out, table)
	return out
}

// Levels returns the distinct level names present in the table, sorted.
func Levels() []string {
	return distinct(func(e Entry) string { return e.Level })
}

// Params returns the distinct parameter codes present in the table, sorted.
func Params() []string {
	return distinct(func(e Entry) string { return e.Param })
}

func distinct(field func(Entry) string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range table {
		v := field(e)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
