// Package tenant resolves territory codes to isolated data partitions.
//
// A territory is a short code selecting one schema of user data. Schema
// identifiers are never built from raw input: a code must match the
// allow-list pattern and exist in the registry before it is used.
package tenant

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrUnknownTerritory indicates the code is malformed, unknown, or disabled.
var ErrUnknownTerritory = errors.New("tenant: unknown territory")

var codePattern = regexp.MustCompile(`^[a-z]{2,10}$`)

const schemaPrefix = "territory_"

// Territory describes one registered data partition.
type Territory struct {
	Code   string
	Name   string
	Active bool
}

// Registry answers whether a territory code names an enabled partition.
type Registry interface {
	Resolve(ctx context.Context, code string) (Territory, error)
}

// Normalize lower-cases and trims a candidate code. It does not validate.
func Normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// ValidCode reports whether the code matches the schema-safe allow-list.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// SchemaName derives the schema identifier for a validated code.
// Callers must only pass codes returned by a Registry.
func SchemaName(code string) string {
	return schemaPrefix + code
}

// Static is a fixed in-memory registry for tests and single-tenant runs.
type Static struct {
	territories map[string]Territory
}

// NewStatic builds a registry from the given territories.
func NewStatic(list ...Territory) *Static {
	m := make(map[string]Territory, len(list))
	for _, t := range list {
		m[Normalize(t.Code)] = t
	}
	return &Static{territories: m}
}

func (s *Static) Resolve(ctx context.Context, code string) (Territory, error) {
	code = Normalize(code)
	if !ValidCode(code) {
		return Territory{}, ErrUnknownTerritory
	}
	t, ok := s.territories[code]
	if !ok || !t.Active {
		return Territory{}, ErrUnknownTerritory
	}
	return t, nil
}
