package query

import (
	"fmt"
	"strings"
)

// Builder accumulates typed predicate clauses combined with AND and renders
// them once as a WHERE fragment with positional placeholders. It replaces
// ad-hoc string concatenation in repos that filter on optional parameters.
type Builder struct {
	clauses []string
	args    []any
}

func New() *Builder {
	return &Builder{}
}

// Eq adds an equality clause.
func (b *Builder) Eq(column string, value any) *Builder {
	b.args = append(b.args, value)
	b.clauses = append(b.clauses, fmt.Sprintf("%s = $%d", column, len(b.args)))
	return b
}

// Contains adds a case-insensitive substring match.
func (b *Builder) Contains(column, sub string) *Builder {
	b.args = append(b.args, "%"+sub+"%")
	b.clauses = append(b.clauses, fmt.Sprintf("%s ILIKE $%d", column, len(b.args)))
	return b
}

// Gte adds a lower-bound clause.
func (b *Builder) Gte(column string, value any) *Builder {
	b.args = append(b.args, value)
	b.clauses = append(b.clauses, fmt.Sprintf("%s >= $%d", column, len(b.args)))
	return b
}

// Lte adds an upper-bound clause.
func (b *Builder) Lte(column string, value any) *Builder {
	b.args = append(b.args, value)
	b.clauses = append(b.clauses, fmt.Sprintf("%s <= $%d", column, len(b.args)))
	return b
}

// AnyContains adds one clause matching the substring against any of the
// given columns (OR within, AND against the rest of the builder).
func (b *Builder) AnyContains(sub string, columns ...string) *Builder {
	b.args = append(b.args, "%"+sub+"%")
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf("%s ILIKE $%d", col, len(b.args))
	}
	b.clauses = append(b.clauses, "("+strings.Join(parts, " OR ")+")")
	return b
}

// Where renders the accumulated clauses as "WHERE ..." plus the bound args,
// or an empty string when nothing was added.
func (b *Builder) Where() (string, []any) {
	if len(b.clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(b.clauses, " AND "), b.args
}

// NextArg returns the placeholder index the caller should use for the next
// appended argument (LIMIT/OFFSET and friends).
func (b *Builder) NextArg() int {
	return len(b.args) + 1
}
