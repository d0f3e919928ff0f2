package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptyBuilder(t *testing.T) {
	where, args := New().Where()
	assert.Empty(t, where)
	assert.Nil(t, args)
	assert.Equal(t, 1, New().NextArg())
}

func TestClausesJoinWithAnd(t *testing.T) {
	b := New().
		Eq("status", 1).
		Contains("username", "ad").
		Gte("price", 1.5).
		Lte("price", 9.9)

	where, args := b.Where()
	assert.Equal(t, "WHERE status = $1 AND username ILIKE $2 AND price >= $3 AND price <= $4", where)
	assert.Equal(t, []any{1, "%ad%", 1.5, 9.9}, args)
	assert.Equal(t, 5, b.NextArg())
}

func TestAnyContains(t *testing.T) {
	b := New().
		Eq("knowledge_bases_id", int64(5)).
		AnyContains("go", "title", "introduction")

	where, args := b.Where()
	assert.Equal(t, "WHERE knowledge_bases_id = $1 AND (title ILIKE $2 OR introduction ILIKE $2)", where)
	assert.Equal(t, []any{int64(5), "%go%"}, args)
}
