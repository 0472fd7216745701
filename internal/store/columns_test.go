package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageSize(t *testing.T) {
	assert.Equal(t, defaultPageSize, AdFilter{}.PageSize())
	assert.Equal(t, 5, AdFilter{Limit: 5}.PageSize())
	assert.Equal(t, maxPageSize, AdFilter{Limit: 5000}.PageSize())
}

func TestAdWhere(t *testing.T) {
	minScore := 40
	active := true
	where, args := adWhere(AdFilter{Search: " glow ", Country: "us", MinScore: &minScore, IsActive: &active}, dollar, "ILIKE")
	assert.Equal(t,
		" WHERE (search_query ILIKE $1 OR advertiser_name ILIKE $2 OR caption ILIKE $3) AND country = $4 AND total_score >= $5 AND is_active = $6",
		where)
	assert.Equal(t, []any{"%glow%", "%glow%", "%glow%", "US", 40, true}, args)

	where, args = adWhere(AdFilter{}, question, "LIKE")
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestAdQuerySQL_Pagination(t *testing.T) {
	sql, args := adQuerySQL(AdFilter{Country: "US", Limit: 10, Offset: 30}, dollar, "ILIKE")
	assert.Contains(t, sql, "ORDER BY total_score DESC, id ASC LIMIT $2 OFFSET $3")
	assert.Equal(t, []any{"US", 10, 30}, args)
}

func TestInsertAndUpdateSQL(t *testing.T) {
	ins := insertCreativeSQL(question)
	assert.Contains(t, ins, "INSERT INTO creatives (creative_hash, platform")
	assert.Equal(t, len(creativeColumns), strings.Count(ins, "?"))

	upd := updateCreativeSQL(dollar)
	assert.Contains(t, upd, "creative_hash = $1")
	assert.Contains(t, upd, "WHERE id = $31")
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "x", nullIfEmpty("x"))
}
