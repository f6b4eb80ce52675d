package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The Postgres store's read/write path against a live database is
// exercised the way the counter service exercises pgxpool code: with
// testcontainers-go/modules/postgres in CI. That harness isn't wired
// into this module (see DESIGN.md), so this file covers the pure SQL
// fragment builder instead.

func TestBuildWhere_NoConditions(t *testing.T) {
	where, args := buildWhere(Conditions{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestBuildWhere_CombinesConditions(t *testing.T) {
	locked := false
	where, args := buildWhere(Conditions{Name: "chat", Locked: &locked, Metadata: map[string]string{"mode": "coop"}})
	assert.Contains(t, where, "name = $1")
	assert.Contains(t, where, "locked = $2")
	assert.Contains(t, where, "metadata @> $3::jsonb")
	assert.Equal(t, []any{"chat", false, `{"mode":"coop"}`}, args)
}
