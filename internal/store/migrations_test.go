package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	script := `
-- leading comment
CREATE TABLE a (id TEXT PRIMARY KEY);

CREATE TABLE b (
	id TEXT PRIMARY KEY, -- trailing comment
	n INTEGER
);
`
	stmts := splitStatements(script)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE TABLE b")
	assert.NotContains(t, stmts[1], "trailing comment")
}

func TestSplitStatements_SemicolonInsideComment(t *testing.T) {
	script := `
-- revision starts at 1; bumps on every write
CREATE TABLE docs (id TEXT PRIMARY KEY);
CREATE INDEX idx_docs ON docs (id);
`
	stmts := splitStatements(script)
	require.Equal(t, []string{
		"CREATE TABLE docs (id TEXT PRIMARY KEY)",
		"CREATE INDEX idx_docs ON docs (id)",
	}, stmts)
}

func TestSplitStatements_EmbeddedSchemaParses(t *testing.T) {
	stmts := splitStatements(initialSchemaSQL)
	require.NotEmpty(t, stmts)
	for _, s := range stmts {
		assert.NotContains(t, s, "--")
	}
}
