package qparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaliLuke/go-relq/sqlast"
)

type testSchema struct{}

func (testSchema) Table() string { return "products" }

func (testSchema) Column(name string) (sqlast.Column, bool) {
	cols := map[string]sqlast.Column{
		"id":           {Name: "id", Kind: sqlast.KindInt},
		"name":         {Name: "name", Kind: sqlast.KindString},
		"price":        {Name: "price", Kind: sqlast.KindFloat},
		"stock":        {Name: "stock", Kind: sqlast.KindInt},
		"discontinued": {Name: "discontinued", Kind: sqlast.KindBool},
		"vendor_id":    {Name: "vendor_id", Kind: sqlast.KindInt, Nullable: true},
	}
	c, ok := cols[name]
	return c, ok
}

func compileQ(t *testing.T, input string) (string, []any) {
	t.Helper()
	q, err := ParseQ(input)
	require.NoError(t, err)
	sql, args, err := sqlast.CompileQ(q, testSchema{})
	require.NoError(t, err)
	return sql, args
}

func TestParseQComparisons(t *testing.T) {
	tests := []struct {
		input string
		sql   string
		args  []any
	}{
		{`price > 10`, `"price" > ?`, []any{int64(10)}},
		{`price >= 9.99`, `"price" >= ?`, []any{9.99}},
		{`stock < -2`, `"stock" < ?`, []any{int64(-2)}},
		{`name = "rope"`, `"name" = ?`, []any{"rope"}},
		{`name == "rope"`, `"name" = ?`, []any{"rope"}},
		{`name != "rope"`, `NOT ("name" = ?)`, []any{"rope"}},
		{`discontinued = true`, `"discontinued" = ?`, []any{true}},
		{`discontinued`, `"discontinued" = ?`, []any{true}},
		{`not discontinued`, `NOT ("discontinued" = ?)`, []any{true}},
		{`vendor_id is null`, `"vendor_id" IS NULL`, nil},
		{`vendor_id is not null`, `"vendor_id" IS NOT NULL`, nil},
		{`id in [1, 2, 3]`, `"id" IN (?, ?, ?)`, []any{int64(1), int64(2), int64(3)}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			sql, args := compileQ(t, tt.input)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestParseQBooleanStructure(t *testing.T) {
	sql, args := compileQ(t, `price > 10 and (stock <= 3 or not discontinued)`)
	assert.Equal(t, `"price" > ? AND ("stock" <= ? OR (NOT ("discontinued" = ?)))`, sql)
	assert.Equal(t, []any{int64(10), int64(3), true}, args)
}

func TestParseQLikePatterns(t *testing.T) {
	sql, args := compileQ(t, `name like "%rope%"`)
	assert.Equal(t, `"name" LIKE ? ESCAPE '\'`, sql)
	assert.Equal(t, []any{"%rope%"}, args)

	sql, args = compileQ(t, `name like "rope%"`)
	assert.Equal(t, `"name" LIKE ? ESCAPE '\'`, sql)
	assert.Equal(t, []any{"rope%"}, args)

	sql, args = compileQ(t, `name ilike "%rope"`)
	assert.Equal(t, `LOWER("name") LIKE LOWER(?) ESCAPE '\'`, sql)
	assert.Equal(t, []any{"%rope"}, args)

	sql, _ = compileQ(t, `name ilike "rope"`)
	assert.Equal(t, `LOWER("name") = LOWER(?)`, sql)
}

func TestParseQRejectsBadInput(t *testing.T) {
	for _, input := range []string{
		`price >`,
		`> 10`,
		`price > 10 and`,
		`name = null`,
		`id in []`,
		`id in [1, null]`,
		`name like "a%b"`,
		`name like "r_pe"`,
		`name ilike "%a_b%"`,
	} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseQ(input)
			assert.Error(t, err)
		})
	}
}

func TestParseF(t *testing.T) {
	f, err := ParseF(`price * 2 + 1`)
	require.NoError(t, err)
	assert.Equal(t, sqlast.Field("price").Times(int64(2)).Plus(int64(1)), f)

	f, err = ParseF(`price - cost`)
	require.NoError(t, err)
	assert.Equal(t, sqlast.Field("price").Minus(sqlast.Field("cost")), f)

	f, err = ParseF(`price * (stock + 1)`)
	require.NoError(t, err)
	assert.Equal(t, sqlast.Field("price").Times(sqlast.Field("stock").Plus(int64(1))), f)
}

func TestParseFRejectsBadInput(t *testing.T) {
	for _, input := range []string{
		`2 * price`,
		`price +`,
		`price * "two"`,
	} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseF(input)
			assert.Error(t, err)
		})
	}
}
