package sqlast

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vendorSchema() Schema {
	return tableSchema{
		table: "vendors",
		cols: map[string]Column{
			"id":   {Name: "id", Kind: KindInt},
			"name": {Name: "name", Kind: KindString},
			"city": {Name: "city", Kind: KindString},
		},
	}
}

// renderSQL formats a statement and its arguments for golden comparison.
func renderSQL(sql string, args []any) []byte {
	out := sql + "\n"
	for _, a := range args {
		out += fmt.Sprintf("-- arg %T(%v)\n", a, a)
	}
	return []byte(out)
}

func TestCompileSelectGolden(t *testing.T) {
	g := goldie.New(t)
	cp := NewCompiler(testSchema())

	sql, args, err := cp.Select(SelectStmt{
		Columns: []string{"id", "name", "price"},
		Where: And(
			Where("price", Gte, 9.99),
			Or(Where("stock", In, []int{1, 2, 3}), Eq("discontinued", false)),
		),
		OrderBy: []OrderClause{{Field: "price", Desc: true}, {Field: "id"}},
		Limit:   10,
		Offset:  20,
	})
	require.NoError(t, err)
	g.Assert(t, "select_filtered", renderSQL(sql, args))
}

func TestCompileSelectJoinGolden(t *testing.T) {
	g := goldie.New(t)
	cp := NewCompiler(testSchema())

	sql, args, err := cp.Select(SelectStmt{
		Columns: []string{"id", "name", "vendor_id"},
		Joins: []JoinClause{{
			Schema:   vendorSchema(),
			Alias:    "vendor",
			LeftCol:  "vendor_id",
			RightCol: "id",
			Columns:  []string{"id", "name"},
		}},
		Where: And(Eq("vendor__city", "Lisbon"), Where("price", Lt, 100.0)),
		Limit: -1,
	})
	require.NoError(t, err)
	g.Assert(t, "select_join", renderSQL(sql, args))
}

func TestCompileInsertGolden(t *testing.T) {
	g := goldie.New(t)
	cp := NewCompiler(testSchema())

	sql, args, err := cp.Insert(InsertStmt{
		Columns: []string{"name", "price", "stock"},
		Rows: [][]any{
			{"anvil", 99.5, 3},
			{"rope", 12.0, 40},
		},
		Returning: []string{"id", "name", "price", "stock"},
	})
	require.NoError(t, err)
	g.Assert(t, "insert_multirow", renderSQL(sql, args))
}

func TestCompileUpdateAndDeleteGolden(t *testing.T) {
	g := goldie.New(t)
	cp := NewCompiler(testSchema())

	sql, args, err := cp.Update(UpdateStmt{
		Set: []Assignment{
			{Column: "stock", Value: Field("stock").Minus(1)},
			{Column: "discontinued", Value: true},
		},
		Where: Where("stock", Gt, 0),
	})
	require.NoError(t, err)
	g.Assert(t, "update_arith", renderSQL(sql, args))

	sql, args, err = cp.Delete(DeleteStmt{Where: Eq("discontinued", true)})
	require.NoError(t, err)
	g.Assert(t, "delete_filtered", renderSQL(sql, args))
}

func TestCountWrapsSelect(t *testing.T) {
	cp := NewCompiler(testSchema())
	sql, args, err := cp.Count(SelectStmt{
		Columns: []string{"id"},
		Where:   Where("price", Gt, 5.0),
		Limit:   -1,
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM (SELECT "id" FROM "products" WHERE "price" > ?) AS "subquery"`, sql)
	assert.Equal(t, []any{5.0}, args)
}

func TestAggregateWrapsSelect(t *testing.T) {
	cp := NewCompiler(testSchema())
	sql, args, err := cp.Aggregate(SelectStmt{
		Columns: []string{"price", "stock"},
		Where:   Where("price", Gt, 10.0),
		Limit:   -1,
	}, []Aggregate{Sum("price"), Min("stock"), Count("name")})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT SUM("price") AS "price__sum", MIN("stock") AS "stock__min", COUNT("name") AS "name__count"`+
			` FROM (SELECT "price", "stock" FROM "products" WHERE "price" > ?) AS "subquery"`, sql)
	assert.Equal(t, []any{10.0}, args)
}

func TestAggregateRejectsBadInput(t *testing.T) {
	cp := NewCompiler(testSchema())
	stmt := SelectStmt{Columns: []string{"id"}, Limit: -1}

	_, _, err := cp.Aggregate(stmt, nil)
	var invalid *InvalidExpressionError
	require.ErrorAs(t, err, &invalid)

	_, _, err = cp.Aggregate(stmt, []Aggregate{{Func: AggSum}})
	require.ErrorAs(t, err, &invalid)

	_, _, err = cp.Aggregate(stmt, []Aggregate{Sum("colour")})
	var unknown *UnknownFieldError
	require.ErrorAs(t, err, &unknown)

	_, _, err = cp.Aggregate(stmt, []Aggregate{Avg("name")})
	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "name", mismatch.Field)
}

func TestExistsWrapsSelect(t *testing.T) {
	cp := NewCompiler(testSchema())
	sql, _, err := cp.Exists(SelectStmt{Columns: []string{"id"}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, `SELECT EXISTS(SELECT "id" FROM "products" LIMIT 1)`, sql)
}

func TestUnknownFieldError(t *testing.T) {
	cp := NewCompiler(testSchema())
	_, _, err := cp.Select(SelectStmt{
		Columns: []string{"id"},
		Where:   Eq("colour", "red"),
	})
	var unknown *UnknownFieldError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "products", unknown.Table)
	assert.Equal(t, "colour", unknown.Field)
}

func TestTypeMismatchError(t *testing.T) {
	cp := NewCompiler(testSchema())
	_, _, err := cp.Select(SelectStmt{
		Columns: []string{"id"},
		Where:   Eq("stock", "plenty"),
	})
	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "stock", mismatch.Field)
	assert.Equal(t, KindInt, mismatch.Kind)
}

func TestNilValueRequiresIsNullLookup(t *testing.T) {
	cp := NewCompiler(testSchema())
	_, _, err := cp.Select(SelectStmt{
		Columns: []string{"id"},
		Where:   Eq("vendor_id", nil),
	})
	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)

	sql, args, err := cp.Select(SelectStmt{
		Columns: []string{"id"},
		Where:   Where("vendor_id", IsNull, true),
		Limit:   -1,
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id" FROM "products" WHERE "vendor_id" IS NULL`, sql)
	assert.Empty(t, args)
}

func TestEmptyInCompilesToContradiction(t *testing.T) {
	sql, args := mustCompileQ(t, Where("id", In, []int{}))
	assert.Equal(t, "0 = 1", sql)
	assert.Empty(t, args)
}

func TestLikePatternsAreEscaped(t *testing.T) {
	sql, args := mustCompileQ(t, Where("name", Contains, "50%_off"))
	assert.Equal(t, `"name" LIKE ? ESCAPE '\'`, sql)
	assert.Equal(t, []any{`%50\%\_off%`}, args)

	sql, args = mustCompileQ(t, Where("name", IStartsWith, "An"))
	assert.Equal(t, `LOWER("name") LIKE LOWER(?) ESCAPE '\'`, sql)
	assert.Equal(t, []any{"An%"}, args)
}

func TestArithmeticRejectsNonNumericColumn(t *testing.T) {
	cp := NewCompiler(testSchema())
	_, _, err := cp.Update(UpdateStmt{
		Set:   []Assignment{{Column: "name", Value: Field("name").Plus(1)}},
		Where: Eq("id", 1),
	})
	var invalid *InvalidExpressionError
	require.ErrorAs(t, err, &invalid)
}

func TestFieldComparisonAgainstField(t *testing.T) {
	sql, args := mustCompileQ(t, Where("price", Gt, Field("stock").Times(2)))
	assert.Equal(t, `"price" > ("stock" * ?)`, sql)
	assert.Equal(t, []any{2}, args)
}

func TestLimitWithoutOffsetOmitsOffset(t *testing.T) {
	cp := NewCompiler(testSchema())
	sql, _, err := cp.Select(SelectStmt{Columns: []string{"id"}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id" FROM "products" LIMIT 2`, sql)

	sql, _, err = cp.Select(SelectStmt{Columns: []string{"id"}, Limit: -1, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id" FROM "products" LIMIT -1 OFFSET 4`, sql)
}
