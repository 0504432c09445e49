package orm

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/CaliLuke/go-relq/qparse"
	"github.com/CaliLuke/go-relq/sqlast"
)

// Executor runs statements. driver.Conn implements it; anything with the
// same surface (a transaction-scoped connection, a test double) works.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// QuerySet is a lazily evaluated description of a query over one model.
// Chainers return modified copies and never touch the receiver, so query
// sets can be shared, stored and extended independently. No SQL runs until
// a terminal operation is called; calling a terminal again re-executes.
type QuerySet[T any] struct {
	desc *Descriptor
	ex   Executor
	err  error // first chainer error, surfaced at the terminal

	filters  []sqlast.Q
	excludes []sqlast.Q
	order    []sqlast.OrderClause
	limit    int
	offset   int
	only     []string
	deferred []string
	selRel   []string
	prefetch []string
	distinct bool
}

func newQuerySet[T any](d *Descriptor, ex Executor) QuerySet[T] {
	return QuerySet[T]{desc: d, ex: ex, limit: -1}
}

func cloneAppend[E any](s []E, vs ...E) []E {
	out := make([]E, len(s), len(s)+len(vs))
	copy(out, s)
	return append(out, vs...)
}

func (qs QuerySet[T]) fail(err error) QuerySet[T] {
	if qs.err == nil {
		qs.err = err
	}
	return qs
}

// resolveConds lowers filter arguments to condition trees. A sqlast.Q
// passes through; a string is parsed as a condition expression; a
// field, lookup, value triple becomes a single leaf.
func (qs QuerySet[T]) resolveConds(conds []any) ([]sqlast.Q, error) {
	if len(conds) == 3 {
		if field, ok := conds[0].(string); ok {
			if lookup, ok := conds[1].(sqlast.Lookup); ok {
				return []sqlast.Q{sqlast.Where(field, lookup, conds[2])}, nil
			}
		}
	}
	out := make([]sqlast.Q, 0, len(conds))
	for _, c := range conds {
		switch v := c.(type) {
		case sqlast.Q:
			out = append(out, v)
		case string:
			q, err := qparse.ParseQ(v)
			if err != nil {
				return nil, &InvalidArgumentError{Detail: "invalid condition string", cause: err}
			}
			out = append(out, q)
		default:
			return nil, &InvalidArgumentError{
				Detail: "filter arguments must be sqlast.Q or condition strings",
			}
		}
	}
	return out, nil
}

// Filter returns a copy restricted to rows matching every condition.
func (qs QuerySet[T]) Filter(conds ...any) QuerySet[T] {
	resolved, err := qs.resolveConds(conds)
	if err != nil {
		return qs.fail(err)
	}
	qs.filters = cloneAppend(qs.filters, resolved...)
	return qs
}

// Exclude returns a copy restricted to rows matching none of the
// conditions.
func (qs QuerySet[T]) Exclude(conds ...any) QuerySet[T] {
	resolved, err := qs.resolveConds(conds)
	if err != nil {
		return qs.fail(err)
	}
	qs.excludes = cloneAppend(qs.excludes, resolved...)
	return qs
}

// OrderBy returns a copy sorted by the named fields. A "-" prefix sorts
// descending; later fields break ties.
func (qs QuerySet[T]) OrderBy(fields ...string) QuerySet[T] {
	clauses := make([]sqlast.OrderClause, 0, len(fields))
	for _, f := range fields {
		if name, ok := strings.CutPrefix(f, "-"); ok {
			clauses = append(clauses, sqlast.OrderClause{Field: name, Desc: true})
			continue
		}
		clauses = append(clauses, sqlast.OrderClause{Field: f})
	}
	qs.order = cloneAppend(qs.order, clauses...)
	return qs
}

// Limit returns a copy capped to n rows.
func (qs QuerySet[T]) Limit(n int) QuerySet[T] {
	if n < 0 {
		return qs.fail(&InvalidArgumentError{Detail: "limit must not be negative"})
	}
	qs.limit = n
	return qs
}

// Offset returns a copy skipping the first n rows.
func (qs QuerySet[T]) Offset(n int) QuerySet[T] {
	if n < 0 {
		return qs.fail(&InvalidArgumentError{Detail: "offset must not be negative"})
	}
	qs.offset = n
	return qs
}

// Only returns a copy selecting just the named fields. The primary key and
// any foreign keys needed by requested relations are always retained. Only
// takes precedence over Defer.
func (qs QuerySet[T]) Only(fields ...string) QuerySet[T] {
	qs.only = cloneAppend(qs.only, fields...)
	return qs
}

// Defer returns a copy selecting everything except the named fields.
func (qs QuerySet[T]) Defer(fields ...string) QuerySet[T] {
	qs.deferred = cloneAppend(qs.deferred, fields...)
	return qs
}

// SelectRelated returns a copy that loads the named to-one relations in
// the same query via LEFT JOINs. Naming a to-many relation is an error.
func (qs QuerySet[T]) SelectRelated(names ...string) QuerySet[T] {
	qs.selRel = cloneAppend(qs.selRel, names...)
	return qs
}

// PrefetchRelated returns a copy that loads the named relations with one
// extra query per relation after the main fetch.
func (qs QuerySet[T]) PrefetchRelated(names ...string) QuerySet[T] {
	qs.prefetch = cloneAppend(qs.prefetch, names...)
	return qs
}

// Distinct returns a copy that eliminates duplicate rows. Idempotent.
func (qs QuerySet[T]) Distinct() QuerySet[T] {
	qs.distinct = true
	return qs
}

// --- compilation ---

func (qs QuerySet[T]) whereTree() sqlast.Q {
	parts := make([]sqlast.Q, 0, len(qs.filters)+len(qs.excludes))
	parts = append(parts, qs.filters...)
	for _, e := range qs.excludes {
		parts = append(parts, sqlast.Not(e))
	}
	return sqlast.And(parts...)
}

func (qs QuerySet[T]) joinClauses() ([]sqlast.JoinClause, error) {
	if len(qs.selRel) == 0 {
		return nil, nil
	}
	joins := make([]sqlast.JoinClause, 0, len(qs.selRel))
	seen := make(map[string]bool, len(qs.selRel))
	for _, name := range qs.selRel {
		if seen[name] {
			continue
		}
		seen[name] = true
		rel, ok := qs.desc.Rel(name)
		if !ok {
			return nil, &InvalidArgumentError{Detail: "unknown relation " + name}
		}
		if rel.Kind != RelToOne {
			return nil, &InvalidArgumentError{
				Detail: "select related on to-many relation " + name + ", use prefetch instead",
			}
		}
		joins = append(joins, sqlast.JoinClause{
			Schema:   rel.target,
			Alias:    rel.Name,
			LeftCol:  rel.FKColumn,
			RightCol: rel.target.pk.Name,
			Columns:  rel.target.columnNames(),
		})
	}
	return joins, nil
}

// projection computes the base column list from Only/Defer, keeping the
// primary key and the foreign keys any requested relation depends on.
func (qs QuerySet[T]) projection() ([]string, error) {
	for _, name := range append(append([]string(nil), qs.only...), qs.deferred...) {
		if _, ok := qs.desc.byName[name]; !ok {
			return nil, &sqlast.UnknownFieldError{Table: qs.desc.table, Field: name}
		}
	}
	required := map[string]bool{qs.desc.pk.Name: true}
	for _, name := range append(append([]string(nil), qs.selRel...), qs.prefetch...) {
		if rel, ok := qs.desc.Rel(name); ok && rel.Kind == RelToOne {
			required[rel.FKColumn] = true
		}
	}
	keep := func(col string) bool {
		if required[col] {
			return true
		}
		if len(qs.only) > 0 {
			for _, o := range qs.only {
				if o == col {
					return true
				}
			}
			return false
		}
		for _, d := range qs.deferred {
			if d == col {
				return false
			}
		}
		return true
	}
	var cols []string
	for _, fd := range qs.desc.fields {
		if keep(fd.Name) {
			cols = append(cols, fd.Name)
		}
	}
	return cols, nil
}

func (qs QuerySet[T]) build() (sqlast.SelectStmt, error) {
	if qs.err != nil {
		return sqlast.SelectStmt{}, qs.err
	}
	// The first compilation freezes the registry so relation targets are
	// resolved exactly once.
	if err := Seal(); err != nil {
		return sqlast.SelectStmt{}, err
	}
	for _, name := range qs.prefetch {
		if _, ok := qs.desc.Rel(name); !ok {
			return sqlast.SelectStmt{}, &InvalidArgumentError{Detail: "unknown relation " + name}
		}
	}
	joins, err := qs.joinClauses()
	if err != nil {
		return sqlast.SelectStmt{}, err
	}
	cols, err := qs.projection()
	if err != nil {
		return sqlast.SelectStmt{}, err
	}
	return sqlast.SelectStmt{
		Columns:  cols,
		Joins:    joins,
		Where:    qs.whereTree(),
		OrderBy:  qs.order,
		Limit:    qs.limit,
		Offset:   qs.offset,
		Distinct: qs.distinct,
	}, nil
}

// --- terminal operations ---

func (qs QuerySet[T]) fetchStmt(ctx context.Context, stmt sqlast.SelectStmt) ([]*T, error) {
	sqlText, args, err := sqlast.NewCompiler(qs.desc).Select(stmt)
	if err != nil {
		return nil, err
	}
	rows, err := qs.ex.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	vals, err := hydrateRows(rows, qs.desc, stmt)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(vals))
	for i, v := range vals {
		out[i] = v.Interface().(*T)
	}
	if len(out) > 0 && len(qs.prefetch) > 0 {
		if err := runPrefetch(ctx, qs.ex, qs.desc, vals, qs.prefetch); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Fetch executes the query and returns all matching entities.
func (qs QuerySet[T]) Fetch(ctx context.Context) ([]*T, error) {
	stmt, err := qs.build()
	if err != nil {
		return nil, err
	}
	return qs.fetchStmt(ctx, stmt)
}

// First returns the first matching entity. Without an explicit order it
// sorts by primary key, so the result is deterministic.
func (qs QuerySet[T]) First(ctx context.Context) (*T, error) {
	if len(qs.order) == 0 {
		qs = qs.OrderBy(qs.desc.pk.Name)
	}
	items, err := qs.Limit(1).Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, &DoesNotExistError{Model: qs.desc.goType.Name()}
	}
	return items[0], nil
}

// Get returns the single entity matching the query. It probes for a second
// row, so zero matches and multiple matches are distinct errors.
func (qs QuerySet[T]) Get(ctx context.Context) (*T, error) {
	items, err := qs.Limit(2).Fetch(ctx)
	if err != nil {
		return nil, err
	}
	switch len(items) {
	case 0:
		return nil, &DoesNotExistError{Model: qs.desc.goType.Name()}
	case 1:
		return items[0], nil
	}
	return nil, &MultipleObjectsReturnedError{Model: qs.desc.goType.Name()}
}

// Exists reports whether the query matches any row.
func (qs QuerySet[T]) Exists(ctx context.Context) (bool, error) {
	stmt, err := qs.Limit(1).build()
	if err != nil {
		return false, err
	}
	stmt.Columns = []string{qs.desc.pk.Name}
	stmt.Joins = stripJoinColumns(stmt.Joins)
	stmt.OrderBy = nil
	sqlText, args, err := sqlast.NewCompiler(qs.desc).Exists(stmt)
	if err != nil {
		return false, err
	}
	var n int64
	if err := qs.queryScalar(ctx, sqlText, args, &n); err != nil {
		return false, err
	}
	return n != 0, nil
}

// Count returns the number of matching rows. The select is wrapped in a
// subquery so distinct, limit and offset are respected.
func (qs QuerySet[T]) Count(ctx context.Context) (int64, error) {
	stmt, err := qs.build()
	if err != nil {
		return 0, err
	}
	stmt.OrderBy = nil
	sqlText, args, err := sqlast.NewCompiler(qs.desc).Count(stmt)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := qs.queryScalar(ctx, sqlText, args, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (qs QuerySet[T]) queryScalar(ctx context.Context, sqlText string, args []any, dst *int64) error {
	rows, err := qs.ex.Query(ctx, sqlText, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	if err := rows.Scan(dst); err != nil {
		return err
	}
	return rows.Err()
}

// valuesStmt builds the projection for Values and ValuesList.
func (qs QuerySet[T]) valuesStmt(fields []string) (sqlast.SelectStmt, []sqlast.Kind, error) {
	stmt, err := qs.build()
	if err != nil {
		return sqlast.SelectStmt{}, nil, err
	}
	if len(fields) > 0 {
		stmt.Columns = fields
	}
	// Joins stay available for conditions on related fields, but only base
	// columns are projected.
	stmt.Joins = stripJoinColumns(stmt.Joins)
	kinds := make([]sqlast.Kind, len(stmt.Columns))
	for i, col := range stmt.Columns {
		fd, ok := qs.desc.byName[col]
		if !ok {
			return sqlast.SelectStmt{}, nil, &sqlast.UnknownFieldError{Table: qs.desc.table, Field: col}
		}
		kinds[i] = fd.Kind
	}
	return stmt, kinds, nil
}

func (qs QuerySet[T]) fetchValues(ctx context.Context, fields []string) ([]string, [][]any, error) {
	stmt, kinds, err := qs.valuesStmt(fields)
	if err != nil {
		return nil, nil, err
	}
	sqlText, args, err := sqlast.NewCompiler(qs.desc).Select(stmt)
	if err != nil {
		return nil, nil, err
	}
	rows, err := qs.ex.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var out [][]any
	for rows.Next() {
		raw, err := scanRowValues(rows, len(stmt.Columns))
		if err != nil {
			return nil, nil, err
		}
		vals := make([]any, len(raw))
		for i, r := range raw {
			if r == nil {
				continue
			}
			v, err := coerceScalar(r, kinds[i])
			if err != nil {
				return nil, nil, err
			}
			vals[i] = v
		}
		out = append(out, vals)
	}
	return stmt.Columns, out, rows.Err()
}

// Values returns matching rows as field-name-keyed maps instead of
// entities. With no fields given, all mapped fields are included.
func (qs QuerySet[T]) Values(ctx context.Context, fields ...string) ([]map[string]any, error) {
	cols, rows, err := qs.fetchValues(ctx, fields)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(rows))
	for i, vals := range rows {
		m := make(map[string]any, len(cols))
		for j, col := range cols {
			m[col] = vals[j]
		}
		out[i] = m
	}
	return out, nil
}

// ValuesList returns matching rows as value slices in field order.
func (qs QuerySet[T]) ValuesList(ctx context.Context, fields ...string) ([][]any, error) {
	_, rows, err := qs.fetchValues(ctx, fields)
	return rows, err
}

// FlatValuesList returns a single field's values as a flat slice, one
// element per matching row.
func (qs QuerySet[T]) FlatValuesList(ctx context.Context, field string) ([]any, error) {
	_, rows, err := qs.fetchValues(ctx, []string{field})
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, vals := range rows {
		out[i] = vals[0]
	}
	return out, nil
}

// Aggregate computes aggregate values over the matching rows, reported
// under each computation's result name ("price__sum", "pages__avg").
// Rows are taken after distinct, limit and offset apply. When no row
// matches, SUM/AVG/MIN/MAX report nil and COUNT reports zero.
func (qs QuerySet[T]) Aggregate(ctx context.Context, aggs ...sqlast.Aggregate) (map[string]any, error) {
	if len(aggs) == 0 {
		return nil, &InvalidArgumentError{Detail: "aggregate requires at least one computation"}
	}
	stmt, err := qs.build()
	if err != nil {
		return nil, err
	}
	stmt.Columns = qs.desc.columnNames()
	stmt.Joins = stripJoinColumns(stmt.Joins)
	sqlText, args, err := sqlast.NewCompiler(qs.desc).Aggregate(stmt, aggs)
	if err != nil {
		return nil, err
	}
	rows, err := qs.ex.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sql.ErrNoRows
	}
	raw, err := scanRowValues(rows, len(aggs))
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(aggs))
	for i, a := range aggs {
		if raw[i] == nil {
			out[a.ResultName()] = nil
			continue
		}
		kind := qs.desc.byName[a.Field].Kind
		switch a.Func {
		case sqlast.AggCount:
			kind = sqlast.KindInt
		case sqlast.AggAvg:
			kind = sqlast.KindFloat
		}
		v, err := coerceScalar(raw[i], kind)
		if err != nil {
			return nil, err
		}
		out[a.ResultName()] = v
	}
	return out, rows.Err()
}

// Latest returns the entity with the greatest value of field.
func (qs QuerySet[T]) Latest(ctx context.Context, field string) (*T, error) {
	qs.order = []sqlast.OrderClause{{Field: field, Desc: true}}
	return qs.First(ctx)
}

// Earliest returns the entity with the smallest value of field.
func (qs QuerySet[T]) Earliest(ctx context.Context, field string) (*T, error) {
	qs.order = []sqlast.OrderClause{{Field: field}}
	return qs.First(ctx)
}

func stripJoinColumns(joins []sqlast.JoinClause) []sqlast.JoinClause {
	if len(joins) == 0 {
		return nil
	}
	out := make([]sqlast.JoinClause, len(joins))
	for i, j := range joins {
		j.Columns = nil
		out[i] = j
	}
	return out
}

func (qs QuerySet[T]) guardBulkWrite(op string) error {
	if qs.err != nil {
		return qs.err
	}
	if len(qs.filters) == 0 && len(qs.excludes) == 0 {
		return &InvalidArgumentError{
			Detail: "refusing to " + op + " without filters, use an explicit always-true filter to " + op + " everything",
		}
	}
	if qs.limit >= 0 || qs.offset > 0 {
		return &InvalidArgumentError{Detail: "cannot " + op + " a sliced query set"}
	}
	return nil
}

// sortedAssignments lowers a values map into deterministic column order.
func sortedAssignments(values map[string]any) []sqlast.Assignment {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	set := make([]sqlast.Assignment, len(keys))
	for i, k := range keys {
		set[i] = sqlast.Assignment{Column: k, Value: values[k]}
	}
	return set
}

// Update writes the given values to every matching row and returns the
// number of rows affected. Values may be literals or sqlast.F expressions,
// which are applied in the store without a read. An unfiltered query set
// refuses to update.
func (qs QuerySet[T]) Update(ctx context.Context, values map[string]any) (int64, error) {
	if err := qs.guardBulkWrite("update"); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, &InvalidArgumentError{Detail: "update requires at least one value"}
	}
	if err := Seal(); err != nil {
		return 0, err
	}
	sqlText, args, err := sqlast.NewCompiler(qs.desc).Update(sqlast.UpdateStmt{
		Set:   sortedAssignments(values),
		Where: qs.whereTree(),
	})
	if err != nil {
		return 0, err
	}
	res, err := qs.ex.Exec(ctx, sqlText, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes every matching row and returns the number of rows
// removed. An unfiltered query set refuses to delete.
func (qs QuerySet[T]) Delete(ctx context.Context) (int64, error) {
	if err := qs.guardBulkWrite("delete"); err != nil {
		return 0, err
	}
	if err := Seal(); err != nil {
		return 0, err
	}
	sqlText, args, err := sqlast.NewCompiler(qs.desc).Delete(sqlast.DeleteStmt{
		Where: qs.whereTree(),
	})
	if err != nil {
		return 0, err
	}
	res, err := qs.ex.Exec(ctx, sqlText, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
