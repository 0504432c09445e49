package sqlast

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Compiler translates statement trees into parameterized SQL against one
// table's schema. A Compiler is cheap to construct and safe to reuse; each
// compile call builds fresh output.
type Compiler struct {
	schema Schema
}

// NewCompiler returns a compiler resolving field names against schema.
func NewCompiler(schema Schema) *Compiler {
	return &Compiler{schema: schema}
}

// compilation holds the per-call output state.
type compilation struct {
	schema  Schema
	joins   map[string]JoinClause
	qualify bool
	sb      strings.Builder
	args    []any
}

func (c *Compiler) newCompilation(joins []JoinClause) *compilation {
	cp := &compilation{schema: c.schema, qualify: len(joins) > 0}
	if len(joins) > 0 {
		cp.joins = make(map[string]JoinClause, len(joins))
		for _, j := range joins {
			cp.joins[j.Alias] = j
		}
	}
	return cp
}

// Select compiles stmt into a SELECT statement and its bind arguments.
func (c *Compiler) Select(stmt SelectStmt) (string, []any, error) {
	cp := c.newCompilation(stmt.Joins)
	cp.sb.WriteString("SELECT ")
	if stmt.Distinct {
		cp.sb.WriteString("DISTINCT ")
	}
	if err := cp.writeSelectColumns(stmt); err != nil {
		return "", nil, err
	}
	cp.sb.WriteString(" FROM ")
	cp.sb.WriteString(quote(c.schema.Table()))
	for _, j := range stmt.Joins {
		if err := cp.writeJoin(j); err != nil {
			return "", nil, err
		}
	}
	if err := cp.writeWhere(stmt.Where); err != nil {
		return "", nil, err
	}
	if err := cp.writeOrderBy(stmt.OrderBy); err != nil {
		return "", nil, err
	}
	cp.writeLimitOffset(stmt.Limit, stmt.Offset)
	return cp.sb.String(), cp.args, nil
}

// Count compiles stmt into a COUNT over the select as a subquery, so that
// limit, offset and distinct are honored.
func (c *Compiler) Count(stmt SelectStmt) (string, []any, error) {
	inner, args, err := c.Select(stmt)
	if err != nil {
		return "", nil, err
	}
	return "SELECT COUNT(*) FROM (" + inner + ") AS " + quote("subquery"), args, nil
}

// Exists compiles stmt into an EXISTS probe.
// Aggregate compiles the given computations over stmt's matching rows.
// Like Count, the select is wrapped in a subquery so distinct, limit and
// offset shape the rows being aggregated. Every aggregated field must be
// projected by stmt.
func (c *Compiler) Aggregate(stmt SelectStmt, aggs []Aggregate) (string, []any, error) {
	if len(aggs) == 0 {
		return "", nil, &InvalidExpressionError{Detail: "aggregate requires at least one computation"}
	}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, a := range aggs {
		if a.Field == "" {
			return "", nil, &InvalidExpressionError{Detail: a.Func.String() + " requires a field"}
		}
		col, ok := c.schema.Column(a.Field)
		if !ok {
			return "", nil, &UnknownFieldError{Table: c.schema.Table(), Field: a.Field}
		}
		if (a.Func == AggSum || a.Func == AggAvg) && !col.Kind.Numeric() {
			return "", nil, &TypeMismatchError{
				Table: c.schema.Table(), Field: col.Name, Kind: col.Kind,
				Reason: a.Func.String() + " requires a numeric field",
			}
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.Func.String())
		sb.WriteString("(")
		sb.WriteString(quote(col.Name))
		sb.WriteString(") AS ")
		sb.WriteString(quote(a.ResultName()))
	}
	inner, args, err := c.Select(stmt)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(" FROM (")
	sb.WriteString(inner)
	sb.WriteString(") AS ")
	sb.WriteString(quote("subquery"))
	return sb.String(), args, nil
}

func (c *Compiler) Exists(stmt SelectStmt) (string, []any, error) {
	inner, args, err := c.Select(stmt)
	if err != nil {
		return "", nil, err
	}
	return "SELECT EXISTS(" + inner + ")", args, nil
}

// Insert compiles stmt into a multi-row INSERT and its bind arguments.
func (c *Compiler) Insert(stmt InsertStmt) (string, []any, error) {
	if len(stmt.Columns) == 0 || len(stmt.Rows) == 0 {
		return "", nil, &InvalidExpressionError{Detail: "insert requires columns and rows"}
	}
	cp := c.newCompilation(nil)
	cols := make([]Column, len(stmt.Columns))
	cp.sb.WriteString("INSERT INTO ")
	cp.sb.WriteString(quote(c.schema.Table()))
	cp.sb.WriteString(" (")
	for i, name := range stmt.Columns {
		col, ok := c.schema.Column(name)
		if !ok {
			return "", nil, &UnknownFieldError{Table: c.schema.Table(), Field: name}
		}
		cols[i] = col
		if i > 0 {
			cp.sb.WriteString(", ")
		}
		cp.sb.WriteString(quote(col.Name))
	}
	cp.sb.WriteString(") VALUES ")
	for ri, row := range stmt.Rows {
		if len(row) != len(stmt.Columns) {
			return "", nil, &InvalidExpressionError{
				Detail: fmt.Sprintf("insert row %d has %d values for %d columns", ri, len(row), len(stmt.Columns)),
			}
		}
		if ri > 0 {
			cp.sb.WriteString(", ")
		}
		cp.sb.WriteString("(")
		for vi, v := range row {
			if vi > 0 {
				cp.sb.WriteString(", ")
			}
			if err := cp.bindNullable(v, cols[vi]); err != nil {
				return "", nil, err
			}
			cp.sb.WriteString("?")
		}
		cp.sb.WriteString(")")
	}
	if err := cp.writeReturning(stmt.Returning); err != nil {
		return "", nil, err
	}
	return cp.sb.String(), cp.args, nil
}

// Update compiles stmt into an UPDATE and its bind arguments. Assignment
// values may be F expressions referencing columns of the same table.
func (c *Compiler) Update(stmt UpdateStmt) (string, []any, error) {
	if len(stmt.Set) == 0 {
		return "", nil, &InvalidExpressionError{Detail: "update requires at least one assignment"}
	}
	cp := c.newCompilation(nil)
	cp.sb.WriteString("UPDATE ")
	cp.sb.WriteString(quote(c.schema.Table()))
	cp.sb.WriteString(" SET ")
	for i, a := range stmt.Set {
		col, ok := c.schema.Column(a.Column)
		if !ok {
			return "", nil, &UnknownFieldError{Table: c.schema.Table(), Field: a.Column}
		}
		if i > 0 {
			cp.sb.WriteString(", ")
		}
		cp.sb.WriteString(quote(col.Name))
		cp.sb.WriteString(" = ")
		switch v := a.Value.(type) {
		case F:
			if err := cp.writeF(v); err != nil {
				return "", nil, err
			}
		case Case:
			if err := cp.writeCase(v, col); err != nil {
				return "", nil, err
			}
		default:
			if err := cp.bindNullable(a.Value, col); err != nil {
				return "", nil, err
			}
			cp.sb.WriteString("?")
		}
	}
	if err := cp.writeWhere(stmt.Where); err != nil {
		return "", nil, err
	}
	if err := cp.writeReturning(stmt.Returning); err != nil {
		return "", nil, err
	}
	return cp.sb.String(), cp.args, nil
}

// Delete compiles stmt into a DELETE and its bind arguments.
func (c *Compiler) Delete(stmt DeleteStmt) (string, []any, error) {
	cp := c.newCompilation(nil)
	cp.sb.WriteString("DELETE FROM ")
	cp.sb.WriteString(quote(c.schema.Table()))
	if err := cp.writeWhere(stmt.Where); err != nil {
		return "", nil, err
	}
	return cp.sb.String(), cp.args, nil
}

// CompileQ compiles a standalone condition tree against schema, mainly for
// inspection and tests. The returned SQL has no surrounding WHERE keyword.
func CompileQ(q Q, schema Schema) (string, []any, error) {
	cp := &compilation{schema: schema}
	if q.IsZero() {
		return "", nil, nil
	}
	if err := cp.writeQ(q); err != nil {
		return "", nil, err
	}
	return cp.sb.String(), cp.args, nil
}

// --- clause writers ---

func (cp *compilation) writeSelectColumns(stmt SelectStmt) error {
	if len(stmt.Columns) == 0 {
		return &InvalidExpressionError{Detail: "select requires at least one column"}
	}
	first := true
	for _, name := range stmt.Columns {
		col, ok := cp.schema.Column(name)
		if !ok {
			return &UnknownFieldError{Table: cp.schema.Table(), Field: name}
		}
		if !first {
			cp.sb.WriteString(", ")
		}
		first = false
		if cp.qualify {
			cp.sb.WriteString(quote(cp.schema.Table()))
			cp.sb.WriteString(".")
		}
		cp.sb.WriteString(quote(col.Name))
	}
	for _, j := range stmt.Joins {
		for _, name := range j.Columns {
			col, ok := j.Schema.Column(name)
			if !ok {
				return &UnknownFieldError{Table: j.Schema.Table(), Field: name}
			}
			cp.sb.WriteString(", ")
			cp.sb.WriteString(quote(j.Alias))
			cp.sb.WriteString(".")
			cp.sb.WriteString(quote(col.Name))
			cp.sb.WriteString(" AS ")
			cp.sb.WriteString(quote(j.Alias + "__" + col.Name))
		}
	}
	return nil
}

func (cp *compilation) writeJoin(j JoinClause) error {
	left, ok := cp.schema.Column(j.LeftCol)
	if !ok {
		return &UnknownFieldError{Table: cp.schema.Table(), Field: j.LeftCol}
	}
	right, ok := j.Schema.Column(j.RightCol)
	if !ok {
		return &UnknownFieldError{Table: j.Schema.Table(), Field: j.RightCol}
	}
	cp.sb.WriteString(" LEFT JOIN ")
	cp.sb.WriteString(quote(j.Schema.Table()))
	cp.sb.WriteString(" AS ")
	cp.sb.WriteString(quote(j.Alias))
	cp.sb.WriteString(" ON ")
	cp.sb.WriteString(quote(cp.schema.Table()))
	cp.sb.WriteString(".")
	cp.sb.WriteString(quote(left.Name))
	cp.sb.WriteString(" = ")
	cp.sb.WriteString(quote(j.Alias))
	cp.sb.WriteString(".")
	cp.sb.WriteString(quote(right.Name))
	return nil
}

func (cp *compilation) writeWhere(q Q) error {
	if q.IsZero() {
		return nil
	}
	cp.sb.WriteString(" WHERE ")
	return cp.writeQ(q)
}

func (cp *compilation) writeOrderBy(order []OrderClause) error {
	for i, o := range order {
		if i == 0 {
			cp.sb.WriteString(" ORDER BY ")
		} else {
			cp.sb.WriteString(", ")
		}
		ident, _, err := cp.resolve(o.Field)
		if err != nil {
			return err
		}
		cp.sb.WriteString(ident)
		if o.Desc {
			cp.sb.WriteString(" DESC")
		} else {
			cp.sb.WriteString(" ASC")
		}
	}
	return nil
}

func (cp *compilation) writeLimitOffset(limit, offset int) {
	if limit < 0 && offset <= 0 {
		return
	}
	// SQLite needs a LIMIT clause to carry an OFFSET.
	if limit < 0 {
		cp.sb.WriteString(" LIMIT -1")
	} else {
		cp.sb.WriteString(" LIMIT ")
		cp.sb.WriteString(strconv.Itoa(limit))
	}
	if offset > 0 {
		cp.sb.WriteString(" OFFSET ")
		cp.sb.WriteString(strconv.Itoa(offset))
	}
}

func (cp *compilation) writeReturning(cols []string) error {
	for i, name := range cols {
		col, ok := cp.schema.Column(name)
		if !ok {
			return &UnknownFieldError{Table: cp.schema.Table(), Field: name}
		}
		if i == 0 {
			cp.sb.WriteString(" RETURNING ")
		} else {
			cp.sb.WriteString(", ")
		}
		cp.sb.WriteString(quote(col.Name))
	}
	return nil
}

// --- condition trees ---

func (cp *compilation) writeQ(q Q) error {
	if q.negated {
		cp.sb.WriteString("NOT (")
		bare := q
		bare.negated = false
		if err := cp.writeQ(bare); err != nil {
			return err
		}
		cp.sb.WriteString(")")
		return nil
	}
	if q.leaf {
		return cp.writeLeaf(q)
	}
	sep := " AND "
	if q.conn == connOr {
		sep = " OR "
	}
	for i, child := range q.children {
		if i > 0 {
			cp.sb.WriteString(sep)
		}
		grouped := !child.leaf || child.negated
		if grouped {
			cp.sb.WriteString("(")
		}
		if err := cp.writeQ(child); err != nil {
			return err
		}
		if grouped {
			cp.sb.WriteString(")")
		}
	}
	return nil
}

func (cp *compilation) writeLeaf(q Q) error {
	ident, col, err := cp.resolve(q.field)
	if err != nil {
		return err
	}
	if f, ok := q.value.(F); ok {
		return cp.writeFieldComparison(ident, q.lookup, f)
	}
	switch q.lookup {
	case Exact:
		cp.sb.WriteString(ident)
		cp.sb.WriteString(" = ")
		if err := cp.bind(q.value, col); err != nil {
			return err
		}
		cp.sb.WriteString("?")
	case IExact:
		if col.Kind != KindString {
			return cp.mismatch(col, q.value, "case-insensitive lookup requires a string column")
		}
		cp.sb.WriteString("LOWER(")
		cp.sb.WriteString(ident)
		cp.sb.WriteString(") = LOWER(")
		if err := cp.bind(q.value, col); err != nil {
			return err
		}
		cp.sb.WriteString("?)")
	case Gt, Gte, Lt, Lte:
		cp.sb.WriteString(ident)
		cp.sb.WriteString(comparisonOp(q.lookup))
		if err := cp.bind(q.value, col); err != nil {
			return err
		}
		cp.sb.WriteString("?")
	case In:
		return cp.writeIn(ident, col, q.value)
	case Contains, StartsWith, EndsWith:
		if col.Kind != KindString {
			return cp.mismatch(col, q.value, "pattern lookup requires a string column")
		}
		pat, err := likePattern(q.lookup, q.value)
		if err != nil {
			return cp.mismatch(col, q.value, err.Error())
		}
		cp.sb.WriteString(ident)
		cp.sb.WriteString(" LIKE ? ESCAPE '\\'")
		cp.args = append(cp.args, pat)
	case IContains, IStartsWith, IEndsWith:
		if col.Kind != KindString {
			return cp.mismatch(col, q.value, "pattern lookup requires a string column")
		}
		pat, err := likePattern(q.lookup, q.value)
		if err != nil {
			return cp.mismatch(col, q.value, err.Error())
		}
		cp.sb.WriteString("LOWER(")
		cp.sb.WriteString(ident)
		cp.sb.WriteString(") LIKE LOWER(?) ESCAPE '\\'")
		cp.args = append(cp.args, pat)
	case IsNull:
		want, ok := q.value.(bool)
		if !ok {
			return cp.mismatch(col, q.value, "isnull lookup requires a bool value")
		}
		cp.sb.WriteString(ident)
		if want {
			cp.sb.WriteString(" IS NULL")
		} else {
			cp.sb.WriteString(" IS NOT NULL")
		}
	default:
		return &InvalidExpressionError{Detail: fmt.Sprintf("unsupported lookup %v", q.lookup)}
	}
	return nil
}

func (cp *compilation) writeFieldComparison(ident string, lookup Lookup, f F) error {
	switch lookup {
	case Exact, Gt, Gte, Lt, Lte:
	default:
		return &InvalidExpressionError{
			Detail: fmt.Sprintf("lookup %q cannot compare against a field expression", lookup),
		}
	}
	cp.sb.WriteString(ident)
	if lookup == Exact {
		cp.sb.WriteString(" = ")
	} else {
		cp.sb.WriteString(comparisonOp(lookup))
	}
	return cp.writeF(f)
}

func (cp *compilation) writeIn(ident string, col Column, value any) error {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return cp.mismatch(col, value, "in lookup requires a slice value")
	}
	if rv.Len() == 0 {
		// Membership in the empty set is a contradiction.
		cp.sb.WriteString("0 = 1")
		return nil
	}
	cp.sb.WriteString(ident)
	cp.sb.WriteString(" IN (")
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			cp.sb.WriteString(", ")
		}
		if err := cp.bind(rv.Index(i).Interface(), col); err != nil {
			return err
		}
		cp.sb.WriteString("?")
	}
	cp.sb.WriteString(")")
	return nil
}

// writeF compiles an arithmetic field expression, binding literal operands.
func (cp *compilation) writeF(f F) error {
	ident, col, err := cp.resolve(f.name)
	if err != nil {
		return err
	}
	if len(f.ops) == 0 {
		cp.sb.WriteString(ident)
		return nil
	}
	if !col.Kind.Numeric() {
		return &InvalidExpressionError{
			Detail: fmt.Sprintf("arithmetic on non-numeric field %q (%s)", f.name, col.Kind),
		}
	}
	cp.sb.WriteString(strings.Repeat("(", len(f.ops)))
	cp.sb.WriteString(ident)
	for _, step := range f.ops {
		cp.sb.WriteString(" ")
		cp.sb.WriteString(step.op)
		cp.sb.WriteString(" ")
		switch operand := step.operand.(type) {
		case F:
			if err := cp.writeF(operand); err != nil {
				return err
			}
		default:
			if !numericLiteral(operand) {
				return &InvalidExpressionError{
					Detail: fmt.Sprintf("arithmetic operand must be numeric or a field, got %T", operand),
				}
			}
			cp.args = append(cp.args, operand)
			cp.sb.WriteString("?")
		}
		cp.sb.WriteString(")")
	}
	return nil
}

// --- helpers ---

// resolve maps a field name, or an "alias__field" join path, to a quoted
// SQL identifier and its column.
func (cp *compilation) resolve(name string) (string, Column, error) {
	if alias, rest, ok := strings.Cut(name, "__"); ok {
		if j, found := cp.joins[alias]; found {
			col, ok := j.Schema.Column(rest)
			if !ok {
				return "", Column{}, &UnknownFieldError{Table: j.Schema.Table(), Field: rest}
			}
			return quote(j.Alias) + "." + quote(col.Name), col, nil
		}
	}
	col, ok := cp.schema.Column(name)
	if !ok {
		return "", Column{}, &UnknownFieldError{Table: cp.schema.Table(), Field: name}
	}
	if cp.qualify {
		return quote(cp.schema.Table()) + "." + quote(col.Name), col, nil
	}
	return quote(col.Name), col, nil
}

func (cp *compilation) mismatch(col Column, value any, reason string) error {
	return &TypeMismatchError{
		Table:  cp.schema.Table(),
		Field:  col.Name,
		Kind:   col.Kind,
		Value:  value,
		Reason: reason,
	}
}

// writeCase compiles a CASE expression assigning per-row values keyed by
// another column, as used by bulk updates.
func (cp *compilation) writeCase(c Case, col Column) error {
	key, ok := cp.schema.Column(c.Key)
	if !ok {
		return &UnknownFieldError{Table: cp.schema.Table(), Field: c.Key}
	}
	if len(c.Whens) == 0 {
		return &InvalidExpressionError{Detail: "case expression requires at least one branch"}
	}
	cp.sb.WriteString("CASE ")
	cp.sb.WriteString(quote(key.Name))
	for _, w := range c.Whens {
		cp.sb.WriteString(" WHEN ")
		if err := cp.bind(w.Match, key); err != nil {
			return err
		}
		cp.sb.WriteString("? THEN ")
		if err := cp.bindNullable(w.Value, col); err != nil {
			return err
		}
		cp.sb.WriteString("?")
	}
	cp.sb.WriteString(" END")
	return nil
}

// bindNullable is bind for assignment positions, where nil means NULL.
func (cp *compilation) bindNullable(value any, col Column) error {
	if value == nil {
		if !col.Nullable {
			return cp.mismatch(col, value, "column is not nullable")
		}
		cp.args = append(cp.args, nil)
		return nil
	}
	return cp.bind(value, col)
}

// bind type-checks value against col, converts it to a driver-friendly
// representation and appends it to the argument list.
func (cp *compilation) bind(value any, col Column) error {
	if value == nil {
		return cp.mismatch(col, value, "cannot compare against nil, use the isnull lookup")
	}
	v, ok := coerce(value, col.Kind)
	if !ok {
		return &TypeMismatchError{Table: cp.schema.Table(), Field: col.Name, Kind: col.Kind, Value: value}
	}
	cp.args = append(cp.args, v)
	return nil
}

func coerce(value any, kind Kind) (any, bool) {
	switch kind {
	case KindInt:
		switch reflect.ValueOf(value).Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return value, true
		}
	case KindFloat:
		switch reflect.ValueOf(value).Kind() {
		case reflect.Float32, reflect.Float64,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return value, true
		}
	case KindString:
		if s, ok := value.(string); ok {
			return s, true
		}
	case KindBool:
		if b, ok := value.(bool); ok {
			return b, true
		}
	case KindTime:
		if t, ok := value.(time.Time); ok {
			return t, true
		}
	case KindUUID:
		switch v := value.(type) {
		case uuid.UUID:
			return v.String(), true
		case string:
			if _, err := uuid.Parse(v); err == nil {
				return v, true
			}
		}
	case KindBytes:
		if b, ok := value.([]byte); ok {
			return b, true
		}
	}
	return nil, false
}

func numericLiteral(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func comparisonOp(l Lookup) string {
	switch l {
	case Gt:
		return " > "
	case Gte:
		return " >= "
	case Lt:
		return " < "
	case Lte:
		return " <= "
	}
	return " = "
}

func likePattern(l Lookup, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("pattern lookup requires a string value, got %T", value)
	}
	esc := escapeLike(s)
	switch l {
	case Contains, IContains:
		return "%" + esc + "%", nil
	case StartsWith, IStartsWith:
		return esc + "%", nil
	case EndsWith, IEndsWith:
		return "%" + esc, nil
	}
	return esc, nil
}

// escapeLike protects LIKE metacharacters in user values. The compiler
// always emits ESCAPE '\' alongside the pattern.
func escapeLike(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func quote(ident string) string {
	return `"` + ident + `"`
}
