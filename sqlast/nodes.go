// Package sqlast defines the expression and statement trees compiled into
// parameterized SQL.
//
// It decouples query construction from string formatting: QuerySets and
// managers build trees, and the compiler resolves them against a schema.
package sqlast

// Lookup identifies the comparison applied by a leaf condition.
type Lookup int

const (
	// Exact matches with = (the default lookup).
	Exact Lookup = iota
	// IExact matches case-insensitively with =.
	IExact
	// Contains matches substrings.
	Contains
	// IContains matches substrings case-insensitively.
	IContains
	// Gt matches with >.
	Gt
	// Gte matches with >=.
	Gte
	// Lt matches with <.
	Lt
	// Lte matches with <=.
	Lte
	// In matches set membership; the value must be a slice.
	In
	// StartsWith matches string prefixes.
	StartsWith
	// IStartsWith matches string prefixes case-insensitively.
	IStartsWith
	// EndsWith matches string suffixes.
	EndsWith
	// IEndsWith matches string suffixes case-insensitively.
	IEndsWith
	// IsNull matches NULL (value true) or NOT NULL (value false).
	IsNull
)

// String returns the lookup name as used in parsed condition strings.
func (l Lookup) String() string {
	switch l {
	case Exact:
		return "exact"
	case IExact:
		return "iexact"
	case Contains:
		return "contains"
	case IContains:
		return "icontains"
	case Gt:
		return "gt"
	case Gte:
		return "gte"
	case Lt:
		return "lt"
	case Lte:
		return "lte"
	case In:
		return "in"
	case StartsWith:
		return "startswith"
	case IStartsWith:
		return "istartswith"
	case EndsWith:
		return "endswith"
	case IEndsWith:
		return "iendswith"
	case IsNull:
		return "isnull"
	}
	return "unknown"
}

type connector int

const (
	connAnd connector = iota
	connOr
)

// Q is an immutable boolean-condition tree. A Q is either a leaf comparing
// one field against a value, or a connector (AND/OR) over child nodes,
// optionally negated. Combinators return new nodes; operands are never
// mutated, so a Q can be shared freely between QuerySets.
type Q struct {
	field  string
	lookup Lookup
	value  any

	conn     connector
	children []Q

	negated bool
	leaf    bool
	valid   bool
}

// IsZero reports whether q is the zero Q (no condition at all).
func (q Q) IsZero() bool { return !q.valid }

// Negated reports whether the node carries a negation.
func (q Q) Negated() bool { return q.negated }

// F is a reference to a field, optionally carrying a chain of arithmetic
// steps against literals or other F nodes. Resolving an F against a schema
// yields a column expression; arithmetic is only valid on numeric columns.
type F struct {
	name string
	ops  []arith
}

type arith struct {
	op      string // "+", "-", "*", "/"
	operand any    // literal or F
}

// Name returns the referenced field name.
func (f F) Name() string { return f.name }

// --- Statements ---

// OrderClause specifies a field name and sort direction for query results.
type OrderClause struct {
	Field string
	Desc  bool
}

// JoinClause is a LEFT JOIN attached to a select statement. Columns of the
// joined table listed in Columns are selected as "<alias>__<col>", and
// condition fields may traverse the join with the same "alias__col" form.
type JoinClause struct {
	Schema   Schema
	Alias    string
	LeftCol  string // column on the base table holding the foreign key
	RightCol string // column on the joined table
	Columns  []string
}

// SelectStmt is a fully described query ready for SQL generation.
// Limit and Offset use -1 for "not set".
type SelectStmt struct {
	Columns  []string // base-table column names to select
	Joins    []JoinClause
	Where    Q
	OrderBy  []OrderClause
	Limit    int
	Offset   int
	Distinct bool
}

// InsertStmt inserts one or more rows in a single statement.
type InsertStmt struct {
	Columns   []string
	Rows      [][]any
	Returning []string
}

// Assignment sets one column to a literal, an F expression or a Case.
type Assignment struct {
	Column string
	Value  any
}

// When pairs a key match with the value to assign for that match.
type When struct {
	Match any
	Value any
}

// Case maps values of a key column to per-row assignment values. It
// compiles to CASE "key" WHEN ? THEN ? ... END, which lets one UPDATE
// statement write distinct values to many rows.
type Case struct {
	Key   string
	Whens []When
}

// UpdateStmt updates rows matching Where. Assignments are applied in order.
type UpdateStmt struct {
	Set       []Assignment
	Where     Q
	Returning []string
}

// DeleteStmt deletes rows matching Where.
type DeleteStmt struct {
	Where Q
}

// AggFunc identifies an aggregate function.
type AggFunc int

const (
	AggCount AggFunc = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

func (f AggFunc) String() string {
	switch f {
	case AggCount:
		return "COUNT"
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	}
	return "AggFunc(?)"
}

// Aggregate names one aggregate computation over a field.
type Aggregate struct {
	Func  AggFunc
	Field string
}

// ResultName is the column alias the computation compiles to, and the
// key it is reported under.
func (a Aggregate) ResultName() string {
	var fn string
	switch a.Func {
	case AggCount:
		fn = "count"
	case AggSum:
		fn = "sum"
	case AggAvg:
		fn = "avg"
	case AggMin:
		fn = "min"
	case AggMax:
		fn = "max"
	}
	return a.Field + "__" + fn
}
