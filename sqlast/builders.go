package sqlast

// Where builds a leaf condition comparing field against value with the
// given lookup.
func Where(field string, lookup Lookup, value any) Q {
	return Q{field: field, lookup: lookup, value: value, leaf: true, valid: true}
}

// Eq is shorthand for Where(field, Exact, value).
func Eq(field string, value any) Q {
	return Where(field, Exact, value)
}

// And combines conditions so that all must hold. Zero operands yield the
// zero Q; a single operand is returned unchanged. And is associative, so
// And(a, And(b, c)) compiles identically to And(And(a, b), c).
func And(qs ...Q) Q {
	return combine(connAnd, qs)
}

// Or combines conditions so that at least one must hold. It mirrors And.
func Or(qs ...Q) Q {
	return combine(connOr, qs)
}

func combine(conn connector, qs []Q) Q {
	kept := make([]Q, 0, len(qs))
	for _, q := range qs {
		if q.IsZero() {
			continue
		}
		// Flatten same-connector children so chained combinators build one
		// level instead of a degenerate spine. Negated or mixed nodes stay
		// as grouped children.
		if !q.leaf && !q.negated && q.conn == conn {
			kept = append(kept, q.children...)
			continue
		}
		kept = append(kept, q)
	}
	switch len(kept) {
	case 0:
		return Q{}
	case 1:
		return kept[0]
	}
	return Q{conn: conn, children: kept, valid: true}
}

// Not negates a condition. Not(Not(q)) restores q, so double negation is
// structurally the identity.
func Not(q Q) Q {
	if q.IsZero() {
		return q
	}
	q.negated = !q.negated
	return q
}

// Count counts the rows where field is not NULL.
func Count(field string) Aggregate { return Aggregate{Func: AggCount, Field: field} }

// Sum totals field over the matching rows; NULL when none match.
func Sum(field string) Aggregate { return Aggregate{Func: AggSum, Field: field} }

// Avg averages field over the matching rows; NULL when none match.
func Avg(field string) Aggregate { return Aggregate{Func: AggAvg, Field: field} }

// Min takes the smallest value of field over the matching rows.
func Min(field string) Aggregate { return Aggregate{Func: AggMin, Field: field} }

// Max takes the greatest value of field over the matching rows.
func Max(field string) Aggregate { return Aggregate{Func: AggMax, Field: field} }

// Field starts an arithmetic field reference for use as a filter or update
// value, e.g. Field("stock").Minus(1).
func Field(name string) F {
	return F{name: name}
}

func (f F) with(op string, operand any) F {
	ops := make([]arith, len(f.ops), len(f.ops)+1)
	copy(ops, f.ops)
	f.ops = append(ops, arith{op: op, operand: operand})
	return f
}

// Plus appends an addition step. The operand may be a numeric literal or
// another F.
func (f F) Plus(operand any) F { return f.with("+", operand) }

// Minus appends a subtraction step.
func (f F) Minus(operand any) F { return f.with("-", operand) }

// Times appends a multiplication step.
func (f F) Times(operand any) F { return f.with("*", operand) }

// Div appends a division step.
func (f F) Div(operand any) F { return f.with("/", operand) }
