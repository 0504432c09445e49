package orm

import (
	"database/sql"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/CaliLuke/go-relq/sqlast"
)

// timeLayouts are the textual forms SQLite hands back for stored times.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// scanRowValues scans the current row into a slice of raw driver values.
func scanRowValues(rows *sql.Rows, n int) ([]any, error) {
	raw := make([]any, n)
	holders := make([]any, n)
	for i := range raw {
		holders[i] = &raw[i]
	}
	if err := rows.Scan(holders...); err != nil {
		return nil, err
	}
	return raw, nil
}

// coerceScalar converts a raw driver value to the Go representation of a
// column kind. SQLite is loosely typed, so each kind accepts the handful
// of shapes the driver can produce for it.
func coerceScalar(raw any, kind sqlast.Kind) (any, error) {
	switch kind {
	case sqlast.KindInt:
		switch v := raw.(type) {
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		}
	case sqlast.KindFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		}
	case sqlast.KindString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case sqlast.KindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		}
	case sqlast.KindTime:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case int64:
			return time.Unix(v, 0).UTC(), nil
		case []byte:
			return parseTime(string(v))
		case string:
			return parseTime(v)
		}
	case sqlast.KindUUID:
		switch v := raw.(type) {
		case string:
			return uuid.Parse(v)
		case []byte:
			return uuid.Parse(string(v))
		}
	case sqlast.KindBytes:
		switch v := raw.(type) {
		case []byte:
			return append([]byte(nil), v...), nil
		case string:
			return []byte(v), nil
		}
	}
	return nil, fmt.Errorf("cannot read %T as %s", raw, kind)
}

func parseTime(s string) (any, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized time value %q", s)
}

// setField writes a raw driver value into the entity field described by
// fd, coercing to the field's type. A nil raw zeroes the field.
func setField(entity reflect.Value, fd *FieldDesc, raw any) error {
	fv := entity.Field(fd.index)
	if raw == nil {
		fv.Set(reflect.Zero(fd.goType))
		return nil
	}
	coerced, err := coerceScalar(raw, fd.Kind)
	if err != nil {
		return fmt.Errorf("column %s: %w", fd.Name, err)
	}
	dst := fv
	elemType := fd.goType
	if elemType.Kind() == reflect.Ptr {
		elemType = elemType.Elem()
		p := reflect.New(elemType)
		fv.Set(p)
		dst = p.Elem()
	}
	cv := reflect.ValueOf(coerced)
	switch {
	case cv.Type() == elemType:
		dst.Set(cv)
	case cv.CanInt() && canSetInt(elemType):
		if elemType.Kind() >= reflect.Uint && elemType.Kind() <= reflect.Uint64 {
			dst.SetUint(uint64(cv.Int()))
		} else {
			dst.SetInt(cv.Int())
		}
	case cv.CanFloat() && (elemType.Kind() == reflect.Float32 || elemType.Kind() == reflect.Float64):
		dst.SetFloat(cv.Float())
	case cv.Type().ConvertibleTo(elemType) && cv.Type().Kind() == elemType.Kind():
		dst.Set(cv.Convert(elemType))
	default:
		return fmt.Errorf("column %s: cannot assign %s to %s", fd.Name, cv.Type(), fd.goType)
	}
	return nil
}

func canSetInt(t reflect.Type) bool {
	k := t.Kind()
	return k >= reflect.Int && k <= reflect.Uint64
}

// setGoValue writes a caller-supplied Go value (from a values map) into an
// entity field. Numeric widths are converted; other kinds must match.
func setGoValue(entity reflect.Value, fd *FieldDesc, value any) error {
	fv := entity.Field(fd.index)
	if value == nil {
		if fd.goType.Kind() != reflect.Ptr {
			return &InvalidArgumentError{Detail: "field " + fd.Name + " is not nullable"}
		}
		fv.Set(reflect.Zero(fd.goType))
		return nil
	}
	dst := fv
	elemType := fd.goType
	if elemType.Kind() == reflect.Ptr {
		elemType = elemType.Elem()
		p := reflect.New(elemType)
		fv.Set(p)
		dst = p.Elem()
	}
	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(elemType):
		dst.Set(rv)
	case numericKind(rv.Kind()) && numericKind(elemType.Kind()):
		dst.Set(rv.Convert(elemType))
	default:
		return &InvalidArgumentError{
			Detail: fmt.Sprintf("cannot assign %T to field %s (%s)", value, fd.Name, fd.goType),
		}
	}
	return nil
}

func numericKind(k reflect.Kind) bool {
	return (k >= reflect.Int && k <= reflect.Uint64) || k == reflect.Float32 || k == reflect.Float64
}

// hydrateRows reads all rows into entities of the descriptor's type. The
// column layout must be the stmt's base columns followed by each join's
// aliased columns; joined rows are split into nested child structs.
func hydrateRows(rows *sql.Rows, d *Descriptor, stmt sqlast.SelectStmt) ([]reflect.Value, error) {
	total := len(stmt.Columns)
	for _, j := range stmt.Joins {
		total += len(j.Columns)
	}
	var out []reflect.Value
	for rows.Next() {
		raw, err := scanRowValues(rows, total)
		if err != nil {
			return nil, err
		}
		ev := reflect.New(d.goType).Elem()
		idx := 0
		for _, col := range stmt.Columns {
			if err := setField(ev, d.byName[col], raw[idx]); err != nil {
				return nil, err
			}
			idx++
		}
		for _, j := range stmt.Joins {
			rel := d.relByName[j.Alias]
			chunk := raw[idx : idx+len(j.Columns)]
			idx += len(j.Columns)
			if err := hydrateChild(ev, rel, j.Columns, chunk); err != nil {
				return nil, err
			}
		}
		out = append(out, ev.Addr())
	}
	return out, rows.Err()
}

// hydrateChild fills a to-one relation field from joined columns. A NULL
// primary key means the LEFT JOIN found no row and the field stays nil.
func hydrateChild(parent reflect.Value, rel *RelDesc, cols []string, raw []any) error {
	target := rel.target
	for i, col := range cols {
		if col == target.pk.Name {
			if raw[i] == nil {
				return nil
			}
			break
		}
	}
	child := reflect.New(target.goType)
	for i, col := range cols {
		if err := setField(child.Elem(), target.byName[col], raw[i]); err != nil {
			return err
		}
	}
	parent.Field(rel.index).Set(child)
	return nil
}
