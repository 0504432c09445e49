package orm

import (
	"fmt"
	"strings"
)

// fieldTag is the parsed form of a `db` struct tag:
// `db:"col[,pk][,unique][,autoincr]"`. A tag of "-" skips the field.
type fieldTag struct {
	Name     string
	PK       bool
	Unique   bool
	AutoIncr bool
	Skip     bool
}

func parseFieldTag(tag string) (fieldTag, error) {
	if tag == "" || tag == "-" {
		return fieldTag{Skip: tag == "-"}, nil
	}
	ft := fieldTag{}
	for i, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i == 0 {
			ft.Name = part
			continue
		}
		switch part {
		case "pk":
			ft.PK = true
		case "unique":
			ft.Unique = true
		case "autoincr":
			ft.AutoIncr = true
		default:
			return fieldTag{}, fmt.Errorf("unknown db tag option %q", part)
		}
	}
	if ft.Name == "" {
		return fieldTag{}, fmt.Errorf("db tag is missing a column name")
	}
	return ft, nil
}

// relTag is the parsed form of a `rel` struct tag:
// `rel:"name,fk=column"`. Name is how the relation is addressed in
// SelectRelated and PrefetchRelated; fk names the column holding the
// foreign key (on this table for to-one, on the target for to-many).
type relTag struct {
	Name string
	FK   string
}

func parseRelTag(tag string) (relTag, error) {
	rt := relTag{}
	for i, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i == 0 && !strings.Contains(part, "=") {
			rt.Name = part
			continue
		}
		if fk, ok := strings.CutPrefix(part, "fk="); ok {
			rt.FK = fk
			continue
		}
		return relTag{}, fmt.Errorf("unknown rel tag option %q", part)
	}
	if rt.Name == "" {
		return relTag{}, fmt.Errorf("rel tag is missing a relation name")
	}
	if rt.FK == "" {
		return relTag{}, fmt.Errorf("rel tag is missing fk=column")
	}
	return rt, nil
}

// toSnake converts a Go identifier to snake_case for table naming.
func toSnake(name string) string {
	var sb strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r + ('a' - 'A'))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
