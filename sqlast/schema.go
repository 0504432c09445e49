package sqlast

// Kind classifies a column for value binding and type checking.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
	KindBool
	KindTime
	KindUUID
	KindBytes
)

// String returns a human-readable kind name for error messages.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindUUID:
		return "uuid"
	case KindBytes:
		return "bytes"
	}
	return "unknown"
}

// Numeric reports whether arithmetic is valid on columns of this kind.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat
}

// Column describes one table column for compilation purposes.
type Column struct {
	Name     string
	Kind     Kind
	Nullable bool
}

// Schema resolves field names for one table. The ORM's model descriptors
// implement it; the compiler depends only on this interface.
type Schema interface {
	// Table returns the table name.
	Table() string
	// Column resolves a field name to its column, reporting whether the
	// field exists.
	Column(name string) (Column, bool)
}
