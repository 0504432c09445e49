package driver

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
)

// ConstraintKind classifies a violated database constraint.
type ConstraintKind int

const (
	ConstraintOther ConstraintKind = iota
	ConstraintUnique
	ConstraintPrimaryKey
	ConstraintForeignKey
	ConstraintNotNull
	ConstraintCheck
)

// String returns a short kind name for logs and error messages.
func (k ConstraintKind) String() string {
	switch k {
	case ConstraintUnique:
		return "unique"
	case ConstraintPrimaryKey:
		return "primary key"
	case ConstraintForeignKey:
		return "foreign key"
	case ConstraintNotNull:
		return "not null"
	case ConstraintCheck:
		return "check"
	}
	return "constraint"
}

// ConstraintError reports a statement rejected by a table constraint. It
// wraps the underlying driver error.
type ConstraintError struct {
	Kind  ConstraintKind
	cause error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s constraint violated: %v", e.Kind, e.cause)
}

func (e *ConstraintError) Unwrap() error { return e.cause }

// SQLite primary result code for constraint violations; extended codes
// carry the specific constraint in the high byte.
const sqliteConstraint = 19

const (
	codeConstraintCheck      = sqliteConstraint | (1 << 8)
	codeConstraintForeignKey = sqliteConstraint | (3 << 8)
	codeConstraintNotNull    = sqliteConstraint | (5 << 8)
	codeConstraintPrimaryKey = sqliteConstraint | (6 << 8)
	codeConstraintUnique     = sqliteConstraint | (8 << 8)
)

// wrapError converts recognizable SQLite errors into typed errors and
// passes everything else through unchanged.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return err
	}
	code := serr.Code()
	if code&0xff != sqliteConstraint {
		return err
	}
	kind := ConstraintOther
	switch code {
	case codeConstraintUnique:
		kind = ConstraintUnique
	case codeConstraintPrimaryKey:
		kind = ConstraintPrimaryKey
	case codeConstraintForeignKey:
		kind = ConstraintForeignKey
	case codeConstraintNotNull:
		kind = ConstraintNotNull
	case codeConstraintCheck:
		kind = ConstraintCheck
	}
	return &ConstraintError{Kind: kind, cause: err}
}
