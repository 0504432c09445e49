package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Atomic runs fn inside a transaction on conn. At the outermost call it
// issues BEGIN and finishes with COMMIT or ROLLBACK; nested calls open a
// savepoint, so an inner failure rolls back only the inner block while the
// outer transaction's work survives.
//
// The block is rolled back when fn returns an error, when fn panics (the
// panic is re-raised), when ctx is cancelled before commit, or when the
// commit itself fails, so the connection never keeps a transaction open
// after Atomic returns. Rollback
// itself runs detached from ctx so cancellation cannot strand an open
// transaction. If rollback fails too, both errors are returned joined.
func Atomic(ctx context.Context, conn *Conn, fn func(ctx context.Context) error) (err error) {
	depth := conn.txDepth
	if depth == 0 {
		_, err = conn.Exec(ctx, "BEGIN")
	} else {
		_, err = conn.Exec(ctx, savepointSQL("SAVEPOINT", depth))
	}
	if err != nil {
		return err
	}
	conn.txDepth = depth + 1
	conn.log.Debug("transaction block opened", slog.Int("depth", depth))

	defer func() {
		conn.txDepth = depth
		if p := recover(); p != nil {
			if rbErr := rollbackTo(conn, depth); rbErr != nil {
				conn.log.Error("rollback after panic failed", slog.Any("error", rbErr))
			}
			panic(p)
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			if rbErr := rollbackTo(conn, depth); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			conn.log.Debug("transaction block rolled back", slog.Int("depth", depth))
			return
		}
		if depth == 0 {
			_, err = conn.Exec(ctx, "COMMIT")
		} else {
			_, err = conn.Exec(ctx, savepointSQL("RELEASE", depth))
		}
		// A failed COMMIT or RELEASE leaves the transaction open, so it
		// must be unwound here or the connection stays dirty.
		if err != nil {
			if rbErr := rollbackTo(conn, depth); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			conn.log.Debug("transaction block rolled back", slog.Int("depth", depth))
		}
	}()

	return fn(ctx)
}

// rollbackTo unwinds the block opened at depth. It must work even when the
// caller's context is already cancelled.
func rollbackTo(conn *Conn, depth int) error {
	ctx := context.Background()
	if depth == 0 {
		_, err := conn.Exec(ctx, "ROLLBACK")
		return err
	}
	if _, err := conn.Exec(ctx, savepointSQL("ROLLBACK TO", depth)); err != nil {
		return err
	}
	// Discard the savepoint so the name can be reused by a later block.
	_, err := conn.Exec(ctx, savepointSQL("RELEASE", depth))
	return err
}

func savepointSQL(verb string, depth int) string {
	return fmt.Sprintf("%s sp_%d", verb, depth)
}
