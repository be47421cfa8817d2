package sqlite

import (
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rpggio/shopbrain/internal/repository"
)

type constraint int

const (
	constraintNone constraint = iota
	constraintUnique
	constraintForeignKey
	constraintCheck
)

// constraintOf reports which table constraint a failed write broke. The
// driver returns extended result codes; the message match covers errors that
// were flattened to text on the way up.
func constraintOf(err error) constraint {
	if err == nil {
		return constraintNone
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return constraintUnique
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return constraintForeignKey
		case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return constraintCheck
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return constraintUnique
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return constraintForeignKey
	case strings.Contains(msg, "CHECK constraint failed"), strings.Contains(msg, "NOT NULL constraint failed"):
		return constraintCheck
	}
	return constraintNone
}

// writeError maps a failed insert or update to the repository errors. A
// duplicate id or key is ErrConflict; an unknown parent or a value the schema
// rejects is ErrInvalidInput. Anything else is wrapped with op.
func writeError(op string, err error) error {
	switch constraintOf(err) {
	case constraintUnique:
		return fmt.Errorf("%s: %w", op, repository.ErrConflict)
	case constraintForeignKey, constraintCheck:
		return fmt.Errorf("%s: %w", op, repository.ErrInvalidInput)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
