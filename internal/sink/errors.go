package sink

import (
	"errors"
	"fmt"
)

// ErrSchemaConflict is returned by DeclareTable when a table already
// exists under a different schema.
type ErrSchemaConflict struct {
	Name     string
	Existing TableSchema
	New      TableSchema
}

func (e *ErrSchemaConflict) Error() string {
	return fmt.Sprintf("sink: schema conflict for table %q: existing=%v new=%v", e.Name, e.Existing.Columns, e.New.Columns)
}

// ErrRowShapeMismatch is returned by InsertRow when the supplied values do
// not match the declared column count or types.
type ErrRowShapeMismatch struct {
	Table  string
	Reason string
}

func (e *ErrRowShapeMismatch) Error() string {
	return fmt.Sprintf("sink: row shape mismatch for table %q: %s", e.Table, e.Reason)
}

// ErrUnknownTable is returned when a TableHandle does not correspond to a
// table this sink has declared.
var ErrUnknownTable = errors.New("sink: unknown table handle")
