package orm

import (
	"errors"

	"github.com/danthegoodman1/usedcars/database"
)

var (
	ErrInvalidSchema           = errors.New("invalid schema declaration")
	ErrUnmappedColumn          = errors.New("column has no matching struct field")
	ErrUnknownColumn           = errors.New("unknown column")
	ErrNotPersisted            = errors.New("entity has no primary key set")
	ErrCompositeKeyUnsupported = errors.New("loading by composite key is not supported")
	ErrUnsupportedSource       = errors.New("external source must be a map or a struct")

	// Shared with the database layer so callers only need one errors.Is target.
	ErrKeyArityMismatch = database.ErrKeyArityMismatch
	ErrRecordNotFound   = database.ErrRecordNotFound
)
