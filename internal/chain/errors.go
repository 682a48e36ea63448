package chain

import (
	"errors"
	"fmt"

	"github.com/roach88/fold/internal/store"
)

// WriteConflictError is returned when every write attempt lost the pointer
// compare-and-swap to a concurrent writer.
type WriteConflictError struct {
	Key      store.PointerKey
	Attempts int
	Last     error // the final *store.ConflictError
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("write conflict on %s after %d attempts", e.Key, e.Attempts)
}

func (e *WriteConflictError) Unwrap() error {
	return e.Last
}

// IsWriteConflict checks if an error is a WriteConflictError.
// Uses errors.As to handle wrapped errors.
func IsWriteConflict(err error) bool {
	var wce *WriteConflictError
	return errors.As(err, &wce)
}
