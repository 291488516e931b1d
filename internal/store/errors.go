package store

import (
	"fmt"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

func collectionNotFound(collection string) error {
	return crerrors.New(crerrors.ErrCodeCollectionNotFound,
		fmt.Sprintf("collection %q does not exist", collection), nil).
		WithDetail("collection", collection)
}

func checkDimension(want int, v []float32) error {
	if len(v) != want {
		return crerrors.DimensionMismatchError(want, len(v))
	}
	return nil
}

func errClosed(backend string) error {
	return crerrors.InternalError(backend+" store is closed", nil)
}

func invalidInput(msg string) error {
	return crerrors.ValidationError(msg, nil)
}

// dimensionConflict reports an existing collection declared with another size.
func dimensionConflict(existing, requested int) error {
	return crerrors.DimensionMismatchError(existing, requested).
		WithSuggestion("Use a new collection name or rebuild the index after changing embedding models")
}
