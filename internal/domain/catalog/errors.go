package catalog

import "errors"

var (
	// ErrProductNotFound indicates the product doesn't exist.
	ErrProductNotFound = errors.New("product not found")
	// ErrInvalidInput indicates an invalid catalog query.
	ErrInvalidInput = errors.New("invalid catalog input")
)
