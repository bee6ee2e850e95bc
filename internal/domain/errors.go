package domain

import "errors"

var (
	// ErrProviderUnavailable signals an AI provider failure (embedding or completion).
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	// ErrStoreUnavailable signals that the system of record could not be reached.
	ErrStoreUnavailable = errors.New("product store unavailable")
)
