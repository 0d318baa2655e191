package vectorstore

import "errors"

// Store errors. Callers classify with errors.Is.
var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates a collection name violating
	// naming rules.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrConnectionFailed indicates the initial connection could not be
	// established.
	ErrConnectionFailed = errors.New("connection to vector store failed")

	// ErrStorageUnavailable indicates a transient provider failure.
	// The operation can be retried by the caller.
	ErrStorageUnavailable = errors.New("vector storage unavailable")

	// ErrInvalidPayload indicates a record missing mandatory identity
	// fields. Rejected locally, never sent to storage.
	ErrInvalidPayload = errors.New("invalid vector payload")

	// ErrScopeViolation indicates a caller-supplied filter touched the
	// tenant/project scope keys.
	ErrScopeViolation = errors.New("filter may not redefine tenant scope")

	// ErrCountMismatch indicates vectors and payloads of different
	// lengths in one upsert.
	ErrCountMismatch = errors.New("vector and payload counts differ")

	// ErrCollectionNotFound indicates the collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")
)
