// Package recallerr defines the error taxonomy shared across the ingestion
// and retrieval engines. The failures callers branch on wrap one of these
// sentinels so they can be classified with errors.Is without parsing
// messages; other errors (config loading, non-retryable HTTP statuses,
// malformed responses) are plain wrapped errors.
package recallerr

import "errors"

var (
	// ErrTransientIO covers 5xx/429 responses and request failures from the
	// remote embedding service, and any failed embedding call in the
	// ingestion and retrieval engines. The remote provider retries with
	// exponential backoff before returning it. Vector store failures wrap
	// ErrStoreUnavailable instead.
	ErrTransientIO = errors.New("transient io error")

	// ErrMalformedRecord marks a transcript line that failed to parse as JSON.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrFileGone marks a transcript file that disappeared mid-scan.
	ErrFileGone = errors.New("file gone")

	// ErrFileTruncated marks a transcript file whose size fell below the
	// last recorded byte offset.
	ErrFileTruncated = errors.New("file truncated")

	// ErrEmbeddingInit marks a local embedding model that failed to load
	// within its startup timeout.
	ErrEmbeddingInit = errors.New("embedding init failed")

	// ErrEmbeddingOverBudget marks a single chunk that still exceeds the
	// remote token budget after the maximum number of batch splits.
	ErrEmbeddingOverBudget = errors.New("embedding over budget")

	// ErrCollectionCreateRace marks a "collection already exists" response
	// from the vector store during lazy creation; it is swallowed by C5.
	ErrCollectionCreateRace = errors.New("collection create race")

	// ErrStoreUnavailable marks a vector store connection failure.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrNoCollections marks a retrieval request whose resolved collection
	// set is empty after filtering.
	ErrNoCollections = errors.New("no collections")

	// ErrInvalidArgument marks a malformed RPC argument.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTimeout marks any outbound call exceeding its deadline; treated as
	// ErrTransientIO by callers.
	ErrTimeout = errors.New("timeout")

	// ErrNotFound marks a get_full_conversation lookup whose transcript file
	// is not found under any configured log root.
	ErrNotFound = errors.New("not found")

	// ErrFatalInternal marks a programmer error (assertion failure). The
	// caller should propagate and let the process crash; state is safe
	// because of atomic commits.
	ErrFatalInternal = errors.New("fatal internal error")
)
