package models

import "errors"

// Error taxonomy for the pipeline. Per-page and per-block failures are
// isolated annotations (PageFailure, LowConfidence, Oversized) and never
// surface as errors; the sentinels below cover the fatal and transient cases.
var (
	// ErrExtraction is fatal for one document: zero pages survived extraction.
	ErrExtraction = errors.New("extraction failed: no pages survived")

	// ErrUnsupportedFormat marks input no extractor can handle. Not retryable.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrPageFailed marks a single corrupt page. Recoverable; the page is
	// skipped and recorded on the document.
	ErrPageFailed = errors.New("page failed")

	// ErrEmbeddingUnavailable is a transient embedding provider failure and
	// is retried with bounded backoff.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrInputTooLong means the embedding input exceeds the model limit.
	// Not retryable; the caller must pre-truncate.
	ErrInputTooLong = errors.New("embedding input too long")

	// ErrRerankTimeout triggers the fused-score fallback ordering.
	ErrRerankTimeout = errors.New("rerank timed out")

	// ErrRerankUnavailable triggers the fused-score fallback ordering.
	ErrRerankUnavailable = errors.New("rerank service unavailable")

	// ErrDocumentNotFound is returned for lookups of unknown document ids.
	ErrDocumentNotFound = errors.New("document not found")
)

// IsTransient reports whether an error should be retried with backoff.
// Malformed input and version mismatches are permanent by definition.
func IsTransient(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrRerankTimeout) ||
		errors.Is(err, ErrRerankUnavailable)
}
