package util

import "errors"

var (
	ErrNoExtractableText = errors.New("no extractable text found in document")
	ErrUnsupportedFormat = errors.New("unsupported file format")

	ErrRateLimitExceeded = errors.New("embedding rate limit exceeded")
	ErrUpstream          = errors.New("upstream provider error")

	ErrInvalidRequest      = errors.New("invalid request")
	ErrAccessDenied        = errors.New("access denied")
	ErrNotFound            = errors.New("not found")
	ErrNoDocumentsSelected = errors.New("no documents selected in this session")
	ErrNoRelevantContent   = errors.New("no relevant content found in the selected documents")
)
