package common

import "errors"

// Common sentinel errors used across the application
var (
	ErrNilInput     = errors.New("nil input provided")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")

	// Ingestion errors
	ErrFileBusy          = errors.New("file is already being processed")
	ErrFileNotIngestible = errors.New("file is not in an ingestible state")

	// Analytics errors
	ErrInsufficientData = errors.New("insufficient data for analysis")
	ErrEmptyVocabulary  = errors.New("vectorizer produced an empty vocabulary")
)
