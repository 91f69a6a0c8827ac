package pipeline

import (
	"context"
	"errors"

	"duiwatch/internal/ai"
	"duiwatch/internal/crawler"
	"duiwatch/internal/crawler/parsers"
	"duiwatch/internal/normalizer"
)

// ErrorCategory groups failures in the cycle summary.
type ErrorCategory string

// Error categories.
const (
	CategoryFetch     ErrorCategory = "fetch"
	CategoryParse     ErrorCategory = "parse"
	CategoryAI        ErrorCategory = "ai"
	CategoryNormalize ErrorCategory = "normalize"
	CategoryPersist   ErrorCategory = "persist"
	CategoryTimeout   ErrorCategory = "timeout"
)

// ErrPersist marks failures while reconciling into the store.
var ErrPersist = errors.New("persist failed")

// ErrSourcePanic is returned for a source whose processing panicked.
var ErrSourcePanic = errors.New("source processing panicked")

// Classify maps an error to its category. Unknown errors count as parse
// failures.
func Classify(err error) ErrorCategory {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, ErrPersist):
		return CategoryPersist
	case errors.Is(err, crawler.ErrFetchFailed):
		return CategoryFetch
	case errors.Is(err, ai.ErrBackend),
		errors.Is(err, ai.ErrNoStructuredData),
		errors.Is(err, parsers.ErrNoStructurer):
		return CategoryAI
	case errors.Is(err, normalizer.ErrInvalidRecord):
		return CategoryNormalize
	default:
		return CategoryParse
	}
}
