package detection

import "errors"

var (
	// ErrInvalidConfig reports a configuration value outside its allowed range.
	ErrInvalidConfig = errors.New("invalid detection config")

	// ErrDegenerateTemplate reports a template that cannot be matched, such as
	// an image with no contrast or one too small to correlate.
	ErrDegenerateTemplate = errors.New("degenerate template")

	// ErrUnknownSymbol reports a symbol name with no registered template.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrDuplicatePage reports a page index folded into a document twice.
	ErrDuplicatePage = errors.New("duplicate page")
)
