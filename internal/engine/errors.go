package engine

import "errors"

var (
	// ErrDataUnavailable means a symbol's history could not be fetched, was empty, or was too short.
	ErrDataUnavailable = errors.New("price history unavailable")
	// ErrIndicatorUndefined means the indicators were not available on the latest bar.
	ErrIndicatorUndefined = errors.New("indicators undefined")
	// ErrBalanceUnavailable means the quote balance could not be read; the cycle is skipped.
	ErrBalanceUnavailable = errors.New("quote balance unavailable")
)

// SkipReason labels why a symbol produced no decision this cycle.
type SkipReason string

const (
	SkipFetchFailed        SkipReason = "fetch_failed"
	SkipNoData             SkipReason = "no_data"
	SkipInvalidPrice       SkipReason = "invalid_price"
	SkipInsufficientData   SkipReason = "insufficient_data"
	SkipIndicatorUndefined SkipReason = "indicator_undefined"
)

// Err maps the reason onto its sentinel error.
func (r SkipReason) Err() error {
	switch r {
	case SkipIndicatorUndefined:
		return ErrIndicatorUndefined
	default:
		return ErrDataUnavailable
	}
}
