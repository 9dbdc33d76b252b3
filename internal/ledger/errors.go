package ledger

import "errors"

// Trade failures. Quote errors from the market data client are joined
// with ErrQuoteUnavailable so callers can match either.
var (
	ErrQuoteUnavailable     = errors.New("can't resolve quote")
	ErrNoOffer              = errors.New("no sell offers on the market")
	ErrNoBid                = errors.New("no buy bids on the market")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrNoHolding            = errors.New("no such holding")
	ErrPersistence          = errors.New("persistence failure")
)

// Border validation failures.
var (
	ErrBadBorderFormat   = errors.New("border is not a non-negative number")
	ErrMinGreaterThanMax = errors.New("min border is greater than max border")
	ErrNoBorderGiven     = errors.New("notification requires at least one border")
	ErrMissingContact    = errors.New("no contact email on file")
)
