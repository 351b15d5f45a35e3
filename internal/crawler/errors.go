package crawler

import "errors"

var (
	// ErrNoSeeds is returned when a session has nothing to start from.
	ErrNoSeeds = errors.New("no seed urls")
	// ErrInvalidConfig wraps every other rejected session bound.
	ErrInvalidConfig = errors.New("invalid crawl config")
	// ErrContentTooShort marks a page whose cleaned text fell below the
	// configured minimum.
	ErrContentTooShort = errors.New("content too short or empty")
)
