package analytics

import "errors"

var (
	// ErrInvalidDate is returned for date keys not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("analytics: invalid date")
	// ErrInvalidMonth is returned for month keys not in YYYY-MM form.
	ErrInvalidMonth = errors.New("analytics: invalid month")
	// ErrInvalidRange is returned when a range end precedes its start.
	ErrInvalidRange = errors.New("analytics: invalid range")
	// ErrInvalidBucket is returned for non-positive timeline buckets.
	ErrInvalidBucket = errors.New("analytics: invalid bucket size")
)
