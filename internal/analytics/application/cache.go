package application

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned by SummaryCache reads with no cached value.
var ErrCacheMiss = errors.New("summary cache: miss")

// SummaryCache stores rendered summary payloads. Implementations are
// best-effort: a failing cache degrades to store reads, never to
// errors on the read path.
type SummaryCache interface {
	GetDaily(ctx context.Context, classroom, date string) ([]byte, error)
	SetDaily(ctx context.Context, classroom, date string, payload []byte) error
	GetMonthly(ctx context.Context, classroom, month string) ([]byte, error)
	SetMonthly(ctx context.Context, classroom, month string, payload []byte) error
	InvalidateDay(ctx context.Context, classroom, date string) error
	InvalidateMonth(ctx context.Context, classroom, month string) error
}
