package interfaces

import (
	"context"
	"errors"
	"log"
	"time"

	ledgerapp "autovolt-cloud/internal/ledger/application"
	"autovolt-cloud/internal/observability/metrics"
	telemetryevents "autovolt-cloud/internal/telemetry/application/events"
	telemetry "autovolt-cloud/internal/telemetry/domain"
)

// RecordStore loads stored telemetry and marks it processed.
type RecordStore interface {
	Get(ctx context.Context, recordID string) (*telemetry.Record, error)
	MarkProcessed(ctx context.Context, recordIDs []string) error
}

// TelemetryReceivedConsumer feeds accepted telemetry into the ledger
// generator. Returning an error keeps the record unprocessed so a
// later sweep can retry it.
type TelemetryReceivedConsumer struct {
	generator *ledgerapp.Generator
	records   RecordStore
	logger    *log.Logger
}

// NewTelemetryReceivedConsumer constructs the consumer.
func NewTelemetryReceivedConsumer(generator *ledgerapp.Generator, records RecordStore, logger *log.Logger) (*TelemetryReceivedConsumer, error) {
	if generator == nil {
		return nil, errors.New("ledger consumer: nil generator")
	}
	if records == nil {
		return nil, errors.New("ledger consumer: nil record store")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TelemetryReceivedConsumer{generator: generator, records: records, logger: logger}, nil
}

// HandleTelemetryReceived handles telemetry TelemetryReceived events.
func (c *TelemetryReceivedConsumer) HandleTelemetryReceived(ctx context.Context, event any) error {
	var evt telemetryevents.TelemetryReceived
	switch e := event.(type) {
	case telemetryevents.TelemetryReceived:
		evt = e
	case *telemetryevents.TelemetryReceived:
		if e == nil {
			return nil
		}
		evt = *e
	default:
		return nil
	}

	if !evt.OccurredAt.IsZero() {
		metrics.ObserveConsumerLag("ledger.telemetry", time.Since(evt.OccurredAt))
	}

	record, err := c.records.Get(ctx, evt.RecordID)
	if err != nil {
		return err
	}
	if record == nil {
		c.logger.Printf("event=ledger_record_missing record_id=%s device_id=%s", evt.RecordID, evt.DeviceID)
		return nil
	}

	created, err := c.generator.Process(ctx, record)
	if err != nil {
		return err
	}
	if created > 0 {
		c.logger.Printf("event=ledger_entries_created device_id=%s record_id=%s entries=%d",
			record.DeviceID, record.RecordID, created)
	}
	return c.records.MarkProcessed(ctx, []string{record.RecordID})
}
