package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"autovolt-cloud/internal/observability/metrics"
	"autovolt-cloud/internal/telemetry/application"
	telemetry "autovolt-cloud/internal/telemetry/domain"
)

// IngestHandler accepts telemetry uploads from classroom devices.
// The body is a single reading object or an array of them.
type IngestHandler struct {
	service *application.IngestService
	logger  *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(service *application.IngestService, logger *log.Logger) (*IngestHandler, error) {
	if service == nil {
		return nil, errors.New("telemetry ingest: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{service: service, logger: logger}, nil
}

// ServeHTTP ingests telemetry data. Malformed readings are discarded
// and counted; the device always gets a 202 unless the body itself is
// unreadable or storage fails.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	items, err := splitItems(body)
	if err != nil {
		h.logger.Printf("telemetry ingest: decode error: %v", err)
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(started))
		metrics.IncIngestError("invalid_json")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	accepted := 0
	discarded := 0
	for _, item := range items {
		var dto readingDTO
		if err := json.Unmarshal(item, &dto); err != nil {
			discarded++
			metrics.IncIngestError("invalid_json")
			h.logger.Printf("telemetry ingest: bad reading: %v", err)
			continue
		}
		record := dto.toRecord(item)
		result, err := h.service.Ingest(r.Context(), record)
		if err != nil {
			h.logger.Printf("telemetry ingest: internal error: %v", err)
			metrics.ObserveIngest(metrics.IngestResultError, time.Since(started))
			http.Error(w, "ingest error", http.StatusInternalServerError)
			return
		}
		if result.Accepted {
			accepted++
		} else {
			discarded++
		}
	}

	metrics.ObserveIngest(metrics.IngestResultSuccess, time.Since(started))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted":  accepted,
		"discarded": discarded,
	})
}

// splitItems accepts a single JSON object or a JSON array of objects.
func splitItems(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var item json.RawMessage
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return nil, err
	}
	return []json.RawMessage{item}, nil
}

type readingDTO struct {
	DeviceID    string          `json:"device_id"`
	LogicalName string          `json:"logical_name"`
	Classroom   string          `json:"classroom"`
	TS          int64           `json:"ts"`
	Status      string          `json:"status"`
	EnergyWh    *float64        `json:"energy_wh"`
	PowerW      *float64        `json:"power_w"`
	Switches    map[string]bool `json:"switches"`
}

func (d readingDTO) toRecord(raw json.RawMessage) *telemetry.Record {
	record := &telemetry.Record{
		DeviceID:    d.DeviceID,
		LogicalName: d.LogicalName,
		Classroom:   d.Classroom,
		TS:          parseTimestamp(d.TS),
		Status:      d.Status,
		Raw:         append(json.RawMessage(nil), raw...),
	}
	if d.EnergyWh != nil {
		record.Reading = telemetry.Measured{
			EnergyWhCounter: *d.EnergyWh,
			PowerW:          d.PowerW,
			SwitchStates:    d.Switches,
		}
	} else {
		record.Reading = telemetry.Estimated{
			PowerW:       d.PowerW,
			SwitchStates: d.Switches,
		}
	}
	return record
}

// parseTimestamp accepts milliseconds or seconds since the epoch.
func parseTimestamp(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC()
	}
	return time.Unix(value, 0).UTC()
}
