package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	schoolStartHour = 8
	schoolEndHour   = 17
)

type config struct {
	dsn                 string
	baseURL             string
	authToken           string
	classroomGrade      int
	classroomCount      int
	devicesPerClassroom int
	switchesPerDevice   int
	startDate           string
	days                int
	ratedPowerW         float64
	costPerKWh          float64
	currency            string
	intervalMinutes     int
	seedDevices         bool
	seedPrices          bool
	seedTelemetry       bool
	seedLedger          bool
	recalculate         bool
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.classroomCount <= 0 {
		log.Fatal("classroom-count must be > 0")
	}
	if cfg.devicesPerClassroom <= 0 {
		log.Fatal("devices-per-classroom must be > 0")
	}
	if cfg.days <= 0 {
		log.Fatal("days must be > 0")
	}

	start, err := parseStartDate(cfg.startDate)
	if err != nil {
		log.Fatalf("invalid start-date: %v", err)
	}

	classrooms := buildClassrooms(cfg.classroomGrade, cfg.classroomCount)

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	if cfg.seedDevices {
		log.Printf("seeding devices: classrooms=%d devices=%d switches=%d", len(classrooms), cfg.devicesPerClassroom, cfg.switchesPerDevice)
		if err := seedDevices(ctx, db, classrooms, cfg); err != nil {
			log.Fatalf("seed devices: %v", err)
		}
	}

	if cfg.seedPrices {
		log.Printf("seeding global cost version: %.2f %s from %s", cfg.costPerKWh, cfg.currency, start.Format("2006-01-02"))
		if err := seedCostVersion(ctx, db, cfg.costPerKWh, cfg.currency, start); err != nil {
			log.Fatalf("seed cost version: %v", err)
		}
	}

	if cfg.seedTelemetry {
		log.Printf("seeding telemetry records: classrooms=%d days=%d interval=%dm", len(classrooms), cfg.days, cfg.intervalMinutes)
		if err := seedTelemetry(ctx, db, classrooms, start, cfg); err != nil {
			log.Fatalf("seed telemetry: %v", err)
		}
	}

	if cfg.seedLedger {
		log.Printf("seeding ledger entries: classrooms=%d days=%d", len(classrooms), cfg.days)
		if err := seedLedger(ctx, db, classrooms, start, cfg); err != nil {
			log.Fatalf("seed ledger: %v", err)
		}
	}

	if cfg.recalculate {
		if cfg.baseURL == "" {
			log.Fatal("base-url is required when recalculate is enabled")
		}
		from := start.Format("2006-01-02")
		to := start.AddDate(0, 0, cfg.days-1).Format("2006-01-02")
		log.Printf("recalculating aggregates via API: %s..%s", from, to)
		for _, classroom := range classrooms {
			days, months, err := triggerRecalculate(ctx, cfg.baseURL, cfg.authToken, classroom, from, to)
			if err != nil {
				log.Fatalf("recalculate %s: %v", classroom, err)
			}
			log.Printf("recalculated %s: days=%d months=%d", classroom, days, months)
		}
	}

	log.Printf("seed completed")
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", ""), "API base URL for recalculation")
	flag.StringVar(&cfg.authToken, "auth-token", envOrDefault("AUTH_TOKEN", ""), "bearer token for API calls")
	flag.IntVar(&cfg.classroomGrade, "classroom-grade", envOrInt("CLASSROOM_GRADE", 6), "starting grade for classroom names")
	flag.IntVar(&cfg.classroomCount, "classroom-count", envOrInt("CLASSROOM_COUNT", 4), "number of classrooms to seed")
	flag.IntVar(&cfg.devicesPerClassroom, "devices-per-classroom", envOrInt("DEVICES_PER_CLASSROOM", 3), "devices per classroom")
	flag.IntVar(&cfg.switchesPerDevice, "switches-per-device", envOrInt("SWITCHES_PER_DEVICE", 4), "switches per device")
	flag.StringVar(&cfg.startDate, "start-date", envOrDefault("START_DATE", ""), "start date (YYYY-MM-DD or RFC3339)")
	flag.IntVar(&cfg.days, "days", envOrInt("DAYS", 7), "number of days to seed")
	flag.Float64Var(&cfg.ratedPowerW, "rated-power-w", envOrFloat("RATED_POWER_W", 40), "rated power per switch in watts")
	flag.Float64Var(&cfg.costPerKWh, "cost-per-kwh", envOrFloat("COST_PER_KWH", 7.5), "seeded global price")
	flag.StringVar(&cfg.currency, "currency", envOrDefault("CURRENCY", "INR"), "seeded price currency")
	flag.IntVar(&cfg.intervalMinutes, "interval-minutes", envOrInt("INTERVAL_MINUTES", 15), "telemetry cadence in minutes")
	flag.BoolVar(&cfg.seedDevices, "seed-devices", envOrBool("SEED_DEVICES", true), "seed the device registry")
	flag.BoolVar(&cfg.seedPrices, "seed-prices", envOrBool("SEED_PRICES", true), "seed a global cost version")
	flag.BoolVar(&cfg.seedTelemetry, "seed-telemetry", envOrBool("SEED_TELEMETRY", true), "seed raw telemetry records")
	flag.BoolVar(&cfg.seedLedger, "seed-ledger", envOrBool("SEED_LEDGER", true), "seed ledger entries for school hours")
	flag.BoolVar(&cfg.recalculate, "recalculate", envOrBool("RECALCULATE", false), "trigger recalculation via API")
	flag.Parse()
	return cfg
}

func parseStartDate(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Now().UTC().AddDate(0, 0, -7).Truncate(24 * time.Hour), nil
	}
	value = strings.TrimSpace(value)
	if strings.Contains(value, "T") {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func buildClassrooms(grade, count int) []string {
	list := make([]string, 0, count)
	for i := 0; i < count; i++ {
		list = append(list, fmt.Sprintf("%d%c", grade+i/26, 'A'+i%26))
	}
	return list
}

func deviceID(classroom string, n int) string {
	return fmt.Sprintf("dev-%s-%02d", strings.ToLower(classroom), n)
}

func seedDevices(ctx context.Context, db *sql.DB, classrooms []string, cfg config) error {
	const deviceSQL = `
INSERT INTO devices (device_id, logical_name, classroom, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (device_id)
DO UPDATE SET logical_name = EXCLUDED.logical_name, classroom = EXCLUDED.classroom, updated_at = EXCLUDED.updated_at`

	const switchSQL = `
INSERT INTO device_switches (device_id, switch_id, name, rated_power_w, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (device_id, switch_id)
DO UPDATE SET name = EXCLUDED.name, rated_power_w = EXCLUDED.rated_power_w, updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	for _, classroom := range classrooms {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for n := 1; n <= cfg.devicesPerClassroom; n++ {
			id := deviceID(classroom, n)
			name := fmt.Sprintf("%s board %d", classroom, n)
			if _, err := tx.ExecContext(ctx, deviceSQL, id, name, classroom, now); err != nil {
				_ = tx.Rollback()
				return err
			}
			for s := 1; s <= cfg.switchesPerDevice; s++ {
				switchID := fmt.Sprintf("sw%d", s)
				switchName := switchLabel(s)
				if _, err := tx.ExecContext(ctx, switchSQL, id, switchID, switchName, cfg.ratedPowerW, now); err != nil {
					_ = tx.Rollback()
					return err
				}
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Printf("seeded devices for classroom %s", classroom)
	}
	return nil
}

// switchLabel names switches the way school electricians label boards:
// fans first, then lights.
func switchLabel(n int) string {
	if n%2 == 1 {
		return fmt.Sprintf("Fan %d", (n+1)/2)
	}
	return fmt.Sprintf("Light %d", n/2)
}

func seedCostVersion(ctx context.Context, db *sql.DB, costPerKWh float64, currency string, effectiveFrom time.Time) error {
	const insertSQL = `
INSERT INTO cost_versions (id, scope, classroom, cost_per_kwh, currency, effective_from, notes, created_by, created_at)
VALUES ($1, 'global', '', $2, $3, $4, 'seeded baseline tariff', 'seed-tool', $5)
ON CONFLICT (id)
DO UPDATE SET cost_per_kwh = EXCLUDED.cost_per_kwh, currency = EXCLUDED.currency, effective_from = EXCLUDED.effective_from`

	_, err := db.ExecContext(ctx, insertSQL, "seed-global", costPerKWh, currency, effectiveFrom.UTC(), time.Now().UTC())
	return err
}

func seedTelemetry(ctx context.Context, db *sql.DB, classrooms []string, start time.Time, cfg config) error {
	const insertSQL = `
INSERT INTO telemetry_records (
	record_id,
	device_id,
	logical_name,
	classroom,
	ts,
	kind,
	energy_wh_counter,
	power_w,
	switch_states,
	status,
	raw,
	received_at,
	processed
) VALUES (
	$1,$2,$3,$4,$5,'measured',$6,$7,$8,'online',NULL,$9,TRUE
)
ON CONFLICT (device_id, ts) DO NOTHING`

	interval := time.Duration(cfg.intervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	readingsPerDay := int(24 * time.Hour / interval)

	now := time.Now().UTC()
	for _, classroom := range classrooms {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			_ = tx.Rollback()
			return err
		}

		count := 0
		for n := 1; n <= cfg.devicesPerClassroom; n++ {
			devID := deviceID(classroom, n)
			name := fmt.Sprintf("%s board %d", classroom, n)
			counter := 0.0
			for day := 0; day < cfg.days; day++ {
				dayStart := start.AddDate(0, 0, day)
				for r := 0; r < readingsPerDay; r++ {
					ts := dayStart.Add(time.Duration(r) * interval)
					states := switchStatesAt(ts, cfg.switchesPerDevice)
					power := 0.0
					for _, on := range states {
						if on {
							power += cfg.ratedPowerW
						}
					}
					counter += power * interval.Hours()
					statesJSON, err := json.Marshal(states)
					if err != nil {
						_ = stmt.Close()
						_ = tx.Rollback()
						return err
					}
					recordID := fmt.Sprintf("seed-%s-%d", devID, ts.Unix())
					if _, err := stmt.ExecContext(ctx, recordID, devID, name, classroom, ts, counter, power, statesJSON, now); err != nil {
						_ = stmt.Close()
						_ = tx.Rollback()
						return err
					}
					count++
				}
			}
		}

		if err := stmt.Close(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Printf("seeded %d telemetry records for classroom %s", count, classroom)
	}
	return nil
}

// switchStatesAt mirrors the ledger seeding pattern: everything on during
// school hours, even switches resting on even hours.
func switchStatesAt(ts time.Time, switches int) map[string]bool {
	hour := ts.Hour()
	inSchool := hour >= schoolStartHour && hour < schoolEndHour
	states := make(map[string]bool, switches)
	for s := 1; s <= switches; s++ {
		on := inSchool
		if on && s%2 == 0 && hour%2 == 0 {
			on = false
		}
		states[fmt.Sprintf("sw%d", s)] = on
	}
	return states
}

func seedLedger(ctx context.Context, db *sql.DB, classrooms []string, start time.Time, cfg config) error {
	const insertSQL = `
INSERT INTO ledger_entries (
	entry_id,
	device_id,
	switch_id,
	switch_name,
	classroom,
	start_ts,
	end_ts,
	duration_seconds,
	delta_wh,
	power_w,
	switch_state,
	method,
	confidence,
	reason,
	cost_per_kwh,
	cost_inr,
	currency,
	price_version_id,
	calc_run_id,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
)
ON CONFLICT (device_id, switch_id, start_ts)
DO UPDATE SET
	end_ts = EXCLUDED.end_ts,
	duration_seconds = EXCLUDED.duration_seconds,
	delta_wh = EXCLUDED.delta_wh,
	cost_per_kwh = EXCLUDED.cost_per_kwh,
	cost_inr = EXCLUDED.cost_inr`

	now := time.Now().UTC()
	for _, classroom := range classrooms {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			_ = tx.Rollback()
			return err
		}

		count := 0
		for n := 1; n <= cfg.devicesPerClassroom; n++ {
			devID := deviceID(classroom, n)
			for day := 0; day < cfg.days; day++ {
				dayStart := start.AddDate(0, 0, day)
				for hour := schoolStartHour; hour < schoolEndHour; hour++ {
					blockStart := dayStart.Add(time.Duration(hour) * time.Hour)
					blockEnd := blockStart.Add(time.Hour)
					for s := 1; s <= cfg.switchesPerDevice; s++ {
						switchID := fmt.Sprintf("sw%d", s)
						// Even-numbered switches rest half the day so
						// summaries are not uniform across switches.
						if s%2 == 0 && hour%2 == 0 {
							continue
						}
						deltaWh := cfg.ratedPowerW
						cost := deltaWh / 1000 * cfg.costPerKWh
						entryID := fmt.Sprintf("seed-%s-%s-%s", devID, switchID, blockStart.Format("20060102T15"))
						if _, err := stmt.ExecContext(
							ctx,
							entryID,
							devID,
							switchID,
							switchLabel(s),
							classroom,
							blockStart,
							blockEnd,
							3600.0,
							deltaWh,
							cfg.ratedPowerW,
							true,
							"measured",
							"high",
							"",
							cfg.costPerKWh,
							cost,
							cfg.currency,
							"seed-global",
							"seed",
							now,
						); err != nil {
							_ = stmt.Close()
							_ = tx.Rollback()
							return err
						}
						count++
					}
				}
			}
		}

		if err := stmt.Close(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Printf("seeded %d ledger entries for classroom %s", count, classroom)
	}
	return nil
}

func triggerRecalculate(ctx context.Context, baseURL, token, classroom, from, to string) (int, int, error) {
	client := &http.Client{Timeout: 60 * time.Second}
	baseURL = strings.TrimRight(baseURL, "/")
	body := map[string]any{
		"classroom": classroom,
		"from":      from,
		"to":        to,
	}
	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/admin/recalculate", bytes.NewReader(payload))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, 0, fmt.Errorf("recalculate failed for %s: http %d", classroom, resp.StatusCode)
	}
	var result struct {
		Days   int `json:"days"`
		Months int `json:"months"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, 0, err
	}
	return result.Days, result.Months, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envOrFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func envOrBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
