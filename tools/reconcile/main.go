package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const timeLayout = time.RFC3339

type config struct {
	dbURL          string
	classroom      string
	month          string
	outDir         string
	trigger        bool
	baseURL        string
	authToken      string
	legacyDailyCSV string
}

type ledgerRow struct {
	EntryID         string
	DeviceID        string
	SwitchID        string
	SwitchName      string
	Classroom       string
	StartTS         time.Time
	EndTS           time.Time
	DurationSeconds float64
	DeltaWh         float64
	PowerW          *float64
	SwitchState     bool
	Method          string
	Confidence      string
	Reason          string
	CostPerKWh      float64
	CostINR         float64
	Currency        string
	PriceVersionID  string
	CalcRunID       string
	CreatedAt       time.Time
}

type dailyRow struct {
	DeviceID       string
	Classroom      string
	Date           string
	Timezone       string
	TotalWh        float64
	TotalKWh       float64
	OnTimeSec      float64
	CostAtCalcTime float64
	Currency       string
	MeasuredWh     float64
	EstimatedWh    float64
	EntriesHigh    int
	EntriesMedium  int
	EntriesLow     int
	CalcRunID      string
	CalculatedAt   time.Time
}

type monthlyRow struct {
	DeviceID       string
	Classroom      string
	Month          string
	Timezone       string
	TotalWh        float64
	TotalKWh       float64
	OnTimeSec      float64
	CostAtCalcTime float64
	Currency       string
	CalcRunID      string
	CalculatedAt   time.Time
}

type legacyDay struct {
	Date      string
	EnergyKWh float64
	Cost      float64
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "create out dir:", err)
		os.Exit(2)
	}

	ctx := context.Background()

	if cfg.trigger {
		if err := triggerReconcile(ctx, cfg.baseURL, cfg.authToken); err != nil {
			fmt.Fprintln(os.Stderr, "trigger reconcile:", err)
			os.Exit(2)
		}
	}

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	monthStart, monthEnd, err := parseMonth(cfg.month)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	entries, err := loadLedger(ctx, db, cfg.classroom, monthStart, monthEnd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load ledger:", err)
		os.Exit(2)
	}

	dailies, err := loadDailies(ctx, db, cfg.classroom, monthStart, monthEnd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load dailies:", err)
		os.Exit(2)
	}

	monthlies, err := loadMonthlies(ctx, db, cfg.classroom, cfg.month)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load monthlies:", err)
		os.Exit(2)
	}

	if err := writeLedger(cfg.outDir, entries); err != nil {
		fmt.Fprintln(os.Stderr, "write ledger:", err)
		os.Exit(2)
	}
	if err := writeDailies(cfg.outDir, dailies); err != nil {
		fmt.Fprintln(os.Stderr, "write dailies:", err)
		os.Exit(2)
	}
	if err := writeMonthlies(cfg.outDir, monthlies); err != nil {
		fmt.Fprintln(os.Stderr, "write monthlies:", err)
		os.Exit(2)
	}

	if cfg.legacyDailyCSV != "" {
		legacy, err := loadLegacyDays(cfg.legacyDailyCSV)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load legacy days:", err)
			os.Exit(2)
		}
		if err := writeDiffReport(cfg.outDir, dailies, legacy); err != nil {
			fmt.Fprintln(os.Stderr, "write diff report:", err)
			os.Exit(2)
		}
	}

	fmt.Printf("Reconciliation outputs written to %s\n", cfg.outDir)
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.classroom, "classroom", "", "classroom label")
	flag.StringVar(&cfg.month, "month", "", "month in YYYY-MM")
	flag.StringVar(&cfg.outDir, "out", "./out", "output directory")
	flag.BoolVar(&cfg.trigger, "trigger", false, "trigger a reconcile sweep via the API before dumping")
	flag.StringVar(&cfg.baseURL, "base-url", getenvDefault("BASE_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&cfg.authToken, "auth-token", getenvDefault("AUTH_TOKEN", ""), "bearer token for API calls")
	flag.StringVar(&cfg.legacyDailyCSV, "legacy-daily-csv", "", "legacy daily CSV path (optional)")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("missing --db or DATABASE_URL/PG_DSN")
	}
	if cfg.classroom == "" {
		return cfg, errors.New("missing --classroom")
	}
	if cfg.month == "" {
		return cfg, errors.New("missing --month (YYYY-MM)")
	}
	return cfg, nil
}

func triggerReconcile(ctx context.Context, baseURL, token string) error {
	client := &http.Client{Timeout: 5 * time.Minute}
	baseURL = strings.TrimRight(baseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/admin/reconcile", bytes.NewReader(nil))
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	var report struct {
		RunID            string   `json:"run_id"`
		DevicesChecked   int      `json:"devices_checked"`
		GapsFound        int      `json:"gaps_found"`
		EntriesCreated   int      `json:"entries_created"`
		ReaggregatedDays int      `json:"reaggregated_days"`
		Failed           []string `json:"failed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return err
	}
	fmt.Printf("reconcile run %s: checked=%d gaps=%d entries=%d days=%d failed=%d\n",
		report.RunID, report.DevicesChecked, report.GapsFound, report.EntriesCreated, report.ReaggregatedDays, len(report.Failed))
	return nil
}

func parseMonth(value string) (time.Time, time.Time, error) {
	t, err := time.Parse("2006-01", value)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("month must be YYYY-MM")
	}
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return start, end, nil
}

func loadLedger(ctx context.Context, db *sql.DB, classroom string, from, to time.Time) ([]ledgerRow, error) {
	rows, err := db.QueryContext(ctx, `
SELECT
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
FROM ledger_entries
WHERE classroom = $1
	AND end_ts > $2
	AND start_ts < $3
ORDER BY start_ts ASC`, classroom, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledgerRow
	for rows.Next() {
		var row ledgerRow
		var power sql.NullFloat64
		if err := rows.Scan(
			&row.EntryID,
			&row.DeviceID,
			&row.SwitchID,
			&row.SwitchName,
			&row.Classroom,
			&row.StartTS,
			&row.EndTS,
			&row.DurationSeconds,
			&row.DeltaWh,
			&power,
			&row.SwitchState,
			&row.Method,
			&row.Confidence,
			&row.Reason,
			&row.CostPerKWh,
			&row.CostINR,
			&row.Currency,
			&row.PriceVersionID,
			&row.CalcRunID,
			&row.CreatedAt,
		); err != nil {
			return nil, err
		}
		row.StartTS = row.StartTS.UTC()
		row.EndTS = row.EndTS.UTC()
		row.CreatedAt = row.CreatedAt.UTC()
		if power.Valid {
			p := power.Float64
			row.PowerW = &p
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func loadDailies(ctx context.Context, db *sql.DB, classroom string, from, to time.Time) ([]dailyRow, error) {
	rows, err := db.QueryContext(ctx, `
SELECT
	device_id,
	classroom,
	date,
	timezone,
	total_wh,
	total_kwh,
	on_time_sec,
	cost_at_calc_time,
	currency,
	measured_wh,
	estimated_wh,
	entries_high,
	entries_medium,
	entries_low,
	calc_run_id,
	calculated_at
FROM daily_aggregates
WHERE classroom = $1
	AND date >= $2
	AND date < $3
ORDER BY date ASC, device_id ASC`, classroom, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []dailyRow
	for rows.Next() {
		var row dailyRow
		if err := rows.Scan(
			&row.DeviceID,
			&row.Classroom,
			&row.Date,
			&row.Timezone,
			&row.TotalWh,
			&row.TotalKWh,
			&row.OnTimeSec,
			&row.CostAtCalcTime,
			&row.Currency,
			&row.MeasuredWh,
			&row.EstimatedWh,
			&row.EntriesHigh,
			&row.EntriesMedium,
			&row.EntriesLow,
			&row.CalcRunID,
			&row.CalculatedAt,
		); err != nil {
			return nil, err
		}
		row.CalculatedAt = row.CalculatedAt.UTC()
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func loadMonthlies(ctx context.Context, db *sql.DB, classroom, month string) ([]monthlyRow, error) {
	rows, err := db.QueryContext(ctx, `
SELECT
	device_id,
	classroom,
	month,
	timezone,
	total_wh,
	total_kwh,
	on_time_sec,
	cost_at_calc_time,
	currency,
	calc_run_id,
	calculated_at
FROM monthly_aggregates
WHERE classroom = $1 AND month = $2
ORDER BY device_id ASC`, classroom, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []monthlyRow
	for rows.Next() {
		var row monthlyRow
		if err := rows.Scan(
			&row.DeviceID,
			&row.Classroom,
			&row.Month,
			&row.Timezone,
			&row.TotalWh,
			&row.TotalKWh,
			&row.OnTimeSec,
			&row.CostAtCalcTime,
			&row.Currency,
			&row.CalcRunID,
			&row.CalculatedAt,
		); err != nil {
			return nil, err
		}
		row.CalculatedAt = row.CalculatedAt.UTC()
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func writeLedger(outDir string, rows []ledgerRow) error {
	path := filepath.Join(outDir, "ledger_entries.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{
		"entry_id",
		"device_id",
		"switch_id",
		"switch_name",
		"classroom",
		"start_ts",
		"end_ts",
		"duration_seconds",
		"delta_wh",
		"power_w",
		"switch_state",
		"method",
		"confidence",
		"reason",
		"cost_per_kwh",
		"cost_inr",
		"currency",
		"price_version_id",
		"calc_run_id",
		"created_at",
	}); err != nil {
		return err
	}

	for _, row := range rows {
		if err := writer.Write([]string{
			row.EntryID,
			row.DeviceID,
			row.SwitchID,
			row.SwitchName,
			row.Classroom,
			formatTime(row.StartTS),
			formatTime(row.EndTS),
			formatFloat(row.DurationSeconds),
			formatFloat(row.DeltaWh),
			formatFloatPtr(row.PowerW),
			formatBool(row.SwitchState),
			row.Method,
			row.Confidence,
			row.Reason,
			formatFloat(row.CostPerKWh),
			formatFloat(row.CostINR),
			row.Currency,
			row.PriceVersionID,
			row.CalcRunID,
			formatTime(row.CreatedAt),
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeDailies(outDir string, rows []dailyRow) error {
	path := filepath.Join(outDir, "daily_aggregates.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{
		"device_id",
		"classroom",
		"date",
		"timezone",
		"total_wh",
		"total_kwh",
		"on_time_sec",
		"cost_at_calc_time",
		"currency",
		"measured_wh",
		"estimated_wh",
		"entries_high",
		"entries_medium",
		"entries_low",
		"calc_run_id",
		"calculated_at",
	}); err != nil {
		return err
	}

	for _, row := range rows {
		if err := writer.Write([]string{
			row.DeviceID,
			row.Classroom,
			row.Date,
			row.Timezone,
			formatFloat(row.TotalWh),
			formatFloat(row.TotalKWh),
			formatFloat(row.OnTimeSec),
			formatFloat(row.CostAtCalcTime),
			row.Currency,
			formatFloat(row.MeasuredWh),
			formatFloat(row.EstimatedWh),
			formatInt(row.EntriesHigh),
			formatInt(row.EntriesMedium),
			formatInt(row.EntriesLow),
			row.CalcRunID,
			formatTime(row.CalculatedAt),
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeMonthlies(outDir string, rows []monthlyRow) error {
	path := filepath.Join(outDir, "monthly_aggregates.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{
		"device_id",
		"classroom",
		"month",
		"timezone",
		"total_wh",
		"total_kwh",
		"on_time_sec",
		"cost_at_calc_time",
		"currency",
		"calc_run_id",
		"calculated_at",
	}); err != nil {
		return err
	}

	for _, row := range rows {
		if err := writer.Write([]string{
			row.DeviceID,
			row.Classroom,
			row.Month,
			row.Timezone,
			formatFloat(row.TotalWh),
			formatFloat(row.TotalKWh),
			formatFloat(row.OnTimeSec),
			formatFloat(row.CostAtCalcTime),
			row.Currency,
			row.CalcRunID,
			formatTime(row.CalculatedAt),
		}); err != nil {
			return err
		}
	}
	return nil
}

// loadLegacyDays reads the spreadsheet export the school kept before
// this system existed: one row per day with kWh and cost columns.
func loadLegacyDays(path string) ([]legacyDay, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 1 {
		return nil, errors.New("legacy csv: empty")
	}
	header := make(map[string]int)
	for i, name := range records[0] {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}
	dateIdx := findHeader(header, "date", "day")
	energyIdx := findHeader(header, "energy_kwh", "kwh", "energy")
	costIdx := findHeader(header, "cost", "cost_inr", "amount")
	if dateIdx < 0 || energyIdx < 0 || costIdx < 0 {
		return nil, errors.New("legacy csv requires headers: date, energy_kwh, cost")
	}

	var result []legacyDay
	for _, row := range records[1:] {
		if dateIdx >= len(row) {
			continue
		}
		date := strings.TrimSpace(row[dateIdx])
		if date == "" {
			continue
		}
		energy, err := parseFloat(row[energyIdx])
		if err != nil {
			return nil, err
		}
		cost, err := parseFloat(row[costIdx])
		if err != nil {
			return nil, err
		}
		result = append(result, legacyDay{Date: date, EnergyKWh: energy, Cost: cost})
	}
	return result, nil
}

func writeDiffReport(outDir string, dailies []dailyRow, legacy []legacyDay) error {
	path := filepath.Join(outDir, "diff_report.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{
		"date",
		"kwh_local",
		"kwh_legacy",
		"kwh_diff",
		"cost_local",
		"cost_legacy",
		"cost_diff",
	}); err != nil {
		return err
	}

	type dayTotal struct {
		kwh  float64
		cost float64
	}
	localMap := make(map[string]dayTotal)
	for _, row := range dailies {
		total := localMap[row.Date]
		total.kwh += row.TotalKWh
		total.cost += row.CostAtCalcTime
		localMap[row.Date] = total
	}
	legacyMap := make(map[string]dayTotal)
	for _, row := range legacy {
		legacyMap[row.Date] = dayTotal{kwh: row.EnergyKWh, cost: row.Cost}
	}

	var dates []string
	for date := range localMap {
		dates = append(dates, date)
	}
	for date := range legacyMap {
		if _, ok := localMap[date]; !ok {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)

	for _, date := range dates {
		local := localMap[date]
		old := legacyMap[date]
		if err := writer.Write([]string{
			date,
			formatFloat(local.kwh),
			formatFloat(old.kwh),
			formatFloat(local.kwh - old.kwh),
			formatFloat(local.cost),
			formatFloat(old.cost),
			formatFloat(local.cost - old.cost),
		}); err != nil {
			return err
		}
	}
	return nil
}

func findHeader(headers map[string]int, names ...string) int {
	for _, name := range names {
		if idx, ok := headers[strings.ToLower(name)]; ok {
			return idx
		}
	}
	return -1
}

func parseFloat(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	return strconv.ParseFloat(value, 64)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func formatFloatPtr(value *float64) string {
	if value == nil {
		return ""
	}
	return formatFloat(*value)
}

func formatInt(value int) string {
	return strconv.Itoa(value)
}

func formatBool(value bool) string {
	if value {
		return "true"
	}
	return "false"
}
