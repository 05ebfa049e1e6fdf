package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	devices "autovolt-cloud/internal/devices/domain"
)

const (
	defaultDevicesTable  = "devices"
	defaultSwitchesTable = "device_switches"
)

// DeviceRepository is a Postgres implementation for the device registry.
type DeviceRepository struct {
	db            *sql.DB
	table         string
	switchesTable string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable, switchesTable: defaultSwitchesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the devices table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithSwitchesTable overrides the switches table name.
func WithSwitchesTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.switchesTable = table
		}
	}
}

// Get loads a device with its switches.
func (r *DeviceRepository) Get(ctx context.Context, deviceID string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if deviceID == "" {
		return nil, devices.ErrEmptyDeviceID
	}

	query := fmt.Sprintf(`
SELECT device_id, logical_name, classroom, last_seen_at, created_at, updated_at
FROM %s
WHERE device_id = $1
LIMIT 1`, r.table)

	var device devices.Device
	var lastSeen sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&device.ID,
		&device.LogicalName,
		&device.Classroom,
		&lastSeen,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time.UTC()
		device.LastSeenAt = &t
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()

	switches, err := r.listSwitches(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	device.Switches = switches
	return &device, nil
}

// List loads all devices with their switches.
func (r *DeviceRepository) List(ctx context.Context) ([]devices.Device, error) {
	return r.list(ctx, "", nil)
}

// ListByClassroom loads devices for a classroom.
func (r *DeviceRepository) ListByClassroom(ctx context.Context, classroom string) ([]devices.Device, error) {
	if classroom == "" {
		return nil, errors.New("device repo: empty classroom")
	}
	return r.list(ctx, "WHERE classroom = $1", []any{classroom})
}

func (r *DeviceRepository) list(ctx context.Context, where string, args []any) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT device_id, logical_name, classroom, last_seen_at, created_at, updated_at
FROM %s
%s
ORDER BY device_id ASC`, r.table, where)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		var device devices.Device
		var lastSeen sql.NullTime
		if err := rows.Scan(
			&device.ID,
			&device.LogicalName,
			&device.Classroom,
			&lastSeen,
			&device.CreatedAt,
			&device.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			t := lastSeen.Time.UTC()
			device.LastSeenAt = &t
		}
		device.CreatedAt = device.CreatedAt.UTC()
		device.UpdatedAt = device.UpdatedAt.UTC()
		result = append(result, device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		switches, err := r.listSwitches(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Switches = switches
	}
	return result, nil
}

func (r *DeviceRepository) listSwitches(ctx context.Context, deviceID string) ([]devices.Switch, error) {
	query := fmt.Sprintf(`
SELECT switch_id, name, rated_power_w, created_at, updated_at
FROM %s
WHERE device_id = $1
ORDER BY switch_id ASC`, r.switchesTable)

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Switch
	for rows.Next() {
		var sw devices.Switch
		if err := rows.Scan(&sw.ID, &sw.Name, &sw.RatedPowerW, &sw.CreatedAt, &sw.UpdatedAt); err != nil {
			return nil, err
		}
		sw.CreatedAt = sw.CreatedAt.UTC()
		sw.UpdatedAt = sw.UpdatedAt.UTC()
		result = append(result, sw)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Upsert inserts or updates a device row (switches are managed separately).
func (r *DeviceRepository) Upsert(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return devices.ErrNilDevice
	}
	if err := device.Validate(); err != nil {
		return err
	}

	var lastSeen any
	if device.LastSeenAt != nil {
		lastSeen = device.LastSeenAt.UTC()
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_id,
	logical_name,
	classroom,
	last_seen_at
) VALUES (
	$1, $2, $3, $4
)
ON CONFLICT (device_id)
DO UPDATE SET
	logical_name = EXCLUDED.logical_name,
	classroom = EXCLUDED.classroom,
	last_seen_at = EXCLUDED.last_seen_at,
	updated_at = NOW()`, r.table)

	if _, err := r.db.ExecContext(ctx, query, device.ID, device.LogicalName, device.Classroom, lastSeen); err != nil {
		return err
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	return nil
}

// TouchLastSeen updates the heartbeat timestamp.
func (r *DeviceRepository) TouchLastSeen(ctx context.Context, deviceID string, seenAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if deviceID == "" {
		return devices.ErrEmptyDeviceID
	}
	query := fmt.Sprintf(`
UPDATE %s
SET last_seen_at = GREATEST(COALESCE(last_seen_at, $1), $1), updated_at = NOW()
WHERE device_id = $2`, r.table)
	_, err := r.db.ExecContext(ctx, query, seenAt.UTC(), deviceID)
	return err
}

// EnsureSwitch registers a switch when unseen, leaving existing rows alone.
func (r *DeviceRepository) EnsureSwitch(ctx context.Context, deviceID string, sw devices.Switch) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if deviceID == "" {
		return devices.ErrEmptyDeviceID
	}
	if sw.ID == "" {
		return devices.ErrEmptySwitchID
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	device_id,
	switch_id,
	name,
	rated_power_w
) VALUES (
	$1, $2, $3, $4
)
ON CONFLICT (device_id, switch_id)
DO NOTHING`, r.switchesTable)
	_, err := r.db.ExecContext(ctx, query, deviceID, sw.ID, sw.Name, sw.RatedPowerW)
	return err
}

// UpsertSwitch overwrites switch metadata.
func (r *DeviceRepository) UpsertSwitch(ctx context.Context, deviceID string, sw devices.Switch) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if deviceID == "" {
		return devices.ErrEmptyDeviceID
	}
	if sw.ID == "" {
		return devices.ErrEmptySwitchID
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	device_id,
	switch_id,
	name,
	rated_power_w
) VALUES (
	$1, $2, $3, $4
)
ON CONFLICT (device_id, switch_id)
DO UPDATE SET
	name = EXCLUDED.name,
	rated_power_w = EXCLUDED.rated_power_w,
	updated_at = NOW()`, r.switchesTable)
	_, err := r.db.ExecContext(ctx, query, deviceID, sw.ID, sw.Name, sw.RatedPowerW)
	return err
}
