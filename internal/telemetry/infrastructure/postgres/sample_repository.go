package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	telemetry "swapstation-ops/internal/telemetry/domain"
)

const defaultSampleTable = "station_metrics"

// SampleRepository is a Postgres implementation for station samples.
type SampleRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*SampleRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *SampleRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewSampleRepository constructs a repository with the default table name.
func NewSampleRepository(db *sql.DB, opts ...RepositoryOption) *SampleRepository {
	repo := &SampleRepository{db: db, table: defaultSampleTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Save upserts a sample keyed by station and timestamp.
func (r *SampleRepository) Save(ctx context.Context, sample telemetry.MetricSample) error {
	if r == nil || r.db == nil {
		return errors.New("sample repo: nil db")
	}
	if sample.StationID == "" || sample.Timestamp.IsZero() {
		return errors.New("sample repo: invalid sample")
	}
	errorLogs, err := encodeList(sample.ErrorLogs)
	if err != nil {
		return err
	}
	faultPatterns, err := encodeList(sample.FaultPatterns)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	station_id,
	ts,
	swap_rate,
	queue_length,
	demand_surge,
	charger_uptime,
	charger_health,
	charged_batteries,
	uncharged_batteries,
	error_logs,
	fault_patterns,
	max_capacity
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
)
ON CONFLICT (station_id, ts)
DO UPDATE SET
	swap_rate = EXCLUDED.swap_rate,
	queue_length = EXCLUDED.queue_length,
	demand_surge = EXCLUDED.demand_surge,
	charger_uptime = EXCLUDED.charger_uptime,
	charger_health = EXCLUDED.charger_health,
	charged_batteries = EXCLUDED.charged_batteries,
	uncharged_batteries = EXCLUDED.uncharged_batteries,
	error_logs = EXCLUDED.error_logs,
	fault_patterns = EXCLUDED.fault_patterns,
	max_capacity = EXCLUDED.max_capacity`, r.table)

	_, err = r.db.ExecContext(ctx, query,
		sample.StationID,
		sample.Timestamp.UTC(),
		sample.SwapRate,
		sample.QueueLength,
		sample.DemandSurge,
		sample.ChargerUptimePct,
		string(sample.ChargerHealth),
		sample.ChargedBatteries,
		sample.UnchargedBatteries,
		errorLogs,
		faultPatterns,
		nullableFloat(sample.MaxCapacity),
	)
	return err
}

// Window returns samples in [from, to] newest first.
func (r *SampleRepository) Window(ctx context.Context, stationID string, from, to time.Time) (telemetry.MetricWindow, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sample repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT station_id, ts, swap_rate, queue_length, demand_surge, charger_uptime, charger_health,
	charged_batteries, uncharged_batteries, error_logs, fault_patterns, max_capacity
FROM %s
WHERE station_id = $1 AND ts >= $2 AND ts <= $3
ORDER BY ts DESC`, r.table)
	return r.query(ctx, query, stationID, from.UTC(), to.UTC())
}

// Recent returns up to limit newest samples.
func (r *SampleRepository) Recent(ctx context.Context, stationID string, limit int) (telemetry.MetricWindow, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sample repo: nil db")
	}
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`
SELECT station_id, ts, swap_rate, queue_length, demand_surge, charger_uptime, charger_health,
	charged_batteries, uncharged_batteries, error_logs, fault_patterns, max_capacity
FROM %s
WHERE station_id = $1
ORDER BY ts DESC
LIMIT $2`, r.table)
	return r.query(ctx, query, stationID, limit)
}

// ActiveStations lists stations with a sample newer than since.
func (r *SampleRepository) ActiveStations(ctx context.Context, since time.Time) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sample repo: nil db")
	}
	query := fmt.Sprintf(`SELECT DISTINCT station_id FROM %s WHERE ts > $1 ORDER BY station_id`, r.table)
	rows, err := r.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []string
	for rows.Next() {
		var stationID string
		if err := rows.Scan(&stationID); err != nil {
			return nil, err
		}
		stations = append(stations, stationID)
	}
	return stations, rows.Err()
}

// PurgeBefore deletes samples older than cutoff.
func (r *SampleRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("sample repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE ts < $1`, r.table), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SampleRepository) query(ctx context.Context, query string, args ...any) (telemetry.MetricWindow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var window telemetry.MetricWindow
	for rows.Next() {
		var (
			sample        telemetry.MetricSample
			health        string
			errorLogs     []byte
			faultPatterns []byte
			maxCapacity   sql.NullFloat64
		)
		if err := rows.Scan(
			&sample.StationID,
			&sample.Timestamp,
			&sample.SwapRate,
			&sample.QueueLength,
			&sample.DemandSurge,
			&sample.ChargerUptimePct,
			&health,
			&sample.ChargedBatteries,
			&sample.UnchargedBatteries,
			&errorLogs,
			&faultPatterns,
			&maxCapacity,
		); err != nil {
			return nil, err
		}
		sample.Timestamp = sample.Timestamp.UTC()
		sample.ChargerHealth = telemetry.ChargerHealth(health)
		if sample.ErrorLogs, err = decodeList(errorLogs); err != nil {
			return nil, err
		}
		if sample.FaultPatterns, err = decodeList(faultPatterns); err != nil {
			return nil, err
		}
		if maxCapacity.Valid {
			sample.MaxCapacity = maxCapacity.Float64
		}
		window = append(window, sample)
	}
	return window, rows.Err()
}

func encodeList(values []string) (any, error) {
	if values == nil {
		return nil, nil
	}
	payload, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("sample repo: encode list: %w", err)
	}
	return payload, nil
}

func decodeList(payload []byte) ([]string, error) {
	if payload == nil {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal(payload, &values); err != nil {
		return nil, fmt.Errorf("sample repo: decode list: %w", err)
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func nullableFloat(value float64) sql.NullFloat64 {
	if value == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: value, Valid: true}
}
