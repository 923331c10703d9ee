package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/pulsewatch/pkg/models"
)

// Compile-time interface guard.
var _ Gateway = (*SQLiteGateway)(nil)

// SQLiteGateway is the relational Gateway adapter.
type SQLiteGateway struct {
	store      *SQLiteStore
	db         *sql.DB
	maxHistory int
}

// NewSQLiteGateway migrates the monitoring schema and returns a gateway over s.
// The gateway owns s and closes it on Close.
func NewSQLiteGateway(ctx context.Context, s *SQLiteStore, maxHistory int) (*SQLiteGateway, error) {
	if err := s.Migrate(ctx, "monitor", migrations()); err != nil {
		return nil, err
	}
	return &SQLiteGateway{store: s, db: s.DB(), maxHistory: maxHistory}, nil
}

func migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create services, check results, and config tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS services (
						name TEXT PRIMARY KEY,
						protocol TEXT NOT NULL,
						target TEXT NOT NULL,
						headers TEXT NOT NULL DEFAULT '{}',
						ignore_cert INTEGER NOT NULL DEFAULT 0,
						interval_seconds INTEGER NOT NULL DEFAULT 0,
						timeout_seconds INTEGER NOT NULL DEFAULT 0,
						enabled INTEGER NOT NULL DEFAULT 1,
						created_at DATETIME NOT NULL,
						updated_at DATETIME NOT NULL
					)`,
					`CREATE TABLE IF NOT EXISTS check_results (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						service_name TEXT NOT NULL REFERENCES services(name) ON DELETE CASCADE,
						status_code INTEGER NOT NULL,
						success INTEGER NOT NULL,
						response_time_ms REAL NOT NULL,
						error_message TEXT,
						payload TEXT,
						ssl_expiry DATETIME,
						checked_at DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_check_results_service ON check_results(service_name, id)`,
					`CREATE TABLE IF NOT EXISTS config (
						key TEXT PRIMARY KEY,
						value TEXT NOT NULL,
						updated_at DATETIME NOT NULL
					)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}

const serviceColumns = `name, protocol, target, headers, ignore_cert, interval_seconds, timeout_seconds, enabled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (*models.ServiceDefinition, error) {
	var d models.ServiceDefinition
	var headers string
	var ignoreCert, enabled int
	if err := row.Scan(
		&d.Name, &d.Protocol, &d.Target, &headers, &ignoreCert,
		&d.IntervalSeconds, &d.TimeoutSeconds, &enabled, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if headers != "" && headers != "{}" {
		if err := json.Unmarshal([]byte(headers), &d.Headers); err != nil {
			return nil, fmt.Errorf("decode headers for %s: %w", d.Name, err)
		}
	}
	d.IgnoreCertValidation = ignoreCert != 0
	d.Enabled = enabled != 0
	return &d, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeHeaders(h map[string]string) (string, error) {
	if len(h) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode headers: %w", err)
	}
	return string(b), nil
}

// ListServices returns every service ordered by creation time.
func (g *SQLiteGateway) ListServices(ctx context.Context) ([]models.ServiceDefinition, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var defs []models.ServiceDefinition
	for rows.Next() {
		d, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service row: %w", err)
		}
		defs = append(defs, *d)
	}
	return defs, rows.Err()
}

// GetService returns a service by name. Returns nil, nil if not found.
func (g *SQLiteGateway) GetService(ctx context.Context, name string) (*models.ServiceDefinition, error) {
	d, err := scanService(g.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE name = ?`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	return d, nil
}

// AddService inserts a definition, failing with ErrServiceExists on a name clash.
func (g *SQLiteGateway) AddService(ctx context.Context, d *models.ServiceDefinition) error {
	headers, err := encodeHeaders(d.Headers)
	if err != nil {
		return err
	}
	res, err := g.db.ExecContext(ctx, `
		INSERT INTO services (`+serviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		d.Name, d.Protocol, d.Target, headers, boolInt(d.IgnoreCertValidation),
		d.IntervalSeconds, d.TimeoutSeconds, boolInt(d.Enabled), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrServiceExists, d.Name)
	}
	return nil
}

// UpdateService replaces a definition, failing with ErrServiceNotFound if it is missing.
func (g *SQLiteGateway) UpdateService(ctx context.Context, d *models.ServiceDefinition) error {
	headers, err := encodeHeaders(d.Headers)
	if err != nil {
		return err
	}
	res, err := g.db.ExecContext(ctx, `
		UPDATE services SET protocol = ?, target = ?, headers = ?, ignore_cert = ?,
			interval_seconds = ?, timeout_seconds = ?, enabled = ?, updated_at = ?
		WHERE name = ?`,
		d.Protocol, d.Target, headers, boolInt(d.IgnoreCertValidation),
		d.IntervalSeconds, d.TimeoutSeconds, boolInt(d.Enabled), d.UpdatedAt, d.Name,
	)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, d.Name)
	}
	return nil
}

// DeleteService removes a service and its history in one transaction.
func (g *SQLiteGateway) DeleteService(ctx context.Context, name string) error {
	return g.store.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM check_results WHERE service_name = ?`, name); err != nil {
			return fmt.Errorf("delete history: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM services WHERE name = ?`, name)
		if err != nil {
			return fmt.Errorf("delete service: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
		}
		return nil
	})
}

// SaveCheckResult appends a result and trims the service's history to maxHistory rows.
func (g *SQLiteGateway) SaveCheckResult(ctx context.Context, name string, r *models.HealthCheckResult) error {
	var sslExpiry sql.NullTime
	if r.SSLExpiry != nil {
		sslExpiry = sql.NullTime{Time: *r.SSLExpiry, Valid: true}
	}
	return g.store.Tx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM services WHERE name = ?`, name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("lookup service: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO check_results (
				service_name, status_code, success, response_time_ms, error_message, payload, ssl_expiry, checked_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			name, r.StatusCode, boolInt(r.Success), r.ResponseTimeMs, r.Error, r.Payload, sslExpiry, r.Timestamp,
		); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM check_results
			WHERE service_name = ? AND id NOT IN (
				SELECT id FROM check_results WHERE service_name = ? ORDER BY id DESC LIMIT ?
			)`,
			name, name, g.maxHistory,
		); err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
		return nil
	})
}

// GetHistory returns up to limit most recent results for a service, oldest first.
// If limit <= 0, the retention cap is used.
func (g *SQLiteGateway) GetHistory(ctx context.Context, name string, limit int) ([]models.HealthCheckResult, error) {
	if limit <= 0 {
		limit = g.maxHistory
	}
	rows, err := g.db.QueryContext(ctx, `
		SELECT status_code, success, response_time_ms, error_message, payload, ssl_expiry, checked_at
		FROM check_results WHERE service_name = ? ORDER BY id DESC LIMIT ?`,
		name, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var results []models.HealthCheckResult
	for rows.Next() {
		var r models.HealthCheckResult
		var success int
		var errMsg, payload sql.NullString
		var sslExpiry sql.NullTime
		if err := rows.Scan(&r.StatusCode, &success, &r.ResponseTimeMs, &errMsg, &payload, &sslExpiry, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		r.Success = success != 0
		r.Error = errMsg.String
		r.Payload = payload.String
		if sslExpiry.Valid {
			t := sslExpiry.Time
			r.SSLExpiry = &t
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(results)
	return results, nil
}

// GetConfig returns the raw value stored under key. Returns nil, nil if unset.
func (g *SQLiteGateway) GetConfig(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := g.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get config %q: %w", key, err)
	}
	return []byte(value), nil
}

// SaveConfig upserts a raw value under key.
func (g *SQLiteGateway) SaveConfig(ctx context.Context, key string, value []byte) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save config %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (g *SQLiteGateway) Close() error {
	return g.store.Close()
}

func reverse(results []models.HealthCheckResult) {
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
}
