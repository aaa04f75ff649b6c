package core

import (
	"context"
	"database/sql"
	"time"
)

func MigrateDB(ctx context.Context, db *sql.DB) error {

	// Create the services table if not exists
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS services (
			name TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			deleted_at DATETIME
		)
	`)
	return err
}

// UpsertService inserts the service, or replaces the configuration of an existing one.
// Replacing a soft deleted service makes it active again.
func UpsertService(ctx context.Context, db *sql.DB, svc Service) error {
	data, err := svc.MarshallForDatabase()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO services (name, data, created_at, updated_at, deleted_at) VALUES (?, ?, ?, ?, NULL)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at, deleted_at = NULL
	`, svc.Name, string(data), svc.CreatedAt, svc.UpdatedAt)
	return err
}

// DeleteService soft deletes the service, it returns sql.ErrNoRows if there is no active service
// with that name
func DeleteService(ctx context.Context, db *sql.DB, name string, at time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE services SET deleted_at = ?, updated_at = ? WHERE name = ? AND deleted_at IS NULL
	`, at, at, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetServices returns a page of services ordered by name, it includes soft deleted services
func GetServices(ctx context.Context, db *sql.DB, offset, limit int64) ([]Service, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, data, created_at, updated_at, deleted_at FROM services ORDER BY name LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return mapRows(rows)
}

// GetActiveServices returns a list of all services, excluding soft deleted services
func GetActiveServices(ctx context.Context, db *sql.DB) ([]Service, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, data, created_at, updated_at, deleted_at FROM services WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return mapRows(rows)
}

// LoadServiceTable builds the table used to resolve subscriptions from the active services
func LoadServiceTable(ctx context.Context, db *sql.DB) (ServiceTable, error) {
	svcs, err := GetActiveServices(ctx, db)
	if err != nil {
		return nil, err
	}
	table := ServiceTable{}
	for i := range svcs {
		table[svcs[i].Name] = &svcs[i].Config
	}
	return table, nil
}

func mapRows(rows *sql.Rows) ([]Service, error) {
	svcs := []Service{}
	for rows.Next() {
		var name string
		data := []byte{}
		createdAt := time.Time{}
		updatedAt := time.Time{}
		deletedAt := sql.NullTime{}
		err := rows.Scan(&name, &data, &createdAt, &updatedAt, &deletedAt)
		if err != nil {
			return nil, err
		}
		svc, err := NewServiceFromJSON(name, data, createdAt, updatedAt, deletedAt)
		if err != nil {
			return nil, err
		}
		svcs = append(svcs, svc)
	}
	return svcs, rows.Err()
}
