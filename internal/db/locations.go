package db

import (
	"context"
	"time"

	"semaphore/badging/internal/location"
	"semaphore/badging/internal/session"
)

// ListLocations returns the authorization table in insertion order, which
// is the tie-break order for equally specific matches.
func (q *Queries) ListLocations(ctx context.Context) ([]location.Entry, error) {
	rows, err := q.db.Query(ctx, `SELECT address, site, latitude, longitude FROM locations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []location.Entry
	for rows.Next() {
		var e location.Entry
		if err := rows.Scan(&e.Address, &e.Site, &e.Latitude, &e.Longitude); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *Queries) CreateLocation(ctx context.Context, e location.Entry) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO locations (address, site, latitude, longitude)
		VALUES ($1, $2, $3, $4)
	`, e.Address, e.Site, e.Latitude, e.Longitude)
	return err
}

func (q *Queries) ScheduleTable(ctx context.Context) (session.Table, error) {
	rows, err := q.db.Query(ctx, `SELECT site, start_minutes FROM schedules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	table := session.Table{}
	for rows.Next() {
		var (
			site    string
			minutes int32
		)
		if err := rows.Scan(&site, &minutes); err != nil {
			return nil, err
		}
		table[site] = time.Duration(minutes) * time.Minute
	}
	return table, rows.Err()
}

func (q *Queries) UpsertSchedule(ctx context.Context, site string, start time.Duration) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO schedules (site, start_minutes) VALUES ($1, $2)
		ON CONFLICT (site) DO UPDATE SET start_minutes = EXCLUDED.start_minutes
	`, site, int32(start/time.Minute))
	return err
}
