package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"semaphore/badging/internal/model"
)

const eventColumns = `id::text, user_id::text, at, action, code, latitude, longitude, lieux, comment`

func scanEvent(row pgx.Row) (model.BadgeEvent, error) {
	var (
		ev     model.BadgeEvent
		action string
	)
	err := row.Scan(&ev.ID, &ev.UserID, &ev.At, &action, &ev.Code, &ev.Latitude, &ev.Longitude, &ev.Lieux, &ev.Comment)
	ev.Action = model.Action(action)
	return ev, err
}

func (q *Queries) GetBadgeEvent(ctx context.Context, id string) (model.BadgeEvent, error) {
	if !validID(id) {
		return model.BadgeEvent{}, pgx.ErrNoRows
	}
	return scanEvent(q.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM badge_events WHERE id = $1`, id))
}

func (q *Queries) InsertBadgeEvent(ctx context.Context, ev model.BadgeEvent) (model.BadgeEvent, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO badge_events (user_id, at, action, code, latitude, longitude, lieux, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+eventColumns,
		ev.UserID, ev.At, string(ev.Action), ev.Code, ev.Latitude, ev.Longitude, ev.Lieux, ev.Comment)
	return scanEvent(row)
}

// ListBadgeEvents returns events in [from, to) in time order. An empty
// userID lists every user.
func (q *Queries) ListBadgeEvents(ctx context.Context, userID string, from, to time.Time) ([]model.BadgeEvent, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if userID == "" {
		rows, err = q.db.Query(ctx, `
			SELECT `+eventColumns+` FROM badge_events
			WHERE at >= $1 AND at < $2
			ORDER BY user_id, at, id`, from, to)
	} else {
		rows, err = q.db.Query(ctx, `
			SELECT `+eventColumns+` FROM badge_events
			WHERE user_id = $1 AND at >= $2 AND at < $3
			ORDER BY at, id`, userID, from, to)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []model.BadgeEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
