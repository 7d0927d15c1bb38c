package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"semaphore/badging/internal/model"
)

const userColumns = `id::text, first_name, last_name, email, role, service, lieux, status, numero_badge, contract_hours, updated_at`

func scanUser(row pgx.Row) (model.User, error) {
	var (
		user   model.User
		role   string
		status string
		badge  *string
	)
	err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&role,
		&user.Service,
		&user.Lieux,
		&status,
		&badge,
		&user.ContractHours,
		&user.UpdatedAt,
	)
	if err != nil {
		return model.User{}, err
	}
	user.Role = model.ParseRole(role)
	user.Status = model.LiveStatus(status)
	if badge != nil {
		user.BadgeCode = *badge
	}
	return user, nil
}

func (q *Queries) GetUser(ctx context.Context, id string) (model.User, error) {
	if !validID(id) {
		return model.User{}, pgx.ErrNoRows
	}
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (q *Queries) GetUserByBadgeCode(ctx context.Context, code string) (model.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE numero_badge = $1`, code))
}

func (q *Queries) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY first_name, last_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

type CreateUserParams struct {
	FirstName     string
	LastName      string
	Email         string
	Role          model.Role
	Service       string
	BadgeCode     string
	ContractHours *float64
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (model.User, error) {
	var badge *string
	if arg.BadgeCode != "" {
		badge = &arg.BadgeCode
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO users (first_name, last_name, email, role, service, numero_badge, contract_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		arg.FirstName, arg.LastName, arg.Email, arg.Role.String(), arg.Service, badge, arg.ContractHours)
	user, err := scanUser(row)
	return user, classify(err, "user_exists")
}

// SetBadgeCode assigns a tag to a user. An empty code clears it.
func (q *Queries) SetBadgeCode(ctx context.Context, userID, code string) (model.User, error) {
	if !validID(userID) {
		return model.User{}, pgx.ErrNoRows
	}
	var badge *string
	if code != "" {
		badge = &code
	}
	row := q.db.QueryRow(ctx, `
		UPDATE users SET numero_badge = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns, userID, badge)
	user, err := scanUser(row)
	return user, classify(err, "badge_in_use")
}

// ActiveBadgeCode returns the tag currently assigned to the user, or an
// empty string.
func (q *Queries) ActiveBadgeCode(ctx context.Context, userID string) (string, error) {
	if !validID(userID) {
		return "", pgx.ErrNoRows
	}
	var code *string
	if err := q.db.QueryRow(ctx, `SELECT numero_badge FROM users WHERE id = $1`, userID).Scan(&code); err != nil {
		return "", err
	}
	if code == nil {
		return "", nil
	}
	return *code, nil
}

func (q *Queries) updatePresence(ctx context.Context, userID string, status model.LiveStatus, lieux string) (model.User, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE users SET status = $2, lieux = $3, updated_at = clock_timestamp()
		WHERE id = $1
		RETURNING `+userColumns, userID, string(status), lieux)
	return scanUser(row)
}
