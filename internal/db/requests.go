package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"semaphore/badging/internal/model"
	"semaphore/badging/internal/workflow"
)

const modificationColumns = `
	r.id::text, r.user_id::text, r.entree_id::text, r.proposed_entree, r.proposed_sortie,
	r.pause_delta_minutes, r.motif, r.comment, r.status, r.created_at,
	v.validator_id::text, v.validated_at, v.approved, v.comment`

const modificationFrom = `
	FROM modification_requests r
	LEFT JOIN modification_validations v ON v.request_id = r.id`

func scanModification(row pgx.Row) (model.ModificationRequest, error) {
	var (
		req         model.ModificationRequest
		status      string
		validatorID *string
		validatedAt *time.Time
		approved    *bool
		vComment    *string
	)
	err := row.Scan(
		&req.ID, &req.UserID, &req.EntreeID, &req.ProposedEntree, &req.ProposedSortie,
		&req.PauseDelta, &req.Motif, &req.Comment, &status, &req.CreatedAt,
		&validatorID, &validatedAt, &approved, &vComment,
	)
	if err != nil {
		return model.ModificationRequest{}, err
	}
	req.Status = model.RequestStatus(status)
	req.Validation = validation(validatorID, validatedAt, approved, vComment)
	return req, nil
}

func validation(validatorID *string, validatedAt *time.Time, approved *bool, comment *string) *model.Validation {
	if validatorID == nil || validatedAt == nil || approved == nil {
		return nil
	}
	return &model.Validation{ValidatorID: *validatorID, ValidatedAt: *validatedAt, Approved: *approved, Comment: comment}
}

func (q *Queries) HasPendingModification(ctx context.Context, entreeID string) (bool, error) {
	if !validID(entreeID) {
		return false, nil
	}
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM modification_requests WHERE entree_id = $1 AND status = 'pending')
	`, entreeID).Scan(&exists)
	return exists, err
}

func (q *Queries) InsertModification(ctx context.Context, req model.ModificationRequest) (model.ModificationRequest, error) {
	var id string
	err := q.db.QueryRow(ctx, `
		INSERT INTO modification_requests
			(user_id, entree_id, proposed_entree, proposed_sortie, pause_delta_minutes, motif, comment, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id::text
	`, req.UserID, req.EntreeID, req.ProposedEntree, req.ProposedSortie, req.PauseDelta,
		req.Motif, req.Comment, string(req.Status), req.CreatedAt).Scan(&id)
	if err != nil {
		return model.ModificationRequest{}, classify(err, "duplicate_pending")
	}
	req.ID = id
	return req, nil
}

// GetModificationForUpdate locks the request row until the transaction ends.
func (q *Queries) GetModificationForUpdate(ctx context.Context, id string) (model.ModificationRequest, error) {
	if !validID(id) {
		return model.ModificationRequest{}, pgx.ErrNoRows
	}
	return scanModification(q.db.QueryRow(ctx, `SELECT `+modificationColumns+modificationFrom+`
		WHERE r.id = $1
		FOR UPDATE OF r`, id))
}

func (q *Queries) ResolveModification(ctx context.Context, id string, status model.RequestStatus, v model.Validation) error {
	if _, err := q.db.Exec(ctx, `
		INSERT INTO modification_validations (request_id, validator_id, validated_at, approved, comment)
		VALUES ($1, $2, $3, $4, $5)
	`, id, v.ValidatorID, v.ValidatedAt, v.Approved, v.Comment); err != nil {
		return classify(err, "already_validated")
	}
	_, err := q.db.Exec(ctx, `UPDATE modification_requests SET status = $2 WHERE id = $1`, id, string(status))
	return err
}

func (q *Queries) ListModifications(ctx context.Context, f workflow.ListFilter) ([]model.ModificationRequest, error) {
	where, args := requestFilter(f)
	rows, err := q.db.Query(ctx, `SELECT `+modificationColumns+modificationFrom+where+` ORDER BY r.created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ModificationRequest
	for rows.Next() {
		req, err := scanModification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ListApprovedModifications returns approved requests whose entry event
// falls in [from, to). An empty userID lists every user.
func (q *Queries) ListApprovedModifications(ctx context.Context, userID string, from, to time.Time) ([]model.ModificationRequest, error) {
	query := `SELECT ` + modificationColumns + modificationFrom + `
		JOIN badge_events e ON e.id = r.entree_id
		WHERE r.status = 'approved' AND e.at >= $1 AND e.at < $2`
	args := []interface{}{from, to}
	if userID != "" {
		query += ` AND r.user_id = $3`
		args = append(args, userID)
	}
	rows, err := q.db.Query(ctx, query+` ORDER BY v.validated_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ModificationRequest
	for rows.Next() {
		req, err := scanModification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

const oubliColumns = `
	r.id::text, r.user_id::text, r.entree, r.sortie, r.pause_debut, r.pause_fin,
	r.raison, r.comment, r.perte_badge, r.status, r.created_at,
	v.validator_id::text, v.validated_at, v.approved, v.comment`

const oubliFrom = `
	FROM oubli_requests r
	LEFT JOIN oubli_validations v ON v.request_id = r.id`

func scanOubli(row pgx.Row) (model.OubliRequest, error) {
	var (
		req         model.OubliRequest
		status      string
		validatorID *string
		validatedAt *time.Time
		approved    *bool
		vComment    *string
	)
	err := row.Scan(
		&req.ID, &req.UserID, &req.Entree, &req.Sortie, &req.PauseDebut, &req.PauseFin,
		&req.Raison, &req.Comment, &req.PerteBadge, &status, &req.CreatedAt,
		&validatorID, &validatedAt, &approved, &vComment,
	)
	if err != nil {
		return model.OubliRequest{}, err
	}
	req.Status = model.RequestStatus(status)
	req.Validation = validation(validatorID, validatedAt, approved, vComment)
	return req, nil
}

func (q *Queries) HasPendingOubli(ctx context.Context, userID string, from, to time.Time) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM oubli_requests
			WHERE user_id = $1 AND status = 'pending' AND entree >= $2 AND entree < $3
		)
	`, userID, from, to).Scan(&exists)
	return exists, err
}

// InsertOubli stores the request keyed by the entry's day in the session
// time zone.
func (q *Queries) InsertOubli(ctx context.Context, req model.OubliRequest) (model.OubliRequest, error) {
	var id string
	err := q.db.QueryRow(ctx, `
		INSERT INTO oubli_requests
			(user_id, local_day, entree, sortie, pause_debut, pause_fin, raison, comment, perte_badge, status, created_at)
		VALUES ($1, ($2::timestamptz)::date, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id::text
	`, req.UserID, req.Entree, req.Sortie, req.PauseDebut, req.PauseFin, req.Raison, req.Comment,
		req.PerteBadge, string(req.Status), req.CreatedAt).Scan(&id)
	if err != nil {
		return model.OubliRequest{}, classify(err, "duplicate_pending")
	}
	req.ID = id
	return req, nil
}

func (q *Queries) GetOubliForUpdate(ctx context.Context, id string) (model.OubliRequest, error) {
	if !validID(id) {
		return model.OubliRequest{}, pgx.ErrNoRows
	}
	return scanOubli(q.db.QueryRow(ctx, `SELECT `+oubliColumns+oubliFrom+`
		WHERE r.id = $1
		FOR UPDATE OF r`, id))
}

func (q *Queries) ResolveOubli(ctx context.Context, id string, status model.RequestStatus, v model.Validation) error {
	if _, err := q.db.Exec(ctx, `
		INSERT INTO oubli_validations (request_id, validator_id, validated_at, approved, comment)
		VALUES ($1, $2, $3, $4, $5)
	`, id, v.ValidatorID, v.ValidatedAt, v.Approved, v.Comment); err != nil {
		return classify(err, "already_validated")
	}
	_, err := q.db.Exec(ctx, `UPDATE oubli_requests SET status = $2 WHERE id = $1`, id, string(status))
	return err
}

func (q *Queries) ListOublis(ctx context.Context, f workflow.ListFilter) ([]model.OubliRequest, error) {
	where, args := requestFilter(f)
	rows, err := q.db.Query(ctx, `SELECT `+oubliColumns+oubliFrom+where+` ORDER BY r.created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.OubliRequest
	for rows.Next() {
		req, err := scanOubli(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (q *Queries) CountPending(ctx context.Context) (int, int, error) {
	var mods, oublis int
	err := q.db.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM modification_requests WHERE status = 'pending'),
			(SELECT count(*) FROM oubli_requests WHERE status = 'pending')
	`).Scan(&mods, &oublis)
	return mods, oublis, err
}

func requestFilter(f workflow.ListFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		clauses = append(clauses, fmt.Sprintf("r.user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		clauses = append(clauses, fmt.Sprintf("r.status = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
