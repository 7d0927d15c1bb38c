package db

import (
	"context"

	"semaphore/badging/internal/model"
	"semaphore/badging/internal/workflow"
)

// Badges serves the scan pipeline.
type Badges struct {
	*Queries
	store *Store
}

func (s *Store) Badges() *Badges {
	return &Badges{Queries: s.Queries, store: s}
}

// AppendBadgeEvent records the event and moves the user's presence in one
// transaction.
func (b *Badges) AppendBadgeEvent(ctx context.Context, event model.BadgeEvent, status model.LiveStatus, lieux string) (model.BadgeEvent, model.User, error) {
	var (
		stored model.BadgeEvent
		user   model.User
	)
	err := b.store.WithTx(ctx, func(q *Queries) error {
		var err error
		if stored, err = q.InsertBadgeEvent(ctx, event); err != nil {
			return err
		}
		user, err = q.updatePresence(ctx, event.UserID, status, lieux)
		return err
	})
	return stored, user, err
}

// Workflow serves correction requests.
type Workflow struct {
	*Queries
	store *Store
}

func (s *Store) Workflow() *Workflow {
	return &Workflow{Queries: s.Queries, store: s}
}

func (w *Workflow) WithTx(ctx context.Context, fn func(workflow.Repository) error) error {
	return w.store.WithTx(ctx, func(q *Queries) error {
		return fn(q)
	})
}
