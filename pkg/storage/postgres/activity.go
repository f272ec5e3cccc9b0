package postgres

import (
	"context"
	"fmt"

	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// ActivityRepository implements storage.ActivityStore
type ActivityRepository struct {
	base
}

var _ storage.ActivityStore = (*ActivityRepository)(nil)

// Record appends an entry to the activity log
func (r *ActivityRepository) Record(ctx context.Context, entry *storage.ActivityEntry) (err error) {
	defer r.track("activity.record")(&err)

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO activity_log (actor_id, action, entity_type, entity_id, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, entry.ActorID, entry.Action, entry.EntityType, entry.EntityID, entry.Details,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return translate("record activity", err)
	}
	return nil
}

// List returns activity entries, newest first
func (r *ActivityRepository) List(ctx context.Context, filter storage.ActivityFilter) (out []*storage.ActivityEntry, err error) {
	defer r.track("activity.list")(&err)

	w := &where{}
	w.addEq("entity_type", filter.EntityType)
	w.addEq("entity_id", filter.EntityID)
	if filter.ActorID != nil {
		w.add("actor_id = ?", *filter.ActorID)
	}
	query := `SELECT id, actor_id, action, entity_type, entity_id, details, created_at FROM activity_log` +
		w.sql() + ` ORDER BY created_at DESC` + w.page(filter.Page)

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, translate("list activity", err)
	}
	defer rows.Close()

	out = []*storage.ActivityEntry{}
	for rows.Next() {
		var e storage.ActivityEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
