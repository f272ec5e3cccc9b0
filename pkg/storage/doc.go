// Package storage defines the opsdesk domain records and the store interfaces
// the HTTP layer depends on.
//
// The PostgreSQL implementations live in pkg/storage/postgres and attachment
// bytes in pkg/storage/objectstore. Stores return ErrNotFound for missing
// records and ErrConflict for uniqueness violations, wrapped with context:
//
//	project, err := projects.Get(ctx, id)
//	if errors.Is(err, storage.ErrNotFound) {
//		// 404
//	}
//
// Dates travel as YYYY-MM-DD (Date) and free-form intake documents as
// JSONObject, which maps to a jsonb column and to NULL when nil.
package storage
