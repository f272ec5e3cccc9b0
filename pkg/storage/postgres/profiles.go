package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/opsdesk/pkg/auth"
	"github.com/platinummonkey/opsdesk/pkg/storage"
)

// ProfileRepository implements storage.ProfileStore and auth.ProfileLookup
type ProfileRepository struct {
	base
}

var (
	_ storage.ProfileStore = (*ProfileRepository)(nil)
	_ auth.ProfileLookup   = (*ProfileRepository)(nil)
)

const profileColumns = `id, email, full_name, role, created_at`

func scanProfile(row rowScanner) (*storage.Profile, error) {
	var p storage.Profile
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// Get retrieves a profile by id
func (r *ProfileRepository) Get(ctx context.Context, id uuid.UUID) (profile *storage.Profile, err error) {
	defer r.track("profiles.get")(&err)

	profile, err = scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get profile", err)
	}
	return profile, nil
}

// Upsert inserts a profile, keeping the stored role of an existing one
func (r *ProfileRepository) Upsert(ctx context.Context, profile *storage.Profile) (out *storage.Profile, err error) {
	defer r.track("profiles.upsert")(&err)

	if profile.Role == "" {
		profile.Role = string(auth.RoleClient)
	}

	query := `
		INSERT INTO profiles (id, email, full_name, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    full_name = CASE WHEN EXCLUDED.full_name = '' THEN profiles.full_name ELSE EXCLUDED.full_name END
		RETURNING ` + profileColumns

	out, err = scanProfile(r.db.QueryRowContext(ctx, query,
		profile.ID, profile.Email, profile.FullName, profile.Role))
	if err != nil {
		return nil, translate("upsert profile", err)
	}
	return out, nil
}

// GetProfile resolves an identity provider subject for the session layer
func (r *ProfileRepository) GetProfile(ctx context.Context, id string) (*auth.Profile, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, auth.ErrProfileNotFound
	}

	p, err := r.Get(ctx, uid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, auth.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return toAuthProfile(p)
}

// EnsureProfile provisions a profile on first login
func (r *ProfileRepository) EnsureProfile(ctx context.Context, profile *auth.Profile) (*auth.Profile, error) {
	uid, err := uuid.Parse(profile.ID)
	if err != nil {
		return nil, fmt.Errorf("subject %q is not a uuid: %w", profile.ID, err)
	}

	p, err := r.Upsert(ctx, &storage.Profile{
		ID:       uid,
		Email:    profile.Email,
		FullName: profile.FullName,
		Role:     string(profile.Role),
	})
	if err != nil {
		return nil, err
	}
	return toAuthProfile(p)
}

func toAuthProfile(p *storage.Profile) (*auth.Profile, error) {
	role, ok := auth.ParseRole(p.Role)
	if !ok {
		return nil, fmt.Errorf("profile %s has unknown role %q", p.ID, p.Role)
	}
	return &auth.Profile{
		ID:       p.ID.String(),
		Email:    p.Email,
		FullName: p.FullName,
		Role:     role,
	}, nil
}
