package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"medremind/internal/types"
)

// UserRepository provides the user-scoped lookups the evaluation cycle
// needs: the current timezone profile and push token registrations.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// GetTimezone returns the user's timezone profile. A missing profile row is
// returned as a profile with a nil Timezone; the caller applies the
// fallback zone.
func (r *UserRepository) GetTimezone(ctx context.Context, userID string) (*types.UserTimezoneProfile, error) {
	profile := &types.UserTimezoneProfile{UserID: userID}
	err := r.db.QueryRow(ctx,
		`SELECT timezone FROM user_profiles WHERE user_id = $1`,
		userID,
	).Scan(&profile.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return profile, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get user timezone", err)
	}
	return profile, nil
}

// ListPushTokens returns the user's registered device tokens, de-duplicated
// by token value.
func (r *UserRepository) ListPushTokens(ctx context.Context, userID string) ([]types.PushToken, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (token) token, platform
		 FROM push_tokens
		 WHERE user_id = $1
		 ORDER BY token, created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list push tokens", err)
	}
	defer rows.Close()

	var out []types.PushToken
	for rows.Next() {
		var t types.PushToken
		if err := rows.Scan(&t.Token, &t.Platform); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan push token", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list push tokens", err)
	}
	return out, nil
}

// RemoveToken deletes a dead device registration. Removing a token that is
// already gone is not an error.
func (r *UserRepository) RemoveToken(ctx context.Context, userID, token string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM push_tokens WHERE user_id = $1 AND token = $2`,
		userID,
		token,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to remove push token", err)
	}
	return nil
}
