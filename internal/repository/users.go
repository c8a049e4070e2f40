package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sunder-social/sunder-api/internal/db"
	"github.com/sunder-social/sunder-api/internal/models"
)

const userColumns = `
	id, external_id, username, display_name, bio, avatar_url, banner_url,
	is_verified, is_suspended, is_shadowbanned, created_at, updated_at
`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.ExternalID, &u.Username, &u.DisplayName, &u.Bio, &u.AvatarURL, &u.BannerURL,
		&u.Flags.IsVerified, &u.Flags.IsSuspended, &u.Flags.IsShadowbanned, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user. Moderation flags always start false.
func (r *Repository) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (external_id, username, display_name, bio, avatar_url, banner_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		u.ExternalID, u.Username, u.DisplayName, u.Bio, u.AvatarURL, u.BannerURL,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return db.WrapError(err, "create user")
}

// GetUserByID retrieves a user by id.
func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return u, db.WrapError(err, "get user by id")
}

// GetUserByExternalID retrieves a user by the auth provider subject.
func (r *Repository) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = $1`, externalID))
	return u, db.WrapError(err, "get user by external id")
}

// GetUserByUsername retrieves a user by username. Usernames are stored lowercase.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	return u, db.WrapError(err, "get user by username")
}

// UsernameExists reports whether username is taken.
func (r *Repository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	return exists, db.WrapError(err, "check username")
}

// UpdateProfile writes the editable profile fields of u.
func (r *Repository) UpdateProfile(ctx context.Context, u *models.User) error {
	query := `
		UPDATE users
		SET username = $2, display_name = $3, bio = $4, avatar_url = $5, banner_url = $6, updated_at = $7
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		u.ID, u.Username, u.DisplayName, u.Bio, u.AvatarURL, u.BannerURL, time.Now(),
	).Scan(&u.UpdatedAt)
	return db.WrapError(err, "update profile")
}

// SearchUsers finds users whose username or display name contains query,
// case-insensitively.
func (r *Repository) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	sql := `SELECT ` + userColumns + `
		FROM users
		WHERE username ILIKE '%' || $1 || '%' OR display_name ILIKE '%' || $1 || '%'
		ORDER BY username
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, sql, escapeLike(query), ClampLimit(limit))
	if err != nil {
		return nil, db.WrapError(err, "search users")
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, db.WrapError(err, "scan user")
		}
		users = append(users, *u)
	}
	return users, db.WrapError(rows.Err(), "search users")
}

// ListUsers returns users for the admin panel, newest first.
func (r *Repository) ListUsers(ctx context.Context, limit, offset int) ([]models.AdminUserView, error) {
	query := `
		SELECT u.id, u.username, u.display_name, u.is_verified, u.is_suspended, u.is_shadowbanned,
		       COALESCE(ARRAY_AGG(ur.role ORDER BY ur.role) FILTER (WHERE ur.role IS NOT NULL), '{}') AS roles,
		       u.created_at
		FROM users u
		LEFT JOIN user_roles ur ON ur.user_id = u.id
		GROUP BY u.id
		ORDER BY u.created_at DESC
		LIMIT $1 OFFSET $2
	`
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, query, ClampLimit(limit), offset)
	if err != nil {
		return nil, db.WrapError(err, "list users")
	}
	defer rows.Close()

	var views []models.AdminUserView
	for rows.Next() {
		var v models.AdminUserView
		var roles []string
		if err := rows.Scan(
			&v.ID, &v.Username, &v.DisplayName,
			&v.Flags.IsVerified, &v.Flags.IsSuspended, &v.Flags.IsShadowbanned,
			&roles, &v.CreatedAt,
		); err != nil {
			return nil, db.WrapError(err, "scan admin user")
		}
		v.Roles = toRoles(roles)
		views = append(views, v)
	}
	return views, db.WrapError(rows.Err(), "list users")
}

// GetModerationFlags reads the user's current moderation flags.
func (r *Repository) GetModerationFlags(ctx context.Context, userID uuid.UUID) (models.ModerationFlags, error) {
	var f models.ModerationFlags
	err := r.db.QueryRow(ctx,
		`SELECT is_verified, is_suspended, is_shadowbanned FROM users WHERE id = $1`, userID,
	).Scan(&f.IsVerified, &f.IsSuspended, &f.IsShadowbanned)
	if err != nil {
		return models.ModerationFlags{}, db.WrapError(err, "get moderation flags")
	}
	return f, nil
}

// UpdateModerationFlags locks the user's row, applies update to the current
// flags, writes the result and appends an audit row, all in one transaction.
func (r *Repository) UpdateModerationFlags(
	ctx context.Context,
	userID uuid.UUID,
	update func(models.ModerationFlags) models.ModerationFlags,
	actor string,
) (before, after models.ModerationFlags, err error) {
	err = r.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT is_verified, is_suspended, is_shadowbanned
			FROM users
			WHERE id = $1
			FOR UPDATE
		`, userID).Scan(&before.IsVerified, &before.IsSuspended, &before.IsShadowbanned)
		if err != nil {
			return err
		}

		after = update(before)
		if _, err := tx.Exec(ctx, `
			UPDATE users
			SET is_verified = $2, is_suspended = $3, is_shadowbanned = $4, updated_at = NOW()
			WHERE id = $1
		`, userID, after.IsVerified, after.IsSuspended, after.IsShadowbanned); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO moderation_actions (user_id, actor, is_verified, is_suspended, is_shadowbanned)
			VALUES ($1, $2, $3, $4, $5)
		`, userID, actor, after.IsVerified, after.IsSuspended, after.IsShadowbanned)
		return err
	})
	if err != nil {
		return models.ModerationFlags{}, models.ModerationFlags{}, db.WrapError(err, "update moderation flags")
	}
	return before, after, nil
}

// ListModerationActions returns the audit trail for a user, newest first.
func (r *Repository) ListModerationActions(ctx context.Context, userID uuid.UUID, limit int) ([]models.ModerationAction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, actor, is_verified, is_suspended, is_shadowbanned, created_at
		FROM moderation_actions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, ClampLimit(limit))
	if err != nil {
		return nil, db.WrapError(err, "list moderation actions")
	}
	defer rows.Close()

	var actions []models.ModerationAction
	for rows.Next() {
		var a models.ModerationAction
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.Actor,
			&a.Flags.IsVerified, &a.Flags.IsSuspended, &a.Flags.IsShadowbanned, &a.CreatedAt,
		); err != nil {
			return nil, db.WrapError(err, "scan moderation action")
		}
		actions = append(actions, a)
	}
	return actions, db.WrapError(rows.Err(), "list moderation actions")
}

// GetUserRoles returns the user's roles in name order.
func (r *Repository) GetUserRoles(ctx context.Context, userID uuid.UUID) ([]models.Role, error) {
	rows, err := r.db.Query(ctx, `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, userID)
	if err != nil {
		return nil, db.WrapError(err, "get user roles")
	}
	defer rows.Close()

	var roles []models.Role
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, db.WrapError(err, "scan role")
		}
		roles = append(roles, models.Role(role))
	}
	return roles, db.WrapError(rows.Err(), "get user roles")
}

// GrantRole adds role to the user. Granting an existing role is a no-op.
func (r *Repository) GrantRole(ctx context.Context, userID uuid.UUID, role models.Role) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING
	`, userID, string(role))
	return db.WrapError(err, "grant role")
}

// RevokeRole removes role from the user.
func (r *Repository) RevokeRole(ctx context.Context, userID uuid.UUID, role models.Role) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role = $2`, userID, string(role))
	return db.WrapError(err, "revoke role")
}

// GetProfileCounts returns follower, following and top-level post counts.
func (r *Repository) GetProfileCounts(ctx context.Context, userID uuid.UUID) (models.ProfileCounts, error) {
	var c models.ProfileCounts
	err := r.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM follows WHERE following_id = $1),
			(SELECT COUNT(*) FROM follows WHERE follower_id = $1),
			(SELECT COUNT(*) FROM posts WHERE author_id = $1 AND parent_id IS NULL)
	`, userID).Scan(&c.Followers, &c.Following, &c.Posts)
	return c, db.WrapError(err, "get profile counts")
}

func toRoles(in []string) []models.Role {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Role, len(in))
	for i, r := range in {
		out[i] = models.Role(r)
	}
	return out
}
