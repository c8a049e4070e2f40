package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sunder-social/sunder-api/internal/db"
	"github.com/sunder-social/sunder-api/internal/models"
)

// postSelect joins each post with its author's current profile and flags.
// $1 is the viewer id, uuid.Nil for anonymous viewers.
const postSelect = `
	SELECT p.id, p.author_id, p.parent_id, p.content, p.created_at,
	       u.id, u.username, u.display_name, u.avatar_url,
	       u.is_verified, u.is_suspended, u.is_shadowbanned,
	       (SELECT COUNT(*) FROM likes l WHERE l.post_id = p.id) AS like_count,
	       (SELECT COUNT(*) FROM posts r WHERE r.parent_id = p.id) AS reply_count,
	       EXISTS(SELECT 1 FROM likes l WHERE l.post_id = p.id AND l.user_id = $1) AS liked
	FROM posts p
	JOIN users u ON u.id = p.author_id
`

// beforeCursor restricts to posts older than the post with id $2, if given.
const beforeCursor = `
	($2::uuid IS NULL OR (p.created_at, p.id) < (SELECT c.created_at, c.id FROM posts c WHERE c.id = $2))
`

func scanPost(row pgx.Row) (*models.Post, error) {
	var p models.Post
	err := row.Scan(
		&p.ID, &p.AuthorID, &p.ParentID, &p.Content, &p.CreatedAt,
		&p.Author.ID, &p.Author.Username, &p.Author.DisplayName, &p.Author.AvatarURL,
		&p.Author.Flags.IsVerified, &p.Author.Flags.IsSuspended, &p.Author.Flags.IsShadowbanned,
		&p.LikeCount, &p.ReplyCount, &p.LikedByViewer,
	)
	if err != nil {
		return nil, err
	}
	p.Author.IsVerified = p.Author.Flags.IsVerified
	return &p, nil
}

func (r *Repository) queryPosts(ctx context.Context, op, query string, args ...any) ([]models.Post, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, db.WrapError(err, op)
	}
	defer rows.Close()

	posts := make([]models.Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, db.WrapError(err, op)
		}
		posts = append(posts, *p)
	}
	return posts, db.WrapError(rows.Err(), op)
}

// CreatePost inserts a post or, when ParentID is set, a reply.
func (r *Repository) CreatePost(ctx context.Context, p *models.Post) error {
	query := `
		INSERT INTO posts (author_id, parent_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, p.AuthorID, p.ParentID, p.Content).Scan(&p.ID, &p.CreatedAt)
	return db.WrapError(err, "create post")
}

// GetPost retrieves a single post as seen by viewerID.
func (r *Repository) GetPost(ctx context.Context, id, viewerID uuid.UUID) (*models.Post, error) {
	p, err := scanPost(r.db.QueryRow(ctx, postSelect+` WHERE p.id = $2`, viewerID, id))
	return p, db.WrapError(err, "get post")
}

// DeletePost removes a post owned by authorID. Replies cascade.
func (r *Repository) DeletePost(ctx context.Context, id, authorID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM posts WHERE id = $1 AND author_id = $2`, id, authorID)
	if err != nil {
		return db.WrapError(err, "delete post")
	}
	if tag.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "delete post")
	}
	return nil
}

// ListFeed returns top-level posts newest first. before, if non-nil, is the
// id of the last post of the previous page.
func (r *Repository) ListFeed(ctx context.Context, viewerID uuid.UUID, before *uuid.UUID, limit int) ([]models.Post, error) {
	query := postSelect + `
		WHERE p.parent_id IS NULL AND ` + beforeCursor + `
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $3
	`
	return r.queryPosts(ctx, "list feed", query, viewerID, before, ClampLimit(limit))
}

// ListUserPosts returns an author's top-level posts newest first.
func (r *Repository) ListUserPosts(ctx context.Context, authorID, viewerID uuid.UUID, before *uuid.UUID, limit int) ([]models.Post, error) {
	query := postSelect + `
		WHERE p.parent_id IS NULL AND p.author_id = $4 AND ` + beforeCursor + `
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $3
	`
	return r.queryPosts(ctx, "list user posts", query, viewerID, before, ClampLimit(limit), authorID)
}

// ListReplies returns the replies to parentID oldest first.
func (r *Repository) ListReplies(ctx context.Context, parentID, viewerID uuid.UUID, limit int) ([]models.Post, error) {
	query := postSelect + `
		WHERE p.parent_id = $2
		ORDER BY p.created_at ASC, p.id ASC
		LIMIT $3
	`
	return r.queryPosts(ctx, "list replies", query, viewerID, parentID, ClampLimit(limit))
}
