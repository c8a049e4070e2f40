package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sunder-social/sunder-api/internal/db"
)

// Like methods

// LikePost records a like. It returns false if the like already existed.
func (r *Repository) LikePost(ctx context.Context, userID, postID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO likes (user_id, post_id) VALUES ($1, $2)
		ON CONFLICT (user_id, post_id) DO NOTHING
	`, userID, postID)
	if err != nil {
		return false, db.WrapError(err, "like post")
	}
	return tag.RowsAffected() == 1, nil
}

// UnlikePost removes a like. It returns false if there was none.
func (r *Repository) UnlikePost(ctx context.Context, userID, postID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM likes WHERE user_id = $1 AND post_id = $2`, userID, postID)
	if err != nil {
		return false, db.WrapError(err, "unlike post")
	}
	return tag.RowsAffected() == 1, nil
}

// CountLikes returns the number of likes on a post.
func (r *Repository) CountLikes(ctx context.Context, postID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM likes WHERE post_id = $1`, postID).Scan(&n)
	return n, db.WrapError(err, "count likes")
}

// Follow methods

// Follow records followerID following followingID. It returns false if the
// follow already existed. Self-follows fail with db.ErrCheckViolation.
func (r *Repository) Follow(ctx context.Context, followerID, followingID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO follows (follower_id, following_id) VALUES ($1, $2)
		ON CONFLICT (follower_id, following_id) DO NOTHING
	`, followerID, followingID)
	if err != nil {
		return false, db.WrapError(err, "follow")
	}
	return tag.RowsAffected() == 1, nil
}

// Unfollow removes a follow. It returns false if there was none.
func (r *Repository) Unfollow(ctx context.Context, followerID, followingID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM follows WHERE follower_id = $1 AND following_id = $2`, followerID, followingID)
	if err != nil {
		return false, db.WrapError(err, "unfollow")
	}
	return tag.RowsAffected() == 1, nil
}

// IsFollowing reports whether followerID follows followingID.
func (r *Repository) IsFollowing(ctx context.Context, followerID, followingID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM follows WHERE follower_id = $1 AND following_id = $2)
	`, followerID, followingID).Scan(&exists)
	return exists, db.WrapError(err, "is following")
}
