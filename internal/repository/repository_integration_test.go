//go:build integration
// +build integration

package repository

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunder-social/sunder-api/internal/db"
	"github.com/sunder-social/sunder-api/internal/db/testutil"
	"github.com/sunder-social/sunder-api/internal/models"
)

func createUser(t *testing.T, repo *Repository, username string) *models.User {
	t.Helper()
	u := &models.User{
		ExternalID:  "ext-" + username,
		Username:    username,
		DisplayName: username,
	}
	require.NoError(t, repo.CreateUser(context.Background(), u))
	return u
}

func createPost(t *testing.T, repo *Repository, author uuid.UUID, parent *uuid.UUID, content string) *models.Post {
	t.Helper()
	p := &models.Post{AuthorID: author, ParentID: parent, Content: content}
	require.NoError(t, repo.CreatePost(context.Background(), p))
	return p
}

func boolPtr(b bool) *bool { return &b }

func setFlags(flags models.ModerationFlags) func(models.ModerationFlags) models.ModerationFlags {
	return func(models.ModerationFlags) models.ModerationFlags { return flags }
}

func TestRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	tdb := testutil.SetupTestDatabase(t)
	defer tdb.Cleanup(t)

	repo := New(tdb.Pool)
	ctx := context.Background()

	t.Run("users", func(t *testing.T) {
		tdb.TruncateTables(t)

		alice := createUser(t, repo, "alice")
		assert.NotEqual(t, uuid.Nil, alice.ID)

		got, err := repo.GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got.ID)
		assert.Equal(t, models.ModerationFlags{}, got.Flags)

		byExt, err := repo.GetUserByExternalID(ctx, "ext-alice")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, byExt.ID)

		exists, err := repo.UsernameExists(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, exists)

		err = repo.CreateUser(ctx, &models.User{ExternalID: "other", Username: "alice"})
		assert.True(t, db.IsDuplicateKey(err))

		_, err = repo.GetUserByID(ctx, uuid.New())
		assert.True(t, db.IsNotFound(err))

		got.Bio = "hello there"
		require.NoError(t, repo.UpdateProfile(ctx, got))
		reloaded, err := repo.GetUserByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello there", reloaded.Bio)

		createUser(t, repo, "bob_2")
		found, err := repo.SearchUsers(ctx, "B_", 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "bob_2", found[0].Username)
	})

	t.Run("moderation flags and roles", func(t *testing.T) {
		tdb.TruncateTables(t)

		u := createUser(t, repo, "mallory")

		flags := models.ModerationFlags{IsSuspended: true, IsShadowbanned: true}
		before, after, err := repo.UpdateModerationFlags(ctx, u.ID, setFlags(flags), "admin-key")
		require.NoError(t, err)
		assert.Equal(t, models.ModerationFlags{}, before)
		assert.Equal(t, flags, after)

		got, err := repo.GetModerationFlags(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, flags, got)

		actions, err := repo.ListModerationActions(ctx, u.ID, 10)
		require.NoError(t, err)
		require.Len(t, actions, 1)
		assert.Equal(t, "admin-key", actions[0].Actor)

		_, err = tdb.Pool.Exec(ctx, `UPDATE moderation_actions SET actor = 'x' WHERE id = $1`, actions[0].ID)
		assert.True(t, db.IsImmutableRecord(db.WrapError(err, "tamper")))

		_, err = tdb.Pool.Exec(ctx, `DELETE FROM moderation_actions WHERE id = $1`, actions[0].ID)
		assert.True(t, db.IsImmutableRecord(db.WrapError(err, "tamper")))

		_, err = tdb.Pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, u.ID)
		assert.True(t, db.IsForeignKeyViolation(db.WrapError(err, "delete audited user")),
			"users with an audit trail cannot be deleted")

		_, _, err = repo.UpdateModerationFlags(ctx, uuid.New(), setFlags(flags), "admin-key")
		assert.True(t, db.IsNotFound(err))

		require.NoError(t, repo.GrantRole(ctx, u.ID, models.RoleStaff))
		require.NoError(t, repo.GrantRole(ctx, u.ID, models.RoleStaff))
		require.NoError(t, repo.GrantRole(ctx, u.ID, models.RoleAdmin))
		roles, err := repo.GetUserRoles(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, []models.Role{models.RoleAdmin, models.RoleStaff}, roles)

		require.NoError(t, repo.RevokeRole(ctx, u.ID, models.RoleAdmin))
		roles, err = repo.GetUserRoles(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, []models.Role{models.RoleStaff}, roles)

		views, err := repo.ListUsers(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.True(t, views[0].Flags.IsSuspended)
		assert.Equal(t, []models.Role{models.RoleStaff}, views[0].Roles)
	})

	t.Run("posts feed and replies", func(t *testing.T) {
		tdb.TruncateTables(t)

		a := createUser(t, repo, "author")
		v := createUser(t, repo, "viewer")

		first := createPost(t, repo, a.ID, nil, "first")
		second := createPost(t, repo, a.ID, nil, "second")
		third := createPost(t, repo, a.ID, nil, "third")
		reply := createPost(t, repo, v.ID, &first.ID, "a reply")

		feed, err := repo.ListFeed(ctx, v.ID, nil, 20)
		require.NoError(t, err)
		require.Len(t, feed, 3)
		assert.Equal(t, third.ID, feed[0].ID)
		assert.Equal(t, first.ID, feed[2].ID)
		assert.Equal(t, 1, feed[2].ReplyCount)
		assert.Equal(t, "author", feed[0].Author.Username)

		page, err := repo.ListFeed(ctx, v.ID, &second.ID, 20)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, first.ID, page[0].ID)

		replies, err := repo.ListReplies(ctx, first.ID, uuid.Nil, 20)
		require.NoError(t, err)
		require.Len(t, replies, 1)
		assert.Equal(t, reply.ID, replies[0].ID)
		require.NotNil(t, replies[0].ParentID)
		assert.Equal(t, first.ID, *replies[0].ParentID)

		mine, err := repo.ListUserPosts(ctx, v.ID, v.ID, nil, 20)
		require.NoError(t, err)
		assert.Empty(t, mine)

		created, err := repo.LikePost(ctx, v.ID, first.ID)
		require.NoError(t, err)
		assert.True(t, created)
		created, err = repo.LikePost(ctx, v.ID, first.ID)
		require.NoError(t, err)
		assert.False(t, created)

		p, err := repo.GetPost(ctx, first.ID, v.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, p.LikeCount)
		assert.True(t, p.LikedByViewer)

		p, err = repo.GetPost(ctx, first.ID, uuid.Nil)
		require.NoError(t, err)
		assert.False(t, p.LikedByViewer)

		removed, err := repo.UnlikePost(ctx, v.ID, first.ID)
		require.NoError(t, err)
		assert.True(t, removed)

		err = repo.DeletePost(ctx, first.ID, v.ID)
		assert.True(t, db.IsNotFound(err), "only the author can delete")

		require.NoError(t, repo.DeletePost(ctx, first.ID, a.ID))
		_, err = repo.GetPost(ctx, reply.ID, uuid.Nil)
		assert.True(t, db.IsNotFound(err), "replies cascade")
	})

	t.Run("shadowbanned author flags travel with posts", func(t *testing.T) {
		tdb.TruncateTables(t)

		a := createUser(t, repo, "shadow")
		createPost(t, repo, a.ID, nil, "hidden")
		_, _, err := repo.UpdateModerationFlags(ctx, a.ID, setFlags(models.ModerationFlags{IsShadowbanned: true}), "admin")
		require.NoError(t, err)

		feed, err := repo.ListFeed(ctx, uuid.Nil, nil, 20)
		require.NoError(t, err)
		require.Len(t, feed, 1)
		assert.True(t, feed[0].Author.Flags.IsShadowbanned)
	})

	t.Run("follows", func(t *testing.T) {
		tdb.TruncateTables(t)

		a := createUser(t, repo, "a")
		b := createUser(t, repo, "b")

		created, err := repo.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.True(t, created)
		created, err = repo.Follow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.False(t, created)

		_, err = repo.Follow(ctx, a.ID, a.ID)
		assert.True(t, db.IsCheckViolation(err))

		following, err := repo.IsFollowing(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.True(t, following)

		counts, err := repo.GetProfileCounts(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, counts.Followers)
		assert.Equal(t, 0, counts.Following)

		removed, err := repo.Unfollow(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.True(t, removed)
	})

	t.Run("concurrent flag updates do not overwrite each other", func(t *testing.T) {
		tdb.TruncateTables(t)

		u := createUser(t, repo, "racer")
		suspend := &models.UpdateModerationRequest{IsSuspended: boolPtr(true)}
		verify := &models.UpdateModerationRequest{IsVerified: boolPtr(true)}

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			req := suspend
			if i%2 == 1 {
				req = verify
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := repo.UpdateModerationFlags(ctx, u.ID, req.Apply, "admin")
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := repo.GetModerationFlags(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ModerationFlags{IsVerified: true, IsSuspended: true}, got)

		actions, err := repo.ListModerationActions(ctx, u.ID, 50)
		require.NoError(t, err)
		assert.Len(t, actions, workers)
	})

	t.Run("text limits are enforced by the service, not the schema", func(t *testing.T) {
		tdb.TruncateTables(t)

		u := createUser(t, repo, "a_much_longer_username")
		long := strings.Repeat("x", 2000)
		p := createPost(t, repo, u.ID, nil, long)

		got, err := repo.GetPost(ctx, p.ID, uuid.Nil)
		require.NoError(t, err)
		assert.Equal(t, long, got.Content)

		err = repo.CreateUser(ctx, &models.User{ExternalID: "ext-bad", Username: "Not Valid!"})
		assert.True(t, db.IsCheckViolation(err), "the username alphabet is still checked")
	})
}
