package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunder-social/sunder-api/internal/metrics"
	"github.com/sunder-social/sunder-api/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	flags     map[uuid.UUID]models.ModerationFlags
	roles     map[uuid.UUID][]models.Role
	flagErr   error
	roleErr   error
	roleCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		flags: make(map[uuid.UUID]models.ModerationFlags),
		roles: make(map[uuid.UUID][]models.Role),
	}
}

func (f *fakeStore) GetModerationFlags(_ context.Context, id uuid.UUID) (models.ModerationFlags, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flagErr != nil {
		return models.ModerationFlags{}, f.flagErr
	}
	return f.flags[id], nil
}

func (f *fakeStore) GetUserRoles(_ context.Context, id uuid.UUID) ([]models.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleCalls++
	if f.roleErr != nil {
		return nil, f.roleErr
	}
	return f.roles[id], nil
}

func (f *fakeStore) setFlags(id uuid.UUID, flags models.ModerationFlags) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[id] = flags
}

func post(author uuid.UUID, shadowbanned bool) models.Post {
	return models.Post{
		ID:       uuid.New(),
		AuthorID: author,
		Author: models.Author{
			ID:    author,
			Flags: models.ModerationFlags{IsShadowbanned: shadowbanned},
		},
	}
}

func TestCanCreatePost(t *testing.T) {
	tests := []struct {
		name  string
		flags models.ModerationFlags
		want  bool
	}{
		{name: "default flags", flags: models.ModerationFlags{}, want: true},
		{name: "suspended", flags: models.ModerationFlags{IsSuspended: true}, want: false},
		{name: "shadowbanned only", flags: models.ModerationFlags{IsShadowbanned: true}, want: true},
		{name: "verified only", flags: models.ModerationFlags{IsVerified: true}, want: true},
		{name: "suspended and shadowbanned", flags: models.ModerationFlags{IsSuspended: true, IsShadowbanned: true}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanCreatePost(tt.flags))
		})
	}
}

func TestFilterFeed(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	p1 := post(a, true)
	p2 := post(b, false)
	posts := []models.Post{p1, p2}

	t.Run("other viewer does not see shadowbanned author", func(t *testing.T) {
		got := FilterFeed(posts, c)
		require.Len(t, got, 1)
		assert.Equal(t, p2.ID, got[0].ID)
	})

	t.Run("shadowbanned author sees own posts", func(t *testing.T) {
		got := FilterFeed(posts, a)
		require.Len(t, got, 2)
		assert.Equal(t, p1.ID, got[0].ID)
		assert.Equal(t, p2.ID, got[1].ID)
	})

	t.Run("anonymous viewer", func(t *testing.T) {
		got := FilterFeed(posts, uuid.Nil)
		require.Len(t, got, 1)
		assert.Equal(t, p2.ID, got[0].ID)
	})

	t.Run("order preserved and input untouched", func(t *testing.T) {
		in := []models.Post{post(b, false), post(a, true), post(c, false), post(a, true)}
		before := append([]models.Post(nil), in...)

		got := FilterFeed(in, b)
		require.Len(t, got, 2)
		assert.Equal(t, in[0].ID, got[0].ID)
		assert.Equal(t, in[2].ID, got[1].ID)
		assert.Equal(t, before, in)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, FilterFeed(nil, a))
	})

	t.Run("verified flag passes through", func(t *testing.T) {
		p := post(b, false)
		p.Author.IsVerified = true
		got := FilterFeed([]models.Post{p}, c)
		require.Len(t, got, 1)
		assert.True(t, got[0].Author.IsVerified)
	})
}

func TestPolicy_CheckCanPost(t *testing.T) {
	store := newFakeStore()
	m := metrics.New(prometheus.NewRegistry())
	p := NewPolicy(store, nil, m)
	ctx := context.Background()
	user := uuid.New()

	assert.NoError(t, p.CheckCanPost(ctx, user))

	store.setFlags(user, models.ModerationFlags{IsSuspended: true})
	assert.ErrorIs(t, p.CheckCanPost(ctx, user), ErrAccountSuspended)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateBlocksTotal))
}

func TestPolicy_SuspensionMidSession(t *testing.T) {
	store := newFakeStore()
	p := NewPolicy(store, nil, nil)
	ctx := context.Background()
	x := uuid.New()

	require.NoError(t, p.CheckCanPost(ctx, x), "first post should be allowed")

	// An admin suspends X between two submissions.
	store.setFlags(x, models.ModerationFlags{IsSuspended: true})

	assert.ErrorIs(t, p.CheckCanPost(ctx, x), ErrAccountSuspended)
}

func TestPolicy_FlagReadFailureUsesDefaults(t *testing.T) {
	store := newFakeStore()
	store.flagErr = errors.New("connection reset")
	m := metrics.New(prometheus.NewRegistry())
	p := NewPolicy(store, nil, m)

	flags := p.FlagsFor(context.Background(), uuid.New())
	assert.Equal(t, models.ModerationFlags{}, flags)
	assert.NoError(t, p.CheckCanPost(context.Background(), uuid.New()))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FlagReadFailures))
}

func TestPolicy_PrepareFeed(t *testing.T) {
	store := newFakeStore()
	m := metrics.New(prometheus.NewRegistry())
	p := NewPolicy(store, nil, m)
	a, b := uuid.New(), uuid.New()
	store.roles[b] = []models.Role{models.RoleStaff}

	posts := []models.Post{post(a, true), post(b, false), post(b, false)}

	got := p.PrepareFeed(context.Background(), posts, uuid.New())
	require.Len(t, got, 2)
	assert.Equal(t, []models.Role{models.RoleStaff}, got[0].Author.Roles)
	assert.Equal(t, []models.Role{models.RoleStaff}, got[1].Author.Roles)
	assert.Equal(t, 1, store.roleCalls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedPostsHidden))
}

func TestPolicy_PrepareFeedRoleFailure(t *testing.T) {
	store := newFakeStore()
	store.roleErr = errors.New("timeout")
	p := NewPolicy(store, nil, nil)
	b := uuid.New()

	got := p.PrepareFeed(context.Background(), []models.Post{post(b, false)}, uuid.Nil)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Author.Roles)
}
