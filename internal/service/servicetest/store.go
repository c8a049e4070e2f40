// Package servicetest provides an in-memory store for service and handler
// tests. It mirrors the repository's error mapping and ordering.
package servicetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sunder-social/sunder-api/internal/db"
	"github.com/sunder-social/sunder-api/internal/models"
	"github.com/sunder-social/sunder-api/internal/repository"
)

type edge struct {
	from, to uuid.UUID
}

// Store is a goroutine-safe in-memory implementation of every store
// interface the services use.
type Store struct {
	mu      sync.Mutex
	clock   time.Time
	users   map[uuid.UUID]*models.User
	roles   map[uuid.UUID][]models.Role
	posts   []models.Post
	likes   map[edge]bool
	follows map[edge]bool
	actions []models.ModerationAction

	// FlagsErr and RolesErr, when set, are returned by the flag and role reads.
	FlagsErr error
	RolesErr error

	flagReads int
	roleReads int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		clock:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		users:   make(map[uuid.UUID]*models.User),
		roles:   make(map[uuid.UUID][]models.Role),
		likes:   make(map[edge]bool),
		follows: make(map[edge]bool),
	}
}

// tick returns strictly increasing timestamps so ordering is deterministic.
func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

// AddUser inserts a user with the given username and flags and returns it.
// The external id is "ext-" + username.
func (s *Store) AddUser(username string, flags models.ModerationFlags) *models.User {
	u := &models.User{
		ExternalID:  "ext-" + username,
		Username:    username,
		DisplayName: username,
		Flags:       flags,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}

// SetFlags overwrites a user's flags without writing an audit row.
func (s *Store) SetFlags(id uuid.UUID, flags models.ModerationFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.Flags = flags
	}
}

// FlagReads returns how many times flags were read.
func (s *Store) FlagReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flagReads
}

// RoleReads returns how many times roles were read.
func (s *Store) RoleReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roleReads
}

// PostCount returns the number of stored posts, including replies.
func (s *Store) PostCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

// Users

// CreateUser implements service.UserStore.
func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username || existing.ExternalID == u.ExternalID {
			return fmt.Errorf("create user: %w", db.ErrDuplicateKey)
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = s.tick()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) findUser(match func(*models.User) bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("get user: %w", db.ErrNotFound)
}

// GetUserByID implements service.UserStore.
func (s *Store) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return s.findUser(func(u *models.User) bool { return u.ID == id })
}

// GetUserByExternalID implements service.UserStore.
func (s *Store) GetUserByExternalID(_ context.Context, externalID string) (*models.User, error) {
	return s.findUser(func(u *models.User) bool { return u.ExternalID == externalID })
}

// GetUserByUsername implements service.UserStore.
func (s *Store) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	return s.findUser(func(u *models.User) bool { return u.Username == username })
}

// UsernameExists implements service.UserStore.
func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := s.GetUserByUsername(ctx, username)
	if db.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// UpdateProfile implements service.UserStore.
func (s *Store) UpdateProfile(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[u.ID]
	if !ok {
		return fmt.Errorf("update profile: %w", db.ErrNotFound)
	}
	for id, other := range s.users {
		if id != u.ID && other.Username == u.Username {
			return fmt.Errorf("update profile: %w", db.ErrDuplicateKey)
		}
	}
	existing.Username = u.Username
	existing.DisplayName = u.DisplayName
	existing.Bio = u.Bio
	existing.AvatarURL = u.AvatarURL
	existing.BannerURL = u.BannerURL
	existing.UpdatedAt = s.tick()
	u.UpdatedAt = existing.UpdatedAt
	return nil
}

func (s *Store) sortedUsers() []*models.User {
	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// SearchUsers implements service.UserStore.
func (s *Store) SearchUsers(_ context.Context, query string, limit int) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(query)
	var out []models.User
	for _, u := range s.sortedUsers() {
		if strings.Contains(u.Username, q) || strings.Contains(strings.ToLower(u.DisplayName), q) {
			out = append(out, *u)
		}
		if len(out) == repository.ClampLimit(limit) {
			break
		}
	}
	return out, nil
}

// GetProfileCounts implements service.UserStore.
func (s *Store) GetProfileCounts(_ context.Context, userID uuid.UUID) (models.ProfileCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c models.ProfileCounts
	for e := range s.follows {
		if e.to == userID {
			c.Followers++
		}
		if e.from == userID {
			c.Following++
		}
	}
	for _, p := range s.posts {
		if p.AuthorID == userID {
			c.Posts++
		}
	}
	return c, nil
}

// Moderation

// GetModerationFlags implements moderation.FlagStore.
func (s *Store) GetModerationFlags(_ context.Context, userID uuid.UUID) (models.ModerationFlags, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flagReads++
	if s.FlagsErr != nil {
		return models.ModerationFlags{}, s.FlagsErr
	}
	u, ok := s.users[userID]
	if !ok {
		return models.ModerationFlags{}, fmt.Errorf("get moderation flags: %w", db.ErrNotFound)
	}
	return u.Flags, nil
}

// GetUserRoles implements moderation.FlagStore.
func (s *Store) GetUserRoles(_ context.Context, userID uuid.UUID) ([]models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleReads++
	if s.RolesErr != nil {
		return nil, s.RolesErr
	}
	roles := append([]models.Role{}, s.roles[userID]...)
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles, nil
}

// UpdateModerationFlags implements service.AdminStore. The read, update and
// write happen under one lock, like the row lock the repository takes.
func (s *Store) UpdateModerationFlags(
	_ context.Context,
	userID uuid.UUID,
	update func(models.ModerationFlags) models.ModerationFlags,
	actor string,
) (before, after models.ModerationFlags, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FlagsErr != nil {
		return before, after, s.FlagsErr
	}
	u, ok := s.users[userID]
	if !ok {
		return before, after, fmt.Errorf("update moderation flags: %w", db.ErrNotFound)
	}
	before = u.Flags
	after = update(before)
	u.Flags = after
	s.actions = append(s.actions, models.ModerationAction{
		ID:        uuid.New(),
		UserID:    userID,
		Actor:     actor,
		Flags:     after,
		CreatedAt: s.tick(),
	})
	return before, after, nil
}

// ListModerationActions implements service.AdminStore.
func (s *Store) ListModerationActions(_ context.Context, userID uuid.UUID, limit int) ([]models.ModerationAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ModerationAction
	for i := len(s.actions) - 1; i >= 0 && len(out) < repository.ClampLimit(limit); i-- {
		if s.actions[i].UserID == userID {
			out = append(out, s.actions[i])
		}
	}
	return out, nil
}

// ListUsers implements service.AdminStore.
func (s *Store) ListUsers(_ context.Context, limit, offset int) ([]models.AdminUserView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.sortedUsers()
	if offset < 0 {
		offset = 0
	}
	if offset > len(users) {
		offset = len(users)
	}
	users = users[offset:]
	if n := repository.ClampLimit(limit); len(users) > n {
		users = users[:n]
	}
	out := make([]models.AdminUserView, 0, len(users))
	for _, u := range users {
		out = append(out, models.AdminUserView{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			Flags:       u.Flags,
			Roles:       append([]models.Role{}, s.roles[u.ID]...),
			CreatedAt:   u.CreatedAt,
		})
	}
	return out, nil
}

// GrantRole implements service.AdminStore. Granting a held role is a no-op.
func (s *Store) GrantRole(_ context.Context, userID uuid.UUID, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("grant role: %w", db.ErrForeignKeyViolation)
	}
	for _, r := range s.roles[userID] {
		if r == role {
			return nil
		}
	}
	s.roles[userID] = append(s.roles[userID], role)
	return nil
}

// RevokeRole implements service.AdminStore.
func (s *Store) RevokeRole(_ context.Context, userID uuid.UUID, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.roles[userID][:0]
	for _, r := range s.roles[userID] {
		if r != role {
			kept = append(kept, r)
		}
	}
	s.roles[userID] = kept
	return nil
}

// Posts

// CreatePost implements service.PostStore.
func (s *Store) CreatePost(_ context.Context, p *models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[p.AuthorID]; !ok {
		return fmt.Errorf("create post: %w", db.ErrForeignKeyViolation)
	}
	if p.ParentID != nil && s.indexOf(*p.ParentID) < 0 {
		return fmt.Errorf("create post: %w", db.ErrForeignKeyViolation)
	}
	p.ID = uuid.New()
	p.CreatedAt = s.tick()
	s.posts = append(s.posts, models.Post{
		ID:        p.ID,
		AuthorID:  p.AuthorID,
		ParentID:  p.ParentID,
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
	})
	return nil
}

func (s *Store) indexOf(id uuid.UUID) int {
	for i := range s.posts {
		if s.posts[i].ID == id {
			return i
		}
	}
	return -1
}

// hydrate joins a stored post with its author's current state, the way the
// repository's SELECT does.
func (s *Store) hydrate(p models.Post, viewerID uuid.UUID) models.Post {
	if u, ok := s.users[p.AuthorID]; ok {
		p.Author = models.Author{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			AvatarURL:   u.AvatarURL,
			IsVerified:  u.Flags.IsVerified,
			Flags:       u.Flags,
		}
	}
	p.LikeCount, p.ReplyCount = 0, 0
	for e := range s.likes {
		if e.to == p.ID {
			p.LikeCount++
		}
	}
	for _, r := range s.posts {
		if r.ParentID != nil && *r.ParentID == p.ID {
			p.ReplyCount++
		}
	}
	p.LikedByViewer = s.likes[edge{viewerID, p.ID}]
	return p
}

// GetPost implements service.PostStore.
func (s *Store) GetPost(_ context.Context, id, viewerID uuid.UUID) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("get post: %w", db.ErrNotFound)
	}
	p := s.hydrate(s.posts[i], viewerID)
	return &p, nil
}

// DeletePost implements service.PostStore. Replies are removed with their parent.
func (s *Store) DeletePost(_ context.Context, id, authorID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 || s.posts[i].AuthorID != authorID {
		return fmt.Errorf("delete post: %w", db.ErrNotFound)
	}
	kept := s.posts[:0]
	for _, p := range s.posts {
		if p.ID != id && (p.ParentID == nil || *p.ParentID != id) {
			kept = append(kept, p)
		}
	}
	s.posts = kept
	return nil
}

// list returns hydrated posts matching keep, newest first unless asc, starting
// strictly before the post with id before.
func (s *Store) list(viewerID uuid.UUID, before *uuid.UUID, limit int, asc bool, keep func(models.Post) bool) ([]models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cutoff time.Time
	if before != nil {
		i := s.indexOf(*before)
		if i < 0 {
			return []models.Post{}, nil
		}
		cutoff = s.posts[i].CreatedAt
	}

	matched := make([]models.Post, 0)
	for _, p := range s.posts {
		if keep(p) && (before == nil || p.CreatedAt.Before(cutoff)) {
			matched = append(matched, s.hydrate(p, viewerID))
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if asc {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if n := repository.ClampLimit(limit); len(matched) > n {
		matched = matched[:n]
	}
	return matched, nil
}

// ListFeed implements service.PostStore.
func (s *Store) ListFeed(_ context.Context, viewerID uuid.UUID, before *uuid.UUID, limit int) ([]models.Post, error) {
	return s.list(viewerID, before, limit, false, func(p models.Post) bool { return p.ParentID == nil })
}

// ListUserPosts implements service.PostStore.
func (s *Store) ListUserPosts(_ context.Context, authorID, viewerID uuid.UUID, before *uuid.UUID, limit int) ([]models.Post, error) {
	return s.list(viewerID, before, limit, false, func(p models.Post) bool {
		return p.AuthorID == authorID && p.ParentID == nil
	})
}

// ListReplies implements service.PostStore.
func (s *Store) ListReplies(_ context.Context, parentID, viewerID uuid.UUID, limit int) ([]models.Post, error) {
	return s.list(viewerID, nil, limit, true, func(p models.Post) bool {
		return p.ParentID != nil && *p.ParentID == parentID
	})
}

// LikePost implements service.PostStore.
func (s *Store) LikePost(_ context.Context, userID, postID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(postID) < 0 {
		return false, fmt.Errorf("like post: %w", db.ErrForeignKeyViolation)
	}
	e := edge{userID, postID}
	if s.likes[e] {
		return false, nil
	}
	s.likes[e] = true
	return true, nil
}

// UnlikePost implements service.PostStore.
func (s *Store) UnlikePost(_ context.Context, userID, postID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := edge{userID, postID}
	had := s.likes[e]
	delete(s.likes, e)
	return had, nil
}

// CountLikes implements service.PostStore.
func (s *Store) CountLikes(_ context.Context, postID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for e := range s.likes {
		if e.to == postID {
			n++
		}
	}
	return n, nil
}

// Follows

// Follow implements service.FollowStore.
func (s *Store) Follow(_ context.Context, followerID, followingID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if followerID == followingID {
		return false, fmt.Errorf("follow: %w", db.ErrCheckViolation)
	}
	e := edge{followerID, followingID}
	if s.follows[e] {
		return false, nil
	}
	s.follows[e] = true
	return true, nil
}

// Unfollow implements service.FollowStore.
func (s *Store) Unfollow(_ context.Context, followerID, followingID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := edge{followerID, followingID}
	had := s.follows[e]
	delete(s.follows, e)
	return had, nil
}

// IsFollowing implements service.FollowStore.
func (s *Store) IsFollowing(_ context.Context, followerID, followingID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.follows[edge{followerID, followingID}], nil
}

// RecordingPublisher captures published events.
type RecordingPublisher struct {
	mu     sync.Mutex
	Err    error
	events []RecordedEvent
}

// RecordedEvent is one captured publish call.
type RecordedEvent struct {
	Type    string
	Payload interface{}
}

// Publish records the event and returns Err.
func (p *RecordingPublisher) Publish(_ context.Context, eventType string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, RecordedEvent{Type: eventType, Payload: payload})
	return p.Err
}

// IsHealthy reports Err == nil.
func (p *RecordingPublisher) IsHealthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Err == nil
}

// Close is a no-op.
func (p *RecordingPublisher) Close() error { return nil }

// Events returns the captured events.
func (p *RecordingPublisher) Events() []RecordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RecordedEvent{}, p.events...)
}

// Types returns the captured event types in order.
func (p *RecordingPublisher) Types() []string {
	var out []string
	for _, e := range p.Events() {
		out = append(out, e.Type)
	}
	return out
}
