package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sunder-social/sunder-api/internal/metrics"
	"github.com/sunder-social/sunder-api/internal/models"
	"github.com/sunder-social/sunder-api/internal/moderation"
	"github.com/sunder-social/sunder-api/internal/repository"
	"github.com/sunder-social/sunder-api/internal/validation"
	"github.com/sunder-social/sunder-api/pkg/logger"
	"go.uber.org/zap"
)

// PostCreatedPayload is the body of a post.created event.
type PostCreatedPayload struct {
	PostID    uuid.UUID `json:"post_id"`
	AuthorID  uuid.UUID `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// LikeState is returned by like and unlike.
type LikeState struct {
	PostID    uuid.UUID `json:"post_id"`
	Liked     bool      `json:"liked"`
	LikeCount int       `json:"like_count"`
}

// FeedPage is one page of a post listing. NextCursor is the id of the last
// row read from the store, visible to the viewer or not, so a page whose rows
// were all hidden still advances. It is nil once the store ran out of rows.
type FeedPage struct {
	Posts      []models.Post `json:"posts"`
	NextCursor *uuid.UUID    `json:"next_cursor"`
}

// PostService handles posting, feeds and likes.
type PostService struct {
	posts      PostStore
	policy     *moderation.Policy
	classifier *moderation.Classifier
	validator  *validation.Validator
	publisher  EventPublisher
	metrics    *metrics.Metrics
}

// NewPostService creates a new PostService instance. publisher may be nil.
func NewPostService(
	posts PostStore,
	policy *moderation.Policy,
	classifier *moderation.Classifier,
	validator *validation.Validator,
	publisher EventPublisher,
	m *metrics.Metrics,
) *PostService {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &PostService{
		posts:      posts,
		policy:     policy,
		classifier: classifier,
		validator:  validator,
		publisher:  publisher,
		metrics:    m,
	}
}

// Create publishes a new top-level post for authorID.
func (s *PostService) Create(ctx context.Context, authorID uuid.UUID, req *models.CreatePostRequest) (*models.Post, error) {
	return s.create(ctx, authorID, nil, req.Content)
}

// Reply adds a reply to parentID. The parent must be visible to the author.
func (s *PostService) Reply(ctx context.Context, authorID, parentID uuid.UUID, req *models.CreatePostRequest) (*models.Post, error) {
	if _, err := s.visiblePost(ctx, parentID, authorID); err != nil {
		return nil, err
	}
	return s.create(ctx, authorID, &parentID, req.Content)
}

// create runs sanitize, validate, classify and the suspension gate, in that
// order, before anything is written.
func (s *PostService) create(ctx context.Context, authorID uuid.UUID, parentID *uuid.UUID, raw string) (*models.Post, error) {
	content, err := s.validator.PostContent(raw)
	if err != nil {
		return nil, asValidation(err)
	}

	if err := checkContent(s.classifier, s.metrics, "content", content); err != nil {
		return nil, err
	}

	// Flags are read here, at write time, so a suspension applied since the
	// caller last loaded its profile still blocks the insert.
	if err := s.policy.CheckCanPost(ctx, authorID); err != nil {
		return nil, err
	}

	p := &models.Post{
		AuthorID: authorID,
		ParentID: parentID,
		Content:  content,
	}
	if err := s.posts.CreatePost(ctx, p); err != nil {
		return nil, storeError(err, "post", "create post")
	}
	s.metrics.PostCreated(parentID != nil)

	logger.Log.Info("Post created",
		zap.String("postId", p.ID.String()),
		zap.String("authorId", authorID.String()),
		zap.Bool("reply", parentID != nil),
	)

	full, err := s.posts.GetPost(ctx, p.ID, authorID)
	if err != nil {
		logger.Log.Warn("Failed to reload created post", zap.String("postId", p.ID.String()), zap.Error(err))
		return p, nil
	}
	full.Author.Roles = s.policy.RolesFor(ctx, authorID)

	// New-post notifications must not reveal a shadowbanned author.
	if parentID == nil && !full.Author.Flags.IsShadowbanned {
		publish(ctx, s.publisher, s.metrics, EventPostCreated, PostCreatedPayload{
			PostID:    full.ID,
			AuthorID:  authorID,
			CreatedAt: full.CreatedAt,
		})
	}
	return full, nil
}

// visiblePost loads a post and hides it if the feed filter would.
func (s *PostService) visiblePost(ctx context.Context, id, viewerID uuid.UUID) (*models.Post, error) {
	p, err := s.posts.GetPost(ctx, id, viewerID)
	if err != nil {
		return nil, storeError(err, "post", "get post")
	}
	visible := s.policy.PrepareFeed(ctx, []models.Post{*p}, viewerID)
	if len(visible) == 0 {
		return nil, &NotFoundError{Resource: "post"}
	}
	return &visible[0], nil
}

// Get returns a single post as seen by viewerID.
func (s *PostService) Get(ctx context.Context, id, viewerID uuid.UUID) (*models.Post, error) {
	return s.visiblePost(ctx, id, viewerID)
}

// Delete removes the author's own post.
func (s *PostService) Delete(ctx context.Context, id, authorID uuid.UUID) error {
	if err := s.posts.DeletePost(ctx, id, authorID); err != nil {
		return storeError(err, "post", "delete post")
	}
	logger.Log.Info("Post deleted", zap.String("postId", id.String()), zap.String("authorId", authorID.String()))
	return nil
}

// Feed returns the global feed for viewerID.
func (s *PostService) Feed(ctx context.Context, viewerID uuid.UUID, before *uuid.UUID, limit int) (*FeedPage, error) {
	posts, err := s.posts.ListFeed(ctx, viewerID, before, limit)
	if err != nil {
		return nil, storeError(err, "post", "list feed")
	}
	return s.feedPage(ctx, posts, viewerID, limit), nil
}

// UserPosts returns authorID's posts as seen by viewerID.
func (s *PostService) UserPosts(ctx context.Context, authorID, viewerID uuid.UUID, before *uuid.UUID, limit int) (*FeedPage, error) {
	posts, err := s.posts.ListUserPosts(ctx, authorID, viewerID, before, limit)
	if err != nil {
		return nil, storeError(err, "post", "list user posts")
	}
	return s.feedPage(ctx, posts, viewerID, limit), nil
}

// feedPage filters fetched for viewerID. The cursor is taken from fetched,
// before filtering.
func (s *PostService) feedPage(ctx context.Context, fetched []models.Post, viewerID uuid.UUID, limit int) *FeedPage {
	page := &FeedPage{Posts: s.policy.PrepareFeed(ctx, fetched, viewerID)}
	if n := len(fetched); n > 0 && n >= repository.ClampLimit(limit) {
		last := fetched[n-1].ID
		page.NextCursor = &last
	}
	return page
}

// Replies returns the visible replies to parentID.
func (s *PostService) Replies(ctx context.Context, parentID, viewerID uuid.UUID, limit int) ([]models.Post, error) {
	if _, err := s.visiblePost(ctx, parentID, viewerID); err != nil {
		return nil, err
	}
	posts, err := s.posts.ListReplies(ctx, parentID, viewerID, limit)
	if err != nil {
		return nil, storeError(err, "post", "list replies")
	}
	return s.policy.PrepareFeed(ctx, posts, viewerID), nil
}

// Like records userID liking postID. Liking twice is not an error.
func (s *PostService) Like(ctx context.Context, userID, postID uuid.UUID) (*LikeState, error) {
	if _, err := s.visiblePost(ctx, postID, userID); err != nil {
		return nil, err
	}
	created, err := s.posts.LikePost(ctx, userID, postID)
	if err != nil {
		return nil, storeError(err, "post", "like post")
	}
	if created {
		s.metrics.Liked()
	}
	return s.likeState(ctx, postID, true)
}

// Unlike removes userID's like from postID.
func (s *PostService) Unlike(ctx context.Context, userID, postID uuid.UUID) (*LikeState, error) {
	if _, err := s.visiblePost(ctx, postID, userID); err != nil {
		return nil, err
	}
	if _, err := s.posts.UnlikePost(ctx, userID, postID); err != nil {
		return nil, storeError(err, "post", "unlike post")
	}
	return s.likeState(ctx, postID, false)
}

// ToggleLike likes postID if userID has not liked it yet, and unlikes it
// otherwise.
func (s *PostService) ToggleLike(ctx context.Context, userID, postID uuid.UUID) (*LikeState, error) {
	p, err := s.visiblePost(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if p.LikedByViewer {
		return s.Unlike(ctx, userID, postID)
	}
	return s.Like(ctx, userID, postID)
}

func (s *PostService) likeState(ctx context.Context, postID uuid.UUID, liked bool) (*LikeState, error) {
	n, err := s.posts.CountLikes(ctx, postID)
	if err != nil {
		return nil, storeError(err, "post", "count likes")
	}
	return &LikeState{PostID: postID, Liked: liked, LikeCount: n}, nil
}
