package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/sunder-social/sunder-api/internal/config"
	"github.com/sunder-social/sunder-api/internal/metrics"
	"github.com/sunder-social/sunder-api/internal/models"
	"github.com/sunder-social/sunder-api/internal/moderation"
	"github.com/sunder-social/sunder-api/internal/service/servicetest"
	"github.com/sunder-social/sunder-api/internal/validation"
)

var testLimits = config.ModerationConfig{
	MaxUsernameLength:    12,
	MaxDisplayNameLength: 50,
	MaxBioLength:         200,
	MaxPostLength:        500,
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *recordingInvalidator) Invalidate(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

type fixture struct {
	store       *servicetest.Store
	pub         *servicetest.RecordingPublisher
	invalidator *recordingInvalidator
	metrics     *metrics.Metrics

	users  *UserService
	posts  *PostService
	social *SocialService
	admin  *AdminService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := servicetest.New()
	pub := &servicetest.RecordingPublisher{}
	inv := &recordingInvalidator{}
	m := metrics.New(prometheus.NewRegistry())

	policy := moderation.NewPolicy(store, nil, m)
	classifier := moderation.MustNewClassifier(nil)
	v := validation.New(testLimits)

	return &fixture{
		store:       store,
		pub:         pub,
		invalidator: inv,
		metrics:     m,
		users:       NewUserService(store, store, policy, classifier, v, m),
		posts:       NewPostService(store, policy, classifier, v, pub, m),
		social:      NewSocialService(store, store, m),
		admin:       NewAdminService(store, classifier, pub, inv, m),
	}
}

func (f *fixture) user(username string) *models.User {
	return f.store.AddUser(username, models.ModerationFlags{})
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

func requireErrorAs[T error](t *testing.T, err error) T {
	t.Helper()
	var target T
	require.Error(t, err)
	require.True(t, errors.As(err, &target), "error %v (%T) is not %T", err, err, target)
	return target
}
