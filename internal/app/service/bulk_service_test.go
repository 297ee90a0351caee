package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBulkFixture(t *testing.T) (*BulkService, LinkService, *repository.MemoryLinkRepository) {
	t.Helper()
	repo := repository.NewMemoryLinkRepository()
	links := NewLinkService(repo, testOptions())
	return NewBulkService(links, 0, nil), links, repo
}

func TestBulkService_CreateIsolatesFailures(t *testing.T) {
	bulk, _, repo := newBulkFixture(t)

	result, err := bulk.BulkCreate(context.Background(), "u1", []CreateLinkInput{
		{URL: "https://one.example"},
		{URL: "definitely not a url"},
		{URL: "https://three.example"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalProcessed)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, 1, result.Failures[0].Index)
	assert.Equal(t, "definitely not a url", result.Failures[0].Input)
	assert.ErrorIs(t, result.Failures[0].Err, ErrInvalidInput)
	assert.NotEmpty(t, result.Failures[0].Reason)

	require.Len(t, result.Successes, 2)
	assert.Equal(t, 0, result.Successes[0].Index)
	assert.Equal(t, "https://one.example", result.Successes[0].Value.URL)
	assert.Equal(t, 2, result.Successes[1].Index)
	assert.Equal(t, "https://three.example", result.Successes[1].Value.URL)
	assert.NotEqual(t, result.Successes[0].Value.Code, result.Successes[1].Value.Code)
	assert.True(t, result.Successes[0].Value.OwnedBy("u1"))

	assert.Equal(t, 2, repo.Len())
}

func TestBulkService_AllFailStillReportsTally(t *testing.T) {
	bulk, _, _ := newBulkFixture(t)

	result, err := bulk.BulkCreate(context.Background(), "", []CreateLinkInput{
		{URL: ""},
		{URL: "ftp://nope.example"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalProcessed)
	assert.Zero(t, result.SuccessCount)
	assert.Equal(t, 2, result.FailureCount)
	assert.NotNil(t, result.Successes)
	assert.Empty(t, result.Successes)
}

func TestBulkService_SizeLimits(t *testing.T) {
	repo := repository.NewMemoryLinkRepository()
	bulk := NewBulkService(NewLinkService(repo, testOptions()), 2, nil)

	_, err := bulk.BulkCreate(context.Background(), "u1", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = bulk.BulkDelete(context.Background(), "u1", []string{"a", "b", "c"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 2, bulk.MaxItems())
}

func TestBulkService_DeleteChecksOwnershipPerItem(t *testing.T) {
	bulk, links, repo := newBulkFixture(t)
	ctx := context.Background()

	mine, err := links.CreateLink(ctx, CreateLinkInput{URL: "https://a.example", OwnerID: "u1"})
	require.NoError(t, err)
	theirs, err := links.CreateLink(ctx, CreateLinkInput{URL: "https://b.example", OwnerID: "u2"})
	require.NoError(t, err)
	missing := uuid.NewString()

	result, err := bulk.BulkDelete(ctx, "u1", []string{theirs.ID, mine.ID, missing})
	require.NoError(t, err)

	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 2, result.FailureCount)
	assert.Equal(t, mine.ID, result.Successes[0].Value)
	assert.Equal(t, 1, result.Successes[0].Index)

	assert.Equal(t, 0, result.Failures[0].Index)
	assert.ErrorIs(t, result.Failures[0].Err, ErrPermissionDenied)
	assert.Equal(t, 2, result.Failures[1].Index)
	assert.ErrorIs(t, result.Failures[1].Err, ErrNotFound)

	assert.Equal(t, 1, repo.Len())
}

func TestBulkService_SetVisibilityAndStatus(t *testing.T) {
	bulk, links, _ := newBulkFixture(t)
	ctx := context.Background()

	a, err := links.CreateLink(ctx, CreateLinkInput{URL: "https://a.example", OwnerID: "u1"})
	require.NoError(t, err)
	b, err := links.CreateLink(ctx, CreateLinkInput{URL: "https://b.example", OwnerID: "u2"})
	require.NoError(t, err)

	result, err := bulk.BulkSetVisibility(ctx, "u1", []string{a.ID, b.ID}, model.VisibilityPrivate)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, model.VisibilityPrivate, result.Successes[0].Value.Visibility)
	assert.ErrorIs(t, result.Failures[0].Err, ErrPermissionDenied)

	_, err = bulk.BulkSetVisibility(ctx, "u1", []string{a.ID}, "hidden")
	assert.ErrorIs(t, err, ErrInvalidInput)

	status, err := bulk.BulkSetActive(ctx, "u1", []string{a.ID}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, status.TotalProcessed)
	assert.False(t, status.Successes[0].Value.Active)
}

func TestBulkService_FailureReasonHidesStoreDetail(t *testing.T) {
	repo := &mockLinkRepository{
		LinkRepository: repository.NewMemoryLinkRepository(),
		existsFn: func(ctx context.Context, code string) (bool, error) {
			return false, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
		},
	}
	bulk := NewBulkService(NewLinkService(repo, testOptions()), 0, nil)

	result, err := bulk.BulkCreate(context.Background(), "u1", []CreateLinkInput{
		{URL: "https://one.example"},
		{URL: "ftp://two.example"},
	})
	require.NoError(t, err)
	require.Len(t, result.Failures, 2)

	assert.ErrorIs(t, result.Failures[0].Err, ErrUnavailable)
	assert.Equal(t, ErrUnavailable.Error(), result.Failures[0].Reason)
	assert.NotContains(t, result.Failures[0].Reason, "10.0.0.5")
	assert.Contains(t, result.Failures[0].Err.Error(), "10.0.0.5")

	// validation detail is still shown
	assert.ErrorIs(t, result.Failures[1].Err, ErrInvalidInput)
	assert.Contains(t, result.Failures[1].Reason, "scheme")
}

func TestPublicReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation detail", invalidInput("url is required"), "invalid input: url is required"},
		{"store failure", storeError("create", errors.New("pq: password authentication failed")), "storage unavailable"},
		{"not found", storeError("find", repository.ErrLinkNotFound), "link not found"},
		{"canceled", storeError("find", context.Canceled), "request canceled"},
		{"unknown", errors.New("boom"), "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicReason(tt.err))
		})
	}
}
