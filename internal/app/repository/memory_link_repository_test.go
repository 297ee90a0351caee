package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrTime(t time.Time) *time.Time { return &t }

func ptrString(s string) *string { return &s }

func TestMemoryLinkRepository_CreateRejectsDuplicateCode(t *testing.T) {
	repo := NewMemoryLinkRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Link{Code: "abc", URL: "https://a.example"}))
	err := repo.Create(ctx, &model.Link{Code: "abc", URL: "https://b.example"})
	assert.ErrorIs(t, err, ErrDuplicateCode)
	assert.Equal(t, 1, repo.Len())
}

func TestMemoryLinkRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryLinkRepository()
	ctx := context.Background()

	link := &model.Link{Code: "abc", URL: "https://a.example", Active: true}
	require.NoError(t, repo.Create(ctx, link))
	require.NotEmpty(t, link.ID)

	found, err := repo.FindByCode(ctx, "abc")
	require.NoError(t, err)
	found.URL = "https://mutated.example"

	again, err := repo.FindByID(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", again.URL)
}

func TestMemoryLinkRepository_UpdatesAreColumnScoped(t *testing.T) {
	repo := NewMemoryLinkRepository()
	ctx := context.Background()

	link := &model.Link{Code: "abc", URL: "https://a.example", Active: true}
	require.NoError(t, repo.Create(ctx, link))

	clicked := *link
	clicked.ClickCount = 3
	require.NoError(t, repo.UpdateClickCount(ctx, &clicked))

	// a stale owner copy still carries ClickCount 0
	edited := *link
	edited.URL = "https://b.example"
	require.NoError(t, repo.Update(ctx, &edited))

	stored, err := repo.FindByCode(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "https://b.example", stored.URL)
	assert.Equal(t, int64(3), stored.ClickCount)
}

func TestMemoryLinkRepository_MissingRows(t *testing.T) {
	repo := NewMemoryLinkRepository()
	ctx := context.Background()

	_, err := repo.FindByCode(ctx, "nope")
	assert.ErrorIs(t, err, ErrLinkNotFound)
	assert.ErrorIs(t, repo.Update(ctx, &model.Link{ID: "x"}), ErrLinkNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, &model.Link{ID: "x"}), ErrLinkNotFound)
}

func TestMemoryLinkRepository_ExpiredSweeps(t *testing.T) {
	repo := NewMemoryLinkRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, &model.Link{Code: "old", Active: true, ExpiresAt: ptrTime(now.Add(-time.Hour))}))
	require.NoError(t, repo.Create(ctx, &model.Link{Code: "off", Active: false, ExpiresAt: ptrTime(now.Add(-time.Hour))}))
	require.NoError(t, repo.Create(ctx, &model.Link{Code: "new", Active: true, ExpiresAt: ptrTime(now.Add(time.Hour))}))
	require.NoError(t, repo.Create(ctx, &model.Link{Code: "forever", Active: false}))

	count, err := repo.CountExpired(ctx, now, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	n, err := repo.DeactivateExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeactivateExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	exists, err := repo.ExistsByCode(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 2, repo.Len())
}

func TestMemoryLinkRepository_Listings(t *testing.T) {
	repo := NewMemoryLinkRepository()
	ctx := context.Background()
	now := time.Now()
	owner := ptrString("u1")

	require.NoError(t, repo.Create(ctx, &model.Link{Code: "pub1", OwnerID: owner, Active: true, Visibility: model.VisibilityPublic}))
	require.NoError(t, repo.Create(ctx, &model.Link{Code: "priv", OwnerID: owner, Active: true, Visibility: model.VisibilityPrivate}))
	require.NoError(t, repo.Create(ctx, &model.Link{Code: "soon", OwnerID: owner, Active: true, Visibility: model.VisibilityPublic, ExpiresAt: ptrTime(now.Add(2 * time.Hour))}))
	require.NoError(t, repo.Create(ctx, &model.Link{Code: "gone", Active: true, Visibility: model.VisibilityPublic, ExpiresAt: ptrTime(now.Add(-time.Hour))}))

	public, err := repo.ListPublic(ctx, now, 10, 0)
	require.NoError(t, err)
	codes := make([]string, 0, len(public))
	for _, l := range public {
		codes = append(codes, l.Code)
	}
	assert.Equal(t, []string{"soon", "pub1"}, codes)

	mine, err := repo.ListByOwner(ctx, "u1", 2, 1)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "priv", mine[0].Code)

	expiring, err := repo.ListExpiringBefore(ctx, "u1", now, now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "soon", expiring[0].Code)

	active, err := repo.CountActiveByOwner(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), active)
}

func TestMemoryLinkRepository_TransactionSerializesPerCode(t *testing.T) {
	repo := NewMemoryLinkRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &model.Link{Code: "hot", Active: true}))

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Transaction(ctx, func(tx LinkRepository) error {
				link, err := tx.FindByCodeForUpdate(ctx, "hot")
				if err != nil {
					return err
				}
				time.Sleep(time.Microsecond)
				link.ClickCount++
				return tx.UpdateClickCount(ctx, link)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	link, err := repo.FindByCode(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), link.ClickCount)
}

func TestMemoryLinkRepository_LockWaitHonoursContext(t *testing.T) {
	repo := NewMemoryLinkRepository()
	require.NoError(t, repo.Create(context.Background(), &model.Link{Code: "hot", Active: true}))

	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = repo.Transaction(context.Background(), func(tx LinkRepository) error {
			_, err := tx.FindByCodeForUpdate(context.Background(), "hot")
			close(locked)
			<-done
			return err
		})
	}()
	<-locked
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var entered atomic.Bool
	err := repo.Transaction(ctx, func(tx LinkRepository) error {
		_, err := tx.FindByCodeForUpdate(ctx, "hot")
		entered.Store(err == nil)
		return err
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, entered.Load())
}

func TestMemoryLinkRepository_LocksAreReleased(t *testing.T) {
	repo := NewMemoryLinkRepository()
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		err := repo.Transaction(ctx, func(tx LinkRepository) error {
			_, err := tx.FindByCodeForUpdate(ctx, fmt.Sprintf("missing%d", i))
			return err
		})
		require.ErrorIs(t, err, ErrLinkNotFound)
	}
	assert.Equal(t, 0, repo.lockCount())

	link := &model.Link{Code: "hot", Active: true}
	require.NoError(t, repo.Create(ctx, link))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.Transaction(ctx, func(tx LinkRepository) error {
				_, err := tx.FindByCodeForUpdate(ctx, "hot")
				return err
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, repo.lockCount())

	require.NoError(t, repo.Delete(ctx, link))
	err := repo.Transaction(ctx, func(tx LinkRepository) error {
		_, err := tx.FindByCodeForUpdate(ctx, "hot")
		return err
	})
	assert.ErrorIs(t, err, ErrLinkNotFound)
	assert.Equal(t, 0, repo.lockCount())
}
