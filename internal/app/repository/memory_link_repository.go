package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/shortlink/internal/app/model"
)

// MemoryLinkRepository keeps links in process memory. It honours the same
// contract as the GORM repository, including per-code row locks inside
// Transaction, and backs the "memory" storage driver and the service tests.
//
// Writes apply immediately; Transaction does not roll them back on error.
type MemoryLinkRepository struct {
	mu    sync.RWMutex
	rows  map[string]*memoryRow // by id
	codes map[string]string     // code -> id
	seq   int64

	locksMu sync.Mutex
	locks   map[string]*codeLock
}

// codeLock is dropped from the table once its last holder or waiter leaves.
type codeLock struct {
	ch   chan struct{}
	refs int
}

type memoryRow struct {
	link model.Link
	seq  int64
}

// NewMemoryLinkRepository returns an empty in-memory store.
func NewMemoryLinkRepository() *MemoryLinkRepository {
	return &MemoryLinkRepository{
		rows:  make(map[string]*memoryRow),
		codes: make(map[string]string),
		locks: make(map[string]*codeLock),
	}
}

// Len returns the number of stored links.
func (r *MemoryLinkRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

func (r *MemoryLinkRepository) Create(ctx context.Context, link *model.Link) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.codes[link.Code]; taken {
		return ErrDuplicateCode
	}
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	if link.Visibility == "" {
		link.Visibility = model.VisibilityPublic
	}
	now := time.Now()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now

	r.seq++
	r.rows[link.ID] = &memoryRow{link: cloneLink(link), seq: r.seq}
	r.codes[link.Code] = link.ID
	return nil
}

func (r *MemoryLinkRepository) FindByID(ctx context.Context, id string) (*model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, ErrLinkNotFound
	}
	link := cloneLink(&row.link)
	return &link, nil
}

func (r *MemoryLinkRepository) FindByCode(ctx context.Context, code string) (*model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.codes[code]
	if !ok {
		return nil, ErrLinkNotFound
	}
	link := cloneLink(&r.rows[id].link)
	return &link, nil
}

// FindByCodeForUpdate outside a transaction holds no lock past the read.
func (r *MemoryLinkRepository) FindByCodeForUpdate(ctx context.Context, code string) (*model.Link, error) {
	return r.FindByCode(ctx, code)
}

func (r *MemoryLinkRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.codes[code]
	return ok, nil
}

func (r *MemoryLinkRepository) Update(ctx context.Context, link *model.Link) error {
	return r.mutate(ctx, link, func(stored *model.Link) {
		stored.URL = link.URL
		stored.Visibility = link.Visibility
		stored.Active = link.Active
		stored.ExpiresAt = cloneTime(link.ExpiresAt)
		stored.ClickLimit = link.ClickLimit
		stored.PasswordHash = link.PasswordHash
		stored.Description = link.Description
	})
}

func (r *MemoryLinkRepository) UpdateClickCount(ctx context.Context, link *model.Link) error {
	return r.mutate(ctx, link, func(stored *model.Link) {
		stored.ClickCount = link.ClickCount
	})
}

func (r *MemoryLinkRepository) mutate(ctx context.Context, link *model.Link, apply func(stored *model.Link)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[link.ID]
	if !ok {
		return ErrLinkNotFound
	}
	apply(&row.link)
	row.link.UpdatedAt = time.Now()
	link.UpdatedAt = row.link.UpdatedAt
	return nil
}

func (r *MemoryLinkRepository) Delete(ctx context.Context, link *model.Link) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[link.ID]
	if !ok {
		return ErrLinkNotFound
	}
	delete(r.codes, row.link.Code)
	delete(r.rows, link.ID)
	return nil
}

func (r *MemoryLinkRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error) {
	return r.page(ctx, limit, offset, func(l *model.Link) bool {
		return l.OwnedBy(ownerID)
	})
}

func (r *MemoryLinkRepository) ListPublic(ctx context.Context, now time.Time, limit, offset int) ([]model.Link, error) {
	return r.page(ctx, limit, offset, func(l *model.Link) bool {
		return l.IsListedPublicly(now)
	})
}

func (r *MemoryLinkRepository) ListExpiringBefore(ctx context.Context, ownerID string, now, threshold time.Time) ([]model.Link, error) {
	result, err := r.filter(ctx, func(l *model.Link) bool {
		return l.OwnedBy(ownerID) && l.Active && l.ExpiresAt != nil &&
			!l.ExpiresAt.Before(now) && !l.ExpiresAt.After(threshold)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
	})
	return result, nil
}

func (r *MemoryLinkRepository) CountActiveByOwner(ctx context.Context, ownerID string, now time.Time) (int64, error) {
	result, err := r.filter(ctx, func(l *model.Link) bool {
		return l.OwnedBy(ownerID) && l.Active && !l.IsExpired(now)
	})
	return int64(len(result)), err
}

func (r *MemoryLinkRepository) CountExpired(ctx context.Context, now time.Time, activeOnly bool) (int64, error) {
	result, err := r.filter(ctx, func(l *model.Link) bool {
		return l.IsExpired(now) && (!activeOnly || l.Active)
	})
	return int64(len(result)), err
}

func (r *MemoryLinkRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, row := range r.rows {
		if row.link.IsExpired(now) {
			delete(r.codes, row.link.Code)
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryLinkRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, row := range r.rows {
		if row.link.Active && row.link.IsExpired(now) {
			row.link.Active = false
			row.link.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r *MemoryLinkRepository) Transaction(ctx context.Context, fn func(repo LinkRepository) error) error {
	tx := &memoryTx{MemoryLinkRepository: r, held: make(map[string]*codeLock)}
	defer tx.release()
	return fn(tx)
}

// acquireLock blocks until the row lock for code is held or ctx is done.
func (r *MemoryLinkRepository) acquireLock(ctx context.Context, code string) (*codeLock, error) {
	r.locksMu.Lock()
	lock, ok := r.locks[code]
	if !ok {
		lock = &codeLock{ch: make(chan struct{}, 1)}
		r.locks[code] = lock
	}
	lock.refs++
	r.locksMu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		return lock, nil
	case <-ctx.Done():
		r.dropLockRef(code, lock)
		return nil, ctx.Err()
	}
}

func (r *MemoryLinkRepository) releaseLock(code string, lock *codeLock) {
	<-lock.ch
	r.dropLockRef(code, lock)
}

func (r *MemoryLinkRepository) dropLockRef(code string, lock *codeLock) {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	lock.refs--
	if lock.refs == 0 && r.locks[code] == lock {
		delete(r.locks, code)
	}
}

// lockCount reports the number of live lock entries.
func (r *MemoryLinkRepository) lockCount() int {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	return len(r.locks)
}

func (r *MemoryLinkRepository) filter(ctx context.Context, keep func(l *model.Link) bool) ([]model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := make([]*memoryRow, 0)
	for _, row := range r.rows {
		if keep(&row.link) {
			rows = append(rows, row)
		}
	}
	// newest first, insertion order breaks ties
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].link.CreatedAt.Equal(rows[j].link.CreatedAt) {
			return rows[i].link.CreatedAt.After(rows[j].link.CreatedAt)
		}
		return rows[i].seq > rows[j].seq
	})

	result := make([]model.Link, 0, len(rows))
	for _, row := range rows {
		result = append(result, cloneLink(&row.link))
	}
	return result, nil
}

func (r *MemoryLinkRepository) page(ctx context.Context, limit, offset int, keep func(l *model.Link) bool) ([]model.Link, error) {
	limit, offset = normalizePage(limit, offset)
	all, err := r.filter(ctx, keep)
	if err != nil {
		return nil, err
	}
	if offset >= len(all) {
		return []model.Link{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// memoryTx holds the per-code locks taken by FindByCodeForUpdate until the
// transaction function returns.
type memoryTx struct {
	*MemoryLinkRepository
	held map[string]*codeLock
}

func (t *memoryTx) FindByCodeForUpdate(ctx context.Context, code string) (*model.Link, error) {
	if _, ok := t.held[code]; !ok {
		// nothing to lock for a code that is not stored
		if exists, err := t.ExistsByCode(ctx, code); err != nil {
			return nil, err
		} else if !exists {
			return nil, ErrLinkNotFound
		}
		lock, err := t.acquireLock(ctx, code)
		if err != nil {
			return nil, err
		}
		t.held[code] = lock
	}
	return t.FindByCode(ctx, code)
}

func (t *memoryTx) Transaction(ctx context.Context, fn func(repo LinkRepository) error) error {
	return fn(t)
}

func (t *memoryTx) release() {
	for code, lock := range t.held {
		t.releaseLock(code, lock)
		delete(t.held, code)
	}
}

func cloneLink(l *model.Link) model.Link {
	c := *l
	c.ExpiresAt = cloneTime(l.ExpiresAt)
	if l.OwnerID != nil {
		owner := *l.OwnerID
		c.OwnerID = &owner
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
