package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/repository"
	prominfra "github.com/sifan077/shortlink/internal/infra/prometheus"
	"go.uber.org/zap"
)

const (
	MaxDescriptionLength = 500
	// MaxExpirationHorizon bounds how far in the future a link may expire.
	MaxExpirationHorizon = 10 * 365 * 24 * time.Hour

	defaultStoreTimeout  = 5 * time.Second
	defaultExpiringSoon  = 24 * time.Hour
	maxExpiringSoonRange = 365 * 24 * time.Hour
)

// LinkService defines behaviour-level operations on links.
type LinkService interface {
	CreateLink(ctx context.Context, input CreateLinkInput) (*model.Link, error)
	GetLink(ctx context.Context, ownerID, id string) (*model.Link, error)
	GetInfo(ctx context.Context, code string) (*LinkInfo, error)
	ListLinks(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error)
	ListPublicLinks(ctx context.Context, limit, offset int) ([]model.Link, error)
	ListExpiringSoon(ctx context.Context, ownerID string, within time.Duration) ([]model.Link, error)
	CountActiveLinks(ctx context.Context, ownerID string) (int64, error)
	UpdateLink(ctx context.Context, ownerID, id string, input UpdateLinkInput) (*model.Link, error)
	ExtendExpiration(ctx context.Context, ownerID, id string, expiresAt time.Time) (*model.Link, error)
	SetActive(ctx context.Context, ownerID, id string, active bool) (*model.Link, error)
	ToggleActive(ctx context.Context, ownerID, id string) (*model.Link, error)
	SetVisibility(ctx context.Context, ownerID, id string, visibility model.Visibility) (*model.Link, error)
	DeleteLink(ctx context.Context, ownerID, id string) error
	VerifyPassword(ctx context.Context, code, password string) (*model.Link, error)
}

// Options carries the collaborators and tunables shared by the link services.
// Zero values fall back to sensible defaults.
type Options struct {
	Policy            CodePolicy
	DefaultExpiration time.Duration
	StoreTimeout      time.Duration
	Hasher            PasswordHasher
	AccessTokens      AccessTokenVerifier
	Filter            *CodeFilter
	// ClickEvents, when set, supplies the recorded click count shown by GetInfo.
	ClickEvents repository.ClickEventRepository
	Metrics     *prominfra.Metrics
	Logger      *zap.Logger
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = defaultStoreTimeout
	}
	if o.Hasher == nil {
		o.Hasher = NewBcryptHasher(0)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// storeCall bounds a single store interaction by the configured timeout.
func (o Options) storeCall(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.StoreTimeout)
}

type linkService struct {
	repo repository.LinkRepository
	gen  *CodeGenerator
	opts Options
}

// NewLinkService returns a service implementation backed by the given repository.
func NewLinkService(repo repository.LinkRepository, opts Options) LinkService {
	opts = opts.withDefaults()
	return &linkService{
		repo: repo,
		gen:  NewCodeGenerator(opts.Policy),
		opts: opts,
	}
}

// CreateLinkInput captures data required to create a link.
type CreateLinkInput struct {
	URL            string
	Alias          string
	Visibility     model.Visibility
	ExpiresAt      *time.Time
	ExpiresInHours int
	ClickLimit     int64
	Password       string
	Description    string
	OwnerID        string
}

// UpdateLinkInput captures fields that can be changed on an existing link.
// An empty Password removes protection; ClearExpiration removes the expiry.
type UpdateLinkInput struct {
	URL             *string
	Visibility      *model.Visibility
	Active          *bool
	ExpiresAt       *time.Time
	ClearExpiration bool
	ClickLimit      *int64
	Password        *string
	Description     *string
}

// LinkInfo is the public view of a link. Destination is withheld for
// password-protected links.
type LinkInfo struct {
	Code              string
	Destination       string
	Description       string
	Visibility        model.Visibility
	Active            bool
	Status            model.AccessState
	ExpiresAt         *time.Time
	ClickCount        int64
	ClickLimit        int64
	RemainingClicks   int64
	PasswordProtected bool
	CreatedAt         time.Time

	// RecordedClicks is the number of stored click events, nil when unknown.
	RecordedClicks *int64
}

func (s *linkService) CreateLink(ctx context.Context, input CreateLinkInput) (*model.Link, error) {
	link, err := s.newLink(input)
	if err != nil {
		return nil, err
	}

	kind := "random"
	if input.Alias != "" {
		kind = "custom"
	}

	if err := s.allocate(ctx, link, input.Alias); err != nil {
		s.opts.Metrics.ObserveAllocation(kind, allocationOutcome(err))
		return nil, err
	}
	s.opts.Metrics.ObserveAllocation(kind, "ok")
	return link, nil
}

func (s *linkService) newLink(input CreateLinkInput) (*model.Link, error) {
	now := s.opts.Now()

	dest, err := NormalizeURL(input.URL)
	if err != nil {
		return nil, err
	}

	visibility := model.VisibilityPublic
	if input.Visibility != "" {
		v, ok := model.ParseVisibility(string(input.Visibility))
		if !ok {
			return nil, invalidInput("unknown visibility %q", input.Visibility)
		}
		visibility = v
	}

	if input.ExpiresInHours < 0 {
		return nil, invalidInput("expires_in_hours must not be negative")
	}
	if input.ExpiresAt != nil && input.ExpiresInHours > 0 {
		return nil, invalidInput("set either expires_at or expires_in_hours, not both")
	}
	expiresAt := input.ExpiresAt
	switch {
	case input.ExpiresInHours > 0:
		t := now.Add(time.Duration(input.ExpiresInHours) * time.Hour)
		expiresAt = &t
	case expiresAt == nil && s.opts.DefaultExpiration > 0:
		t := now.Add(s.opts.DefaultExpiration)
		expiresAt = &t
	}
	if expiresAt != nil {
		if err := validateExpiration(*expiresAt, now); err != nil {
			return nil, err
		}
	}

	if input.ClickLimit < 0 {
		return nil, invalidInput("click_limit must not be negative")
	}
	if len(input.Description) > MaxDescriptionLength {
		return nil, invalidInput("description is too long (max %d characters)", MaxDescriptionLength)
	}

	link := &model.Link{
		ID:          uuid.NewString(),
		URL:         dest,
		Visibility:  visibility,
		Active:      true,
		ExpiresAt:   expiresAt,
		ClickLimit:  input.ClickLimit,
		ClickCount:  0,
		Description: input.Description,
	}
	if input.OwnerID != "" {
		owner := input.OwnerID
		link.OwnerID = &owner
	}
	if input.Password != "" {
		hash, err := s.opts.Hasher.Hash(input.Password)
		if err != nil {
			return nil, err
		}
		link.PasswordHash = hash
	}
	return link, nil
}

// allocate assigns a free code to link and inserts it. The existence check is
// advisory; the unique index on the code settles races between concurrent
// allocations of the same candidate.
func (s *linkService) allocate(ctx context.Context, link *model.Link, alias string) error {
	if alias != "" {
		if err := s.gen.ValidateAlias(alias); err != nil {
			return err
		}
		taken, err := s.exists(ctx, alias)
		if err != nil {
			return err
		}
		if taken {
			s.opts.Filter.Add(alias)
			return fmt.Errorf("%w: %q", ErrAliasConflict, alias)
		}

		link.Code = alias
		switch err := s.insert(ctx, link); {
		case err == nil:
			s.opts.Filter.Add(alias)
			return nil
		case errors.Is(err, repository.ErrDuplicateCode):
			s.opts.Filter.Add(alias)
			return fmt.Errorf("%w: %q", ErrAliasConflict, alias)
		default:
			return storeError("create link", err)
		}
	}

	policy := s.gen.Policy()
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		length := policy.Length
		if attempt == policy.MaxAttempts {
			length = policy.FallbackLength
		}

		code, err := s.gen.GenerateWithLength(length)
		if err != nil {
			return fmt.Errorf("generate code: %w", err)
		}
		if s.opts.Filter.MaybeTaken(code) {
			continue
		}

		taken, err := s.exists(ctx, code)
		if err != nil {
			return err
		}
		if taken {
			s.opts.Filter.Add(code)
			continue
		}

		link.Code = code
		switch err := s.insert(ctx, link); {
		case err == nil:
			s.opts.Filter.Add(code)
			return nil
		case errors.Is(err, repository.ErrDuplicateCode):
			s.opts.Filter.Add(code)
			s.opts.Logger.Debug("short code collided on insert", zap.String("code", code), zap.Int("attempt", attempt))
		default:
			return storeError("create link", err)
		}
	}

	link.Code = ""
	s.opts.Logger.Warn("short code allocation exhausted", zap.Int("attempts", policy.MaxAttempts))
	return fmt.Errorf("%w after %d attempts", ErrAllocationExhausted, policy.MaxAttempts)
}

func (s *linkService) exists(ctx context.Context, code string) (bool, error) {
	ctx, cancel := s.opts.storeCall(ctx)
	defer cancel()

	taken, err := s.repo.ExistsByCode(ctx, code)
	if err != nil {
		return false, storeError("check code", err)
	}
	return taken, nil
}

func (s *linkService) insert(ctx context.Context, link *model.Link) error {
	ctx, cancel := s.opts.storeCall(ctx)
	defer cancel()
	return s.repo.Create(ctx, link)
}

func allocationOutcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidAlias):
		return "invalid"
	case errors.Is(err, ErrAliasConflict):
		return "conflict"
	case errors.Is(err, ErrAllocationExhausted):
		return "exhausted"
	default:
		return "error"
	}
}

func (s *linkService) GetLink(ctx context.Context, ownerID, id string) (*model.Link, error) {
	link, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !link.OwnedBy(ownerID) {
		return nil, fmt.Errorf("get link: %w", ErrPermissionDenied)
	}
	return link, nil
}

func (s *linkService) GetInfo(ctx context.Context, code string) (*LinkInfo, error) {
	if !IsPlausibleCode(code) {
		return nil, fmt.Errorf("get info: %w", ErrNotFound)
	}

	sctx, cancel := s.opts.storeCall(ctx)
	defer cancel()

	link, err := s.repo.FindByCode(sctx, code)
	if err != nil {
		return nil, storeError("get info", err)
	}

	info := &LinkInfo{
		Code:              link.Code,
		Description:       link.Description,
		Visibility:        link.Visibility,
		Active:            link.Active,
		Status:            link.Accessibility(s.opts.Now()),
		ExpiresAt:         link.ExpiresAt,
		ClickCount:        link.ClickCount,
		ClickLimit:        link.ClickLimit,
		RemainingClicks:   link.RemainingClicks(),
		PasswordProtected: link.HasPassword(),
		CreatedAt:         link.CreatedAt,
	}
	if !link.HasPassword() {
		info.Destination = link.URL
	}
	info.RecordedClicks = s.recordedClicks(ctx, link.ID)
	return info, nil
}

func (s *linkService) recordedClicks(ctx context.Context, linkID string) *int64 {
	if s.opts.ClickEvents == nil {
		return nil
	}

	sctx, cancel := s.opts.storeCall(ctx)
	defer cancel()

	count, err := s.opts.ClickEvents.CountByLink(sctx, linkID)
	if err != nil {
		s.opts.Logger.Warn("failed to count click events", zap.String("link_id", linkID), zap.Error(err))
		return nil
	}
	return &count
}

func (s *linkService) ListLinks(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("list links: %w", ErrPermissionDenied)
	}

	ctx, cancel := s.opts.storeCall(ctx)
	defer cancel()

	links, err := s.repo.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, storeError("list links", err)
	}
	return links, nil
}

func (s *linkService) ListPublicLinks(ctx context.Context, limit, offset int) ([]model.Link, error) {
	ctx, cancel := s.opts.storeCall(ctx)
	defer cancel()

	links, err := s.repo.ListPublic(ctx, s.opts.Now(), limit, offset)
	if err != nil {
		return nil, storeError("list public links", err)
	}
	return links, nil
}

func (s *linkService) ListExpiringSoon(ctx context.Context, ownerID string, within time.Duration) ([]model.Link, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("list expiring links: %w", ErrPermissionDenied)
	}
	if within <= 0 {
		within = defaultExpiringSoon
	}
	if within > maxExpiringSoonRange {
		return nil, invalidInput("window must not exceed %s", maxExpiringSoonRange)
	}

	ctx, cancel := s.opts.storeCall(ctx)
	defer cancel()

	now := s.opts.Now()
	links, err := s.repo.ListExpiringBefore(ctx, ownerID, now, now.Add(within))
	if err != nil {
		return nil, storeError("list expiring links", err)
	}
	return links, nil
}

func (s *linkService) CountActiveLinks(ctx context.Context, ownerID string) (int64, error) {
	if ownerID == "" {
		return 0, fmt.Errorf("count links: %w", ErrPermissionDenied)
	}

	ctx, cancel := s.opts.storeCall(ctx)
	defer cancel()

	n, err := s.repo.CountActiveByOwner(ctx, ownerID, s.opts.Now())
	if err != nil {
		return 0, storeError("count links", err)
	}
	return n, nil
}

func (s *linkService) UpdateLink(ctx context.Context, ownerID, id string, input UpdateLinkInput) (*model.Link, error) {
	if input.ExpiresAt != nil && input.ClearExpiration {
		return nil, invalidInput("set either expires_at or clear_expiration, not both")
	}

	var (
		dest         string
		visibility   model.Visibility
		passwordHash string
		err          error
	)
	if input.URL != nil {
		if dest, err = NormalizeURL(*input.URL); err != nil {
			return nil, err
		}
	}
	if input.Visibility != nil {
		v, ok := model.ParseVisibility(string(*input.Visibility))
		if !ok {
			return nil, invalidInput("unknown visibility %q", *input.Visibility)
		}
		visibility = v
	}
	if input.ExpiresAt != nil {
		if err := validateExpiration(*input.ExpiresAt, s.opts.Now()); err != nil {
			return nil, err
		}
	}
	if input.ClickLimit != nil && *input.ClickLimit < 0 {
		return nil, invalidInput("click_limit must not be negative")
	}
	if input.Description != nil && len(*input.Description) > MaxDescriptionLength {
		return nil, invalidInput("description is too long (max %d characters)", MaxDescriptionLength)
	}
	if input.Password != nil && *input.Password != "" {
		if passwordHash, err = s.opts.Hasher.Hash(*input.Password); err != nil {
			return nil, err
		}
	}

	return s.mutate(ctx, "update link", ownerID, id, func(link *model.Link) error {
		if input.URL != nil {
			link.URL = dest
		}
		if input.Visibility != nil {
			link.Visibility = visibility
		}
		if input.Active != nil {
			link.Active = *input.Active
		}
		if input.ExpiresAt != nil {
			t := *input.ExpiresAt
			link.ExpiresAt = &t
		}
		if input.ClearExpiration {
			link.ExpiresAt = nil
		}
		if input.ClickLimit != nil {
			link.ClickLimit = *input.ClickLimit
		}
		if input.Password != nil {
			link.PasswordHash = passwordHash
		}
		if input.Description != nil {
			link.Description = *input.Description
		}
		return nil
	})
}

func (s *linkService) ExtendExpiration(ctx context.Context, ownerID, id string, expiresAt time.Time) (*model.Link, error) {
	if err := validateExpiration(expiresAt, s.opts.Now()); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "extend expiration", ownerID, id, func(link *model.Link) error {
		if link.ExpiresAt != nil && !expiresAt.After(*link.ExpiresAt) {
			return invalidInput("new expiration must be later than the current one")
		}
		link.ExpiresAt = &expiresAt
		return nil
	})
}

func (s *linkService) SetActive(ctx context.Context, ownerID, id string, active bool) (*model.Link, error) {
	return s.mutate(ctx, "set active", ownerID, id, func(link *model.Link) error {
		link.Active = active
		return nil
	})
}

func (s *linkService) ToggleActive(ctx context.Context, ownerID, id string) (*model.Link, error) {
	return s.mutate(ctx, "toggle active", ownerID, id, func(link *model.Link) error {
		link.Active = !link.Active
		return nil
	})
}

func (s *linkService) SetVisibility(ctx context.Context, ownerID, id string, visibility model.Visibility) (*model.Link, error) {
	v, ok := model.ParseVisibility(string(visibility))
	if !ok {
		return nil, invalidInput("unknown visibility %q", visibility)
	}
	return s.mutate(ctx, "set visibility", ownerID, id, func(link *model.Link) error {
		link.Visibility = v
		return nil
	})
}

func (s *linkService) DeleteLink(ctx context.Context, ownerID, id string) error {
	link, err := s.findByID(ctx, id)
	if err != nil {
		return err
	}
	if !link.OwnedBy(ownerID) {
		return fmt.Errorf("delete link: %w", ErrPermissionDenied)
	}

	ctx, cancel := s.opts.storeCall(ctx)
	defer cancel()

	if err := s.repo.Delete(ctx, link); err != nil {
		return storeError("delete link", err)
	}
	return nil
}

func (s *linkService) VerifyPassword(ctx context.Context, code, password string) (*model.Link, error) {
	if !IsPlausibleCode(code) {
		return nil, fmt.Errorf("verify password: %w", ErrNotFound)
	}

	sctx, cancel := s.opts.storeCall(ctx)
	defer cancel()

	link, err := s.repo.FindByCode(sctx, code)
	if err != nil {
		return nil, storeError("verify password", err)
	}
	if err := accessError(link.Accessibility(s.opts.Now())); err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !link.HasPassword() {
		return nil, invalidInput("link is not password protected")
	}
	if password == "" {
		return nil, fmt.Errorf("verify password: %w", ErrPasswordRequired)
	}
	if !s.opts.Hasher.Verify(password, link.PasswordHash) {
		return nil, fmt.Errorf("verify password: %w", ErrInvalidPassword)
	}
	return link, nil
}

func (s *linkService) findByID(ctx context.Context, id string) (*model.Link, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("find link: %w", ErrNotFound)
	}

	ctx, cancel := s.opts.storeCall(ctx)
	defer cancel()

	link, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError("find link", err)
	}
	return link, nil
}

// mutate applies an owner change under the row lock, so it serializes with
// resolutions of the same code.
func (s *linkService) mutate(ctx context.Context, op, ownerID, id string, apply func(link *model.Link) error) (*model.Link, error) {
	current, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.OwnedBy(ownerID) {
		return nil, fmt.Errorf("%s: %w", op, ErrPermissionDenied)
	}

	ctx, cancel := s.opts.storeCall(ctx)
	defer cancel()

	var updated *model.Link
	err = s.repo.Transaction(ctx, func(tx repository.LinkRepository) error {
		link, err := tx.FindByCodeForUpdate(ctx, current.Code)
		if err != nil {
			return err
		}
		if link.ID != current.ID {
			return repository.ErrLinkNotFound
		}
		if err := apply(link); err != nil {
			return err
		}
		if err := tx.Update(ctx, link); err != nil {
			return err
		}
		updated = link
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, err
		}
		return nil, storeError(op, err)
	}
	return updated, nil
}

func validateExpiration(expiresAt, now time.Time) error {
	if !expiresAt.After(now) {
		return invalidInput("expiration must be in the future")
	}
	if expiresAt.After(now.Add(MaxExpirationHorizon)) {
		return invalidInput("expiration must not be more than 10 years in the future")
	}
	return nil
}

// accessError maps an accessibility state to its service error.
func accessError(state model.AccessState) error {
	switch state {
	case model.AccessExpired:
		return ErrExpired
	case model.AccessClickLimitReached:
		return ErrClickLimitReached
	case model.AccessInactive:
		return ErrInactive
	default:
		return nil
	}
}
