package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/repository"
	"go.uber.org/zap"
)

// Credential is what the caller presents for a password-protected link:
// the password itself or an access token issued after VerifyPassword.
type Credential struct {
	Password string
	Token    string
}

// AccessTokenVerifier checks access tokens bound to a code and the link's
// password hash.
type AccessTokenVerifier interface {
	Validate(code, binding, token string) error
}

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	LinkID      string
	Code        string
	Destination string
	ClickCount  int64
}

// Resolver serves redirects. For a single code the locked
// read-evaluate-increment-write sequence is serialized, so click limits are
// exact under concurrent hits.
type Resolver struct {
	repo repository.LinkRepository
	opts Options
}

// NewResolver returns a Resolver backed by repo.
func NewResolver(repo repository.LinkRepository, opts Options) *Resolver {
	return &Resolver{repo: repo, opts: opts.withDefaults()}
}

// Resolve looks up code under an exclusive row lock, checks accessibility and
// the password gate, and increments the click count by exactly one.
func (r *Resolver) Resolve(ctx context.Context, code string, cred Credential) (*Resolution, error) {
	res, err := r.resolve(ctx, code, cred)
	r.opts.Metrics.ObserveResolution(resolutionOutcome(err))
	if err != nil {
		if IsTransient(err) {
			r.opts.Logger.Warn("resolve failed", zap.String("code", code), zap.Error(err))
		}
		return nil, err
	}
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, code string, cred Credential) (*Resolution, error) {
	if !IsPlausibleCode(code) {
		return nil, fmt.Errorf("resolve %q: %w", code, ErrNotFound)
	}

	ctx, cancel := r.opts.storeCall(ctx)
	defer cancel()

	var res *Resolution
	err := r.repo.Transaction(ctx, func(tx repository.LinkRepository) error {
		link, err := tx.FindByCodeForUpdate(ctx, code)
		if err != nil {
			return err
		}

		if err := accessError(link.Accessibility(r.opts.Now())); err != nil {
			return err
		}

		if link.HasPassword() {
			if err := r.checkCredential(link, cred); err != nil {
				return err
			}
		}

		link.ClickCount++
		if err := tx.UpdateClickCount(ctx, link); err != nil {
			return err
		}

		res = &Resolution{
			LinkID:      link.ID,
			Code:        link.Code,
			Destination: link.URL,
			ClickCount:  link.ClickCount,
		}
		return nil
	})

	switch {
	case err == nil:
		return res, nil
	case IsAccessDenied(err), errors.Is(err, ErrPasswordRequired), errors.Is(err, ErrInvalidPassword):
		return nil, fmt.Errorf("resolve %q: %w", code, err)
	default:
		return nil, storeError(fmt.Sprintf("resolve %q", code), err)
	}
}

func (r *Resolver) checkCredential(link *model.Link, cred Credential) error {
	switch {
	case cred.Token != "" && r.opts.AccessTokens != nil:
		if r.opts.AccessTokens.Validate(link.Code, link.PasswordHash, cred.Token) == nil {
			return nil
		}
		if cred.Password == "" {
			return ErrInvalidPassword
		}
	case cred.Password == "":
		return ErrPasswordRequired
	}
	if !r.opts.Hasher.Verify(cred.Password, link.PasswordHash) {
		return ErrInvalidPassword
	}
	return nil
}

func resolutionOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return model.AccessExpired.String()
	case errors.Is(err, ErrClickLimitReached):
		return model.AccessClickLimitReached.String()
	case errors.Is(err, ErrInactive):
		return model.AccessInactive.String()
	case errors.Is(err, ErrPasswordRequired):
		return "password_required"
	case errors.Is(err, ErrInvalidPassword):
		return "invalid_password"
	default:
		return "error"
	}
}
