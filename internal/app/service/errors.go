package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sifan077/shortlink/internal/app/repository"
)

// Service-level failures. Callers match them with errors.Is; the wrapped
// message carries the human readable reason.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidAlias        = errors.New("invalid alias")
	ErrAliasConflict       = errors.New("alias already in use")
	ErrAllocationExhausted = errors.New("could not allocate a unique short code")
	ErrNotFound            = errors.New("link not found")
	ErrExpired             = errors.New("link has expired")
	ErrClickLimitReached   = errors.New("link click limit reached")
	ErrInactive            = errors.New("link is inactive")
	ErrPasswordRequired    = errors.New("password required")
	ErrInvalidPassword     = errors.New("invalid password")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrUnavailable         = errors.New("storage unavailable")
)

// IsTransient reports whether retrying the whole operation may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrAllocationExhausted)
}

// IsAccessDenied reports whether err is one of the accessibility denials.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrExpired) || errors.Is(err, ErrClickLimitReached) || errors.Is(err, ErrInactive)
}

var publicErrors = []error{
	ErrAliasConflict,
	ErrAllocationExhausted,
	ErrNotFound,
	ErrExpired,
	ErrClickLimitReached,
	ErrInactive,
	ErrPasswordRequired,
	ErrInvalidPassword,
	ErrPermissionDenied,
	ErrUnavailable,
}

// PublicReason returns the message that is safe to show a client. Validation
// errors keep their detail; everything else is reduced to its taxonomy text so
// driver and network messages never leak.
func PublicReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAlias), errors.Is(err, ErrInvalidInput):
		return err.Error()
	}
	for _, target := range publicErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "request canceled"
	}
	return "internal error"
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// storeError converts repository failures into the service taxonomy.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrLinkNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
}
