package handler

import (
	"strings"
	"time"

	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/service"
)

// CreateLinkRequest represents the request body for creating a link.
type CreateLinkRequest struct {
	URL            string     `json:"url" validate:"required,max=2048"`
	Alias          string     `json:"alias,omitempty" validate:"omitempty,max=50"`
	Visibility     string     `json:"visibility,omitempty" validate:"omitempty,oneof=PUBLIC PRIVATE UNLISTED public private unlisted"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ExpiresInHours int        `json:"expires_in_hours,omitempty" validate:"gte=0,lte=87600"`
	ClickLimit     int64      `json:"click_limit,omitempty" validate:"gte=0"`
	Password       string     `json:"password,omitempty" validate:"omitempty,max=72"`
	Description    string     `json:"description,omitempty" validate:"max=500"`
}

func (r CreateLinkRequest) toInput(ownerID string) service.CreateLinkInput {
	return service.CreateLinkInput{
		URL:            r.URL,
		Alias:          strings.TrimSpace(r.Alias),
		Visibility:     model.Visibility(strings.ToUpper(r.Visibility)),
		ExpiresAt:      r.ExpiresAt,
		ExpiresInHours: r.ExpiresInHours,
		ClickLimit:     r.ClickLimit,
		Password:       r.Password,
		Description:    r.Description,
		OwnerID:        ownerID,
	}
}

// UpdateLinkRequest represents the request body for updating a link. Absent
// fields stay unchanged; an empty password removes protection.
type UpdateLinkRequest struct {
	URL             *string    `json:"url,omitempty" validate:"omitempty,max=2048"`
	Visibility      *string    `json:"visibility,omitempty" validate:"omitempty,oneof=PUBLIC PRIVATE UNLISTED public private unlisted"`
	Active          *bool      `json:"active,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	ClearExpiration bool       `json:"clear_expiration,omitempty"`
	ClickLimit      *int64     `json:"click_limit,omitempty" validate:"omitempty,gte=0"`
	Password        *string    `json:"password,omitempty" validate:"omitempty,max=72"`
	Description     *string    `json:"description,omitempty" validate:"omitempty,max=500"`
}

func (r UpdateLinkRequest) toInput() service.UpdateLinkInput {
	in := service.UpdateLinkInput{
		URL:             r.URL,
		Active:          r.Active,
		ExpiresAt:       r.ExpiresAt,
		ClearExpiration: r.ClearExpiration,
		ClickLimit:      r.ClickLimit,
		Password:        r.Password,
		Description:     r.Description,
	}
	if r.Visibility != nil {
		v := model.Visibility(strings.ToUpper(*r.Visibility))
		in.Visibility = &v
	}
	return in
}

type validateURLRequest struct {
	URL string `json:"url" validate:"required"`
}

// ValidateURLResponse reports a dry-run check of a destination.
type ValidateURLResponse struct {
	Valid    bool     `json:"valid"`
	URL      string   `json:"url,omitempty"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

type extendRequest struct {
	ExpiresAt *time.Time `json:"expires_at" validate:"required"`
}

type activeRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type visibilityRequest struct {
	Visibility string `json:"visibility" validate:"required,oneof=PUBLIC PRIVATE UNLISTED public private unlisted"`
}

type verifyPasswordRequest struct {
	Password string `json:"password" validate:"required,max=72"`
}

// LinkResponse is the owner's view of a link. The password hash never leaves
// the service.
type LinkResponse struct {
	ID                string     `json:"id"`
	Code              string     `json:"code"`
	ShortURL          string     `json:"short_url"`
	URL               string     `json:"url"`
	Visibility        string     `json:"visibility"`
	Active            bool       `json:"active"`
	Status            string     `json:"status"`
	ExpiresAt         *time.Time `json:"expires_at"`
	ClickLimit        int64      `json:"click_limit"`
	ClickCount        int64      `json:"click_count"`
	RemainingClicks   int64      `json:"remaining_clicks"`
	PasswordProtected bool       `json:"password_protected"`
	Description       string     `json:"description,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func newLinkResponse(link *model.Link, baseURL string, now time.Time) LinkResponse {
	return LinkResponse{
		ID:                link.ID,
		Code:              link.Code,
		ShortURL:          shortURL(baseURL, link.Code),
		URL:               link.URL,
		Visibility:        string(link.Visibility),
		Active:            link.Active,
		Status:            link.Accessibility(now).String(),
		ExpiresAt:         link.ExpiresAt,
		ClickLimit:        link.ClickLimit,
		ClickCount:        link.ClickCount,
		RemainingClicks:   link.RemainingClicks(),
		PasswordProtected: link.HasPassword(),
		Description:       link.Description,
		CreatedAt:         link.CreatedAt,
		UpdatedAt:         link.UpdatedAt,
	}
}

func newLinkResponses(links []model.Link, baseURL string, now time.Time) []LinkResponse {
	out := make([]LinkResponse, len(links))
	for i := range links {
		out[i] = newLinkResponse(&links[i], baseURL, now)
	}
	return out
}

// InfoResponse is the public view served by the info endpoint.
type InfoResponse struct {
	Code              string     `json:"code"`
	ShortURL          string     `json:"short_url"`
	URL               string     `json:"url,omitempty"`
	Description       string     `json:"description,omitempty"`
	Active            bool       `json:"active"`
	Status            string     `json:"status"`
	ExpiresAt         *time.Time `json:"expires_at"`
	ClickCount        int64      `json:"click_count"`
	ClickLimit        int64      `json:"click_limit"`
	RemainingClicks   int64      `json:"remaining_clicks"`
	PasswordProtected bool       `json:"password_protected"`
	CreatedAt         time.Time  `json:"created_at"`
	RecordedClicks    *int64     `json:"recorded_clicks,omitempty"`
}

func shortURL(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + "/" + code
}
