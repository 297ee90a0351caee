package model

import (
	"strings"
	"time"
)

// Visibility governs whether a link shows up in listings. It never affects redirects.
type Visibility string

const (
	VisibilityPublic   Visibility = "PUBLIC"
	VisibilityPrivate  Visibility = "PRIVATE"
	VisibilityUnlisted Visibility = "UNLISTED"
)

// ParseVisibility accepts any letter case and reports whether the value is known.
func ParseVisibility(s string) (Visibility, bool) {
	v := Visibility(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityUnlisted:
		return v, true
	}
	return "", false
}

// UnlimitedClicks is the ClickLimit sentinel for links without a click cap.
const UnlimitedClicks int64 = 0

// AccessState is the result of evaluating a link's lifecycle rules at a given instant.
type AccessState int

const (
	AccessOK AccessState = iota
	AccessExpired
	AccessClickLimitReached
	AccessInactive
)

func (s AccessState) String() string {
	switch s {
	case AccessOK:
		return "ok"
	case AccessExpired:
		return "expired"
	case AccessClickLimitReached:
		return "click_limit_reached"
	case AccessInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Link is the persistent mapping between a short code and its destination.
type Link struct {
	ID           string     `db:"id" gorm:"type:uuid;primaryKey"`
	Code         string     `db:"code" gorm:"size:50;not null;uniqueIndex:idx_links_code"`
	URL          string     `db:"url" gorm:"size:2048;not null"`
	OwnerID      *string    `db:"owner_id" gorm:"size:64;index:idx_links_owner_id"`
	Visibility   Visibility `db:"visibility" gorm:"size:16;not null;default:PUBLIC"`
	Active       bool       `db:"active" gorm:"not null"`
	ExpiresAt    *time.Time `db:"expires_at" gorm:"index:idx_links_expires_at"`
	ClickLimit   int64      `db:"click_limit" gorm:"not null;default:0"`
	ClickCount   int64      `db:"click_count" gorm:"not null;default:0"`
	PasswordHash string     `db:"password_hash" gorm:"size:255"`
	Description  string     `db:"description" gorm:"size:500"`
	CreatedAt    time.Time  `db:"created_at" gorm:"autoCreateTime;index:idx_links_created_at"`
	UpdatedAt    time.Time  `db:"updated_at" gorm:"autoUpdateTime"`
}

// TableName pins the table name regardless of gorm naming strategy.
func (Link) TableName() string {
	return "links"
}

// IsExpired reports whether the expiration instant lies before now.
// Links without an expiration never expire.
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// IsClickLimitReached reports whether the running click count has hit the cap.
func (l *Link) IsClickLimitReached() bool {
	return l.ClickLimit > UnlimitedClicks && l.ClickCount >= l.ClickLimit
}

// RemainingClicks returns -1 for unlimited links.
func (l *Link) RemainingClicks() int64 {
	if l.ClickLimit <= UnlimitedClicks {
		return -1
	}
	if remaining := l.ClickLimit - l.ClickCount; remaining > 0 {
		return remaining
	}
	return 0
}

// HasPassword reports whether a redirect requires a credential.
func (l *Link) HasPassword() bool {
	return l.PasswordHash != ""
}

// OwnedBy reports whether ownerID created this link. Anonymous links have no owner.
func (l *Link) OwnedBy(ownerID string) bool {
	return l.OwnerID != nil && ownerID != "" && *l.OwnerID == ownerID
}

// Accessibility evaluates the lifecycle rules in a fixed precedence:
// expired, then click limit reached, then inactive.
func (l *Link) Accessibility(now time.Time) AccessState {
	switch {
	case l.IsExpired(now):
		return AccessExpired
	case l.IsClickLimitReached():
		return AccessClickLimitReached
	case !l.Active:
		return AccessInactive
	default:
		return AccessOK
	}
}

// IsListedPublicly reports whether the link belongs in the public listing at now.
func (l *Link) IsListedPublicly(now time.Time) bool {
	return l.Visibility == VisibilityPublic && l.Active && !l.IsExpired(now)
}
