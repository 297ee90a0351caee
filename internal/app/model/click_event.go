package model

import "time"

// ClickEvent records a single successful redirect of a short link.
type ClickEvent struct {
	ID         string    `json:"id" gorm:"type:uuid;primaryKey"`
	LinkID     string    `json:"link_id" gorm:"type:uuid;not null;index"`
	LinkCode   string    `json:"link_code" gorm:"size:50;not null;index"`
	ClickCount int64     `json:"click_count" gorm:"not null"`
	IP         string    `json:"ip" gorm:"size:64"`
	UserAgent  string    `json:"user_agent" gorm:"size:512"`
	Referer    string    `json:"referer" gorm:"size:2048"`
	Timestamp  time.Time `json:"timestamp" gorm:"not null;index"`
}

// TableName pins the table name regardless of gorm naming strategy.
func (ClickEvent) TableName() string {
	return "click_events"
}

const (
	ClickStreamName     = "CLICKS"
	ClickStreamSubject  = "clicks.events"
	ClickConsumerName   = "click-recorder"
	ClickStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)
