package models

import (
	"time"
)

// Post is creator content; when RequiredTierID is set only subscribers at
// that tier price or above can read it.
type Post struct {
	ID             string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	CreatorID      string    `json:"creatorId" gorm:"type:uuid;not null;index"`
	Title          string    `json:"title" gorm:"not null"`
	Content        string    `json:"content,omitempty" gorm:"type:text"`
	PictureURL     string    `json:"pictureUrl,omitempty" gorm:"column:picture_url"`
	RequiredTierID *string   `json:"requiredTierId,omitempty" gorm:"type:uuid"`
	IsFree         bool      `json:"isFree" gorm:"default:false"`
	Locked         bool      `json:"locked" gorm:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (Post) TableName() string {
	return "posts"
}

// Redacted returns a copy with the gated fields removed.
func (p Post) Redacted() Post {
	p.Content = ""
	p.PictureURL = ""
	p.Locked = true
	return p
}
