// internal/storage/models/alert.go
package models

import "time"

// Alert is an operator-facing notification.
type Alert struct {
	BaseModel
	Title    string    `gorm:"not null;type:varchar(200)" json:"title"`
	Content  string    `gorm:"type:text" json:"content"`
	ImageURL string    `gorm:"type:text" json:"imageUrl"`
	Link     string    `gorm:"type:text" json:"link"`
	Time     time.Time `gorm:"index" json:"time"`
	IsRead   bool      `gorm:"index;default:false" json:"isRead"`
}
