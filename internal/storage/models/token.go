// internal/storage/models/token.go
package models

import "time"

// Token records every candidate the scanner has processed. Powers
// duplicate-symbol suppression.
type Token struct {
	BaseModel
	Mint       string    `gorm:"uniqueIndex;not null;type:varchar(44)" json:"mint"`
	Name       string    `gorm:"type:varchar(100)" json:"name"`
	Symbol     string    `gorm:"index;type:varchar(30)" json:"symbol"`
	DetectedAt time.Time `gorm:"index" json:"detectedAt"`
}
