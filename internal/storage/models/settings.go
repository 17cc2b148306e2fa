// internal/storage/models/settings.go
package models

// BotSettings stores the three policy documents as a single row. The
// sections are serialized JSON so the policy shape can evolve without
// schema migrations, mirroring the document store it replaced.
type BotSettings struct {
	BaseModel
	MainConfig []byte `gorm:"type:jsonb"`
	BuyConfig  []byte `gorm:"type:jsonb"`
	SellConfig []byte `gorm:"type:jsonb"`
}
