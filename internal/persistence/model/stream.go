package model

import "time"

// ChatStream is the durable row behind envelope.ChatStream: the
// in-memory recent window and context cache never touch SQL, but the
// stream's identity and activity/affinity state survive a restart.
type ChatStream struct {
	ID           string    `gorm:"type:text;primaryKey" json:"id"`
	Platform     string    `gorm:"type:text;not null;index" json:"platform"`
	PartyID      string    `gorm:"type:text;not null;index" json:"party_id"`
	IsGroup      bool      `gorm:"not null;default:false" json:"is_group"`
	Interest     float64   `gorm:"not null;default:0" json:"interest"`
	Energy       float64   `gorm:"not null;default:0" json:"energy"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
	LastActiveAt time.Time `gorm:"not null;default:now();index" json:"last_active_at"`
}

func (ChatStream) TableName() string { return "chat_streams" }
