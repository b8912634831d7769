// Package usage is the token accounting ledger fed by completion events.
package usage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Event describes the token usage of one completion.
type Event struct {
	ID             string    `json:"id"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	ConversationID string    `json:"conversation_id"`
	TokensUsed     int       `json:"tokens_used"`
	Diagnostic     bool      `json:"diagnostic"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Record struct {
	ID             string `gorm:"primaryKey;size:26"` // ULID length
	Provider       string `gorm:"type:varchar(32);index;not null"`
	Model          string `gorm:"type:varchar(64);not null"`
	ConversationID string `gorm:"type:varchar(64);index"`
	TokensUsed     int    `gorm:"not null"`
	Diagnostic     bool   `gorm:"not null;default:false"`
	OccurredAt     time.Time
	CreatedAt      time.Time
}

func (Record) TableName() string { return "usage_records" }

func RecordFromEvent(ev Event) *Record {
	return &Record{
		ID:             ev.ID,
		Provider:       ev.Provider,
		Model:          ev.Model,
		ConversationID: ev.ConversationID,
		TokensUsed:     ev.TokensUsed,
		Diagnostic:     ev.Diagnostic,
		OccurredAt:     ev.OccurredAt,
	}
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

// Insert stores r. A record whose id already exists is left untouched, so
// redelivered events are harmless.
func (r *Repo) Insert(ctx context.Context, rec *Record) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
}

// RecordUsage writes the event straight to the ledger.
func (r *Repo) RecordUsage(ctx context.Context, ev Event) error {
	return r.Insert(ctx, RecordFromEvent(ev))
}

func (r *Repo) ListByConversation(ctx context.Context, conversationID string) ([]Record, error) {
	var out []Record
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// TotalTokens sums tokens recorded for a provider.
func (r *Repo) TotalTokens(ctx context.Context, provider string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&Record{}).
		Where("provider = ?", provider).
		Select("COALESCE(SUM(tokens_used), 0)").
		Scan(&total).Error
	return total, err
}
