package conversation

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type conversationRow struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	Namespace      string    `gorm:"type:varchar(32);not null;uniqueIndex:uniq_chat_conv_ns_id,priority:1"`
	ConversationID string    `gorm:"type:varchar(64);not null;uniqueIndex:uniq_chat_conv_ns_id,priority:2"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (conversationRow) TableName() string { return "chat_conversations" }

type messageRow struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	Namespace      string    `gorm:"type:varchar(32);not null;index:idx_chat_msg_ns_conv,priority:1"`
	ConversationID string    `gorm:"type:varchar(64);not null;index:idx_chat_msg_ns_conv,priority:2"`
	Role           string    `gorm:"type:varchar(16);not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time
}

func (messageRow) TableName() string { return "chat_messages" }

// Migrate creates the tables used by SQLStore.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&conversationRow{}, &messageRow{})
}

// SQLStore persists conversations through gorm. Message order is the
// auto-increment id order.
type SQLStore struct {
	db          *gorm.DB
	namespace   string
	maxMessages int
}

func NewSQLStore(db *gorm.DB, namespace string, maxMessages int) *SQLStore {
	return &SQLStore{db: db, namespace: namespace, maxMessages: maxMessages}
}

func (s *SQLStore) rows(id string, msgs []Message) []messageRow {
	out := make([]messageRow, 0, len(msgs))
	for _, m := range msgs {
		created := m.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		out = append(out, messageRow{
			Namespace:      s.namespace,
			ConversationID: id,
			Role:           m.Role,
			Content:        m.Content,
			CreatedAt:      created,
		})
	}
	return out
}

func (s *SQLStore) GetOrCreate(ctx context.Context, id string, seed []Message) (string, []Message, error) {
	if id == "" {
		id = NewID()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv := &conversationRow{Namespace: s.namespace, ConversationID: id}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(conv)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 || len(seed) == 0 {
			return nil
		}
		rows := s.rows(id, seed)
		return tx.Create(&rows).Error
	})
	if err != nil {
		return "", nil, err
	}

	msgs, err := s.load(ctx, s.db, id)
	if err != nil {
		return "", nil, err
	}
	return id, msgs, nil
}

func (s *SQLStore) Append(ctx context.Context, id string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the row lock serializes appends to one conversation so the cap holds
		if err := s.exists(tx.Scopes(forUpdate), id); err != nil {
			return err
		}
		if s.maxMessages > 0 {
			var n int64
			if err := tx.Model(&messageRow{}).
				Where("namespace = ? AND conversation_id = ?", s.namespace, id).
				Count(&n).Error; err != nil {
				return err
			}
			if int(n)+len(msgs) > s.maxMessages {
				return ErrConversationFull
			}
		}
		rows := s.rows(id, msgs)
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		return tx.Model(&conversationRow{}).
			Where("namespace = ? AND conversation_id = ?", s.namespace, id).
			Update("updated_at", time.Now().UTC()).Error
	})
}

func (s *SQLStore) History(ctx context.Context, id string) ([]Message, error) {
	db := s.db.WithContext(ctx)
	if err := s.exists(db, id); err != nil {
		return nil, err
	}
	return s.load(ctx, db, id)
}

func (s *SQLStore) findConversation(db *gorm.DB, id string, conv *conversationRow) *gorm.DB {
	return db.Where("namespace = ? AND conversation_id = ?", s.namespace, id).First(conv)
}

func (s *SQLStore) exists(db *gorm.DB, id string) error {
	var conv conversationRow
	err := s.findConversation(db, id, &conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// forUpdate turns the query into SELECT ... FOR UPDATE. The SQLite dialect
// drops the clause; SQLite serializes writers anyway.
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

func (s *SQLStore) load(ctx context.Context, db *gorm.DB, id string) ([]Message, error) {
	var rows []messageRow
	if err := db.WithContext(ctx).
		Where("namespace = ? AND conversation_id = ?", s.namespace, id).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, Message{Role: r.Role, Content: r.Content, CreatedAt: r.CreatedAt})
	}
	return msgs, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
