package inbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists inbox messages keyed by inbox id.
type Store interface {
	Put(ctx context.Context, message Message) error
	Get(ctx context.Context, inboxID string) (Message, error)
	List(ctx context.Context) ([]Message, error)
}

// PostgresStore keeps inbox messages in a relational table, upserting by
// inbox id.
type PostgresStore struct {
	db        *gorm.DB
	tableName string
}

// NewPostgresStore migrates and wraps the inbox table. The caller is
// expected to have validated connectivity beforehand.
func NewPostgresStore(db *gorm.DB, tableName string) (*PostgresStore, error) {
	if tableName == "" {
		tableName = "inbox_messages"
	}
	if err := db.Table(tableName).AutoMigrate(&Message{}); err != nil {
		return nil, err
	}
	return &PostgresStore{
		db:        db,
		tableName: tableName,
	}, nil
}

func (s *PostgresStore) Put(ctx context.Context, message Message) error {
	message.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Table(s.tableName).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "inbox_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"order", "title", "body", "image", "link",
				"message_hash", "send_date", "expiry_date", "status", "updated_at",
			}),
		}).Create(&message).Error
}

func (s *PostgresStore) Get(ctx context.Context, inboxID string) (Message, error) {
	var message Message
	err := s.db.WithContext(ctx).Table(s.tableName).
		Where("inbox_id = ?", inboxID).First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, ErrNotFound
	}
	return message, err
}

func (s *PostgresStore) List(ctx context.Context) ([]Message, error) {
	var messages []Message
	err := s.db.WithContext(ctx).Table(s.tableName).
		Order("send_date desc").Find(&messages).Error
	return messages, err
}

// MemoryStore is the in-process Store used by tests and by installations
// without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string]Message)}
}

func (s *MemoryStore) Put(_ context.Context, message Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	message.UpdatedAt = time.Now()
	s.messages[message.InboxID] = message
	return nil
}

func (s *MemoryStore) Get(_ context.Context, inboxID string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	message, ok := s.messages[inboxID]
	if !ok {
		return Message{}, ErrNotFound
	}
	return message, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages := make([]Message, 0, len(s.messages))
	for _, message := range s.messages {
		messages = append(messages, message)
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].SendDate.After(messages[j].SendDate)
	})
	return messages, nil
}
