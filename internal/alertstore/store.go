// Package alertstore keeps the capped, newest-first history of block events.
package alertstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/supergoodsystems/exfilguard-go/internal/logger"
	"github.com/supergoodsystems/exfilguard-go/pkg/event"
)

// DefaultCap is the number of alerts kept.
const DefaultCap = 200

// Alert is the stored row of a block event.
type Alert struct {
	ID       string    `gorm:"primaryKey;size:36"`
	Time     time.Time `gorm:"index"`
	URL      string
	Method   string
	Evidence string
	Source   string
	TabID    string
	TabURL   string
}

func (Alert) TableName() string { return "alerts" }

func fromBlock(b *event.Block) Alert {
	return Alert{
		ID:       b.ID,
		Time:     b.Time.UTC(),
		URL:      b.URL,
		Method:   b.Method,
		Evidence: b.Evidence,
		Source:   b.Source,
		TabID:    b.TabID,
		TabURL:   b.TabURL,
	}
}

func (a Alert) block() *event.Block {
	return &event.Block{
		ID:       a.ID,
		Time:     a.Time,
		URL:      a.URL,
		Method:   a.Method,
		Evidence: a.Evidence,
		Source:   a.Source,
		TabID:    a.TabID,
		TabURL:   a.TabURL,
	}
}

// Options configure a Store.
type Options struct {
	// DSN is the SQLite database path or URI.
	DSN string
	// Cap bounds the history (defaults to DefaultCap).
	Cap    int
	Logger logger.Logger
}

// Store is safe for concurrent use.
type Store struct {
	db  *gorm.DB
	cap int
	mu  sync.Mutex
}

// Open opens (and migrates) the store.
func Open(o Options) (*Store, error) {
	if o.DSN == "" {
		return nil, fmt.Errorf("alertstore: missing DSN")
	}
	if o.Cap <= 0 {
		o.Cap = DefaultCap
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(o.DSN), &gorm.Config{Logger: newGormLogger(o.Logger)})
	if err != nil {
		return nil, fmt.Errorf("alertstore: open %s: %w", o.DSN, err)
	}
	if err := db.AutoMigrate(&Alert{}); err != nil {
		return nil, fmt.Errorf("alertstore: migrate: %w", err)
	}
	return &Store{db: db, cap: o.Cap}, nil
}

// Save records b and evicts the oldest alerts beyond the cap. Saving the
// same event twice is a no-op.
func (s *Store) Save(ctx context.Context, b *event.Block) error {
	if b == nil {
		return nil
	}
	b.Normalize()
	row := fromBlock(b)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("alertstore: save %s: %w", b.ID, err)
		}
		keep := tx.Model(&Alert{}).Select("id").Order("time desc, rowid desc").Limit(s.cap)
		if err := tx.Where("id NOT IN (?)", keep).Delete(&Alert{}).Error; err != nil {
			return fmt.Errorf("alertstore: evict: %w", err)
		}
		return nil
	})
}

// List returns up to limit alerts, newest first. limit <= 0 lists all kept alerts.
func (s *Store) List(ctx context.Context, limit int) ([]*event.Block, error) {
	if limit <= 0 || limit > s.cap {
		limit = s.cap
	}
	var rows []Alert
	err := s.db.WithContext(ctx).Order("time desc, rowid desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("alertstore: list: %w", err)
	}
	out := make([]*event.Block, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.block())
	}
	return out, nil
}

// Count returns the number of stored alerts.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Alert{}).Count(&n).Error
	return n, err
}

// Clear drops the whole history.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&Alert{}).Error; err != nil {
		return fmt.Errorf("alertstore: clear: %w", err)
	}
	return nil
}

// Handle applies a bus message: block events are saved, clear requests
// empty the store, other kinds are ignored.
func (s *Store) Handle(ctx context.Context, env event.Envelope) error {
	switch env.Kind {
	case event.KindBlocked:
		b, err := env.Block()
		if err != nil {
			return err
		}
		return s.Save(ctx, b)
	case event.KindClearAlerts:
		return s.Clear(ctx)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
