// Package store persists scan state in SQLite: which listing fingerprints
// have been seen, and an audit log of every notification delivery attempt.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"realty-notifier/pkg/realty"
)

// SeenListing records one observed listing fingerprint. The fingerprint is
// the primary key, so marking the same listing twice is a no-op.
type SeenListing struct {
	Fingerprint string            `gorm:"primaryKey;size:64" json:"fingerprint"`
	ListingID   string            `json:"listing_id"`
	Source      string            `json:"source"`
	Title       string            `json:"title"`
	URL         string            `json:"url"`
	RawPayload  datatypes.JSONMap `json:"raw_payload,omitempty"`
	FirstSeen   time.Time         `json:"first_seen"`
}

// Notification is the persisted delivery attempt for one match on one
// channel.
type Notification struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	ProfileID   string    `gorm:"index" json:"profile_id"`
	ListingID   string    `json:"listing_id"`
	Fingerprint string    `gorm:"index;size:64" json:"fingerprint"`
	Channel     string    `json:"channel"`
	Recipient   string    `json:"recipient"`
	Status      string    `json:"status"`
	MessageID   string    `json:"message_id"`
	Error       string    `json:"error"`
	Score       float64   `json:"score"`
	Confidence  string    `json:"confidence"`
	SentAt      time.Time `gorm:"index" json:"sent_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter narrows ListRecent results. Zero values mean "any".
type Filter struct {
	ProfileID string
	Channel   string
	Status    string
	Since     time.Time
	Limit     int
	Offset    int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Store wraps the SQLite database.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at dbPath and migrates the schema.
// The GORM logger is silenced so query noise stays out of the structured
// log stream.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&SeenListing{}, &Notification{}); err != nil {
		return nil, fmt.Errorf("auto migrate models: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// IsSeen reports whether the fingerprint was recorded before.
func (s *Store) IsSeen(ctx context.Context, fingerprint string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&SeenListing{}).
		Where("fingerprint = ?", fingerprint).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("query seen listing: %w", err)
	}
	return count > 0, nil
}

// MarkSeen records the fingerprint with a snapshot of the listing it came
// from. Conflicting inserts are ignored, so the call is idempotent and the
// first snapshot wins.
func (s *Store) MarkSeen(ctx context.Context, fingerprint string, listing *realty.Listing) error {
	row := SeenListing{
		Fingerprint: fingerprint,
		FirstSeen:   time.Now().UTC(),
	}
	if listing != nil {
		row.ListingID = listing.ID
		row.Source = listing.Source
		row.Title = listing.Title
		row.URL = listing.URL
		if listing.RawPayload != nil {
			row.RawPayload = datatypes.JSONMap(listing.RawPayload)
		}
	}

	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fingerprint"}},
		DoNothing: true,
	}).Create(&row)
	if tx.Error != nil {
		return fmt.Errorf("mark seen: %w", tx.Error)
	}
	return nil
}

// CountSeen returns the number of recorded fingerprints.
func (s *Store) CountSeen(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&SeenListing{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count seen listings: %w", err)
	}
	return count, nil
}

// AppendNotification appends one delivery attempt to the audit log. A
// missing record ID is filled with a fresh UUID.
func (s *Store) AppendNotification(ctx context.Context, rec realty.NotificationRecord) error {
	row := Notification{
		ID:          rec.ID,
		ProfileID:   rec.ProfileID,
		ListingID:   rec.ListingID,
		Fingerprint: rec.Fingerprint,
		Channel:     rec.Channel,
		Recipient:   rec.Recipient,
		Status:      rec.Status,
		MessageID:   rec.MessageID,
		Error:       rec.Error,
		Score:       rec.Score,
		Confidence:  rec.Confidence,
		SentAt:      rec.SentAt,
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.SentAt.IsZero() {
		row.SentAt = time.Now().UTC()
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

// ListRecent returns notification records newest first.
func (s *Store) ListRecent(ctx context.Context, f Filter) ([]realty.NotificationRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := s.db.WithContext(ctx).Model(&Notification{}).Order("sent_at DESC")
	if f.ProfileID != "" {
		query = query.Where("profile_id = ?", f.ProfileID)
	}
	if f.Channel != "" {
		query = query.Where("channel = ?", f.Channel)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if !f.Since.IsZero() {
		query = query.Where("sent_at >= ?", f.Since)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	var rows []Notification
	if err := query.Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	records := make([]realty.NotificationRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, toRecord(row))
	}
	return records, nil
}

func toRecord(row Notification) realty.NotificationRecord {
	created := row.CreatedAt
	return realty.NotificationRecord{
		ID:          row.ID,
		ProfileID:   row.ProfileID,
		ListingID:   row.ListingID,
		Fingerprint: row.Fingerprint,
		Channel:     row.Channel,
		Recipient:   row.Recipient,
		Status:      row.Status,
		MessageID:   row.MessageID,
		Error:       row.Error,
		Score:       row.Score,
		Confidence:  row.Confidence,
		SentAt:      row.SentAt,
		CreatedAt:   &created,
	}
}
