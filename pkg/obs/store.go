package obs

import (
	"time"

	"gorm.io/gorm"

	"github.com/kavachlabs/erpsync/pkg/jsonutil"
)

// LogRecord is the gorm row for the logs table, indexed on (level,
// created_at) and (channel) for retention sweeps and channel filtering.
type LogRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Tenant    string `gorm:"size:128;index"`
	Level     string `gorm:"size:16;index:idx_logs_level_created"`
	Channel   string `gorm:"size:128;index:idx_logs_channel"`
	Message   string `gorm:"size:2048"`
	Context   string `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index:idx_logs_level_created"`
}

// TableName pins the gorm table name regardless of struct name.
func (LogRecord) TableName() string { return "logs" }

// Store is a gorm-backed Sink with retention cleanup.
type Store struct {
	db *gorm.DB
}

// NewStore opens/migrates the logs table on db.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&LogRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// WriteLog implements Sink.
func (s *Store) WriteLog(e Entry) error {
	ctxJSON, err := marshalContext(e.Context)
	if err != nil {
		return err
	}
	rec := &LogRecord{
		Tenant:    e.Tenant,
		Level:     e.Level.String(),
		Channel:   e.Channel,
		Message:   e.Message,
		Context:   ctxJSON,
		CreatedAt: e.CreatedAt,
	}
	return s.db.Create(rec).Error
}

// Cleanup deletes log rows older than retentionDays, mirroring the queue
// repository's own cleanup(days) operation.
func (s *Store) Cleanup(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res := s.db.Where("created_at < ?", cutoff).Delete(&LogRecord{})
	return res.RowsAffected, res.Error
}

func marshalContext(ctx map[string]interface{}) (string, error) {
	if len(ctx) == 0 {
		return "{}", nil
	}
	data, err := jsonutil.Marshal(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
