package calllog

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"
)

// CallLog 记录一次语音会话，供仪表盘与审计使用。
type CallLog struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	UserID       uint      `json:"userId" gorm:"index;not null"`
	AgentID      uint      `json:"agentId" gorm:"index"`
	CallID       string    `json:"callId" gorm:"uniqueIndex;not null"`
	CallerNumber string    `json:"callerNumber"`
	Duration     float64   `json:"duration"` // seconds
	Turns        int       `json:"turns"`
	Status       string    `json:"status" gorm:"default:completed"`
	Timestamp    time.Time `json:"timestamp" gorm:"index"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName keeps the historical table name used by the product.
func (CallLog) TableName() string { return "call_logs" }

// Recorder 是会话结束时写入通话记录的收口接口。
type Recorder interface {
	Record(ctx context.Context, entry CallLog) error
}

// GormRecorder persists call logs to the relational database.
type GormRecorder struct {
	db *gorm.DB
}

// NewGormRecorder returns a Recorder backed by the supplied gorm handle.
func NewGormRecorder(db *gorm.DB) *GormRecorder {
	return &GormRecorder{db: db}
}

func (r *GormRecorder) Record(ctx context.Context, entry CallLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(&entry).Error
}

// LogRecorder only logs the record; used when no database is configured.
type LogRecorder struct{}

func (LogRecorder) Record(_ context.Context, entry CallLog) error {
	log.Printf("[calllog] call=%s agent=%d turns=%d duration=%.1fs status=%s",
		entry.CallID, entry.AgentID, entry.Turns, entry.Duration, entry.Status)
	return nil
}
