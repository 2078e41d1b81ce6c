package history

import (
	"time"
)

// BackupRun is one recorded invocation of the backup script.
type BackupRun struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID      string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"run_id"`
	DatabaseID string    `gorm:"type:varchar(20);index" json:"database_id,omitempty"`
	Trigger    string    `gorm:"column:run_trigger;type:varchar(20);not null;index" json:"trigger"`
	Success    bool      `gorm:"not null" json:"success"`
	Output     string    `gorm:"type:text" json:"output"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	StartedAt  time.Time `gorm:"not null;index" json:"started_at"`
	DurationMS int64     `gorm:"not null" json:"duration_ms"`
	CreatedAt  time.Time `gorm:"not null" json:"-"`
}

// TableName specifies the table name for the BackupRun model
func (BackupRun) TableName() string {
	return "backup_runs"
}
