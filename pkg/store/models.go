package store

import (
	"time"
)

// ContainerModel represents the containers table. Rows are written by the
// provisioning layer; the orchestration core reads them and only updates
// status and resource columns.
type ContainerModel struct {
	ID          string    `gorm:"column:id;primaryKey;not null"`
	RuntimeID   string    `gorm:"column:runtime_id;uniqueIndex;not null"`
	Name        string    `gorm:"column:name;not null"`
	Status      string    `gorm:"column:status;index;not null"`
	Mode        string    `gorm:"column:mode;not null;default:'interactive'"`
	MemoryBytes int64     `gorm:"column:memory_bytes;default:0"`
	CPUShares   int64     `gorm:"column:cpu_shares;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (ContainerModel) TableName() string {
	return "containers"
}

// LogEntryModel represents the container_logs table
type LogEntryModel struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ContainerID string    `gorm:"column:container_id;index:idx_logs_container_time;not null"`
	Stream      string    `gorm:"column:stream;not null"`
	Level       string    `gorm:"column:level;not null;default:'info'"`
	Content     string    `gorm:"column:content;type:text;not null"`
	RecordedAt  time.Time `gorm:"column:recorded_at;index:idx_logs_container_time;index;not null"`
}

func (LogEntryModel) TableName() string {
	return "container_logs"
}

// UsageRecordModel represents the usage_records table. The (job_id,
// bucket_id) pair is unique so replayed result lines cannot double count.
type UsageRecordModel struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	JobID        string    `gorm:"column:job_id;uniqueIndex:idx_usage_job_bucket;not null"`
	BucketID     string    `gorm:"column:bucket_id;uniqueIndex:idx_usage_job_bucket;not null"`
	ContainerID  string    `gorm:"column:container_id;index;not null"`
	BucketStart  time.Time `gorm:"column:bucket_start;index;not null"`
	InputTokens  int64     `gorm:"column:input_tokens;not null;default:0"`
	OutputTokens int64     `gorm:"column:output_tokens;not null;default:0"`
	CostMicros   int64     `gorm:"column:cost_micros;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;autoCreateTime"`
}

func (UsageRecordModel) TableName() string {
	return "usage_records"
}
