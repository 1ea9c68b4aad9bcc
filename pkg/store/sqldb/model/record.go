package model

import "time"

// ExecutionRecord database model for submit_records table.
// CreatedAt 统一以 UTC 写入，保证各驱动下范围查询一致
type ExecutionRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID   int64     `gorm:"column:account_id;not null;index:idx_account_id" json:"account_id"`
	AccountName string    `gorm:"column:account_name;type:varchar(200);not null" json:"account_name"`
	Steps       int       `gorm:"column:steps;not null" json:"steps"`
	Status      string    `gorm:"column:status;type:varchar(20);not null;index:idx_status_created,priority:1" json:"status"`
	Message     *string   `gorm:"column:message;type:text" json:"message"`
	Raw         string    `gorm:"column:raw;type:text" json:"-"`
	Trigger     string    `gorm:"column:trigger_type;type:varchar(20);not null" json:"trigger"`
	CreatedAt   time.Time `gorm:"column:created_at;precision:3;not null;index:idx_created_at;index:idx_status_created,priority:2" json:"created_at"`
}

// TableName specifies the table name for ExecutionRecord
func (ExecutionRecord) TableName() string {
	return "submit_records"
}
