package model

import "time"

// Account database model for accounts table
type Account struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Account        string    `gorm:"column:account;type:varchar(200);not null;uniqueIndex:idx_account_unique" json:"account"`
	Password       string    `gorm:"column:password;type:varchar(512);not null" json:"-"` // 配置主密钥时为 AES-GCM 密文
	Steps          int       `gorm:"column:steps;not null" json:"steps"`
	ScheduleHour   int       `gorm:"column:schedule_hour;not null" json:"schedule_hour"` // 0-23，参考时区
	ScheduleMinute int       `gorm:"column:schedule_minute;not null" json:"schedule_minute"`
	Enabled        bool      `gorm:"column:enabled;not null;index:idx_enabled" json:"enabled"`
	CreatedAt      time.Time `gorm:"column:created_at;precision:3;not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at;precision:3;not null" json:"updated_at"`
}

// TableName specifies the table name for Account
func (Account) TableName() string {
	return "accounts"
}
