package model

import (
	"fmt"
	"time"
)

// Account a credential set plus its daily submission schedule
type Account struct {
	ID             int64     `json:"id"`
	Account        string    `json:"account"`
	Password       string    `json:"password,omitempty"` // only exposed on single-account reads
	Steps          int       `json:"steps"`
	ScheduleHour   int       `json:"schedule_hour"`
	ScheduleMinute int       `json:"schedule_minute"`
	ScheduleTime   string    `json:"schedule_time"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FormatScheduleTime renders hour and minute as HH:MM.
func FormatScheduleTime(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// WithoutPassword returns a copy safe for list responses.
func (a *Account) WithoutPassword() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Password = ""
	return &cp
}

// AccountSpec create account request. Optional fields fall back to configured defaults.
type AccountSpec struct {
	Account        string `json:"account"`
	Password       string `json:"password"`
	Steps          *int   `json:"steps,omitempty"`
	ScheduleHour   *int   `json:"schedule_hour,omitempty"`
	ScheduleMinute *int   `json:"schedule_minute,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty"`
}

// AccountPatch update account request. Omitted fields keep their current value.
type AccountPatch struct {
	Account        *string `json:"account,omitempty"`
	Password       *string `json:"password,omitempty"`
	Steps          *int    `json:"steps,omitempty"`
	ScheduleHour   *int    `json:"schedule_hour,omitempty"`
	ScheduleMinute *int    `json:"schedule_minute,omitempty"`
	Enabled        *bool   `json:"enabled,omitempty"`
}
