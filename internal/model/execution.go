package model

import "time"

// ExecuteOptions modifies a single execution
type ExecuteOptions struct {
	Force   bool    // run even if the account is disabled
	Steps   *int    // override the account's target step count
	Trigger Trigger // defaults to manual
}

// ExecutionResult outcome of one execution attempt. Success false with a
// non-zero RecordID means the submission ran and failed.
type ExecutionResult struct {
	AccountID int64        `json:"account_id"`
	Account   string       `json:"account"`
	Steps     int          `json:"steps"`
	Success   bool         `json:"success"`
	Status    RecordStatus `json:"status,omitempty"`
	Message   string       `json:"message"`
	RecordID  int64        `json:"record_id,omitempty"`
}

// BatchResult outcome of execute-all
type BatchResult struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Results []*ExecutionResult `json:"results"`
}

// ScheduleEntry one armed timer
type ScheduleEntry struct {
	AccountID    int64     `json:"account_id"`
	Account      string    `json:"account"`
	ScheduleTime string    `json:"schedule_time"`
	NextFireAt   time.Time `json:"next_fire_at"`
}
