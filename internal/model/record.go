package model

import "time"

// RecordStatus execution outcome
type RecordStatus string

const (
	RecordStatusSuccess RecordStatus = "success"
	RecordStatusFailed  RecordStatus = "failed"
)

// Trigger what started an execution
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerBatch     Trigger = "batch"
)

// RecordTimeLayout wire format of record timestamps (reference timezone)
const RecordTimeLayout = "2006-01-02 15:04:05"

// ExecutionRecord one immutable execution attempt
type ExecutionRecord struct {
	ID          int64        `json:"id"`
	AccountID   int64        `json:"account_id"`
	AccountName string       `json:"account_name"`
	Steps       int          `json:"steps"`
	Status      RecordStatus `json:"status"`
	Message     *string      `json:"message"`
	Trigger     Trigger      `json:"trigger"`
	CreatedAt   string       `json:"created_at"`

	CreatedTime time.Time `json:"-"`
}
