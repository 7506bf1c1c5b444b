// Package models defines the domain models for callbridge
package models

import (
	"time"
)

// CallStatus represents the state of an outbound call
type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// Sentiment values derived from the agent's call analysis
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Insights are the structured facts extracted from a finished call
type Insights struct {
	Sentiment   string   `json:"sentiment"`
	Topics      []string `json:"topics"`
	DurationSec int      `json:"duration_sec"`
}

// CallRecord is the persisted outcome of one conversation
type CallRecord struct {
	CallID           string    `json:"call_id" db:"call_id"`
	ClientName       string    `json:"client_name" db:"client_name"`
	PhoneNumber      string    `json:"phone_number,omitempty" db:"phone_number"`
	CallSID          string    `json:"call_sid,omitempty" db:"call_sid"`
	Transcript       string    `json:"transcript" db:"transcript"`
	Insights         Insights  `json:"insights" db:"insights"`
	ConversionStatus bool      `json:"conversion_status" db:"conversion_status"`
	Summary          *string   `json:"summary,omitempty" db:"summary"`
	FollowUpDate     *string   `json:"follow_up_date,omitempty" db:"follow_up_date"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
}

// CallSummary aggregates conversion metrics across all call records
type CallSummary struct {
	TotalCalls     int64   `json:"total_calls"`
	Conversions    int64   `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
}

// CallMetadata is short-lived correlation data for a call in flight
type CallMetadata struct {
	CallSID        string `json:"call_sid"`
	ClientName     string `json:"client_name"`
	PhoneNumber    string `json:"phone_number"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// CallPage is one page of call records, newest first
type CallPage struct {
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Total    int64         `json:"total"`
	Items    []*CallRecord `json:"items"`
}
