// Package webhook decodes and authenticates ElevenLabs post-call webhooks.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPayload is returned for bodies that are not a usable post-call event.
var ErrInvalidPayload = errors.New("invalid webhook payload")

// Call outcomes reported by the agent's analysis.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Payload is the post-call transcription event.
type Payload struct {
	Type           string `json:"type"`
	EventTimestamp int64  `json:"event_timestamp"`
	Data           Data   `json:"data"`
}

// Data is the conversation the event describes.
type Data struct {
	AgentID                string          `json:"agent_id"`
	ConversationID         string          `json:"conversation_id"`
	Status                 string          `json:"status"`
	Transcript             []Turn          `json:"transcript"`
	Metadata               Metadata        `json:"metadata"`
	Analysis               *Analysis       `json:"analysis,omitempty"`
	ConversationInitiation *InitiationData `json:"conversation_initiation_client_data,omitempty"`
}

// Turn is one utterance.
type Turn struct {
	Role          string  `json:"role"`
	Message       string  `json:"message"`
	TimeInCallSec float64 `json:"time_in_call_secs"`
}

// Metadata carries call timing.
type Metadata struct {
	StartTimeUnixSecs int64 `json:"start_time_unix_secs"`
	CallDurationSecs  int   `json:"call_duration_secs"`
}

// Analysis is the agent platform's own evaluation of the call.
type Analysis struct {
	CallSuccessful    string `json:"call_successful"`
	TranscriptSummary string `json:"transcript_summary"`
	CallSummaryTitle  string `json:"call_summary_title"`
}

// InitiationData echoes what the bridge sent when the conversation started.
type InitiationData struct {
	DynamicVariables map[string]any `json:"dynamic_variables"`
}

// Parse decodes a webhook body.
func Parse(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Data.ConversationID == "" {
		return nil, fmt.Errorf("%w: missing conversation_id", ErrInvalidPayload)
	}
	return &p, nil
}

// Transcript renders the turns as "Role: message" lines.
func (p *Payload) Transcript() string {
	var b strings.Builder
	for _, turn := range p.Data.Transcript {
		if turn.Message == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(capitalize(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Message)
	}
	return b.String()
}

// Timestamp is when the event was emitted, or now if it is absent.
func (p *Payload) Timestamp() time.Time {
	if p.EventTimestamp <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(p.EventTimestamp, 0).UTC()
}

// Outcome returns the analysis verdict, empty when there is none.
func (p *Payload) Outcome() string {
	if p.Data.Analysis == nil {
		return ""
	}
	return p.Data.Analysis.CallSuccessful
}

// DynamicVariable returns a string variable echoed back from initiation.
func (p *Payload) DynamicVariable(name string) string {
	if p.Data.ConversationInitiation == nil {
		return ""
	}
	v, _ := p.Data.ConversationInitiation.DynamicVariables[name].(string)
	return v
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
