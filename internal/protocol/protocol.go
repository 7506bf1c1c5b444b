// Package protocol defines the two wire vocabularies relayed by callbridge:
// Twilio Media Streams frames on the telephony leg and ElevenLabs
// Conversational AI frames on the upstream leg.
//
// Inbound frames are decoded into one concrete type per event tag. Tags
// that are not understood decode into an Unknown variant instead of failing,
// so newer provider events pass through the relay without breaking it.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ParseError reports an inbound frame that could not be decoded.
type ParseError struct {
	Leg string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s frame: %v", e.Leg, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// marshal encodes an outbound frame. Frames are plain structs so encoding
// cannot fail in practice; the error is still surfaced for callers.
func marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return data, nil
}
