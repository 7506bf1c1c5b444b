package protocol

import (
	"encoding/json"
	"errors"
)

// Twilio Media Streams event names.
const (
	TwilioEventConnected = "connected"
	TwilioEventStart     = "start"
	TwilioEventMedia     = "media"
	TwilioEventStop      = "stop"
	TwilioEventClear     = "clear"
	TwilioEventMark      = "mark"
)

// Custom stream parameters carried on the start event.
const (
	ParamClientName  = "client_name"
	ParamPhoneNumber = "phone_number"
)

// TwilioFrame is an inbound Media Streams frame.
type TwilioFrame interface {
	Event() string
}

// TwilioStart opens the media stream.
type TwilioStart struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	AccountSID       string            `json:"accountSid,omitempty"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

func (*TwilioStart) Event() string { return TwilioEventStart }

// ClientName returns the client_name custom parameter, if any.
func (s *TwilioStart) ClientName() string {
	return s.CustomParameters[ParamClientName]
}

// PhoneNumber returns the phone_number custom parameter, if any.
func (s *TwilioStart) PhoneNumber() string {
	return s.CustomParameters[ParamPhoneNumber]
}

// TwilioMedia carries one base64 audio payload from the caller.
type TwilioMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

func (*TwilioMedia) Event() string { return TwilioEventMedia }

// TwilioStop ends the media stream.
type TwilioStop struct {
	CallSID string `json:"callSid,omitempty"`
}

func (*TwilioStop) Event() string { return TwilioEventStop }

// TwilioUnknown is any event the relay does not act on.
type TwilioUnknown struct {
	Name string
	Raw  json.RawMessage
}

func (u *TwilioUnknown) Event() string { return u.Name }

type twilioEnvelope struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Start     *TwilioStart `json:"start,omitempty"`
	Media     *TwilioMedia `json:"media,omitempty"`
	Stop      *TwilioStop  `json:"stop,omitempty"`
}

// ParseTwilio decodes an inbound Media Streams frame.
func ParseTwilio(data []byte) (TwilioFrame, error) {
	var env twilioEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ParseError{Leg: "twilio", Err: err}
	}

	switch env.Event {
	case "":
		return nil, &ParseError{Leg: "twilio", Err: errors.New("missing event tag")}
	case TwilioEventStart:
		if env.Start == nil {
			return nil, &ParseError{Leg: "twilio", Err: errors.New("start event without start body")}
		}
		return env.Start, nil
	case TwilioEventMedia:
		if env.Media == nil {
			return nil, &ParseError{Leg: "twilio", Err: errors.New("media event without media body")}
		}
		return env.Media, nil
	case TwilioEventStop:
		if env.Stop == nil {
			return &TwilioStop{}, nil
		}
		return env.Stop, nil
	default:
		return &TwilioUnknown{Name: env.Event, Raw: data}, nil
	}
}

type twilioMediaBody struct {
	Payload string `json:"payload"`
}

type twilioOutbound struct {
	Event     string           `json:"event"`
	StreamSID string           `json:"streamSid,omitempty"`
	Media     *twilioMediaBody `json:"media,omitempty"`
}

// NewTwilioMedia builds an outbound media frame addressed to streamSID.
func NewTwilioMedia(streamSID, payload string) ([]byte, error) {
	return marshal(twilioOutbound{
		Event:     TwilioEventMedia,
		StreamSID: streamSID,
		Media:     &twilioMediaBody{Payload: payload},
	})
}

// NewTwilioClear asks Twilio to flush audio queued for playback.
func NewTwilioClear(streamSID string) ([]byte, error) {
	return marshal(twilioOutbound{Event: TwilioEventClear, StreamSID: streamSID})
}

// NewTwilioStop tells Twilio the stream is over.
func NewTwilioStop() ([]byte, error) {
	return marshal(twilioOutbound{Event: TwilioEventStop})
}
