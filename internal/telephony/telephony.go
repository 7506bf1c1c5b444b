// Package telephony places outbound calls through Twilio and renders the
// TwiML that connects them to the media-stream bridge.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

// ErrMissingNumber is returned when a call has no destination.
var ErrMissingNumber = errors.New("telephony: destination number is required")

const streamName = "callbridge"

// CallInfo describes a call Twilio accepted.
type CallInfo struct {
	CallSID string `json:"call_sid"`
	Status  string `json:"status"`
}

// Caller originates and ends calls.
type Caller struct {
	client *twilio.RestClient
	from   string
	log    zerolog.Logger
}

// NewCaller creates a Caller for one Twilio account and caller id.
func NewCaller(accountSID, authToken, from string, logger zerolog.Logger) *Caller {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Caller{client: client, from: from, log: logger}
}

// InitiateCall dials to and has Twilio fetch call instructions from twimlURL.
func (c *Caller) InitiateCall(ctx context.Context, to, twimlURL string) (*CallInfo, error) {
	if strings.TrimSpace(to) == "" {
		return nil, ErrMissingNumber
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetUrl(twimlURL)

	resp, err := c.client.Api.CreateCall(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create call: %w", err)
	}

	info := &CallInfo{}
	if resp.Sid != nil {
		info.CallSID = *resp.Sid
	}
	if resp.Status != nil {
		info.Status = *resp.Status
	}

	c.log.Info().Str("call_sid", info.CallSID).Str("to", to).Str("status", info.Status).Msg("Outbound call created")
	return info, nil
}

// EndCall hangs up a call in progress.
func (c *Caller) EndCall(ctx context.Context, callSID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := c.client.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("failed to end call %s: %w", callSID, err)
	}
	c.log.Info().Str("call_sid", callSID).Msg("Call ended")
	return nil
}

// StreamTwiML renders <Connect><Stream> pointing at streamURL. Each
// non-empty param becomes a <Parameter> that Twilio echoes in the start
// event.
func StreamTwiML(streamURL string, params map[string]string) (string, error) {
	names := make([]string, 0, len(params))
	for name, value := range params {
		if value != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	parameters := make([]twiml.Element, 0, len(names))
	for _, name := range names {
		parameters = append(parameters, twiml.VoiceParameter{Name: name, Value: params[name]})
	}

	stream := twiml.VoiceStream{
		Name:          streamName,
		Url:           streamURL,
		InnerElements: parameters,
	}
	connect := twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}
	return twiml.Voice([]twiml.Element{connect})
}

// StreamURL turns the public base URL into the websocket URL of path.
func StreamURL(publicURL, path string) string {
	base := strings.TrimRight(publicURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case !strings.HasPrefix(base, "wss://") && !strings.HasPrefix(base, "ws://"):
		base = "wss://" + base
	}
	return base + path
}

// TwiMLURL is the URL Twilio fetches call instructions from, carrying the
// personalization as query parameters.
func TwiMLURL(publicURL, path string, params map[string]string) string {
	base := strings.TrimRight(publicURL, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}

	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	if len(q) == 0 {
		return base + path
	}
	return base + path + "?" + q.Encode()
}
