package bridge

import (
	"sync"
)

// State is the lifecycle phase of a bridge.
type State int

const (
	StateInitializing State = iota
	StateBothConnected
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateBothConnected:
		return "both_connected"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent copy of a Session.
type Snapshot struct {
	ID              string `json:"session_id"`
	StreamSID       string `json:"stream_sid,omitempty"`
	CallSID         string `json:"call_sid,omitempty"`
	ConversationID  string `json:"conversation_id,omitempty"`
	ClientName      string `json:"client_name,omitempty"`
	PhoneNumber     string `json:"phone_number,omitempty"`
	UpstreamClosed  bool   `json:"upstream_closed"`
	TelephonyClosed bool   `json:"telephony_closed"`
	State           string `json:"state"`
}

// Session is the per-call state shared by the two relay loops. Every field
// is guarded by mu.
type Session struct {
	mu sync.Mutex

	id             string
	streamSID      string
	callSID        string
	conversationID string
	clientName     string
	phoneNumber    string

	initSent        bool
	linked          bool
	upstreamClosed  bool
	telephonyClosed bool
	state           State
}

// NewSession creates a session, optionally personalized up front.
func NewSession(id, clientName, phoneNumber string) *Session {
	return &Session{
		id:          id,
		clientName:  clientName,
		phoneNumber: phoneNumber,
		state:       StateInitializing,
	}
}

// ID returns the bridge-assigned session id.
func (s *Session) ID() string {
	return s.id
}

// startResult tells the telephony loop what to do after a start event.
type startResult struct {
	sendInit     bool
	clientName   string
	phoneNumber  string
	link         bool
	conversation string
}

// recordStart stores the stream identifiers and any custom parameters from
// a start event. Parameters from the event override construction-time ones.
func (s *Session) recordStart(streamSID, callSID, clientName, phoneNumber string) startResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.streamSID = streamSID
	s.callSID = callSID
	if clientName != "" {
		s.clientName = clientName
	}
	if phoneNumber != "" {
		s.phoneNumber = phoneNumber
	}

	res := startResult{
		clientName:  s.clientName,
		phoneNumber: s.phoneNumber,
	}
	if !s.initSent && !s.upstreamClosed {
		s.initSent = true
		res.sendInit = true
	}
	if !s.linked && s.conversationID != "" && s.callSID != "" {
		s.linked = true
		res.link = true
		res.conversation = s.conversationID
	}
	return res
}

// recordConversation stores the AI conversation id. It reports the call id
// when the pair is complete and has not been linked yet.
func (s *Session) recordConversation(conversationID string) (callSID string, link bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversationID = conversationID
	if !s.linked && s.callSID != "" && conversationID != "" {
		s.linked = true
		return s.callSID, true
	}
	return "", false
}

// UpstreamClosed reports whether the AI leg has terminated.
func (s *Session) UpstreamClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstreamClosed
}

// markUpstreamClosed sets the flag and reports whether it was already set.
func (s *Session) markUpstreamClosed() (already bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	already = s.upstreamClosed
	s.upstreamClosed = true
	return already
}

// TelephonyClosed reports whether the telephony leg has ended.
func (s *Session) TelephonyClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telephonyClosed
}

func (s *Session) markTelephonyClosed() {
	s.mu.Lock()
	s.telephonyClosed = true
	s.mu.Unlock()
}

// outboundStream returns the stream id to address telephony frames to, or
// false when nothing may be sent yet or anymore.
func (s *Session) outboundStream() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamSID == "" || s.telephonyClosed {
		return "", false
	}
	return s.streamSID, true
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState advances the lifecycle. Phases never move backwards.
func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state > s.state {
		s.state = state
	}
}

// Snapshot returns a copy of the session fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:              s.id,
		StreamSID:       s.streamSID,
		CallSID:         s.callSID,
		ConversationID:  s.conversationID,
		ClientName:      s.clientName,
		PhoneNumber:     s.phoneNumber,
		UpstreamClosed:  s.upstreamClosed,
		TelephonyClosed: s.telephonyClosed,
		State:           s.state.String(),
	}
}
